package benchmark

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/phuslu/log"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-gpuperf/benchmark/engines"
	"github.com/nvr-ai/go-gpuperf/config"
	"github.com/nvr-ai/go-gpuperf/harness"
	"github.com/nvr-ai/go-gpuperf/perfquery"
	"github.com/nvr-ai/go-gpuperf/profiler"
	"github.com/nvr-ai/go-gpuperf/workloads"
)

// ErrNoWorkloads is returned when a scenario's filter matches nothing.
var ErrNoWorkloads = errors.New("benchmark: filter matches no workloads")

// Suite manages and executes benchmark scenarios
type Suite struct {
	scenarios []Scenario
	device    config.DeviceConfig
	outputDir string
	observer  perfquery.Observer
	logger    *log.Logger
	mu        sync.RWMutex
	results   []PerformanceMetrics
}

// NewSuiteArgs represents the arguments for creating a new benchmark suite.
type NewSuiteArgs struct {
	// Device is the backend used by scenarios that do not name one.
	Device config.DeviceConfig `json:"device"     yaml:"device"`
	// OutputPath is the directory SaveResults writes to.
	OutputPath string `json:"outputPath" yaml:"outputPath"`
	// Observer additionally receives every manager event, such as metrics.
	Observer perfquery.Observer `json:"-" yaml:"-"`
	// Logger defaults to log.DefaultLogger.
	Logger *log.Logger `json:"-" yaml:"-"`
}

// NewSuite creates a new benchmark suite.
//
// Arguments:
//   - args: The arguments for creating a new benchmark suite.
//
// Returns:
//   - *Suite: The benchmark suite.
func NewSuite(args NewSuiteArgs) *Suite {
	if args.Logger == nil {
		args.Logger = &log.DefaultLogger
	}
	return &Suite{
		device:    args.Device,
		outputDir: args.OutputPath,
		observer:  args.Observer,
		logger:    args.Logger,
		scenarios: make([]Scenario, 0),
		results:   make([]PerformanceMetrics, 0),
	}
}

// AddScenario adds a test scenario to the benchmark suite
func (bs *Suite) AddScenario(scenario Scenario) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.scenarios = append(bs.scenarios, scenario)
}

// AddScenarioSet adds every scenario of set
func (bs *Suite) AddScenarioSet(set *ScenarioSet) {
	for _, scenario := range set.Scenarios {
		bs.AddScenario(scenario)
	}
}

// Scenarios returns the configured scenarios
func (bs *Suite) Scenarios() []Scenario {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	scenarios := make([]Scenario, len(bs.scenarios))
	copy(scenarios, bs.scenarios)
	return scenarios
}

// RunScenario executes a single benchmark scenario on a fresh device.
//
// Warmup frames run and drain before measuring starts so their results do not
// reach the statistics.
//
// Arguments:
//   - ctx: Cancels the frame loop.
//   - scenario: The scenario to run.
//
// Returns:
//   - *PerformanceMetrics: Per-label durations and run statistics.
//   - error: An error if the device, catalog or frame loop fails.
func (bs *Suite) RunScenario(ctx context.Context, scenario Scenario) (*PerformanceMetrics, error) {
	devCfg := bs.device
	if scenario.Backend != "" {
		devCfg.Backend = scenario.Backend
	}

	session, err := engines.NewSession(devCfg, bs.logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open device")
	}
	defer session.Close()

	res, err := workloads.NewResources()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create resources")
	}
	ws, err := workloads.Catalog(res, scenario.Workloads)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build workloads")
	}
	ws, err = workloads.Filter(ws, scenario.Filter)
	if err != nil {
		return nil, err
	}
	if len(ws) == 0 {
		return nil, errors.Wrapf(ErrNoWorkloads, "%q", scenario.Filter)
	}

	prof := profiler.New(profiler.ProfilingOptions{ReportInterval: -1})
	queries, err := perfquery.New(session.Device(), scenario.Query,
		perfquery.WithObserver(perfquery.Observers(bs.observer, prof)),
		perfquery.WithLogger(bs.logger),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create query manager")
	}

	opts := harness.RunnerOptions{
		FrameInterval: scenario.FrameInterval,
		Recreate:      session.Recreate,
		Logger:        bs.logger,
	}

	if scenario.WarmupFrames > 0 {
		opts.Frames = scenario.WarmupFrames
		warmup := harness.NewRunner(queries, session.Device(), ws, opts)
		if err := runAndDrain(ctx, warmup); err != nil {
			return nil, errors.Wrap(err, "warmup")
		}
		prof.Reset()
	}

	metrics := &PerformanceMetrics{
		Scenario:  scenario,
		Timestamp: time.Now(),
	}

	var startMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&startMem)

	opts.Frames = scenario.Frames
	runner := harness.NewRunner(queries, session.Device(), ws, opts)

	startTime := time.Now()
	if err := runAndDrain(ctx, runner); err != nil {
		return nil, err
	}
	totalDuration := time.Since(startTime)

	var endMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&endMem)

	snap := prof.Snapshot()
	metrics.TotalDuration = totalDuration
	metrics.Frames = runner.Frames()
	if secs := totalDuration.Seconds(); secs > 0 {
		metrics.FramesPerSecond = float64(metrics.Frames) / secs
	}
	metrics.FrequencyHz = queries.Frequency().Hz()
	metrics.DeviceLosses = snap.DeviceLosts
	metrics.Labels = LabelMetricsFrom(snap.Labels)
	for _, l := range metrics.Labels {
		metrics.Measurements += l.Count
		metrics.Dropped += l.Dropped
	}

	metrics.MemoryStats = MemoryMetrics{
		AllocBytes:      endMem.Alloc,
		TotalAllocBytes: endMem.TotalAlloc - startMem.TotalAlloc,
		SysBytes:        endMem.Sys,
		NumGC:           endMem.NumGC - startMem.NumGC,
		HeapAllocBytes:  endMem.HeapAlloc,
		HeapSysBytes:    endMem.HeapSys,
	}

	metrics.CPUStats = CPUMetrics{
		NumCPU:       runtime.NumCPU(),
		NumGoroutine: runtime.NumGoroutine(),
	}

	return metrics, nil
}

func runAndDrain(ctx context.Context, r *harness.Runner) error {
	if err := r.Run(ctx); err != nil {
		return err
	}
	return r.Drain(ctx)
}

// RunAllScenarios executes all configured benchmark scenarios. A failing
// scenario is logged and skipped.
func (bs *Suite) RunAllScenarios(ctx context.Context) error {
	for _, scenario := range bs.Scenarios() {
		if ctx.Err() != nil {
			break
		}

		metrics, err := bs.RunScenario(ctx, scenario)
		if err != nil {
			bs.logger.Error().Err(err).Str("scenario", scenario.Name).Msg("scenario failed")
			continue
		}

		bs.mu.Lock()
		bs.results = append(bs.results, *metrics)
		bs.mu.Unlock()

		bs.logger.Info().
			Str("scenario", scenario.Name).
			Int("labels", len(metrics.Labels)).
			Int64("measurements", metrics.Measurements).
			Int64("dropped", metrics.Dropped).
			Str("fps", strconv.FormatFloat(metrics.FramesPerSecond, 'f', 2, 64)).
			Msg("scenario completed")
	}

	return bs.SaveResults()
}

// SaveResults persists benchmark results to filesystem
func (bs *Suite) SaveResults() error {
	if bs.outputDir == "" {
		return nil
	}
	results := bs.GetResults()

	if err := os.MkdirAll(bs.outputDir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create output directory")
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	resultsFile := filepath.Join(bs.outputDir, fmt.Sprintf("benchmark_results_%s.json", timestamp))
	data, err := marshal(results, resultsFile)
	if err != nil {
		return errors.Wrap(err, "failed to marshal results")
	}
	if err := os.WriteFile(resultsFile, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write results file")
	}

	summaryFile := filepath.Join(bs.outputDir, fmt.Sprintf("benchmark_summary_%s.csv", timestamp))
	if err := saveSummaryCSV(summaryFile, results); err != nil {
		return errors.Wrap(err, "failed to save summary CSV")
	}

	bs.logger.Info().Str("results", resultsFile).Str("summary", summaryFile).Msg("results saved")
	return nil
}

func saveSummaryCSV(filename string, results []PerformanceMetrics) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write([]string{"Scenario", "Backend", "Label", "Count", "Dropped", "Avg_ms", "P50_ms", "P95_ms", "Min_ms", "Max_ms"}); err != nil {
		return err
	}

	ms := func(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }
	for _, result := range results {
		for _, l := range result.Labels {
			row := []string{
				result.Scenario.Name,
				string(result.Scenario.Backend),
				l.Label,
				strconv.FormatInt(l.Count, 10),
				strconv.FormatInt(l.Dropped, 10),
				ms(l.Avg),
				ms(l.P50),
				ms(l.P95),
				ms(l.Min),
				ms(l.Max),
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
	}

	w.Flush()
	return w.Error()
}

// GetResults returns all benchmark results
func (bs *Suite) GetResults() []PerformanceMetrics {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	results := make([]PerformanceMetrics, len(bs.results))
	copy(results, bs.results)
	return results
}
