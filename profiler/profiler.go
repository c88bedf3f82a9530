// Package profiler - Rolling per-label statistics over resolved GPU
// measurements with periodic status reports.
package profiler

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/nvr-ai/go-gpuperf/perfquery"
)

// LabelStats is a snapshot of one label's durations in milliseconds.
type LabelStats struct {
	Label   string  `json:"label"`
	Count   int64   `json:"count"`
	Dropped int64   `json:"dropped"`
	Min     float64 `json:"min_ms"`
	Max     float64 `json:"max_ms"`
	Avg     float64 `json:"avg_ms"`
	P50     float64 `json:"p50_ms"`
	P95     float64 `json:"p95_ms"`
	Last    float64 `json:"last_ms"`
}

// Snapshot is the state of every label at one instant.
type Snapshot struct {
	Uptime      time.Duration `json:"uptime"`
	Labels      []LabelStats  `json:"labels"`
	DeviceLosts int64         `json:"device_losses"`
	InFlight    int64         `json:"in_flight"`
}

// ProfilingOptions configures the profiler.
type ProfilingOptions struct {
	// ReportInterval specifies how often to emit status reports (default: 10s).
	// Negative disables reporting.
	ReportInterval time.Duration
	// MaxSamples is the per-label window used for averages and percentiles
	// (default: 1024).
	MaxSamples int
	// Logger receives the reports (default: log.DefaultLogger).
	Logger *log.Logger
}

// tracker holds one label's rolling window.
type tracker struct {
	mu      sync.Mutex
	order   uint64
	label   string
	window  []float64
	next    int
	sum     float64
	min     float64
	max     float64
	last    float64
	count   int64
	dropped int64
}

// Profiler aggregates measurements per label. It implements
// perfquery.Observer and is safe for concurrent use.
type Profiler struct {
	reportInterval time.Duration
	maxSamples     int
	logger         *log.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	startTime time.Time
	running   bool

	labels   *xsync.Map[string, *tracker]
	order    atomic.Uint64
	losses   atomic.Int64
	inFlight atomic.Int64
}

var _ perfquery.Observer = (*Profiler)(nil)

// New creates a profiler.
//
// Arguments:
//   - opts: Configuration options for the profiler.
//
// Returns:
//   - *Profiler: A profiler that has not started reporting.
func New(opts ProfilingOptions) *Profiler {
	if opts.ReportInterval == 0 {
		opts.ReportInterval = 10 * time.Second
	}
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = 1024
	}
	if opts.Logger == nil {
		opts.Logger = &log.DefaultLogger
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Profiler{
		reportInterval: opts.ReportInterval,
		maxSamples:     opts.MaxSamples,
		logger:         opts.Logger,
		ctx:            ctx,
		cancel:         cancel,
		startTime:      time.Now(),
		labels:         xsync.NewMap[string, *tracker](),
	}
}

// Start begins periodic reporting. Calling it more than once is a no-op.
func (p *Profiler) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running || p.reportInterval < 0 {
		return
	}
	p.running = true

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(p.reportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.ctx.Done():
				return
			case <-ticker.C:
				p.Report()
			}
		}
	}()
}

// Stop ends reporting and waits for the report goroutine.
func (p *Profiler) Stop() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}

// Record adds one duration for label.
func (p *Profiler) Record(label string, millis float64) {
	t := p.tracker(label)

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.window) < p.maxSamples {
		t.window = append(t.window, millis)
	} else {
		t.sum -= t.window[t.next]
		t.window[t.next] = millis
		t.next = (t.next + 1) % p.maxSamples
	}
	t.sum += millis
	t.last = millis
	if t.count == 0 || millis < t.min {
		t.min = millis
	}
	if t.count == 0 || millis > t.max {
		t.max = millis
	}
	t.count++
}

func (p *Profiler) tracker(label string) *tracker {
	t, _ := p.labels.LoadOrCompute(label, func() (*tracker, bool) {
		return &tracker{
			label:  label,
			order:  p.order.Add(1),
			window: make([]float64, 0, min(p.maxSamples, 64)),
		}, false
	})
	return t
}

// Resolved implements perfquery.Observer.
func (p *Profiler) Resolved(label string, millis float64) {
	p.Record(label, millis)
}

// Dropped implements perfquery.Observer.
func (p *Profiler) Dropped(label string) {
	t := p.tracker(label)
	t.mu.Lock()
	t.dropped++
	t.mu.Unlock()
}

// InFlight implements perfquery.Observer.
func (p *Profiler) InFlight(n int) {
	p.inFlight.Store(int64(n))
}

// DeviceLost implements perfquery.Observer.
func (p *Profiler) DeviceLost() {
	p.losses.Add(1)
}

// Reset forgets every label and counter.
func (p *Profiler) Reset() {
	p.labels.Clear()
	p.losses.Store(0)
	p.inFlight.Store(0)

	p.mu.Lock()
	p.startTime = time.Now()
	p.mu.Unlock()
}

// Stats returns the statistics of one label.
func (p *Profiler) Stats(label string) (LabelStats, bool) {
	t, ok := p.labels.Load(label)
	if !ok {
		return LabelStats{}, false
	}
	return t.stats(), true
}

// Snapshot returns every label in first-seen order.
func (p *Profiler) Snapshot() Snapshot {
	type entry struct {
		order uint64
		stats LabelStats
	}
	var entries []entry
	p.labels.Range(func(_ string, t *tracker) bool {
		entries = append(entries, entry{order: t.order, stats: t.stats()})
		return true
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].order < entries[j].order })

	p.mu.Lock()
	started := p.startTime
	p.mu.Unlock()

	labels := make([]LabelStats, len(entries))
	for i, e := range entries {
		labels[i] = e.stats
	}
	return Snapshot{
		Uptime:      time.Since(started),
		Labels:      labels,
		DeviceLosts: p.losses.Load(),
		InFlight:    p.inFlight.Load(),
	}
}

// Report logs a summary line per label plus process memory usage.
func (p *Profiler) Report() {
	snap := p.Snapshot()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	p.logger.Info().
		Dur("uptime", snap.Uptime.Truncate(time.Millisecond)).
		Int("labels", len(snap.Labels)).
		Int64("in_flight", snap.InFlight).
		Int64("device_losses", snap.DeviceLosts).
		Int("goroutines", runtime.NumGoroutine()).
		Str("heap_alloc", formatBytes(mem.HeapAlloc)).
		Msg("profiler status")

	for _, s := range snap.Labels {
		p.logger.Info().
			Str("label", s.Label).
			Int64("count", s.Count).
			Int64("dropped", s.Dropped).
			Str("avg", fmt.Sprintf("%.3fms", s.Avg)).
			Str("p95", fmt.Sprintf("%.3fms", s.P95)).
			Str("min", fmt.Sprintf("%.3fms", s.Min)).
			Str("max", fmt.Sprintf("%.3fms", s.Max)).
			Msg("label timings")
	}
}

func (t *tracker) stats() LabelStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := LabelStats{
		Label:   t.label,
		Count:   t.count,
		Dropped: t.dropped,
		Min:     t.min,
		Max:     t.max,
		Last:    t.last,
	}
	if n := len(t.window); n > 0 {
		s.Avg = t.sum / float64(n)
		sorted := append([]float64(nil), t.window...)
		sort.Float64s(sorted)
		s.P50 = percentile(sorted, 50)
		s.P95 = percentile(sorted, 95)
	}
	return s
}

// percentile uses the nearest-rank method on sorted samples.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

// formatBytes formats byte counts in human-readable format.
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
