package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/phuslu/log"

	"github.com/nvr-ai/go-gpuperf/benchmark"
	"github.com/nvr-ai/go-gpuperf/config"
	"github.com/nvr-ai/go-gpuperf/internal/logger"
)

func main() {
	var (
		configFile    = flag.String("config", "", "Path to application configuration file (YAML or TOML)")
		scenarioFile  = flag.String("scenarios", "", "Path to scenario set file (JSON or YAML)")
		outputDir     = flag.String("output", "./benchmark_results", "Output directory for results")
		backend       = flag.String("backend", "", "Device backend: sim or cpu")
		quick         = flag.Bool("quick", false, "Run quick benchmark scenarios")
		comprehensive = flag.Bool("comprehensive", false, "Run comprehensive benchmark scenarios")
		patterns      = flag.Bool("patterns", false, "Compare access patterns per view group")
		policies      = flag.Int("policies", 0, "Compare exhaustion policies with this many timers")
		backends      = flag.String("backends", "", "Compare sim and cpu backends on labels matching this expression")
		timeout       = flag.Duration("timeout", 30*time.Minute, "Benchmark timeout duration")
	)
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if *backend != "" {
		cfg.Device.Backend = config.Backend(*backend)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if err := logger.Configure(cfg.Logging); err != nil {
		log.Fatal().Err(err).Msg("failed to configure logging")
	}
	lg := logger.New("benchmark")

	suite := benchmark.NewSuite(benchmark.NewSuiteArgs{
		Device:     cfg.Device,
		OutputPath: *outputDir,
		Logger:     lg,
	})

	predefined := &benchmark.PredefinedScenarios{}
	add := func(set *benchmark.ScenarioSet) {
		suite.AddScenarioSet(set)
		lg.Info().Str("set", set.Name).Int("scenarios", len(set.Scenarios)).Msg("added scenarios")
	}

	if *scenarioFile != "" {
		set, err := benchmark.LoadScenarioSet(*scenarioFile)
		if err != nil {
			lg.Fatal().Err(err).Str("path", *scenarioFile).Msg("failed to load scenario file")
		}
		add(set)
	} else {
		if *quick {
			add(predefined.GetQuickScenarios(cfg.Device.Backend))
		}
		if *comprehensive {
			add(predefined.GetComprehensiveScenarios([]config.Backend{config.BackendSim, config.BackendCPU}))
		}
		if *patterns {
			for _, view := range benchmark.ViewGroups {
				add(predefined.GetPatternComparisonScenarios(view))
			}
		}
		if *policies > 0 {
			add(predefined.GetPolicyComparisonScenarios(*policies))
		}
		if *backends != "" {
			add(predefined.GetBackendComparisonScenarios(*backends))
		}

		// If no specific scenarios requested, use quick by default
		if len(suite.Scenarios()) == 0 {
			add(predefined.GetQuickScenarios(cfg.Device.Backend))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	lg.Info().Msg("starting benchmark execution")
	start := time.Now()

	if err := suite.RunAllScenarios(ctx); err != nil {
		lg.Fatal().Err(err).Msg("benchmark execution failed")
	}

	results := suite.GetResults()
	lg.Info().
		Dur("duration", time.Since(start)).
		Int("scenarios", len(results)).
		Str("output", *outputDir).
		Msg("benchmark completed")

	fmt.Printf("\n=== BENCHMARK RESULTS SUMMARY ===\n")
	for _, result := range results {
		var slowest benchmark.LabelMetrics
		for _, l := range result.Labels {
			if l.Avg > slowest.Avg {
				slowest = l
			}
		}
		fmt.Printf("  %s: %d measurements, %d dropped, slowest %s (%.3fms)\n",
			result.Scenario.Name,
			result.Measurements,
			result.Dropped,
			slowest.Label,
			slowest.Avg)
	}
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", filepath.Base(os.Args[0]))
		fmt.Fprintf(os.Stderr, "Benchmark tool for GPU load throughput scenarios.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -quick\n", filepath.Base(os.Args[0]))
		fmt.Fprintf(os.Stderr, "  %s -config ./perftest.yaml -scenarios ./scenarios.json\n", filepath.Base(os.Args[0]))
		fmt.Fprintf(os.Stderr, "  %s -patterns -policies 64 -backends 'R32F'\n", filepath.Base(os.Args[0]))
	}
}
