// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/phuslu/log"

	"github.com/nvr-ai/go-gpuperf/config"
	"github.com/nvr-ai/go-gpuperf/internal/logger"
)

var version = "0.1.0"

func main() {
	var (
		configPath     = flag.String("config", "", "Path to configuration file (YAML or TOML).")
		backend        = flag.String("backend", string(config.BackendSim), "Device backend: sim or cpu.")
		frames         = flag.Int("frames", 0, "Frames to run; 0 runs until interrupted.")
		filter         = flag.String("filter", "", "Regular expression selecting workload labels.")
		listenAddress  = flag.String("web.listen-address", "localhost:9190", "Address to expose metrics on.")
		metricsPath    = flag.String("web.telemetry-path", "/metrics", "Path under which to expose metrics.")
		reportPath     = flag.String("report", "", "Write the final JSON or YAML report to this path.")
		generateConfig = flag.String("generate-config", "", "Write an example configuration to this path and exit.")
	)
	flag.Parse()

	if *generateConfig != "" {
		if err := config.GenerateExample(*generateConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate configuration: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Example configuration written to %s\n", *generateConfig)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Command line flags override the file.
	if isFlagPassed("backend") {
		cfg.Device.Backend = config.Backend(*backend)
	}
	if isFlagPassed("frames") {
		cfg.Runner.Frames = *frames
	}
	if isFlagPassed("filter") {
		cfg.Workloads.Filter = *filter
	}
	if isFlagPassed("web.listen-address") {
		cfg.Server.Enabled = true
		cfg.Server.ListenAddress = *listenAddress
	}
	if isFlagPassed("web.telemetry-path") {
		cfg.Server.MetricsPath = *metricsPath
	}
	if isFlagPassed("report") {
		cfg.Output.ReportPath = *reportPath
	}

	if err := logger.Configure(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to configure logging: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	log.Info().
		Str("version", version).
		Str("backend", string(cfg.Device.Backend)).
		Int("frames", cfg.Runner.Frames).
		Str("filter", cfg.Workloads.Filter).
		Int("pool_capacity", cfg.Query.PoolCapacity).
		Str("exhaustion_policy", string(cfg.Query.ExhaustionPolicy)).
		Msg("starting perftest")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := run(ctx, cfg, os.Stdout)
	if err != nil {
		log.Fatal().Err(err).Msg("perftest failed")
	}

	log.Info().
		Int("frames", report.Frames).
		Int("labels", len(report.Labels)).
		Int64("device_losses", report.DeviceLosses).
		Msg("perftest finished")
}

func isFlagPassed(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}
