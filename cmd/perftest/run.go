package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-gpuperf/benchmark"
	"github.com/nvr-ai/go-gpuperf/benchmark/engines"
	"github.com/nvr-ai/go-gpuperf/config"
	"github.com/nvr-ai/go-gpuperf/harness"
	"github.com/nvr-ai/go-gpuperf/internal/logger"
	"github.com/nvr-ai/go-gpuperf/metrics"
	"github.com/nvr-ai/go-gpuperf/perfquery"
	"github.com/nvr-ai/go-gpuperf/profiler"
	"github.com/nvr-ai/go-gpuperf/workloads"
)

const drainTimeout = 5 * time.Second

// run executes the frame loop described by cfg and returns the final report.
// Results are printed to out as "<label>: <ms>ms" when enabled.
func run(ctx context.Context, cfg *config.AppConfig, out io.Writer) (*benchmark.Report, error) {
	lg := logger.New("perftest")

	session, err := engines.NewSession(cfg.Device, logger.New("device"))
	if err != nil {
		return nil, errors.Wrap(err, "opening device")
	}
	defer session.Close()

	res, err := workloads.NewResources()
	if err != nil {
		return nil, errors.Wrap(err, "creating resources")
	}
	ws, err := workloads.Catalog(res, cfg.Workloads.Options())
	if err != nil {
		return nil, errors.Wrap(err, "building workloads")
	}
	if ws, err = workloads.Filter(ws, cfg.Workloads.Filter); err != nil {
		return nil, err
	}
	if len(ws) == 0 {
		return nil, errors.Wrapf(benchmark.ErrNoWorkloads, "%q", cfg.Workloads.Filter)
	}
	lg.Info().Int("workloads", len(ws)).Msg("workloads selected")

	m := metrics.Default()
	if cfg.Server.Enabled {
		srv := serveMetrics(cfg.Server, m)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				lg.Error().Err(err).Msg("shutting down metrics server")
			}
		}()
	}

	reportInterval := cfg.Profiler.ReportInterval
	if !cfg.Profiler.Enabled || reportInterval <= 0 {
		reportInterval = -1
	}
	prof := profiler.New(profiler.ProfilingOptions{
		ReportInterval: reportInterval,
		MaxSamples:     cfg.Profiler.MaxSamples,
		Logger:         logger.New("profiler"),
	})
	prof.Start()
	defer prof.Stop()

	queries, err := perfquery.New(session.Device(), cfg.Query,
		perfquery.WithObserver(perfquery.Observers(m, prof)),
		perfquery.WithLogger(logger.New("perfquery")),
	)
	if err != nil {
		return nil, errors.Wrap(err, "creating performance queries")
	}
	lg.Info().
		Uint64("frequency_hz", queries.Frequency().Hz()).
		Int("capacity", queries.Capacity()).
		Msg("performance queries ready")

	var onResult perfquery.ResultFunc
	if cfg.Output.PrintResults {
		onResult = func(millis float64, label string) {
			fmt.Fprintf(out, "%s: %.3fms\n", label, millis)
		}
	}

	runner := harness.NewRunner(queries, session.Device(), ws, harness.RunnerOptions{
		Frames:        cfg.Runner.Frames,
		FrameInterval: cfg.Runner.FrameInterval,
		OnResult:      onResult,
		Recreate:      session.Recreate,
		MaxRecoveries: cfg.Runner.MaxRecoveries,
		Logger:        logger.New("harness"),
	})

	if err := runner.Run(ctx); err != nil {
		return nil, err
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := runner.Drain(drainCtx); err != nil {
		lg.Warn().Err(err).Int("in_flight", queries.InFlight()).Msg("measurements left undrained")
	}

	report := benchmark.NewReport(benchmark.NewReportArgs{
		Name:        "perftest",
		Backend:     cfg.Device.Backend,
		FrequencyHz: queries.Frequency().Hz(),
		Frames:      runner.Frames(),
		Snapshot:    prof.Snapshot(),
	})
	if cfg.Output.ReportPath != "" {
		if err := report.Save(cfg.Output.ReportPath); err != nil {
			return nil, err
		}
		lg.Info().Str("path", cfg.Output.ReportPath).Msg("report written")
	}
	return report, nil
}

func serveMetrics(cfg config.ServerConfig, m *metrics.Metrics) *http.Server {
	lg := logger.New("server")

	mux := http.NewServeMux()
	mux.Handle(cfg.MetricsPath, m.Handler())
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>
            <head><title>PerfTest</title></head>
            <body>
            <h1>PerfTest v` + version + `</h1>
            <p><a href="` + cfg.MetricsPath + `">Metrics</a></p>
            </body>
            </html>`))
	})

	srv := &http.Server{Addr: cfg.ListenAddress, Handler: mux}
	go func() {
		lg.Info().Str("address", cfg.ListenAddress).Str("path", cfg.MetricsPath).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			lg.Error().Err(err).Msg("metrics server failed")
		}
	}()
	return srv
}
