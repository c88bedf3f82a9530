// Package config - Application configuration for the perftest runner.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-gpuperf/device"
	"github.com/nvr-ai/go-gpuperf/perfquery"
	"github.com/nvr-ai/go-gpuperf/workloads"
)

// Backend names a device implementation.
type Backend string

const (
	// BackendSim is the deterministic simulated queue.
	BackendSim Backend = "sim"
	// BackendCPU executes kernels on a worker goroutine.
	BackendCPU Backend = "cpu"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("config: invalid configuration")

// AppConfig is the root configuration.
type AppConfig struct {
	// Query configures the performance query manager.
	Query perfquery.Config `yaml:"query" toml:"query" json:"query"`

	// Device selects and tunes the device backend.
	Device DeviceConfig `yaml:"device" toml:"device" json:"device"`

	// Workloads selects and shapes the benchmark dispatches.
	Workloads WorkloadsConfig `yaml:"workloads" toml:"workloads" json:"workloads"`

	// Runner configures the frame loop.
	Runner RunnerConfig `yaml:"runner" toml:"runner" json:"runner"`

	// Profiler configures per-label statistics.
	Profiler ProfilerConfig `yaml:"profiler" toml:"profiler" json:"profiler"`

	// Server configures the metrics endpoint.
	Server ServerConfig `yaml:"server" toml:"server" json:"server"`

	// Logging configures the application logger.
	Logging LoggingConfig `yaml:"logging" toml:"logging" json:"logging"`

	// Output configures result reporting.
	Output OutputConfig `yaml:"output" toml:"output" json:"output"`
}

// DeviceConfig selects the device backend.
type DeviceConfig struct {
	// Backend is "sim" or "cpu" (default: "sim").
	Backend Backend `yaml:"backend" toml:"backend" json:"backend"`

	Sim SimConfig `yaml:"sim" toml:"sim" json:"sim"`
	CPU CPUConfig `yaml:"cpu" toml:"cpu" json:"cpu"`
}

// SimConfig tunes the simulated device.
type SimConfig struct {
	// Frequency is the virtual counter rate in Hz (default: 1e9).
	Frequency uint64 `yaml:"frequency" toml:"frequency" json:"frequency"`
	// DispatchCost is the ticks each dispatch takes (default: 250000).
	DispatchCost uint64 `yaml:"dispatch_cost" toml:"dispatch_cost" json:"dispatch_cost"`
	// FrameLatency is the number of frames the GPU lags (default: 2).
	FrameLatency int `yaml:"frame_latency" toml:"frame_latency" json:"frame_latency"`
}

// CPUConfig tunes the CPU device.
type CPUConfig struct {
	// QueueDepth is the command buffer size (default: 4096).
	QueueDepth int `yaml:"queue_depth" toml:"queue_depth" json:"queue_depth"`
	// MaxFrameLatency bounds presented frames in flight (default: 3).
	MaxFrameLatency int `yaml:"max_frame_latency" toml:"max_frame_latency" json:"max_frame_latency"`
}

// WorkloadsConfig shapes the workload catalog.
type WorkloadsConfig struct {
	Threads                   device.Dim3 `yaml:"threads" toml:"threads" json:"threads"`
	GroupSize                 device.Dim3 `yaml:"group_size" toml:"group_size" json:"group_size"`
	LoadsPerThread            int         `yaml:"loads_per_thread" toml:"loads_per_thread" json:"loads_per_thread"`
	AdditionalTypedUAVFormats bool        `yaml:"additional_typed_uav_formats" toml:"additional_typed_uav_formats" json:"additional_typed_uav_formats"`

	// Filter is a regular expression over workload labels. Empty runs all.
	Filter string `yaml:"filter" toml:"filter" json:"filter"`
}

// Options converts the configuration to catalog options.
func (w WorkloadsConfig) Options() workloads.Options {
	return workloads.Options{
		Threads:                   w.Threads,
		GroupSize:                 w.GroupSize,
		LoadsPerThread:            w.LoadsPerThread,
		AdditionalTypedUAVFormats: w.AdditionalTypedUAVFormats,
	}
}

// RunnerConfig configures the frame loop.
type RunnerConfig struct {
	// Frames is the number of frames to run; zero runs until interrupted.
	Frames int `yaml:"frames" toml:"frames" json:"frames"`
	// FrameInterval is the minimum time between frames.
	FrameInterval time.Duration `yaml:"frame_interval" toml:"frame_interval" json:"frame_interval"`
	// MaxRecoveries bounds consecutive device recreations.
	MaxRecoveries int `yaml:"max_recoveries" toml:"max_recoveries" json:"max_recoveries"`
}

// ProfilerConfig configures per-label statistics.
type ProfilerConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled" json:"enabled"`
	// ReportInterval is how often a summary is logged; zero disables it.
	ReportInterval time.Duration `yaml:"report_interval" toml:"report_interval" json:"report_interval"`
	// MaxSamples is the per-label sample window used for percentiles.
	MaxSamples int `yaml:"max_samples" toml:"max_samples" json:"max_samples"`
}

// ServerConfig configures the metrics endpoint.
type ServerConfig struct {
	Enabled       bool   `yaml:"enabled" toml:"enabled" json:"enabled"`
	ListenAddress string `yaml:"listen_address" toml:"listen_address" json:"listen_address"`
	MetricsPath   string `yaml:"metrics_path" toml:"metrics_path" json:"metrics_path"`
}

// LoggingConfig configures the application logger.
type LoggingConfig struct {
	// Level is trace, debug, info, warn or error (default: "info").
	Level string `yaml:"level" toml:"level" json:"level"`
	// Format is console, logfmt or json (default: "console").
	Format string `yaml:"format" toml:"format" json:"format"`
	// Writer is stdout or stderr (default: "stderr").
	Writer      string `yaml:"writer" toml:"writer" json:"writer"`
	ColorOutput bool   `yaml:"color_output" toml:"color_output" json:"color_output"`
	Caller      int    `yaml:"caller" toml:"caller" json:"caller"`
}

// OutputConfig configures result reporting.
type OutputConfig struct {
	// PrintResults prints "label: X.XXXms" for every measurement.
	PrintResults bool `yaml:"print_results" toml:"print_results" json:"print_results"`
	// ReportPath is where the JSON report is written; empty disables it.
	ReportPath string `yaml:"report_path" toml:"report_path" json:"report_path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *AppConfig {
	opts := workloads.DefaultOptions()
	return &AppConfig{
		Query: perfquery.DefaultConfig(),
		Device: DeviceConfig{
			Backend: BackendSim,
			Sim: SimConfig{
				Frequency:    1_000_000_000,
				DispatchCost: 250_000,
				FrameLatency: 2,
			},
			CPU: CPUConfig{
				QueueDepth:      4096,
				MaxFrameLatency: 3,
			},
		},
		Workloads: WorkloadsConfig{
			Threads:        opts.Threads,
			GroupSize:      opts.GroupSize,
			LoadsPerThread: opts.LoadsPerThread,
		},
		Runner: RunnerConfig{
			Frames:        0,
			FrameInterval: 16 * time.Millisecond,
			MaxRecoveries: 3,
		},
		Profiler: ProfilerConfig{
			Enabled:        true,
			ReportInterval: 10 * time.Second,
			MaxSamples:     1024,
		},
		Server: ServerConfig{
			Enabled:       false,
			ListenAddress: "localhost:9190",
			MetricsPath:   "/metrics",
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "console",
			Writer:      "stderr",
			ColorOutput: true,
		},
		Output: OutputConfig{
			PrintResults: true,
			ReportPath:   "",
		},
	}
}

// Load reads a YAML or TOML file over the defaults. The format is chosen by
// extension: .yaml, .yml or .toml.
//
// Arguments:
//   - path: The configuration file. Empty returns the defaults.
//
// Returns:
//   - *AppConfig: The merged configuration.
//   - error: An error if the file cannot be read or parsed.
func Load(path string) (*AppConfig, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parsing YAML config %s", path)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, errors.Wrapf(err, "parsing TOML config %s", path)
		}
	default:
		return nil, errors.Errorf("unsupported config format %q", ext)
	}
	return cfg, nil
}

// Save writes cfg to path in the format implied by its extension.
func Save(path string, cfg *AppConfig) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "creating directory %s", dir)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating config file %s", path)
	}
	defer f.Close()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		enc := yaml.NewEncoder(f)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return errors.Wrap(err, "encoding YAML config")
		}
		return enc.Close()
	case ".toml":
		if err := toml.NewEncoder(f).Encode(cfg); err != nil {
			return errors.Wrap(err, "encoding TOML config")
		}
		return nil
	default:
		return errors.Errorf("unsupported config format %q", ext)
	}
}

// GenerateExample writes the default configuration to path.
func GenerateExample(path string) error {
	return Save(path, DefaultConfig())
}

// Validate checks the configuration for errors.
func (c *AppConfig) Validate() error {
	if err := c.Query.Validate(); err != nil {
		return errors.Wrap(ErrInvalid, err.Error())
	}

	switch c.Device.Backend {
	case BackendSim:
		if c.Device.Sim.Frequency == 0 {
			return errors.Wrap(ErrInvalid, "device.sim.frequency must be positive")
		}
	case BackendCPU:
		if c.Device.CPU.QueueDepth <= 0 {
			return errors.Wrap(ErrInvalid, "device.cpu.queue_depth must be positive")
		}
	default:
		return errors.Wrapf(ErrInvalid, "unknown device.backend %q", c.Device.Backend)
	}

	if !c.Workloads.Threads.Valid() || !c.Workloads.GroupSize.Valid() {
		return errors.Wrap(ErrInvalid, "workloads.threads and workloads.group_size must be non-zero")
	}
	if c.Workloads.LoadsPerThread <= 0 {
		return errors.Wrap(ErrInvalid, "workloads.loads_per_thread must be positive")
	}
	if c.Runner.Frames < 0 {
		return errors.Wrap(ErrInvalid, "runner.frames cannot be negative")
	}
	if c.Profiler.Enabled && c.Profiler.MaxSamples <= 0 {
		return errors.Wrap(ErrInvalid, "profiler.max_samples must be positive")
	}
	if c.Server.Enabled {
		if c.Server.ListenAddress == "" {
			return errors.Wrap(ErrInvalid, "server.listen_address cannot be empty")
		}
		if !strings.HasPrefix(c.Server.MetricsPath, "/") {
			return errors.Wrap(ErrInvalid, "server.metrics_path must start with /")
		}
	}
	return nil
}
