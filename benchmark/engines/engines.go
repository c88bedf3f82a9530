// Package engines - Device backends the benchmark runs on.
package engines

import (
	"sync"

	"github.com/phuslu/log"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-gpuperf/config"
	"github.com/nvr-ai/go-gpuperf/device"
	"github.com/nvr-ai/go-gpuperf/device/cpu"
	"github.com/nvr-ai/go-gpuperf/device/sim"
)

// ErrUnknownBackend is returned for a backend name Open does not know.
var ErrUnknownBackend = errors.New("engines: unknown backend")

// Open creates a device for cfg.
//
// Arguments:
//   - cfg: The backend selection and its tuning.
//   - logger: Receives backend diagnostics. Nil uses log.DefaultLogger.
//
// Returns:
//   - device.GPU: The device.
//   - func() error: Releases the device. Always non-nil on success.
//   - error: ErrUnknownBackend for an unrecognised backend.
func Open(cfg config.DeviceConfig, logger *log.Logger) (device.GPU, func() error, error) {
	switch cfg.Backend {
	case config.BackendSim, "":
		opts := []sim.Option{sim.WithFrameLatency(cfg.Sim.FrameLatency)}
		if cfg.Sim.Frequency > 0 {
			opts = append(opts, sim.WithFrequency(cfg.Sim.Frequency))
		}
		if cfg.Sim.DispatchCost > 0 {
			opts = append(opts, sim.WithDispatchCost(cfg.Sim.DispatchCost))
		}
		return sim.New(opts...), func() error { return nil }, nil
	case config.BackendCPU:
		d := cpu.New(cpu.Options{
			QueueDepth:      cfg.CPU.QueueDepth,
			MaxFrameLatency: cfg.CPU.MaxFrameLatency,
			Logger:          logger,
		})
		return d, d.Close, nil
	default:
		return nil, nil, errors.Wrapf(ErrUnknownBackend, "%q", cfg.Backend)
	}
}

// Session owns the current device of a run and replaces it after device loss.
type Session struct {
	cfg    config.DeviceConfig
	logger *log.Logger

	mu      sync.Mutex
	current device.GPU
	release func() error
	opened  int
}

// NewSession opens the first device.
func NewSession(cfg config.DeviceConfig, logger *log.Logger) (*Session, error) {
	if logger == nil {
		logger = &log.DefaultLogger
	}
	s := &Session{cfg: cfg, logger: logger}
	if _, err := s.Recreate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Device returns the current device.
func (s *Session) Device() device.GPU {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Opened returns how many devices the session has created.
func (s *Session) Opened() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// Recreate releases the current device and opens a new one. It matches
// harness.RecreateFunc.
func (s *Session) Recreate() (device.GPU, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.closeLocked(); err != nil {
		s.logger.Warn().Err(err).Msg("releasing lost device")
	}

	gpu, release, err := Open(s.cfg, s.logger)
	if err != nil {
		return nil, err
	}
	s.current = gpu
	s.release = release
	s.opened++

	s.logger.Debug().
		Str("backend", string(s.cfg.Backend)).
		Int("generation", s.opened).
		Msg("device opened")
	return gpu, nil
}

// Close releases the current device.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *Session) closeLocked() error {
	if s.release == nil {
		return nil
	}
	err := s.release()
	s.release = nil
	s.current = nil
	return err
}
