// Package harness - Brackets workload dispatches with performance queries and
// drives the per-frame benchmark loop.
package harness

import (
	"github.com/phuslu/log"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-gpuperf/device"
	"github.com/nvr-ai/go-gpuperf/perfquery"
	"github.com/nvr-ai/go-gpuperf/workloads"
)

// Harness measures individual dispatches.
type Harness struct {
	queries *perfquery.Manager
	disp    device.Dispatcher
	logger  *log.Logger
}

// New creates a harness that measures dispatches submitted to disp.
//
// Arguments:
//   - queries: The manager that owns the timestamp queries.
//   - disp: The dispatcher the workloads run on. It must share a command
//     stream with the manager's device.
//   - logger: The logger for unmeasured dispatches (nil: log.DefaultLogger).
//
// Returns:
//   - *Harness: The harness.
func New(queries *perfquery.Manager, disp device.Dispatcher, logger *log.Logger) *Harness {
	if logger == nil {
		logger = &log.DefaultLogger
	}
	return &Harness{queries: queries, disp: disp, logger: logger}
}

// Run measures dispatch under label.
//
// When no timer slot is available the dispatch still runs, unmeasured. When
// dispatch fails its measurement is discarded so the slot is not leaked.
//
// Returns:
//   - error: The wrapped dispatch error, ErrDeviceLost, or ErrUnmatchedEnd.
func (h *Harness) Run(label string, dispatch func() error) error {
	handle, err := h.queries.Start(label)
	if err != nil {
		if !errors.Is(err, perfquery.ErrPoolExhausted) {
			return err
		}
		h.logger.Debug().Str("label", label).Msg("running unmeasured")
		if err := dispatch(); err != nil {
			return errors.Wrapf(err, "dispatch %q", label)
		}
		return nil
	}

	if err := dispatch(); err != nil {
		if derr := h.queries.Discard(handle); derr != nil && !errors.Is(derr, perfquery.ErrDeviceLost) {
			h.logger.Error().Err(derr).Str("label", label).Msg("discarding failed measurement")
		}
		return errors.Wrapf(err, "dispatch %q", label)
	}

	return h.queries.End(handle)
}

// Bench measures one workload on the harness dispatcher.
func (h *Harness) Bench(w workloads.Workload) error {
	return h.Run(w.Label, func() error {
		return h.disp.Dispatch(w.Kernel, w.Threads, w.GroupSize)
	})
}

// Present ends the frame on the harness dispatcher.
func (h *Harness) Present() error {
	return h.disp.Present()
}

// Rebind points the harness at a recreated dispatcher.
func (h *Harness) Rebind(disp device.Dispatcher) {
	h.disp = disp
}
