package harness

import (
	"context"
	"time"

	"github.com/phuslu/log"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-gpuperf/device"
	"github.com/nvr-ai/go-gpuperf/perfquery"
	"github.com/nvr-ai/go-gpuperf/workloads"
)

// RecreateFunc builds a replacement device after the current one is lost.
type RecreateFunc func() (device.GPU, error)

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	// Frames is the number of frames to run. Zero runs until the context is
	// cancelled.
	Frames int
	// FrameInterval is the minimum wall time between frame starts.
	FrameInterval time.Duration
	// OnResult receives every resolved measurement.
	OnResult perfquery.ResultFunc
	// Recreate is called after device loss. Without it device loss ends the run.
	Recreate RecreateFunc
	// MaxRecoveries bounds consecutive device recreations (default: 3).
	MaxRecoveries int
	// Logger defaults to log.DefaultLogger.
	Logger *log.Logger
}

// Runner is the benchmark frame loop: report finished measurements, dispatch
// every workload, present.
type Runner struct {
	queries   *perfquery.Manager
	harness   *Harness
	workloads []workloads.Workload
	opts      RunnerOptions
	logger    *log.Logger

	frames     int
	recoveries int
}

// NewRunner creates a frame loop over ws.
func NewRunner(queries *perfquery.Manager, disp device.Dispatcher, ws []workloads.Workload, opts RunnerOptions) *Runner {
	if opts.Logger == nil {
		opts.Logger = &log.DefaultLogger
	}
	if opts.MaxRecoveries <= 0 {
		opts.MaxRecoveries = 3
	}
	return &Runner{
		queries:   queries,
		harness:   New(queries, disp, opts.Logger),
		workloads: ws,
		opts:      opts,
		logger:    opts.Logger,
	}
}

// Frames returns the number of completed frames.
func (r *Runner) Frames() int {
	return r.frames
}

// Run executes frames until the frame budget is spent or ctx is done.
//
// Returns:
//   - error: nil on completion or cancellation, otherwise the first
//     unrecoverable error.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info().
		Int("workloads", len(r.workloads)).
		Int("frames", r.opts.Frames).
		Msg("starting frame loop")

	for r.opts.Frames == 0 || r.frames < r.opts.Frames {
		if ctx.Err() != nil {
			return nil
		}
		started := time.Now()

		if err := r.Frame(); err != nil {
			if !errors.Is(err, perfquery.ErrDeviceLost) {
				return err
			}
			if err := r.recover(err); err != nil {
				return err
			}
			continue
		}
		r.recoveries = 0

		if wait := r.opts.FrameInterval - time.Since(started); wait > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
		}
	}
	return nil
}

// Frame runs a single frame.
func (r *Runner) Frame() error {
	if err := r.queries.Process(r.opts.OnResult); err != nil {
		return err
	}
	for _, w := range r.workloads {
		err := r.harness.Bench(w)
		switch {
		case err == nil:
		case errors.Is(err, perfquery.ErrDeviceLost), errors.Is(err, perfquery.ErrUnmatchedEnd):
			return err
		default:
			r.logger.Warn().Err(err).Str("label", w.Label).Msg("workload failed")
		}
	}
	if err := r.harness.Present(); err != nil {
		return errors.Wrap(err, "present")
	}
	r.frames++
	return nil
}

// Drain presents empty frames until every measurement has been reported or
// ctx is done. A lost device is recreated as in Run; the measurements it held
// are discarded.
func (r *Runner) Drain(ctx context.Context) error {
	for r.queries.InFlight() > 0 {
		err := r.queries.Process(r.opts.OnResult)
		if err == nil && r.queries.InFlight() > 0 {
			if err = r.harness.Present(); err != nil {
				err = errors.Wrap(err, "present")
			}
		}
		if err != nil {
			if !errors.Is(err, perfquery.ErrDeviceLost) {
				return err
			}
			if err := r.recover(err); err != nil {
				return err
			}
			continue
		}
		if r.queries.InFlight() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
	return nil
}

func (r *Runner) recover(cause error) error {
	if r.opts.Recreate == nil {
		return cause
	}
	r.recoveries++
	if r.recoveries > r.opts.MaxRecoveries {
		return errors.Wrapf(cause, "giving up after %d device recreations", r.opts.MaxRecoveries)
	}

	r.logger.Warn().Err(cause).Int("attempt", r.recoveries).Msg("device lost, recreating")
	gpu, err := r.opts.Recreate()
	if err != nil {
		return errors.Wrap(err, "recreating device")
	}
	if err := r.queries.Reset(gpu); err != nil {
		return errors.Wrap(err, "resetting performance queries")
	}
	r.harness.Rebind(gpu)
	return nil
}
