// Package cpu - Asynchronous software GPU backed by a worker goroutine.
//
// The device owns one in-order command queue. The caller's thread only
// enqueues; a single worker executes kernels and stamps timestamp writes with
// the host high resolution counter as it reaches them, so timestamps behave
// like GPU timestamps: they are captured when the queue gets there, not when
// the CPU issues the write.
package cpu

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/phuslu/log"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-gpuperf/device"
	"github.com/nvr-ai/go-gpuperf/device/hostclock"
)

const (
	// DefaultQueueDepth is the number of commands that may be queued before
	// submission blocks.
	DefaultQueueDepth = 4096
	// DefaultMaxFrameLatency is the number of presented frames that may be in
	// flight before Present blocks.
	DefaultMaxFrameLatency = 3
)

// ErrClosed is returned after Close.
var ErrClosed = errors.Wrap(device.ErrDeviceLost, "cpu: device closed")

type commandKind int

const (
	commandTimestamp commandKind = iota
	commandDispatch
	commandPresent
)

type command struct {
	kind      commandKind
	query     *timestamp
	kernel    device.Kernel
	threads   device.Dim3
	groupSize device.Dim3
}

type timestamp struct {
	id      uint64
	ticks   atomic.Uint64
	written atomic.Bool
	pending atomic.Int32
}

func (t *timestamp) ID() uint64 { return t.id }

// Options configures a Device.
type Options struct {
	// QueueDepth bounds the command queue (default: 4096).
	QueueDepth int
	// MaxFrameLatency bounds presented frames in flight (default: 3).
	MaxFrameLatency int
	// Clock overrides the timestamp source (default: hostclock.New()).
	Clock hostclock.Clock
	// Logger receives worker diagnostics.
	Logger *log.Logger
}

// Device is a software GPU executing kernels on a worker goroutine.
type Device struct {
	clock  hostclock.Clock
	logger *log.Logger

	commands chan command
	frames   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	nextID atomic.Uint64
	lost   atomic.Bool
	fault  atomic.Pointer[error]

	closeOnce sync.Once
}

// New creates and starts a CPU device.
//
// Arguments:
//   - opts: Queue sizing and clock options. Zero values use defaults.
//
// Returns:
//   - *Device: A running device. Call Close to stop the worker.
func New(opts Options) *Device {
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = DefaultQueueDepth
	}
	if opts.MaxFrameLatency <= 0 {
		opts.MaxFrameLatency = DefaultMaxFrameLatency
	}
	if opts.Clock == nil {
		opts.Clock = hostclock.New()
	}
	if opts.Logger == nil {
		opts.Logger = &log.DefaultLogger
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Device{
		clock:    opts.Clock,
		logger:   opts.Logger,
		commands: make(chan command, opts.QueueDepth),
		frames:   make(chan struct{}, opts.MaxFrameLatency),
		ctx:      ctx,
		cancel:   cancel,
	}

	d.wg.Add(1)
	go d.run()

	return d
}

// NewTimestamp implements device.Device.
func (d *Device) NewTimestamp() (device.Timestamp, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	return &timestamp{id: d.nextID.Add(1)}, nil
}

// WriteTimestamp implements device.Device.
func (d *Device) WriteTimestamp(ts device.Timestamp) error {
	q, ok := ts.(*timestamp)
	if !ok || q == nil {
		return device.ErrInvalidTimestamp
	}
	q.pending.Add(1)
	if err := d.submit(command{kind: commandTimestamp, query: q}); err != nil {
		q.pending.Add(-1)
		return err
	}
	return nil
}

// ReadTimestamp implements device.Device.
func (d *Device) ReadTimestamp(ts device.Timestamp) (uint64, bool, error) {
	if err := d.check(); err != nil {
		return 0, false, err
	}
	q, ok := ts.(*timestamp)
	if !ok || q == nil {
		return 0, false, device.ErrInvalidTimestamp
	}
	if q.pending.Load() > 0 || !q.written.Load() {
		return 0, false, nil
	}
	return q.ticks.Load(), true, nil
}

// TimestampFrequency implements device.Device.
func (d *Device) TimestampFrequency() (uint64, error) {
	if err := d.check(); err != nil {
		return 0, err
	}
	freq, err := d.clock.Frequency()
	if err != nil {
		return 0, errors.Wrap(device.ErrNotSupported, err.Error())
	}
	return freq, nil
}

// Dispatch implements device.Dispatcher.
func (d *Device) Dispatch(k device.Kernel, threads, groupSize device.Dim3) error {
	if k == nil {
		return errors.New("cpu: nil kernel")
	}
	if !threads.Valid() {
		return errors.Errorf("cpu: invalid thread count %s", threads)
	}
	return d.submit(command{kind: commandDispatch, kernel: k, threads: threads, groupSize: groupSize})
}

// Present implements device.Dispatcher. It blocks while MaxFrameLatency
// frames are still executing.
func (d *Device) Present() error {
	if err := d.check(); err != nil {
		return err
	}
	select {
	case d.frames <- struct{}{}:
	case <-d.ctx.Done():
		return ErrClosed
	}
	if err := d.submit(command{kind: commandPresent}); err != nil {
		select {
		case <-d.frames:
		default:
		}
		return err
	}
	return nil
}

// Close stops the worker. Queued commands are dropped.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		d.cancel()
		d.wg.Wait()
	})
	return nil
}

// Fault returns the kernel error that caused device loss, if any.
func (d *Device) Fault() error {
	if p := d.fault.Load(); p != nil {
		return *p
	}
	return nil
}

func (d *Device) check() error {
	if d.ctx.Err() != nil {
		return ErrClosed
	}
	if d.lost.Load() {
		return device.ErrDeviceLost
	}
	return nil
}

func (d *Device) submit(cmd command) error {
	if err := d.check(); err != nil {
		return err
	}
	select {
	case d.commands <- cmd:
		return nil
	case <-d.ctx.Done():
		return ErrClosed
	}
}

func (d *Device) run() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case cmd := <-d.commands:
			d.execute(cmd)
		}
	}
}

func (d *Device) execute(cmd command) {
	switch cmd.kind {
	case commandTimestamp:
		cmd.query.ticks.Store(d.clock.Now())
		cmd.query.written.Store(true)
		cmd.query.pending.Add(-1)

	case commandDispatch:
		if d.lost.Load() {
			return
		}
		groups := cmd.threads.Groups(cmd.groupSize)
		for z := uint32(0); z < groups.Z; z++ {
			for y := uint32(0); y < groups.Y; y++ {
				for x := uint32(0); x < groups.X; x++ {
					if err := cmd.kernel.Execute(device.NewDim3(x, y, z), cmd.groupSize); err != nil {
						d.lose(cmd.kernel, err)
						return
					}
				}
			}
		}

	case commandPresent:
		select {
		case <-d.frames:
		default:
		}
	}
}

// lose marks the device removed after a kernel fault, like a GPU reset.
func (d *Device) lose(k device.Kernel, err error) {
	err = errors.Wrapf(err, "cpu: kernel %s faulted", k.Name())
	d.fault.Store(&err)
	d.lost.Store(true)
	d.logger.Error().Err(err).Msg("device lost")
}
