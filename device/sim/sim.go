// Package sim - Deterministic in-order software GPU used for tests and dry runs.
//
// Commands are queued by the CPU and only execute when the queue is stepped,
// flushed, or when enough frames have been presented to exceed the configured
// frame latency. Timestamps are taken from a virtual tick clock that advances
// by a fixed cost per dispatch.
package sim

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-gpuperf/device"
)

const (
	// DefaultFrequency is the virtual counter rate (1 tick = 1 ns).
	DefaultFrequency uint64 = 1_000_000_000
	// DefaultDispatchCost is the number of ticks a dispatch occupies the queue.
	DefaultDispatchCost uint64 = 250_000
	// DefaultFrameLatency is the number of frames the GPU lags the CPU.
	DefaultFrameLatency = 2
)

type commandKind int

const (
	commandTimestamp commandKind = iota
	commandDispatch
	commandPresent
)

type command struct {
	kind  commandKind
	query *timestamp
	cost  uint64
}

type timestamp struct {
	id      uint64
	ticks   uint64
	written bool
	pending int
}

func (t *timestamp) ID() uint64 { return t.id }

// Option configures a Device.
type Option func(*Device)

// WithFrequency sets the reported counter frequency. Zero makes calibration fail.
func WithFrequency(hz uint64) Option {
	return func(d *Device) {
		d.frequency = hz
	}
}

// WithDispatchCost sets the ticks consumed by each dispatch.
func WithDispatchCost(ticks uint64) Option {
	return func(d *Device) {
		d.dispatchCost = ticks
	}
}

// WithStartTicks sets the initial value of the virtual clock.
func WithStartTicks(ticks uint64) Option {
	return func(d *Device) {
		d.clock = ticks
	}
}

// WithFrameLatency sets how many presented frames may be queued before the
// oldest one executes. Negative values disable execution on Present.
func WithFrameLatency(frames int) Option {
	return func(d *Device) {
		d.frameLatency = frames
	}
}

// Device is a simulated GPU with a single in-order queue.
type Device struct {
	mu sync.Mutex

	frequency    uint64
	dispatchCost uint64
	frameLatency int

	clock   uint64
	nextID  uint64
	queue   []command
	frames  int
	lost    bool
	freqErr  error
	dispErr  error
	writeErr error

	dispatches int
	presents   int
}

// New creates a simulated device.
func New(opts ...Option) *Device {
	d := &Device{
		frequency:    DefaultFrequency,
		dispatchCost: DefaultDispatchCost,
		frameLatency: DefaultFrameLatency,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewTimestamp implements device.Device.
func (d *Device) NewTimestamp() (device.Timestamp, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.lost {
		return nil, device.ErrDeviceLost
	}
	d.nextID++
	return &timestamp{id: d.nextID}, nil
}

// WriteTimestamp implements device.Device.
func (d *Device) WriteTimestamp(ts device.Timestamp) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.lost {
		return device.ErrDeviceLost
	}
	if d.writeErr != nil {
		err := d.writeErr
		d.writeErr = nil
		return err
	}
	q, ok := ts.(*timestamp)
	if !ok || q == nil {
		return device.ErrInvalidTimestamp
	}
	q.pending++
	d.queue = append(d.queue, command{kind: commandTimestamp, query: q})
	return nil
}

// ReadTimestamp implements device.Device.
func (d *Device) ReadTimestamp(ts device.Timestamp) (uint64, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.lost {
		return 0, false, device.ErrDeviceLost
	}
	q, ok := ts.(*timestamp)
	if !ok || q == nil {
		return 0, false, device.ErrInvalidTimestamp
	}
	if q.pending > 0 || !q.written {
		return 0, false, nil
	}
	return q.ticks, true, nil
}

// TimestampFrequency implements device.Device.
func (d *Device) TimestampFrequency() (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.lost {
		return 0, device.ErrDeviceLost
	}
	if d.freqErr != nil {
		return 0, d.freqErr
	}
	if d.frequency == 0 {
		return 0, device.ErrNotSupported
	}
	return d.frequency, nil
}

// Dispatch implements device.Dispatcher. The kernel is not executed; only its
// queue occupancy is modelled.
func (d *Device) Dispatch(k device.Kernel, threads, groupSize device.Dim3) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.lost {
		return device.ErrDeviceLost
	}
	if d.dispErr != nil {
		err := d.dispErr
		d.dispErr = nil
		return err
	}
	if !threads.Valid() {
		return errors.Errorf("sim: invalid thread count %s", threads)
	}
	d.dispatches++
	d.queue = append(d.queue, command{kind: commandDispatch, cost: d.dispatchCost})
	return nil
}

// Present implements device.Dispatcher.
func (d *Device) Present() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.lost {
		return device.ErrDeviceLost
	}
	d.presents++
	d.frames++
	d.queue = append(d.queue, command{kind: commandPresent})

	if d.frameLatency < 0 {
		return nil
	}
	for d.frames > d.frameLatency {
		d.executeThroughPresent()
	}
	return nil
}

// Step executes up to n queued commands and returns how many ran.
func (d *Device) Step(n int) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	ran := 0
	for ran < n && len(d.queue) > 0 {
		d.execute()
		ran++
	}
	return ran
}

// Flush executes every queued command.
func (d *Device) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for len(d.queue) > 0 {
		d.execute()
	}
}

// Advance adds idle time to the GPU clock.
func (d *Device) Advance(ticks uint64) {
	d.mu.Lock()
	d.clock += ticks
	d.mu.Unlock()
}

// Pending returns the number of commands not yet executed.
func (d *Device) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Clock returns the current virtual tick count.
func (d *Device) Clock() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clock
}

// Dispatches returns the number of accepted dispatches.
func (d *Device) Dispatches() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dispatches
}

// Presents returns the number of presented frames.
func (d *Device) Presents() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.presents
}

// Lose marks the device as lost. Queued work is dropped.
func (d *Device) Lose() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lost = true
	d.queue = nil
	d.frames = 0
}

// FailFrequency makes TimestampFrequency return err.
func (d *Device) FailFrequency(err error) {
	d.mu.Lock()
	d.freqErr = err
	d.mu.Unlock()
}

// FailNextDispatch makes the next Dispatch call return err.
func (d *Device) FailNextDispatch(err error) {
	d.mu.Lock()
	d.dispErr = err
	d.mu.Unlock()
}

// FailNextWrite makes the next WriteTimestamp call return err.
func (d *Device) FailNextWrite(err error) {
	d.mu.Lock()
	d.writeErr = err
	d.mu.Unlock()
}

// executeThroughPresent runs commands up to and including the oldest present.
func (d *Device) executeThroughPresent() {
	for len(d.queue) > 0 {
		kind := d.queue[0].kind
		d.execute()
		if kind == commandPresent {
			return
		}
	}
}

func (d *Device) execute() {
	cmd := d.queue[0]
	d.queue[0] = command{}
	d.queue = d.queue[1:]

	switch cmd.kind {
	case commandTimestamp:
		cmd.query.ticks = d.clock
		cmd.query.written = true
		cmd.query.pending--
	case commandDispatch:
		d.clock += cmd.cost
	case commandPresent:
		d.frames--
	}
}
