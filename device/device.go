// Package device - Collaborator interfaces consumed by the performance query subsystem.
package device

import "github.com/pkg/errors"

var (
	// ErrDeviceLost is returned by any device call once the underlying device
	// has been invalidated. Every resource created on it is unusable.
	ErrDeviceLost = errors.New("device: device lost")

	// ErrNotSupported is returned when the device cannot service a request,
	// such as reporting a timestamp frequency.
	ErrNotSupported = errors.New("device: operation not supported")

	// ErrInvalidTimestamp is returned when a timestamp handle was not created
	// by the device it is passed to.
	ErrInvalidTimestamp = errors.New("device: invalid timestamp")
)

// Timestamp is an opaque hardware timestamp query created by a Device.
type Timestamp interface {
	// ID identifies the query on its device.
	ID() uint64
}

// Device is the timing surface of a GPU device.
//
// Writes are enqueued into the device's command stream and captured when the
// GPU reaches them, not when the CPU issues them. Reads never block.
type Device interface {
	// NewTimestamp creates one timestamp query primitive.
	NewTimestamp() (Timestamp, error)

	// WriteTimestamp enqueues a timestamp write at the current position of
	// the command stream.
	WriteTimestamp(ts Timestamp) error

	// ReadTimestamp polls the last write to ts. ok is false while the GPU has
	// not yet reached the write.
	ReadTimestamp(ts Timestamp) (ticks uint64, ok bool, err error)

	// TimestampFrequency reports the timestamp counter rate in ticks per second.
	TimestampFrequency() (uint64, error)
}

// Kernel is a compute workload executed once per thread group.
type Kernel interface {
	// Name is a short identifier for logs.
	Name() string

	// Execute runs one thread group.
	Execute(group Dim3, groupSize Dim3) error
}

// Dispatcher submits compute work to the same in-order queue that timestamp
// writes go to.
type Dispatcher interface {
	// Dispatch enqueues threads worth of k, split into groups of groupSize.
	Dispatch(k Kernel, threads, groupSize Dim3) error

	// Present ends the current frame and submits it.
	Present() error
}

// GPU is a device that can both time and run work.
type GPU interface {
	Device
	Dispatcher
}
