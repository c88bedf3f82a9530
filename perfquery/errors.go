package perfquery

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-gpuperf/device"
)

var (
	// ErrPoolExhausted is returned by Start when no timer slot is free and the
	// exhaustion policy could not make one available. The measurement is
	// dropped; the caller may run its work unmeasured.
	ErrPoolExhausted = errors.New("perfquery: timer pool exhausted")

	// ErrUnmatchedEnd is returned when End or Discard is called with a handle
	// that has no live Started record. It indicates broken start/end nesting
	// in the caller and is not recoverable by the manager.
	ErrUnmatchedEnd = errors.New("perfquery: end without matching start")

	// ErrCalibrationFailed is returned when the device cannot report its
	// timestamp frequency. No duration can be computed without it.
	ErrCalibrationFailed = errors.New("perfquery: timestamp calibration failed")

	// ErrDeviceLost is reported once the device has been invalidated. All
	// pending measurements are discarded and Reset must be called.
	ErrDeviceLost = device.ErrDeviceLost

	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("perfquery: invalid configuration")
)
