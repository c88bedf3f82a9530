package perfquery

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-gpuperf/device"
)

// Frequency is a calibrated timestamp counter rate in ticks per second. It is
// fixed for the lifetime of the device it was read from.
type Frequency uint64

// Calibrate reads the counter frequency of dev. It is called once when a
// manager is created and again only after the device has been recreated.
//
// Arguments:
//   - dev: The device whose timestamps will be converted.
//
// Returns:
//   - Frequency: The counter rate.
//   - error: ErrCalibrationFailed (wrapping the cause) if the device cannot
//     report a usable rate, or ErrDeviceLost.
func Calibrate(dev device.Device) (Frequency, error) {
	if dev == nil {
		return 0, errors.Wrap(ErrCalibrationFailed, "nil device")
	}
	hz, err := dev.TimestampFrequency()
	if err != nil {
		if errors.Is(err, device.ErrDeviceLost) {
			return 0, err
		}
		return 0, errors.Wrapf(ErrCalibrationFailed, "%v", err)
	}
	if hz == 0 {
		return 0, errors.Wrap(ErrCalibrationFailed, "device reported zero frequency")
	}
	return Frequency(hz), nil
}

// Millis converts a tick interval to milliseconds. An end before start
// yields zero.
func (f Frequency) Millis(startTicks, endTicks uint64) float64 {
	if f == 0 || endTicks < startTicks {
		return 0
	}
	return float64(endTicks-startTicks) * 1000 / float64(f)
}

// Hz returns the raw rate.
func (f Frequency) Hz() uint64 {
	return uint64(f)
}
