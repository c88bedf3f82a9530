//go:build linux

package hostclock

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// rawClock reads CLOCK_MONOTONIC_RAW, which is not slewed by NTP.
type rawClock struct{}

func newPlatformClock() Clock {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC_RAW, &ts); err != nil {
		return newMonotonicClock()
	}
	return rawClock{}
}

func (rawClock) Now() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC_RAW, &ts); err != nil {
		return 0
	}
	return uint64(ts.Nano())
}

func (rawClock) Frequency() (uint64, error) {
	var res unix.Timespec
	if err := unix.ClockGetres(unix.CLOCK_MONOTONIC_RAW, &res); err != nil {
		return 0, errors.Wrap(err, "hostclock: clock_getres")
	}
	return uint64(time.Second), nil
}
