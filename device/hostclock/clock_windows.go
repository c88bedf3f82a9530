//go:build windows

package hostclock

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

// qpcClock reads QueryPerformanceCounter.
type qpcClock struct {
	freq uint64
}

func newPlatformClock() Clock {
	var freq int64
	if err := windows.QueryPerformanceFrequency(&freq); err != nil || freq <= 0 {
		return newMonotonicClock()
	}
	return qpcClock{freq: uint64(freq)}
}

func (c qpcClock) Now() uint64 {
	var count int64
	if err := windows.QueryPerformanceCounter(&count); err != nil {
		return 0
	}
	return uint64(count)
}

func (c qpcClock) Frequency() (uint64, error) {
	if c.freq == 0 {
		return 0, errors.New("hostclock: QueryPerformanceFrequency returned zero")
	}
	return c.freq, nil
}
