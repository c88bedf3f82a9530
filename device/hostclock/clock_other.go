//go:build !linux && !windows

package hostclock

func newPlatformClock() Clock {
	return newMonotonicClock()
}
