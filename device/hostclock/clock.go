// Package hostclock - Raw high resolution host counter used as a timestamp source.
package hostclock

// Clock is a raw monotonic counter with a fixed frequency.
type Clock interface {
	// Now returns the current counter value in ticks.
	Now() uint64
	// Frequency returns the counter rate in ticks per second.
	Frequency() (uint64, error)
}

// New returns the best counter available on this platform.
func New() Clock {
	return newPlatformClock()
}
