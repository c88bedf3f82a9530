package hostclock

import "time"

// monotonicClock derives ticks from the runtime monotonic clock.
type monotonicClock struct {
	base time.Time
}

func newMonotonicClock() Clock {
	return monotonicClock{base: time.Now()}
}

func (c monotonicClock) Now() uint64 {
	return uint64(time.Since(c.base))
}

func (monotonicClock) Frequency() (uint64, error) {
	return uint64(time.Second), nil
}
