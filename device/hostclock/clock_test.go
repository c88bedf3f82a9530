package hostclock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockIsMonotonic(t *testing.T) {
	c := New()

	freq, err := c.Frequency()
	require.NoError(t, err)
	require.NotZero(t, freq)

	a := c.Now()
	time.Sleep(2 * time.Millisecond)
	b := c.Now()
	require.Greater(t, b, a)

	elapsed := float64(b-a) / float64(freq)
	assert.GreaterOrEqual(t, elapsed, 0.001)
}

func TestMonotonicFallback(t *testing.T) {
	c := newMonotonicClock()
	freq, err := c.Frequency()
	require.NoError(t, err)
	assert.Equal(t, uint64(time.Second), freq)
	assert.LessOrEqual(t, c.Now(), c.Now())
}
