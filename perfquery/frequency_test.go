package perfquery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-gpuperf/device/sim"
)

func TestFrequencyMillis(t *testing.T) {
	tests := []struct {
		name       string
		freq       Frequency
		start, end uint64
		want       float64
	}{
		{"two milliseconds at 1MHz", 1_000_000, 1_000_000, 1_002_000, 2.0},
		{"one microsecond at 1GHz", 1_000_000_000, 0, 1_000, 0.001},
		{"zero interval", 1_000_000, 42, 42, 0},
		{"end before start", 1_000_000, 10, 5, 0},
		{"uncalibrated", 0, 0, 100, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.freq.Millis(tt.start, tt.end), 1e-12)
		})
	}
}

func TestCalibrate(t *testing.T) {
	f, err := Calibrate(sim.New(sim.WithFrequency(24_000_000)))
	require.NoError(t, err)
	assert.Equal(t, uint64(24_000_000), f.Hz())

	_, err = Calibrate(nil)
	assert.ErrorIs(t, err, ErrCalibrationFailed)

	_, err = Calibrate(sim.New(sim.WithFrequency(0)))
	assert.ErrorIs(t, err, ErrCalibrationFailed)

	lost := sim.New()
	lost.Lose()
	_, err = Calibrate(lost)
	assert.ErrorIs(t, err, ErrDeviceLost)
	assert.NotErrorIs(t, err, ErrCalibrationFailed)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default", DefaultConfig(), false},
		{"stall", Config{PoolCapacity: 8, ExhaustionPolicy: PolicyStall, StallTimeout: time.Millisecond}, false},
		{"reject ignores timeout", Config{PoolCapacity: 8, ExhaustionPolicy: PolicyReject}, false},
		{"zero capacity", Config{ExhaustionPolicy: PolicyReject}, true},
		{"stall without timeout", Config{PoolCapacity: 8, ExhaustionPolicy: PolicyStall}, true},
		{"unknown policy", Config{PoolCapacity: 8, ExhaustionPolicy: "wait"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
