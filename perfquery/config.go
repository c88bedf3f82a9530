package perfquery

import (
	"time"

	"github.com/pkg/errors"
)

// ExhaustionPolicy decides what Start does when every timer slot is in use.
type ExhaustionPolicy string

const (
	// PolicyReject drops the new measurement and returns ErrPoolExhausted.
	PolicyReject ExhaustionPolicy = "reject"
	// PolicyStall waits, bounded by StallTimeout, for the oldest measurement
	// to resolve and then reuses its slot.
	PolicyStall ExhaustionPolicy = "stall"
)

const (
	// DefaultPoolCapacity covers a few hundred measurements per frame across
	// three frames of GPU latency.
	DefaultPoolCapacity = 1024
	// DefaultStallTimeout bounds a single stall under PolicyStall.
	DefaultStallTimeout = 100 * time.Millisecond
)

// Config configures a Manager.
type Config struct {
	// PoolCapacity is the number of start/end timestamp pairs (default: 1024).
	PoolCapacity int `json:"pool_capacity" yaml:"pool_capacity" toml:"pool_capacity"`

	// ExhaustionPolicy is "reject" or "stall" (default: "reject").
	ExhaustionPolicy ExhaustionPolicy `json:"exhaustion_policy" yaml:"exhaustion_policy" toml:"exhaustion_policy"`

	// StallTimeout bounds how long Start may wait under "stall" (default: 100ms).
	StallTimeout time.Duration `json:"stall_timeout" yaml:"stall_timeout" toml:"stall_timeout"`
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		PoolCapacity:     DefaultPoolCapacity,
		ExhaustionPolicy: PolicyReject,
		StallTimeout:     DefaultStallTimeout,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.PoolCapacity <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "pool_capacity must be positive, got %d", c.PoolCapacity)
	}
	switch c.ExhaustionPolicy {
	case PolicyReject:
	case PolicyStall:
		if c.StallTimeout <= 0 {
			return errors.Wrapf(ErrInvalidConfig, "stall_timeout must be positive, got %s", c.StallTimeout)
		}
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown exhaustion_policy %q", c.ExhaustionPolicy)
	}
	return nil
}
