package engines

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-gpuperf/config"
	"github.com/nvr-ai/go-gpuperf/device/cpu"
	"github.com/nvr-ai/go-gpuperf/device/sim"
)

func TestOpenSim(t *testing.T) {
	cfg := config.DefaultConfig().Device
	cfg.Sim.Frequency = 2_000_000

	gpu, release, err := Open(cfg, nil)
	require.NoError(t, err)
	defer release()

	require.IsType(t, &sim.Device{}, gpu)
	hz, err := gpu.TimestampFrequency()
	require.NoError(t, err)
	assert.Equal(t, uint64(2_000_000), hz)
}

func TestOpenCPU(t *testing.T) {
	cfg := config.DefaultConfig().Device
	cfg.Backend = config.BackendCPU

	gpu, release, err := Open(cfg, nil)
	require.NoError(t, err)
	require.IsType(t, &cpu.Device{}, gpu)
	assert.NoError(t, release())
}

func TestOpenUnknown(t *testing.T) {
	_, _, err := Open(config.DeviceConfig{Backend: "vulkan"}, nil)
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestSessionRecreate(t *testing.T) {
	s, err := NewSession(config.DefaultConfig().Device, nil)
	require.NoError(t, err)
	defer s.Close()

	first := s.Device()
	first.(*sim.Device).Lose()

	second, err := s.Recreate()
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Same(t, second, s.Device())
	assert.Equal(t, 2, s.Opened())

	_, err = second.NewTimestamp()
	assert.NoError(t, err)
}

func TestSessionClose(t *testing.T) {
	cfg := config.DefaultConfig().Device
	cfg.Backend = config.BackendCPU

	s, err := NewSession(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.Nil(t, s.Device())
	assert.NoError(t, s.Close())
}
