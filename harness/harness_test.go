package harness

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-gpuperf/device"
	"github.com/nvr-ai/go-gpuperf/device/sim"
	"github.com/nvr-ai/go-gpuperf/perfquery"
	"github.com/nvr-ai/go-gpuperf/workloads"
)

type nopKernel string

func (k nopKernel) Name() string                   { return string(k) }
func (k nopKernel) Execute(_, _ device.Dim3) error { return nil }

func testWorkloads(labels ...string) []workloads.Workload {
	out := make([]workloads.Workload, len(labels))
	for i, l := range labels {
		out[i] = workloads.Workload{
			Label:     l,
			Kernel:    nopKernel(l),
			Threads:   device.NewDim3(1024, 1024, 1),
			GroupSize: device.NewDim3(256, 1, 1),
		}
	}
	return out
}

func newManager(t *testing.T, dev device.Device, capacity int) *perfquery.Manager {
	t.Helper()
	cfg := perfquery.DefaultConfig()
	cfg.PoolCapacity = capacity
	m, err := perfquery.New(dev, cfg)
	require.NoError(t, err)
	return m
}

func TestRunMeasuresDispatch(t *testing.T) {
	dev := sim.New()
	m := newManager(t, dev, 4)
	h := New(m, dev, nil)

	require.NoError(t, h.Bench(testWorkloads("Load R8 SRV invariant")[0]))
	assert.Equal(t, 1, dev.Dispatches())
	dev.Flush()

	results, err := m.Collect()
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Load R8 SRV invariant", results[0].Label)
	assert.InDelta(t, 0.25, results[0].Millis, 1e-9)
}

func TestRunDiscardsFailedDispatch(t *testing.T) {
	dev := sim.New()
	m := newManager(t, dev, 1)
	h := New(m, dev, nil)

	boom := errors.New("bad shader")
	err := h.Run("broken", func() error { return boom })
	assert.ErrorIs(t, err, boom)

	results, err := m.Collect()
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, m.InFlight(), "slot recycled")

	require.NoError(t, h.Run("next", func() error { return nil }))
}

func TestRunUnmeasuredWhenExhausted(t *testing.T) {
	dev := sim.New()
	m := newManager(t, dev, 1)
	h := New(m, dev, nil)

	require.NoError(t, h.Run("measured", func() error { return nil }))

	ran := false
	require.NoError(t, h.Run("unmeasured", func() error {
		ran = true
		return nil
	}))
	assert.True(t, ran)

	dev.Flush()
	results, err := m.Collect()
	require.NoError(t, err)
	assert.Equal(t, []perfquery.Result{{Label: "measured", Millis: 0}}, results)
}

func TestRunnerReportsEveryFrame(t *testing.T) {
	dev := sim.New(sim.WithFrameLatency(2))
	m := newManager(t, dev, 64)

	var got []string
	r := NewRunner(m, dev, testWorkloads("a", "b"), RunnerOptions{
		Frames:   5,
		OnResult: func(_ float64, label string) { got = append(got, label) },
	})

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, 5, r.Frames())
	assert.Equal(t, 5, dev.Presents())
	assert.Less(t, len(got), 10, "latest frames are still in flight")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Drain(ctx))

	require.Len(t, got, 10)
	for i := 0; i < len(got); i += 2 {
		assert.Equal(t, []string{"a", "b"}, got[i:i+2])
	}
}

func TestRunnerStopsOnCancel(t *testing.T) {
	dev := sim.New()
	m := newManager(t, dev, 8)
	r := NewRunner(m, dev, testWorkloads("a"), RunnerOptions{FrameInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return dev.Presents() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestRunnerRecoversFromDeviceLoss(t *testing.T) {
	lost := sim.New()
	m := newManager(t, lost, 16)
	lost.Lose()

	fresh := sim.New(sim.WithFrameLatency(-1))
	recreated := 0
	var got []string
	r := NewRunner(m, lost, testWorkloads("a", "b"), RunnerOptions{
		Frames:   2,
		OnResult: func(_ float64, label string) { got = append(got, label) },
		Recreate: func() (device.GPU, error) {
			recreated++
			return fresh, nil
		},
	})

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, 1, recreated)
	assert.Equal(t, 2, r.Frames())
	assert.Equal(t, 4, fresh.Dispatches())

	fresh.Flush()
	require.NoError(t, m.Process(r.opts.OnResult))
	assert.Equal(t, []string{"a", "b", "a", "b"}, got)
}

func TestRunnerDeviceLossWithoutRecreate(t *testing.T) {
	dev := sim.New()
	m := newManager(t, dev, 4)
	dev.Lose()

	r := NewRunner(m, dev, testWorkloads("a"), RunnerOptions{Frames: 1})
	assert.ErrorIs(t, r.Run(context.Background()), perfquery.ErrDeviceLost)
}

func TestRunnerGivesUpOnRepeatedLoss(t *testing.T) {
	dev := sim.New()
	m := newManager(t, dev, 4)
	dev.Lose()

	r := NewRunner(m, dev, testWorkloads("a"), RunnerOptions{
		Frames: 1,
		Recreate: func() (device.GPU, error) {
			d := sim.New()
			d.Lose()
			return d, nil
		},
	})
	assert.ErrorIs(t, r.Run(context.Background()), perfquery.ErrDeviceLost)
}

func TestRunnerContinuesAfterWorkloadFailure(t *testing.T) {
	dev := sim.New(sim.WithFrameLatency(-1))
	m := newManager(t, dev, 8)
	dev.FailNextDispatch(errors.New("transient"))

	r := NewRunner(m, dev, testWorkloads("a", "b"), RunnerOptions{Frames: 1})
	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, 1, dev.Dispatches())

	dev.Flush()
	results, err := m.Collect()
	require.NoError(t, err)
	assert.Equal(t, "b", results[0].Label)
}

func TestDrainRecoversFromDeviceLoss(t *testing.T) {
	lost := sim.New(sim.WithFrameLatency(-1))
	m := newManager(t, lost, 16)

	fresh := sim.New(sim.WithFrameLatency(-1))
	recreated := 0
	var got []string
	r := NewRunner(m, lost, testWorkloads("a", "b"), RunnerOptions{
		Frames:   1,
		OnResult: func(_ float64, label string) { got = append(got, label) },
		Recreate: func() (device.GPU, error) {
			recreated++
			return fresh, nil
		},
	})
	require.NoError(t, r.Run(context.Background()))
	require.Equal(t, 2, m.InFlight())

	lost.Lose()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Drain(ctx))
	assert.Equal(t, 1, recreated)
	assert.Zero(t, m.InFlight())
	assert.Empty(t, got)

	require.NoError(t, r.Frame())
	fresh.Flush()
	require.NoError(t, m.Process(r.opts.OnResult))
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestDrainGivesUpWithoutRecreate(t *testing.T) {
	dev := sim.New(sim.WithFrameLatency(-1))
	m := newManager(t, dev, 16)

	r := NewRunner(m, dev, testWorkloads("a"), RunnerOptions{Frames: 1})
	require.NoError(t, r.Run(context.Background()))

	dev.Lose()
	assert.ErrorIs(t, r.Drain(context.Background()), perfquery.ErrDeviceLost)
}
