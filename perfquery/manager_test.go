package perfquery

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-gpuperf/device"
	"github.com/nvr-ai/go-gpuperf/device/sim"
)

var unitGroup = device.NewDim3(1, 1, 1)

// recordingObserver captures observer events.
type recordingObserver struct {
	resolved []Result
	dropped  []string
	inFlight []int
	lost     int
}

func (o *recordingObserver) Resolved(label string, ms float64) {
	o.resolved = append(o.resolved, Result{Label: label, Millis: ms})
}
func (o *recordingObserver) Dropped(label string) { o.dropped = append(o.dropped, label) }
func (o *recordingObserver) InFlight(n int)       { o.inFlight = append(o.inFlight, n) }
func (o *recordingObserver) DeviceLost()          { o.lost++ }

func newTestManager(t *testing.T, dev *sim.Device, cfg Config, opts ...Option) *Manager {
	t.Helper()
	m, err := New(dev, cfg, opts...)
	require.NoError(t, err)
	return m
}

func smallConfig(capacity int) Config {
	cfg := DefaultConfig()
	cfg.PoolCapacity = capacity
	return cfg
}

// measure brackets one simulated dispatch.
func measure(t *testing.T, m *Manager, dev *sim.Device, label string) QueryHandle {
	t.Helper()
	h, err := m.Start(label)
	require.NoError(t, err)
	require.NoError(t, dev.Dispatch(nil, unitGroup, unitGroup))
	require.NoError(t, m.End(h))
	return h
}

func labels(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Label
	}
	return out
}

func TestReportsInStartOrderExactlyOnce(t *testing.T) {
	dev := sim.New(sim.WithDispatchCost(1000))
	m := newTestManager(t, dev, smallConfig(8))

	for _, l := range []string{"L1", "L2", "L3"} {
		measure(t, m, dev, l)
	}
	dev.Flush()

	var got []string
	require.NoError(t, m.Process(func(ms float64, label string) {
		got = append(got, label)
		assert.InDelta(t, 0.001, ms, 1e-12)
	}))
	assert.Equal(t, []string{"L1", "L2", "L3"}, got)
	assert.Zero(t, m.InFlight())

	calls := 0
	require.NoError(t, m.Process(func(float64, string) { calls++ }))
	assert.Zero(t, calls, "empty ledger reports nothing")
}

func TestProcessDoesNotWaitForGPU(t *testing.T) {
	dev := sim.New()
	m := newTestManager(t, dev, smallConfig(8))

	measure(t, m, dev, "first")
	measure(t, m, dev, "second")

	results, err := m.Collect()
	require.NoError(t, err)
	assert.Empty(t, results, "nothing executed yet")
	assert.Equal(t, 2, m.InFlight())

	// Start ts, dispatch and end ts of "first".
	dev.Step(3)
	results, err = m.Collect()
	require.NoError(t, err)
	assert.Equal(t, []string{"first"}, labels(results))

	dev.Flush()
	results, err = m.Collect()
	require.NoError(t, err)
	assert.Equal(t, []string{"second"}, labels(results))
}

func TestStartedFrontBlocksDrain(t *testing.T) {
	dev := sim.New()
	m := newTestManager(t, dev, smallConfig(8))

	open, err := m.Start("open")
	require.NoError(t, err)
	measure(t, m, dev, "closed")
	dev.Flush()

	results, err := m.Collect()
	require.NoError(t, err)
	assert.Empty(t, results, "an unended front record stops the drain")

	require.NoError(t, m.End(open))
	dev.Flush()
	results, err = m.Collect()
	require.NoError(t, err)
	assert.Equal(t, []string{"open", "closed"}, labels(results))
}

func TestDurationConversion(t *testing.T) {
	dev := sim.New(
		sim.WithFrequency(1_000_000),
		sim.WithStartTicks(1_000_000),
		sim.WithDispatchCost(2_000),
	)
	m := newTestManager(t, dev, smallConfig(4))

	measure(t, m, dev, "conv")
	dev.Flush()

	results, err := m.Collect()
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 2.0, results[0].Millis)
	assert.Equal(t, Frequency(1_000_000), m.Frequency())
}

func TestNestedEndsReportInStartOrder(t *testing.T) {
	dev := sim.New()
	m := newTestManager(t, dev, smallConfig(4))

	a, err := m.Start("A")
	require.NoError(t, err)
	b, err := m.Start("B")
	require.NoError(t, err)
	require.NoError(t, dev.Dispatch(nil, unitGroup, unitGroup))
	require.NoError(t, m.End(b))
	require.NoError(t, m.End(a))
	dev.Flush()

	results, err := m.Collect()
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, labels(results))
}

func TestUnmatchedEnd(t *testing.T) {
	dev := sim.New()
	m := newTestManager(t, dev, smallConfig(4))

	h := measure(t, m, dev, "once")
	assert.ErrorIs(t, m.End(h), ErrUnmatchedEnd, "second end")
	assert.ErrorIs(t, m.End(QueryHandle{}), ErrUnmatchedEnd, "never started")
	assert.ErrorIs(t, m.End(newHandle(3, 1)), ErrUnmatchedEnd, "unused slot")

	dev.Flush()
	_, err := m.Collect()
	require.NoError(t, err)

	// The slot is recycled with a new generation; the old handle stays stale.
	h2, err := m.Start("reuse")
	require.NoError(t, err)
	assert.Equal(t, h.slot(), h2.slot())
	assert.NotEqual(t, h, h2)
	assert.ErrorIs(t, m.End(h), ErrUnmatchedEnd)
	assert.NoError(t, m.End(h2))
}

func TestRejectPolicy(t *testing.T) {
	dev := sim.New()
	obs := &recordingObserver{}
	m := newTestManager(t, dev, smallConfig(2), WithObserver(obs))

	measure(t, m, dev, "a")
	measure(t, m, dev, "b")

	_, err := m.Start("c")
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.Equal(t, []string{"c"}, obs.dropped)

	dev.Flush()
	results, err := m.Collect()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, labels(results))

	_, err = m.Start("c")
	assert.NoError(t, err, "slots recycled after drain")
}

func TestStallPolicyWaitsForOldest(t *testing.T) {
	dev := sim.New()
	cfg := smallConfig(2)
	cfg.ExhaustionPolicy = PolicyStall
	cfg.StallTimeout = time.Second
	m := newTestManager(t, dev, cfg)

	sleeps := 0
	m.sleep = func(time.Duration) {
		sleeps++
		// The GPU makes progress while the CPU waits.
		dev.Step(3)
	}

	measure(t, m, dev, "a")
	measure(t, m, dev, "b")

	h, err := m.Start("c")
	require.NoError(t, err)
	assert.Equal(t, 1, sleeps)
	require.NoError(t, dev.Dispatch(nil, unitGroup, unitGroup))
	require.NoError(t, m.End(h))
	dev.Flush()

	results, err := m.Collect()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, labels(results), "stalled result delivered first")
}

func TestStallPolicyTimesOut(t *testing.T) {
	dev := sim.New()
	cfg := smallConfig(1)
	cfg.ExhaustionPolicy = PolicyStall
	cfg.StallTimeout = 10 * time.Millisecond
	m := newTestManager(t, dev, cfg)

	clock := time.Unix(0, 0)
	m.now = func() time.Time { return clock }
	m.sleep = func(d time.Duration) { clock = clock.Add(d) }

	measure(t, m, dev, "stuck")
	_, err := m.Start("next")
	assert.ErrorIs(t, err, ErrPoolExhausted)
}

func TestStallPolicyCannotWaitOnStarted(t *testing.T) {
	dev := sim.New()
	cfg := smallConfig(1)
	cfg.ExhaustionPolicy = PolicyStall
	m := newTestManager(t, dev, cfg)
	m.sleep = func(time.Duration) { t.Fatal("must not sleep on an unended record") }

	_, err := m.Start("open")
	require.NoError(t, err)
	_, err = m.Start("next")
	assert.ErrorIs(t, err, ErrPoolExhausted)
}

func TestDiscardRecyclesSlot(t *testing.T) {
	dev := sim.New()
	m := newTestManager(t, dev, smallConfig(1))

	h, err := m.Start("failed dispatch")
	require.NoError(t, err)
	require.NoError(t, m.Discard(h))
	assert.ErrorIs(t, m.End(h), ErrUnmatchedEnd)
	assert.ErrorIs(t, m.Discard(h), ErrUnmatchedEnd)

	results, err := m.Collect()
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, m.InFlight())

	measure(t, m, dev, "ok")
	dev.Flush()
	results, err = m.Collect()
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, labels(results))
}

func TestFailedEndWriteRecyclesSlot(t *testing.T) {
	dev := sim.New()
	obs := &recordingObserver{}
	m := newTestManager(t, dev, smallConfig(1), WithObserver(obs))

	h, err := m.Start("broken end")
	require.NoError(t, err)
	boom := errors.New("write rejected")
	dev.FailNextWrite(boom)
	err = m.End(h)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrDeviceLost)
	assert.ErrorIs(t, m.End(h), ErrUnmatchedEnd)

	dev.Flush()
	called := 0
	require.NoError(t, m.Process(func(float64, string) { called++ }))
	assert.Zero(t, called)
	assert.Empty(t, obs.resolved)
	assert.Zero(t, m.InFlight())

	measure(t, m, dev, "next")
	dev.Flush()
	results, err := m.Collect()
	require.NoError(t, err)
	assert.Equal(t, []string{"next"}, labels(results))
}

func TestDeviceLossDiscardsPending(t *testing.T) {
	dev := sim.New()
	obs := &recordingObserver{}
	m := newTestManager(t, dev, smallConfig(4), WithObserver(obs))

	for _, l := range []string{"x", "y", "z"} {
		measure(t, m, dev, l)
	}
	dev.Lose()

	calls := 0
	err := m.Process(func(float64, string) { calls++ })
	require.ErrorIs(t, err, ErrDeviceLost)
	assert.True(t, m.Lost())
	assert.Zero(t, m.InFlight())
	assert.Equal(t, 1, obs.lost)

	_, err = m.Start("during loss")
	assert.ErrorIs(t, err, ErrDeviceLost)

	fresh := sim.New(sim.WithFrequency(2_000_000_000))
	require.NoError(t, m.Reset(fresh))
	assert.False(t, m.Lost())
	assert.Equal(t, Frequency(2_000_000_000), m.Frequency())

	measure(t, m, fresh, "after")
	fresh.Flush()
	require.NoError(t, m.Process(func(ms float64, label string) {
		calls++
		assert.Equal(t, "after", label)
	}))
	assert.Equal(t, 1, calls, "discarded records never report")
}

func TestResetWithLostDeviceFails(t *testing.T) {
	dev := sim.New()
	m := newTestManager(t, dev, smallConfig(2))
	dev.Lose()

	assert.ErrorIs(t, m.Reset(dev), ErrDeviceLost)
	assert.True(t, m.Lost())
}

func TestNewValidation(t *testing.T) {
	_, err := New(sim.New(), Config{PoolCapacity: 0, ExhaustionPolicy: PolicyReject})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(sim.New(), Config{PoolCapacity: 1, ExhaustionPolicy: "block"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(sim.New(sim.WithFrequency(0)), DefaultConfig())
	assert.ErrorIs(t, err, ErrCalibrationFailed)

	dev := sim.New()
	dev.FailFrequency(errors.New("no counter"))
	_, err = New(dev, DefaultConfig())
	assert.ErrorIs(t, err, ErrCalibrationFailed)
}

func TestObserverSeesResolvedAndInFlight(t *testing.T) {
	dev := sim.New(sim.WithDispatchCost(500_000))
	obs := &recordingObserver{}
	m := newTestManager(t, dev, smallConfig(4), WithObserver(obs))

	measure(t, m, dev, "obs")
	dev.Flush()
	require.NoError(t, m.Process(nil))

	require.Len(t, obs.resolved, 1)
	assert.Equal(t, "obs", obs.resolved[0].Label)
	assert.InDelta(t, 0.5, obs.resolved[0].Millis, 1e-9)
	assert.Equal(t, []int{0, 1, 0}, obs.inFlight)
}

func TestObserversFanOut(t *testing.T) {
	a, b := &recordingObserver{}, &recordingObserver{}
	obs := Observers(a, nil, b)

	obs.Resolved("x", 1.5)
	obs.Dropped("y")
	obs.InFlight(3)
	obs.DeviceLost()

	for _, o := range []*recordingObserver{a, b} {
		assert.Equal(t, []Result{{Label: "x", Millis: 1.5}}, o.resolved)
		assert.Equal(t, []string{"y"}, o.dropped)
		assert.Equal(t, []int{3}, o.inFlight)
		assert.Equal(t, 1, o.lost)
	}
}
