package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-gpuperf/benchmark"
	"github.com/nvr-ai/go-gpuperf/config"
	"github.com/nvr-ai/go-gpuperf/device"
	"github.com/nvr-ai/go-gpuperf/device/sim"
	"github.com/nvr-ai/go-gpuperf/perfquery"
	"github.com/nvr-ai/go-gpuperf/workloads"
)

type nopKernel struct{}

func (nopKernel) Name() string                   { return "nop" }
func (nopKernel) Execute(_, _ device.Dim3) error { return nil }

func smallScenario(name string, backend config.Backend, filter string) benchmark.Scenario {
	return benchmark.NewScenarioBuilder(name).
		WithBackend(backend).
		WithFilter(filter).
		WithDispatch(device.NewDim3(256, 1, 1), device.NewDim3(64, 1, 1)).
		WithLoadsPerThread(4).
		WithFrames(3).
		WithWarmupFrames(1).
		Build()
}

// TestCPUBackendEndToEnd runs real kernels on the CPU device and measures
// them with host clock timestamps.
func TestCPUBackendEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("executes kernels on the CPU backend")
	}

	suite := benchmark.NewSuite(benchmark.NewSuiteArgs{Device: config.DefaultConfig().Device})

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	metrics, err := suite.RunScenario(ctx, smallScenario("cpu_raw", config.BackendCPU, benchmark.ViewRaw.Filter(workloads.PatternLinear)))
	require.NoError(t, err)

	require.Len(t, metrics.Labels, 12)
	assert.Equal(t, "Load1 raw32 SRV linear", metrics.Labels[0].Label)
	assert.Equal(t, int64(36), metrics.Measurements)
	assert.Zero(t, metrics.Dropped)
	assert.Zero(t, metrics.DeviceLosses)
	for _, l := range metrics.Labels {
		assert.GreaterOrEqual(t, l.Min, 0.0, l.Label)
		assert.LessOrEqual(t, l.P50, l.Max, l.Label)
	}
}

// BenchmarkQuickScenarios runs the quick set on the simulated device.
func BenchmarkQuickScenarios(b *testing.B) {
	suite := benchmark.NewSuite(benchmark.NewSuiteArgs{Device: config.DefaultConfig().Device})
	for _, s := range (&benchmark.PredefinedScenarios{}).GetQuickScenarios(config.BackendSim).Scenarios {
		s.Frames = 10
		s.WarmupFrames = 2
		suite.AddScenario(s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, s := range suite.Scenarios() {
			if _, err := suite.RunScenario(ctx, s); err != nil {
				b.Fatalf("scenario %s failed: %v", s.Name, err)
			}
		}
	}
}

// BenchmarkCPUScenario measures one small typed scenario on the CPU backend.
func BenchmarkCPUScenario(b *testing.B) {
	suite := benchmark.NewSuite(benchmark.NewSuiteArgs{Device: config.DefaultConfig().Device})
	scenario := smallScenario("cpu_typed", config.BackendCPU, benchmark.ViewTyped.Filter(workloads.PatternRandom))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := suite.RunScenario(context.Background(), scenario); err != nil {
			b.Fatalf("scenario failed: %v", err)
		}
	}
}

// BenchmarkQueryOverhead measures the CPU cost of one Start/End pair plus
// its share of Process.
func BenchmarkQueryOverhead(b *testing.B) {
	dev := sim.New(sim.WithFrameLatency(0))
	queries, err := perfquery.New(dev, perfquery.DefaultConfig())
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h, err := queries.Start("overhead")
		if err != nil {
			b.Fatal(err)
		}
		if err := dev.Dispatch(nopKernel{}, device.NewDim3(1, 1, 1), device.NewDim3(1, 1, 1)); err != nil {
			b.Fatal(err)
		}
		if err := queries.End(h); err != nil {
			b.Fatal(err)
		}
		if i%64 == 63 {
			if err := dev.Present(); err != nil {
				b.Fatal(err)
			}
			if err := queries.Process(nil); err != nil {
				b.Fatal(err)
			}
		}
	}
}
