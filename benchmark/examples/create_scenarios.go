package main

import (
	"fmt"

	"github.com/phuslu/log"

	"github.com/nvr-ai/go-gpuperf/benchmark"
	"github.com/nvr-ai/go-gpuperf/config"
	"github.com/nvr-ai/go-gpuperf/device"
	"github.com/nvr-ai/go-gpuperf/perfquery"
)

// Example program to create and save benchmark scenarios
func main() {
	predefined := &benchmark.PredefinedScenarios{}

	sets := map[string]*benchmark.ScenarioSet{
		"quick_scenarios.json":         predefined.GetQuickScenarios(config.BackendSim),
		"comprehensive_scenarios.json": predefined.GetComprehensiveScenarios([]config.Backend{config.BackendSim, config.BackendCPU}),
		"pattern_scenarios.yaml":       predefined.GetPatternComparisonScenarios(benchmark.ViewRaw),
		"policy_scenarios.yaml":        predefined.GetPolicyComparisonScenarios(64),
	}
	for file, set := range sets {
		if err := benchmark.SaveScenarioSet(set, file); err != nil {
			log.Fatal().Err(err).Str("file", file).Msg("failed to save scenarios")
		}
		fmt.Printf("Saved %d scenarios to %s\n", len(set.Scenarios), file)
	}

	// Create custom scenario using builder
	customScenario := benchmark.NewScenarioBuilder("custom_cpu_small_dispatch").
		WithBackend(config.BackendCPU).
		WithFilter(`RGBA32F`).
		WithDispatch(device.NewDim3(4096, 1, 1), device.NewDim3(64, 1, 1)).
		WithLoadsPerThread(4).
		WithQueryPool(32, perfquery.PolicyStall).
		WithFrames(50).
		WithWarmupFrames(5).
		Build()

	customSet := &benchmark.ScenarioSet{
		Name:        "Custom CPU RGBA32F Test",
		Description: "Small RGBA32F dispatches on the CPU backend with a stalling timer pool",
		Scenarios:   []benchmark.Scenario{customScenario},
	}

	if err := benchmark.SaveScenarioSet(customSet, "custom_scenarios.json"); err != nil {
		log.Fatal().Err(err).Msg("failed to save custom scenarios")
	}
	fmt.Printf("Saved %d custom scenarios\n", len(customSet.Scenarios))

	fmt.Println("All scenario files created successfully!")
}
