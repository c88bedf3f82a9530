package benchmark

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-gpuperf/config"
	"github.com/nvr-ai/go-gpuperf/device"
	"github.com/nvr-ai/go-gpuperf/perfquery"
	"github.com/nvr-ai/go-gpuperf/workloads"
)

// ViewGroup selects workloads by how they address their source.
type ViewGroup string

const (
	ViewTyped   ViewGroup = "typed"
	ViewRaw     ViewGroup = "raw"
	ViewTexture ViewGroup = "texture"
)

// ViewGroups lists the groups in catalog order.
var ViewGroups = []ViewGroup{ViewTyped, ViewRaw, ViewTexture}

// Filter returns the label expression matching the group's workloads that
// follow pattern. An empty pattern matches every pattern.
func (v ViewGroup) Filter(pattern workloads.Pattern) string {
	p := `\S+`
	if pattern != "" {
		p = string(pattern)
	}
	switch v {
	case ViewTyped:
		return `^Load [A-Z]\S* (SRV|UAV) ` + p + `$`
	case ViewRaw:
		return `^Load\d raw32 (SRV|UAV) (unaligned )?` + p + `$`
	case ViewTexture:
		return `^Tex2D load \S+ (SRV|UAV) ` + p + `$`
	default:
		return `^$`
	}
}

// Scenario is one benchmark configuration run on a fresh device.
type Scenario struct {
	Name string `json:"name" yaml:"name"`
	// Backend overrides the suite's device backend when set.
	Backend config.Backend `json:"backend,omitempty" yaml:"backend,omitempty"`
	// Filter is a regular expression over workload labels.
	Filter        string            `json:"filter"         yaml:"filter"`
	Frames        int               `json:"frames"         yaml:"frames"`
	WarmupFrames  int               `json:"warmup_frames"  yaml:"warmup_frames"`
	FrameInterval time.Duration     `json:"frame_interval" yaml:"frame_interval"`
	Query         perfquery.Config  `json:"query"          yaml:"query"`
	Workloads     workloads.Options `json:"workloads"      yaml:"workloads"`
}

// ScenarioBuilder helps build test scenarios with fluent API
type ScenarioBuilder struct {
	scenario Scenario
}

// NewScenarioBuilder creates a new scenario builder
func NewScenarioBuilder(name string) *ScenarioBuilder {
	return &ScenarioBuilder{
		scenario: Scenario{
			Name:         name,
			Frames:       100,
			WarmupFrames: 10,
			Query:        perfquery.DefaultConfig(),
			Workloads:    workloads.DefaultOptions(),
		},
	}
}

// WithBackend sets the device backend
func (sb *ScenarioBuilder) WithBackend(backend config.Backend) *ScenarioBuilder {
	sb.scenario.Backend = backend
	return sb
}

// WithFilter sets the workload label expression
func (sb *ScenarioBuilder) WithFilter(filter string) *ScenarioBuilder {
	sb.scenario.Filter = filter
	return sb
}

// WithFrames sets the number of measured frames
func (sb *ScenarioBuilder) WithFrames(frames int) *ScenarioBuilder {
	sb.scenario.Frames = frames
	return sb
}

// WithWarmupFrames sets the number of frames run before measuring
func (sb *ScenarioBuilder) WithWarmupFrames(frames int) *ScenarioBuilder {
	sb.scenario.WarmupFrames = frames
	return sb
}

// WithFrameInterval sets the minimum time between frames
func (sb *ScenarioBuilder) WithFrameInterval(d time.Duration) *ScenarioBuilder {
	sb.scenario.FrameInterval = d
	return sb
}

// WithDispatch sets the dispatch and thread group sizes
func (sb *ScenarioBuilder) WithDispatch(threads, groupSize device.Dim3) *ScenarioBuilder {
	sb.scenario.Workloads.Threads = threads
	sb.scenario.Workloads.GroupSize = groupSize
	return sb
}

// WithLoadsPerThread sets the loads each thread issues
func (sb *ScenarioBuilder) WithLoadsPerThread(loads int) *ScenarioBuilder {
	sb.scenario.Workloads.LoadsPerThread = loads
	return sb
}

// WithAdditionalTypedUAVFormats enables UAV loads for every format
func (sb *ScenarioBuilder) WithAdditionalTypedUAVFormats() *ScenarioBuilder {
	sb.scenario.Workloads.AdditionalTypedUAVFormats = true
	return sb
}

// WithQueryPool sets the timer pool capacity and exhaustion policy
func (sb *ScenarioBuilder) WithQueryPool(capacity int, policy perfquery.ExhaustionPolicy) *ScenarioBuilder {
	sb.scenario.Query.PoolCapacity = capacity
	sb.scenario.Query.ExhaustionPolicy = policy
	return sb
}

// Build returns the configured test scenario
func (sb *ScenarioBuilder) Build() Scenario {
	return sb.scenario
}

// ScenarioSet represents a collection of related test scenarios
type ScenarioSet struct {
	Name        string     `json:"name"        yaml:"name"`
	Description string     `json:"description" yaml:"description"`
	Scenarios   []Scenario `json:"scenarios"   yaml:"scenarios"`
}

// PredefinedScenarios contains common benchmark scenario sets
type PredefinedScenarios struct{}

// GetQuickScenarios returns one short scenario per view group, reading the
// same address from every thread.
func (ps *PredefinedScenarios) GetQuickScenarios(backend config.Backend) *ScenarioSet {
	scenarios := make([]Scenario, 0, len(ViewGroups))
	for _, view := range ViewGroups {
		scenarios = append(scenarios, NewScenarioBuilder(fmt.Sprintf("quick_%s", view)).
			WithBackend(backend).
			WithFilter(view.Filter(workloads.PatternInvariant)).
			WithFrames(20).
			WithWarmupFrames(2).
			Build())
	}

	return &ScenarioSet{
		Name:        "Quick Performance Test",
		Description: "Invariant loads for each view group",
		Scenarios:   scenarios,
	}
}

// GetComprehensiveScenarios returns every view group and pattern on every backend
func (ps *PredefinedScenarios) GetComprehensiveScenarios(backends []config.Backend) *ScenarioSet {
	scenarios := make([]Scenario, 0, len(backends)*len(ViewGroups)*len(workloads.Patterns))
	for _, backend := range backends {
		for _, view := range ViewGroups {
			for _, pattern := range workloads.Patterns {
				scenarios = append(scenarios, NewScenarioBuilder(fmt.Sprintf("%s_%s_%s", backend, view, pattern)).
					WithBackend(backend).
					WithFilter(view.Filter(pattern)).
					WithAdditionalTypedUAVFormats().
					Build())
			}
		}
	}

	return &ScenarioSet{
		Name:        "Comprehensive Performance Test",
		Description: "Tests all combinations of backends, view groups and access patterns",
		Scenarios:   scenarios,
	}
}

// GetPatternComparisonScenarios compares access patterns within one view group
func (ps *PredefinedScenarios) GetPatternComparisonScenarios(view ViewGroup) *ScenarioSet {
	scenarios := make([]Scenario, 0, len(workloads.Patterns))
	for _, pattern := range workloads.Patterns {
		scenarios = append(scenarios, NewScenarioBuilder(fmt.Sprintf("pattern_%s_%s", view, pattern)).
			WithFilter(view.Filter(pattern)).
			Build())
	}

	return &ScenarioSet{
		Name:        fmt.Sprintf("Pattern Comparison - %s", view),
		Description: fmt.Sprintf("Compares invariant, linear and random addressing for %s loads", view),
		Scenarios:   scenarios,
	}
}

// GetPolicyComparisonScenarios runs the full catalog through a pool smaller
// than one frame under each exhaustion policy.
func (ps *PredefinedScenarios) GetPolicyComparisonScenarios(capacity int) *ScenarioSet {
	policies := []perfquery.ExhaustionPolicy{perfquery.PolicyReject, perfquery.PolicyStall}
	scenarios := make([]Scenario, 0, len(policies))
	for _, policy := range policies {
		scenarios = append(scenarios, NewScenarioBuilder(fmt.Sprintf("policy_%s_%d", policy, capacity)).
			WithQueryPool(capacity, policy).
			WithFrames(20).
			Build())
	}

	return &ScenarioSet{
		Name:        fmt.Sprintf("Exhaustion Policy Comparison @ %d timers", capacity),
		Description: "Compares dropped measurements against stalled frames when the timer pool runs out",
		Scenarios:   scenarios,
	}
}

// GetBackendComparisonScenarios compares device backends on the same workloads
func (ps *PredefinedScenarios) GetBackendComparisonScenarios(filter string) *ScenarioSet {
	backends := []config.Backend{config.BackendSim, config.BackendCPU}
	scenarios := make([]Scenario, 0, len(backends))
	for _, backend := range backends {
		scenarios = append(scenarios, NewScenarioBuilder(fmt.Sprintf("backend_%s", backend)).
			WithBackend(backend).
			WithFilter(filter).
			Build())
	}

	return &ScenarioSet{
		Name:        "Backend Comparison",
		Description: fmt.Sprintf("Compares device backends on workloads matching %q", filter),
		Scenarios:   scenarios,
	}
}

// SaveScenarioSet saves a scenario set as JSON, or YAML for .yaml and .yml paths
func SaveScenarioSet(scenarioSet *ScenarioSet, filename string) error {
	data, err := marshal(scenarioSet, filename)
	if err != nil {
		return errors.Wrap(err, "failed to marshal scenario set")
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write scenario file")
	}

	return nil
}

// LoadScenarioSet loads a scenario set written by SaveScenarioSet
func LoadScenarioSet(filename string) (*ScenarioSet, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read scenario file")
	}

	var scenarioSet ScenarioSet
	if isYAML(filename) {
		err = yaml.Unmarshal(data, &scenarioSet)
	} else {
		err = json.Unmarshal(data, &scenarioSet)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal scenario set")
	}

	return &scenarioSet, nil
}

func isYAML(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func marshal(v any, filename string) ([]byte, error) {
	if isYAML(filename) {
		return yaml.Marshal(v)
	}
	return json.MarshalIndent(v, "", "  ")
}
