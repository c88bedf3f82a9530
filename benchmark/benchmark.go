package benchmark

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-gpuperf/config"
	"github.com/nvr-ai/go-gpuperf/profiler"
)

// Report is the final summary of a perftest run.
type Report struct {
	Name         string         `json:"name"          yaml:"name"`
	Timestamp    time.Time      `json:"timestamp"     yaml:"timestamp"`
	Backend      config.Backend `json:"backend"       yaml:"backend"`
	FrequencyHz  uint64         `json:"frequency_hz"  yaml:"frequency_hz"`
	Frames       int            `json:"frames"        yaml:"frames"`
	Uptime       time.Duration  `json:"uptime"        yaml:"uptime"`
	DeviceLosses int64          `json:"device_losses" yaml:"device_losses"`
	Labels       []LabelMetrics `json:"labels"        yaml:"labels"`
}

// NewReportArgs represents the arguments for creating a report.
type NewReportArgs struct {
	Name        string
	Backend     config.Backend
	FrequencyHz uint64
	Frames      int
	Snapshot    profiler.Snapshot
}

// NewReport builds a report from a profiler snapshot.
//
// Arguments:
//   - args: Run identification and the statistics to report.
//
// Returns:
//   - *Report: The report, labels in first-measured order.
func NewReport(args NewReportArgs) *Report {
	return &Report{
		Name:         args.Name,
		Timestamp:    time.Now(),
		Backend:      args.Backend,
		FrequencyHz:  args.FrequencyHz,
		Frames:       args.Frames,
		Uptime:       args.Snapshot.Uptime,
		DeviceLosses: args.Snapshot.DeviceLosts,
		Labels:       LabelMetricsFrom(args.Snapshot.Labels),
	}
}

// Label returns the metrics of one label.
func (r *Report) Label(label string) (LabelMetrics, bool) {
	for _, l := range r.Labels {
		if l.Label == label {
			return l, true
		}
	}
	return LabelMetrics{}, false
}

// Save writes the report as JSON, or YAML for .yaml and .yml paths.
func (r *Report) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "creating directory %s", dir)
		}
	}

	data, err := marshal(r, path)
	if err != nil {
		return errors.Wrap(err, "marshalling report")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "writing report %s", path)
	}
	return nil
}

// LoadReport reads a report written by Save.
func LoadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading report %s", path)
	}

	var r Report
	if isYAML(path) {
		err = yaml.Unmarshal(data, &r)
	} else {
		err = json.Unmarshal(data, &r)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "parsing report %s", path)
	}
	return &r, nil
}
