package workloads

import (
	"fmt"
	"regexp"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-gpuperf/device"
)

// Workload is one labelled dispatch.
type Workload struct {
	Label     string
	Kernel    device.Kernel
	Threads   device.Dim3
	GroupSize device.Dim3
}

// Options controls the generated workload set.
type Options struct {
	// Threads is the dispatch size (default: 1024x1024x1).
	Threads device.Dim3 `json:"threads" yaml:"threads" toml:"threads"`
	// GroupSize is the thread group size (default: 256x1x1).
	GroupSize device.Dim3 `json:"group_size" yaml:"group_size" toml:"group_size"`
	// LoadsPerThread is the number of loads each thread issues (default: 16).
	LoadsPerThread int `json:"loads_per_thread" yaml:"loads_per_thread" toml:"loads_per_thread"`
	// AdditionalTypedUAVFormats adds typed and texture UAV loads for formats
	// other than R32F.
	AdditionalTypedUAVFormats bool `json:"additional_typed_uav_formats" yaml:"additional_typed_uav_formats" toml:"additional_typed_uav_formats"`
}

// DefaultOptions returns the dispatch shape of the classic benchmark.
func DefaultOptions() Options {
	return Options{
		Threads:        device.NewDim3(1024, 1024, 1),
		GroupSize:      device.NewDim3(256, 1, 1),
		LoadsPerThread: 16,
	}
}

// Catalog builds every workload in benchmark order.
//
// Arguments:
//   - res: The shared resources the kernels read.
//   - opts: The dispatch shape and optional formats.
//
// Returns:
//   - []Workload: The workloads, labelled like "Load RGBA8 SRV random".
//   - error: An error if opts is invalid.
func Catalog(res *Resources, opts Options) ([]Workload, error) {
	if res == nil {
		return nil, errors.New("workloads: nil resources")
	}
	if !opts.Threads.Valid() || !opts.GroupSize.Valid() {
		return nil, errors.Errorf("workloads: invalid dispatch %s / %s", opts.Threads, opts.GroupSize)
	}
	if opts.LoadsPerThread <= 0 {
		return nil, errors.Errorf("workloads: loads_per_thread must be positive, got %d", opts.LoadsPerThread)
	}

	c := catalog{res: res, opts: opts}

	for _, access := range []Access{AccessSRV, AccessUAV} {
		for _, f := range c.formats(access) {
			for _, p := range Patterns {
				c.add(fmt.Sprintf("Load %s %s %s", f.BufferName(), access, p),
					ViewTyped, access, p, f, float32s(res.Typed[f]))
			}
		}
	}

	for _, access := range []Access{AccessSRV, AccessUAV} {
		for width := 1; width <= 4; width++ {
			for _, p := range Patterns {
				c.addRaw(fmt.Sprintf("Load%d raw32 %s %s", width, access, p), access, p, width, AlignedConstants())
			}
		}
		for _, width := range []int{2, 4} {
			for _, p := range Patterns {
				c.addRaw(fmt.Sprintf("Load%d raw32 %s unaligned %s", width, access, p), access, p, width, UnalignedConstants())
			}
		}
	}

	for _, access := range []Access{AccessSRV, AccessUAV} {
		for _, f := range c.formats(access) {
			for _, p := range Patterns {
				c.add(fmt.Sprintf("Tex2D load %s %s %s", f, access, p),
					ViewTexture, access, p, f, float32s(res.Textures[f]))
			}
		}
	}

	return c.out, nil
}

type catalog struct {
	res  *Resources
	opts Options
	out  []Workload
}

// formats returns the formats that can be bound with access. Typed UAV loads
// are only guaranteed for R32F.
func (c *catalog) formats(access Access) []Format {
	if access == AccessSRV || c.opts.AdditionalTypedUAVFormats {
		return Formats
	}
	return []Format{FormatR32F}
}

func (c *catalog) add(label string, view ViewKind, access Access, p Pattern, f Format, src []float32) {
	c.push(&LoadKernel{
		name:    label,
		view:    view,
		access:  access,
		pattern: p,
		format:  f,
		width:   f.Channels(),
		loads:   c.opts.LoadsPerThread,
		consts:  AlignedConstants(),
		typed:   src,
		output:  float32s(c.res.Output),
	})
}

func (c *catalog) addRaw(label string, access Access, p Pattern, width int, consts LoadConstants) {
	c.push(&LoadKernel{
		name:    label,
		view:    ViewRaw,
		access:  access,
		pattern: p,
		format:  FormatR32F,
		width:   width,
		loads:   c.opts.LoadsPerThread,
		consts:  consts,
		raw:     uint32s(c.res.Raw),
		output:  float32s(c.res.Output),
	})
}

func (c *catalog) push(k *LoadKernel) {
	c.out = append(c.out, Workload{
		Label:     k.name,
		Kernel:    k,
		Threads:   c.opts.Threads,
		GroupSize: c.opts.GroupSize,
	})
}

// Filter returns the workloads whose label matches pattern. An empty pattern
// keeps everything.
func Filter(ws []Workload, pattern string) ([]Workload, error) {
	if pattern == "" {
		return ws, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "workloads: invalid filter %q", pattern)
	}
	out := make([]Workload, 0, len(ws))
	for _, w := range ws {
		if re.MatchString(w.Label) {
			out = append(out, w)
		}
	}
	return out, nil
}

// Labels returns the labels of ws in order.
func Labels(ws []Workload) []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.Label
	}
	return out
}
