package workloads

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-gpuperf/device"
)

// ViewKind is how a kernel addresses its source.
type ViewKind int

const (
	ViewTyped ViewKind = iota
	ViewRaw
	ViewTexture
)

// Access is the binding of the source resource.
type Access string

const (
	AccessSRV Access = "SRV"
	AccessUAV Access = "UAV"
)

// Pattern is the address sequence a thread follows.
type Pattern string

const (
	// PatternInvariant reads the same address in every thread.
	PatternInvariant Pattern = "invariant"
	// PatternLinear reads consecutive addresses across threads.
	PatternLinear Pattern = "linear"
	// PatternRandom reads hashed addresses.
	PatternRandom Pattern = "random"
)

// Patterns lists the access patterns in benchmark order.
var Patterns = []Pattern{PatternInvariant, PatternLinear, PatternRandom}

// LoadKernel is a compute kernel that performs loads from one resource and
// accumulates them so they cannot be elided.
type LoadKernel struct {
	name    string
	view    ViewKind
	access  Access
	pattern Pattern
	format  Format
	width   int
	loads   int
	consts  LoadConstants

	typed  []float32
	raw    []uint32
	output []float32

	// sink keeps every accumulator observable.
	sink float32
}

// Name implements device.Kernel.
func (k *LoadKernel) Name() string {
	return k.name
}

// Sink returns the running sum of all accumulators.
func (k *LoadKernel) Sink() float32 {
	return k.sink
}

// Execute implements device.Kernel. It runs every thread of one group.
func (k *LoadKernel) Execute(group, groupSize device.Dim3) error {
	if !groupSize.Valid() {
		return errors.Errorf("workloads: %s: invalid group size %s", k.name, groupSize)
	}

	for lz := uint32(0); lz < groupSize.Z; lz++ {
		for ly := uint32(0); ly < groupSize.Y; ly++ {
			for lx := uint32(0); lx < groupSize.X; lx++ {
				htid := group.X*groupSize.X + lx
				acc := k.thread(htid)
				if htid == k.consts.WriteIndex {
					if err := k.store(htid, acc); err != nil {
						return err
					}
				}
				k.sink += acc
			}
		}
	}
	return nil
}

func (k *LoadKernel) thread(htid uint32) float32 {
	var acc float32
	for i := 0; i < k.loads; i++ {
		acc += k.load(k.address(htid, uint32(i)))
	}
	return acc
}

// address returns the element index of load i of thread htid.
func (k *LoadKernel) address(htid, i uint32) uint32 {
	var idx uint32
	switch k.pattern {
	case PatternInvariant:
		idx = i
	case PatternLinear:
		idx = htid + i
	default:
		idx = hash(htid*31 + i)
	}
	return idx | k.consts.ElementsMask
}

func (k *LoadKernel) load(idx uint32) float32 {
	switch k.view {
	case ViewRaw:
		words := uint32(len(k.raw))
		stride := uint32(k.width)
		first := k.consts.ReadStartAddress/4 + (idx*stride)%(words-stride-k.consts.ReadStartAddress/4)
		var v float32
		for j := uint32(0); j < stride; j++ {
			v += math32.Float32frombits(k.raw[first+j])
		}
		return v
	default:
		elements := uint32(len(k.typed) / k.width)
		base := (idx % elements) * uint32(k.width)
		var v float32
		for c := 0; c < k.width; c++ {
			v += k.typed[base+uint32(c)]
		}
		return v
	}
}

// store writes acc to the output buffer, or back into the source for UAV
// bindings of typed and texture views.
func (k *LoadKernel) store(htid uint32, acc float32) error {
	if k.access == AccessUAV && k.view != ViewRaw {
		elements := uint32(len(k.typed) / k.width)
		k.typed[(htid%elements)*uint32(k.width)] = k.format.Quantize(acc)
		return nil
	}
	if len(k.output) == 0 {
		return errors.Errorf("workloads: %s: no output buffer", k.name)
	}
	k.output[htid%uint32(len(k.output))] = acc
	return nil
}

// hash is a small integer mix used for random addresses.
func hash(x uint32) uint32 {
	x ^= x >> 16
	x *= 0x7feb352d
	x ^= x >> 15
	x *= 0x846ca68b
	x ^= x >> 16
	return x
}
