// Package workloads - Memory load benchmarks measured by the performance
// query manager.
//
// Each workload reads a source buffer or texture through one kind of view
// (typed, raw byte-address or 2D texture), bound either as a shader resource
// (SRV) or an unordered access view (UAV), with one access pattern. The set
// and the labels follow the classic "PerfTest" buffer load matrix.
package workloads

import (
	"fmt"

	"github.com/chewxy/math32"
)

// Format is the element format of a typed view or texture.
type Format int

const (
	FormatR8 Format = iota
	FormatRG8
	FormatRGBA8
	FormatR16F
	FormatRG16F
	FormatRGBA16F
	FormatR32F
	FormatRG32F
	FormatRGBA32F
)

// Formats lists every format in benchmark order.
var Formats = []Format{
	FormatR8, FormatRG8, FormatRGBA8,
	FormatR16F, FormatRG16F, FormatRGBA16F,
	FormatR32F, FormatRG32F, FormatRGBA32F,
}

type formatInfo struct {
	name     string
	channels int
	bits     int
}

var formatTable = map[Format]formatInfo{
	FormatR8:      {"R8", 1, 8},
	FormatRG8:     {"RG8", 2, 8},
	FormatRGBA8:   {"RGBA8", 4, 8},
	FormatR16F:    {"R16F", 1, 16},
	FormatRG16F:   {"RG16F", 2, 16},
	FormatRGBA16F: {"RGBA16F", 4, 16},
	FormatR32F:    {"R32F", 1, 32},
	FormatRG32F:   {"RG32F", 2, 32},
	FormatRGBA32F: {"RGBA32F", 4, 32},
}

// String returns the texture spelling of the format, e.g. "RGBA16F".
func (f Format) String() string {
	if info, ok := formatTable[f]; ok {
		return info.name
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// BufferName returns the typed buffer spelling, e.g. "RGBA16f".
func (f Format) BufferName() string {
	info, ok := formatTable[f]
	if !ok {
		return f.String()
	}
	if info.bits == 8 {
		return info.name
	}
	return info.name[:len(info.name)-1] + "f"
}

// Channels returns the number of components per element.
func (f Format) Channels() int {
	return formatTable[f].channels
}

// Bits returns the number of bits per component.
func (f Format) Bits() int {
	return formatTable[f].bits
}

// Quantize rounds v to the precision the format stores. 8-bit formats are
// unsigned normalised, 16-bit formats are half floats.
func (f Format) Quantize(v float32) float32 {
	switch f.Bits() {
	case 8:
		if v <= 0 {
			return 0
		}
		if v >= 1 {
			return 1
		}
		return math32.Floor(v*255+0.5) / 255
	case 16:
		return toHalfPrecision(v)
	default:
		return v
	}
}

// toHalfPrecision drops the mantissa bits a binary16 value cannot hold and
// clamps to the half float range.
func toHalfPrecision(v float32) float32 {
	const maxHalf = 65504
	if math32.IsNaN(v) {
		return v
	}
	if v > maxHalf {
		return maxHalf
	}
	if v < -maxHalf {
		return -maxHalf
	}
	bits := math32.Float32bits(v)
	bits += 0x00000fff + (bits>>13)&1
	bits &^= 0x00001fff
	return math32.Float32frombits(bits)
}
