package device

import "fmt"

// Dim3 is a three dimensional extent used for thread and group counts.
type Dim3 struct {
	X uint32 `json:"x" yaml:"x" toml:"x"`
	Y uint32 `json:"y" yaml:"y" toml:"y"`
	Z uint32 `json:"z" yaml:"z" toml:"z"`
}

// NewDim3 creates a Dim3.
func NewDim3(x, y, z uint32) Dim3 {
	return Dim3{X: x, Y: y, Z: z}
}

// Count returns the number of elements covered by d.
func (d Dim3) Count() uint64 {
	return uint64(d.X) * uint64(d.Y) * uint64(d.Z)
}

// Groups returns how many groups of size are needed to cover d.
//
// Arguments:
//   - size: The thread group size. Zero components are treated as 1.
//
// Returns:
//   - Dim3: The group counts, rounded up per axis.
func (d Dim3) Groups(size Dim3) Dim3 {
	return Dim3{
		X: divUp(d.X, size.X),
		Y: divUp(d.Y, size.Y),
		Z: divUp(d.Z, size.Z),
	}
}

// Valid reports whether every component is non-zero.
func (d Dim3) Valid() bool {
	return d.X > 0 && d.Y > 0 && d.Z > 0
}

func (d Dim3) String() string {
	return fmt.Sprintf("%dx%dx%d", d.X, d.Y, d.Z)
}

func divUp(n, size uint32) uint32 {
	if size == 0 {
		size = 1
	}
	return n/size + min(n%size, 1)
}
