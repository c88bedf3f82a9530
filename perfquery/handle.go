package perfquery

import "fmt"

// QueryHandle identifies one in-flight measurement. It is a slot index plus
// the slot's generation, so a handle kept past its measurement's lifetime is
// detected instead of aliasing a newer measurement. The zero value is never
// valid.
type QueryHandle struct {
	index      uint32
	generation uint32
}

// Valid reports whether h was produced by Start. It does not mean the
// measurement is still live.
func (h QueryHandle) Valid() bool {
	return h.index != 0
}

func (h QueryHandle) slot() int {
	return int(h.index) - 1
}

func (h QueryHandle) String() string {
	if !h.Valid() {
		return "query(invalid)"
	}
	return fmt.Sprintf("query(%d#%d)", h.slot(), h.generation)
}

func newHandle(slot int, generation uint32) QueryHandle {
	return QueryHandle{index: uint32(slot) + 1, generation: generation}
}
