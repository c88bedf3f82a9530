package perfquery

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-gpuperf/device"
)

// slot is one reusable pair of timestamp queries.
type slot struct {
	start      device.Timestamp
	end        device.Timestamp
	inUse      bool
	generation uint32
}

// TimerPool is a fixed set of start/end timestamp pairs. It is not safe for
// concurrent use; the Manager serialises access.
type TimerPool struct {
	slots []slot
	free  []int
}

// NewTimerPool creates capacity slots, each with two timestamp queries on dev.
//
// Arguments:
//   - dev: The device that owns the timestamp queries.
//   - capacity: The number of concurrently in-flight measurements supported.
//
// Returns:
//   - *TimerPool: A pool with every slot free.
//   - error: An error if a timestamp query could not be created.
func NewTimerPool(dev device.Device, capacity int) (*TimerPool, error) {
	if capacity <= 0 {
		return nil, errors.Wrapf(ErrInvalidConfig, "pool capacity must be positive, got %d", capacity)
	}

	p := &TimerPool{
		slots: make([]slot, capacity),
		free:  make([]int, 0, capacity),
	}
	for i := range p.slots {
		start, err := dev.NewTimestamp()
		if err != nil {
			return nil, errors.Wrapf(err, "creating start query %d", i)
		}
		end, err := dev.NewTimestamp()
		if err != nil {
			return nil, errors.Wrapf(err, "creating end query %d", i)
		}
		p.slots[i] = slot{start: start, end: end, generation: 1}
	}
	// Lowest index on top of the stack.
	for i := capacity - 1; i >= 0; i-- {
		p.free = append(p.free, i)
	}
	return p, nil
}

// Acquire takes a free slot. It never blocks.
func (p *TimerPool) Acquire() (int, error) {
	n := len(p.free)
	if n == 0 {
		return -1, ErrPoolExhausted
	}
	idx := p.free[n-1]
	p.free = p.free[:n-1]
	p.slots[idx].inUse = true
	return idx, nil
}

// Release returns a slot to the free set and advances its generation so
// handles that referenced the old use become stale.
func (p *TimerPool) Release(idx int) error {
	if idx < 0 || idx >= len(p.slots) {
		return errors.Errorf("perfquery: release of slot %d out of range", idx)
	}
	s := &p.slots[idx]
	if !s.inUse {
		return errors.Errorf("perfquery: release of free slot %d", idx)
	}
	s.inUse = false
	s.generation++
	p.free = append(p.free, idx)
	return nil
}

// Invalidate frees every slot at once, as after device loss.
func (p *TimerPool) Invalidate() {
	p.free = p.free[:0]
	for i := len(p.slots) - 1; i >= 0; i-- {
		p.slots[i].inUse = false
		p.slots[i].generation++
		p.free = append(p.free, i)
	}
}

// Capacity returns the number of slots.
func (p *TimerPool) Capacity() int {
	return len(p.slots)
}

// InUse returns the number of allocated slots.
func (p *TimerPool) InUse() int {
	return len(p.slots) - len(p.free)
}

// Generation returns the current generation of a slot.
func (p *TimerPool) Generation(idx int) uint32 {
	return p.slots[idx].generation
}

// Queries returns the start and end timestamp queries of a slot.
func (p *TimerPool) Queries(idx int) (start, end device.Timestamp) {
	s := &p.slots[idx]
	return s.start, s.end
}
