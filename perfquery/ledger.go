package perfquery

import "fmt"

// State is the lifecycle stage of a measurement.
type State uint8

const (
	// StateStarted means the start timestamp write has been issued.
	StateStarted State = iota + 1
	// StateEnded means the end timestamp write has been issued.
	StateEnded
	// StateResolved means both timestamps were read and reported.
	StateResolved
	// StateDiscarded means the measurement was abandoned and will not be reported.
	StateDiscarded
)

func (s State) String() string {
	switch s {
	case StateStarted:
		return "started"
	case StateEnded:
		return "ended"
	case StateResolved:
		return "resolved"
	case StateDiscarded:
		return "discarded"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// record is one in-flight measurement.
type record struct {
	label      string
	slot       int
	generation uint32
	state      State
	seq        uint64
}

// ledger holds undrained records in submission order. Records leave only
// from the front.
type ledger struct {
	queue  []*record
	head   int
	bySlot map[int]*record
}

func newLedger(capacity int) *ledger {
	return &ledger{
		queue:  make([]*record, 0, capacity),
		bySlot: make(map[int]*record, capacity),
	}
}

// push appends r at the tail.
func (l *ledger) push(r *record) {
	l.queue = append(l.queue, r)
	l.bySlot[r.slot] = r
}

// front returns the oldest record, or nil when empty.
func (l *ledger) front() *record {
	if l.head >= len(l.queue) {
		return nil
	}
	return l.queue[l.head]
}

// pop removes the oldest record.
func (l *ledger) pop() *record {
	r := l.front()
	if r == nil {
		return nil
	}
	l.queue[l.head] = nil
	l.head++
	delete(l.bySlot, r.slot)

	// Compact once the consumed prefix dominates.
	if l.head > 64 && l.head*2 >= len(l.queue) {
		n := copy(l.queue, l.queue[l.head:])
		clear(l.queue[n:])
		l.queue = l.queue[:n]
		l.head = 0
	}
	return r
}

// lookup finds the live record for a handle.
func (l *ledger) lookup(h QueryHandle) (*record, bool) {
	if !h.Valid() {
		return nil, false
	}
	r, ok := l.bySlot[h.slot()]
	if !ok || r.generation != h.generation {
		return nil, false
	}
	return r, true
}

// size returns the number of undrained records.
func (l *ledger) size() int {
	return len(l.queue) - l.head
}

// reset drops every record.
func (l *ledger) reset() {
	clear(l.queue)
	l.queue = l.queue[:0]
	l.head = 0
	clear(l.bySlot)
}
