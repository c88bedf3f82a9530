// Package perfquery - Non-blocking GPU timestamp queries.
//
// A Manager brackets GPU work with start and end timestamp writes and later
// reports the elapsed time for each label without stalling the CPU or the
// GPU. Measurements are drained strictly in the order Start was called, which
// is also the order a single in-order queue completes them.
//
//	m, err := perfquery.New(dev, perfquery.DefaultConfig())
//	h, err := m.Start("Load R8 SRV invariant")
//	// ... dispatch ...
//	err = m.End(h)
//	// once per frame:
//	err = m.Process(func(ms float64, label string) { fmt.Printf("%s: %.3fms\n", label, ms) })
package perfquery

import (
	"sync"
	"time"

	"github.com/phuslu/log"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-gpuperf/device"
)

const (
	stallBackoffMin = 50 * time.Microsecond
	stallBackoffMax = time.Millisecond
)

// Option configures a Manager.
type Option func(*Manager)

// WithObserver registers an observer for resolved, dropped and lost events.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// WithLogger sets the logger used for warnings (default: log.DefaultLogger).
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// Manager owns the timer pool and the ledger of in-flight measurements.
//
// All methods are safe for concurrent use, but measurements from different
// goroutines are still ordered by whoever acquires the lock first; callers
// that submit from several goroutines must agree on one queue order.
type Manager struct {
	mu sync.Mutex

	cfg    Config
	dev    device.Device
	freq   Frequency
	pool   *TimerPool
	ledger *ledger
	seq    uint64
	lost   bool

	// ready holds resolved results not yet handed to a callback.
	ready []Result

	observer Observer
	logger   *log.Logger

	now   func() time.Time
	sleep func(time.Duration)
}

// New creates a manager for dev.
//
// Arguments:
//   - dev: The device whose command stream receives timestamp writes.
//   - cfg: Pool size and exhaustion policy.
//   - opts: Optional observer and logger.
//
// Returns:
//   - *Manager: A calibrated manager with every slot free.
//   - error: ErrInvalidConfig, ErrCalibrationFailed, ErrDeviceLost or a
//     query creation error.
func New(dev device.Device, cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:      cfg,
		observer: nopObserver{},
		logger:   &log.DefaultLogger,
		now:      time.Now,
		sleep:    time.Sleep,
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := m.attach(dev); err != nil {
		return nil, err
	}
	return m, nil
}

// attach calibrates against dev and builds a fresh pool and ledger.
func (m *Manager) attach(dev device.Device) error {
	freq, err := Calibrate(dev)
	if err != nil {
		return err
	}
	pool, err := NewTimerPool(dev, m.cfg.PoolCapacity)
	if err != nil {
		return errors.Wrap(err, "perfquery: creating timer pool")
	}

	m.dev = dev
	m.freq = freq
	m.pool = pool
	m.ledger = newLedger(m.cfg.PoolCapacity)
	m.ready = nil
	m.lost = false
	m.observer.InFlight(0)

	m.logger.Debug().
		Uint64("frequency_hz", freq.Hz()).
		Int("pool_capacity", pool.Capacity()).
		Str("exhaustion_policy", string(m.cfg.ExhaustionPolicy)).
		Msg("performance queries calibrated")
	return nil
}

// Start begins a measurement labelled label by writing a start timestamp at
// the current position of the command stream.
//
// Returns:
//   - QueryHandle: The handle to pass to End.
//   - error: ErrPoolExhausted if no slot could be obtained, ErrDeviceLost, or
//     a device error from the timestamp write.
func (m *Manager) Start(label string) (QueryHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lost {
		return QueryHandle{}, ErrDeviceLost
	}

	idx, err := m.pool.Acquire()
	if err != nil && m.cfg.ExhaustionPolicy == PolicyStall {
		idx, err = m.stall()
	}
	if err != nil {
		if errors.Is(err, ErrPoolExhausted) {
			m.observer.Dropped(label)
			m.logger.Warn().
				Str("label", label).
				Int("capacity", m.pool.Capacity()).
				Str("policy", string(m.cfg.ExhaustionPolicy)).
				Msg("timer pool exhausted, measurement dropped")
		}
		return QueryHandle{}, err
	}

	start, _ := m.pool.Queries(idx)
	if err := m.dev.WriteTimestamp(start); err != nil {
		if errors.Is(err, device.ErrDeviceLost) {
			m.markLost(err)
			return QueryHandle{}, err
		}
		_ = m.pool.Release(idx)
		return QueryHandle{}, errors.Wrapf(err, "perfquery: start timestamp for %q", label)
	}

	m.seq++
	r := &record{
		label:      label,
		slot:       idx,
		generation: m.pool.Generation(idx),
		state:      StateStarted,
		seq:        m.seq,
	}
	m.ledger.push(r)
	m.observer.InFlight(m.ledger.size())

	return newHandle(r.slot, r.generation), nil
}

// End finishes the measurement identified by h by writing its end timestamp.
//
// Calling End with a handle that is zero, stale, unknown or already ended
// returns ErrUnmatchedEnd. That is a broken start/end contract in the caller
// and should abort the caller's path.
func (m *Manager) End(h QueryHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lost {
		return ErrDeviceLost
	}

	r, ok := m.ledger.lookup(h)
	if !ok || r.state != StateStarted {
		m.logger.Error().Str("handle", h.String()).Msg("end without matching start")
		return errors.Wrapf(ErrUnmatchedEnd, "%s", h)
	}

	_, end := m.pool.Queries(r.slot)
	if err := m.dev.WriteTimestamp(end); err != nil {
		if errors.Is(err, device.ErrDeviceLost) {
			m.markLost(err)
			return err
		}
		r.state = StateDiscarded
		return errors.Wrapf(err, "perfquery: end timestamp for %q", r.label)
	}
	r.state = StateEnded
	return nil
}

// Discard abandons the measurement identified by h. It will never be
// reported, and its slot is recycled when it reaches the front of the ledger.
func (m *Manager) Discard(h QueryHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lost {
		return ErrDeviceLost
	}

	r, ok := m.ledger.lookup(h)
	if !ok || (r.state != StateStarted && r.state != StateEnded) {
		return errors.Wrapf(ErrUnmatchedEnd, "discard %s", h)
	}
	r.state = StateDiscarded
	return nil
}

// Process reports every measurement that has completed on the GPU, oldest
// first, and recycles their slots. It never waits for the GPU: draining
// stops at the first measurement that is not yet ended or whose timestamps
// are not yet available. fn is called outside the manager lock.
//
// Returns:
//   - error: ErrDeviceLost (wrapped) if the device was lost. Every pending
//     measurement has then been discarded and Reset must be called.
func (m *Manager) Process(fn ResultFunc) error {
	m.mu.Lock()
	var err error
	if !m.lost {
		err = m.drain()
	}
	results := m.ready
	m.ready = nil
	m.mu.Unlock()

	if fn != nil {
		for _, r := range results {
			fn(r.Millis, r.Label)
		}
	}
	return err
}

// Collect is Process returning the results as a slice.
func (m *Manager) Collect() ([]Result, error) {
	var results []Result
	err := m.Process(func(ms float64, label string) {
		results = append(results, Result{Label: label, Millis: ms})
	})
	return results, err
}

// Reset discards all state and re-attaches to dev, which is usually the
// recreated device after a loss. The frequency is calibrated again.
func (m *Manager) Reset(dev device.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ledger.size() > 0 {
		m.logger.Info().Int("discarded", m.ledger.size()).Msg("discarding pending measurements")
	}
	m.ledger.reset()
	m.pool.Invalidate()
	m.ready = nil
	m.lost = true

	return m.attach(dev)
}

// InFlight returns the number of undrained measurements.
func (m *Manager) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.size()
}

// Capacity returns the timer pool capacity.
func (m *Manager) Capacity() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pool.Capacity()
}

// Frequency returns the calibrated counter rate.
func (m *Manager) Frequency() Frequency {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.freq
}

// Lost reports whether the device was lost and Reset has not yet succeeded.
func (m *Manager) Lost() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lost
}

// drain retires records from the front until one is not ready.
func (m *Manager) drain() error {
	defer func() { m.observer.InFlight(m.ledger.size()) }()

	for {
		retired, err := m.retireFront()
		if err != nil {
			return err
		}
		if !retired {
			return nil
		}
	}
}

// retireFront resolves or drops the oldest record if it is ready.
func (m *Manager) retireFront() (bool, error) {
	r := m.ledger.front()
	if r == nil {
		return false, nil
	}

	switch r.state {
	case StateDiscarded:
		m.retire(r)
		return true, nil
	case StateEnded:
	default:
		// Started records have no end timestamp to poll yet.
		return false, nil
	}

	ms, ok, err := m.poll(r)
	if err != nil {
		if errors.Is(err, device.ErrDeviceLost) {
			m.markLost(err)
		}
		return false, errors.Wrap(err, "perfquery: polling timestamps")
	}
	if !ok {
		return false, nil
	}

	r.state = StateResolved
	m.retire(r)
	m.ready = append(m.ready, Result{Label: r.label, Millis: ms})
	m.observer.Resolved(r.label, ms)
	return true, nil
}

// poll reads both timestamps of r without blocking.
func (m *Manager) poll(r *record) (float64, bool, error) {
	start, end := m.pool.Queries(r.slot)

	endTicks, ok, err := m.dev.ReadTimestamp(end)
	if err != nil || !ok {
		return 0, false, err
	}
	startTicks, ok, err := m.dev.ReadTimestamp(start)
	if err != nil || !ok {
		return 0, false, err
	}
	return m.freq.Millis(startTicks, endTicks), true, nil
}

// retire pops r from the ledger and frees its slot.
func (m *Manager) retire(r *record) {
	m.ledger.pop()
	if err := m.pool.Release(r.slot); err != nil {
		m.logger.Error().Err(err).Str("label", r.label).Msg("timer pool out of sync with ledger")
	}
}

// stall waits for the oldest measurement to resolve so its slot can be
// reused. It is bounded by the configured stall timeout.
func (m *Manager) stall() (int, error) {
	deadline := m.now().Add(m.cfg.StallTimeout)
	backoff := stallBackoffMin

	for {
		front := m.ledger.front()
		if front == nil {
			return -1, ErrPoolExhausted
		}
		if front.state == StateStarted {
			return -1, errors.Wrapf(ErrPoolExhausted, "oldest measurement %q has not ended", front.label)
		}

		retired, err := m.retireFront()
		if err != nil {
			return -1, err
		}
		if retired {
			if idx, err := m.pool.Acquire(); err == nil {
				return idx, nil
			}
			continue
		}

		if !m.now().Before(deadline) {
			return -1, errors.Wrapf(ErrPoolExhausted, "stalled %s waiting for %q", m.cfg.StallTimeout, front.label)
		}
		m.sleep(backoff)
		if backoff *= 2; backoff > stallBackoffMax {
			backoff = stallBackoffMax
		}
	}
}

// markLost discards every pending measurement as a batch.
func (m *Manager) markLost(cause error) {
	if m.lost {
		return
	}
	discarded := m.ledger.size()
	m.lost = true
	m.ledger.reset()
	m.pool.Invalidate()
	m.observer.DeviceLost()
	m.observer.InFlight(0)

	m.logger.Error().
		Err(cause).
		Int("discarded", discarded).
		Msg("device lost, pending measurements discarded")
}
