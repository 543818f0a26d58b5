// Package concurrency bounds the number of in-flight analyzer calls and adapts
// that bound to observed call latency and process memory.
package concurrency

import (
	"container/list"
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/alg/stats"
)

// Auto-scaling defaults.
const (
	// DefaultBaselineSamples is the number of samples averaged into the latency baseline.
	DefaultBaselineSamples = 3

	// DefaultLatencyFactor is the baseline multiple above which a sample counts as degraded.
	DefaultLatencyFactor = 2.0

	// maxDefaultSlots caps DefaultMaxSlots on large machines; local inference
	// backends rarely sustain more parallel requests than this.
	maxDefaultSlots = 4

	// minSlots is the floor for both configured and auto-scaled limits.
	minSlots = 1
)

// Scale reasons reported to logs and OnScale.
const (
	ReasonLatency = "latency"
	ReasonMemory  = "memory"
)

// RebaselinePolicy decides what happens to the latency baseline after a scale-down.
type RebaselinePolicy int

const (
	// RebaselineNever keeps the first baseline for the manager's lifetime, so
	// every later sample is compared against the warm, unloaded latency.
	RebaselineNever RebaselinePolicy = iota

	// RebaselineAfterScale starts a new epoch after each scale-down and
	// re-learns the baseline from the next samples at the reduced limit.
	RebaselineAfterScale
)

// Slot is an admission token for one in-flight analyzer call.
type Slot struct {
	ID         string
	AcquiredAt time.Time
}

// Options configures a Manager.
type Options struct {
	// MaxSlots is the concurrency limit. Zero selects DefaultMaxSlots when
	// AutoScale is on and 1 otherwise.
	MaxSlots int

	// AutoScale enables latency- and memory-driven reduction of the limit.
	AutoScale bool

	// MemoryThresholdMB forces the limit to 1 when resident memory exceeds it.
	// Zero or negative disables the memory check.
	MemoryThresholdMB float64

	// BaselineSamples defaults to DefaultBaselineSamples.
	BaselineSamples int

	// LatencyFactor defaults to DefaultLatencyFactor.
	LatencyFactor float64

	// Rebaseline selects the re-baselining strategy after a scale-down.
	Rebaseline RebaselinePolicy

	// Probe defaults to RuntimeProbe.
	Probe MemoryProbe

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// OnScale is called under the manager's lock after each limit change.
	OnScale func(oldMax, newMax int, reason string)
}

// Stats is a point-in-time snapshot of the manager.
type Stats struct {
	Active         int     `json:"active"`
	Max            int     `json:"max"`
	MemoryMB       float64 `json:"memoryMB"`
	AvgLatencyMs   float64 `json:"avgLatencyMs"`
	ItemsProcessed int64   `json:"itemsProcessed"`
	ItemsPerSec    float64 `json:"itemsPerSec"`
}

// Manager issues and reclaims slots. All methods are safe for concurrent use.
type Manager struct {
	mu sync.Mutex

	opts    Options
	probe   MemoryProbe
	logger  *slog.Logger
	started time.Time

	max     int
	active  map[string]*Slot
	waiters *list.List // of chan *Slot, FIFO.

	epoch    []float64
	baseline float64

	itemsProcessed int64
	latencySumMs   float64
}

// DefaultMaxSlots returns clamp(NumCPU-1, 1, 4).
func DefaultMaxSlots() int {
	return stats.Clamp(runtime.NumCPU()-1, minSlots, maxDefaultSlots)
}

// NewManager creates a configured Manager.
func NewManager(opts Options) *Manager {
	m := &Manager{
		active:  make(map[string]*Slot),
		waiters: list.New(),
		started: time.Now(),
	}

	m.Configure(opts)

	return m
}

// Configure replaces the manager's options. Held slots stay valid; if the new
// limit is lower than the active count, new acquisitions wait until enough
// slots are released. The latency epoch restarts.
func (m *Manager) Configure(opts Options) {
	if opts.MaxSlots <= 0 {
		opts.MaxSlots = minSlots
		if opts.AutoScale {
			opts.MaxSlots = DefaultMaxSlots()
		}
	}

	if opts.BaselineSamples <= 0 {
		opts.BaselineSamples = DefaultBaselineSamples
	}

	if opts.LatencyFactor <= 0 {
		opts.LatencyFactor = DefaultLatencyFactor
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.opts = opts
	m.max = opts.MaxSlots
	m.probe = opts.Probe
	m.logger = opts.Logger

	if m.probe == nil {
		m.probe = RuntimeProbe{}
	}

	if m.logger == nil {
		m.logger = slog.Default()
	}

	m.resetEpochLocked()
	m.dispatchLocked()
}

// Acquire blocks until a slot is free or ctx is done. Waiters are served in
// arrival order.
func (m *Manager) Acquire(ctx context.Context) (*Slot, error) {
	ctxErr := ctx.Err()
	if ctxErr != nil {
		return nil, ctxErr
	}

	m.mu.Lock()

	if m.waiters.Len() == 0 && len(m.active) < m.max {
		slot := m.grantLocked()
		m.mu.Unlock()

		return slot, nil
	}

	ch := make(chan *Slot, 1)
	elem := m.waiters.PushBack(ch)
	m.mu.Unlock()

	select {
	case slot := <-ch:
		return slot, nil
	case <-ctx.Done():
		m.mu.Lock()
		defer m.mu.Unlock()

		select {
		case slot := <-ch:
			// Granted while we were giving up; hand it to the next waiter.
			m.releaseLocked(slot)
		default:
			m.waiters.Remove(elem)
		}

		return nil, ctx.Err()
	}
}

// Release returns a slot. Releasing nil, an unknown slot or an already
// released slot is a no-op.
func (m *Manager) Release(slot *Slot) {
	if slot == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.releaseLocked(slot)
}

// ReportLatency records one completed call. With AutoScale on, it may lower
// the limit: to 1 when memory exceeds the threshold, or by one when the
// sample exceeds LatencyFactor times the epoch baseline.
func (m *Manager) ReportLatency(slot *Slot, d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.itemsProcessed++
	m.latencySumMs += ms

	if !m.opts.AutoScale {
		return
	}

	if m.opts.MemoryThresholdMB > 0 && m.max > minSlots {
		residentMB := m.probe.ResidentMB()
		if residentMB > m.opts.MemoryThresholdMB {
			m.logger.Warn("memory above threshold, serializing analyzer calls",
				"resident_mb", residentMB, "threshold_mb", m.opts.MemoryThresholdMB)
			m.scaleLocked(minSlots, ReasonMemory)

			return
		}
	}

	if len(m.epoch) < m.opts.BaselineSamples {
		m.epoch = append(m.epoch, ms)
		if len(m.epoch) == m.opts.BaselineSamples {
			m.baseline = stats.Mean(m.epoch)
			m.logger.Debug("latency baseline established", "baseline_ms", m.baseline)
		}

		return
	}

	if ms > m.opts.LatencyFactor*m.baseline && m.max > minSlots {
		attrs := []any{"latency_ms", ms, "baseline_ms", m.baseline}
		if slot != nil {
			attrs = append(attrs, "slot", slot.ID)
		}

		m.logger.Warn("analyzer latency degraded, reducing concurrency", attrs...)
		m.scaleLocked(m.max-1, ReasonLatency)
	}
}

// Stats returns a snapshot of the manager's counters.
func (m *Manager) Stats() Stats {
	residentMB := m.probeMemory()

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := Stats{
		Active:         len(m.active),
		Max:            m.max,
		MemoryMB:       residentMB,
		ItemsProcessed: m.itemsProcessed,
	}

	if m.itemsProcessed > 0 {
		snapshot.AvgLatencyMs = m.latencySumMs / float64(m.itemsProcessed)
	}

	elapsed := time.Since(m.started).Seconds()

	switch {
	case elapsed > 0:
		snapshot.ItemsPerSec = float64(m.itemsProcessed) / elapsed
	case snapshot.AvgLatencyMs > 0:
		snapshot.ItemsPerSec = float64(m.max) * 1000 / snapshot.AvgLatencyMs
	}

	return snapshot
}

func (m *Manager) probeMemory() float64 {
	m.mu.Lock()
	probe := m.probe
	m.mu.Unlock()

	return probe.ResidentMB()
}

func (m *Manager) grantLocked() *Slot {
	slot := &Slot{ID: uuid.NewString(), AcquiredAt: time.Now()}
	m.active[slot.ID] = slot

	return slot
}

func (m *Manager) releaseLocked(slot *Slot) {
	if _, ok := m.active[slot.ID]; !ok {
		return
	}

	delete(m.active, slot.ID)
	m.dispatchLocked()
}

// dispatchLocked hands free capacity to queued waiters in FIFO order.
func (m *Manager) dispatchLocked() {
	for len(m.active) < m.max && m.waiters.Len() > 0 {
		front := m.waiters.Front()
		m.waiters.Remove(front)

		ch, _ := front.Value.(chan *Slot)
		ch <- m.grantLocked()
	}
}

func (m *Manager) scaleLocked(newMax int, reason string) {
	oldMax := m.max
	m.max = max(newMax, minSlots)

	m.logger.Info("concurrency limit changed", "from", oldMax, "to", m.max, "reason", reason)

	if m.opts.Rebaseline == RebaselineAfterScale {
		m.resetEpochLocked()
	}

	if m.opts.OnScale != nil {
		m.opts.OnScale(oldMax, m.max, reason)
	}
}

func (m *Manager) resetEpochLocked() {
	m.epoch = m.epoch[:0]
	m.baseline = 0
}
