package loader

import (
	"sort"
	"sync"
	"time"

	"github.com/dshills/loadwire/internal/wire"
)

// Metrics collects dispatcher statistics. A nil *Metrics records nothing,
// so the dispatcher calls it unconditionally.
type Metrics struct {
	mu sync.RWMutex

	kinds map[wire.Kind]*KindMetrics

	created   uint64
	removed   uint64
	destroyed uint64
	cancelled uint64
	discarded uint64
	queued    uint64
	redirects uint64
	fatals    uint64
	// compressed counts responses whose remote timings had to be scaled
	// to fit the local interval.
	compressed uint64

	totalDispatches uint64
	totalDuration   time.Duration
}

// KindMetrics holds dispatch statistics for one message kind.
type KindMetrics struct {
	Kind          wire.Kind
	DispatchCount uint64
	TotalDuration time.Duration
	MinDuration   time.Duration
	MaxDuration   time.Duration
	LastDispatch  time.Time
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		kinds: make(map[wire.Kind]*KindMetrics),
	}
}

func (m *Metrics) recordDispatch(kind wire.Kind, d time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalDispatches++
	m.totalDuration += d

	km := m.kinds[kind]
	if km == nil {
		km = &KindMetrics{Kind: kind, MinDuration: d, MaxDuration: d}
		m.kinds[kind] = km
	}
	km.DispatchCount++
	km.TotalDuration += d
	km.LastDispatch = time.Now()
	if d < km.MinDuration {
		km.MinDuration = d
	}
	if d > km.MaxDuration {
		km.MaxDuration = d
	}
}

func (m *Metrics) inc(counter *uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	*counter++
	m.mu.Unlock()
}

func (m *Metrics) recordCreated() {
	if m != nil {
		m.inc(&m.created)
	}
}

func (m *Metrics) recordRemoved() {
	if m != nil {
		m.inc(&m.removed)
	}
}

func (m *Metrics) recordDestroyed() {
	if m != nil {
		m.inc(&m.destroyed)
	}
}

func (m *Metrics) recordCancelled() {
	if m != nil {
		m.inc(&m.cancelled)
	}
}

func (m *Metrics) recordDiscarded() {
	if m != nil {
		m.inc(&m.discarded)
	}
}

func (m *Metrics) recordQueued() {
	if m != nil {
		m.inc(&m.queued)
	}
}

func (m *Metrics) recordRedirect() {
	if m != nil {
		m.inc(&m.redirects)
	}
}

func (m *Metrics) recordFatal() {
	if m != nil {
		m.inc(&m.fatals)
	}
}

func (m *Metrics) recordCompressedTiming() {
	if m != nil {
		m.inc(&m.compressed)
	}
}

// SlowestKinds returns the top n kinds by average dispatch duration.
func (m *Metrics) SlowestKinds(n int) []*KindMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	kinds := make([]*KindMetrics, 0, len(m.kinds))
	for _, km := range m.kinds {
		c := *km
		kinds = append(kinds, &c)
	}
	sort.Slice(kinds, func(i, j int) bool {
		return kinds[i].AverageDuration() > kinds[j].AverageDuration()
	})
	if n > len(kinds) {
		n = len(kinds)
	}
	return kinds[:n]
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	Created   uint64
	Removed   uint64
	Destroyed uint64
	Cancelled uint64
	Discarded uint64
	Queued    uint64
	Redirects uint64
	Fatals    uint64

	CompressedTimings uint64

	TotalDispatches uint64
	TotalDuration   time.Duration
	AverageDuration time.Duration
	Timestamp       time.Time
}

// Snapshot returns a snapshot of current metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := MetricsSnapshot{
		Created:         m.created,
		Removed:         m.removed,
		Destroyed:       m.destroyed,
		Cancelled:       m.cancelled,
		Discarded:       m.discarded,
		Queued:          m.queued,
		Redirects:       m.redirects,
		Fatals:          m.fatals,

		CompressedTimings: m.compressed,

		TotalDispatches: m.totalDispatches,
		TotalDuration:   m.totalDuration,
		Timestamp:       time.Now(),
	}
	if m.totalDispatches > 0 {
		s.AverageDuration = m.totalDuration / time.Duration(m.totalDispatches)
	}
	return s
}

// AverageDuration returns the average dispatch duration of the kind.
func (km *KindMetrics) AverageDuration() time.Duration {
	if km.DispatchCount == 0 {
		return 0
	}
	return km.TotalDuration / time.Duration(km.DispatchCount)
}
