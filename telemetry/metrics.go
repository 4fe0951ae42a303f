package telemetry

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// Metrics holds thread-safe cache counters. All counters are monotonic
// except through an explicit Reset.
type Metrics struct {
	hits          atomic.Int64
	misses        atomic.Int64
	errors        atomic.Int64
	skips         atomic.Int64
	invalidations atomic.Int64
	bytesCached   atomic.Int64

	perTable *xsync.MapOf[string, *xsync.Counter]
}

// NewMetrics returns a zeroed Metrics.
func NewMetrics() *Metrics {
	return &Metrics{perTable: xsync.NewMapOf[string, *xsync.Counter]()}
}

func (m *Metrics) RecordHit()   { m.hits.Add(1) }
func (m *Metrics) RecordMiss()  { m.misses.Add(1) }
func (m *Metrics) RecordError() { m.errors.Add(1) }
func (m *Metrics) RecordSkip()  { m.skips.Add(1) }

// RecordInvalidation bumps the total invalidation counter and the per-table
// counter for every listed table.
func (m *Metrics) RecordInvalidation(tables []string) {
	m.invalidations.Add(1)
	for _, table := range tables {
		counter, _ := m.perTable.LoadOrCompute(table, func() *xsync.Counter {
			return xsync.NewCounter()
		})
		counter.Inc()
	}
}

// AddBytes adjusts the total-bytes-cached gauge. Pass a negative delta on
// eviction. Only the local store reports evictions back; under the hybrid
// store the gauge counts cumulative admitted bytes, an upper bound rather
// than a live occupancy figure.
func (m *Metrics) AddBytes(delta int64) { m.bytesCached.Add(delta) }

// Requests returns the total number of cache lookups observed.
func (m *Metrics) Requests() int64 { return m.hits.Load() + m.misses.Load() }

// HitRate returns the hit percentage in [0,100]; 0 when no requests have
// been observed.
func (m *Metrics) HitRate() float64 {
	total := m.Requests()
	if total == 0 {
		return 0
	}
	return float64(m.hits.Load()) / float64(total) * 100
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Hits                 int64
	Misses               int64
	Errors               int64
	Skips                int64
	Invalidations        int64
	BytesCached          int64
	HitRate              float64
	InvalidationsByTable map[string]int64
}

// Snapshot returns a copy of the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		Hits:                 m.hits.Load(),
		Misses:               m.misses.Load(),
		Errors:               m.errors.Load(),
		Skips:                m.skips.Load(),
		Invalidations:        m.invalidations.Load(),
		BytesCached:          m.bytesCached.Load(),
		HitRate:              m.HitRate(),
		InvalidationsByTable: make(map[string]int64),
	}
	m.perTable.Range(func(table string, counter *xsync.Counter) bool {
		s.InvalidationsByTable[table] = counter.Value()
		return true
	})
	return s
}

// Reset zeroes every counter.
func (m *Metrics) Reset() {
	m.hits.Store(0)
	m.misses.Store(0)
	m.errors.Store(0)
	m.skips.Store(0)
	m.invalidations.Store(0)
	m.bytesCached.Store(0)
	m.perTable.Clear()
}
