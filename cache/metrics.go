package cache

import "sync/atomic"

// Metrics counts store outcomes. All methods are nil-safe so backends can
// record unconditionally whether or not the caller wired a collector.
// Oversize rejections are counted separately from backend errors: refusing
// an oversized write is policy, not failure.
type Metrics struct {
	hits            atomic.Int64
	staleHits       atomic.Int64
	misses          atomic.Int64
	evictions       atomic.Int64
	oversizeRejects atomic.Int64
	backendErrors   atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	Hits            int64
	StaleHits       int64
	Misses          int64
	Evictions       int64
	OversizeRejects int64
	BackendErrors   int64
}

func (m *Metrics) RecordHit(stale bool) {
	if m == nil {
		return
	}
	if stale {
		m.staleHits.Add(1)
		return
	}
	m.hits.Add(1)
}

func (m *Metrics) RecordMiss() {
	if m == nil {
		return
	}
	m.misses.Add(1)
}

func (m *Metrics) RecordEviction() {
	if m == nil {
		return
	}
	m.evictions.Add(1)
}

func (m *Metrics) RecordOversizeReject() {
	if m == nil {
		return
	}
	m.oversizeRejects.Add(1)
}

func (m *Metrics) RecordBackendError() {
	if m == nil {
		return
	}
	m.backendErrors.Add(1)
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		Hits:            m.hits.Load(),
		StaleHits:       m.staleHits.Load(),
		Misses:          m.misses.Load(),
		Evictions:       m.evictions.Load(),
		OversizeRejects: m.oversizeRejects.Load(),
		BackendErrors:   m.backendErrors.Load(),
	}
}
