package cache

import (
	"sync"
	"time"
)

// TagRecord is the manifest's value per tag: the instants at which the tag
// was last marked stale and hard-expired. Zero means "never recorded".
// Records are overwritten whole on each invalidation; the most recent
// instruction wins, there is no min/max merging.
type TagRecord struct {
	StaleAt   int64 `json:"staleAt,omitempty"`
	ExpiredAt int64 `json:"expiredAt,omitempty"`
}

// Manifest is the shared ledger of per-tag invalidation records. Construct
// one per process (or per test) and inject the same instance into every
// local backend that must observe the same invalidations; it is never
// duplicated silently. Safe for concurrent use.
type Manifest struct {
	mu   sync.RWMutex
	tags map[string]TagRecord
	now  func() int64
}

// ManifestOption customizes a Manifest at construction.
type ManifestOption func(*Manifest)

// WithManifestClock overrides the manifest's clock, for tests.
func WithManifestClock(clock func() time.Time) ManifestOption {
	return func(m *Manifest) {
		if clock != nil {
			m.now = func() int64 { return clock().UnixMilli() }
		}
	}
}

// NewManifest builds an empty manifest.
func NewManifest(opts ...ManifestOption) *Manifest {
	m := &Manifest{
		tags: make(map[string]TagRecord),
		now:  func() int64 { return time.Now().UnixMilli() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Invalidate records an invalidation for every given tag. A nil Durations
// hard-expires immediately: entries created before now become invalid on
// their next read. Otherwise the tags go stale now, and hard expiration is
// deferred by ExpireInSeconds when positive.
func (m *Manifest) Invalidate(tags []string, d *Durations) {
	now := m.now()
	rec := TagRecord{ExpiredAt: now}
	if d != nil {
		rec = TagRecord{StaleAt: now}
		if d.ExpireInSeconds > 0 {
			rec.ExpiredAt = now + d.ExpireInSeconds*1000
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tag := range tags {
		m.tags[tag] = rec
	}
}

// Records returns the recorded invalidation state for the given tags.
// Tags never invalidated contribute nothing.
func (m *Manifest) Records(tags []string) []TagRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []TagRecord
	for _, tag := range tags {
		if rec, ok := m.tags[tag]; ok {
			out = append(out, rec)
		}
	}
	return out
}

// MaxInvalidationInstant returns the latest ExpiredAt across the given tags,
// or zero if none is recorded. Callers use it as a single cache-generation
// watermark instead of per-entry checks.
func (m *Manifest) MaxInvalidationInstant(tags []string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var max int64
	for _, tag := range tags {
		if rec, ok := m.tags[tag]; ok && rec.ExpiredAt > max {
			max = rec.ExpiredAt
		}
	}
	return max
}

// Reset clears every record. Administrative use only, mainly tests; the
// manifest is never cleared implicitly.
func (m *Manifest) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tags = make(map[string]TagRecord)
}

// HardExpired reports whether any record invalidates an entry created at
// createdAt: the tag was invalidated strictly after the entry was written
// and that instant has already arrived. Shared by every backend so the
// timestamp arithmetic lives in exactly one place.
func HardExpired(records []TagRecord, createdAt, now int64) bool {
	for _, rec := range records {
		if rec.ExpiredAt > createdAt && rec.ExpiredAt <= now {
			return true
		}
	}
	return false
}

// Stale reports whether any record marks an entry created at createdAt as
// needing a background refresh.
func Stale(records []TagRecord, createdAt int64) bool {
	for _, rec := range records {
		if rec.StaleAt > createdAt {
			return true
		}
	}
	return false
}
