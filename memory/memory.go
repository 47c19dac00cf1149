// Package memory implements the bounded in-process backend: an
// insertion-ordered map with LRU eviction, lazy TTL expiration, and
// tag-checked reads against a shared manifest.
package memory

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"github.com/adeilh/go-tagcache/cache"
)

// Store is a bounded, size-aware local cache. Safe for concurrent use; the
// store owns its own synchronization.
type Store struct {
	opts     Options
	manifest *cache.Manifest
	now      func() int64
	flights  *cache.Flights

	mu    sync.Mutex
	items map[string]*list.Element
	lru   *list.List // front = most recently used
}

var (
	_ cache.Store   = (*Store)(nil)
	_ cache.Deleter = (*Store)(nil)
)

// NewStore builds a local store.
func NewStore(opts Options) *Store {
	cfg := opts.withDefaults()
	return &Store{
		opts:     cfg,
		manifest: cfg.Manifest,
		now:      func() int64 { return cfg.Clock().UnixMilli() },
		flights:  cache.NewFlights(),
		items:    make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// Get returns the entry for key after presence, TTL, and tag checks.
// A hit refreshes the entry's recency. Entries found hard-expired are
// lazily removed.
func (s *Store) Get(ctx context.Context, key string, softTags []string) (*cache.Entry, error) {
	if err := s.flights.Wait(ctx, key); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[key]
	if !ok {
		s.opts.Metrics.RecordMiss()
		return nil, cache.ErrNotFound
	}
	entry := elem.Value.(*cache.Entry)
	now := s.now()

	if entry.Lifespan.Expired(now) {
		s.removeLocked(elem)
		s.opts.Metrics.RecordMiss()
		return nil, cache.ErrNotFound
	}

	records := s.manifest.Records(append(append([]string(nil), entry.Tags...), softTags...))
	if cache.HardExpired(records, entry.CreatedAt, now) {
		s.removeLocked(elem)
		s.opts.Metrics.RecordMiss()
		return nil, cache.ErrNotFound
	}
	stale := cache.Stale(records, entry.CreatedAt)

	s.lru.MoveToFront(elem)
	s.opts.Metrics.RecordHit(stale)

	out := *entry
	out.Stale = stale
	return &out, nil
}

// Set drains value and commits it under key. Oversized values are refused
// silently; at capacity the least-recently-used committed entry is evicted
// first. Gets for the same key queue behind the in-flight write.
func (s *Store) Set(ctx context.Context, key string, value *cache.Value, wc cache.WriteContext) error {
	settle, err := s.flights.Begin(ctx, key)
	if err != nil {
		return err
	}
	defer settle()

	// Draining is the only suspension point: the value may still be
	// streaming from its producer. Only committed entries enter the LRU
	// map, so eviction can never touch a mid-write entry.
	size, err := value.Size()
	if err != nil {
		return fmt.Errorf("memory: drain value for %q: %w", key, err)
	}
	if s.opts.MaxItemSizeBytes > 0 && size > s.opts.MaxItemSizeBytes {
		s.opts.Logger.Info("memory: value over size ceiling, write refused",
			"key", key, "size", size, "ceiling", s.opts.MaxItemSizeBytes)
		s.opts.Metrics.RecordOversizeReject()
		return nil
	}

	now := s.now()
	entry := &cache.Entry{
		Key:       key,
		Value:     value,
		Tags:      cache.NormalizeTags(wc.Tags),
		CreatedAt: now,
		Lifespan:  cache.ComputeLifespan(wc.Revalidate, s.opts.DefaultTTLSeconds, now),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.items[key]; ok {
		elem.Value = entry
		s.lru.MoveToFront(elem)
		return nil
	}
	if s.opts.MaxItems > 0 && len(s.items) >= s.opts.MaxItems {
		if oldest := s.lru.Back(); oldest != nil {
			s.removeLocked(oldest)
			s.opts.Metrics.RecordEviction()
		}
	}
	s.items[key] = s.lru.PushFront(entry)
	return nil
}

// Delete removes key unconditionally. Absent keys are not an error.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if elem, ok := s.items[key]; ok {
		s.removeLocked(elem)
	}
	return nil
}

// RevalidateTag forwards the invalidation to the shared manifest. Matching
// entries are dropped lazily on their next read; no eager scan is needed
// for correctness.
func (s *Store) RevalidateTag(_ context.Context, tag string, d *cache.Durations) error {
	s.manifest.Invalidate([]string{tag}, d)
	return nil
}

// MaxInvalidationInstant returns the manifest's watermark for tags.
func (s *Store) MaxInvalidationInstant(_ context.Context, tags []string) (int64, error) {
	return s.manifest.MaxInvalidationInstant(tags), nil
}

// Len reports the number of committed entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Store) removeLocked(elem *list.Element) {
	entry := s.lru.Remove(elem).(*cache.Entry)
	delete(s.items, entry.Key)
}
