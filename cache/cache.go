package cache

import (
	"context"
	"errors"
)

// ErrNotFound signals a cache miss: the key is absent, expired by TTL, or
// invalidated through one of its tags. A miss is a normal outcome, not a
// failure; backends that degrade on transient errors wrap the cause together
// with this sentinel so both remain matchable via errors.Is.
var ErrNotFound = errors.New("cache: key not found")

// Store is the engine contract every backend satisfies. Implementations own
// their synchronization; a single Store instance is safe for concurrent use.
type Store interface {
	// Get returns the entry for key, or ErrNotFound. softTags are read-time
	// tags unioned with the entry's stored tags for invalidation checks.
	// A returned entry is an independent view: its value can be consumed
	// without affecting the stored copy or other readers.
	Get(ctx context.Context, key string, softTags []string) (*Entry, error)

	// Set stores value under key. The value may still be streaming; Set
	// drains it before committing. Concurrent Gets for the same key wait
	// for an in-flight Set to settle rather than observing a miss.
	Set(ctx context.Context, key string, value *Value, wc WriteContext) error

	// RevalidateTag records an invalidation for tag. A nil Durations means
	// hard, immediate expiration; otherwise the tag goes stale now and
	// optionally hard-expires after Durations.ExpireInSeconds.
	RevalidateTag(ctx context.Context, tag string, d *Durations) error

	// MaxInvalidationInstant returns the latest hard-expiration instant
	// recorded across tags, in milliseconds since epoch, or zero if none.
	MaxInvalidationInstant(ctx context.Context, tags []string) (int64, error)
}

// Deleter is the optional deletion capability. Backends may omit it; the
// composite store tolerates its absence.
type Deleter interface {
	Delete(ctx context.Context, key string) error
}

// WriteContext carries the write-time metadata for a Set.
type WriteContext struct {
	Tags       []string
	Revalidate Revalidate
}

// Durations controls soft (stale-while-revalidate) tag invalidation.
// ExpireInSeconds <= 0 defers hard expiration indefinitely: readers keep
// getting the old value flagged stale until a fresh write replaces it.
type Durations struct {
	ExpireInSeconds int64
}

// NormalizeTags returns a copy of tags with duplicates collapsed, preserving
// first-seen order. Order is irrelevant to invalidation semantics.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
