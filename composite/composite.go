// Package composite composes several backends behind the single engine
// contract: reads try backends in priority order, writes go to one routed
// backend or fan out to all, and invalidation and deletion always fan out.
// One failing backend never sinks an operation another backend could serve.
package composite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adeilh/go-tagcache/cache"
)

// ErrNoBackends is returned by New when no backend is configured.
var ErrNoBackends = errors.New("composite: at least one backend is required")

// RouteContext is the fully-assembled entry metadata handed to a routing
// function before a write.
type RouteContext struct {
	Key      string
	Tags     []string
	Lifespan *cache.Lifespan
}

// RouteFunc selects the backend index a write goes to. An out-of-range
// index falls back to backend 0.
type RouteFunc func(RouteContext) int

// Store fans the engine contract out over its backends.
type Store struct {
	backends []cache.Store
	route    RouteFunc
	log      *slog.Logger
	clock    func() time.Time

	// DefaultTTLSeconds mirrors the backends' fallback only for assembling
	// routing metadata; each backend still applies its own default when it
	// computes the lifespan it stores.
	defaultTTLSeconds int64
}

var (
	_ cache.Store   = (*Store)(nil)
	_ cache.Deleter = (*Store)(nil)
)

// Option customizes a composite store at construction.
type Option func(*Store)

// WithRouting installs a routing function; writes then go to exactly one
// backend instead of fanning out.
func WithRouting(fn RouteFunc) Option {
	return func(s *Store) {
		s.route = fn
	}
}

// WithLogger overrides the logger used for skipped-backend reports.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithDefaultTTLSeconds sets the fallback period used when assembling
// routing metadata.
func WithDefaultTTLSeconds(seconds int64) Option {
	return func(s *Store) {
		s.defaultTTLSeconds = seconds
	}
}

// WithClock overrides the time source used for routing metadata, for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New builds a composite store over backends, in priority order. Zero
// backends is a configuration error, caught here rather than at first use.
func New(backends []cache.Store, opts ...Option) (*Store, error) {
	if len(backends) == 0 {
		return nil, ErrNoBackends
	}
	s := &Store{
		backends: append([]cache.Store(nil), backends...),
		log:      slog.Default(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Get tries each backend in priority order and returns the first valid hit.
// A miss moves on silently; a backend failure is logged and skipped.
func (s *Store) Get(ctx context.Context, key string, softTags []string) (*cache.Entry, error) {
	for i, b := range s.backends {
		entry, err := b.Get(ctx, key, softTags)
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, cache.ErrNotFound) {
			s.log.Warn("composite: backend read failed, trying next", "backend", i, "key", key, "error", err)
		}
	}
	return nil, cache.ErrNotFound
}

// Set writes to the routed backend when a routing function is configured,
// otherwise fans out to all backends concurrently. In fan-out mode every
// backend is attempted; per-backend failures are joined into the returned
// error while the successful writes stay committed.
func (s *Store) Set(ctx context.Context, key string, value *cache.Value, wc cache.WriteContext) error {
	if s.route != nil {
		now := s.clock().UnixMilli()
		meta := RouteContext{
			Key:      key,
			Tags:     cache.NormalizeTags(wc.Tags),
			Lifespan: cache.ComputeLifespan(wc.Revalidate, s.defaultTTLSeconds, now),
		}
		idx := s.route(meta)
		if idx < 0 || idx >= len(s.backends) {
			s.log.Warn("composite: routing index out of range, using backend 0", "index", idx, "key", key)
			idx = 0
		}
		return s.backends[idx].Set(ctx, key, value, wc)
	}

	// The value is drained once up front so concurrent backends do not
	// race on the stream; afterwards it is replayable from its buffer.
	if _, err := value.Bytes(); err != nil {
		return fmt.Errorf("composite: drain value for %q: %w", key, err)
	}
	return s.settleAll(func(i int, b cache.Store) error {
		return b.Set(ctx, key, value, wc)
	})
}

// RevalidateTag fans the invalidation out to every backend.
func (s *Store) RevalidateTag(ctx context.Context, tag string, d *cache.Durations) error {
	return s.settleAll(func(_ int, b cache.Store) error {
		return b.RevalidateTag(ctx, tag, d)
	})
}

// Delete fans out to every backend that supports deletion; backends without
// the capability are skipped.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.settleAll(func(_ int, b cache.Store) error {
		del, ok := b.(cache.Deleter)
		if !ok {
			return nil
		}
		return del.Delete(ctx, key)
	})
}

// MaxInvalidationInstant queries every backend concurrently and returns the
// maximum watermark. Per-backend failures are tolerated while any backend
// answers; only a total failure is an error.
func (s *Store) MaxInvalidationInstant(ctx context.Context, tags []string) (int64, error) {
	instants := make([]int64, len(s.backends))
	errs := make([]error, len(s.backends))
	var g errgroup.Group
	for i, b := range s.backends {
		i, b := i, b
		g.Go(func() error {
			instant, err := b.MaxInvalidationInstant(ctx, tags)
			if err != nil {
				errs[i] = fmt.Errorf("backend %d: %w", i, err)
				return nil
			}
			instants[i] = instant
			return nil
		})
	}
	_ = g.Wait()

	var max int64
	answered := false
	for i := range s.backends {
		if errs[i] != nil {
			s.log.Warn("composite: watermark query failed", "error", errs[i])
			continue
		}
		answered = true
		if instants[i] > max {
			max = instants[i]
		}
	}
	if !answered {
		return 0, errors.Join(errs...)
	}
	return max, nil
}

// settleAll runs fn against every backend concurrently and waits for all of
// them, collecting per-backend outcomes instead of short-circuiting on the
// first failure.
func (s *Store) settleAll(fn func(int, cache.Store) error) error {
	errs := make([]error, len(s.backends))
	var g errgroup.Group
	for i, b := range s.backends {
		i, b := i, b
		g.Go(func() error {
			if err := fn(i, b); err != nil {
				errs[i] = fmt.Errorf("backend %d: %w", i, err)
				s.log.Warn("composite: backend operation failed", "error", errs[i])
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
