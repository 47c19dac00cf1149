// Package redis implements the shared out-of-process backend. Entries live
// as JSON envelopes under prefixed string keys; the tag ledger lives in one
// hash so that an invalidation issued by any process sharing the server is
// visible to every reader.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/adeilh/go-tagcache/cache"
)

// Store implements the engine contract on top of Redis.
//
// Error policy: transient failures on Get degrade to a miss (wrapped with
// cache.ErrNotFound, cause preserved); Set and RevalidateTag surface their
// errors so callers know a write or an invalidation may not have propagated.
type Store struct {
	opts    Options
	now     func() int64
	flights *cache.Flights
	dialFn  dialFunc
	pool    chan *clientConn
}

var (
	_ cache.Store   = (*Store)(nil)
	_ cache.Deleter = (*Store)(nil)
)

// NewStore builds a Redis-backed cache store.
func NewStore(opts Options) *Store {
	cfg := opts.withDefaults()
	return &Store{
		opts:    cfg,
		now:     func() int64 { return cfg.Clock().UnixMilli() },
		flights: cache.NewFlights(),
		dialFn:  defaultDial,
		pool:    make(chan *clientConn, cfg.PoolSize),
	}
}

func (s *Store) entryKey(key string) string { return s.opts.KeyPrefix + key }

// opCtx bounds an operation by the configured timeout. The cancel func is
// released on every path by the caller's defer.
func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.Timeout)
}

// Get fetches and validates the entry for key. The recorded lifespan is
// re-checked against the local clock even though the server applied its own
// TTL at write time; the two may diverge. Transport failures degrade to a
// miss.
func (s *Store) Get(ctx context.Context, key string, softTags []string) (*cache.Entry, error) {
	if err := s.flights.Wait(ctx, key); err != nil {
		return nil, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	raw, found, err := s.doBytes(ctx, "GET", s.entryKey(key))
	if err != nil {
		return nil, s.degrade(key, "get", err)
	}
	if !found {
		s.opts.Metrics.RecordMiss()
		return nil, cache.ErrNotFound
	}

	env, err := decodeEntry(raw)
	if err != nil {
		// Foreign or corrupted payload under our prefix: drop it and miss.
		s.opts.Logger.Warn("redis: dropping undecodable entry", "key", key, "error", err)
		_, _ = s.doInt(ctx, "DEL", s.entryKey(key))
		s.opts.Metrics.RecordMiss()
		return nil, cache.ErrNotFound
	}

	now := s.now()
	if env.Lifespan.Expired(now) {
		_, _ = s.doInt(ctx, "DEL", s.entryKey(key))
		s.opts.Metrics.RecordMiss()
		return nil, cache.ErrNotFound
	}

	tags := cache.NormalizeTags(append(append([]string(nil), env.Tags...), softTags...))
	records, err := s.tagRecords(ctx, tags)
	if err != nil {
		return nil, s.degrade(key, "tag ledger", err)
	}
	if cache.HardExpired(records, env.CreatedAt, now) {
		_, _ = s.doInt(ctx, "DEL", s.entryKey(key))
		s.opts.Metrics.RecordMiss()
		return nil, cache.ErrNotFound
	}
	stale := cache.Stale(records, env.CreatedAt)
	s.opts.Metrics.RecordHit(stale)

	return &cache.Entry{
		Key:       key,
		Value:     cache.BytesValue(env.Value),
		Tags:      env.Tags,
		CreatedAt: env.CreatedAt,
		Lifespan:  env.Lifespan,
		Stale:     stale,
	}, nil
}

// Set drains value, encodes the envelope, and writes it with an absolute
// expiration deadline when the entry has a lifespan. Failures are returned
// so write-through callers can decide to retry, but they leave no partial
// state behind.
func (s *Store) Set(ctx context.Context, key string, value *cache.Value, wc cache.WriteContext) error {
	settle, err := s.flights.Begin(ctx, key)
	if err != nil {
		return err
	}
	defer settle()

	payload, err := value.Bytes()
	if err != nil {
		return fmt.Errorf("redis: drain value for %q: %w", key, err)
	}

	now := s.now()
	ls := cache.ComputeLifespan(wc.Revalidate, s.opts.DefaultTTLSeconds, now)
	data, err := encodeEntry(payload, cache.NormalizeTags(wc.Tags), now, ls)
	if err != nil {
		return err
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	args := []string{"SET", s.entryKey(key), string(data)}
	if ls != nil {
		args = append(args, "PXAT", strconv.FormatInt(ls.ExpireAt, 10))
	}
	if err := s.doOK(ctx, args...); err != nil {
		s.opts.Metrics.RecordBackendError()
		return fmt.Errorf("redis: set %q: %w", key, err)
	}
	return nil
}

// Delete removes key unconditionally. Absent keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	if _, err := s.doInt(ctx, "DEL", s.entryKey(key)); err != nil {
		s.opts.Metrics.RecordBackendError()
		return fmt.Errorf("redis: delete %q: %w", key, err)
	}
	return nil
}

// RevalidateTag overwrites the tag's ledger record. The error is surfaced:
// callers need to know when an invalidation may not have propagated.
func (s *Store) RevalidateTag(ctx context.Context, tag string, d *cache.Durations) error {
	now := s.now()
	rec := cache.TagRecord{ExpiredAt: now}
	if d != nil {
		rec = cache.TagRecord{StaleAt: now}
		if d.ExpireInSeconds > 0 {
			rec.ExpiredAt = now + d.ExpireInSeconds*1000
		}
	}
	data, err := encodeTagRecord(rec)
	if err != nil {
		return err
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	if _, err := s.doInt(ctx, "HSET", s.opts.TagPrefix, tag, string(data)); err != nil {
		s.opts.Metrics.RecordBackendError()
		return fmt.Errorf("redis: revalidate tag %q: %w", tag, err)
	}
	return nil
}

// MaxInvalidationInstant returns the latest hard-expiration instant recorded
// in the shared ledger for tags, or zero if none.
func (s *Store) MaxInvalidationInstant(ctx context.Context, tags []string) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	records, err := s.tagRecords(ctx, cache.NormalizeTags(tags))
	if err != nil {
		s.opts.Metrics.RecordBackendError()
		return 0, fmt.Errorf("redis: invalidation watermark: %w", err)
	}
	var max int64
	for _, rec := range records {
		if rec.ExpiredAt > max {
			max = rec.ExpiredAt
		}
	}
	return max, nil
}

// Exists reports physical presence of key, without validity checks.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	n, err := s.doInt(ctx, "EXISTS", s.entryKey(key))
	if err != nil {
		return false, fmt.Errorf("redis: exists %q: %w", key, err)
	}
	return n > 0, nil
}

// RemainingTTL returns the server-side time to live for key. Zero with no
// error means the key has no server-side deadline.
func (s *Store) RemainingTTL(ctx context.Context, key string) (time.Duration, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	ms, err := s.doInt(ctx, "PTTL", s.entryKey(key))
	if err != nil {
		return 0, fmt.Errorf("redis: ttl %q: %w", key, err)
	}
	if ms < 0 {
		return 0, nil
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// TagLedger returns every record in the shared ledger, keyed by tag, for
// inspection and administrative tooling.
func (s *Store) TagLedger(ctx context.Context) (map[string]cache.TagRecord, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	resp, err := s.do(ctx, "HGETALL", s.opts.TagPrefix)
	if err != nil {
		return nil, fmt.Errorf("redis: tag ledger: %w", err)
	}
	arr, ok := resp.([]any)
	if !ok {
		return nil, fmt.Errorf("redis: tag ledger: unexpected response %T", resp)
	}

	ledger := make(map[string]cache.TagRecord, len(arr)/2)
	for i := 0; i+1 < len(arr); i += 2 {
		field, okF := arr[i].([]byte)
		raw, okV := arr[i+1].([]byte)
		if !okF || !okV {
			continue
		}
		rec, err := decodeTagRecord(raw)
		if err != nil {
			s.opts.Logger.Warn("redis: skipping undecodable tag record", "tag", string(field), "error", err)
			continue
		}
		ledger[string(field)] = rec
	}
	return ledger, nil
}

// ResetTags clears the shared tag ledger. Administrative use only, mainly
// tests; the ledger is never cleared implicitly.
func (s *Store) ResetTags(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	if _, err := s.doInt(ctx, "DEL", s.opts.TagPrefix); err != nil {
		return fmt.Errorf("redis: reset tags: %w", err)
	}
	return nil
}

// tagRecords fetches ledger records for tags in one pipelined exchange.
// Tags never invalidated contribute nothing; undecodable records are
// skipped rather than failing the read.
func (s *Store) tagRecords(ctx context.Context, tags []string) ([]cache.TagRecord, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	pipe, err := s.Pipeline(ctx)
	if err != nil {
		return nil, err
	}
	defer pipe.Close()
	for _, tag := range tags {
		pipe.Queue("HGET", s.opts.TagPrefix, tag)
	}
	responses, err := pipe.Exec(ctx)
	if err != nil {
		return nil, err
	}

	var records []cache.TagRecord
	for i, resp := range responses {
		raw, ok := resp.([]byte)
		if !ok {
			continue // nil reply: tag never invalidated
		}
		rec, err := decodeTagRecord(raw)
		if err != nil {
			s.opts.Logger.Warn("redis: skipping undecodable tag record", "tag", tags[i], "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// degrade converts a transport failure into a logged, counted miss. The
// cause stays attached via errors.Join so errors.Is matches both
// cache.ErrNotFound and the underlying failure.
func (s *Store) degrade(key, op string, err error) error {
	s.opts.Logger.Warn("redis: read degraded to miss", "key", key, "op", op, "error", err)
	s.opts.Metrics.RecordBackendError()
	return errors.Join(cache.ErrNotFound, err)
}
