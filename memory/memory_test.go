package memory

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adeilh/go-tagcache/cache"
)

type fakeClock struct {
	mu sync.Mutex
	ms int64
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.UnixMilli(c.ms)
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ms += d.Milliseconds()
}

func newTestStore(t *testing.T, opts Options) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{ms: 1_000_000}
	opts.Clock = clock.Now
	if opts.Manifest == nil {
		opts.Manifest = cache.NewManifest(cache.WithManifestClock(clock.Now))
	}
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewStore(opts), clock
}

func set(t *testing.T, s *Store, key, payload string, wc cache.WriteContext) {
	t.Helper()
	require.NoError(t, s.Set(context.Background(), key, cache.BytesValue([]byte(payload)), wc))
}

func get(t *testing.T, s *Store, key string, softTags ...string) (*cache.Entry, error) {
	t.Helper()
	return s.Get(context.Background(), key, softTags)
}

func TestEvictionAtCapacity(t *testing.T) {
	s, _ := newTestStore(t, Options{MaxItems: 3})

	for _, key := range []string{"a", "b", "c", "d"} {
		set(t, s, key, key, cache.WriteContext{})
	}

	_, err := get(t, s, "a")
	assert.ErrorIs(t, err, cache.ErrNotFound, "first-inserted, never-read key must be evicted")
	for _, key := range []string{"b", "c", "d"} {
		_, err := get(t, s, key)
		assert.NoError(t, err, "key %q", key)
	}
	assert.Equal(t, 3, s.Len())
}

func TestReadRefreshesRecency(t *testing.T) {
	s, _ := newTestStore(t, Options{MaxItems: 2})

	set(t, s, "a", "a", cache.WriteContext{})
	set(t, s, "b", "b", cache.WriteContext{})

	_, err := get(t, s, "a")
	require.NoError(t, err)

	set(t, s, "c", "c", cache.WriteContext{})

	_, err = get(t, s, "b")
	assert.ErrorIs(t, err, cache.ErrNotFound, "b was least recently used")
	_, err = get(t, s, "a")
	assert.NoError(t, err)
}

func TestTTLExpiration(t *testing.T) {
	s, clock := newTestStore(t, Options{})

	set(t, s, "k", "v", cache.WriteContext{Revalidate: cache.RevalidateAfter(1)})

	entry, err := get(t, s, "k")
	require.NoError(t, err)
	assert.False(t, entry.Stale)

	clock.Advance(1001 * time.Millisecond)
	_, err = get(t, s, "k")
	assert.ErrorIs(t, err, cache.ErrNotFound)
	assert.Equal(t, 0, s.Len(), "expired entry is lazily removed")
}

func TestDefaultTTLFallback(t *testing.T) {
	s, clock := newTestStore(t, Options{DefaultTTLSeconds: 2})

	set(t, s, "default", "v", cache.WriteContext{})
	set(t, s, "pinned", "v", cache.WriteContext{Revalidate: cache.RevalidateNever()})

	clock.Advance(3 * time.Second)

	_, err := get(t, s, "default")
	assert.ErrorIs(t, err, cache.ErrNotFound)
	_, err = get(t, s, "pinned")
	assert.NoError(t, err, "never overrides the store default")
}

func TestHardTagExpiration(t *testing.T) {
	s, clock := newTestStore(t, Options{})

	set(t, s, "e", "v", cache.WriteContext{Tags: []string{"t"}})
	clock.Advance(time.Millisecond)
	require.NoError(t, s.RevalidateTag(context.Background(), "t", nil))

	_, err := get(t, s, "e")
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestSoftStalenessThenDeferredExpiry(t *testing.T) {
	s, clock := newTestStore(t, Options{})

	set(t, s, "e", "v", cache.WriteContext{Tags: []string{"t"}})
	clock.Advance(time.Millisecond)
	require.NoError(t, s.RevalidateTag(context.Background(), "t", &cache.Durations{ExpireInSeconds: 5}))

	entry, err := get(t, s, "e")
	require.NoError(t, err)
	assert.True(t, entry.Stale, "entry is still returnable but flagged for refresh")

	clock.Advance(5 * time.Second)
	_, err = get(t, s, "e")
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestTagIsolation(t *testing.T) {
	s, clock := newTestStore(t, Options{})

	set(t, s, "e1", "v", cache.WriteContext{Tags: []string{"t1"}})
	set(t, s, "e2", "v", cache.WriteContext{Tags: []string{"t2"}})
	clock.Advance(time.Millisecond)
	require.NoError(t, s.RevalidateTag(context.Background(), "t1", nil))

	_, err := get(t, s, "e1")
	assert.ErrorIs(t, err, cache.ErrNotFound)
	_, err = get(t, s, "e2")
	assert.NoError(t, err, "invalidating t1 must not affect an entry tagged only t2")
}

func TestAnyTagInvalidatesMultiTagEntry(t *testing.T) {
	s, clock := newTestStore(t, Options{})

	set(t, s, "e", "v", cache.WriteContext{Tags: []string{"t1", "t2", "t3"}})
	clock.Advance(time.Millisecond)
	require.NoError(t, s.RevalidateTag(context.Background(), "t2", nil))

	_, err := get(t, s, "e")
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestSoftTagsCheckedAtReadTime(t *testing.T) {
	s, clock := newTestStore(t, Options{})

	// The writer never knew about "page"; the reader supplies it.
	set(t, s, "e", "v", cache.WriteContext{Tags: []string{"t"}})
	clock.Advance(time.Millisecond)
	require.NoError(t, s.RevalidateTag(context.Background(), "page", nil))

	_, err := get(t, s, "e")
	assert.NoError(t, err, "stored tags alone are unaffected")

	_, err = get(t, s, "e", "page")
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestFreshWriteSurvivesOldInvalidation(t *testing.T) {
	s, clock := newTestStore(t, Options{})

	require.NoError(t, s.RevalidateTag(context.Background(), "t", nil))
	clock.Advance(time.Millisecond)
	set(t, s, "e", "v", cache.WriteContext{Tags: []string{"t"}})

	_, err := get(t, s, "e")
	assert.NoError(t, err, "an invalidation only affects entries written before it")
}

func TestSharedManifestAcrossStores(t *testing.T) {
	clock := &fakeClock{ms: 1_000_000}
	manifest := cache.NewManifest(cache.WithManifestClock(clock.Now))
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	s1 := NewStore(Options{Manifest: manifest, Clock: clock.Now, Logger: quiet})
	s2 := NewStore(Options{Manifest: manifest, Clock: clock.Now, Logger: quiet})

	set(t, s1, "e", "v", cache.WriteContext{Tags: []string{"t"}})
	clock.Advance(time.Millisecond)

	// Invalidating through the other store instance is visible to both.
	require.NoError(t, s2.RevalidateTag(context.Background(), "t", nil))
	_, err := get(t, s1, "e")
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestStreamReplayAcrossGets(t *testing.T) {
	s, _ := newTestStore(t, Options{})

	value := cache.StreamValue(strings.NewReader("stream payload"))
	require.NoError(t, s.Set(context.Background(), "k", value, cache.WriteContext{}))

	for i := 0; i < 2; i++ {
		entry, err := get(t, s, "k")
		require.NoError(t, err)
		r, err := entry.Value.Reader()
		require.NoError(t, err)
		b, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, "stream payload", string(b), "read %d", i+1)
	}
}

func TestOversizedWriteRefusedSilently(t *testing.T) {
	metrics := &cache.Metrics{}
	s, _ := newTestStore(t, Options{MaxItemSizeBytes: 4, Metrics: metrics})

	require.NoError(t, s.Set(context.Background(), "big", cache.BytesValue([]byte("too large")), cache.WriteContext{}))

	_, err := get(t, s, "big")
	assert.ErrorIs(t, err, cache.ErrNotFound)
	assert.Equal(t, 0, s.Len(), "entry count must not increase")
	assert.Equal(t, int64(1), metrics.Snapshot().OversizeRejects)
	assert.Zero(t, metrics.Snapshot().BackendErrors, "a refused write is policy, not failure")
}

func TestDeleteIsIdempotent(t *testing.T) {
	s, _ := newTestStore(t, Options{})

	set(t, s, "k", "v", cache.WriteContext{})
	require.NoError(t, s.Delete(context.Background(), "k"))
	require.NoError(t, s.Delete(context.Background(), "k"))

	_, err := get(t, s, "k")
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestMaxInvalidationInstant(t *testing.T) {
	s, clock := newTestStore(t, Options{})

	require.NoError(t, s.RevalidateTag(context.Background(), "t", nil))
	instant, err := s.MaxInvalidationInstant(context.Background(), []string{"t", "other"})
	require.NoError(t, err)
	assert.Equal(t, clock.Now().UnixMilli(), instant)
}

// blockingReader releases its payload only once unblock is closed, modelling
// a value that is still being produced while Set is in flight.
type blockingReader struct {
	unblock <-chan struct{}
	payload *strings.Reader
	once    sync.Once
}

func (b *blockingReader) Read(p []byte) (int, error) {
	b.once.Do(func() { <-b.unblock })
	return b.payload.Read(p)
}

func TestGetWaitsForInFlightWrite(t *testing.T) {
	s, _ := newTestStore(t, Options{})

	unblock := make(chan struct{})
	value := cache.StreamValue(&blockingReader{
		unblock: unblock,
		payload: strings.NewReader("committed"),
	})

	setDone := make(chan error, 1)
	go func() {
		setDone <- s.Set(context.Background(), "k", value, cache.WriteContext{})
	}()

	// Give Set time to register its flight and block on the stream.
	time.Sleep(20 * time.Millisecond)

	type result struct {
		entry *cache.Entry
		err   error
	}
	getDone := make(chan result, 1)
	go func() {
		entry, err := get(t, s, "k")
		getDone <- result{entry, err}
	}()

	select {
	case <-getDone:
		t.Fatal("Get resolved while the write was still in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(unblock)
	require.NoError(t, <-setDone)

	select {
	case res := <-getDone:
		require.NoError(t, res.err, "the waiting Get must observe the committed value, not a miss")
		b, err := res.entry.Value.Bytes()
		require.NoError(t, err)
		assert.Equal(t, "committed", string(b))
	case <-time.After(time.Second):
		t.Fatal("Get never resolved after the write settled")
	}
}

func TestConcurrentMixedOperations(t *testing.T) {
	s, _ := newTestStore(t, Options{MaxItems: 64})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			keys := []string{"a", "b", "c", "d"}
			for i := 0; i < 200; i++ {
				key := keys[(worker+i)%len(keys)]
				switch i % 3 {
				case 0:
					_ = s.Set(context.Background(), key, cache.BytesValue([]byte(key)), cache.WriteContext{Tags: []string{"shared"}})
				case 1:
					if entry, err := s.Get(context.Background(), key, nil); err == nil {
						if b, err := entry.Value.Bytes(); err == nil && string(b) != key {
							t.Errorf("worker %d: got %q for key %q", worker, b, key)
							return
						}
					}
				default:
					_ = s.Delete(context.Background(), key)
				}
			}
		}(w)
	}
	wg.Wait()
}
