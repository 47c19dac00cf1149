package memory

import (
	"log/slog"
	"time"

	"github.com/adeilh/go-tagcache/cache"
)

// Options controls the in-process store.
type Options struct {
	// MaxItems is the item-count ceiling before LRU eviction triggers.
	// <= 0 means unbounded.
	MaxItems int

	// MaxItemSizeBytes is the per-entry admission ceiling. A larger value
	// is silently refused, not stored and not an error. <= 0 disables the
	// check.
	MaxItemSizeBytes int64

	// DefaultTTLSeconds is the fallback revalidation period applied when a
	// write requests none. <= 0 means entries without an explicit period
	// never expire.
	DefaultTTLSeconds int64

	// Manifest is the shared tag ledger. Every store instance in the same
	// process should receive the same manifest so an invalidation issued
	// through any one of them is visible to all. Nil gets a private one.
	Manifest *cache.Manifest

	// Clock overrides the store's time source, for tests.
	Clock func() time.Time

	// Logger receives degradation and policy events. Nil uses slog.Default.
	Logger *slog.Logger

	// Metrics receives outcome counts. Optional.
	Metrics *cache.Metrics
}

func (o Options) withDefaults() Options {
	if o.Manifest == nil {
		o.Manifest = cache.NewManifest()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}
