package redis

import (
	"log/slog"
	"time"

	"github.com/adeilh/go-tagcache/cache"
)

// Options controls how the remote store connects to Redis and how it
// namespaces its keys.
type Options struct {
	Addr     string
	Password string
	DB       int

	// KeyPrefix namespaces entry keys; TagPrefix names the hash holding
	// the shared tag ledger. Distinct prefixes let several logical caches
	// share one physical server without collision.
	KeyPrefix string
	TagPrefix string

	// DefaultTTLSeconds is the fallback revalidation period applied when a
	// write requests none.
	DefaultTTLSeconds int64

	// Timeout bounds every store-level operation. A timed-out operation
	// fails as if the backend were unavailable.
	Timeout time.Duration

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int

	// Clock overrides the store's time source, for tests. Lifespans are
	// re-checked against this clock on every read; the server-side TTL
	// alone is not trusted across divergent clocks.
	Clock func() time.Time

	// Logger receives degradation events. Nil uses slog.Default.
	Logger *slog.Logger

	// Metrics receives outcome counts. Optional.
	Metrics *cache.Metrics
}

func (o Options) withDefaults() Options {
	if o.Addr == "" {
		o.Addr = "127.0.0.1:6379"
	}
	if o.KeyPrefix == "" {
		o.KeyPrefix = "cache:"
	}
	if o.TagPrefix == "" {
		o.TagPrefix = "cache:tags"
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 2 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 2 * time.Second
	}
	if o.DB < 0 {
		o.DB = 0
	}
	if o.PoolSize <= 0 {
		o.PoolSize = 8
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}
