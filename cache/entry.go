package cache

// Every instant in the engine is int64 milliseconds since epoch. Seconds
// appear only at the configuration surface (revalidation periods, default
// TTLs, invalidation durations) and are converted exactly once.

// Entry is the unit of storage: a key, a replayable value, the tags the entry
// depends on, and its time bounds.
type Entry struct {
	Key       string
	Value     *Value
	Tags      []string
	CreatedAt int64

	// Lifespan is nil for entries that never expire by time.
	Lifespan *Lifespan

	// Stale is a read-time marker, never stored: the entry is still
	// returnable but a tag invalidation asks for a background refresh.
	Stale bool
}

// Lifespan holds the absolute stale/expire horizons for an entry. Both are
// derived once at write time and never recomputed; a new Set produces a new
// lifespan.
type Lifespan struct {
	StaleAt  int64 `json:"staleAt"`
	ExpireAt int64 `json:"expireAt"`
}

type revalidateMode int

const (
	revalidateUnset revalidateMode = iota
	revalidateNever
	revalidateAfter
)

// Revalidate expresses a requested revalidation period: unset (fall back to
// the store default), never (the entry has no time bound), or after N
// seconds. The zero value is unset.
type Revalidate struct {
	mode    revalidateMode
	seconds int64
}

// RevalidateAfter requests expiration after the given number of seconds.
func RevalidateAfter(seconds int64) Revalidate {
	return Revalidate{mode: revalidateAfter, seconds: seconds}
}

// RevalidateNever requests an entry with no time bound, overriding any
// store default.
func RevalidateNever() Revalidate {
	return Revalidate{mode: revalidateNever}
}

// ComputeLifespan turns a revalidation request into absolute horizons.
// Pure: now is the caller's clock reading in milliseconds.
//
// Policy: the write-time stale and expire horizons are collapsed into one
// TTL (StaleAt == ExpireAt). Staleness that precedes expiration enters the
// system only through soft tag invalidation, where stale-while-revalidate
// actually needs it.
func ComputeLifespan(rev Revalidate, defaultTTLSeconds int64, now int64) *Lifespan {
	switch rev.mode {
	case revalidateNever:
		return nil
	case revalidateAfter:
		if rev.seconds <= 0 {
			return nil
		}
		at := now + rev.seconds*1000
		return &Lifespan{StaleAt: at, ExpireAt: at}
	default:
		if defaultTTLSeconds <= 0 {
			return nil
		}
		at := now + defaultTTLSeconds*1000
		return &Lifespan{StaleAt: at, ExpireAt: at}
	}
}

// Expired reports whether the lifespan's hard deadline has arrived.
// A nil lifespan never expires.
func (l *Lifespan) Expired(now int64) bool {
	return l != nil && l.ExpireAt <= now
}
