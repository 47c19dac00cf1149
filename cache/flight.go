package cache

import (
	"context"
	"sync"
)

// Flights tracks one outstanding write per key so that a Get issued while a
// Set for the same key is still draining its value waits for the write to
// settle instead of observing a miss or a half-written entry. Writes to the
// same key serialize; different keys never block each other.
//
// The zero value is not usable; call NewFlights.
type Flights struct {
	mu sync.Mutex
	m  map[string]chan struct{}
}

// NewFlights builds an empty tracker.
func NewFlights() *Flights {
	return &Flights{m: make(map[string]chan struct{})}
}

// Begin registers an in-flight write for key, waiting first for any prior
// write on the same key. The returned func settles the flight and must be
// called exactly once, on both the success and failure paths.
func (f *Flights) Begin(ctx context.Context, key string) (func(), error) {
	for {
		f.mu.Lock()
		prior, ok := f.m[key]
		if !ok {
			done := make(chan struct{})
			f.m[key] = done
			f.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					f.mu.Lock()
					delete(f.m, key)
					f.mu.Unlock()
					close(done)
				})
			}, nil
		}
		f.mu.Unlock()

		select {
		case <-prior:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Wait blocks until no write is in flight for key.
func (f *Flights) Wait(ctx context.Context, key string) error {
	for {
		f.mu.Lock()
		inflight, ok := f.m[key]
		f.mu.Unlock()
		if !ok {
			return nil
		}
		select {
		case <-inflight:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
