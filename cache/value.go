package cache

import (
	"bytes"
	"io"
	"sync"
)

// Value is a replayable cache payload. It is built either from materialized
// bytes or from a byte stream that is drained at most once; after draining,
// every Reader call hands out an independent view over the same bytes, so a
// second Get observes the full payload rather than an exhausted stream.
type Value struct {
	mu      sync.Mutex
	src     io.Reader
	buf     []byte
	drained bool
	err     error
}

// BytesValue builds a value from materialized bytes. The slice is copied;
// the store owns its copy exclusively.
func BytesValue(b []byte) *Value {
	return &Value{buf: append([]byte(nil), b...), drained: true}
}

// StreamValue builds a value from a lazily-produced byte stream. The stream
// is consumed on first use; draining may block until the producer finishes.
func StreamValue(r io.Reader) *Value {
	return &Value{src: r}
}

// Bytes drains the underlying stream if needed and returns the payload.
// The returned slice is shared and must not be mutated. A drain failure is
// sticky: the value stays unusable and every call reports the same error.
func (v *Value) Bytes() ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.drain(); err != nil {
		return nil, err
	}
	return v.buf, nil
}

// Reader returns a fresh, independent reader over the payload. Each call
// yields a new view; consuming one does not affect another.
func (v *Value) Reader() (io.Reader, error) {
	b, err := v.Bytes()
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(b), nil
}

// Size reports the drained payload length, used for admission control.
func (v *Value) Size() (int64, error) {
	b, err := v.Bytes()
	if err != nil {
		return 0, err
	}
	return int64(len(b)), nil
}

func (v *Value) drain() error {
	if v.err != nil {
		return v.err
	}
	if v.drained {
		return nil
	}
	b, err := io.ReadAll(v.src)
	v.src = nil
	if err != nil {
		v.err = err
		return err
	}
	v.buf = b
	v.drained = true
	return nil
}
