package redis

import (
	"strings"
	"testing"

	"github.com/adeilh/go-tagcache/cache"
)

func TestEntryCodecRoundTrip(t *testing.T) {
	ls := &cache.Lifespan{StaleAt: 1_500, ExpireAt: 1_500}
	data, err := encodeEntry([]byte("payload"), []string{"a", "b"}, 1_000, ls)
	if err != nil {
		t.Fatalf("encodeEntry() error = %v", err)
	}

	env, err := decodeEntry(data)
	if err != nil {
		t.Fatalf("decodeEntry() error = %v", err)
	}
	if string(env.Value) != "payload" {
		t.Fatalf("Value = %q, want %q", env.Value, "payload")
	}
	if len(env.Tags) != 2 || env.Tags[0] != "a" || env.Tags[1] != "b" {
		t.Fatalf("Tags = %v, want [a b]", env.Tags)
	}
	if env.CreatedAt != 1_000 {
		t.Fatalf("CreatedAt = %d, want 1000", env.CreatedAt)
	}
	if env.Lifespan == nil || env.Lifespan.ExpireAt != 1_500 {
		t.Fatalf("Lifespan = %+v, want ExpireAt 1500", env.Lifespan)
	}
}

func TestEntryCodecPayloadIsTextSafe(t *testing.T) {
	data, err := encodeEntry([]byte{0x00, 0xff, 0x10}, nil, 1, nil)
	if err != nil {
		t.Fatalf("encodeEntry() error = %v", err)
	}
	// The payload must travel base64-encoded inside the JSON envelope, not
	// as raw bytes.
	if strings.ContainsRune(string(data), 0x00) {
		t.Fatalf("wire form contains raw binary: %q", data)
	}
}

func TestEntryCodecOmitsAbsentLifespan(t *testing.T) {
	data, err := encodeEntry([]byte("v"), nil, 1, nil)
	if err != nil {
		t.Fatalf("encodeEntry() error = %v", err)
	}
	if strings.Contains(string(data), "lifespan") {
		t.Fatalf("never-expiring entry should omit lifespan: %s", data)
	}
	env, err := decodeEntry(data)
	if err != nil {
		t.Fatalf("decodeEntry() error = %v", err)
	}
	if env.Lifespan != nil {
		t.Fatalf("Lifespan = %+v, want nil", env.Lifespan)
	}
}

func TestDecodeEntryRejectsGarbage(t *testing.T) {
	if _, err := decodeEntry([]byte("not json")); err == nil {
		t.Fatal("expected decode error for garbage payload")
	}
}

func TestTagRecordCodecRoundTrip(t *testing.T) {
	data, err := encodeTagRecord(cache.TagRecord{StaleAt: 10, ExpiredAt: 20})
	if err != nil {
		t.Fatalf("encodeTagRecord() error = %v", err)
	}
	rec, err := decodeTagRecord(data)
	if err != nil {
		t.Fatalf("decodeTagRecord() error = %v", err)
	}
	if rec.StaleAt != 10 || rec.ExpiredAt != 20 {
		t.Fatalf("record = %+v, want {10 20}", rec)
	}
}
