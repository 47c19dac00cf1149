package redis

import (
	"encoding/json"
	"fmt"

	"github.com/adeilh/go-tagcache/cache"
)

// storedEntry is the wire envelope for a cache entry. The payload travels
// base64-encoded (encoding/json's []byte representation), so the envelope is
// safe over the text protocol. Instants are milliseconds since epoch, same
// as everywhere else in the engine.
type storedEntry struct {
	Value     []byte          `json:"value"`
	Tags      []string        `json:"tags,omitempty"`
	CreatedAt int64           `json:"createdAt"`
	Lifespan  *cache.Lifespan `json:"lifespan,omitempty"`
}

func encodeEntry(payload []byte, tags []string, createdAt int64, ls *cache.Lifespan) ([]byte, error) {
	env := storedEntry{
		Value:     payload,
		Tags:      tags,
		CreatedAt: createdAt,
		Lifespan:  ls,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("redis: encode entry: %w", err)
	}
	return data, nil
}

func decodeEntry(data []byte) (storedEntry, error) {
	var env storedEntry
	if err := json.Unmarshal(data, &env); err != nil {
		return storedEntry{}, fmt.Errorf("redis: decode entry: %w", err)
	}
	return env, nil
}

func encodeTagRecord(rec cache.TagRecord) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("redis: encode tag record: %w", err)
	}
	return data, nil
}

func decodeTagRecord(data []byte) (cache.TagRecord, error) {
	var rec cache.TagRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return cache.TagRecord{}, fmt.Errorf("redis: decode tag record: %w", err)
	}
	return rec, nil
}
