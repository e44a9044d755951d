// Package cache provides the disk-backed TTL cache shared by the embedding,
// retrieval, and response stages. Cache failures degrade to misses; callers
// must treat the cache strictly as an optimization.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Namespaces used by the pipeline. Keys are content-addressed, so concurrent
// writers to the same key racing is acceptable (last-writer-wins).
const (
	NamespaceEmbedding = "emb"
	NamespaceRetrieval = "ret"
	NamespaceResponse  = "ans"
)

// Stats reports cache effectiveness counters.
type Stats struct {
	Size      int64 `json:"size"`
	HitCount  int64 `json:"hit_count"`
	MissCount int64 `json:"miss_count"`
}

// Store is the cache contract consumed by the pipeline stages.
type Store interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration)
	ClearNamespace(namespace string) error
	Clear() error
	Stats() Stats
}

// Purger is implemented by stores that support lazy-expiry compaction; the
// cache janitor job drives it.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Key builds a namespaced, content-addressed cache key from its input parts.
func Key(namespace string, parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return namespace + ":" + hex.EncodeToString(h[:])
}
