package service

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"strings"
	"time"

	"github.com/sahaay-labs/sahaay/internal/cache"
	"github.com/sahaay-labs/sahaay/internal/domain"
)

// EmbeddingClient defines the interface for the embedding model backend
type EmbeddingClient interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbeddingConfig controls embedding cache behavior.
type EmbeddingConfig struct {
	CacheTTL time.Duration
	// Model scopes cache keys so switching embedding models never serves
	// vectors computed by the previous model.
	Model string
}

// DefaultEmbeddingConfig returns the default embedding configuration.
// Embeddings for identical text never change, so the TTL is long.
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{CacheTTL: 30 * 24 * time.Hour}
}

// EmbeddingService converts text to unit-length vectors, consulting the cache
// before invoking the embedding model.
type EmbeddingService struct {
	client EmbeddingClient
	cache  cache.Store
	cfg    EmbeddingConfig
}

// NewEmbeddingService creates a new EmbeddingService instance
func NewEmbeddingService(client EmbeddingClient, store cache.Store) *EmbeddingService {
	return NewEmbeddingServiceWithConfig(client, store, DefaultEmbeddingConfig())
}

// NewEmbeddingServiceWithConfig creates an EmbeddingService with explicit configuration.
func NewEmbeddingServiceWithConfig(client EmbeddingClient, store cache.Store, cfg EmbeddingConfig) *EmbeddingService {
	return &EmbeddingService{
		client: client,
		cache:  store,
		cfg:    cfg,
	}
}

// Embed returns the embedding for text, from cache when possible. Identical
// text yields bit-identical vectors while the cache entry is unexpired.
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.ErrEmptyText
	}

	key := s.cacheKey(text)
	if vec, ok := s.cachedVector(key); ok {
		return vec, nil
	}

	raw, err := s.client.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeBackendUnavailable, "embedding backend unavailable", err)
	}

	vec := normalizeVector(raw)
	s.storeVector(key, vec)
	return vec, nil
}

// EmbedBatch embeds texts preserving input order. Already-cached texts are
// served from cache; the rest go to the model in a single call.
func (s *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, len(texts))
	var uncached []string
	var uncachedIdx []int

	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, domain.ErrEmptyText
		}
		key := s.cacheKey(text)
		if vec, ok := s.cachedVector(key); ok {
			out[i] = vec
			continue
		}
		uncached = append(uncached, text)
		uncachedIdx = append(uncachedIdx, i)
	}

	if len(uncached) == 0 {
		return out, nil
	}

	raw, err := s.client.GenerateEmbeddings(ctx, uncached)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeBackendUnavailable, "embedding backend unavailable", err)
	}
	if len(raw) != len(uncached) {
		return nil, domain.NewDomainError(domain.ErrCodeMalformedOutput, "embedding batch size mismatch")
	}

	for j, vec := range raw {
		normalized := normalizeVector(vec)
		i := uncachedIdx[j]
		out[i] = normalized
		s.storeVector(s.cacheKey(texts[i]), normalized)
	}

	return out, nil
}

func (s *EmbeddingService) cacheKey(text string) string {
	return cache.Key(cache.NamespaceEmbedding, s.cfg.Model, text)
}

func (s *EmbeddingService) cachedVector(key string) ([]float32, bool) {
	data, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		log.Printf("embedding: corrupt cache entry %s (treating as miss): %v", key, err)
		return nil, false
	}
	return vec, true
}

func (s *EmbeddingService) storeVector(key string, vec []float32) {
	data, err := json.Marshal(vec)
	if err != nil {
		return
	}
	s.cache.Set(key, data, s.cfg.CacheTTL)
}

// normalizeVector scales v to unit length so cosine similarity downstream is
// a plain dot product. Zero vectors are returned unchanged.
func normalizeVector(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
