package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/sahaay-labs/sahaay/internal/cache"
	"github.com/sahaay-labs/sahaay/internal/domain"
	"github.com/sahaay-labs/sahaay/internal/telemetry"
)

// ChunkNeighbor is one nearest-neighbor row from the vector index, carrying
// the raw distance before score conversion.
type ChunkNeighbor struct {
	ID       string
	Content  string
	Source   string
	Title    string
	Category string
	URL      string
	Distance float64
}

// ChunkRepositoryInterface defines the vector store boundary.
type ChunkRepositoryInterface interface {
	Insert(ctx context.Context, chunks []domain.Chunk) error
	SearchNearest(ctx context.Context, embedding []float32, limit int) ([]*ChunkNeighbor, error)
	Count(ctx context.Context) (int64, error)
	DeleteAll(ctx context.Context) error
}

// Embedder defines the embedding stage interface consumed by retrieval.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// RetrievalConfig controls retrieval defaults and caching.
type RetrievalConfig struct {
	TopK           int
	ScoreThreshold float64
	CacheTTL       time.Duration
}

// DefaultRetrievalConfig returns the default retrieval configuration.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		TopK:           5,
		ScoreThreshold: 0.5,
		CacheTTL:       time.Hour,
	}
}

// RetrievalService answers top-K similarity queries over the chunk index,
// consulting the cache keyed by (query, k, threshold).
type RetrievalService struct {
	repo      ChunkRepositoryInterface
	embedding Embedder
	cache     cache.Store
	cfg       RetrievalConfig
}

// NewRetrievalService creates a new RetrievalService instance
func NewRetrievalService(repo ChunkRepositoryInterface, embedding Embedder, store cache.Store) *RetrievalService {
	return NewRetrievalServiceWithConfig(repo, embedding, store, DefaultRetrievalConfig())
}

// NewRetrievalServiceWithConfig creates a RetrievalService with explicit configuration.
func NewRetrievalServiceWithConfig(repo ChunkRepositoryInterface, embedding Embedder, store cache.Store, cfg RetrievalConfig) *RetrievalService {
	return &RetrievalService{
		repo:      repo,
		embedding: embedding,
		cache:     store,
		cfg:       cfg,
	}
}

// Retrieve returns up to topK chunks with score >= scoreThreshold, ordered by
// descending score. An empty index yields an empty list, never an error.
func (s *RetrievalService) Retrieve(ctx context.Context, query string, topK int, scoreThreshold float64) ([]domain.RetrievedResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.ErrEmptyQuery
	}
	if topK <= 0 {
		topK = s.cfg.TopK
	}
	if scoreThreshold <= 0 {
		scoreThreshold = s.cfg.ScoreThreshold
	}

	ctx, span := telemetry.StartSpan(ctx, "RetrievalService.Retrieve", telemetry.SpanAttributes{
		Operation: "retrieve",
	})
	defer span.End()

	key := cache.Key(cache.NamespaceRetrieval, query, fmt.Sprintf("%d", topK), fmt.Sprintf("%g", scoreThreshold))
	if data, ok := s.cache.Get(key); ok {
		var cached []domain.RetrievedResult
		if err := json.Unmarshal(data, &cached); err == nil {
			return cached, nil
		}
		log.Printf("retrieval: corrupt cache entry %s (treating as miss)", key)
	}

	embedding, err := s.embedding.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	// Over-fetch to compensate for threshold filtering below.
	neighbors, err := s.repo.SearchNearest(ctx, embedding, 2*topK)
	if err != nil {
		span.SetError(err)
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeBackendUnavailable, "vector store query failed", err)
	}

	results := make([]domain.RetrievedResult, 0, len(neighbors))
	for _, n := range neighbors {
		score := scoreFromDistance(n.Distance)
		if score < scoreThreshold {
			continue
		}
		results = append(results, domain.RetrievedResult{
			Content:  n.Content,
			Score:    score,
			Source:   n.Source,
			Category: n.Category,
			URL:      n.URL,
			Title:    n.Title,
		})
	}

	// Stable sort keeps insertion order for equal scores.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}

	if data, err := json.Marshal(results); err == nil {
		s.cache.Set(key, data, s.cfg.CacheTTL)
	}

	return results, nil
}

// Add appends chunks to the index, computing embeddings for any chunk that
// arrives without one.
func (s *RetrievalService) Add(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	ctx, span := telemetry.StartSpan(ctx, "RetrievalService.Add", telemetry.SpanAttributes{
		Operation: "index_add",
	})
	defer span.End()

	var missing []string
	var missingIdx []int
	for i, c := range chunks {
		if len(c.Embedding) == 0 {
			missing = append(missing, c.Text)
			missingIdx = append(missingIdx, i)
		}
	}

	if len(missing) > 0 {
		embeddings, err := s.embedding.EmbedBatch(ctx, missing)
		if err != nil {
			span.SetError(err)
			return err
		}
		for j, vec := range embeddings {
			chunks[missingIdx[j]].Embedding = vec
		}
	}

	if err := s.repo.Insert(ctx, chunks); err != nil {
		span.SetError(err)
		return domain.NewDomainErrorWithCause(domain.ErrCodeBackendUnavailable, "vector store insert failed", err)
	}
	return nil
}

// Count reports how many chunks are indexed.
func (s *RetrievalService) Count(ctx context.Context) (int64, error) {
	return s.repo.Count(ctx)
}

// DeleteAll clears the index and invalidates the retrieval cache namespace.
func (s *RetrievalService) DeleteAll(ctx context.Context) error {
	if err := s.repo.DeleteAll(ctx); err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeBackendUnavailable, "vector store reset failed", err)
	}
	if err := s.cache.ClearNamespace(cache.NamespaceRetrieval); err != nil {
		// Stale retrieval entries expire on their own; log and move on.
		log.Printf("retrieval: failed to clear cache namespace: %v", err)
	}
	return nil
}

// scoreFromDistance converts an index distance to a bounded similarity in
// (0, 1]; smaller distance means higher score. The exact transform is a
// tunable, calibrated together with the score threshold default.
func scoreFromDistance(d float64) float64 {
	if d < 0 {
		d = 0
	}
	return 1 / (1 + math.Sqrt(d))
}
