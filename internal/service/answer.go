package service

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/sahaay-labs/sahaay/internal/cache"
	"github.com/sahaay-labs/sahaay/internal/classify"
	"github.com/sahaay-labs/sahaay/internal/domain"
	"github.com/sahaay-labs/sahaay/internal/llm"
	"github.com/sahaay-labs/sahaay/internal/telemetry"
)

// Retriever defines the retrieval stage interface consumed by the orchestrator.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int, scoreThreshold float64) ([]domain.RetrievedResult, error)
}

// Generator defines the generation stage interface consumed by the orchestrator.
type Generator interface {
	Generate(ctx context.Context, req llm.Request) (*GenerationResult, error)
	GenerateStream(ctx context.Context, req llm.Request) (<-chan llm.Fragment, string, error)
	ParseStructured(raw, language string) *domain.StructuredAnswer
}

// CrimeClassifier assigns a crime-type category to a query.
type CrimeClassifier interface {
	Classify(query string) (classify.Category, error)
}

// QueryLogEntry is one usage telemetry record.
type QueryLogEntry struct {
	Query       string
	Language    string
	CrimeType   string
	CacheHit    bool
	ResultCount int
	Provider    string
	Failed      bool
	DurationMs  int64
}

// QueryLogRepositoryInterface persists usage telemetry.
type QueryLogRepositoryInterface interface {
	CreateQueryLog(ctx context.Context, entry QueryLogEntry) error
}

// AnswerInput is the orchestrator entry point input.
type AnswerInput struct {
	Query          string
	Language       string
	IncludeSources bool
}

// AnswerConfig controls orchestration parameters.
type AnswerConfig struct {
	TopK           int
	ScoreThreshold float64
	Temperature    float32
	MaxTokens      int
	ResponseTTL    time.Duration
}

// DefaultAnswerConfig returns the default orchestrator configuration.
func DefaultAnswerConfig() AnswerConfig {
	return AnswerConfig{
		TopK:           5,
		ScoreThreshold: 0.5,
		Temperature:    0.2,
		MaxTokens:      1024,
		ResponseTTL:    24 * time.Hour,
	}
}

// AnswerService orchestrates one request through the pipeline:
// cache check, classify, retrieve, generate, assemble, cache write, log.
type AnswerService struct {
	retriever  Retriever
	generator  Generator
	classifier CrimeClassifier
	cache      cache.Store
	logs       QueryLogRepositoryInterface
	cfg        AnswerConfig
}

// NewAnswerService creates a new AnswerService instance. logs may be nil when
// usage telemetry persistence is not configured.
func NewAnswerService(
	retriever Retriever,
	generator Generator,
	classifier CrimeClassifier,
	store cache.Store,
	logs QueryLogRepositoryInterface,
) *AnswerService {
	return NewAnswerServiceWithConfig(retriever, generator, classifier, store, logs, DefaultAnswerConfig())
}

// NewAnswerServiceWithConfig creates an AnswerService with explicit configuration.
func NewAnswerServiceWithConfig(
	retriever Retriever,
	generator Generator,
	classifier CrimeClassifier,
	store cache.Store,
	logs QueryLogRepositoryInterface,
	cfg AnswerConfig,
) *AnswerService {
	return &AnswerService{
		retriever:  retriever,
		generator:  generator,
		classifier: classifier,
		cache:      store,
		logs:       logs,
		cfg:        cfg,
	}
}

// Answer runs the full pipeline for one query. Classification and retrieval
// failures degrade; only generation failure is fatal for the request.
func (s *AnswerService) Answer(ctx context.Context, input AnswerInput) (*domain.StructuredAnswer, error) {
	start := time.Now()

	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, domain.ErrEmptyQuery
	}
	language := input.Language
	if language == "" {
		language = "en"
	}

	ctx, span := telemetry.StartSpan(ctx, "AnswerService.Answer", telemetry.SpanAttributes{
		Language:  language,
		Operation: "answer",
	})
	defer span.End()

	key := cache.Key(cache.NamespaceResponse, query, language)
	if cached, ok := s.cachedAnswer(key); ok {
		cached.LatencyMS = time.Since(start).Milliseconds()
		s.writeLog(ctx, QueryLogEntry{
			Query:      query,
			Language:   language,
			CacheHit:   true,
			DurationMs: cached.LatencyMS,
		})
		return s.projectSources(cached, input.IncludeSources), nil
	}

	category, err := s.classifier.Classify(query)
	if err != nil {
		log.Printf("answer: classification failed (using unclassified): %v", err)
		category = classify.CategoryUnclassified
	}
	span.SetTag("crime_type", string(category))

	results, err := s.retriever.Retrieve(ctx, query, s.cfg.TopK, s.cfg.ScoreThreshold)
	if err != nil {
		// Degrade to generation without context.
		log.Printf("answer: retrieval failed (continuing without context): %v", err)
		telemetry.CaptureError(ctx, err)
		results = nil
	}

	genResult, err := s.generator.Generate(ctx, llm.Request{
		Prompt:      BuildPrompt(query, category, results, language),
		Language:    language,
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	})
	if err != nil {
		elapsed := time.Since(start).Milliseconds()
		s.writeLog(ctx, QueryLogEntry{
			Query:       query,
			Language:    language,
			CrimeType:   string(category),
			ResultCount: len(results),
			Failed:      true,
			DurationMs:  elapsed,
		})
		span.SetError(err)
		return nil, err
	}

	answer := s.generator.ParseStructured(genResult.Text, language)
	answer.Sources = sourcesFromResults(results)
	answer.Language = language
	answer.LatencyMS = time.Since(start).Milliseconds()

	s.storeAnswer(key, answer)
	s.writeLog(ctx, QueryLogEntry{
		Query:       query,
		Language:    language,
		CrimeType:   string(category),
		ResultCount: len(results),
		Provider:    genResult.Provider,
		DurationMs:  answer.LatencyMS,
	})

	return s.projectSources(answer, input.IncludeSources), nil
}

// AnswerStream runs the pipeline but streams generation output. A response
// cache hit is served as a single fragment; streamed output is never written
// back to the response cache.
func (s *AnswerService) AnswerStream(ctx context.Context, input AnswerInput) (<-chan llm.Fragment, error) {
	start := time.Now()

	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, domain.ErrEmptyQuery
	}
	language := input.Language
	if language == "" {
		language = "en"
	}

	key := cache.Key(cache.NamespaceResponse, query, language)
	if cached, ok := s.cachedAnswer(key); ok {
		cached.LatencyMS = time.Since(start).Milliseconds()
		data, err := json.Marshal(s.projectSources(cached, input.IncludeSources))
		if err == nil {
			ch := make(chan llm.Fragment, 1)
			ch <- llm.Fragment{Text: string(data)}
			close(ch)
			s.writeLog(ctx, QueryLogEntry{
				Query:      query,
				Language:   language,
				CacheHit:   true,
				DurationMs: cached.LatencyMS,
			})
			return ch, nil
		}
	}

	category, err := s.classifier.Classify(query)
	if err != nil {
		category = classify.CategoryUnclassified
	}

	results, err := s.retriever.Retrieve(ctx, query, s.cfg.TopK, s.cfg.ScoreThreshold)
	if err != nil {
		log.Printf("answer: retrieval failed (streaming without context): %v", err)
		results = nil
	}

	ch, provider, err := s.generator.GenerateStream(ctx, llm.Request{
		Prompt:      BuildPrompt(query, category, results, language),
		Language:    language,
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	})
	if err != nil {
		s.writeLog(ctx, QueryLogEntry{
			Query:       query,
			Language:    language,
			CrimeType:   string(category),
			ResultCount: len(results),
			Failed:      true,
			DurationMs:  time.Since(start).Milliseconds(),
		})
		return nil, err
	}

	s.writeLog(ctx, QueryLogEntry{
		Query:       query,
		Language:    language,
		CrimeType:   string(category),
		ResultCount: len(results),
		Provider:    provider,
		DurationMs:  time.Since(start).Milliseconds(),
	})
	return ch, nil
}

func (s *AnswerService) cachedAnswer(key string) (*domain.StructuredAnswer, bool) {
	data, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}
	var answer domain.StructuredAnswer
	if err := json.Unmarshal(data, &answer); err != nil {
		log.Printf("answer: corrupt cache entry %s (treating as miss): %v", key, err)
		return nil, false
	}
	return &answer, true
}

func (s *AnswerService) storeAnswer(key string, answer *domain.StructuredAnswer) {
	data, err := json.Marshal(answer)
	if err != nil {
		return
	}
	s.cache.Set(key, data, s.cfg.ResponseTTL)
}

// projectSources returns answer with Sources stripped unless requested. The
// cache always holds the full answer.
func (s *AnswerService) projectSources(answer *domain.StructuredAnswer, include bool) *domain.StructuredAnswer {
	if include {
		return answer
	}
	projected := *answer
	projected.Sources = nil
	return &projected
}

func (s *AnswerService) writeLog(ctx context.Context, entry QueryLogEntry) {
	if s.logs == nil {
		return
	}
	if err := s.logs.CreateQueryLog(ctx, entry); err != nil {
		log.Printf("answer: failed to write query log: %v", err)
	}
}

func sourcesFromResults(results []domain.RetrievedResult) []string {
	if len(results) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(results))
	sources := make([]string, 0, len(results))
	for _, r := range results {
		if r.Source == "" {
			continue
		}
		if _, ok := seen[r.Source]; ok {
			continue
		}
		seen[r.Source] = struct{}{}
		sources = append(sources, r.Source)
	}
	return sources
}
