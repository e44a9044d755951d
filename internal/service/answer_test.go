package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sahaay-labs/sahaay/internal/classify"
	"github.com/sahaay-labs/sahaay/internal/domain"
	"github.com/sahaay-labs/sahaay/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockRetriever is a mock implementation of Retriever
type MockRetriever struct {
	mock.Mock
}

func (m *MockRetriever) Retrieve(ctx context.Context, query string, topK int, scoreThreshold float64) ([]domain.RetrievedResult, error) {
	args := m.Called(ctx, query, topK, scoreThreshold)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.RetrievedResult), args.Error(1)
}

// MockGenerator is a mock implementation of Generator
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, req llm.Request) (*GenerationResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*GenerationResult), args.Error(1)
}

func (m *MockGenerator) GenerateStream(ctx context.Context, req llm.Request) (<-chan llm.Fragment, string, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).(<-chan llm.Fragment), args.String(1), args.Error(2)
}

func (m *MockGenerator) ParseStructured(raw, language string) *domain.StructuredAnswer {
	args := m.Called(raw, language)
	return args.Get(0).(*domain.StructuredAnswer)
}

// MockQueryLogRepository is a mock implementation of QueryLogRepositoryInterface
type MockQueryLogRepository struct {
	mock.Mock
}

func (m *MockQueryLogRepository) CreateQueryLog(ctx context.Context, entry QueryLogEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func fraudResults() []domain.RetrievedResult {
	return []domain.RetrievedResult{
		{Content: "Call 1930 within the golden hour.", Score: 0.9, Source: "sop-upi.md", Category: "financial_fraud"},
		{Content: "File at the portal.", Score: 0.7, Source: "portal-guide.md"},
		{Content: "Keep the transaction ID.", Score: 0.6, Source: "sop-upi.md"},
	}
}

func fraudAnswer() *domain.StructuredAnswer {
	return &domain.StructuredAnswer{
		ImmediateActions: []string{"Call the national helpline " + domain.HelplineNumber},
		Steps:            []string{"Report at " + domain.PortalURL, "Preserve evidence"},
		Language:         "en",
	}
}

func TestAnswerService_Answer_FullPipeline(t *testing.T) {
	ctx := context.Background()
	retriever := new(MockRetriever)
	generator := new(MockGenerator)
	logs := new(MockQueryLogRepository)
	svc := NewAnswerService(retriever, generator, classify.New(), newFakeCache(), logs)

	query := "someone took money from my account via a fake UPI request"
	retriever.On("Retrieve", mock.Anything, query, 5, 0.5).Return(fraudResults(), nil)
	generator.On("Generate", mock.Anything, mock.MatchedBy(func(req llm.Request) bool {
		// The prompt must carry the retrieved context and the category.
		return req.Language == "en" && len(req.Prompt) > 0
	})).Return(&GenerationResult{Text: `{"steps":["..."]}`, Provider: "local"}, nil)
	generator.On("ParseStructured", `{"steps":["..."]}`, "en").Return(fraudAnswer())
	logs.On("CreateQueryLog", mock.Anything, mock.MatchedBy(func(e QueryLogEntry) bool {
		return !e.CacheHit && !e.Failed && e.Provider == "local" &&
			e.CrimeType == string(classify.CategoryFinancialFraud) && e.ResultCount == 3
	})).Return(nil)

	answer, err := svc.Answer(ctx, AnswerInput{Query: query, IncludeSources: true})
	require.NoError(t, err)

	assert.NotEmpty(t, answer.Steps)
	assert.Contains(t, answer.ImmediateActions[0], domain.HelplineNumber)
	// Sources deduplicated, insertion order preserved.
	assert.Equal(t, []string{"sop-upi.md", "portal-guide.md"}, answer.Sources)
	assert.GreaterOrEqual(t, answer.LatencyMS, int64(0))
	logs.AssertExpectations(t)
}

func TestAnswerService_Answer_SecondCallServedFromCache(t *testing.T) {
	ctx := context.Background()
	retriever := new(MockRetriever)
	generator := new(MockGenerator)
	logs := new(MockQueryLogRepository)
	svc := NewAnswerService(retriever, generator, classify.New(), newFakeCache(), logs)

	query := "my instagram account was hacked"
	retriever.On("Retrieve", mock.Anything, query, 5, 0.5).Return(fraudResults(), nil).Once()
	generator.On("Generate", mock.Anything, mock.Anything).
		Return(&GenerationResult{Text: "raw", Provider: "local"}, nil).Once()
	generator.On("ParseStructured", "raw", "en").Return(fraudAnswer()).Once()
	logs.On("CreateQueryLog", mock.Anything, mock.Anything).Return(nil)

	first, err := svc.Answer(ctx, AnswerInput{Query: query, IncludeSources: true})
	require.NoError(t, err)

	second, err := svc.Answer(ctx, AnswerInput{Query: query, IncludeSources: true})
	require.NoError(t, err)

	// No pipeline stage runs twice for an identical (query, language).
	retriever.AssertNumberOfCalls(t, "Retrieve", 1)
	generator.AssertNumberOfCalls(t, "Generate", 1)
	assert.Equal(t, first.Steps, second.Steps)
	assert.Equal(t, first.Sources, second.Sources)

	// The cache-hit path still writes a usage record.
	hitLogged := false
	for _, call := range logs.Calls {
		if entry, ok := call.Arguments.Get(1).(QueryLogEntry); ok && entry.CacheHit {
			hitLogged = true
		}
	}
	assert.True(t, hitLogged)
}

func TestAnswerService_Answer_DifferentLanguageMissesCache(t *testing.T) {
	ctx := context.Background()
	retriever := new(MockRetriever)
	generator := new(MockGenerator)
	svc := NewAnswerService(retriever, generator, classify.New(), newFakeCache(), nil)

	retriever.On("Retrieve", mock.Anything, "q", 5, 0.5).Return([]domain.RetrievedResult{}, nil)
	generator.On("Generate", mock.Anything, mock.Anything).
		Return(&GenerationResult{Text: "raw", Provider: "local"}, nil)
	generator.On("ParseStructured", "raw", "en").Return(fraudAnswer())
	generator.On("ParseStructured", "raw", "hi").Return(domain.SafetyFallbackAnswer("hi"))

	_, err := svc.Answer(ctx, AnswerInput{Query: "q", Language: "en"})
	require.NoError(t, err)
	_, err = svc.Answer(ctx, AnswerInput{Query: "q", Language: "hi"})
	require.NoError(t, err)

	generator.AssertNumberOfCalls(t, "Generate", 2)
}

func TestAnswerService_Answer_RetrievalFailureDegrades(t *testing.T) {
	ctx := context.Background()
	retriever := new(MockRetriever)
	generator := new(MockGenerator)
	svc := NewAnswerService(retriever, generator, classify.New(), newFakeCache(), nil)

	retriever.On("Retrieve", mock.Anything, "q", 5, 0.5).
		Return(nil, domain.ErrVectorStoreFailure)
	generator.On("Generate", mock.Anything, mock.Anything).
		Return(&GenerationResult{Text: "raw", Provider: "local"}, nil)
	generator.On("ParseStructured", "raw", "en").Return(fraudAnswer())

	answer, err := svc.Answer(ctx, AnswerInput{Query: "q", IncludeSources: true})
	require.NoError(t, err)
	assert.Empty(t, answer.Sources)
	generator.AssertNumberOfCalls(t, "Generate", 1)
}

func TestAnswerService_Answer_GenerationFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	retriever := new(MockRetriever)
	generator := new(MockGenerator)
	logs := new(MockQueryLogRepository)
	svc := NewAnswerService(retriever, generator, classify.New(), newFakeCache(), logs)

	retriever.On("Retrieve", mock.Anything, "q", 5, 0.5).Return([]domain.RetrievedResult{}, nil)
	generator.On("Generate", mock.Anything, mock.Anything).
		Return(nil, domain.NewDomainError(domain.ErrCodeBackendUnavailable, "all language model providers failed"))
	logs.On("CreateQueryLog", mock.Anything, mock.MatchedBy(func(e QueryLogEntry) bool {
		return e.Failed
	})).Return(nil)

	_, err := svc.Answer(ctx, AnswerInput{Query: "q"})
	var domainErr *domain.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, domain.ErrCodeBackendUnavailable, domainErr.Code)
	logs.AssertExpectations(t)
}

func TestAnswerService_Answer_EmptyQuery(t *testing.T) {
	svc := NewAnswerService(new(MockRetriever), new(MockGenerator), classify.New(), newFakeCache(), nil)

	_, err := svc.Answer(context.Background(), AnswerInput{Query: "  \n "})
	assert.ErrorIs(t, err, domain.ErrEmptyQuery)
}

func TestAnswerService_Answer_SourcesStrippedUnlessRequested(t *testing.T) {
	ctx := context.Background()
	retriever := new(MockRetriever)
	generator := new(MockGenerator)
	store := newFakeCache()
	svc := NewAnswerService(retriever, generator, classify.New(), store, nil)

	retriever.On("Retrieve", mock.Anything, "q", 5, 0.5).Return(fraudResults(), nil)
	generator.On("Generate", mock.Anything, mock.Anything).
		Return(&GenerationResult{Text: "raw", Provider: "local"}, nil)
	generator.On("ParseStructured", "raw", "en").Return(fraudAnswer())

	answer, err := svc.Answer(ctx, AnswerInput{Query: "q", IncludeSources: false})
	require.NoError(t, err)
	assert.Nil(t, answer.Sources)

	// The cache keeps the full answer so a later IncludeSources call works.
	cached, err := svc.Answer(ctx, AnswerInput{Query: "q", IncludeSources: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"sop-upi.md", "portal-guide.md"}, cached.Sources)
}

func TestAnswerService_Answer_LogFailureDoesNotFailRequest(t *testing.T) {
	ctx := context.Background()
	retriever := new(MockRetriever)
	generator := new(MockGenerator)
	logs := new(MockQueryLogRepository)
	svc := NewAnswerService(retriever, generator, classify.New(), newFakeCache(), logs)

	retriever.On("Retrieve", mock.Anything, "q", 5, 0.5).Return([]domain.RetrievedResult{}, nil)
	generator.On("Generate", mock.Anything, mock.Anything).
		Return(&GenerationResult{Text: "raw", Provider: "local"}, nil)
	generator.On("ParseStructured", "raw", "en").Return(fraudAnswer())
	logs.On("CreateQueryLog", mock.Anything, mock.Anything).Return(errors.New("db down"))

	_, err := svc.Answer(ctx, AnswerInput{Query: "q"})
	assert.NoError(t, err)
}

func TestAnswerService_AnswerStream_PassesThroughFragments(t *testing.T) {
	ctx := context.Background()
	retriever := new(MockRetriever)
	generator := new(MockGenerator)
	svc := NewAnswerService(retriever, generator, classify.New(), newFakeCache(), nil)

	frags := make(chan llm.Fragment, 2)
	frags <- llm.Fragment{Text: "part one "}
	frags <- llm.Fragment{Text: "part two"}
	close(frags)

	retriever.On("Retrieve", mock.Anything, "q", 5, 0.5).Return(fraudResults(), nil)
	generator.On("GenerateStream", mock.Anything, mock.Anything).
		Return((<-chan llm.Fragment)(frags), "local", nil)

	ch, err := svc.AnswerStream(ctx, AnswerInput{Query: "q"})
	require.NoError(t, err)

	var out string
	for f := range ch {
		require.NoError(t, f.Err)
		out += f.Text
	}
	assert.Equal(t, "part one part two", out)
}

func TestAnswerService_AnswerStream_CacheHitIsSingleFragment(t *testing.T) {
	ctx := context.Background()
	retriever := new(MockRetriever)
	generator := new(MockGenerator)
	svc := NewAnswerService(retriever, generator, classify.New(), newFakeCache(), nil)

	retriever.On("Retrieve", mock.Anything, "q", 5, 0.5).Return(fraudResults(), nil)
	generator.On("Generate", mock.Anything, mock.Anything).
		Return(&GenerationResult{Text: "raw", Provider: "local"}, nil)
	generator.On("ParseStructured", "raw", "en").Return(fraudAnswer())

	// Warm the response cache via the non-streaming path.
	_, err := svc.Answer(ctx, AnswerInput{Query: "q"})
	require.NoError(t, err)

	ch, err := svc.AnswerStream(ctx, AnswerInput{Query: "q", IncludeSources: true})
	require.NoError(t, err)

	var fragments []llm.Fragment
	for f := range ch {
		fragments = append(fragments, f)
	}
	require.Len(t, fragments, 1)

	var answer domain.StructuredAnswer
	require.NoError(t, json.Unmarshal([]byte(fragments[0].Text), &answer))
	assert.NotEmpty(t, answer.Steps)
	generator.AssertNotCalled(t, "GenerateStream")
}

func TestAnswerService_AnswerStream_AllProvidersFail(t *testing.T) {
	ctx := context.Background()
	retriever := new(MockRetriever)
	generator := new(MockGenerator)
	logs := new(MockQueryLogRepository)
	svc := NewAnswerService(retriever, generator, classify.New(), newFakeCache(), logs)

	retriever.On("Retrieve", mock.Anything, "q", 5, 0.5).Return([]domain.RetrievedResult{}, nil)
	generator.On("GenerateStream", mock.Anything, mock.Anything).
		Return(nil, "", domain.NewDomainError(domain.ErrCodeBackendUnavailable, "all language model providers failed"))
	logs.On("CreateQueryLog", mock.Anything, mock.MatchedBy(func(e QueryLogEntry) bool {
		return e.Failed
	})).Return(nil)

	_, err := svc.AnswerStream(ctx, AnswerInput{Query: "q"})
	require.Error(t, err)
	logs.AssertExpectations(t)
}
