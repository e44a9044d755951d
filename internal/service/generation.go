package service

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"

	"github.com/sahaay-labs/sahaay/internal/domain"
	"github.com/sahaay-labs/sahaay/internal/llm"
	"github.com/sahaay-labs/sahaay/internal/telemetry"
)

// GenerationResult is the successful output of one generation call, tagged
// with the provider that produced it.
type GenerationResult struct {
	Text     string
	Provider string
}

// GenerationConfig controls provider ordering.
type GenerationConfig struct {
	// PrimaryLanguage routes straight to the local provider; any other
	// language walks the remote list first for broader coverage.
	PrimaryLanguage string
}

// DefaultGenerationConfig returns the default generation configuration.
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{PrimaryLanguage: "en"}
}

// GenerationService produces answers by trying an ordered provider list until
// one succeeds. Remote providers trade privacy for language coverage and
// model diversity; the local provider is the always-available baseline.
type GenerationService struct {
	remote []llm.Provider
	local  llm.Provider
	cfg    GenerationConfig
}

// NewGenerationService creates a new GenerationService instance
func NewGenerationService(remote []llm.Provider, local llm.Provider) *GenerationService {
	return NewGenerationServiceWithConfig(remote, local, DefaultGenerationConfig())
}

// NewGenerationServiceWithConfig creates a GenerationService with explicit configuration.
func NewGenerationServiceWithConfig(remote []llm.Provider, local llm.Provider, cfg GenerationConfig) *GenerationService {
	return &GenerationService{
		remote: remote,
		local:  local,
		cfg:    cfg,
	}
}

// chain returns the ordered provider list for the target language.
func (s *GenerationService) chain(language string) []llm.Provider {
	if language == "" || strings.EqualFold(language, s.cfg.PrimaryLanguage) || len(s.remote) == 0 {
		return []llm.Provider{s.local}
	}
	providers := make([]llm.Provider, 0, len(s.remote)+1)
	providers = append(providers, s.remote...)
	return append(providers, s.local)
}

// Generate tries each provider in order and returns the first success. Every
// attempt failure is logged with its typed cause; only total exhaustion is an
// error.
func (s *GenerationService) Generate(ctx context.Context, req llm.Request) (*GenerationResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "GenerationService.Generate", telemetry.SpanAttributes{
		Language:  req.Language,
		Operation: "generate",
	})
	defer span.End()

	var attemptErrs []error
	for _, p := range s.chain(req.Language) {
		if err := ctx.Err(); err != nil {
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeTimeout, "generation cancelled", err)
		}

		text, err := p.Generate(ctx, req)
		if err != nil {
			log.Printf("generation: provider %s failed: %v", p.Name(), err)
			attemptErrs = append(attemptErrs, err)
			continue
		}

		span.SetTag("provider", p.Name())
		return &GenerationResult{Text: text, Provider: p.Name()}, nil
	}

	err := domain.NewDomainErrorWithCause(domain.ErrCodeBackendUnavailable,
		"all language model providers failed", errors.Join(attemptErrs...))
	span.SetError(err)
	return nil, err
}

// GenerateStream applies the same fallback ordering but commits to the first
// provider whose stream connects: a mid-flight failure is surfaced as a
// terminal error fragment, not retried.
func (s *GenerationService) GenerateStream(ctx context.Context, req llm.Request) (<-chan llm.Fragment, string, error) {
	var attemptErrs []error
	for _, p := range s.chain(req.Language) {
		if err := ctx.Err(); err != nil {
			return nil, "", domain.NewDomainErrorWithCause(domain.ErrCodeTimeout, "generation cancelled", err)
		}

		ch, err := p.GenerateStream(ctx, req)
		if err != nil {
			log.Printf("generation: provider %s stream failed to connect: %v", p.Name(), err)
			attemptErrs = append(attemptErrs, err)
			continue
		}
		return ch, p.Name(), nil
	}

	return nil, "", domain.NewDomainErrorWithCause(domain.ErrCodeBackendUnavailable,
		"all language model providers failed", errors.Join(attemptErrs...))
}

// answerPayload is the JSON shape the prompt instructs models to emit.
type answerPayload struct {
	ImmediateActions  []string      `json:"immediate_actions"`
	Steps             []string      `json:"steps"`
	EvidenceChecklist []string      `json:"evidence_checklist"`
	Links             []domain.Link `json:"links"`
}

// ParseStructured extracts the structured answer from raw model output.
// Models often wrap the JSON in prose; the outermost balanced object is
// parsed. On any parse failure the deterministic minimal-safety answer is
// returned instead of an error.
func (s *GenerationService) ParseStructured(raw, language string) *domain.StructuredAnswer {
	obj, ok := llm.ExtractJSONObject(raw)
	if !ok {
		log.Printf("generation: no JSON object in model output, using safety fallback")
		return domain.SafetyFallbackAnswer(language)
	}

	var payload answerPayload
	if err := json.Unmarshal([]byte(obj), &payload); err != nil {
		log.Printf("generation: failed to parse model output (%v), using safety fallback", err)
		return domain.SafetyFallbackAnswer(language)
	}
	if len(payload.Steps) == 0 && len(payload.ImmediateActions) == 0 {
		log.Printf("generation: model output missing actionable content, using safety fallback")
		return domain.SafetyFallbackAnswer(language)
	}

	return &domain.StructuredAnswer{
		ImmediateActions:  payload.ImmediateActions,
		Steps:             payload.Steps,
		EvidenceChecklist: payload.EvidenceChecklist,
		Links:             payload.Links,
		Language:          language,
	}
}
