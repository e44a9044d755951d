package domain

import "fmt"

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeBackendUnavailable = "BACKEND_UNAVAILABLE"
	ErrCodeMalformedOutput    = "MALFORMED_OUTPUT"
	ErrCodeCacheIO            = "CACHE_IO_ERROR"
	ErrCodeTimeout            = "TIMEOUT"
	ErrCodeInternalError      = "INTERNAL_ERROR"
)

// Validation errors
var (
	ErrEmptyText  = NewDomainError(ErrCodeValidation, "text cannot be empty")
	ErrEmptyQuery = NewDomainError(ErrCodeValidation, "query cannot be empty")
)

// Backend errors
var (
	ErrEmbeddingUnavailable = NewDomainError(ErrCodeBackendUnavailable, "embedding backend unavailable")
	ErrVectorStoreFailure   = NewDomainError(ErrCodeBackendUnavailable, "vector store query failed")
	ErrAllProvidersFailed   = NewDomainError(ErrCodeBackendUnavailable, "all language model providers failed")
)

// Output errors
var (
	ErrMalformedAnswer = NewDomainError(ErrCodeMalformedOutput, "model output could not be parsed into a structured answer")
)
