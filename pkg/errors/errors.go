package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrorTypeFetch is a single failed HTTP attempt
	ErrorTypeFetch ErrorType = "fetch"
	// ErrorTypeFetchExhausted means every retry attempt failed
	ErrorTypeFetchExhausted ErrorType = "fetch_exhausted"
	// ErrorTypeRateLimit represents rate limiting errors
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeExtraction means a property page yielded no title
	ErrorTypeExtraction ErrorType = "extraction"
	// ErrorTypePersistence represents store failures
	ErrorTypePersistence ErrorType = "persistence"
	// ErrorTypeConfiguration represents configuration errors
	ErrorTypeConfiguration ErrorType = "configuration"
	// ErrorTypeGeocoding represents reverse geocoding failures
	ErrorTypeGeocoding ErrorType = "geocoding"
	// ErrorTypeCache represents cache-related errors
	ErrorTypeCache ErrorType = "cache"
	// ErrorTypePublisher represents publisher-related errors
	ErrorTypePublisher ErrorType = "publisher"
	// ErrorTypeValidation represents validation errors
	ErrorTypeValidation ErrorType = "validation"
)

// ScraperError is the typed error returned across the import pipeline
type ScraperError struct {
	Type    ErrorType
	Source  string
	Message string
	Err     error
	Time    time.Time
}

// Error implements the error interface
func (e *ScraperError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s - %v", e.Type, e.Source, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Source, e.Message)
}

// Unwrap returns the underlying error
func (e *ScraperError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if another attempt could succeed
func (e *ScraperError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeFetch, ErrorTypeRateLimit:
		return true
	default:
		return false
	}
}

// New creates a new ScraperError
func New(errType ErrorType, source, message string, err error) *ScraperError {
	return &ScraperError{
		Type:    errType,
		Source:  source,
		Message: message,
		Err:     err,
		Time:    time.Now(),
	}
}

// IsType reports whether any error in err's chain is a ScraperError of type t
func IsType(err error, t ErrorType) bool {
	var se *ScraperError
	if stderrors.As(err, &se) {
		return se.Type == t
	}
	return false
}

// NewFetch creates an error for one failed HTTP attempt
func NewFetch(url, message string, err error) *ScraperError {
	return New(ErrorTypeFetch, url, message, err)
}

// NewFetchExhausted wraps the last attempt error after all retries failed
func NewFetchExhausted(url string, attempts int, err error) *ScraperError {
	return New(ErrorTypeFetchExhausted, url, fmt.Sprintf("failed after %d attempts", attempts), err)
}

// NewRateLimit creates a new rate limit error
func NewRateLimit(source string, duration time.Duration) *ScraperError {
	return New(ErrorTypeRateLimit, source, fmt.Sprintf("rate limited for %v", duration), nil)
}

// NewExtraction creates an error for a page without usable content
func NewExtraction(url, message string) *ScraperError {
	return New(ErrorTypeExtraction, url, message, nil)
}

// NewPersistence creates a new store error
func NewPersistence(source, message string, err error) *ScraperError {
	return New(ErrorTypePersistence, source, message, err)
}

// NewConfiguration creates a new configuration error
func NewConfiguration(message string, err error) *ScraperError {
	return New(ErrorTypeConfiguration, "", message, err)
}

// NewGeocoding creates a new geocoding error
func NewGeocoding(source, message string, err error) *ScraperError {
	return New(ErrorTypeGeocoding, source, message, err)
}

// NewCache creates a new cache error
func NewCache(source, message string, err error) *ScraperError {
	return New(ErrorTypeCache, source, message, err)
}

// NewPublisher creates a new publisher error
func NewPublisher(source, message string, err error) *ScraperError {
	return New(ErrorTypePublisher, source, message, err)
}

// NewValidation creates a new validation error
func NewValidation(source, message string) *ScraperError {
	return New(ErrorTypeValidation, source, message, nil)
}
