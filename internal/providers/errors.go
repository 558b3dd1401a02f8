package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackzampolin/bindery/internal/layout"
)

// ErrorKind classifies a provider failure for the retry controller.
type ErrorKind int

const (
	// Transient failures (timeouts, rate limits, network, malformed output)
	// may succeed on a later attempt.
	Transient ErrorKind = iota + 1
	// Permanent failures (bad credential, unknown model, invalid request)
	// will fail the same way every time.
	Permanent
)

func (k ErrorKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// ProviderError is the only error type returned by Provider.Analyze.
type ProviderError struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	Usage      layout.Usage
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s error (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewTransient wraps err as a transient failure.
func NewTransient(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: Transient, Err: err}
}

// NewPermanent wraps err as a permanent failure.
func NewPermanent(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: Permanent, Err: err}
}

// KindForStatus maps an HTTP status code to an error kind.
func KindForStatus(code int) ErrorKind {
	switch {
	case code == http.StatusRequestTimeout,
		code == http.StatusConflict,
		code == http.StatusTooEarly,
		code == http.StatusTooManyRequests,
		code >= 500:
		return Transient
	case code >= 400:
		return Permanent
	default:
		return Transient
	}
}

// classifyTransport classifies an error that carries no HTTP status.
// A cancelled context is permanent for this call. Deadlines, network errors
// and anything we cannot attribute to the request itself are transient.
func classifyTransport(provider string, err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.Canceled) {
		return NewPermanent(provider, err)
	}
	return NewTransient(provider, err)
}

// IsTransient reports whether err is a transient provider failure.
func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == Transient
}

// IsPermanent reports whether err is a permanent provider failure.
func IsPermanent(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == Permanent
}

// UsageOf returns the usage carried by a provider error, or zero usage.
func UsageOf(err error) layout.Usage {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Usage
	}
	return layout.Usage{}
}
