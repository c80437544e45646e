package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"asinresolve/internal/lookup"
	"asinresolve/internal/services"
)

// Source is one external lookup backend. Attempt returns a nil candidate and
// a nil error when the source has no match for the request.
type Source interface {
	Name() string
	Domain() string
	Attempt(ctx context.Context, req lookup.Request) (*lookup.Candidate, error)
}

// ErrParse may be wrapped by adapters when a response could not be decoded.
var ErrParse = errors.New("parse failure")

// FailureKind classifies a source failure.
type FailureKind string

const (
	KindNetwork     FailureKind = "network"
	KindParse       FailureKind = "parse"
	KindTimeout     FailureKind = "timeout"
	KindRateLimited FailureKind = "rate_limited"
	KindServer      FailureKind = "server"
	KindClient      FailureKind = "client"
	KindPanic       FailureKind = "panic"
)

// SourceError is the contained form of any adapter failure.
type SourceError struct {
	Source     string
	Kind       FailureKind
	StatusCode int
	Err        error
}

func (e *SourceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("source %s: %s (status %d): %v", e.Source, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("source %s: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Is matches the services markers so callers can classify with errors.Is.
func (e *SourceError) Is(target error) bool {
	switch target {
	case services.ErrSourceFailure:
		return true
	case services.ErrRateLimited:
		return e.Kind == KindRateLimited
	case services.ErrTimeout:
		return e.Kind == KindTimeout
	default:
		return false
	}
}

// StatusCode extracts an HTTP status from err when an adapter exposes one.
func StatusCode(err error) int {
	var coder interface{ StatusCode() int }
	if errors.As(err, &coder) {
		return coder.StatusCode()
	}
	return 0
}

func classify(source string, err error, deadlineHit bool) *SourceError {
	var se *SourceError
	if errors.As(err, &se) {
		return se
	}
	status := StatusCode(err)
	out := &SourceError{Source: source, StatusCode: status, Err: err}
	switch {
	case deadlineHit || errors.Is(err, context.DeadlineExceeded):
		out.Kind = KindTimeout
	case status == http.StatusTooManyRequests:
		out.Kind = KindRateLimited
	case status >= 500:
		out.Kind = KindServer
	case status >= 400:
		out.Kind = KindClient
	case errors.Is(err, ErrParse):
		out.Kind = KindParse
	default:
		out.Kind = KindNetwork
	}
	return out
}
