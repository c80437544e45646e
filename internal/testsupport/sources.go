package testsupport

import (
	"context"
	"fmt"
	"sync"

	"asinresolve/internal/lookup"
)

// Respond scripts a FakeSource reply.
type Respond func(ctx context.Context, req lookup.Request) (*lookup.Candidate, error)

// FakeSource is a scripted lookup source that counts invocations.
type FakeSource struct {
	name    string
	domain  string
	respond Respond

	mu       sync.Mutex
	calls    int
	requests []lookup.Request
}

// NewFakeSource builds a source. A nil respond always reports no match.
func NewFakeSource(name, domain string, respond Respond) *FakeSource {
	if respond == nil {
		respond = NoMatch()
	}
	return &FakeSource{name: name, domain: domain, respond: respond}
}

func (f *FakeSource) Name() string   { return f.name }
func (f *FakeSource) Domain() string { return f.domain }

// Attempt records the call and returns the scripted reply.
func (f *FakeSource) Attempt(ctx context.Context, req lookup.Request) (*lookup.Candidate, error) {
	f.mu.Lock()
	f.calls++
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.respond(ctx, req)
}

// Calls returns how many times Attempt ran.
func (f *FakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Requests returns the requests seen so far.
func (f *FakeSource) Requests() []lookup.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]lookup.Request(nil), f.requests...)
}

// Returns replies with a fixed candidate.
func Returns(identifier string, confidence float64, matchedBy lookup.MatchedBy) Respond {
	return func(context.Context, lookup.Request) (*lookup.Candidate, error) {
		return &lookup.Candidate{Identifier: identifier, Confidence: confidence, MatchedBy: matchedBy}, nil
	}
}

// NoMatch replies with no candidate.
func NoMatch() Respond {
	return func(context.Context, lookup.Request) (*lookup.Candidate, error) {
		return nil, nil
	}
}

// Fails replies with err.
func Fails(err error) Respond {
	return func(context.Context, lookup.Request) (*lookup.Candidate, error) {
		return nil, err
	}
}

// FailsWithStatus replies with an HTTP-status-carrying error.
func FailsWithStatus(code int) Respond {
	return Fails(StatusError{Code: code})
}

// Panics panics with value.
func Panics(value any) Respond {
	return func(context.Context, lookup.Request) (*lookup.Candidate, error) {
		panic(value)
	}
}

// Blocks waits until release is closed or ctx ends, then delegates to next.
func Blocks(release <-chan struct{}, next Respond) Respond {
	return func(ctx context.Context, req lookup.Request) (*lookup.Candidate, error) {
		select {
		case <-release:
			return next(ctx, req)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// ByTitle dispatches on the request title; unknown titles get no match.
func ByTitle(replies map[string]Respond) Respond {
	return func(ctx context.Context, req lookup.Request) (*lookup.Candidate, error) {
		if respond, ok := replies[req.Title]; ok {
			return respond(ctx, req)
		}
		return nil, nil
	}
}

// StatusError is a test error exposing an HTTP status.
type StatusError struct {
	Code int
}

func (e StatusError) Error() string { return fmt.Sprintf("unexpected status %d", e.Code) }

// StatusCode returns the HTTP status.
func (e StatusError) StatusCode() int { return e.Code }
