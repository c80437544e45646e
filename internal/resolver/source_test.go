package resolver

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"asinresolve/internal/services"
)

type statusErr int

func (s statusErr) Error() string   { return fmt.Sprintf("status %d", int(s)) }
func (s statusErr) StatusCode() int { return int(s) }

func TestClassifyFailures(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		deadline bool
		want     FailureKind
		status   int
	}{
		{"rate limited", statusErr(429), false, KindRateLimited, 429},
		{"server", fmt.Errorf("wrapped: %w", statusErr(503)), false, KindServer, 503},
		{"client", statusErr(400), false, KindClient, 400},
		{"parse", fmt.Errorf("decode body: %w", ErrParse), false, KindParse, 0},
		{"deadline", context.DeadlineExceeded, false, KindTimeout, 0},
		{"deadline flag", errors.New("slow"), true, KindTimeout, 0},
		{"network", errors.New("dial tcp: refused"), false, KindNetwork, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify("search", tt.err, tt.deadline)
			if got.Kind != tt.want || got.StatusCode != tt.status {
				t.Fatalf("classify = %s/%d, want %s/%d", got.Kind, got.StatusCode, tt.want, tt.status)
			}
			if !errors.Is(got, services.ErrSourceFailure) {
				t.Fatal("expected SourceError to match ErrSourceFailure")
			}
		})
	}
}

func TestSourceErrorMarkers(t *testing.T) {
	limited := &SourceError{Source: "search", Kind: KindRateLimited, StatusCode: 429, Err: statusErr(429)}
	if !errors.Is(limited, services.ErrRateLimited) {
		t.Fatal("expected rate limited marker")
	}
	if errors.Is(limited, services.ErrTimeout) {
		t.Fatal("rate limited error must not match timeout")
	}
	if services.Kind(limited) != "rate_limited" {
		t.Fatalf("unexpected kind %s", services.Kind(limited))
	}
}
