package services_test

import (
	"context"
	"testing"

	"asinresolve/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithRequestID(ctx, "req-123")
	ctx = services.WithBatchID(ctx, "batch-1")
	ctx = services.WithBatchIndex(ctx, 7)
	ctx = services.WithSource(ctx, "search")

	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
	if id, ok := services.BatchIDFromContext(ctx); !ok || id != "batch-1" {
		t.Fatalf("unexpected batch id: %v %v", id, ok)
	}
	if idx, ok := services.BatchIndexFromContext(ctx); !ok || idx != 7 {
		t.Fatalf("unexpected batch index: %v %v", idx, ok)
	}
	if src, ok := services.SourceFromContext(ctx); !ok || src != "search" {
		t.Fatalf("unexpected source: %v %v", src, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithRequestID(ctx, "")
	ctx = services.WithSource(ctx, "")
	if _, ok := services.RequestIDFromContext(ctx); ok {
		t.Fatal("expected no request id value")
	}
	if _, ok := services.SourceFromContext(ctx); ok {
		t.Fatal("expected no source value")
	}
	if _, ok := services.BatchIndexFromContext(ctx); ok {
		t.Fatal("expected no batch index value")
	}
}
