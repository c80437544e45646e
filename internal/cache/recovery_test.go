package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestRecoverFromRebuildsLiveDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	store, err := Open(path, Options{MemoryEntries: 16})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	entry := Entry{Key: "elantris|brandon sanderson|", Identifier: "B01681T8YI", Source: "catalog", Confidence: 0.9}
	if err := store.Put(ctx, entry, time.Hour); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if store.memory.Len() != 1 {
		t.Fatalf("expected entry in memory layer, have %d", store.memory.Len())
	}

	failed, err := store.handle()
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if err := store.recoverFrom(ctx, failed, &integrityError{detail: "page 3 is never used"}); err != nil {
		t.Fatalf("recoverFrom: %v", err)
	}

	matches, err := filepath.Glob(path + ".corrupt-*")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected damaged file moved aside, found %v", matches)
	}
	if store.memory.Len() != 0 {
		t.Fatalf("expected memory layer purged, have %d", store.memory.Len())
	}
	current, err := store.handle()
	if err != nil {
		t.Fatalf("handle after rebuild: %v", err)
	}
	if current == failed {
		t.Fatal("expected a fresh database handle")
	}

	if _, ok, err := store.Get(ctx, entry.Key); err != nil || ok {
		t.Fatalf("expected miss after rebuild, ok=%v err=%v", ok, err)
	}
	if err := store.Put(ctx, entry, time.Hour); err != nil {
		t.Fatalf("Put after rebuild: %v", err)
	}
	if _, ok, err := store.Get(ctx, entry.Key); err != nil || !ok {
		t.Fatalf("expected hit after re-caching, ok=%v err=%v", ok, err)
	}
}

func TestRecoverFromStaleHandleIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	store, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	failed, err := store.handle()
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	cause := &integrityError{detail: "malformed"}
	if err := store.recoverFrom(ctx, failed, cause); err != nil {
		t.Fatalf("first recoverFrom: %v", err)
	}
	if err := store.recoverFrom(ctx, failed, cause); err != nil {
		t.Fatalf("second recoverFrom: %v", err)
	}
	matches, err := filepath.Glob(path + ".corrupt-*")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected a single rebuild, found %v", matches)
	}
}

func TestIsCorruptionRecognizesIntegrityError(t *testing.T) {
	if !isCorruption(&integrityError{detail: "x"}) {
		t.Fatal("integrity errors should count as corruption")
	}
	if isCorruption(context.Canceled) {
		t.Fatal("cancellation is not corruption")
	}
}
