package cache_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"

	"asinresolve/internal/lookup"
	"asinresolve/internal/services"
)

const legacyFixture = `{
  "elantris|brandon sanderson|": "B01681T8YI",
  "warbreaker|brandon sanderson|": {"asin": "b002gyi9c4", "source": "search", "confidence": 0.9},
  "ignored": {"identifier": "0765350378", "title": "Mistborn", "author": "Brandon Sanderson", "isbn": "978-0765350381"},
  "broken|someone|": "not valid!"
}`

func TestMigrateFromImportsValidEntriesAndBacksUp(t *testing.T) {
	clock := newTestClock()
	store := openStore(t, clock, 0)
	ctx := context.Background()

	legacyPath := filepath.Join(t.TempDir(), "legacy_cache.json")
	if err := os.WriteFile(legacyPath, []byte(legacyFixture), 0o644); err != nil {
		t.Fatalf("write legacy: %v", err)
	}

	report, err := store.MigrateFrom(ctx, legacyPath)
	if err != nil {
		t.Fatalf("MigrateFrom: %v", err)
	}
	if report.Imported != 3 || report.Skipped != 1 {
		t.Fatalf("expected 3 imported and 1 skipped, got %+v", report)
	}
	if len(report.SkippedKeys) != 1 || report.SkippedKeys[0] != "broken|someone|" {
		t.Fatalf("unexpected skipped keys %v", report.SkippedKeys)
	}

	backup, err := os.ReadFile(report.BackupPath)
	if err != nil {
		t.Fatalf("expected backup file: %v", err)
	}
	if !bytes.Equal(backup, []byte(legacyFixture)) {
		t.Fatal("backup content differs from legacy file")
	}
	if _, err := os.Stat(legacyPath); err != nil {
		t.Fatalf("legacy file should remain in place: %v", err)
	}

	checks := map[string]string{
		lookup.KeyFor("Elantris", "Brandon Sanderson", ""):             "B01681T8YI",
		lookup.KeyFor("Warbreaker", "Brandon Sanderson", ""):           "B002GYI9C4",
		lookup.KeyFor("Mistborn", "Brandon Sanderson", "9780765350381"): "0765350378",
	}
	for key, want := range checks {
		entry, ok, err := store.Get(ctx, key)
		if err != nil || !ok {
			t.Fatalf("expected migrated entry for %s: ok=%v err=%v", want, ok, err)
		}
		if entry.Identifier != want {
			t.Fatalf("expected %s, got %s", want, entry.Identifier)
		}
	}

	again, err := store.MigrateFrom(ctx, legacyPath)
	if err != nil {
		t.Fatalf("second MigrateFrom: %v", err)
	}
	if again.Imported != 0 || again.Existing != 3 || again.Skipped != 1 {
		t.Fatalf("expected re-run to find existing entries, got %+v", again)
	}
	if again.BackupPath == report.BackupPath {
		t.Fatal("expected a distinct backup per run")
	}
}

func TestMigrateFromMissingFile(t *testing.T) {
	store := openStore(t, newTestClock(), 0)
	_, err := store.MigrateFrom(context.Background(), filepath.Join(t.TempDir(), "missing.json"))
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMigrateFromMalformedJSONKeepsBackup(t *testing.T) {
	store := openStore(t, newTestClock(), 0)
	legacyPath := filepath.Join(t.TempDir(), "legacy.json")
	if err := os.WriteFile(legacyPath, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write legacy: %v", err)
	}
	report, err := store.MigrateFrom(context.Background(), legacyPath)
	if err == nil {
		t.Fatal("expected parse error")
	}
	if report.BackupPath == "" {
		t.Fatal("expected backup to be written before parsing")
	}
	if report.Imported != 0 {
		t.Fatalf("expected no imports, got %d", report.Imported)
	}
}

func TestMigrateFromHonorsLockAndLeavesLockFile(t *testing.T) {
	store := openStore(t, newTestClock(), 0)
	ctx := context.Background()
	legacyPath := filepath.Join(t.TempDir(), "legacy_cache.json")
	if err := os.WriteFile(legacyPath, []byte(legacyFixture), 0o644); err != nil {
		t.Fatalf("write legacy: %v", err)
	}

	held := flock.New(legacyPath + ".lock")
	if ok, err := held.TryLock(); err != nil || !ok {
		t.Fatalf("take lock: ok=%v err=%v", ok, err)
	}
	if _, err := store.MigrateFrom(ctx, legacyPath); err == nil {
		t.Fatal("expected MigrateFrom to refuse while another holder owns the lock")
	}
	if err := held.Unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	if _, err := store.MigrateFrom(ctx, legacyPath); err != nil {
		t.Fatalf("MigrateFrom after release: %v", err)
	}
	if _, err := os.Stat(legacyPath + ".lock"); err != nil {
		t.Fatalf("lock file should remain after migration: %v", err)
	}
}
