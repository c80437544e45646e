package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"asinresolve/internal/logging"
	"asinresolve/internal/lookup"
	"asinresolve/internal/services"
)

const legacySource = "legacy"

// MigrationReport describes a completed legacy import.
type MigrationReport struct {
	Imported    int      `json:"imported"`
	Skipped     int      `json:"skipped"`
	Existing    int      `json:"existing"`
	BackupPath  string   `json:"backup_path"`
	SkippedKeys []string `json:"skipped_keys,omitempty"`
}

// legacyRecord is the object form of a legacy value. Plain string values are
// treated as a bare identifier.
type legacyRecord struct {
	Identifier string  `json:"identifier"`
	ASIN       string  `json:"asin"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
	Title      string  `json:"title"`
	Author     string  `json:"author"`
	ISBN       string  `json:"isbn"`
	CachedAt   float64 `json:"cached_at"`
}

// MigrateFrom imports a legacy flat JSON key/value cache file. The file is
// copied to a timestamped backup before anything is written, and left in
// place afterwards so the import can be re-run safely. Entries with invalid
// identifiers are skipped and counted.
func (s *Store) MigrateFrom(ctx context.Context, legacyPath string) (MigrationReport, error) {
	ctx = ensureContext(ctx)
	var report MigrationReport
	legacyPath = strings.TrimSpace(legacyPath)
	if legacyPath == "" {
		return report, services.Wrap(services.ErrInvalidRequest, "cache", "migrate", "legacy path is required", nil)
	}

	lock := flock.New(legacyPath + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return report, fmt.Errorf("acquire migration lock: %w", err)
	}
	if !ok {
		return report, fmt.Errorf("legacy cache %s is being migrated by another process", legacyPath)
	}
	// The lock file stays on disk: unlinking it would let a later process lock
	// a fresh inode while another still holds the old one.
	defer func() { _ = lock.Unlock() }()

	data, err := os.ReadFile(legacyPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return report, services.Wrap(services.ErrNotFound, "cache", "migrate", legacyPath, err)
		}
		return report, fmt.Errorf("read legacy cache: %w", err)
	}

	backup, err := writeBackup(legacyPath, data, s.now())
	if err != nil {
		return report, err
	}
	report.BackupPath = backup

	var raw map[string]json.RawMessage
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &raw); err != nil {
			return report, fmt.Errorf("parse legacy cache: %w", err)
		}
	}

	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	now := s.now()
	expires := now.Add(s.defaultTTL)

	entries := make([]Entry, 0, len(keys))
	for _, legacyKey := range keys {
		entry, ok := decodeLegacy(legacyKey, raw[legacyKey], now, expires)
		if !ok {
			report.Skipped++
			report.SkippedKeys = append(report.SkippedKeys, legacyKey)
			continue
		}
		entries = append(entries, entry)
	}

	db, err := s.handle()
	if err != nil {
		return report, err
	}
	err = retryOnBusy(ctx, func() error {
		imported, existing := 0, 0
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO lookup_cache
			(cache_key, identifier, source, confidence, title, author, author_key, created_at, expires_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(cache_key) DO NOTHING`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, e := range entries {
			res, err := stmt.ExecContext(ctx, e.Key, e.Identifier, e.Source, e.Confidence, e.Title, e.Author,
				lookup.NormalizeAuthor(e.Author), e.CreatedAt.UnixMilli(), e.ExpiresAt.UnixMilli())
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				existing++
			} else {
				imported++
			}
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		report.Imported, report.Existing = imported, existing
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("import legacy cache: %w", err)
	}

	s.logger.Info("legacy cache migrated",
		logging.String(logging.FieldEventType, "cache_migrated"),
		logging.String("legacy_path", legacyPath),
		logging.String("backup_path", backup),
		logging.Int("imported", report.Imported),
		logging.Int("skipped", report.Skipped),
		logging.Int("existing", report.Existing))
	if report.Skipped > 0 {
		logging.WarnWithContext(s.logger, "legacy cache entries skipped", "cache_migration_skipped",
			logging.Int("skipped", report.Skipped),
			logging.String(logging.FieldErrorHint, "skipped entries had malformed identifiers"),
			logging.String(logging.FieldImpact, "those requests will be resolved again"))
	}
	return report, nil
}

func writeBackup(path string, data []byte, now time.Time) (string, error) {
	base := path + ".bak-" + now.UTC().Format("20060102T150405")
	candidate := base
	for i := 1; ; i++ {
		f, err := os.OpenFile(candidate, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			candidate = fmt.Sprintf("%s-%d", base, i)
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create legacy backup: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			_ = f.Close()
			return "", fmt.Errorf("write legacy backup: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("close legacy backup: %w", err)
		}
		return candidate, nil
	}
}

func decodeLegacy(legacyKey string, value json.RawMessage, now, expires time.Time) (Entry, bool) {
	var rec legacyRecord
	var plain string
	if err := json.Unmarshal(value, &plain); err == nil {
		rec.Identifier = plain
	} else if err := json.Unmarshal(value, &rec); err != nil {
		return Entry{}, false
	}
	if rec.Identifier == "" {
		rec.Identifier = rec.ASIN
	}
	id := lookup.CanonicalIdentifier(rec.Identifier)
	if id == "" {
		return Entry{}, false
	}

	key := legacyCacheKey(legacyKey, &rec)
	if key == "" {
		return Entry{}, false
	}

	entry := Entry{
		Key:        key,
		Identifier: id,
		Source:     rec.Source,
		Confidence: rec.Confidence,
		Title:      rec.Title,
		Author:     rec.Author,
		CreatedAt:  now,
		ExpiresAt:  expires,
	}
	if entry.Source == "" {
		entry.Source = legacySource
	}
	if entry.Confidence <= 0 || entry.Confidence > 1 {
		entry.Confidence = 1
	}
	if rec.CachedAt > 0 {
		entry.CreatedAt = time.UnixMilli(int64(rec.CachedAt * 1000))
	}
	return entry, true
}

// legacyCacheKey maps a legacy key onto the current key scheme. Object
// records with a title or ISBN are re-keyed from those fields. Keys that are
// already SHA-256 digests pass through. Other keys are read as
// "title|author|isbn".
func legacyCacheKey(legacyKey string, rec *legacyRecord) string {
	if strings.TrimSpace(rec.Title) != "" || lookup.NormalizeISBN(rec.ISBN) != "" {
		return lookup.KeyFor(rec.Title, rec.Author, rec.ISBN)
	}
	trimmed := strings.TrimSpace(legacyKey)
	if lookup.IsKey(strings.ToLower(trimmed)) {
		return strings.ToLower(trimmed)
	}
	parts := strings.SplitN(trimmed, "|", 3)
	for len(parts) < 3 {
		parts = append(parts, "")
	}
	rec.Title, rec.Author = strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if rec.Title == "" && lookup.NormalizeISBN(parts[2]) == "" {
		return ""
	}
	return lookup.KeyFor(parts[0], parts[1], parts[2])
}
