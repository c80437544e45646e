package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"asinresolve/internal/logging"
	"asinresolve/internal/lookup"
	"asinresolve/internal/services"
)

// Entry is one cached resolution. An empty Identifier marks a negative entry:
// the request is known to be unresolvable until ExpiresAt.
type Entry struct {
	Key        string    `json:"key"`
	Identifier string    `json:"identifier,omitempty"`
	Source     string    `json:"source,omitempty"`
	Confidence float64   `json:"confidence"`
	Title      string    `json:"title,omitempty"`
	Author     string    `json:"author,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Negative reports whether the entry records a known miss.
func (e Entry) Negative() bool {
	return e.Identifier == ""
}

// Live reports whether the entry is still valid at now.
func (e Entry) Live(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

const selectEntrySQL = `SELECT cache_key, identifier, source, confidence, title, author, created_at, expires_at
FROM lookup_cache WHERE cache_key = ?`

// Get returns the live entry for key. Absent and expired entries are misses.
// A corrupt database is rebuilt and reported as a miss.
func (s *Store) Get(ctx context.Context, key string) (Entry, bool, error) {
	ctx = ensureContext(ctx)
	key = strings.TrimSpace(key)
	if key == "" {
		return Entry{}, false, errors.New("cache: key is required")
	}
	now := s.now()

	if s.memory != nil {
		if entry, ok := s.memory.Get(key); ok {
			if entry.Live(now) {
				s.hits.Add(1)
				return entry, true, nil
			}
			s.memory.Remove(key)
		}
	}

	db, err := s.handle()
	if err != nil {
		s.misses.Add(1)
		return Entry{}, false, err
	}

	var (
		entry              Entry
		createdAt, expires int64
	)
	err = retryOnBusy(ctx, func() error {
		return db.QueryRowContext(ctx, selectEntrySQL, key).Scan(
			&entry.Key, &entry.Identifier, &entry.Source, &entry.Confidence,
			&entry.Title, &entry.Author, &createdAt, &expires)
	})
	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.misses.Add(1)
		return Entry{}, false, nil
	case isCorruption(err):
		s.misses.Add(1)
		if recErr := s.recoverFrom(ctx, db, err); recErr != nil {
			return Entry{}, false, recErr
		}
		return Entry{}, false, nil
	case err != nil:
		s.misses.Add(1)
		return Entry{}, false, fmt.Errorf("cache get: %w", err)
	}

	entry.CreatedAt = time.UnixMilli(createdAt)
	entry.ExpiresAt = time.UnixMilli(expires)
	if !entry.Live(now) {
		s.misses.Add(1)
		return Entry{}, false, nil
	}
	s.hits.Add(1)
	if s.memory != nil {
		s.memory.Add(key, entry)
	}
	return entry, true, nil
}

// Put upserts entry with the given ttl. A non-positive ttl uses the store
// default. Non-empty identifiers must be valid.
func (s *Store) Put(ctx context.Context, entry Entry, ttl time.Duration) error {
	ctx = ensureContext(ctx)
	entry.Key = strings.TrimSpace(entry.Key)
	if entry.Key == "" {
		return errors.New("cache: key is required")
	}
	if entry.Identifier != "" && !lookup.ValidIdentifier(entry.Identifier) {
		return services.Wrap(services.ErrInvalidIdentifier, "cache", "put", fmt.Sprintf("refusing to cache %q", entry.Identifier), nil)
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	now := s.now()
	entry.CreatedAt = now
	entry.ExpiresAt = now.Add(ttl)

	db, err := s.handle()
	if err != nil {
		return err
	}
	_, err = s.execWithRetry(ctx, `INSERT INTO lookup_cache
		(cache_key, identifier, source, confidence, title, author, author_key, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			identifier = excluded.identifier,
			source = excluded.source,
			confidence = excluded.confidence,
			title = excluded.title,
			author = excluded.author,
			author_key = excluded.author_key,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		entry.Key, entry.Identifier, entry.Source, entry.Confidence,
		entry.Title, entry.Author, lookup.NormalizeAuthor(entry.Author),
		entry.CreatedAt.UnixMilli(), entry.ExpiresAt.UnixMilli(),
	)
	if err != nil {
		if isCorruption(err) {
			return s.recoverFrom(ctx, db, err)
		}
		return fmt.Errorf("cache put: %w", err)
	}
	if s.memory != nil {
		s.memory.Add(entry.Key, entry)
	}
	s.logger.Debug("cached lookup",
		logging.String(logging.FieldCacheKey, entry.Key),
		logging.String("identifier", entry.Identifier),
		logging.String(logging.FieldSource, entry.Source),
		logging.Duration("ttl", ttl))
	return nil
}

// PutNegative records that req is currently unresolvable.
func (s *Store) PutNegative(ctx context.Context, key string, req lookup.Request, ttl time.Duration) error {
	return s.Put(ctx, Entry{Key: key, Title: req.Title, Author: req.Author}, ttl)
}

// Contains reports whether a live entry exists for key without touching the
// hit and miss counters.
func (s *Store) Contains(ctx context.Context, key string) (bool, error) {
	ctx = ensureContext(ctx)
	if s.memory != nil {
		if entry, ok := s.memory.Peek(key); ok && entry.Live(s.now()) {
			return true, nil
		}
	}
	db, err := s.handle()
	if err != nil {
		return false, err
	}
	var one int
	err = db.QueryRowContext(ctx,
		"SELECT 1 FROM lookup_cache WHERE cache_key = ? AND expires_at > ?",
		key, s.now().UnixMilli()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache contains: %w", err)
	}
	return true, nil
}

// KnownAuthors reports which of authors already have a live positive entry.
// The returned map is keyed by lookup.NormalizeAuthor.
func (s *Store) KnownAuthors(ctx context.Context, authors []string) (map[string]bool, error) {
	ctx = ensureContext(ctx)
	known := make(map[string]bool)
	db, err := s.handle()
	if err != nil {
		return known, err
	}
	now := s.now().UnixMilli()
	for _, author := range authors {
		norm := lookup.NormalizeAuthor(author)
		if norm == "" {
			continue
		}
		if _, seen := known[norm]; seen {
			continue
		}
		var one int
		err := db.QueryRowContext(ctx,
			"SELECT 1 FROM lookup_cache WHERE author_key = ? AND identifier <> '' AND expires_at > ? LIMIT 1",
			norm, now).Scan(&one)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			known[norm] = false
		case err != nil:
			return known, fmt.Errorf("cache known authors: %w", err)
		default:
			known[norm] = true
		}
	}
	return known, nil
}
