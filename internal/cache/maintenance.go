package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"asinresolve/internal/logging"
)

// Stats summarizes cache contents and lookup counters. Hit and miss counts
// are monotonic since the store was opened.
type Stats struct {
	TotalEntries    int64 `json:"total_entries"`
	NegativeEntries int64 `json:"negative_entries"`
	ExpiredEntries  int64 `json:"expired_entries"`
	HitCount        int64 `json:"hit_count"`
	MissCount       int64 `json:"miss_count"`
	SizeBytes       int64 `json:"size_bytes"`
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.HitCount + s.MissCount
	if total == 0 {
		return 0
	}
	return float64(s.HitCount) / float64(total)
}

// Health captures diagnostic information about the cache database.
type Health struct {
	DBPath           string   `json:"db_path"`
	DatabaseExists   bool     `json:"database_exists"`
	DatabaseReadable bool     `json:"database_readable"`
	SchemaVersion    string   `json:"schema_version"`
	ExpectedVersion  string   `json:"expected_version"`
	TableExists      bool     `json:"table_exists"`
	MissingColumns   []string `json:"missing_columns,omitempty"`
	IntegrityCheck   bool     `json:"integrity_check"`
	TotalEntries     int64    `json:"total_entries"`
	Error            string   `json:"error,omitempty"`
}

// Healthy reports whether every check passed.
func (h Health) Healthy() bool {
	return h.DatabaseExists && h.DatabaseReadable && h.TableExists &&
		len(h.MissingColumns) == 0 && h.IntegrityCheck && h.SchemaVersion == h.ExpectedVersion
}

// ExpireAll deletes entries whose expiry has passed and returns how many were removed.
func (s *Store) ExpireAll(ctx context.Context) (int64, error) {
	now := s.now()
	res, err := s.execWithRetry(ctx, "DELETE FROM lookup_cache WHERE expires_at <= ?", now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("cache expire: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cache expire rows: %w", err)
	}
	if s.memory != nil {
		for _, key := range s.memory.Keys() {
			if entry, ok := s.memory.Peek(key); ok && !entry.Live(now) {
				s.memory.Remove(key)
			}
		}
	}
	if removed > 0 {
		s.logger.Info("expired cache entries", logging.Int64("removed", removed))
	}
	return removed, nil
}

// Clear removes every entry and returns how many were deleted.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, "DELETE FROM lookup_cache")
	if err != nil {
		return 0, fmt.Errorf("cache clear: %w", err)
	}
	if s.memory != nil {
		s.memory.Purge()
	}
	return res.RowsAffected()
}

// Stats returns entry counts, lookup counters, and the on-disk size.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	ctx = ensureContext(ctx)
	stats := Stats{
		HitCount:  s.hits.Load(),
		MissCount: s.misses.Load(),
	}
	db, err := s.handle()
	if err != nil {
		return stats, err
	}
	now := s.now().UnixMilli()
	row := db.QueryRowContext(ctx, `SELECT
		COUNT(1),
		COALESCE(SUM(CASE WHEN identifier = '' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN expires_at <= ? THEN 1 ELSE 0 END), 0)
		FROM lookup_cache`, now)
	if err := row.Scan(&stats.TotalEntries, &stats.NegativeEntries, &stats.ExpiredEntries); err != nil {
		return stats, fmt.Errorf("cache stats: %w", err)
	}

	var pageCount, pageSize int64
	if err := db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return stats, fmt.Errorf("page_count: %w", err)
	}
	if err := db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return stats, fmt.Errorf("page_size: %w", err)
	}
	stats.SizeBytes = pageCount * pageSize
	return stats, nil
}

// CheckHealth returns diagnostic information about the cache database.
func (s *Store) CheckHealth(ctx context.Context) (Health, error) {
	ctx = ensureContext(ctx)
	health := Health{
		DBPath:          s.path,
		ExpectedVersion: latestSchemaVersion(),
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat cache database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("cache database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	db, err := s.handle()
	if err != nil {
		health.Error = err.Error()
		return health, err
	}

	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping cache database: %w", err)
	}
	health.DatabaseReadable = true

	version, err := appliedSchemaVersion(connCtx, db)
	if err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("read schema version: %w", err)
	}
	health.SchemaVersion = version

	var tableName string
	row := db.QueryRowContext(connCtx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'lookup_cache'")
	if err := row.Scan(&tableName); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			health.Error = err.Error()
			return health, fmt.Errorf("query table info: %w", err)
		}
	} else {
		health.TableExists = true
	}

	if health.TableExists {
		columns, err := tableColumns(connCtx, db)
		if err != nil {
			health.Error = err.Error()
			return health, err
		}
		for _, col := range []string{"cache_key", "identifier", "source", "confidence", "title", "author", "author_key", "created_at", "expires_at"} {
			if _, ok := columns[col]; !ok {
				health.MissingColumns = append(health.MissingColumns, col)
			}
		}
		if err := db.QueryRowContext(connCtx, "SELECT COUNT(*) FROM lookup_cache").Scan(&health.TotalEntries); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("count cache entries: %w", err)
		}
	}

	var integrity string
	if err := db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&integrity); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrity, "ok")
	return health, nil
}

func tableColumns(ctx context.Context, db *sql.DB) (map[string]struct{}, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info(lookup_cache)")
	if err != nil {
		return nil, fmt.Errorf("table info: %w", err)
	}
	defer rows.Close()

	columns := make(map[string]struct{})
	for rows.Next() {
		var (
			cid     int
			name    string
			typeStr string
			notNull int
			dflt    any
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typeStr, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan table info: %w", err)
		}
		columns[name] = struct{}{}
	}
	return columns, rows.Err()
}
