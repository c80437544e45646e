package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	_ "modernc.org/sqlite"

	"asinresolve/internal/config"
	"asinresolve/internal/logging"
)

const (
	sqliteBusyCode          = 5
	sqliteCorruptCode       = 11
	sqliteNotADBCode        = 26
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
	busyTimeoutMillis       = 5000
	defaultMemoryTTL        = 10 * time.Minute
)

// Options tunes a Store.
type Options struct {
	// MaxConnections bounds the database/sql pool. Zero means the package default.
	MaxConnections int
	// MemoryEntries sizes the in-process read layer. Zero disables it.
	MemoryEntries int
	// DefaultTTL applies to Put calls that pass a non-positive ttl.
	DefaultTTL time.Duration
	Logger     *slog.Logger
	// Clock overrides time.Now for expiry decisions.
	Clock func() time.Time
}

// Store is the durable lookup cache.
type Store struct {
	path       string
	maxConns   int
	defaultTTL time.Duration
	logger     *slog.Logger
	now        func() time.Time

	mu sync.RWMutex
	db *sql.DB

	memory *expirable.LRU[string, Entry]

	hits   atomic.Int64
	misses atomic.Int64

	recoverMu sync.Mutex
}

// OpenFromConfig opens the store at cfg.Cache.Path with configured limits.
func OpenFromConfig(cfg *config.Config, logger *slog.Logger) (*Store, error) {
	if cfg == nil {
		return nil, errors.New("cache: config is nil")
	}
	return Open(cfg.Cache.Path, Options{
		MaxConnections: cfg.Cache.MaxConnections,
		MemoryEntries:  cfg.Cache.MemoryEntries,
		DefaultTTL:     cfg.Cache.DefaultTTL.Std(),
		Logger:         logger,
	})
}

// Open initializes or connects to the cache database at path.
func Open(path string, opts Options) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("cache: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure cache directory: %w", err)
	}

	s := &Store{
		path:       path,
		maxConns:   opts.MaxConnections,
		defaultTTL: opts.DefaultTTL,
		logger:     logging.NewComponentLogger(opts.Logger, "cache"),
		now:        opts.Clock,
	}
	if s.maxConns <= 0 {
		s.maxConns = 8
	}
	if s.defaultTTL <= 0 {
		s.defaultTTL = 30 * 24 * time.Hour
	}
	if s.now == nil {
		s.now = time.Now
	}
	if opts.MemoryEntries > 0 {
		s.memory = expirable.NewLRU[string, Entry](opts.MemoryEntries, nil, defaultMemoryTTL)
	}

	ctx := context.Background()
	db, err := s.openDB(ctx)
	if err != nil {
		if !isCorruption(err) {
			return nil, err
		}
		db, err = s.rebuild(ctx, err)
		if err != nil {
			return nil, err
		}
	}
	s.db = db
	return s, nil
}

func dsn(path string) string {
	pragmas := []string{
		"journal_mode(WAL)",
		fmt.Sprintf("busy_timeout(%d)", busyTimeoutMillis),
		"synchronous(NORMAL)",
	}
	return path + "?_pragma=" + strings.Join(pragmas, "&_pragma=")
}

// openDB opens the pool, applies migrations, and verifies the file with
// quick_check.
func (s *Store) openDB(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn(s.path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(s.maxConns)
	db.SetMaxIdleConns(s.maxConns)

	if err := applyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("quick_check: %w", err)
	}
	if !strings.EqualFold(result, "ok") {
		_ = db.Close()
		return nil, &integrityError{detail: result}
	}
	return db, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) handle() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, errors.New("cache: store is closed")
	}
	return s.db, nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

type integrityError struct {
	detail string
}

func (e *integrityError) Error() string {
	return "cache integrity check failed: " + e.detail
}

func sqliteCode(err error) (int, bool) {
	var coder interface{ Code() int }
	if errors.As(err, &coder) {
		return coder.Code() & 0xff, true
	}
	return 0, false
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := sqliteCode(err); ok && code == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func isCorruption(err error) bool {
	if err == nil {
		return false
	}
	var integrity *integrityError
	if errors.As(err, &integrity) {
		return true
	}
	if code, ok := sqliteCode(err); ok && (code == sqliteCorruptCode || code == sqliteNotADBCode) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "file is not a database") ||
		strings.Contains(msg, "database disk image is malformed")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}
