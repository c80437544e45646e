package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"

	"asinresolve/internal/logging"
	"asinresolve/internal/services"
)

// rebuild moves the damaged database aside and opens a fresh, empty store in
// its place. The caller must not hold s.mu.
func (s *Store) rebuild(ctx context.Context, cause error) (*sql.DB, error) {
	aside := s.path + ".corrupt-" + strconv.FormatInt(s.now().Unix(), 10)
	if err := os.Rename(s.path, aside); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, services.Wrap(services.ErrCacheCorruption, "cache", "rebuild", "move corrupt database aside", err)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(s.path + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove %s sidecar: %w", suffix, err)
		}
	}

	db, err := s.openDB(ctx)
	if err != nil {
		return nil, services.Wrap(services.ErrCacheCorruption, "cache", "rebuild", "open empty database", err)
	}

	logging.WarnWithContext(s.logger, "cache database was unreadable; rebuilt empty store", "cache_rebuilt",
		logging.String("db_path", s.path),
		logging.String("corrupt_path", aside),
		logging.Error(cause),
		logging.String(logging.FieldErrorHint, "inspect the moved file if the cache held data worth keeping"),
		logging.String(logging.FieldImpact, "previously cached identifiers will be re-resolved"),
	)
	return db, nil
}

// recoverFrom swaps a corrupt live database for a rebuilt one. Concurrent
// callers collapse onto a single rebuild.
func (s *Store) recoverFrom(ctx context.Context, failed *sql.DB, cause error) error {
	s.recoverMu.Lock()
	defer s.recoverMu.Unlock()

	s.mu.Lock()
	if s.db == nil {
		s.mu.Unlock()
		return errors.New("cache: store is closed")
	}
	if s.db != failed {
		// Another caller already rebuilt.
		s.mu.Unlock()
		return nil
	}
	_ = s.db.Close()
	s.db = nil
	s.mu.Unlock()

	db, err := s.rebuild(ensureContext(ctx), cause)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.db = db
	s.mu.Unlock()
	if s.memory != nil {
		s.memory.Purge()
	}
	return nil
}
