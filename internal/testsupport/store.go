package testsupport

import (
	"testing"

	"asinresolve/internal/cache"
	"asinresolve/internal/config"
)

// MustOpenCache opens the cache configured in cfg and registers cleanup.
func MustOpenCache(t testing.TB, cfg *config.Config) *cache.Store {
	t.Helper()

	store, err := cache.OpenFromConfig(cfg, nil)
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenCacheWithClock opens the configured cache with an injected clock.
func MustOpenCacheWithClock(t testing.TB, cfg *config.Config, clock *Clock) *cache.Store {
	t.Helper()

	store, err := cache.Open(cfg.Cache.Path, cache.Options{
		MaxConnections: cfg.Cache.MaxConnections,
		MemoryEntries:  cfg.Cache.MemoryEntries,
		DefaultTTL:     cfg.Cache.DefaultTTL.Std(),
		Clock:          clock.Now,
	})
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
