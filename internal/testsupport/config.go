package testsupport

import (
	"path/filepath"
	"testing"
	"time"

	"asinresolve/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Rate limits are generous and backoff short so tests never wait on real time
// unless they opt in.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Cache.Path = filepath.Join(base, "data", "lookup_cache.db")
	cfgVal.Cache.MaxConnections = 4
	cfgVal.Cache.MemoryEntries = 64
	cfgVal.RateLimits.DefaultCapacity = 1000
	cfgVal.RateLimits.DefaultRefillRate = 1000
	cfgVal.RateLimits.BackoffInitial = config.Duration(time.Second)
	cfgVal.Resolver.SourceTimeout = config.Duration(2 * time.Second)
	cfgVal.Batch.Workers = 4
	cfgVal.Bench.ResultsDir = filepath.Join(base, "bench")
	cfgVal.Logging.Level = "error"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithThreshold overrides the early termination threshold.
func WithThreshold(threshold float64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Resolver.ConfidenceThreshold = threshold
	}
}

// WithSourceTimeout overrides the per-source call timeout.
func WithSourceTimeout(d time.Duration) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Resolver.SourceTimeout = config.Duration(d)
	}
}

// WithDomainLimit configures a token bucket for one domain.
func WithDomainLimit(domain string, capacity int, refill float64) ConfigOption {
	return func(b *configBuilder) {
		if b.cfg.RateLimits.Domains == nil {
			b.cfg.RateLimits.Domains = map[string]config.DomainLimit{}
		}
		b.cfg.RateLimits.Domains[domain] = config.DomainLimit{Capacity: capacity, RefillRate: refill}
	}
}

// WithWorkers sets the batch pool size.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Batch.Workers = n
	}
}

// WithFixtureSource registers a fixture source reading catalogPath.
func WithFixtureSource(name, catalogPath string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Sources = append(b.cfg.Sources, config.Source{
			Name:   name,
			Type:   config.SourceTypeFixture,
			Domain: "fixture." + name,
			Path:   catalogPath,
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
