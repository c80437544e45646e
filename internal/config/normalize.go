package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeCache(); err != nil {
		return err
	}
	c.normalizeRateLimits()
	c.normalizeResolver()
	c.normalizeScoring()
	c.normalizeBatch()
	if err := c.normalizeBench(); err != nil {
		return err
	}
	if err := c.normalizeSources(); err != nil {
		return err
	}
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.DataDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeCache() error {
	var err error
	if value, ok := os.LookupEnv("ASINRESOLVE_CACHE_PATH"); ok && strings.TrimSpace(value) != "" {
		c.Cache.Path = strings.TrimSpace(value)
	}
	if strings.TrimSpace(c.Cache.Path) == "" {
		c.Cache.Path = filepath.Join(c.Paths.DataDir, defaultCacheFile)
	}
	if c.Cache.Path, err = expandPath(c.Cache.Path); err != nil {
		return fmt.Errorf("cache.path: %w", err)
	}
	if strings.TrimSpace(c.Cache.LegacyPath) != "" {
		if c.Cache.LegacyPath, err = expandPath(c.Cache.LegacyPath); err != nil {
			return fmt.Errorf("cache.legacy_path: %w", err)
		}
	}
	if c.Cache.DefaultTTL == 0 {
		c.Cache.DefaultTTL = Duration(defaultCacheTTL)
	}
	if c.Cache.LowConfidenceTTL == 0 {
		c.Cache.LowConfidenceTTL = Duration(defaultLowConfidenceTTL)
	}
	if c.Cache.NegativeTTL == 0 {
		c.Cache.NegativeTTL = Duration(defaultNegativeTTL)
	}
	if c.Cache.SweepInterval == 0 {
		c.Cache.SweepInterval = Duration(defaultSweepInterval)
	}
	if c.Cache.MaxConnections == 0 {
		c.Cache.MaxConnections = defaultCacheConnections
	}
	if c.Cache.MemoryEntries < 0 {
		c.Cache.MemoryEntries = 0
	}
	return nil
}

func (c *Config) normalizeRateLimits() {
	if c.RateLimits.DefaultCapacity == 0 {
		c.RateLimits.DefaultCapacity = defaultDomainCapacity
	}
	if c.RateLimits.DefaultRefillRate == 0 {
		c.RateLimits.DefaultRefillRate = defaultDomainRefillRate
	}
	if c.RateLimits.BackoffBase == 0 {
		c.RateLimits.BackoffBase = defaultBackoffBase
	}
	if c.RateLimits.BackoffInitial == 0 {
		c.RateLimits.BackoffInitial = Duration(defaultBackoffInitial)
	}
	if c.RateLimits.BackoffMax == 0 {
		c.RateLimits.BackoffMax = Duration(defaultBackoffMax)
	}
	if c.RateLimits.FailureThreshold == 0 {
		c.RateLimits.FailureThreshold = defaultFailureThreshold
	}
	if len(c.RateLimits.Domains) == 0 {
		c.RateLimits.Domains = map[string]DomainLimit{}
		return
	}
	domains := make(map[string]DomainLimit, len(c.RateLimits.Domains))
	for name, limit := range c.RateLimits.Domains {
		domains[normalizeDomain(name)] = limit
	}
	c.RateLimits.Domains = domains
}

func (c *Config) normalizeResolver() {
	if c.Resolver.SourceTimeout == 0 {
		c.Resolver.SourceTimeout = Duration(defaultSourceTimeout)
	}
	order := make([]string, 0, len(c.Resolver.SourceOrder))
	seen := make(map[string]struct{}, len(c.Resolver.SourceOrder))
	for _, name := range c.Resolver.SourceOrder {
		normalized := strings.ToLower(strings.TrimSpace(name))
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		order = append(order, normalized)
	}
	if len(order) == 0 {
		order = append(order, DefaultSourceOrder...)
	}
	c.Resolver.SourceOrder = order
}

func (c *Config) normalizeScoring() {
	if len(c.Scoring.Reliability) > 0 {
		table := make(map[string]float64, len(c.Scoring.Reliability))
		for name, weight := range c.Scoring.Reliability {
			table[strings.ToLower(strings.TrimSpace(name))] = weight
		}
		c.Scoring.Reliability = table
	}
	if c.Scoring.DefaultReliability == 0 {
		c.Scoring.DefaultReliability = defaultReliability
	}
}

func (c *Config) normalizeBatch() {
	if c.Batch.Workers == 0 {
		c.Batch.Workers = DefaultWorkers()
	}
}

func (c *Config) normalizeBench() error {
	if c.Bench.Iterations == 0 {
		c.Bench.Iterations = defaultBenchIterations
	}
	if c.Bench.Tolerance == 0 {
		c.Bench.Tolerance = defaultBenchTolerance
	}
	if strings.TrimSpace(c.Bench.ResultsDir) == "" {
		c.Bench.ResultsDir = filepath.Join(c.Paths.DataDir, "bench")
	}
	var err error
	if c.Bench.ResultsDir, err = expandPath(c.Bench.ResultsDir); err != nil {
		return fmt.Errorf("bench.results_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeSources() error {
	for i := range c.Sources {
		src := &c.Sources[i]
		src.Name = strings.ToLower(strings.TrimSpace(src.Name))
		src.Type = strings.ToLower(strings.TrimSpace(src.Type))
		src.Domain = normalizeDomain(src.Domain)
		src.URL = strings.TrimSpace(src.URL)
		if strings.TrimSpace(src.Path) != "" {
			expanded, err := expandPath(strings.TrimSpace(src.Path))
			if err != nil {
				return fmt.Errorf("sources[%d].path: %w", i, err)
			}
			src.Path = expanded
		}
		if src.Domain != "" {
			continue
		}
		switch src.Type {
		case SourceTypeFixture:
			src.Domain = "fixture." + src.Name
		case SourceTypeHTTP:
			if parsed, err := url.Parse(src.URL); err == nil {
				src.Domain = normalizeDomain(parsed.Hostname())
			}
		}
	}
	return nil
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = Duration(defaultNotifyTimeout)
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func normalizeDomain(domain string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
}
