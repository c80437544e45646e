package config

import (
	"fmt"
	"net/url"
	"strings"

	"asinresolve/internal/services"
)

// Validate ensures the configuration is usable. Every failure carries
// services.ErrConfiguration so callers can treat it as fatal.
func (c *Config) Validate() error {
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validateRateLimits(); err != nil {
		return err
	}
	if err := c.validateResolver(); err != nil {
		return err
	}
	if err := c.validateScoring(); err != nil {
		return err
	}
	if err := c.validateBatch(); err != nil {
		return err
	}
	if err := c.validateBench(); err != nil {
		return err
	}
	if err := c.validateSources(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", services.ErrConfiguration, fmt.Sprintf(format, args...))
}

func (c *Config) validateCache() error {
	if strings.TrimSpace(c.Cache.Path) == "" {
		return configErrorf("cache.path must be set")
	}
	if c.Cache.DefaultTTL < 0 || c.Cache.LowConfidenceTTL < 0 || c.Cache.NegativeTTL < 0 {
		return configErrorf("cache TTLs must not be negative")
	}
	if c.Cache.LowConfidenceTTL > c.Cache.DefaultTTL {
		return configErrorf("cache.low_confidence_ttl (%s) must not exceed cache.default_ttl (%s)", c.Cache.LowConfidenceTTL, c.Cache.DefaultTTL)
	}
	if c.Cache.SweepInterval < 0 {
		return configErrorf("cache.sweep_interval must not be negative")
	}
	if c.Cache.MaxConnections < 1 {
		return configErrorf("cache.max_connections must be at least 1")
	}
	return nil
}

func (c *Config) validateRateLimits() error {
	rl := c.RateLimits
	if err := validateDomainLimit("rate_limits.default", DomainLimit{Capacity: rl.DefaultCapacity, RefillRate: rl.DefaultRefillRate}); err != nil {
		return err
	}
	for name, limit := range rl.Domains {
		if name == "" {
			return configErrorf("rate_limits.domains contains an empty domain name")
		}
		if err := validateDomainLimit("rate_limits.domains."+name, limit); err != nil {
			return err
		}
	}
	if rl.BackoffBase < 1 {
		return configErrorf("rate_limits.backoff_base must be >= 1, got %v", rl.BackoffBase)
	}
	if rl.BackoffInitial <= 0 {
		return configErrorf("rate_limits.backoff_initial must be positive")
	}
	if rl.BackoffMax < rl.BackoffInitial {
		return configErrorf("rate_limits.backoff_max (%s) must be >= backoff_initial (%s)", rl.BackoffMax, rl.BackoffInitial)
	}
	if rl.FailureThreshold < 1 {
		return configErrorf("rate_limits.failure_threshold must be at least 1")
	}
	if rl.MaxWait < 0 {
		return configErrorf("rate_limits.max_wait must not be negative")
	}
	return nil
}

func validateDomainLimit(field string, limit DomainLimit) error {
	if limit.Capacity < 1 {
		return configErrorf("%s.capacity must be at least 1, got %d", field, limit.Capacity)
	}
	if limit.RefillRate <= 0 {
		return configErrorf("%s.refill_rate must be positive, got %v", field, limit.RefillRate)
	}
	return nil
}

func (c *Config) validateResolver() error {
	if c.Resolver.ConfidenceThreshold < 0 || c.Resolver.ConfidenceThreshold > 1 {
		return configErrorf("resolver.confidence_threshold must be between 0 and 1")
	}
	if c.Resolver.SourceTimeout <= 0 {
		return configErrorf("resolver.source_timeout must be positive")
	}
	return nil
}

func (c *Config) validateScoring() error {
	for name, weight := range c.Scoring.Reliability {
		if weight < 0 || weight > 1 {
			return configErrorf("scoring.reliability.%s must be between 0 and 1, got %v", name, weight)
		}
	}
	if c.Scoring.DefaultReliability < 0 || c.Scoring.DefaultReliability > 1 {
		return configErrorf("scoring.default_reliability must be between 0 and 1")
	}
	if c.Scoring.ExactIdentifierBonus < 0 || c.Scoring.TitleAuthorBonus < 0 {
		return configErrorf("scoring bonuses must not be negative")
	}
	return nil
}

func (c *Config) validateBatch() error {
	if c.Batch.Workers < 1 || c.Batch.Workers > MaxWorkers {
		return configErrorf("batch.workers must be between 1 and %d, got %d", MaxWorkers, c.Batch.Workers)
	}
	w := c.Batch.OrderWeights
	if w.Cached < 0 || w.ISBN < 0 || w.KnownAuthor < 0 {
		return configErrorf("batch.order_weights must not be negative")
	}
	return nil
}

func (c *Config) validateBench() error {
	if c.Bench.Warmups < 0 {
		return configErrorf("bench.warmups must not be negative")
	}
	if c.Bench.Iterations < 1 {
		return configErrorf("bench.iterations must be at least 1")
	}
	if c.Bench.Tolerance < 0 || c.Bench.Tolerance >= 1 {
		return configErrorf("bench.tolerance must be in [0, 1)")
	}
	return nil
}

func (c *Config) validateSources() error {
	seen := make(map[string]struct{}, len(c.Sources))
	for i, src := range c.Sources {
		if src.Name == "" {
			return configErrorf("sources[%d].name must be set", i)
		}
		if _, dup := seen[src.Name]; dup {
			return configErrorf("sources[%d].name %q is declared more than once", i, src.Name)
		}
		seen[src.Name] = struct{}{}
		switch src.Type {
		case SourceTypeFixture:
			if src.Path == "" {
				return configErrorf("sources[%d] (%s): fixture sources require path", i, src.Name)
			}
		case SourceTypeHTTP:
			if src.URL == "" {
				return configErrorf("sources[%d] (%s): http sources require url", i, src.Name)
			}
			parsed, err := url.Parse(src.URL)
			if err != nil || parsed.Scheme == "" || parsed.Host == "" {
				return configErrorf("sources[%d] (%s): invalid url %q", i, src.Name, src.URL)
			}
		default:
			return configErrorf("sources[%d] (%s): unsupported type %q (want %q or %q)", i, src.Name, src.Type, SourceTypeFixture, SourceTypeHTTP)
		}
	}
	return nil
}

func (c *Config) validateNotifications() error {
	topic := c.Notifications.NtfyTopic
	if topic == "" {
		return nil
	}
	parsed, err := url.Parse(topic)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return configErrorf("notifications.ntfy_topic must be a full http(s) URL, got %q", topic)
	}
	return nil
}
