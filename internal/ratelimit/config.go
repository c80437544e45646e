package ratelimit

import (
	"fmt"
	"strings"
	"time"

	"asinresolve/internal/config"
	"asinresolve/internal/services"
)

// Limit is the token bucket shape for one domain.
type Limit struct {
	Capacity   int
	RefillRate float64
}

// Config holds limiter policy.
type Config struct {
	Default          Limit
	Domains          map[string]Limit
	BackoffBase      float64
	BackoffInitial   time.Duration
	BackoffMax       time.Duration
	FailureThreshold int
	MaxWait          time.Duration
}

// DefaultConfig mirrors the configuration defaults.
func DefaultConfig() Config {
	cfg := config.Default()
	return FromConfig(&cfg)
}

// FromConfig extracts limiter policy from application config.
func FromConfig(cfg *config.Config) Config {
	rl := cfg.RateLimits
	out := Config{
		Default:          Limit{Capacity: rl.DefaultCapacity, RefillRate: rl.DefaultRefillRate},
		Domains:          make(map[string]Limit, len(rl.Domains)),
		BackoffBase:      rl.BackoffBase,
		BackoffInitial:   rl.BackoffInitial.Std(),
		BackoffMax:       rl.BackoffMax.Std(),
		FailureThreshold: rl.FailureThreshold,
		MaxWait:          rl.MaxWait.Std(),
	}
	for domain, limit := range rl.Domains {
		out.Domains[normalizeDomain(domain)] = Limit{Capacity: limit.Capacity, RefillRate: limit.RefillRate}
	}
	return out
}

func (c Config) validate() error {
	if err := c.Default.validate("default"); err != nil {
		return err
	}
	for domain, limit := range c.Domains {
		if strings.TrimSpace(domain) == "" {
			return configError("domain name must not be empty")
		}
		if err := limit.validate(domain); err != nil {
			return err
		}
	}
	if c.BackoffBase < 1 {
		return configError(fmt.Sprintf("backoff base must be >= 1, got %v", c.BackoffBase))
	}
	if c.BackoffInitial <= 0 {
		return configError("backoff initial must be positive")
	}
	if c.BackoffMax < c.BackoffInitial {
		return configError("backoff max must be >= backoff initial")
	}
	if c.FailureThreshold < 1 {
		return configError("failure threshold must be >= 1")
	}
	if c.MaxWait < 0 {
		return configError("max wait must not be negative")
	}
	return nil
}

func (l Limit) validate(domain string) error {
	if l.Capacity < 1 {
		return configError(fmt.Sprintf("%s: capacity must be >= 1, got %d", domain, l.Capacity))
	}
	if l.RefillRate <= 0 {
		return configError(fmt.Sprintf("%s: refill rate must be positive, got %v", domain, l.RefillRate))
	}
	return nil
}

func configError(message string) error {
	return services.Wrap(services.ErrConfiguration, "ratelimit", "validate", message, nil)
}

func normalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}
