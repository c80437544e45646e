package config

import (
	"runtime"
	"time"
)

const (
	defaultConfigPath          = "~/.config/asinresolve/config.toml"
	defaultDataDir             = "~/.local/share/asinresolve"
	defaultLogDir              = "~/.local/share/asinresolve/logs"
	defaultCacheFile           = "lookup_cache.db"
	defaultCacheTTL            = 30 * 24 * time.Hour
	defaultLowConfidenceTTL    = 7 * 24 * time.Hour
	defaultNegativeTTL         = 24 * time.Hour
	defaultSweepInterval       = time.Hour
	defaultCacheConnections    = 8
	defaultCacheMemoryEntries  = 4096
	defaultDomainCapacity      = 1
	defaultDomainRefillRate    = 1.0
	defaultBackoffBase         = 2.0
	defaultBackoffInitial      = 2 * time.Second
	defaultBackoffMax          = 5 * time.Minute
	defaultFailureThreshold    = 3
	defaultMaxWait             = 30 * time.Second
	defaultConfidenceThreshold = 0.85
	defaultSourceTimeout       = 12 * time.Second
	defaultReliability         = 0.5
	defaultExactIDBonus        = 0.10
	defaultTitleAuthorBonus    = 0.05
	defaultWeightCached        = 4.0
	defaultWeightISBN          = 2.0
	defaultWeightKnownAuthor   = 1.0
	defaultBenchWarmups        = 1
	defaultBenchIterations     = 5
	defaultBenchTolerance      = 0.05
	defaultMetricsListen       = "127.0.0.1:9464"
	defaultNotifyTimeout       = 10 * time.Second
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"

	// MaxWorkers caps the batch pool so a misconfigured worker count cannot
	// starve the rate limiter with blocked goroutines.
	MaxWorkers = 64

	// SourceTypeFixture reads candidates from a local JSON catalog.
	SourceTypeFixture = "fixture"
	// SourceTypeHTTP queries a JSON lookup endpoint.
	SourceTypeHTTP = "http"
)

// DefaultSourceOrder is the priority used when resolver.source_order is empty:
// exact identifier lookups, then web search, then bibliographic APIs, then scraping.
var DefaultSourceOrder = []string{"isbn", "search", "bibliographic", "scrape"}

// DefaultWorkers bounds the worker pool by available concurrency.
func DefaultWorkers() int {
	n := runtime.GOMAXPROCS(0) * 2
	if n > 16 {
		n = 16
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Cache: Cache{
			DefaultTTL:       Duration(defaultCacheTTL),
			LowConfidenceTTL: Duration(defaultLowConfidenceTTL),
			NegativeTTL:      Duration(defaultNegativeTTL),
			SweepInterval:    Duration(defaultSweepInterval),
			MaxConnections:   defaultCacheConnections,
			MemoryEntries:    defaultCacheMemoryEntries,
		},
		RateLimits: RateLimits{
			DefaultCapacity:   defaultDomainCapacity,
			DefaultRefillRate: defaultDomainRefillRate,
			BackoffBase:       defaultBackoffBase,
			BackoffInitial:    Duration(defaultBackoffInitial),
			BackoffMax:        Duration(defaultBackoffMax),
			FailureThreshold:  defaultFailureThreshold,
			MaxWait:           Duration(defaultMaxWait),
			Domains:           map[string]DomainLimit{},
		},
		Resolver: Resolver{
			ConfidenceThreshold: defaultConfidenceThreshold,
			SourceTimeout:       Duration(defaultSourceTimeout),
			SourceOrder:         append([]string(nil), DefaultSourceOrder...),
		},
		Scoring: Scoring{
			Reliability: map[string]float64{
				"isbn":          0.95,
				"search":        0.90,
				"bibliographic": 0.85,
				"scrape":        0.70,
			},
			DefaultReliability:   defaultReliability,
			ExactIdentifierBonus: defaultExactIDBonus,
			TitleAuthorBonus:     defaultTitleAuthorBonus,
		},
		Batch: Batch{
			Workers: DefaultWorkers(),
			Reorder: true,
			OrderWeights: OrderWeights{
				Cached:      defaultWeightCached,
				ISBN:        defaultWeightISBN,
				KnownAuthor: defaultWeightKnownAuthor,
			},
		},
		Bench: Bench{
			Warmups:    defaultBenchWarmups,
			Iterations: defaultBenchIterations,
			Tolerance:  defaultBenchTolerance,
		},
		Metrics: Metrics{
			Listen: defaultMetricsListen,
		},
		Notifications: Notifications{
			RequestTimeout: Duration(defaultNotifyTimeout),
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
