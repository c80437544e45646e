package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains data and log directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// Cache contains configuration for the durable lookup cache.
type Cache struct {
	Path             string   `toml:"path"`
	DefaultTTL       Duration `toml:"default_ttl"`
	LowConfidenceTTL Duration `toml:"low_confidence_ttl"`
	NegativeTTL      Duration `toml:"negative_ttl"`
	SweepInterval    Duration `toml:"sweep_interval"`
	MaxConnections   int      `toml:"max_connections"`
	MemoryEntries    int      `toml:"memory_entries"`
	LegacyPath       string   `toml:"legacy_path"`
}

// DomainLimit is the token bucket shape for a single external domain.
type DomainLimit struct {
	Capacity   int     `toml:"capacity"`
	RefillRate float64 `toml:"refill_rate"`
}

// RateLimits contains per-domain admission control and failure backoff settings.
type RateLimits struct {
	DefaultCapacity   int                    `toml:"default_capacity"`
	DefaultRefillRate float64                `toml:"default_refill_rate"`
	BackoffBase       float64                `toml:"backoff_base"`
	BackoffInitial    Duration               `toml:"backoff_initial"`
	BackoffMax        Duration               `toml:"backoff_max"`
	FailureThreshold  int                    `toml:"failure_threshold"`
	MaxWait           Duration               `toml:"max_wait"`
	Domains           map[string]DomainLimit `toml:"domains"`
}

// Resolver contains the per-request orchestration policy.
type Resolver struct {
	ConfidenceThreshold float64  `toml:"confidence_threshold"`
	SourceTimeout       Duration `toml:"source_timeout"`
	SourceOrder         []string `toml:"source_order"`
}

// Scoring contains the confidence scoring policy.
type Scoring struct {
	Reliability          map[string]float64 `toml:"reliability"`
	DefaultReliability   float64            `toml:"default_reliability"`
	ExactIdentifierBonus float64            `toml:"exact_identifier_bonus"`
	TitleAuthorBonus     float64            `toml:"title_author_bonus"`
}

// OrderWeights tunes the cache-likelihood heuristic used to reorder batches.
type OrderWeights struct {
	Cached      float64 `toml:"cached"`
	ISBN        float64 `toml:"isbn"`
	KnownAuthor float64 `toml:"known_author"`
}

// Batch contains worker pool and dispatch ordering settings.
type Batch struct {
	Workers      int          `toml:"workers"`
	Reorder      bool         `toml:"reorder"`
	OrderWeights OrderWeights `toml:"order_weights"`
}

// Bench contains defaults for the benchmark harness.
type Bench struct {
	Warmups    int     `toml:"warmups"`
	Iterations int     `toml:"iterations"`
	Tolerance  float64 `toml:"tolerance"`
	ResultsDir string  `toml:"results_dir"`
}

// Metrics contains Prometheus exposition settings.
type Metrics struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// Notifications contains ntfy delivery settings. An empty topic disables them.
type Notifications struct {
	NtfyTopic      string   `toml:"ntfy_topic"`
	RequestTimeout Duration `toml:"request_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Source declares one lookup source adapter.
type Source struct {
	Name   string `toml:"name"`
	Type   string `toml:"type"`
	Domain string `toml:"domain"`
	Path   string `toml:"path"`
	URL    string `toml:"url"`
}

// Config encapsulates all configuration values for the resolver.
//
// Configuration sections by subsystem:
//   - Paths: data and log directories
//   - Cache: durable cache location and TTL policy
//   - RateLimits: per-domain token buckets and cooldown backoff
//   - Resolver: early-termination threshold, per-call timeout, source order
//   - Scoring: source reliability table and query bonuses
//   - Batch: worker pool size and reordering weights
//   - Bench: benchmark harness defaults
//   - Metrics: Prometheus endpoint
//   - Notifications: ntfy topic for batch and benchmark events
//   - Logging: log format and level
//   - Sources: lookup source adapters in registration order
type Config struct {
	Paths         Paths         `toml:"paths"`
	Cache         Cache         `toml:"cache"`
	RateLimits    RateLimits    `toml:"rate_limits"`
	Resolver      Resolver      `toml:"resolver"`
	Scoring       Scoring       `toml:"scoring"`
	Batch         Batch         `toml:"batch"`
	Bench         Bench         `toml:"bench"`
	Metrics       Metrics       `toml:"metrics"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
	Sources       []Source      `toml:"sources"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, configErrorf("parse config %s: %v", resolvedPath, err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// Parse decodes TOML content into a normalized, validated config.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, configErrorf("parse config: %v", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("asinresolve.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the data, log, and cache directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.LogDir, filepath.Dir(c.Cache.Path)}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DomainLimit returns the configured bucket for domain, falling back to the
// conservative default when the domain is not listed.
func (c *Config) DomainLimit(domain string) DomainLimit {
	if limit, ok := c.RateLimits.Domains[normalizeDomain(domain)]; ok {
		return limit
	}
	return DomainLimit{Capacity: c.RateLimits.DefaultCapacity, RefillRate: c.RateLimits.DefaultRefillRate}
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the config as TOML.
func (c *Config) Encode() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
