package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"asinresolve/internal/config"
	"asinresolve/internal/services"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("ASINRESOLVE_CACHE_PATH", "")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "asinresolve")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Cache.Path != filepath.Join(wantData, "lookup_cache.db") {
		t.Fatalf("unexpected cache path: %q", cfg.Cache.Path)
	}
	if cfg.Cache.DefaultTTL.Std() != 30*24*time.Hour {
		t.Fatalf("unexpected default ttl: %s", cfg.Cache.DefaultTTL)
	}
	if cfg.Resolver.ConfidenceThreshold != 0.85 {
		t.Fatalf("unexpected threshold: %v", cfg.Resolver.ConfidenceThreshold)
	}
	if cfg.Resolver.SourceTimeout.Std() != 12*time.Second {
		t.Fatalf("unexpected source timeout: %s", cfg.Resolver.SourceTimeout)
	}
	if got := strings.Join(cfg.Resolver.SourceOrder, ","); got != "isbn,search,bibliographic,scrape" {
		t.Fatalf("unexpected source order: %s", got)
	}
	if cfg.Batch.Workers < 1 || cfg.Batch.Workers > 16 {
		t.Fatalf("expected bounded default worker count, got %d", cfg.Batch.Workers)
	}
}

func TestLoadParsesDomainsAndDurations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
data_dir = "` + filepath.ToSlash(dir) + `"

[rate_limits]
backoff_initial = "1s"
backoff_max = "2m"

[rate_limits.domains."Example.COM"]
capacity = 3
refill_rate = 0.5

[resolver]
source_order = ["Search", "isbn", "search"]
source_timeout = "500ms"

[[sources]]
name = "Catalog"
type = "http"
url = "https://catalog.example.net/v1/lookup"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected existing config at %s, got %s (exists=%v)", path, resolved, exists)
	}

	limit := cfg.DomainLimit("example.com")
	if limit.Capacity != 3 || limit.RefillRate != 0.5 {
		t.Fatalf("unexpected domain limit: %+v", limit)
	}
	fallback := cfg.DomainLimit("unlisted.example.org")
	if fallback.Capacity != 1 || fallback.RefillRate != 1 {
		t.Fatalf("expected conservative default for unlisted domain, got %+v", fallback)
	}
	if cfg.RateLimits.BackoffMax.Std() != 2*time.Minute {
		t.Fatalf("unexpected backoff max: %s", cfg.RateLimits.BackoffMax)
	}
	if cfg.Resolver.SourceTimeout.Std() != 500*time.Millisecond {
		t.Fatalf("unexpected timeout: %s", cfg.Resolver.SourceTimeout)
	}
	if got := strings.Join(cfg.Resolver.SourceOrder, ","); got != "search,isbn" {
		t.Fatalf("expected deduplicated lowercase order, got %s", got)
	}
	if len(cfg.Sources) != 1 || cfg.Sources[0].Name != "catalog" || cfg.Sources[0].Domain != "catalog.example.net" {
		t.Fatalf("unexpected sources: %+v", cfg.Sources)
	}
}

func TestValidateRejectsMalformedDomainConfig(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{"zero refill", "[rate_limits.domains.\"a.example\"]\ncapacity = 1\nrefill_rate = -1\n", "refill_rate"},
		{"zero capacity", "[rate_limits.domains.\"a.example\"]\ncapacity = -2\nrefill_rate = 1\n", "capacity"},
		{"base below one", "[rate_limits]\nbackoff_base = 0.5\n", "backoff_base"},
		{"threshold", "[resolver]\nconfidence_threshold = 1.5\n", "confidence_threshold"},
		{"workers", "[batch]\nworkers = 1000\n", "batch.workers"},
		{"source type", "[[sources]]\nname = \"x\"\ntype = \"ftp\"\n", "unsupported type"},
		{"duplicate source", "[[sources]]\nname = \"x\"\ntype = \"fixture\"\npath = \"/tmp/x.json\"\n[[sources]]\nname = \"X\"\ntype = \"fixture\"\npath = \"/tmp/y.json\"\n", "more than once"},
		{"bad duration", "[cache]\ndefault_ttl = \"soon\"\n", "parse config"},
		{"ntfy topic", "[notifications]\nntfy_topic = \"my-topic\"\n", "ntfy_topic"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("HOME", t.TempDir())
			_, err := config.Parse([]byte(tc.content))
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !errors.Is(err, services.ErrConfiguration) {
				t.Fatalf("expected configuration marker, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in %q", tc.want, err.Error())
			}
		})
	}
}

func TestSampleConfigIsValid(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	target := filepath.Join(tempHome, "sample.toml")
	if err := config.CreateSample(target); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(target)
	if err != nil {
		t.Fatalf("sample config should load: %v", err)
	}
	if !exists {
		t.Fatal("expected sample config to exist")
	}
	if len(cfg.Sources) != 2 {
		t.Fatalf("expected two sample sources, got %d", len(cfg.Sources))
	}
	if cfg.DomainLimit("search.example.com").Capacity != 2 {
		t.Fatalf("unexpected sample domain limit: %+v", cfg.DomainLimit("search.example.com"))
	}
}

func TestCacheEnvOverride(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	override := filepath.Join(tempHome, "elsewhere", "cache.db")
	t.Setenv("ASINRESOLVE_CACHE_PATH", override)

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cache.Path != override {
		t.Fatalf("expected env override %q, got %q", override, cfg.Cache.Path)
	}
}

func TestEncodeRoundTripsDurations(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg := config.Default()
	data, err := cfg.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(string(data), "720h0m0s") {
		t.Fatalf("expected duration strings in encoded config, got:\n%s", data)
	}
	parsed, err := config.Parse(data)
	if err != nil {
		t.Fatalf("Parse encoded config: %v", err)
	}
	if parsed.Cache.NegativeTTL != cfg.Cache.NegativeTTL {
		t.Fatalf("negative ttl mismatch: %s vs %s", parsed.Cache.NegativeTTL, cfg.Cache.NegativeTTL)
	}
}
