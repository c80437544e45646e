package preflight

import (
	"context"
	"net/http"

	"asinresolve/internal/cache"
	"asinresolve/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// Failed counts results that did not pass.
func Failed(results []Result) int {
	n := 0
	for _, r := range results {
		if !r.Passed {
			n++
		}
	}
	return n
}

// RunAll executes every applicable check. store may be nil when the cache
// could not be opened; the cache check then reports the failure.
func RunAll(ctx context.Context, cfg *config.Config, store *cache.Store, client *http.Client) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckCache(ctx, store),
	}
	if cfg.Cache.LegacyPath != "" {
		results = append(results, CheckLegacyCache(cfg.Cache.LegacyPath))
	}
	for _, src := range cfg.Sources {
		switch src.Type {
		case config.SourceTypeFixture:
			results = append(results, CheckFixtureSource(src.Name, src.Path))
		case config.SourceTypeHTTP:
			results = append(results, CheckHTTPSource(ctx, client, src.Name, src.URL))
		}
	}
	return results
}
