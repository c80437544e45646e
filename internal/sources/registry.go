package sources

import (
	"fmt"
	"log/slog"
	"net/http"

	"asinresolve/internal/config"
	"asinresolve/internal/logging"
	"asinresolve/internal/resolver"
	"asinresolve/internal/services"
	"asinresolve/internal/sources/fixture"
	"asinresolve/internal/sources/httpjson"
)

// Options carry shared dependencies for adapters.
type Options struct {
	HTTPClient *http.Client
	UserAgent  string
	Logger     *slog.Logger
}

// FromConfig builds one adapter per configured source, in declaration order.
func FromConfig(cfg *config.Config, opts Options) ([]resolver.Source, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "sources", "build", "config is nil", nil)
	}
	logger := logging.NewComponentLogger(opts.Logger, "sources")
	out := make([]resolver.Source, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		built, err := build(src, opts)
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "sources", "build", fmt.Sprintf("source %q", src.Name), err)
		}
		logger.Debug("source registered",
			logging.String(logging.FieldSource, src.Name),
			logging.String("type", src.Type),
			logging.String(logging.FieldDomain, built.Domain()),
		)
		out = append(out, built)
	}
	return out, nil
}

func build(src config.Source, opts Options) (resolver.Source, error) {
	switch src.Type {
	case config.SourceTypeFixture:
		return fixture.Load(src.Name, src.Domain, src.Path)
	case config.SourceTypeHTTP:
		return httpjson.New(src.Name, src.Domain, src.URL,
			httpjson.WithHTTPClient(opts.HTTPClient),
			httpjson.WithUserAgent(opts.UserAgent),
		)
	default:
		return nil, fmt.Errorf("unsupported source type %q", src.Type)
	}
}
