package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"asinresolve/internal/batch"
	"asinresolve/internal/cache"
	"asinresolve/internal/config"
	"asinresolve/internal/logging"
	"asinresolve/internal/lookup"
	"asinresolve/internal/metrics"
	"asinresolve/internal/ratelimit"
	"asinresolve/internal/resolver"
	"asinresolve/internal/scoring"
	"asinresolve/internal/services"
)

// Option customizes engine construction.
type Option func(*settings)

type settings struct {
	registry *prometheus.Registry
	clock    func() time.Time
	sleep    ratelimit.SleepFunc
}

// WithRegistry registers engine metrics on reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *settings) {
		if reg != nil {
			s.registry = reg
		}
	}
}

// WithClock injects the time source for the cache, limiter and resolver.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.clock = now
		}
	}
}

// WithSleep injects the limiter wait implementation.
func WithSleep(sleep ratelimit.SleepFunc) Option {
	return func(s *settings) {
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

// Engine owns every resolution resource.
type Engine struct {
	cfg         *config.Config
	logger      *slog.Logger
	registry    *prometheus.Registry
	metrics     *metrics.Metrics
	store       *cache.Store
	limiter     *ratelimit.Limiter
	scorer      *scoring.Scorer
	resolver    *resolver.Orchestrator
	coordinator *batch.Coordinator

	stopSweep context.CancelFunc
	sweepDone chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// New validates cfg and opens the engine. Configuration problems are
// returned wrapped in services.ErrConfiguration.
func New(cfg *config.Config, sources []resolver.Source, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "engine", "new", "config is nil", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "engine", "new", "prepare directories", err)
	}
	st := settings{registry: prometheus.NewRegistry(), clock: time.Now}
	for _, opt := range opts {
		opt(&st)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	e := &Engine{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "engine"),
		registry: st.registry,
		metrics:  metrics.New(st.registry),
	}

	store, err := cache.Open(cfg.Cache.Path, cache.Options{
		MaxConnections: cfg.Cache.MaxConnections,
		MemoryEntries:  cfg.Cache.MemoryEntries,
		DefaultTTL:     cfg.Cache.DefaultTTL.Std(),
		Logger:         logger,
		Clock:          st.clock,
	})
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	e.store = store

	limiterOpts := []ratelimit.Option{ratelimit.WithLogger(logger), ratelimit.WithClock(st.clock)}
	if st.sleep != nil {
		limiterOpts = append(limiterOpts, ratelimit.WithSleep(st.sleep))
	}
	if e.limiter, err = ratelimit.New(ratelimit.FromConfig(cfg), limiterOpts...); err != nil {
		store.Close()
		return nil, err
	}
	if e.scorer, err = scoring.New(scoring.PolicyFromConfig(cfg)); err != nil {
		store.Close()
		return nil, err
	}

	resolverOpts := resolver.Options{
		Cache:   store,
		Limiter: e.limiter,
		Scorer:  e.scorer,
		Sources: sources,
		Metrics: e.metrics,
		Logger:  logger,
		Clock:   st.clock,
	}
	resolverOpts.ApplyConfig(cfg)
	if e.resolver, err = resolver.New(resolverOpts); err != nil {
		store.Close()
		return nil, err
	}

	var orderer batch.Orderer = batch.InputOrder{}
	if cfg.Batch.Reorder {
		orderer = batch.CacheLikelihood{Probe: store, Weights: cfg.Batch.OrderWeights, Logger: logger}
	}
	if e.coordinator, err = batch.New(e.resolver, batch.PoolOptions{
		Workers: cfg.Batch.Workers,
		Orderer: orderer,
		Metrics: e.metrics,
		Logger:  logger,
	}); err != nil {
		store.Close()
		return nil, err
	}

	e.startSweep(cfg.Cache.SweepInterval.Std())
	e.logger.Info("engine ready",
		logging.String("cache", store.Path()),
		logging.Int("sources", len(sources)),
		logging.Int("workers", e.coordinator.Size()),
	)
	return e, nil
}

// ResolveOne resolves a single request. Per-request failures are reported in
// the result; the error is non-nil only for invalid requests and
// cancellation before work started.
func (e *Engine) ResolveOne(ctx context.Context, req lookup.Request) (lookup.Result, error) {
	return e.resolver.Resolve(ctx, req)
}

// ResolveBatch resolves reqs on the shared worker pool. Results are in input
// order. workers caps concurrency for this batch; zero uses the pool size.
func (e *Engine) ResolveBatch(ctx context.Context, reqs []lookup.Request, workers int, progress batch.ProgressFunc) (batch.Report, error) {
	return e.coordinator.Process(ctx, reqs, batch.Options{Workers: workers, Progress: progress})
}

// Cache exposes the cache store for maintenance commands.
func (e *Engine) Cache() *cache.Store { return e.store }

// Limiter exposes the rate limiter for inspection.
func (e *Engine) Limiter() *ratelimit.Limiter { return e.limiter }

// Sources lists source names in attempt order.
func (e *Engine) Sources() []string { return e.resolver.SourceNames() }

// Gatherer exposes engine metrics.
func (e *Engine) Gatherer() prometheus.Gatherer { return e.registry }

// Config returns the configuration the engine was built with.
func (e *Engine) Config() *config.Config { return e.cfg }

func (e *Engine) startSweep(interval time.Duration) {
	if interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.stopSweep = cancel
	e.sweepDone = make(chan struct{})
	go func() {
		defer close(e.sweepDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.sweep(ctx)
			}
		}
	}()
}

func (e *Engine) sweep(ctx context.Context) {
	removed, err := e.store.ExpireAll(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		logging.WarnWithContext(e.logger, "cache sweep failed", "cache_sweep_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check cache file permissions and disk space"),
			logging.String(logging.FieldImpact, "expired entries stay on disk until the next sweep"),
		)
		return
	}
	if removed > 0 {
		e.logger.Debug("cache sweep removed expired entries", logging.Int64("removed", removed))
	}
}

// Close stops the sweep, drains the worker pool and closes the cache. It is
// safe to call more than once.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		if e.stopSweep != nil {
			e.stopSweep()
			<-e.sweepDone
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		var errs []error
		if err := e.coordinator.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown workers: %w", err))
		}
		if err := e.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cache: %w", err))
		}
		e.closeErr = errors.Join(errs...)
	})
	return e.closeErr
}
