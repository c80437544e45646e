package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"asinresolve/internal/cache"
	"asinresolve/internal/config"
	"asinresolve/internal/logging"
	"asinresolve/internal/lookup"
	"asinresolve/internal/metrics"
	"asinresolve/internal/ratelimit"
	"asinresolve/internal/scoring"
	"asinresolve/internal/services"
)

// Cache is the subset of the cache store the orchestrator needs.
type Cache interface {
	Get(ctx context.Context, key string) (cache.Entry, bool, error)
	Put(ctx context.Context, entry cache.Entry, ttl time.Duration) error
	PutNegative(ctx context.Context, key string, req lookup.Request, ttl time.Duration) error
}

// Limiter is the subset of the rate limiter the orchestrator needs.
type Limiter interface {
	Acquire(ctx context.Context, domain string) (ratelimit.Decision, error)
	ReportSuccess(domain string)
	ReportFailure(domain string, statusCode int) time.Duration
}

// Options wires an Orchestrator.
type Options struct {
	Cache   Cache
	Limiter Limiter
	Scorer  *scoring.Scorer
	// Sources in registration order; SourceOrder names move to the front.
	Sources          []Source
	SourceOrder      []string
	SourceTimeout    time.Duration
	DefaultTTL       time.Duration
	LowConfidenceTTL time.Duration
	NegativeTTL      time.Duration
	Metrics          *metrics.Metrics
	Logger           *slog.Logger
	Clock            func() time.Time
}

// ApplyConfig copies resolver and cache policy from cfg into opts.
func (o *Options) ApplyConfig(cfg *config.Config) {
	o.SourceOrder = append([]string(nil), cfg.Resolver.SourceOrder...)
	o.SourceTimeout = cfg.Resolver.SourceTimeout.Std()
	o.DefaultTTL = cfg.Cache.DefaultTTL.Std()
	o.LowConfidenceTTL = cfg.Cache.LowConfidenceTTL.Std()
	o.NegativeTTL = cfg.Cache.NegativeTTL.Std()
}

// Orchestrator resolves single requests.
type Orchestrator struct {
	cache       Cache
	limiter     Limiter
	scorer      *scoring.Scorer
	sources     []Source
	timeout     time.Duration
	ttl         time.Duration
	lowTTL      time.Duration
	negativeTTL time.Duration
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time

	flights singleflight.Group
}

// New validates opts and returns an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Cache == nil || opts.Limiter == nil || opts.Scorer == nil {
		return nil, services.Wrap(services.ErrConfiguration, "resolver", "new", "cache, limiter, and scorer are required", nil)
	}
	seen := make(map[string]struct{}, len(opts.Sources))
	for _, src := range opts.Sources {
		if src == nil {
			return nil, services.Wrap(services.ErrConfiguration, "resolver", "new", "nil source", nil)
		}
		name := strings.ToLower(strings.TrimSpace(src.Name()))
		if name == "" || strings.TrimSpace(src.Domain()) == "" {
			return nil, services.Wrap(services.ErrConfiguration, "resolver", "new", "source name and domain are required", nil)
		}
		if _, dup := seen[name]; dup {
			return nil, services.Wrap(services.ErrConfiguration, "resolver", "new", fmt.Sprintf("duplicate source %q", name), nil)
		}
		seen[name] = struct{}{}
	}

	defaults := config.Default()
	o := &Orchestrator{
		cache:       opts.Cache,
		limiter:     opts.Limiter,
		scorer:      opts.Scorer,
		sources:     OrderSources(opts.Sources, opts.SourceOrder),
		timeout:     opts.SourceTimeout,
		ttl:         opts.DefaultTTL,
		lowTTL:      opts.LowConfidenceTTL,
		negativeTTL: opts.NegativeTTL,
		metrics:     opts.Metrics,
		logger:      logging.NewComponentLogger(opts.Logger, "resolver"),
		now:         opts.Clock,
	}
	if o.timeout <= 0 {
		o.timeout = defaults.Resolver.SourceTimeout.Std()
	}
	if o.ttl <= 0 {
		o.ttl = defaults.Cache.DefaultTTL.Std()
	}
	if o.lowTTL <= 0 {
		o.lowTTL = defaults.Cache.LowConfidenceTTL.Std()
	}
	if o.negativeTTL <= 0 {
		o.negativeTTL = defaults.Cache.NegativeTTL.Std()
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}

// OrderSources returns sources with names listed in order first, in that
// order, followed by the rest in registration order.
func OrderSources(sources []Source, order []string) []Source {
	rank := make(map[string]int, len(order))
	for i, name := range order {
		name = strings.ToLower(strings.TrimSpace(name))
		if _, ok := rank[name]; !ok {
			rank[name] = i
		}
	}
	out := append([]Source(nil), sources...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, iok := rank[strings.ToLower(out[i].Name())]
		rj, jok := rank[strings.ToLower(out[j].Name())]
		switch {
		case iok && jok:
			return ri < rj
		case iok:
			return true
		default:
			return false
		}
	})
	return out
}

// SourceNames lists sources in the order they are tried.
func (o *Orchestrator) SourceNames() []string {
	names := make([]string, 0, len(o.sources))
	for _, src := range o.sources {
		names = append(names, src.Name())
	}
	return names
}

// Resolve runs one request to completion. The returned error is non-nil only
// for an invalid request or a context that ended before work began; every
// other outcome is reported on the Result.
func (o *Orchestrator) Resolve(ctx context.Context, req lookup.Request) (lookup.Result, error) {
	start := o.now()
	req = req.Normalized()
	if _, ok := services.RequestIDFromContext(ctx); !ok {
		ctx = services.WithRequestID(ctx, uuid.NewString())
	}
	logger := logging.WithContext(ctx, o.logger)

	if !req.Valid() {
		err := services.Wrap(services.ErrInvalidRequest, "resolver", "resolve", "request needs a title or an ISBN", nil)
		result := lookup.Result{Request: req, Status: lookup.StatusFailed, ResolvedAt: start, Error: err.Error()}
		o.metrics.ObserveResolution(string(result.Status), 0)
		return result, err
	}
	if err := ctx.Err(); err != nil {
		return lookup.Skipped(req), err
	}

	key := lookup.Key(req)
	if result, ok := o.fromCache(ctx, key, req, logger); ok {
		result.ResolvedAt = o.now()
		result.Elapsed = result.ResolvedAt.Sub(start)
		o.finish(logger, result)
		return result, nil
	}

	// The source pass is shared by every caller of key, so it runs detached
	// from any one caller's cancellation. Each caller stops waiting on its own
	// ctx; per-source timeouts still bound the pass.
	flight := o.flights.DoChan(key, func() (any, error) {
		return o.resolveSources(context.WithoutCancel(ctx), key, req, logger), nil
	})
	var (
		value  any
		shared bool
	)
	select {
	case <-ctx.Done():
		return lookup.Skipped(req), ctx.Err()
	case res := <-flight:
		value, shared = res.Val, res.Shared
	}
	result := value.(lookup.Result)
	result.Request = req
	result.Attempts = append([]lookup.Attempt(nil), result.Attempts...)
	result.ResolvedAt = o.now()
	result.Elapsed = result.ResolvedAt.Sub(start)
	if shared {
		logger.Debug("joined in-flight resolution", logging.String(logging.FieldCacheKey, key))
	}
	o.finish(logger, result)
	return result, nil
}

func (o *Orchestrator) finish(logger *slog.Logger, result lookup.Result) {
	o.metrics.ObserveResolution(string(result.Status), result.Elapsed)
	attrs := []logging.Attr{
		logging.String("title", result.Request.Title),
		logging.String("status", string(result.Status)),
		logging.Bool("cached", result.Cached),
		logging.Duration("elapsed", result.Elapsed),
	}
	if result.Identifier != "" {
		attrs = append(attrs,
			logging.String("identifier", result.Identifier),
			logging.String(logging.FieldSource, result.Source),
			logging.Float64("confidence", result.Confidence))
	}
	logger.Debug("resolution finished", logging.Args(attrs...)...)
}

func (o *Orchestrator) fromCache(ctx context.Context, key string, req lookup.Request, logger *slog.Logger) (lookup.Result, bool) {
	entry, ok, err := o.cache.Get(ctx, key)
	if err != nil {
		logging.WarnWithContext(logger, "cache read failed; treating as miss", "cache_read_failed",
			logging.String(logging.FieldCacheKey, key),
			logging.Error(err),
			logging.String(logging.FieldImpact, "request resolved from sources"))
		o.metrics.ObserveCache("error")
		return lookup.Result{}, false
	}
	if !ok {
		o.metrics.ObserveCache("miss")
		return lookup.Result{}, false
	}
	if entry.Negative() {
		o.metrics.ObserveCache("negative_hit")
		return lookup.Result{Request: req, Status: lookup.StatusNotFound, Cached: true}, true
	}
	o.metrics.ObserveCache("hit")
	return lookup.Result{
		Request:    req,
		Status:     lookup.StatusFound,
		Identifier: entry.Identifier,
		Source:     entry.Source,
		Confidence: entry.Confidence,
		Cached:     true,
	}, true
}

type scored struct {
	source    string
	candidate lookup.Candidate
	score     float64
}

func (o *Orchestrator) resolveSources(ctx context.Context, key string, req lookup.Request, logger *slog.Logger) lookup.Result {
	result := lookup.Result{Request: req, Status: lookup.StatusNotFound}
	var best *scored
	cleanMiss := len(o.sources) > 0

	for _, src := range o.sources {
		if ctx.Err() != nil {
			cleanMiss = false
			break
		}
		name, domain := src.Name(), src.Domain()
		srcLogger := logging.WithContext(services.WithSource(ctx, name), logger)

		decision, err := o.limiter.Acquire(ctx, domain)
		o.metrics.ObserveDecision(domain, string(decision.Outcome))
		if err != nil || !decision.Allowed() {
			cleanMiss = false
			reason := decision.Reason
			if err != nil {
				reason = err.Error()
			}
			result.Attempts = append(result.Attempts, lookup.Attempt{Source: name, Outcome: lookup.OutcomeDenied, Err: reason})
			o.metrics.ObserveAttempt(name, lookup.OutcomeDenied)
			srcLogger.Debug("source skipped by rate limiter", logging.Args(append(
				logging.DecisionAttrs("admission", string(decision.Outcome), reason),
				logging.String(logging.FieldDomain, domain),
				logging.Duration("retry_after", decision.RetryAfter))...)...)
			if err != nil {
				break
			}
			continue
		}

		candidate, srcErr := o.invoke(ctx, src, req)
		if srcErr != nil {
			cleanMiss = false
			if ctx.Err() == nil {
				if cooldown := o.limiter.ReportFailure(domain, srcErr.StatusCode); cooldown > 0 {
					o.metrics.ObserveCooldown(domain)
				}
			}
			result.Attempts = append(result.Attempts, lookup.Attempt{Source: name, Outcome: lookup.OutcomeFailed, Err: srcErr.Error()})
			o.metrics.ObserveAttempt(name, lookup.OutcomeFailed)
			srcLogger.Info("source attempt failed",
				logging.String(logging.FieldErrorKind, string(srcErr.Kind)),
				logging.Int("status_code", srcErr.StatusCode),
				logging.Error(srcErr))
			continue
		}
		o.limiter.ReportSuccess(domain)

		if candidate == nil {
			result.Attempts = append(result.Attempts, lookup.Attempt{Source: name, Outcome: lookup.OutcomeNoMatch})
			o.metrics.ObserveAttempt(name, lookup.OutcomeNoMatch)
			continue
		}

		cand := *candidate
		cand.Identifier = lookup.CanonicalIdentifier(cand.Identifier)
		if cand.Identifier == "" {
			invalid := services.Wrap(services.ErrInvalidIdentifier, "resolver", name, fmt.Sprintf("candidate %q rejected", candidate.Identifier), nil)
			result.Attempts = append(result.Attempts, lookup.Attempt{Source: name, Outcome: lookup.OutcomeRejected, Err: invalid.Error()})
			o.metrics.ObserveAttempt(name, lookup.OutcomeRejected)
			srcLogger.Debug("candidate rejected", logging.Error(invalid))
			continue
		}

		score := o.scorer.Score(name, cand, req)
		result.Attempts = append(result.Attempts, lookup.Attempt{Source: name, Outcome: lookup.OutcomeCandidate, Score: score})
		o.metrics.ObserveAttempt(name, lookup.OutcomeCandidate)
		srcLogger.Debug("candidate scored",
			logging.String("identifier", cand.Identifier),
			logging.Float64("score", score))

		if best == nil || score > best.score {
			best = &scored{source: name, candidate: cand, score: score}
		}
		if o.scorer.Accepts(score) {
			break
		}
	}

	if best != nil {
		result.Status = lookup.StatusFound
		result.Identifier = best.candidate.Identifier
		result.Source = best.source
		result.Confidence = best.score
		ttl := o.ttl
		if !o.scorer.Accepts(best.score) {
			ttl = o.lowTTL
		}
		entry := cache.Entry{
			Key:        key,
			Identifier: best.candidate.Identifier,
			Source:     best.source,
			Confidence: best.score,
			Title:      req.Title,
			Author:     req.Author,
		}
		if err := o.cache.Put(context.WithoutCancel(ctx), entry, ttl); err != nil {
			o.cacheWriteFailed(logger, key, err)
		}
		return result
	}

	if cleanMiss {
		if err := o.cache.PutNegative(context.WithoutCancel(ctx), key, req, o.negativeTTL); err != nil {
			o.cacheWriteFailed(logger, key, err)
		}
	}
	return result
}

func (o *Orchestrator) cacheWriteFailed(logger *slog.Logger, key string, err error) {
	logging.WarnWithContext(logger, "cache write failed", "cache_write_failed",
		logging.String(logging.FieldCacheKey, key),
		logging.Error(err),
		logging.String(logging.FieldErrorKind, services.Kind(err)),
		logging.String(logging.FieldImpact, "the next identical request will query sources again"))
}

type attemptOutcome struct {
	candidate *lookup.Candidate
	err       error
}

// invoke runs one adapter call under the per-source timeout. A call that
// ignores its context is abandoned when the timeout fires; panics are
// recovered into a SourceError.
func (o *Orchestrator) invoke(ctx context.Context, src Source, req lookup.Request) (*lookup.Candidate, *SourceError) {
	callCtx, cancel := context.WithTimeout(services.WithSource(ctx, src.Name()), o.timeout)
	defer cancel()

	done := make(chan attemptOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptOutcome{err: &SourceError{Source: src.Name(), Kind: KindPanic, Err: fmt.Errorf("panic: %v", r)}}
			}
		}()
		candidate, err := src.Attempt(callCtx, req)
		done <- attemptOutcome{candidate: candidate, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, classify(src.Name(), out.err, errors.Is(callCtx.Err(), context.DeadlineExceeded))
		}
		return out.candidate, nil
	case <-callCtx.Done():
		deadline := errors.Is(callCtx.Err(), context.DeadlineExceeded)
		err := callCtx.Err()
		if deadline {
			err = services.Wrap(services.ErrTimeout, "resolver", src.Name(), fmt.Sprintf("no response within %s", o.timeout), err)
		}
		return nil, classify(src.Name(), err, deadline)
	}
}
