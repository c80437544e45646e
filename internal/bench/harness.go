package bench

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"asinresolve/internal/batch"
	"asinresolve/internal/config"
	"asinresolve/internal/logging"
	"asinresolve/internal/lookup"
	"asinresolve/internal/services"
)

// Runner executes one batch. *engine.Engine satisfies it.
type Runner interface {
	ResolveBatch(ctx context.Context, reqs []lookup.Request, workers int, progress batch.ProgressFunc) (batch.Report, error)
}

// Harness runs scenarios through a Runner.
type Harness struct {
	Runner     Runner
	Warmups    int
	Iterations int
	Logger     *slog.Logger
	Now        func() time.Time
}

// New builds a harness using the bench section of cfg.
func New(runner Runner, cfg config.Bench, logger *slog.Logger) *Harness {
	return &Harness{
		Runner:     runner,
		Warmups:    cfg.Warmups,
		Iterations: cfg.Iterations,
		Logger:     logging.NewComponentLogger(logger, "bench"),
		Now:        time.Now,
	}
}

// Run executes the warm-up passes and the timed iterations for sc.
func (h *Harness) Run(ctx context.Context, sc Scenario) (Record, error) {
	if h.Runner == nil {
		return Record{}, services.Wrap(services.ErrConfiguration, "bench", "run", "runner is required", nil)
	}
	if err := sc.validate(); err != nil {
		return Record{}, err
	}
	iterations := h.Iterations
	if iterations < 1 {
		iterations = 1
	}
	warmups := h.Warmups
	if warmups < 0 {
		warmups = 0
	}
	now := h.Now
	if now == nil {
		now = time.Now
	}
	logger := h.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	rec := Record{
		ID:         uuid.NewString(),
		Name:       sc.Name,
		StartedAt:  now(),
		Warmups:    warmups,
		Iterations: iterations,
		Requests:   len(sc.Requests),
	}
	logger.Info("benchmark started",
		logging.String("scenario", sc.Name),
		logging.Int("requests", len(sc.Requests)),
		logging.Int("warmups", warmups),
		logging.Int("iterations", iterations),
	)

	for i := 0; i < warmups; i++ {
		if _, err := h.pass(ctx, sc); err != nil {
			return Record{}, err
		}
	}

	acc := newAccumulator()
	for i := 0; i < iterations; i++ {
		start := now()
		results, err := h.pass(ctx, sc)
		if err != nil {
			return Record{}, err
		}
		elapsed := now().Sub(start)
		rec.TotalTime += elapsed
		acc.add(results)
		logger.Debug("benchmark iteration",
			logging.Int("iteration", i+1),
			logging.Duration("elapsed", elapsed),
		)
	}
	acc.fill(&rec)

	logger.Info("benchmark finished",
		logging.String("scenario", sc.Name),
		logging.Duration("total", rec.TotalTime),
		logging.Duration("p95", rec.Latency.P95),
		logging.Float64("hit_rate", rec.CacheHitRate),
		logging.Float64("success_rate", rec.SuccessRate),
	)
	return rec, nil
}

func (h *Harness) pass(ctx context.Context, sc Scenario) ([]lookup.Result, error) {
	report, err := h.Runner.ResolveBatch(ctx, sc.Requests, sc.Workers, nil)
	if err != nil {
		return nil, err
	}
	if report.Cancelled {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, context.Canceled
	}
	return report.Results, nil
}
