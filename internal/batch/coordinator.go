package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"asinresolve/internal/config"
	"asinresolve/internal/logging"
	"asinresolve/internal/lookup"
	"asinresolve/internal/metrics"
	"asinresolve/internal/services"
)

// Resolver resolves a single request.
type Resolver interface {
	Resolve(ctx context.Context, req lookup.Request) (lookup.Result, error)
}

// ProgressFunc is invoked once per completed request, serially, from a
// single goroutine. completed counts finished requests for the batch.
type ProgressFunc func(completed, total int, lastTitle string)

// Options tune a single Process call.
type Options struct {
	// Workers caps concurrency for this batch. Zero or values above the pool
	// size use the whole pool.
	Workers  int
	Progress ProgressFunc
}

// Report is the outcome of one batch.
type Report struct {
	BatchID     string          `json:"batch_id"`
	Results     []lookup.Result `json:"results"`
	Unprocessed []int           `json:"unprocessed,omitempty"`
	Cancelled   bool            `json:"cancelled"`
	Elapsed     time.Duration   `json:"elapsed_ns"`
}

// Completed counts results that were dispatched and finished.
func (r Report) Completed() int {
	return len(r.Results) - len(r.Unprocessed)
}

// PoolOptions configure the long-lived worker pool.
type PoolOptions struct {
	Workers int
	Orderer Orderer
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

type job struct {
	ctx    context.Context
	index  int
	req    lookup.Request
	finish func(lookup.Result)
}

// Coordinator runs batches on a fixed pool of workers.
type Coordinator struct {
	resolver Resolver
	orderer  Orderer
	metrics  *metrics.Metrics
	logger   *slog.Logger
	size     int

	jobs        chan job
	workersDone sync.WaitGroup

	mu       sync.RWMutex
	stopping bool
	active   sync.WaitGroup
	stopOnce sync.Once
}

// New starts the worker pool. Worker counts outside 1..config.MaxWorkers are
// clamped.
func New(resolver Resolver, opts PoolOptions) (*Coordinator, error) {
	if resolver == nil {
		return nil, services.Wrap(services.ErrConfiguration, "batch", "new", "resolver is required", nil)
	}
	size := opts.Workers
	if size <= 0 {
		size = config.DefaultWorkers()
	}
	if size > config.MaxWorkers {
		size = config.MaxWorkers
	}
	orderer := opts.Orderer
	if orderer == nil {
		orderer = InputOrder{}
	}
	c := &Coordinator{
		resolver: resolver,
		orderer:  orderer,
		metrics:  opts.Metrics,
		logger:   logging.NewComponentLogger(opts.Logger, "batch"),
		size:     size,
		jobs:     make(chan job),
	}
	c.workersDone.Add(size)
	for i := 0; i < size; i++ {
		go c.worker()
	}
	c.logger.Debug("worker pool started", logging.Int("workers", size))
	return c, nil
}

// Size returns the number of pool workers.
func (c *Coordinator) Size() int {
	return c.size
}

func (c *Coordinator) worker() {
	defer c.workersDone.Done()
	for j := range c.jobs {
		j.finish(c.run(j))
	}
}

func (c *Coordinator) run(j job) (res lookup.Result) {
	done := c.metrics.TrackInFlight()
	defer done()
	defer func() {
		if r := recover(); r != nil {
			logging.ErrorWithContext(logging.WithContext(j.ctx, c.logger), "resolver panicked", "batch_worker_panic",
				logging.Any("panic", r),
				logging.String(logging.FieldErrorHint, "inspect the resolver stack for the failing request"),
				logging.String(logging.FieldImpact, "the request is reported as failed"),
			)
			res = lookup.Result{
				Request: j.req,
				Status:  lookup.StatusFailed,
				Error:   fmt.Sprintf("panic: %v", r),
			}
		}
	}()

	res, err := c.resolver.Resolve(j.ctx, j.req)
	if err != nil && res.Status == "" {
		res = lookup.Result{Request: j.req, Status: lookup.StatusFailed, Error: err.Error()}
	}
	if res.Status == "" {
		res.Request = j.req
		res.Status = lookup.StatusFailed
	}
	return res
}

type progressEvent struct {
	completed int
	title     string
}

// Process resolves reqs and returns results in input order. Cancelling ctx
// stops dispatch; requests already handed to a worker finish and their
// results are kept. Slots never dispatched are listed in Unprocessed and
// hold a skipped result.
func (c *Coordinator) Process(ctx context.Context, reqs []lookup.Request, opts Options) (Report, error) {
	c.mu.RLock()
	if c.stopping {
		c.mu.RUnlock()
		return Report{}, services.Wrap(services.ErrCoordinatorStopping, "batch", "process", "pool is shutting down", nil)
	}
	c.active.Add(1)
	c.mu.RUnlock()
	defer c.active.Done()

	start := time.Now()
	total := len(reqs)
	report := Report{
		BatchID: uuid.NewString(),
		Results: make([]lookup.Result, total),
	}
	if total == 0 {
		return report, nil
	}

	logger := c.logger.With(logging.String(logging.FieldBatchID, report.BatchID))
	order := c.orderer.Order(ctx, reqs)
	if !validPermutation(order, total) {
		logger.Debug("orderer returned invalid permutation; using input order")
		order = identity(total)
	}

	workers := opts.Workers
	if workers <= 0 || workers > c.size {
		workers = c.size
	}
	logger.Info("batch started",
		logging.Int("requests", total),
		logging.Int("workers", workers),
	)

	events := make(chan progressEvent, total)
	progressDone := make(chan struct{})
	go c.reportProgress(logger, events, progressDone, total, opts.Progress)

	// In-flight work outlives cancellation of the caller's context.
	base := services.WithBatchID(context.WithoutCancel(ctx), report.BatchID)
	slots := make(chan struct{}, workers)
	dispatched := make([]bool, total)
	var completed atomic.Int64
	var pending sync.WaitGroup

dispatch:
	for _, idx := range order {
		select {
		case <-ctx.Done():
			report.Cancelled = true
			break dispatch
		case slots <- struct{}{}:
		}
		if ctx.Err() != nil {
			<-slots
			report.Cancelled = true
			break dispatch
		}

		idx := idx
		pending.Add(1)
		j := job{
			ctx:   services.WithBatchIndex(base, idx+1),
			index: idx,
			req:   reqs[idx],
			finish: func(res lookup.Result) {
				report.Results[idx] = res
				n := completed.Add(1)
				events <- progressEvent{completed: int(n), title: res.Request.Title}
				<-slots
				pending.Done()
			},
		}
		select {
		case c.jobs <- j:
			dispatched[idx] = true
		case <-ctx.Done():
			pending.Done()
			<-slots
			report.Cancelled = true
			break dispatch
		}
	}

	pending.Wait()
	close(events)
	<-progressDone

	for idx, ok := range dispatched {
		if !ok {
			report.Results[idx] = lookup.Skipped(reqs[idx])
			report.Unprocessed = append(report.Unprocessed, idx)
		}
	}
	report.Elapsed = time.Since(start)

	attrs := []logging.Attr{
		logging.Int("completed", report.Completed()),
		logging.Int("unprocessed", len(report.Unprocessed)),
		logging.Duration("elapsed", report.Elapsed),
	}
	if report.Cancelled {
		logging.WarnWithContext(logger, "batch cancelled", "batch_cancelled", append(attrs,
			logging.String(logging.FieldErrorHint, "rerun the unprocessed requests"),
			logging.String(logging.FieldImpact, "some requests were not attempted"),
		)...)
	} else {
		logger.Info("batch finished", logging.Args(attrs...)...)
	}
	return report, nil
}

func (c *Coordinator) reportProgress(logger *slog.Logger, events <-chan progressEvent, done chan<- struct{}, total int, progress ProgressFunc) {
	defer close(done)
	sampler := newProgressSampler(10)
	for ev := range events {
		if progress != nil {
			progress(ev.completed, total, ev.title)
		}
		if sampler.shouldLog(ev.completed, total) {
			logger.Info("batch progress",
				logging.Int("completed", ev.completed),
				logging.Int("total", total),
				logging.String("title", ev.title),
			)
		}
	}
}

// Shutdown stops accepting batches, waits for running batches to finish and
// then stops the workers. It returns ctx.Err() if ctx ends first.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.stopping = true
	c.mu.Unlock()

	if err := waitContext(ctx, &c.active); err != nil {
		return err
	}
	c.stopOnce.Do(func() { close(c.jobs) })
	if err := waitContext(ctx, &c.workersDone); err != nil {
		return err
	}
	c.logger.Debug("worker pool stopped")
	return nil
}

func waitContext(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsStopping reports whether err came from a coordinator that is shutting
// down.
func IsStopping(err error) bool {
	return errors.Is(err, services.ErrCoordinatorStopping)
}
