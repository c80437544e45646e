package batch_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"asinresolve/internal/batch"
	"asinresolve/internal/lookup"
	"asinresolve/internal/services"
)

type resolverFunc func(ctx context.Context, req lookup.Request) (lookup.Result, error)

func (f resolverFunc) Resolve(ctx context.Context, req lookup.Request) (lookup.Result, error) {
	return f(ctx, req)
}

func found(req lookup.Request) lookup.Result {
	return lookup.Result{Request: req, Status: lookup.StatusFound, Identifier: "B01681T8YI", Confidence: 0.9}
}

func requests(n int) []lookup.Request {
	reqs := make([]lookup.Request, n)
	for i := range reqs {
		reqs[i] = lookup.NewRequest(fmt.Sprintf("Title %02d", i), "Author", "", "")
	}
	return reqs
}

func newCoordinator(t *testing.T, r batch.Resolver, opts batch.PoolOptions) *batch.Coordinator {
	t.Helper()
	c, err := batch.New(r, opts)
	if err != nil {
		t.Fatalf("batch.New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Shutdown(ctx)
	})
	return c
}

func TestProcessPreservesInputOrder(t *testing.T) {
	reqs := requests(12)
	// Early requests finish last.
	r := resolverFunc(func(_ context.Context, req lookup.Request) (lookup.Result, error) {
		var n int
		fmt.Sscanf(req.Title, "Title %d", &n)
		time.Sleep(time.Duration(12-n) * time.Millisecond)
		return found(req), nil
	})
	c := newCoordinator(t, r, batch.PoolOptions{Workers: 6})

	report, err := c.Process(context.Background(), reqs, batch.Options{})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(report.Results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(report.Results))
	}
	for i, res := range report.Results {
		if res.Request.Title != reqs[i].Title {
			t.Fatalf("slot %d holds %q, want %q", i, res.Request.Title, reqs[i].Title)
		}
		if res.Status != lookup.StatusFound {
			t.Fatalf("slot %d status %s", i, res.Status)
		}
	}
	if report.Cancelled || len(report.Unprocessed) != 0 {
		t.Fatalf("unexpected cancellation: %+v", report)
	}
	if report.BatchID == "" {
		t.Fatal("expected batch id")
	}
}

func TestProcessTagsContextWithBatchFields(t *testing.T) {
	var mu sync.Mutex
	indexes := map[string]int{}
	batchIDs := map[string]struct{}{}
	r := resolverFunc(func(ctx context.Context, req lookup.Request) (lookup.Result, error) {
		idx, _ := services.BatchIndexFromContext(ctx)
		id, _ := services.BatchIDFromContext(ctx)
		mu.Lock()
		indexes[req.Title] = idx
		batchIDs[id] = struct{}{}
		mu.Unlock()
		return found(req), nil
	})
	c := newCoordinator(t, r, batch.PoolOptions{Workers: 2})
	reqs := requests(3)
	report, err := c.Process(context.Background(), reqs, batch.Options{})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	for i, req := range reqs {
		if indexes[req.Title] != i+1 {
			t.Fatalf("expected batch index %d for %q, got %d", i+1, req.Title, indexes[req.Title])
		}
	}
	if _, ok := batchIDs[report.BatchID]; !ok || len(batchIDs) != 1 {
		t.Fatalf("expected every request tagged with %s, got %v", report.BatchID, batchIDs)
	}
}

func TestProcessProgressReportsEveryCompletion(t *testing.T) {
	r := resolverFunc(func(_ context.Context, req lookup.Request) (lookup.Result, error) {
		return found(req), nil
	})
	c := newCoordinator(t, r, batch.PoolOptions{Workers: 4})

	var calls []int
	report, err := c.Process(context.Background(), requests(9), batch.Options{
		Progress: func(completed, total int, lastTitle string) {
			if total != 9 {
				t.Errorf("total = %d, want 9", total)
			}
			if lastTitle == "" {
				t.Errorf("expected title for completion %d", completed)
			}
			calls = append(calls, completed)
		},
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(calls) != 9 {
		t.Fatalf("expected 9 progress calls, got %v", calls)
	}
	for i, n := range calls {
		if n != i+1 {
			t.Fatalf("progress not monotonic: %v", calls)
		}
	}
	if report.Completed() != 9 {
		t.Fatalf("Completed() = %d", report.Completed())
	}
}

func TestProcessRespectsPerBatchWorkerCap(t *testing.T) {
	var current, peak atomic.Int64
	r := resolverFunc(func(_ context.Context, req lookup.Request) (lookup.Result, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		current.Add(-1)
		return found(req), nil
	})
	c := newCoordinator(t, r, batch.PoolOptions{Workers: 8})

	if _, err := c.Process(context.Background(), requests(16), batch.Options{Workers: 2}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if peak.Load() > 2 {
		t.Fatalf("expected at most 2 concurrent resolves, saw %d", peak.Load())
	}
}

func TestProcessCancellationKeepsInFlightWork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	release := make(chan struct{})
	r := resolverFunc(func(rctx context.Context, req lookup.Request) (lookup.Result, error) {
		if req.Title == "Title 00" {
			close(started)
			<-release
		}
		if err := rctx.Err(); err != nil {
			return lookup.Result{}, err
		}
		return found(req), nil
	})
	c := newCoordinator(t, r, batch.PoolOptions{Workers: 1})

	reqs := requests(5)
	done := make(chan batch.Report, 1)
	go func() {
		report, err := c.Process(ctx, reqs, batch.Options{})
		if err != nil {
			t.Errorf("Process: %v", err)
		}
		done <- report
	}()

	<-started
	cancel()
	// Give the dispatcher a chance to observe cancellation while the only
	// worker is busy.
	time.Sleep(10 * time.Millisecond)
	close(release)

	var report batch.Report
	select {
	case report = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Process did not return after cancellation")
	}

	if !report.Cancelled {
		t.Fatal("expected cancelled report")
	}
	if report.Results[0].Status != lookup.StatusFound {
		t.Fatalf("in-flight request should complete, got %+v", report.Results[0])
	}
	if len(report.Unprocessed) != 4 {
		t.Fatalf("expected 4 unprocessed, got %v", report.Unprocessed)
	}
	for _, idx := range report.Unprocessed {
		if report.Results[idx].Status != lookup.StatusSkipped {
			t.Fatalf("slot %d should be skipped, got %s", idx, report.Results[idx].Status)
		}
		if report.Results[idx].Request.Title != reqs[idx].Title {
			t.Fatalf("skipped slot %d lost its request", idx)
		}
	}
}

func TestProcessConvertsResolverFailures(t *testing.T) {
	r := resolverFunc(func(_ context.Context, req lookup.Request) (lookup.Result, error) {
		switch req.Title {
		case "Title 00":
			return lookup.Result{}, errors.New("boom")
		case "Title 01":
			panic("adapter exploded")
		}
		return found(req), nil
	})
	c := newCoordinator(t, r, batch.PoolOptions{Workers: 2})

	report, err := c.Process(context.Background(), requests(3), batch.Options{})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if report.Results[0].Status != lookup.StatusFailed || report.Results[0].Error != "boom" {
		t.Fatalf("unexpected slot 0: %+v", report.Results[0])
	}
	if report.Results[1].Status != lookup.StatusFailed || report.Results[1].Request.Title != "Title 01" {
		t.Fatalf("unexpected slot 1: %+v", report.Results[1])
	}
	if report.Results[2].Status != lookup.StatusFound {
		t.Fatalf("unexpected slot 2: %+v", report.Results[2])
	}
}

func TestPoolIsReusedAcrossBatches(t *testing.T) {
	var calls atomic.Int64
	r := resolverFunc(func(_ context.Context, req lookup.Request) (lookup.Result, error) {
		calls.Add(1)
		return found(req), nil
	})
	c := newCoordinator(t, r, batch.PoolOptions{Workers: 3})
	for i := 0; i < 3; i++ {
		if _, err := c.Process(context.Background(), requests(4), batch.Options{}); err != nil {
			t.Fatalf("Process #%d: %v", i, err)
		}
	}
	if calls.Load() != 12 {
		t.Fatalf("expected 12 resolves, got %d", calls.Load())
	}
}

func TestShutdownRejectsNewBatches(t *testing.T) {
	r := resolverFunc(func(_ context.Context, req lookup.Request) (lookup.Result, error) {
		return found(req), nil
	})
	c, err := batch.New(r, batch.PoolOptions{Workers: 2})
	if err != nil {
		t.Fatalf("batch.New: %v", err)
	}
	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	_, err = c.Process(context.Background(), requests(1), batch.Options{})
	if !batch.IsStopping(err) {
		t.Fatalf("expected stopping error, got %v", err)
	}
}

func TestNewClampsWorkers(t *testing.T) {
	r := resolverFunc(func(_ context.Context, req lookup.Request) (lookup.Result, error) {
		return found(req), nil
	})
	c := newCoordinator(t, r, batch.PoolOptions{Workers: 1000})
	if c.Size() != 64 {
		t.Fatalf("expected pool clamped to 64, got %d", c.Size())
	}
	if _, err := batch.New(nil, batch.PoolOptions{}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestEmptyBatch(t *testing.T) {
	r := resolverFunc(func(_ context.Context, req lookup.Request) (lookup.Result, error) {
		t.Fatal("resolver should not be called")
		return lookup.Result{}, nil
	})
	c := newCoordinator(t, r, batch.PoolOptions{Workers: 1})
	report, err := c.Process(context.Background(), nil, batch.Options{})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(report.Results) != 0 || report.Cancelled {
		t.Fatalf("unexpected report: %+v", report)
	}
}
