package bench_test

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"asinresolve/internal/batch"
	"asinresolve/internal/bench"
	"asinresolve/internal/config"
	"asinresolve/internal/lookup"
	"asinresolve/internal/services"
)

type scriptedRunner struct {
	calls   atomic.Int64
	results func(reqs []lookup.Request) []lookup.Result
}

func (r *scriptedRunner) ResolveBatch(_ context.Context, reqs []lookup.Request, _ int, _ batch.ProgressFunc) (batch.Report, error) {
	r.calls.Add(1)
	return batch.Report{Results: r.results(reqs)}, nil
}

func scenario(n int) bench.Scenario {
	reqs := make([]lookup.Request, n)
	for i := range reqs {
		reqs[i] = lookup.NewRequest("Title", "Author", "", "")
	}
	return bench.Scenario{Name: "smoke", Requests: reqs}
}

func TestHarnessRunAggregates(t *testing.T) {
	runner := &scriptedRunner{results: func(reqs []lookup.Request) []lookup.Result {
		out := make([]lookup.Result, len(reqs))
		for i := range reqs {
			out[i] = lookup.Result{
				Request: reqs[i],
				Status:  lookup.StatusFound,
				// 1ms .. 10ms
				Elapsed:    time.Duration(i+1) * time.Millisecond,
				Identifier: "B01681T8YI",
				Source:     "fixture",
				Confidence: 0.86,
				Cached:     i%2 == 0,
			}
		}
		out[9] = lookup.Result{Request: reqs[9], Status: lookup.StatusNotFound, Elapsed: 10 * time.Millisecond}
		return out
	}}
	h := bench.New(runner, config.Bench{Warmups: 2, Iterations: 3}, nil)

	rec, err := h.Run(context.Background(), scenario(10))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := runner.calls.Load(); got != 5 {
		t.Fatalf("expected 2 warmups + 3 iterations, got %d calls", got)
	}
	if rec.ID == "" || rec.Name != "smoke" || rec.Iterations != 3 || rec.Requests != 10 {
		t.Fatalf("unexpected record header: %+v", rec)
	}
	if rec.Latency.P50 != 5*time.Millisecond {
		t.Fatalf("p50 = %v", rec.Latency.P50)
	}
	if rec.Latency.P90 != 9*time.Millisecond || rec.Latency.P99 != 10*time.Millisecond {
		t.Fatalf("unexpected percentiles: %+v", rec.Latency)
	}
	if math.Abs(rec.SuccessRate-0.9) > 1e-9 {
		t.Fatalf("success rate = %v", rec.SuccessRate)
	}
	if math.Abs(rec.CacheHitRate-0.5) > 1e-9 {
		t.Fatalf("hit rate = %v", rec.CacheHitRate)
	}
	if rec.SourceSuccess["fixture"] != 27 {
		t.Fatalf("source successes = %v", rec.SourceSuccess)
	}
	if rec.Confidence[8] != 27 {
		t.Fatalf("histogram = %v", rec.Confidence)
	}
	if math.Abs(rec.MeanConf-0.86) > 1e-9 {
		t.Fatalf("mean confidence = %v", rec.MeanConf)
	}
	if rec.Statuses[lookup.StatusNotFound] != 3 {
		t.Fatalf("statuses = %v", rec.Statuses)
	}
}

func TestHarnessRejectsEmptyScenario(t *testing.T) {
	h := bench.New(&scriptedRunner{}, config.Bench{Iterations: 1}, nil)
	_, err := h.Run(context.Background(), bench.Scenario{Name: "empty"})
	if !errors.Is(err, services.ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestHarnessStopsOnCancelledBatch(t *testing.T) {
	runner := cancelledRunner{}
	h := bench.New(runner, config.Bench{Iterations: 2}, nil)
	if _, err := h.Run(context.Background(), scenario(2)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
}

type cancelledRunner struct{}

func (cancelledRunner) ResolveBatch(_ context.Context, reqs []lookup.Request, _ int, _ batch.ProgressFunc) (batch.Report, error) {
	return batch.Report{Results: make([]lookup.Result, len(reqs)), Cancelled: true}, nil
}

func TestCompareFlagsRegression(t *testing.T) {
	baseline := bench.Record{
		ID:           "base",
		TotalTime:    10 * time.Second,
		SuccessRate:  0.9,
		Latency:      bench.Latency{P95: time.Second},
		CacheHitRate: 0.5,
		MeanConf:     0.8,
	}
	slower := baseline
	slower.ID = "cand"
	slower.TotalTime = 20 * time.Second
	slower.Latency.P95 = 2 * time.Second

	cmp := bench.Compare(baseline, slower, bench.DefaultWeights(), 0.05)
	// total time and p95 both -100%: -(0.40 + 0.15)
	if math.Abs(cmp.Score-(-0.55)) > 1e-9 {
		t.Fatalf("score = %v", cmp.Score)
	}
	if !cmp.Regression {
		t.Fatal("expected regression")
	}

	faster := baseline
	faster.TotalTime = 8 * time.Second
	cmp = bench.Compare(baseline, faster, bench.DefaultWeights(), 0.05)
	if cmp.Regression || cmp.Score <= 0 {
		t.Fatalf("expected improvement, got %+v", cmp)
	}

	same := bench.Compare(baseline, baseline, bench.DefaultWeights(), 0.05)
	if same.Score != 0 || same.Regression {
		t.Fatalf("identical records should score 0, got %+v", same)
	}
}

func TestCompareWithinTolerance(t *testing.T) {
	baseline := bench.Record{TotalTime: 100 * time.Second, SuccessRate: 1}
	candidate := baseline
	candidate.TotalTime = 110 * time.Second
	cmp := bench.Compare(baseline, candidate, bench.DefaultWeights(), 0.05)
	if cmp.Regression {
		t.Fatalf("10%% slower total time scores %v and should stay within tolerance", cmp.Score)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "results")
	rec := bench.Record{
		ID:            "run-1",
		Name:          "Nightly Run/1",
		StartedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		TotalTime:     3 * time.Second,
		SourceSuccess: map[string]int{"fixture": 2},
	}
	path, err := bench.Save(dir, rec)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if filepath.Base(path) != "nightly_run_1-20260301T120000.json" {
		t.Fatalf("unexpected file name %s", filepath.Base(path))
	}
	got, err := bench.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.ID != rec.ID || got.TotalTime != rec.TotalTime || got.SourceSuccess["fixture"] != 2 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestLoadScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "books.json")
	body := `{"requests":[{"title":"  Elantris ","author":"Brandon Sanderson"},{"isbn":"978-0-7653-5037-8"}]}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write scenario: %v", err)
	}
	sc, err := bench.LoadScenario(path)
	if err != nil {
		t.Fatalf("LoadScenario: %v", err)
	}
	if sc.Name != "books" || len(sc.Requests) != 2 {
		t.Fatalf("unexpected scenario: %+v", sc)
	}
	if sc.Requests[0].Title != "Elantris" {
		t.Fatalf("expected trimmed title, got %q", sc.Requests[0].Title)
	}
}

func TestRenderOutputs(t *testing.T) {
	rec := bench.Record{Name: "smoke", Iterations: 1, SourceSuccess: map[string]int{"fixture": 3}}
	rec.Confidence[9] = 3
	out := bench.RenderRecord(rec)
	for _, want := range []string{"Benchmark smoke", "fixture", "0.9-1.0", "###"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in:\n%s", want, out)
		}
	}
	cmp := bench.Compare(bench.Record{TotalTime: time.Second}, bench.Record{TotalTime: 3 * time.Second}, bench.DefaultWeights(), 0.05)
	if !strings.Contains(bench.RenderComparison(cmp), "REGRESSION") {
		t.Fatal("expected regression verdict")
	}
}
