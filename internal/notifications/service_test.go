package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"asinresolve/internal/config"
	"asinresolve/internal/notifications"
)

type captured struct {
	title    string
	tags     string
	priority string
	body     string
}

func newCaptureServer(t *testing.T, status int) (*httptest.Server, func() []captured) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []captured
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, captured{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte("topic closed"))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []captured {
		mu.Lock()
		defer mu.Unlock()
		return append([]captured(nil), reqs...)
	}
}

func configFor(topic string) *config.Config {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = topic
	return &cfg
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	svc := notifications.NewService(configFor(""))
	if notifications.Enabled(svc) {
		t.Fatal("expected noop service")
	}
	if err := svc.NotifyBatchCompleted(context.Background(), notifications.BatchSummary{Total: 1}); err != nil {
		t.Fatalf("noop notifier returned %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	srv, requests := newCaptureServer(t, http.StatusOK)
	svc := notifications.NewService(configFor(srv.URL))
	if !notifications.Enabled(svc) {
		t.Fatal("expected ntfy service")
	}
	ctx := context.Background()

	if err := svc.NotifyBatchCompleted(ctx, notifications.BatchSummary{BatchID: "b-1", Total: 10, Found: 8, NotFound: 2, Elapsed: 3400 * time.Millisecond}); err != nil {
		t.Fatalf("batch: %v", err)
	}
	if err := svc.NotifyBatchCompleted(ctx, notifications.BatchSummary{Total: 10, Found: 6, NotFound: 2, Failed: 2}); err != nil {
		t.Fatalf("batch with failures: %v", err)
	}
	if err := svc.NotifyBatchCompleted(ctx, notifications.BatchSummary{Total: 10, Found: 3, Skipped: 7, Cancelled: true}); err != nil {
		t.Fatalf("cancelled batch: %v", err)
	}
	if err := svc.NotifyBenchRegression(ctx, "base", "cand", -0.2, 0.05); err != nil {
		t.Fatalf("regression: %v", err)
	}
	if err := svc.NotifyError(ctx, errors.New("disk full"), "batch output"); err != nil {
		t.Fatalf("error: %v", err)
	}
	if err := svc.TestNotification(ctx); err != nil {
		t.Fatalf("test: %v", err)
	}

	got := requests()
	if len(got) != 6 {
		t.Fatalf("expected 6 requests, got %d", len(got))
	}
	want := []captured{
		{title: "asinresolve - Batch Complete", tags: "asinresolve,batch,completed", body: "Resolved 8 of 10 in 3s (2 not found)\nBatch b-1"},
		{title: "asinresolve - Batch Complete (with errors)", tags: "asinresolve,batch,completed", body: "Resolved 6 of 10 in 0s: 2 not found, 2 failed"},
		{title: "asinresolve - Batch Cancelled", tags: "asinresolve,batch,cancelled", body: "Batch cancelled after 0s: 3 of 10 resolved, 7 never attempted"},
		{title: "asinresolve - Benchmark Regression", tags: "asinresolve,bench,regression", priority: "high", body: "Candidate cand scored -0.200 against baseline base (tolerance 0.050)"},
		{title: "asinresolve - Error", tags: "asinresolve,error,alert", priority: "high", body: "Error during batch output: disk full"},
		{title: "asinresolve - Test", tags: "asinresolve,test", priority: "low", body: "Notification system test"},
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("request %d:\n got %+v\nwant %+v", i, got[i], want[i])
		}
	}
}

func TestNtfyServiceReportsHTTPErrors(t *testing.T) {
	srv, _ := newCaptureServer(t, http.StatusForbidden)
	svc := notifications.NewService(configFor(srv.URL))
	err := svc.TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "topic closed") {
		t.Fatalf("expected status error with body, got %v", err)
	}
}
