package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"asinresolve/internal/config"
)

const userAgent = "asinresolve/0.1"

// BatchSummary is the notification view of a finished batch.
type BatchSummary struct {
	BatchID   string
	Total     int
	Found     int
	NotFound  int
	Failed    int
	Skipped   int
	Cancelled bool
	Elapsed   time.Duration
}

// Service defines the notification surface used by the CLI.
type Service interface {
	NotifyBatchCompleted(ctx context.Context, summary BatchSummary) error
	NotifyBenchRegression(ctx context.Context, baselineID, candidateID string, score, tolerance float64) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := cfg.Notifications.RequestTimeout.Std()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether svc actually delivers messages.
func Enabled(svc Service) bool {
	_, noop := svc.(noopService)
	return svc != nil && !noop
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyBatchCompleted(ctx context.Context, s BatchSummary) error {
	elapsed := s.Elapsed.Round(time.Second)
	if elapsed < 0 {
		elapsed = 0
	}

	title := "asinresolve - Batch Complete"
	tags := []string{"asinresolve", "batch", "completed"}
	var message string
	switch {
	case s.Cancelled:
		title = "asinresolve - Batch Cancelled"
		tags = []string{"asinresolve", "batch", "cancelled"}
		message = fmt.Sprintf("Batch cancelled after %s: %d of %d resolved, %d never attempted",
			elapsed, s.Found, s.Total, s.Skipped)
	case s.Failed > 0:
		title = "asinresolve - Batch Complete (with errors)"
		message = fmt.Sprintf("Resolved %d of %d in %s: %d not found, %d failed",
			s.Found, s.Total, elapsed, s.NotFound, s.Failed)
	default:
		message = fmt.Sprintf("Resolved %d of %d in %s (%d not found)", s.Found, s.Total, elapsed, s.NotFound)
	}
	if s.BatchID != "" {
		message += "\nBatch " + s.BatchID
	}
	return n.send(ctx, payload{title: title, message: message, tags: tags})
}

func (n *ntfyService) NotifyBenchRegression(ctx context.Context, baselineID, candidateID string, score, tolerance float64) error {
	data := payload{
		title: "asinresolve - Benchmark Regression",
		message: fmt.Sprintf("Candidate %s scored %+.3f against baseline %s (tolerance %.3f)",
			strings.TrimSpace(candidateID), score, strings.TrimSpace(baselineID), tolerance),
		tags:     []string{"asinresolve", "bench", "regression"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" during ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "asinresolve - Error",
		message:  builder.String(),
		tags:     []string{"asinresolve", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "asinresolve - Test",
		message:  "Notification system test",
		tags:     []string{"asinresolve", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyBatchCompleted(context.Context, BatchSummary) error { return nil }
func (noopService) NotifyBenchRegression(context.Context, string, string, float64, float64) error {
	return nil
}
func (noopService) NotifyError(context.Context, error, string) error { return nil }
func (noopService) TestNotification(context.Context) error          { return nil }
