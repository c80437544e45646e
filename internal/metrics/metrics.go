// Package metrics exposes Prometheus collectors for cache, limiter, source,
// and resolution activity. Collectors register on an injected registry so
// tests and embedders never share global state. A nil *Metrics is a valid
// no-op recorder.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"asinresolve/internal/logging"
)

const namespace = "asinresolve"

// Metrics bundles every collector the resolver records into.
type Metrics struct {
	CacheLookups     *prometheus.CounterVec
	SourceAttempts   *prometheus.CounterVec
	LimiterDecisions *prometheus.CounterVec
	Cooldowns        *prometheus.CounterVec
	Resolutions      *prometheus.CounterVec
	ResolveDuration  prometheus.Histogram
	BatchInFlight    prometheus.Gauge
}

// MustRegisterCounterVec creates and registers a counter vector on reg.
func MustRegisterCounterVec(reg prometheus.Registerer, component, name, help string, labelNames ...string) *prometheus.CounterVec {
	m := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: component,
		Name:      name,
		Help:      help,
	}, labelNames)
	reg.MustRegister(m)
	return m
}

// MustRegisterGauge creates and registers a gauge on reg.
func MustRegisterGauge(reg prometheus.Registerer, component, name, help string) prometheus.Gauge {
	m := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: component,
		Name:      name,
		Help:      help,
	})
	reg.MustRegister(m)
	return m
}

// MustRegisterHistogram creates and registers a histogram on reg.
func MustRegisterHistogram(reg prometheus.Registerer, component, name, help string, buckets []float64) prometheus.Histogram {
	m := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: component,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	})
	reg.MustRegister(m)
	return m
}

// New registers all collectors on reg. A nil reg uses a fresh private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Metrics{
		CacheLookups: MustRegisterCounterVec(reg, "cache", "lookups_total",
			"Cache lookups by result (hit, negative_hit, miss).", "result"),
		SourceAttempts: MustRegisterCounterVec(reg, "source", "attempts_total",
			"Source adapter invocations by source and outcome.", "source", "outcome"),
		LimiterDecisions: MustRegisterCounterVec(reg, "ratelimit", "decisions_total",
			"Admission decisions by domain and outcome.", "domain", "outcome"),
		Cooldowns: MustRegisterCounterVec(reg, "ratelimit", "cooldowns_total",
			"Cooldowns started or extended, by domain.", "domain"),
		Resolutions: MustRegisterCounterVec(reg, "resolver", "resolutions_total",
			"Completed resolutions by status.", "status"),
		ResolveDuration: MustRegisterHistogram(reg, "resolver", "resolve_duration_seconds",
			"Wall time of single resolutions.", prometheus.ExponentialBuckets(0.001, 4, 10)),
		BatchInFlight: MustRegisterGauge(reg, "batch", "in_flight",
			"Requests currently being resolved by the batch pool."),
	}
}

// ObserveCache records a cache lookup result.
func (m *Metrics) ObserveCache(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// ObserveAttempt records one source invocation.
func (m *Metrics) ObserveAttempt(source, outcome string) {
	if m == nil {
		return
	}
	m.SourceAttempts.WithLabelValues(source, outcome).Inc()
}

// ObserveDecision records a limiter verdict.
func (m *Metrics) ObserveDecision(domain, outcome string) {
	if m == nil {
		return
	}
	m.LimiterDecisions.WithLabelValues(domain, outcome).Inc()
}

// ObserveCooldown records a cooldown transition.
func (m *Metrics) ObserveCooldown(domain string) {
	if m == nil {
		return
	}
	m.Cooldowns.WithLabelValues(domain).Inc()
}

// ObserveResolution records a finished resolution.
func (m *Metrics) ObserveResolution(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(status).Inc()
	m.ResolveDuration.Observe(elapsed.Seconds())
}

// TrackInFlight increments the in-flight gauge and returns the matching decrement.
func (m *Metrics) TrackInFlight() func() {
	if m == nil {
		return func() {}
	}
	m.BatchInFlight.Inc()
	return m.BatchInFlight.Dec
}

// Handler serves gatherer in the Prometheus exposition format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on listen until ctx ends.
func Serve(ctx context.Context, listen string, gatherer prometheus.Gatherer, logger *slog.Logger) error {
	logger = logging.NewComponentLogger(logger, "metrics")
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics endpoint listening", logging.String("listen", listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
