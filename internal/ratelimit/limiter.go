package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"asinresolve/internal/logging"
)

// Outcome is the admission verdict.
type Outcome string

const (
	Granted          Outcome = "granted"
	GrantedAfterWait Outcome = "granted_after_wait"
	Denied           Outcome = "denied"
)

// Denial reasons.
const (
	ReasonCooldown         = "cooldown"
	ReasonWaitExceedsLimit = "wait_exceeds_limit"
	ReasonCancelled        = "cancelled"
)

// Decision describes one Acquire call.
type Decision struct {
	Domain     string
	Outcome    Outcome
	Waited     time.Duration
	RetryAfter time.Duration
	Reason     string
}

// Allowed reports whether the caller may proceed.
func (d Decision) Allowed() bool {
	return d.Outcome == Granted || d.Outcome == GrantedAfterWait
}

// State is a point-in-time view of one domain.
type State struct {
	Domain              string    `json:"domain"`
	Tokens              float64   `json:"tokens"`
	Capacity            int       `json:"capacity"`
	RefillRate          float64   `json:"refill_rate"`
	LastUpdated         time.Time `json:"last_updated"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	CooldownUntil       time.Time `json:"cooldown_until"`
}

// CoolingDown reports whether the domain denies admission at now.
func (s State) CoolingDown(now time.Time) bool {
	return now.Before(s.CooldownUntil)
}

type domainState struct {
	mu            sync.Mutex
	limit         Limit
	bucket        *rate.Limiter
	failures      int
	cooldownUntil time.Time
	lastUpdated   time.Time
}

// SleepFunc blocks for d or until ctx ends.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithSleep injects the wait implementation.
func WithSleep(sleep SleepFunc) Option {
	return func(l *Limiter) {
		if sleep != nil {
			l.sleep = sleep
		}
	}
}

// WithLogger sets the logger used for cooldown transitions.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logging.NewComponentLogger(logger, "ratelimit")
	}
}

// Limiter tracks admission state for every domain it has seen.
type Limiter struct {
	cfg    Config
	now    func() time.Time
	sleep  SleepFunc
	logger *slog.Logger

	mu      sync.Mutex
	domains map[string]*domainState
}

// New validates cfg and builds a Limiter.
func New(cfg Config, opts ...Option) (*Limiter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	domains := make(map[string]Limit, len(cfg.Domains))
	for domain, limit := range cfg.Domains {
		domains[normalizeDomain(domain)] = limit
	}
	cfg.Domains = domains

	l := &Limiter{
		cfg:     cfg,
		now:     time.Now,
		sleep:   SleepWithContext,
		logger:  logging.NewComponentLogger(nil, "ratelimit"),
		domains: make(map[string]*domainState),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// SleepWithContext waits for d unless ctx ends first.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (l *Limiter) limitFor(domain string) Limit {
	if limit, ok := l.cfg.Domains[domain]; ok {
		return limit
	}
	return l.cfg.Default
}

func (l *Limiter) state(domain string) *domainState {
	domain = normalizeDomain(domain)
	l.mu.Lock()
	defer l.mu.Unlock()
	if st, ok := l.domains[domain]; ok {
		return st
	}
	limit := l.limitFor(domain)
	st := &domainState{
		limit:       limit,
		bucket:      rate.NewLimiter(rate.Limit(limit.RefillRate), limit.Capacity),
		lastUpdated: l.now(),
	}
	l.domains[domain] = st
	return st
}

// Acquire requests one admission for domain. It returns an error only when
// ctx ends while waiting for a token.
func (l *Limiter) Acquire(ctx context.Context, domain string) (Decision, error) {
	domain = normalizeDomain(domain)
	st := l.state(domain)
	decision := Decision{Domain: domain}

	now := l.now()
	st.mu.Lock()
	st.lastUpdated = now
	if now.Before(st.cooldownUntil) {
		decision.Outcome = Denied
		decision.Reason = ReasonCooldown
		decision.RetryAfter = st.cooldownUntil.Sub(now)
		st.mu.Unlock()
		return decision, nil
	}
	reservation := st.bucket.ReserveN(now, 1)
	wait := reservation.DelayFrom(now)
	if wait > l.cfg.MaxWait {
		reservation.CancelAt(now)
		st.mu.Unlock()
		decision.Outcome = Denied
		decision.Reason = ReasonWaitExceedsLimit
		decision.RetryAfter = wait
		return decision, nil
	}
	st.mu.Unlock()

	if wait <= 0 {
		decision.Outcome = Granted
		return decision, nil
	}

	if err := l.sleep(ctx, wait); err != nil {
		st.mu.Lock()
		reservation.CancelAt(l.now())
		st.mu.Unlock()
		decision.Outcome = Denied
		decision.Reason = ReasonCancelled
		return decision, err
	}

	now = l.now()
	st.mu.Lock()
	st.lastUpdated = now
	cooling := now.Before(st.cooldownUntil)
	retry := st.cooldownUntil.Sub(now)
	st.mu.Unlock()
	if cooling {
		decision.Outcome = Denied
		decision.Reason = ReasonCooldown
		decision.RetryAfter = retry
		decision.Waited = wait
		return decision, nil
	}

	decision.Outcome = GrantedAfterWait
	decision.Waited = wait
	return decision, nil
}

// ReportSuccess clears the consecutive failure count for domain.
func (l *Limiter) ReportSuccess(domain string) {
	st := l.state(domain)
	st.mu.Lock()
	st.failures = 0
	st.lastUpdated = l.now()
	st.mu.Unlock()
}

// ReportFailure records a failed call against domain. statusCode is the HTTP
// status if one was received, or 0 for transport failures and timeouts.
// It returns the cooldown started or extended by this report, or 0.
func (l *Limiter) ReportFailure(domain string, statusCode int) time.Duration {
	domain = normalizeDomain(domain)
	if !countsAsFailure(statusCode) {
		return 0
	}
	st := l.state(domain)
	now := l.now()

	st.mu.Lock()
	st.failures++
	st.lastUpdated = now
	failures := st.failures

	var backoff time.Duration
	switch {
	case immediateCooldown(statusCode):
		backoff = l.backoff(failures)
	case failures >= l.cfg.FailureThreshold:
		backoff = l.backoff(failures - l.cfg.FailureThreshold + 1)
	}
	if backoff <= 0 {
		st.mu.Unlock()
		return 0
	}
	until := now.Add(backoff)
	extended := until.After(st.cooldownUntil)
	if extended {
		st.cooldownUntil = until
	}
	st.mu.Unlock()

	if !extended {
		return 0
	}

	logging.WarnWithContext(l.logger, "domain entering cooldown", "ratelimit_cooldown",
		logging.String(logging.FieldDomain, domain),
		logging.Int("status_code", statusCode),
		logging.Int("consecutive_failures", failures),
		logging.Duration("cooldown", backoff),
		logging.String(logging.FieldErrorHint, "the upstream is throttling or failing; requests will skip it until the cooldown ends"),
		logging.String(logging.FieldImpact, "lookups fall through to lower priority sources"),
	)
	return backoff
}

// backoff returns min(initial * base^(n-1), max).
func (l *Limiter) backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	scaled := float64(l.cfg.BackoffInitial) * math.Pow(l.cfg.BackoffBase, float64(n-1))
	if math.IsInf(scaled, 0) || scaled > float64(l.cfg.BackoffMax) {
		return l.cfg.BackoffMax
	}
	return time.Duration(scaled)
}

func immediateCooldown(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}

// countsAsFailure excludes client errors other than throttling; those are
// problems with the request, not with the domain.
func countsAsFailure(status int) bool {
	switch {
	case status == 0:
		return true
	case immediateCooldown(status):
		return true
	case status >= 500:
		return true
	default:
		return false
	}
}

// Snapshot returns the current state for domain.
func (l *Limiter) Snapshot(domain string) State {
	domain = normalizeDomain(domain)
	st := l.state(domain)
	now := l.now()
	st.mu.Lock()
	defer st.mu.Unlock()
	return State{
		Domain:              domain,
		Tokens:              st.bucket.TokensAt(now),
		Capacity:            st.limit.Capacity,
		RefillRate:          st.limit.RefillRate,
		LastUpdated:         st.lastUpdated,
		ConsecutiveFailures: st.failures,
		CooldownUntil:       st.cooldownUntil,
	}
}

// Domains lists configured and observed domains, sorted.
func (l *Limiter) Domains() []string {
	l.mu.Lock()
	seen := make(map[string]struct{}, len(l.domains)+len(l.cfg.Domains))
	for domain := range l.domains {
		seen[domain] = struct{}{}
	}
	l.mu.Unlock()
	for domain := range l.cfg.Domains {
		seen[domain] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for domain := range seen {
		out = append(out, domain)
	}
	sort.Strings(out)
	return out
}
