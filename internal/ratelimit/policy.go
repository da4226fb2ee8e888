package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrQuotaBudget is returned when honouring the reported reset time would
// exceed the configured maximum wait.
var ErrQuotaBudget = errors.New("rate limit wait exceeds budget")

// CodeSearchRequestsPerMinute is the fixed limit of the code search endpoint.
const CodeSearchRequestsPerMinute = 10

type Config struct {
	// RequestsPerMinute paces outgoing requests locally. Zero disables pacing.
	RequestsPerMinute float64
	Burst             int
	// ResetMargin is added on top of the reported reset time.
	ResetMargin time.Duration
	// Jitter is the upper bound of random delay added to quota waits.
	Jitter time.Duration
	// MaxQuotaWait caps a single quota wait. Zero means unlimited.
	MaxQuotaWait time.Duration
	BackoffBase  time.Duration
	BackoffMax   time.Duration
}

func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: CodeSearchRequestsPerMinute,
		Burst:             CodeSearchRequestsPerMinute,
		ResetMargin:       time.Second,
		BackoffBase:       time.Second,
		BackoffMax:        30 * time.Second,
	}
}

// Decision is the outcome of RetryDelay.
type Decision struct {
	Retry bool
	Delay time.Duration
	// Quota is true when the delay was derived from rate limit signals
	// rather than exponential backoff.
	Quota bool
}

// Policy decides how long to wait before and after requests. Its only state
// is the last observed quota snapshot and the local pacing bucket.
type Policy struct {
	cfg    Config
	clock  Clock
	sleep  Sleeper
	logger *slog.Logger
	pacer  *rate.Limiter
	jitter func() float64

	// OnWait is invoked for every non-zero wait taken by WaitIfNeeded, with
	// reason "pacing" or "quota".
	OnWait func(reason string, d time.Duration)

	mu   sync.Mutex
	last Quota
}

func NewPolicy(cfg Config, clock Clock, sleep Sleeper, logger *slog.Logger) *Policy {
	if clock == nil {
		clock = SystemClock{}
	}
	if sleep == nil {
		sleep = SleepContext
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	if cfg.ResetMargin < 0 {
		cfg.ResetMargin = 0
	}
	p := &Policy{
		cfg:    cfg,
		clock:  clock,
		sleep:  sleep,
		logger: logger,
		jitter: rand.Float64,
	}
	if cfg.RequestsPerMinute > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		p.pacer = rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60), burst)
	}
	return p
}

// Sleep exposes the injected sleeper so retry loops wait through the same capability.
func (p *Policy) Sleep(ctx context.Context, d time.Duration) error {
	return p.sleep(ctx, d)
}

// Observe records the quota reported by a response.
func (p *Policy) Observe(q Quota) {
	if !q.Known {
		return
	}
	p.mu.Lock()
	p.last = q
	p.mu.Unlock()

	limit := q.Limit
	if limit == 0 {
		limit = CodeSearchRequestsPerMinute
	}
	p.logger.Info("rate limit status",
		slog.Int("used", q.Used),
		slog.Int("limit", limit),
		slog.Int("remaining", q.Remaining),
	)
}

// Last returns the most recently observed quota.
func (p *Policy) Last() Quota {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// WaitIfNeeded is called before each request attempt. It paces requests and,
// when the last response reported an exhausted window, sleeps until the reset.
func (p *Policy) WaitIfNeeded(ctx context.Context) error {
	if d := p.quotaWait(); d > 0 {
		if p.OverBudget(d) {
			return fmt.Errorf("%w: reset in %s, budget %s", ErrQuotaBudget, d.Round(time.Second), p.cfg.MaxQuotaWait)
		}
		p.logger.Info("rate limit exhausted, waiting until reset", slog.Duration("wait", d))
		if err := p.wait(ctx, "quota", d); err != nil {
			return err
		}
		p.mu.Lock()
		p.last = Quota{}
		p.mu.Unlock()
	}

	if p.pacer != nil {
		now := p.clock.Now()
		res := p.pacer.ReserveN(now, 1)
		if !res.OK() {
			return fmt.Errorf("rate limiter cannot satisfy request")
		}
		if d := res.DelayFrom(now); d > 0 {
			p.logger.Debug("pacing request", slog.Duration("wait", d))
			if err := p.wait(ctx, "pacing", d); err != nil {
				res.CancelAt(p.clock.Now())
				return err
			}
		}
	}
	return nil
}

// RetryDelay decides whether a failed attempt should be retried and after how long.
// status is the HTTP status, or 0 for a transport failure. attempt starts at 1.
func (p *Policy) RetryDelay(status int, q Quota, attempt int) Decision {
	switch {
	case status == http.StatusForbidden || status == http.StatusTooManyRequests:
		if q.RetryAfter > 0 {
			return Decision{Retry: true, Delay: q.RetryAfter + p.jitterDuration(), Quota: true}
		}
		if q.Exhausted() {
			d := p.untilReset(q)
			return Decision{Retry: true, Delay: d, Quota: true}
		}
		if status == http.StatusTooManyRequests {
			return Decision{Retry: true, Delay: p.backoff(attempt)}
		}
		return Decision{}
	case status == 0 || status >= http.StatusInternalServerError:
		return Decision{Retry: true, Delay: p.backoff(attempt)}
	default:
		return Decision{}
	}
}

// OverBudget reports whether d exceeds the configured quota wait budget.
func (p *Policy) OverBudget(d time.Duration) bool {
	return p.cfg.MaxQuotaWait > 0 && d > p.cfg.MaxQuotaWait
}

func (p *Policy) quotaWait() time.Duration {
	p.mu.Lock()
	q := p.last
	p.mu.Unlock()
	if !q.Exhausted() || q.Reset.IsZero() {
		return 0
	}
	return p.untilReset(q)
}

func (p *Policy) untilReset(q Quota) time.Duration {
	if q.Reset.IsZero() {
		return p.cfg.BackoffMax
	}
	d := q.Reset.Sub(p.clock.Now()) + p.cfg.ResetMargin
	if d <= 0 {
		return 0
	}
	return d + p.jitterDuration()
}

func (p *Policy) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.cfg.BackoffMax {
			return p.cfg.BackoffMax
		}
	}
	return d
}

func (p *Policy) jitterDuration() time.Duration {
	if p.cfg.Jitter <= 0 {
		return 0
	}
	return time.Duration(p.jitter() * float64(p.cfg.Jitter))
}

func (p *Policy) wait(ctx context.Context, reason string, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if p.OnWait != nil {
		p.OnWait(reason, d)
	}
	return p.sleep(ctx, d)
}
