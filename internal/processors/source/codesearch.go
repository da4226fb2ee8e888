package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/bakkerme/ghsearch-feed/internal/core"
	"github.com/bakkerme/ghsearch-feed/internal/observability/metrics"
	"github.com/bakkerme/ghsearch-feed/internal/ratelimit"
	"github.com/bakkerme/ghsearch-feed/internal/resilience/circuitbreaker"
	"github.com/bakkerme/ghsearch-feed/internal/retry"
	"github.com/bakkerme/ghsearch-feed/internal/sources/codesearch"
)

const DefaultMaxAttempts = 4

type PaginatorConfig struct {
	// PerPage defaults to and is capped at core.MaxPerPage.
	PerPage     int
	MaxAttempts int
	// UntilURL stops pagination at the first result whose API or HTML URL
	// matches. That result is excluded.
	UntilURL string
}

// PaginatorDeps are the collaborators of a Paginator. Client and Policy are required.
type PaginatorDeps struct {
	Client  codesearch.Client
	Policy  *ratelimit.Policy
	Breaker *circuitbreaker.CircuitBreaker
	Metrics *metrics.Metrics
	Clock   ratelimit.Clock
	Logger  *slog.Logger
}

// Paginator drives page requests for one query and assembles the ResultSet.
type Paginator struct {
	name    string
	config  PaginatorConfig
	client  codesearch.Client
	policy  *ratelimit.Policy
	breaker *circuitbreaker.CircuitBreaker
	metrics *metrics.Metrics
	clock   ratelimit.Clock
	logger  *slog.Logger
}

func NewPaginator(cfg PaginatorConfig, deps PaginatorDeps) (*Paginator, error) {
	if deps.Client == nil {
		return nil, fmt.Errorf("code search client is required")
	}
	if deps.Policy == nil {
		return nil, fmt.Errorf("rate limit policy is required")
	}
	if cfg.PerPage <= 0 {
		cfg.PerPage = core.MaxPerPage
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	cfg.UntilURL = strings.TrimSpace(cfg.UntilURL)
	clock := deps.Clock
	if clock == nil {
		clock = ratelimit.SystemClock{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &Paginator{
		name:    "github_code_search",
		config:  cfg,
		client:  deps.Client,
		policy:  deps.Policy,
		breaker: deps.Breaker,
		metrics: deps.Metrics,
		clock:   clock,
		logger:  logger,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Paginator) Name() string {
	return p.name
}

func (p *Paginator) Validate() error {
	if p.config.PerPage < 1 || p.config.PerPage > core.MaxPerPage {
		return fmt.Errorf("per_page must be between 1 and %d, got %d", core.MaxPerPage, p.config.PerPage)
	}
	return nil
}

// MaxPages is the last page index the result cap allows for the configured page size.
func (p *Paginator) MaxPages() int {
	return (core.MaxSearchResults + p.config.PerPage - 1) / p.config.PerPage
}

// Search paginates query until a stop condition. Recoverable interruptions
// return a partial set with Degraded set; any returned error is fatal.
func (p *Paginator) Search(ctx context.Context, query core.Query) (*core.ResultSet, error) {
	if query.IsZero() {
		return nil, fmt.Errorf("search query is required")
	}

	tracer := otel.Tracer("ghsearch-feed/processors/source")
	ctx, span := tracer.Start(ctx, "github.search.code")
	span.SetAttributes(
		attribute.String("search.query", query.Text()),
		attribute.Int("search.per_page", p.config.PerPage),
		attribute.String("run.id", core.RunIDFromContext(ctx)),
	)
	defer span.End()

	logger := core.LoggerFromContextOr(ctx, p.logger).With(slog.String("query", query.Text()))

	rs, err := p.paginate(ctx, logger, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("search.results", len(rs.Results)),
		attribute.Int("search.pages", rs.Pages),
		attribute.Int("search.total_count", rs.TotalCount),
		attribute.String("search.stop_reason", string(rs.StopReason)),
		attribute.Bool("search.truncated", rs.Truncated),
	)
	return rs, nil
}

func (p *Paginator) paginate(ctx context.Context, logger *slog.Logger, query core.Query) (*core.ResultSet, error) {
	rs := &core.ResultSet{Query: query.Text(), Results: []core.SearchResult{}}
	seen := make(map[string]bool)
	fetched := 0
	maxPages := p.MaxPages()

	for page := 1; ; page++ {
		if page > maxPages {
			rs.StopReason = core.StopPageCap
			rs.Truncated = rs.TotalCount > fetched
			break
		}

		req := core.PageRequest{Query: query, Page: page, PerPage: p.config.PerPage}
		result, err := p.fetchPage(ctx, logger, req)
		if err != nil {
			switch {
			case page > 1 && errors.Is(err, codesearch.ErrInvalidQuery):
				rs.StopReason = core.StopResultWindow
			case len(rs.Results) > 0 && errors.Is(err, ratelimit.ErrQuotaBudget):
				rs.StopReason = core.StopQuotaBudget
			default:
				return nil, fmt.Errorf("search page %d: %w", page, err)
			}
			rs.Truncated = true
			rs.Degraded = fmt.Errorf("search page %d: %w", page, err)
			logger.Warn("pagination cut short, keeping partial results",
				slog.Int("page", page),
				slog.Int("results", len(rs.Results)),
				slog.String("stop_reason", string(rs.StopReason)),
				slog.Any("error", err),
			)
			break
		}

		rs.Pages++
		rs.TotalCount = result.TotalCount
		if result.Incomplete && !rs.Incomplete {
			rs.Incomplete = true
			logger.Warn("search reported incomplete results", slog.Int("page", page))
		}
		fetched += len(result.Results)
		logger.Info("fetched search page",
			slog.Int("page", page),
			slog.Int("items", len(result.Results)),
			slog.Int("total_count", result.TotalCount),
		)

		if p.collect(logger, rs, seen, result.Results) {
			rs.StopReason = core.StopUntilURL
			break
		}
		if len(result.Results) < p.config.PerPage {
			rs.StopReason = core.StopLastPage
			break
		}
		if fetched >= core.MaxSearchResults || len(rs.Results) >= core.MaxSearchResults {
			rs.StopReason = core.StopResultCap
			rs.Truncated = rs.TotalCount > fetched
			break
		}
	}

	logger.Info("search complete",
		slog.Int("results", len(rs.Results)),
		slog.Int("pages", rs.Pages),
		slog.Int("total_count", rs.TotalCount),
		slog.String("stop_reason", string(rs.StopReason)),
		slog.Bool("truncated", rs.Truncated),
	)
	return rs, nil
}

// collect appends unseen results in order and reports whether the until URL was reached.
func (p *Paginator) collect(logger *slog.Logger, rs *core.ResultSet, seen map[string]bool, items []core.SearchResult) bool {
	for _, item := range items {
		if p.config.UntilURL != "" && (item.APIURL == p.config.UntilURL || item.HTMLURL == p.config.UntilURL) {
			logger.Info("reached until url, stopping", slog.String("url", p.config.UntilURL))
			return true
		}
		if len(rs.Results) >= core.MaxSearchResults {
			return false
		}
		key := item.HTMLURL
		if key == "" {
			logger.Warn("skipping result without html_url",
				slog.String("repository", item.Repository),
				slog.String("path", item.Path),
			)
			continue
		}
		if seen[key] {
			logger.Debug("skipping duplicate result", slog.String("html_url", key))
			continue
		}
		seen[key] = true
		logger.Debug("search result",
			slog.String("repository", item.Repository),
			slog.String("path", item.Path),
			slog.String("html_url", item.HTMLURL),
		)
		rs.Results = append(rs.Results, item)
	}
	return false
}

// retryableError carries the delay the policy chose for the next attempt.
type retryableError struct {
	err   error
	delay time.Duration
	quota bool
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func (e *retryableError) RetryAfter() (time.Duration, bool) {
	return e.delay, true
}

func (p *Paginator) fetchPage(ctx context.Context, logger *slog.Logger, req core.PageRequest) (*codesearch.Page, error) {
	var page *codesearch.Page
	attempt := 0
	cfg := retry.Config{
		Attempts: p.config.MaxAttempts,
		Jitter:   -1,
		Sleep:    p.policy.Sleep,
		OnRetry: func(n int, delay time.Duration, err error) {
			reason, class := "backoff", "transient"
			var re *retryableError
			if errors.As(err, &re) && re.quota {
				reason, class = "quota", "quota"
			}
			p.metrics.RecordRetry(class)
			p.metrics.RecordWait(reason, delay)
			logger.Warn("retrying search page",
				slog.Int("page", req.Page),
				slog.Int("attempt", n),
				slog.Duration("delay", delay),
				slog.Any("error", err),
			)
		},
	}

	err := retry.Do(ctx, cfg, func() error {
		attempt++
		if err := p.policy.WaitIfNeeded(ctx); err != nil {
			return retry.Permanent(err)
		}

		start := p.clock.Now()
		result, err := p.call(ctx, req)
		p.metrics.RecordRequest(statusOf(result, err), p.clock.Now().Sub(start))
		if err == nil {
			p.policy.Observe(result.Quota)
			if result.Quota.Known {
				p.metrics.SetRateLimitRemaining(result.Quota.Remaining)
			}
			page = result
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return retry.Permanent(ctxErr)
		}

		var apiErr *codesearch.APIError
		if !errors.As(err, &apiErr) {
			return retry.Permanent(err)
		}
		p.policy.Observe(apiErr.Quota)

		decision := p.policy.RetryDelay(apiErr.StatusCode, apiErr.Quota, attempt)
		if !decision.Retry {
			return retry.Permanent(err)
		}
		if decision.Quota && p.policy.OverBudget(decision.Delay) {
			return retry.Permanent(fmt.Errorf("%w: %w", ratelimit.ErrQuotaBudget, err))
		}
		return &retryableError{err: err, delay: decision.Delay, quota: decision.Quota}
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (p *Paginator) call(ctx context.Context, req core.PageRequest) (*codesearch.Page, error) {
	if p.breaker == nil {
		return p.client.SearchPage(ctx, req)
	}
	out, err := p.breaker.Execute(func() (interface{}, error) {
		return p.client.SearchPage(ctx, req)
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return nil, fmt.Errorf("search api unavailable: %w", err)
		}
		return nil, err
	}
	page, _ := out.(*codesearch.Page)
	if page == nil {
		return nil, fmt.Errorf("code search client returned no page")
	}
	return page, nil
}

func statusOf(page *codesearch.Page, err error) int {
	if err == nil && page != nil {
		return 200
	}
	return codesearch.StatusOf(err)
}
