package factory

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/sony/gobreaker"

	"github.com/bakkerme/ghsearch-feed/internal/config"
	"github.com/bakkerme/ghsearch-feed/internal/core"
	"github.com/bakkerme/ghsearch-feed/internal/history"
	"github.com/bakkerme/ghsearch-feed/internal/observability/metrics"
	"github.com/bakkerme/ghsearch-feed/internal/processors/output"
	"github.com/bakkerme/ghsearch-feed/internal/processors/quality"
	"github.com/bakkerme/ghsearch-feed/internal/processors/source"
	"github.com/bakkerme/ghsearch-feed/internal/processors/trigger"
	"github.com/bakkerme/ghsearch-feed/internal/ratelimit"
	"github.com/bakkerme/ghsearch-feed/internal/resilience/circuitbreaker"
	"github.com/bakkerme/ghsearch-feed/internal/runner"
	"github.com/bakkerme/ghsearch-feed/internal/runner/snapshot"
	"github.com/bakkerme/ghsearch-feed/internal/sources/codesearch"
	"github.com/bakkerme/ghsearch-feed/internal/sources/codesearch/impl"
)

// Factory builds the processors of one process from resolved settings.
// Zero-valued fields fall back to production implementations.
type Factory struct {
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Clock      ratelimit.Clock
	Sleep      ratelimit.Sleeper
	HTTPClient *http.Client
	Stdout     io.Writer
	// SearchClient replaces the HTTP client built from settings.
	SearchClient codesearch.Client
}

func New(logger *slog.Logger, m *metrics.Metrics) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{Logger: logger, Metrics: m}
}

// Assembly is everything main needs to run.
type Assembly struct {
	Runner   *runner.Runner
	Triggers []core.TriggerProcessor
	History  history.Store
}

// Close releases the history store.
func (a *Assembly) Close() error {
	if a == nil || a.History == nil {
		return nil
	}
	return a.History.Close()
}

func (f *Factory) Build(s config.Settings) (*Assembly, error) {
	src, err := f.NewSource(s)
	if err != nil {
		return nil, err
	}

	var filters []core.QualityProcessor
	if s.Exclude != nil {
		rule, err := f.NewQualityRule(s.Exclude)
		if err != nil {
			return nil, err
		}
		filters = append(filters, rule)
	}

	pipeline, err := runner.NewPipeline(runner.PipelineConfig{
		Source:      src,
		Quality:     filters,
		Title:       s.Title,
		UpdatedDate: s.UpdatedDate,
		Clock:       f.Clock,
		Logger:      f.Logger,
	})
	if err != nil {
		return nil, err
	}

	out, err := f.NewAtomOutput(s.Output)
	if err != nil {
		return nil, err
	}

	store, err := f.NewHistory(s.History)
	if err != nil {
		return nil, err
	}

	asm := &Assembly{
		Runner: runner.New(pipeline, runner.Options{
			Outputs: []core.OutputProcessor{out},
			History: store,
			Metrics: f.Metrics,
			Logger:  f.Logger,
		}),
		History: store,
	}
	if s.Schedule != nil {
		cron, err := f.NewCronTrigger(s.Schedule)
		if err != nil {
			_ = asm.Close()
			return nil, err
		}
		asm.Triggers = append(asm.Triggers, cron)
	}
	return asm, nil
}

func (f *Factory) NewSearchClient(cfg config.GitHubEnvConfig) codesearch.Client {
	if f.SearchClient != nil {
		return f.SearchClient
	}
	return impl.NewClient(impl.Options{
		HTTPClient: f.HTTPClient,
		Timeout:    cfg.HTTPTimeout,
		BaseURL:    cfg.BaseURL,
		Token:      cfg.Token,
		UserAgent:  cfg.UserAgent,
	})
}

func (f *Factory) NewPolicy(cfg config.RateLimitEnvConfig) *ratelimit.Policy {
	policy := ratelimit.NewPolicy(ratelimit.Config{
		RequestsPerMinute: cfg.RequestsPerMinute,
		Burst:             cfg.Burst,
		ResetMargin:       cfg.ResetMargin,
		Jitter:            cfg.Jitter,
		MaxQuotaWait:      cfg.MaxQuotaWait,
		BackoffBase:       cfg.BackoffBase,
		BackoffMax:        cfg.BackoffMax,
	}, f.Clock, f.Sleep, f.Logger)
	policy.OnWait = f.Metrics.RecordWait
	return policy
}

// NewBreaker trips on transient failures only. Quota and client errors are
// answers from a healthy API. The threshold is never below maxAttempts so
// one page can use all of its retries.
func (f *Factory) NewBreaker(maxAttempts int) *circuitbreaker.CircuitBreaker {
	cfg := circuitbreaker.SearchAPIConfig()
	if maxAttempts > int(cfg.ConsecutiveFailures) {
		cfg.ConsecutiveFailures = uint32(maxAttempts)
	}
	cfg.IsFailure = func(err error) bool {
		return errors.Is(err, codesearch.ErrTransient)
	}
	cfg.OnStateChange = func(_ string, _, to gobreaker.State) {
		if to == gobreaker.StateOpen {
			f.Metrics.RecordBreakerOpen()
		}
	}
	return circuitbreaker.New(cfg, f.Logger)
}

func (f *Factory) NewSource(s config.Settings) (core.SourceProcessor, error) {
	processor, err := source.NewPaginator(source.PaginatorConfig{
		PerPage:     s.GitHub.PerPage,
		MaxAttempts: s.GitHub.MaxAttempts,
		UntilURL:    s.UntilURL,
	}, source.PaginatorDeps{
		Client:  f.NewSearchClient(s.GitHub),
		Policy:  f.NewPolicy(s.RateLimit),
		Breaker: f.NewBreaker(s.GitHub.MaxAttempts),
		Metrics: f.Metrics,
		Clock:   f.Clock,
		Logger:  f.Logger,
	})
	if err != nil {
		return nil, err
	}
	return snapshot.WrapSource(processor, s.Snapshot), nil
}

func (f *Factory) NewQualityRule(cfg *config.ExcludeRule) (core.QualityProcessor, error) {
	rule, err := quality.NewRuleProcessor(cfg, f.Logger)
	if err != nil {
		return nil, err
	}
	return snapshot.WrapQuality(rule, cfg.Snapshot), nil
}

func (f *Factory) NewAtomOutput(path string) (core.OutputProcessor, error) {
	return output.NewAtomProcessor(path, f.Stdout, f.Logger)
}

func (f *Factory) NewCronTrigger(cfg *config.CronTrigger) (core.TriggerProcessor, error) {
	return trigger.NewCronProcessor(cfg, f.Logger)
}

// NewHistory opens the run history, or returns nil when no path is configured.
func (f *Factory) NewHistory(cfg config.HistoryEnvConfig) (history.Store, error) {
	if cfg.DBPath == "" {
		return nil, nil
	}
	store, err := history.NewSQLiteStore(cfg.DBPath, "")
	if err != nil {
		return nil, fmt.Errorf("open run history: %w", err)
	}
	return store, nil
}
