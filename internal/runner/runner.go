package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/bakkerme/ghsearch-feed/internal/core"
	"github.com/bakkerme/ghsearch-feed/internal/feed"
	"github.com/bakkerme/ghsearch-feed/internal/history"
	"github.com/bakkerme/ghsearch-feed/internal/observability/metrics"
	"github.com/bakkerme/ghsearch-feed/internal/ratelimit"
	"github.com/bakkerme/ghsearch-feed/internal/runner/snapshot"
)

const (
	TriggerManual = "manual"
	TriggerCron   = "cron"
)

type PipelineConfig struct {
	Source  core.SourceProcessor
	Quality []core.QualityProcessor
	// Title overrides the default feed title.
	Title string
	// UpdatedDate replaces the run start as the reference time for missing timestamps.
	UpdatedDate time.Time
	Clock       ratelimit.Clock
	Logger      *slog.Logger
}

// Pipeline turns a query into a feed document: search, filter, project.
type Pipeline struct {
	source      core.SourceProcessor
	quality     []core.QualityProcessor
	title       string
	updatedDate time.Time
	clock       ratelimit.Clock
	logger      *slog.Logger
}

func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("source processor is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = ratelimit.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		source:      cfg.Source,
		quality:     cfg.Quality,
		title:       cfg.Title,
		updatedDate: cfg.UpdatedDate,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
	}, nil
}

// Run executes one search for query and projects the feed. The returned run
// is non-nil even on error and carries the failure status. A degraded search
// still produces a feed and a nil error.
func (p *Pipeline) Run(ctx context.Context, query string) (*core.Run, error) {
	return p.runWithTrigger(ctx, query, TriggerManual)
}

func (p *Pipeline) runWithTrigger(ctx context.Context, query, triggerType string) (*core.Run, error) {
	run := &core.Run{
		ID:          uuid.NewString(),
		Query:       query,
		StartedAt:   p.clock.Now().UTC(),
		Status:      core.RunStatusRunning,
		TriggerType: triggerType,
	}
	logger := p.logger.With(slog.String("run_id", run.ID), slog.String("query", query))
	ctx = core.WithRunID(ctx, run.ID)
	ctx = core.WithQuery(ctx, query)
	ctx = core.WithLogger(ctx, logger)

	tracer := otel.Tracer("ghsearch-feed/runner")
	ctx, span := tracer.Start(ctx, "pipeline.run")
	span.SetAttributes(attribute.String("run.id", run.ID), attribute.String("search.query", query))
	defer span.End()

	if err := p.run(ctx, logger, run); err != nil {
		p.fail(run, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return run, err
	}
	span.SetAttributes(
		attribute.String("run.status", string(run.Status)),
		attribute.Int("feed.entries", len(run.Feed.Entries)),
	)
	return run, nil
}

func (p *Pipeline) run(ctx context.Context, logger *slog.Logger, run *core.Run) error {
	q, err := core.NewQuery(run.Query)
	if err != nil {
		return err
	}
	logger.Info("run started", slog.String("trigger", run.TriggerType))

	rs, err := p.search(ctx, logger, q)
	if err != nil {
		return err
	}
	run.Results = rs
	if rs.Degraded != nil {
		logger.Warn("search degraded, publishing partial feed",
			slog.String("stop_reason", string(rs.StopReason)),
			slog.Int("results", len(rs.Results)),
			slog.Any("error", rs.Degraded),
		)
	}
	if rs.Truncated {
		logger.Warn("result set truncated",
			slog.Int("total_count", rs.TotalCount),
			slog.Int("results", len(rs.Results)),
		)
	}

	results, err := p.filter(ctx, logger, rs)
	if err != nil {
		return err
	}
	projected := *rs
	projected.Results = results

	ref := run.StartedAt
	if !p.updatedDate.IsZero() {
		ref = p.updatedDate.UTC()
	}
	doc, err := feed.NewProjector(feed.Metadata{
		Query:         run.Query,
		Title:         p.title,
		ReferenceTime: ref,
	}).Project(&projected)
	if err != nil {
		return fmt.Errorf("project feed: %w", err)
	}
	run.Feed = doc

	completed := p.clock.Now().UTC()
	run.CompletedAt = &completed
	run.Status = core.RunStatusCompleted
	if rs.Degraded != nil {
		run.Status = core.RunStatusDegraded
		run.Error = rs.Degraded.Error()
	}
	logger.Info("run finished",
		slog.String("status", string(run.Status)),
		slog.Int("entries", len(doc.Entries)),
		slog.Int("pages", rs.Pages),
		slog.Duration("duration", completed.Sub(run.StartedAt)),
	)
	return nil
}

func (p *Pipeline) search(ctx context.Context, logger *slog.Logger, q core.Query) (*core.ResultSet, error) {
	cfg := snapshot.ConfigOf(p.source)
	if cfg != nil && cfg.Restore {
		rs, err := snapshot.Load(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("restore %s snapshot: %w", p.source.Name(), err)
		}
		logger.Info("restored search results from snapshot", slog.String("path", cfg.Path), slog.Int("results", len(rs.Results)))
		return rs, nil
	}

	rs, err := p.source.Search(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.source.Name(), err)
	}
	if cfg != nil && cfg.Snapshot {
		if err := snapshot.Save(cfg.Path, rs, p.clock.Now()); err != nil {
			return nil, fmt.Errorf("save %s snapshot: %w", p.source.Name(), err)
		}
		logger.Info("saved search snapshot", slog.String("path", cfg.Path))
	}
	return rs, nil
}

func (p *Pipeline) filter(ctx context.Context, logger *slog.Logger, rs *core.ResultSet) ([]core.SearchResult, error) {
	results := rs.Results
	for _, processor := range p.quality {
		if processor == nil {
			continue
		}
		cfg := snapshot.ConfigOf(processor)
		if cfg != nil && cfg.Restore {
			restored, err := snapshot.Load(cfg.Path)
			if err != nil {
				return nil, fmt.Errorf("restore %s snapshot: %w", processor.Name(), err)
			}
			logger.Info("restored filtered results from snapshot", slog.String("processor", processor.Name()))
			results = restored.Results
			continue
		}

		next, err := processor.Evaluate(ctx, results)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", processor.Name(), err)
		}
		results = next

		if cfg != nil && cfg.Snapshot {
			filtered := *rs
			filtered.Results = results
			if err := snapshot.Save(cfg.Path, &filtered, p.clock.Now()); err != nil {
				return nil, fmt.Errorf("save %s snapshot: %w", processor.Name(), err)
			}
		}
	}
	return results, nil
}

func (p *Pipeline) fail(run *core.Run, err error) {
	completed := p.clock.Now().UTC()
	run.CompletedAt = &completed
	run.Error = err.Error()
	run.Status = core.RunStatusFailed
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		run.Status = core.RunStatusCancelled
	}
}

type Options struct {
	Outputs []core.OutputProcessor
	History history.Store
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Runner runs the pipeline, delivers the feed and records the outcome.
type Runner struct {
	pipeline *Pipeline
	outputs  []core.OutputProcessor
	history  history.Store
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func New(pipeline *Pipeline, opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		pipeline: pipeline,
		outputs:  opts.Outputs,
		history:  opts.History,
		metrics:  opts.Metrics,
		logger:   logger,
	}
}

// Start listens on every trigger and runs the pipeline for each event until
// ctx is cancelled or all triggers close.
func (r *Runner) Start(ctx context.Context, query string, triggers []core.TriggerProcessor) error {
	if len(triggers) == 0 {
		return fmt.Errorf("at least one trigger is required")
	}
	done := make(chan struct{}, len(triggers))
	started := 0
	for _, trigger := range triggers {
		if trigger == nil {
			continue
		}
		events, err := trigger.Start(ctx, query)
		if err != nil {
			return fmt.Errorf("start %s trigger: %w", trigger.Name(), err)
		}
		started++
		go func(events <-chan core.TriggerEvent) {
			r.listen(ctx, events)
			done <- struct{}{}
		}(events)
	}
	for i := 0; i < started; i++ {
		<-done
	}
	return ctx.Err()
}

func (r *Runner) RunOnce(ctx context.Context, query string, triggerType string) (*core.Run, error) {
	if triggerType == "" {
		triggerType = TriggerManual
	}
	run, err := r.pipeline.runWithTrigger(ctx, query, triggerType)
	if err == nil {
		err = r.deliver(ctx, run)
		if err != nil {
			r.pipeline.fail(run, err)
		}
	}
	r.record(ctx, run)
	return run, err
}

func (r *Runner) deliver(ctx context.Context, run *core.Run) error {
	for _, output := range r.outputs {
		if output == nil {
			continue
		}
		if err := output.Deliver(ctx, run); err != nil {
			return fmt.Errorf("%s output: %w", output.Name(), err)
		}
	}
	return nil
}

func (r *Runner) record(ctx context.Context, run *core.Run) {
	if run == nil {
		return
	}
	var duration time.Duration
	if run.CompletedAt != nil {
		duration = run.CompletedAt.Sub(run.StartedAt)
	}
	entries, pages := 0, 0
	if run.Feed != nil {
		entries = len(run.Feed.Entries)
	}
	if run.Results != nil {
		pages = run.Results.Pages
	}
	r.metrics.RecordRun(string(run.Status), duration, entries, pages)

	if r.history == nil {
		return
	}
	// Recording must survive a cancelled run context.
	if err := r.history.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		r.logger.Warn("failed to record run history", slog.String("run_id", run.ID), slog.Any("error", err))
	}
}

func (r *Runner) listen(ctx context.Context, events <-chan core.TriggerEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			r.logger.Info("trigger event", slog.String("query", event.Query), slog.Time("time", event.Timestamp))
			if _, err := r.RunOnce(ctx, event.Query, TriggerCron); err != nil {
				r.logger.Error("scheduled run failed", slog.Any("error", err))
			}
		}
	}
}
