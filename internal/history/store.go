package history

import (
	"context"
	"time"

	"github.com/bakkerme/ghsearch-feed/internal/core"
)

// Store keeps a log of finished runs.
type Store interface {
	RecordRun(ctx context.Context, run *core.Run) error
	RecentRuns(ctx context.Context, query string, limit int) ([]Record, error)
	Close() error
}

// Record is the persisted summary of one run.
type Record struct {
	ID          string
	Query       string
	Status      core.RunStatus
	TriggerType string
	StartedAt   time.Time
	CompletedAt time.Time
	Results     int
	Pages       int
	TotalCount  int
	StopReason  core.StopReason
	Truncated   bool
	Error       string
}

// RecordFromRun flattens a run into its persisted summary.
func RecordFromRun(run *core.Run) Record {
	rec := Record{
		ID:          run.ID,
		Query:       run.Query,
		Status:      run.Status,
		TriggerType: run.TriggerType,
		StartedAt:   run.StartedAt.UTC(),
		Error:       run.Error,
	}
	if run.CompletedAt != nil {
		rec.CompletedAt = run.CompletedAt.UTC()
	}
	if rs := run.Results; rs != nil {
		rec.Results = len(rs.Results)
		rec.Pages = rs.Pages
		rec.TotalCount = rs.TotalCount
		rec.StopReason = rs.StopReason
		rec.Truncated = rs.Truncated
	}
	return rec
}
