package core

import (
	"time"
)

// Run represents a single execution of the search-and-publish pipeline.
type Run struct {
	ID          string        `json:"id" yaml:"id"`
	Query       string        `json:"query" yaml:"query"`
	StartedAt   time.Time     `json:"started_at" yaml:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Status      RunStatus     `json:"status" yaml:"status"`
	TriggerType string        `json:"trigger_type" yaml:"trigger_type"`
	Results     *ResultSet    `json:"results,omitempty" yaml:"results,omitempty"`
	Feed        *FeedDocument `json:"-" yaml:"-"`
	Error       string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// RunStatus represents the current state of a run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	// RunStatusDegraded marks a run that produced a feed from a truncated result set.
	RunStatusDegraded  RunStatus = "degraded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Finished reports whether the run reached a terminal state.
func (s RunStatus) Finished() bool {
	switch s {
	case RunStatusCompleted, RunStatusDegraded, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}
