package core

import (
	"context"
	"time"
)

// Processor is the base interface that all processors must implement
type Processor interface {
	// Name returns the processor name
	Name() string
	// Validate checks if the processor configuration is valid
	Validate() error
}

type SnapshotConfig struct {
	Snapshot bool   `json:"snapshot" yaml:"snapshot"`
	Restore  bool   `json:"restore" yaml:"restore"`
	Path     string `json:"path" yaml:"path"`
}

// TriggerEvent represents a trigger firing
type TriggerEvent struct {
	Query     string
	Timestamp time.Time
}

// TriggerProcessor defines when processing runs
type TriggerProcessor interface {
	Processor
	// Start begins the trigger and returns a channel of trigger events.
	// The channel is closed when ctx is cancelled or Stop is called.
	Start(ctx context.Context, query string) (<-chan TriggerEvent, error)
	// Stop gracefully shuts down the trigger
	Stop() error
}

// SourceProcessor runs a query against the search API and assembles the result set.
type SourceProcessor interface {
	Processor
	// Search paginates the query to completion (or to a cap) and returns the ordered,
	// deduplicated results. A non-nil error is fatal for the run.
	Search(ctx context.Context, query Query) (*ResultSet, error)
}

// QualityProcessor filters results before they are projected into the feed.
type QualityProcessor interface {
	Processor
	// Evaluate returns the results to keep, preserving order.
	Evaluate(ctx context.Context, results []SearchResult) ([]SearchResult, error)
}

// OutputProcessor delivers the finished feed
type OutputProcessor interface {
	Processor
	// Deliver writes the run's feed document to its destination.
	Deliver(ctx context.Context, run *Run) error
}
