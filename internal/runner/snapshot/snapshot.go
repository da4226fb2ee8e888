package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bakkerme/ghsearch-feed/internal/core"
)

type Payload struct {
	SavedAt time.Time       `json:"saved_at"`
	Results *core.ResultSet `json:"result_set"`
}

// Save writes rs as indented JSON. The degraded cause is not persisted.
func Save(path string, rs *core.ResultSet, savedAt time.Time) error {
	if path == "" {
		return fmt.Errorf("snapshot path is required")
	}
	if rs == nil {
		return fmt.Errorf("snapshot result set is required")
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot directory: %w", err)
		}
	}
	payload := Payload{
		SavedAt: savedAt.UTC(),
		Results: rs,
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// Load reads a result set written by Save. A set saved without a stop
// reason comes back tagged as restored.
func Load(path string) (*core.ResultSet, error) {
	if path == "" {
		return nil, fmt.Errorf("snapshot path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if payload.Results == nil {
		return nil, fmt.Errorf("snapshot %s has no result set", path)
	}
	rs := payload.Results
	if rs.Results == nil {
		rs.Results = []core.SearchResult{}
	}
	if rs.StopReason == "" {
		rs.StopReason = core.StopRestoredResult
	}
	return rs, nil
}
