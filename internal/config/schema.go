package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bakkerme/ghsearch-feed/internal/core"
	"gopkg.in/yaml.v3"
)

// Document is the top-level structure of a ghsearch-feed YAML file.
type Document struct {
	Feed FeedConfig `yaml:"feed"`
}

// FeedConfig describes one search and where its feed goes.
type FeedConfig struct {
	Query string `yaml:"query"`
	// Title overrides the generated feed title.
	Title  string `yaml:"title,omitempty"`
	Output string `yaml:"output,omitempty"`
	// UntilURL stops pagination at a previously seen result.
	UntilURL string `yaml:"until_url,omitempty"`
	// UpdatedDate is any date format; it replaces the run start as the reference time.
	UpdatedDate  string               `yaml:"updated_date,omitempty"`
	PerPage      int                  `yaml:"per_page,omitempty"`
	MaxQuotaWait *Duration            `yaml:"max_quota_wait,omitempty"`
	Exclude      *ExcludeRule         `yaml:"exclude,omitempty"`
	Schedule     *CronTrigger         `yaml:"schedule,omitempty"`
	Snapshot     *core.SnapshotConfig `yaml:"snapshot,omitempty"`
}

// ExcludeRule drops every result for which Rule evaluates to true.
type ExcludeRule struct {
	Name string `yaml:"name"`
	Rule string `yaml:"rule"`
	// Snapshot saves or restores the filtered results.
	Snapshot *core.SnapshotConfig `yaml:"snapshot,omitempty"`
}

// CronTrigger defines a scheduled trigger
type CronTrigger struct {
	Cron     string `yaml:"cron"`
	Timezone string `yaml:"timezone,omitempty"`
}

// LoadDocument reads and validates a YAML document from path.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return doc, nil
}

// ParseDocument decodes data strictly; unknown keys are errors.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate performs validation on the document. The query may be empty here
// because the command line can supply it.
func (d *Document) Validate() error {
	feed := d.Feed
	if feed.PerPage < 0 || feed.PerPage > core.MaxPerPage {
		return fmt.Errorf("feed: per_page must be between 1 and %d", core.MaxPerPage)
	}
	if feed.MaxQuotaWait != nil && feed.MaxQuotaWait.Std() < 0 {
		return fmt.Errorf("feed: max_quota_wait must not be negative")
	}
	if feed.UpdatedDate != "" {
		if _, err := ParseUpdatedDate(feed.UpdatedDate); err != nil {
			return fmt.Errorf("feed: %w", err)
		}
	}
	if feed.Exclude != nil {
		if strings.TrimSpace(feed.Exclude.Rule) == "" {
			return fmt.Errorf("feed: exclude rule expression is required")
		}
		if err := validateSnapshotConfig("feed.exclude", feed.Exclude.Snapshot); err != nil {
			return err
		}
	}
	if feed.Schedule != nil && strings.TrimSpace(feed.Schedule.Cron) == "" {
		return fmt.Errorf("feed: schedule cron expression is required")
	}
	if err := validateSnapshotConfig("feed", feed.Snapshot); err != nil {
		return err
	}
	return nil
}

func validateSnapshotConfig(label string, cfg *core.SnapshotConfig) error {
	if cfg == nil {
		return nil
	}
	if cfg.Snapshot && cfg.Restore {
		return fmt.Errorf("%s: snapshot and restore cannot both be true", label)
	}
	if (cfg.Snapshot || cfg.Restore) && cfg.Path == "" {
		return fmt.Errorf("%s: snapshot path is required", label)
	}
	return nil
}
