package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/bakkerme/ghsearch-feed/internal/core"
)

// Overrides are values given on the command line. Empty strings mean "not set".
type Overrides struct {
	Query        string
	Token        string
	LogLevel     string
	UntilURL     string
	Output       string
	UpdatedDate  string
	Schedule     string
	MetricsAddr  string
	HistoryDB    string
	SnapshotPath string
	RestorePath  string
}

// Settings is the resolved configuration of one process.
// Precedence is flags, then the YAML document, then environment, then defaults.
type Settings struct {
	Query    string
	Title    string
	Output   string
	UntilURL string
	// UpdatedDate is zero when the run start should be used.
	UpdatedDate time.Time
	LogLevel    string
	Exclude     *ExcludeRule
	Schedule    *CronTrigger
	Snapshot    *core.SnapshotConfig
	GitHub      GitHubEnvConfig
	RateLimit   RateLimitEnvConfig
	OTel        OTelEnvConfig
	Metrics     MetricsEnvConfig
	History     HistoryEnvConfig
}

// Resolve merges env, an optional document and command line overrides.
func Resolve(env EnvConfig, doc *Document, o Overrides) (Settings, error) {
	s := Settings{
		LogLevel:  env.LogLevel,
		GitHub:    env.GitHub,
		RateLimit: env.RateLimit,
		OTel:      env.OTel,
		Metrics:   env.Metrics,
		History:   env.History,
	}

	var updatedDate string
	if doc != nil {
		feed := doc.Feed
		s.Query = feed.Query
		s.Title = feed.Title
		s.Output = feed.Output
		s.UntilURL = feed.UntilURL
		updatedDate = feed.UpdatedDate
		if feed.PerPage > 0 {
			s.GitHub.PerPage = feed.PerPage
		}
		if feed.MaxQuotaWait != nil {
			s.RateLimit.MaxQuotaWait = feed.MaxQuotaWait.Std()
		}
		s.Exclude = feed.Exclude
		s.Schedule = feed.Schedule
		s.Snapshot = feed.Snapshot
	}

	override(&s.Query, o.Query)
	override(&s.GitHub.Token, o.Token)
	override(&s.LogLevel, strings.ToUpper(strings.TrimSpace(o.LogLevel)))
	override(&s.UntilURL, o.UntilURL)
	override(&s.Output, o.Output)
	override(&updatedDate, o.UpdatedDate)
	override(&s.Metrics.Addr, o.MetricsAddr)
	override(&s.History.DBPath, o.HistoryDB)
	if v := strings.TrimSpace(o.Schedule); v != "" {
		tz := ""
		if s.Schedule != nil {
			tz = s.Schedule.Timezone
		}
		s.Schedule = &CronTrigger{Cron: v, Timezone: tz}
	}
	if v := strings.TrimSpace(o.SnapshotPath); v != "" {
		s.Snapshot = &core.SnapshotConfig{Snapshot: true, Path: v}
	}
	if v := strings.TrimSpace(o.RestorePath); v != "" {
		s.Snapshot = &core.SnapshotConfig{Restore: true, Path: v}
	}

	if updatedDate != "" {
		t, err := ParseUpdatedDate(updatedDate)
		if err != nil {
			return Settings{}, err
		}
		s.UpdatedDate = t
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s Settings) Validate() error {
	if strings.TrimSpace(s.Query) == "" {
		return fmt.Errorf("search query is required (-query or feed.query)")
	}
	restoring := s.Snapshot != nil && s.Snapshot.Restore
	if strings.TrimSpace(s.GitHub.Token) == "" && !restoring {
		return fmt.Errorf("github token is required (-token, GHSEARCH_GITHUB_TOKEN or GITHUB_TOKEN)")
	}
	if s.GitHub.PerPage < 1 || s.GitHub.PerPage > core.MaxPerPage {
		return fmt.Errorf("per_page must be between 1 and %d, got %d", core.MaxPerPage, s.GitHub.PerPage)
	}
	if s.GitHub.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", s.GitHub.MaxAttempts)
	}
	if s.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("requests per minute must not be negative")
	}
	switch s.LogLevel {
	case "DEBUG", "INFO", "WARNING", "WARN", "ERROR":
	default:
		return fmt.Errorf("log level must be one of DEBUG, INFO, WARNING, ERROR, got %q", s.LogLevel)
	}
	if restoring && s.Schedule != nil {
		return fmt.Errorf("restore cannot be combined with a schedule")
	}
	if s.Exclude != nil && s.Exclude.Snapshot != nil && s.Exclude.Snapshot.Restore && s.Schedule != nil {
		return fmt.Errorf("exclude restore cannot be combined with a schedule")
	}
	return validateSnapshotConfig("snapshot", s.Snapshot)
}

// ParseUpdatedDate parses a free-form date (RFC 3339, "2024-01-02", "Jan 2 2024", ...).
// Dates without a zone are taken as UTC.
func ParseUpdatedDate(raw string) (time.Time, error) {
	t, err := dateparse.ParseIn(strings.TrimSpace(raw), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid updated date %q: %w", raw, err)
	}
	return t.UTC(), nil
}

func override(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}
