package config

import (
	"strings"
	"testing"
	"time"

	"github.com/bakkerme/ghsearch-feed/internal/core"
)

func TestLoadEnvTokenFallback(t *testing.T) {
	t.Setenv("GHSEARCH_GITHUB_TOKEN", "")
	t.Setenv("GITHUB_TOKEN", "from-github")
	if got := LoadEnv().GitHub.Token; got != "from-github" {
		t.Fatalf("token = %q, want from-github", got)
	}

	t.Setenv("GHSEARCH_GITHUB_TOKEN", "primary")
	if got := LoadEnv().GitHub.Token; got != "primary" {
		t.Fatalf("token = %q, want primary", got)
	}
}

func TestLoadEnvDefaultsAndOverrides(t *testing.T) {
	t.Setenv("GHSEARCH_PER_PAGE", "")
	t.Setenv("GHSEARCH_MAX_QUOTA_WAIT", "1d")
	t.Setenv("GHSEARCH_REQUESTS_PER_MINUTE", "0")
	t.Setenv("LOG_LEVEL", "debug")

	env := LoadEnv()
	if env.GitHub.PerPage != 100 || env.GitHub.MaxAttempts != 4 {
		t.Fatalf("unexpected github defaults: %+v", env.GitHub)
	}
	if env.RateLimit.MaxQuotaWait != 24*time.Hour {
		t.Fatalf("MaxQuotaWait = %s, want 24h", env.RateLimit.MaxQuotaWait)
	}
	if env.RateLimit.RequestsPerMinute != 0 {
		t.Fatalf("RequestsPerMinute = %v, want 0", env.RateLimit.RequestsPerMinute)
	}
	if env.LogLevel != "DEBUG" {
		t.Fatalf("LogLevel = %q", env.LogLevel)
	}
}

func baseEnv() EnvConfig {
	return EnvConfig{
		LogLevel:  "INFO",
		GitHub:    GitHubEnvConfig{Token: "env-token", PerPage: 100, MaxAttempts: 4},
		RateLimit: RateLimitEnvConfig{RequestsPerMinute: 10, Burst: 10},
	}
}

func TestResolvePrecedence(t *testing.T) {
	doc := &Document{Feed: FeedConfig{
		Query:       "filename:CLAUDE.md",
		Output:      "doc.xml",
		UntilURL:    "https://github.com/a/b/blob/x/CLAUDE.md",
		UpdatedDate: "2024-01-02",
		PerPage:     30,
		Schedule:    &CronTrigger{Cron: "0 * * * *", Timezone: "Europe/Amsterdam"},
	}}
	s, err := Resolve(baseEnv(), doc, Overrides{
		Output:   "flag.xml",
		LogLevel: "warning",
		Schedule: "*/30 * * * *",
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if s.Query != "filename:CLAUDE.md" {
		t.Fatalf("Query = %q", s.Query)
	}
	if s.Output != "flag.xml" {
		t.Fatalf("Output = %q, want flag override", s.Output)
	}
	if s.GitHub.PerPage != 30 || s.GitHub.Token != "env-token" {
		t.Fatalf("github = %+v", s.GitHub)
	}
	if s.LogLevel != "WARNING" {
		t.Fatalf("LogLevel = %q", s.LogLevel)
	}
	if s.Schedule == nil || s.Schedule.Cron != "*/30 * * * *" || s.Schedule.Timezone != "Europe/Amsterdam" {
		t.Fatalf("Schedule = %+v", s.Schedule)
	}
	if !s.UpdatedDate.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("UpdatedDate = %s", s.UpdatedDate)
	}
}

func TestResolveSnapshotFlags(t *testing.T) {
	s, err := Resolve(baseEnv(), nil, Overrides{Query: "q", RestorePath: "rs.json"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if s.Snapshot == nil || !s.Snapshot.Restore || s.Snapshot.Path != "rs.json" {
		t.Fatalf("Snapshot = %+v", s.Snapshot)
	}
}

func TestResolveErrors(t *testing.T) {
	cases := []struct {
		name string
		env  func(*EnvConfig)
		doc  *Document
		o    Overrides
		want string
	}{
		{name: "missing query", o: Overrides{}, want: "query is required"},
		{name: "bad log level", o: Overrides{Query: "q", LogLevel: "TRACE"}, want: "log level"},
		{name: "bad updated date", o: Overrides{Query: "q", UpdatedDate: "whenever"}, want: "updated date"},
		{name: "missing token", env: func(e *EnvConfig) { e.GitHub.Token = "" }, o: Overrides{Query: "q"}, want: "token is required"},
		{name: "restore with schedule", o: Overrides{Query: "q", RestorePath: "a.json", Schedule: "@hourly"}, want: "restore"},
		{name: "exclude restore with schedule", doc: &Document{Feed: FeedConfig{Exclude: &ExcludeRule{Rule: "true", Snapshot: &core.SnapshotConfig{Restore: true, Path: "f.json"}}}}, o: Overrides{Query: "q", Schedule: "@hourly"}, want: "exclude restore"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := baseEnv()
			if tc.env != nil {
				tc.env(&env)
			}
			_, err := Resolve(env, tc.doc, tc.o)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error = %v, want it to mention %q", err, tc.want)
			}
		})
	}
}

func TestResolveRestoreNeedsNoToken(t *testing.T) {
	env := baseEnv()
	env.GitHub.Token = ""
	if _, err := Resolve(env, nil, Overrides{Query: "q", RestorePath: "rs.json"}); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
}

func TestParseUpdatedDateFormats(t *testing.T) {
	want := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"2024-03-05", "March 5, 2024", "2024-03-05T00:00:00Z"} {
		got, err := ParseUpdatedDate(in)
		if err != nil {
			t.Fatalf("ParseUpdatedDate(%q) error = %v", in, err)
		}
		if !got.Equal(want) {
			t.Fatalf("ParseUpdatedDate(%q) = %s, want %s", in, got, want)
		}
	}
}
