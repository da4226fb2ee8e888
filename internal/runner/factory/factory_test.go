package factory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"

	"github.com/bakkerme/ghsearch-feed/internal/config"
	"github.com/bakkerme/ghsearch-feed/internal/core"
	"github.com/bakkerme/ghsearch-feed/internal/feed"
	"github.com/bakkerme/ghsearch-feed/internal/observability/metrics"
	"github.com/bakkerme/ghsearch-feed/internal/ratelimit"
	"github.com/bakkerme/ghsearch-feed/internal/resilience/circuitbreaker"
	"github.com/bakkerme/ghsearch-feed/internal/retry"
	"github.com/bakkerme/ghsearch-feed/internal/runner/snapshot"
	"github.com/bakkerme/ghsearch-feed/internal/sources/codesearch"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

const onePage = `{"total_count":1,"incomplete_results":false,"items":[{
	"name":"CLAUDE.md","path":"CLAUDE.md","sha":"abc",
	"url":"https://api.github.com/repositories/1/contents/CLAUDE.md",
	"html_url":"https://github.com/octo/repo/blob/main/CLAUDE.md",
	"repository":{"full_name":"octo/repo"}}]}`

func testSettings(t *testing.T) config.Settings {
	t.Helper()
	env := config.LoadEnv()
	env.GitHub.Token = "test-token"
	env.GitHub.BaseURL = "https://api.example.test"
	env.GitHub.PerPage = 100
	env.GitHub.MaxAttempts = 2
	env.RateLimit.RequestsPerMinute = 0
	env.History.DBPath = ""
	env.Metrics.Addr = ""
	s, err := config.Resolve(env, nil, config.Overrides{
		Query:     "filename:CLAUDE.md",
		Output:    filepath.Join(t.TempDir(), "feed.xml"),
		HistoryDB: filepath.Join(t.TempDir(), "history.db"),
		LogLevel:  "INFO",
	})
	if err != nil {
		t.Fatalf("Resolve error = %v", err)
	}
	return s
}

func testFactory(transport http.RoundTripper) *Factory {
	clock := ratelimit.NewFakeClock(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC))
	f := New(slog.New(slog.NewTextHandler(io.Discard, nil)), metrics.New(prometheus.NewRegistry()))
	f.Clock = clock
	f.Sleep = clock.Sleep
	f.HTTPClient = &http.Client{Transport: transport}
	return f
}

func TestBuildRunsEndToEnd(t *testing.T) {
	var seen []string
	f := testFactory(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		seen = append(seen, req.URL.String())
		if got := req.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Fatalf("authorization header = %q", got)
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(strings.NewReader(onePage)),
			Request:    req,
		}, nil
	}))
	s := testSettings(t)
	s.Exclude = &config.ExcludeRule{Rule: `extension == "txt"`}

	asm, err := f.Build(s)
	if err != nil {
		t.Fatalf("Build error = %v", err)
	}
	t.Cleanup(func() { _ = asm.Close() })
	if asm.History == nil || len(asm.Triggers) != 0 {
		t.Fatalf("unexpected assembly: %+v", asm)
	}

	run, err := asm.Runner.RunOnce(context.Background(), s.Query, "")
	if err != nil {
		t.Fatalf("RunOnce error = %v", err)
	}
	if run.Status != core.RunStatusCompleted || len(run.Feed.Entries) != 1 {
		t.Fatalf("unexpected run: %+v", run)
	}
	if len(seen) != 1 || !strings.HasPrefix(seen[0], "https://api.example.test/search/code?q=filename:CLAUDE.md") {
		t.Fatalf("requests = %v", seen)
	}

	data, err := os.ReadFile(s.Output)
	if err != nil {
		t.Fatalf("read feed: %v", err)
	}
	if err := feed.Validate(data); err != nil {
		t.Fatalf("feed invalid: %v", err)
	}

	records, err := asm.History.RecentRuns(context.Background(), s.Query, 5)
	if err != nil || len(records) != 1 {
		t.Fatalf("history = %+v, err = %v", records, err)
	}
}

func TestBuildWithScheduleAndStdout(t *testing.T) {
	f := testFactory(roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("unused")
	}))
	var buf bytes.Buffer
	f.Stdout = &buf
	s := testSettings(t)
	s.Output = ""
	s.History.DBPath = ""
	s.Schedule = &config.CronTrigger{Cron: "0 * * * *"}

	asm, err := f.Build(s)
	if err != nil {
		t.Fatalf("Build error = %v", err)
	}
	if len(asm.Triggers) != 1 || asm.History != nil {
		t.Fatalf("unexpected assembly: %+v", asm)
	}

	s.Schedule = &config.CronTrigger{Cron: "not a schedule"}
	if _, err := f.Build(s); err == nil {
		t.Fatalf("expected error for bad schedule")
	}
	s.Schedule = nil
	s.Exclude = &config.ExcludeRule{Rule: "repository +"}
	if _, err := f.Build(s); err == nil {
		t.Fatalf("expected error for bad exclude rule")
	}
}

func TestNewBreakerCountsOnlyTransientFailures(t *testing.T) {
	f := testFactory(nil)
	cb := f.NewBreaker(2)
	client := &codesearch.APIError{StatusCode: http.StatusNotFound, Kind: codesearch.ErrClient}
	for i := 0; i < 10; i++ {
		_, _ = cb.Execute(func() (interface{}, error) { return nil, client })
	}
	if cb.State() != gobreaker.StateClosed {
		t.Fatalf("client errors opened the breaker")
	}
	transient := &codesearch.APIError{StatusCode: http.StatusBadGateway, Kind: codesearch.ErrTransient}
	for i := 0; i < 5; i++ {
		_, _ = cb.Execute(func() (interface{}, error) { return nil, transient })
	}
	if !cb.IsOpen() {
		t.Fatalf("expected breaker to open after transient failures")
	}
}

func TestBuildRetriesBeyondDefaultBreakerThreshold(t *testing.T) {
	calls := 0
	f := testFactory(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		calls++
		return &http.Response{
			StatusCode: http.StatusBadGateway,
			Header:     http.Header{},
			Body:       io.NopCloser(strings.NewReader(`{"message":"bad gateway"}`)),
			Request:    req,
		}, nil
	}))
	s := testSettings(t)
	s.GitHub.MaxAttempts = 8

	asm, err := f.Build(s)
	if err != nil {
		t.Fatalf("Build error = %v", err)
	}
	t.Cleanup(func() { _ = asm.Close() })

	_, err = asm.Runner.RunOnce(context.Background(), s.Query, "")
	if err == nil {
		t.Fatalf("expected error when every attempt fails")
	}
	if calls != 8 {
		t.Fatalf("calls = %d, want 8", calls)
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		t.Fatalf("breaker opened before retries ran out: %v", err)
	}
	if !errors.Is(err, retry.ErrExhausted) {
		t.Fatalf("error = %v, want retry exhaustion", err)
	}
}

func TestNewQualityRuleCarriesSnapshot(t *testing.T) {
	f := testFactory(nil)
	cfg := &core.SnapshotConfig{Restore: true, Path: "filtered.json"}
	rule, err := f.NewQualityRule(&config.ExcludeRule{Rule: "false", Snapshot: cfg})
	if err != nil {
		t.Fatalf("NewQualityRule error = %v", err)
	}
	if got := snapshot.ConfigOf(rule); got != cfg {
		t.Fatalf("snapshot config = %+v, want %+v", got, cfg)
	}
	bare, err := f.NewQualityRule(&config.ExcludeRule{Rule: "false"})
	if err != nil {
		t.Fatalf("NewQualityRule error = %v", err)
	}
	if snapshot.ConfigOf(bare) != nil {
		t.Fatalf("rule without snapshot should not be wrapped")
	}
}
