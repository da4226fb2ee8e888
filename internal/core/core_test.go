package core

import (
	"log/slog"
	"testing"
)

func TestNewQueryRejectsBlank(t *testing.T) {
	for _, in := range []string{"", "   ", "\t\n"} {
		if _, err := NewQuery(in); err == nil {
			t.Fatalf("NewQuery(%q) expected error", in)
		}
	}
}

func TestNewQueryFixesSortAndOrder(t *testing.T) {
	q, err := NewQuery("  filename:CLAUDE.md ")
	if err != nil {
		t.Fatalf("NewQuery error = %v", err)
	}
	if q.Text() != "filename:CLAUDE.md" {
		t.Fatalf("Text() = %q", q.Text())
	}
	if q.Sort() != "indexed" || q.Order() != "desc" {
		t.Fatalf("sort/order = %s/%s, want indexed/desc", q.Sort(), q.Order())
	}
}

func TestPageRequestValidate(t *testing.T) {
	q, _ := NewQuery("foo")
	cases := []struct {
		name    string
		req     PageRequest
		wantErr bool
	}{
		{"ok", PageRequest{Query: q, Page: 1, PerPage: 100}, false},
		{"zero page", PageRequest{Query: q, Page: 0, PerPage: 100}, true},
		{"too large", PageRequest{Query: q, Page: 1, PerPage: 101}, true},
		{"zero size", PageRequest{Query: q, Page: 1, PerPage: 0}, true},
		{"no query", PageRequest{Page: 1, PerPage: 10}, true},
	}
	for _, tc := range cases {
		err := tc.req.Validate()
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s: Validate() error = %v, wantErr %v", tc.name, err, tc.wantErr)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"DEBUG":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLogLevel(in); got != want {
			t.Fatalf("ParseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
