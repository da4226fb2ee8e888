package impl

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/bakkerme/ghsearch-feed/internal/core"
	"github.com/bakkerme/ghsearch-feed/internal/sources/codesearch"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newResponse(status int, body string, headers map[string]string) *http.Response {
	resp := &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
	for k, v := range headers {
		resp.Header.Set(k, v)
	}
	return resp
}

func pageRequest(t *testing.T, text string, page int) core.PageRequest {
	t.Helper()
	q, err := core.NewQuery(text)
	if err != nil {
		t.Fatalf("NewQuery() error = %v", err)
	}
	return core.PageRequest{Query: q, Page: page, PerPage: 100}
}

const samplePage = `{
  "total_count": 2,
  "incomplete_results": false,
  "items": [
    {
      "name": "CLAUDE.md",
      "path": "docs/CLAUDE.md",
      "sha": "abc123",
      "url": "https://api.github.com/repositories/1/contents/docs/CLAUDE.md?ref=abc123",
      "html_url": "https://github.com/octo/one/blob/abc123/docs/CLAUDE.md",
      "last_modified_at": "2025-03-04T05:06:07Z",
      "repository": {"full_name": "octo/one"}
    },
    {
      "name": "CLAUDE.md",
      "path": "CLAUDE.md",
      "sha": "def456",
      "url": "https://api.github.com/repositories/2/contents/CLAUDE.md?ref=def456",
      "html_url": "https://github.com/octo/two/blob/def456/CLAUDE.md",
      "repository": {"full_name": "octo/two"}
    }
  ]
}`

func TestSearchPageBuildsRequestAndDecodes(t *testing.T) {
	var got *http.Request
	client := NewClient(Options{
		HTTPClient: &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			got = req
			return newResponse(http.StatusOK, samplePage, map[string]string{
				"X-RateLimit-Limit":     "10",
				"X-RateLimit-Remaining": "9",
				"X-RateLimit-Used":      "1",
				"X-RateLimit-Reset":     "1700000060",
			}), nil
		})},
		BaseURL: "https://api.example.test/",
		Token:   "secret",
	})

	page, err := client.SearchPage(context.Background(), pageRequest(t, "filename:CLAUDE.md path:docs/", 2))
	if err != nil {
		t.Fatalf("SearchPage() error = %v", err)
	}

	wantURL := "https://api.example.test/search/code?q=filename:CLAUDE.md+path:docs/&sort=indexed&order=desc&page=2&per_page=100"
	if got.URL.String() != wantURL {
		t.Fatalf("url = %q, want %q", got.URL.String(), wantURL)
	}
	if h := got.Header.Get("Authorization"); h != "Bearer secret" {
		t.Fatalf("Authorization = %q", h)
	}
	if h := got.Header.Get("Accept"); h != "application/vnd.github+json" {
		t.Fatalf("Accept = %q", h)
	}
	if h := got.Header.Get("X-GitHub-Api-Version"); h != "2022-11-28" {
		t.Fatalf("X-GitHub-Api-Version = %q", h)
	}
	if got.Header.Get("User-Agent") == "" {
		t.Fatalf("expected a User-Agent header")
	}

	if page.TotalCount != 2 || len(page.Results) != 2 {
		t.Fatalf("unexpected page: %+v", page)
	}
	first := page.Results[0]
	if first.Repository != "octo/one" || first.Path != "docs/CLAUDE.md" || first.SHA != "abc123" {
		t.Fatalf("unexpected first result: %+v", first)
	}
	if !first.ModifiedAt.Equal(time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)) {
		t.Fatalf("ModifiedAt = %s", first.ModifiedAt)
	}
	if !page.Results[1].ModifiedAt.IsZero() {
		t.Fatalf("expected zero ModifiedAt when absent")
	}
	if !page.Quota.Known || page.Quota.Remaining != 9 || page.Quota.Used != 1 {
		t.Fatalf("unexpected quota: %+v", page.Quota)
	}
}

func TestSearchPageOmitsAuthorizationWithoutToken(t *testing.T) {
	client := NewClient(Options{
		HTTPClient: &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			if h := req.Header.Get("Authorization"); h != "" {
				t.Fatalf("unexpected Authorization header %q", h)
			}
			return newResponse(http.StatusOK, `{"total_count":0,"items":[]}`, nil), nil
		})},
	})
	page, err := client.SearchPage(context.Background(), pageRequest(t, "filename:CLAUDE.md", 1))
	if err != nil {
		t.Fatalf("SearchPage() error = %v", err)
	}
	if len(page.Results) != 0 {
		t.Fatalf("expected empty page, got %d", len(page.Results))
	}
}

func TestSearchPageClassifiesErrors(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		headers map[string]string
		want    error
	}{
		{name: "unprocessable", status: http.StatusUnprocessableEntity, body: `{"message":"Validation Failed"}`, want: codesearch.ErrInvalidQuery},
		{name: "server error", status: http.StatusBadGateway, body: "bad gateway", want: codesearch.ErrTransient},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"message":"Bad credentials"}`, want: codesearch.ErrClient},
		{name: "forbidden without quota signal", status: http.StatusForbidden, body: `{"message":"Forbidden"}`, headers: map[string]string{"X-RateLimit-Remaining": "4"}, want: codesearch.ErrClient},
		{name: "forbidden with exhausted quota", status: http.StatusForbidden, body: `{"message":"API rate limit exceeded"}`, headers: map[string]string{"X-RateLimit-Remaining": "0", "X-RateLimit-Reset": "1700000060"}, want: codesearch.ErrQuotaExceeded},
		{name: "too many requests", status: http.StatusTooManyRequests, body: `{}`, headers: map[string]string{"Retry-After": "30"}, want: codesearch.ErrQuotaExceeded},
		{name: "secondary limit", status: http.StatusForbidden, body: `{"message":"You have exceeded a secondary rate limit."}`, want: codesearch.ErrQuotaExceeded},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := NewClient(Options{
				HTTPClient: &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
					return newResponse(tc.status, tc.body, tc.headers), nil
				})},
			})
			_, err := client.SearchPage(context.Background(), pageRequest(t, "filename:CLAUDE.md", 1))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			var apiErr *codesearch.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *APIError, got %T", err)
			}
			if apiErr.StatusCode != tc.status {
				t.Fatalf("StatusCode = %d, want %d", apiErr.StatusCode, tc.status)
			}
		})
	}
}

func TestSearchPageSecondaryLimitDefaultsRetryAfter(t *testing.T) {
	client := NewClient(Options{
		HTTPClient: &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			return newResponse(http.StatusForbidden, `{"message":"You have exceeded a secondary rate limit."}`, nil), nil
		})},
	})
	_, err := client.SearchPage(context.Background(), pageRequest(t, "filename:CLAUDE.md", 1))
	var apiErr *codesearch.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Quota.RetryAfter != codesearch.SecondaryLimitWait {
		t.Fatalf("RetryAfter = %s, want %s", apiErr.Quota.RetryAfter, codesearch.SecondaryLimitWait)
	}
}

func TestSearchPageTransportErrorIsTransient(t *testing.T) {
	client := NewClient(Options{
		HTTPClient: &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			return nil, errors.New("connection reset")
		})},
	})
	_, err := client.SearchPage(context.Background(), pageRequest(t, "filename:CLAUDE.md", 1))
	if !errors.Is(err, codesearch.ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
	if codesearch.StatusOf(err) != 0 {
		t.Fatalf("expected zero status for transport error")
	}
}

func TestSearchPageRejectsUndecodableBody(t *testing.T) {
	client := NewClient(Options{
		HTTPClient: &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			return newResponse(http.StatusOK, `<html>not json</html>`, nil), nil
		})},
	})
	_, err := client.SearchPage(context.Background(), pageRequest(t, "filename:CLAUDE.md", 1))
	if err == nil {
		t.Fatalf("expected decode error")
	}
	var apiErr *codesearch.APIError
	if errors.As(err, &apiErr) {
		t.Fatalf("decode failure must not be classified as an API error: %v", err)
	}
}

func TestSearchPageRejectsInvalidRequest(t *testing.T) {
	client := NewClient(Options{
		HTTPClient: &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			t.Fatalf("no request expected")
			return nil, nil
		})},
	})
	req := pageRequest(t, "filename:CLAUDE.md", 0)
	if _, err := client.SearchPage(context.Background(), req); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestEscapeQuery(t *testing.T) {
	cases := map[string]string{
		"filename:CLAUDE.md":       "filename:CLAUDE.md",
		"path:src/ lang:go":        "path:src/+lang:go",
		`"exact phrase" repo:a/b`:  "%22exact+phrase%22+repo:a/b",
		"extension:yml&size:>1000": "extension:yml%26size:%3E1000",
	}
	for in, want := range cases {
		if got := EscapeQuery(in); got != want {
			t.Fatalf("EscapeQuery(%q) = %q, want %q", in, got, want)
		}
	}
}
