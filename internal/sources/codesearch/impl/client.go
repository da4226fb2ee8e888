package impl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/bakkerme/ghsearch-feed/internal/core"
	"github.com/bakkerme/ghsearch-feed/internal/ratelimit"
	"github.com/bakkerme/ghsearch-feed/internal/sources/codesearch"
)

const (
	DefaultBaseURL = "https://api.github.com"
	apiVersion     = "2022-11-28"
	acceptHeader   = "application/vnd.github+json"
)

type Options struct {
	// HTTPClient is reused for every request. Nil builds one with Timeout.
	HTTPClient *http.Client
	Timeout    time.Duration
	BaseURL    string
	Token      string
	UserAgent  string
}

type Client struct {
	client      *http.Client
	baseURL     string
	token       string
	userAgent   string
	maxBodySize int64
}

func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = "ghsearch-feed/0.1"
	}
	return &Client{
		client:      httpClient,
		baseURL:     baseURL,
		token:       strings.TrimSpace(opts.Token),
		userAgent:   userAgent,
		maxBodySize: 10 << 20, // 10 MiB
	}
}

type searchResponse struct {
	TotalCount        int          `json:"total_count"`
	IncompleteResults bool         `json:"incomplete_results"`
	Items             []searchItem `json:"items"`
}

type searchItem struct {
	Name           string     `json:"name"`
	Path           string     `json:"path"`
	SHA            string     `json:"sha"`
	URL            string     `json:"url"`
	HTMLURL        string     `json:"html_url"`
	LastModifiedAt *time.Time `json:"last_modified_at,omitempty"`
	Repository     struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

type errorResponse struct {
	Message string `json:"message"`
}

func (c *Client) SearchPage(ctx context.Context, req core.PageRequest) (*codesearch.Page, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tracer := otel.Tracer("ghsearch-feed/sources/codesearch")
	ctx, span := tracer.Start(ctx, "github.search.code.page")
	span.SetAttributes(
		attribute.String("search.query", req.Query.Text()),
		attribute.Int("search.page", req.Page),
		attribute.Int("search.per_page", req.PerPage),
		attribute.String("run.id", core.RunIDFromContext(ctx)),
	)
	defer span.End()

	page, err := c.do(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if status := codesearch.StatusOf(err); status != 0 {
			span.SetAttributes(attribute.Int("http.status_code", status))
		}
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("http.status_code", http.StatusOK),
		attribute.Int("search.items", len(page.Results)),
		attribute.Int("search.total_count", page.TotalCount),
		attribute.Int("ratelimit.remaining", page.Quota.Remaining),
	)
	return page, nil
}

func (c *Client) do(ctx context.Context, req core.PageRequest) (*codesearch.Page, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.searchURL(req), nil)
	if err != nil {
		return nil, fmt.Errorf("github code search: build request: %w", err)
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	httpReq.Header.Set("Accept", acceptHeader)
	httpReq.Header.Set("X-GitHub-Api-Version", apiVersion)
	httpReq.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &codesearch.APIError{Kind: codesearch.ErrTransient, Err: err}
	}
	defer resp.Body.Close()

	quota := ratelimit.ParseQuota(resp.Header)
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize+1))
	if err != nil {
		return nil, &codesearch.APIError{StatusCode: resp.StatusCode, Quota: quota, Kind: codesearch.ErrTransient, Err: err}
	}
	if int64(len(body)) > c.maxBodySize {
		return nil, fmt.Errorf("github code search: response too large")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := errorMessage(body)
		if codesearch.IsSecondaryLimit(message) && quota.RetryAfter == 0 && !quota.Exhausted() {
			quota.RetryAfter = codesearch.SecondaryLimitWait
		}
		return nil, &codesearch.APIError{
			StatusCode: resp.StatusCode,
			Message:    message,
			Quota:      quota,
			Kind:       codesearch.Classify(resp.StatusCode, quota, message),
		}
	}

	var decoded searchResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("github code search: decode response: %w", err)
	}

	page := &codesearch.Page{
		TotalCount: decoded.TotalCount,
		Incomplete: decoded.IncompleteResults,
		Quota:      quota,
		Results:    make([]core.SearchResult, 0, len(decoded.Items)),
	}
	for _, item := range decoded.Items {
		result := core.SearchResult{
			Repository: item.Repository.FullName,
			Name:       item.Name,
			Path:       item.Path,
			SHA:        item.SHA,
			APIURL:     item.URL,
			HTMLURL:    item.HTMLURL,
		}
		if item.LastModifiedAt != nil {
			result.ModifiedAt = item.LastModifiedAt.UTC()
		}
		page.Results = append(page.Results, result)
	}
	return page, nil
}

func (c *Client) searchURL(req core.PageRequest) string {
	var b strings.Builder
	b.WriteString(c.baseURL)
	b.WriteString("/search/code?q=")
	b.WriteString(EscapeQuery(req.Query.Text()))
	b.WriteString("&sort=")
	b.WriteString(req.Query.Sort())
	b.WriteString("&order=")
	b.WriteString(req.Query.Order())
	b.WriteString("&page=")
	b.WriteString(strconv.Itoa(req.Page))
	b.WriteString("&per_page=")
	b.WriteString(strconv.Itoa(req.PerPage))
	return b.String()
}

// EscapeQuery query-escapes q but keeps ':' and '/' literal, which the
// search qualifiers rely on.
func EscapeQuery(q string) string {
	escaped := url.QueryEscape(q)
	escaped = strings.ReplaceAll(escaped, "%3A", ":")
	escaped = strings.ReplaceAll(escaped, "%2F", "/")
	return escaped
}

func errorMessage(body []byte) string {
	var decoded errorResponse
	if err := json.Unmarshal(body, &decoded); err == nil && strings.TrimSpace(decoded.Message) != "" {
		return strings.TrimSpace(decoded.Message)
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
