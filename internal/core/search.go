package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	// SortIndexed orders results by the time the search index last saw the file.
	SortIndexed = "indexed"
	// OrderDesc returns the most recently indexed files first.
	OrderDesc = "desc"

	// MaxPerPage is the largest page size the code search endpoint accepts.
	MaxPerPage = 100
	// MaxSearchResults is the hard cap on results the endpoint will ever return for one query.
	MaxSearchResults = 1000
)

// Query is the immutable description of a single code search.
// Sort and order are fixed; use NewQuery to build one.
type Query struct {
	text string
}

// NewQuery validates and returns a Query for the given search string.
func NewQuery(text string) (Query, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Query{}, fmt.Errorf("search query is required")
	}
	return Query{text: text}, nil
}

func (q Query) Text() string  { return q.text }
func (q Query) Sort() string  { return SortIndexed }
func (q Query) Order() string { return OrderDesc }
func (q Query) IsZero() bool  { return q.text == "" }

// PageRequest is one page of a Query.
type PageRequest struct {
	Query   Query
	Page    int
	PerPage int
}

// Validate checks the page bounds the API enforces.
func (r PageRequest) Validate() error {
	if r.Query.IsZero() {
		return fmt.Errorf("page request: query is required")
	}
	if r.Page < 1 {
		return fmt.Errorf("page request: page must be >= 1, got %d", r.Page)
	}
	if r.PerPage < 1 || r.PerPage > MaxPerPage {
		return fmt.Errorf("page request: per_page must be between 1 and %d, got %d", MaxPerPage, r.PerPage)
	}
	return nil
}

// SearchResult is one matched file.
type SearchResult struct {
	Repository string    `json:"repository" yaml:"repository"`
	Name       string    `json:"name" yaml:"name"`
	Path       string    `json:"path" yaml:"path"`
	SHA        string    `json:"sha,omitempty" yaml:"sha,omitempty"`
	APIURL     string    `json:"api_url,omitempty" yaml:"api_url,omitempty"`
	HTMLURL    string    `json:"html_url" yaml:"html_url"` // identifying URL
	ModifiedAt time.Time `json:"modified_at,omitempty" yaml:"modified_at,omitempty"`
}

// StopReason records why pagination ended.
type StopReason string

const (
	StopLastPage       StopReason = "last_page"
	StopResultCap      StopReason = "result_cap"
	StopPageCap        StopReason = "page_cap"
	StopResultWindow   StopReason = "result_window"
	StopQuotaBudget    StopReason = "quota_budget"
	StopUntilURL       StopReason = "until_url"
	StopRestoredResult StopReason = "restored"
)

// ResultSet is the ordered, deduplicated outcome of paginating one Query.
type ResultSet struct {
	Query      string         `json:"query" yaml:"query"`
	Results    []SearchResult `json:"results" yaml:"results"`
	TotalCount int            `json:"total_count" yaml:"total_count"`
	Pages      int            `json:"pages" yaml:"pages"`
	Incomplete bool           `json:"incomplete,omitempty" yaml:"incomplete,omitempty"`
	Truncated  bool           `json:"truncated,omitempty" yaml:"truncated,omitempty"`
	StopReason StopReason     `json:"stop_reason" yaml:"stop_reason"`
	// Degraded is set when pagination was cut short by a recoverable error.
	// The results gathered up to that point are still valid.
	Degraded error `json:"-" yaml:"-"`
}

// Len returns the number of results, tolerating a nil set.
func (rs *ResultSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.Results)
}

// FeedEntry is one Atom entry.
type FeedEntry struct {
	ID         string
	Title      string
	Link       string
	Updated    time.Time
	Summary    string
	Content    string // HTML
	Categories []FeedCategory
}

// FeedCategory is an Atom category with a term and a human label.
type FeedCategory struct {
	Term  string
	Label string
}

// FeedDocument is the complete Atom feed for one run.
type FeedDocument struct {
	ID      string
	Title   string
	Link    string
	Updated time.Time
	Entries []FeedEntry
}
