package codesearch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bakkerme/ghsearch-feed/internal/core"
	"github.com/bakkerme/ghsearch-feed/internal/ratelimit"
)

var (
	// ErrTransient covers transport failures and 5xx responses.
	ErrTransient = errors.New("transient search failure")
	// ErrQuotaExceeded is a 403/429 carrying a rate limit signal.
	ErrQuotaExceeded = errors.New("search quota exceeded")
	// ErrInvalidQuery is a 422, returned both for malformed queries and for
	// pages beyond the result window.
	ErrInvalidQuery = errors.New("search query rejected")
	// ErrClient is any other 4xx.
	ErrClient = errors.New("search request failed")
)

// SecondaryLimitWait is used when a secondary rate limit response omits retry-after.
const SecondaryLimitWait = time.Minute

// Page is one decoded page of code search results.
type Page struct {
	Results    []core.SearchResult
	TotalCount int
	Incomplete bool
	Quota      ratelimit.Quota
}

// Client issues a single code search page request.
type Client interface {
	SearchPage(ctx context.Context, req core.PageRequest) (*Page, error)
}

// APIError is returned for every failed request. StatusCode is zero for
// transport failures.
type APIError struct {
	StatusCode int
	Message    string
	Quota      ratelimit.Quota
	Kind       error
	Err        error
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString("github code search: ")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, "status %d", e.StatusCode)
	} else {
		b.WriteString("transport error")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *APIError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Classify maps an HTTP status and its quota headers onto the error taxonomy.
// It returns nil for 2xx.
func Classify(status int, q ratelimit.Quota, message string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return ErrQuotaExceeded
	case status == http.StatusForbidden:
		if q.RetryAfter > 0 || q.Exhausted() || IsSecondaryLimit(message) {
			return ErrQuotaExceeded
		}
		return ErrClient
	case status == http.StatusUnprocessableEntity:
		return ErrInvalidQuery
	case status >= 500:
		return ErrTransient
	default:
		return ErrClient
	}
}

// IsSecondaryLimit reports whether an error message describes a secondary
// (abuse) rate limit.
func IsSecondaryLimit(message string) bool {
	m := strings.ToLower(message)
	return strings.Contains(m, "secondary rate limit") || strings.Contains(m, "abuse detection")
}

// StatusOf extracts the HTTP status from err, or zero.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
