package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Quota is the rate limit state reported by one API response.
type Quota struct {
	Limit     int
	Remaining int
	Used      int
	Reset     time.Time
	// RetryAfter is the secondary rate limit hint, zero when absent.
	RetryAfter time.Duration
	// Known is false when the response carried no rate limit headers.
	Known bool
}

// Exhausted reports whether the window has no requests left.
func (q Quota) Exhausted() bool {
	return q.Known && q.Remaining == 0
}

// ParseQuota reads the x-ratelimit-* and retry-after headers.
// Malformed values are ignored rather than treated as errors.
func ParseQuota(h http.Header) Quota {
	var q Quota
	if h == nil {
		return q
	}
	if v, ok := headerInt(h, "X-Ratelimit-Limit"); ok {
		q.Limit = v
	}
	if v, ok := headerInt(h, "X-Ratelimit-Used"); ok {
		q.Used = v
	}
	if v, ok := headerInt(h, "X-Ratelimit-Remaining"); ok {
		q.Remaining = v
		q.Known = true
	}
	if v, ok := headerInt(h, "X-Ratelimit-Reset"); ok && v > 0 {
		q.Reset = time.Unix(int64(v), 0).UTC()
	}
	if v, ok := headerInt(h, "Retry-After"); ok && v > 0 {
		q.RetryAfter = time.Duration(v) * time.Second
	}
	return q
}

func headerInt(h http.Header, key string) (int, bool) {
	raw := strings.TrimSpace(h.Get(key))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}
