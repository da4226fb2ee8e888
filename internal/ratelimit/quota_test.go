package ratelimit

import (
	"net/http"
	"testing"
	"time"
)

func TestParseQuota(t *testing.T) {
	h := http.Header{}
	h.Set("X-RateLimit-Limit", "10")
	h.Set("X-RateLimit-Remaining", "0")
	h.Set("X-RateLimit-Used", "10")
	h.Set("X-RateLimit-Reset", "1700000060")
	h.Set("Retry-After", "12")

	q := ParseQuota(h)
	if !q.Known {
		t.Fatalf("expected quota to be known")
	}
	if q.Limit != 10 || q.Remaining != 0 || q.Used != 10 {
		t.Fatalf("unexpected counters: %+v", q)
	}
	if !q.Reset.Equal(time.Unix(1700000060, 0)) {
		t.Fatalf("Reset = %s", q.Reset)
	}
	if q.RetryAfter != 12*time.Second {
		t.Fatalf("RetryAfter = %s, want 12s", q.RetryAfter)
	}
	if !q.Exhausted() {
		t.Fatalf("expected exhausted quota")
	}
}

func TestParseQuotaIgnoresMalformedHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("X-RateLimit-Remaining", "lots")
	h.Set("X-RateLimit-Reset", "soon")
	h.Set("Retry-After", "Wed, 21 Oct 2015 07:28:00 GMT")

	q := ParseQuota(h)
	if q.Known {
		t.Fatalf("expected unknown quota, got %+v", q)
	}
	if !q.Reset.IsZero() || q.RetryAfter != 0 {
		t.Fatalf("expected zero values, got %+v", q)
	}
	if q.Exhausted() {
		t.Fatalf("unknown quota must not be exhausted")
	}
}

func TestParseQuotaNilHeader(t *testing.T) {
	if q := ParseQuota(nil); q.Known {
		t.Fatalf("expected zero quota, got %+v", q)
	}
}
