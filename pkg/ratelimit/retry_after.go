package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ParseRetryAfter extracts the server's retry hint from response headers.
//
// Retry-After-Ms (milliseconds) wins over Retry-After, which may be either
// delta-seconds or an HTTP-date. The second return value is false when no
// usable hint is present. Dates in the past yield a zero hint.
func ParseRetryAfter(headers http.Header, now time.Time) (time.Duration, bool) {
	if headers == nil {
		return 0, false
	}

	if ms := strings.TrimSpace(headers.Get(HeaderRetryAfterMs)); ms != "" {
		if v, err := strconv.ParseFloat(ms, 64); err == nil && v >= 0 {
			return time.Duration(v * float64(time.Millisecond)), true
		}
	}

	raw := strings.TrimSpace(headers.Get(HeaderRetryAfter))
	if raw == "" {
		return 0, false
	}

	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs * float64(time.Second)), true
	}

	if at, err := http.ParseTime(raw); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}

	return 0, false
}

// parseReset reads a reset header, which servers send either as a Go-style
// duration ("6m0s", "1.5s") or as plain seconds.
func parseReset(raw string) (time.Duration, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d, true
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), true
	}
	return 0, false
}
