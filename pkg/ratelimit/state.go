// Package ratelimit interprets the rate-limit signals a completion API sends
// back: the Retry-After hint on throttled responses and the remaining-quota
// headers on every response.
//
// Nothing here decides which credential to use next. Credential exclusion is
// scoped to a single call sequence (see package credential); this package only
// parses hints for the retry delay and records quota for observability.
package ratelimit

import (
	"time"
)

// Headers inspected for remaining quota, in order of preference.
const (
	HeaderRemainingRequests = "X-RateLimit-Remaining-Requests"
	HeaderRemaining         = "X-RateLimit-Remaining"
	HeaderResetRequests     = "X-RateLimit-Reset-Requests"
	HeaderReset             = "X-RateLimit-Reset"
	HeaderRetryAfter        = "Retry-After"
	HeaderRetryAfterMs      = "Retry-After-Ms"
)

// Thresholds for quota logging.
const (
	// RemainingThresholdLow logs a warning when remaining requests drop below it.
	RemainingThresholdLow = 5

	// RemainingThresholdHealthy marks a credential as healthy at or above it.
	RemainingThresholdHealthy = 20
)

// QuotaState is the last quota a credential reported.
type QuotaState struct {
	// Remaining is the number of requests left in the current window.
	Remaining int

	// ResetAt is when the window resets. Zero when the server did not say.
	ResetAt time.Time

	// LastUpdate is when the headers were observed.
	LastUpdate time.Time

	// IsHealthy is true when Remaining >= RemainingThresholdHealthy.
	IsHealthy bool
}

// IsLow returns true when the credential is close to exhausting its window.
func (s *QuotaState) IsLow() bool {
	return s.Remaining < RemainingThresholdLow
}

// TimeUntilReset returns the duration until the window resets, or 0.
func (s *QuotaState) TimeUntilReset() time.Duration {
	if s.ResetAt.IsZero() {
		return 0
	}
	d := time.Until(s.ResetAt)
	if d < 0 {
		return 0
	}
	return d
}

// UpdateHealth updates IsHealthy from Remaining.
func (s *QuotaState) UpdateHealth() {
	s.IsHealthy = s.Remaining >= RemainingThresholdHealthy
}
