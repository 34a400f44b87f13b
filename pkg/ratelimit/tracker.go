package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for quota tracking.
var (
	digestQuotaRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "digest_quota_remaining",
		Help: "Requests remaining in the current rate limit window by credential",
	}, []string{"credential"})

	digestQuotaLowTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "digest_quota_low_total",
		Help: "Number of responses reporting a nearly exhausted rate limit window by credential",
	}, []string{"credential"})
)

// Tracker records the last quota each credential reported. It is safe for
// concurrent use and is purely observational.
type Tracker struct {
	mu     sync.RWMutex
	states map[int]QuotaState
	logger zerolog.Logger
}

// NewTracker creates a new quota tracker.
func NewTracker(logger zerolog.Logger) *Tracker {
	return &Tracker{
		states: make(map[int]QuotaState),
		logger: logger,
	}
}

// UpdateFromHeaders parses quota headers for a credential. Responses without
// quota headers are ignored.
func (t *Tracker) UpdateFromHeaders(credentialID int, headers http.Header) error {
	remainStr := headers.Get(HeaderRemainingRequests)
	if remainStr == "" {
		remainStr = headers.Get(HeaderRemaining)
	}
	if remainStr == "" {
		return nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return fmt.Errorf("parse remaining quota header: %w", err)
	}

	now := time.Now()
	state := QuotaState{
		Remaining:  remain,
		LastUpdate: now,
	}

	resetStr := headers.Get(HeaderResetRequests)
	if resetStr == "" {
		resetStr = headers.Get(HeaderReset)
	}
	if d, ok := parseReset(resetStr); ok {
		state.ResetAt = now.Add(d)
	}
	state.UpdateHealth()

	t.mu.Lock()
	t.states[credentialID] = state
	t.mu.Unlock()

	label := strconv.Itoa(credentialID)
	digestQuotaRemaining.WithLabelValues(label).Set(float64(remain))

	if state.IsLow() {
		digestQuotaLowTotal.WithLabelValues(label).Inc()
		t.logger.Warn().
			Int("credential", credentialID).
			Int("remaining", remain).
			Dur("reset_in", state.TimeUntilReset()).
			Msg("Credential quota nearly exhausted")
	} else {
		t.logger.Debug().
			Int("credential", credentialID).
			Int("remaining", remain).
			Bool("is_healthy", state.IsHealthy).
			Msg("Credential quota updated")
	}

	return nil
}

// State returns the last quota observed for a credential.
func (t *Tracker) State(credentialID int) (QuotaState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.states[credentialID]
	return s, ok
}
