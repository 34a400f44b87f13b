package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Sternrassler/chapter-digest/pkg/credential"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	digestRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "digest_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	digestRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "digest_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 3, 6, 12, 30, 60, 120},
	}, []string{"error_class"})

	digestRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "digest_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the configuration for a call sequence.
type RetryConfig struct {
	// MaxAttempts is the attempt ceiling, including the first request.
	MaxAttempts int

	// BaseDelay is the delay before the second attempt; it doubles per attempt.
	BaseDelay time.Duration

	// MaxBackoff caps the exponential delay. A server Retry-After hint is
	// honored even when it exceeds the cap. Zero disables the cap.
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   3 * time.Second,
		MaxBackoff:  60 * time.Second,
	}
}

// Backoff returns BaseDelay * 2^(attempt-1), capped at MaxBackoff. Without a
// cap it saturates at the largest Duration instead of overflowing.
func (rc RetryConfig) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := rc.BaseDelay
	for i := 1; i < attempt; i++ {
		if d > math.MaxInt64/2 {
			return time.Duration(math.MaxInt64)
		}
		d *= 2
		if rc.MaxBackoff > 0 && d >= rc.MaxBackoff {
			return rc.MaxBackoff
		}
	}
	if rc.MaxBackoff > 0 && d > rc.MaxBackoff {
		return rc.MaxBackoff
	}
	return d
}

// Delay returns the wait before the next attempt: the exponential backoff,
// or the server hint for rate limit errors when it is longer.
func (rc RetryConfig) Delay(class ErrorClass, retryAfter time.Duration, attempt int) time.Duration {
	d := rc.Backoff(attempt)
	if class == ErrorClassRateLimit && retryAfter > d {
		return retryAfter
	}
	return d
}

// Completer performs a single completion call with a given credential.
// *Client implements it.
type Completer interface {
	Complete(ctx context.Context, cred credential.Credential, req Request) (string, error)
}

// Attempt records one try of a call sequence.
type Attempt struct {
	Number     int
	Credential int
	Class      ErrorClass
	RetryAfter time.Duration
	Delay      time.Duration
	Err        error
}

// Result is the outcome of a call sequence. Attempts is populated on both
// success and failure.
type Result struct {
	Text       string
	Model      string
	Credential int
	Attempts   []Attempt
}

// Engine executes call sequences: pick a credential, call, classify, back
// off, rotate. All mutable retry state lives on the stack of Execute, so one
// Engine serves any number of concurrent workers.
type Engine struct {
	completer Completer
	pool      *credential.Pool
	config    RetryConfig
	logger    zerolog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewEngine creates a call engine.
func NewEngine(completer Completer, pool *credential.Pool, cfg RetryConfig, logger zerolog.Logger) (*Engine, error) {
	if completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	if pool == nil {
		return nil, credential.ErrNoCredentials
	}
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("max attempts must be >= 1 (got %d)", cfg.MaxAttempts)
	}
	if cfg.BaseDelay < 0 {
		return nil, fmt.Errorf("base delay must be >= 0 (got %s)", cfg.BaseDelay)
	}

	return &Engine{
		completer: completer,
		pool:      pool,
		config:    cfg,
		logger:    logger,
		sleep:     sleepContext,
	}, nil
}

// Execute runs one call sequence for req.
//
// Retryable failures (rate_limit, server, network) exclude the credential
// for the rest of this sequence and wait before the next attempt.
// Non-retryable failures return after a single attempt with the original
// error. Exhausting the ceiling returns ErrRetryExhausted wrapping the last
// error; an empty pool returns ErrNoUsableCredential.
func (e *Engine) Execute(ctx context.Context, req Request) (Result, error) {
	result := Result{Model: req.Model}
	excluded := credential.NewSet()
	lastFailed := 0
	var lastErr error
	var lastClass ErrorClass

	for attempt := 1; attempt <= e.config.MaxAttempts; attempt++ {
		cred, ok := e.pool.Pick(excluded, lastFailed)
		if !ok {
			e.logger.Error().
				Str("model", req.Model).
				Int("attempt", attempt).
				Msg("No usable credential left for call sequence")
			if lastErr != nil {
				return result, fmt.Errorf("%w: %w", ErrNoUsableCredential, lastErr)
			}
			return result, ErrNoUsableCredential
		}

		text, err := e.completer.Complete(ctx, cred, req)
		if err == nil {
			result.Text = text
			result.Credential = cred.ID
			result.Attempts = append(result.Attempts, Attempt{Number: attempt, Credential: cred.ID})
			if attempt > 1 {
				e.logger.Info().
					Str("model", req.Model).
					Int("attempt", attempt).
					Int("credential", cred.ID).
					Msg("Request succeeded after retry")
			}
			return result, nil
		}

		if ctx.Err() != nil {
			return result, fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		}

		class := Classify(err)
		rec := Attempt{Number: attempt, Credential: cred.ID, Class: class, Err: err}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			rec.RetryAfter = apiErr.RetryAfter
		}

		if !shouldRetry(class) {
			result.Attempts = append(result.Attempts, rec)
			e.logger.Warn().
				Err(err).
				Str("model", req.Model).
				Int("credential", cred.ID).
				Str("error_class", string(class)).
				Msg("Non-retryable completion error")
			return result, err
		}

		lastErr = err
		lastClass = class
		excluded.Add(cred.ID)
		lastFailed = cred.ID

		if attempt >= e.config.MaxAttempts {
			result.Attempts = append(result.Attempts, rec)
			break
		}

		rec.Delay = e.config.Delay(class, rec.RetryAfter, attempt)
		result.Attempts = append(result.Attempts, rec)

		digestRetriesTotal.WithLabelValues(string(class)).Inc()
		digestRetryBackoffSeconds.WithLabelValues(string(class)).Observe(rec.Delay.Seconds())

		e.logger.Warn().
			Err(err).
			Str("model", req.Model).
			Int("attempt", attempt).
			Int("credential", cred.ID).
			Str("error_class", string(class)).
			Dur("backoff", rec.Delay).
			Msg("Retrying request after backoff")

		if err := e.sleep(ctx, rec.Delay); err != nil {
			e.logger.Warn().
				Str("model", req.Model).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return result, fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}
	}

	digestRetryExhaustedTotal.WithLabelValues(string(lastClass)).Inc()
	e.logger.Warn().
		Str("model", req.Model).
		Str("error_class", string(lastClass)).
		Int("max_attempts", e.config.MaxAttempts).
		Msg("Retry attempts exhausted")

	return result, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, e.config.MaxAttempts, lastErr)
}

// SetSleepFunc replaces the backoff sleep (for testing).
func (e *Engine) SetSleepFunc(fn func(ctx context.Context, d time.Duration) error) {
	e.sleep = fn
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
