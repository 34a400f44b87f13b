// Package summarize wraps the call engine with the per-document retry loop
// and the summary quality gate.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Sternrassler/chapter-digest/pkg/checkpoint"
	"github.com/Sternrassler/chapter-digest/pkg/client"
	"github.com/Sternrassler/chapter-digest/pkg/prompt"
	"github.com/Sternrassler/chapter-digest/pkg/source"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	digestSummaryRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "digest_summary_rejected_total",
		Help: "Summaries rejected by the quality gate by model",
	}, []string{"model"})

	digestDocumentAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "digest_document_attempts",
		Help:    "Outer attempts needed per document",
		Buckets: []float64{1, 2, 3, 4, 5},
	})
)

// ErrSummaryTooShort is the quality gate failure.
var ErrSummaryTooShort = errors.New("summary too short")

// Executor runs one call sequence. *client.Engine implements it.
type Executor interface {
	Execute(ctx context.Context, req client.Request) (client.Result, error)
}

// Config holds the document retry settings.
type Config struct {
	// MaxAttempts is the outer ceiling per document.
	MaxAttempts int

	// RetryDelay is the wait after the first failed attempt; it doubles per
	// attempt.
	RetryDelay time.Duration

	// MaxDelay caps the doubling delay. Zero disables the cap.
	MaxDelay time.Duration
}

// DefaultConfig returns the default document retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 2,
		RetryDelay:  10 * time.Second,
		MaxDelay:    5 * time.Minute,
	}
}

// Summary is the final outcome for one document. A failed summary carries
// the failure-marker text, never an empty one.
type Summary struct {
	Index int
	Name  string
	Text  string
	Model string

	Failed bool

	// Attempts is the number of outer attempts; Calls the number of HTTP
	// attempts across them.
	Attempts int
	Calls    int

	Err error
}

// Processor turns a document into a Summary. It keeps no state between
// calls and is safe for concurrent use.
type Processor struct {
	engine  Executor
	builder *prompt.Builder
	config  Config
	logger  zerolog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewProcessor creates a document processor.
func NewProcessor(engine Executor, builder *prompt.Builder, cfg Config, logger zerolog.Logger) (*Processor, error) {
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if builder == nil {
		return nil, errors.New("prompt builder is required")
	}
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("max attempts must be >= 1 (got %d)", cfg.MaxAttempts)
	}
	if cfg.RetryDelay < 0 {
		return nil, fmt.Errorf("retry delay must be >= 0 (got %s)", cfg.RetryDelay)
	}
	if cfg.MaxDelay < 0 {
		return nil, fmt.Errorf("max delay must be >= 0 (got %s)", cfg.MaxDelay)
	}

	return &Processor{
		engine:  engine,
		builder: builder,
		config:  cfg,
		logger:  logger,
		sleep:   sleepContext,
	}, nil
}

// Backoff returns the wait after the attempt-th failure:
// RetryDelay * 2^(attempt-1), capped at MaxDelay. Without a cap the delay
// saturates at the largest Duration instead of overflowing.
func (c Config) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := c.RetryDelay
	for i := 1; i < attempt; i++ {
		if c.MaxDelay > 0 && d >= c.MaxDelay {
			return c.MaxDelay
		}
		if d > math.MaxInt64/2 {
			return time.Duration(math.MaxInt64)
		}
		d *= 2
	}
	if c.MaxDelay > 0 && d > c.MaxDelay {
		return c.MaxDelay
	}
	return d
}

// Process summarizes doc. Every failure, including a short summary, is
// retried up to the outer ceiling; after that the summary is marked failed.
// Cancellation of ctx stops early with a failed summary.
func (p *Processor) Process(ctx context.Context, doc source.Document) Summary {
	logger := p.logger.With().
		Int("index", doc.Index).
		Str("document", doc.Name).
		Logger()

	summary := Summary{Index: doc.Index, Name: doc.Name}
	minChars := p.builder.MinChars()
	var lastErr error

	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		summary.Attempts = attempt
		model := p.builder.ModelFor(doc.Index, attempt)
		summary.Model = model

		res, err := p.engine.Execute(ctx, p.builder.Build(doc.Content, model))
		summary.Calls += len(res.Attempts)

		if err == nil {
			text := strings.TrimSpace(res.Text)
			n := utf8.RuneCountInString(text)
			if n >= minChars {
				summary.Text = text
				digestDocumentAttempts.Observe(float64(attempt))
				logger.Info().
					Str("model", model).
					Int("attempt", attempt).
					Int("chars", n).
					Msg("Document summarized")
				return summary
			}
			digestSummaryRejectedTotal.WithLabelValues(model).Inc()
			err = fmt.Errorf("%w: %d characters, want at least %d", ErrSummaryTooShort, n, minChars)
		}
		lastErr = err

		if ctx.Err() != nil || errors.Is(err, client.ErrContextCancelled) {
			break
		}
		if attempt >= p.config.MaxAttempts {
			break
		}

		delay := p.config.Backoff(attempt)
		logger.Warn().
			Err(err).
			Str("model", model).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Document attempt failed, retrying")

		if err := p.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	if ctx.Err() != nil {
		lastErr = ctx.Err()
	}

	digestDocumentAttempts.Observe(float64(summary.Attempts))
	summary.Failed = true
	summary.Err = lastErr
	summary.Text = checkpoint.FailureMarker + " " + lastErr.Error()

	logger.Error().
		Err(lastErr).
		Int("attempts", summary.Attempts).
		Msg("Document failed permanently")

	return summary
}

// SetSleepFunc replaces the backoff sleep (for testing).
func (p *Processor) SetSleepFunc(fn func(ctx context.Context, d time.Duration) error) {
	p.sleep = fn
}

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
