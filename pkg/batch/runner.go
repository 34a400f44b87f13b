package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/chapter-digest/pkg/checkpoint"
	"github.com/Sternrassler/chapter-digest/pkg/partition"
	"github.com/Sternrassler/chapter-digest/pkg/source"
	"github.com/Sternrassler/chapter-digest/pkg/summarize"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

var (
	digestDocumentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "digest_documents_total",
		Help: "Documents reaching a terminal state by state",
	}, []string{"state"})

	digestDocumentsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "digest_documents_in_flight",
		Help: "Documents currently being processed",
	})

	digestBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "digest_batch_duration_seconds",
		Help:    "Duration of a batch run in seconds",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	})
)

// ErrNoDocuments is returned by Run for an empty document list.
var ErrNoDocuments = errors.New("no documents to process")

// Processor turns one document into a summary. *summarize.Processor
// implements it.
type Processor interface {
	Process(ctx context.Context, doc source.Document) summarize.Summary
}

// Config holds the run configuration.
type Config struct {
	// Workers is the number of partition buckets, one goroutine each.
	Workers int

	// StartIndex is the first document processed; lower indices are left
	// to their existing artifacts.
	StartIndex int

	// Mode decides whether existing artifacts are kept or replaced.
	Mode checkpoint.Mode

	// ClearOnStart empties the store before any work.
	ClearOnStart bool
}

// DefaultConfig returns the default run configuration.
func DefaultConfig() Config {
	return Config{
		Workers:    4,
		StartIndex: 1,
		Mode:       checkpoint.ModeSkip,
	}
}

// Outcome is what happened to one document.
type Outcome struct {
	Index    int
	Name     string
	State    State
	Model    string
	WorkerID int
	Attempts int
	Calls    int
	Err      error
}

// Report summarizes a run. Outcomes holds one entry per document in index
// order.
type Report struct {
	RunID    string
	Total    int
	Outcomes []Outcome
	Duration time.Duration
}

// Count returns the number of documents in state s.
func (r Report) Count(s State) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.State == s {
			n++
		}
	}
	return n
}

// Calls returns the number of remote calls made during the run.
func (r Report) Calls() int {
	n := 0
	for _, o := range r.Outcomes {
		n += o.Calls
	}
	return n
}

// Runner executes batches.
type Runner struct {
	processor Processor
	store     checkpoint.Store
	config    Config
	logger    zerolog.Logger
}

// NewRunner creates a batch runner.
func NewRunner(processor Processor, store checkpoint.Store, cfg Config, logger zerolog.Logger) (*Runner, error) {
	if processor == nil {
		return nil, errors.New("processor is required")
	}
	if store == nil {
		return nil, errors.New("checkpoint store is required")
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("%w (got %d)", partition.ErrInvalidWorkers, cfg.Workers)
	}
	if cfg.StartIndex == 0 {
		cfg.StartIndex = 1
	}
	if cfg.Mode == "" {
		cfg.Mode = checkpoint.ModeSkip
	}
	if _, err := checkpoint.ParseMode(string(cfg.Mode)); err != nil {
		return nil, err
	}

	return &Runner{
		processor: processor,
		store:     store,
		config:    cfg,
		logger:    logger,
	}, nil
}

// Run processes docs, which must be indexed 1..len(docs) in order.
// Configuration errors are returned before any work starts; document
// failures are reported in the Report, never as an error. Cancellation of
// ctx stops the workers after their current document and is returned.
func (r *Runner) Run(ctx context.Context, docs []source.Document) (Report, error) {
	start := time.Now()
	runID := uuid.NewString()
	logger := r.logger.With().Str("run_id", runID).Logger()

	report := Report{RunID: runID, Total: len(docs)}
	if len(docs) == 0 {
		return report, ErrNoDocuments
	}
	for i, d := range docs {
		if d.Index != i+1 {
			return report, fmt.Errorf("document %q has index %d at position %d", d.Name, d.Index, i+1)
		}
	}

	buckets, err := partition.Partition(len(docs), r.config.Workers, r.config.StartIndex)
	if err != nil {
		return report, err
	}

	if r.config.ClearOnStart {
		if err := r.store.Clear(ctx); err != nil {
			return report, fmt.Errorf("clear checkpoints: %w", err)
		}
		logger.Info().Msg("Checkpoint store cleared")
	}

	report.Outcomes = make([]Outcome, len(docs))
	for i, d := range docs {
		report.Outcomes[i] = Outcome{Index: d.Index, Name: d.Name, State: Pending}
	}

	logger.Info().
		Int("documents", len(docs)).
		Int("workers", r.config.Workers).
		Int("start_index", r.config.StartIndex).
		Str("mode", string(r.config.Mode)).
		Msg("Starting batch")

	var wg conc.WaitGroup
	for workerID, bucket := range buckets {
		if len(bucket) == 0 {
			continue
		}
		wg.Go(func() {
			r.worker(ctx, logger, workerID, bucket, docs, report.Outcomes)
		})
	}
	wg.Wait()

	report.Duration = time.Since(start)
	digestBatchDuration.Observe(report.Duration.Seconds())

	logger.Info().
		Int("succeeded", report.Count(Succeeded)).
		Int("skipped", report.Count(Skipped)).
		Int("failed", report.Count(FailedPermanently)).
		Int("pending", report.Count(Pending)).
		Int("calls", report.Calls()).
		Dur("duration", report.Duration).
		Msg("Batch complete")

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// worker processes one bucket in ascending order. Each outcome slot is
// written by exactly one worker.
func (r *Runner) worker(ctx context.Context, logger zerolog.Logger, workerID int, bucket []int, docs []source.Document, outcomes []Outcome) {
	logger = logger.With().Int("worker_id", workerID).Logger()
	processed := 0

	for _, index := range bucket {
		if ctx.Err() != nil {
			logger.Debug().
				Int("documents_processed", processed).
				Msg("Worker stopping (context cancelled)")
			return
		}

		out := &outcomes[index-1]
		out.WorkerID = workerID
		r.processOne(ctx, logger, docs[index-1], len(docs), out)
		digestDocumentsTotal.WithLabelValues(out.State.String()).Inc()
		processed++
	}

	logger.Debug().
		Int("documents_processed", processed).
		Msg("Worker completed")
}

func (r *Runner) processOne(ctx context.Context, logger zerolog.Logger, doc source.Document, total int, out *Outcome) {
	logger = logger.With().Int("index", doc.Index).Str("document", doc.Name).Logger()

	if r.config.Mode == checkpoint.ModeSkip {
		exists, err := r.store.Exists(ctx, doc.Index)
		if err != nil {
			logger.Warn().Err(err).Msg("Checkpoint lookup failed, processing document")
		}
		if exists {
			out.State = Skipped
			logger.Info().Msg("Checkpoint exists, skipping document")
			return
		}
	}

	out.State = InFlight
	digestDocumentsInFlight.Inc()
	logger.Info().Msg("Processing document")

	summary := r.processor.Process(ctx, doc)
	digestDocumentsInFlight.Dec()

	out.Model = summary.Model
	out.Attempts = summary.Attempts
	out.Calls = summary.Calls
	out.Err = summary.Err

	if summary.Failed && ctx.Err() != nil {
		// Interrupted documents get no artifact; a resumed run picks them up.
		out.State = Pending
		logger.Warn().Err(summary.Err).Msg("Document interrupted, no checkpoint written")
		return
	}

	artifact := checkpoint.Artifact{
		Index:   doc.Index,
		Total:   total,
		Content: summary.Text,
		Model:   summary.Model,
		Failed:  summary.Failed,
	}
	if err := r.store.Write(ctx, artifact); err != nil {
		out.State = FailedPermanently
		out.Err = fmt.Errorf("write checkpoint: %w", err)
		logger.Error().Err(err).Msg("Failed to write checkpoint")
		return
	}

	if summary.Failed {
		out.State = FailedPermanently
		return
	}
	out.State = Succeeded
	logger.Info().
		Str("model", summary.Model).
		Int("attempts", summary.Attempts).
		Int("calls", summary.Calls).
		Msg("Checkpoint written")
}
