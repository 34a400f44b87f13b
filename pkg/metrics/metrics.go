// Package metrics provides the Prometheus registry and the optional
// /metrics endpoint of chapter-digest.
// All metrics are defined in their respective packages (client, ratelimit,
// summarize, checkpoint, batch) to maintain modularity and avoid circular
// dependencies.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the default Prometheus registry used by chapter-digest.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Path is where the endpoint serves metrics.
const Path = "/metrics"

// Handler returns the HTTP handler exposing the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Server exposes metrics over HTTP while a batch runs.
type Server struct {
	srv      *http.Server
	listener net.Listener
	logger   zerolog.Logger
}

// Listen binds addr (e.g. ":9090"; port 0 picks a free port).
func Listen(addr string, logger zerolog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen metrics %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle(Path, Handler())

	return &Server{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: ln,
		logger:   logger,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve blocks until ctx is done, then shuts the server down.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.Addr()).Msg("Serving metrics")
		errCh <- s.srv.Serve(s.listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	<-errCh
	return nil
}

// Metrics Documentation
//
// Quota Metrics (pkg/ratelimit):
//   - digest_quota_remaining{credential} (Gauge): Requests remaining in the credential's rate limit window
//   - digest_quota_low_total{credential} (Counter): Responses reporting a nearly exhausted window
//
// Request Metrics (pkg/client):
//   - digest_requests_total{model, status} (Counter): Completion requests by model and HTTP status
//   - digest_request_duration_seconds{model} (Histogram): Request duration by model
//   - digest_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/client):
//   - digest_retries_total{error_class} (Counter): Retry attempts by error class
//   - digest_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - digest_retry_exhausted_total{error_class} (Counter): Call sequences that exhausted the ceiling
//
// Document Metrics (pkg/summarize):
//   - digest_summary_rejected_total{model} (Counter): Summaries below the quality threshold
//   - digest_document_attempts (Histogram): Outer attempts per document
//
// Checkpoint Metrics (pkg/checkpoint):
//   - digest_checkpoint_writes_total{backend} (Counter): Artifacts written
//   - digest_checkpoint_hits_total{backend} (Counter): Existing artifacts found
//   - digest_checkpoint_bytes_total{backend} (Counter): Artifact bytes written
//   - digest_checkpoint_errors_total{backend, operation} (Counter): Store errors
//
// Batch Metrics (pkg/batch):
//   - digest_documents_total{state} (Counter): Documents by final state
//   - digest_documents_in_flight (Gauge): Documents being processed
//   - digest_batch_duration_seconds (Histogram): Batch duration
//
// Example Prometheus Queries:
//
//   # Rate limit pressure
//   sum(rate(digest_errors_total{class="rate_limit"}[5m]))
//
//   # Credentials close to their quota
//   digest_quota_remaining < 5
//
//   # Document failure ratio
//   sum(digest_documents_total{state="failed_permanently"}) / sum(digest_documents_total)
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(digest_request_duration_seconds_bucket[5m]))
