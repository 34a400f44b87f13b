// Package client provides the chat-completion HTTP client and the call engine
// that drives it through credential rotation, error classification and
// backoff.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Sternrassler/chapter-digest/pkg/credential"
	"github.com/Sternrassler/chapter-digest/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for completion requests.
var (
	digestRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "digest_requests_total",
		Help: "Total completion requests by model and status",
	}, []string{"model", "status"})

	digestRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "digest_request_duration_seconds",
		Help:    "Completion request duration in seconds by model",
		Buckets: []float64{1, 2, 5, 10, 20, 40, 60, 120},
	}, []string{"model"})

	digestErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "digest_errors_total",
		Help: "Total completion errors by class",
	}, []string{"class"})
)

// ErrorClass represents a classification of completion errors.
type ErrorClass string

const (
	// ErrorClassClient represents non-retryable errors (4xx other than 429,
	// malformed requests).
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx errors and unusable 2xx bodies.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses and throttling messages.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents timeouts and dropped connections.
	ErrorClassNetwork ErrorClass = "network"
)

// maxErrorExcerpt bounds how much of an error body ends up in messages.
const maxErrorExcerpt = 300

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 8 << 20

// DefaultUserAgent mimics a browser; some gateways reject default client
// fingerprints.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/145.0.0.0 Safari/537.36"

// Message is one role-tagged chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single completion request.
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Config holds the client configuration.
type Config struct {
	// Endpoint is the full chat-completions URL.
	Endpoint string

	// UserAgent header sent with every request.
	UserAgent string

	// Timeout per HTTP request.
	Timeout time.Duration
}

// DefaultConfig returns a default configuration for the given endpoint.
func DefaultConfig(endpoint string) Config {
	return Config{
		Endpoint:  endpoint,
		UserAgent: DefaultUserAgent,
		Timeout:   40 * time.Second,
	}
}

// Client performs single completion calls. It holds no per-call state and is
// safe for concurrent use.
type Client struct {
	httpClient *http.Client
	quota      *ratelimit.Tracker
	config     Config
	logger     zerolog.Logger
}

// New creates a new completion client.
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if !strings.HasPrefix(cfg.Endpoint, "http://") && !strings.HasPrefix(cfg.Endpoint, "https://") {
		return nil, fmt.Errorf("endpoint must be an http(s) URL (got %q)", cfg.Endpoint)
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be > 0 (got %s)", cfg.Timeout)
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	logger := log.With().Str("component", "completion-client").Logger()

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		quota:  ratelimit.NewTracker(logger),
		config: cfg,
		logger: logger,
	}, nil
}

// Complete sends one request with one credential and returns the trimmed
// text of the first choice. Failures are returned as *APIError, except for
// cancellation of ctx, which is returned as is.
func (c *Client) Complete(ctx context.Context, cred credential.Credential, req Request) (string, error) {
	startTime := time.Now()
	defer func() {
		digestRequestDuration.WithLabelValues(req.Model).Observe(time.Since(startTime).Seconds())
	}()

	payload, err := json.Marshal(req)
	if err != nil {
		return "", &APIError{ErrorClass: ErrorClassClient, Message: "encode request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", &APIError{ErrorClass: ErrorClassClient, Message: "create request", Err: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+cred.Secret)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.config.UserAgent)

	c.logger.Debug().
		Str("model", req.Model).
		Int("credential", cred.ID).
		Int("payload_bytes", len(payload)).
		Msg("Executing completion request")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		class := classifyTransportError(err)
		digestErrorsTotal.WithLabelValues(string(class)).Inc()
		digestRequestsTotal.WithLabelValues(req.Model, "transport_error").Inc()
		return "", &APIError{ErrorClass: class, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if err := c.quota.UpdateFromHeaders(cred.ID, resp.Header); err != nil {
		c.logger.Warn().Err(err).Int("credential", cred.ID).Msg("Failed to read quota headers")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		digestErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		digestRequestsTotal.WithLabelValues(req.Model, "read_error").Inc()
		return "", &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Message:    "read response body",
			Err:        err,
		}
	}

	status := strconv.Itoa(resp.StatusCode)
	digestRequestsTotal.WithLabelValues(req.Model, status).Inc()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: classifyStatus(resp.StatusCode, string(body)),
			Message:    fmt.Sprintf("HTTP %d: %s", resp.StatusCode, excerpt(body)),
		}
		if apiErr.ErrorClass == ErrorClassRateLimit {
			if hint, ok := ratelimit.ParseRetryAfter(resp.Header, time.Now()); ok {
				apiErr.RetryAfter = hint
			}
		}
		digestErrorsTotal.WithLabelValues(string(apiErr.ErrorClass)).Inc()

		c.logger.Warn().
			Str("model", req.Model).
			Int("credential", cred.ID).
			Int("status", resp.StatusCode).
			Str("error_class", string(apiErr.ErrorClass)).
			Dur("retry_after", apiErr.RetryAfter).
			Msg("Completion request error")

		return "", apiErr
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		digestErrorsTotal.WithLabelValues(string(ErrorClassServer)).Inc()
		return "", &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassServer,
			Message:    "decode response: " + excerpt(body),
			Err:        err,
		}
	}

	if parsed.Error != nil {
		class := ErrorClassServer
		if isThrottleMessage(parsed.Error.Message) {
			class = ErrorClassRateLimit
		}
		digestErrorsTotal.WithLabelValues(string(class)).Inc()
		return "", &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: class,
			Message:    parsed.Error.Message,
		}
	}

	if len(parsed.Choices) == 0 {
		digestErrorsTotal.WithLabelValues(string(ErrorClassServer)).Inc()
		return "", &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassServer,
			Message:    "response has no choices",
		}
	}

	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

// Classify returns the class of an error produced by Complete. Errors that
// did not come from Complete are classified by their transport shape.
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorClass
	}

	if isThrottleMessage(err.Error()) {
		return ErrorClassRateLimit
	}

	return classifyTransportError(err)
}

// classifyStatus categorizes an HTTP error status.
func classifyStatus(status int, body string) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 500:
		return ErrorClassServer
	case isThrottleMessage(body):
		return ErrorClassRateLimit
	default:
		return ErrorClassClient
	}
}

// classifyTransportError separates dropped connections and timeouts from
// errors that a retry cannot fix (bad URL, unsupported scheme).
func classifyTransportError(err error) ErrorClass {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorClassNetwork
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE):
		return ErrorClassNetwork
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrorClassNetwork
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrorClassNetwork
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection reset") || strings.Contains(msg, "connection aborted") {
		return ErrorClassNetwork
	}

	return ErrorClassClient
}

func isThrottleMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, marker := range []string{"rate limit", "rate_limit", "ratelimit", "too many requests", "throttl"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func excerpt(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorExcerpt {
		s = strings.ToValidUTF8(s[:maxErrorExcerpt], "")
	}
	return s
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Quota returns the quota tracker (for testing).
func (c *Client) Quota() *ratelimit.Tracker {
	return c.quota
}
