// Package testutil provides testing utilities for chapter-digest.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// CompletionsPath is the path the mock serves.
const CompletionsPath = "/v1/chat/completions"

// DefaultSummary is long enough to pass a 1000-character target at a 0.5
// minimum fraction.
var DefaultSummary = strings.Repeat("The hero leaves the village and meets the old master. ", 12)

// MockResponse defines the behavior for one mock response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// RecordedMessage is one chat message seen by the mock.
type RecordedMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RecordedRequest is what the mock saw for one call.
type RecordedRequest struct {
	Model         string            `json:"model"`
	Messages      []RecordedMessage `json:"messages"`
	Temperature   float64           `json:"temperature"`
	MaxTokens     int               `json:"max_tokens"`
	Authorization string            `json:"-"`
	UserAgent     string            `json:"-"`
}

// UserContent returns the content of the last user message.
func (r RecordedRequest) UserContent() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Content
		}
	}
	return ""
}

// Responder decides the response for the n-th request (1-based).
type Responder func(req RecordedRequest, n int) MockResponse

// MockCompletions is a configurable mock chat-completions server.
type MockCompletions struct {
	server    *httptest.Server
	mu        sync.RWMutex
	responder Responder
	requests  []RecordedRequest
}

// NewMockCompletions creates a mock server that answers every request with
// DefaultSummary.
func NewMockCompletions() *MockCompletions {
	mock := &MockCompletions{
		responder: func(RecordedRequest, int) MockResponse {
			return NewCompletionResponse(DefaultSummary)
		},
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

func (m *MockCompletions) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != CompletionsPath || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	body, _ := io.ReadAll(r.Body)
	var rec RecordedRequest
	if err := json.Unmarshal(body, &rec); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, `{"error": {"message": %q}}`, err.Error())
		return
	}
	rec.Authorization = r.Header.Get("Authorization")
	rec.UserAgent = r.Header.Get("User-Agent")

	m.mu.Lock()
	m.requests = append(m.requests, rec)
	n := len(m.requests)
	responder := m.responder
	m.mu.Unlock()

	resp := responder(rec, n)
	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-r.Context().Done():
			return
		}
	}

	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	if resp.StatusCode == 0 {
		resp.StatusCode = http.StatusOK
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// URL returns the full completions endpoint URL.
func (m *MockCompletions) URL() string {
	return m.server.URL + CompletionsPath
}

// Close shuts down the mock server.
func (m *MockCompletions) Close() {
	m.server.Close()
}

// Reset clears recorded requests.
func (m *MockCompletions) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
}

// SetResponder replaces the response logic.
func (m *MockCompletions) SetResponder(fn Responder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responder = fn
}

// SetSequence answers requests in order; the last response repeats.
func (m *MockCompletions) SetSequence(responses ...MockResponse) {
	m.SetResponder(func(_ RecordedRequest, n int) MockResponse {
		if n > len(responses) {
			return responses[len(responses)-1]
		}
		return responses[n-1]
	})
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockCompletions) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// Requests returns a copy of the recorded requests.
func (m *MockCompletions) Requests() []RecordedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RecordedRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// NewCompletionResponse creates a 200 OK response carrying text.
func NewCompletionResponse(text string) MockResponse {
	payload, _ := json.Marshal(map[string]any{
		"id":     "chatcmpl-test",
		"object": "chat.completion",
		"choices": []map[string]any{
			{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]string{"role": "assistant", "content": text},
			},
		},
	})
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       string(payload),
		Headers: map[string]string{
			"Content-Type":                   "application/json",
			"X-RateLimit-Remaining-Requests": "100",
			"X-RateLimit-Reset-Requests":     "1m0s",
		},
	}
}

// NewRateLimitResponse creates a 429 response. retryAfter may be empty.
func NewRateLimitResponse(retryAfter string) MockResponse {
	resp := MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": {"message": "Rate limit reached for requests", "type": "requests"}}`,
		Headers: map[string]string{
			"Content-Type":                   "application/json",
			"X-RateLimit-Remaining-Requests": "0",
		},
	}
	if retryAfter != "" {
		resp.Headers["Retry-After"] = retryAfter
	}
	return resp
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": {"message": "Internal server error"}}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewBadRequestResponse creates a 400 Bad Request response.
func NewBadRequestResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusBadRequest,
		Body:       `{"error": {"message": "Invalid 'messages': empty array"}}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewUnauthorizedResponse creates a 401 response.
func NewUnauthorizedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusUnauthorized,
		Body:       `{"error": {"message": "Incorrect API key provided"}}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}
