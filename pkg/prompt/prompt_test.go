package prompt

import (
	"errors"
	"strings"
	"testing"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		maxChars int
		expected string
	}{
		{
			name:     "disabled",
			content:  "abcdefghij",
			maxChars: 0,
			expected: "abcdefghij",
		},
		{
			name:     "short enough",
			content:  "abcdefghij",
			maxChars: 10,
			expected: "abcdefghij",
		},
		{
			name:     "even split",
			content:  "abcdefghij",
			maxChars: 4,
			expected: "ab" + OmissionMarker + "ij",
		},
		{
			name:     "odd limit gives the extra rune to the tail",
			content:  "abcdefghij",
			maxChars: 5,
			expected: "ab" + OmissionMarker + "hij",
		},
		{
			name:     "counts runes not bytes",
			content:  "第一章少年出山遇高人",
			maxChars: 4,
			expected: "第一" + OmissionMarker + "高人",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.content, tt.maxChars); got != tt.expected {
				t.Errorf("Truncate() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestModelFor(t *testing.T) {
	models := []string{"a", "b", "c"}

	tests := []struct {
		index    int
		attempt  int
		expected string
	}{
		{index: 1, attempt: 1, expected: "a"},
		{index: 2, attempt: 1, expected: "b"},
		{index: 3, attempt: 1, expected: "c"},
		{index: 4, attempt: 1, expected: "a"},
		{index: 1, attempt: 2, expected: "b"},
		{index: 3, attempt: 2, expected: "a"},
		{index: 3, attempt: 4, expected: "c"},
	}

	for _, tt := range tests {
		if got := ModelFor(models, tt.index, tt.attempt); got != tt.expected {
			t.Errorf("ModelFor(%d, %d) = %q, want %q", tt.index, tt.attempt, got, tt.expected)
		}
	}

	if got := ModelFor(nil, 1, 1); got != "" {
		t.Errorf("ModelFor(nil) = %q, want empty", got)
	}
}

func TestNewBuilder_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		valid   bool
		wantErr error
	}{
		{name: "defaults", mutate: func(*Config) {}, valid: true},
		{name: "no models", mutate: func(c *Config) { c.Models = nil }, wantErr: ErrNoModels},
		{name: "blank models", mutate: func(c *Config) { c.Models = []string{" ", ""} }, wantErr: ErrNoModels},
		{name: "zero target", mutate: func(c *Config) { c.TargetChars = 0 }},
		{name: "fraction above one", mutate: func(c *Config) { c.MinFraction = 1.5 }},
		{name: "negative max input", mutate: func(c *Config) { c.MaxInputChars = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := NewBuilder(cfg)

			if tt.valid {
				if err != nil {
					t.Fatalf("NewBuilder() error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("NewBuilder() expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestBuilder_Build(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Models = []string{"m1", " m2 "}
	cfg.MaxInputChars = 6
	cfg.MaxTokens = 1000
	b, err := NewBuilder(cfg)
	if err != nil {
		t.Fatalf("NewBuilder() error = %v", err)
	}

	if got := b.Models(); len(got) != 2 || got[1] != "m2" {
		t.Errorf("Models() = %q, want trimmed list", got)
	}
	if b.MinChars() != 500 {
		t.Errorf("MinChars() = %d, want 500", b.MinChars())
	}
	if b.ModelFor(2, 1) != "m2" {
		t.Errorf("ModelFor(2, 1) = %q, want m2", b.ModelFor(2, 1))
	}

	req := b.Build("0123456789", "m1")
	if req.Model != "m1" || req.Temperature != 0.6 || req.MaxTokens != 1000 {
		t.Errorf("request = %+v", req)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Role != "user" {
		t.Fatalf("messages = %+v", req.Messages)
	}
	user := req.Messages[1].Content
	if !strings.Contains(user, "about 500 to 1000 characters") {
		t.Errorf("user prompt misses the length bounds: %q", user)
	}
	if !strings.HasSuffix(user, "012"+OmissionMarker+"789") {
		t.Errorf("user prompt should end with the truncated text: %q", user)
	}
}
