// Package prompt turns a document into a completion request: input
// truncation, model rotation and the summarization instructions.
package prompt

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/Sternrassler/chapter-digest/pkg/client"
)

// OmissionMarker joins the head and tail of a truncated document.
const OmissionMarker = "\n\n...(middle of the chapter omitted)...\n\n"

// DefaultSystemPrompt sets the role of the model.
const DefaultSystemPrompt = "You are an editor who condenses long novels into faithful chapter summaries."

// ErrNoModels is returned when a Builder has no model to rotate through.
var ErrNoModels = errors.New("no models configured")

// Config holds the prompt settings.
type Config struct {
	// Models is the rotation list; document i starts at Models[(i-1) % len].
	Models []string

	// TargetChars is the requested summary length in characters.
	TargetChars int

	// MinFraction of TargetChars is the lower bound stated in the prompt
	// and enforced by the quality gate.
	MinFraction float64

	// MaxInputChars truncates long documents; 0 disables truncation.
	MaxInputChars int

	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// DefaultConfig returns the default prompt configuration.
func DefaultConfig() Config {
	return Config{
		Models:       []string{"gpt-4.1-mini"},
		TargetChars:  1000,
		MinFraction:  0.5,
		Temperature:  0.6,
		SystemPrompt: DefaultSystemPrompt,
	}
}

// Builder builds completion requests. It is immutable and safe for
// concurrent use.
type Builder struct {
	config Config
}

// NewBuilder validates cfg and returns a Builder.
func NewBuilder(cfg Config) (*Builder, error) {
	models := make([]string, 0, len(cfg.Models))
	for _, m := range cfg.Models {
		if m = strings.TrimSpace(m); m != "" {
			models = append(models, m)
		}
	}
	if len(models) == 0 {
		return nil, ErrNoModels
	}
	cfg.Models = models

	if cfg.TargetChars <= 0 {
		return nil, fmt.Errorf("target chars must be > 0 (got %d)", cfg.TargetChars)
	}
	if cfg.MinFraction < 0 || cfg.MinFraction > 1 {
		return nil, fmt.Errorf("min fraction must be within [0, 1] (got %g)", cfg.MinFraction)
	}
	if cfg.MaxInputChars < 0 {
		return nil, fmt.Errorf("max input chars must be >= 0 (got %d)", cfg.MaxInputChars)
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}

	return &Builder{config: cfg}, nil
}

// MinChars is the shortest acceptable summary, ceil(TargetChars*MinFraction).
func (b *Builder) MinChars() int {
	return int(math.Ceil(float64(b.config.TargetChars) * b.config.MinFraction))
}

// Models returns the rotation list.
func (b *Builder) Models() []string {
	return append([]string(nil), b.config.Models...)
}

// ModelFor returns the model for the attempt-th try (1-based) of document
// index (1-based).
func (b *Builder) ModelFor(index, attempt int) string {
	return ModelFor(b.config.Models, index, attempt)
}

// ModelFor rotates through models: document index starts at
// models[(index-1) % n] and every further attempt moves one model on.
func ModelFor(models []string, index, attempt int) string {
	if len(models) == 0 {
		return ""
	}
	if index < 1 {
		index = 1
	}
	if attempt < 1 {
		attempt = 1
	}
	return models[(index-1+attempt-1)%len(models)]
}

// Build returns the request summarizing content with model.
func (b *Builder) Build(content, model string) client.Request {
	text := Truncate(content, b.config.MaxInputChars)

	var sb strings.Builder
	sb.WriteString("Summarize the following chapter of a novel.\n")
	fmt.Fprintf(&sb, "1. Write about %d to %d characters.\n", b.MinChars(), b.config.TargetChars)
	sb.WriteString("2. Keep the main characters, the plot and the important turning points.\n")
	sb.WriteString("3. Write connected prose without filler and without naming those categories.\n")
	sb.WriteString("4. Output only the summary, no title or commentary.\n")
	sb.WriteString("\nChapter text:\n")
	sb.WriteString(text)

	return client.Request{
		Model: model,
		Messages: []client.Message{
			{Role: "system", Content: b.config.SystemPrompt},
			{Role: "user", Content: sb.String()},
		},
		Temperature: b.config.Temperature,
		MaxTokens:   b.config.MaxTokens,
	}
}

// Truncate keeps the first and last halves of content when it exceeds
// maxChars runes, joined by OmissionMarker. maxChars <= 0 disables it.
func Truncate(content string, maxChars int) string {
	if maxChars <= 0 {
		return content
	}
	runes := []rune(content)
	if len(runes) <= maxChars {
		return content
	}

	head := maxChars / 2
	tail := maxChars - head
	return string(runes[:head]) + OmissionMarker + string(runes[len(runes)-tail:])
}
