package checkpoint

import (
	"context"
	"fmt"
	"strings"
)

// Store persists artifacts by document index. Implementations are safe for
// concurrent use; operations on different indices never interfere.
type Store interface {
	// Exists reports whether an artifact exists for index.
	Exists(ctx context.Context, index int) (bool, error)

	// Write stores an artifact atomically, replacing any previous one.
	Write(ctx context.Context, artifact Artifact) error

	// Read returns the artifact for index, or ErrNotFound.
	Read(ctx context.Context, index int) (*Artifact, error)

	// Clear removes every artifact.
	Clear(ctx context.Context) error

	// Indices returns the indices that have an artifact, ascending.
	Indices(ctx context.Context) ([]int, error)
}

// Mode decides what happens to documents that already have an artifact.
type Mode string

const (
	// ModeSkip leaves existing artifacts untouched and makes no call.
	ModeSkip Mode = "skip"

	// ModeOverwrite reprocesses every document.
	ModeOverwrite Mode = "overwrite"
)

// ParseMode parses a Mode, case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeSkip:
		return ModeSkip, nil
	case ModeOverwrite:
		return ModeOverwrite, nil
	default:
		return "", fmt.Errorf("invalid checkpoint mode %q (want %q or %q)", s, ModeSkip, ModeOverwrite)
	}
}
