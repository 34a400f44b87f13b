package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// FailureMarker prefixes the content of an artifact whose document could
// not be summarized.
const FailureMarker = "[summary failed]"

var (
	// ErrNotFound indicates no artifact exists for the index.
	ErrNotFound = errors.New("checkpoint artifact not found")

	// ErrInvalidArtifact indicates an artifact that cannot be stored or was
	// stored corrupted.
	ErrInvalidArtifact = errors.New("invalid checkpoint artifact")
)

// Artifact is the persisted result for one document.
type Artifact struct {
	// Index is the 1-based document index.
	Index int

	// Total is the number of documents in the batch; it fixes the padding.
	Total int

	// Content is the summary text, or FailureMarker followed by the error.
	Content string

	// Model that produced Content. Empty for artifacts written without
	// metadata.
	Model string

	// Failed marks a failure-marker artifact.
	Failed bool
}

// Validate checks the artifact against the store's total.
func (a Artifact) Validate(total int) error {
	if a.Index < 1 {
		return fmt.Errorf("%w: index must be >= 1 (got %d)", ErrInvalidArtifact, a.Index)
	}
	if total > 0 && a.Index > total {
		return fmt.Errorf("%w: index %d beyond total %d", ErrInvalidArtifact, a.Index, total)
	}
	return nil
}

// IsFailure reports whether content is a failure marker.
func IsFailure(content string) bool {
	return strings.HasPrefix(strings.TrimSpace(content), FailureMarker)
}

// metadata is what the file backend stores next to the text. Digest ties
// it to the text it was written with.
type metadata struct {
	Model  string `json:"model"`
	Failed bool   `json:"failed"`
	Total  int    `json:"total"`
	Digest string `json:"digest,omitempty"`
}

// contentDigest is the hex SHA-256 of content.
func contentDigest(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
