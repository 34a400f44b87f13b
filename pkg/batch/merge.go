package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Sternrassler/chapter-digest/pkg/checkpoint"
	"github.com/Sternrassler/chapter-digest/pkg/source"
	"github.com/rs/zerolog"
)

// SeparatorWidth is the width of the line under each entry header.
const SeparatorWidth = 40

// MissingArtifact follows the failure marker for indices without an
// artifact.
const MissingArtifact = "checkpoint artifact missing"

// unknownModel names the model of entries that carry none.
const unknownModel = "unknown"

// FormatEntry renders one merged entry.
//
// Example:
//
//	001 summary: gpt-4.1-mini
//	========================================
//	The hero leaves the village...
func FormatEntry(name, model, body string) string {
	if model == "" {
		model = unknownModel
	}
	return name + " summary: " + model + "\n" + strings.Repeat("=", SeparatorWidth) + "\n" + body
}

// Merge writes one entry per document, in index order, separated by a
// blank line. Missing or unreadable artifacts become failure-marker
// entries, so the output always has exactly len(docs) entries. It returns
// the number of entries written.
func Merge(ctx context.Context, store checkpoint.Store, docs []source.Document, w io.Writer, logger zerolog.Logger) (int, error) {
	written := 0
	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		model := ""
		body := checkpoint.FailureMarker + " " + MissingArtifact

		a, err := store.Read(ctx, doc.Index)
		switch {
		case err == nil:
			model = a.Model
			body = strings.TrimSpace(a.Content)
		case errors.Is(err, checkpoint.ErrNotFound):
			logger.Warn().
				Int("index", doc.Index).
				Str("document", doc.Name).
				Msg("Checkpoint artifact missing in merge")
		default:
			body = checkpoint.FailureMarker + " checkpoint artifact unreadable: " + err.Error()
			logger.Error().
				Err(err).
				Int("index", doc.Index).
				Str("document", doc.Name).
				Msg("Checkpoint artifact unreadable in merge")
		}

		entry := FormatEntry(doc.Name, model, body)
		if i > 0 {
			entry = "\n\n" + entry
		}
		if _, err := io.WriteString(w, entry); err != nil {
			return written, fmt.Errorf("write merged entry %d: %w", doc.Index, err)
		}
		written++
	}
	return written, nil
}

// WriteMergedFile merges into path atomically.
func WriteMergedFile(ctx context.Context, store checkpoint.Store, docs []source.Document, path string, logger zerolog.Logger) (int, error) {
	var buf bytes.Buffer
	n, err := Merge(ctx, store, docs, &buf, logger)
	if err != nil {
		return n, err
	}
	if err := checkpoint.WriteFileAtomic(path, buf.Bytes()); err != nil {
		return n, fmt.Errorf("write merged output %s: %w", path, err)
	}

	logger.Info().
		Str("path", path).
		Int("entries", n).
		Int("bytes", buf.Len()).
		Msg("Merged output written")
	return n, nil
}
