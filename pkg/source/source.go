// Package source discovers the ordered input documents and waits for them
// to appear.
package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Extension of input documents (matched case-insensitively).
const Extension = ".txt"

// ErrNoDocuments is returned when no input directory holds a document.
var ErrNoDocuments = errors.New("no input documents found")

// Document is one input text. Index is its 1-based position in the sorted
// listing; Name is the file name without extension.
type Document struct {
	Index   int
	Name    string
	Path    string
	Content string
}

// Scan reads every document of the first existing directory in dirs.
// Files are ordered by name and invalid UTF-8 is dropped from their
// content. It returns ErrNoDocuments when that directory is empty or none
// of dirs exists.
func Scan(dirs []string) ([]Document, error) {
	dir, ok := firstDir(dirs)
	if !ok {
		return nil, fmt.Errorf("%w: none of %v exists", ErrNoDocuments, dirs)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read input directory %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), Extension) {
			continue
		}
		names = append(names, entry.Name())
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoDocuments, dir)
	}
	sort.Strings(names)

	docs := make([]Document, 0, len(names))
	for i, name := range names {
		path := filepath.Join(dir, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read document %s: %w", path, err)
		}
		docs = append(docs, Document{
			Index:   i + 1,
			Name:    strings.TrimSuffix(name, filepath.Ext(name)),
			Path:    path,
			Content: strings.ToValidUTF8(string(raw), ""),
		})
	}

	return docs, nil
}

func firstDir(dirs []string) (string, bool) {
	for _, d := range dirs {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if info, err := os.Stat(d); err == nil && info.IsDir() {
			return d, true
		}
	}
	return "", false
}

// WaitConfig controls Wait.
type WaitConfig struct {
	// PollInterval between scans.
	PollInterval time.Duration

	// Timeout bounds the wait; 0 waits until ctx is done.
	Timeout time.Duration
}

// Wait scans dirs until documents appear, polling at a constant interval.
// Errors other than ErrNoDocuments stop the wait immediately.
func Wait(ctx context.Context, dirs []string, cfg WaitConfig, logger zerolog.Logger) ([]Document, error) {
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be > 0 (got %s)", cfg.PollInterval)
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	policy := backoff.WithContext(backoff.NewConstantBackOff(cfg.PollInterval), ctx)

	var docs []Document
	attempt := 1
	err := backoff.Retry(func() error {
		found, err := Scan(dirs)
		if err == nil {
			docs = found
			return nil
		}
		if !errors.Is(err, ErrNoDocuments) {
			return backoff.Permanent(err)
		}
		logger.Info().
			Strs("dirs", dirs).
			Int("attempt", attempt).
			Dur("poll_interval", cfg.PollInterval).
			Msg("Waiting for input documents")
		attempt++
		return err
	}, policy)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("wait for input documents: %w", ctx.Err())
		}
		return nil, err
	}

	logger.Info().Int("documents", len(docs)).Msg("Input documents found")
	return docs, nil
}
