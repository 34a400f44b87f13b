package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const backendFile = "file"

// FileStore keeps artifacts as files in one directory:
// <padded>.txt holds the text and <padded>.json the metadata.
// A text file alone is a complete artifact. Lookups match a stem by its
// numeric value, so artifacts written for a different total stay visible.
type FileStore struct {
	dir   string
	total int
}

// NewFileStore creates a file store for a batch of total documents.
func NewFileStore(dir string, total int) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("checkpoint dir is required")
	}
	if total < 1 {
		return nil, fmt.Errorf("total must be >= 1 (got %d)", total)
	}
	return &FileStore{dir: dir, total: total}, nil
}

// Dir returns the store directory.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) stem(index int) string {
	return Key{Index: index, Total: s.total}.Padded()
}

// locate returns the stem holding the text of index: the padded stem of the
// current total if present, otherwise any other padding of the same number.
func (s *FileStore) locate(index int) (string, error) {
	stem := s.stem(index)
	info, err := os.Stat(filepath.Join(s.dir, stem+".txt"))
	if err == nil && !info.IsDir() {
		return stem, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return "", err
	}

	stems, err := s.stemsOf(index)
	if err != nil {
		return "", err
	}
	if len(stems) == 0 {
		return "", ErrNotFound
	}
	return stems[0], nil
}

// stemsOf lists every stem whose text file encodes index.
func (s *FileStore) stemsOf(index int) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var stems []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".txt" {
			continue
		}
		stem := strings.TrimSuffix(name, ".txt")
		if n, ok := ParseStem(stem); ok && n == index {
			stems = append(stems, stem)
		}
	}
	return stems, nil
}

// Exists reports whether a text file of index exists.
func (s *FileStore) Exists(ctx context.Context, index int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if _, err := s.locate(index); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		CheckpointErrors.WithLabelValues(backendFile, "exists").Inc()
		return false, fmt.Errorf("stat artifact %d: %w", index, err)
	}
	CheckpointHits.WithLabelValues(backendFile).Inc()
	return true, nil
}

// Write stores the text first, which is the commit point, then the
// metadata. Artifacts of the same index under another padding are removed
// afterwards.
func (s *FileStore) Write(ctx context.Context, a Artifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.Validate(s.total); err != nil {
		return err
	}

	stem := s.stem(a.Index)
	meta, err := json.Marshal(metadata{
		Model:  a.Model,
		Failed: a.Failed,
		Total:  s.total,
		Digest: contentDigest(a.Content),
	})
	if err != nil {
		CheckpointErrors.WithLabelValues(backendFile, "write").Inc()
		return fmt.Errorf("marshal metadata %d: %w", a.Index, err)
	}
	if err := writeFileAtomicDurable(filepath.Join(s.dir, stem+".txt"), []byte(a.Content), 0o644); err != nil {
		CheckpointErrors.WithLabelValues(backendFile, "write").Inc()
		return fmt.Errorf("write artifact %d: %w", a.Index, err)
	}
	if err := writeFileAtomicDurable(filepath.Join(s.dir, stem+".json"), meta, 0o644); err != nil {
		CheckpointErrors.WithLabelValues(backendFile, "write").Inc()
		return fmt.Errorf("write metadata %d: %w", a.Index, err)
	}
	if err := s.removeStale(a.Index, stem); err != nil {
		CheckpointErrors.WithLabelValues(backendFile, "write").Inc()
		return fmt.Errorf("remove stale artifact %d: %w", a.Index, err)
	}

	CheckpointWrites.WithLabelValues(backendFile).Inc()
	CheckpointBytes.WithLabelValues(backendFile).Add(float64(len(a.Content)))
	return nil
}

// removeStale deletes the files of index stored under any stem but keep.
func (s *FileStore) removeStale(index int, keep string) error {
	stems, err := s.stemsOf(index)
	if err != nil {
		return err
	}
	removed := false
	for _, stem := range stems {
		if stem == keep {
			continue
		}
		for _, ext := range []string{".json", ".txt"} {
			if err := os.Remove(filepath.Join(s.dir, stem+ext)); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
		removed = true
	}
	if removed {
		return fsyncDir(s.dir)
	}
	return nil
}

// Read returns the artifact of index. Missing, unreadable or mismatched
// metadata falls back to what the text alone tells.
func (s *FileStore) Read(ctx context.Context, index int) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stem, err := s.locate(index)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		CheckpointErrors.WithLabelValues(backendFile, "read").Inc()
		return nil, fmt.Errorf("read artifact %d: %w", index, err)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, stem+".txt"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		CheckpointErrors.WithLabelValues(backendFile, "read").Inc()
		return nil, fmt.Errorf("read artifact %d: %w", index, err)
	}

	a := &Artifact{
		Index:   index,
		Total:   s.total,
		Content: string(data),
		Failed:  IsFailure(string(data)),
	}

	raw, err := os.ReadFile(filepath.Join(s.dir, stem+".json"))
	if err != nil {
		return a, nil
	}
	var meta metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return a, nil
	}
	if meta.Digest != "" && meta.Digest != contentDigest(a.Content) {
		return a, nil
	}
	a.Model = meta.Model
	a.Failed = meta.Failed || a.Failed
	return a, nil
}

// Clear removes every artifact file and leftover temp file from the
// directory. Other files are left alone.
func (s *FileStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		CheckpointErrors.WithLabelValues(backendFile, "clear").Inc()
		return fmt.Errorf("read checkpoint dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !isArtifactFile(e.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !os.IsNotExist(err) {
			CheckpointErrors.WithLabelValues(backendFile, "clear").Inc()
			return fmt.Errorf("remove %s: %w", e.Name(), err)
		}
	}
	return fsyncDir(s.dir)
}

// Indices lists the indices with a text file, ascending and without
// duplicates.
func (s *FileStore) Indices(ctx context.Context) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		CheckpointErrors.WithLabelValues(backendFile, "indices").Inc()
		return nil, fmt.Errorf("read checkpoint dir: %w", err)
	}
	seen := make(map[int]bool)
	var out []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".txt" {
			continue
		}
		n, ok := ParseStem(strings.TrimSuffix(name, ".txt"))
		if !ok || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}

// Stray lists the .txt files of the directory whose name is not a
// document index, sorted.
func (s *FileStore) Stray(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		ext := filepath.Ext(name)
		if e.IsDir() || !strings.EqualFold(ext, ".txt") {
			continue
		}
		if _, ok := ParseStem(strings.TrimSuffix(name, ext)); ok && ext == ".txt" {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// isArtifactFile matches <digits>.txt, <digits>.json and their temp files.
func isArtifactFile(name string) bool {
	stem, _, _ := strings.Cut(name, ".")
	if stem == "" {
		return false
	}
	for _, r := range stem {
		if r < '0' || r > '9' {
			return false
		}
	}
	rest := strings.TrimPrefix(name, stem)
	return rest == ".txt" || rest == ".json" ||
		strings.HasPrefix(rest, ".txt.tmp.") || strings.HasPrefix(rest, ".json.tmp.")
}

// WriteFileAtomic writes data to path through a synced temp file and a
// rename, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte) error {
	return writeFileAtomicDurable(path, data, 0o644)
}

func writeFileAtomicDurable(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
