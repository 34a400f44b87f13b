package checkpoint

import (
	"fmt"
	"strconv"
)

// Key identifies the artifact of one document.
type Key struct {
	// Index is the 1-based document index.
	Index int

	// Total is the number of documents; the padding width is its digit
	// count.
	Total int
}

// Width returns the padding width for total documents.
func Width(total int) int {
	if total < 1 {
		return 1
	}
	return len(strconv.Itoa(total))
}

// Padded returns the zero-padded index.
//
// Example:
//
//	Key{Index: 7, Total: 120}.Padded() // "007"
func (k Key) Padded() string {
	return fmt.Sprintf("%0*d", Width(k.Total), k.Index)
}

// FileName returns the name of the artifact text file.
func (k Key) FileName() string {
	return k.Padded() + ".txt"
}

// RedisKey returns the hash key of the artifact. The index is not padded,
// so the key survives a change of total.
// Format: digest:<namespace>:<index>
func (k Key) RedisKey(namespace string) string {
	return fmt.Sprintf("digest:%s:%d", namespace, k.Index)
}

// ParseStem returns the index encoded by a file stem of decimal digits,
// whatever its padding.
func ParseStem(stem string) (int, bool) {
	if stem == "" {
		return 0, false
	}
	for _, r := range stem {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(stem)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
