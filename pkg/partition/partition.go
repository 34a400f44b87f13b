// Package partition assigns documents to a fixed set of workers.
//
// The assignment is static and computed before any work starts: document i
// goes to bucket (i-1) mod workers. There is no shared queue between
// workers, so buckets are processed without locking.
package partition

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidWorkers is returned when fewer than one worker is requested.
	ErrInvalidWorkers = errors.New("worker count must be >= 1")

	// ErrStartOutOfRange is returned when the start index is outside [1, total].
	ErrStartOutOfRange = errors.New("start index out of range")
)

// Partition splits the indices [start, total] into exactly `workers` disjoint
// ascending buckets by stride. Buckets may be empty when there are more
// workers than remaining documents.
func Partition(total, workers, start int) ([][]int, error) {
	if workers < 1 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidWorkers, workers)
	}
	if err := ValidateStart(start, total); err != nil {
		return nil, err
	}

	buckets := make([][]int, workers)
	for i := start; i <= total; i++ {
		b := (i - 1) % workers
		buckets[b] = append(buckets[b], i)
	}
	return buckets, nil
}

// ValidateStart checks that start lies within [1, total].
func ValidateStart(start, total int) error {
	if start < 1 || start > total {
		return fmt.Errorf("%w: %d not in [1, %d]", ErrStartOutOfRange, start, total)
	}
	return nil
}
