package checkpoint

import (
	"context"
	"errors"
	"fmt"
)

// Report is the completeness of a store for a batch of Total documents.
type Report struct {
	Total int

	// First and Last are the lowest and highest index present (0 when the
	// store is empty).
	First int
	Last  int

	Present int
	Missing []int
	Failed  []int
}

// Complete reports whether every index has a successful artifact.
func (r Report) Complete() bool {
	return len(r.Missing) == 0 && len(r.Failed) == 0
}

// Padded returns indices zero-padded to the batch width.
func (r Report) Padded(indices []int) []string {
	out := make([]string, len(indices))
	for i, idx := range indices {
		out[i] = Key{Index: idx, Total: r.Total}.Padded()
	}
	return out
}

// Verify checks indices 1..total of store.
func Verify(ctx context.Context, store Store, total int) (Report, error) {
	if total < 1 {
		return Report{}, fmt.Errorf("total must be >= 1 (got %d)", total)
	}

	report := Report{Total: total}
	for i := 1; i <= total; i++ {
		a, err := store.Read(ctx, i)
		if errors.Is(err, ErrNotFound) {
			report.Missing = append(report.Missing, i)
			continue
		}
		if err != nil {
			return report, fmt.Errorf("verify index %d: %w", i, err)
		}

		report.Present++
		if report.First == 0 {
			report.First = i
		}
		report.Last = i
		if a.Failed {
			report.Failed = append(report.Failed, i)
		}
	}
	return report, nil
}
