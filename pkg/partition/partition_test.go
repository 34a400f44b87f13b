package partition

import (
	"errors"
	"sort"
	"testing"
)

func TestPartition_UnionAndDisjoint(t *testing.T) {
	for total := 1; total <= 40; total++ {
		for workers := 1; workers <= total; workers++ {
			buckets, err := Partition(total, workers, 1)
			if err != nil {
				t.Fatalf("Partition(%d, %d, 1) error = %v", total, workers, err)
			}
			if len(buckets) != workers {
				t.Fatalf("Partition(%d, %d, 1) returned %d buckets", total, workers, len(buckets))
			}

			seen := make(map[int]bool)
			var all []int
			for _, bucket := range buckets {
				for _, idx := range bucket {
					if seen[idx] {
						t.Fatalf("index %d assigned twice (total=%d workers=%d)", idx, total, workers)
					}
					seen[idx] = true
					all = append(all, idx)
				}
			}
			sort.Ints(all)
			if len(all) != total {
				t.Fatalf("union has %d indices, want %d", len(all), total)
			}
			for i, idx := range all {
				if idx != i+1 {
					t.Fatalf("union[%d] = %d, want %d", i, idx, i+1)
				}
			}
		}
	}
}

func TestPartition_Stride(t *testing.T) {
	buckets, err := Partition(7, 3, 1)
	if err != nil {
		t.Fatalf("Partition() error = %v", err)
	}

	want := [][]int{{1, 4, 7}, {2, 5}, {3, 6}}
	for b := range want {
		if len(buckets[b]) != len(want[b]) {
			t.Fatalf("bucket %d = %v, want %v", b, buckets[b], want[b])
		}
		for i := range want[b] {
			if buckets[b][i] != want[b][i] {
				t.Errorf("bucket %d = %v, want %v", b, buckets[b], want[b])
				break
			}
		}
	}
}

func TestPartition_StartIndex(t *testing.T) {
	buckets, err := Partition(5, 2, 3)
	if err != nil {
		t.Fatalf("Partition() error = %v", err)
	}

	// 3 -> bucket 0, 4 -> bucket 1, 5 -> bucket 0
	if len(buckets[0]) != 2 || buckets[0][0] != 3 || buckets[0][1] != 5 {
		t.Errorf("bucket 0 = %v, want [3 5]", buckets[0])
	}
	if len(buckets[1]) != 1 || buckets[1][0] != 4 {
		t.Errorf("bucket 1 = %v, want [4]", buckets[1])
	}
}

func TestPartition_MoreWorkersThanDocuments(t *testing.T) {
	buckets, err := Partition(2, 4, 1)
	if err != nil {
		t.Fatalf("Partition() error = %v", err)
	}
	if len(buckets) != 4 {
		t.Fatalf("got %d buckets, want 4", len(buckets))
	}
	if len(buckets[2]) != 0 || len(buckets[3]) != 0 {
		t.Errorf("expected trailing buckets to be empty, got %v", buckets)
	}
}

func TestPartition_Errors(t *testing.T) {
	tests := []struct {
		name    string
		total   int
		workers int
		start   int
		wantErr error
	}{
		{name: "zero workers", total: 5, workers: 0, start: 1, wantErr: ErrInvalidWorkers},
		{name: "start below range", total: 5, workers: 2, start: 0, wantErr: ErrStartOutOfRange},
		{name: "start above range", total: 5, workers: 2, start: 6, wantErr: ErrStartOutOfRange},
		{name: "empty input", total: 0, workers: 1, start: 1, wantErr: ErrStartOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Partition(tt.total, tt.workers, tt.start)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Partition() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
