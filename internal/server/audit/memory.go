package audit

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository keeps entries in an append-only slice. Used by tests.
type MemoryRepository struct {
	mu      sync.Mutex
	entries []Entry
	failN   int // fail the next N appends, for retry tests
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

// FailNextAppends makes the next n Append calls return an error,
// simulating transient storage failure.
func (r *MemoryRepository) FailNextAppends(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failN = n
}

func (r *MemoryRepository) Append(ctx context.Context, entry Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failN > 0 {
		r.failN--
		return context.DeadlineExceeded
	}
	r.entries = append(r.entries, entry)
	return nil
}

func (r *MemoryRepository) Stream(ctx context.Context, filter Filter, fn func(Entry) error) error {
	r.mu.Lock()
	snapshot := make([]Entry, len(r.entries))
	copy(snapshot, r.entries)
	r.mu.Unlock()

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].ID < snapshot[j].ID })

	var n int
	for _, e := range snapshot {
		if filter.Actor != "" && e.Actor != filter.Actor {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.Target != "" && e.Target != filter.Target {
			continue
		}
		if !filter.From.IsZero() && e.Timestamp.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && e.Timestamp.After(filter.To) {
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
		n++
		if filter.Limit > 0 && n >= filter.Limit {
			return nil
		}
	}
	return nil
}

// Entries returns a copy of the stored entries in append order.
func (r *MemoryRepository) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len reports the number of stored entries.
func (r *MemoryRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
