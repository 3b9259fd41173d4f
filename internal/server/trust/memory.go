package trust

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/contractorvault/broker/internal/common"
	"github.com/google/uuid"
)

type MemoryRepository struct {
	mu   sync.Mutex
	rows map[string]*Record // keyed by ID
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[string]*Record)}
}

func (r *MemoryRepository) GetOrCreate(ctx context.Context, recipient, fingerprint string, now time.Time) (*Record, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.rows {
		if rec.Recipient == recipient && rec.Fingerprint == fingerprint {
			out := *rec
			return &out, false, nil
		}
	}

	rec := &Record{
		ID:          uuid.NewString(),
		Recipient:   recipient,
		Fingerprint: fingerprint,
		Score:       ScoreNewDevice,
		FirstSeen:   now,
		LastSeen:    now,
	}
	r.rows[rec.ID] = rec

	out := *rec
	return &out, true, nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.rows[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	out := *rec
	return &out, nil
}

func (r *MemoryRepository) Update(ctx context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rows[rec.ID]; !ok {
		return common.ErrNotFound
	}
	cp := *rec
	r.rows[rec.ID] = &cp
	return nil
}

func (r *MemoryRepository) ListByRecipient(ctx context.Context, recipient string) ([]*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Record
	for _, rec := range r.rows {
		if rec.Recipient == recipient {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	return out, nil
}
