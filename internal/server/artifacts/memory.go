package artifacts

import (
	"context"
	"sync"
	"time"

	"github.com/contractorvault/broker/internal/common"
	"github.com/google/uuid"
)

// MemoryRepository is a mutex-guarded in-memory Repository used by unit
// tests and the broker test suite.
type MemoryRepository struct {
	mu    sync.RWMutex
	rows  map[string]*Artifact
	clock func() time.Time
}

func NewMemoryRepository(clock func() time.Time) *MemoryRepository {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryRepository{rows: make(map[string]*Artifact), clock: clock}
}

func (r *MemoryRepository) Create(ctx context.Context, artifact *Artifact) (*Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *artifact
	cp.ID = uuid.NewString()
	cp.Active = true
	cp.CreatedAt = r.clock()
	r.rows[cp.ID] = &cp

	out := cp
	return &out, nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*Artifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.rows[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	out := *a
	return &out, nil
}

func (r *MemoryRepository) Deactivate(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.rows[id]
	if !ok {
		return common.ErrNotFound
	}
	a.Active = false
	return nil
}
