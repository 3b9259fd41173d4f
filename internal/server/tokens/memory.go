package tokens

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/contractorvault/broker/internal/common"
	"github.com/google/uuid"
)

// MemoryRepository implements Repository with a mutex, preserving the
// same conditional-transition semantics as the Postgres implementation.
// Used by unit tests and the broker test suite.
type MemoryRepository struct {
	mu   sync.Mutex
	rows map[string]*Token // keyed by ID
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[string]*Token)}
}

func (r *MemoryRepository) Create(ctx context.Context, token *Token) (*Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *token
	cp.ID = uuid.NewString()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	r.rows[cp.ID] = &cp

	out := cp
	return &out, nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.rows[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	out := *t
	return &out, nil
}

func (r *MemoryRepository) GetBySecretHash(ctx context.Context, secretHash string) (*Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.findBySecretHashLocked(secretHash)
	if t == nil {
		return nil, common.ErrNotFound
	}
	out := *t
	return &out, nil
}

func (r *MemoryRepository) findBySecretHashLocked(secretHash string) *Token {
	for _, t := range r.rows {
		if t.SecretHash == secretHash {
			return t
		}
	}
	return nil
}

func (r *MemoryRepository) Redeem(ctx context.Context, secretHash string, now time.Time) (*Token, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.findBySecretHashLocked(secretHash)
	if t == nil {
		return nil, false, common.ErrNotFound
	}

	if t.RevokedAt != nil || !t.ExpiresAt.After(now) || (t.SingleUse && t.UseCount > 0) {
		out := *t
		return &out, false, nil
	}

	t.UseCount++
	used := now
	t.LastUsedAt = &used

	out := *t
	return &out, true, nil
}

func (r *MemoryRepository) Revoke(ctx context.Context, id string, now time.Time, actor, reason string) (*Token, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.rows[id]
	if !ok {
		return nil, false, common.ErrNotFound
	}

	if t.RevokedAt != nil {
		out := *t
		return &out, false, nil
	}

	at := now
	t.RevokedAt = &at
	t.RevokedBy = actor
	t.RevokedReason = reason

	out := *t
	return &out, true, nil
}

func (r *MemoryRepository) RevokeAll(ctx context.Context, recipient string, now time.Time, actor, reason string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, t := range r.rows {
		if t.Recipient != recipient || t.RevokedAt != nil || t.CreatedAt.After(now) {
			continue
		}
		at := now
		t.RevokedAt = &at
		t.RevokedBy = actor
		t.RevokedReason = reason
		n++
	}
	return n, nil
}

func (r *MemoryRepository) ListByIssuer(ctx context.Context, issuer string) ([]*Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Token
	for _, t := range r.rows {
		if t.IssuedBy == issuer {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
