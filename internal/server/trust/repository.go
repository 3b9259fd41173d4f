package trust

import (
	"context"
	"time"
)

type Repository interface {
	// GetOrCreate returns the record for (recipient, fingerprint),
	// creating it with the new-device baseline score on first sight.
	// The bool reports whether the record was just created.
	GetOrCreate(ctx context.Context, recipient, fingerprint string, now time.Time) (*Record, bool, error)

	GetByID(ctx context.Context, id string) (*Record, error)

	// Update persists the evaluator's mutated copy of a record.
	Update(ctx context.Context, rec *Record) error

	ListByRecipient(ctx context.Context, recipient string) ([]*Record, error)
}
