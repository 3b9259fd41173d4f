package audit

import "context"

// Repository persists audit entries. The interface deliberately has no
// update or delete operations.
type Repository interface {
	Append(ctx context.Context, entry Entry) error

	// Stream walks matching entries in id order, invoking fn per entry
	// without materializing the whole result set. fn returning an error
	// stops the walk.
	Stream(ctx context.Context, filter Filter, fn func(Entry) error) error
}
