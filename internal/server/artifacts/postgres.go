package artifacts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/contractorvault/broker/internal/common"
	"github.com/contractorvault/broker/internal/dbx"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, artifact *Artifact) (*Artifact, error) {

	query :=
		`INSERT INTO artifacts (owner_id, label, target_ref, sealed_payload, active)
		 VALUES ($1, $2, $3, $4, TRUE)
		 RETURNING id, created_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		artifact.Owner, artifact.Label, artifact.TargetRef, artifact.SealedPayload).
		Scan(&artifact.ID, &artifact.CreatedAt)

	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	artifact.Active = true
	return artifact, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Artifact, error) {

	query :=
		`SELECT id, owner_id, label, target_ref, sealed_payload, active, created_at
		 FROM artifacts
		 WHERE id = $1
		 `

	a := &Artifact{}
	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&a.ID, &a.Owner, &a.Label, &a.TargetRef, &a.SealedPayload, &a.Active, &a.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return a, nil
}

func (r *PostgresRepository) Deactivate(ctx context.Context, id string) error {

	query := `UPDATE artifacts SET active = FALSE WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}

	return nil
}
