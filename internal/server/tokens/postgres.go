package tokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/contractorvault/broker/internal/common"
	"github.com/contractorvault/broker/internal/dbx"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const tokenColumns = `id, secret_hash, artifact_id, recipient, allowed_ip, single_use,
	use_count, issued_by, created_at, expires_at, last_used_at,
	revoked_at, revoked_by, revoked_reason`

func scanToken(row *sql.Row) (*Token, error) {
	t := &Token{}
	var allowedIP, revokedBy, revokedReason sql.NullString
	var lastUsedAt, revokedAt sql.NullTime

	err := row.Scan(&t.ID, &t.SecretHash, &t.ArtifactID, &t.Recipient, &allowedIP, &t.SingleUse,
		&t.UseCount, &t.IssuedBy, &t.CreatedAt, &t.ExpiresAt, &lastUsedAt,
		&revokedAt, &revokedBy, &revokedReason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	t.AllowedIP = allowedIP.String
	t.RevokedBy = revokedBy.String
	t.RevokedReason = revokedReason.String
	if lastUsedAt.Valid {
		v := lastUsedAt.Time
		t.LastUsedAt = &v
	}
	if revokedAt.Valid {
		v := revokedAt.Time
		t.RevokedAt = &v
	}
	return t, nil
}

func (r *PostgresRepository) Create(ctx context.Context, token *Token) (*Token, error) {

	query :=
		`INSERT INTO tokens (secret_hash, artifact_id, recipient, allowed_ip, single_use, issued_by, expires_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
		 RETURNING id, created_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		token.SecretHash, token.ArtifactID, token.Recipient, token.AllowedIP,
		token.SingleUse, token.IssuedBy, token.ExpiresAt).
		Scan(&token.ID, &token.CreatedAt)

	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return token, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Token, error) {
	query := `SELECT ` + tokenColumns + ` FROM tokens WHERE id = $1`
	return scanToken(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) GetBySecretHash(ctx context.Context, secretHash string) (*Token, error) {
	query := `SELECT ` + tokenColumns + ` FROM tokens WHERE secret_hash = $1`
	return scanToken(r.db.QueryRowContext(ctx, query, secretHash))
}

// Redeem performs the redemption transition as a single conditional
// UPDATE. The WHERE clause is the compare-and-set: a concurrent revoke
// that commits first makes the row no longer match, so the redeem loses
// and the follow-up read reports the post-revocation state.
func (r *PostgresRepository) Redeem(ctx context.Context, secretHash string, now time.Time) (*Token, bool, error) {

	query :=
		`UPDATE tokens
		 SET use_count = use_count + 1, last_used_at = $2
		 WHERE secret_hash = $1
		   AND revoked_at IS NULL
		   AND expires_at > $2
		   AND (single_use = FALSE OR use_count = 0)
		 RETURNING ` + tokenColumns

	t, err := scanToken(r.db.QueryRowContext(ctx, query, secretHash, now))
	if err == nil {
		return t, true, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, false, err
	}

	// Lost the CAS or the token never existed; report the current row.
	t, err = r.GetBySecretHash(ctx, secretHash)
	if err != nil {
		return nil, false, err
	}
	return t, false, nil
}

func (r *PostgresRepository) Revoke(ctx context.Context, id string, now time.Time, actor, reason string) (*Token, bool, error) {

	query :=
		`UPDATE tokens
		 SET revoked_at = $2, revoked_by = $3, revoked_reason = $4
		 WHERE id = $1 AND revoked_at IS NULL
		 RETURNING ` + tokenColumns

	t, err := scanToken(r.db.QueryRowContext(ctx, query, id, now, actor, reason))
	if err == nil {
		return t, true, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, false, err
	}

	t, err = r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return t, false, nil
}

// RevokeAll is one statement, so its snapshot semantics come directly
// from the database: rows created after the statement's snapshot are not
// visible to it and stay valid.
func (r *PostgresRepository) RevokeAll(ctx context.Context, recipient string, now time.Time, actor, reason string) (int64, error) {

	query :=
		`UPDATE tokens
		 SET revoked_at = $2, revoked_by = $3, revoked_reason = $4
		 WHERE recipient = $1 AND revoked_at IS NULL AND created_at <= $2`

	res, err := r.db.ExecContext(ctx, query, recipient, now, actor, reason)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) ListByIssuer(ctx context.Context, issuer string) ([]*Token, error) {

	query := `SELECT ` + tokenColumns + ` FROM tokens WHERE issued_by = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, issuer)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*Token
	for rows.Next() {
		t := &Token{}
		var allowedIP, revokedBy, revokedReason sql.NullString
		var lastUsedAt, revokedAt sql.NullTime

		err := rows.Scan(&t.ID, &t.SecretHash, &t.ArtifactID, &t.Recipient, &allowedIP, &t.SingleUse,
			&t.UseCount, &t.IssuedBy, &t.CreatedAt, &t.ExpiresAt, &lastUsedAt,
			&revokedAt, &revokedBy, &revokedReason)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		t.AllowedIP = allowedIP.String
		t.RevokedBy = revokedBy.String
		t.RevokedReason = revokedReason.String
		if lastUsedAt.Valid {
			v := lastUsedAt.Time
			t.LastUsedAt = &v
		}
		if revokedAt.Valid {
			v := revokedAt.Time
			t.RevokedAt = &v
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
