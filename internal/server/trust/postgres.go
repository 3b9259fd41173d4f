package trust

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
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const recordColumns = `id, recipient, fingerprint, score, trusted, blocked,
	user_agent, last_ip, access_count, failed_attempts,
	first_seen, last_seen, blocked_by, blocked_reason, trusted_by`

func scanRecord(row *sql.Row) (*Record, error) {
	rec := &Record{}
	var userAgent, lastIP, blockedBy, blockedReason, trustedBy sql.NullString

	err := row.Scan(&rec.ID, &rec.Recipient, &rec.Fingerprint, &rec.Score, &rec.Trusted, &rec.Blocked,
		&userAgent, &lastIP, &rec.AccessCount, &rec.FailedAttempts,
		&rec.FirstSeen, &rec.LastSeen, &blockedBy, &blockedReason, &trustedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	rec.UserAgent = userAgent.String
	rec.LastIP = lastIP.String
	rec.BlockedBy = blockedBy.String
	rec.BlockedReason = blockedReason.String
	rec.TrustedBy = trustedBy.String
	return rec, nil
}

// GetOrCreate relies on the unique (recipient, fingerprint) index: the
// insert is a no-op when the row already exists, so two concurrent first
// attempts from the same fingerprint converge on one record. Insert and
// read-back run in one transaction so the read sees the insert on the
// same connection.
func (r *PostgresRepository) GetOrCreate(ctx context.Context, recipient, fingerprint string, now time.Time) (*Record, bool, error) {

	var rec *Record
	var inserted int64

	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		insert :=
			`INSERT INTO trust_records (recipient, fingerprint, score, first_seen, last_seen)
			 VALUES ($1, $2, $3, $4, $4)
			 ON CONFLICT (recipient, fingerprint) DO NOTHING`

		res, err := tx.ExecContext(ctx, insert, recipient, fingerprint, ScoreNewDevice, now)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		inserted, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}

		query := `SELECT ` + recordColumns + ` FROM trust_records WHERE recipient = $1 AND fingerprint = $2`
		rec, err = scanRecord(tx.QueryRowContext(ctx, query, recipient, fingerprint))
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return rec, inserted > 0, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM trust_records WHERE id = $1`
	return scanRecord(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) Update(ctx context.Context, rec *Record) error {

	query :=
		`UPDATE trust_records
		 SET score = $2, trusted = $3, blocked = $4,
		     user_agent = NULLIF($5, ''), last_ip = NULLIF($6, ''),
		     access_count = $7, failed_attempts = $8, last_seen = $9,
		     blocked_by = NULLIF($10, ''), blocked_reason = NULLIF($11, ''), trusted_by = NULLIF($12, '')
		 WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.Score, rec.Trusted, rec.Blocked,
		rec.UserAgent, rec.LastIP,
		rec.AccessCount, rec.FailedAttempts, rec.LastSeen,
		rec.BlockedBy, rec.BlockedReason, rec.TrustedBy)
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

func (r *PostgresRepository) ListByRecipient(ctx context.Context, recipient string) ([]*Record, error) {

	query := `SELECT ` + recordColumns + ` FROM trust_records WHERE recipient = $1 ORDER BY last_seen DESC`

	rows, err := r.db.QueryContext(ctx, query, recipient)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec := &Record{}
		var userAgent, lastIP, blockedBy, blockedReason, trustedBy sql.NullString

		err := rows.Scan(&rec.ID, &rec.Recipient, &rec.Fingerprint, &rec.Score, &rec.Trusted, &rec.Blocked,
			&userAgent, &lastIP, &rec.AccessCount, &rec.FailedAttempts,
			&rec.FirstSeen, &rec.LastSeen, &blockedBy, &blockedReason, &trustedBy)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		rec.UserAgent = userAgent.String
		rec.LastIP = lastIP.String
		rec.BlockedBy = blockedBy.String
		rec.BlockedReason = blockedReason.String
		rec.TrustedBy = trustedBy.String
		out = append(out, rec)
	}
	return out, rows.Err()
}
