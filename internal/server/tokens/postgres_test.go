package tokens

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/contractorvault/broker/internal/common"
)

func tokenRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "secret_hash", "artifact_id", "recipient", "allowed_ip", "single_use",
		"use_count", "issued_by", "created_at", "expires_at", "last_used_at",
		"revoked_at", "revoked_by", "revoked_reason",
	})
}

func TestPostgresRedeem_CASWins(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	rows := tokenRows().AddRow(
		"tok-1", "hash", "art-1", "dev@example.com", nil, true,
		1, "owner@example.com", now.Add(-time.Minute), now.Add(time.Hour), now,
		nil, nil, nil,
	)

	mock.ExpectQuery("UPDATE tokens").
		WithArgs("hash", now).
		WillReturnRows(rows)

	repo := NewPostgresRepository(db)
	tok, won, err := repo.Redeem(context.Background(), "hash", now)
	if err != nil {
		t.Fatalf("Redeem error: %v", err)
	}
	if !won {
		t.Fatalf("expected CAS to win")
	}
	if tok.UseCount != 1 || !tok.SingleUse {
		t.Errorf("row not scanned: %+v", tok)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresRedeem_CASLosesToRevoke(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()

	// CAS matches no rows, follow-up read shows the revoked row.
	mock.ExpectQuery("UPDATE tokens").
		WithArgs("hash", now).
		WillReturnRows(tokenRows())

	revoked := tokenRows().AddRow(
		"tok-1", "hash", "art-1", "dev@example.com", nil, false,
		0, "owner@example.com", now.Add(-time.Minute), now.Add(time.Hour), nil,
		now, "owner@example.com", "kill switch",
	)
	mock.ExpectQuery("SELECT (.+) FROM tokens WHERE secret_hash").
		WithArgs("hash").
		WillReturnRows(revoked)

	repo := NewPostgresRepository(db)
	tok, won, err := repo.Redeem(context.Background(), "hash", now)
	if err != nil {
		t.Fatalf("Redeem error: %v", err)
	}
	if won {
		t.Fatalf("CAS must lose against the revoked row")
	}
	if tok.RevokedAt == nil {
		t.Errorf("post-transition row must carry revoked_at")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresRedeem_UnknownToken(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery("UPDATE tokens").WillReturnRows(tokenRows())
	mock.ExpectQuery("SELECT (.+) FROM tokens WHERE secret_hash").WillReturnRows(tokenRows())

	repo := NewPostgresRepository(db)
	if _, _, err := repo.Redeem(context.Background(), "hash", now); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresRevokeAll_CountsRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectExec("UPDATE tokens").
		WithArgs("dev@example.com", now, "owner@example.com", "offboarding").
		WillReturnResult(sqlmock.NewResult(0, 4))

	repo := NewPostgresRepository(db)
	n, err := repo.RevokeAll(context.Background(), "dev@example.com", now, "owner@example.com", "offboarding")
	if err != nil {
		t.Fatalf("RevokeAll error: %v", err)
	}
	if n != 4 {
		t.Errorf("revoked count = %d, want 4", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
