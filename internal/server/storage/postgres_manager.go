package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/contractorvault/broker/internal/server/artifacts"
	"github.com/contractorvault/broker/internal/server/audit"
	"github.com/contractorvault/broker/internal/server/migrations"
	"github.com/contractorvault/broker/internal/server/tokens"
	"github.com/contractorvault/broker/internal/server/trust"
)

type PostgresRepositoryManager struct {
	db        *sql.DB
	artifacts artifacts.Repository
	tokens    tokens.Repository
	trust     trust.Repository
	audit     audit.Repository
}

func (m *PostgresRepositoryManager) Conn() *sql.DB {
	return m.db
}

func (m *PostgresRepositoryManager) Artifacts() artifacts.Repository {
	return m.artifacts
}

func (m *PostgresRepositoryManager) Tokens() tokens.Repository {
	return m.tokens
}

func (m *PostgresRepositoryManager) Trust() trust.Repository {
	return m.trust
}

func (m *PostgresRepositoryManager) Audit() audit.Repository {
	return m.audit
}

func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}

	if err := goose.UpContext(ctx, m.db, "."); err != nil {
		return err
	}

	return nil
}

func (m *PostgresRepositoryManager) Close() error {
	return m.db.Close()
}

func NewPostgresRepositoryManager(dsn string) (RepositoryManager, error) {

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	m := &PostgresRepositoryManager{
		db:        db,
		artifacts: artifacts.NewPostgresRepository(db),
		tokens:    tokens.NewPostgresRepository(db),
		trust:     trust.NewPostgresRepository(db),
		audit:     audit.NewPostgresRepository(db),
	}

	if err := m.RunMigrations(context.Background()); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	return m, nil
}
