// Package storage wires the repository implementations to a concrete
// backend and owns schema migrations.
package storage

import (
	"context"
	"database/sql"

	"github.com/contractorvault/broker/internal/server/artifacts"
	"github.com/contractorvault/broker/internal/server/audit"
	"github.com/contractorvault/broker/internal/server/tokens"
	"github.com/contractorvault/broker/internal/server/trust"
)

type RepositoryManager interface {
	RunMigrations(ctx context.Context) error
	Conn() *sql.DB
	Artifacts() artifacts.Repository
	Tokens() tokens.Repository
	Trust() trust.Repository
	Audit() audit.Repository
	Close() error
}
