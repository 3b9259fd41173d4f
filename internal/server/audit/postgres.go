package audit

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/contractorvault/broker/internal/dbx"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Append(ctx context.Context, entry Entry) error {

	query :=
		`INSERT INTO audit_entries (id, actor, action, target, ip, detail, ts)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7)`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.Actor, string(entry.Action), entry.Target, entry.IP, entry.Detail, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Stream iterates rows straight off the cursor so exports never hold the
// whole log in memory.
func (r *PostgresRepository) Stream(ctx context.Context, filter Filter, fn func(Entry) error) error {

	var sb strings.Builder
	sb.WriteString(`SELECT id, actor, action, target, COALESCE(ip, ''), COALESCE(detail, ''), ts FROM audit_entries`)

	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, cond+"$"+strconv.Itoa(len(args)))
	}

	if filter.Actor != "" {
		add("actor = ", filter.Actor)
	}
	if filter.Action != "" {
		add("action = ", string(filter.Action))
	}
	if filter.Target != "" {
		add("target = ", filter.Target)
	}
	if !filter.From.IsZero() {
		add("ts >= ", filter.From)
	}
	if !filter.To.IsZero() {
		add("ts <= ", filter.To)
	}

	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	sb.WriteString(" ORDER BY id")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		sb.WriteString(" LIMIT $" + strconv.Itoa(len(args)))
	}

	rows, err := r.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e Entry
		var action string
		if err := rows.Scan(&e.ID, &e.Actor, &action, &e.Target, &e.IP, &e.Detail, &e.Timestamp); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		e.Action = Action(action)
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}
