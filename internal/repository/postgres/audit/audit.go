package pg_audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/3eLLenKa/reviewdesk/internal/domain"
	"github.com/3eLLenKa/reviewdesk/internal/repository/postgres"
)

type AuditRepo struct {
	db *sql.DB
}

func New(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

func (r *AuditRepo) Record(ctx context.Context, e domain.AuditEntry) error {
	query := "INSERT INTO audit_log (actor, action, target_id, detail, at) VALUES ($1, $2, $3, $4, $5)"
	_, err := postgres.Conn(ctx, r.db).ExecContext(ctx, query, e.Actor, e.Action, e.TargetID, e.Detail, e.At)
	if err != nil {
		return fmt.Errorf("error recording audit entry %s on %s: %w", e.Action, e.TargetID, err)
	}
	return nil
}

func (r *AuditRepo) ListByTarget(ctx context.Context, targetID string) ([]domain.AuditEntry, error) {
	query := "SELECT actor, action, target_id, detail, at FROM audit_log WHERE target_id = $1 ORDER BY id"
	rows, err := postgres.Conn(ctx, r.db).QueryContext(ctx, query, targetID)
	if err != nil {
		return nil, fmt.Errorf("error executing audit query for %s: %w", targetID, err)
	}
	defer rows.Close()

	entries := make([]domain.AuditEntry, 0)
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.Actor, &e.Action, &e.TargetID, &e.Detail, &e.At); err != nil {
			return nil, fmt.Errorf("error scanning audit row for %s: %w", targetID, err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}
