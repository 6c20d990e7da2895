package pg_outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/3eLLenKa/reviewdesk/internal/domain"
	"github.com/3eLLenKa/reviewdesk/internal/repository/postgres"
)

type OutboxRepo struct {
	db *sql.DB
}

func New(db *sql.DB) *OutboxRepo {
	return &OutboxRepo{db: db}
}

// Insert stores job as pending and fills in its sequence number.
func (r *OutboxRepo) Insert(ctx context.Context, job *domain.NotificationJob) error {
	query := `
		INSERT INTO notification_jobs (id, kind, recipient_id, project_id, requested_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING seq
	`
	err := postgres.Conn(ctx, r.db).QueryRowContext(ctx, query,
		job.ID, job.Kind, job.RecipientID, job.ProjectID, job.RequestedAt,
	).Scan(&job.Seq)
	if err != nil {
		return fmt.Errorf("error inserting notification job for project %s: %w", job.ProjectID, err)
	}
	return nil
}

// Pending returns undelivered jobs in submission order. A project whose
// earliest undelivered job is deferred past now is left out entirely, so a
// failing mailbox never occupies the batch window.
func (r *OutboxRepo) Pending(ctx context.Context, now time.Time, limit int) ([]domain.NotificationJob, error) {
	query := `
		SELECT j.seq, j.id, j.kind, j.recipient_id, j.project_id, j.requested_at,
			j.attempts, j.next_attempt_at, j.last_error
		FROM notification_jobs j
		WHERE j.delivered_at IS NULL
			AND NOT EXISTS (
				SELECT 1 FROM notification_jobs b
				WHERE b.project_id = j.project_id
					AND b.delivered_at IS NULL
					AND b.seq <= j.seq
					AND b.next_attempt_at > $1
			)
		ORDER BY j.seq
		LIMIT $2
	`
	rows, err := postgres.Conn(ctx, r.db).QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("error executing pending jobs query: %w", err)
	}
	defer rows.Close()

	jobs := make([]domain.NotificationJob, 0)
	for rows.Next() {
		var j domain.NotificationJob
		err := rows.Scan(&j.Seq, &j.ID, &j.Kind, &j.RecipientID, &j.ProjectID, &j.RequestedAt,
			&j.Attempts, &j.NextAttemptAt, &j.LastError)
		if err != nil {
			return nil, fmt.Errorf("error scanning notification job: %w", err)
		}
		jobs = append(jobs, j)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("rows iteration error in pending jobs: %w", rows.Err())
	}

	return jobs, nil
}

func (r *OutboxRepo) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	_, err := postgres.Conn(ctx, r.db).ExecContext(ctx,
		"UPDATE notification_jobs SET delivered_at = $1 WHERE id = $2 AND delivered_at IS NULL", at, id)
	if err != nil {
		return fmt.Errorf("error marking job %s delivered: %w", id, err)
	}
	return nil
}

// MarkFailed records a failed attempt and defers the job until next.
func (r *OutboxRepo) MarkFailed(ctx context.Context, id string, next time.Time, reason string) error {
	_, err := postgres.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE notification_jobs
		SET attempts = attempts + 1, next_attempt_at = $1, last_error = $2
		WHERE id = $3 AND delivered_at IS NULL
	`, next, reason, id)
	if err != nil {
		return fmt.Errorf("error deferring job %s: %w", id, err)
	}
	return nil
}
