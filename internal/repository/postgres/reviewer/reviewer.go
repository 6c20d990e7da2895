package pg_reviewer

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/3eLLenKa/reviewdesk/internal/domain"
	"github.com/3eLLenKa/reviewdesk/internal/repository/postgres"
)

// registryLockKey identifies the advisory lock that serializes queue mutations.
const registryLockKey int64 = 0x72657669657772

const reviewerColumns = "id, name, email, role, status, pending_page_delta, skipped_last_round, queue_rank"

type ReviewerRepo struct {
	db *sql.DB
}

func New(db *sql.DB) *ReviewerRepo {
	return &ReviewerRepo{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReviewer(row scanner) (*domain.Reviewer, error) {
	r := &domain.Reviewer{}
	err := row.Scan(
		&r.ID,
		&r.Name,
		&r.Email,
		&r.Role,
		&r.Status,
		&r.PendingPageDelta,
		&r.SkippedLastRound,
		&r.Rank,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrReviewerNotFound
	}
	return r, err
}

// LockRegistry takes the transaction-scoped registry lock. It only has an
// effect when ctx carries a transaction.
func (r *ReviewerRepo) LockRegistry(ctx context.Context) error {
	_, err := postgres.Conn(ctx, r.db).ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", registryLockKey)
	if err != nil {
		return fmt.Errorf("error taking registry lock: %w", err)
	}
	return nil
}

func (r *ReviewerRepo) GetByID(ctx context.Context, id string) (*domain.Reviewer, error) {
	query := "SELECT " + reviewerColumns + " FROM reviewers WHERE id = $1"
	return scanReviewer(postgres.Conn(ctx, r.db).QueryRowContext(ctx, query, id))
}

func (r *ReviewerRepo) List(ctx context.Context) ([]domain.Reviewer, error) {
	query := "SELECT " + reviewerColumns + " FROM reviewers ORDER BY id"
	rows, err := postgres.Conn(ctx, r.db).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error executing reviewer list query: %w", err)
	}
	defer rows.Close()

	reviewers := make([]domain.Reviewer, 0)
	for rows.Next() {
		rv, err := scanReviewer(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning reviewer row: %w", err)
		}
		reviewers = append(reviewers, *rv)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("rows iteration error in reviewer list: %w", rows.Err())
	}

	return reviewers, nil
}

// Upsert inserts a reviewer at rv.Rank or refreshes the identity fields of an
// existing one, keeping its queue state.
func (r *ReviewerRepo) Upsert(ctx context.Context, rv domain.Reviewer) (*domain.Reviewer, error) {
	query := `
		INSERT INTO reviewers (id, name, email, role, status, queue_rank)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			role = EXCLUDED.role
		RETURNING ` + reviewerColumns

	row := postgres.Conn(ctx, r.db).QueryRowContext(ctx, query, rv.ID, rv.Name, rv.Email, rv.Role, rv.Status, rv.Rank)
	out, err := scanReviewer(row)
	if err != nil {
		return nil, fmt.Errorf("error upserting reviewer %s: %w", rv.ID, err)
	}
	return out, nil
}

func (r *ReviewerRepo) SetStatus(ctx context.Context, id string, status domain.ReviewerStatus) (*domain.Reviewer, error) {
	query := "UPDATE reviewers SET status = $1 WHERE id = $2 RETURNING " + reviewerColumns
	return scanReviewer(postgres.Conn(ctx, r.db).QueryRowContext(ctx, query, status, id))
}

// Save writes the queue state of rv: status, workload, skip flag and rank.
func (r *ReviewerRepo) Save(ctx context.Context, rv domain.Reviewer) error {
	query := `
		UPDATE reviewers
		SET status = $1, pending_page_delta = $2, skipped_last_round = $3, queue_rank = $4
		WHERE id = $5
	`
	res, err := postgres.Conn(ctx, r.db).ExecContext(ctx, query, rv.Status, rv.PendingPageDelta, rv.SkippedLastRound, rv.Rank, rv.ID)
	if err != nil {
		return fmt.Errorf("error saving reviewer %s: %w", rv.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrReviewerNotFound
	}
	return nil
}
