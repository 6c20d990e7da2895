package pg_project

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/3eLLenKa/reviewdesk/internal/domain"
	"github.com/3eLLenKa/reviewdesk/internal/repository/postgres"
)

const projectColumns = `id, names, company, author_id, author_name, reviewer_id, reviewer_name,
	submitted_at, completed_at, page_count, urgent, archived, version`

type ProjectRepo struct {
	db *sql.DB
}

func New(db *sql.DB) *ProjectRepo {
	return &ProjectRepo{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProject(row scanner) (*domain.Project, error) {
	p := &domain.Project{}
	var names []byte
	var completedAt sql.NullTime

	err := row.Scan(
		&p.ID,
		&names,
		&p.Company,
		&p.AuthorID,
		&p.AuthorName,
		&p.ReviewerID,
		&p.ReviewerName,
		&p.SubmittedAt,
		&completedAt,
		&p.PageCount,
		&p.Urgent,
		&p.Archived,
		&p.Version,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrProjectNotFound
	}
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		t := completedAt.Time
		p.CompletedAt = &t
	}
	if err := json.Unmarshal(names, &p.Names); err != nil {
		return nil, fmt.Errorf("error decoding names of project %s: %w", p.ID, err)
	}
	return p, nil
}

func (r *ProjectRepo) Create(ctx context.Context, p *domain.Project) error {
	names, err := json.Marshal(p.Names)
	if err != nil {
		return fmt.Errorf("error encoding names of project %s: %w", p.ID, err)
	}

	query := `
		INSERT INTO projects (id, names, company, author_id, author_name, reviewer_id, reviewer_name,
			submitted_at, page_count, urgent, archived, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, FALSE, 1)
	`
	_, err = postgres.Conn(ctx, r.db).ExecContext(ctx, query,
		p.ID, names, p.Company, p.AuthorID, p.AuthorName, p.ReviewerID, p.ReviewerName,
		p.SubmittedAt, p.PageCount, p.Urgent,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return domain.ErrProjectExists
		}
		return fmt.Errorf("error inserting project %s: %w", p.ID, err)
	}

	p.Archived = false
	p.Version = 1
	return nil
}

func (r *ProjectRepo) Get(ctx context.Context, id string) (*domain.Project, error) {
	query := "SELECT " + projectColumns + " FROM projects WHERE id = $1"
	return scanProject(postgres.Conn(ctx, r.db).QueryRowContext(ctx, query, id))
}

// GetForUpdate locks the row until the surrounding transaction ends.
func (r *ProjectRepo) GetForUpdate(ctx context.Context, id string) (*domain.Project, error) {
	query := "SELECT " + projectColumns + " FROM projects WHERE id = $1 FOR UPDATE"
	return scanProject(postgres.Conn(ctx, r.db).QueryRowContext(ctx, query, id))
}

// Update writes every mutable column if the stored version still equals
// p.Version, then bumps the version.
func (r *ProjectRepo) Update(ctx context.Context, p *domain.Project) (*domain.Project, error) {
	query := `
		UPDATE projects
		SET author_name = $1, reviewer_id = $2, reviewer_name = $3, completed_at = $4,
			page_count = $5, urgent = $6, archived = $7, version = version + 1
		WHERE id = $8 AND version = $9
		RETURNING version
	`
	var completedAt sql.NullTime
	if p.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *p.CompletedAt, Valid: true}
	}

	out := p.Clone()
	err := postgres.Conn(ctx, r.db).QueryRowContext(ctx, query,
		p.AuthorName, p.ReviewerID, p.ReviewerName, completedAt,
		p.PageCount, p.Urgent, p.Archived, p.ID, p.Version,
	).Scan(&out.Version)
	if err == sql.ErrNoRows {
		return nil, domain.ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("error updating project %s: %w", p.ID, err)
	}
	return out, nil
}

func (r *ProjectRepo) Delete(ctx context.Context, id string) error {
	res, err := postgres.Conn(ctx, r.db).ExecContext(ctx, "DELETE FROM projects WHERE id = $1 AND NOT archived", id)
	if err != nil {
		return fmt.Errorf("error deleting project %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrCurrentNotFound
	}
	return nil
}

func (r *ProjectRepo) CountCurrentByReviewer(ctx context.Context, reviewerID string) (int, error) {
	var n int
	query := "SELECT COUNT(*) FROM projects WHERE reviewer_id = $1 AND NOT archived"
	if err := postgres.Conn(ctx, r.db).QueryRowContext(ctx, query, reviewerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("error counting projects of reviewer %s: %w", reviewerID, err)
	}
	return n, nil
}

func (r *ProjectRepo) ListCurrent(ctx context.Context, page domain.Page) ([]*domain.Project, int, error) {
	return r.list(ctx, []string{"NOT archived"}, nil, "urgent DESC, submitted_at, id", page)
}

func (r *ProjectRepo) SearchHistory(ctx context.Context, f domain.HistoryFilter, page domain.Page) ([]*domain.Project, int, error) {
	where := []string{"archived"}
	args := []any{}

	add := func(cond string, value string) {
		args = append(args, postgres.LikePattern(value))
		where = append(where, strings.ReplaceAll(cond, "$?", fmt.Sprintf("$%d", len(args))))
	}

	if f.Code != "" {
		add("EXISTS (SELECT 1 FROM jsonb_object_keys(names) AS k WHERE k ILIKE $?)", f.Code)
	}
	if f.Name != "" {
		add("EXISTS (SELECT 1 FROM jsonb_each_text(names) AS n WHERE n.value ILIKE $?)", f.Name)
	}
	if f.Company != "" {
		add("company ILIKE $?", f.Company)
	}
	if f.Author != "" {
		add("(author_name ILIKE $? OR author_id ILIKE $?)", f.Author)
	}

	return r.list(ctx, where, args, "completed_at DESC, id", page)
}

func (r *ProjectRepo) list(ctx context.Context, where []string, args []any, orderBy string, page domain.Page) ([]*domain.Project, int, error) {
	page = page.Normalize()
	conn := postgres.Conn(ctx, r.db)
	cond := strings.Join(where, " AND ")

	var total int
	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM projects WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("error counting projects: %w", err)
	}

	n := len(args)
	query := fmt.Sprintf("SELECT %s FROM projects WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d",
		projectColumns, cond, orderBy, n+1, n+2)
	rows, err := conn.QueryContext(ctx, query, append(args, page.Size, page.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("error executing project list query: %w", err)
	}
	defer rows.Close()

	projects := make([]*domain.Project, 0, page.Size)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("error scanning project row: %w", err)
		}
		projects = append(projects, p)
	}

	return projects, total, rows.Err()
}
