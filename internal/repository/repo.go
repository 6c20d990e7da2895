package repository

import (
	"database/sql"

	pg_audit "github.com/3eLLenKa/reviewdesk/internal/repository/postgres/audit"
	pg_outbox "github.com/3eLLenKa/reviewdesk/internal/repository/postgres/outbox"
	pg_project "github.com/3eLLenKa/reviewdesk/internal/repository/postgres/project"
	pg_reviewer "github.com/3eLLenKa/reviewdesk/internal/repository/postgres/reviewer"
)

type Repositories struct {
	Reviewer *pg_reviewer.ReviewerRepo
	Project  *pg_project.ProjectRepo
	Audit    *pg_audit.AuditRepo
	Outbox   *pg_outbox.OutboxRepo
}

func New(db *sql.DB) *Repositories {
	return &Repositories{
		Reviewer: pg_reviewer.New(db),
		Project:  pg_project.New(db),
		Audit:    pg_audit.New(db),
		Outbox:   pg_outbox.New(db),
	}
}
