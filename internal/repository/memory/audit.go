package memory

import (
	"context"

	"github.com/3eLLenKa/reviewdesk/internal/domain"
)

type AuditRepo struct {
	s *Store
}

func (r *AuditRepo) Record(ctx context.Context, e domain.AuditEntry) error {
	defer r.s.lock(ctx)()

	r.s.appendAudit(ctx, e)
	return nil
}

func (r *AuditRepo) ListByTarget(ctx context.Context, targetID string) ([]domain.AuditEntry, error) {
	defer r.s.rlock(ctx)()

	out := make([]domain.AuditEntry, 0)
	for _, e := range r.s.audit {
		if e.TargetID == targetID {
			out = append(out, e)
		}
	}
	return out, nil
}
