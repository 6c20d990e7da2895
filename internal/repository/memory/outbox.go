package memory

import (
	"context"
	"time"

	"github.com/3eLLenKa/reviewdesk/internal/domain"
)

type OutboxRepo struct {
	s *Store
}

func (r *OutboxRepo) Insert(ctx context.Context, job *domain.NotificationJob) error {
	defer r.s.lock(ctx)()

	r.s.appendJob(ctx, job)
	return nil
}

// Pending returns undelivered jobs in sequence order, leaving out every job
// of a project whose earliest undelivered job is not due before now.
func (r *OutboxRepo) Pending(ctx context.Context, now time.Time, limit int) ([]domain.NotificationJob, error) {
	defer r.s.rlock(ctx)()

	deferred := make(map[string]bool)
	out := make([]domain.NotificationJob, 0)
	for _, j := range r.s.jobs {
		if j.DeliveredAt != nil || deferred[j.ProjectID] {
			continue
		}
		if j.NextAttemptAt.After(now) {
			deferred[j.ProjectID] = true
			continue
		}
		out = append(out, j)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *OutboxRepo) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	defer r.s.lock(ctx)()

	for i, j := range r.s.jobs {
		if j.ID == id && j.DeliveredAt == nil {
			t := at
			j.DeliveredAt = &t
			r.s.setJob(ctx, i, j)
		}
	}
	return nil
}

// MarkFailed records a failed attempt and defers the job until next.
func (r *OutboxRepo) MarkFailed(ctx context.Context, id string, next time.Time, reason string) error {
	defer r.s.lock(ctx)()

	for i, j := range r.s.jobs {
		if j.ID == id && j.DeliveredAt == nil {
			j.Attempts++
			j.NextAttemptAt = next
			j.LastError = reason
			r.s.setJob(ctx, i, j)
		}
	}
	return nil
}

// All returns every job ever enqueued, delivered or not, in sequence order.
func (r *OutboxRepo) All(ctx context.Context) []domain.NotificationJob {
	defer r.s.rlock(ctx)()

	return append([]domain.NotificationJob(nil), r.s.jobs...)
}
