package memory

import (
	"context"
	"sort"

	"github.com/3eLLenKa/reviewdesk/internal/domain"
)

type ReviewerRepo struct {
	s *Store
}

// LockRegistry is a no-op: InTx already holds the store lock.
func (r *ReviewerRepo) LockRegistry(ctx context.Context) error {
	return nil
}

func (r *ReviewerRepo) GetByID(ctx context.Context, id string) (*domain.Reviewer, error) {
	defer r.s.rlock(ctx)()

	rv, ok := r.s.reviewers[id]
	if !ok {
		return nil, domain.ErrReviewerNotFound
	}
	return &rv, nil
}

func (r *ReviewerRepo) List(ctx context.Context) ([]domain.Reviewer, error) {
	defer r.s.rlock(ctx)()

	out := make([]domain.Reviewer, 0, len(r.s.reviewers))
	for _, rv := range r.s.reviewers {
		out = append(out, rv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *ReviewerRepo) Upsert(ctx context.Context, rv domain.Reviewer) (*domain.Reviewer, error) {
	defer r.s.lock(ctx)()

	if cur, ok := r.s.reviewers[rv.ID]; ok {
		cur.Name = rv.Name
		cur.Email = rv.Email
		cur.Role = rv.Role
		r.s.putReviewer(ctx, cur)
		return &cur, nil
	}

	stored := domain.Reviewer{
		ID:     rv.ID,
		Name:   rv.Name,
		Email:  rv.Email,
		Role:   rv.Role,
		Status: rv.Status,
		Rank:   rv.Rank,
	}
	r.s.putReviewer(ctx, stored)
	return &stored, nil
}

func (r *ReviewerRepo) SetStatus(ctx context.Context, id string, status domain.ReviewerStatus) (*domain.Reviewer, error) {
	defer r.s.lock(ctx)()

	rv, ok := r.s.reviewers[id]
	if !ok {
		return nil, domain.ErrReviewerNotFound
	}
	rv.Status = status
	r.s.putReviewer(ctx, rv)
	return &rv, nil
}

func (r *ReviewerRepo) Save(ctx context.Context, rv domain.Reviewer) error {
	defer r.s.lock(ctx)()

	cur, ok := r.s.reviewers[rv.ID]
	if !ok {
		return domain.ErrReviewerNotFound
	}
	cur.Status = rv.Status
	cur.PendingPageDelta = rv.PendingPageDelta
	cur.SkippedLastRound = rv.SkippedLastRound
	cur.Rank = rv.Rank
	r.s.putReviewer(ctx, cur)
	return nil
}
