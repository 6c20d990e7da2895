package service

import (
	"context"
	"fmt"

	"github.com/3eLLenKa/reviewdesk/internal/domain"
	"github.com/3eLLenKa/reviewdesk/internal/queue"
)

// roster is the registry as read inside one transaction. Mutations are
// collected and written back by save.
type roster struct {
	list  []domain.Reviewer
	byID  map[string]*domain.Reviewer
	dirty map[string]bool
}

// lockRoster takes the registry lock and reads every reviewer. Every
// mutating operation calls it before touching a project row, so locks are
// always taken in the same order.
func (s *Service) lockRoster(ctx context.Context) (*roster, error) {
	if err := s.reviewer.LockRegistry(ctx); err != nil {
		return nil, err
	}

	list, err := s.reviewer.List(ctx)
	if err != nil {
		return nil, err
	}

	r := &roster{
		list:  list,
		byID:  make(map[string]*domain.Reviewer, len(list)),
		dirty: make(map[string]bool),
	}
	for i := range list {
		r.byID[list[i].ID] = &list[i]
	}
	return r, nil
}

func (r *roster) get(id string) (*domain.Reviewer, bool) {
	rv, ok := r.byID[id]
	return rv, ok
}

func (r *roster) ranked() []domain.Reviewer {
	return queue.Rank(r.list)
}

// addLoad moves a reviewer's pending page delta. Unknown ids are ignored:
// a project may still reference a reviewer that left the registry.
func (r *roster) addLoad(id string, pages int) {
	if pages == 0 {
		return
	}
	if rv, ok := r.byID[id]; ok {
		rv.PendingPageDelta += pages
		r.dirty[id] = true
	}
}

func (r *roster) setStatus(id string, status domain.ReviewerStatus) {
	if rv, ok := r.byID[id]; ok && rv.Status != status {
		rv.Status = status
		r.dirty[id] = true
	}
}

// advance moves id behind everyone else in the queue.
func (r *roster) advance(id string) {
	if rv, ok := r.byID[id]; ok {
		rv.Rank = queue.NextRank(r.list)
		r.dirty[id] = true
	}
}

// markRound sets the skip flag on exactly the given ids and clears it elsewhere.
func (r *roster) markRound(skipped []string) {
	set := make(map[string]bool, len(skipped))
	for _, id := range skipped {
		set[id] = true
	}
	for id, rv := range r.byID {
		if rv.SkippedLastRound != set[id] {
			rv.SkippedLastRound = set[id]
			r.dirty[id] = true
		}
	}
}

func (s *Service) saveRoster(ctx context.Context, r *roster) error {
	for id := range r.dirty {
		if err := s.reviewer.Save(ctx, *r.byID[id]); err != nil {
			return fmt.Errorf("save reviewer %s: %w", id, err)
		}
	}
	return nil
}

// release returns a busy reviewer to idle under the exclusive policy once
// they hold no current project.
func (s *Service) release(ctx context.Context, r *roster, id string) error {
	if s.policy != queue.PolicyExclusive {
		return nil
	}
	rv, ok := r.get(id)
	if !ok || rv.Status != domain.StatusBusy {
		return nil
	}

	n, err := s.project.CountCurrentByReviewer(ctx, id)
	if err != nil {
		return err
	}
	if n == 0 {
		r.setStatus(id, domain.StatusIdle)
	}
	return nil
}
