package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/3eLLenKa/reviewdesk/internal/domain"
)

type ProjectRepo struct {
	s *Store
}

func (r *ProjectRepo) Create(ctx context.Context, p *domain.Project) error {
	defer r.s.lock(ctx)()

	if _, ok := r.s.projects[p.ID]; ok {
		return domain.ErrProjectExists
	}
	p.Archived = false
	p.Version = 1
	r.s.putProject(ctx, p.ID, p.Clone())
	return nil
}

func (r *ProjectRepo) Get(ctx context.Context, id string) (*domain.Project, error) {
	defer r.s.rlock(ctx)()

	p, ok := r.s.projects[id]
	if !ok {
		return nil, domain.ErrProjectNotFound
	}
	return p.Clone(), nil
}

// GetForUpdate is Get; the transaction lock already excludes other writers.
func (r *ProjectRepo) GetForUpdate(ctx context.Context, id string) (*domain.Project, error) {
	return r.Get(ctx, id)
}

func (r *ProjectRepo) Update(ctx context.Context, p *domain.Project) (*domain.Project, error) {
	defer r.s.lock(ctx)()

	cur, ok := r.s.projects[p.ID]
	if !ok || cur.Version != p.Version {
		return nil, domain.ErrConflict
	}

	next := p.Clone()
	next.Version = cur.Version + 1
	r.s.putProject(ctx, p.ID, next)
	return next.Clone(), nil
}

func (r *ProjectRepo) Delete(ctx context.Context, id string) error {
	defer r.s.lock(ctx)()

	p, ok := r.s.projects[id]
	if !ok || p.Archived {
		return domain.ErrCurrentNotFound
	}
	r.s.putProject(ctx, id, nil)
	return nil
}

func (r *ProjectRepo) CountCurrentByReviewer(ctx context.Context, reviewerID string) (int, error) {
	defer r.s.rlock(ctx)()

	n := 0
	for _, p := range r.s.projects {
		if !p.Archived && p.ReviewerID == reviewerID {
			n++
		}
	}
	return n, nil
}

func (r *ProjectRepo) ListCurrent(ctx context.Context, page domain.Page) ([]*domain.Project, int, error) {
	defer r.s.rlock(ctx)()

	matched := make([]*domain.Project, 0)
	for _, p := range r.s.projects {
		if !p.Archived {
			matched = append(matched, p)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.Urgent != b.Urgent {
			return a.Urgent
		}
		if !a.SubmittedAt.Equal(b.SubmittedAt) {
			return a.SubmittedAt.Before(b.SubmittedAt)
		}
		return a.ID < b.ID
	})

	items, total := paginate(matched, page)
	return items, total, nil
}

func (r *ProjectRepo) SearchHistory(ctx context.Context, f domain.HistoryFilter, page domain.Page) ([]*domain.Project, int, error) {
	defer r.s.rlock(ctx)()

	matched := make([]*domain.Project, 0)
	for _, p := range r.s.projects {
		if p.Archived && matchHistory(p, f) {
			matched = append(matched, p)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.CompletedAt.Equal(*b.CompletedAt) {
			return a.CompletedAt.After(*b.CompletedAt)
		}
		return a.ID < b.ID
	})

	items, total := paginate(matched, page)
	return items, total, nil
}

func matchHistory(p *domain.Project, f domain.HistoryFilter) bool {
	if f.Code != "" && !anyContains(keys(p.Names), f.Code) {
		return false
	}
	if f.Name != "" && !anyContains(values(p.Names), f.Name) {
		return false
	}
	if f.Company != "" && !contains(p.Company, f.Company) {
		return false
	}
	if f.Author != "" && !contains(p.AuthorName, f.Author) && !contains(p.AuthorID, f.Author) {
		return false
	}
	return true
}

func paginate(all []*domain.Project, page domain.Page) ([]*domain.Project, int) {
	page = page.Normalize()
	total := len(all)

	start := page.Offset()
	if start > total {
		start = total
	}
	end := start + page.Size
	if end > total {
		end = total
	}

	out := make([]*domain.Project, 0, end-start)
	for _, p := range all[start:end] {
		out = append(out, p.Clone())
	}
	return out, total
}

func contains(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func anyContains(list []string, sub string) bool {
	for _, s := range list {
		if contains(s, sub) {
			return true
		}
	}
	return false
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func values(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}
