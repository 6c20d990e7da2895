// Package memory is a process-local implementation of the repositories. A
// transaction holds the store's write lock for its whole duration and keeps
// an undo journal of the writes it made; a failed transaction replays the
// journal backwards. A nested InTx behaves like a savepoint: its failure
// undoes only its own writes.
package memory

import (
	"context"
	"sync"

	"github.com/3eLLenKa/reviewdesk/internal/domain"
)

type Store struct {
	mu        sync.RWMutex
	reviewers map[string]domain.Reviewer
	projects  map[string]*domain.Project
	jobs      []domain.NotificationJob
	audit     []domain.AuditEntry
	seq       int64
}

func New() *Store {
	return &Store{
		reviewers: make(map[string]domain.Reviewer),
		projects:  make(map[string]*domain.Project),
	}
}

type txKey struct{}

type tx struct {
	s    *Store
	undo []func()
}

func (s *Store) txFrom(ctx context.Context) (*tx, bool) {
	t, ok := ctx.Value(txKey{}).(*tx)
	if !ok || t.s != s {
		return nil, false
	}
	return t, true
}

func (t *tx) rollbackTo(mark int) {
	for i := len(t.undo) - 1; i >= mark; i-- {
		t.undo[i]()
	}
	t.undo = t.undo[:mark]
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if t, ok := s.txFrom(ctx); ok {
		mark := len(t.undo)
		if err := fn(ctx); err != nil {
			t.rollbackTo(mark)
			return err
		}
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{s: s}
	if err := fn(context.WithValue(ctx, txKey{}, t)); err != nil {
		t.rollbackTo(0)
		return err
	}
	return nil
}

// journal registers undo for the write about to happen. Outside a
// transaction writes are final and undo is dropped.
func (s *Store) journal(ctx context.Context, undo func()) {
	if t, ok := s.txFrom(ctx); ok {
		t.undo = append(t.undo, undo)
	}
}

func (s *Store) rlock(ctx context.Context) func() {
	if _, ok := s.txFrom(ctx); ok {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

func (s *Store) lock(ctx context.Context) func() {
	if _, ok := s.txFrom(ctx); ok {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) putReviewer(ctx context.Context, r domain.Reviewer) {
	prev, existed := s.reviewers[r.ID]
	s.journal(ctx, func() {
		if existed {
			s.reviewers[r.ID] = prev
		} else {
			delete(s.reviewers, r.ID)
		}
	})
	s.reviewers[r.ID] = r
}

// putProject stores p, or removes id when p is nil. Stored projects are
// replaced, never mutated in place, so the journal can keep the old pointer.
func (s *Store) putProject(ctx context.Context, id string, p *domain.Project) {
	prev, existed := s.projects[id]
	s.journal(ctx, func() {
		if existed {
			s.projects[id] = prev
		} else {
			delete(s.projects, id)
		}
	})
	if p == nil {
		delete(s.projects, id)
		return
	}
	s.projects[id] = p
}

// appendJob assigns the next sequence number to job and stores a copy.
func (s *Store) appendJob(ctx context.Context, job *domain.NotificationJob) {
	n, seq := len(s.jobs), s.seq
	s.journal(ctx, func() {
		s.jobs = s.jobs[:n]
		s.seq = seq
	})
	s.seq++
	job.Seq = s.seq
	s.jobs = append(s.jobs, *job)
}

func (s *Store) setJob(ctx context.Context, i int, job domain.NotificationJob) {
	prev := s.jobs[i]
	s.journal(ctx, func() { s.jobs[i] = prev })
	s.jobs[i] = job
}

func (s *Store) appendAudit(ctx context.Context, e domain.AuditEntry) {
	n := len(s.audit)
	s.journal(ctx, func() { s.audit = s.audit[:n] })
	s.audit = append(s.audit, e)
}

func (s *Store) Reviewers() *ReviewerRepo { return &ReviewerRepo{s: s} }
func (s *Store) Projects() *ProjectRepo   { return &ProjectRepo{s: s} }
func (s *Store) Outbox() *OutboxRepo      { return &OutboxRepo{s: s} }
func (s *Store) Audit() *AuditRepo        { return &AuditRepo{s: s} }
