package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/3eLLenKa/reviewdesk/internal/domain"
	"github.com/3eLLenKa/reviewdesk/internal/queue"
)

type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type ReviewerRepo interface {
	LockRegistry(ctx context.Context) error
	GetByID(ctx context.Context, id string) (*domain.Reviewer, error)
	List(ctx context.Context) ([]domain.Reviewer, error)
	Upsert(ctx context.Context, r domain.Reviewer) (*domain.Reviewer, error)
	SetStatus(ctx context.Context, id string, status domain.ReviewerStatus) (*domain.Reviewer, error)
	Save(ctx context.Context, r domain.Reviewer) error
}

type ProjectRepo interface {
	Create(ctx context.Context, p *domain.Project) error
	Get(ctx context.Context, id string) (*domain.Project, error)
	GetForUpdate(ctx context.Context, id string) (*domain.Project, error)
	Update(ctx context.Context, p *domain.Project) (*domain.Project, error)
	Delete(ctx context.Context, id string) error
	CountCurrentByReviewer(ctx context.Context, reviewerID string) (int, error)
	ListCurrent(ctx context.Context, page domain.Page) ([]*domain.Project, int, error)
	SearchHistory(ctx context.Context, f domain.HistoryFilter, page domain.Page) ([]*domain.Project, int, error)
}

type AuditRepo interface {
	Record(ctx context.Context, e domain.AuditEntry) error
}

// Notifier writes outbox jobs through the transaction in ctx. Wake is called
// once the transaction has committed.
type Notifier interface {
	Enqueue(ctx context.Context, kind domain.NotificationKind, recipientID, projectID string) (string, error)
	Wake()
}

// Service coordinates the reviewer registry, the assignment queue, the
// project store and the notification dispatcher. Each exported method is one
// externally visible operation.
type Service struct {
	log      *slog.Logger
	tx       Transactor
	reviewer ReviewerRepo
	project  ProjectRepo
	audit    AuditRepo
	notify   Notifier
	policy   queue.Policy
	now      func() time.Time
}

func New(log *slog.Logger, tx Transactor, reviewer ReviewerRepo, project ProjectRepo, audit AuditRepo, notify Notifier, policy queue.Policy) *Service {
	if !policy.Valid() {
		policy = queue.PolicyShare
	}
	return &Service{
		log:      log,
		tx:       tx,
		reviewer: reviewer,
		project:  project,
		audit:    audit,
		notify:   notify,
		policy:   policy,
		now:      time.Now,
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) Policy() queue.Policy {
	return s.policy
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

func (s *Service) record(ctx context.Context, actor string, action domain.AuditAction, target, detail string) error {
	return s.audit.Record(ctx, domain.AuditEntry{
		Actor:    actor,
		Action:   action,
		TargetID: target,
		Detail:   detail,
		At:       s.timestamp(),
	})
}

// ListReviewers returns the queue in priority order followed by everyone
// outside it. With reviewersOnly, author-role entities are left out.
func (s *Service) ListReviewers(ctx context.Context, reviewersOnly bool) ([]domain.Reviewer, error) {
	all, err := s.reviewer.List(ctx)
	if err != nil {
		s.log.Error("service.ListReviewers: failed to list reviewers from repo", slog.Any("error", err))
		return nil, err
	}
	return queue.Order(all, reviewersOnly), nil
}

// Reviewer returns one registry entry with its current queue priority.
func (s *Service) Reviewer(ctx context.Context, id string) (*domain.Reviewer, error) {
	all, err := s.reviewer.List(ctx)
	if err != nil {
		s.log.Error("service.Reviewer: failed to list reviewers from repo", slog.Any("error", err))
		return nil, err
	}
	for _, r := range queue.Order(all, false) {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, domain.ErrReviewerNotFound
}

// NextReviewer returns who would receive the next assignment if excluding
// submitted it. A nil reviewer with a nil error means nobody is assignable.
func (s *Service) NextReviewer(ctx context.Context, excluding string) (*domain.Reviewer, error) {
	all, err := s.reviewer.List(ctx)
	if err != nil {
		s.log.Error("service.NextReviewer: failed to list reviewers from repo", slog.Any("error", err))
		return nil, err
	}
	next, _ := queue.Next(queue.Rank(all), excluding, s.policy)
	return next, nil
}

// SetStatus changes a reviewer's availability. It does not reorder the queue;
// the next ranking simply sees the new eligibility.
func (s *Service) SetStatus(ctx context.Context, actor, id string, status domain.ReviewerStatus) (*domain.Reviewer, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, status)
	}

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.reviewer.LockRegistry(ctx); err != nil {
			return err
		}
		if _, err := s.reviewer.SetStatus(ctx, id, status); err != nil {
			return err
		}
		return s.record(ctx, actor, domain.AuditSetStatus, id, string(status))
	})
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.log.Error("service.SetStatus: failed to set reviewer status in repo", slog.String("reviewer_id", id), slog.String("status", string(status)), slog.Any("error", err))
		}
		return nil, err
	}

	s.log.Info("reviewer status changed", slog.String("reviewer_id", id), slog.String("status", string(status)), slog.String("actor", actor))
	return s.Reviewer(ctx, id)
}

// RegisterReviewer adds a pool member at the back of the queue, or refreshes
// name, email and role of an existing one without touching its queue state.
func (s *Service) RegisterReviewer(ctx context.Context, actor string, r domain.Reviewer) (*domain.Reviewer, error) {
	r.ID = strings.TrimSpace(r.ID)
	r.Name = strings.TrimSpace(r.Name)
	if r.ID == "" || r.Name == "" {
		return nil, fmt.Errorf("%w: reviewer id and name are required", domain.ErrInvalidInput)
	}
	if r.Role == "" {
		r.Role = domain.RoleReviewer
	}
	if !r.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", domain.ErrInvalidInput, r.Role)
	}

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		ros, err := s.lockRoster(ctx)
		if err != nil {
			return err
		}

		r.Status = domain.StatusIdle
		if r.Role == domain.RoleReviewer {
			r.Rank = queue.NextRank(ros.list)
		}
		if _, err := s.reviewer.Upsert(ctx, r); err != nil {
			return err
		}
		return s.record(ctx, actor, domain.AuditRegister, r.ID, string(r.Role))
	})
	if err != nil {
		s.log.Error("service.RegisterReviewer: failed to upsert reviewer in repo", slog.String("reviewer_id", r.ID), slog.Any("error", err))
		return nil, err
	}

	return s.Reviewer(ctx, r.ID)
}

func (s *Service) ListCurrent(ctx context.Context, page domain.Page) ([]*domain.Project, int, error) {
	projects, total, err := s.project.ListCurrent(ctx, page.Normalize())
	if err != nil {
		s.log.Error("service.ListCurrent: failed to list current projects from repo", slog.Any("error", err))
		return nil, 0, err
	}
	return projects, total, nil
}

func (s *Service) SearchHistory(ctx context.Context, f domain.HistoryFilter, page domain.Page) ([]*domain.Project, int, error) {
	f = domain.HistoryFilter{
		Code:    strings.TrimSpace(f.Code),
		Name:    strings.TrimSpace(f.Name),
		Company: strings.TrimSpace(f.Company),
		Author:  strings.TrimSpace(f.Author),
	}

	projects, total, err := s.project.SearchHistory(ctx, f, page.Normalize())
	if err != nil {
		s.log.Error("service.SearchHistory: failed to search history in repo", slog.Any("error", err))
		return nil, 0, err
	}
	return projects, total, nil
}

func (s *Service) GetCurrent(ctx context.Context, id string) (*domain.Project, error) {
	p, err := s.project.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && p.Archived) {
		return nil, domain.ErrCurrentNotFound
	}
	return p, err
}

func (s *Service) GetHistory(ctx context.Context, id string) (*domain.Project, error) {
	p, err := s.project.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && !p.Archived) {
		return nil, domain.ErrHistoryNotFound
	}
	return p, err
}
