package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/3eLLenKa/reviewdesk/internal/domain"
	"github.com/3eLLenKa/reviewdesk/internal/queue"
)

// Submit creates a current project and assigns it to the next reviewer in
// the queue. Picking, recording the assignment, advancing the queue and
// enqueueing the assignment mail happen in one transaction: if any of them
// fails nothing is stored.
func (s *Service) Submit(ctx context.Context, actor string, draft domain.ProjectDraft) (*domain.Transition, error) {
	if err := validateDraft(&draft); err != nil {
		return nil, err
	}

	out := &domain.Transition{}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		ros, err := s.lockRoster(ctx)
		if err != nil {
			return err
		}

		author, ok := ros.get(draft.AuthorID)
		if !ok {
			return fmt.Errorf("author %s: %w", draft.AuthorID, domain.ErrReviewerNotFound)
		}

		pick, skipped := queue.Next(ros.ranked(), draft.AuthorID, s.policy)
		if pick == nil {
			return domain.ErrNoEligibleReviewer
		}

		p := &domain.Project{
			ID:           draft.ID,
			Names:        draft.Names,
			Company:      draft.Company,
			AuthorID:     author.ID,
			AuthorName:   author.Name,
			ReviewerID:   pick.ID,
			ReviewerName: pick.Name,
			SubmittedAt:  s.timestamp(),
			PageCount:    draft.PageCount,
			Urgent:       draft.Urgent,
		}
		if err := s.project.Create(ctx, p); err != nil {
			return err
		}

		ros.markRound(skipped)
		ros.advance(pick.ID)
		ros.addLoad(pick.ID, p.PageCount)
		if s.policy == queue.PolicyExclusive {
			ros.setStatus(pick.ID, domain.StatusBusy)
		}
		if err := s.saveRoster(ctx, ros); err != nil {
			return err
		}

		jobID, err := s.notify.Enqueue(ctx, domain.KindAssignedForReview, pick.ID, p.ID)
		if err != nil {
			return err
		}

		if err := s.record(ctx, actor, domain.AuditSubmit, p.ID, "assigned to "+pick.ID); err != nil {
			return err
		}

		out.Project = p
		out.JobID = jobID
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNoEligibleReviewer) {
			s.log.Warn("service.Submit: no eligible reviewer", slog.String("author_id", draft.AuthorID))
		} else {
			s.log.Error("service.Submit: failed to submit project", slog.String("project_id", draft.ID), slog.Any("error", err))
		}
		return nil, err
	}

	s.notify.Wake()
	s.log.Info("project assigned",
		slog.String("project_id", out.Project.ID),
		slog.String("reviewer_id", out.Project.ReviewerID),
		slog.String("actor", actor),
	)
	return out, nil
}

func validateDraft(d *domain.ProjectDraft) error {
	d.ID = strings.TrimSpace(d.ID)
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if strings.TrimSpace(d.AuthorID) == "" {
		return fmt.Errorf("%w: author id is required", domain.ErrInvalidInput)
	}
	if d.PageCount <= 0 {
		return fmt.Errorf("%w: page count must be positive", domain.ErrInvalidInput)
	}
	if d.Names == nil {
		d.Names = map[string]string{}
	}
	return nil
}

// Edit changes page count, urgency and reviewer of a current project in one
// transaction. A reviewer change is a reassignment: it is validated like
// Reassign and enqueues a ReassignedForReview notification in the same
// transaction, so outbox order follows commit order. If only the enqueue
// fails, the edit still commits and the result carries a Warning.
func (s *Service) Edit(ctx context.Context, actor, id string, edit domain.ProjectEdit) (*domain.Transition, error) {
	if edit.Empty() {
		return nil, fmt.Errorf("%w: nothing to edit", domain.ErrInvalidInput)
	}
	if edit.PageCount != nil && *edit.PageCount <= 0 {
		return nil, fmt.Errorf("%w: page count must be positive", domain.ErrInvalidInput)
	}

	out := &domain.Transition{}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		ros, err := s.lockRoster(ctx)
		if err != nil {
			return err
		}

		p, err := s.lockCurrent(ctx, id, edit.Version)
		if err != nil {
			return err
		}

		prevReviewer, prevPages := p.ReviewerID, p.PageCount
		var changes []string

		if edit.PageCount != nil && *edit.PageCount != p.PageCount {
			p.PageCount = *edit.PageCount
			changes = append(changes, fmt.Sprintf("page_count=%d", p.PageCount))
		}
		if edit.Urgent != nil && *edit.Urgent != p.Urgent {
			p.Urgent = *edit.Urgent
			changes = append(changes, fmt.Sprintf("urgent=%t", p.Urgent))
		}
		if edit.ReviewerID != nil {
			target, err := reassignTarget(ros, p, *edit.ReviewerID)
			if err != nil {
				return err
			}
			p.ReviewerID = target.ID
			p.ReviewerName = target.Name
		}

		if out.Project, err = s.project.Update(ctx, p); err != nil {
			return err
		}

		ros.addLoad(prevReviewer, -prevPages)
		ros.addLoad(p.ReviewerID, p.PageCount)

		if p.ReviewerID != prevReviewer {
			if s.policy == queue.PolicyExclusive {
				ros.setStatus(p.ReviewerID, domain.StatusBusy)
			}
			if err := s.release(ctx, ros, prevReviewer); err != nil {
				return err
			}
			if err := s.record(ctx, actor, domain.AuditReassign, p.ID, prevReviewer+" -> "+p.ReviewerID); err != nil {
				return err
			}
		}
		if len(changes) > 0 {
			if err := s.record(ctx, actor, domain.AuditEdit, p.ID, strings.Join(changes, ",")); err != nil {
				return err
			}
		}

		if err := s.saveRoster(ctx, ros); err != nil {
			return err
		}

		if edit.ReviewerID != nil {
			s.enqueueIsolated(ctx, out, domain.KindReassignedForReview, p.ReviewerID)
		}
		return nil
	})
	if err != nil {
		s.logTransitionError("service.Edit", id, err)
		return nil, err
	}

	s.notify.Wake()
	return out, nil
}

// Reassign hands a current project to another reviewer. The author and the
// current reviewer are rejected with ErrInvalidTarget. The queue is not
// advanced: a handover is not an assignment round.
func (s *Service) Reassign(ctx context.Context, actor, id, reviewerID string) (*domain.Transition, error) {
	return s.Edit(ctx, actor, id, domain.ProjectEdit{ReviewerID: &reviewerID})
}

func reassignTarget(ros *roster, p *domain.Project, id string) (*domain.Reviewer, error) {
	if id == p.AuthorID || id == p.ReviewerID {
		return nil, domain.ErrInvalidTarget
	}
	target, ok := ros.get(id)
	if !ok {
		return nil, domain.ErrReviewerNotFound
	}
	if target.Role != domain.RoleReviewer {
		return nil, fmt.Errorf("%w: %s is not a reviewer", domain.ErrInvalidTarget, id)
	}
	return target, nil
}

// Complete archives a current project, freezing the author and reviewer
// names as they are at this moment, and notifies the author. A second call
// fails with ErrAlreadyArchived and leaves the record untouched. As with
// Edit, a failed enqueue does not undo the archive.
func (s *Service) Complete(ctx context.Context, actor, id string) (*domain.Transition, error) {
	out := &domain.Transition{}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		ros, err := s.lockRoster(ctx)
		if err != nil {
			return err
		}

		p, err := s.project.GetForUpdate(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrCurrentNotFound
		}
		if err != nil {
			return err
		}
		if p.Archived {
			return domain.ErrAlreadyArchived
		}

		if a, ok := ros.get(p.AuthorID); ok {
			p.AuthorName = a.Name
		}
		if r, ok := ros.get(p.ReviewerID); ok {
			p.ReviewerName = r.Name
		}
		completedAt := s.timestamp()
		p.CompletedAt = &completedAt
		p.Archived = true

		if out.Project, err = s.project.Update(ctx, p); err != nil {
			return err
		}

		ros.addLoad(p.ReviewerID, -p.PageCount)
		if err := s.release(ctx, ros, p.ReviewerID); err != nil {
			return err
		}
		if err := s.saveRoster(ctx, ros); err != nil {
			return err
		}
		if err := s.record(ctx, actor, domain.AuditArchive, p.ID, ""); err != nil {
			return err
		}

		s.enqueueIsolated(ctx, out, domain.KindCompletedAndSent, p.AuthorID)
		return nil
	})
	if err != nil {
		s.logTransitionError("service.Complete", id, err)
		return nil, err
	}

	s.notify.Wake()
	return out, nil
}

// Delete permanently removes a current project. There is no undo. A retry
// after an unacknowledged success reports ErrCurrentNotFound, which callers
// should read as success.
func (s *Service) Delete(ctx context.Context, actor, id string) error {
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		ros, err := s.lockRoster(ctx)
		if err != nil {
			return err
		}

		p, err := s.lockCurrent(ctx, id, nil)
		if errors.Is(err, domain.ErrInvalidState) {
			return domain.ErrCurrentNotFound
		}
		if err != nil {
			return err
		}
		if err := s.project.Delete(ctx, id); err != nil {
			return err
		}

		ros.addLoad(p.ReviewerID, -p.PageCount)
		if err := s.release(ctx, ros, p.ReviewerID); err != nil {
			return err
		}
		if err := s.saveRoster(ctx, ros); err != nil {
			return err
		}
		return s.record(ctx, actor, domain.AuditDelete, id, p.DisplayName())
	})
	if err != nil {
		s.logTransitionError("service.Delete", id, err)
		return err
	}

	s.log.Info("project deleted", slog.String("project_id", id), slog.String("actor", actor))
	return nil
}

// Resend enqueues the notification that matches the project's stage again:
// the assignment mail while current, the completion mail once archived. An
// empty recipientID means the reviewer (current) or the author (history).
func (s *Service) Resend(ctx context.Context, actor, projectID, recipientID string) (string, error) {
	var jobID string
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.project.GetForUpdate(ctx, projectID)
		if err != nil {
			return err
		}

		kind := domain.KindAssignedForReview
		if p.Archived {
			kind = domain.KindCompletedAndSent
		}
		if recipientID == "" {
			recipientID = p.ReviewerID
			if p.Archived {
				recipientID = p.AuthorID
			}
		}

		if _, err := s.reviewer.GetByID(ctx, recipientID); err != nil {
			return err
		}

		if jobID, err = s.notify.Enqueue(ctx, kind, recipientID, p.ID); err != nil {
			return err
		}
		return s.record(ctx, actor, domain.AuditResend, p.ID, string(kind)+" to "+recipientID)
	})
	if err != nil {
		s.logTransitionError("service.Resend", projectID, err)
		return "", err
	}

	s.notify.Wake()
	return jobID, nil
}

// lockCurrent loads a current project for update and checks the caller's
// expected version when one is given.
func (s *Service) lockCurrent(ctx context.Context, id string, version *int64) (*domain.Project, error) {
	p, err := s.project.GetForUpdate(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrCurrentNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.Archived {
		return nil, fmt.Errorf("%w: project %s is archived", domain.ErrInvalidState, id)
	}
	if version != nil && *version != p.Version {
		return nil, domain.ErrConflict
	}
	return p, nil
}

// enqueueIsolated requests a notification inside the caller's transaction
// under a savepoint. Failure rolls back the enqueue only and is reported as
// a warning on out.
func (s *Service) enqueueIsolated(ctx context.Context, out *domain.Transition, kind domain.NotificationKind, recipientID string) {
	var jobID string
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		jobID, err = s.notify.Enqueue(ctx, kind, recipientID, out.Project.ID)
		return err
	})
	if err != nil {
		s.log.Warn("service: notification enqueue failed, transition kept",
			slog.String("project_id", out.Project.ID),
			slog.String("kind", string(kind)),
			slog.String("recipient_id", recipientID),
			slog.Any("error", err),
		)
		out.Warning = fmt.Sprintf("%s notification was not queued: %v", kind, err)
		return
	}
	out.JobID = jobID
}

func (s *Service) logTransitionError(op, id string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrInvalidTarget),
		errors.Is(err, domain.ErrConflict):
		s.log.Info(op+": rejected", slog.String("project_id", id), slog.Any("reason", err))
	default:
		s.log.Error(op+": failed", slog.String("project_id", id), slog.Any("error", err))
	}
}
