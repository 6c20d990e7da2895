package service_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3eLLenKa/reviewdesk/internal/domain"
	"github.com/3eLLenKa/reviewdesk/internal/notify"
	"github.com/3eLLenKa/reviewdesk/internal/queue"
	"github.com/3eLLenKa/reviewdesk/internal/repository/memory"
	"github.com/3eLLenKa/reviewdesk/internal/service"
)

const admin = "admin"

// flakyNotifier forwards to the real dispatcher until fail is set. before,
// when set, runs ahead of every enqueue.
type flakyNotifier struct {
	next   service.Notifier
	fail   atomic.Bool
	before func(kind domain.NotificationKind, recipientID string)
}

func (n *flakyNotifier) Enqueue(ctx context.Context, kind domain.NotificationKind, recipientID, projectID string) (string, error) {
	if n.before != nil {
		n.before(kind, recipientID)
	}
	if n.fail.Load() {
		return "", errors.New("outbox unavailable")
	}
	return n.next.Enqueue(ctx, kind, recipientID, projectID)
}

func (n *flakyNotifier) Wake() {
	n.next.Wake()
}

type env struct {
	store    *memory.Store
	svc      *service.Service
	notifier *flakyNotifier
}

func newEnv(t *testing.T, policy queue.Policy) *env {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	dispatcher := notify.New(log, store.Outbox(), store.Reviewers(), notify.NewLogMailer(log), notify.Config{Workers: 2})
	n := &flakyNotifier{next: dispatcher}

	svc := service.New(log, store, store.Reviewers(), store.Projects(), store.Audit(), n, policy)

	var mu sync.Mutex
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Minute)
		return now
	})

	return &env{store: store, svc: svc, notifier: n}
}

func (e *env) register(t *testing.T, id string, role domain.Role) {
	t.Helper()
	_, err := e.svc.RegisterReviewer(context.Background(), admin, domain.Reviewer{
		ID:    id,
		Name:  "Name " + id,
		Email: id + "@example.org",
		Role:  role,
	})
	require.NoError(t, err)
}

func (e *env) submit(t *testing.T, id, author string, pages int) *domain.Project {
	t.Helper()
	tr, err := e.svc.Submit(context.Background(), author, domain.ProjectDraft{
		ID:        id,
		Names:     map[string]string{"R-" + id: "Report " + id},
		Company:   "Acme",
		AuthorID:  author,
		PageCount: pages,
	})
	require.NoError(t, err)
	require.NotEmpty(t, tr.JobID)
	return tr.Project
}

func (e *env) reviewer(t *testing.T, id string) *domain.Reviewer {
	t.Helper()
	r, err := e.store.Reviewers().GetByID(context.Background(), id)
	require.NoError(t, err)
	return r
}

func (e *env) jobs(kind domain.NotificationKind) []domain.NotificationJob {
	var out []domain.NotificationJob
	for _, j := range e.store.Outbox().All(context.Background()) {
		if j.Kind == kind {
			out = append(out, j)
		}
	}
	return out
}

func TestSubmit_RoundRobinScenario(t *testing.T) {
	e := newEnv(t, queue.PolicyShare)
	e.register(t, "A", domain.RoleReviewer)
	e.register(t, "B", domain.RoleReviewer)
	e.register(t, "U", domain.RoleAuthor)

	require.Equal(t, int64(1), e.reviewer(t, "A").Rank)
	require.Equal(t, int64(2), e.reviewer(t, "B").Rank)

	p1 := e.submit(t, "P1", "U", 10)
	assert.Equal(t, "A", p1.ReviewerID)
	assert.Equal(t, int64(3), e.reviewer(t, "A").Rank)

	p2 := e.submit(t, "P2", "U", 10)
	assert.Equal(t, "B", p2.ReviewerID)

	p3 := e.submit(t, "P3", "U", 10)
	assert.Equal(t, "A", p3.ReviewerID)
}

func TestSubmit_Fairness(t *testing.T) {
	e := newEnv(t, queue.PolicyShare)
	const n = 5
	for i := 0; i < n; i++ {
		e.register(t, fmt.Sprintf("R%d", i), domain.RoleReviewer)
	}
	e.register(t, "U", domain.RoleAuthor)

	counts := make(map[string]int)
	for i := 0; i < n; i++ {
		p := e.submit(t, fmt.Sprintf("P%d", i), "U", 20)
		counts[p.ReviewerID]++
	}

	require.Len(t, counts, n)
	for id, c := range counts {
		assert.Equal(t, 1, c, id)
	}
}

func TestSubmit_SkipsAuthorAndFlagsSkip(t *testing.T) {
	e := newEnv(t, queue.PolicyShare)
	e.register(t, "A", domain.RoleReviewer)
	e.register(t, "B", domain.RoleReviewer)
	e.register(t, "U", domain.RoleAuthor)

	p := e.submit(t, "P1", "A", 12)
	assert.Equal(t, "B", p.ReviewerID)
	assert.True(t, e.reviewer(t, "A").SkippedLastRound)
	assert.Equal(t, int64(1), e.reviewer(t, "A").Rank)

	p = e.submit(t, "P2", "U", 12)
	assert.Equal(t, "A", p.ReviewerID)
	assert.False(t, e.reviewer(t, "A").SkippedLastRound)
}

func TestSubmit_NoEligibleReviewer(t *testing.T) {
	e := newEnv(t, queue.PolicyShare)
	e.register(t, "A", domain.RoleReviewer)

	_, err := e.svc.Submit(context.Background(), "A", domain.ProjectDraft{ID: "P1", AuthorID: "A", PageCount: 3})
	require.ErrorIs(t, err, domain.ErrNoEligibleReviewer)

	next, err := e.svc.NextReviewer(context.Background(), "A")
	require.NoError(t, err)
	assert.Nil(t, next)

	_, total, err := e.svc.ListCurrent(context.Background(), domain.Page{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, e.store.Outbox().All(context.Background()))
}

func TestSubmit_Validation(t *testing.T) {
	e := newEnv(t, queue.PolicyShare)
	e.register(t, "A", domain.RoleReviewer)
	e.register(t, "U", domain.RoleAuthor)
	ctx := context.Background()

	_, err := e.svc.Submit(ctx, "U", domain.ProjectDraft{AuthorID: "U", PageCount: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = e.svc.Submit(ctx, "U", domain.ProjectDraft{PageCount: 4})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = e.svc.Submit(ctx, "ghost", domain.ProjectDraft{AuthorID: "ghost", PageCount: 4})
	assert.ErrorIs(t, err, domain.ErrReviewerNotFound)

	tr, err := e.svc.Submit(ctx, "U", domain.ProjectDraft{AuthorID: "U", PageCount: 4})
	require.NoError(t, err)
	assert.NotEmpty(t, tr.Project.ID)

	_, err = e.svc.Submit(ctx, "U", domain.ProjectDraft{ID: tr.Project.ID, AuthorID: "U", PageCount: 4})
	assert.ErrorIs(t, err, domain.ErrProjectExists)
}

func TestSubmit_NotifierFailureRollsBack(t *testing.T) {
	e := newEnv(t, queue.PolicyShare)
	e.register(t, "A", domain.RoleReviewer)
	e.register(t, "U", domain.RoleAuthor)
	e.notifier.fail.Store(true)

	_, err := e.svc.Submit(context.Background(), "U", domain.ProjectDraft{ID: "P1", AuthorID: "U", PageCount: 8})
	require.Error(t, err)

	_, err = e.svc.GetCurrent(context.Background(), "P1")
	assert.ErrorIs(t, err, domain.ErrCurrentNotFound)

	a := e.reviewer(t, "A")
	assert.Equal(t, int64(1), a.Rank)
	assert.Zero(t, a.PendingPageDelta)

	audit, err := e.store.Audit().ListByTarget(context.Background(), "P1")
	require.NoError(t, err)
	assert.Empty(t, audit)
}

func TestEditThenArchive(t *testing.T) {
	e := newEnv(t, queue.PolicyShare)
	e.register(t, "A", domain.RoleReviewer)
	e.register(t, "B", domain.RoleReviewer)
	e.register(t, "U", domain.RoleAuthor)
	ctx := context.Background()

	e.submit(t, "P-001", "U", 40)
	assert.Equal(t, 40, e.reviewer(t, "A").PendingPageDelta)

	pages := 55
	tr, err := e.svc.Edit(ctx, "U", "P-001", domain.ProjectEdit{PageCount: &pages})
	require.NoError(t, err)
	assert.Empty(t, tr.JobID)

	p, err := e.svc.GetCurrent(ctx, "P-001")
	require.NoError(t, err)
	assert.Equal(t, 55, p.PageCount)
	assert.Equal(t, 55, e.reviewer(t, "A").PendingPageDelta)

	_, err = e.svc.Complete(ctx, "U", "P-001")
	require.NoError(t, err)
	assert.Zero(t, e.reviewer(t, "A").PendingPageDelta)

	pages = 60
	_, err = e.svc.Edit(ctx, "U", "P-001", domain.ProjectEdit{PageCount: &pages})
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	urgent := true
	_, err = e.svc.Edit(ctx, "U", "P-001", domain.ProjectEdit{Urgent: &urgent})
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	target := "B"
	_, err = e.svc.Edit(ctx, "U", "P-001", domain.ProjectEdit{ReviewerID: &target})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = e.svc.Reassign(ctx, "U", "P-001", "B")
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	h, err := e.svc.GetHistory(ctx, "P-001")
	require.NoError(t, err)
	assert.Equal(t, 55, h.PageCount)
	assert.False(t, h.Urgent)
	assert.Equal(t, "A", h.ReviewerID)
	assert.Equal(t, "Name A", h.ReviewerName)
	assert.Zero(t, e.reviewer(t, "B").PendingPageDelta)
	assert.Empty(t, e.jobs(domain.KindReassignedForReview))
}

func TestEditRacingComplete(t *testing.T) {
	e := newEnv(t, queue.PolicyShare)
	e.register(t, "A", domain.RoleReviewer)
	e.register(t, "B", domain.RoleReviewer)
	e.register(t, "U", domain.RoleAuthor)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("P%d", i)
		p := e.submit(t, id, "U", 10)
		target := "B"
		if p.ReviewerID == "B" {
			target = "A"
		}

		var (
			wg      sync.WaitGroup
			editErr error
			doneErr error
		)
		pages := 99
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, editErr = e.svc.Edit(ctx, "U", id, domain.ProjectEdit{PageCount: &pages, ReviewerID: &target})
		}()
		go func() {
			defer wg.Done()
			<-start
			_, doneErr = e.svc.Complete(ctx, "U", id)
		}()
		close(start)
		wg.Wait()

		require.NoError(t, doneErr)
		h, err := e.svc.GetHistory(ctx, id)
		require.NoError(t, err)

		if editErr != nil {
			require.ErrorIs(t, editErr, domain.ErrInvalidState)
			assert.Equal(t, 10, h.PageCount, id)
			assert.Equal(t, p.ReviewerID, h.ReviewerID, id)
			continue
		}
		assert.Equal(t, 99, h.PageCount, id)
		assert.Equal(t, target, h.ReviewerID, id)
		assert.Equal(t, "Name "+target, h.ReviewerName, id)
	}

	assert.Zero(t, e.reviewer(t, "A").PendingPageDelta)
	assert.Zero(t, e.reviewer(t, "B").PendingPageDelta)
}

func TestEdit_Validation(t *testing.T) {
	e := newEnv(t, queue.PolicyShare)
	e.register(t, "A", domain.RoleReviewer)
	e.register(t, "U", domain.RoleAuthor)
	ctx := context.Background()
	p := e.submit(t, "P1", "U", 10)

	_, err := e.svc.Edit(ctx, "U", "P1", domain.ProjectEdit{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	zero := 0
	_, err = e.svc.Edit(ctx, "U", "P1", domain.ProjectEdit{PageCount: &zero})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	pages := 11
	_, err = e.svc.Edit(ctx, "U", "missing", domain.ProjectEdit{PageCount: &pages})
	assert.ErrorIs(t, err, domain.ErrCurrentNotFound)

	stale := p.Version + 5
	_, err = e.svc.Edit(ctx, "U", "P1", domain.ProjectEdit{PageCount: &pages, Version: &stale})
	assert.ErrorIs(t, err, domain.ErrConflict)

	tr, err := e.svc.Edit(ctx, "U", "P1", domain.ProjectEdit{PageCount: &pages, Version: &p.Version})
	require.NoError(t, err)
	assert.Equal(t, p.Version+1, tr.Project.Version)
}

func TestComplete_Twice(t *testing.T) {
	e := newEnv(t, queue.PolicyShare)
	e.register(t, "A", domain.RoleReviewer)
	e.register(t, "U", domain.RoleAuthor)
	ctx := context.Background()
	e.submit(t, "P1", "U", 10)

	tr, err := e.svc.Complete(ctx, "U", "P1")
	require.NoError(t, err)
	require.NotNil(t, tr.Project.CompletedAt)
	assert.True(t, tr.Project.Archived)
	assert.NotEmpty(t, tr.JobID)

	before, err := e.svc.GetHistory(ctx, "P1")
	require.NoError(t, err)

	_, err = e.svc.Complete(ctx, "U", "P1")
	require.ErrorIs(t, err, domain.ErrAlreadyArchived)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	after, err := e.svc.GetHistory(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	_, err = e.svc.GetCurrent(ctx, "P1")
	assert.ErrorIs(t, err, domain.ErrCurrentNotFound)

	completed := e.jobs(domain.KindCompletedAndSent)
	require.Len(t, completed, 1)
	assert.Equal(t, "U", completed[0].RecipientID)
}

func TestComplete_Missing(t *testing.T) {
	e := newEnv(t, queue.PolicyShare)

	_, err := e.svc.Complete(context.Background(), "U", "nope")
	assert.ErrorIs(t, err, domain.ErrCurrentNotFound)

	_, err = e.svc.GetHistory(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrHistoryNotFound)
}

func TestComplete_SnapshotsNames(t *testing.T) {
	e := newEnv(t, queue.PolicyShare)
	e.register(t, "A", domain.RoleReviewer)
	e.register(t, "U", domain.RoleAuthor)
	ctx := context.Background()

	p := e.submit(t, "P1", "U", 10)
	assert.Equal(t, "Name A", p.ReviewerName)

	_, err := e.svc.RegisterReviewer(ctx, admin, domain.Reviewer{ID: "A", Name: "Alice Renamed", Role: domain.RoleReviewer})
	require.NoError(t, err)

	cur, err := e.svc.GetCurrent(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, "Name A", cur.ReviewerName)

	tr, err := e.svc.Complete(ctx, "U", "P1")
	require.NoError(t, err)
	assert.Equal(t, "Alice Renamed", tr.Project.ReviewerName)
	assert.Equal(t, "Name U", tr.Project.AuthorName)

	_, err = e.svc.RegisterReviewer(ctx, admin, domain.Reviewer{ID: "A", Name: "Alice Again", Role: domain.RoleReviewer})
	require.NoError(t, err)

	h, err := e.svc.GetHistory(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, "Alice Renamed", h.ReviewerName)
}

func TestReassign(t *testing.T) {
	e := newEnv(t, queue.PolicyShare)
	e.register(t, "A", domain.RoleReviewer)
	e.register(t, "B", domain.RoleReviewer)
	e.register(t, "U", domain.RoleAuthor)
	e.register(t, "W", domain.RoleAuthor)
	ctx := context.Background()

	p := e.submit(t, "P1", "U", 30)
	require.Equal(t, "A", p.ReviewerID)
	rankB := e.reviewer(t, "B").Rank

	tests := []struct {
		name   string
		target string
		want   error
	}{
		{name: "author", target: "U", want: domain.ErrInvalidTarget},
		{name: "current reviewer", target: "A", want: domain.ErrInvalidTarget},
		{name: "author role", target: "W", want: domain.ErrInvalidTarget},
		{name: "unknown", target: "ghost", want: domain.ErrReviewerNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.Reassign(ctx, "U", "P1", tt.target)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	tr, err := e.svc.Reassign(ctx, "U", "P1", "B")
	require.NoError(t, err)
	assert.Equal(t, "B", tr.Project.ReviewerID)
	assert.Equal(t, "Name B", tr.Project.ReviewerName)
	assert.NotEmpty(t, tr.JobID)
	assert.Empty(t, tr.Warning)

	assert.Zero(t, e.reviewer(t, "A").PendingPageDelta)
	assert.Equal(t, 30, e.reviewer(t, "B").PendingPageDelta)
	assert.Equal(t, rankB, e.reviewer(t, "B").Rank)

	reassigned := e.jobs(domain.KindReassignedForReview)
	require.Len(t, reassigned, 1)
	assert.Equal(t, "B", reassigned[0].RecipientID)
	assert.Equal(t, "P1", reassigned[0].ProjectID)
}

func TestReassign_OutboxFollowsCommitOrder(t *testing.T) {
	e := newEnv(t, queue.PolicyShare)
	e.register(t, "A", domain.RoleReviewer)
	e.register(t, "B", domain.RoleReviewer)
	e.register(t, "C", domain.RoleReviewer)
	e.register(t, "U", domain.RoleAuthor)
	ctx := context.Background()

	p := e.submit(t, "P1", "U", 20)
	require.Equal(t, "A", p.ReviewerID)

	entered := make(chan struct{})
	release := make(chan struct{})
	e.notifier.before = func(kind domain.NotificationKind, recipientID string) {
		if kind == domain.KindReassignedForReview && recipientID == "B" {
			close(entered)
			<-release
		}
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errs[0] = e.svc.Reassign(ctx, "U", "P1", "B")
	}()
	<-entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errs[1] = e.svc.Reassign(ctx, "U", "P1", "C")
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	cur, err := e.svc.GetCurrent(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, "C", cur.ReviewerID)

	reassigned := e.jobs(domain.KindReassignedForReview)
	require.Len(t, reassigned, 2)
	assert.Equal(t, "B", reassigned[0].RecipientID)
	assert.Equal(t, "C", reassigned[1].RecipientID)
	assert.Less(t, reassigned[0].Seq, reassigned[1].Seq)
	assert.Equal(t, cur.ReviewerID, reassigned[len(reassigned)-1].RecipientID)
}

func TestEdit_PagesAndReviewerTogether(t *testing.T) {
	e := newEnv(t, queue.PolicyShare)
	e.register(t, "A", domain.RoleReviewer)
	e.register(t, "B", domain.RoleReviewer)
	e.register(t, "U", domain.RoleAuthor)
	ctx := context.Background()

	e.submit(t, "P1", "U", 30)

	pages, target := 12, "B"
	_, err := e.svc.Edit(ctx, "U", "P1", domain.ProjectEdit{PageCount: &pages, ReviewerID: &target})
	require.NoError(t, err)

	assert.Zero(t, e.reviewer(t, "A").PendingPageDelta)
	assert.Equal(t, 12, e.reviewer(t, "B").PendingPageDelta)
}

func TestNotifierFailureKeepsTransition(t *testing.T) {
	e := newEnv(t, queue.PolicyShare)
	e.register(t, "A", domain.RoleReviewer)
	e.register(t, "B", domain.RoleReviewer)
	e.register(t, "U", domain.RoleAuthor)
	ctx := context.Background()

	e.submit(t, "P1", "U", 10)
	e.notifier.fail.Store(true)

	tr, err := e.svc.Reassign(ctx, "U", "P1", "B")
	require.NoError(t, err)
	assert.Empty(t, tr.JobID)
	assert.NotEmpty(t, tr.Warning)

	assert.Contains(t, tr.Warning, string(domain.KindReassignedForReview))

	cur, err := e.svc.GetCurrent(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, "B", cur.ReviewerID)
	assert.Equal(t, 10, e.reviewer(t, "B").PendingPageDelta)
	assert.Empty(t, e.jobs(domain.KindReassignedForReview))

	audit, err := e.store.Audit().ListByTarget(ctx, "P1")
	require.NoError(t, err)
	require.NotEmpty(t, audit)
	assert.Equal(t, domain.AuditReassign, audit[len(audit)-1].Action)

	tr, err = e.svc.Complete(ctx, "U", "P1")
	require.NoError(t, err)
	assert.Empty(t, tr.JobID)
	assert.NotEmpty(t, tr.Warning)
	assert.Empty(t, e.jobs(domain.KindCompletedAndSent))

	h, err := e.svc.GetHistory(ctx, "P1")
	require.NoError(t, err)
	assert.True(t, h.Archived)

	e.notifier.fail.Store(false)
	jobID, err := e.svc.Resend(ctx, "U", "P1", "")
	require.NoError(t, err)
	completed := e.jobs(domain.KindCompletedAndSent)
	require.Len(t, completed, 1)
	assert.Equal(t, jobID, completed[0].ID)
	assert.Equal(t, "U", completed[0].RecipientID)
}

func TestDelete(t *testing.T) {
	e := newEnv(t, queue.PolicyShare)
	e.register(t, "A", domain.RoleReviewer)
	e.register(t, "U", domain.RoleAuthor)
	ctx := context.Background()

	e.submit(t, "P1", "U", 25)
	e.submit(t, "P2", "U", 5)
	_, err := e.svc.Complete(ctx, "U", "P2")
	require.NoError(t, err)

	require.NoError(t, e.svc.Delete(ctx, "U", "P1"))
	assert.Zero(t, e.reviewer(t, "A").PendingPageDelta)

	_, err = e.svc.GetCurrent(ctx, "P1")
	assert.ErrorIs(t, err, domain.ErrCurrentNotFound)

	err = e.svc.Delete(ctx, "U", "P1")
	assert.ErrorIs(t, err, domain.ErrCurrentNotFound)

	err = e.svc.Delete(ctx, "U", "P2")
	assert.ErrorIs(t, err, domain.ErrCurrentNotFound)
	_, err = e.svc.GetHistory(ctx, "P2")
	assert.NoError(t, err)

	audit, err := e.store.Audit().ListByTarget(ctx, "P1")
	require.NoError(t, err)
	require.NotEmpty(t, audit)
	last := audit[len(audit)-1]
	assert.Equal(t, domain.AuditDelete, last.Action)
	assert.Equal(t, "U", last.Actor)
}

func TestResend(t *testing.T) {
	e := newEnv(t, queue.PolicyShare)
	e.register(t, "A", domain.RoleReviewer)
	e.register(t, "U", domain.RoleAuthor)
	ctx := context.Background()

	e.submit(t, "P1", "U", 10)

	jobID, err := e.svc.Resend(ctx, "U", "P1", "")
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)

	assigned := e.jobs(domain.KindAssignedForReview)
	require.Len(t, assigned, 2)
	assert.Equal(t, "A", assigned[1].RecipientID)
	assert.Equal(t, jobID, assigned[1].ID)

	_, err = e.svc.Complete(ctx, "U", "P1")
	require.NoError(t, err)

	_, err = e.svc.Resend(ctx, "U", "P1", "")
	require.NoError(t, err)
	_, err = e.svc.Resend(ctx, "U", "P1", "A")
	require.NoError(t, err)

	completed := e.jobs(domain.KindCompletedAndSent)
	require.Len(t, completed, 3)
	assert.Equal(t, "U", completed[1].RecipientID)
	assert.Equal(t, "A", completed[2].RecipientID)

	_, err = e.svc.Resend(ctx, "U", "missing", "")
	assert.ErrorIs(t, err, domain.ErrProjectNotFound)

	_, err = e.svc.Resend(ctx, "U", "P1", "ghost")
	assert.ErrorIs(t, err, domain.ErrReviewerNotFound)
}

func TestResend_RacingComplete(t *testing.T) {
	e := newEnv(t, queue.PolicyShare)
	e.register(t, "A", domain.RoleReviewer)
	e.register(t, "U", domain.RoleAuthor)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		id := fmt.Sprintf("P%d", i)
		e.submit(t, id, "U", 5)

		var (
			wg        sync.WaitGroup
			resendID  string
			resendErr error
			doneErr   error
		)
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			resendID, resendErr = e.svc.Resend(ctx, "U", id, "")
		}()
		go func() {
			defer wg.Done()
			<-start
			_, doneErr = e.svc.Complete(ctx, "U", id)
		}()
		close(start)
		wg.Wait()
		require.NoError(t, resendErr)
		require.NoError(t, doneErr)

		var resent, completed *domain.NotificationJob
		for _, j := range e.store.Outbox().All(ctx) {
			j := j
			switch {
			case j.ID == resendID:
				resent = &j
			case j.ProjectID == id && j.Kind == domain.KindCompletedAndSent:
				completed = &j
			}
		}
		require.NotNil(t, resent, id)
		require.NotNil(t, completed, id)

		if resent.Seq < completed.Seq {
			assert.Equal(t, domain.KindAssignedForReview, resent.Kind, id)
			assert.Equal(t, "A", resent.RecipientID, id)
		} else {
			assert.Equal(t, domain.KindCompletedAndSent, resent.Kind, id)
			assert.Equal(t, "U", resent.RecipientID, id)
		}
	}
}

func TestAuditTrail(t *testing.T) {
	e := newEnv(t, queue.PolicyShare)
	e.register(t, "A", domain.RoleReviewer)
	e.register(t, "B", domain.RoleReviewer)
	e.register(t, "U", domain.RoleAuthor)
	ctx := context.Background()

	e.submit(t, "P1", "U", 10)
	urgent := true
	_, err := e.svc.Edit(ctx, "editor", "P1", domain.ProjectEdit{Urgent: &urgent})
	require.NoError(t, err)
	_, err = e.svc.Reassign(ctx, "lead", "P1", "B")
	require.NoError(t, err)
	_, err = e.svc.Complete(ctx, "closer", "P1")
	require.NoError(t, err)

	entries, err := e.store.Audit().ListByTarget(ctx, "P1")
	require.NoError(t, err)

	var got []string
	for _, en := range entries {
		got = append(got, string(en.Action)+":"+en.Actor)
	}
	assert.Equal(t, []string{"submit:U", "edit:editor", "reassign:lead", "archive:closer"}, got)
}

func TestSetStatus(t *testing.T) {
	e := newEnv(t, queue.PolicyShare)
	e.register(t, "A", domain.RoleReviewer)
	e.register(t, "B", domain.RoleReviewer)
	e.register(t, "U", domain.RoleAuthor)
	ctx := context.Background()

	r, err := e.svc.SetStatus(ctx, admin, "A", domain.StatusUnavailable)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnavailable, r.Status)
	assert.Zero(t, r.Priority)

	next, err := e.svc.NextReviewer(ctx, "U")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "B", next.ID)

	p := e.submit(t, "P1", "U", 10)
	assert.Equal(t, "B", p.ReviewerID)

	_, err = e.svc.SetStatus(ctx, admin, "B", domain.StatusUnavailable)
	require.NoError(t, err)
	_, err = e.svc.Submit(ctx, "U", domain.ProjectDraft{ID: "P2", AuthorID: "U", PageCount: 1})
	assert.ErrorIs(t, err, domain.ErrNoEligibleReviewer)

	_, err = e.svc.SetStatus(ctx, admin, "A", "sleeping")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = e.svc.SetStatus(ctx, admin, "ghost", domain.StatusIdle)
	assert.ErrorIs(t, err, domain.ErrReviewerNotFound)
}

func TestListReviewers(t *testing.T) {
	e := newEnv(t, queue.PolicyShare)
	e.register(t, "A", domain.RoleReviewer)
	e.register(t, "B", domain.RoleReviewer)
	e.register(t, "C", domain.RoleReviewer)
	e.register(t, "U", domain.RoleAuthor)
	ctx := context.Background()

	e.submit(t, "P1", "U", 10)
	_, err := e.svc.SetStatus(ctx, admin, "C", domain.StatusUnavailable)
	require.NoError(t, err)

	all, err := e.svc.ListReviewers(ctx, true)
	require.NoError(t, err)

	var order []string
	for _, r := range all {
		order = append(order, fmt.Sprintf("%s:%d", r.ID, r.Priority))
	}
	assert.Equal(t, []string{"B:1", "A:2", "C:0"}, order)

	me, err := e.svc.Reviewer(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 2, me.Priority)
	assert.Equal(t, 10, me.PendingPageDelta)

	_, err = e.svc.Reviewer(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrReviewerNotFound)
}

func TestRegisterReviewer_KeepsQueueState(t *testing.T) {
	e := newEnv(t, queue.PolicyShare)
	e.register(t, "A", domain.RoleReviewer)
	e.register(t, "B", domain.RoleReviewer)
	e.register(t, "U", domain.RoleAuthor)
	ctx := context.Background()

	e.submit(t, "P1", "U", 10)
	before := e.reviewer(t, "A")

	_, err := e.svc.RegisterReviewer(ctx, admin, domain.Reviewer{ID: "A", Name: "New Name", Email: "new@example.org"})
	require.NoError(t, err)

	after := e.reviewer(t, "A")
	assert.Equal(t, "New Name", after.Name)
	assert.Equal(t, before.Rank, after.Rank)
	assert.Equal(t, before.PendingPageDelta, after.PendingPageDelta)

	_, err = e.svc.RegisterReviewer(ctx, admin, domain.Reviewer{ID: " ", Name: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = e.svc.RegisterReviewer(ctx, admin, domain.Reviewer{ID: "x", Name: "x", Role: "boss"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestConcurrentSubmit_SingleReviewer(t *testing.T) {
	tests := []struct {
		policy        queue.Policy
		wantSucceeded int
		wantRank      int64
	}{
		{policy: queue.PolicyShare, wantSucceeded: 2, wantRank: 3},
		{policy: queue.PolicyExclusive, wantSucceeded: 1, wantRank: 2},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			e := newEnv(t, tt.policy)
			e.register(t, "C", domain.RoleReviewer)
			e.register(t, "U", domain.RoleAuthor)

			var (
				wg        sync.WaitGroup
				succeeded atomic.Int32
				noReview  atomic.Int32
			)
			for i := 0; i < 2; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					tr, err := e.svc.Submit(context.Background(), "U", domain.ProjectDraft{
						ID:        fmt.Sprintf("P%d", i),
						AuthorID:  "U",
						PageCount: 10,
					})
					switch {
					case err == nil:
						if tr.Project.ReviewerID == "C" {
							succeeded.Add(1)
						}
					case errors.Is(err, domain.ErrNoEligibleReviewer):
						noReview.Add(1)
					}
				}(i)
			}
			wg.Wait()

			assert.Equal(t, int32(tt.wantSucceeded), succeeded.Load())
			assert.Equal(t, int32(2-tt.wantSucceeded), noReview.Load())

			c := e.reviewer(t, "C")
			assert.Equal(t, tt.wantRank, c.Rank)
			assert.Equal(t, 10*tt.wantSucceeded, c.PendingPageDelta)
			if tt.policy == queue.PolicyExclusive {
				assert.Equal(t, domain.StatusBusy, c.Status)
			} else {
				assert.Equal(t, domain.StatusIdle, c.Status)
			}
		})
	}
}

func TestExclusive_ReleasesReviewer(t *testing.T) {
	e := newEnv(t, queue.PolicyExclusive)
	e.register(t, "A", domain.RoleReviewer)
	e.register(t, "B", domain.RoleReviewer)
	e.register(t, "U", domain.RoleAuthor)
	ctx := context.Background()

	e.submit(t, "P1", "U", 10)
	assert.Equal(t, domain.StatusBusy, e.reviewer(t, "A").Status)

	p := e.submit(t, "P2", "U", 10)
	assert.Equal(t, "B", p.ReviewerID)

	_, err := e.svc.Submit(ctx, "U", domain.ProjectDraft{ID: "P3", AuthorID: "U", PageCount: 1})
	assert.ErrorIs(t, err, domain.ErrNoEligibleReviewer)

	_, err = e.svc.Complete(ctx, "U", "P1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusIdle, e.reviewer(t, "A").Status)

	require.NoError(t, e.svc.Delete(ctx, "U", "P2"))
	assert.Equal(t, domain.StatusIdle, e.reviewer(t, "B").Status)
}

func TestSearchHistory(t *testing.T) {
	e := newEnv(t, queue.PolicyShare)
	e.register(t, "A", domain.RoleReviewer)
	e.register(t, "U", domain.RoleAuthor)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		e.submit(t, fmt.Sprintf("P%d", i), "U", 10)
		_, err := e.svc.Complete(ctx, "U", fmt.Sprintf("P%d", i))
		require.NoError(t, err)
	}
	e.submit(t, "P9", "U", 10)

	list, total, err := e.svc.SearchHistory(ctx, domain.HistoryFilter{Author: "  name u "}, domain.Page{Size: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, list, 2)
	assert.Equal(t, "P2", list[0].ID)

	list, total, err = e.svc.SearchHistory(ctx, domain.HistoryFilter{Code: "r-p1"}, domain.Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "P1", list[0].ID)

	_, total, err = e.svc.ListCurrent(ctx, domain.Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}
