package domain

import (
	"sort"
	"strings"
	"time"
)

type Role string

const (
	RoleAuthor   Role = "author"
	RoleReviewer Role = "reviewer"
)

func (r Role) Valid() bool {
	return r == RoleAuthor || r == RoleReviewer
}

type ReviewerStatus string

const (
	StatusIdle        ReviewerStatus = "idle"
	StatusBusy        ReviewerStatus = "busy"
	StatusUnavailable ReviewerStatus = "unavailable"
)

func (s ReviewerStatus) Valid() bool {
	switch s {
	case StatusIdle, StatusBusy, StatusUnavailable:
		return true
	}
	return false
}

// Reviewer is a member of the review pool. Rank is the persisted round-robin
// position; Priority is derived from the ranked queue on every read and is 0
// for anyone outside the queue.
type Reviewer struct {
	ID               string
	Name             string
	Email            string
	Role             Role
	Status           ReviewerStatus
	PendingPageDelta int
	SkippedLastRound bool
	Rank             int64
	Priority         int
}

// InQueue reports whether the reviewer takes part in assignment ranking.
func (r Reviewer) InQueue() bool {
	return r.Role == RoleReviewer && r.Status != StatusUnavailable
}

type Project struct {
	ID           string
	Names        map[string]string
	Company      string
	AuthorID     string
	AuthorName   string
	ReviewerID   string
	ReviewerName string
	SubmittedAt  time.Time
	CompletedAt  *time.Time
	PageCount    int
	Urgent       bool
	Archived     bool
	Version      int64
}

// DisplayName joins the distinct report titles in code order. Several codes
// may share one title; all codes stay in Names.
func (p *Project) DisplayName() string {
	codes := make([]string, 0, len(p.Names))
	for code := range p.Names {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	seen := make(map[string]bool, len(codes))
	titles := make([]string, 0, len(codes))
	for _, code := range codes {
		title := p.Names[code]
		if seen[title] {
			continue
		}
		seen[title] = true
		titles = append(titles, title)
	}
	return strings.Join(titles, ", ")
}

// Clone returns a deep copy so callers can mutate without touching stored state.
func (p *Project) Clone() *Project {
	cp := *p
	cp.Names = make(map[string]string, len(p.Names))
	for k, v := range p.Names {
		cp.Names[k] = v
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// ProjectDraft carries the fields the submission pipeline produces.
type ProjectDraft struct {
	ID        string
	Names     map[string]string
	Company   string
	AuthorID  string
	PageCount int
	Urgent    bool
}

type ProjectEdit struct {
	PageCount  *int
	Urgent     *bool
	ReviewerID *string
	Version    *int64
}

func (e ProjectEdit) Empty() bool {
	return e.PageCount == nil && e.Urgent == nil && e.ReviewerID == nil
}

type HistoryFilter struct {
	Code    string
	Name    string
	Company string
	Author  string
}

type Page struct {
	Number int
	Size   int
}

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

type NotificationKind string

const (
	KindAssignedForReview   NotificationKind = "assigned_for_review"
	KindReassignedForReview NotificationKind = "reassigned_for_review"
	KindCompletedAndSent    NotificationKind = "completed_and_sent"
)

// NotificationJob is one outbox entry. A failed attempt pushes NextAttemptAt
// forward; until then the job and every later job of its project wait.
type NotificationJob struct {
	ID            string
	Seq           int64
	Kind          NotificationKind
	RecipientID   string
	ProjectID     string
	RequestedAt   time.Time
	DeliveredAt   *time.Time
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
}

type AuditAction string

const (
	AuditSubmit    AuditAction = "submit"
	AuditEdit      AuditAction = "edit"
	AuditReassign  AuditAction = "reassign"
	AuditArchive   AuditAction = "archive"
	AuditDelete    AuditAction = "delete"
	AuditSetStatus AuditAction = "set_status"
	AuditRegister  AuditAction = "register"
	AuditResend    AuditAction = "resend"
)

type AuditEntry struct {
	Actor    string
	Action   AuditAction
	TargetID string
	Detail   string
	At       time.Time
}

// Transition is the outcome of a coordinator operation that commits state
// together with a notification request. Warning is set when only the
// notification could not be enqueued; the committed state stands regardless.
type Transition struct {
	Project *Project
	JobID   string
	Warning string
}
