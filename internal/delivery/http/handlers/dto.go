package handlers

import "github.com/3eLLenKa/reviewdesk/internal/domain"

type Reviewer struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Email            string `json:"email,omitempty"`
	Role             string `json:"role"`
	Status           string `json:"status"`
	PendingPageDelta int    `json:"pending_page_delta"`
	SkippedLastRound bool   `json:"skipped_last_round"`
	Priority         *int   `json:"priority"`
}

type Project struct {
	ID           string            `json:"id"`
	Names        map[string]string `json:"names"`
	DisplayName  string            `json:"display_name"`
	Company      string            `json:"company"`
	AuthorID     string            `json:"author_id"`
	AuthorName   string            `json:"author_name"`
	ReviewerID   string            `json:"reviewer_id"`
	ReviewerName string            `json:"reviewer_name"`
	SubmittedAt  int64             `json:"submitted_at"`
	CompletedAt  *int64            `json:"completed_at"`
	PageCount    int               `json:"page_count"`
	Urgent       bool              `json:"urgent"`
	Archived     bool              `json:"archived"`
	Version      int64             `json:"version"`
}

type ProjectPage struct {
	Projects []Project `json:"projects"`
	Total    int       `json:"total"`
}

type TransitionResponse struct {
	Project Project `json:"project"`
	JobID   string  `json:"job_id,omitempty"`
	Warning string  `json:"warning,omitempty"`
}

type SetStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

type RegisterReviewerRequest struct {
	ID    string `json:"id" binding:"required"`
	Name  string `json:"name" binding:"required"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type SubmitRequest struct {
	ID        string            `json:"id"`
	Names     map[string]string `json:"names"`
	Company   string            `json:"company"`
	AuthorID  string            `json:"author_id"`
	PageCount int               `json:"page_count" binding:"required"`
	Urgent    bool              `json:"urgent"`
}

type PageRequest struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

type HistorySearchRequest struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Company  string `json:"company"`
	Author   string `json:"author"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
}

type EditRequest struct {
	PageCount  *int    `json:"page_count"`
	Urgent     *bool   `json:"urgent"`
	ReviewerID *string `json:"reviewer_id"`
	Version    *int64  `json:"version"`
}

type ResendRequest struct {
	ProjectID   string `json:"project_id" binding:"required"`
	RecipientID string `json:"recipient_id"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

func toReviewer(r domain.Reviewer) Reviewer {
	out := Reviewer{
		ID:               r.ID,
		Name:             r.Name,
		Email:            r.Email,
		Role:             string(r.Role),
		Status:           string(r.Status),
		PendingPageDelta: r.PendingPageDelta,
		SkippedLastRound: r.SkippedLastRound,
	}
	if r.Priority > 0 {
		p := r.Priority
		out.Priority = &p
	}
	return out
}

func toReviewers(list []domain.Reviewer) []Reviewer {
	out := make([]Reviewer, 0, len(list))
	for _, r := range list {
		out = append(out, toReviewer(r))
	}
	return out
}

func toProject(p *domain.Project) Project {
	out := Project{
		ID:           p.ID,
		Names:        p.Names,
		DisplayName:  p.DisplayName(),
		Company:      p.Company,
		AuthorID:     p.AuthorID,
		AuthorName:   p.AuthorName,
		ReviewerID:   p.ReviewerID,
		ReviewerName: p.ReviewerName,
		SubmittedAt:  p.SubmittedAt.Unix(),
		PageCount:    p.PageCount,
		Urgent:       p.Urgent,
		Archived:     p.Archived,
		Version:      p.Version,
	}
	if p.CompletedAt != nil {
		t := p.CompletedAt.Unix()
		out.CompletedAt = &t
	}
	return out
}

func toProjectPage(list []*domain.Project, total int) ProjectPage {
	out := ProjectPage{Projects: make([]Project, 0, len(list)), Total: total}
	for _, p := range list {
		out.Projects = append(out.Projects, toProject(p))
	}
	return out
}

func toTransition(t *domain.Transition) TransitionResponse {
	return TransitionResponse{
		Project: toProject(t.Project),
		JobID:   t.JobID,
		Warning: t.Warning,
	}
}
