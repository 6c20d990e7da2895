package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/oapi-codegen/runtime"

	"github.com/3eLLenKa/reviewdesk/internal/delivery/http/middleware"
	"github.com/3eLLenKa/reviewdesk/internal/domain"
)

type Service interface {
	ListReviewers(ctx context.Context, reviewersOnly bool) ([]domain.Reviewer, error)
	Reviewer(ctx context.Context, id string) (*domain.Reviewer, error)
	NextReviewer(ctx context.Context, excluding string) (*domain.Reviewer, error)
	SetStatus(ctx context.Context, actor, id string, status domain.ReviewerStatus) (*domain.Reviewer, error)
	RegisterReviewer(ctx context.Context, actor string, r domain.Reviewer) (*domain.Reviewer, error)

	Submit(ctx context.Context, actor string, draft domain.ProjectDraft) (*domain.Transition, error)
	ListCurrent(ctx context.Context, page domain.Page) ([]*domain.Project, int, error)
	SearchHistory(ctx context.Context, f domain.HistoryFilter, page domain.Page) ([]*domain.Project, int, error)
	GetCurrent(ctx context.Context, id string) (*domain.Project, error)
	GetHistory(ctx context.Context, id string) (*domain.Project, error)
	Edit(ctx context.Context, actor, id string, edit domain.ProjectEdit) (*domain.Transition, error)
	Complete(ctx context.Context, actor, id string) (*domain.Transition, error)
	Delete(ctx context.Context, actor, id string) error
	Resend(ctx context.Context, actor, projectID, recipientID string) (string, error)
}

type Handlers struct {
	log *slog.Logger
	svc Service
}

func NewHandlers(log *slog.Logger, svc Service) *Handlers {
	return &Handlers{log: log, svc: svc}
}

// Register mounts every route on r. Callers put the auth middleware in front.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/reviewers", h.ListReviewers)
	r.POST("/reviewers", h.RegisterReviewer)
	r.GET("/reviewers/me", h.Me)
	r.POST("/reviewers/:id/status", h.SetStatus)
	r.GET("/queue/next", h.NextReviewer)

	r.POST("/projects/submit", h.Submit)
	r.POST("/projects/current", h.ListCurrent)
	r.GET("/projects/current/:id", h.GetCurrent)
	r.POST("/projects/current/:id/edit", h.Edit)
	r.POST("/projects/current/:id/archive", h.Archive)
	r.POST("/projects/current/:id", h.Delete)
	r.DELETE("/projects/current/:id", h.Delete)
	r.POST("/projects/history/search", h.SearchHistory)
	r.GET("/projects/history/:id", h.GetHistory)

	r.POST("/notifications/resend", h.Resend)
}

func (h *Handlers) ListReviewers(c *gin.Context) {
	var role string
	if err := runtime.BindQueryParameter("form", true, false, "role", c.Request.URL.Query(), &role); err != nil {
		h.badRequest(c, "invalid role parameter")
		return
	}

	reviewers, err := h.svc.ListReviewers(c.Request.Context(), role == string(domain.RoleReviewer))
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"reviewers": toReviewers(reviewers)})
}

func (h *Handlers) Me(c *gin.Context) {
	r, err := h.svc.Reviewer(c.Request.Context(), middleware.CallerID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reviewer": toReviewer(*r)})
}

func (h *Handlers) RegisterReviewer(c *gin.Context) {
	var req RegisterReviewerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err.Error())
		return
	}

	r, err := h.svc.RegisterReviewer(c.Request.Context(), middleware.CallerID(c), domain.Reviewer{
		ID:    req.ID,
		Name:  req.Name,
		Email: req.Email,
		Role:  domain.Role(req.Role),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reviewer": toReviewer(*r)})
}

func (h *Handlers) SetStatus(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	var req SetStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err.Error())
		return
	}

	r, err := h.svc.SetStatus(c.Request.Context(), middleware.CallerID(c), id, domain.ReviewerStatus(req.Status))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reviewer": toReviewer(*r)})
}

func (h *Handlers) NextReviewer(c *gin.Context) {
	exclude := middleware.CallerID(c)
	if err := runtime.BindQueryParameter("form", true, false, "exclude", c.Request.URL.Query(), &exclude); err != nil {
		h.badRequest(c, "invalid exclude parameter")
		return
	}

	next, err := h.svc.NextReviewer(c.Request.Context(), exclude)
	if err != nil {
		h.fail(c, err)
		return
	}
	if next == nil {
		c.JSON(http.StatusOK, gin.H{"next": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"next": toReviewer(*next)})
}

func (h *Handlers) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err.Error())
		return
	}

	author := req.AuthorID
	if author == "" {
		author = middleware.CallerID(c)
	}

	t, err := h.svc.Submit(c.Request.Context(), middleware.CallerID(c), domain.ProjectDraft{
		ID:        req.ID,
		Names:     req.Names,
		Company:   req.Company,
		AuthorID:  author,
		PageCount: req.PageCount,
		Urgent:    req.Urgent,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toTransition(t))
}

func (h *Handlers) ListCurrent(c *gin.Context) {
	var req PageRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		h.badRequest(c, err.Error())
		return
	}

	projects, total, err := h.svc.ListCurrent(c.Request.Context(), domain.Page{Number: req.Page, Size: req.PageSize})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toProjectPage(projects, total))
}

func (h *Handlers) SearchHistory(c *gin.Context) {
	var req HistorySearchRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		h.badRequest(c, err.Error())
		return
	}

	projects, total, err := h.svc.SearchHistory(c.Request.Context(),
		domain.HistoryFilter{Code: req.Code, Name: req.Name, Company: req.Company, Author: req.Author},
		domain.Page{Number: req.Page, Size: req.PageSize},
	)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toProjectPage(projects, total))
}

func (h *Handlers) GetCurrent(c *gin.Context) {
	h.getProject(c, h.svc.GetCurrent)
}

func (h *Handlers) GetHistory(c *gin.Context) {
	h.getProject(c, h.svc.GetHistory)
}

func (h *Handlers) getProject(c *gin.Context, get func(context.Context, string) (*domain.Project, error)) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	p, err := get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": toProject(p)})
}

func (h *Handlers) Edit(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	var req EditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err.Error())
		return
	}

	t, err := h.svc.Edit(c.Request.Context(), middleware.CallerID(c), id, domain.ProjectEdit{
		PageCount:  req.PageCount,
		Urgent:     req.Urgent,
		ReviewerID: req.ReviewerID,
		Version:    req.Version,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toTransition(t))
}

func (h *Handlers) Archive(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	t, err := h.svc.Complete(c.Request.Context(), middleware.CallerID(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toTransition(t))
}

// Delete is destructive and has no undo. A 404 on a retried delete means an
// earlier attempt already succeeded.
func (h *Handlers) Delete(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	if err := h.svc.Delete(c.Request.Context(), middleware.CallerID(c), id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) Resend(c *gin.Context) {
	var req ResendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err.Error())
		return
	}

	jobID, err := h.svc.Resend(c.Request.Context(), middleware.CallerID(c), req.ProjectID, req.RecipientID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
}

// вспомогательные функции:

func (h *Handlers) pathID(c *gin.Context) (string, bool) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "id", c.Param("id"), &id, runtime.BindStyledParameterOptions{
		ParamLocation: runtime.ParamLocationPath,
		Explode:       false,
		Required:      true,
	})
	if err != nil || id == "" {
		h.badRequest(c, "invalid id path parameter")
		return "", false
	}
	return id, true
}

// bindOptionalJSON decodes the body into dst. An empty body, sized or
// chunked, leaves dst at its zero value.
func bindOptionalJSON(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (h *Handlers) badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, errorResponse("BAD_REQUEST", message))
}

func (h *Handlers) fail(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"

	switch {
	case errors.Is(err, domain.ErrCurrentNotFound):
		status, code = http.StatusNotFound, "CURRENT_NOT_FOUND"
	case errors.Is(err, domain.ErrHistoryNotFound):
		status, code = http.StatusNotFound, "HISTORY_NOT_FOUND"
	case errors.Is(err, domain.ErrReviewerNotFound):
		status, code = http.StatusNotFound, "REVIEWER_NOT_FOUND"
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "PROJECT_NOT_FOUND"
	case errors.Is(err, domain.ErrAlreadyArchived):
		status, code = http.StatusConflict, "ALREADY_ARCHIVED"
	case errors.Is(err, domain.ErrInvalidState):
		status, code = http.StatusConflict, "INVALID_STATE"
	case errors.Is(err, domain.ErrInvalidTarget):
		status, code = http.StatusUnprocessableEntity, "INVALID_TARGET"
	case errors.Is(err, domain.ErrNoEligibleReviewer):
		status, code = http.StatusConflict, "NO_ELIGIBLE_REVIEWER"
	case errors.Is(err, domain.ErrConflict):
		status, code = http.StatusConflict, "CONFLICT"
	case errors.Is(err, domain.ErrProjectExists):
		status, code = http.StatusConflict, "PROJECT_EXISTS"
	case errors.Is(err, domain.ErrInvalidInput):
		status, code = http.StatusBadRequest, "BAD_REQUEST"
	}

	if status == http.StatusInternalServerError {
		h.log.Error("handlers: request failed", slog.String("path", c.FullPath()), slog.Any("error", err))
		c.JSON(status, errorResponse(code, "internal error"))
		return
	}
	c.JSON(status, errorResponse(code, err.Error()))
}

func errorResponse(code, message string) ErrorResponse {
	return ErrorResponse{Error: ErrorBody{Code: code, Message: message}}
}
