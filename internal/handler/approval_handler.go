package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/stock-issuance-api/internal/dto"
	"github.com/noah-isme/stock-issuance-api/internal/models"
	"github.com/noah-isme/stock-issuance-api/internal/service"
	appErrors "github.com/noah-isme/stock-issuance-api/pkg/errors"
	"github.com/noah-isme/stock-issuance-api/pkg/response"
)

type approvalService interface {
	CreateApproval(ctx context.Context, requestID, approverID string, actor service.Actor) (*models.Approval, error)
	RecordItemDecision(ctx context.Context, approvalID, itemID string, decision models.ItemDecision, reason string, actor service.Actor) (*models.ApprovalItem, error)
	FinalizeApproval(ctx context.Context, approvalID string, actor service.Actor) (*service.FinalizeResult, error)
	ListApprovalsFor(ctx context.Context, userID string, statuses []models.ApprovalStatus) ([]models.Approval, error)
	GetApproval(ctx context.Context, id string) (*models.Approval, error)
}

type routingCache interface {
	Invalidate(ctx context.Context) error
}

// ApprovalHandler exposes approver endpoints.
type ApprovalHandler struct {
	service approvalService
	cache   routingCache
}

// NewApprovalHandler builds a new handler. cache may be nil when routing lookups are not cached.
func NewApprovalHandler(svc approvalService, cache routingCache) *ApprovalHandler {
	return &ApprovalHandler{service: svc, cache: cache}
}

// Create godoc
// @Summary Assign a submitted request to an explicit approver
// @Tags Approvals
// @Accept json
// @Produce json
// @Param payload body dto.CreateApprovalRequest true "Assignment"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /approvals [post]
func (h *ApprovalHandler) Create(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var payload dto.CreateApprovalRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation, "invalid approval payload"))
		return
	}
	approval, err := h.service.CreateApproval(c.Request.Context(), payload.RequestID, payload.ApproverID, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, approval)
}

// List godoc
// @Summary List an approver's queue
// @Description Pending approvals are ordered oldest first.
// @Tags Approvals
// @Produce json
// @Param userId query string false "Approver, defaults to the caller"
// @Param status query string false "Comma separated statuses, defaults to pending"
// @Success 200 {object} response.Envelope
// @Router /approvals [get]
func (h *ApprovalHandler) List(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	userID := c.Query("userId")
	if userID == "" {
		userID = actor.ID
	}
	if userID != actor.ID && !actor.IsAdmin() {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "cannot view another approver's queue"))
		return
	}
	statuses := []models.ApprovalStatus{models.ApprovalStatusPending}
	if raw := queryList(c, "status"); len(raw) > 0 {
		statuses = statuses[:0]
		for _, s := range raw {
			statuses = append(statuses, models.ApprovalStatus(s))
		}
	}

	list, err := h.service.ListApprovalsFor(c.Request.Context(), userID, statuses)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, list, nil)
}

// Get godoc
// @Summary Get an approval with its items
// @Tags Approvals
// @Produce json
// @Param id path string true "Approval ID"
// @Success 200 {object} response.Envelope
// @Router /approvals/{id} [get]
func (h *ApprovalHandler) Get(c *gin.Context) {
	approval, err := h.service.GetApproval(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, approval, nil)
}

// Decide godoc
// @Summary Record a decision on one approval item
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Approval ID"
// @Param itemId path string true "Approval item or request item ID"
// @Param payload body dto.ItemDecisionRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /approvals/{id}/items/{itemId}/decision [post]
func (h *ApprovalHandler) Decide(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var payload dto.ItemDecisionRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation, "invalid decision payload"))
		return
	}
	item, err := h.service.RecordItemDecision(c.Request.Context(), c.Param("id"), c.Param("itemId"), models.ItemDecision(payload.Decision), payload.Reason, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Finalize godoc
// @Summary Aggregate item decisions and close the approval
// @Description All approved gives approved, all rejected gives rejected, a mix returns the request for another routing cycle.
// @Tags Approvals
// @Produce json
// @Param id path string true "Approval ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /approvals/{id}/finalize [post]
func (h *ApprovalHandler) Finalize(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	result, err := h.service.FinalizeApproval(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// InvalidateRoutingCache godoc
// @Summary Drop cached supervisor and wing approver lookups
// @Tags Admin
// @Success 204
// @Router /admin/routing-cache [delete]
func (h *ApprovalHandler) InvalidateRoutingCache(c *gin.Context) {
	if h.cache != nil {
		if err := h.cache.Invalidate(c.Request.Context()); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal, "failed to invalidate routing cache"))
			return
		}
	}
	response.NoContent(c)
}
