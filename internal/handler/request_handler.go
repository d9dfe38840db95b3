package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/stock-issuance-api/internal/dto"
	"github.com/noah-isme/stock-issuance-api/internal/middleware"
	"github.com/noah-isme/stock-issuance-api/internal/models"
	"github.com/noah-isme/stock-issuance-api/internal/service"
	appErrors "github.com/noah-isme/stock-issuance-api/pkg/errors"
	"github.com/noah-isme/stock-issuance-api/pkg/response"
)

type requestService interface {
	Submit(ctx context.Context, payload dto.SubmitRequest, actor service.Actor) (*service.SubmitResult, error)
	RouteRequest(ctx context.Context, id string, actor service.Actor) (*models.Approval, error)
	Get(ctx context.Context, id string, actor service.Actor) (*models.Request, error)
	List(ctx context.Context, filter models.RequestFilter, actor service.Actor) ([]models.Request, *models.Pagination, error)
	Timeline(ctx context.Context, id string, actor service.Actor) (*models.RequestTimeline, error)
	SoftDelete(ctx context.Context, id string, actor service.Actor) error
	Purge(ctx context.Context, id string, actor service.Actor) error
}

// RequestHandler exposes stock request endpoints.
type RequestHandler struct {
	service requestService
}

// NewRequestHandler builds a new handler.
func NewRequestHandler(svc requestService) *RequestHandler {
	return &RequestHandler{service: svc}
}

// Submit godoc
// @Summary Submit a stock request
// @Description Stores the request and routes it to its first approver. A routing failure is reported in meta.routing_error.
// @Tags Requests
// @Accept json
// @Produce json
// @Param payload body dto.SubmitRequest true "Request payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /requests [post]
func (h *RequestHandler) Submit(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var payload dto.SubmitRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation, "invalid request payload"))
		return
	}

	result, err := h.service.Submit(c.Request.Context(), payload, actor)
	if err != nil {
		response.Error(c, err)
		return
	}

	meta := map[string]interface{}{}
	if result.RoutingError != nil {
		meta["routing_error"] = result.RoutingError
	}
	response.JSON(c, http.StatusCreated, result, nil, middleware.MergeMeta(c, meta))
}

// List godoc
// @Summary List stock requests
// @Tags Requests
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param type query string false "INDIVIDUAL or ORGANIZATIONAL"
// @Param requesterId query string false "Requester"
// @Param wingId query string false "Wing"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /requests [get]
func (h *RequestHandler) List(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	filter := models.RequestFilter{
		RequesterID: c.Query("requesterId"),
		Type:        models.RequestType(c.Query("type")),
		WingID:      c.Query("wingId"),
		Page:        queryInt(c, "page", 1),
		PageSize:    queryInt(c, "pageSize", 50),
	}
	for _, status := range queryList(c, "status") {
		filter.Status = append(filter.Status, models.RequestStatus(status))
	}

	list, pagination, err := h.service.List(c.Request.Context(), filter, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, list, pagination)
}

// Get godoc
// @Summary Get a stock request
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /requests/{id} [get]
func (h *RequestHandler) Get(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	req, err := h.service.Get(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, req, nil)
}

// Timeline godoc
// @Summary Approval chain and history of a request
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/timeline [get]
func (h *RequestHandler) Timeline(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	timeline, err := h.service.Timeline(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, timeline, nil)
}

// Route godoc
// @Summary Retry approver assignment
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 201 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /requests/{id}/route [post]
func (h *RequestHandler) Route(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	approval, err := h.service.RouteRequest(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, approval)
}

// Delete godoc
// @Summary Withdraw a request
// @Tags Requests
// @Param id path string true "Request ID"
// @Success 204
// @Failure 409 {object} response.Envelope
// @Router /requests/{id} [delete]
func (h *RequestHandler) Delete(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	if err := h.service.SoftDelete(c.Request.Context(), c.Param("id"), actor); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Purge godoc
// @Summary Permanently remove a withdrawn request
// @Tags Requests
// @Param id path string true "Request ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /requests/{id}/purge [delete]
func (h *RequestHandler) Purge(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	if err := h.service.Purge(c.Request.Context(), c.Param("id"), actor); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
