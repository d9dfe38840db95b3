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

type verificationService interface {
	Forward(ctx context.Context, requestItemID, storeKeeperID string, actor service.Actor) (*models.VerificationRequest, error)
	Record(ctx context.Context, id string, physicalCount int, notes string, actor service.Actor) (*models.VerificationRequest, error)
	Reforward(ctx context.Context, id, storeKeeperID string, actor service.Actor) (*models.VerificationRequest, error)
	GetForwardedTo(ctx context.Context, userID string) ([]models.VerificationRequest, error)
}

// VerificationHandler exposes stock verification endpoints.
type VerificationHandler struct {
	service verificationService
}

// NewVerificationHandler builds a new handler.
func NewVerificationHandler(svc verificationService) *VerificationHandler {
	return &VerificationHandler{service: svc}
}

// Forward godoc
// @Summary Forward a request item to a store keeper
// @Tags Verifications
// @Accept json
// @Produce json
// @Param id path string true "Request item ID"
// @Param payload body dto.ForwardVerificationRequest true "Target store keeper"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /verifications/{id}/forward [post]
func (h *VerificationHandler) Forward(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var payload dto.ForwardVerificationRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation, "invalid forward payload"))
		return
	}
	v, err := h.service.Forward(c.Request.Context(), c.Param("id"), payload.StoreKeeperID, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, v)
}

// Verify godoc
// @Summary Record the physical count
// @Tags Verifications
// @Accept json
// @Produce json
// @Param id path string true "Verification ID"
// @Param payload body dto.RecordVerificationRequest true "Count"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /verifications/{id}/verify [post]
func (h *VerificationHandler) Verify(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var payload dto.RecordVerificationRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation, "invalid verification payload"))
		return
	}
	v, err := h.service.Record(c.Request.Context(), c.Param("id"), *payload.PhysicalCount, payload.Notes, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, v, nil)
}

// Reforward godoc
// @Summary Hand a pending verification to another store keeper
// @Tags Verifications
// @Accept json
// @Produce json
// @Param id path string true "Verification ID"
// @Param payload body dto.ForwardVerificationRequest true "Target store keeper"
// @Success 201 {object} response.Envelope
// @Router /verifications/{id}/reforward [post]
func (h *VerificationHandler) Reforward(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var payload dto.ForwardVerificationRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation, "invalid forward payload"))
		return
	}
	v, err := h.service.Reforward(c.Request.Context(), c.Param("id"), payload.StoreKeeperID, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, v)
}

// List godoc
// @Summary Verifications assigned to a store keeper
// @Tags Verifications
// @Produce json
// @Param userId query string false "Store keeper, defaults to the caller"
// @Success 200 {object} response.Envelope
// @Router /verifications [get]
func (h *VerificationHandler) List(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	userID := c.Query("userId")
	if userID == "" {
		userID = actor.ID
	}
	if userID != actor.ID && !actor.IsAdmin() {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "cannot view another store keeper's verifications"))
		return
	}
	list, err := h.service.GetForwardedTo(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, list, nil)
}
