package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/stock-issuance-api/internal/dto"
	"github.com/noah-isme/stock-issuance-api/internal/models"
	"github.com/noah-isme/stock-issuance-api/internal/service"
	appErrors "github.com/noah-isme/stock-issuance-api/pkg/errors"
	"github.com/noah-isme/stock-issuance-api/pkg/response"
)

type ledgerService interface {
	IssueItems(ctx context.Context, requestID string, actor service.Actor) (*service.IssueResult, error)
	ReturnItems(ctx context.Context, entryID string, condition models.ReturnCondition, actor service.Actor) (*models.LedgerEntry, error)
	List(ctx context.Context, filter models.LedgerFilter) ([]models.LedgerEntry, *models.Pagination, error)
	ListItems(ctx context.Context, search string) ([]models.Item, error)
}

type ledgerExporter interface {
	ExportLedger(ctx context.Context, filter models.LedgerFilter, format models.ExportFormat) (*service.ExportResult, error)
}

// LedgerHandler exposes issuance, return and ledger reporting endpoints.
type LedgerHandler struct {
	service  ledgerService
	exporter ledgerExporter
}

// NewLedgerHandler builds a new handler.
func NewLedgerHandler(svc ledgerService, exporter ledgerExporter) *LedgerHandler {
	return &LedgerHandler{service: svc, exporter: exporter}
}

// Issue godoc
// @Summary Issue stock for an approved request
// @Description Deducts every line atomically; a shortfall on any line issues nothing.
// @Tags Ledger
// @Produce json
// @Param id path string true "Request ID"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /requests/{id}/issue [post]
func (h *LedgerHandler) Issue(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	result, err := h.service.IssueItems(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Return godoc
// @Summary Record stock coming back
// @Tags Ledger
// @Accept json
// @Produce json
// @Param id path string true "Ledger entry ID"
// @Param payload body dto.ReturnLedgerRequest true "Condition"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /ledger/{id}/return [post]
func (h *LedgerHandler) Return(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var payload dto.ReturnLedgerRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation, "invalid return payload"))
		return
	}
	entry, err := h.service.ReturnItems(c.Request.Context(), c.Param("id"), models.ReturnCondition(payload.Condition), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry, nil)
}

// List godoc
// @Summary List issued item ledger entries
// @Tags Ledger
// @Produce json
// @Param requestId query string false "Request"
// @Param itemId query string false "Item"
// @Param returnStatus query string false "OUTSTANDING or RETURNED"
// @Param from query string false "Issued from (RFC3339)"
// @Param to query string false "Issued to (RFC3339)"
// @Param limit query int false "Limit"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Envelope
// @Router /ledger [get]
func (h *LedgerHandler) List(c *gin.Context) {
	filter, err := ledgerFilterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	entries, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, pagination)
}

// Export godoc
// @Summary Export the ledger
// @Tags Ledger
// @Produce text/csv
// @Produce application/pdf
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param format query string false "csv, pdf or xlsx"
// @Success 200 {file} file
// @Router /ledger/export [get]
func (h *LedgerHandler) Export(c *gin.Context) {
	filter, err := ledgerFilterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.exporter.ExportLedger(c.Request.Context(), filter, models.ExportFormat(c.DefaultQuery("format", "csv")))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("X-Export-Rows", strconv.Itoa(result.Rows))
	if result.Truncated {
		c.Header("X-Export-Truncated", "true")
	}
	response.Attachment(c, result.Filename, result.ContentType, result.Data)
}

// Items godoc
// @Summary List the item master
// @Tags Ledger
// @Produce json
// @Param q query string false "Code or name search"
// @Success 200 {object} response.Envelope
// @Router /items [get]
func (h *LedgerHandler) Items(c *gin.Context) {
	items, err := h.service.ListItems(c.Request.Context(), c.Query("q"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

func ledgerFilterFromQuery(c *gin.Context) (models.LedgerFilter, error) {
	filter := models.LedgerFilter{
		RequestID:    c.Query("requestId"),
		ItemID:       c.Query("itemId"),
		ReturnStatus: models.ReturnStatus(c.Query("returnStatus")),
		Limit:        queryInt(c, "limit", 100),
		Offset:       queryInt(c, "offset", 0),
	}
	for key, target := range map[string]**time.Time{"from": &filter.IssuedFrom, "to": &filter.IssuedTo} {
		raw := c.Query(key)
		if raw == "" {
			continue
		}
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, appErrors.Clone(appErrors.ErrValidation, key+" must be an RFC3339 timestamp")
		}
		*target = &parsed
	}
	return filter, nil
}
