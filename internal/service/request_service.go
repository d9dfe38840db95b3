package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/stock-issuance-api/internal/dto"
	"github.com/noah-isme/stock-issuance-api/internal/models"
	"github.com/noah-isme/stock-issuance-api/internal/repository"
	appErrors "github.com/noah-isme/stock-issuance-api/pkg/errors"
)

const withdrawnReason = "withdrawn by requester"

// SubmitResult is returned by Submit. RoutingError is set when the request was
// stored but no approver could be assigned yet.
type SubmitResult struct {
	Request      *models.Request  `json:"request"`
	Approval     *models.Approval `json:"approval,omitempty"`
	RoutingError *appErrors.Error `json:"-"`
}

// RequestService handles request submission and the requester-facing lifecycle.
type RequestService struct {
	store     workflowStore
	approvals *ApprovalService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRequestService constructs the request service.
func NewRequestService(store workflowStore, approvals *ApprovalService, validate *validator.Validate, logger *zap.Logger) *RequestService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &RequestService{store: store, approvals: approvals, validator: validate, logger: logger}
	svc.validator.RegisterValidation("request_type", func(fl validator.FieldLevel) bool {
		return models.RequestType(fl.Field().String()).Valid()
	})
	return svc
}

// Submit stores a new request with its items and hands it to the router.
func (s *RequestService) Submit(ctx context.Context, payload dto.SubmitRequest, actor Actor) (*SubmitResult, error) {
	payload.Type = strings.ToUpper(strings.TrimSpace(payload.Type))
	if err := s.validator.Struct(payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation, "invalid request payload")
	}

	requesterID := actor.ID
	if payload.RequesterID != "" && payload.RequesterID != actor.ID {
		if !actor.IsAdmin() {
			return nil, appErrors.Clone(appErrors.ErrForbiddenActor, "cannot submit on behalf of another user")
		}
		requesterID = payload.RequesterID
	}

	req := &models.Request{
		Type:               models.RequestType(payload.Type),
		RequesterID:        requesterID,
		Justification:      strings.TrimSpace(payload.Justification),
		Returnable:         payload.Returnable,
		ExpectedReturnDate: payload.ExpectedReturnDate,
		Status:             models.RequestStatusSubmitted,
	}
	if req.Type == models.RequestTypeOrganizational {
		req.WingID = stringPtr(strings.TrimSpace(payload.WingID))
	}
	if !req.Returnable {
		req.ExpectedReturnDate = nil
	}

	err := inTx(ctx, s.store, func(tx repository.Session) error {
		items, err := s.buildItems(ctx, tx, payload.Items)
		if err != nil {
			return err
		}
		req.Items = items
		if err := tx.CreateRequest(ctx, req); err != nil {
			return storeFailure(err, "failed to create request")
		}
		return tx.AppendHistory(ctx, &models.ApprovalHistory{
			RequestID: req.ID,
			ActorID:   actor.ID,
			Action:    models.HistorySubmitted,
		})
	})
	if err != nil {
		return nil, storeFailure(err, "failed to submit request")
	}
	s.logger.Info("request submitted",
		zap.String("request_id", req.ID),
		zap.String("type", string(req.Type)),
		zap.Int("items", len(req.Items)),
	)

	result := &SubmitResult{Request: req}
	approval, err := s.approvals.Route(ctx, req.ID, actor)
	if err != nil {
		result.RoutingError = appErrors.FromError(err)
		return result, nil
	}
	result.Approval = approval
	return result, nil
}

func (s *RequestService) buildItems(ctx context.Context, tx repository.Session, lines []dto.SubmitRequestItem) ([]models.RequestItem, error) {
	items := make([]models.RequestItem, 0, len(lines))
	for i, line := range lines {
		item := models.RequestItem{
			Nomenclature: strings.TrimSpace(line.Nomenclature),
			Quantity:     line.Quantity,
		}
		if line.UnitPrice != nil {
			item.UnitPrice = decimal.NullDecimal{Decimal: *line.UnitPrice, Valid: true}
		}
		if itemID := strings.TrimSpace(line.ItemID); itemID != "" {
			master, err := tx.GetItem(ctx, itemID)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("item %d references unknown item %s", i+1, itemID))
				}
				return nil, storeFailure(err, "failed to load item")
			}
			item.ItemID = &master.ID
			if item.Nomenclature == "" {
				item.Nomenclature = master.Name
			}
			if !item.UnitPrice.Valid {
				item.UnitPrice = decimal.NullDecimal{Decimal: master.UnitCost, Valid: true}
			}
		} else {
			name := strings.TrimSpace(line.CustomItemName)
			item.CustomItemName = &name
			if item.Nomenclature == "" {
				item.Nomenclature = name
			}
		}
		items = append(items, item)
	}
	return items, nil
}

// RouteRequest retries approver assignment for a submitted request.
func (s *RequestService) RouteRequest(ctx context.Context, id string, actor Actor) (*models.Approval, error) {
	req, err := s.store.Session().GetRequest(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "request not found", "failed to load request")
	}
	if !actor.IsAdmin() && req.RequesterID != actor.ID {
		return nil, appErrors.Clone(appErrors.ErrForbiddenActor, "only the requester may re-route this request")
	}
	return s.approvals.Route(ctx, id, actor)
}

// Get returns one request with its items. Employees only see their own requests.
func (s *RequestService) Get(ctx context.Context, id string, actor Actor) (*models.Request, error) {
	session := s.store.Session()
	req, err := session.GetRequest(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "request not found", "failed to load request")
	}
	if !canView(req, actor) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
	}
	items, err := session.ListRequestItems(ctx, id)
	if err != nil {
		return nil, storeFailure(err, "failed to load request items")
	}
	req.Items = items
	return req, nil
}

// List returns a page of requests visible to the actor.
func (s *RequestService) List(ctx context.Context, filter models.RequestFilter, actor Actor) ([]models.Request, *models.Pagination, error) {
	if actor.Role == models.RoleEmployee {
		filter.RequesterID = actor.ID
	}
	list, total, err := s.store.Session().ListRequests(ctx, filter)
	if err != nil {
		return nil, nil, storeFailure(err, "failed to list requests")
	}
	if list == nil {
		list = []models.Request{}
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 50
	}
	return list, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Timeline returns the approval chain in sequence order and the audit trail.
func (s *RequestService) Timeline(ctx context.Context, id string, actor Actor) (*models.RequestTimeline, error) {
	req, err := s.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	session := s.store.Session()
	approvals, err := session.ListRequestApprovals(ctx, id)
	if err != nil {
		return nil, storeFailure(err, "failed to load approvals")
	}
	history, err := session.ListHistory(ctx, id)
	if err != nil {
		return nil, storeFailure(err, "failed to load history")
	}
	if approvals == nil {
		approvals = []models.Approval{}
	}
	if history == nil {
		history = []models.ApprovalHistory{}
	}
	return &models.RequestTimeline{Request: req, Approvals: approvals, History: history}, nil
}

// SoftDelete withdraws a draft or submitted request. A pending approval is
// closed as rejected so the approver's queue no longer shows it.
func (s *RequestService) SoftDelete(ctx context.Context, id string, actor Actor) error {
	err := inTx(ctx, s.store, func(tx repository.Session) error {
		req, err := tx.LockRequest(ctx, id)
		if err != nil {
			return notFoundOr(err, "request not found", "failed to load request")
		}
		if !actor.IsAdmin() && req.RequesterID != actor.ID {
			return appErrors.Clone(appErrors.ErrForbiddenActor, "only the requester may delete this request")
		}
		if req.Status != models.RequestStatusDraft && req.Status != models.RequestStatusSubmitted {
			return appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("request is %s", req.Status))
		}

		pending, err := tx.FindPendingApproval(ctx, id)
		if err != nil {
			return storeFailure(err, "failed to check pending approvals")
		}
		var approvalID *string
		if pending != nil {
			reason := withdrawnReason
			if err := tx.CloseApproval(ctx, pending.ID, models.ApprovalStatusRejected, &reason); err != nil {
				return storeFailure(err, "failed to close pending approval")
			}
			approvalID = &pending.ID
		}
		if err := tx.SoftDeleteRequest(ctx, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrInvalidState, "request can no longer be deleted")
			}
			return storeFailure(err, "failed to delete request")
		}
		comment := withdrawnReason
		return storeFailure(tx.AppendHistory(ctx, &models.ApprovalHistory{
			RequestID:  id,
			ApprovalID: approvalID,
			ActorID:    actor.ID,
			Action:     models.HistoryRequestDeleted,
			Comments:   &comment,
		}), "failed to append history")
	})
	if err != nil {
		return err
	}
	s.logger.Info("request deleted", zap.String("request_id", id), zap.String("actor_id", actor.ID))
	return nil
}

// Purge permanently removes a soft-deleted request and its children.
func (s *RequestService) Purge(ctx context.Context, id string, actor Actor) error {
	if !actor.IsAdmin() {
		return appErrors.Clone(appErrors.ErrForbiddenActor, "only administrators may purge requests")
	}
	err := inTx(ctx, s.store, func(tx repository.Session) error {
		if err := tx.PurgeRequest(ctx, id); err != nil {
			return notFoundOr(err, "no deleted request with this id", "failed to purge request")
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Warn("request purged", zap.String("request_id", id), zap.String("actor_id", actor.ID))
	return nil
}

func canView(req *models.Request, actor Actor) bool {
	return actor.Role != models.RoleEmployee || req.RequesterID == actor.ID
}
