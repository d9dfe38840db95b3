package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/stock-issuance-api/internal/models"
	"github.com/noah-isme/stock-issuance-api/internal/repository"
	appErrors "github.com/noah-isme/stock-issuance-api/pkg/errors"
)

// FinalizeResult reports the outcome of FinalizeApproval.
type FinalizeResult struct {
	Approval      *models.Approval      `json:"approval"`
	Outcome       models.ApprovalStatus `json:"outcome"`
	RequestStatus models.RequestStatus  `json:"requestStatus"`
	Successor     *models.Approval      `json:"successor,omitempty"`
}

// ApprovalService runs the approval state machine. Every transition executes
// inside one store transaction together with its history record.
type ApprovalService struct {
	store   workflowStore
	router  ApproverResolver
	metrics *MetricsService
	logger  *zap.Logger
	now     func() time.Time
}

// NewApprovalService constructs the service.
func NewApprovalService(store workflowStore, router ApproverResolver, metrics *MetricsService, logger *zap.Logger) *ApprovalService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApprovalService{
		store:   store,
		router:  router,
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// AggregateDecisions folds per-item decisions into an approval outcome: all
// approved gives approved, all rejected gives rejected and any mix gives
// returned, which sends the request through another routing cycle.
func AggregateDecisions(items []models.ApprovalItem) (models.ApprovalStatus, error) {
	if len(items) == 0 {
		return "", appErrors.Clone(appErrors.ErrIncompleteDecisions, "approval has no items")
	}
	var approved, rejected int
	for _, item := range items {
		switch item.Decision {
		case models.DecisionApproved:
			approved++
		case models.DecisionRejected:
			rejected++
		default:
			return "", appErrors.Clone(appErrors.ErrIncompleteDecisions, fmt.Sprintf("item %s has no decision", item.Nomenclature))
		}
	}
	switch {
	case rejected == 0:
		return models.ApprovalStatusApproved, nil
	case approved == 0:
		return models.ApprovalStatusRejected, nil
	default:
		return models.ApprovalStatusReturned, nil
	}
}

// CreateApproval opens a pending Approval for a submitted request and assigns
// it to approverID. The request's items are cloned as pending decisions.
func (s *ApprovalService) CreateApproval(ctx context.Context, requestID, approverID string, actor Actor) (*models.Approval, error) {
	if approverID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "approver is required")
	}
	var created *models.Approval
	err := inTx(ctx, s.store, func(tx repository.Session) error {
		req, err := tx.LockRequest(ctx, requestID)
		if err != nil {
			return notFoundOr(err, "request not found", "failed to load request")
		}
		if req.Status != models.RequestStatusSubmitted {
			return appErrors.Clone(appErrors.ErrRequestNotRoutable, fmt.Sprintf("request is %s", req.Status))
		}
		created, err = s.openApproval(ctx, tx, req, approverID, actor.ID, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("approval created",
		zap.String("request_id", requestID),
		zap.String("approval_id", created.ID),
		zap.String("approver_id", approverID),
	)
	return created, nil
}

// Route resolves the first approver of a submitted request and creates its
// Approval. Routing failures leave the request untouched.
func (s *ApprovalService) Route(ctx context.Context, requestID string, actor Actor) (*models.Approval, error) {
	req, err := s.store.Session().GetRequest(ctx, requestID)
	if err != nil {
		return nil, notFoundOr(err, "request not found", "failed to load request")
	}
	if req.Status != models.RequestStatusSubmitted {
		return nil, appErrors.Clone(appErrors.ErrRequestNotRoutable, fmt.Sprintf("request is %s", req.Status))
	}

	approverID, err := s.router.ResolveApprover(ctx, RoutingContext{Request: req, Trigger: TriggerSubmitted})
	if err != nil {
		s.recordRoutingFailure(requestID, err)
		return nil, err
	}
	return s.CreateApproval(ctx, requestID, approverID, actor)
}

// RecordItemDecision sets the decision on one item of a pending approval.
// itemID may be the approval item id or the originating request item id.
func (s *ApprovalService) RecordItemDecision(ctx context.Context, approvalID, itemID string, decision models.ItemDecision, reason string, actor Actor) (*models.ApprovalItem, error) {
	reason = strings.TrimSpace(reason)
	switch decision {
	case models.DecisionApproved:
		reason = ""
	case models.DecisionRejected:
		if reason == "" {
			return nil, appErrors.ErrRejectionReasonRequired
		}
	default:
		return nil, appErrors.Clone(appErrors.ErrInvalidDecision, fmt.Sprintf("decision %q is not approved or rejected", decision))
	}

	var updated *models.ApprovalItem
	err := inTx(ctx, s.store, func(tx repository.Session) error {
		approval, err := tx.LockApproval(ctx, approvalID)
		if err != nil {
			return notFoundOr(err, "approval not found", "failed to load approval")
		}
		if approval.Status != models.ApprovalStatusPending {
			return appErrors.Clone(appErrors.ErrApprovalNotPending, fmt.Sprintf("approval is %s", approval.Status))
		}
		if err := authorizeApprover(approval, actor); err != nil {
			return err
		}

		items, err := tx.ListApprovalItems(ctx, approval.ID)
		if err != nil {
			return storeFailure(err, "failed to load approval items")
		}
		var target *models.ApprovalItem
		for i := range items {
			if items[i].ID == itemID || items[i].RequestItemID == itemID {
				target = &items[i]
				break
			}
		}
		if target == nil {
			return appErrors.Clone(appErrors.ErrNotFound, "approval item not found")
		}

		decidedAt := s.now()
		target.Decision = decision
		target.RejectionReason = stringPtr(reason)
		target.DecidedAt = &decidedAt
		if err := tx.UpdateApprovalItemDecision(ctx, target); err != nil {
			return storeFailure(err, "failed to record decision")
		}

		action := models.HistoryItemApproved
		if decision == models.DecisionRejected {
			action = models.HistoryItemRejected
		}
		comment := target.Nomenclature
		if reason != "" {
			comment = target.Nomenclature + ": " + reason
		}
		if err := tx.AppendHistory(ctx, &models.ApprovalHistory{
			RequestID:  approval.RequestID,
			ApprovalID: &approval.ID,
			ActorID:    actor.ID,
			Action:     action,
			Comments:   &comment,
		}); err != nil {
			return storeFailure(err, "failed to append history")
		}
		updated = target
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// FinalizeApproval aggregates the item decisions, closes the approval and
// advances the request. A returned outcome routes the request again and opens
// the successor approval in the same transaction; if routing fails nothing is
// written. Finalizing a closed approval fails with an InvalidState error.
func (s *ApprovalService) FinalizeApproval(ctx context.Context, approvalID string, actor Actor) (*FinalizeResult, error) {
	var result *FinalizeResult
	err := inTx(ctx, s.store, func(tx repository.Session) error {
		approval, err := tx.LockApproval(ctx, approvalID)
		if err != nil {
			return notFoundOr(err, "approval not found", "failed to load approval")
		}
		if approval.Status != models.ApprovalStatusPending {
			return appErrors.Clone(appErrors.ErrApprovalFinalized, fmt.Sprintf("approval already %s", approval.Status))
		}
		if err := authorizeApprover(approval, actor); err != nil {
			return err
		}

		items, err := tx.ListApprovalItems(ctx, approval.ID)
		if err != nil {
			return storeFailure(err, "failed to load approval items")
		}
		outcome, err := AggregateDecisions(items)
		if err != nil {
			return err
		}

		req, err := tx.LockRequest(ctx, approval.RequestID)
		if err != nil {
			return notFoundOr(err, "request not found", "failed to load request")
		}

		reason := summariseRejections(items)
		if err := tx.CloseApproval(ctx, approval.ID, outcome, reason); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrApprovalFinalized, "approval already finalized")
			}
			return storeFailure(err, "failed to close approval")
		}
		approval.Status = outcome
		approval.RejectionReason = reason
		approval.Items = items

		if err := tx.AppendHistory(ctx, &models.ApprovalHistory{
			RequestID:  approval.RequestID,
			ApprovalID: &approval.ID,
			ActorID:    actor.ID,
			Action:     historyActionFor(outcome),
			Comments:   reason,
		}); err != nil {
			return storeFailure(err, "failed to append history")
		}

		result = &FinalizeResult{Approval: approval, Outcome: outcome, RequestStatus: req.Status}
		switch outcome {
		case models.ApprovalStatusApproved, models.ApprovalStatusRejected:
			next := models.RequestStatusApproved
			if outcome == models.ApprovalStatusRejected {
				next = models.RequestStatusRejected
			}
			if err := tx.UpdateRequestStatus(ctx, req.ID, models.RequestStatusSubmitted, next); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("request is %s", req.Status))
				}
				return storeFailure(err, "failed to update request status")
			}
			result.RequestStatus = next
		case models.ApprovalStatusReturned:
			approverID, err := s.router.ResolveApprover(ctx, RoutingContext{
				Request:            req,
				Trigger:            TriggerReturned,
				PreviousApproverID: approval.ApproverID,
			})
			if err != nil {
				s.recordRoutingFailure(req.ID, err)
				return err
			}
			successor, err := s.openApproval(ctx, tx, req, approverID, actor.ID, approval)
			if err != nil {
				return err
			}
			result.Successor = successor
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordFinalized(result.Outcome)
	fields := []zap.Field{
		zap.String("approval_id", approvalID),
		zap.String("request_id", result.Approval.RequestID),
		zap.String("outcome", string(result.Outcome)),
	}
	if result.Successor != nil {
		fields = append(fields, zap.String("successor_approver_id", result.Successor.ApproverID))
	}
	s.logger.Info("approval finalized", fields...)
	return result, nil
}

// GetPendingApprovalsFor returns the pending queue of an approver, oldest first.
func (s *ApprovalService) GetPendingApprovalsFor(ctx context.Context, userID string) ([]models.Approval, error) {
	return s.ListApprovalsFor(ctx, userID, []models.ApprovalStatus{models.ApprovalStatusPending})
}

// ListApprovalsFor returns approvals assigned to userID with any of the given statuses.
func (s *ApprovalService) ListApprovalsFor(ctx context.Context, userID string, statuses []models.ApprovalStatus) ([]models.Approval, error) {
	if userID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "userId is required")
	}
	list, err := s.store.Session().ListApprovals(ctx, models.ApprovalFilter{ApproverID: userID, Status: statuses})
	if err != nil {
		return nil, storeFailure(err, "failed to list approvals")
	}
	if list == nil {
		list = []models.Approval{}
	}
	return list, nil
}

// GetApproval returns one approval with its items.
func (s *ApprovalService) GetApproval(ctx context.Context, id string) (*models.Approval, error) {
	session := s.store.Session()
	approval, err := session.GetApproval(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "approval not found", "failed to load approval")
	}
	items, err := session.ListApprovalItems(ctx, id)
	if err != nil {
		return nil, storeFailure(err, "failed to load approval items")
	}
	approval.Items = items
	return approval, nil
}

// openApproval inserts the next link of the chain. It must run inside a
// transaction that holds the request row lock.
func (s *ApprovalService) openApproval(ctx context.Context, tx repository.Session, req *models.Request, approverID, actorID string, previous *models.Approval) (*models.Approval, error) {
	pending, err := tx.FindPendingApproval(ctx, req.ID)
	if err != nil {
		return nil, storeFailure(err, "failed to check pending approvals")
	}
	if pending != nil {
		return nil, appErrors.Clone(appErrors.ErrDuplicatePendingApproval, fmt.Sprintf("approval %s is still pending", pending.ID))
	}

	if previous == nil {
		previous, err = tx.LatestApproval(ctx, req.ID)
		if err != nil {
			return nil, storeFailure(err, "failed to load approval chain")
		}
	}
	approval := &models.Approval{
		RequestID:  req.ID,
		Sequence:   1,
		ApproverID: approverID,
		Status:     models.ApprovalStatusPending,
	}
	if previous != nil {
		approval.Sequence = previous.Sequence + 1
		approval.PreviousApprovalID = &previous.ID
	}

	requestItems, err := tx.ListRequestItems(ctx, req.ID)
	if err != nil {
		return nil, storeFailure(err, "failed to load request items")
	}
	approval.Items = make([]models.ApprovalItem, 0, len(requestItems))
	for _, item := range requestItems {
		approval.Items = append(approval.Items, models.ApprovalItem{
			RequestItemID: item.ID,
			ItemID:        item.ItemID,
			Nomenclature:  item.Nomenclature,
			Quantity:      item.Quantity,
			Decision:      models.DecisionPending,
		})
	}

	if err := tx.CreateApproval(ctx, approval); err != nil {
		if errors.Is(err, repository.ErrPendingApprovalExists) {
			return nil, appErrors.Wrap(err, appErrors.ErrDuplicatePendingApproval, "")
		}
		return nil, storeFailure(err, "failed to create approval")
	}

	comment := "assigned to " + approverID
	if err := tx.AppendHistory(ctx, &models.ApprovalHistory{
		RequestID:  req.ID,
		ApprovalID: &approval.ID,
		ActorID:    actorID,
		Action:     models.HistoryRouted,
		Comments:   &comment,
	}); err != nil {
		return nil, storeFailure(err, "failed to append history")
	}
	return approval, nil
}

func (s *ApprovalService) recordRoutingFailure(requestID string, err error) {
	appErr := appErrors.FromError(err)
	s.metrics.RecordRoutingFailure(appErr.Code)
	s.logger.Warn("routing failed",
		zap.String("request_id", requestID),
		zap.String("code", appErr.Code),
		zap.Error(err),
	)
}

func authorizeApprover(approval *models.Approval, actor Actor) error {
	if actor.IsAdmin() || actor.ID == approval.ApproverID {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbiddenActor, "only the current approver may act on this approval")
}

func historyActionFor(outcome models.ApprovalStatus) models.HistoryAction {
	switch outcome {
	case models.ApprovalStatusApproved:
		return models.HistoryApproved
	case models.ApprovalStatusRejected:
		return models.HistoryRejected
	default:
		return models.HistoryReturned
	}
}

func summariseRejections(items []models.ApprovalItem) *string {
	var parts []string
	for _, item := range items {
		if item.Decision == models.DecisionRejected && item.RejectionReason != nil {
			parts = append(parts, item.Nomenclature+": "+*item.RejectionReason)
		}
	}
	if len(parts) == 0 {
		return nil
	}
	summary := strings.Join(parts, "; ")
	return &summary
}
