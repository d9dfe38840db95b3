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

// VerificationService forwards request items to store keepers for a physical
// stock count and records the result.
type VerificationService struct {
	store   workflowStore
	metrics *MetricsService
	logger  *zap.Logger
	now     func() time.Time
}

// NewVerificationService constructs the service.
func NewVerificationService(store workflowStore, metrics *MetricsService, logger *zap.Logger) *VerificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VerificationService{
		store:   store,
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Forward opens a pending verification of one request item for storeKeeperID.
// Only the request's current approver or an administrator may forward, and an
// item can have a single pending verification at a time.
func (s *VerificationService) Forward(ctx context.Context, requestItemID, storeKeeperID string, actor Actor) (*models.VerificationRequest, error) {
	storeKeeperID = strings.TrimSpace(storeKeeperID)
	if storeKeeperID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "storeKeeperId is required")
	}

	var created *models.VerificationRequest
	err := inTx(ctx, s.store, func(tx repository.Session) error {
		item, err := tx.GetRequestItem(ctx, requestItemID)
		if err != nil {
			return notFoundOr(err, "request item not found", "failed to load request item")
		}
		req, err := tx.LockRequest(ctx, item.RequestID)
		if err != nil {
			return notFoundOr(err, "request not found", "failed to load request")
		}
		if err := s.authorizeForwarder(ctx, tx, req, actor); err != nil {
			return err
		}
		if err := checkStoreKeeper(ctx, tx, storeKeeperID); err != nil {
			return err
		}

		existing, err := tx.FindPendingVerification(ctx, item.ID)
		if err != nil {
			return storeFailure(err, "failed to check pending verifications")
		}
		if existing != nil {
			return appErrors.Clone(appErrors.ErrAlreadyForwarded, fmt.Sprintf("item already forwarded to %s", existing.ForwardedToUserID))
		}

		created = &models.VerificationRequest{
			RequestID:         req.ID,
			RequestItemID:     item.ID,
			ItemID:            item.ItemID,
			Nomenclature:      item.Nomenclature,
			RequestedQuantity: item.Quantity,
			ForwardedBy:       actor.ID,
			ForwardedToUserID: storeKeeperID,
			Status:            models.VerificationPending,
		}
		if err := createVerification(ctx, tx, created); err != nil {
			return err
		}
		return appendForwardHistory(ctx, tx, created, actor.ID)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordVerification(models.VerificationPending)
	s.logger.Info("item forwarded for verification",
		zap.String("verification_id", created.ID),
		zap.String("request_item_id", requestItemID),
		zap.String("store_keeper_id", storeKeeperID),
	)
	return created, nil
}

// Record stores the physical count. Only the assigned store keeper may record it.
func (s *VerificationService) Record(ctx context.Context, id string, physicalCount int, notes string, actor Actor) (*models.VerificationRequest, error) {
	if physicalCount < 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "physicalCount must not be negative")
	}

	var updated *models.VerificationRequest
	err := inTx(ctx, s.store, func(tx repository.Session) error {
		v, err := tx.LockVerification(ctx, id)
		if err != nil {
			return notFoundOr(err, "verification not found", "failed to load verification")
		}
		if v.Status != models.VerificationPending {
			return appErrors.Clone(appErrors.ErrVerificationNotPending, fmt.Sprintf("verification is %s", v.Status))
		}
		if v.ForwardedToUserID != actor.ID {
			return appErrors.Clone(appErrors.ErrForbiddenActor, "only the assigned store keeper may record this verification")
		}

		verifiedAt := s.now()
		note := stringPtr(strings.TrimSpace(notes))
		if err := tx.CompleteVerification(ctx, id, physicalCount, note, verifiedAt); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrVerificationNotPending, "verification is no longer pending")
			}
			return storeFailure(err, "failed to record verification")
		}
		v.Status = models.VerificationVerified
		v.PhysicalCount = &physicalCount
		v.Notes = note
		v.VerifiedAt = &verifiedAt
		updated = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordVerification(models.VerificationVerified)
	s.logger.Info("verification recorded",
		zap.String("verification_id", id),
		zap.Int("physical_count", physicalCount),
		zap.Int("requested_quantity", updated.RequestedQuantity),
	)
	return updated, nil
}

// Reforward hands a pending verification to another store keeper. The current
// record becomes forwarded and a new pending record is opened for the target.
func (s *VerificationService) Reforward(ctx context.Context, id, storeKeeperID string, actor Actor) (*models.VerificationRequest, error) {
	storeKeeperID = strings.TrimSpace(storeKeeperID)
	if storeKeeperID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "storeKeeperId is required")
	}

	var next *models.VerificationRequest
	err := inTx(ctx, s.store, func(tx repository.Session) error {
		current, err := tx.LockVerification(ctx, id)
		if err != nil {
			return notFoundOr(err, "verification not found", "failed to load verification")
		}
		if current.Status != models.VerificationPending {
			return appErrors.Clone(appErrors.ErrVerificationNotPending, fmt.Sprintf("verification is %s", current.Status))
		}
		if !actor.IsAdmin() && current.ForwardedToUserID != actor.ID {
			return appErrors.Clone(appErrors.ErrForbiddenActor, "only the assigned store keeper may re-forward this verification")
		}
		if storeKeeperID == current.ForwardedToUserID {
			return appErrors.Clone(appErrors.ErrValidation, "verification is already assigned to this store keeper")
		}
		if err := checkStoreKeeper(ctx, tx, storeKeeperID); err != nil {
			return err
		}

		if err := tx.MarkVerificationForwarded(ctx, current.ID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrVerificationNotPending, "verification is no longer pending")
			}
			return storeFailure(err, "failed to close verification")
		}

		next = &models.VerificationRequest{
			RequestID:            current.RequestID,
			RequestItemID:        current.RequestItemID,
			ItemID:               current.ItemID,
			Nomenclature:         current.Nomenclature,
			RequestedQuantity:    current.RequestedQuantity,
			ForwardedBy:          actor.ID,
			ForwardedToUserID:    storeKeeperID,
			Status:               models.VerificationPending,
			PreviousVerification: &current.ID,
		}
		if err := createVerification(ctx, tx, next); err != nil {
			return err
		}
		return appendForwardHistory(ctx, tx, next, actor.ID)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordVerification(models.VerificationForwarded)
	s.logger.Info("verification re-forwarded",
		zap.String("verification_id", id),
		zap.String("successor_id", next.ID),
		zap.String("store_keeper_id", storeKeeperID),
	)
	return next, nil
}

// GetForwardedTo lists verifications assigned to userID, newest first.
func (s *VerificationService) GetForwardedTo(ctx context.Context, userID string) ([]models.VerificationRequest, error) {
	if userID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "userId is required")
	}
	list, err := s.store.Session().ListVerificationsForUser(ctx, userID)
	if err != nil {
		return nil, storeFailure(err, "failed to list verifications")
	}
	if list == nil {
		list = []models.VerificationRequest{}
	}
	return list, nil
}

// Get returns one verification.
func (s *VerificationService) Get(ctx context.Context, id string) (*models.VerificationRequest, error) {
	v, err := s.store.Session().GetVerification(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "verification not found", "failed to load verification")
	}
	return v, nil
}

// authorizeForwarder allows administrators and the approver currently holding
// the request. Once the chain is closed the last approver keeps the right.
func (s *VerificationService) authorizeForwarder(ctx context.Context, tx repository.Session, req *models.Request, actor Actor) error {
	if actor.IsAdmin() {
		return nil
	}
	current, err := tx.FindPendingApproval(ctx, req.ID)
	if err != nil {
		return storeFailure(err, "failed to load current approval")
	}
	if current == nil {
		if current, err = tx.LatestApproval(ctx, req.ID); err != nil {
			return storeFailure(err, "failed to load current approval")
		}
	}
	if current == nil || current.ApproverID != actor.ID {
		return appErrors.Clone(appErrors.ErrForbiddenActor, "only the current approver may forward items")
	}
	return nil
}

func checkStoreKeeper(ctx context.Context, tx repository.Session, userID string) error {
	user, err := tx.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrValidation, "store keeper not found")
		}
		return storeFailure(err, "failed to load store keeper")
	}
	if !user.Active || user.Role != models.RoleStoreKeeper {
		return appErrors.Clone(appErrors.ErrValidation, "target user is not an active store keeper")
	}
	return nil
}

func createVerification(ctx context.Context, tx repository.Session, v *models.VerificationRequest) error {
	if err := tx.CreateVerification(ctx, v); err != nil {
		if errors.Is(err, repository.ErrPendingVerificationExists) {
			return appErrors.Wrap(err, appErrors.ErrAlreadyForwarded, "")
		}
		return storeFailure(err, "failed to create verification")
	}
	return nil
}

func appendForwardHistory(ctx context.Context, tx repository.Session, v *models.VerificationRequest, actorID string) error {
	comment := fmt.Sprintf("%s x%d to %s", v.Nomenclature, v.RequestedQuantity, v.ForwardedToUserID)
	if err := tx.AppendHistory(ctx, &models.ApprovalHistory{
		RequestID: v.RequestID,
		ActorID:   actorID,
		Action:    models.HistoryForwarded,
		Comments:  &comment,
	}); err != nil {
		return storeFailure(err, "failed to append history")
	}
	return nil
}
