package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/stock-issuance-api/internal/models"
	"github.com/noah-isme/stock-issuance-api/internal/repository"
	appErrors "github.com/noah-isme/stock-issuance-api/pkg/errors"
)

// IssueResult reports a completed issuance.
type IssueResult struct {
	Request    *models.Request      `json:"request"`
	Entries    []models.LedgerEntry `json:"entries"`
	UnitsTaken int                  `json:"unitsTaken"`
	TotalValue decimal.Decimal      `json:"totalValue"`
}

// LedgerService deducts stock for approved requests and records returns.
type LedgerService struct {
	store   workflowStore
	metrics *MetricsService
	logger  *zap.Logger
	now     func() time.Time
}

// NewLedgerService constructs the stock ledger service.
func NewLedgerService(store workflowStore, metrics *MetricsService, logger *zap.Logger) *LedgerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerService{
		store:   store,
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// IssueItems deducts every catalogue line of an approved request and writes a
// ledger entry per line. Any shortfall rolls the whole issuance back.
func (s *LedgerService) IssueItems(ctx context.Context, requestID string, actor Actor) (*IssueResult, error) {
	if err := requireStoreRole(actor); err != nil {
		return nil, err
	}

	var result *IssueResult
	err := inTx(ctx, s.store, func(tx repository.Session) error {
		req, err := tx.LockRequest(ctx, requestID)
		if err != nil {
			return notFoundOr(err, "request not found", "failed to load request")
		}
		switch req.Status {
		case models.RequestStatusApproved:
		case models.RequestStatusIssued, models.RequestStatusReturned:
			return appErrors.Clone(appErrors.ErrAlreadyIssued, fmt.Sprintf("request is %s", req.Status))
		default:
			return appErrors.Clone(appErrors.ErrRequestNotApproved, fmt.Sprintf("request is %s", req.Status))
		}

		items, err := tx.ListRequestItems(ctx, req.ID)
		if err != nil {
			return storeFailure(err, "failed to load request items")
		}
		result = &IssueResult{Request: req, Entries: make([]models.LedgerEntry, 0, len(items))}
		for _, item := range items {
			entry, err := s.issueLine(ctx, tx, req, item, actor)
			if err != nil {
				return err
			}
			if !item.IsCustom() {
				result.UnitsTaken += item.Quantity
			}
			result.TotalValue = result.TotalValue.Add(entry.UnitCost.Mul(decimal.NewFromInt(int64(entry.Quantity))))
			result.Entries = append(result.Entries, *entry)
		}

		if err := tx.UpdateRequestStatus(ctx, req.ID, models.RequestStatusApproved, models.RequestStatusIssued); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrAlreadyIssued, "request was issued concurrently")
			}
			return storeFailure(err, "failed to update request status")
		}
		req.Status = models.RequestStatusIssued

		comment := fmt.Sprintf("%d lines, %d units, value %s", len(result.Entries), result.UnitsTaken, result.TotalValue.StringFixed(2))
		if err := tx.AppendHistory(ctx, &models.ApprovalHistory{
			RequestID: req.ID,
			ActorID:   actor.ID,
			Action:    models.HistoryIssued,
			Comments:  &comment,
		}); err != nil {
			return storeFailure(err, "failed to append history")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordIssued(result.UnitsTaken)
	s.logger.Info("request issued",
		zap.String("request_id", requestID),
		zap.Int("entries", len(result.Entries)),
		zap.Int("units", result.UnitsTaken),
		zap.String("value", result.TotalValue.StringFixed(2)),
	)
	return result, nil
}

func (s *LedgerService) issueLine(ctx context.Context, tx repository.Session, req *models.Request, item models.RequestItem, actor Actor) (*models.LedgerEntry, error) {
	entry := &models.LedgerEntry{
		RequestID:     req.ID,
		RequestItemID: item.ID,
		ItemID:        item.ItemID,
		Nomenclature:  item.Nomenclature,
		Quantity:      item.Quantity,
		IssuedBy:      actor.ID,
		ReturnStatus:  models.ReturnStatusOutstanding,
	}
	if item.UnitPrice.Valid {
		entry.UnitCost = item.UnitPrice.Decimal
	}

	if !item.IsCustom() {
		if err := tx.DeductStock(ctx, *item.ItemID, item.Quantity); err != nil {
			if errors.Is(err, repository.ErrStockShortfall) {
				return nil, appErrors.Clone(appErrors.ErrInsufficientStock, fmt.Sprintf("insufficient stock for %s: requested %d", item.Nomenclature, item.Quantity))
			}
			return nil, notFoundOr(err, fmt.Sprintf("item %s not found", *item.ItemID), "failed to deduct stock")
		}
		if !item.UnitPrice.Valid {
			master, err := tx.GetItem(ctx, *item.ItemID)
			if err != nil {
				return nil, notFoundOr(err, "item not found", "failed to load item")
			}
			entry.UnitCost = master.UnitCost
		}
	}

	if err := tx.CreateLedgerEntry(ctx, entry); err != nil {
		return nil, storeFailure(err, "failed to create ledger entry")
	}
	return entry, nil
}

// ReturnItems marks a ledger entry returned. Stock in good condition goes back
// on the shelf. When the last outstanding entry of a request comes back the
// request moves to RETURNED.
func (s *LedgerService) ReturnItems(ctx context.Context, entryID string, condition models.ReturnCondition, actor Actor) (*models.LedgerEntry, error) {
	if !condition.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown return condition %q", condition))
	}
	if err := requireStoreRole(actor); err != nil {
		return nil, err
	}

	var (
		updated   *models.LedgerEntry
		restocked int
	)
	err := inTx(ctx, s.store, func(tx repository.Session) error {
		entry, err := tx.LockLedgerEntry(ctx, entryID)
		if err != nil {
			return notFoundOr(err, "ledger entry not found", "failed to load ledger entry")
		}
		if entry.ReturnStatus == models.ReturnStatusReturned {
			return appErrors.ErrAlreadyReturned
		}

		returnedAt := s.now()
		if err := tx.MarkLedgerReturned(ctx, entry.ID, condition, actor.ID, returnedAt); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.ErrAlreadyReturned
			}
			return storeFailure(err, "failed to mark ledger entry returned")
		}
		if condition == models.ConditionGood && entry.ItemID != nil {
			if err := tx.RestoreStock(ctx, *entry.ItemID, entry.Quantity); err != nil {
				return notFoundOr(err, "item not found", "failed to restore stock")
			}
			restocked = entry.Quantity
		}

		outstanding, err := tx.CountOutstandingLedgerEntries(ctx, entry.RequestID)
		if err != nil {
			return storeFailure(err, "failed to count outstanding entries")
		}
		if outstanding == 0 {
			if err := tx.UpdateRequestStatus(ctx, entry.RequestID, models.RequestStatusIssued, models.RequestStatusReturned); err != nil && !errors.Is(err, sql.ErrNoRows) {
				return storeFailure(err, "failed to update request status")
			}
		}

		comment := fmt.Sprintf("%s x%d returned %s", entry.Nomenclature, entry.Quantity, condition)
		if err := tx.AppendHistory(ctx, &models.ApprovalHistory{
			RequestID: entry.RequestID,
			ActorID:   actor.ID,
			Action:    models.HistoryStockReturned,
			Comments:  &comment,
		}); err != nil {
			return storeFailure(err, "failed to append history")
		}

		entry.ReturnStatus = models.ReturnStatusReturned
		entry.ReturnCondition = &condition
		entry.ReturnedBy = &actor.ID
		entry.ReturnedAt = &returnedAt
		updated = entry
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordRestocked(restocked)
	s.logger.Info("ledger entry returned",
		zap.String("entry_id", entryID),
		zap.String("condition", string(condition)),
		zap.Int("restocked", restocked),
	)
	return updated, nil
}

// List returns a page of ledger entries.
func (s *LedgerService) List(ctx context.Context, filter models.LedgerFilter) ([]models.LedgerEntry, *models.Pagination, error) {
	entries, total, err := s.store.Session().ListLedgerEntries(ctx, filter)
	if err != nil {
		return nil, nil, storeFailure(err, "failed to list ledger entries")
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	size := filter.Limit
	if size <= 0 {
		size = len(entries)
	}
	page := 1
	if size > 0 {
		page = filter.Offset/size + 1
	}
	return entries, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// ListItems returns the item master, optionally filtered by code or name.
func (s *LedgerService) ListItems(ctx context.Context, search string) ([]models.Item, error) {
	items, err := s.store.Session().ListItems(ctx, search)
	if err != nil {
		return nil, storeFailure(err, "failed to list items")
	}
	if items == nil {
		items = []models.Item{}
	}
	return items, nil
}

func requireStoreRole(actor Actor) error {
	if actor.IsAdmin() || actor.Role == models.RoleStoreKeeper {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbiddenActor, "only store keepers may move stock")
}
