package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/stock-issuance-api/internal/models"
	"github.com/noah-isme/stock-issuance-api/pkg/database"
)

// ApprovalStore persists the approval chain of a request.
type ApprovalStore interface {
	CreateApproval(ctx context.Context, approval *models.Approval) error
	GetApproval(ctx context.Context, id string) (*models.Approval, error)
	LockApproval(ctx context.Context, id string) (*models.Approval, error)
	FindPendingApproval(ctx context.Context, requestID string) (*models.Approval, error)
	LatestApproval(ctx context.Context, requestID string) (*models.Approval, error)
	ListApprovalItems(ctx context.Context, approvalID string) ([]models.ApprovalItem, error)
	UpdateApprovalItemDecision(ctx context.Context, item *models.ApprovalItem) error
	CloseApproval(ctx context.Context, id string, status models.ApprovalStatus, reason *string) error
	ListApprovals(ctx context.Context, filter models.ApprovalFilter) ([]models.Approval, error)
	ListRequestApprovals(ctx context.Context, requestID string) ([]models.Approval, error)
}

// ApprovalRepository implements ApprovalStore on top of sqlx.
type ApprovalRepository struct {
	db sqlx.ExtContext
}

// NewApprovalRepository constructs the repository.
func NewApprovalRepository(db sqlx.ExtContext) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

const approvalColumns = `id, request_id, sequence, previous_approval_id, current_approver_id, status, rejection_reason, submitted_at, updated_at`

const approvalItemColumns = `id, approval_id, request_item_id, item_id, nomenclature, quantity, decision, rejection_reason, decided_at`

// CreateApproval inserts a pending approval and its items. A second pending
// approval for the same request trips the partial unique index and surfaces as
// ErrPendingApprovalExists.
func (r *ApprovalRepository) CreateApproval(ctx context.Context, approval *models.Approval) error {
	now := time.Now().UTC()
	if approval.ID == "" {
		approval.ID = uuid.NewString()
	}
	if approval.Status == "" {
		approval.Status = models.ApprovalStatusPending
	}
	if approval.SubmittedAt.IsZero() {
		approval.SubmittedAt = now
	}
	approval.UpdatedAt = now

	const query = `INSERT INTO approvals (` + approvalColumns + `)
	VALUES (:id, :request_id, :sequence, :previous_approval_id, :current_approver_id, :status, :rejection_reason, :submitted_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, approval); err != nil {
		if database.IsUniqueViolation(err, pendingApprovalConstraint) {
			return ErrPendingApprovalExists
		}
		return fmt.Errorf("create approval: %w", err)
	}

	const itemQuery = `INSERT INTO approval_items (` + approvalItemColumns + `)
	VALUES (:id, :approval_id, :request_item_id, :item_id, :nomenclature, :quantity, :decision, :rejection_reason, :decided_at)`
	for i := range approval.Items {
		item := &approval.Items[i]
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		item.ApprovalID = approval.ID
		if item.Decision == "" {
			item.Decision = models.DecisionPending
		}
		if _, err := sqlx.NamedExecContext(ctx, r.db, itemQuery, item); err != nil {
			return fmt.Errorf("create approval item: %w", err)
		}
	}
	return nil
}

// GetApproval fetches an approval without its items.
func (r *ApprovalRepository) GetApproval(ctx context.Context, id string) (*models.Approval, error) {
	const query = `SELECT ` + approvalColumns + ` FROM approvals WHERE id = $1`
	var approval models.Approval
	if err := sqlx.GetContext(ctx, r.db, &approval, query, id); err != nil {
		return nil, err
	}
	return &approval, nil
}

// LockApproval fetches an approval and locks its row for the transaction.
func (r *ApprovalRepository) LockApproval(ctx context.Context, id string) (*models.Approval, error) {
	const query = `SELECT ` + approvalColumns + ` FROM approvals WHERE id = $1 FOR UPDATE`
	var approval models.Approval
	if err := sqlx.GetContext(ctx, r.db, &approval, query, id); err != nil {
		return nil, err
	}
	return &approval, nil
}

// FindPendingApproval returns the single pending approval of a request, or nil when none exists.
func (r *ApprovalRepository) FindPendingApproval(ctx context.Context, requestID string) (*models.Approval, error) {
	const query = `SELECT ` + approvalColumns + ` FROM approvals WHERE request_id = $1 AND status = 'pending' LIMIT 1`
	var approval models.Approval
	if err := sqlx.GetContext(ctx, r.db, &approval, query, requestID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find pending approval: %w", err)
	}
	return &approval, nil
}

// LatestApproval returns the most recent link of the chain, or nil for an unrouted request.
func (r *ApprovalRepository) LatestApproval(ctx context.Context, requestID string) (*models.Approval, error) {
	const query = `SELECT ` + approvalColumns + ` FROM approvals WHERE request_id = $1 ORDER BY sequence DESC LIMIT 1`
	var approval models.Approval
	if err := sqlx.GetContext(ctx, r.db, &approval, query, requestID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest approval: %w", err)
	}
	return &approval, nil
}

// ListApprovalItems returns the decisions attached to an approval.
func (r *ApprovalRepository) ListApprovalItems(ctx context.Context, approvalID string) ([]models.ApprovalItem, error) {
	const query = `SELECT ai.id, ai.approval_id, ai.request_item_id, ai.item_id, ai.nomenclature, ai.quantity, ai.decision, ai.rejection_reason, ai.decided_at
	FROM approval_items ai
	JOIN stock_request_items ri ON ri.id = ai.request_item_id
	WHERE ai.approval_id = $1
	ORDER BY ri.position ASC`
	var items []models.ApprovalItem
	if err := sqlx.SelectContext(ctx, r.db, &items, query, approvalID); err != nil {
		return nil, fmt.Errorf("list approval items: %w", err)
	}
	return items, nil
}

// UpdateApprovalItemDecision stores the approver's decision on one line.
func (r *ApprovalRepository) UpdateApprovalItemDecision(ctx context.Context, item *models.ApprovalItem) error {
	const query = `UPDATE approval_items SET decision = $1, rejection_reason = $2, decided_at = $3
	WHERE id = $4 AND approval_id = $5`
	result, err := r.db.ExecContext(ctx, query, item.Decision, item.RejectionReason, item.DecidedAt, item.ID, item.ApprovalID)
	if err != nil {
		return fmt.Errorf("update approval item: %w", err)
	}
	return expectOneRow(result, "update approval item")
}

// CloseApproval moves a pending approval to a terminal status. It returns
// sql.ErrNoRows when the approval was already closed.
func (r *ApprovalRepository) CloseApproval(ctx context.Context, id string, status models.ApprovalStatus, reason *string) error {
	const query = `UPDATE approvals SET status = $1, rejection_reason = $2, updated_at = $3
	WHERE id = $4 AND status = 'pending'`
	result, err := r.db.ExecContext(ctx, query, status, reason, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("close approval: %w", err)
	}
	return expectOneRow(result, "close approval")
}

// ListApprovals returns the approvals assigned to an approver, oldest first.
func (r *ApprovalRepository) ListApprovals(ctx context.Context, filter models.ApprovalFilter) ([]models.Approval, error) {
	conditions := []string{"current_approver_id = $1"}
	args := []interface{}{filter.ApproverID}
	if len(filter.Status) > 0 {
		marks := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			marks[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(marks, ",")))
	}

	query := fmt.Sprintf("SELECT %s FROM approvals WHERE %s ORDER BY submitted_at ASC, id ASC",
		approvalColumns, strings.Join(conditions, " AND "))
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, filter.Offset)
	}

	var approvals []models.Approval
	if err := sqlx.SelectContext(ctx, r.db, &approvals, query, args...); err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	return approvals, nil
}

// ListRequestApprovals returns the whole chain of a request in sequence order.
func (r *ApprovalRepository) ListRequestApprovals(ctx context.Context, requestID string) ([]models.Approval, error) {
	const query = `SELECT ` + approvalColumns + ` FROM approvals WHERE request_id = $1 ORDER BY sequence ASC`
	var approvals []models.Approval
	if err := sqlx.SelectContext(ctx, r.db, &approvals, query, requestID); err != nil {
		return nil, fmt.Errorf("list request approvals: %w", err)
	}
	return approvals, nil
}
