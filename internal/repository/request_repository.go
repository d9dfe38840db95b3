package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/stock-issuance-api/internal/models"
)

// RequestStore persists stock issuance requests and their lines.
type RequestStore interface {
	CreateRequest(ctx context.Context, req *models.Request) error
	GetRequest(ctx context.Context, id string) (*models.Request, error)
	LockRequest(ctx context.Context, id string) (*models.Request, error)
	ListRequestItems(ctx context.Context, requestID string) ([]models.RequestItem, error)
	GetRequestItem(ctx context.Context, id string) (*models.RequestItem, error)
	UpdateRequestStatus(ctx context.Context, id string, from, to models.RequestStatus) error
	ListRequests(ctx context.Context, filter models.RequestFilter) ([]models.Request, int, error)
	SoftDeleteRequest(ctx context.Context, id string) error
	PurgeRequest(ctx context.Context, id string) error
}

// RequestRepository implements RequestStore on top of sqlx.
type RequestRepository struct {
	db sqlx.ExtContext
}

// NewRequestRepository constructs the repository.
func NewRequestRepository(db sqlx.ExtContext) *RequestRepository {
	return &RequestRepository{db: db}
}

const requestColumns = `id, type, requester_id, wing_id, justification, returnable, expected_return_date,
       status, is_deleted, submitted_at, updated_at`

// CreateRequest inserts the request row followed by its items. Run it inside a
// transaction so a request never exists without its lines.
func (r *RequestRepository) CreateRequest(ctx context.Context, req *models.Request) error {
	now := time.Now().UTC()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = models.RequestStatusSubmitted
	}
	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = now
	}
	req.UpdatedAt = now

	const query = `INSERT INTO stock_requests
	(id, type, requester_id, wing_id, justification, returnable, expected_return_date, status, is_deleted, submitted_at, updated_at)
	VALUES (:id, :type, :requester_id, :wing_id, :justification, :returnable, :expected_return_date, :status, :is_deleted, :submitted_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, req); err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	const itemQuery = `INSERT INTO stock_request_items
	(id, request_id, item_id, custom_item_name, nomenclature, quantity, unit_price, position)
	VALUES (:id, :request_id, :item_id, :custom_item_name, :nomenclature, :quantity, :unit_price, :position)`
	for i := range req.Items {
		item := &req.Items[i]
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		item.RequestID = req.ID
		item.Position = i + 1
		if _, err := sqlx.NamedExecContext(ctx, r.db, itemQuery, item); err != nil {
			return fmt.Errorf("create request item: %w", err)
		}
	}
	return nil
}

// GetRequest fetches a live (not soft-deleted) request.
func (r *RequestRepository) GetRequest(ctx context.Context, id string) (*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM stock_requests WHERE id = $1 AND is_deleted = FALSE`
	var req models.Request
	if err := sqlx.GetContext(ctx, r.db, &req, query, id); err != nil {
		return nil, err
	}
	return &req, nil
}

// LockRequest fetches a live request and holds its row lock until the
// surrounding transaction ends.
func (r *RequestRepository) LockRequest(ctx context.Context, id string) (*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM stock_requests WHERE id = $1 AND is_deleted = FALSE FOR UPDATE`
	var req models.Request
	if err := sqlx.GetContext(ctx, r.db, &req, query, id); err != nil {
		return nil, err
	}
	return &req, nil
}

// ListRequestItems returns the lines of a request in submission order.
func (r *RequestRepository) ListRequestItems(ctx context.Context, requestID string) ([]models.RequestItem, error) {
	const query = `SELECT id, request_id, item_id, custom_item_name, nomenclature, quantity, unit_price, position
	FROM stock_request_items WHERE request_id = $1 ORDER BY position ASC`
	var items []models.RequestItem
	if err := sqlx.SelectContext(ctx, r.db, &items, query, requestID); err != nil {
		return nil, fmt.Errorf("list request items: %w", err)
	}
	return items, nil
}

// GetRequestItem fetches a single request line.
func (r *RequestRepository) GetRequestItem(ctx context.Context, id string) (*models.RequestItem, error) {
	const query = `SELECT id, request_id, item_id, custom_item_name, nomenclature, quantity, unit_price, position
	FROM stock_request_items WHERE id = $1`
	var item models.RequestItem
	if err := sqlx.GetContext(ctx, r.db, &item, query, id); err != nil {
		return nil, err
	}
	return &item, nil
}

// UpdateRequestStatus moves a request from one status to another. It returns
// sql.ErrNoRows when the request is no longer in the expected status.
func (r *RequestRepository) UpdateRequestStatus(ctx context.Context, id string, from, to models.RequestStatus) error {
	const query = `UPDATE stock_requests SET status = $1, updated_at = $2
	WHERE id = $3 AND status = $4 AND is_deleted = FALSE`
	result, err := r.db.ExecContext(ctx, query, to, time.Now().UTC(), id, from)
	if err != nil {
		return fmt.Errorf("update request status: %w", err)
	}
	return expectOneRow(result, "update request status")
}

// ListRequests returns live requests matching the filter, newest first, with the total count.
func (r *RequestRepository) ListRequests(ctx context.Context, filter models.RequestFilter) ([]models.Request, int, error) {
	conditions := []string{"is_deleted = FALSE"}
	args := make([]interface{}, 0, 6)
	if filter.RequesterID != "" {
		args = append(args, filter.RequesterID)
		conditions = append(conditions, fmt.Sprintf("requester_id = $%d", len(args)))
	}
	if len(filter.Status) > 0 {
		marks := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			marks[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(marks, ",")))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.WingID != "" {
		args = append(args, filter.WingID)
		conditions = append(conditions, fmt.Sprintf("wing_id = $%d", len(args)))
	}
	where := " WHERE " + strings.Join(conditions, " AND ")

	var total int
	if err := sqlx.GetContext(ctx, r.db, &total, "SELECT COUNT(*) FROM stock_requests"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count requests: %w", err)
	}

	page, size := normalisePage(filter.Page, filter.PageSize)
	query := fmt.Sprintf("SELECT %s FROM stock_requests%s ORDER BY submitted_at DESC LIMIT %d OFFSET %d",
		requestColumns, where, size, (page-1)*size)
	var requests []models.Request
	if err := sqlx.SelectContext(ctx, r.db, &requests, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list requests: %w", err)
	}
	return requests, total, nil
}

// SoftDeleteRequest flags a request that has not progressed past submission.
func (r *RequestRepository) SoftDeleteRequest(ctx context.Context, id string) error {
	const query = `UPDATE stock_requests SET is_deleted = TRUE, updated_at = $1
	WHERE id = $2 AND is_deleted = FALSE AND status IN ('DRAFT', 'SUBMITTED')`
	result, err := r.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("soft delete request: %w", err)
	}
	return expectOneRow(result, "soft delete request")
}

// PurgeRequest removes a soft-deleted request and everything it owns.
// Ledger entries are never purged; a request with issued stock cannot be soft-deleted.
func (r *RequestRepository) PurgeRequest(ctx context.Context, id string) error {
	statements := []struct {
		label string
		query string
	}{
		{"purge approval items", `DELETE FROM approval_items WHERE approval_id IN (SELECT id FROM approvals WHERE request_id = $1)`},
		{"purge verifications", `DELETE FROM verification_requests WHERE request_id = $1`},
		{"purge approvals", `DELETE FROM approvals WHERE request_id = $1`},
		{"purge history", `DELETE FROM approval_history WHERE request_id = $1`},
		{"purge request items", `DELETE FROM stock_request_items WHERE request_id = $1`},
	}

	var deleted bool
	if err := sqlx.GetContext(ctx, r.db, &deleted, `SELECT is_deleted FROM stock_requests WHERE id = $1 FOR UPDATE`, id); err != nil {
		return err
	}
	if !deleted {
		return sql.ErrNoRows
	}
	for _, stmt := range statements {
		if _, err := r.db.ExecContext(ctx, stmt.query, id); err != nil {
			return fmt.Errorf("%s: %w", stmt.label, err)
		}
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM stock_requests WHERE id = $1`, id); err != nil {
		return fmt.Errorf("purge request: %w", err)
	}
	return nil
}

func expectOneRow(result sql.Result, label string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check %s rows: %w", label, err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func normalisePage(page, size int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 || size > 200 {
		size = 50
	}
	return page, size
}
