package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/stock-issuance-api/internal/models"
)

// HistoryStore appends and reads the approval audit trail. Entries are never updated.
type HistoryStore interface {
	AppendHistory(ctx context.Context, entry *models.ApprovalHistory) error
	ListHistory(ctx context.Context, requestID string) ([]models.ApprovalHistory, error)
}

// HistoryRepository implements HistoryStore.
type HistoryRepository struct {
	db sqlx.ExtContext
}

// NewHistoryRepository constructs the repository.
func NewHistoryRepository(db sqlx.ExtContext) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// AppendHistory inserts one audit record.
func (r *HistoryRepository) AppendHistory(ctx context.Context, entry *models.ApprovalHistory) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO approval_history (id, request_id, approval_id, actor_id, action, comments, created_at)
	VALUES (:id, :request_id, :approval_id, :actor_id, :action, :comments, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, entry); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// ListHistory returns the trail of a request in chronological order.
func (r *HistoryRepository) ListHistory(ctx context.Context, requestID string) ([]models.ApprovalHistory, error) {
	const query = `SELECT id, request_id, approval_id, actor_id, action, comments, created_at
	FROM approval_history WHERE request_id = $1 ORDER BY created_at ASC, id ASC`
	var entries []models.ApprovalHistory
	if err := sqlx.SelectContext(ctx, r.db, &entries, query, requestID); err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return entries, nil
}
