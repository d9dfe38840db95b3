package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/stock-issuance-api/internal/models"
	"github.com/noah-isme/stock-issuance-api/pkg/database"
)

// VerificationStore persists physical stock verification tasks.
type VerificationStore interface {
	CreateVerification(ctx context.Context, v *models.VerificationRequest) error
	GetVerification(ctx context.Context, id string) (*models.VerificationRequest, error)
	LockVerification(ctx context.Context, id string) (*models.VerificationRequest, error)
	FindPendingVerification(ctx context.Context, requestItemID string) (*models.VerificationRequest, error)
	CompleteVerification(ctx context.Context, id string, physicalCount int, notes *string, verifiedAt time.Time) error
	MarkVerificationForwarded(ctx context.Context, id string) error
	ListVerificationsForUser(ctx context.Context, userID string) ([]models.VerificationRequest, error)
}

// VerificationRepository implements VerificationStore.
type VerificationRepository struct {
	db sqlx.ExtContext
}

// NewVerificationRepository constructs the repository.
func NewVerificationRepository(db sqlx.ExtContext) *VerificationRepository {
	return &VerificationRepository{db: db}
}

const verificationColumns = `id, request_id, request_item_id, item_id, nomenclature, requested_quantity, forwarded_by, forwarded_at,
       forwarded_to_user_id, status, physical_count, notes, verified_at, previous_verification_id`

// CreateVerification inserts a pending verification. A second pending record
// for the same request item surfaces as ErrPendingVerificationExists.
func (r *VerificationRepository) CreateVerification(ctx context.Context, v *models.VerificationRequest) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.Status == "" {
		v.Status = models.VerificationPending
	}
	if v.ForwardedAt.IsZero() {
		v.ForwardedAt = time.Now().UTC()
	}
	const query = `INSERT INTO verification_requests (` + verificationColumns + `)
	VALUES (:id, :request_id, :request_item_id, :item_id, :nomenclature, :requested_quantity, :forwarded_by, :forwarded_at,
	        :forwarded_to_user_id, :status, :physical_count, :notes, :verified_at, :previous_verification_id)`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, v); err != nil {
		if database.IsUniqueViolation(err, pendingVerificationConstraint) {
			return ErrPendingVerificationExists
		}
		return fmt.Errorf("create verification: %w", err)
	}
	return nil
}

// GetVerification fetches one verification task.
func (r *VerificationRepository) GetVerification(ctx context.Context, id string) (*models.VerificationRequest, error) {
	query := `SELECT ` + verificationColumns + ` FROM verification_requests WHERE id = $1`
	var v models.VerificationRequest
	if err := sqlx.GetContext(ctx, r.db, &v, query, id); err != nil {
		return nil, err
	}
	return &v, nil
}

// LockVerification fetches a verification task and locks its row.
func (r *VerificationRepository) LockVerification(ctx context.Context, id string) (*models.VerificationRequest, error) {
	query := `SELECT ` + verificationColumns + ` FROM verification_requests WHERE id = $1 FOR UPDATE`
	var v models.VerificationRequest
	if err := sqlx.GetContext(ctx, r.db, &v, query, id); err != nil {
		return nil, err
	}
	return &v, nil
}

// FindPendingVerification returns the unresolved verification of a request item, or nil.
func (r *VerificationRepository) FindPendingVerification(ctx context.Context, requestItemID string) (*models.VerificationRequest, error) {
	query := `SELECT ` + verificationColumns + ` FROM verification_requests WHERE request_item_id = $1 AND status = 'pending' LIMIT 1`
	var v models.VerificationRequest
	if err := sqlx.GetContext(ctx, r.db, &v, query, requestItemID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find pending verification: %w", err)
	}
	return &v, nil
}

// CompleteVerification records the physical count on a pending task.
func (r *VerificationRepository) CompleteVerification(ctx context.Context, id string, physicalCount int, notes *string, verifiedAt time.Time) error {
	const query = `UPDATE verification_requests SET status = 'verified', physical_count = $1, notes = $2, verified_at = $3
	WHERE id = $4 AND status = 'pending'`
	result, err := r.db.ExecContext(ctx, query, physicalCount, notes, verifiedAt, id)
	if err != nil {
		return fmt.Errorf("complete verification: %w", err)
	}
	return expectOneRow(result, "complete verification")
}

// MarkVerificationForwarded closes a pending task that was handed to another keeper.
func (r *VerificationRepository) MarkVerificationForwarded(ctx context.Context, id string) error {
	const query = `UPDATE verification_requests SET status = 'forwarded' WHERE id = $1 AND status = 'pending'`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark verification forwarded: %w", err)
	}
	return expectOneRow(result, "mark verification forwarded")
}

// ListVerificationsForUser returns tasks assigned to a store keeper, newest first.
func (r *VerificationRepository) ListVerificationsForUser(ctx context.Context, userID string) ([]models.VerificationRequest, error) {
	query := `SELECT ` + verificationColumns + ` FROM verification_requests WHERE forwarded_to_user_id = $1 ORDER BY forwarded_at DESC, id DESC`
	var list []models.VerificationRequest
	if err := sqlx.SelectContext(ctx, r.db, &list, query, userID); err != nil {
		return nil, fmt.Errorf("list verifications: %w", err)
	}
	return list, nil
}
