package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/stock-issuance-api/internal/models"
)

// HierarchyRepository reads the organisational relations used for routing.
type HierarchyRepository struct {
	db *sqlx.DB
}

// NewHierarchyRepository constructs the repository.
func NewHierarchyRepository(db *sqlx.DB) *HierarchyRepository {
	return &HierarchyRepository{db: db}
}

// GetSupervisor returns the active direct supervisor of an employee. An empty
// string means no supervisor is mapped.
func (r *HierarchyRepository) GetSupervisor(ctx context.Context, employeeID string) (string, error) {
	const query = `SELECT h.supervisor_id
	FROM employee_hierarchy h
	JOIN users u ON u.id = h.supervisor_id
	WHERE h.employee_id = $1 AND u.active = TRUE
	LIMIT 1`
	var supervisorID string
	if err := r.db.GetContext(ctx, &supervisorID, query, employeeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("get supervisor: %w", err)
	}
	return supervisorID, nil
}

// ListWingApprovers returns the active approvers configured for a wing, lowest level first.
func (r *HierarchyRepository) ListWingApprovers(ctx context.Context, wingID string) ([]models.WingApprover, error) {
	const query = `SELECT wa.wing_id, wa.approver_id, wa.level
	FROM wing_approvers wa
	JOIN users u ON u.id = wa.approver_id
	WHERE wa.wing_id = $1 AND u.active = TRUE
	ORDER BY wa.level ASC`
	var approvers []models.WingApprover
	if err := r.db.SelectContext(ctx, &approvers, query, wingID); err != nil {
		return nil, fmt.Errorf("list wing approvers: %w", err)
	}
	return approvers, nil
}
