package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/stock-issuance-api/internal/models"
)

// ItemStore reads the item master and adjusts on-hand stock.
type ItemStore interface {
	GetItem(ctx context.Context, id string) (*models.Item, error)
	LockItem(ctx context.Context, id string) (*models.Item, error)
	ListItems(ctx context.Context, search string) ([]models.Item, error)
	DeductStock(ctx context.Context, itemID string, quantity int) error
	RestoreStock(ctx context.Context, itemID string, quantity int) error
}

// ItemRepository implements ItemStore.
type ItemRepository struct {
	db sqlx.ExtContext
}

// NewItemRepository constructs the repository.
func NewItemRepository(db sqlx.ExtContext) *ItemRepository {
	return &ItemRepository{db: db}
}

const itemColumns = `id, code, name, unit, quantity_on_hand, unit_cost, updated_at`

func (r *ItemRepository) GetItem(ctx context.Context, id string) (*models.Item, error) {
	const query = `SELECT ` + itemColumns + ` FROM items WHERE id = $1`
	var item models.Item
	if err := sqlx.GetContext(ctx, r.db, &item, query, id); err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *ItemRepository) LockItem(ctx context.Context, id string) (*models.Item, error) {
	const query = `SELECT ` + itemColumns + ` FROM items WHERE id = $1 FOR UPDATE`
	var item models.Item
	if err := sqlx.GetContext(ctx, r.db, &item, query, id); err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *ItemRepository) ListItems(ctx context.Context, search string) ([]models.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items`
	var args []interface{}
	if search != "" {
		query += ` WHERE LOWER(name) LIKE $1 OR LOWER(code) LIKE $1`
		args = append(args, "%"+strings.ToLower(search)+"%")
	}
	query += ` ORDER BY code ASC`

	var items []models.Item
	if err := sqlx.SelectContext(ctx, r.db, &items, query, args...); err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return items, nil
}

// DeductStock lowers on-hand stock, returning ErrStockShortfall when fewer
// than quantity units remain and sql.ErrNoRows when the item does not exist.
func (r *ItemRepository) DeductStock(ctx context.Context, itemID string, quantity int) error {
	const query = `UPDATE items SET quantity_on_hand = quantity_on_hand - $1, updated_at = $2
	WHERE id = $3 AND quantity_on_hand >= $1`
	result, err := r.db.ExecContext(ctx, query, quantity, time.Now().UTC(), itemID)
	if err != nil {
		return fmt.Errorf("deduct stock: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check deduct stock rows: %w", err)
	}
	if rows == 0 {
		var exists bool
		if err := sqlx.GetContext(ctx, r.db, &exists, `SELECT EXISTS (SELECT 1 FROM items WHERE id = $1)`, itemID); err != nil {
			return fmt.Errorf("check item: %w", err)
		}
		if !exists {
			return sql.ErrNoRows
		}
		return ErrStockShortfall
	}
	return nil
}

// RestoreStock adds returned units back to on-hand stock.
func (r *ItemRepository) RestoreStock(ctx context.Context, itemID string, quantity int) error {
	const query = `UPDATE items SET quantity_on_hand = quantity_on_hand + $1, updated_at = $2 WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, quantity, time.Now().UTC(), itemID)
	if err != nil {
		return fmt.Errorf("restore stock: %w", err)
	}
	return expectOneRow(result, "restore stock")
}
