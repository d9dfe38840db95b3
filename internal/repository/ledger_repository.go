package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/stock-issuance-api/internal/models"
)

// LedgerStore persists issued-item ledger entries.
type LedgerStore interface {
	CreateLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error
	GetLedgerEntry(ctx context.Context, id string) (*models.LedgerEntry, error)
	LockLedgerEntry(ctx context.Context, id string) (*models.LedgerEntry, error)
	MarkLedgerReturned(ctx context.Context, id string, condition models.ReturnCondition, returnedBy string, returnedAt time.Time) error
	CountOutstandingLedgerEntries(ctx context.Context, requestID string) (int, error)
	ListLedgerEntries(ctx context.Context, filter models.LedgerFilter) ([]models.LedgerEntry, int, error)
}

// LedgerRepository implements LedgerStore.
type LedgerRepository struct {
	db sqlx.ExtContext
}

// NewLedgerRepository constructs the repository.
func NewLedgerRepository(db sqlx.ExtContext) *LedgerRepository {
	return &LedgerRepository{db: db}
}

const ledgerColumns = `id, request_id, request_item_id, item_id, nomenclature, quantity, unit_cost, issued_by, issued_at,
       return_status, returned_at, return_condition, returned_by`

// CreateLedgerEntry inserts an outstanding entry.
func (r *LedgerRepository) CreateLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.IssuedAt.IsZero() {
		entry.IssuedAt = time.Now().UTC()
	}
	if entry.ReturnStatus == "" {
		entry.ReturnStatus = models.ReturnStatusOutstanding
	}
	const query = `INSERT INTO issued_item_ledger (` + ledgerColumns + `)
	VALUES (:id, :request_id, :request_item_id, :item_id, :nomenclature, :quantity, :unit_cost, :issued_by, :issued_at,
	        :return_status, :returned_at, :return_condition, :returned_by)`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, entry); err != nil {
		return fmt.Errorf("create ledger entry: %w", err)
	}
	return nil
}

func (r *LedgerRepository) GetLedgerEntry(ctx context.Context, id string) (*models.LedgerEntry, error) {
	const query = `SELECT ` + ledgerColumns + ` FROM issued_item_ledger WHERE id = $1`
	var entry models.LedgerEntry
	if err := sqlx.GetContext(ctx, r.db, &entry, query, id); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *LedgerRepository) LockLedgerEntry(ctx context.Context, id string) (*models.LedgerEntry, error) {
	const query = `SELECT ` + ledgerColumns + ` FROM issued_item_ledger WHERE id = $1 FOR UPDATE`
	var entry models.LedgerEntry
	if err := sqlx.GetContext(ctx, r.db, &entry, query, id); err != nil {
		return nil, err
	}
	return &entry, nil
}

// MarkLedgerReturned populates the return fields of an outstanding entry.
// It returns sql.ErrNoRows when the entry was already returned.
func (r *LedgerRepository) MarkLedgerReturned(ctx context.Context, id string, condition models.ReturnCondition, returnedBy string, returnedAt time.Time) error {
	const query = `UPDATE issued_item_ledger SET return_status = 'RETURNED', return_condition = $1, returned_by = $2, returned_at = $3
	WHERE id = $4 AND return_status = 'OUTSTANDING'`
	result, err := r.db.ExecContext(ctx, query, condition, returnedBy, returnedAt, id)
	if err != nil {
		return fmt.Errorf("mark ledger returned: %w", err)
	}
	return expectOneRow(result, "mark ledger returned")
}

func (r *LedgerRepository) CountOutstandingLedgerEntries(ctx context.Context, requestID string) (int, error) {
	const query = `SELECT COUNT(*) FROM issued_item_ledger WHERE request_id = $1 AND return_status = 'OUTSTANDING'`
	var count int
	if err := sqlx.GetContext(ctx, r.db, &count, query, requestID); err != nil {
		return 0, fmt.Errorf("count outstanding ledger entries: %w", err)
	}
	return count, nil
}

// ListLedgerEntries returns entries matching the filter, newest first, with the total count.
func (r *LedgerRepository) ListLedgerEntries(ctx context.Context, filter models.LedgerFilter) ([]models.LedgerEntry, int, error) {
	var conditions []string
	var args []interface{}
	add := func(clause string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}
	if filter.RequestID != "" {
		add("request_id = $%d", filter.RequestID)
	}
	if filter.ItemID != "" {
		add("item_id = $%d", filter.ItemID)
	}
	if filter.ReturnStatus != "" {
		add("return_status = $%d", filter.ReturnStatus)
	}
	if filter.IssuedFrom != nil {
		add("issued_at >= $%d", *filter.IssuedFrom)
	}
	if filter.IssuedTo != nil {
		add("issued_at < $%d", *filter.IssuedTo)
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := sqlx.GetContext(ctx, r.db, &total, "SELECT COUNT(*) FROM issued_item_ledger"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count ledger entries: %w", err)
	}

	query := fmt.Sprintf("SELECT %s FROM issued_item_ledger%s ORDER BY issued_at DESC, id ASC", ledgerColumns, where)
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, filter.Offset)
	}
	var entries []models.LedgerEntry
	if err := sqlx.SelectContext(ctx, r.db, &entries, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list ledger entries: %w", err)
	}
	return entries, total, nil
}
