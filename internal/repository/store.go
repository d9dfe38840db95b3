package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Sentinel errors raised by guarded statements.
var (
	ErrPendingApprovalExists     = errors.New("pending approval already exists for request")
	ErrPendingVerificationExists = errors.New("pending verification already exists for item")
	ErrStockShortfall            = errors.New("quantity on hand below requested quantity")
)

const (
	pendingApprovalConstraint     = "approvals_one_pending_per_request"
	pendingVerificationConstraint = "verification_requests_one_pending_per_item"
)

// Session is the set of statements the workflow services run, either directly
// against the pool or inside a single transaction.
type Session interface {
	RequestStore
	ApprovalStore
	HistoryStore
	VerificationStore
	ItemStore
	LedgerStore
	UserLookup
}

// Store hands out sessions over the shared connection pool.
type Store struct {
	db *sqlx.DB
}

// NewStore constructs the store.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Session returns a non-transactional session for reads.
func (s *Store) Session() Session {
	return newSession(s.db)
}

// WithinTx runs fn inside one transaction. Any error returned by fn, or a
// panic, rolls back every statement issued through the session.
func (s *Store) WithinTx(ctx context.Context, fn func(Session) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(newSession(tx)); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type session struct {
	*RequestRepository
	*ApprovalRepository
	*HistoryRepository
	*VerificationRepository
	*ItemRepository
	*LedgerRepository
	*UserRepository
}

func newSession(db sqlx.ExtContext) *session {
	return &session{
		RequestRepository:      NewRequestRepository(db),
		ApprovalRepository:     NewApprovalRepository(db),
		HistoryRepository:      NewHistoryRepository(db),
		VerificationRepository: NewVerificationRepository(db),
		ItemRepository:         NewItemRepository(db),
		LedgerRepository:       NewLedgerRepository(db),
		UserRepository:         NewUserRepository(db),
	}
}
