package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/stock-issuance-api/internal/models"
)

var requestRowColumns = []string{"id", "type", "requester_id", "wing_id", "justification", "returnable", "expected_return_date", "status", "is_deleted", "submitted_at", "updated_at"}

func TestCreateRequestInsertsItemsInOrder(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO stock_requests")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO stock_request_items")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO stock_request_items")).WillReturnResult(sqlmock.NewResult(1, 1))

	itemID := "item-1"
	custom := "Whiteboard marker"
	req := &models.Request{
		Type:          models.RequestTypeIndividual,
		RequesterID:   "emp-1",
		Justification: "office supplies",
		Items: []models.RequestItem{
			{ItemID: &itemID, Nomenclature: "A4 paper", Quantity: 2},
			{CustomItemName: &custom, Nomenclature: custom, Quantity: 5},
		},
	}
	require.NoError(t, repo.CreateRequest(context.Background(), req))

	assert.NotEmpty(t, req.ID)
	assert.Equal(t, models.RequestStatusSubmitted, req.Status)
	for i, item := range req.Items {
		assert.Equal(t, req.ID, item.RequestID)
		assert.Equal(t, i+1, item.Position)
		assert.NotEmpty(t, item.ID)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockRequestUsesRowLock(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(requestRowColumns).
		AddRow("req-1", "INDIVIDUAL", "emp-1", nil, "need", false, nil, "APPROVED", false, now, now)
	mock.ExpectQuery(`FROM stock_requests WHERE id = \$1 AND is_deleted = FALSE FOR UPDATE`).
		WithArgs("req-1").
		WillReturnRows(rows)

	req, err := repo.LockRequest(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusApproved, req.Status)
	assert.Nil(t, req.WingID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRequestStatusGuardsSourceStatus(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE stock_requests SET status = $1")).
		WithArgs("ISSUED", sqlmock.AnyArg(), "req-1", "APPROVED").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateRequestStatus(context.Background(), "req-1", models.RequestStatusApproved, models.RequestStatusIssued)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRequestsAppliesFilters(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM stock_requests WHERE is_deleted = FALSE AND requester_id = $1 AND status IN ($2,$3)")).
		WithArgs("emp-1", "SUBMITTED", "APPROVED").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY submitted_at DESC LIMIT 10 OFFSET 10")).
		WithArgs("emp-1", "SUBMITTED", "APPROVED").
		WillReturnRows(sqlmock.NewRows(requestRowColumns).
			AddRow("req-1", "INDIVIDUAL", "emp-1", nil, "need", false, nil, "SUBMITTED", false, now, now))

	list, total, err := repo.ListRequests(context.Background(), models.RequestFilter{
		RequesterID: "emp-1",
		Status:      []models.RequestStatus{models.RequestStatusSubmitted, models.RequestStatusApproved},
		Page:        2,
		PageSize:    10,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, list, 1)
	assert.Equal(t, "req-1", list[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurgeRequestRequiresSoftDelete(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT is_deleted FROM stock_requests WHERE id = $1 FOR UPDATE")).
		WithArgs("req-1").
		WillReturnRows(sqlmock.NewRows([]string{"is_deleted"}).AddRow(false))

	err := repo.PurgeRequest(context.Background(), "req-1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurgeRequestDeletesChildrenFirst(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT is_deleted FROM stock_requests")).
		WithArgs("req-1").
		WillReturnRows(sqlmock.NewRows([]string{"is_deleted"}).AddRow(true))
	for _, table := range []string{"approval_items", "verification_requests", "approvals", "approval_history", "stock_request_items", "stock_requests"} {
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM " + table + " WHERE")).
			WithArgs("req-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	require.NoError(t, repo.PurgeRequest(context.Background(), "req-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
