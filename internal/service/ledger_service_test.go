package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/stock-issuance-api/internal/models"
	appErrors "github.com/noah-isme/stock-issuance-api/pkg/errors"
)

func keeperActor() Actor { return Actor{ID: "keeper-1", Role: models.RoleStoreKeeper} }

type issueLine struct {
	itemID   string
	custom   string
	quantity int
	price    string
}

func (f *workflowFixture) seedApprovedRequest(t *testing.T, lines ...issueLine) *models.Request {
	t.Helper()
	req := &models.Request{
		Type:          models.RequestTypeIndividual,
		RequesterID:   "emp-1",
		Justification: "issue test",
		Status:        models.RequestStatusApproved,
	}
	for _, line := range lines {
		item := models.RequestItem{Nomenclature: line.itemID, Quantity: line.quantity}
		if line.itemID != "" {
			id := line.itemID
			item.ItemID = &id
		} else {
			name := line.custom
			item.CustomItemName = &name
			item.Nomenclature = name
		}
		if line.price != "" {
			item.UnitPrice = decimal.NewNullDecimal(decimal.RequireFromString(line.price))
		}
		req.Items = append(req.Items, item)
	}
	require.NoError(t, f.store.Session().CreateRequest(context.Background(), req))
	return req
}

func TestIssueItemsIsAllOrNothing(t *testing.T) {
	f := newWorkflowFixture(t)
	f.store.addItem("item-c", 1)
	req := f.seedApprovedRequest(t,
		issueLine{itemID: "item-a", quantity: 2},
		issueLine{itemID: "item-b", quantity: 3},
		issueLine{itemID: "item-c", quantity: 4},
	)

	_, err := f.ledger.IssueItems(context.Background(), req.ID, keeperActor())
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInsufficientStock))
	assert.Equal(t, appErrors.KindInsufficientStock, appErrors.FromError(err).Kind)

	assert.Equal(t, 10, f.store.stock("item-a"))
	assert.Equal(t, 5, f.store.stock("item-b"))
	assert.Equal(t, 1, f.store.stock("item-c"))
	assert.Equal(t, models.RequestStatusApproved, f.store.request(req.ID).Status)

	entries, _, err := f.ledger.List(context.Background(), models.LedgerFilter{RequestID: req.ID})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestIssueItemsDeductsStockAndRecordsLedger(t *testing.T) {
	f := newWorkflowFixture(t)
	req := f.seedApprovedRequest(t,
		issueLine{itemID: "item-a", quantity: 4, price: "3.25"},
		issueLine{custom: "Tent peg set", quantity: 2, price: "1.50"},
	)

	result, err := f.ledger.IssueItems(context.Background(), req.ID, keeperActor())
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusIssued, result.Request.Status)
	assert.Equal(t, 4, result.UnitsTaken)
	assert.True(t, result.TotalValue.Equal(decimal.RequireFromString("16")))
	require.Len(t, result.Entries, 2)
	assert.Equal(t, models.ReturnStatusOutstanding, result.Entries[0].ReturnStatus)
	assert.Nil(t, result.Entries[1].ItemID)

	assert.Equal(t, 6, f.store.stock("item-a"))
	assert.Equal(t, models.RequestStatusIssued, f.store.request(req.ID).Status)

	_, err = f.ledger.IssueItems(context.Background(), req.ID, keeperActor())
	assert.True(t, errors.Is(err, appErrors.ErrAlreadyIssued))
	assert.Equal(t, 6, f.store.stock("item-a"))
}

func TestIssueItemsMissingItemIsNotFound(t *testing.T) {
	f := newWorkflowFixture(t)
	req := f.seedApprovedRequest(t,
		issueLine{itemID: "item-a", quantity: 2},
		issueLine{itemID: "item-retired", quantity: 1},
	)

	_, err := f.ledger.IssueItems(context.Background(), req.ID, keeperActor())
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	assert.False(t, errors.Is(err, appErrors.ErrInsufficientStock))
	assert.Equal(t, 10, f.store.stock("item-a"))
	assert.Equal(t, models.RequestStatusApproved, f.store.request(req.ID).Status)
}

func TestIssueItemsPreconditions(t *testing.T) {
	f := newWorkflowFixture(t)
	result, err := f.requests.Submit(context.Background(), validSubmission(), employeeActor())
	require.NoError(t, err)

	_, err = f.ledger.IssueItems(context.Background(), result.Request.ID, keeperActor())
	assert.True(t, errors.Is(err, appErrors.ErrRequestNotApproved))

	_, err = f.ledger.IssueItems(context.Background(), result.Request.ID, employeeActor())
	assert.True(t, errors.Is(err, appErrors.ErrForbiddenActor))

	_, err = f.ledger.IssueItems(context.Background(), "missing", adminActor())
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestReturnItemsRestocksOnce(t *testing.T) {
	f := newWorkflowFixture(t)
	req := f.seedApprovedRequest(t,
		issueLine{itemID: "item-a", quantity: 3},
		issueLine{itemID: "item-b", quantity: 1},
	)
	result, err := f.ledger.IssueItems(context.Background(), req.ID, keeperActor())
	require.NoError(t, err)
	first, second := result.Entries[0], result.Entries[1]
	assert.Equal(t, 7, f.store.stock("item-a"))

	returned, err := f.ledger.ReturnItems(context.Background(), first.ID, models.ConditionGood, keeperActor())
	require.NoError(t, err)
	assert.Equal(t, models.ReturnStatusReturned, returned.ReturnStatus)
	require.NotNil(t, returned.ReturnedAt)
	assert.Equal(t, 10, f.store.stock("item-a"))
	assert.Equal(t, models.RequestStatusIssued, f.store.request(req.ID).Status)

	_, err = f.ledger.ReturnItems(context.Background(), first.ID, models.ConditionGood, keeperActor())
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrAlreadyReturned))
	assert.Equal(t, 10, f.store.stock("item-a"))

	_, err = f.ledger.ReturnItems(context.Background(), second.ID, models.ConditionDamaged, keeperActor())
	require.NoError(t, err)
	assert.Equal(t, 4, f.store.stock("item-b"))
	assert.Equal(t, models.RequestStatusReturned, f.store.request(req.ID).Status)
}

func TestReturnItemsValidation(t *testing.T) {
	f := newWorkflowFixture(t)

	_, err := f.ledger.ReturnItems(context.Background(), "led-1", "broken", keeperActor())
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = f.ledger.ReturnItems(context.Background(), "led-1", models.ConditionLost, employeeActor())
	assert.True(t, errors.Is(err, appErrors.ErrForbiddenActor))

	_, err = f.ledger.ReturnItems(context.Background(), "missing", models.ConditionLost, keeperActor())
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestListItemsReturnsCatalogue(t *testing.T) {
	f := newWorkflowFixture(t)
	items, err := f.ledger.ListItems(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "item-a", items[0].Code)
}
