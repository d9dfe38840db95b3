package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/stock-issuance-api/internal/dto"
	"github.com/noah-isme/stock-issuance-api/internal/models"
	appErrors "github.com/noah-isme/stock-issuance-api/pkg/errors"
)

type workflowFixture struct {
	*approvalFixture
	requests      *RequestService
	verifications *VerificationService
	ledger        *LedgerService
}

func newWorkflowFixture(t *testing.T) *workflowFixture {
	t.Helper()
	af := newApprovalFixture(t, DefaultRoutingPolicy())
	af.store.addUser("keeper-1", models.RoleStoreKeeper)
	af.store.addUser("keeper-2", models.RoleStoreKeeper)
	af.store.addUser("emp-2", models.RoleEmployee)
	metrics := NewMetricsService()
	return &workflowFixture{
		approvalFixture: af,
		requests:        NewRequestService(af.store, af.service, nil, zap.NewNop()),
		verifications:   NewVerificationService(af.store, metrics, zap.NewNop()),
		ledger:          NewLedgerService(af.store, metrics, zap.NewNop()),
	}
}

func employeeActor() Actor { return Actor{ID: "emp-1", Role: models.RoleEmployee} }
func adminActor() Actor    { return Actor{ID: "admin-1", Role: models.RoleAdmin} }

func validSubmission() dto.SubmitRequest {
	price := decimal.RequireFromString("12.50")
	return dto.SubmitRequest{
		Type:          "individual",
		Justification: "replacement kit",
		Items: []dto.SubmitRequestItem{
			{ItemID: "item-a", Quantity: 2},
			{CustomItemName: "Field radio battery", Quantity: 1, UnitPrice: &price},
		},
	}
}

func TestSubmitRoutesToSupervisor(t *testing.T) {
	f := newWorkflowFixture(t)

	result, err := f.requests.Submit(context.Background(), validSubmission(), employeeActor())
	require.NoError(t, err)
	require.Nil(t, result.RoutingError)
	require.NotNil(t, result.Approval)
	assert.Equal(t, "sup-1", result.Approval.ApproverID)

	req := result.Request
	assert.Equal(t, models.RequestTypeIndividual, req.Type)
	assert.Equal(t, "emp-1", req.RequesterID)
	assert.Equal(t, models.RequestStatusSubmitted, req.Status)
	require.Len(t, req.Items, 2)
	assert.Equal(t, "Item item-a", req.Items[0].Nomenclature)
	assert.False(t, req.Items[0].IsCustom())
	assert.True(t, req.Items[1].IsCustom())
	assert.Equal(t, "Field radio battery", req.Items[1].Nomenclature)
	assert.True(t, req.Items[1].UnitPrice.Decimal.Equal(decimal.RequireFromString("12.5")))

	var actions []models.HistoryAction
	for _, h := range f.store.historyFor(req.ID) {
		actions = append(actions, h.Action)
	}
	assert.Equal(t, []models.HistoryAction{models.HistorySubmitted, models.HistoryRouted}, actions)
}

func TestSubmitKeepsRequestWhenRoutingFails(t *testing.T) {
	f := newWorkflowFixture(t)
	payload := validSubmission()
	payload.Type = "ORGANIZATIONAL"
	payload.WingID = "wing-9"

	result, err := f.requests.Submit(context.Background(), payload, employeeActor())
	require.NoError(t, err)
	require.NotNil(t, result.RoutingError)
	assert.Equal(t, appErrors.ErrNoApproverConfigured.Code, result.RoutingError.Code)
	assert.Nil(t, result.Approval)
	assert.Equal(t, models.RequestStatusSubmitted, f.store.request(result.Request.ID).Status)
	assert.Empty(t, f.store.approvalsFor(result.Request.ID))

	f.hierarchy.wings["wing-9"] = []models.WingApprover{{WingID: "wing-9", ApproverID: "dir-1", Level: 1}}
	approval, err := f.requests.RouteRequest(context.Background(), result.Request.ID, employeeActor())
	require.NoError(t, err)
	assert.Equal(t, "dir-1", approval.ApproverID)

	_, err = f.requests.RouteRequest(context.Background(), result.Request.ID, employeeActor())
	assert.True(t, errors.Is(err, appErrors.ErrDuplicatePendingApproval))
}

func TestSubmitValidation(t *testing.T) {
	f := newWorkflowFixture(t)
	returnBy := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	cases := map[string]func(*dto.SubmitRequest){
		"no items":               func(p *dto.SubmitRequest) { p.Items = nil },
		"unknown type":           func(p *dto.SubmitRequest) { p.Type = "GROUP" },
		"zero quantity":          func(p *dto.SubmitRequest) { p.Items[0].Quantity = 0 },
		"no item reference":      func(p *dto.SubmitRequest) { p.Items[0].ItemID = "" },
		"returnable without due": func(p *dto.SubmitRequest) { p.Returnable = true },
		"organizational no wing": func(p *dto.SubmitRequest) { p.Type = "organizational" },
		"unknown catalogue item": func(p *dto.SubmitRequest) { p.Items[0].ItemID = "item-z" },
		"missing justification":  func(p *dto.SubmitRequest) { p.Justification = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			payload := validSubmission()
			mutate(&payload)
			_, err := f.requests.Submit(context.Background(), payload, employeeActor())
			require.Error(t, err)
			assert.True(t, errors.Is(err, appErrors.ErrValidation), err.Error())
		})
	}

	payload := validSubmission()
	payload.Returnable = true
	payload.ExpectedReturnDate = &returnBy
	result, err := f.requests.Submit(context.Background(), payload, employeeActor())
	require.NoError(t, err)
	require.NotNil(t, result.Request.ExpectedReturnDate)
}

func TestSubmitOnBehalfRequiresAdmin(t *testing.T) {
	f := newWorkflowFixture(t)
	payload := validSubmission()
	payload.RequesterID = "emp-2"

	_, err := f.requests.Submit(context.Background(), payload, employeeActor())
	assert.True(t, errors.Is(err, appErrors.ErrForbiddenActor))

	delete(f.hierarchy.supervisors, "emp-2")
	result, err := f.requests.Submit(context.Background(), payload, adminActor())
	require.NoError(t, err)
	assert.Equal(t, "emp-2", result.Request.RequesterID)
	assert.Equal(t, appErrors.ErrNoSupervisorFound.Code, result.RoutingError.Code)
}

func TestRequestVisibilityForEmployees(t *testing.T) {
	f := newWorkflowFixture(t)
	result, err := f.requests.Submit(context.Background(), validSubmission(), employeeActor())
	require.NoError(t, err)

	_, err = f.requests.Get(context.Background(), result.Request.ID, Actor{ID: "emp-2", Role: models.RoleEmployee})
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	req, err := f.requests.Get(context.Background(), result.Request.ID, supervisorActor())
	require.NoError(t, err)
	assert.Len(t, req.Items, 2)

	list, page, err := f.requests.List(context.Background(), models.RequestFilter{}, Actor{ID: "emp-2", Role: models.RoleEmployee})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, 0, page.TotalCount)

	list, page, err = f.requests.List(context.Background(), models.RequestFilter{}, employeeActor())
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 50, page.PageSize)
}

func TestTimelineListsChainAndHistory(t *testing.T) {
	f := newWorkflowFixture(t)
	result, err := f.requests.Submit(context.Background(), validSubmission(), employeeActor())
	require.NoError(t, err)

	timeline, err := f.requests.Timeline(context.Background(), result.Request.ID, employeeActor())
	require.NoError(t, err)
	require.Len(t, timeline.Approvals, 1)
	assert.Equal(t, 1, timeline.Approvals[0].Sequence)
	require.Len(t, timeline.History, 2)
	assert.Equal(t, models.HistorySubmitted, timeline.History[0].Action)
}

func TestSoftDeleteWithdrawsPendingApproval(t *testing.T) {
	f := newWorkflowFixture(t)
	result, err := f.requests.Submit(context.Background(), validSubmission(), employeeActor())
	require.NoError(t, err)
	id := result.Request.ID

	err = f.requests.SoftDelete(context.Background(), id, Actor{ID: "emp-2", Role: models.RoleEmployee})
	assert.True(t, errors.Is(err, appErrors.ErrForbiddenActor))

	require.NoError(t, f.requests.SoftDelete(context.Background(), id, employeeActor()))

	queue, err := f.service.GetPendingApprovalsFor(context.Background(), "sup-1")
	require.NoError(t, err)
	assert.Empty(t, queue)
	chain := f.store.approvalsFor(id)
	require.Len(t, chain, 1)
	assert.Equal(t, models.ApprovalStatusRejected, chain[0].Status)

	_, err = f.requests.Get(context.Background(), id, adminActor())
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	err = f.requests.SoftDelete(context.Background(), id, employeeActor())
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestSoftDeleteRejectsApprovedRequest(t *testing.T) {
	f := newWorkflowFixture(t)
	result, err := f.requests.Submit(context.Background(), validSubmission(), employeeActor())
	require.NoError(t, err)
	require.NoError(t, f.store.Session().UpdateRequestStatus(context.Background(), result.Request.ID, models.RequestStatusSubmitted, models.RequestStatusApproved))

	err = f.requests.SoftDelete(context.Background(), result.Request.ID, employeeActor())
	assert.True(t, errors.Is(err, appErrors.ErrInvalidState))
}

func TestPurgeRequiresSoftDeletedRequest(t *testing.T) {
	f := newWorkflowFixture(t)
	result, err := f.requests.Submit(context.Background(), validSubmission(), employeeActor())
	require.NoError(t, err)
	id := result.Request.ID

	err = f.requests.Purge(context.Background(), id, employeeActor())
	assert.True(t, errors.Is(err, appErrors.ErrForbiddenActor))

	err = f.requests.Purge(context.Background(), id, adminActor())
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	require.NoError(t, f.requests.SoftDelete(context.Background(), id, adminActor()))
	require.NoError(t, f.requests.Purge(context.Background(), id, adminActor()))
	assert.Empty(t, f.store.approvalsFor(id))
	assert.Empty(t, f.store.historyFor(id))
}
