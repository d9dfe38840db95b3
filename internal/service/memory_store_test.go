package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/stock-issuance-api/internal/models"
	"github.com/noah-isme/stock-issuance-api/internal/repository"
)

// memoryStore is a transactional in-memory stand-in for repository.Store.
// WithinTx serialises transactions and restores a snapshot when fn fails.
type memoryStore struct {
	txMu     sync.Mutex
	mu       sync.Mutex
	state    memoryState
	failures map[string]error
	base     time.Time
}

type memoryState struct {
	requests      map[string]models.Request
	requestItems  map[string]models.RequestItem
	approvals     map[string]models.Approval
	approvalItems map[string]models.ApprovalItem
	history       []models.ApprovalHistory
	verifications map[string]models.VerificationRequest
	items         map[string]models.Item
	ledger        map[string]models.LedgerEntry
	users         map[string]models.User
	seq           int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		state: memoryState{
			requests:      map[string]models.Request{},
			requestItems:  map[string]models.RequestItem{},
			approvals:     map[string]models.Approval{},
			approvalItems: map[string]models.ApprovalItem{},
			verifications: map[string]models.VerificationRequest{},
			items:         map[string]models.Item{},
			ledger:        map[string]models.LedgerEntry{},
			users:         map[string]models.User{},
		},
		failures: map[string]error{},
		base:     time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}

func (s memoryState) clone() memoryState {
	out := s
	out.requests = copyMap(s.requests)
	out.requestItems = copyMap(s.requestItems)
	out.approvals = copyMap(s.approvals)
	out.approvalItems = copyMap(s.approvalItems)
	out.history = append([]models.ApprovalHistory(nil), s.history...)
	out.verifications = copyMap(s.verifications)
	out.items = copyMap(s.items)
	out.ledger = copyMap(s.ledger)
	out.users = copyMap(s.users)
	return out
}

func copyMap[T any](in map[string]T) map[string]T {
	out := make(map[string]T, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (m *memoryStore) Session() repository.Session {
	return &memorySession{store: m}
}

func (m *memoryStore) WithinTx(ctx context.Context, fn func(repository.Session) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	snapshot := m.state.clone()
	m.mu.Unlock()

	if err := fn(&memorySession{store: m}); err != nil {
		m.mu.Lock()
		m.state = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

// failOn makes the named session method return err.
func (m *memoryStore) failOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[method] = err
}

func (m *memoryStore) addUser(id string, role models.UserRole) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.users[id] = models.User{ID: id, Email: id + "@example.com", FullName: id, Role: role, Active: true}
}

func (m *memoryStore) addItem(id string, onHand int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.items[id] = models.Item{ID: id, Code: id, Name: "Item " + id, Unit: "pcs", QuantityOnHand: onHand}
}

func (m *memoryStore) stock(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.items[id].QuantityOnHand
}

func (m *memoryStore) request(id string) models.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.requests[id]
}

func (m *memoryStore) approvalsFor(requestID string) []models.Approval {
	list, _ := m.Session().ListRequestApprovals(context.Background(), requestID)
	return list
}

func (m *memoryStore) historyFor(requestID string) []models.ApprovalHistory {
	list, _ := m.Session().ListHistory(context.Background(), requestID)
	return list
}

func (m *memoryStore) countPending(requestID string) int {
	count := 0
	for _, a := range m.approvalsFor(requestID) {
		if a.Status == models.ApprovalStatusPending {
			count++
		}
	}
	return count
}

type memorySession struct {
	store *memoryStore
}

// lock acquires the data mutex and reports any injected failure for method.
func (s *memorySession) lock(method string) (*memoryState, func(), error) {
	s.store.mu.Lock()
	if err, ok := s.store.failures[method]; ok {
		s.store.mu.Unlock()
		return nil, func() {}, err
	}
	return &s.store.state, s.store.mu.Unlock, nil
}

func (s *memorySession) nextID(st *memoryState, prefix string) string {
	st.seq++
	return fmt.Sprintf("%s-%d", prefix, st.seq)
}

func (s *memorySession) tick(st *memoryState) time.Time {
	st.seq++
	return s.store.base.Add(time.Duration(st.seq) * time.Second)
}

func (s *memorySession) CreateRequest(ctx context.Context, req *models.Request) error {
	st, unlock, err := s.lock("CreateRequest")
	defer unlock()
	if err != nil {
		return err
	}
	if req.ID == "" {
		req.ID = s.nextID(st, "req")
	}
	if req.Status == "" {
		req.Status = models.RequestStatusSubmitted
	}
	req.SubmittedAt = s.tick(st)
	req.UpdatedAt = req.SubmittedAt
	for i := range req.Items {
		item := &req.Items[i]
		if item.ID == "" {
			item.ID = s.nextID(st, "ri")
		}
		item.RequestID = req.ID
		item.Position = i + 1
		st.requestItems[item.ID] = *item
	}
	stored := *req
	stored.Items = nil
	st.requests[req.ID] = stored
	return nil
}

func (s *memorySession) getRequest(method, id string) (*models.Request, error) {
	st, unlock, err := s.lock(method)
	defer unlock()
	if err != nil {
		return nil, err
	}
	req, ok := st.requests[id]
	if !ok || req.Deleted {
		return nil, sql.ErrNoRows
	}
	return &req, nil
}

func (s *memorySession) GetRequest(ctx context.Context, id string) (*models.Request, error) {
	return s.getRequest("GetRequest", id)
}

func (s *memorySession) LockRequest(ctx context.Context, id string) (*models.Request, error) {
	return s.getRequest("LockRequest", id)
}

func (s *memorySession) ListRequestItems(ctx context.Context, requestID string) ([]models.RequestItem, error) {
	st, unlock, err := s.lock("ListRequestItems")
	defer unlock()
	if err != nil {
		return nil, err
	}
	var out []models.RequestItem
	for _, item := range st.requestItems {
		if item.RequestID == requestID {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (s *memorySession) GetRequestItem(ctx context.Context, id string) (*models.RequestItem, error) {
	st, unlock, err := s.lock("GetRequestItem")
	defer unlock()
	if err != nil {
		return nil, err
	}
	item, ok := st.requestItems[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &item, nil
}

func (s *memorySession) UpdateRequestStatus(ctx context.Context, id string, from, to models.RequestStatus) error {
	st, unlock, err := s.lock("UpdateRequestStatus")
	defer unlock()
	if err != nil {
		return err
	}
	req, ok := st.requests[id]
	if !ok || req.Deleted || req.Status != from {
		return sql.ErrNoRows
	}
	req.Status = to
	st.requests[id] = req
	return nil
}

func (s *memorySession) ListRequests(ctx context.Context, filter models.RequestFilter) ([]models.Request, int, error) {
	st, unlock, err := s.lock("ListRequests")
	defer unlock()
	if err != nil {
		return nil, 0, err
	}
	var out []models.Request
	for _, req := range st.requests {
		if req.Deleted || (filter.RequesterID != "" && req.RequesterID != filter.RequesterID) {
			continue
		}
		if filter.Type != "" && req.Type != filter.Type {
			continue
		}
		if len(filter.Status) > 0 && !containsStatus(filter.Status, req.Status) {
			continue
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	return out, len(out), nil
}

func containsStatus(list []models.RequestStatus, status models.RequestStatus) bool {
	for _, s := range list {
		if s == status {
			return true
		}
	}
	return false
}

func (s *memorySession) SoftDeleteRequest(ctx context.Context, id string) error {
	st, unlock, err := s.lock("SoftDeleteRequest")
	defer unlock()
	if err != nil {
		return err
	}
	req, ok := st.requests[id]
	if !ok || req.Deleted || (req.Status != models.RequestStatusDraft && req.Status != models.RequestStatusSubmitted) {
		return sql.ErrNoRows
	}
	req.Deleted = true
	st.requests[id] = req
	return nil
}

func (s *memorySession) PurgeRequest(ctx context.Context, id string) error {
	st, unlock, err := s.lock("PurgeRequest")
	defer unlock()
	if err != nil {
		return err
	}
	req, ok := st.requests[id]
	if !ok || !req.Deleted {
		return sql.ErrNoRows
	}
	for key, a := range st.approvals {
		if a.RequestID == id {
			for itemKey, item := range st.approvalItems {
				if item.ApprovalID == a.ID {
					delete(st.approvalItems, itemKey)
				}
			}
			delete(st.approvals, key)
		}
	}
	for key, v := range st.verifications {
		if v.RequestID == id {
			delete(st.verifications, key)
		}
	}
	for key, item := range st.requestItems {
		if item.RequestID == id {
			delete(st.requestItems, key)
		}
	}
	kept := st.history[:0]
	for _, h := range st.history {
		if h.RequestID != id {
			kept = append(kept, h)
		}
	}
	st.history = kept
	delete(st.requests, id)
	return nil
}

func (s *memorySession) CreateApproval(ctx context.Context, approval *models.Approval) error {
	st, unlock, err := s.lock("CreateApproval")
	defer unlock()
	if err != nil {
		return err
	}
	for _, existing := range st.approvals {
		if existing.RequestID == approval.RequestID && existing.Status == models.ApprovalStatusPending {
			return repository.ErrPendingApprovalExists
		}
	}
	if approval.ID == "" {
		approval.ID = s.nextID(st, "apr")
	}
	if approval.Status == "" {
		approval.Status = models.ApprovalStatusPending
	}
	approval.SubmittedAt = s.tick(st)
	approval.UpdatedAt = approval.SubmittedAt
	for i := range approval.Items {
		item := &approval.Items[i]
		if item.ID == "" {
			item.ID = s.nextID(st, "ai")
		}
		item.ApprovalID = approval.ID
		st.approvalItems[item.ID] = *item
	}
	stored := *approval
	stored.Items = nil
	st.approvals[approval.ID] = stored
	return nil
}

func (s *memorySession) getApproval(method, id string) (*models.Approval, error) {
	st, unlock, err := s.lock(method)
	defer unlock()
	if err != nil {
		return nil, err
	}
	a, ok := st.approvals[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &a, nil
}

func (s *memorySession) GetApproval(ctx context.Context, id string) (*models.Approval, error) {
	return s.getApproval("GetApproval", id)
}

func (s *memorySession) LockApproval(ctx context.Context, id string) (*models.Approval, error) {
	return s.getApproval("LockApproval", id)
}

func (s *memorySession) FindPendingApproval(ctx context.Context, requestID string) (*models.Approval, error) {
	st, unlock, err := s.lock("FindPendingApproval")
	defer unlock()
	if err != nil {
		return nil, err
	}
	for _, a := range st.approvals {
		if a.RequestID == requestID && a.Status == models.ApprovalStatusPending {
			return &a, nil
		}
	}
	return nil, nil
}

func (s *memorySession) LatestApproval(ctx context.Context, requestID string) (*models.Approval, error) {
	st, unlock, err := s.lock("LatestApproval")
	defer unlock()
	if err != nil {
		return nil, err
	}
	var latest *models.Approval
	for _, a := range st.approvals {
		if a.RequestID != requestID {
			continue
		}
		if latest == nil || a.Sequence > latest.Sequence {
			candidate := a
			latest = &candidate
		}
	}
	return latest, nil
}

func (s *memorySession) ListApprovalItems(ctx context.Context, approvalID string) ([]models.ApprovalItem, error) {
	st, unlock, err := s.lock("ListApprovalItems")
	defer unlock()
	if err != nil {
		return nil, err
	}
	var out []models.ApprovalItem
	for _, item := range st.approvalItems {
		if item.ApprovalID == approvalID {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return st.requestItems[out[i].RequestItemID].Position < st.requestItems[out[j].RequestItemID].Position
	})
	return out, nil
}

func (s *memorySession) UpdateApprovalItemDecision(ctx context.Context, item *models.ApprovalItem) error {
	st, unlock, err := s.lock("UpdateApprovalItemDecision")
	defer unlock()
	if err != nil {
		return err
	}
	stored, ok := st.approvalItems[item.ID]
	if !ok || stored.ApprovalID != item.ApprovalID {
		return sql.ErrNoRows
	}
	st.approvalItems[item.ID] = *item
	return nil
}

func (s *memorySession) CloseApproval(ctx context.Context, id string, status models.ApprovalStatus, reason *string) error {
	st, unlock, err := s.lock("CloseApproval")
	defer unlock()
	if err != nil {
		return err
	}
	a, ok := st.approvals[id]
	if !ok || a.Status != models.ApprovalStatusPending {
		return sql.ErrNoRows
	}
	a.Status = status
	a.RejectionReason = reason
	st.approvals[id] = a
	return nil
}

func (s *memorySession) ListApprovals(ctx context.Context, filter models.ApprovalFilter) ([]models.Approval, error) {
	st, unlock, err := s.lock("ListApprovals")
	defer unlock()
	if err != nil {
		return nil, err
	}
	var out []models.Approval
	for _, a := range st.approvals {
		if a.ApproverID != filter.ApproverID {
			continue
		}
		if len(filter.Status) > 0 {
			match := false
			for _, status := range filter.Status {
				if a.Status == status {
					match = true
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

func (s *memorySession) ListRequestApprovals(ctx context.Context, requestID string) ([]models.Approval, error) {
	st, unlock, err := s.lock("ListRequestApprovals")
	defer unlock()
	if err != nil {
		return nil, err
	}
	var out []models.Approval
	for _, a := range st.approvals {
		if a.RequestID == requestID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (s *memorySession) AppendHistory(ctx context.Context, entry *models.ApprovalHistory) error {
	st, unlock, err := s.lock("AppendHistory")
	defer unlock()
	if err != nil {
		return err
	}
	if entry.ID == "" {
		entry.ID = s.nextID(st, "hist")
	}
	entry.CreatedAt = s.tick(st)
	st.history = append(st.history, *entry)
	return nil
}

func (s *memorySession) ListHistory(ctx context.Context, requestID string) ([]models.ApprovalHistory, error) {
	st, unlock, err := s.lock("ListHistory")
	defer unlock()
	if err != nil {
		return nil, err
	}
	var out []models.ApprovalHistory
	for _, h := range st.history {
		if h.RequestID == requestID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *memorySession) CreateVerification(ctx context.Context, v *models.VerificationRequest) error {
	st, unlock, err := s.lock("CreateVerification")
	defer unlock()
	if err != nil {
		return err
	}
	for _, existing := range st.verifications {
		if existing.RequestItemID == v.RequestItemID && existing.Status == models.VerificationPending {
			return repository.ErrPendingVerificationExists
		}
	}
	if v.ID == "" {
		v.ID = s.nextID(st, "ver")
	}
	if v.Status == "" {
		v.Status = models.VerificationPending
	}
	v.ForwardedAt = s.tick(st)
	st.verifications[v.ID] = *v
	return nil
}

func (s *memorySession) getVerification(method, id string) (*models.VerificationRequest, error) {
	st, unlock, err := s.lock(method)
	defer unlock()
	if err != nil {
		return nil, err
	}
	v, ok := st.verifications[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &v, nil
}

func (s *memorySession) GetVerification(ctx context.Context, id string) (*models.VerificationRequest, error) {
	return s.getVerification("GetVerification", id)
}

func (s *memorySession) LockVerification(ctx context.Context, id string) (*models.VerificationRequest, error) {
	return s.getVerification("LockVerification", id)
}

func (s *memorySession) FindPendingVerification(ctx context.Context, requestItemID string) (*models.VerificationRequest, error) {
	st, unlock, err := s.lock("FindPendingVerification")
	defer unlock()
	if err != nil {
		return nil, err
	}
	for _, v := range st.verifications {
		if v.RequestItemID == requestItemID && v.Status == models.VerificationPending {
			return &v, nil
		}
	}
	return nil, nil
}

func (s *memorySession) CompleteVerification(ctx context.Context, id string, physicalCount int, notes *string, verifiedAt time.Time) error {
	st, unlock, err := s.lock("CompleteVerification")
	defer unlock()
	if err != nil {
		return err
	}
	v, ok := st.verifications[id]
	if !ok || v.Status != models.VerificationPending {
		return sql.ErrNoRows
	}
	v.Status = models.VerificationVerified
	v.PhysicalCount = &physicalCount
	v.Notes = notes
	v.VerifiedAt = &verifiedAt
	st.verifications[id] = v
	return nil
}

func (s *memorySession) MarkVerificationForwarded(ctx context.Context, id string) error {
	st, unlock, err := s.lock("MarkVerificationForwarded")
	defer unlock()
	if err != nil {
		return err
	}
	v, ok := st.verifications[id]
	if !ok || v.Status != models.VerificationPending {
		return sql.ErrNoRows
	}
	v.Status = models.VerificationForwarded
	st.verifications[id] = v
	return nil
}

func (s *memorySession) ListVerificationsForUser(ctx context.Context, userID string) ([]models.VerificationRequest, error) {
	st, unlock, err := s.lock("ListVerificationsForUser")
	defer unlock()
	if err != nil {
		return nil, err
	}
	var out []models.VerificationRequest
	for _, v := range st.verifications {
		if v.ForwardedToUserID == userID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ForwardedAt.After(out[j].ForwardedAt) })
	return out, nil
}

func (s *memorySession) GetItem(ctx context.Context, id string) (*models.Item, error) {
	return s.getItem("GetItem", id)
}

func (s *memorySession) LockItem(ctx context.Context, id string) (*models.Item, error) {
	return s.getItem("LockItem", id)
}

func (s *memorySession) getItem(method, id string) (*models.Item, error) {
	st, unlock, err := s.lock(method)
	defer unlock()
	if err != nil {
		return nil, err
	}
	item, ok := st.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &item, nil
}

func (s *memorySession) ListItems(ctx context.Context, search string) ([]models.Item, error) {
	st, unlock, err := s.lock("ListItems")
	defer unlock()
	if err != nil {
		return nil, err
	}
	out := make([]models.Item, 0, len(st.items))
	for _, item := range st.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *memorySession) DeductStock(ctx context.Context, itemID string, quantity int) error {
	st, unlock, err := s.lock("DeductStock")
	defer unlock()
	if err != nil {
		return err
	}
	item, ok := st.items[itemID]
	if !ok {
		return sql.ErrNoRows
	}
	if item.QuantityOnHand < quantity {
		return repository.ErrStockShortfall
	}
	item.QuantityOnHand -= quantity
	st.items[itemID] = item
	return nil
}

func (s *memorySession) RestoreStock(ctx context.Context, itemID string, quantity int) error {
	st, unlock, err := s.lock("RestoreStock")
	defer unlock()
	if err != nil {
		return err
	}
	item, ok := st.items[itemID]
	if !ok {
		return sql.ErrNoRows
	}
	item.QuantityOnHand += quantity
	st.items[itemID] = item
	return nil
}

func (s *memorySession) CreateLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error {
	st, unlock, err := s.lock("CreateLedgerEntry")
	defer unlock()
	if err != nil {
		return err
	}
	if entry.ID == "" {
		entry.ID = s.nextID(st, "led")
	}
	if entry.ReturnStatus == "" {
		entry.ReturnStatus = models.ReturnStatusOutstanding
	}
	entry.IssuedAt = s.tick(st)
	st.ledger[entry.ID] = *entry
	return nil
}

func (s *memorySession) getLedgerEntry(method, id string) (*models.LedgerEntry, error) {
	st, unlock, err := s.lock(method)
	defer unlock()
	if err != nil {
		return nil, err
	}
	entry, ok := st.ledger[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &entry, nil
}

func (s *memorySession) GetLedgerEntry(ctx context.Context, id string) (*models.LedgerEntry, error) {
	return s.getLedgerEntry("GetLedgerEntry", id)
}

func (s *memorySession) LockLedgerEntry(ctx context.Context, id string) (*models.LedgerEntry, error) {
	return s.getLedgerEntry("LockLedgerEntry", id)
}

func (s *memorySession) MarkLedgerReturned(ctx context.Context, id string, condition models.ReturnCondition, returnedBy string, returnedAt time.Time) error {
	st, unlock, err := s.lock("MarkLedgerReturned")
	defer unlock()
	if err != nil {
		return err
	}
	entry, ok := st.ledger[id]
	if !ok || entry.ReturnStatus != models.ReturnStatusOutstanding {
		return sql.ErrNoRows
	}
	entry.ReturnStatus = models.ReturnStatusReturned
	entry.ReturnCondition = &condition
	entry.ReturnedBy = &returnedBy
	entry.ReturnedAt = &returnedAt
	st.ledger[id] = entry
	return nil
}

func (s *memorySession) CountOutstandingLedgerEntries(ctx context.Context, requestID string) (int, error) {
	st, unlock, err := s.lock("CountOutstandingLedgerEntries")
	defer unlock()
	if err != nil {
		return 0, err
	}
	count := 0
	for _, entry := range st.ledger {
		if entry.RequestID == requestID && entry.ReturnStatus == models.ReturnStatusOutstanding {
			count++
		}
	}
	return count, nil
}

func (s *memorySession) ListLedgerEntries(ctx context.Context, filter models.LedgerFilter) ([]models.LedgerEntry, int, error) {
	st, unlock, err := s.lock("ListLedgerEntries")
	defer unlock()
	if err != nil {
		return nil, 0, err
	}
	var out []models.LedgerEntry
	for _, entry := range st.ledger {
		if filter.RequestID != "" && entry.RequestID != filter.RequestID {
			continue
		}
		if filter.ReturnStatus != "" && entry.ReturnStatus != filter.ReturnStatus {
			continue
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out, len(out), nil
}

func (s *memorySession) FindByID(ctx context.Context, id string) (*models.User, error) {
	st, unlock, err := s.lock("FindByID")
	defer unlock()
	if err != nil {
		return nil, err
	}
	user, ok := st.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &user, nil
}

// stubHierarchy is an in-memory HierarchySource.
type stubHierarchy struct {
	supervisors map[string]string
	wings       map[string][]models.WingApprover
	calls       int
	err         error
}

func (h *stubHierarchy) GetSupervisor(ctx context.Context, employeeID string) (string, error) {
	h.calls++
	if h.err != nil {
		return "", h.err
	}
	return h.supervisors[employeeID], nil
}

func (h *stubHierarchy) ListWingApprovers(ctx context.Context, wingID string) ([]models.WingApprover, error) {
	h.calls++
	if h.err != nil {
		return nil, h.err
	}
	return h.wings[wingID], nil
}
