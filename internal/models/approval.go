package models

import "time"

// ApprovalStatus captures the state of one approval cycle.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
	ApprovalStatusReturned ApprovalStatus = "returned"
)

// ItemDecision is the approver's call on a single line.
type ItemDecision string

const (
	DecisionPending  ItemDecision = "pending"
	DecisionApproved ItemDecision = "approved"
	DecisionRejected ItemDecision = "rejected"
)

// Approval is one routing/decision cycle for a Request, assigned to one approver.
// Approvals of a request form an append-only chain ordered by Sequence.
type Approval struct {
	ID                 string         `db:"id" json:"id"`
	RequestID          string         `db:"request_id" json:"requestId"`
	Sequence           int            `db:"sequence" json:"sequence"`
	PreviousApprovalID *string        `db:"previous_approval_id" json:"previousApprovalId,omitempty"`
	ApproverID         string         `db:"current_approver_id" json:"approverId"`
	Status             ApprovalStatus `db:"status" json:"status"`
	RejectionReason    *string        `db:"rejection_reason" json:"rejectionReason,omitempty"`
	SubmittedAt        time.Time      `db:"submitted_at" json:"submittedAt"`
	UpdatedAt          time.Time      `db:"updated_at" json:"updatedAt"`

	Items []ApprovalItem `db:"-" json:"items,omitempty"`
}

// ApprovalItem is the per-item decision attached to an Approval.
type ApprovalItem struct {
	ID              string       `db:"id" json:"id"`
	ApprovalID      string       `db:"approval_id" json:"approvalId"`
	RequestItemID   string       `db:"request_item_id" json:"requestItemId"`
	ItemID          *string      `db:"item_id" json:"itemId,omitempty"`
	Nomenclature    string       `db:"nomenclature" json:"nomenclature"`
	Quantity        int          `db:"quantity" json:"quantity"`
	Decision        ItemDecision `db:"decision" json:"decision"`
	RejectionReason *string      `db:"rejection_reason" json:"rejectionReason,omitempty"`
	DecidedAt       *time.Time   `db:"decided_at" json:"decidedAt,omitempty"`
}

// HistoryAction names an entry in the approval audit trail.
type HistoryAction string

const (
	HistorySubmitted      HistoryAction = "SUBMITTED"
	HistoryRouted         HistoryAction = "ROUTED"
	HistoryItemApproved   HistoryAction = "ITEM_APPROVED"
	HistoryItemRejected   HistoryAction = "ITEM_REJECTED"
	HistoryApproved       HistoryAction = "APPROVED"
	HistoryRejected       HistoryAction = "REJECTED"
	HistoryReturned       HistoryAction = "RETURNED"
	HistoryForwarded      HistoryAction = "FORWARDED_FOR_VERIFICATION"
	HistoryIssued         HistoryAction = "ISSUED"
	HistoryStockReturned  HistoryAction = "STOCK_RETURNED"
	HistoryRequestDeleted HistoryAction = "DELETED"
)

// ApprovalHistory is an immutable audit record of a workflow transition.
type ApprovalHistory struct {
	ID         string        `db:"id" json:"id"`
	RequestID  string        `db:"request_id" json:"requestId"`
	ApprovalID *string       `db:"approval_id" json:"approvalId,omitempty"`
	ActorID    string        `db:"actor_id" json:"actorId"`
	Action     HistoryAction `db:"action" json:"action"`
	Comments   *string       `db:"comments" json:"comments,omitempty"`
	CreatedAt  time.Time     `db:"created_at" json:"createdAt"`
}

// ApprovalFilter constrains approver queue queries.
type ApprovalFilter struct {
	ApproverID string
	Status     []ApprovalStatus
	Limit      int
	Offset     int
}
