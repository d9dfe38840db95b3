package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RequestType distinguishes personal asks from asks made on behalf of a wing.
type RequestType string

const (
	RequestTypeIndividual     RequestType = "INDIVIDUAL"
	RequestTypeOrganizational RequestType = "ORGANIZATIONAL"
)

// Valid reports whether the type is a known request type.
func (t RequestType) Valid() bool {
	return t == RequestTypeIndividual || t == RequestTypeOrganizational
}

// RequestStatus captures the lifecycle of a stock issuance request.
type RequestStatus string

const (
	RequestStatusDraft     RequestStatus = "DRAFT"
	RequestStatusSubmitted RequestStatus = "SUBMITTED"
	RequestStatusApproved  RequestStatus = "APPROVED"
	RequestStatusIssued    RequestStatus = "ISSUED"
	RequestStatusReturned  RequestStatus = "RETURNED"
	RequestStatusRejected  RequestStatus = "REJECTED"
)

// Request is a requester's ask for one or more inventory items.
type Request struct {
	ID                 string        `db:"id" json:"id"`
	Type               RequestType   `db:"type" json:"type"`
	RequesterID        string        `db:"requester_id" json:"requesterId"`
	WingID             *string       `db:"wing_id" json:"wingId,omitempty"`
	Justification      string        `db:"justification" json:"justification"`
	Returnable         bool          `db:"returnable" json:"returnable"`
	ExpectedReturnDate *time.Time    `db:"expected_return_date" json:"expectedReturnDate,omitempty"`
	Status             RequestStatus `db:"status" json:"status"`
	Deleted            bool          `db:"is_deleted" json:"-"`
	SubmittedAt        time.Time     `db:"submitted_at" json:"submittedAt"`
	UpdatedAt          time.Time     `db:"updated_at" json:"updatedAt"`

	Items []RequestItem `db:"-" json:"items,omitempty"`
}

// RequestItem is one line of a Request. Either ItemID or CustomItemName is set.
type RequestItem struct {
	ID             string              `db:"id" json:"id"`
	RequestID      string              `db:"request_id" json:"requestId"`
	ItemID         *string             `db:"item_id" json:"itemId,omitempty"`
	CustomItemName *string             `db:"custom_item_name" json:"customItemName,omitempty"`
	Nomenclature   string              `db:"nomenclature" json:"nomenclature"`
	Quantity       int                 `db:"quantity" json:"quantity"`
	UnitPrice      decimal.NullDecimal `db:"unit_price" json:"unitPrice"`
	Position       int                 `db:"position" json:"position"`
}

// IsCustom reports whether the line refers to a free-text item outside the item master.
func (i RequestItem) IsCustom() bool {
	return i.ItemID == nil
}

// RequestFilter constrains listing queries.
type RequestFilter struct {
	RequesterID string
	Status      []RequestStatus
	Type        RequestType
	WingID      string
	Page        int
	PageSize    int
}

// RequestTimeline is the approval chain and audit trail of one request.
type RequestTimeline struct {
	Request   *Request          `json:"request"`
	Approvals []Approval        `json:"approvals"`
	History   []ApprovalHistory `json:"history"`
}
