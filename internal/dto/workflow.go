package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// SubmitRequestItem is one requested line. Either ItemID or CustomItemName is required.
type SubmitRequestItem struct {
	ItemID         string           `json:"itemId" validate:"required_without=CustomItemName"`
	CustomItemName string           `json:"customItemName" validate:"required_without=ItemID,max=200"`
	Nomenclature   string           `json:"nomenclature" validate:"max=200"`
	Quantity       int              `json:"quantity" validate:"required,gt=0"`
	UnitPrice      *decimal.Decimal `json:"unitPrice"`
}

// SubmitRequest is the payload for POST /requests.
type SubmitRequest struct {
	Type               string              `json:"type" validate:"required,request_type"`
	RequesterID        string              `json:"requesterId"`
	WingID             string              `json:"wingId" validate:"required_if=Type ORGANIZATIONAL"`
	Justification      string              `json:"justification" validate:"required,max=2000"`
	Returnable         bool                `json:"returnable"`
	ExpectedReturnDate *time.Time          `json:"expectedReturnDate" validate:"required_if=Returnable true"`
	Items              []SubmitRequestItem `json:"items" validate:"required,min=1,dive"`
}

// CreateApprovalRequest assigns a submitted request to an explicit approver.
type CreateApprovalRequest struct {
	RequestID  string `json:"requestId" validate:"required"`
	ApproverID string `json:"approverId" validate:"required"`
}

// ItemDecisionRequest records the approver's call on one item.
type ItemDecisionRequest struct {
	Decision string `json:"decision" binding:"required"`
	Reason   string `json:"reason"`
}

// ForwardVerificationRequest sends a request item to a store keeper.
type ForwardVerificationRequest struct {
	StoreKeeperID string `json:"storeKeeperId" binding:"required"`
}

// RecordVerificationRequest captures the physical count.
type RecordVerificationRequest struct {
	PhysicalCount *int   `json:"physicalCount" binding:"required,gte=0"`
	Notes         string `json:"notes"`
}

// ReturnLedgerRequest records stock coming back.
type ReturnLedgerRequest struct {
	Condition string `json:"condition" binding:"required,oneof=good damaged lost"`
}

// LogoutRequest names the session to close.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}
