package models

import "time"

// VerificationStatus tracks a physical stock check.
type VerificationStatus string

const (
	VerificationPending   VerificationStatus = "pending"
	VerificationVerified  VerificationStatus = "verified"
	VerificationForwarded VerificationStatus = "forwarded"
)

// VerificationRequest is an item forwarded by an approver to a store keeper
// for physical stock confirmation.
type VerificationRequest struct {
	ID                   string             `db:"id" json:"id"`
	RequestID            string             `db:"request_id" json:"requestId"`
	RequestItemID        string             `db:"request_item_id" json:"requestItemId"`
	ItemID               *string            `db:"item_id" json:"itemId,omitempty"`
	Nomenclature         string             `db:"nomenclature" json:"nomenclature"`
	RequestedQuantity    int                `db:"requested_quantity" json:"requestedQuantity"`
	ForwardedBy          string             `db:"forwarded_by" json:"forwardedBy"`
	ForwardedAt          time.Time          `db:"forwarded_at" json:"forwardedAt"`
	ForwardedToUserID    string             `db:"forwarded_to_user_id" json:"forwardedToUserId"`
	Status               VerificationStatus `db:"status" json:"status"`
	PhysicalCount        *int               `db:"physical_count" json:"physicalCount,omitempty"`
	Notes                *string            `db:"notes" json:"notes,omitempty"`
	VerifiedAt           *time.Time         `db:"verified_at" json:"verifiedAt,omitempty"`
	PreviousVerification *string            `db:"previous_verification_id" json:"previousVerificationId,omitempty"`
}
