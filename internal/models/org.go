package models

// WingApprover assigns a user as approver for a wing at a given level.
// Level 1 handles first review; higher levels receive escalations.
type WingApprover struct {
	WingID     string `db:"wing_id" json:"wingId"`
	ApproverID string `db:"approver_id" json:"approverId"`
	Level      int    `db:"level" json:"level"`
}
