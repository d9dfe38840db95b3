package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReturnStatus reports whether issued stock came back.
type ReturnStatus string

const (
	ReturnStatusOutstanding ReturnStatus = "OUTSTANDING"
	ReturnStatusReturned    ReturnStatus = "RETURNED"
)

// ReturnCondition describes the state of returned stock.
type ReturnCondition string

const (
	ConditionGood    ReturnCondition = "good"
	ConditionDamaged ReturnCondition = "damaged"
	ConditionLost    ReturnCondition = "lost"
)

// Valid reports whether the condition is recognised.
func (c ReturnCondition) Valid() bool {
	switch c {
	case ConditionGood, ConditionDamaged, ConditionLost:
		return true
	}
	return false
}

// LedgerEntry records stock issued against a request line.
type LedgerEntry struct {
	ID              string           `db:"id" json:"id"`
	RequestID       string           `db:"request_id" json:"requestId"`
	RequestItemID   string           `db:"request_item_id" json:"requestItemId"`
	ItemID          *string          `db:"item_id" json:"itemId,omitempty"`
	Nomenclature    string           `db:"nomenclature" json:"nomenclature"`
	Quantity        int              `db:"quantity" json:"quantity"`
	UnitCost        decimal.Decimal  `db:"unit_cost" json:"unitCost"`
	IssuedBy        string           `db:"issued_by" json:"issuedBy"`
	IssuedAt        time.Time        `db:"issued_at" json:"issuedAt"`
	ReturnStatus    ReturnStatus     `db:"return_status" json:"returnStatus"`
	ReturnedAt      *time.Time       `db:"returned_at" json:"returnedAt,omitempty"`
	ReturnCondition *ReturnCondition `db:"return_condition" json:"returnCondition,omitempty"`
	ReturnedBy      *string          `db:"returned_by" json:"returnedBy,omitempty"`
}

// LedgerFilter constrains ledger listings and exports.
type LedgerFilter struct {
	RequestID    string
	ItemID       string
	ReturnStatus ReturnStatus
	IssuedFrom   *time.Time
	IssuedTo     *time.Time
	Limit        int
	Offset       int
}
