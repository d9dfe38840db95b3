package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Item is an entry of the inventory item master.
type Item struct {
	ID             string          `db:"id" json:"id"`
	Code           string          `db:"code" json:"code"`
	Name           string          `db:"name" json:"name"`
	Unit           string          `db:"unit" json:"unit"`
	QuantityOnHand int             `db:"quantity_on_hand" json:"quantityOnHand"`
	UnitCost       decimal.Decimal `db:"unit_cost" json:"unitCost"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updatedAt"`
}
