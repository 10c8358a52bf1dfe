package model

import (
	"time"

	"github.com/google/uuid"
)

type MovementType string

const (
	MovementIn         MovementType = "IN"
	MovementOut        MovementType = "OUT"
	MovementAdjustment MovementType = "ADJUSTMENT"
)

// StockMovement is an immutable audit record of a stock change.
type StockMovement struct {
	ID        uuid.UUID    `db:"id" json:"id"`
	ItemID    uuid.UUID    `db:"item_id" json:"itemID"`
	ItemName  string       `db:"item_name" json:"itemName"`
	Type      MovementType `db:"type" json:"type"`
	Quantity  int          `db:"quantity" json:"quantity"`
	Change    int          `db:"change" json:"change"`
	Reason    string       `db:"reason" json:"reason"`
	CreatedBy string       `db:"created_by" json:"createdBy,omitempty"`
	Timestamp time.Time    `db:"created_at" json:"timestamp"`
}

// NewMovement builds a movement with the sign of change implied by typ,
// attributed to staffID.
func NewMovement(item *InventoryItem, typ MovementType, change int, reason, staffID string) *StockMovement {
	qty := change
	if qty < 0 {
		qty = -qty
	}
	return &StockMovement{
		ID:        uuid.New(),
		ItemID:    item.ID,
		ItemName:  item.Name,
		Type:      typ,
		Quantity:  qty,
		Change:    change,
		Reason:    reason,
		CreatedBy: staffID,
		Timestamp: time.Now().UTC(),
	}
}
