package model

import (
	"database/sql/driver"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// InventoryItem is a stocked medicine. Name matching is case-insensitive.
type InventoryItem struct {
	Base
	Name      string          `db:"name" json:"name"`
	NameKey   string          `db:"name_key" json:"-"`
	Category  string          `db:"category" json:"category,omitempty"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unitPrice"`
	Batches   Batches         `db:"batches" json:"batches"`
}

// Batch is a dated lot. Quantity never goes below zero.
type Batch struct {
	BatchNumber string    `json:"batchNumber"`
	Quantity    int       `json:"quantity"`
	ExpiryDate  time.Time `json:"expiryDate"`
	AddedDate   time.Time `json:"addedDate"`
}

// Usable reports whether the batch can be allocated from at now.
func (b Batch) Usable(now time.Time) bool {
	return b.Quantity > 0 && b.ExpiryDate.After(now)
}

// NameKey normalizes a medicine name for lookups and locking.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (i InventoryItem) Clone() InventoryItem {
	out := i
	out.Batches = append(Batches(nil), i.Batches...)
	return out
}

// OnHand is the raw quantity across all batches, expired ones included.
func (i *InventoryItem) OnHand() int {
	total := 0
	for _, b := range i.Batches {
		total += b.Quantity
	}
	return total
}

// AvailableBatches returns indexes of usable batches, oldest intake first.
func (i *InventoryItem) AvailableBatches(now time.Time) []int {
	idx := make([]int, 0, len(i.Batches))
	for n, b := range i.Batches {
		if b.Usable(now) {
			idx = append(idx, n)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return i.Batches[idx[a]].AddedDate.Before(i.Batches[idx[b]].AddedDate)
	})
	return idx
}

// Available is the usable quantity at now.
func (i *InventoryItem) Available(now time.Time) int {
	total := 0
	for _, n := range i.AvailableBatches(now) {
		total += i.Batches[n].Quantity
	}
	return total
}

// FindBatch returns the index of batchNumber or -1.
func (i *InventoryItem) FindBatch(batchNumber string) int {
	for n, b := range i.Batches {
		if b.BatchNumber == batchNumber {
			return n
		}
	}
	return -1
}

// PruneEmpty drops batches that reached zero.
func (i *InventoryItem) PruneEmpty() {
	kept := i.Batches[:0]
	for _, b := range i.Batches {
		if b.Quantity > 0 {
			kept = append(kept, b)
		}
	}
	i.Batches = kept
}

type Batches []Batch

func (b Batches) Value() (driver.Value, error) {
	if b == nil {
		b = Batches{}
	}
	return jsonValue(b)
}

func (b *Batches) Scan(src interface{}) error {
	return scanJSON(src, b)
}

type CreateInventoryItemRequest struct {
	Name      string          `json:"name" binding:"required"`
	Category  string          `json:"category"`
	UnitPrice decimal.Decimal `json:"unitPrice" binding:"gte=0"`
	Batches   []BatchRequest  `json:"batches" binding:"dive"`
}

type BatchRequest struct {
	BatchNumber string    `json:"batchNumber" binding:"required"`
	Quantity    int       `json:"quantity" binding:"gte=0"`
	ExpiryDate  time.Time `json:"expiryDate" binding:"required"`
}

type AdjustBatchRequest struct {
	Quantity int    `json:"quantity" binding:"gte=0"`
	Reason   string `json:"reason"`
}

type StockRequest struct {
	Name     string `json:"name" binding:"required"`
	Quantity int    `json:"quantity" binding:"gte=0"`
}

type ReserveStockRequest struct {
	Prescriptions []StockRequest `json:"prescriptions" binding:"required,dive"`
}

// ExpiringBatch is one line of the expiry report.
type ExpiringBatch struct {
	ItemID      string    `json:"itemID"`
	ItemName    string    `json:"itemName"`
	BatchNumber string    `json:"batchNumber"`
	Quantity    int       `json:"quantity"`
	ExpiryDate  time.Time `json:"expiryDate"`
}
