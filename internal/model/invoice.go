package model

import (
	"database/sql/driver"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ItemKind string

const (
	ItemKindConsultation ItemKind = "consultation"
	ItemKindMedicine     ItemKind = "medicine"
	ItemKindService      ItemKind = "service"
	ItemKindPackage      ItemKind = "package"
	ItemKindOther        ItemKind = "other"
)

// Invoice is append-only: it is never updated after creation.
type Invoice struct {
	Base
	InvoiceNumber    string           `db:"invoice_number" json:"invoiceNumber"`
	PatientID        uuid.UUID        `db:"patient_id" json:"patientID"`
	PatientName      string           `db:"patient_name" json:"patientName"`
	Items            InvoiceItems     `db:"items" json:"items"`
	TotalAmount      decimal.Decimal  `db:"total_amount" json:"totalAmount"`
	PaymentMode      string           `db:"payment_mode" json:"paymentMode"`
	PaymentBreakdown PaymentBreakdown `db:"payment_breakdown" json:"paymentBreakdown,omitempty"`
	CreatedBy        string           `db:"created_by" json:"createdBy,omitempty"`
}

// InvoiceItem is one priced line. Medicine lines carry their allocation
// input in Kind/MedicineName/Quantity; the description keeps the
// "Medicine: <name> (x<qty>)" text for older readers.
type InvoiceItem struct {
	Description         string          `json:"description" binding:"required"`
	Amount              decimal.Decimal `json:"amount"`
	VisitID             *uuid.UUID      `json:"visitID,omitempty"`
	PackageAssignmentID *uuid.UUID      `json:"packageAssignmentID,omitempty"`
	Kind                ItemKind        `json:"kind,omitempty"`
	MedicineName        string          `json:"medicineName,omitempty"`
	Quantity            int             `json:"quantity,omitempty"`
}

// DueItem is a charge that has not been invoiced yet. It has the shape of
// an invoice line so callers can post it back unchanged.
type DueItem = InvoiceItem

var medicineDescription = regexp.MustCompile(`^Medicine:\s*(.+?)\s*\(x(\d+)\)\s*$`)

// MedicineDescription renders the legacy text for a medicine line.
func MedicineDescription(name string, qty int) string {
	return fmt.Sprintf("Medicine: %s (x%d)", name, qty)
}

// ParseMedicineDescription recovers name and quantity from legacy text.
func ParseMedicineDescription(desc string) (string, int, bool) {
	m := medicineDescription.FindStringSubmatch(desc)
	if m == nil {
		return "", 0, false
	}
	qty, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return m[1], qty, true
}

// Medicine returns the allocation input of a medicine line. Structured
// fields win; lines stored before they existed fall back to the text.
func (i InvoiceItem) Medicine() (string, int, bool) {
	switch i.Kind {
	case "", ItemKindMedicine:
	default:
		return "", 0, false
	}
	if i.MedicineName != "" && i.Quantity > 0 {
		return i.MedicineName, i.Quantity, true
	}
	return ParseMedicineDescription(i.Description)
}

// Normalized fills in structured medicine fields for legacy lines.
func (i InvoiceItem) Normalized() InvoiceItem {
	if name, qty, ok := i.Medicine(); ok {
		i.Kind = ItemKindMedicine
		i.MedicineName = name
		i.Quantity = qty
	}
	return i
}

// StrictKey identifies a visit-scoped charge.
func (i InvoiceItem) StrictKey() string {
	if i.VisitID == nil {
		return ""
	}
	return i.VisitID.String() + "|" + i.GenericKey()
}

// GenericKey identifies a fungible charge. Amounts compare numerically:
// 50, 50.0 and 50.00 share a key.
func (i InvoiceItem) GenericKey() string {
	return strings.TrimSpace(i.Description) + "|" + i.Amount.String()
}

func (inv Invoice) Clone() Invoice {
	out := inv
	out.Items = append(InvoiceItems(nil), inv.Items...)
	if inv.PaymentBreakdown != nil {
		out.PaymentBreakdown = make(PaymentBreakdown, len(inv.PaymentBreakdown))
		for k, v := range inv.PaymentBreakdown {
			out.PaymentBreakdown[k] = v
		}
	}
	return out
}

// Normalize rewrites legacy lines in place after a read.
func (inv *Invoice) Normalize() {
	for idx := range inv.Items {
		inv.Items[idx] = inv.Items[idx].Normalized()
	}
}

// SumAmounts totals line amounts.
func SumAmounts(items []InvoiceItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Amount)
	}
	return total
}

type InvoiceItems []InvoiceItem

func (it InvoiceItems) Value() (driver.Value, error) {
	if it == nil {
		it = InvoiceItems{}
	}
	return jsonValue(it)
}

func (it *InvoiceItems) Scan(src interface{}) error {
	return scanJSON(src, it)
}

// PaymentBreakdown splits a payment across modes, e.g. cash and card.
type PaymentBreakdown map[string]decimal.Decimal

func (p PaymentBreakdown) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	return jsonValue(p)
}

func (p *PaymentBreakdown) Scan(src interface{}) error {
	return scanJSON(src, p)
}

// StockWarning records a medicine line whose stock could not be deducted
// after the invoice was persisted.
type StockWarning struct {
	Medicine  string `json:"medicine"`
	Required  int    `json:"required"`
	Available int    `json:"available"`
	Message   string `json:"message"`
}

type CreateInvoiceRequest struct {
	PatientID        string              `json:"patientID" binding:"required,uuid"`
	PatientName      string              `json:"patientName" binding:"required"`
	Items            []CreateInvoiceItem `json:"items" binding:"required,min=1,dive"`
	PaymentMode      string              `json:"paymentMode" binding:"required"`
	PaymentBreakdown PaymentBreakdown    `json:"paymentBreakdown"`
}

// CreateInvoiceItem is a requested line. Amount is nullable here so that a
// line posted without one is rejected instead of billed at zero.
type CreateInvoiceItem struct {
	InvoiceItem
	Amount decimal.NullDecimal `json:"amount"`
}

// NewCreateInvoiceItem wraps an existing line, e.g. a due item posted back.
func NewCreateInvoiceItem(item InvoiceItem) CreateInvoiceItem {
	return CreateInvoiceItem{InvoiceItem: item, Amount: decimal.NewNullDecimal(item.Amount)}
}

// Line returns the invoice line with the requested amount applied.
func (c CreateInvoiceItem) Line() InvoiceItem {
	line := c.InvoiceItem
	line.Amount = c.Amount.Decimal
	return line
}
