package model

import (
	"github.com/shopspring/decimal"
)

// Doctor is the slice of a staff user that billing needs.
type Doctor struct {
	Base
	Name            string              `db:"name" json:"name"`
	Department      string              `db:"department" json:"department,omitempty"`
	ConsultationFee decimal.NullDecimal `db:"consultation_fee" json:"consultationFee"`
}

// Fee returns the configured consultation fee, if any.
func (d *Doctor) Fee() (decimal.Decimal, bool) {
	if d == nil || !d.ConsultationFee.Valid {
		return decimal.Zero, false
	}
	return d.ConsultationFee.Decimal, true
}
