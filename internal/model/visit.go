package model

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
)

type VisitStatus string

const (
	VisitStatusScheduled  VisitStatus = "Scheduled"
	VisitStatusInProgress VisitStatus = "InProgress"
	VisitStatusCompleted  VisitStatus = "Completed"
	VisitStatusCancelled  VisitStatus = "Cancelled"
)

// Visit is one clinical encounter. Its dues are derived entirely from its
// consultations.
type Visit struct {
	Base
	PatientID     uuid.UUID     `db:"patient_id" json:"patientID"`
	VisitDate     time.Time     `db:"visit_date" json:"visitDate"`
	Consultations Consultations `db:"consultations" json:"consultations"`
	PaymentStatus PaymentStatus `db:"payment_status" json:"paymentStatus"`
	Status        VisitStatus   `db:"status" json:"status"`
}

// Billable reports whether the visit can still contribute dues.
func (v *Visit) Billable() bool {
	return v.Status != VisitStatusCancelled && v.PaymentStatus != PaymentStatusPaid
}

// MarkPaid moves the visit to paid and completed. There is no way back.
func (v *Visit) MarkPaid() {
	v.PaymentStatus = PaymentStatusPaid
	v.Status = VisitStatusCompleted
	v.UpdatedAt = time.Now().UTC()
}

func (v Visit) Clone() Visit {
	out := v
	out.Consultations = make(Consultations, len(v.Consultations))
	for i, c := range v.Consultations {
		c.Prescriptions = append([]Prescription(nil), c.Prescriptions...)
		c.Services = append([]ServiceCharge(nil), c.Services...)
		out.Consultations[i] = c
	}
	return out
}

// Consultation is one doctor's part of a visit.
type Consultation struct {
	DoctorID      uuid.UUID       `json:"doctorID"`
	DoctorName    string          `json:"doctorName"`
	Prescriptions []Prescription  `json:"prescriptions"`
	Services      []ServiceCharge `json:"services"`
}

type Prescription struct {
	MedicineName string `json:"medicineName"`
	Dosage       string `json:"dosage,omitempty"`
	Instruction  string `json:"instruction,omitempty"`
	Quantity     int    `json:"quantity,omitempty"`
}

// BillableQuantity defaults an unspecified quantity to one unit.
func (p Prescription) BillableQuantity() int {
	if p.Quantity <= 0 {
		return 1
	}
	return p.Quantity
}

type ServiceCharge struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

type Consultations []Consultation

func (c Consultations) Value() (driver.Value, error) {
	if c == nil {
		c = Consultations{}
	}
	return jsonValue(c)
}

func (c *Consultations) Scan(src interface{}) error {
	return scanJSON(src, c)
}
