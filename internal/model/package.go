package model

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Package is a catalog entry bundling several services at one price.
type Package struct {
	Base
	Name       string          `db:"name" json:"name"`
	TotalPrice decimal.Decimal `db:"total_price" json:"totalPrice"`
	Items      StringList      `db:"items" json:"items"`
}

type PackageStatus string

const (
	PackageStatusActive    PackageStatus = "active"
	PackageStatusCompleted PackageStatus = "completed"
	PackageStatusCancelled PackageStatus = "cancelled"
)

// PatientPackage assigns a package to a patient. An active assignment is
// one outstanding charge.
type PatientPackage struct {
	Base
	PatientID  uuid.UUID     `db:"patient_id" json:"patientID"`
	PackageID  uuid.UUID     `db:"package_id" json:"packageID"`
	Status     PackageStatus `db:"status" json:"status"`
	AssignedAt time.Time     `db:"assigned_at" json:"assignedAt"`
}

type StringList []string

func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		s = StringList{}
	}
	return jsonValue(s)
}

func (s *StringList) Scan(src interface{}) error {
	return scanJSON(src, s)
}
