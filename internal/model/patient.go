package model

import (
	"time"
)

// Patient is owned by reception; billing only reads it.
type Patient struct {
	Base
	Name        string     `db:"name" json:"name"`
	Phone       string     `db:"phone" json:"phone,omitempty"`
	Gender      string     `db:"gender" json:"gender,omitempty"`
	DateOfBirth *time.Time `db:"date_of_birth" json:"dateOfBirth,omitempty"`
}
