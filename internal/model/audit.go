package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type AuditLog struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	UserID     string          `json:"user_id" db:"user_id"`
	Action     string          `json:"action" db:"action"`
	EntityType string          `json:"entity_type" db:"entity_type"`
	EntityID   uuid.UUID       `json:"entity_id" db:"entity_id"`
	Changes    json.RawMessage `json:"changes,omitempty" db:"changes"`
	Metadata   json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	IPAddress  string          `json:"ip_address" db:"ip_address"`
	UserAgent  string          `json:"user_agent" db:"user_agent"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

const (
	// Action types
	AuditActionCreate   = "create"
	AuditActionUpdate   = "update"
	AuditActionAdjust   = "adjust"
	AuditActionDispense = "dispense"
	AuditActionReserve  = "reserve"
	AuditActionEmit     = "emit"

	// Entity types
	AuditEntityInvoice   = "invoice"
	AuditEntityInventory = "inventory_item"
	AuditEntityVisit     = "visit"
	AuditEntityPackage   = "patient_package"
	AuditEntityEvent     = "event"
)

type AuditFilter struct {
	EntityType string
	EntityID   *uuid.UUID
	UserID     string
	Since      time.Time
	Limit      int
}
