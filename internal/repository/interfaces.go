package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/billing-api/internal/model"
)

// All repository interfaces in one file. Get-style lookups return a
// pkg/errors NotFound error when the key is unknown.
type (
	PatientRepository interface {
		Create(ctx context.Context, patient *model.Patient) error
		Get(ctx context.Context, id uuid.UUID) (*model.Patient, error)
	}

	DoctorRepository interface {
		Create(ctx context.Context, doctor *model.Doctor) error
		Get(ctx context.Context, id uuid.UUID) (*model.Doctor, error)
		List(ctx context.Context) ([]*model.Doctor, error)
	}

	// VisitRepository lists visits in storage order.
	VisitRepository interface {
		Create(ctx context.Context, visit *model.Visit) error
		Get(ctx context.Context, id uuid.UUID) (*model.Visit, error)
		Update(ctx context.Context, visit *model.Visit) error
		ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*model.Visit, error)
	}

	PackageRepository interface {
		CreatePackage(ctx context.Context, pkg *model.Package) error
		GetPackage(ctx context.Context, id uuid.UUID) (*model.Package, error)
		CreateAssignment(ctx context.Context, assignment *model.PatientPackage) error
		GetAssignment(ctx context.Context, id uuid.UUID) (*model.PatientPackage, error)
		ListAssignmentsByPatient(ctx context.Context, patientID uuid.UUID, status model.PackageStatus) ([]*model.PatientPackage, error)
		UpdateAssignmentStatus(ctx context.Context, id uuid.UUID, status model.PackageStatus) error
	}

	InvoiceRepository interface {
		Create(ctx context.Context, invoice *model.Invoice) error
		Get(ctx context.Context, id uuid.UUID) (*model.Invoice, error)
		ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*model.Invoice, error)
		Count(ctx context.Context) (int, error)
	}

	InventoryRepository interface {
		Create(ctx context.Context, item *model.InventoryItem) error
		Get(ctx context.Context, id uuid.UUID) (*model.InventoryItem, error)
		GetByName(ctx context.Context, name string) (*model.InventoryItem, error)
		List(ctx context.Context) ([]*model.InventoryItem, error)
		Update(ctx context.Context, item *model.InventoryItem) error
	}

	StockMovementRepository interface {
		Create(ctx context.Context, movement *model.StockMovement) error
		ListByItem(ctx context.Context, itemID uuid.UUID) ([]*model.StockMovement, error)
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}

	AuditRepository interface {
		Create(ctx context.Context, log *model.AuditLog) error
		List(ctx context.Context, filter model.AuditFilter) ([]*model.AuditLog, error)
		Cleanup(ctx context.Context, before time.Time) (int64, error)
	}
)

// Ledger bundles the collections of one backing store.
type Ledger struct {
	Patients  PatientRepository
	Doctors   DoctorRepository
	Visits    VisitRepository
	Packages  PackageRepository
	Invoices  InvoiceRepository
	Inventory InventoryRepository
	Movements StockMovementRepository
	Outbox    OutboxRepository
	Audit     AuditRepository
}
