package sqlstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/billing-api/internal/model"
	"github.com/jwalitptl/billing-api/internal/repository"
	"github.com/jwalitptl/billing-api/pkg/errors"
)

func newTestLedger(t *testing.T) repository.Ledger {
	t.Helper()
	ctx := context.Background()

	db, err := Open(ctx, DriverSQLite, ":memory:", Options{})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, Migrate(ctx, db))
	// second run is a no-op
	require.NoError(t, Migrate(ctx, db))

	return NewLedger(db)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "", Options{})
	assert.Error(t, err)
}

func TestVisitRoundTrip(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)

	doctor := &model.Doctor{
		Base:            model.NewBase(),
		Name:            "Dr. X",
		ConsultationFee: decimal.NewNullDecimal(decimal.RequireFromString("500.50")),
	}
	require.NoError(t, ledger.Doctors.Create(ctx, doctor))

	noFee := &model.Doctor{Base: model.NewBase(), Name: "Dr. Y"}
	require.NoError(t, ledger.Doctors.Create(ctx, noFee))

	got, err := ledger.Doctors.Get(ctx, doctor.ID)
	require.NoError(t, err)
	fee, ok := got.Fee()
	require.True(t, ok)
	assert.True(t, fee.Equal(decimal.RequireFromString("500.50")))

	got, err = ledger.Doctors.Get(ctx, noFee.ID)
	require.NoError(t, err)
	_, ok = got.Fee()
	assert.False(t, ok)

	patientID := uuid.New()
	visit := &model.Visit{
		Base:      model.NewBase(),
		PatientID: patientID,
		VisitDate: time.Now().UTC(),
		Consultations: model.Consultations{{
			DoctorID:      doctor.ID,
			DoctorName:    doctor.Name,
			Prescriptions: []model.Prescription{{MedicineName: "Paracetamol", Quantity: 10}},
			Services:      []model.ServiceCharge{{Name: "Lab fee", Price: decimal.NewFromInt(200)}},
		}},
		PaymentStatus: model.PaymentStatusPending,
		Status:        model.VisitStatusInProgress,
	}
	require.NoError(t, ledger.Visits.Create(ctx, visit))

	visits, err := ledger.Visits.ListByPatient(ctx, patientID)
	require.NoError(t, err)
	require.Len(t, visits, 1)
	assert.Equal(t, "Paracetamol", visits[0].Consultations[0].Prescriptions[0].MedicineName)
	assert.True(t, visits[0].Consultations[0].Services[0].Price.Equal(decimal.NewFromInt(200)))

	visits[0].MarkPaid()
	require.NoError(t, ledger.Visits.Update(ctx, visits[0]))

	paid, err := ledger.Visits.Get(ctx, visit.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPaid, paid.PaymentStatus)
	assert.Equal(t, model.VisitStatusCompleted, paid.Status)

	_, err = ledger.Visits.Get(ctx, uuid.New())
	assert.True(t, errors.IsNotFound(err))

	missing := &model.Visit{Base: model.NewBase()}
	assert.True(t, errors.IsNotFound(ledger.Visits.Update(ctx, missing)))
}

func TestPackageAssignments(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)

	pkg := &model.Package{
		Base:       model.NewBase(),
		Name:       "Maternity",
		TotalPrice: decimal.NewFromInt(15000),
		Items:      model.StringList{"Scan", "Delivery"},
	}
	require.NoError(t, ledger.Packages.CreatePackage(ctx, pkg))

	patientID := uuid.New()
	assignment := &model.PatientPackage{
		Base:       model.NewBase(),
		PatientID:  patientID,
		PackageID:  pkg.ID,
		Status:     model.PackageStatusActive,
		AssignedAt: time.Now().UTC(),
	}
	require.NoError(t, ledger.Packages.CreateAssignment(ctx, assignment))

	active, err := ledger.Packages.ListAssignmentsByPatient(ctx, patientID, model.PackageStatusActive)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	require.NoError(t, ledger.Packages.UpdateAssignmentStatus(ctx, assignment.ID, model.PackageStatusCompleted))

	active, err = ledger.Packages.ListAssignmentsByPatient(ctx, patientID, model.PackageStatusActive)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := ledger.Packages.ListAssignmentsByPatient(ctx, patientID, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	stored, err := ledger.Packages.GetPackage(ctx, pkg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StringList{"Scan", "Delivery"}, stored.Items)

	err = ledger.Packages.UpdateAssignmentStatus(ctx, uuid.New(), model.PackageStatusCompleted)
	assert.True(t, errors.IsNotFound(err))
}

func TestInvoicesCountAndList(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)

	n, err := ledger.Invoices.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	patientID := uuid.New()
	visitID := uuid.New()
	inv := &model.Invoice{
		Base:          model.NewBase(),
		InvoiceNumber: "INV-2026-0001",
		PatientID:     patientID,
		PatientName:   "Asha",
		Items: model.InvoiceItems{
			{Description: "Consultation: Dr. X", Amount: decimal.NewFromInt(500), VisitID: &visitID, Kind: model.ItemKindConsultation},
			{Description: "Medicine: Paracetamol (x10)", Amount: decimal.RequireFromString("50.25"), Kind: model.ItemKindMedicine, MedicineName: "Paracetamol", Quantity: 10},
		},
		TotalAmount:      decimal.RequireFromString("550.25"),
		PaymentMode:      "split",
		PaymentBreakdown: model.PaymentBreakdown{"cash": decimal.NewFromInt(300)},
	}
	require.NoError(t, ledger.Invoices.Create(ctx, inv))

	dup := *inv
	dup.ID = uuid.New()
	assert.Error(t, ledger.Invoices.Create(ctx, &dup), "invoice numbers are unique")

	n, err = ledger.Invoices.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := ledger.Invoices.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, got.TotalAmount.Equal(decimal.RequireFromString("550.25")))
	require.Len(t, got.Items, 2)
	assert.Equal(t, visitID, *got.Items[0].VisitID)
	assert.Equal(t, 10, got.Items[1].Quantity)
	assert.True(t, got.PaymentBreakdown["cash"].Equal(decimal.NewFromInt(300)))

	list, err := ledger.Invoices.ListByPatient(ctx, patientID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestInventoryNameLookupIsCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)

	now := time.Now().UTC()
	item := &model.InventoryItem{
		Base:      model.NewBase(),
		Name:      "Paracetamol",
		UnitPrice: decimal.NewFromInt(5),
		Batches: model.Batches{{
			BatchNumber: "P-1",
			Quantity:    100,
			ExpiryDate:  now.AddDate(1, 0, 0),
			AddedDate:   now,
		}},
	}
	require.NoError(t, ledger.Inventory.Create(ctx, item))

	dup := &model.InventoryItem{Base: model.NewBase(), Name: " PARACETAMOL ", UnitPrice: decimal.NewFromInt(5)}
	err := ledger.Inventory.Create(ctx, dup)
	require.Error(t, err)
	assert.Equal(t, 409, errors.StatusOf(err))

	got, err := ledger.Inventory.GetByName(ctx, "paracetamol")
	require.NoError(t, err)
	assert.Equal(t, item.ID, got.ID)
	assert.Equal(t, 100, got.OnHand())

	got.Batches[0].Quantity = 90
	require.NoError(t, ledger.Inventory.Update(ctx, got))
	require.NoError(t, ledger.Movements.Create(ctx, model.NewMovement(got, model.MovementOut, -10, "Invoice #INV-2026-0001", "staff-1")))

	again, err := ledger.Inventory.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 90, again.OnHand())

	movements, err := ledger.Movements.ListByItem(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, -10, movements[0].Change)
	assert.Equal(t, 10, movements[0].Quantity)
	assert.Equal(t, "staff-1", movements[0].CreatedBy)

	_, err = ledger.Inventory.GetByName(ctx, "Ibuprofen")
	assert.True(t, errors.IsNotFound(err))
}

func TestOutboxDueEvents(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)

	first := &model.OutboxEvent{EventType: model.EventInvoiceCreated, Payload: json.RawMessage(`{"n":1}`)}
	second := &model.OutboxEvent{EventType: model.EventStockDeducted, Payload: json.RawMessage(`{"n":2}`)}
	require.NoError(t, ledger.Outbox.Create(ctx, first))
	require.NoError(t, ledger.Outbox.Create(ctx, second))

	due, err := ledger.Outbox.GetPendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.JSONEq(t, `{"n":1}`, string(due[0].Payload))

	later := time.Now().Add(time.Hour)
	msg := "broker down"
	require.NoError(t, ledger.Outbox.UpdateStatus(ctx, first.ID, model.OutboxStatusFailed, &msg, &later))
	require.NoError(t, ledger.Outbox.UpdateStatus(ctx, second.ID, model.OutboxStatusProcessed, nil, nil))

	due, err = ledger.Outbox.GetPendingEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	earlier := time.Now().Add(-time.Minute)
	require.NoError(t, ledger.Outbox.UpdateStatus(ctx, first.ID, model.OutboxStatusFailed, &msg, &earlier))

	due, err = ledger.Outbox.GetPendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, first.ID, due[0].ID)
	assert.Equal(t, 2, due[0].RetryCount)
	require.NotNil(t, due[0].ErrorMessage)
	assert.Equal(t, "broker down", *due[0].ErrorMessage)

	deleted, err := ledger.Outbox.DeleteProcessedBefore(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestAuditFilters(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)

	invoiceID := uuid.New()
	old := &model.AuditLog{
		ID: uuid.New(), UserID: "staff-1", Action: model.AuditActionCreate,
		EntityType: model.AuditEntityInvoice, EntityID: invoiceID,
		CreatedAt: time.Now().UTC().Add(-48 * time.Hour),
	}
	recent := &model.AuditLog{
		ID: uuid.New(), UserID: "staff-2", Action: model.AuditActionAdjust,
		EntityType: model.AuditEntityInventory, EntityID: uuid.New(),
		Changes:   json.RawMessage(`{"quantity":90}`),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, ledger.Audit.Create(ctx, old))
	require.NoError(t, ledger.Audit.Create(ctx, recent))

	logs, err := ledger.Audit.List(ctx, model.AuditFilter{EntityType: model.AuditEntityInvoice, EntityID: &invoiceID})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "staff-1", logs[0].UserID)
	assert.Empty(t, logs[0].Changes)

	logs, err = ledger.Audit.List(ctx, model.AuditFilter{Since: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.JSONEq(t, `{"quantity":90}`, string(logs[0].Changes))

	removed, err := ledger.Audit.Cleanup(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestMoneyColumnsKeepScale(t *testing.T) {
	stmts, err := statements(DriverPostgres)
	require.NoError(t, err)
	for _, stmt := range stmts {
		assert.NotContains(t, stmt, "NUMERIC(")
	}

	_, err = statements("mysql")
	assert.Error(t, err)

	ctx := context.Background()
	ledger := newTestLedger(t)
	item := &model.InventoryItem{
		Base:      model.NewBase(),
		Name:      "Vitamin D drops",
		UnitPrice: decimal.RequireFromString("0.125"),
	}
	require.NoError(t, ledger.Inventory.Create(ctx, item))

	got, err := ledger.Inventory.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "0.125", got.UnitPrice.String())
}
