package dues

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/billing-api/internal/model"
	"github.com/jwalitptl/billing-api/internal/repository"
	"github.com/jwalitptl/billing-api/internal/repository/memory"
	"github.com/jwalitptl/billing-api/internal/service/fee"
)

type fixture struct {
	ctx     context.Context
	ledger  repository.Ledger
	svc     *Service
	patient uuid.UUID
	drX     *model.Doctor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	ledger := memory.NewStore().Ledger()

	drX := &model.Doctor{Base: model.NewBase(), Name: "Dr. X", ConsultationFee: decimal.NewNullDecimal(decimal.NewFromInt(500))}
	require.NoError(t, ledger.Doctors.Create(ctx, drX))

	require.NoError(t, ledger.Inventory.Create(ctx, &model.InventoryItem{
		Base:      model.NewBase(),
		Name:      "Paracetamol",
		UnitPrice: decimal.NewFromInt(5),
	}))

	return &fixture{
		ctx:     ctx,
		ledger:  ledger,
		svc:     NewService(ledger.Visits, ledger.Invoices, ledger.Packages, ledger.Inventory, fee.NewDirectory(ledger.Doctors, time.Minute)),
		patient: uuid.New(),
		drX:     drX,
	}
}

func (f *fixture) visit(t *testing.T, consultations ...model.Consultation) *model.Visit {
	t.Helper()
	v := &model.Visit{
		Base:          model.NewBase(),
		PatientID:     f.patient,
		Consultations: consultations,
		PaymentStatus: model.PaymentStatusPending,
		Status:        model.VisitStatusInProgress,
	}
	require.NoError(t, f.ledger.Visits.Create(f.ctx, v))
	return v
}

func (f *fixture) invoice(t *testing.T, items ...model.InvoiceItem) {
	t.Helper()
	require.NoError(t, f.ledger.Invoices.Create(f.ctx, &model.Invoice{
		Base:        model.NewBase(),
		PatientID:   f.patient,
		Items:       items,
		TotalAmount: model.SumAmounts(items),
	}))
}

func (f *fixture) consultWithParacetamol(qty int) model.Consultation {
	return model.Consultation{
		DoctorID:      f.drX.ID,
		DoctorName:    "Dr. X",
		Prescriptions: []model.Prescription{{MedicineName: "Paracetamol", Quantity: qty}},
	}
}

func labFee(visitID *uuid.UUID) model.InvoiceItem {
	return model.InvoiceItem{Description: "Lab fee", Amount: decimal.NewFromInt(200), VisitID: visitID}
}

func descriptions(items []model.DueItem) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.Description
	}
	return out
}

func TestResolveDuesConsultationAndMedicine(t *testing.T) {
	f := newFixture(t)
	v1 := f.visit(t, f.consultWithParacetamol(10))

	due, err := f.svc.ResolveDues(f.ctx, f.patient)
	require.NoError(t, err)
	require.Len(t, due, 2)

	assert.Equal(t, "Consultation: Dr. X", due[0].Description)
	assert.True(t, due[0].Amount.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, v1.ID, *due[0].VisitID)

	assert.Equal(t, "Medicine: Paracetamol (x10)", due[1].Description)
	assert.True(t, due[1].Amount.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, v1.ID, *due[1].VisitID)
	assert.Equal(t, model.ItemKindMedicine, due[1].Kind)
	assert.Equal(t, "Paracetamol", due[1].MedicineName)
	assert.Equal(t, 10, due[1].Quantity)
}

func TestResolveDuesOrdersFeesMedicinesServices(t *testing.T) {
	f := newFixture(t)
	f.visit(t, model.Consultation{
		DoctorID:      f.drX.ID,
		Services:      []model.ServiceCharge{{Name: "ECG", Price: decimal.NewFromInt(300)}},
		Prescriptions: []model.Prescription{{MedicineName: "paracetamol"}},
	})

	due, err := f.svc.ResolveDues(f.ctx, f.patient)
	require.NoError(t, err)
	assert.Equal(t, []string{"Consultation: Dr. X", "Medicine: paracetamol (x1)", "ECG"}, descriptions(due))
	assert.True(t, due[1].Amount.Equal(decimal.NewFromInt(5)), "quantity defaults to one")
}

func TestVisitTaggedPaymentNeverReappears(t *testing.T) {
	f := newFixture(t)
	v1 := f.visit(t, f.consultWithParacetamol(10))

	f.invoice(t,
		model.InvoiceItem{Description: "Consultation: Dr. X", Amount: decimal.RequireFromString("500.00"), VisitID: &v1.ID},
		model.InvoiceItem{Description: "Medicine: Paracetamol (x10)", Amount: decimal.RequireFromString("50.0"), VisitID: &v1.ID},
	)

	for i := 0; i < 2; i++ {
		due, err := f.svc.ResolveDues(f.ctx, f.patient)
		require.NoError(t, err)
		assert.Empty(t, due)
	}
}

func TestVisitTaggedPaymentDoesNotOffsetOtherVisit(t *testing.T) {
	f := newFixture(t)
	v1 := f.visit(t, model.Consultation{Services: []model.ServiceCharge{{Name: "Lab fee", Price: decimal.NewFromInt(200)}}})
	v2 := f.visit(t, model.Consultation{Services: []model.ServiceCharge{{Name: "Lab fee", Price: decimal.NewFromInt(200)}}})

	f.invoice(t, labFee(&v1.ID))

	due, err := f.svc.ResolveDues(f.ctx, f.patient)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, v2.ID, *due[0].VisitID)
}

func TestGenericPaymentSuppressesOncePerOccurrence(t *testing.T) {
	f := newFixture(t)
	lab := model.Consultation{Services: []model.ServiceCharge{{Name: "Lab fee", Price: decimal.NewFromInt(200)}}}
	f.visit(t, lab)
	f.visit(t, lab)
	v3 := f.visit(t, lab)

	f.invoice(t, labFee(nil))
	f.invoice(t, labFee(nil))

	due, err := f.svc.ResolveDues(f.ctx, f.patient)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, v3.ID, *due[0].VisitID)
}

func TestResolveDuesSkipsIneligibleVisitsAndMissingData(t *testing.T) {
	f := newFixture(t)
	noFee := &model.Doctor{Base: model.NewBase(), Name: "Dr. Y"}
	require.NoError(t, f.ledger.Doctors.Create(f.ctx, noFee))

	cancelled := f.visit(t, f.consultWithParacetamol(1))
	cancelled.Status = model.VisitStatusCancelled
	require.NoError(t, f.ledger.Visits.Update(f.ctx, cancelled))

	paid := f.visit(t, f.consultWithParacetamol(1))
	paid.MarkPaid()
	require.NoError(t, f.ledger.Visits.Update(f.ctx, paid))

	f.visit(t, model.Consultation{
		DoctorID:      noFee.ID,
		Prescriptions: []model.Prescription{{MedicineName: "Unlisted syrup", Quantity: 2}},
	}, model.Consultation{DoctorID: uuid.New()})

	due, err := f.svc.ResolveDues(f.ctx, f.patient)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestResolveDuesPackagesComeLast(t *testing.T) {
	f := newFixture(t)
	gold := &model.Package{Base: model.NewBase(), Name: "Gold checkup", TotalPrice: decimal.NewFromInt(2500)}
	require.NoError(t, f.ledger.Packages.CreatePackage(f.ctx, gold))

	active := &model.PatientPackage{Base: model.NewBase(), PatientID: f.patient, PackageID: gold.ID, Status: model.PackageStatusActive}
	done := &model.PatientPackage{Base: model.NewBase(), PatientID: f.patient, PackageID: gold.ID, Status: model.PackageStatusCompleted}
	require.NoError(t, f.ledger.Packages.CreateAssignment(f.ctx, active))
	require.NoError(t, f.ledger.Packages.CreateAssignment(f.ctx, done))

	f.visit(t, f.consultWithParacetamol(2))

	due, err := f.svc.ResolveDues(f.ctx, f.patient)
	require.NoError(t, err)
	require.Equal(t, []string{"Consultation: Dr. X", "Medicine: Paracetamol (x2)", "Package: Gold checkup"}, descriptions(due))
	assert.Equal(t, active.ID, *due[2].PackageAssignmentID)
	assert.Nil(t, due[2].VisitID)

	f.invoice(t, model.InvoiceItem{Description: "Package: Gold checkup", Amount: decimal.NewFromInt(2500)})
	due, err = f.svc.ResolveDues(f.ctx, f.patient)
	require.NoError(t, err)
	assert.Equal(t, []string{"Consultation: Dr. X", "Medicine: Paracetamol (x2)"}, descriptions(due))
}

func TestResolveDuesIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.visit(t, f.consultWithParacetamol(3))
	f.visit(t, model.Consultation{DoctorID: f.drX.ID})
	f.invoice(t, model.InvoiceItem{Description: "Consultation: Dr. X", Amount: decimal.NewFromInt(500)})

	first, err := f.svc.ResolveDues(f.ctx, f.patient)
	require.NoError(t, err)
	second, err := f.svc.ResolveDues(f.ctx, f.patient)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, first, 2)
}

type failingInvoices struct {
	repository.InvoiceRepository
}

func (failingInvoices) ListByPatient(context.Context, uuid.UUID) ([]*model.Invoice, error) {
	return nil, stderrors.New("connection reset")
}

func TestResolveDuesPropagatesStoreErrors(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.ledger.Visits, failingInvoices{}, f.ledger.Packages, f.ledger.Inventory, fee.NewDirectory(f.ledger.Doctors, time.Minute))

	_, err := svc.ResolveDues(f.ctx, f.patient)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list invoices")
}
