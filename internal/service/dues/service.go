package dues

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/jwalitptl/billing-api/internal/model"
	"github.com/jwalitptl/billing-api/internal/repository"
	"github.com/jwalitptl/billing-api/internal/service/fee"
	"github.com/jwalitptl/billing-api/pkg/errors"
	"github.com/jwalitptl/billing-api/pkg/metrics"
	"github.com/jwalitptl/billing-api/pkg/multiset"
)

// Service derives a patient's unpaid charges from clinical activity and
// package assignments, net of what earlier invoices already cover.
type Service struct {
	visits    repository.VisitRepository
	invoices  repository.InvoiceRepository
	packages  repository.PackageRepository
	inventory repository.InventoryRepository
	fees      *fee.Directory
}

func NewService(
	visits repository.VisitRepository,
	invoices repository.InvoiceRepository,
	packages repository.PackageRepository,
	inventory repository.InventoryRepository,
	fees *fee.Directory,
) *Service {
	return &Service{
		visits:    visits,
		invoices:  invoices,
		packages:  packages,
		inventory: inventory,
		fees:      fees,
	}
}

// paidItems indexes invoiced lines. Visit-tagged lines match only their own
// visit and are never consumed; untagged lines offset one charge each.
type paidItems struct {
	byVisit *multiset.Set[string]
	generic *multiset.Multiset[string]
}

func (p *paidItems) settles(item model.DueItem) bool {
	if item.VisitID != nil && p.byVisit.Contains(item.StrictKey()) {
		return true
	}
	return p.generic.Take(item.GenericKey())
}

// ResolveDues lists unpaid charges: visits first in storage order, each as
// consultation fees, medicines, then services; active packages last.
func (s *Service) ResolveDues(ctx context.Context, patientID uuid.UUID) ([]model.DueItem, error) {
	timer := prometheus.NewTimer(metrics.DuesResolution)
	defer timer.ObserveDuration()

	paid, err := s.loadPaid(ctx, patientID)
	if err != nil {
		return nil, err
	}

	due := []model.DueItem{}

	visits, err := s.visits.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list visits: %w", err)
	}
	for _, visit := range visits {
		if !visit.Billable() {
			continue
		}
		potential, err := s.visitCharges(ctx, visit)
		if err != nil {
			return nil, err
		}
		for _, item := range potential {
			if !paid.settles(item) {
				due = append(due, item)
			}
		}
	}

	assignments, err := s.packages.ListAssignmentsByPatient(ctx, patientID, model.PackageStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list package assignments: %w", err)
	}
	for _, assignment := range assignments {
		pkg, err := s.packages.GetPackage(ctx, assignment.PackageID)
		if err != nil {
			if errors.IsNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("failed to load package: %w", err)
		}
		id := assignment.ID
		item := model.DueItem{
			Description:         "Package: " + pkg.Name,
			Amount:              pkg.TotalPrice,
			PackageAssignmentID: &id,
			Kind:                model.ItemKindPackage,
		}
		if !paid.generic.Take(item.GenericKey()) {
			due = append(due, item)
		}
	}

	return due, nil
}

func (s *Service) loadPaid(ctx context.Context, patientID uuid.UUID) (*paidItems, error) {
	invoices, err := s.invoices.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}

	paid := &paidItems{
		byVisit: multiset.NewSet[string](),
		generic: multiset.New[string](),
	}
	for _, inv := range invoices {
		for _, item := range inv.Items {
			if item.VisitID != nil {
				paid.byVisit.Add(item.StrictKey())
			} else {
				paid.generic.Add(item.GenericKey())
			}
		}
	}
	return paid, nil
}

func (s *Service) visitCharges(ctx context.Context, visit *model.Visit) ([]model.DueItem, error) {
	visitID := visit.ID
	var fees, medicines, services []model.DueItem

	for _, c := range visit.Consultations {
		consult, ok, err := s.fees.ConsultationFee(ctx, c.DoctorID)
		if err != nil {
			return nil, err
		}
		if ok {
			name := consult.DoctorName
			if name == "" {
				name = c.DoctorName
			}
			fees = append(fees, model.DueItem{
				Description: "Consultation: " + name,
				Amount:      consult.Amount,
				VisitID:     &visitID,
				Kind:        model.ItemKindConsultation,
			})
		}

		for _, p := range c.Prescriptions {
			item, err := s.inventory.GetByName(ctx, p.MedicineName)
			if err != nil {
				if errors.IsNotFound(err) {
					log.Warn().
						Str("visit_id", visitID.String()).
						Str("medicine", p.MedicineName).
						Msg("prescribed medicine not in inventory, charge skipped")
					continue
				}
				return nil, fmt.Errorf("failed to load inventory item: %w", err)
			}
			qty := p.BillableQuantity()
			medicines = append(medicines, model.DueItem{
				Description:  model.MedicineDescription(p.MedicineName, qty),
				Amount:       item.UnitPrice.Mul(decimal.NewFromInt(int64(qty))),
				VisitID:      &visitID,
				Kind:         model.ItemKindMedicine,
				MedicineName: p.MedicineName,
				Quantity:     qty,
			})
		}

		for _, svc := range c.Services {
			services = append(services, model.DueItem{
				Description: svc.Name,
				Amount:      svc.Price,
				VisitID:     &visitID,
				Kind:        model.ItemKindService,
			})
		}
	}

	charges := make([]model.DueItem, 0, len(fees)+len(medicines)+len(services))
	charges = append(charges, fees...)
	charges = append(charges, medicines...)
	return append(charges, services...), nil
}

// HasVisitDues reports whether any due item is still tagged to visitID.
func HasVisitDues(items []model.DueItem, visitID uuid.UUID) bool {
	for _, item := range items {
		if item.VisitID != nil && *item.VisitID == visitID {
			return true
		}
	}
	return false
}
