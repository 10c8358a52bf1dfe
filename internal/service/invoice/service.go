package invoice

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/billing-api/internal/email"
	"github.com/jwalitptl/billing-api/internal/model"
	"github.com/jwalitptl/billing-api/internal/repository"
	"github.com/jwalitptl/billing-api/internal/service/audit"
	"github.com/jwalitptl/billing-api/internal/service/dues"
	"github.com/jwalitptl/billing-api/internal/service/event"
	"github.com/jwalitptl/billing-api/internal/service/stock"
	"github.com/jwalitptl/billing-api/pkg/errors"
	"github.com/jwalitptl/billing-api/pkg/keylock"
	"github.com/jwalitptl/billing-api/pkg/metrics"
)

const sequenceLock = "invoice:sequence"

type Status string

const (
	StatusInvoiced                 Status = "invoiced"
	StatusInvoicedWithStockWarning Status = "invoiced_with_stock_warning"
)

// Outcome is the result of a persisted invoice. StockWarnings lists the
// medicine lines whose stock could not be deducted; the invoice stands
// regardless.
type Outcome struct {
	Invoice       *model.Invoice       `json:"invoice"`
	StockWarnings []model.StockWarning `json:"stockWarnings,omitempty"`
}

func (o *Outcome) Status() Status {
	if len(o.StockWarnings) > 0 {
		return StatusInvoicedWithStockWarning
	}
	return StatusInvoiced
}

type Service struct {
	invoices repository.InvoiceRepository
	visits   repository.VisitRepository
	packages repository.PackageRepository
	dues     *dues.Service
	stock    *stock.Service
	events   *event.Service
	auditor  *audit.Service
	alerts   email.Service
	locks    *keylock.KeyLock
	now      func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithAlerts(alerts email.Service) Option {
	return func(s *Service) { s.alerts = alerts }
}

func NewService(
	invoices repository.InvoiceRepository,
	visits repository.VisitRepository,
	packages repository.PackageRepository,
	duesSvc *dues.Service,
	stockSvc *stock.Service,
	events *event.Service,
	auditor *audit.Service,
	locks *keylock.KeyLock,
	opts ...Option,
) *Service {
	s := &Service{
		invoices: invoices,
		visits:   visits,
		packages: packages,
		dues:     duesSvc,
		stock:    stockSvc,
		events:   events,
		auditor:  auditor,
		alerts:   email.NewNoopService(),
		locks:    locks,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateInvoice persists the invoice, deducts stock for its medicine lines
// and settles the visits and packages it pays for.
func (s *Service) CreateInvoice(ctx context.Context, req *model.CreateInvoiceRequest, staffID string) (*Outcome, error) {
	patientID, err := validateCreateInvoice(req)
	if err != nil {
		return nil, err
	}

	items := make(model.InvoiceItems, len(req.Items))
	for i, item := range req.Items {
		line := item.Line()
		line.Description = strings.TrimSpace(line.Description)
		items[i] = line.Normalized()
	}

	inv := &model.Invoice{
		Base:             model.NewBase(),
		PatientID:        patientID,
		PatientName:      strings.TrimSpace(req.PatientName),
		Items:            items,
		TotalAmount:      model.SumAmounts(items),
		PaymentMode:      req.PaymentMode,
		PaymentBreakdown: req.PaymentBreakdown,
		CreatedBy:        staffID,
	}
	if err := s.persist(ctx, inv); err != nil {
		return nil, err
	}

	outcome := &Outcome{Invoice: inv}
	outcome.StockWarnings = s.deductStock(ctx, inv)

	if err := s.settleVisits(ctx, inv, staffID); err != nil {
		return outcome, err
	}
	if err := s.completePackages(ctx, inv, staffID); err != nil {
		return outcome, err
	}

	s.record(ctx, outcome, staffID)
	return outcome, nil
}

// persist numbers and stores the invoice under the sequence lock so that
// two concurrent invoices never read the same count.
func (s *Service) persist(ctx context.Context, inv *model.Invoice) error {
	unlock := s.locks.Lock(sequenceLock)
	defer unlock()

	count, err := s.invoices.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count invoices: %w", err)
	}
	inv.InvoiceNumber = FormatNumber(s.now().Year(), count+1)

	if err := s.invoices.Create(ctx, inv); err != nil {
		return fmt.Errorf("failed to create invoice: %w", err)
	}
	return nil
}

// FormatNumber renders INV-<year>-<seq>, seq zero-padded to four digits.
func FormatNumber(year, seq int) string {
	return fmt.Sprintf("INV-%d-%04d", year, seq)
}

func (s *Service) deductStock(ctx context.Context, inv *model.Invoice) []model.StockWarning {
	var warnings []model.StockWarning
	reason := stock.InvoiceReason(inv.InvoiceNumber)

	for _, item := range inv.Items {
		name, qty, ok := item.Medicine()
		if !ok {
			continue
		}
		if _, err := s.stock.Allocate(ctx, name, qty, reason, stock.RequireTracked, inv.CreatedBy); err != nil {
			w := model.StockWarning{Medicine: name, Required: qty, Message: err.Error()}
			var stockErr *errors.InsufficientStockError
			if stderrors.As(err, &stockErr) {
				w.Available = stockErr.Available
			}
			log.Warn().
				Err(err).
				Str("invoice_number", inv.InvoiceNumber).
				Str("medicine", name).
				Int("quantity", qty).
				Msg("invoice saved without stock deduction")
			warnings = append(warnings, w)
		}
	}
	return warnings
}

// settleVisits marks a referenced visit paid once no due item is tagged to
// it any more.
func (s *Service) settleVisits(ctx context.Context, inv *model.Invoice, staffID string) error {
	remaining := make(map[uuid.UUID][]model.DueItem)

	for _, visitID := range distinctVisits(inv.Items) {
		visit, err := s.visits.Get(ctx, visitID)
		if err != nil {
			if errors.IsNotFound(err) {
				log.Warn().Str("visit_id", visitID.String()).Msg("invoice references unknown visit")
				continue
			}
			return fmt.Errorf("failed to load visit: %w", err)
		}
		if visit.PaymentStatus == model.PaymentStatusPaid {
			continue
		}

		due, ok := remaining[visit.PatientID]
		if !ok {
			if due, err = s.dues.ResolveDues(ctx, visit.PatientID); err != nil {
				return fmt.Errorf("failed to resolve remaining dues: %w", err)
			}
			remaining[visit.PatientID] = due
		}
		if dues.HasVisitDues(due, visitID) {
			continue
		}

		visit.MarkPaid()
		if err := s.visits.Update(ctx, visit); err != nil {
			return fmt.Errorf("failed to update visit: %w", err)
		}
		s.audit(ctx, staffID, model.AuditActionUpdate, model.AuditEntityVisit, visit.ID, map[string]interface{}{
			"paymentStatus": visit.PaymentStatus,
			"status":        visit.Status,
			"invoiceNumber": inv.InvoiceNumber,
		})
	}
	return nil
}

func (s *Service) completePackages(ctx context.Context, inv *model.Invoice, staffID string) error {
	for _, id := range distinctPackages(inv.Items) {
		if err := s.packages.UpdateAssignmentStatus(ctx, id, model.PackageStatusCompleted); err != nil {
			if errors.IsNotFound(err) {
				log.Warn().Str("package_assignment_id", id.String()).Msg("invoice references unknown package assignment")
				continue
			}
			return fmt.Errorf("failed to complete package assignment: %w", err)
		}
		s.audit(ctx, staffID, model.AuditActionUpdate, model.AuditEntityPackage, id, map[string]interface{}{
			"status":        model.PackageStatusCompleted,
			"invoiceNumber": inv.InvoiceNumber,
		})
	}
	return nil
}

func (s *Service) record(ctx context.Context, outcome *Outcome, staffID string) {
	inv := outcome.Invoice
	status := outcome.Status()

	metrics.InvoicesCreated.WithLabelValues(string(status)).Inc()
	total, _ := inv.TotalAmount.Float64()
	metrics.InvoiceAmount.Observe(total)

	s.audit(ctx, staffID, model.AuditActionCreate, model.AuditEntityInvoice, inv.ID, map[string]interface{}{
		"invoiceNumber": inv.InvoiceNumber,
		"totalAmount":   inv.TotalAmount,
		"outcome":       status,
	})

	if err := s.events.Emit(ctx, model.EventInvoiceCreated, inv); err != nil {
		log.Error().Err(err).Str("invoice_number", inv.InvoiceNumber).Msg("failed to queue invoice event")
	}

	if len(outcome.StockWarnings) == 0 {
		return
	}
	metrics.StockWarnings.Add(float64(len(outcome.StockWarnings)))
	if err := s.events.Emit(ctx, model.EventStockWarning, outcome); err != nil {
		log.Error().Err(err).Str("invoice_number", inv.InvoiceNumber).Msg("failed to queue stock warning event")
	}
	if err := s.alerts.SendStockWarnings(ctx, inv.InvoiceNumber, outcome.StockWarnings); err != nil {
		log.Error().Err(err).Str("invoice_number", inv.InvoiceNumber).Msg("failed to alert staff about stock warnings")
	}
}

func (s *Service) audit(ctx context.Context, staffID, action, entityType string, id uuid.UUID, changes interface{}) {
	if err := s.auditor.Log(ctx, staffID, action, entityType, id, &audit.LogOptions{Changes: changes}); err != nil {
		log.Error().Err(err).Str("entity_type", entityType).Msg("failed to write audit log")
	}
}

func (s *Service) GetInvoice(ctx context.Context, id uuid.UUID) (*model.Invoice, error) {
	inv, err := s.invoices.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	inv.Normalize()
	return inv, nil
}

func (s *Service) ListInvoices(ctx context.Context, patientID uuid.UUID) ([]*model.Invoice, error) {
	invoices, err := s.invoices.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	for _, inv := range invoices {
		inv.Normalize()
	}
	return invoices, nil
}

func distinctVisits(items []model.InvoiceItem) []uuid.UUID {
	var out []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	for _, item := range items {
		if item.VisitID != nil && !seen[*item.VisitID] {
			seen[*item.VisitID] = true
			out = append(out, *item.VisitID)
		}
	}
	return out
}

func distinctPackages(items []model.InvoiceItem) []uuid.UUID {
	var out []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	for _, item := range items {
		if item.PackageAssignmentID != nil && !seen[*item.PackageAssignmentID] {
			seen[*item.PackageAssignmentID] = true
			out = append(out, *item.PackageAssignmentID)
		}
	}
	return out
}

func validateCreateInvoice(req *model.CreateInvoiceRequest) (uuid.UUID, error) {
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		return uuid.Nil, errors.BadRequest("invalid patient ID", err)
	}
	if strings.TrimSpace(req.PatientName) == "" {
		return uuid.Nil, errors.BadRequest("patient name is required", nil)
	}
	if strings.TrimSpace(req.PaymentMode) == "" {
		return uuid.Nil, errors.BadRequest("payment mode is required", nil)
	}
	if len(req.Items) == 0 {
		return uuid.Nil, errors.BadRequest("at least one item is required", nil)
	}
	for i, item := range req.Items {
		if strings.TrimSpace(item.Description) == "" {
			return uuid.Nil, errors.BadRequest(fmt.Sprintf("item %d: description is required", i+1), nil)
		}
		if !item.Amount.Valid {
			return uuid.Nil, errors.BadRequest(fmt.Sprintf("item %d: amount is required", i+1), nil)
		}
		if item.Amount.Decimal.IsNegative() {
			return uuid.Nil, errors.BadRequest(fmt.Sprintf("item %d: amount must not be negative", i+1), nil)
		}
		if item.Quantity < 0 {
			return uuid.Nil, errors.BadRequest(fmt.Sprintf("item %d: quantity must not be negative", i+1), nil)
		}
	}
	for mode, amount := range req.PaymentBreakdown {
		if amount.IsNegative() {
			return uuid.Nil, errors.BadRequest("payment breakdown for "+mode+" must not be negative", nil)
		}
	}
	return patientID, nil
}
