package stock

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/billing-api/internal/model"
	"github.com/jwalitptl/billing-api/internal/repository"
	"github.com/jwalitptl/billing-api/internal/service/audit"
	"github.com/jwalitptl/billing-api/internal/service/event"
	"github.com/jwalitptl/billing-api/pkg/errors"
	"github.com/jwalitptl/billing-api/pkg/keylock"
	"github.com/jwalitptl/billing-api/pkg/metrics"
)

// MissingPolicy decides what allocating an untracked medicine means.
type MissingPolicy int

const (
	// SkipUntracked treats an unknown medicine as a no-op.
	SkipUntracked MissingPolicy = iota
	// RequireTracked fails with NotFound for an unknown medicine.
	RequireTracked
)

const (
	ReasonDispense     = "Dispense"
	ReasonReservation  = "Stock reservation"
	ReasonInitialStock = "Initial stock"
	ReasonManualEdit   = "Manual edit"
)

// InvoiceReason names the invoice that triggered a deduction.
func InvoiceReason(invoiceNumber string) string {
	return "Invoice #" + invoiceNumber
}

// Deduction is the quantity taken from one batch.
type Deduction struct {
	BatchNumber string `json:"batchNumber"`
	Quantity    int    `json:"quantity"`
}

// Allocation describes a completed allocation. Tracked is false when the
// medicine is not stocked and SkipUntracked applied.
type Allocation struct {
	ItemID     uuid.UUID   `json:"itemID,omitempty"`
	Medicine   string      `json:"medicine"`
	Quantity   int         `json:"quantity"`
	Tracked    bool        `json:"tracked"`
	Deductions []Deduction `json:"deductions,omitempty"`
}

type Service struct {
	inventory repository.InventoryRepository
	movements repository.StockMovementRepository
	events    *event.Service
	auditor   *audit.Service
	locks     *keylock.KeyLock
	now       func() time.Time
}

type Option func(*Service)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(
	inventory repository.InventoryRepository,
	movements repository.StockMovementRepository,
	events *event.Service,
	auditor *audit.Service,
	locks *keylock.KeyLock,
	opts ...Option,
) *Service {
	s := &Service{
		inventory: inventory,
		movements: movements,
		events:    events,
		auditor:   auditor,
		locks:     locks,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func lockKey(name string) string {
	return "inventory:" + model.NameKey(name)
}

// Allocate deducts quantity of medicine FIFO by intake date across usable
// batches and records one OUT movement. It changes nothing when usable
// stock is short. The movement is attributed to staffID.
func (s *Service) Allocate(ctx context.Context, medicine string, quantity int, reason string, policy MissingPolicy, staffID string) (*Allocation, error) {
	if quantity < 0 {
		return nil, errors.BadRequest("quantity must not be negative", nil)
	}
	if quantity == 0 {
		return &Allocation{Medicine: medicine}, nil
	}

	unlock := s.locks.Lock(lockKey(medicine))
	defer unlock()

	item, err := s.lookup(ctx, medicine, policy)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return &Allocation{Medicine: medicine, Quantity: quantity}, nil
	}

	now := s.now()
	if available := item.Available(now); available < quantity {
		metrics.Allocations.WithLabelValues(metrics.AllocationInsufficient).Inc()
		return nil, &errors.InsufficientStockError{Medicine: medicine, Required: quantity, Available: available}
	}

	alloc, err := s.deduct(ctx, item, quantity, reason, staffID, now)
	if err != nil {
		return nil, err
	}
	alloc.Medicine = medicine

	s.emit(ctx, model.EventStockDeducted, alloc, reason)
	return alloc, nil
}

// lookup resolves the item, applying policy when it is missing. A nil item
// with a nil error means the medicine is untracked and skipped.
func (s *Service) lookup(ctx context.Context, medicine string, policy MissingPolicy) (*model.InventoryItem, error) {
	item, err := s.inventory.GetByName(ctx, medicine)
	if err == nil {
		return item, nil
	}
	if !errors.IsNotFound(err) {
		return nil, fmt.Errorf("failed to load inventory item: %w", err)
	}
	metrics.Allocations.WithLabelValues(metrics.AllocationUntracked).Inc()
	if policy == RequireTracked {
		return nil, errors.NotFound("inventory item "+medicine, err)
	}
	log.Debug().Str("medicine", medicine).Msg("allocation skipped for untracked medicine")
	return nil, nil
}

// deduct walks usable batches oldest-added first. The caller holds the item
// lock and has checked availability.
func (s *Service) deduct(ctx context.Context, item *model.InventoryItem, quantity int, reason, staffID string, now time.Time) (*Allocation, error) {
	alloc := &Allocation{ItemID: item.ID, Quantity: quantity, Tracked: true}

	remaining := quantity
	for _, idx := range item.AvailableBatches(now) {
		if remaining == 0 {
			break
		}
		batch := &item.Batches[idx]
		take := min(batch.Quantity, remaining)
		batch.Quantity -= take
		remaining -= take
		alloc.Deductions = append(alloc.Deductions, Deduction{BatchNumber: batch.BatchNumber, Quantity: take})
	}
	item.PruneEmpty()
	item.UpdatedAt = now.UTC()

	if err := s.inventory.Update(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to update inventory item: %w", err)
	}
	if err := s.movements.Create(ctx, model.NewMovement(item, model.MovementOut, -quantity, reason, staffID)); err != nil {
		return nil, fmt.Errorf("failed to record stock movement: %w", err)
	}

	metrics.Allocations.WithLabelValues(metrics.AllocationOK).Inc()
	metrics.UnitsDeducted.Add(float64(quantity))
	return alloc, nil
}

// Dispense hands out a prescription without an invoice. Untracked
// medicines are skipped.
func (s *Service) Dispense(ctx context.Context, req model.StockRequest, staffID string) (*Allocation, error) {
	if err := validateStockRequest(req); err != nil {
		return nil, err
	}
	alloc, err := s.Allocate(ctx, req.Name, req.Quantity, ReasonDispense, SkipUntracked, staffID)
	if err != nil {
		return nil, err
	}
	if alloc.Tracked {
		s.audit(ctx, staffID, model.AuditActionDispense, alloc.ItemID, alloc)
	}
	return alloc, nil
}

// Reserve allocates every prescription or none of them. All involved items
// stay locked from the availability check through the last deduction.
func (s *Service) Reserve(ctx context.Context, reqs []model.StockRequest, staffID string) ([]*Allocation, error) {
	if len(reqs) == 0 {
		return nil, errors.BadRequest("at least one prescription is required", nil)
	}

	type demand struct {
		name     string
		quantity int
		item     *model.InventoryItem
	}
	var (
		order   []string
		demands = make(map[string]*demand)
		keys    []string
	)
	for _, req := range reqs {
		if err := validateStockRequest(req); err != nil {
			return nil, err
		}
		key := model.NameKey(req.Name)
		d, ok := demands[key]
		if !ok {
			d = &demand{name: req.Name}
			demands[key] = d
			order = append(order, key)
			keys = append(keys, lockKey(req.Name))
		}
		d.quantity += req.Quantity
	}

	unlock := s.locks.LockAll(keys...)
	defer unlock()

	now := s.now()
	for _, key := range order {
		d := demands[key]
		if d.quantity == 0 {
			continue
		}
		item, err := s.lookup(ctx, d.name, SkipUntracked)
		if err != nil {
			return nil, err
		}
		if item == nil {
			continue
		}
		if available := item.Available(now); available < d.quantity {
			metrics.Allocations.WithLabelValues(metrics.AllocationInsufficient).Inc()
			return nil, &errors.InsufficientStockError{Medicine: d.name, Required: d.quantity, Available: available}
		}
		d.item = item
	}

	allocs := make([]*Allocation, 0, len(order))
	for _, key := range order {
		d := demands[key]
		if d.item == nil {
			allocs = append(allocs, &Allocation{Medicine: d.name, Quantity: d.quantity})
			continue
		}
		alloc, err := s.deduct(ctx, d.item, d.quantity, ReasonReservation, staffID, now)
		if err != nil {
			return nil, err
		}
		alloc.Medicine = d.name
		allocs = append(allocs, alloc)
		s.audit(ctx, staffID, model.AuditActionReserve, alloc.ItemID, alloc)
	}

	s.emit(ctx, model.EventStockReserved, allocs, ReasonReservation)
	return allocs, nil
}

func validateStockRequest(req model.StockRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return errors.BadRequest("medicine name is required", nil)
	}
	if req.Quantity < 0 {
		return errors.BadRequest("quantity must not be negative", nil)
	}
	return nil
}

func (s *Service) emit(ctx context.Context, eventType string, payload interface{}, reason string) {
	if s.events == nil {
		return
	}
	if err := s.events.Emit(ctx, eventType, map[string]interface{}{
		"reason":     reason,
		"allocation": payload,
	}); err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("failed to queue stock event")
	}
}

func (s *Service) audit(ctx context.Context, staffID, action string, itemID uuid.UUID, details interface{}) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Log(ctx, staffID, action, model.AuditEntityInventory, itemID, &audit.LogOptions{Changes: details}); err != nil {
		log.Error().Err(err).Str("action", action).Msg("failed to write audit log")
	}
}

// sortBatchesByIntake orders batches oldest-added first, for display.
func sortBatchesByIntake(batches model.Batches) {
	sort.SliceStable(batches, func(i, j int) bool {
		return batches[i].AddedDate.Before(batches[j].AddedDate)
	})
}
