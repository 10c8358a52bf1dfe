package stock

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/billing-api/internal/model"
	"github.com/jwalitptl/billing-api/pkg/errors"
)

// CreateItem stocks a new medicine. Initial batches are recorded as one IN
// movement.
func (s *Service) CreateItem(ctx context.Context, req *model.CreateInventoryItemRequest, staffID string) (*model.InventoryItem, error) {
	if err := validateCreateItem(req); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(lockKey(req.Name))
	defer unlock()

	now := s.now().UTC()
	item := &model.InventoryItem{
		Base:      model.NewBase(),
		Name:      strings.TrimSpace(req.Name),
		Category:  req.Category,
		UnitPrice: req.UnitPrice,
	}
	total := 0
	for _, b := range req.Batches {
		item.Batches = append(item.Batches, model.Batch{
			BatchNumber: b.BatchNumber,
			Quantity:    b.Quantity,
			ExpiryDate:  b.ExpiryDate,
			AddedDate:   now,
		})
		total += b.Quantity
	}

	if err := s.inventory.Create(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to create inventory item: %w", err)
	}
	if total > 0 {
		if err := s.movements.Create(ctx, model.NewMovement(item, model.MovementIn, total, ReasonInitialStock, staffID)); err != nil {
			return nil, fmt.Errorf("failed to record stock movement: %w", err)
		}
	}

	s.audit(ctx, staffID, model.AuditActionCreate, item.ID, item)
	return item, nil
}

// AddBatch receives a new lot for an existing item.
func (s *Service) AddBatch(ctx context.Context, itemID uuid.UUID, req *model.BatchRequest, staffID string) (*model.InventoryItem, error) {
	if err := validateBatch(req); err != nil {
		return nil, err
	}

	var result *model.InventoryItem
	err := s.withItem(ctx, itemID, func(item *model.InventoryItem) error {
		if item.FindBatch(req.BatchNumber) >= 0 {
			return errors.Conflict(fmt.Sprintf("batch %s already exists", req.BatchNumber), nil)
		}
		now := s.now().UTC()
		item.Batches = append(item.Batches, model.Batch{
			BatchNumber: req.BatchNumber,
			Quantity:    req.Quantity,
			ExpiryDate:  req.ExpiryDate,
			AddedDate:   now,
		})
		item.UpdatedAt = now

		if err := s.inventory.Update(ctx, item); err != nil {
			return fmt.Errorf("failed to update inventory item: %w", err)
		}
		reason := fmt.Sprintf("Batch %s received", req.BatchNumber)
		if err := s.movements.Create(ctx, model.NewMovement(item, model.MovementIn, req.Quantity, reason, staffID)); err != nil {
			return fmt.Errorf("failed to record stock movement: %w", err)
		}
		result = item
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, staffID, model.AuditActionUpdate, result.ID, req)
	return result, nil
}

// AdjustBatch sets a batch quantity by hand. The signed delta is recorded
// as an ADJUSTMENT movement; a batch set to zero is pruned.
func (s *Service) AdjustBatch(ctx context.Context, itemID uuid.UUID, batchNumber string, req *model.AdjustBatchRequest, staffID string) (*model.InventoryItem, error) {
	if req.Quantity < 0 {
		return nil, errors.BadRequest("quantity must not be negative", nil)
	}

	var (
		result *model.InventoryItem
		delta  int
	)
	err := s.withItem(ctx, itemID, func(item *model.InventoryItem) error {
		idx := item.FindBatch(batchNumber)
		if idx < 0 {
			return errors.NotFound("batch "+batchNumber, nil)
		}
		delta = req.Quantity - item.Batches[idx].Quantity
		if delta == 0 {
			result = item
			return nil
		}
		item.Batches[idx].Quantity = req.Quantity
		item.PruneEmpty()
		item.UpdatedAt = s.now().UTC()

		if err := s.inventory.Update(ctx, item); err != nil {
			return fmt.Errorf("failed to update inventory item: %w", err)
		}
		reason := ReasonManualEdit
		if req.Reason != "" {
			reason = ReasonManualEdit + ": " + req.Reason
		}
		if err := s.movements.Create(ctx, model.NewMovement(item, model.MovementAdjustment, delta, reason, staffID)); err != nil {
			return fmt.Errorf("failed to record stock movement: %w", err)
		}
		result = item
		return nil
	})
	if err != nil {
		return nil, err
	}

	if delta != 0 {
		s.audit(ctx, staffID, model.AuditActionAdjust, result.ID, map[string]interface{}{
			"batchNumber": batchNumber,
			"change":      delta,
			"reason":      req.Reason,
		})
	}
	return result, nil
}

// withItem runs fn on a fresh read of the item while holding its lock.
func (s *Service) withItem(ctx context.Context, itemID uuid.UUID, fn func(*model.InventoryItem) error) error {
	item, err := s.inventory.Get(ctx, itemID)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(lockKey(item.Name))
	defer unlock()

	item, err = s.inventory.Get(ctx, itemID)
	if err != nil {
		return err
	}
	return fn(item)
}

func (s *Service) GetItem(ctx context.Context, id uuid.UUID) (*model.InventoryItem, error) {
	item, err := s.inventory.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	sortBatchesByIntake(item.Batches)
	return item, nil
}

func (s *Service) ListItems(ctx context.Context) ([]*model.InventoryItem, error) {
	items, err := s.inventory.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list inventory: %w", err)
	}
	for _, item := range items {
		sortBatchesByIntake(item.Batches)
	}
	return items, nil
}

func (s *Service) ListMovements(ctx context.Context, itemID uuid.UUID) ([]*model.StockMovement, error) {
	if _, err := s.inventory.Get(ctx, itemID); err != nil {
		return nil, err
	}
	return s.movements.ListByItem(ctx, itemID)
}

// Expiring lists non-empty, not yet expired batches whose expiry falls
// within the given number of days, soonest first.
func (s *Service) Expiring(ctx context.Context, days int) ([]model.ExpiringBatch, error) {
	if days < 0 {
		return nil, errors.BadRequest("days must not be negative", nil)
	}
	items, err := s.inventory.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list inventory: %w", err)
	}

	now := s.now()
	horizon := now.Add(time.Duration(days) * 24 * time.Hour)
	report := []model.ExpiringBatch{}
	for _, item := range items {
		for _, b := range item.Batches {
			if !b.Usable(now) || b.ExpiryDate.After(horizon) {
				continue
			}
			report = append(report, model.ExpiringBatch{
				ItemID:      item.ID.String(),
				ItemName:    item.Name,
				BatchNumber: b.BatchNumber,
				Quantity:    b.Quantity,
				ExpiryDate:  b.ExpiryDate,
			})
		}
	}
	sort.SliceStable(report, func(i, j int) bool {
		return report[i].ExpiryDate.Before(report[j].ExpiryDate)
	})
	return report, nil
}

func validateCreateItem(req *model.CreateInventoryItemRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return errors.BadRequest("name is required", nil)
	}
	if req.UnitPrice.IsNegative() {
		return errors.BadRequest("unit price must not be negative", nil)
	}
	seen := make(map[string]bool, len(req.Batches))
	for i := range req.Batches {
		if err := validateBatch(&req.Batches[i]); err != nil {
			return err
		}
		if seen[req.Batches[i].BatchNumber] {
			return errors.BadRequest("duplicate batch number "+req.Batches[i].BatchNumber, nil)
		}
		seen[req.Batches[i].BatchNumber] = true
	}
	return nil
}

func validateBatch(req *model.BatchRequest) error {
	if strings.TrimSpace(req.BatchNumber) == "" {
		return errors.BadRequest("batch number is required", nil)
	}
	if req.Quantity < 0 {
		return errors.BadRequest("batch quantity must not be negative", nil)
	}
	if req.ExpiryDate.IsZero() {
		return errors.BadRequest("expiry date is required", nil)
	}
	return nil
}
