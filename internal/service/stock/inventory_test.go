package stock

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/billing-api/internal/model"
	"github.com/jwalitptl/billing-api/pkg/errors"
)

func TestCreateItemRecordsInitialStock(t *testing.T) {
	svc, ledger := newTestService(t)
	ctx := context.Background()

	item, err := svc.CreateItem(ctx, &model.CreateInventoryItemRequest{
		Name:      "Paracetamol",
		UnitPrice: decimal.NewFromInt(5),
		Batches: []model.BatchRequest{
			{BatchNumber: "P1", Quantity: 30, ExpiryDate: testNow.AddDate(1, 0, 0)},
			{BatchNumber: "P2", Quantity: 20, ExpiryDate: testNow.AddDate(1, 6, 0)},
		},
	}, "staff-1")
	require.NoError(t, err)
	assert.Equal(t, 50, item.OnHand())

	movements, err := svc.ListMovements(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, model.MovementIn, movements[0].Type)
	assert.Equal(t, 50, movements[0].Change)
	assert.Equal(t, "staff-1", movements[0].CreatedBy)

	_, err = svc.CreateItem(ctx, &model.CreateInventoryItemRequest{Name: "paracetamol"}, "")
	assert.Equal(t, 409, errors.StatusOf(err))

	logs, err := ledger.Audit.List(ctx, model.AuditFilter{EntityType: model.AuditEntityInventory})
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestCreateItemValidation(t *testing.T) {
	svc, _ := newTestService(t)
	expiry := testNow.AddDate(1, 0, 0)

	tests := []struct {
		name string
		req  model.CreateInventoryItemRequest
	}{
		{name: "missing name", req: model.CreateInventoryItemRequest{}},
		{name: "negative price", req: model.CreateInventoryItemRequest{Name: "X", UnitPrice: decimal.NewFromInt(-1)}},
		{name: "negative batch", req: model.CreateInventoryItemRequest{Name: "X", Batches: []model.BatchRequest{{BatchNumber: "1", Quantity: -1, ExpiryDate: expiry}}}},
		{name: "missing expiry", req: model.CreateInventoryItemRequest{Name: "X", Batches: []model.BatchRequest{{BatchNumber: "1", Quantity: 1}}}},
		{name: "duplicate batch", req: model.CreateInventoryItemRequest{Name: "X", Batches: []model.BatchRequest{
			{BatchNumber: "1", Quantity: 1, ExpiryDate: expiry},
			{BatchNumber: "1", Quantity: 2, ExpiryDate: expiry},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateItem(context.Background(), &tt.req, "")
			assert.Equal(t, 400, errors.StatusOf(err))
		})
	}
}

func TestAddAndAdjustBatch(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	item, err := svc.CreateItem(ctx, &model.CreateInventoryItemRequest{Name: "Ibuprofen", UnitPrice: decimal.NewFromInt(3)}, "")
	require.NoError(t, err)

	item, err = svc.AddBatch(ctx, item.ID, &model.BatchRequest{BatchNumber: "I1", Quantity: 12, ExpiryDate: testNow.AddDate(1, 0, 0)}, "")
	require.NoError(t, err)
	assert.Equal(t, 12, item.OnHand())

	_, err = svc.AddBatch(ctx, item.ID, &model.BatchRequest{BatchNumber: "I1", Quantity: 1, ExpiryDate: testNow.AddDate(1, 0, 0)}, "")
	assert.Equal(t, 409, errors.StatusOf(err))

	item, err = svc.AdjustBatch(ctx, item.ID, "I1", &model.AdjustBatchRequest{Quantity: 9, Reason: "damaged strip"}, "staff-2")
	require.NoError(t, err)
	assert.Equal(t, 9, item.OnHand())

	item, err = svc.AdjustBatch(ctx, item.ID, "I1", &model.AdjustBatchRequest{Quantity: 0}, "staff-2")
	require.NoError(t, err)
	assert.Empty(t, item.Batches)

	_, err = svc.AdjustBatch(ctx, item.ID, "I1", &model.AdjustBatchRequest{Quantity: 1}, "")
	assert.True(t, errors.IsNotFound(err))

	_, err = svc.AdjustBatch(ctx, uuid.New(), "I1", &model.AdjustBatchRequest{Quantity: 1}, "")
	assert.True(t, errors.IsNotFound(err))

	movements, err := svc.ListMovements(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, movements, 3)
	assert.Equal(t, model.MovementIn, movements[0].Type)
	assert.Equal(t, model.MovementAdjustment, movements[1].Type)
	assert.Equal(t, -3, movements[1].Change)
	assert.Equal(t, 3, movements[1].Quantity)
	assert.Equal(t, "Manual edit: damaged strip", movements[1].Reason)
	assert.Equal(t, "staff-2", movements[1].CreatedBy)
	assert.Equal(t, -9, movements[2].Change)
}

func TestExpiringReport(t *testing.T) {
	svc, ledger := newTestService(t)
	seedItem(t, ledger, "Amoxicillin",
		batch("SOON", 5, testNow.AddDate(0, -2, 0), testNow.AddDate(0, 0, 10)),
		batch("LATER", 5, testNow.AddDate(0, -2, 0), testNow.AddDate(0, 6, 0)),
		batch("GONE", 5, testNow.AddDate(0, -2, 0), testNow.AddDate(0, 0, -1)),
	)
	seedItem(t, ledger, "Paracetamol",
		batch("SOONEST", 2, testNow.AddDate(0, -2, 0), testNow.AddDate(0, 0, 3)),
		batch("EMPTY", 0, testNow.AddDate(0, -2, 0), testNow.AddDate(0, 0, 2)),
	)

	report, err := svc.Expiring(context.Background(), 30)
	require.NoError(t, err)
	require.Len(t, report, 2)
	assert.Equal(t, "SOONEST", report[0].BatchNumber)
	assert.Equal(t, "SOON", report[1].BatchNumber)

	_, err = svc.Expiring(context.Background(), -1)
	assert.Equal(t, 400, errors.StatusOf(err))
}
