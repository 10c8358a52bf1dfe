package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/billing-api/config"
	"github.com/jwalitptl/billing-api/internal/model"
	"github.com/jwalitptl/billing-api/pkg/logger"
	"github.com/jwalitptl/billing-api/pkg/validator"
)

const basePath = "/api/v1"

// TestResponse wraps the API response for testing
type TestResponse struct {
	Code    int
	Status  string
	Error   string
	Data    map[string]interface{}
	List    []interface{}
	RawBody string
}

func (r TestResponse) IsSuccess() bool {
	return r.Status == "success"
}

func (r TestResponse) GetString(key string) string {
	if v, ok := r.Data[key].(string); ok {
		return v
	}
	return ""
}

type testEnv struct {
	app    *App
	engine *gin.Engine
}

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	if err := validator.RegisterBinding(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	os.Exit(m.Run())
}

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Port: 8080, Mode: gin.TestMode},
		Database: config.DatabaseConfig{Driver: "memory"},
		Auth:     config.AuthConfig{Secret: "test-secret", Issuer: "billing-api", TokenTTL: time.Hour},
		Billing:  config.BillingConfig{FeeCacheTTL: time.Minute},
		Audit:    config.AuditConfig{RetentionDays: 30, CleanupInterval: time.Hour},
		Outbox:   config.OutboxConfig{Retention: time.Hour},
	}
}

func newTestEnv(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()
	a, err := New(context.Background(), cfg, logger.NewLogger(&logger.Config{Output: io.Discard}))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return &testEnv{app: a, engine: a.Router()}
}

func (e *testEnv) makeRequest(method, path string, body interface{}, token string) TestResponse {
	var reader io.Reader
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		reader = bytes.NewReader(jsonBody)
	}

	req := httptest.NewRequest(method, basePath+path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)

	var apiResp struct {
		Status string          `json:"status"`
		Error  string          `json:"error"`
		Data   json.RawMessage `json:"data"`
	}
	resp := TestResponse{Code: w.Code, RawBody: w.Body.String()}
	if err := json.Unmarshal(w.Body.Bytes(), &apiResp); err != nil {
		resp.Status = "error"
		resp.Error = fmt.Sprintf("failed to parse response: %v", err)
		return resp
	}
	resp.Status = apiResp.Status
	resp.Error = apiResp.Error

	// Data is either an object or a list
	if len(apiResp.Data) > 0 {
		if err := json.Unmarshal(apiResp.Data, &resp.Data); err != nil {
			json.Unmarshal(apiResp.Data, &resp.List)
		}
	}
	return resp
}

// seedVisit stores what reception and the doctor would have recorded: a
// doctor with a fee and one visit prescribing paracetamol.
func (e *testEnv) seedVisit(t *testing.T, patientID uuid.UUID, paracetamol int) *model.Visit {
	t.Helper()
	ctx := context.Background()

	doctor := &model.Doctor{Base: model.NewBase(), Name: "Dr. X", ConsultationFee: decimal.NewNullDecimal(decimal.NewFromInt(500))}
	require.NoError(t, e.app.Ledger.Doctors.Create(ctx, doctor))

	visit := &model.Visit{
		Base:      model.NewBase(),
		PatientID: patientID,
		VisitDate: time.Now().UTC(),
		Consultations: model.Consultations{{
			DoctorID:      doctor.ID,
			DoctorName:    doctor.Name,
			Prescriptions: []model.Prescription{{MedicineName: "Paracetamol", Quantity: paracetamol}},
		}},
		PaymentStatus: model.PaymentStatusPending,
		Status:        model.VisitStatusInProgress,
	}
	require.NoError(t, e.app.Ledger.Visits.Create(ctx, visit))
	return visit
}

func (e *testEnv) createParacetamol(t *testing.T, quantity int) string {
	t.Helper()
	resp := e.makeRequest("POST", "/inventory", map[string]interface{}{
		"name":      "Paracetamol",
		"unitPrice": 5,
		"batches": []map[string]interface{}{{
			"batchNumber": "P-1",
			"quantity":    quantity,
			"expiryDate":  time.Now().AddDate(1, 0, 0).UTC().Format(time.RFC3339),
		}},
	}, "")
	require.Equal(t, http.StatusCreated, resp.Code, resp.RawBody)
	return resp.GetString("id")
}

func batchQuantity(t *testing.T, item TestResponse) float64 {
	t.Helper()
	batches, ok := item.Data["batches"].([]interface{})
	require.True(t, ok, item.RawBody)
	require.Len(t, batches, 1)
	return batches[0].(map[string]interface{})["quantity"].(float64)
}

func TestBillingFlow(t *testing.T) {
	env := newTestEnv(t, testConfig())
	patientID := uuid.New()
	itemID := env.createParacetamol(t, 100)
	visit := env.seedVisit(t, patientID, 10)

	// Resolve dues
	dues := env.makeRequest("GET", "/dues?patientID="+patientID.String(), nil, "")
	require.True(t, dues.IsSuccess(), dues.RawBody)
	require.Len(t, dues.List, 2)
	fee := dues.List[0].(map[string]interface{})
	assert.Equal(t, "Consultation: Dr. X", fee["description"])
	assert.Equal(t, float64(500), fee["amount"])
	medicine := dues.List[1].(map[string]interface{})
	assert.Equal(t, "Medicine: Paracetamol (x10)", medicine["description"])
	assert.Equal(t, float64(50), medicine["amount"])

	// Post the dues back as an invoice
	created := env.makeRequest("POST", "/invoice", map[string]interface{}{
		"patientID":   patientID.String(),
		"patientName": "Asha Rao",
		"items":       dues.List,
		"paymentMode": "cash",
	}, "")
	require.Equal(t, http.StatusCreated, created.Code, created.RawBody)
	assert.Equal(t, fmt.Sprintf("INV-%d-0001", time.Now().Year()), created.GetString("invoiceNumber"))
	assert.Equal(t, "invoiced", created.Data["outcome"])
	assert.Equal(t, float64(550), created.Data["totalAmount"])
	assert.Nil(t, created.Data["stockWarnings"])
	invoiceID := created.GetString("id")

	// Nothing is due any more and the visit is settled
	again := env.makeRequest("GET", "/dues?patientID="+patientID.String(), nil, "")
	require.True(t, again.IsSuccess())
	assert.Empty(t, again.List)

	stored, err := env.app.Ledger.Visits.Get(context.Background(), visit.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPaid, stored.PaymentStatus)

	// Stock went out FIFO
	item := env.makeRequest("GET", "/inventory/"+itemID, nil, "")
	require.True(t, item.IsSuccess())
	assert.Equal(t, float64(90), batchQuantity(t, item))

	movements := env.makeRequest("GET", "/inventory/"+itemID+"/movements", nil, "")
	require.True(t, movements.IsSuccess())
	require.Len(t, movements.List, 2)
	out := movements.List[1].(map[string]interface{})
	assert.Equal(t, "OUT", out["type"])
	assert.Equal(t, fmt.Sprintf("Invoice #INV-%d-0001", time.Now().Year()), out["reason"])

	// Invoice reads
	list := env.makeRequest("GET", "/invoices?patientID="+patientID.String(), nil, "")
	require.True(t, list.IsSuccess())
	assert.Len(t, list.List, 1)

	got := env.makeRequest("GET", "/invoices/"+invoiceID, nil, "")
	require.True(t, got.IsSuccess())
	assert.Equal(t, created.GetString("invoiceNumber"), got.GetString("invoiceNumber"))

	// Audit trail
	logs := env.makeRequest("GET", "/audit/logs?entity_type=invoice", nil, "")
	require.True(t, logs.IsSuccess(), logs.RawBody)
	assert.NotEmpty(t, logs.List)
}

func TestReserveStockShortfallLeavesStockUntouched(t *testing.T) {
	env := newTestEnv(t, testConfig())
	itemID := env.createParacetamol(t, 5)

	resp := env.makeRequest("POST", "/reserve-stock", map[string]interface{}{
		"prescriptions": []map[string]interface{}{
			{"name": "Paracetamol", "quantity": 3},
			{"name": "paracetamol", "quantity": 3},
		},
	}, "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.JSONEq(t, `{"status":"error","error":"Insufficient stock for Paracetamol"}`, resp.RawBody)

	item := env.makeRequest("GET", "/inventory/"+itemID, nil, "")
	assert.Equal(t, float64(5), batchQuantity(t, item))

	ok := env.makeRequest("POST", "/reserve-stock", map[string]interface{}{
		"prescriptions": []map[string]interface{}{{"name": "Paracetamol", "quantity": 5}},
	}, "")
	assert.Equal(t, http.StatusOK, ok.Code, ok.RawBody)
}

func TestInvoiceWithStockWarning(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.createParacetamol(t, 100)
	patientID := uuid.New()

	created := env.makeRequest("POST", "/invoice", map[string]interface{}{
		"patientID":   patientID.String(),
		"patientName": "Asha Rao",
		"items": []map[string]interface{}{
			{"description": "Medicine: Paracetamol (x500)", "amount": 2500},
		},
		"paymentMode": "card",
	}, "")
	require.Equal(t, http.StatusCreated, created.Code, created.RawBody)
	assert.Equal(t, "invoiced_with_stock_warning", created.Data["outcome"])

	warnings, ok := created.Data["stockWarnings"].([]interface{})
	require.True(t, ok)
	require.Len(t, warnings, 1)
	w := warnings[0].(map[string]interface{})
	assert.Equal(t, "Paracetamol", w["medicine"])
	assert.Equal(t, float64(500), w["required"])
	assert.Equal(t, float64(100), w["available"])
}

func TestInvoiceValidation(t *testing.T) {
	env := newTestEnv(t, testConfig())

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{
			name: "missing items",
			body: map[string]interface{}{"patientID": uuid.NewString(), "patientName": "A", "paymentMode": "cash"},
		},
		{
			name: "negative amount",
			body: map[string]interface{}{
				"patientID": uuid.NewString(), "patientName": "A", "paymentMode": "cash",
				"items": []map[string]interface{}{{"description": "Lab fee", "amount": -1}},
			},
		},
		{
			name: "missing amount",
			body: map[string]interface{}{
				"patientID": uuid.NewString(), "patientName": "A", "paymentMode": "cash",
				"items": []map[string]interface{}{{"description": "Lab fee"}},
			},
		},
		{
			name: "null amount",
			body: map[string]interface{}{
				"patientID": uuid.NewString(), "patientName": "A", "paymentMode": "cash",
				"items": []map[string]interface{}{{"description": "Lab fee", "amount": nil}},
			},
		},
		{
			name: "non-numeric amount",
			body: map[string]interface{}{
				"patientID": uuid.NewString(), "patientName": "A", "paymentMode": "cash",
				"items": []map[string]interface{}{{"description": "Lab fee", "amount": "abc"}},
			},
		},
		{
			name: "bad patient id",
			body: map[string]interface{}{
				"patientID": "nope", "patientName": "A", "paymentMode": "cash",
				"items": []map[string]interface{}{{"description": "Lab fee", "amount": 1}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.makeRequest("POST", "/invoice", tt.body, "")
			assert.Equal(t, http.StatusBadRequest, resp.Code, resp.RawBody)
			assert.Equal(t, "error", resp.Status)
		})
	}

	count, err := env.app.Ledger.Invoices.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)

	missing := env.makeRequest("GET", "/dues", nil, "")
	assert.Equal(t, http.StatusBadRequest, missing.Code)
	assert.Equal(t, "patientID is required", missing.Error)
}

func TestAuthEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Enabled = true
	env := newTestEnv(t, cfg)

	denied := env.makeRequest("GET", "/inventory", nil, "")
	assert.Equal(t, http.StatusUnauthorized, denied.Code)

	health := env.makeRequest("GET", "/health/live", nil, "")
	assert.Equal(t, http.StatusOK, health.Code)

	token, err := env.app.Tokens.GenerateToken("staff-7", "Meera", "billing")
	require.NoError(t, err)

	allowed := env.makeRequest("GET", "/inventory", nil, token)
	assert.Equal(t, http.StatusOK, allowed.Code, allowed.RawBody)
}

func TestCleanupWorkers(t *testing.T) {
	env := newTestEnv(t, testConfig())
	workers := env.app.CleanupWorkers()
	require.Len(t, workers, 2)
	for _, w := range workers {
		assert.Equal(t, int64(0), w.RunOnce(context.Background()))
	}
}

func TestPackageLineWithoutAmountLeavesAssignmentActive(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	patientID := uuid.New()

	pkg := &model.Package{Base: model.NewBase(), Name: "Maternity", TotalPrice: decimal.NewFromInt(30000)}
	require.NoError(t, env.app.Ledger.Packages.CreatePackage(ctx, pkg))
	assignment := &model.PatientPackage{
		Base:      model.NewBase(),
		PatientID: patientID,
		PackageID: pkg.ID,
		Status:    model.PackageStatusActive,
	}
	require.NoError(t, env.app.Ledger.Packages.CreateAssignment(ctx, assignment))

	resp := env.makeRequest("POST", "/invoice", map[string]interface{}{
		"patientID":   patientID.String(),
		"patientName": "Asha Rao",
		"items": []map[string]interface{}{
			{"description": "Package: Maternity", "packageAssignmentID": assignment.ID.String()},
		},
		"paymentMode": "cash",
	}, "")
	require.Equal(t, http.StatusBadRequest, resp.Code, resp.RawBody)
	assert.Equal(t, "item 1: amount is required", resp.Error)

	stored, err := env.app.Ledger.Packages.GetAssignment(ctx, assignment.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PackageStatusActive, stored.Status)
}
