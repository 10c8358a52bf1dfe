package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/billing-api/pkg/errors"
)

func render(t *testing.T, err error) (int, Response) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	RespondWithError(c, err)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w.Code, resp
}

func TestRespondWithErrorStatuses(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"insufficient stock", &errors.InsufficientStockError{Medicine: "Amoxicillin", Required: 55, Available: 50}, http.StatusBadRequest, "Insufficient stock for Amoxicillin"},
		{"wrapped insufficient stock", fmt.Errorf("reserve: %w", &errors.InsufficientStockError{Medicine: "X"}), http.StatusBadRequest, "reserve: Insufficient stock for X"},
		{"bad request", errors.BadRequest("invalid patient ID", fmt.Errorf("uuid")), http.StatusBadRequest, "invalid patient ID"},
		{"not found", errors.NotFound("invoice", nil), http.StatusNotFound, "invoice not found"},
		{"plain error", fmt.Errorf("failed to list visits: connection reset"), http.StatusInternalServerError, "failed to list visits: connection reset"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := render(t, tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, StatusError, resp.Status)
			assert.Equal(t, tt.message, resp.Error)
		})
	}
}
