package billing

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/billing-api/internal/middleware"
	"github.com/jwalitptl/billing-api/internal/model"
	"github.com/jwalitptl/billing-api/internal/service/dues"
	"github.com/jwalitptl/billing-api/internal/service/invoice"
	"github.com/jwalitptl/billing-api/pkg/errors"
	"github.com/jwalitptl/billing-api/pkg/httputil"
)

type Handler struct {
	dues     *dues.Service
	invoices *invoice.Service
}

func NewHandler(duesSvc *dues.Service, invoiceSvc *invoice.Service) *Handler {
	return &Handler{dues: duesSvc, invoices: invoiceSvc}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/dues", h.GetDues)
	r.POST("/invoice", h.CreateInvoice)

	invoices := r.Group("/invoices")
	{
		invoices.GET("", h.ListInvoices)
		invoices.GET("/:id", h.GetInvoice)
	}
}

// InvoiceResponse is the created invoice plus what happened to its stock.
type InvoiceResponse struct {
	*model.Invoice
	Outcome       invoice.Status       `json:"outcome"`
	StockWarnings []model.StockWarning `json:"stockWarnings,omitempty"`
}

func (h *Handler) GetDues(c *gin.Context) {
	patientID, err := patientIDQuery(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	items, err := h.dues.ResolveDues(c.Request.Context(), patientID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, items)
}

func (h *Handler) CreateInvoice(c *gin.Context) {
	var req model.CreateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid invoice request", err))
		return
	}

	outcome, err := h.invoices.CreateInvoice(c.Request.Context(), &req, middleware.StaffID(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusCreated, InvoiceResponse{
		Invoice:       outcome.Invoice,
		Outcome:       outcome.Status(),
		StockWarnings: outcome.StockWarnings,
	})
}

func (h *Handler) ListInvoices(c *gin.Context) {
	patientID, err := patientIDQuery(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	invoices, err := h.invoices.ListInvoices(c.Request.Context(), patientID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, invoices)
}

func (h *Handler) GetInvoice(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid invoice ID", err))
		return
	}

	inv, err := h.invoices.GetInvoice(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, inv)
}

func patientIDQuery(c *gin.Context) (uuid.UUID, error) {
	raw := c.Query("patientID")
	if raw == "" {
		return uuid.Nil, errors.BadRequest("patientID is required", nil)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.BadRequest("invalid patientID", err)
	}
	return id, nil
}
