package stock

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/billing-api/internal/middleware"
	"github.com/jwalitptl/billing-api/internal/model"
	"github.com/jwalitptl/billing-api/internal/service/stock"
	"github.com/jwalitptl/billing-api/pkg/errors"
	"github.com/jwalitptl/billing-api/pkg/httputil"
)

const defaultExpiryWindowDays = 30

type Handler struct {
	service *stock.Service
}

func NewHandler(service *stock.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/reserve-stock", h.ReserveStock)
	r.POST("/dispense", h.Dispense)

	inventory := r.Group("/inventory")
	{
		inventory.GET("", h.ListItems)
		inventory.POST("", h.CreateItem)
		inventory.GET("/expiring", h.Expiring)
		inventory.GET("/:id", h.GetItem)
		inventory.POST("/:id/batches", h.AddBatch)
		inventory.PUT("/:id/batches/:batch", h.AdjustBatch)
		inventory.GET("/:id/movements", h.ListMovements)
	}
}

// ReserveStock deducts every prescription or, on any shortfall, none.
func (h *Handler) ReserveStock(c *gin.Context) {
	var req model.ReserveStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid reserve request", err))
		return
	}

	allocs, err := h.service.Reserve(c.Request.Context(), req.Prescriptions, middleware.StaffID(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, allocs)
}

func (h *Handler) Dispense(c *gin.Context) {
	var req model.StockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid dispense request", err))
		return
	}

	alloc, err := h.service.Dispense(c.Request.Context(), req, middleware.StaffID(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, alloc)
}

func (h *Handler) ListItems(c *gin.Context) {
	items, err := h.service.ListItems(c.Request.Context())
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, items)
}

func (h *Handler) CreateItem(c *gin.Context) {
	var req model.CreateInventoryItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid inventory item", err))
		return
	}

	item, err := h.service.CreateItem(c.Request.Context(), &req, middleware.StaffID(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusCreated, item)
}

func (h *Handler) GetItem(c *gin.Context) {
	id, ok := itemID(c)
	if !ok {
		return
	}
	item, err := h.service.GetItem(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, item)
}

func (h *Handler) AddBatch(c *gin.Context) {
	id, ok := itemID(c)
	if !ok {
		return
	}
	var req model.BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid batch", err))
		return
	}

	item, err := h.service.AddBatch(c.Request.Context(), id, &req, middleware.StaffID(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusCreated, item)
}

func (h *Handler) AdjustBatch(c *gin.Context) {
	id, ok := itemID(c)
	if !ok {
		return
	}
	var req model.AdjustBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid adjustment", err))
		return
	}

	item, err := h.service.AdjustBatch(c.Request.Context(), id, c.Param("batch"), &req, middleware.StaffID(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, item)
}

func (h *Handler) ListMovements(c *gin.Context) {
	id, ok := itemID(c)
	if !ok {
		return
	}
	movements, err := h.service.ListMovements(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, movements)
}

func (h *Handler) Expiring(c *gin.Context) {
	days := defaultExpiryWindowDays
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httputil.RespondWithError(c, errors.BadRequest("days must be a non-negative integer", err))
			return
		}
		days = n
	}

	batches, err := h.service.Expiring(c.Request.Context(), days)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, batches)
}

func itemID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid inventory item ID", err))
		return uuid.Nil, false
	}
	return id, true
}
