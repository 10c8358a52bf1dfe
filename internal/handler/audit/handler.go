package audit

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/billing-api/internal/model"
	"github.com/jwalitptl/billing-api/internal/service/audit"
	"github.com/jwalitptl/billing-api/pkg/errors"
	"github.com/jwalitptl/billing-api/pkg/httputil"
)

const defaultLimit = 100

type Handler struct {
	service *audit.Service
}

func NewHandler(service *audit.Service) *Handler {
	return &Handler{
		service: service,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	audit := r.Group("/audit")
	{
		audit.GET("/logs", h.ListLogs)
		audit.GET("/logs/entity/:type/:id", h.GetEntityLogs)
		audit.GET("/export", h.ExportLogs)
	}
}

// ListLogs accepts entity_type, entity_id, user_id, since (RFC3339) and
// limit query parameters.
func (h *Handler) ListLogs(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	logs, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, logs)
}

func (h *Handler) GetEntityLogs(c *gin.Context) {
	entityID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid entity_id", err))
		return
	}

	logs, err := h.service.List(c.Request.Context(), model.AuditFilter{
		EntityType: c.Param("type"),
		EntityID:   &entityID,
		Limit:      defaultLimit,
	})
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, logs)
}

func (h *Handler) ExportLogs(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	logs, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	filename := fmt.Sprintf("audit_logs_%s.csv", time.Now().Format("20060102_150405"))
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))

	writer := csv.NewWriter(c.Writer)
	writer.Write([]string{"ID", "User ID", "Action", "Entity Type", "Entity ID", "Changes", "Created At"})
	for _, log := range logs {
		writer.Write([]string{
			log.ID.String(),
			log.UserID,
			log.Action,
			log.EntityType,
			log.EntityID.String(),
			string(log.Changes),
			log.CreatedAt.Format(time.RFC3339),
		})
	}
	writer.Flush()
}

func parseFilter(c *gin.Context) (model.AuditFilter, error) {
	filter := model.AuditFilter{
		EntityType: c.Query("entity_type"),
		UserID:     c.Query("user_id"),
		Limit:      defaultLimit,
	}

	if raw := c.Query("entity_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filter, errors.BadRequest("invalid entity_id", err)
		}
		filter.EntityID = &id
	}
	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, errors.BadRequest("invalid since format", err)
		}
		filter.Since = since
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return filter, errors.BadRequest("limit must be a positive integer", err)
		}
		filter.Limit = limit
	}
	return filter, nil
}
