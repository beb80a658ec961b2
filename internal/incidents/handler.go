package incidents

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/roadcall/roadside-dispatch/pkg/common"
)

// Handler exposes the incidents HTTP API
type Handler struct {
	service *Service
}

// NewHandler creates a new incidents handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes wires the incident endpoints onto the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	incidents := rg.Group("/incidents")
	{
		incidents.POST("", h.Create)
		incidents.GET("/:id", h.Get)
		incidents.GET("/:id/timeline", h.Timeline)
		incidents.POST("/:id/cancel", h.Cancel)
		incidents.POST("/:id/status", h.UpdateStatus)
	}
}

// Create handles POST /incidents
func (h *Handler) Create(c *gin.Context) {
	var req CreateIncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	incident, err := h.service.Create(c.Request.Context(), &req)
	if err != nil {
		common.RespondWithError(c, err)
		return
	}

	common.CreatedResponse(c, incident)
}

// Get handles GET /incidents/:id
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid incident id")
		return
	}

	incident, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		common.RespondWithError(c, err)
		return
	}

	common.SuccessResponse(c, incident)
}

// Timeline handles GET /incidents/:id/timeline
func (h *Handler) Timeline(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid incident id")
		return
	}

	entries, err := h.service.Timeline(c.Request.Context(), id)
	if err != nil {
		common.RespondWithError(c, err)
		return
	}

	common.SuccessResponse(c, entries)
}

// Cancel handles POST /incidents/:id/cancel
func (h *Handler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid incident id")
		return
	}

	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.service.Cancel(c.Request.Context(), id, &req); err != nil {
		common.RespondWithError(c, err)
		return
	}

	common.SuccessResponse(c, gin.H{"cancelled": true})
}

// UpdateStatus handles POST /incidents/:id/status
func (h *Handler) UpdateStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid incident id")
		return
	}

	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	incident, err := h.service.UpdateStatus(c.Request.Context(), id, &req)
	if err != nil {
		common.RespondWithError(c, err)
		return
	}

	common.SuccessResponse(c, incident)
}
