package offers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/roadcall/roadside-dispatch/pkg/common"
)

// Handler exposes the offers HTTP API used by vendor apps
type Handler struct {
	service *Service
}

// NewHandler creates a new offers handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes wires the offer endpoints onto the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	offers := rg.Group("/offers")
	{
		offers.GET("/:id", h.Get)
		offers.POST("/:id/accept", h.Accept)
		offers.POST("/:id/decline", h.Decline)
	}
	rg.GET("/incidents/:id/offers", h.ListForIncident)
}

// Get handles GET /offers/:id
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid offer id")
		return
	}

	offer, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		common.RespondWithError(c, err)
		return
	}

	common.SuccessResponse(c, offer)
}

// ListForIncident handles GET /incidents/:id/offers
func (h *Handler) ListForIncident(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid incident id")
		return
	}

	list, err := h.service.ListForIncident(c.Request.Context(), id)
	if err != nil {
		common.RespondWithError(c, err)
		return
	}

	common.SuccessResponse(c, list)
}

// Accept handles POST /offers/:id/accept
func (h *Handler) Accept(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid offer id")
		return
	}

	var req AcceptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.service.Accept(c.Request.Context(), id, req.VendorID)
	if err != nil {
		common.RespondWithError(c, err)
		return
	}

	common.SuccessResponse(c, resp)
}

// Decline handles POST /offers/:id/decline
func (h *Handler) Decline(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid offer id")
		return
	}

	var req DeclineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.service.Decline(c.Request.Context(), id, &req); err != nil {
		common.RespondWithError(c, err)
		return
	}

	common.SuccessResponse(c, gin.H{"declined": true})
}
