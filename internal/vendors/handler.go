package vendors

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/roadcall/roadside-dispatch/pkg/common"
)

// Handler exposes the vendor directory HTTP API
type Handler struct {
	service *Service
}

// NewHandler creates a new vendors handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes wires the vendor endpoints onto the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	vendors := rg.Group("/vendors")
	{
		vendors.POST("", h.Register)
		vendors.GET("/nearby", h.Nearby)
		vendors.GET("/:id", h.Get)
		vendors.PUT("/:id/availability", h.UpdateAvailability)
		vendors.PUT("/:id/location", h.UpdateLocation)
	}
}

// Nearby handles GET /vendors/nearby?latitude=&longitude=&radius_miles=
func (h *Handler) Nearby(c *gin.Context) {
	var query struct {
		Latitude    float64 `form:"latitude" binding:"min=-90,max=90"`
		Longitude   float64 `form:"longitude" binding:"min=-180,max=180"`
		RadiusMiles float64 `form:"radius_miles" binding:"required,gt=0"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	found, err := h.service.FindWithinRadius(c.Request.Context(), query.Latitude, query.Longitude, query.RadiusMiles)
	if err != nil {
		common.RespondWithError(c, err)
		return
	}

	common.SuccessResponse(c, found)
}

// Register handles POST /vendors
func (h *Handler) Register(c *gin.Context) {
	var req RegisterVendorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	vendor, err := h.service.Register(c.Request.Context(), &req)
	if err != nil {
		common.RespondWithError(c, err)
		return
	}

	common.CreatedResponse(c, vendor)
}

// Get handles GET /vendors/:id
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid vendor id")
		return
	}

	vendor, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		common.RespondWithError(c, err)
		return
	}

	common.SuccessResponse(c, vendor)
}

// UpdateAvailability handles PUT /vendors/:id/availability
func (h *Handler) UpdateAvailability(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid vendor id")
		return
	}

	var req UpdateAvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.service.SetAvailability(c.Request.Context(), id, req.Availability); err != nil {
		common.RespondWithError(c, err)
		return
	}

	common.SuccessResponse(c, gin.H{"availability": req.Availability})
}

// UpdateLocation handles PUT /vendors/:id/location
func (h *Handler) UpdateLocation(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid vendor id")
		return
	}

	var req UpdateLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.service.UpdateLocation(c.Request.Context(), id, &req); err != nil {
		common.RespondWithError(c, err)
		return
	}

	common.SuccessResponse(c, gin.H{"updated": true})
}
