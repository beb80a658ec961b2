package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/roadcall/roadside-dispatch/internal/dispatch"
	"github.com/roadcall/roadside-dispatch/internal/incidents"
	"github.com/roadcall/roadside-dispatch/pkg/common"
)

// redispatchHandler lets a human dispatcher push an escalated incident
// back into the attempt loop.
func redispatchHandler(engine *dispatch.Engine, store *incidents.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("incident_id"))
		if err != nil {
			common.ErrorResponse(c, http.StatusBadRequest, "invalid incident id")
			return
		}

		incident, err := store.GetByID(c.Request.Context(), id)
		if err != nil {
			common.RespondWithError(c, err)
			return
		}

		if incident.Status != incidents.StatusCreated || incident.AssignedVendorID != nil {
			common.ErrorResponse(c, http.StatusConflict, "incident is not dispatchable")
			return
		}

		if !engine.StartRun(incident) {
			common.ErrorResponse(c, http.StatusConflict, "a dispatch run is already active")
			return
		}

		common.SuccessResponse(c, gin.H{"dispatched": true})
	}
}
