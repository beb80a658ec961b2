package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/roadcall/roadside-dispatch/pkg/common"
	"github.com/roadcall/roadside-dispatch/pkg/logger"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin enforcement happens at the gateway
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeVendor upgrades the connection and registers the vendor with the hub.
// GET /ws/vendors/:vendor_id
func ServeVendor(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		vendorID := c.Param("vendor_id")
		if vendorID == "" {
			common.ErrorResponse(c, http.StatusBadRequest, "vendor_id is required")
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Error("websocket upgrade failed",
				zap.String("vendor_id", vendorID),
				zap.Error(err),
			)
			return
		}

		client := NewClient(hub, conn, vendorID)
		hub.Register <- client

		go client.WritePump()
		go client.ReadPump()
	}
}
