package websocket

import (
	"sync"

	"github.com/roadcall/roadside-dispatch/pkg/logger"
	"go.uber.org/zap"
)

// Hub maintains the set of connected vendor clients and pushes offer
// notifications to them. Registration and delivery run on the hub loop;
// lookups are mutex-guarded.
type Hub struct {
	// Registered clients by vendor ID
	clients map[string]*Client

	// Register requests from clients
	Register chan *Client

	// Unregister requests from clients
	Unregister chan *Client

	// Broadcast messages to specific vendors
	Broadcast chan *BroadcastMessage

	mu sync.RWMutex
}

// BroadcastMessage represents a message to be delivered
type BroadcastMessage struct {
	VendorID string   // empty means all connected vendors
	Message  *Message // Message to send
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Broadcast:  make(chan *BroadcastMessage, 256),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	logger.Info("vendor websocket hub started")
	for {
		select {
		case client := <-h.Register:
			h.registerClient(client)

		case client := <-h.Unregister:
			h.unregisterClient(client)

		case broadcast := <-h.Broadcast:
			h.deliver(broadcast)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// A reconnect replaces the stale connection for the same vendor.
	if existing, ok := h.clients[client.VendorID]; ok {
		close(existing.Send)
	}

	h.clients[client.VendorID] = client
	logger.Debug("vendor connected", zap.String("vendor_id", client.VendorID))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, ok := h.clients[client.VendorID]; ok && current == client {
		delete(h.clients, client.VendorID)
		close(client.Send)
		logger.Debug("vendor disconnected", zap.String("vendor_id", client.VendorID))
	}
}

func (h *Hub) deliver(broadcast *BroadcastMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if broadcast.VendorID == "" {
		for _, client := range h.clients {
			client.SendMessage(broadcast.Message)
		}
		return
	}

	if client, ok := h.clients[broadcast.VendorID]; ok {
		client.SendMessage(broadcast.Message)
	}
}

// SendToVendor sends a message to a specific connected vendor. Messages to
// vendors that are not connected are dropped; the offer record itself is the
// source of truth, the push is best effort.
func (h *Hub) SendToVendor(vendorID string, msg *Message) {
	h.Broadcast <- &BroadcastMessage{
		VendorID: vendorID,
		Message:  msg,
	}
}

// ConnectedCount returns the number of connected vendors.
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
