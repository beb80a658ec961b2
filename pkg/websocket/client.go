package websocket

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/roadcall/roadside-dispatch/pkg/logger"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096
)

// Message is the wire format pushed to vendor apps.
type Message struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewMessage builds a push message, marshalling the payload.
func NewMessage(msgType string, data interface{}) (*Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}, nil
}

// Client is a single vendor websocket connection.
type Client struct {
	VendorID string
	hub      *Hub
	conn     *websocket.Conn
	Send     chan *Message
}

// NewClient wraps a websocket connection for a vendor.
func NewClient(hub *Hub, conn *websocket.Conn, vendorID string) *Client {
	return &Client{
		VendorID: vendorID,
		hub:      hub,
		conn:     conn,
		Send:     make(chan *Message, 64),
	}
}

// SendMessage queues a message for delivery, dropping it if the client's
// buffer is full. A slow consumer must not block the hub.
func (c *Client) SendMessage(msg *Message) {
	select {
	case c.Send <- msg:
	default:
		logger.Warn("dropping message for slow vendor client",
			zap.String("vendor_id", c.VendorID),
			zap.String("type", msg.Type),
		)
	}
}

// ReadPump pumps messages from the websocket connection to keep the read
// side alive. Vendor apps only receive pushes; inbound frames are drained.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("vendor websocket closed unexpectedly",
					zap.String("vendor_id", c.VendorID),
					zap.Error(err),
				)
			}
			return
		}
	}
}

// WritePump pumps messages from the hub to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.Send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
