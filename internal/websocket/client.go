package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vanishmail/vanishmail-backend/internal/services"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512
)

// Client represents one WebSocket connection bound to an access token
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	token  string
	send   chan []byte
	logger *slog.Logger

	// mu guards closed so the send channel is never written after the
	// hub closes it, which can happen when a reconnect displaces this
	// client while its read loop is still answering pings
	mu     sync.Mutex
	closed bool
}

// NewClient creates a new Client instance
func NewClient(hub *Hub, conn *websocket.Conn, token string, logger *slog.Logger) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		token:  token,
		send:   make(chan []byte, 256),
		logger: logger,
	}
}

// ReadPump pumps messages from the WebSocket connection. Inbound traffic is
// limited to application-level ping frames; anything else gets an error
// frame back.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				if c.logger != nil {
					c.logger.Error("websocket read error", slog.Any("error", err))
				}
			}
			break
		}

		c.handleMessage(message)
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
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

// handleMessage processes inbound frames
func (c *Client) handleMessage(data []byte) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.sendFrame(Frame{Type: FrameTypeError, Error: "invalid message format"})
		return
	}

	switch frame.Type {
	case FrameTypePing:
		c.sendFrame(Frame{Type: FrameTypePong})
	default:
		c.sendFrame(Frame{Type: FrameTypeError, Error: "unknown message type"})
	}
}

// sendFrame queues a frame for delivery, dropping it if the buffer is full
// or the client is already closed
func (c *Client) sendFrame(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	c.trySend(data)
}

// trySend is the single producer path onto the send channel
func (c *Client) trySend(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// closeSend closes the send channel exactly once. Only the hub calls this.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Upgrader configures the HTTP to WebSocket upgrade. CheckOrigin accepts
// everything; the access token in the path is the credential.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades an HTTP request to a WebSocket subscription. The token
// is validated before the subscription is registered: an invalid or expired
// token gets an error frame followed by a close.
func ServeWS(hub *Hub, mailboxes *services.MailboxService, w http.ResponseWriter, r *http.Request, token string, logger *slog.Logger) error {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	mailbox, err := mailboxes.GetByToken(r.Context(), token)
	if err != nil || !mailbox.IsValid(time.Now().UTC()) {
		writeDirectFrame(conn, Frame{Type: FrameTypeError, Error: "invalid or expired token"})
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid token"),
			time.Now().Add(writeWait))
		conn.Close()
		return nil
	}

	client := NewClient(hub, conn, token, logger)
	hub.Register(client)

	go client.WritePump()
	go client.ReadPump()

	client.sendFrame(Frame{
		Type:    FrameTypeConnected,
		Payload: ConnectedPayload{Address: mailbox.Address},
	})
	return nil
}

func writeDirectFrame(conn *websocket.Conn, frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.TextMessage, data)
}
