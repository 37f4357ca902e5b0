package websocket

import (
	"encoding/json"
	"log/slog"

	"github.com/vanishmail/vanishmail-backend/internal/models"
)

// FrameType represents the type of a WebSocket frame
type FrameType string

const (
	FrameTypePing      FrameType = "ping"
	FrameTypePong      FrameType = "pong"
	FrameTypeConnected FrameType = "connected"
	FrameTypeError     FrameType = "error"
	FrameTypeNewEmail  FrameType = "new_email"
)

// Frame is the JSON envelope of every message on the wire
type Frame struct {
	Type    FrameType   `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ConnectedPayload confirms a successful subscription
type ConnectedPayload struct {
	Address string `json:"address"`
}

// Hub maintains one live connection per access token. A new connection for
// an already-connected token displaces the old one. All registry mutation
// happens on the run loop goroutine.
type Hub struct {
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	publish    chan *publishRequest
	closeToken chan string
	done       chan struct{}

	logger *slog.Logger
}

type publishRequest struct {
	token string
	data  []byte
}

// NewHub creates a new Hub instance
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		publish:    make(chan *publishRequest, 256),
		closeToken: make(chan string),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run starts the hub's main loop. It returns when Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			// Last connection wins; the displaced client is closed
			if old, ok := h.clients[client.token]; ok {
				old.closeSend()
			}
			h.clients[client.token] = client
			if h.logger != nil {
				h.logger.Debug("websocket client registered")
			}

		case client := <-h.unregister:
			// Only drop the registry entry if it still points at this
			// client; a displaced client must not evict its successor
			if current, ok := h.clients[client.token]; ok && current == client {
				delete(h.clients, client.token)
				client.closeSend()
			}
			if h.logger != nil {
				h.logger.Debug("websocket client unregistered")
			}

		case req := <-h.publish:
			if client, ok := h.clients[req.token]; ok {
				// Drops the frame when the client buffer is full
				client.trySend(req.data)
			}

		case token := <-h.closeToken:
			if client, ok := h.clients[token]; ok {
				delete(h.clients, token)
				client.closeSend()
			}

		case <-h.done:
			for token, client := range h.clients {
				delete(h.clients, token)
				client.closeSend()
			}
			return
		}
	}
}

// Stop shuts the run loop down and closes every connection
func (h *Hub) Stop() {
	close(h.done)
}

// Publish pushes a new-email notification to the connection subscribed to
// the token, if any. Delivery is best effort.
func (h *Hub) Publish(token string, summary models.EmailSummary) {
	data, err := json.Marshal(Frame{
		Type:    FrameTypeNewEmail,
		Payload: summary,
	})
	if err != nil {
		if h.logger != nil {
			h.logger.Error("failed to marshal notification", slog.Any("error", err))
		}
		return
	}

	select {
	case h.publish <- &publishRequest{token: token, data: data}:
	case <-h.done:
	}
}

// CloseToken disconnects the client subscribed to the token, if any. Used
// when the mailbox behind the token is deleted.
func (h *Hub) CloseToken(token string) {
	select {
	case h.closeToken <- token:
	case <-h.done:
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.closeSend()
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}
