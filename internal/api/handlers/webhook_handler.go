package handlers

import (
	"encoding/json"

	"github.com/labstack/echo/v4"
	"github.com/vanishmail/vanishmail-backend/internal/api/response"
	"github.com/vanishmail/vanishmail-backend/internal/services"
)

// WebhookHandler accepts pre-parsed inbound mail from an upstream mail
// provider
type WebhookHandler struct {
	ingest *services.IngestService
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(ingest *services.IngestService) *WebhookHandler {
	return &WebhookHandler{ingest: ingest}
}

// recipientList accepts either a single string or an array of strings
type recipientList []string

func (r *recipientList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*r = recipientList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*r = many
	return nil
}

// InboundWebhookRequest is the provider's delivery payload
type InboundWebhookRequest struct {
	From    string        `json:"from"`
	To      recipientList `json:"to"`
	Subject string        `json:"subject"`
	Content struct {
		Text string `json:"text"`
		HTML string `json:"html"`
	} `json:"content"`
	Headers map[string]string `json:"headers"`
}

// Inbound handles POST /api/webhook/inbound. Redeliveries of the same
// message are absorbed as duplicates; a payload in which no recipient
// resolves to a live mailbox gets a 404 so the provider can stop retrying.
func (h *WebhookHandler) Inbound(c echo.Context) error {
	var req InboundWebhookRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}
	if req.From == "" || len(req.To) == 0 {
		return response.BadRequest(c, "from and to are required")
	}

	result, err := h.ingest.Ingest(c.Request().Context(), &services.RawMessage{
		From:    req.From,
		To:      req.To,
		Subject: req.Subject,
		Text:    req.Content.Text,
		HTML:    req.Content.HTML,
		Headers: req.Headers,
	})
	if err != nil {
		return response.InternalError(c, "failed to ingest message")
	}

	if result.Delivered == 0 && result.Duplicates == 0 {
		return response.NotFound(c, "no recipient mailbox found")
	}
	return response.Success(c, result)
}
