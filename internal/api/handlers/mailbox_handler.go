package handlers

import (
	"errors"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/vanishmail/vanishmail-backend/internal/api/response"
	"github.com/vanishmail/vanishmail-backend/internal/models"
	"github.com/vanishmail/vanishmail-backend/internal/services"
)

// MailboxHandler handles mailbox lifecycle HTTP requests
type MailboxHandler struct {
	mailboxes *services.MailboxService
}

// NewMailboxHandler creates a new MailboxHandler
func NewMailboxHandler(mailboxes *services.MailboxService) *MailboxHandler {
	return &MailboxHandler{mailboxes: mailboxes}
}

// CreateMailboxRequest represents the request body for creating a mailbox.
// All fields are optional; an empty body yields a random address with the
// default TTL.
type CreateMailboxRequest struct {
	Prefix string `json:"prefix"`
	Domain string `json:"domain"`
	TTLMs  int64  `json:"ttl_ms"`
}

// MailboxResponse is the mailbox projection returned to the owner. The
// access token appears only here, at creation time.
type MailboxResponse struct {
	ID          string    `json:"id"`
	Address     string    `json:"address"`
	AccessToken string    `json:"access_token,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Create handles POST /api/mailboxes
func (h *MailboxHandler) Create(c echo.Context) error {
	var req CreateMailboxRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}

	mailbox, err := h.mailboxes.Create(c.Request().Context(), services.CreateInput{
		Prefix: req.Prefix,
		Domain: req.Domain,
		TTL:    time.Duration(req.TTLMs) * time.Millisecond,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidPrefix):
			return response.BadRequest(c, "prefix must be 3-20 characters of a-z, 0-9 and hyphens")
		case errors.Is(err, services.ErrAddressTaken):
			return response.Conflict(c, "address already in use")
		default:
			return response.InternalError(c, "failed to create mailbox")
		}
	}

	return response.Created(c, MailboxResponse{
		ID:          mailbox.ID,
		Address:     mailbox.Address,
		AccessToken: mailbox.AccessToken,
		CreatedAt:   mailbox.CreatedAt,
		ExpiresAt:   mailbox.ExpiresAt,
	})
}

// Get handles GET /api/mailboxes/:token
func (h *MailboxHandler) Get(c echo.Context) error {
	mailbox, err := resolveMailbox(c, h.mailboxes)
	if err != nil {
		return mailboxError(c, err)
	}

	return response.Success(c, MailboxResponse{
		ID:        mailbox.ID,
		Address:   mailbox.Address,
		CreatedAt: mailbox.CreatedAt,
		ExpiresAt: mailbox.ExpiresAt,
	})
}

// ExtendMailboxRequest represents the request body for extending a mailbox
type ExtendMailboxRequest struct {
	TTLMs int64 `json:"ttl_ms"`
}

// Extend handles POST /api/mailboxes/:token/extend
func (h *MailboxHandler) Extend(c echo.Context) error {
	var req ExtendMailboxRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}

	newExpiry, err := h.mailboxes.Extend(c.Request().Context(), c.Param("token"),
		time.Duration(req.TTLMs)*time.Millisecond)
	if err != nil {
		return mailboxError(c, err)
	}

	return response.Success(c, map[string]interface{}{
		"expires_at": newExpiry,
	})
}

// Delete handles DELETE /api/mailboxes/:token
func (h *MailboxHandler) Delete(c echo.Context) error {
	if err := h.mailboxes.Delete(c.Request().Context(), c.Param("token")); err != nil {
		return mailboxError(c, err)
	}
	return response.NoContent(c)
}

// resolveMailbox loads the mailbox behind the :token path param (or the
// X-Mailbox-Token header), treating an expired mailbox as gone
func resolveMailbox(c echo.Context, mailboxes *services.MailboxService) (*models.Mailbox, error) {
	token := c.Param("token")
	if token == "" {
		token = c.Request().Header.Get("X-Mailbox-Token")
	}
	mailbox, err := mailboxes.GetByToken(c.Request().Context(), token)
	if err != nil {
		return nil, err
	}
	if !mailbox.IsValid(time.Now().UTC()) {
		return nil, services.ErrMailboxExpired
	}
	return mailbox, nil
}

// mailboxError maps service errors to HTTP responses
func mailboxError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, services.ErrMailboxNotFound):
		return response.NotFound(c, "mailbox not found")
	case errors.Is(err, services.ErrMailboxExpired):
		return response.Gone(c, "mailbox expired")
	default:
		return response.InternalError(c, "internal error")
	}
}
