package handlers

import (
	"errors"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/vanishmail/vanishmail-backend/internal/api/response"
	"github.com/vanishmail/vanishmail-backend/internal/services"
)

// EmailHandler handles per-mailbox email HTTP requests
type EmailHandler struct {
	mailboxes *services.MailboxService
	emails    *services.EmailService
}

// NewEmailHandler creates a new EmailHandler
func NewEmailHandler(mailboxes *services.MailboxService, emails *services.EmailService) *EmailHandler {
	return &EmailHandler{
		mailboxes: mailboxes,
		emails:    emails,
	}
}

// List handles GET /api/mailboxes/:token/emails
func (h *EmailHandler) List(c echo.Context) error {
	mailbox, err := resolveMailbox(c, h.mailboxes)
	if err != nil {
		return mailboxError(c, err)
	}

	limit, offset := paging(c, 50)
	page, err := h.emails.List(c.Request().Context(), mailbox.ID, limit, offset)
	if err != nil {
		return response.InternalError(c, "failed to list emails")
	}
	return response.Success(c, page)
}

// Get handles GET /api/mailboxes/:token/emails/:id. Fetching the full
// email marks it read.
func (h *EmailHandler) Get(c echo.Context) error {
	mailbox, err := resolveMailbox(c, h.mailboxes)
	if err != nil {
		return mailboxError(c, err)
	}

	email, err := h.emails.Get(c.Request().Context(), mailbox.ID, c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrEmailNotFound) {
			return response.NotFound(c, "email not found")
		}
		return response.InternalError(c, "failed to get email")
	}
	return response.Success(c, email)
}

// MarkRead handles PATCH /api/mailboxes/:token/emails/:id/read
func (h *EmailHandler) MarkRead(c echo.Context) error {
	mailbox, err := resolveMailbox(c, h.mailboxes)
	if err != nil {
		return mailboxError(c, err)
	}

	if err := h.emails.MarkRead(c.Request().Context(), mailbox.ID, c.Param("id")); err != nil {
		if errors.Is(err, services.ErrEmailNotFound) {
			return response.NotFound(c, "email not found")
		}
		return response.InternalError(c, "failed to mark email read")
	}
	return response.NoContent(c)
}

// Delete handles DELETE /api/mailboxes/:token/emails/:id
func (h *EmailHandler) Delete(c echo.Context) error {
	mailbox, err := resolveMailbox(c, h.mailboxes)
	if err != nil {
		return mailboxError(c, err)
	}

	if err := h.emails.Delete(c.Request().Context(), mailbox.ID, c.Param("id")); err != nil {
		if errors.Is(err, services.ErrEmailNotFound) {
			return response.NotFound(c, "email not found")
		}
		return response.InternalError(c, "failed to delete email")
	}
	return response.NoContent(c)
}

// Search handles GET /api/mailboxes/:token/emails/search
func (h *EmailHandler) Search(c echo.Context) error {
	mailbox, err := resolveMailbox(c, h.mailboxes)
	if err != nil {
		return mailboxError(c, err)
	}

	query := c.QueryParam("q")
	if query == "" {
		return response.BadRequest(c, "q is required")
	}

	limit, offset := paging(c, 20)
	result, err := h.emails.Search(c.Request().Context(), mailbox.ID, query, limit, offset)
	if err != nil {
		return response.InternalError(c, "search failed")
	}
	return response.Success(c, result)
}

// paging reads limit/offset query params with a per-route default limit
func paging(c echo.Context, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if l := c.QueryParam("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if o := c.QueryParam("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}
