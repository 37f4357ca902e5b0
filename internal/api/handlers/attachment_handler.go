package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/vanishmail/vanishmail-backend/internal/api/response"
	"github.com/vanishmail/vanishmail-backend/internal/services"
	"github.com/vanishmail/vanishmail-backend/internal/storage"
)

// AttachmentHandler handles attachment download requests
type AttachmentHandler struct {
	mailboxes *services.MailboxService
	emails    *services.EmailService
	files     storage.FileStorage
}

// NewAttachmentHandler creates a new AttachmentHandler
func NewAttachmentHandler(mailboxes *services.MailboxService, emails *services.EmailService, files storage.FileStorage) *AttachmentHandler {
	return &AttachmentHandler{
		mailboxes: mailboxes,
		emails:    emails,
		files:     files,
	}
}

// Download handles GET /api/mailboxes/:token/emails/:id/attachments/:attachment_id
func (h *AttachmentHandler) Download(c echo.Context) error {
	mailbox, err := resolveMailbox(c, h.mailboxes)
	if err != nil {
		return mailboxError(c, err)
	}

	attachment, err := h.emails.GetAttachment(c.Request().Context(), mailbox.ID, c.Param("id"), c.Param("attachment_id"))
	if err != nil {
		if errors.Is(err, services.ErrEmailNotFound) {
			return response.NotFound(c, "attachment not found")
		}
		return response.InternalError(c, "failed to get attachment")
	}

	if attachment.StorageRef == "" {
		return response.NotFound(c, "attachment content unavailable")
	}

	reader, err := h.files.Get(attachment.StorageRef)
	if err != nil {
		if errors.Is(err, storage.ErrFileNotFound) {
			return response.NotFound(c, "attachment content unavailable")
		}
		return response.InternalError(c, "failed to read attachment")
	}
	defer reader.Close()

	contentType := attachment.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename=%q`, attachment.Filename))
	return c.Stream(http.StatusOK, contentType, reader)
}
