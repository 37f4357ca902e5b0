package services

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/vanishmail/vanishmail-backend/internal/models"
	"github.com/vanishmail/vanishmail-backend/internal/repository"
	"github.com/vanishmail/vanishmail-backend/internal/storage"
)

// ErrEmailNotFound indicates the email does not exist in the mailbox
var ErrEmailNotFound = errors.New("email not found")

// snippetLength caps list-view snippets
const snippetLength = 140

// EmailService implements per-mailbox email operations: listing, reading,
// deletion and search.
type EmailService struct {
	emails repository.EmailRepository
	files  storage.FileStorage
	search Searcher
}

// NewEmailService creates a new EmailService
func NewEmailService(emails repository.EmailRepository, files storage.FileStorage, search Searcher) *EmailService {
	return &EmailService{
		emails: emails,
		files:  files,
		search: search,
	}
}

// EmailPage is one page of a mailbox listing
type EmailPage struct {
	Items       []models.EmailListItem `json:"items"`
	Total       int64                  `json:"total"`
	UnreadCount int64                  `json:"unreadCount"`
	Limit       int                    `json:"limit"`
	Offset      int                    `json:"offset"`
}

// List returns a page of emails for a mailbox, newest first, with snippet
// projections and the mailbox unread count
func (s *EmailService) List(ctx context.Context, mailboxID string, limit, offset int) (*EmailPage, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	emails, total, err := s.emails.ListByMailbox(ctx, mailboxID, limit, offset)
	if err != nil {
		return nil, err
	}

	unread, err := s.emails.CountUnread(ctx, mailboxID)
	if err != nil {
		return nil, err
	}

	items := make([]models.EmailListItem, 0, len(emails))
	for i := range emails {
		e := &emails[i]
		items = append(items, models.EmailListItem{
			ID:             e.ID,
			From:           e.FromAddress,
			Subject:        e.Subject,
			Snippet:        Snippet(e.TextBody, e.HTMLBody),
			ReceivedAt:     e.ReceivedAt,
			IsRead:         e.IsRead,
			HasAttachments: e.HasAttachments(),
		})
	}

	return &EmailPage{
		Items:       items,
		Total:       total,
		UnreadCount: unread,
		Limit:       limit,
		Offset:      offset,
	}, nil
}

// Get retrieves a full email and marks it read as a side effect
func (s *EmailService) Get(ctx context.Context, mailboxID, emailID string) (*models.Email, error) {
	email, err := s.emails.GetByID(ctx, mailboxID, emailID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrEmailNotFound
		}
		return nil, err
	}

	if !email.IsRead {
		if err := s.emails.MarkRead(ctx, mailboxID, emailID); err == nil {
			email.IsRead = true
		}
	}
	return email, nil
}

// MarkRead marks an email as read. Marking an already-read email succeeds.
func (s *EmailService) MarkRead(ctx context.Context, mailboxID, emailID string) error {
	if err := s.emails.MarkRead(ctx, mailboxID, emailID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrEmailNotFound
		}
		return err
	}
	return nil
}

// Delete removes a single email: its attachment bytes, its rows and its
// search entry
func (s *EmailService) Delete(ctx context.Context, mailboxID, emailID string) error {
	email, err := s.emails.GetByID(ctx, mailboxID, emailID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrEmailNotFound
		}
		return err
	}

	refs := make([]string, 0, len(email.Attachments))
	for _, a := range email.Attachments {
		if a.StorageRef != "" {
			refs = append(refs, a.StorageRef)
		}
	}
	if s.files != nil {
		s.files.DeleteMany(refs)
	}

	if err := s.emails.Delete(ctx, mailboxID, emailID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrEmailNotFound
		}
		return err
	}

	if s.search != nil {
		// Best effort, the orphaned entry is invisible behind the mailbox filter
		s.search.DeleteEmail(ctx, emailID)
	}
	return nil
}

// GetAttachment resolves an attachment within an email, scoped to the
// mailbox, and returns its metadata
func (s *EmailService) GetAttachment(ctx context.Context, mailboxID, emailID, attachmentID string) (*models.Attachment, error) {
	email, err := s.emails.GetByID(ctx, mailboxID, emailID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrEmailNotFound
		}
		return nil, err
	}
	for i := range email.Attachments {
		if email.Attachments[i].ID == attachmentID {
			return &email.Attachments[i], nil
		}
	}
	return nil, ErrEmailNotFound
}

// Search runs a full-text query scoped to one mailbox
func (s *EmailService) Search(ctx context.Context, mailboxID, query string, limit, offset int) (*SearchResult, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	if s.search == nil {
		return &SearchResult{Hits: []SearchHit{}}, nil
	}
	return s.search.Search(ctx, mailboxID, query, limit, offset)
}

var (
	htmlTagPattern    = regexp.MustCompile(`(?s)<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// Snippet derives a short plain-text preview from an email body. Text is
// preferred; HTML falls back to tag stripping.
func Snippet(textBody, htmlBody string) string {
	text := strings.TrimSpace(textBody)
	if text == "" && htmlBody != "" {
		text = strings.TrimSpace(htmlTagPattern.ReplaceAllString(htmlBody, " "))
	}
	text = whitespacePattern.ReplaceAllString(text, " ")

	runes := []rune(text)
	if len(runes) <= snippetLength {
		return text
	}
	return string(runes[:snippetLength])
}
