package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vanishmail/vanishmail-backend/internal/models"
	"github.com/vanishmail/vanishmail-backend/internal/repository"
	"github.com/vanishmail/vanishmail-backend/internal/storage"
)

// Mailbox directory errors
var (
	// ErrInvalidPrefix indicates a custom prefix with bad charset or length
	ErrInvalidPrefix = errors.New("invalid mailbox prefix")
	// ErrAddressTaken indicates the address belongs to another active mailbox
	ErrAddressTaken = errors.New("address already in use")
	// ErrMailboxNotFound indicates no active mailbox matches
	ErrMailboxNotFound = errors.New("mailbox not found")
	// ErrMailboxExpired indicates the mailbox exists but is past its TTL
	ErrMailboxExpired = errors.New("mailbox expired")
)

// randomAddressRetries bounds collision retries during random generation
const randomAddressRetries = 5

// MailboxService implements the mailbox directory: creation, lookup,
// lifecycle extension and cascading deletion.
type MailboxService struct {
	mailboxes  repository.MailboxRepository
	emails     repository.EmailRepository
	files      storage.FileStorage
	search     Searcher
	notifier   Notifier
	domains    []string
	defaultTTL time.Duration
	logger     *slog.Logger
}

// MailboxServiceConfig holds dependencies for MailboxService
type MailboxServiceConfig struct {
	Mailboxes  repository.MailboxRepository
	Emails     repository.EmailRepository
	Files      storage.FileStorage
	Search     Searcher
	Notifier   Notifier
	Domains    []string
	DefaultTTL time.Duration
	Logger     *slog.Logger
}

// NewMailboxService creates a new MailboxService
func NewMailboxService(cfg *MailboxServiceConfig) *MailboxService {
	return &MailboxService{
		mailboxes:  cfg.Mailboxes,
		emails:     cfg.Emails,
		files:      cfg.Files,
		search:     cfg.Search,
		notifier:   cfg.Notifier,
		domains:    cfg.Domains,
		defaultTTL: cfg.DefaultTTL,
		logger:     cfg.Logger,
	}
}

// CreateInput describes a mailbox creation request. All fields are optional.
type CreateInput struct {
	Prefix string
	Domain string
	TTL    time.Duration
}

// Create provisions a new mailbox. A custom prefix is validated and must not
// collide with an active mailbox; without a prefix a random address is
// generated with a bounded number of collision retries.
func (s *MailboxService) Create(ctx context.Context, input CreateInput) (*models.Mailbox, error) {
	domain := s.resolveDomain(input.Domain)

	ttl := input.TTL
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	now := time.Now().UTC()
	mailbox := &models.Mailbox{
		ID:          uuid.NewString(),
		AccessToken: GenerateAccessToken(),
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
		IsActive:    true,
	}

	if input.Prefix != "" {
		prefix := strings.ToLower(strings.TrimSpace(input.Prefix))
		if !ValidPrefix(prefix) {
			return nil, ErrInvalidPrefix
		}
		mailbox.Address = prefix + "@" + domain
		if err := s.mailboxes.Create(ctx, mailbox); err != nil {
			if errors.Is(err, repository.ErrDuplicateEntry) {
				return nil, ErrAddressTaken
			}
			return nil, err
		}
		return mailbox, nil
	}

	// Random address: retry on the (rare) collision, then give up
	var lastErr error
	for attempt := 0; attempt < randomAddressRetries; attempt++ {
		mailbox.Address = GenerateRandomPrefix() + "@" + domain
		err := s.mailboxes.Create(ctx, mailbox)
		if err == nil {
			return mailbox, nil
		}
		if !errors.Is(err, repository.ErrDuplicateEntry) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("could not find a free random address: %w", errors.Join(ErrAddressTaken, lastErr))
}

// GetByToken resolves an active mailbox by access token
func (s *MailboxService) GetByToken(ctx context.Context, token string) (*models.Mailbox, error) {
	mailbox, err := s.mailboxes.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrMailboxNotFound
		}
		return nil, err
	}
	return mailbox, nil
}

// GetByAddress resolves an active mailbox by address, case-insensitively
func (s *MailboxService) GetByAddress(ctx context.Context, address string) (*models.Mailbox, error) {
	mailbox, err := s.mailboxes.GetByAddress(ctx, address)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrMailboxNotFound
		}
		return nil, err
	}
	return mailbox, nil
}

// IsValid reports whether the token resolves to an active, unexpired mailbox
func (s *MailboxService) IsValid(ctx context.Context, token string) bool {
	mailbox, err := s.mailboxes.GetByToken(ctx, token)
	if err != nil {
		return false
	}
	return mailbox.IsValid(time.Now().UTC())
}

// Extend pushes the expiry of a mailbox further into the future and returns
// the new expiry. Extension is monotonic: it always adds to the current
// expiry, never shortens it.
func (s *MailboxService) Extend(ctx context.Context, token string, extra time.Duration) (time.Time, error) {
	if extra <= 0 {
		extra = s.defaultTTL
	}
	mailbox, err := s.GetByToken(ctx, token)
	if err != nil {
		return time.Time{}, err
	}

	newExpiry := mailbox.ExpiresAt.Add(extra)
	if err := s.mailboxes.UpdateExpiry(ctx, mailbox.ID, newExpiry); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return time.Time{}, ErrMailboxNotFound
		}
		return time.Time{}, err
	}
	return newExpiry, nil
}

// Delete deactivates the mailbox and cascades removal of all dependent
// state: attachment bytes, email rows, search entries and the live
// notification connection. A second delete returns ErrMailboxNotFound
// rather than failing the cascade.
func (s *MailboxService) Delete(ctx context.Context, token string) error {
	mailbox, err := s.GetByToken(ctx, token)
	if err != nil {
		return err
	}

	// Deactivate first so new lookups and deliveries stop resolving the
	// address while the cascade runs.
	if err := s.mailboxes.Deactivate(ctx, mailbox.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	return s.Purge(ctx, mailbox)
}

// Purge removes all dependent state of a mailbox and then the mailbox row
// itself. Every step is idempotent, so re-running after partial completion
// deletes nothing extra.
func (s *MailboxService) Purge(ctx context.Context, mailbox *models.Mailbox) error {
	refs, err := s.emails.ListStorageRefsByMailbox(ctx, mailbox.ID)
	if err != nil {
		return err
	}
	if s.files != nil {
		s.files.DeleteMany(refs)
	}

	deleted, err := s.emails.DeleteByMailbox(ctx, mailbox.ID)
	if err != nil {
		return err
	}

	if s.search != nil {
		if err := s.search.DeleteMailbox(ctx, mailbox.ID); err != nil && s.logger != nil {
			s.logger.Warn("failed to delete search entries",
				slog.String("mailbox_id", mailbox.ID),
				slog.Any("error", err))
		}
	}

	if s.notifier != nil {
		s.notifier.CloseToken(mailbox.AccessToken)
	}

	if err := s.mailboxes.HardDelete(ctx, mailbox.ID); err != nil {
		return err
	}

	if s.logger != nil {
		s.logger.Info("mailbox purged",
			slog.String("address", mailbox.Address),
			slog.Int64("emails_deleted", deleted),
			slog.Int("attachments_deleted", len(refs)))
	}
	return nil
}

// ListExpired returns active mailboxes whose TTL has elapsed
func (s *MailboxService) ListExpired(ctx context.Context) ([]models.Mailbox, error) {
	return s.mailboxes.ListExpired(ctx, time.Now().UTC())
}

// AllowedDomain reports whether the domain is in the configured allow-list
func (s *MailboxService) AllowedDomain(domain string) bool {
	for _, d := range s.domains {
		if strings.EqualFold(d, domain) {
			return true
		}
	}
	return false
}

// resolveDomain picks the requested domain when allow-listed, otherwise the
// first configured domain
func (s *MailboxService) resolveDomain(requested string) string {
	if requested != "" && s.AllowedDomain(requested) {
		return strings.ToLower(requested)
	}
	return s.domains[0]
}
