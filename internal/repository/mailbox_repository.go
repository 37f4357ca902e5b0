package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vanishmail/vanishmail-backend/internal/models"
	"gorm.io/gorm"
)

// MailboxRepository defines the interface for mailbox data access.
// Token and address lookups only ever return active mailboxes; address and
// token uniqueness is enforced among active rows, not historically.
type MailboxRepository interface {
	Create(ctx context.Context, mailbox *models.Mailbox) error
	GetByToken(ctx context.Context, token string) (*models.Mailbox, error)
	GetByAddress(ctx context.Context, address string) (*models.Mailbox, error)
	UpdateExpiry(ctx context.Context, id string, expiresAt time.Time) error
	Deactivate(ctx context.Context, id string) error
	HardDelete(ctx context.Context, id string) error
	ListExpired(ctx context.Context, now time.Time) ([]models.Mailbox, error)
}

// mailboxRepository implements MailboxRepository using GORM
type mailboxRepository struct {
	db *gorm.DB
}

// NewMailboxRepository creates a new MailboxRepository instance
func NewMailboxRepository(db *gorm.DB) MailboxRepository {
	return &mailboxRepository{db: db}
}

// Create creates a new mailbox. The address must not be held by another
// active mailbox; callers check first, this rechecks to close the race.
func (r *mailboxRepository) Create(ctx context.Context, mailbox *models.Mailbox) error {
	mailbox.Address = strings.ToLower(mailbox.Address)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Mailbox{}).
			Where("address = ? AND is_active = ?", mailbox.Address, true).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicateEntry
		}
		return tx.Create(mailbox).Error
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateEntry) || isDuplicateKeyError(err) {
			return fmt.Errorf("mailbox with address '%s' already exists: %w", mailbox.Address, ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to create mailbox: %w", err)
	}
	return nil
}

// GetByToken retrieves an active mailbox by its access token
func (r *mailboxRepository) GetByToken(ctx context.Context, token string) (*models.Mailbox, error) {
	var mailbox models.Mailbox
	result := r.db.WithContext(ctx).
		Where("access_token = ? AND is_active = ?", token, true).
		First(&mailbox)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get mailbox by token: %w", result.Error)
	}
	return &mailbox, nil
}

// GetByAddress retrieves an active mailbox by its address, case-insensitively
func (r *mailboxRepository) GetByAddress(ctx context.Context, address string) (*models.Mailbox, error) {
	var mailbox models.Mailbox
	result := r.db.WithContext(ctx).
		Where("address = ? AND is_active = ?", strings.ToLower(address), true).
		First(&mailbox)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get mailbox by address: %w", result.Error)
	}
	return &mailbox, nil
}

// UpdateExpiry sets a new expiry time for a mailbox
func (r *mailboxRepository) UpdateExpiry(ctx context.Context, id string, expiresAt time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.Mailbox{}).
		Where("id = ?", id).
		Update("expires_at", expiresAt)
	if result.Error != nil {
		return fmt.Errorf("failed to update expiry: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Deactivate soft-deletes a mailbox so lookups stop resolving it
func (r *mailboxRepository) Deactivate(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&models.Mailbox{}).
		Where("id = ?", id).
		Update("is_active", false)
	if result.Error != nil {
		return fmt.Errorf("failed to deactivate mailbox: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// HardDelete removes the mailbox row permanently. Deleting an already
// deleted mailbox is not an error, which keeps cascades idempotent.
func (r *mailboxRepository) HardDelete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&models.Mailbox{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete mailbox: %w", result.Error)
	}
	return nil
}

// ListExpired returns active mailboxes whose expiry is in the past
func (r *mailboxRepository) ListExpired(ctx context.Context, now time.Time) ([]models.Mailbox, error) {
	var mailboxes []models.Mailbox
	result := r.db.WithContext(ctx).
		Where("is_active = ? AND expires_at < ?", true, now).
		Find(&mailboxes)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list expired mailboxes: %w", result.Error)
	}
	return mailboxes, nil
}
