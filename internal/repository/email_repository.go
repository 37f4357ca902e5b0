package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/vanishmail/vanishmail-backend/internal/models"
	"gorm.io/gorm"
)

// EmailRepository defines the interface for email data access
type EmailRepository interface {
	Create(ctx context.Context, email *models.Email) error
	ListByMailbox(ctx context.Context, mailboxID string, limit, offset int) ([]models.Email, int64, error)
	GetByID(ctx context.Context, mailboxID, emailID string) (*models.Email, error)
	MarkRead(ctx context.Context, mailboxID, emailID string) error
	Delete(ctx context.Context, mailboxID, emailID string) error
	DeleteByMailbox(ctx context.Context, mailboxID string) (int64, error)
	CountUnread(ctx context.Context, mailboxID string) (int64, error)
	ExistsByDedupKey(ctx context.Context, mailboxID, dedupKey string) (bool, error)
	ListStorageRefs(ctx context.Context) ([]string, error)
	ListStorageRefsByMailbox(ctx context.Context, mailboxID string) ([]string, error)
}

// emailRepository implements EmailRepository using GORM
type emailRepository struct {
	db *gorm.DB
}

// NewEmailRepository creates a new EmailRepository instance
func NewEmailRepository(db *gorm.DB) EmailRepository {
	return &emailRepository{db: db}
}

// Create persists an email together with its attachment rows in one
// transaction
func (r *emailRepository) Create(ctx context.Context, email *models.Email) error {
	if err := r.db.WithContext(ctx).Create(email).Error; err != nil {
		return fmt.Errorf("failed to create email: %w", err)
	}
	return nil
}

// ListByMailbox returns emails for a mailbox, newest first, with the total count
func (r *emailRepository) ListByMailbox(ctx context.Context, mailboxID string, limit, offset int) ([]models.Email, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.Email{}).
		Where("mailbox_id = ?", mailboxID).
		Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count emails: %w", err)
	}

	var emails []models.Email
	result := r.db.WithContext(ctx).
		Preload("Attachments").
		Where("mailbox_id = ?", mailboxID).
		Order("received_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&emails)
	if result.Error != nil {
		return nil, 0, fmt.Errorf("failed to list emails: %w", result.Error)
	}
	return emails, total, nil
}

// GetByID retrieves an email scoped to a mailbox
func (r *emailRepository) GetByID(ctx context.Context, mailboxID, emailID string) (*models.Email, error) {
	var email models.Email
	result := r.db.WithContext(ctx).
		Preload("Attachments").
		Where("id = ? AND mailbox_id = ?", emailID, mailboxID).
		First(&email)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get email: %w", result.Error)
	}
	return &email, nil
}

// MarkRead transitions is_read to true; marking twice is a no-op
func (r *emailRepository) MarkRead(ctx context.Context, mailboxID, emailID string) error {
	result := r.db.WithContext(ctx).Model(&models.Email{}).
		Where("id = ? AND mailbox_id = ?", emailID, mailboxID).
		Update("is_read", true)
	if result.Error != nil {
		return fmt.Errorf("failed to mark email read: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// Distinguish missing from already-read
		var count int64
		if err := r.db.WithContext(ctx).Model(&models.Email{}).
			Where("id = ? AND mailbox_id = ?", emailID, mailboxID).
			Count(&count).Error; err != nil {
			return fmt.Errorf("failed to mark email read: %w", err)
		}
		if count == 0 {
			return ErrNotFound
		}
	}
	return nil
}

// Delete removes an email and its attachment rows
func (r *emailRepository) Delete(ctx context.Context, mailboxID, emailID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND mailbox_id = ?", emailID, mailboxID).Delete(&models.Email{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete email: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Where("email_id = ?", emailID).Delete(&models.Attachment{}).Error; err != nil {
			return fmt.Errorf("failed to delete attachments: %w", err)
		}
		return nil
	})
}

// DeleteByMailbox removes all emails (and attachment rows) of a mailbox,
// returning the number of emails removed
func (r *emailRepository) DeleteByMailbox(ctx context.Context, mailboxID string) (int64, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("email_id IN (?)",
			tx.Model(&models.Email{}).Select("id").Where("mailbox_id = ?", mailboxID),
		).Delete(&models.Attachment{}).Error; err != nil {
			return fmt.Errorf("failed to delete attachments: %w", err)
		}
		result := tx.Where("mailbox_id = ?", mailboxID).Delete(&models.Email{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete emails: %w", result.Error)
		}
		deleted = result.RowsAffected
		return nil
	})
	return deleted, err
}

// CountUnread counts unread emails in a mailbox
func (r *emailRepository) CountUnread(ctx context.Context, mailboxID string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Email{}).
		Where("mailbox_id = ? AND is_read = ?", mailboxID, false).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count unread emails: %w", err)
	}
	return count, nil
}

// ExistsByDedupKey reports whether an email with the given dedup key is
// already stored for the mailbox. An empty key never matches.
func (r *emailRepository) ExistsByDedupKey(ctx context.Context, mailboxID, dedupKey string) (bool, error) {
	if dedupKey == "" {
		return false, nil
	}
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Email{}).
		Where("mailbox_id = ? AND dedup_key = ?", mailboxID, dedupKey).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check dedup key: %w", err)
	}
	return count > 0, nil
}

// ListStorageRefs returns every storage ref referenced by any attachment row
func (r *emailRepository) ListStorageRefs(ctx context.Context) ([]string, error) {
	var refs []string
	if err := r.db.WithContext(ctx).Model(&models.Attachment{}).
		Where("storage_ref <> ''").
		Pluck("storage_ref", &refs).Error; err != nil {
		return nil, fmt.Errorf("failed to list storage refs: %w", err)
	}
	return refs, nil
}

// ListStorageRefsByMailbox returns the storage refs of all attachments that
// belong to emails of a single mailbox
func (r *emailRepository) ListStorageRefsByMailbox(ctx context.Context, mailboxID string) ([]string, error) {
	var refs []string
	if err := r.db.WithContext(ctx).Model(&models.Attachment{}).
		Joins("JOIN emails ON emails.id = attachments.email_id").
		Where("emails.mailbox_id = ? AND attachments.storage_ref <> ''", mailboxID).
		Pluck("attachments.storage_ref", &refs).Error; err != nil {
		return nil, fmt.Errorf("failed to list mailbox storage refs: %w", err)
	}
	return refs, nil
}
