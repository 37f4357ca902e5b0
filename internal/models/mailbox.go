package models

import (
	"time"
)

// Mailbox represents a short-lived, disposable inbox. It is addressable by
// its email address and owned by whoever holds the access token.
type Mailbox struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	Address     string    `gorm:"index;not null;size:255" json:"address"`
	AccessToken string    `gorm:"index;not null;size:64" json:"-"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	ExpiresAt   time.Time `gorm:"index;not null" json:"expires_at"`
	IsActive    bool      `gorm:"index;default:true" json:"is_active"`

	// Relationships
	Emails []Email `gorm:"foreignKey:MailboxID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for Mailbox
func (Mailbox) TableName() string {
	return "mailboxes"
}

// IsValid reports whether the mailbox is active and not past its TTL.
func (m *Mailbox) IsValid(now time.Time) bool {
	return m.IsActive && m.ExpiresAt.After(now)
}
