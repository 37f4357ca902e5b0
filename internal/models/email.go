package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// StringList stores a JSON-encoded list of strings in a single column.
type StringList []string

// Value implements driver.Valuer
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		l = StringList{}
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = StringList{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported type for StringList: %T", value)
	}
}

// HeaderMap stores a JSON-encoded map of header name to value.
type HeaderMap map[string]string

// Value implements driver.Valuer
func (h HeaderMap) Value() (driver.Value, error) {
	if h == nil {
		h = HeaderMap{}
	}
	return json.Marshal(h)
}

// Scan implements sql.Scanner
func (h *HeaderMap) Scan(value interface{}) error {
	if value == nil {
		*h = HeaderMap{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, h)
	case string:
		return json.Unmarshal([]byte(v), h)
	default:
		return fmt.Errorf("unsupported type for HeaderMap: %T", value)
	}
}

// Email represents a canonical email delivered to a mailbox.
type Email struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	MailboxID   string     `gorm:"not null;index;size:36" json:"mailbox_id"`
	FromAddress string     `gorm:"not null;size:255" json:"from"`
	ToAddresses StringList `gorm:"type:text" json:"to"`
	Subject     string     `json:"subject,omitempty"`
	TextBody    string     `json:"text_body,omitempty"`
	HTMLBody    string     `json:"html_body,omitempty"`
	Headers     HeaderMap  `gorm:"type:text" json:"headers,omitempty"`
	DedupKey    string     `gorm:"index;size:64" json:"-"`
	ReceivedAt  time.Time  `gorm:"index;autoCreateTime" json:"received_at"`
	IsRead      bool       `gorm:"default:false" json:"is_read"`

	// Relationships
	Mailbox     Mailbox      `gorm:"foreignKey:MailboxID;constraint:OnDelete:CASCADE" json:"-"`
	Attachments []Attachment `gorm:"foreignKey:EmailID;constraint:OnDelete:CASCADE" json:"attachments,omitempty"`
}

// TableName returns the table name for Email
func (Email) TableName() string {
	return "emails"
}

// HasAttachments reports whether the email carries at least one attachment.
func (e *Email) HasAttachments() bool {
	return len(e.Attachments) > 0
}

// EmailListItem is a lightweight projection for list views.
type EmailListItem struct {
	ID             string    `json:"id"`
	From           string    `json:"from"`
	Subject        string    `json:"subject,omitempty"`
	Snippet        string    `json:"snippet,omitempty"`
	ReceivedAt     time.Time `json:"received_at"`
	IsRead         bool      `json:"is_read"`
	HasAttachments bool      `json:"has_attachments"`
}

// EmailSummary is the payload pushed over the notification channel when a
// new email arrives. It intentionally carries no body content.
type EmailSummary struct {
	ID             string    `json:"id"`
	From           string    `json:"from"`
	Subject        string    `json:"subject,omitempty"`
	ReceivedAt     time.Time `json:"received_at"`
	HasAttachments bool      `json:"has_attachments"`
}
