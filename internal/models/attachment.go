package models

// Attachment represents a file attached to an email. The bytes themselves
// live in the attachment store; StorageRef is only valid while the owning
// email exists.
type Attachment struct {
	ID          string `gorm:"primaryKey;size:36" json:"id"`
	EmailID     string `gorm:"not null;index;size:36" json:"email_id"`
	Filename    string `gorm:"size:255" json:"filename"`
	ContentType string `gorm:"size:100" json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	StorageRef  string `gorm:"size:500" json:"-"`

	// Relationships
	Email Email `gorm:"foreignKey:EmailID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for Attachment
func (Attachment) TableName() string {
	return "attachments"
}
