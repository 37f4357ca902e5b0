package repository

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/vanishmail/vanishmail-backend/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB creates an isolated in-memory database with the full schema
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&models.Mailbox{}, &models.Email{}, &models.Attachment{}))
	return db
}

func newTestMailbox(address string, ttl time.Duration) *models.Mailbox {
	now := time.Now().UTC()
	return &models.Mailbox{
		ID:          uuid.NewString(),
		Address:     address,
		AccessToken: uuid.NewString() + uuid.NewString(),
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
		IsActive:    true,
	}
}

func newTestEmail(mailboxID string) *models.Email {
	return &models.Email{
		ID:          uuid.NewString(),
		MailboxID:   mailboxID,
		FromAddress: "sender@example.com",
		ToAddresses: models.StringList{"someone@tempmail.local"},
		Subject:     "hello",
		TextBody:    "hello world",
		ReceivedAt:  time.Now().UTC(),
	}
}
