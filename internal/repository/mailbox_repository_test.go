package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailboxRepository_Create(t *testing.T) {
	repo := NewMailboxRepository(newTestDB(t))
	ctx := context.Background()

	mailbox := newTestMailbox("Swift-Otter-A41F@tempmail.local", time.Hour)
	require.NoError(t, repo.Create(ctx, mailbox))

	// Addresses are stored lowercase
	assert.Equal(t, "swift-otter-a41f@tempmail.local", mailbox.Address)
}

func TestMailboxRepository_Create_DuplicateActiveAddress(t *testing.T) {
	repo := NewMailboxRepository(newTestDB(t))
	ctx := context.Background()

	first := newTestMailbox("taken@tempmail.local", time.Hour)
	require.NoError(t, repo.Create(ctx, first))

	second := newTestMailbox("TAKEN@tempmail.local", time.Hour)
	err := repo.Create(ctx, second)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateEntry)
}

func TestMailboxRepository_Create_AddressReusableAfterDeactivate(t *testing.T) {
	repo := NewMailboxRepository(newTestDB(t))
	ctx := context.Background()

	first := newTestMailbox("reuse@tempmail.local", time.Hour)
	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, repo.Deactivate(ctx, first.ID))

	second := newTestMailbox("reuse@tempmail.local", time.Hour)
	require.NoError(t, repo.Create(ctx, second))
}

func TestMailboxRepository_GetByToken(t *testing.T) {
	repo := NewMailboxRepository(newTestDB(t))
	ctx := context.Background()

	mailbox := newTestMailbox("lookup@tempmail.local", time.Hour)
	require.NoError(t, repo.Create(ctx, mailbox))

	found, err := repo.GetByToken(ctx, mailbox.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, mailbox.ID, found.ID)

	_, err = repo.GetByToken(ctx, "no-such-token")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMailboxRepository_GetByToken_IgnoresInactive(t *testing.T) {
	repo := NewMailboxRepository(newTestDB(t))
	ctx := context.Background()

	mailbox := newTestMailbox("inactive@tempmail.local", time.Hour)
	require.NoError(t, repo.Create(ctx, mailbox))
	require.NoError(t, repo.Deactivate(ctx, mailbox.ID))

	_, err := repo.GetByToken(ctx, mailbox.AccessToken)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMailboxRepository_GetByAddress_CaseInsensitive(t *testing.T) {
	repo := NewMailboxRepository(newTestDB(t))
	ctx := context.Background()

	mailbox := newTestMailbox("mixed@tempmail.local", time.Hour)
	require.NoError(t, repo.Create(ctx, mailbox))

	found, err := repo.GetByAddress(ctx, "MIXED@TempMail.Local")
	require.NoError(t, err)
	assert.Equal(t, mailbox.ID, found.ID)
}

func TestMailboxRepository_UpdateExpiry(t *testing.T) {
	repo := NewMailboxRepository(newTestDB(t))
	ctx := context.Background()

	mailbox := newTestMailbox("extend@tempmail.local", time.Hour)
	require.NoError(t, repo.Create(ctx, mailbox))

	newExpiry := mailbox.ExpiresAt.Add(2 * time.Hour)
	require.NoError(t, repo.UpdateExpiry(ctx, mailbox.ID, newExpiry))

	found, err := repo.GetByToken(ctx, mailbox.AccessToken)
	require.NoError(t, err)
	assert.WithinDuration(t, newExpiry, found.ExpiresAt, time.Second)

	assert.ErrorIs(t, repo.UpdateExpiry(ctx, "missing-id", newExpiry), ErrNotFound)
}

func TestMailboxRepository_HardDelete_Idempotent(t *testing.T) {
	repo := NewMailboxRepository(newTestDB(t))
	ctx := context.Background()

	mailbox := newTestMailbox("gone@tempmail.local", time.Hour)
	require.NoError(t, repo.Create(ctx, mailbox))

	require.NoError(t, repo.HardDelete(ctx, mailbox.ID))
	require.NoError(t, repo.HardDelete(ctx, mailbox.ID))

	_, err := repo.GetByToken(ctx, mailbox.AccessToken)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMailboxRepository_ListExpired(t *testing.T) {
	repo := NewMailboxRepository(newTestDB(t))
	ctx := context.Background()

	expired := newTestMailbox("old@tempmail.local", -time.Minute)
	live := newTestMailbox("new@tempmail.local", time.Hour)
	inactive := newTestMailbox("off@tempmail.local", -time.Minute)
	require.NoError(t, repo.Create(ctx, expired))
	require.NoError(t, repo.Create(ctx, live))
	require.NoError(t, repo.Create(ctx, inactive))
	require.NoError(t, repo.Deactivate(ctx, inactive.ID))

	list, err := repo.ListExpired(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, expired.ID, list[0].ID)
}
