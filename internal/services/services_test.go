package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vanishmail/vanishmail-backend/internal/models"
	"github.com/vanishmail/vanishmail-backend/internal/repository"
	"github.com/vanishmail/vanishmail-backend/internal/storage"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// testEnv bundles the sqlite-backed dependencies shared by service tests
type testEnv struct {
	db        *gorm.DB
	mailboxes repository.MailboxRepository
	emails    repository.EmailRepository
	files     storage.FileStorage
	search    *fakeSearcher
	notifier  *fakeNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Mailbox{}, &models.Email{}, &models.Attachment{}))

	files, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	return &testEnv{
		db:        db,
		mailboxes: repository.NewMailboxRepository(db),
		emails:    repository.NewEmailRepository(db),
		files:     files,
		search:    &fakeSearcher{},
		notifier:  &fakeNotifier{},
	}
}

func (e *testEnv) mailboxService(domains ...string) *MailboxService {
	if len(domains) == 0 {
		domains = []string{"tempmail.local"}
	}
	return NewMailboxService(&MailboxServiceConfig{
		Mailboxes:  e.mailboxes,
		Emails:     e.emails,
		Files:      e.files,
		Search:     e.search,
		Notifier:   e.notifier,
		Domains:    domains,
		DefaultTTL: time.Hour,
	})
}

// fakeSearcher records index mutations in memory
type fakeSearcher struct {
	mu              sync.Mutex
	indexed         []string
	deletedEmails   []string
	deletedMailboxs []string
}

func (f *fakeSearcher) IndexEmail(_ context.Context, email *models.Email) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, email.ID)
	return nil
}

func (f *fakeSearcher) Search(_ context.Context, _, _ string, _, _ int) (*SearchResult, error) {
	return &SearchResult{Hits: []SearchHit{}}, nil
}

func (f *fakeSearcher) DeleteEmail(_ context.Context, emailID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedEmails = append(f.deletedEmails, emailID)
	return nil
}

func (f *fakeSearcher) DeleteMailbox(_ context.Context, mailboxID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedMailboxs = append(f.deletedMailboxs, mailboxID)
	return nil
}

// fakeNotifier records published summaries and closed tokens
type fakeNotifier struct {
	mu        sync.Mutex
	published map[string][]models.EmailSummary
	closed    []string
}

func (f *fakeNotifier) Publish(token string, summary models.EmailSummary) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.published == nil {
		f.published = make(map[string][]models.EmailSummary)
	}
	f.published[token] = append(f.published[token], summary)
}

func (f *fakeNotifier) CloseToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, token)
}

// fakeEnqueuer records enqueued index requests
type fakeEnqueuer struct {
	mu       sync.Mutex
	enqueued []string
}

func (f *fakeEnqueuer) EnqueueIndexEmail(_ context.Context, emailID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, emailID)
	return nil
}
