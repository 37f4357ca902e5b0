package services

import (
	"context"

	"github.com/vanishmail/vanishmail-backend/internal/models"
)

// Searcher is the narrow contract the core holds against the full-text
// index. The index is a cache, not a source of truth: implementations must
// degrade gracefully (empty results, silent deletes) when the backing index
// is absent.
type Searcher interface {
	IndexEmail(ctx context.Context, email *models.Email) error
	Search(ctx context.Context, mailboxID, query string, limit, offset int) (*SearchResult, error)
	DeleteEmail(ctx context.Context, emailID string) error
	DeleteMailbox(ctx context.Context, mailboxID string) error
}

// SearchResult is a page of search hits
type SearchResult struct {
	Hits  []SearchHit `json:"hits"`
	Total int64       `json:"total"`
}

// SearchHit is a single denormalized search projection
type SearchHit struct {
	ID         string `json:"id"`
	MailboxID  string `json:"mailboxId"`
	From       string `json:"from"`
	Subject    string `json:"subject"`
	TextBody   string `json:"textBody,omitempty"`
	ReceivedAt int64  `json:"receivedAt"`
}

// Notifier pushes best-effort events to live client connections. A missed
// push is self-healing (clients re-list), so no method returns an error.
type Notifier interface {
	Publish(token string, summary models.EmailSummary)
	CloseToken(token string)
}

// IndexEnqueuer hands an email off for asynchronous search indexing
type IndexEnqueuer interface {
	EnqueueIndexEmail(ctx context.Context, emailID, mailboxID string) error
}
