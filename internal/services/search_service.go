package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/meilisearch/meilisearch-go"
	"github.com/vanishmail/vanishmail-backend/internal/models"
)

const searchIndexName = "emails"

// SearchService implements Searcher on top of Meilisearch. The index is a
// rebuildable cache: when no host is configured the service runs in degraded
// mode, returning empty results and accepting deletes silently.
type SearchService struct {
	client *meilisearch.Client
	logger *slog.Logger
}

// NewSearchService creates a SearchService. An empty host disables search.
func NewSearchService(host, apiKey string, logger *slog.Logger) *SearchService {
	if host == "" {
		return &SearchService{logger: logger}
	}
	client := meilisearch.NewClient(meilisearch.ClientConfig{
		Host:   host,
		APIKey: apiKey,
	})
	return &SearchService{client: client, logger: logger}
}

// Enabled reports whether a search backend is configured
func (s *SearchService) Enabled() bool {
	return s.client != nil
}

// EnsureIndex creates the email index and applies its attribute settings.
// Safe to call on every startup.
func (s *SearchService) EnsureIndex(ctx context.Context) error {
	if s.client == nil {
		return nil
	}

	if _, err := s.client.GetIndex(searchIndexName); err != nil {
		if _, err := s.client.CreateIndex(&meilisearch.IndexConfig{
			Uid:        searchIndexName,
			PrimaryKey: "id",
		}); err != nil {
			return fmt.Errorf("failed to create search index: %w", err)
		}
	}

	_, err := s.client.Index(searchIndexName).UpdateSettings(&meilisearch.Settings{
		SearchableAttributes: []string{"from", "subject", "textBody"},
		FilterableAttributes: []string{"mailboxId", "receivedAt"},
		SortableAttributes:   []string{"receivedAt"},
	})
	if err != nil {
		return fmt.Errorf("failed to update index settings: %w", err)
	}
	return nil
}

// IndexEmail upserts one email's search projection
func (s *SearchService) IndexEmail(ctx context.Context, email *models.Email) error {
	if s.client == nil {
		return nil
	}

	doc := SearchHit{
		ID:         email.ID,
		MailboxID:  email.MailboxID,
		From:       email.FromAddress,
		Subject:    email.Subject,
		TextBody:   email.TextBody,
		ReceivedAt: email.ReceivedAt.Unix(),
	}
	if _, err := s.client.Index(searchIndexName).AddDocuments([]SearchHit{doc}); err != nil {
		return fmt.Errorf("failed to index email: %w", err)
	}
	return nil
}

// Search runs a query filtered to one mailbox, newest first
func (s *SearchService) Search(ctx context.Context, mailboxID, query string, limit, offset int) (*SearchResult, error) {
	if s.client == nil {
		return &SearchResult{Hits: []SearchHit{}}, nil
	}

	resp, err := s.client.Index(searchIndexName).Search(query, &meilisearch.SearchRequest{
		Filter: fmt.Sprintf("mailboxId = %q", mailboxID),
		Sort:   []string{"receivedAt:desc"},
		Limit:  int64(limit),
		Offset: int64(offset),
	})
	if err != nil {
		return nil, fmt.Errorf("search query failed: %w", err)
	}

	hits := make([]SearchHit, 0, len(resp.Hits))
	for _, raw := range resp.Hits {
		encoded, err := json.Marshal(raw)
		if err != nil {
			continue
		}
		var hit SearchHit
		if err := json.Unmarshal(encoded, &hit); err != nil {
			continue
		}
		hits = append(hits, hit)
	}
	return &SearchResult{
		Hits:  hits,
		Total: resp.EstimatedTotalHits,
	}, nil
}

// DeleteEmail removes one email's search entry
func (s *SearchService) DeleteEmail(ctx context.Context, emailID string) error {
	if s.client == nil {
		return nil
	}
	if _, err := s.client.Index(searchIndexName).DeleteDocument(emailID); err != nil {
		return fmt.Errorf("failed to delete search document: %w", err)
	}
	return nil
}

// DeleteMailbox removes every search entry belonging to a mailbox
func (s *SearchService) DeleteMailbox(ctx context.Context, mailboxID string) error {
	if s.client == nil {
		return nil
	}
	filter := fmt.Sprintf("mailboxId = %q", mailboxID)
	if _, err := s.client.Index(searchIndexName).DeleteDocumentsByFilter(filter); err != nil {
		return fmt.Errorf("failed to delete mailbox search documents: %w", err)
	}
	if s.logger != nil {
		s.logger.Debug("search entries removed", slog.String("mailbox_id", mailboxID))
	}
	return nil
}
