package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobKind discriminates job payloads
type JobKind string

const (
	// KindCleanup sweeps expired mailboxes
	KindCleanup JobKind = "cleanup"
	// KindIndexEmail indexes one stored email for search
	KindIndexEmail JobKind = "index-email"
	// KindOrphanCleanup removes attachment files no row references
	KindOrphanCleanup JobKind = "orphan-cleanup"
)

// Queue names, one per job kind
const (
	QueueCleanup = "cleanup"
	QueueIndexer = "indexer"
	QueueOrphan  = "orphan-cleanup"
)

// Default retry policy for index jobs
const (
	DefaultMaxAttempts = 3
	backoffBase        = 2 * time.Second
)

// IndexEmailPayload identifies the email to index
type IndexEmailPayload struct {
	EmailID   string `json:"emailId"`
	MailboxID string `json:"mailboxId"`
}

// Job is one unit of background work. Payload holds the kind-specific
// fields; the sweep and orphan kinds carry none.
type Job struct {
	ID          string          `json:"id"`
	Kind        JobKind         `json:"kind"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	EnqueuedAt  time.Time       `json:"enqueuedAt"`
	LastError   string          `json:"lastError,omitempty"`
}

// NewCleanupJob creates an expired-mailbox sweep job
func NewCleanupJob() *Job {
	return &Job{
		ID:          uuid.NewString(),
		Kind:        KindCleanup,
		MaxAttempts: 1,
		EnqueuedAt:  time.Now().UTC(),
	}
}

// NewOrphanCleanupJob creates an orphaned-attachment sweep job
func NewOrphanCleanupJob() *Job {
	return &Job{
		ID:          uuid.NewString(),
		Kind:        KindOrphanCleanup,
		MaxAttempts: 1,
		EnqueuedAt:  time.Now().UTC(),
	}
}

// NewIndexEmailJob creates a search-indexing job for one email
func NewIndexEmailJob(emailID, mailboxID string) (*Job, error) {
	payload, err := json.Marshal(IndexEmailPayload{
		EmailID:   emailID,
		MailboxID: mailboxID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return &Job{
		ID:          uuid.NewString(),
		Kind:        KindIndexEmail,
		Payload:     payload,
		MaxAttempts: DefaultMaxAttempts,
		EnqueuedAt:  time.Now().UTC(),
	}, nil
}

// IndexEmailPayload decodes the payload of an index-email job
func (j *Job) IndexEmailPayload() (*IndexEmailPayload, error) {
	if j.Kind != KindIndexEmail {
		return nil, fmt.Errorf("job %s has kind %s, not %s", j.ID, j.Kind, KindIndexEmail)
	}
	var payload IndexEmailPayload
	if err := json.Unmarshal(j.Payload, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	return &payload, nil
}

// Backoff returns the delay before the next retry attempt. The delay
// doubles with each failed attempt.
func (j *Job) Backoff() time.Duration {
	shift := j.Attempts - 1
	if shift < 0 {
		shift = 0
	}
	if shift > 10 {
		shift = 10
	}
	return backoffBase * (1 << shift)
}
