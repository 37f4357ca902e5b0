package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"
	"github.com/vanishmail/vanishmail-backend/internal/models"
	"github.com/vanishmail/vanishmail-backend/internal/repository"
	"github.com/vanishmail/vanishmail-backend/internal/storage"
)

// RawMessage is a transport-neutral inbound message. SMTP delivery fills
// RawMIME; the webhook fills the pre-parsed fields directly.
type RawMessage struct {
	From    string
	To      []string
	Subject string
	RawMIME []byte
	Text    string
	HTML    string
	Headers map[string]string
}

// IngestResult reports the outcome of a delivery attempt
type IngestResult struct {
	Delivered  int
	Duplicates int
	Unknown    int
	Failed     int
}

// IngestService normalizes inbound messages and fans them out to every
// resolvable recipient mailbox. Both the SMTP session and the HTTP webhook
// feed into it.
type IngestService struct {
	mailboxes repository.MailboxRepository
	emails    repository.EmailRepository
	files     storage.FileStorage
	notifier  Notifier
	indexer   IndexEnqueuer
	logger    *slog.Logger
}

// NewIngestService creates a new IngestService
func NewIngestService(
	mailboxes repository.MailboxRepository,
	emails repository.EmailRepository,
	files storage.FileStorage,
	notifier Notifier,
	indexer IndexEnqueuer,
	logger *slog.Logger,
) *IngestService {
	return &IngestService{
		mailboxes: mailboxes,
		emails:    emails,
		files:     files,
		notifier:  notifier,
		indexer:   indexer,
		logger:    logger,
	}
}

// Ingest parses the message once, then delivers an independent copy to each
// recipient that resolves to an active, unexpired mailbox. Recipients are
// independent: an unknown, expired or failing recipient never blocks the
// rest, and an error is returned only when no recipient was delivered or
// absorbed as a duplicate.
func (s *IngestService) Ingest(ctx context.Context, raw *RawMessage) (*IngestResult, error) {
	parsed := s.normalize(raw)
	result := &IngestResult{}
	now := time.Now().UTC()
	var lastErr error

	for _, recipient := range raw.To {
		address := normalizeAddress(recipient)
		if address == "" {
			continue
		}

		mailbox, err := s.mailboxes.GetByAddress(ctx, address)
		if err != nil {
			result.Unknown++
			continue
		}
		if !mailbox.IsValid(now) {
			result.Unknown++
			continue
		}

		dedupKey := DedupKey(parsed.from, parsed.subject, address, parsed.messageID)
		exists, err := s.emails.ExistsByDedupKey(ctx, mailbox.ID, dedupKey)
		if err != nil {
			result.Failed++
			lastErr = err
			if s.logger != nil {
				s.logger.Error("dedup lookup failed",
					slog.String("recipient", address),
					slog.Any("error", err))
			}
			continue
		}
		if exists {
			result.Duplicates++
			continue
		}

		email, err := s.deliver(ctx, mailbox, parsed, dedupKey, now)
		if err != nil {
			result.Failed++
			lastErr = err
			if s.logger != nil {
				s.logger.Error("delivery failed",
					slog.String("recipient", address),
					slog.Any("error", err))
			}
			continue
		}
		result.Delivered++

		if s.notifier != nil {
			s.notifier.Publish(mailbox.AccessToken, models.EmailSummary{
				ID:             email.ID,
				From:           email.FromAddress,
				Subject:        email.Subject,
				ReceivedAt:     email.ReceivedAt,
				HasAttachments: email.HasAttachments(),
			})
		}
		if s.indexer != nil {
			if err := s.indexer.EnqueueIndexEmail(ctx, email.ID, mailbox.ID); err != nil && s.logger != nil {
				s.logger.Warn("failed to enqueue index job",
					slog.String("email_id", email.ID),
					slog.Any("error", err))
			}
		}
	}

	if s.logger != nil {
		s.logger.Info("message ingested",
			slog.String("from", parsed.from),
			slog.Int("delivered", result.Delivered),
			slog.Int("duplicates", result.Duplicates),
			slog.Int("unknown", result.Unknown),
			slog.Int("failed", result.Failed))
	}
	if result.Delivered == 0 && result.Duplicates == 0 && lastErr != nil {
		return result, lastErr
	}
	return result, nil
}

// parsedMessage is the normalized form shared by all recipients
type parsedMessage struct {
	from        string
	subject     string
	textBody    string
	htmlBody    string
	headers     map[string]string
	messageID   string
	attachments []parsedAttachment
}

type parsedAttachment struct {
	filename    string
	contentType string
	content     []byte
}

// normalize produces the canonical parsed form. MIME content is parsed with
// enmime; a message that fails MIME parsing degrades to a flat text body
// instead of being dropped.
func (s *IngestService) normalize(raw *RawMessage) *parsedMessage {
	parsed := &parsedMessage{
		from:     normalizeAddress(raw.From),
		subject:  raw.Subject,
		textBody: raw.Text,
		htmlBody: raw.HTML,
		headers:  map[string]string{},
	}
	for k, v := range raw.Headers {
		parsed.headers[k] = v
	}

	if len(raw.RawMIME) > 0 {
		env, err := enmime.ReadEnvelope(bytes.NewReader(raw.RawMIME))
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("mime parse failed, storing flat body", slog.Any("error", err))
			}
			parsed.textBody = string(raw.RawMIME)
		} else {
			if subject := env.GetHeader("Subject"); subject != "" {
				parsed.subject = subject
			}
			parsed.textBody = env.Text
			parsed.htmlBody = env.HTML
			for _, key := range env.GetHeaderKeys() {
				parsed.headers[key] = env.GetHeader(key)
			}
			for _, part := range env.Attachments {
				parsed.attachments = append(parsed.attachments, parsedAttachment{
					filename:    part.FileName,
					contentType: part.ContentType,
					content:     part.Content,
				})
			}
		}
	}

	if id, ok := parsed.headers["Message-Id"]; ok && parsed.messageID == "" {
		parsed.messageID = id
	}
	if id, ok := parsed.headers["Message-ID"]; ok {
		parsed.messageID = id
	}
	return parsed
}

// deliver stores one recipient's copy: attachment bytes first, then the
// email row with its attachment rows
func (s *IngestService) deliver(ctx context.Context, mailbox *models.Mailbox, parsed *parsedMessage, dedupKey string, now time.Time) (*models.Email, error) {
	email := &models.Email{
		ID:          uuid.NewString(),
		MailboxID:   mailbox.ID,
		FromAddress: parsed.from,
		ToAddresses: models.StringList{mailbox.Address},
		Subject:     parsed.subject,
		TextBody:    parsed.textBody,
		HTMLBody:    parsed.htmlBody,
		Headers:     parsed.headers,
		DedupKey:    dedupKey,
		ReceivedAt:  now,
		IsRead:      false,
	}

	// Each recipient gets its own stored copy so per-mailbox deletion
	// never reaches into another mailbox's bytes.
	for _, att := range parsed.attachments {
		ref := ""
		if s.files != nil {
			saved, err := s.files.Save(att.filename, bytes.NewReader(att.content))
			if err != nil {
				if s.logger != nil {
					s.logger.Warn("failed to store attachment",
						slog.String("filename", att.filename),
						slog.Any("error", err))
				}
			} else {
				ref = saved
			}
		}
		email.Attachments = append(email.Attachments, models.Attachment{
			ID:          uuid.NewString(),
			EmailID:     email.ID,
			Filename:    att.filename,
			ContentType: att.contentType,
			SizeBytes:   int64(len(att.content)),
			StorageRef:  ref,
		})
	}

	if err := s.emails.Create(ctx, email); err != nil {
		// Roll back stored bytes so a failed insert leaves no orphans behind
		for _, a := range email.Attachments {
			if a.StorageRef != "" && s.files != nil {
				s.files.Delete(a.StorageRef)
			}
		}
		return nil, fmt.Errorf("failed to store email: %w", err)
	}
	return email, nil
}

// DedupKey derives the redelivery fingerprint of a message for one
// recipient. Without a Message-ID there is no reliable identity, so the key
// is empty and never matches.
func DedupKey(from, subject, recipient, messageID string) string {
	if messageID == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(from + "|" + subject + "|" + recipient + "|" + messageID))
	return hex.EncodeToString(sum[:])
}

// normalizeAddress lowercases and strips an optional display-name wrapper
func normalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if start := strings.LastIndex(address, "<"); start != -1 {
		if end := strings.LastIndex(address, ">"); end > start {
			address = address[start+1 : end]
		}
	}
	return strings.ToLower(strings.TrimSpace(address))
}
