package smtp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/vanishmail/vanishmail-backend/internal/services"
)

// sessionState tracks the SMTP command sequence explicitly
type sessionState int

const (
	stateInit sessionState = iota
	stateMail
	stateRcpt
)

// Session implements the go-smtp Session interface as a small state
// machine: MAIL moves init to mail, RCPT moves mail to rcpt, DATA requires
// rcpt and resets back to init.
type Session struct {
	backend    *Backend
	state      sessionState
	from       string
	recipients []string
}

// NewSession creates a new SMTP session
func NewSession(backend *Backend) *Session {
	return &Session{
		backend:    backend,
		state:      stateInit,
		recipients: make([]string, 0),
	}
}

// AuthPlain accepts any credentials; the server only receives mail
func (s *Session) AuthPlain(username, password string) error {
	return nil
}

// Mail handles the MAIL FROM command
func (s *Session) Mail(from string, opts *smtp.MailOptions) error {
	s.from = from
	s.recipients = s.recipients[:0]
	s.state = stateMail
	if s.backend.logger != nil {
		s.backend.logger.Debug("MAIL FROM", slog.String("from", from))
	}
	return nil
}

// Rcpt handles the RCPT TO command. Recipients are validated here so that
// senders to unknown or expired mailboxes get a rejection before DATA.
func (s *Session) Rcpt(to string, opts *smtp.RcptOptions) error {
	if s.state == stateInit {
		return &smtp.SMTPError{
			Code:         503,
			EnhancedCode: smtp.EnhancedCode{5, 5, 1},
			Message:      "MAIL FROM required first",
		}
	}

	_, domain, err := parseEmailAddress(to)
	if err != nil {
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      "Invalid recipient address",
		}
	}

	if !s.backend.mailboxes.AllowedDomain(domain) {
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      "Domain not handled here",
		}
	}

	ctx := context.Background()
	mailbox, err := s.backend.mailboxes.GetByAddress(ctx, to)
	if err != nil {
		if errors.Is(err, services.ErrMailboxNotFound) {
			return &smtp.SMTPError{
				Code:         550,
				EnhancedCode: smtp.EnhancedCode{5, 1, 1},
				Message:      "Mailbox not found",
			}
		}
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "Temporary error",
		}
	}
	if !mailbox.IsValid(time.Now().UTC()) {
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      "Mailbox expired",
		}
	}

	s.recipients = append(s.recipients, to)
	s.state = stateRcpt
	if s.backend.logger != nil {
		s.backend.logger.Debug("RCPT TO", slog.String("to", to))
	}
	return nil
}

// Data handles the DATA command. The raw MIME bytes are read once, under
// the server's size limit, and handed to the ingest pipeline which fans out
// to all accepted recipients.
func (s *Session) Data(r io.Reader) error {
	if s.state != stateRcpt || len(s.recipients) == 0 {
		return &smtp.SMTPError{
			Code:         503,
			EnhancedCode: smtp.EnhancedCode{5, 5, 1},
			Message:      "No recipients specified",
		}
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "Failed to read message",
		}
	}

	result, err := s.backend.ingest.Ingest(context.Background(), &services.RawMessage{
		From:    s.from,
		To:      s.recipients,
		RawMIME: raw,
	})
	if err != nil {
		if s.backend.logger != nil {
			s.backend.logger.Error("failed to ingest message",
				slog.String("from", s.from),
				slog.Any("error", err))
		}
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "Temporary error",
		}
	}

	if s.backend.logger != nil {
		s.backend.logger.Info("message accepted",
			slog.String("from", s.from),
			slog.Int("recipients", len(s.recipients)),
			slog.Int("delivered", result.Delivered))
	}

	s.state = stateInit
	s.from = ""
	s.recipients = s.recipients[:0]
	return nil
}

// Reset resets the session state
func (s *Session) Reset() {
	s.state = stateInit
	s.from = ""
	s.recipients = s.recipients[:0]
}

// Logout handles the end of the session
func (s *Session) Logout() error {
	return nil
}
