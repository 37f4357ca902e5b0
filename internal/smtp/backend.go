package smtp

import (
	"log/slog"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/vanishmail/vanishmail-backend/internal/services"
)

// Security limits
const (
	DefaultMaxMessageSize = 10 * 1024 * 1024 // 10 MB
	DefaultMaxRecipients  = 50
	DefaultReadTimeout    = 60 * time.Second
	DefaultWriteTimeout   = 30 * time.Second
	DefaultMaxLineLength  = 2000
)

// Backend implements the go-smtp Backend interface. Every connection gets
// its own Session backed by the shared services.
type Backend struct {
	mailboxes *services.MailboxService
	ingest    *services.IngestService
	logger    *slog.Logger
}

// NewBackend creates a new SMTP backend
func NewBackend(mailboxes *services.MailboxService, ingest *services.IngestService, logger *slog.Logger) *Backend {
	return &Backend{
		mailboxes: mailboxes,
		ingest:    ingest,
		logger:    logger,
	}
}

// NewSession creates a new SMTP session
func (b *Backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	if b.logger != nil {
		b.logger.Debug("new SMTP connection", slog.String("remote_addr", c.Conn().RemoteAddr().String()))
	}
	return NewSession(b), nil
}

// ServerConfig holds listener configuration for the SMTP server
type ServerConfig struct {
	Addr           string
	Domain         string
	MaxMessageSize int64
	MaxRecipients  int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// NewServer creates an SMTP server with size and timeout limits applied
func NewServer(backend *Backend, cfg *ServerConfig) *smtp.Server {
	s := smtp.NewServer(backend)

	s.Addr = cfg.Addr
	s.Domain = cfg.Domain

	if cfg.MaxMessageSize > 0 {
		s.MaxMessageBytes = cfg.MaxMessageSize
	} else {
		s.MaxMessageBytes = DefaultMaxMessageSize
	}

	if cfg.MaxRecipients > 0 {
		s.MaxRecipients = cfg.MaxRecipients
	} else {
		s.MaxRecipients = DefaultMaxRecipients
	}

	if cfg.ReadTimeout > 0 {
		s.ReadTimeout = cfg.ReadTimeout
	} else {
		s.ReadTimeout = DefaultReadTimeout
	}

	if cfg.WriteTimeout > 0 {
		s.WriteTimeout = cfg.WriteTimeout
	} else {
		s.WriteTimeout = DefaultWriteTimeout
	}

	// Receiving only, no relay, no auth
	s.AllowInsecureAuth = false
	s.MaxLineLength = DefaultMaxLineLength

	return s
}
