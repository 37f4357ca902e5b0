package api

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/vanishmail/vanishmail-backend/internal/api/handlers"
	"github.com/vanishmail/vanishmail-backend/internal/api/middleware"
	"github.com/vanishmail/vanishmail-backend/internal/rotation"
	"github.com/vanishmail/vanishmail-backend/internal/services"
	"github.com/vanishmail/vanishmail-backend/internal/storage"
	"github.com/vanishmail/vanishmail-backend/internal/websocket"
	"gorm.io/gorm"
)

// RouterConfig holds dependencies for the router
type RouterConfig struct {
	DB             *gorm.DB
	Mailboxes      *services.MailboxService
	Emails         *services.EmailService
	Ingest         *services.IngestService
	FileStorage    storage.FileStorage
	Hub            *websocket.Hub
	Rotation       *rotation.Manager
	AllowedOrigins []string
	AppEnv         string
	Logger         *slog.Logger
}

// NewRouter creates and configures the Echo router with all routes
func NewRouter(cfg *RouterConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORS(cfg.AllowedOrigins, cfg.AppEnv))
	if cfg.Logger != nil {
		e.Use(middleware.RequestLogger(cfg.Logger))
	}

	healthHandler := handlers.NewHealthHandler(cfg.DB, cfg.Rotation)
	mailboxHandler := handlers.NewMailboxHandler(cfg.Mailboxes)
	emailHandler := handlers.NewEmailHandler(cfg.Mailboxes, cfg.Emails)
	attachmentHandler := handlers.NewAttachmentHandler(cfg.Mailboxes, cfg.Emails, cfg.FileStorage)
	webhookHandler := handlers.NewWebhookHandler(cfg.Ingest)

	e.GET("/health", healthHandler.Health)
	e.GET("/ready", healthHandler.Ready)

	api := e.Group("/api")

	// Mailbox routes; the access token in the path is the credential
	mailboxes := api.Group("/mailboxes")
	mailboxes.POST("", mailboxHandler.Create)
	mailboxes.GET("/:token", mailboxHandler.Get)
	mailboxes.POST("/:token/extend", mailboxHandler.Extend)
	mailboxes.DELETE("/:token", mailboxHandler.Delete)

	// Email routes (nested under mailboxes)
	mailboxes.GET("/:token/emails", emailHandler.List)
	mailboxes.GET("/:token/emails/search", emailHandler.Search)
	mailboxes.GET("/:token/emails/:id", emailHandler.Get)
	mailboxes.PATCH("/:token/emails/:id/read", emailHandler.MarkRead)
	mailboxes.DELETE("/:token/emails/:id", emailHandler.Delete)

	// Attachment download
	mailboxes.GET("/:token/emails/:id/attachments/:attachment_id", attachmentHandler.Download)

	// Inbound mail webhook
	api.POST("/webhook/inbound", webhookHandler.Inbound)

	// Live notifications
	if cfg.Hub != nil {
		e.GET("/ws/:token", func(c echo.Context) error {
			return websocket.ServeWS(cfg.Hub, cfg.Mailboxes, c.Response(), c.Request(), c.Param("token"), cfg.Logger)
		})
	}

	return e
}
