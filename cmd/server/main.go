package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/vanishmail/vanishmail-backend/internal/api"
	"github.com/vanishmail/vanishmail-backend/internal/config"
	"github.com/vanishmail/vanishmail-backend/internal/database"
	"github.com/vanishmail/vanishmail-backend/internal/jobs"
	"github.com/vanishmail/vanishmail-backend/internal/logger"
	"github.com/vanishmail/vanishmail-backend/internal/queue"
	"github.com/vanishmail/vanishmail-backend/internal/repository"
	"github.com/vanishmail/vanishmail-backend/internal/rotation"
	"github.com/vanishmail/vanishmail-backend/internal/services"
	smtpserver "github.com/vanishmail/vanishmail-backend/internal/smtp"
	"github.com/vanishmail/vanishmail-backend/internal/storage"
	"github.com/vanishmail/vanishmail-backend/internal/websocket"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.LoadWithValidation()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)
	cfg.LogConfig(log)

	// Database
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer database.Close(db)

	if err := database.Migrate(db); err != nil {
		log.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	// Redis with endpoint rotation
	rotationMgr, err := rotation.NewManager(&rotation.ManagerConfig{
		Endpoints:   cfg.RedisURLs,
		StatePath:   cfg.RotationStatePath,
		DialTimeout: cfg.RedisDialTimeout,
		Logger:      log,
	})
	if err != nil {
		log.Error("failed to start redis rotation manager", slog.Any("error", err))
		os.Exit(1)
	}
	defer rotationMgr.Close()

	// Attachment storage
	fileStorage, err := storage.NewLocalStorage(cfg.AttachmentStoragePath)
	if err != nil {
		log.Error("failed to initialize file storage", slog.Any("error", err))
		os.Exit(1)
	}

	// Search
	searchSvc := services.NewSearchService(cfg.MeilisearchHost, cfg.MeilisearchAPIKey, log)
	if searchSvc.Enabled() {
		if err := searchSvc.EnsureIndex(context.Background()); err != nil {
			log.Warn("failed to prepare search index", slog.Any("error", err))
		}
	}

	// Repositories
	mailboxRepo := repository.NewMailboxRepository(db)
	emailRepo := repository.NewEmailRepository(db)

	// Queues
	cleanupQueue := queue.New(rotationMgr, queue.QueueCleanup, log)
	indexerQueue := queue.New(rotationMgr, queue.QueueIndexer, log)
	orphanQueue := queue.New(rotationMgr, queue.QueueOrphan, log)

	// WebSocket hub
	hub := websocket.NewHub(log)
	go hub.Run()
	defer hub.Stop()

	// Services
	mailboxSvc := services.NewMailboxService(&services.MailboxServiceConfig{
		Mailboxes:  mailboxRepo,
		Emails:     emailRepo,
		Files:      fileStorage,
		Search:     searchSvc,
		Notifier:   hub,
		Domains:    cfg.EmailDomains,
		DefaultTTL: cfg.DefaultMailboxTTL,
		Logger:     log,
	})
	emailSvc := services.NewEmailService(emailRepo, fileStorage, searchSvc)
	ingestSvc := services.NewIngestService(mailboxRepo, emailRepo, fileStorage, hub,
		queue.NewIndexEnqueuer(indexerQueue), log)

	// Background workers
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cleanupWorker := jobs.NewCleanupWorker(cleanupQueue, mailboxSvc, log)
	cleanupWorker.Start(ctx)
	defer cleanupWorker.Stop()

	indexWorker := jobs.NewIndexWorker(indexerQueue, emailRepo, searchSvc, log)
	indexWorker.Start(ctx)
	defer indexWorker.Stop()

	orphanWorker := jobs.NewOrphanWorker(orphanQueue, emailRepo, fileStorage, log)
	orphanWorker.Start(ctx)
	defer orphanWorker.Stop()

	scheduler := jobs.NewScheduler(cleanupQueue, orphanQueue, log)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	// HTTP server
	router := api.NewRouter(&api.RouterConfig{
		DB:             db,
		Mailboxes:      mailboxSvc,
		Emails:         emailSvc,
		Ingest:         ingestSvc,
		FileStorage:    fileStorage,
		Hub:            hub,
		Rotation:       rotationMgr,
		AllowedOrigins: splitOrigins(cfg.AllowedOrigins),
		AppEnv:         cfg.AppEnv,
		Logger:         log,
	})

	go func() {
		addr := fmt.Sprintf(":%d", cfg.APIPort)
		log.Info("starting HTTP server", slog.String("addr", addr))
		if err := router.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server stopped", slog.Any("error", err))
			cancel()
		}
	}()

	// SMTP server
	smtpBackend := smtpserver.NewBackend(mailboxSvc, ingestSvc, log)
	smtpSrv := smtpserver.NewServer(smtpBackend, &smtpserver.ServerConfig{
		Addr:           fmt.Sprintf(":%d", cfg.SMTPPort),
		Domain:         cfg.EmailDomains[0],
		MaxMessageSize: cfg.MaxMessageSize,
		ReadTimeout:    cfg.SMTPReadTimeout,
		WriteTimeout:   cfg.SMTPWriteTimeout,
	})

	go func() {
		log.Info("starting SMTP server", slog.String("addr", smtpSrv.Addr))
		if err := smtpSrv.ListenAndServe(); err != nil {
			log.Error("SMTP server stopped", slog.Any("error", err))
			cancel()
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info("shutdown signal received")
	case <-ctx.Done():
		log.Info("a server stopped, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := smtpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("SMTP shutdown error", slog.Any("error", err))
	}
	if err := router.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown error", slog.Any("error", err))
	}

	log.Info("server stopped")
}

func splitOrigins(origins string) []string {
	if origins == "" {
		return nil
	}
	parts := strings.Split(origins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
