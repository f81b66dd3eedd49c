package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	apiauth "github.com/evefonwu/auth-profiles/internal/api/auth"
	apiprofiles "github.com/evefonwu/auth-profiles/internal/api/profiles"
	"github.com/evefonwu/auth-profiles/internal/config"
	"github.com/evefonwu/auth-profiles/internal/database"
	"github.com/evefonwu/auth-profiles/internal/identity"
	"github.com/evefonwu/auth-profiles/internal/mailer"
	"github.com/evefonwu/auth-profiles/internal/middleware"
	"github.com/evefonwu/auth-profiles/internal/profile"
	"github.com/evefonwu/auth-profiles/internal/server"
	"github.com/evefonwu/auth-profiles/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	slog.Info("Connecting to database")
	pool, err := database.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	slog.Info("Connected to database")

	slog.Info("Running migrations")
	if err := database.RunMigrations(ctx, pool, database.Migrations()); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	slog.Info("Migrations complete")

	var m mailer.Mailer
	if cfg.SendgridAPIKey != "" {
		m = mailer.NewSendGrid(cfg.SendgridAPIKey, cfg.EmailFrom, cfg.EmailFromName)
	} else {
		slog.Warn("SENDGRID_API_KEY not set, magic links will be logged instead of emailed")
		m = mailer.NewLog()
	}

	audit := identity.NewAuditLog(pool)
	identitySvc := identity.NewService(pool, m, audit, cfg.JWTSecret, cfg.SiteURL, cfg.JWTExpiry, cfg.MagicLinkExpiry)
	profileStore := profile.NewStore(pool)

	var avatars *storage.AvatarStore
	if cfg.AvatarStorageEnabled() {
		avatars, err = storage.NewAvatarStore(ctx, storage.Options{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			Bucket:        cfg.S3Bucket,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			PublicBaseURL: cfg.AvatarPublicURL,
		})
		if err != nil {
			log.Fatalf("Failed to create avatar store: %v", err)
		}
		slog.Info("Avatar storage enabled", "bucket", cfg.S3Bucket)
	}

	srv := server.New(server.Options{
		DB:             pool,
		AuthHandler:    apiauth.NewHandler(identitySvc),
		ProfileHandler: apiprofiles.NewHandler(profileStore, avatars, cfg.AvatarMaxSizeKB),
		Callers:        middleware.NewCallerResolver(cfg.JWTSecret),
		MagicLinkRate:  cfg.MagicLinkRateLimit,
		MagicLinkBurst: cfg.MagicLinkRateBurst,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("Shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		httpServer.Shutdown(shutCtx)
		pool.Close()
	}()

	slog.Info("Server started", "host", cfg.Host, "port", cfg.Port)

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}
