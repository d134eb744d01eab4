package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"promptdeck/api/internal/app"
	"promptdeck/api/internal/authpw"
	"promptdeck/api/internal/avatar"
	"promptdeck/api/internal/config"
	"promptdeck/api/internal/email"
	"promptdeck/api/internal/identity"
	"promptdeck/api/internal/realtime"
	"promptdeck/api/internal/search"
	"promptdeck/api/internal/session"
	"promptdeck/api/internal/social"
	"promptdeck/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
	}

	emailService := email.NewService(email.Config{
		Host:       cfg.SMTPHost,
		Port:       cfg.SMTPPort,
		Username:   cfg.SMTPUsername,
		Password:   cfg.SMTPPassword,
		From:       cfg.SMTPFrom,
		FromName:   cfg.SMTPFromName,
		AppBaseURL: cfg.AppBaseURL,
	})

	var notifier social.CommentNotifier
	if emailService.IsConfigured() {
		notifier = email.NewCommentMailer(emailService, dataStore)
	}

	// Redis backs both refresh sessions and live count notifications. Without
	// it refresh sessions fall back to postgres and live counts are disabled.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("invalid redis url: %v", err)
		}
		redisClient = redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Printf("WARNING: redis unreachable, falling back to postgres sessions: %v", err)
			_ = redisClient.Close()
			redisClient = nil
		}
	}

	var publisher social.Publisher
	if redisClient != nil {
		publisher = realtime.NewPublisher(redisClient)
	}
	engagement := social.NewService(dataStore, publisher, notifier)
	resolver := identity.NewResolver(dataStore, cfg.FounderEmail)

	var service *app.Service
	if redisClient != nil {
		log.Printf("Using Redis for refresh token storage")
		redisStore := session.NewRedisStoreWithClient(redisClient)
		defer redisStore.Close()
		service = app.NewWithSessionStore(cfg, dataStore, redisStore, resolver, engagement, searchService)
		service.SetRealtimeBridge(realtime.NewBridge(redisClient, engagement))
	} else {
		log.Printf("Using PostgreSQL for refresh token storage")
		service = app.New(cfg, dataStore, resolver, engagement, searchService)
	}

	service.SetAuthPasswordService(authpw.NewService(dataStore))
	service.SetEmailService(emailService)

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		avatarService, err := avatar.NewService(
			cfg.MinioEndpoint,
			cfg.MinioAccessKey,
			cfg.MinioSecretKey,
			cfg.MinioBucket,
			cfg.MinioPublicURL,
			cfg.MinioUseSSL,
		)
		if err != nil {
			log.Fatalf("avatar storage failed: %v", err)
		}
		service.SetAvatarService(avatarService)
	}

	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("WARNING: bootstrap error (will retry on next restart): %v", err)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Promptdeck API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
