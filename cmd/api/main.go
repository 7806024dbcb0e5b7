package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"morningpulse/api/internal/app"
	"morningpulse/api/internal/config"
	"morningpulse/api/internal/docstore"
	"morningpulse/api/internal/email"
	"morningpulse/api/internal/logging"
	"morningpulse/api/internal/search"
	"morningpulse/api/internal/session"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	var (
		feed        docstore.Feed = docstore.NewMemoryFeed()
		redisClient *redis.Client
	)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		client, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer client.Close()
		redisClient = client
		feed = docstore.NewRedisFeed(client, logger)
		logger.Info().Msg("using redis change feed and anonymous sessions")
	}

	store, closeStore, err := openStore(ctx, cfg, feed, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("document store unavailable")
	}
	defer closeStore()

	deps := app.Dependencies{}
	if redisClient != nil {
		deps.Sessions = session.NewRedisStoreWithClient(redisClient, cfg.AnonSessionTTL)
	}
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
		deps.Meili = meiliClient
	}
	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if mailer.IsConfigured() {
		deps.Mailer = mailer
	} else {
		logger.Info().Msg("smtp not configured, mention emails disabled")
	}

	service := app.New(cfg, store, deps, logger)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, cfg.WriteRatePerMinute, logger)
	server := app.NewServer(cfg.Addr, httpServer.Handler())

	go func() {
		logger.Info().Str("addr", cfg.Addr).Str("backend", cfg.StoreBackend).Msg("Morning Pulse API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
	service.Wait()
}

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func openStore(ctx context.Context, cfg config.Config, feed docstore.Feed, logger zerolog.Logger) (docstore.Store, func(), error) {
	switch cfg.StoreBackend {
	case "memory", "":
		logger.Warn().Msg("using in-memory document store, data is lost on restart")
		return docstore.NewMemoryStore(docstore.WithFeed(feed), docstore.WithLogger(logger)), func() {}, nil
	case "postgres":
		pool, err := docstore.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := docstore.ApplyMigrations(ctx, pool, cfg.MigrationsDir); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("apply migrations: %w", err)
		}
		return docstore.NewPostgresStore(pool, feed, logger), pool.Close, nil
	case "mongo":
		client, err := docstore.OpenMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(disconnectCtx)
		}
		return docstore.NewMongoStore(client.Database(cfg.MongoDatabase), feed, logger), closeFn, nil
	default:
		return nil, nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
}
