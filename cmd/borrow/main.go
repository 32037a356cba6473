package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rfichi/borrowed-book-api/internal/featureflags"
	"github.com/rfichi/borrowed-book-api/internal/handler"
	"github.com/rfichi/borrowed-book-api/internal/infrastructure/logger"
	"github.com/rfichi/borrowed-book-api/internal/infrastructure/redis"
	"github.com/rfichi/borrowed-book-api/internal/migrations"
	"github.com/rfichi/borrowed-book-api/internal/observability/tracing"
	"github.com/rfichi/borrowed-book-api/internal/peer"
	"github.com/rfichi/borrowed-book-api/internal/repository"
	"github.com/rfichi/borrowed-book-api/internal/security/auth"
	"github.com/rfichi/borrowed-book-api/internal/server"
	"github.com/rfichi/borrowed-book-api/internal/service"
	"github.com/rfichi/borrowed-book-api/internal/worker"
	"github.com/rfichi/borrowed-book-api/pkg/config"
	"github.com/rfichi/borrowed-book-api/pkg/database"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load(config.ServiceBorrow)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize structured logger
	log := logger.NewLogger(cfg.LogLevel).With(slog.String("service", cfg.ServiceName))
	log.Info("starting borrow service",
		slog.String("environment", cfg.Environment),
		slog.String("users_url", cfg.UsersServiceURL),
		slog.String("books_url", cfg.BooksServiceURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Tracing
	shutdownTracing, err := tracing.Init(ctx, log, cfg.OTLPEndpoint, cfg.ServiceName, cfg.Environment)
	if err != nil {
		log.Error("failed to initialize tracing", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	// 4. Connect to Postgres and apply migrations
	pool, err := database.NewConnectionPool(ctx, &database.Config{
		URL:             cfg.DatabaseURL,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	}, log)
	if err != nil {
		log.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	if err := migrations.Up(ctx, pool.GetDB().DB, cfg.ServiceName, log); err != nil {
		log.Error("failed to apply migrations", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 5. Initialize Redis client for idempotency keys
	redisClient, err := redis.NewClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Error("failed to connect to Redis", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer redisClient.Close()

	// 6. Peer clients
	peerCfg := func(baseURL string) peer.Config {
		return peer.Config{
			BaseURL:          baseURL,
			APIKey:           cfg.InternalAPIKey,
			Timeout:          cfg.PeerTimeout,
			FailureThreshold: cfg.BreakerFailureThreshold,
			SuccessThreshold: cfg.BreakerSuccessThreshold,
			OpenTimeout:      cfg.BreakerOpenTimeout,
		}
	}
	usersClient := peer.NewUsersClient(peerCfg(cfg.UsersServiceURL), log)
	booksClient := peer.NewBooksClient(peerCfg(cfg.BooksServiceURL), log)

	// 7. Initialize repositories and services
	recordRepo := repository.NewPostgresBorrowRepository(pool, log)
	idemRepo := repository.NewIdempotencyRepository(redisClient, cfg.IdempotencyTTL, log)
	borrowService := service.NewBorrowService(recordRepo, usersClient, booksClient, idemRepo, log)

	tokens, err := auth.NewTokenManager(cfg.SecretKey, cfg.Algorithm, cfg.TokenIssuer, cfg.AccessTokenTTL())
	if err != nil {
		log.Error("invalid token settings", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 8. Setup HTTP routes
	router := handler.NewRouter()
	handler.NewBorrowHandler(borrowService, log).Register(router)
	handler.NewHealthHandler(log,
		handler.Check{Name: "database", Ping: pool.Health},
		handler.Check{Name: "redis", Ping: redisClient.Ping},
	).Register(router)

	// 9. Start consistency worker in background
	if featureflags.Enabled(featureflags.ConsistencyWorker, true) {
		consistencyWorker := worker.NewConsistencyWorker(recordRepo, booksClient, log, cfg.ConsistencyInterval)
		go consistencyWorker.Start(ctx)
	}

	// 10. Serve until a shutdown signal arrives
	if err := server.New(cfg, log, tokens, router).Run(ctx); err != nil {
		log.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
