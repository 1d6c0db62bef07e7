package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/tatibku/tatibku/internal/app"
	"github.com/tatibku/tatibku/internal/auth"
	"github.com/tatibku/tatibku/internal/cases"
	"github.com/tatibku/tatibku/internal/catalog"
	"github.com/tatibku/tatibku/internal/observability"
	"github.com/tatibku/tatibku/internal/platform/cache"
	"github.com/tatibku/tatibku/internal/platform/db"
	"github.com/tatibku/tatibku/internal/shared"
	"github.com/tatibku/tatibku/internal/students"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	catalogRepo := catalog.NewRepository(pool)
	catalogCache := cache.NewJSONCache(redisClient, cfg.CatalogCacheTTL)
	catalogService := catalog.NewService(catalogRepo, catalogCache, logger)

	studentRepo := students.NewRepository(pool)
	studentService := students.NewService(studentRepo)

	casesRepo := cases.NewRepository(pool)
	casesService := cases.NewService(casesRepo, catalogService, studentService, auditLogger, idempotencyStore, logger)

	authMiddleware := &auth.Middleware{
		Verifier: auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer),
		Logger:   logger,
	}

	metrics := observability.NewMetrics()

	casesHandler := cases.NewHandler(logger, casesService, metrics, authMiddleware.RequireAdmin)
	catalogHandler := catalog.NewHandler(logger, catalogService, authMiddleware.RequireAdmin)
	studentsHandler := students.NewHandler(logger, studentService)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		Auth:            authMiddleware,
		CasesHandler:    casesHandler,
		CatalogHandler:  catalogHandler,
		StudentsHandler: studentsHandler,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
