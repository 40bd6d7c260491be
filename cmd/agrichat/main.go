package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"agrichat-backend/internal/auth"
	"agrichat-backend/internal/classify"
	"agrichat-backend/internal/common/config"
	"agrichat-backend/internal/common/database"
	"agrichat-backend/internal/common/logger"
	"agrichat-backend/internal/compose"
	"agrichat-backend/internal/dialogue"
	"agrichat-backend/internal/inventory"
	"agrichat-backend/internal/llm"
	"agrichat-backend/internal/memory"
	"agrichat-backend/internal/server"
)

// retryWithBackoff keeps startup resilient to stores that come up slower
// than the service, as happens under docker-compose.
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, zapLog *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			zapLog.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("starting agrichat",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	ctx := context.Background()

	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected")

	var rd *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rd, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rd.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rd.Close()
	zapLog.Info("Redis connected")

	llmClient := llm.NewClient(cfg.LLM, log)

	classifier, err := classify.New(llmClient, log)
	if err != nil {
		zapLog.Fatal("classifier init failed", zap.Error(err))
	}

	repo := inventory.NewRepository(pg.DB, log)
	history := memory.NewStore(rd.Client, cfg.Chat.HistoryTurns, time.Duration(cfg.Chat.HistoryTTL)*time.Second, log)
	composer := compose.New(llmClient, cfg.Chat.FallbackLanguage, log)
	router := dialogue.NewRouter(classifier, repo, composer, history, cfg.Chat.MultiTenant, log)

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret)

	srv := server.New(*cfg, router, verifier, map[string]server.Pinger{
		"postgres": pg,
		"redis":    rd,
	}, log)

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(runCtx); err != nil {
		zapLog.Fatal("http server failed", zap.Error(err))
	}
	zapLog.Info("shutdown complete")
}
