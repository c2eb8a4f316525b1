// Package main runs the background email worker.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/medsociety/portal/config"
	"github.com/medsociety/portal/internal/events"
	"github.com/medsociety/portal/internal/notify"
	"github.com/medsociety/portal/internal/worker"
	"github.com/medsociety/portal/pkg/database"
	"github.com/medsociety/portal/pkg/queue"
	"github.com/medsociety/portal/pkg/redis"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	renderer, err := notify.NewRenderer()
	if err != nil {
		logger.Fatal("email templates", zap.Error(err))
	}
	mailer, err := notify.NewMailer(ctx, notify.MailerConfig{
		Provider:        cfg.Email.Provider,
		FromAddress:     cfg.Email.FromAddress,
		FromName:        cfg.Email.FromName,
		Region:          cfg.AWS.Region,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
	}, logger)
	if err != nil {
		logger.Fatal("mailer", zap.Error(err))
	}

	processor := worker.NewEmailProcessor(
		queue.NewQueue(rdb.Client, logger),
		renderer,
		mailer,
		notify.NewLogRepository(pool),
		events.NewRepository(pool),
		worker.EmailConfig{SocietyName: cfg.Email.FromName, Currency: cfg.Payment.Currency},
		logger,
	)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		processor.Run(workerCtx)
		close(done)
	}()
	logger.Info("email worker started", zap.String("provider", cfg.Email.Provider))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn("email worker did not stop in time")
	}
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
