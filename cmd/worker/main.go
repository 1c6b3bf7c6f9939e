// Package main runs the background summary worker (transcript to Markdown in S3).
package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/zenro-academy/liveclass/config"
	"github.com/zenro-academy/liveclass/internal/assistant"
	"github.com/zenro-academy/liveclass/internal/summaries"
	"github.com/zenro-academy/liveclass/pkg/queue"
	"github.com/zenro-academy/liveclass/pkg/redis"
	"github.com/zenro-academy/liveclass/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := newLogger(cfg.Log.Level)
	defer logger.Sync()

	if !cfg.Redis.Enabled() || cfg.AWS.SummariesBucket == "" {
		logger.Fatal("worker needs REDIS_ADDR and AWS_S3_SUMMARIES_BUCKET")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		SummariesBucket:      cfg.AWS.SummariesBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	backend, err := assistant.NewBackend(ctx, cfg.AI.GeminiAPIKey, cfg.AI.Model, logger)
	if err != nil {
		logger.Fatal("assistant", zap.Error(err))
	}

	jobQueue := queue.NewQueue(rdb.Client, logger)
	processor := summaries.NewProcessor(assistant.New(backend, logger), s3Client, jobQueue, logger)

	logger.Info("worker started")
	processor.Run(ctx)
	if n, err := jobQueue.DeadLetters(context.Background()); err == nil && n > 0 {
		logger.Warn("dead-lettered summary jobs", zap.Int64("count", n))
	}
	logger.Info("worker stopped")
}

func newLogger(level string) *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		config.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, _ := config.Build()
	return logger
}
