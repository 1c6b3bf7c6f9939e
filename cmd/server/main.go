// Package main runs the classroom relay server: WebSocket signaling relay, ICE
// server list, class summaries and proctoring API, with graceful shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/zenro-academy/liveclass/config"
	"github.com/zenro-academy/liveclass/internal/assistant"
	"github.com/zenro-academy/liveclass/internal/middleware"
	"github.com/zenro-academy/liveclass/internal/relay"
	"github.com/zenro-academy/liveclass/internal/rtc"
	"github.com/zenro-academy/liveclass/internal/summaries"
	"github.com/zenro-academy/liveclass/pkg/queue"
	"github.com/zenro-academy/liveclass/pkg/redis"
	"github.com/zenro-academy/liveclass/pkg/response"
	"github.com/zenro-academy/liveclass/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := newLogger(cfg.Log.Level)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb, err = redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
	}

	var s3Client *storage.S3
	if cfg.AWS.SummariesBucket != "" {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			SummariesBucket:      cfg.AWS.SummariesBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	// Relay hub; rooms are shared across instances through Redis when configured.
	var hub *relay.Hub
	if rdb != nil {
		ps := relay.NewRedisPubSub(rdb.Client, relay.HubChannelPrefix, logger)
		hub = relay.NewHub(logger, ps, ps)
	} else {
		hub = relay.NewHub(logger, nil, nil)
	}
	defer hub.Close()
	hub.SetConnectionsChangeHandler(func(room string, count int) {
		logger.Debug("room connections", zap.String("room", room), zap.Int("connections", count))
	})
	iceServers := rtc.ICEServers(cfg.WebRTC.ICEUrls, cfg.WebRTC.TURNUsername, cfg.WebRTC.TURNCredential)
	relayHandler := relay.NewHandler(hub, iceServers, logger)

	// Assistant (summaries, proctoring)
	backend, err := assistant.NewBackend(ctx, cfg.AI.GeminiAPIKey, cfg.AI.Model, logger)
	if err != nil {
		logger.Fatal("assistant", zap.Error(err))
	}
	asst := assistant.New(backend, logger)
	proctoringHandler := assistant.NewHandler(asst)

	// Summaries: queued only when both Redis and S3 are available.
	var (
		enqueuer  summaries.Enqueuer
		store     summaries.Store
		processor *summaries.Processor
	)
	if s3Client != nil {
		store = s3Client
		if rdb != nil {
			jobQueue := queue.NewQueue(rdb.Client, logger)
			enqueuer = jobQueue
			processor = summaries.NewProcessor(asst, s3Client, jobQueue, logger)
		}
	}
	summaryHandler := summaries.NewHandler(asst, enqueuer, store, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Signaling relay
	router.GET("/ws", relay.ServeWs(hub, logger))
	router.POST("/signal", relayHandler.Signal)
	router.GET("/rooms/:room/connections", relayHandler.Connections)
	router.GET("/ice-servers", relayHandler.ICEServers)

	// Summaries and proctoring
	router.POST("/summaries", summaryHandler.Create)
	router.GET("/summaries/:room/:id", summaryHandler.Get)
	router.POST("/proctoring/analyze", proctoringHandler.Analyze)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if processor != nil {
		g.Go(func() error {
			logger.Info("summary worker started")
			processor.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server", zap.Error(err))
	}
	logger.Info("server stopped")
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
