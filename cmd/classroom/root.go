package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/zenro-academy/liveclass/config"
	"github.com/zenro-academy/liveclass/internal/relay"
	"github.com/zenro-academy/liveclass/internal/rtc"
	"github.com/zenro-academy/liveclass/internal/signaling"
	"github.com/zenro-academy/liveclass/pkg/redis"
)

const (
	relayMemory = "memory"
	relayRedis  = "redis"
	relayWS     = "ws"
	relayKafka  = "kafka"
)

// options are the flags shared by every subcommand.
type options struct {
	cfg *config.Config
	log *zap.Logger

	relay      string
	room       string
	server     string
	redisAddr  string
	kafka      string
	kafkaTopic string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	cfg, err := config.Load()
	if err != nil {
		cfg = &config.Config{}
	}
	redisAddr := cfg.Redis.Addr
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	opts := &options{cfg: cfg}

	root := &cobra.Command{
		Use:          "classroom",
		Short:        "Broadcast or watch a live class over WebRTC",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			opts.log = newLogger(opts.logLevel)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.log != nil {
				_ = opts.log.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.relay, "relay", cfg.Relay.Mode, "relay substrate: memory, redis, ws or kafka")
	flags.StringVar(&opts.room, "room", cfg.Relay.Room, "class room name")
	flags.StringVar(&opts.server, "server", cfg.Relay.ServerURL, "relay server URL (ws relay)")
	flags.StringVar(&opts.redisAddr, "redis", redisAddr, "Redis address (redis relay)")
	flags.StringVar(&opts.kafka, "kafka", strings.Join(cfg.Relay.KafkaBrokers, ","), "Kafka brokers, comma-separated (kafka relay)")
	flags.StringVar(&opts.kafkaTopic, "kafka-topic", cfg.Relay.KafkaTopic, "Kafka signaling topic (kafka relay)")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level (written to stderr)")

	root.AddCommand(newBroadcastCmd(opts), newWatchCmd(opts), newDemoCmd(opts))
	return root
}

// connect opens the configured relay for one participant. The returned close
// function releases the client and anything it was built on.
func (o *options) connect(ctx context.Context) (*signaling.Client, func(), error) {
	if o.room == "" {
		return nil, nil, errors.New("--room is required")
	}
	log := o.log.With(zap.String("relay", o.relay), zap.String("room", o.room))

	var (
		transport signaling.Transport
		cleanup   = func() {}
	)
	switch o.relay {
	case relayWS:
		t, err := relay.DialWS(ctx, o.server, o.room, log)
		if err != nil {
			return nil, nil, err
		}
		transport = t
	case relayRedis:
		rdb, err := redis.NewClient(ctx, o.redisAddr, o.cfg.Redis.Password, o.cfg.Redis.DB, log)
		if err != nil {
			return nil, nil, err
		}
		t, err := relay.NewRedisTransport(rdb.Client, o.room, log)
		if err != nil {
			_ = rdb.Close()
			return nil, nil, err
		}
		transport = t
		cleanup = func() { _ = rdb.Close() }
	case relayKafka:
		t, err := relay.NewKafkaTransport(relay.KafkaConfig{Brokers: o.kafka, Topic: o.kafkaTopic, Room: o.room}, log)
		if err != nil {
			return nil, nil, err
		}
		transport = t
	case relayMemory:
		return nil, nil, errors.New("the memory relay only connects participants inside one process; use the demo command")
	default:
		return nil, nil, fmt.Errorf("unknown relay %q", o.relay)
	}

	client := signaling.NewClient(transport, log)
	return client, func() {
		_ = client.Close()
		cleanup()
	}, nil
}

func (o *options) peerFactory() rtc.Factory {
	return rtc.NewPionFactory(rtc.PionConfig{
		ICEServers: rtc.ICEServers(o.cfg.WebRTC.ICEUrls, o.cfg.WebRTC.TURNUsername, o.cfg.WebRTC.TURNCredential),
		ForceRelay: o.cfg.WebRTC.ForceRelay,
	}, o.log)
}

// runClient delivers relay messages until ctx ends, which is not an error.
func runClient(ctx context.Context, client *signaling.Client) error {
	err := client.Run(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func newLogger(level string) *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		config.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := config.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
