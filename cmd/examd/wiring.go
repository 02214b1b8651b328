package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/mind-engage/mindengage-exams/internal/attempt"
	"github.com/mind-engage/mindengage-exams/internal/config"
	"github.com/mind-engage/mindengage-exams/internal/events"
)

// newSessionStore picks the attempt session backend. Redis lets several
// replicas share live attempts and the deadline index.
func newSessionStore(ctx context.Context, cfg config.Config, log *slog.Logger) (attempt.SessionStore, func(), error) {
	switch cfg.SessionStore {
	case "", "memory":
		return attempt.NewMemoryStore(), func() {}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		log.Info("session store", "backend", "redis", "addr", cfg.RedisAddr)
		return attempt.NewRedisStore(client, "exams"), func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown SESSION_STORE %q", cfg.SessionStore)
	}
}

// newPublisher falls back to the no-op bus when AMQP is unset or
// unreachable; results are still recorded in event_log.
func newPublisher(cfg config.Config, log *slog.Logger) events.Publisher {
	if cfg.AMQPURL == "" {
		return events.NopPublisher{}
	}
	p, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
	if err != nil {
		log.Warn("amqp unavailable, events stay in event_log only", "err", err)
		return events.NopPublisher{}
	}
	return p
}
