package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/chapter-digest/pkg/checkpoint"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const redisPingTimeout = 5 * time.Second

// openStore opens the configured checkpoint backend for a batch of total
// documents. The returned close function is never nil.
func openStore(ctx context.Context, cfg Config, total int, logger zerolog.Logger) (checkpoint.Store, func(), error) {
	switch cfg.Backend {
	case backendRedis:
		opts, err := redisOptions(cfg.RedisURL)
		if err != nil {
			return nil, func() {}, err
		}
		redisClient := redis.NewClient(opts)
		closeFn := func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn().Err(err).Msg("Failed to close Redis client")
			}
		}

		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			closeFn()
			return nil, func() {}, fmt.Errorf("connect to redis %s: %w", opts.Addr, err)
		}

		store, err := checkpoint.NewRedisStore(redisClient, cfg.Namespace, total)
		if err != nil {
			closeFn()
			return nil, func() {}, err
		}
		logger.Info().
			Str("addr", opts.Addr).
			Str("namespace", cfg.Namespace).
			Msg("Using Redis checkpoint store")
		return store, closeFn, nil

	default:
		store, err := checkpoint.NewFileStore(cfg.CheckpointDir, total)
		if err != nil {
			return nil, func() {}, err
		}
		logger.Info().Str("dir", store.Dir()).Msg("Using file checkpoint store")
		return store, func() {}, nil
	}
}

// redisOptions accepts a plain host:port or a redis:// URL.
func redisOptions(raw string) (*redis.Options, error) {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "://") {
		opts, err := redis.ParseURL(raw)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{Addr: raw}, nil
}
