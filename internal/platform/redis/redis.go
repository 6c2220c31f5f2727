// Package redis opens the shared Redis client backing the HTML cache, the
// pending-job store, and the background task queue.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/lsst-sqre/times-square/internal/platform/env"
)

type Config struct {
	Address     string
	Password    string
	DB          int
	PingTimeout time.Duration
}

func ConfigFromEnv() (Config, error) {
	db, err := env.Int("REDIS_DB", 0)
	if err != nil {
		return Config{}, err
	}
	pingTimeout, err := env.Duration("REDIS_PING_TIMEOUT", 2*time.Second)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Address:     env.String("REDIS_ADDR", "localhost:6379"),
		Password:    env.String("REDIS_PASSWORD", ""),
		DB:          db,
		PingTimeout: pingTimeout,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Address == "" {
		return errors.New("TS_REDIS_ADDR is required")
	}
	if c.DB < 0 {
		return errors.New("TS_REDIS_DB must be >= 0")
	}
	if c.PingTimeout <= 0 {
		return errors.New("TS_REDIS_PING_TIMEOUT must be positive")
	}
	return nil
}

func Open(ctx context.Context, cfg Config) (*goredis.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:        50,
		MinIdleConns:    5,
		ConnMaxIdleTime: 5 * time.Minute,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return client, nil
}
