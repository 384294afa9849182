package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const defaultDialTimeout = 5 * time.Second

// Config describes a Redis connection. URL wins when set; otherwise Addrs
// and MasterName select standalone, Sentinel or Cluster the way
// go-redis's universal client does.
type Config struct {
	URL          string
	Addrs        []string
	MasterName   string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (c Config) Enabled() bool {
	return c.URL != "" || len(c.Addrs) > 0
}

// Open connects and pings. The caller owns Close.
func Open(ctx context.Context, cfg Config) (goredis.UniversalClient, error) {
	if cfg.URL != "" {
		return newClientFromURL(ctx, cfg.URL)
	}
	return newUniversalClient(ctx, cfg)
}

func newUniversalClient(ctx context.Context, cfg Config) (goredis.UniversalClient, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("at least one redis address is required")
	}

	client := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:        cfg.Addrs,
		MasterName:   cfg.MasterName,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  orDefault(cfg.DialTimeout),
		ReadTimeout:  orDefault(cfg.ReadTimeout),
		WriteTimeout: orDefault(cfg.WriteTimeout),
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func newClientFromURL(ctx context.Context, redisURL string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = orDefault(opts.DialTimeout)
	opts.ReadTimeout = orDefault(opts.ReadTimeout)
	opts.WriteTimeout = orDefault(opts.WriteTimeout)

	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func orDefault(d time.Duration) time.Duration {
	if d == 0 {
		return defaultDialTimeout
	}
	return d
}
