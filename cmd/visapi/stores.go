package main

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/VadimVDM/VisAPI-sub006/callback"
	"github.com/VadimVDM/VisAPI-sub006/config"
	"github.com/VadimVDM/VisAPI-sub006/store"
	"github.com/VadimVDM/VisAPI-sub006/store/memory"
	"github.com/VadimVDM/VisAPI-sub006/store/mysql"
	"github.com/VadimVDM/VisAPI-sub006/store/postgres"
	redisstore "github.com/VadimVDM/VisAPI-sub006/store/redis"
)

// backends are the opened stores. Closing store closes the database
// pools; the Redis client is closed separately since the store does not
// own it.
type backends struct {
	store    store.Store
	records  store.Records
	notifier callback.Notifier
	redis    *goredis.Client
}

// closeRedis releases the Redis client, if any.
func (b *backends) closeRedis() {
	if b.redis != nil {
		_ = b.redis.Close()
	}
}

func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backends, error) {
	if cfg.Store.Queue == config.BackendMemory {
		m := memory.New()
		return &backends{store: m, records: m, notifier: m}, nil
	}

	b := &backends{}
	var pg *postgres.Store
	if cfg.Store.Queue == config.BackendPostgres || cfg.Store.Records == config.BackendPostgres {
		var err error
		pg, err = postgres.New(ctx, cfg.Postgres.DSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
	}

	switch cfg.Store.Records {
	case config.BackendPostgres:
		b.records = pg
	case config.BackendMySQL:
		my, err := mysql.New(cfg.MySQL.DSN, mysql.WithLogger(logger))
		if err != nil {
			if pg != nil {
				_ = pg.Close()
			}
			return nil, fmt.Errorf("open mysql: %w", err)
		}
		b.records = my
	}

	switch cfg.Store.Queue {
	case config.BackendPostgres:
		if cfg.Store.Records == config.BackendPostgres {
			b.store = pg
		} else {
			b.store = store.Combined{Queue: pg, Records: b.records}
		}
	case config.BackendRedis:
		opts, err := goredis.ParseURL(cfg.Redis.URL)
		if err != nil {
			_ = b.records.Close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		b.redis = goredis.NewClient(opts)
		rs := redisstore.New(b.redis, redisstore.WithLogger(logger))
		b.store = store.Combined{Queue: rs, Records: b.records}
		b.notifier = rs
	}
	return b, nil
}
