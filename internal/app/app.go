// Package app opens the infrastructure shared by the api and worker binaries.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/campuscheck/attendance/internal/config"
	"github.com/campuscheck/attendance/internal/queue"
	"github.com/campuscheck/attendance/internal/reports"
	"github.com/campuscheck/attendance/internal/store"
)

// Infra holds the opened backends. Redis is nil when no address is configured.
type Infra struct {
	Store store.Store
	DB    *sql.DB
	Redis *store.Redis
	Queue queue.Queue

	log     *zap.Logger
	closers []func() error
}

// Open connects the record store, redis and the queue selected by cfg.
func Open(ctx context.Context, cfg *config.App, log *zap.Logger) (*Infra, error) {
	in := &Infra{log: log}

	switch cfg.Database.Backend {
	case "memory":
		in.Store = store.NewMemory()
		log.Warn("using in-memory record store, data is lost on restart")
	default:
		db, err := store.OpenDB(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		in.DB = db
		if cfg.Database.AutoMigrate {
			if err := store.MigrateUp(db, log); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		in.Store = store.NewPostgres(db, log, cfg.Face.DescriptorLength)
	}
	in.closers = append(in.closers, in.Store.Close)

	if cfg.Redis.Addr != "" {
		in.Redis = store.NewRedis(cfg.Redis)
		in.closers = append(in.closers, in.Redis.Close)
	}

	q, err := openQueue(cfg.Queue, in.Redis)
	if err != nil {
		in.Close()
		return nil, err
	}
	in.Queue = q
	log.Info("infrastructure ready",
		zap.String("db", cfg.Database.Backend),
		zap.String("queue", cfg.Queue.Backend),
		zap.Bool("redis", in.Redis != nil))
	return in, nil
}

func openQueue(cfg config.QueueConfig, r *store.Redis) (queue.Queue, error) {
	switch cfg.Backend {
	case "memory":
		return queue.NewInMemory(64), nil
	case "nats":
		// subjects are dot separated: attendance:jobs becomes attendance.jobs.<type>
		return queue.NewNATSQueue(cfg.NATSURL, strings.ReplaceAll(cfg.Key, ":", "."))
	default:
		if r == nil {
			return nil, errors.New("queue.backend redis needs redis.addr")
		}
		return queue.NewRedisQueue(r.Client, cfg.Key), nil
	}
}

// DashboardCache returns the redis-backed cache, or nil without redis.
func (in *Infra) DashboardCache() reports.Cache {
	if in.Redis == nil {
		return nil
	}
	return reports.NewRedisCache(in.Redis.Client)
}

// HealthChecks lists the dependencies /healthz probes.
func (in *Infra) HealthChecks() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{"db": in.Store.Ping}
	if in.Redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			if !in.Redis.Healthy(ctx) {
				return fmt.Errorf("redis unreachable")
			}
			return nil
		}
	}
	return checks
}

// Close releases everything Open acquired, newest first.
func (in *Infra) Close() {
	if c, ok := in.Queue.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			in.log.Warn("queue close failed", zap.Error(err))
		}
	}
	for i := len(in.closers) - 1; i >= 0; i-- {
		if err := in.closers[i](); err != nil {
			in.log.Warn("close failed", zap.Error(err))
		}
	}
}

// ShutdownTimeout bounds graceful shutdown of either binary.
const ShutdownTimeout = 10 * time.Second
