package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alem-hub/study-timer/config"
	"github.com/alem-hub/study-timer/internal/domain/history"
	"github.com/alem-hub/study-timer/internal/domain/shared"
	"github.com/alem-hub/study-timer/internal/domain/timer"
	"github.com/alem-hub/study-timer/internal/infrastructure/messaging"
	"github.com/alem-hub/study-timer/internal/infrastructure/persistence/file"
	"github.com/alem-hub/study-timer/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/study-timer/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/study-timer/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/study-timer/internal/infrastructure/persistence/resilient"
	"github.com/alem-hub/study-timer/pkg/circuitbreaker"
)

// backends — открытые хранилища и соединения.
type backends struct {
	kv      timer.KeyValueStore
	history history.Repository

	cache *redis.Cache
	db    *postgres.Connection

	// storeBreaker есть только у обёрнутых удалённых хранилищ.
	storeBreaker *circuitbreaker.CircuitBreaker
}

// openBackends подключается к Redis/Postgres по необходимости и собирает
// хранилище снимка и журнал.
func openBackends(ctx context.Context, cfg *config.Config, log *slog.Logger) (*backends, error) {
	b := &backends{}

	if cfg.NeedsRedis() {
		cache, err := openRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		b.cache = cache
		log.Info("redis connection established")
	}

	if cfg.NeedsPostgres() {
		conn, err := postgres.NewConnection(ctx, cfg.Database.URL, postgres.Options{
			MaxConns:        int32(cfg.Database.MaxConns),
			MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			b.close(log)
			return nil, fmt.Errorf("postgres: %w", err)
		}
		b.db = conn
		log.Info("database connection established")

		if cfg.Database.AutoMigrate {
			applied, err := postgres.Migrate(ctx, conn)
			if err != nil {
				b.close(log)
				return nil, fmt.Errorf("postgres migrations: %w", err)
			}
			log.Info("database schema is up to date", "applied", applied)
		}
	}

	// Хранилище снимка
	var remote bool
	switch cfg.Storage.Backend {
	case config.StorageMemory:
		b.kv = memory.NewKV()
	case config.StorageFile:
		dir := cfg.Storage.Dir
		if dir == "" {
			dir = file.DefaultDir()
		}
		b.kv = file.NewKV(dir)
		log.Info("snapshot file store", "dir", dir)
	case config.StorageRedis:
		b.kv = redis.NewSnapshotKV(b.cache, cfg.Storage.SnapshotTTL)
		remote = true
	case config.StoragePostgres:
		b.kv = postgres.NewSnapshotKV(b.db)
		remote = true
	default:
		b.close(log)
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	if remote && cfg.Storage.Resilient {
		rkv := resilient.NewKV(b.kv, nil, nil, log)
		b.kv = rkv
		b.storeBreaker = rkv.Breaker()
	}

	// Журнал занятий
	if cfg.Storage.History == config.StoragePostgres {
		b.history = postgres.NewHistoryRepository(b.db)
	} else {
		b.history = memory.NewHistoryRepository()
	}

	return b, nil
}

func (b *backends) close(log *slog.Logger) {
	if b.db != nil {
		log.Info("closing database connection...")
		b.db.Close()
	}
	if b.cache != nil {
		log.Info("closing redis connection...")
		if err := b.cache.Close(); err != nil {
			log.Warn("redis close failed", "error", err)
		}
	}
}

// openRedis подключается по REDIS_URL либо по отдельным параметрам.
func openRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Cache, error) {
	rc := redis.DefaultConfig()
	rc.URL = cfg.URL
	if cfg.Host != "" {
		rc.Host = cfg.Host
	}
	if cfg.Port > 0 {
		rc.Port = cfg.Port
	}
	rc.Password = cfg.Password
	rc.DB = cfg.DB
	if cfg.PoolSize > 0 {
		rc.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		rc.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		rc.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		rc.WriteTimeout = cfg.WriteTimeout
	}
	return redis.NewCache(ctx, rc)
}

// eventBus — шина событий вместе с доступом к её метрикам.
type eventBus interface {
	shared.EventBus
	Close() error
	Metrics() *messaging.EventBusMetrics
}

// openEventBus создаёт in-memory шину или шину, зеркалируемую через Redis.
// Идентификатор экземпляра шины генерируется на каждый процесс: App.InstanceID
// по умолчанию одинаков у всех демонов, и они отфильтровали бы чужие события.
func openEventBus(cfg *config.Config, cache *redis.Cache, log *slog.Logger) (eventBus, error) {
	local := messaging.DefaultInMemoryEventBusConfig()
	local.Logger = log
	local.WorkerPoolSize = cfg.Events.Workers

	if cfg.Events.Bus != config.BusRedis {
		return messaging.NewInMemoryEventBus(local), nil
	}

	bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
		Client:         messaging.NewCacheClient(cache),
		ChannelName:    cfg.Events.Channel,
		LocalBusConfig: local,
		Logger:         log,
	})
	if err != nil {
		return nil, err
	}
	return bus, nil
}
