package app

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/promo-rules/internal/domain/customer"
	"github.com/xenking/promo-rules/internal/domain/promotion"
	"github.com/xenking/promo-rules/internal/storage/memory"
	mongostore "github.com/xenking/promo-rules/internal/storage/mongo"
	"github.com/xenking/promo-rules/internal/storage/postgres"
	redisstore "github.com/xenking/promo-rules/internal/storage/redis"
	"github.com/xenking/promo-rules/pkg/health"
)

// Stores bundles the repositories selected by StorageConfig.
type Stores struct {
	Promotions promotion.Store
	Customers  customer.Store

	closers []func()
}

// Close releases connections in reverse order of opening.
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// OpenStores connects the configured driver and, when Redis is configured,
// puts the promotion cache in front of it. Each connection registers a
// readiness check on h.
func OpenStores(ctx context.Context, cfg *Config, h *health.Health) (_ *Stores, rerr error) {
	lg := zctx.From(ctx)
	st := &Stores{}
	defer func() {
		if rerr != nil {
			st.Close()
		}
	}()

	switch cfg.Storage.Driver {
	case DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		st.closers = append(st.closers, pool.Close)

		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return nil, errors.Wrap(err, "run migrations")
		}
		h.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))

		st.Promotions = postgres.NewPromotionRepository(pool)
		st.Customers = postgres.NewCustomerRepository(pool)

	case DriverMongo:
		db, err := mongostore.Connect(ctx, cfg.Storage.MongoURI, cfg.Storage.MongoDatabase)
		if err != nil {
			return nil, errors.Wrap(err, "connect mongo")
		}
		st.closers = append(st.closers, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := db.Close(closeCtx); err != nil {
				lg.Warn("Mongo disconnect failed", zap.Error(err))
			}
		})

		if err := db.EnsureIndexes(ctx); err != nil {
			return nil, errors.Wrap(err, "ensure mongo indexes")
		}
		h.AddReadinessCheck("mongo", 5*time.Second, health.PingCheck(db))

		st.Promotions = mongostore.NewPromotionRepository(db)
		st.Customers = mongostore.NewCustomerRepository(db)

	case DriverMemory:
		lg.Warn("Using in-memory storage, data is lost on restart")
		st.Promotions = memory.NewPromotions()
		st.Customers = memory.NewCustomers()

	default:
		return nil, errors.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	if cfg.Redis.Addr == "" {
		return st, nil
	}

	client, err := redisstore.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, errors.Wrap(err, "create redis client")
	}
	st.closers = append(st.closers, func() { _ = client.Close() })
	h.AddReadinessCheck("redis", 2*time.Second, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	st.Promotions = redisstore.NewPromotionCache(st.Promotions, client, cfg.Redis.TTL)

	return st, nil
}
