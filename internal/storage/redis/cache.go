// Package redis provides a read-through promotion cache in front of a
// promotion.Store.
package redis

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/promo-rules/internal/domain/promotion"
)

const (
	codeKeyPrefix  = "promotion:code:"
	indexKeyPrefix = "promotion:id:"
)

var _ promotion.Store = (*PromotionCache)(nil)

// PromotionCache caches FindByCode results. Every IncrementUsage evicts the
// promotion so the next lookup sees the current usage count. Cache
// failures are logged and fall through to the underlying store.
type PromotionCache struct {
	promotion.Store

	client *redis.Client
	ttl    time.Duration
}

// NewPromotionCache wraps store with a cache kept for ttl per entry.
func NewPromotionCache(store promotion.Store, client *redis.Client, ttl time.Duration) *PromotionCache {
	return &PromotionCache{Store: store, client: client, ttl: ttl}
}

// NewClient parses a redis:// URL or a bare host:port address.
func NewClient(addr, password string, db int) (*redis.Client, error) {
	if opts, err := redis.ParseURL(addr); err == nil {
		return redis.NewClient(opts), nil
	}
	if addr == "" {
		return nil, errors.New("redis address is empty")
	}
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}), nil
}

func (c *PromotionCache) FindByCode(ctx context.Context, code string) (*promotion.Promotion, error) {
	lg := zctx.From(ctx)

	data, err := c.client.Get(ctx, codeKeyPrefix+code).Bytes()
	switch {
	case err == nil:
		p, decodeErr := promotion.DecodePromotion(jx.DecodeBytes(data))
		if decodeErr == nil {
			return p, nil
		}
		lg.Warn("Drop undecodable cached promotion", zap.String("code", code), zap.Error(decodeErr))
	case !errors.Is(err, redis.Nil):
		lg.Warn("Promotion cache read failed", zap.String("code", code), zap.Error(err))
	}

	p, err := c.Store.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	c.put(ctx, p)
	return p, nil
}

// IncrementUsage delegates to the store and evicts the cached entry whether
// or not the increment won: a lost race means the cached usage count is
// stale, and the caller re-reads it before retrying.
func (c *PromotionCache) IncrementUsage(ctx context.Context, id string) (bool, error) {
	ok, err := c.Store.IncrementUsage(ctx, id)
	if err != nil {
		return false, err
	}
	if err := c.evict(ctx, id); err != nil {
		zctx.From(ctx).Warn("Promotion cache eviction failed", zap.String("promotion_id", id), zap.Error(err))
	}
	return ok, nil
}

func (c *PromotionCache) put(ctx context.Context, p *promotion.Promotion) {
	var e jx.Encoder
	promotion.EncodePromotion(&e, p)

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, codeKeyPrefix+p.Code, e.Bytes(), c.ttl)
		pipe.Set(ctx, indexKeyPrefix+p.ID, p.Code, c.ttl)
		return nil
	})
	if err != nil {
		zctx.From(ctx).Warn("Promotion cache write failed", zap.String("code", p.Code), zap.Error(err))
	}
}

func (c *PromotionCache) evict(ctx context.Context, id string) error {
	code, err := c.client.Get(ctx, indexKeyPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "read index")
	}
	if err := c.client.Del(ctx, codeKeyPrefix+code, indexKeyPrefix+id).Err(); err != nil {
		return errors.Wrap(err, "delete")
	}
	return nil
}
