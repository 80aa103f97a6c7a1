package feeds

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openlots/lotledger/internal/domain/pricing"
)

// CachedFeedSource is a read-through Redis cache in front of another feed
// source. The TTL should sit below the normalizer's staleness tolerance so a
// cached quote can never outlive its validity.
type CachedFeedSource struct {
	source pricing.FeedSource
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedFeedSource wraps source with a Redis cache.
func NewCachedFeedSource(source pricing.FeedSource, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedFeedSource {
	return &CachedFeedSource{
		source: source,
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

type cachedQuote struct {
	Price     string    `json:"price"`
	Decimals  int32     `json:"decimals"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetPrice serves from cache when possible. Redis failures degrade to a
// direct feed query; pricing must not depend on cache availability.
func (c *CachedFeedSource) GetPrice(ctx context.Context, reg *pricing.Registration) (*pricing.Quote, error) {
	key := "pricefeed:" + reg.Asset

	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var cached cachedQuote
		if unmarshalErr := json.Unmarshal(raw, &cached); unmarshalErr == nil {
			if price, ok := new(big.Int).SetString(cached.Price, 10); ok {
				return &pricing.Quote{
					Price:     price,
					Decimals:  cached.Decimals,
					UpdatedAt: cached.UpdatedAt,
				}, nil
			}
		}
		c.logger.Warn("discarding malformed cached quote", "asset", reg.Asset)
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("price cache read failed", "asset", reg.Asset, "error", err)
	}

	quote, err := c.source.GetPrice(ctx, reg)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(cachedQuote{
		Price:     quote.Price.String(),
		Decimals:  quote.Decimals,
		UpdatedAt: quote.UpdatedAt,
	})
	if err == nil {
		if setErr := c.rdb.Set(ctx, key, payload, c.ttl).Err(); setErr != nil {
			c.logger.Warn("price cache write failed", "asset", reg.Asset, "error", setErr)
		}
	}

	return quote, nil
}
