// Package cache provides Redis-based read-through caching for kline
// snapshots, with graceful degradation: when Redis is down every lookup
// falls through to the upstream fetcher.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"bybit-chart-server/internal/market"
)

// KlineFetcher fetches a candle snapshot from the upstream source.
type KlineFetcher interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error)
}

// KlineCache is a read-through cache in front of a KlineFetcher. Snapshot
// responses are stored as JSON under a short TTL so bursts of chart loads
// for the same pair do not hammer the exchange.
type KlineCache struct {
	client *redis.Client
	next   KlineFetcher
	ttl    time.Duration
	logger zerolog.Logger
}

// NewKlineCache connects to Redis and wraps next. A failed initial ping is
// logged but not fatal; the cache starts degraded and recovers on its own
// once Redis is reachable.
func NewKlineCache(addr, password string, db int, ttl time.Duration, next KlineFetcher, logger zerolog.Logger) *KlineCache {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	kc := &KlineCache{
		client: client,
		next:   next,
		ttl:    ttl,
		logger: logger.With().Str("component", "KlineCache").Logger(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		kc.logger.Warn().Err(err).Msg("redis unreachable, starting degraded")
	} else {
		kc.logger.Info().Str("addr", addr).Msg("redis connected")
	}

	return kc
}

func klineKey(symbol, interval string, limit int) string {
	return fmt.Sprintf("chart:klines:%s:%s:%d", symbol, interval, limit)
}

// GetKlines serves from Redis when possible and falls through to the
// upstream fetcher otherwise. Cache errors are logged, never surfaced.
func (kc *KlineCache) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	key := klineKey(symbol, interval, limit)

	if raw, err := kc.client.Get(ctx, key).Bytes(); err == nil {
		var candles []market.Candle
		if err := json.Unmarshal(raw, &candles); err == nil {
			return candles, nil
		}
		// Corrupt entry: drop it and refetch.
		kc.client.Del(ctx, key)
	} else if err != redis.Nil {
		kc.logger.Debug().Err(err).Str("key", key).Msg("cache read failed")
	}

	candles, err := kc.next.GetKlines(ctx, symbol, interval, limit)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(candles); err == nil {
		if err := kc.client.Set(ctx, key, raw, kc.ttl).Err(); err != nil {
			kc.logger.Debug().Err(err).Str("key", key).Msg("cache write failed")
		}
	}

	return candles, nil
}

// Close releases the Redis connection.
func (kc *KlineCache) Close() error {
	return kc.client.Close()
}
