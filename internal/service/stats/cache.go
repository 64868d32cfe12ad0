package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// ErrCacheMiss возвращается, когда в кэше нет публичных итогов продаж.
var ErrCacheMiss = errors.New("sold totals cache miss")

const soldTotalsKey = "shopfront:stats:public_sold_totals"

// SoldTotalsCache — redis-кэш публичного счётчика продаж.
// TTL берётся с jitter, чтобы инстансы не ходили за пересчётом одновременно.
type SoldTotalsCache struct {
	client  *redis.Client
	baseTTL time.Duration
	logger  *log.Entry
}

// NewSoldTotalsCache создаёт кэш поверх redis-клиента.
func NewSoldTotalsCache(client *redis.Client, logger *log.Entry) *SoldTotalsCache {
	if logger == nil {
		logger = log.New().WithField("component", "stats-cache")
	}
	return &SoldTotalsCache{
		client:  client,
		baseTTL: 5 * time.Minute,
		logger:  logger,
	}
}

// Get возвращает закэшированные итоги или ErrCacheMiss.
func (c *SoldTotalsCache) Get(ctx context.Context) (map[string]int64, error) {
	data, err := c.client.Get(ctx, soldTotalsKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var totals map[string]int64
	if err := json.Unmarshal(data, &totals); err != nil {
		return nil, fmt.Errorf("unmarshal sold totals failed: %w", err)
	}
	return totals, nil
}

// Set сохраняет итоги с TTL и jitter.
func (c *SoldTotalsCache) Set(ctx context.Context, totals map[string]int64) error {
	data, err := json.Marshal(totals)
	if err != nil {
		return fmt.Errorf("marshal sold totals failed: %w", err)
	}

	jitter := time.Duration(rand.Intn(60)) * time.Second
	if err := c.client.Set(ctx, soldTotalsKey, data, c.baseTTL+jitter).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// InvalidateSoldTotals сбрасывает кэш. Вызывается движком коммита
// после каждого зафиксированного заказа.
func (c *SoldTotalsCache) InvalidateSoldTotals(ctx context.Context) error {
	if err := c.client.Del(ctx, soldTotalsKey).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// CachedAggregator оборачивает Aggregator read-through кэшем для
// публичного счётчика. Остальные представления всегда считаются заново:
// они либо персональные, либо админские и редкие.
type CachedAggregator struct {
	*Aggregator
	cache  *SoldTotalsCache
	logger *log.Entry
}

// NewCachedAggregator создаёт aggregator с кэшем публичных итогов.
func NewCachedAggregator(aggregator *Aggregator, cache *SoldTotalsCache, logger *log.Entry) *CachedAggregator {
	if logger == nil {
		logger = log.New().WithField("component", "stats-cache")
	}
	return &CachedAggregator{
		Aggregator: aggregator,
		cache:      cache,
		logger:     logger,
	}
}

// PublicSoldTotals сперва смотрит в кэш; недоступность redis не ломает
// чтение, только деградирует его до прямого пересчёта.
func (c *CachedAggregator) PublicSoldTotals(ctx context.Context) (map[string]int64, error) {
	if c.cache != nil {
		totals, err := c.cache.Get(ctx)
		if err == nil {
			return totals, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			c.logger.WithError(err).Warn("sold totals cache read failed")
		}
	}

	totals, err := c.Aggregator.PublicSoldTotals(ctx)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, totals); err != nil {
			c.logger.WithError(err).Warn("sold totals cache write failed")
		}
	}
	return totals, nil
}
