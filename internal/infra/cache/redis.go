package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"otc_stream/internal/domain"

	"github.com/redis/go-redis/v9"
)

const (
	latestPrefix  = "PRICE:LATEST:"
	historyPrefix = "PRICE:HISTORY:"

	// DefaultHistorySize bounds PRICE:HISTORY:<sym>.
	DefaultHistorySize int64 = 1000
)

// RedisCache stores the latest tick and a trimmed tick history per symbol.
type RedisCache struct {
	client      *redis.Client
	historySize int64
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(addr, password string, db int, historySize int64) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &RedisCache{client: client, historySize: historySize}, nil
}

func latestKey(symbol string) string  { return latestPrefix + symbol }
func historyKey(symbol string) string { return historyPrefix + symbol }

// SaveTick writes the tick as the latest value and pushes it onto the history list.
func (c *RedisCache) SaveTick(ctx context.Context, tick domain.Tick) error {
	data, err := json.Marshal(tick)
	if err != nil {
		return fmt.Errorf("failed to marshal tick: %w", err)
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, latestKey(tick.Symbol), data, 0)
		pipe.LPush(ctx, historyKey(tick.Symbol), data)
		pipe.LTrim(ctx, historyKey(tick.Symbol), 0, c.historySize-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to cache tick in redis: %w", err)
	}
	return nil
}

// LatestTick returns the cached latest tick, or nil when none is stored.
func (c *RedisCache) LatestTick(ctx context.Context, symbol string) (*domain.Tick, error) {
	data, err := c.client.Get(ctx, latestKey(symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest tick from redis: %w", err)
	}

	var tick domain.Tick
	if err := json.Unmarshal(data, &tick); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tick: %w", err)
	}
	return &tick, nil
}

// LatestPrice implements domain.TickCache.
func (c *RedisCache) LatestPrice(ctx context.Context, symbol string) (float64, bool, error) {
	tick, err := c.LatestTick(ctx, symbol)
	if err != nil || tick == nil {
		return 0, false, err
	}
	return tick.Price, true, nil
}

// Close closes the client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
