package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"bengkelku/backend/internal/domain"
)

type RedisLoyaltyStatusCache struct {
	client *redis.Client
}

func NewRedisLoyaltyStatusCache(addr string, password string, db int) *RedisLoyaltyStatusCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisLoyaltyStatusCache{client: client}
}

func (c *RedisLoyaltyStatusCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisLoyaltyStatusCache) Close() error {
	return c.client.Close()
}

func (c *RedisLoyaltyStatusCache) Get(ctx context.Context, key string) (*domain.LoyaltyStatus, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var status domain.LoyaltyStatus
	if err := json.Unmarshal([]byte(val), &status); err != nil {
		return nil, false, err
	}
	return &status, true, nil
}

func (c *RedisLoyaltyStatusCache) Set(ctx context.Context, key string, value *domain.LoyaltyStatus, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

func (c *RedisLoyaltyStatusCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}
