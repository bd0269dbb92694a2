package cache

import (
	"context"
	"time"

	"bengkelku/backend/internal/domain"
)

type LoyaltyStatusCache interface {
	Get(ctx context.Context, key string) (*domain.LoyaltyStatus, bool, error)
	Set(ctx context.Context, key string, value *domain.LoyaltyStatus, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type NoopLoyaltyStatusCache struct{}

func (NoopLoyaltyStatusCache) Get(_ context.Context, _ string) (*domain.LoyaltyStatus, bool, error) {
	return nil, false, nil
}

func (NoopLoyaltyStatusCache) Set(_ context.Context, _ string, _ *domain.LoyaltyStatus, _ time.Duration) error {
	return nil
}

func (NoopLoyaltyStatusCache) Delete(_ context.Context, _ string) error {
	return nil
}
