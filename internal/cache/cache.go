package cache

import (
	"context"
	"time"

	"warungpos/internal/domain"
)

type SummaryCache interface {
	Get(ctx context.Context, key string) (*domain.MovementSummary, bool, error)
	Set(ctx context.Context, key string, value *domain.MovementSummary, ttl time.Duration) error
}

type NoopSummaryCache struct{}

func (NoopSummaryCache) Get(_ context.Context, _ string) (*domain.MovementSummary, bool, error) {
	return nil, false, nil
}

func (NoopSummaryCache) Set(_ context.Context, _ string, _ *domain.MovementSummary, _ time.Duration) error {
	return nil
}
