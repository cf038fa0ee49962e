package repositories

import (
	"context"
	"time"
)

type CacheRepositoryInterface interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, key ...string) error
	// SetNX записывает значение, только если ключа ещё нет.
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	// DelIfEquals удаляет ключ, только если в нём лежит ожидаемое значение.
	DelIfEquals(ctx context.Context, key, value string) (bool, error)
}
