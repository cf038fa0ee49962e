package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const CycleLockKey = "sync:cycle_lock"

// CycleLock - распределённый замок на тик планировщика поверх кеша.
type CycleLock struct {
	cache  CacheRepositoryInterface
	key    string
	logger *zap.Logger
}

func NewCycleLock(cache CacheRepositoryInterface, logger *zap.Logger) *CycleLock {
	return &CycleLock{cache: cache, key: CycleLockKey, logger: logger.Named("cycle_lock")}
}

// TryLock ставит ключ с уникальным токеном. release снимает замок,
// только если он всё ещё наш (TTL мог истечь и замок перехватили).
func (l *CycleLock) TryLock(ctx context.Context, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.cache.SetNX(ctx, l.key, token, ttl)
	if err != nil || !ok {
		return nil, false, err
	}

	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		released, err := l.cache.DelIfEquals(releaseCtx, l.key, token)
		if err != nil {
			l.logger.Warn("Не удалось снять замок цикла", zap.Error(err))
			return
		}
		if !released {
			l.logger.Warn("Замок цикла истёк до завершения цикла", zap.Duration("ttl", ttl))
		}
	}
	return release, true, nil
}
