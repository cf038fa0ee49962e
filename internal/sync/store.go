package sync

import (
	"context"
	"time"

	"moving-crm/internal/entities"
)

// Контракт хранилища для конвейера синхронизации.
// "Не найдено" всегда возвращается как apperrors.ErrNotFound.

type LocationStore interface {
	// FindByRemoteBranch ищет локацию SMARTMOVING по идентификатору филиала.
	FindByRemoteBranch(ctx context.Context, branchID string) (*entities.Location, error)
	FindByID(ctx context.Context, id uint64) (*entities.Location, error)
	// Create при нарушении уникальности возвращает apperrors.ErrAlreadyExists.
	Create(ctx context.Context, location entities.Location) (*entities.Location, error)
	TouchSynced(ctx context.Context, ids []uint64, at time.Time) error
}

type JourneyStore interface {
	FindByExternalID(ctx context.Context, externalID string) (*entities.TruckJourney, error)
	// Insert при нарушении уникальности externalId возвращает apperrors.ErrAlreadyExists.
	Insert(ctx context.Context, journey entities.TruckJourney) (*entities.TruckJourney, error)
	// Update возвращает apperrors.ErrStaleSync, если в базе уже более свежий lastSyncAt.
	Update(ctx context.Context, id uint64, patch entities.JourneyPatch) (*entities.TruckJourney, error)
	Count(ctx context.Context, filter entities.JourneyFilter) (uint64, error)
}

type TenantStore interface {
	FindByName(ctx context.Context, name string) (*entities.Client, error)
}

type UserStore interface {
	// FindSystemUser возвращает первого пользователя с указанной ролью.
	FindSystemUser(ctx context.Context, role string) (*entities.User, error)
}
