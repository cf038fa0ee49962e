package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	stdsync "sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"moving-crm/internal/entities"
	"moving-crm/internal/integrations/dto"
	apperrors "moving-crm/pkg/errors"
)

// BranchMemo - кэш branchID -> locationID на время одного цикла.
type BranchMemo struct {
	mu  stdsync.Mutex
	ids map[string]uint64
}

func NewBranchMemo() *BranchMemo {
	return &BranchMemo{ids: make(map[string]uint64)}
}

func (m *BranchMemo) get(key string) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.ids[key]
	return id, ok
}

func (m *BranchMemo) put(key string, id uint64) {
	m.mu.Lock()
	m.ids[key] = id
	m.mu.Unlock()
}

// LocationResolver сопоставляет филиал SmartMoving с локальной локацией арендатора.
type LocationResolver struct {
	locations  LocationStore
	tenants    TenantStore
	tenantName string
	timezone   string
	group      singleflight.Group
	logger     *zap.Logger
}

func NewLocationResolver(locations LocationStore, tenants TenantStore, tenantName, timezone string, logger *zap.Logger) *LocationResolver {
	return &LocationResolver{
		locations:  locations,
		tenants:    tenants,
		tenantName: tenantName,
		timezone:   timezone,
		logger:     logger.Named("location_resolver"),
	}
}

// Tenant возвращает клиента-арендатора или ErrTenantMissing.
func (r *LocationResolver) Tenant(ctx context.Context) (*entities.Client, error) {
	client, err := r.tenants.FindByName(ctx, r.tenantName)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("%w: клиент %q", apperrors.ErrTenantMissing, r.tenantName)
		}
		return nil, fmt.Errorf("поиск клиента %q: %w", r.tenantName, err)
	}
	return client, nil
}

func branchKey(b dto.Branch) string {
	key := strings.TrimSpace(b.ID.String())
	if key == "" {
		return UnknownBranchKey
	}
	return key
}

// Resolve возвращает id локации для филиала, создавая её при первом появлении.
func (r *LocationResolver) Resolve(ctx context.Context, memo *BranchMemo, tenant *entities.Client, branch dto.Branch, origin *string) (uint64, error) {
	if tenant == nil {
		return 0, apperrors.ErrTenantMissing
	}
	key := branchKey(branch)
	if memo != nil {
		if id, ok := memo.get(key); ok {
			return id, nil
		}
	}

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		return r.resolve(ctx, tenant, key, branch, origin)
	})
	if err != nil {
		return 0, err
	}
	id := v.(uint64)
	if memo != nil {
		memo.put(key, id)
	}
	return id, nil
}

func (r *LocationResolver) resolve(ctx context.Context, tenant *entities.Client, key string, branch dto.Branch, origin *string) (uint64, error) {
	existing, err := r.locations.FindByRemoteBranch(ctx, key)
	if err == nil {
		return r.accept(existing, tenant, key)
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return 0, fmt.Errorf("%w: поиск филиала %s: %v", apperrors.ErrLocationUnresolved, key, err)
	}

	name := strings.TrimSpace(branch.Name)
	if name == "" {
		name = UnknownLocationName
	}
	branchData := dto.Branch{ID: dto.FlexString(key), Name: branch.Name}
	if key == UnknownBranchKey {
		branchData.ID = ""
	}
	externalData, _ := json.Marshal(map[string]dto.Branch{"branch": branchData})

	created, err := r.locations.Create(ctx, entities.Location{
		ClientID:     tenant.ID,
		Name:         name,
		Address:      origin,
		Timezone:     r.timezone,
		DataSource:   entities.DataSourceSmartMoving,
		ExternalID:   &key,
		ExternalData: externalData,
	})
	if err == nil {
		r.logger.Info("Создана локация для нового филиала",
			zap.String("branch_id", key), zap.String("name", name), zap.Uint64("location_id", created.ID))
		return r.accept(created, tenant, key)
	}
	if !errors.Is(err, apperrors.ErrAlreadyExists) {
		return 0, fmt.Errorf("%w: создание локации для филиала %s: %v", apperrors.ErrLocationUnresolved, key, err)
	}

	// Другой писатель успел первым, берём его запись.
	winner, err := r.locations.FindByRemoteBranch(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("%w: повторный поиск филиала %s: %v", apperrors.ErrLocationUnresolved, key, err)
	}
	return r.accept(winner, tenant, key)
}

func (r *LocationResolver) accept(loc *entities.Location, tenant *entities.Client, key string) (uint64, error) {
	if loc.ClientID != tenant.ID {
		return 0, fmt.Errorf("%w: филиал %s принадлежит другому клиенту (%d)", apperrors.ErrLocationUnresolved, key, loc.ClientID)
	}
	return loc.ID, nil
}
