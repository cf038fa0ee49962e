package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"moving-crm/internal/entities"
	apperrors "moving-crm/pkg/errors"
)

const locationTable = "locations"

var locationColumns = []string{
	"l.id", "l.client_id", "l.name", "l.address", "l.timezone", "l.data_source",
	"l.external_id", "l.external_data", "l.last_sync_at", "l.created_at", "l.updated_at",
}

type LocationRepositoryInterface interface {
	FindByRemoteBranch(ctx context.Context, branchID string) (*entities.Location, error)
	FindByID(ctx context.Context, id uint64) (*entities.Location, error)
	Create(ctx context.Context, location entities.Location) (*entities.Location, error)
	TouchSynced(ctx context.Context, ids []uint64, at time.Time) error
}

type LocationRepository struct {
	storage *pgxpool.Pool
	logger  *zap.Logger
}

func NewLocationRepository(storage *pgxpool.Pool, logger *zap.Logger) LocationRepositoryInterface {
	return &LocationRepository{storage: storage, logger: logger.Named("location_repository")}
}

func scanLocation(row pgx.Row) (*entities.Location, error) {
	var l entities.Location
	var address, externalID sql.NullString
	var externalData []byte
	var lastSyncAt sql.NullTime
	var dataSource string

	err := row.Scan(
		&l.ID, &l.ClientID, &l.Name, &address, &l.Timezone, &dataSource,
		&externalID, &externalData, &lastSyncAt, &l.CreatedAt, &l.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования location: %w", err)
	}

	l.DataSource = entities.DataSource(dataSource)
	l.ExternalData = externalData
	if address.Valid {
		l.Address = &address.String
	}
	if externalID.Valid {
		l.ExternalID = &externalID.String
	}
	if lastSyncAt.Valid {
		l.LastSyncAt = &lastSyncAt.Time
	}
	return &l, nil
}

func (r *LocationRepository) findOne(ctx context.Context, querier Querier, where sq.Eq) (*entities.Location, error) {
	psql := sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	query, args, err := psql.Select(locationColumns...).
		From(locationTable + " l").
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, err
	}
	return scanLocation(querier.QueryRow(ctx, query, args...))
}

func (r *LocationRepository) FindByRemoteBranch(ctx context.Context, branchID string) (*entities.Location, error) {
	return r.findOne(ctx, r.storage, sq.Eq{
		"l.data_source": string(entities.DataSourceSmartMoving),
		"l.external_id": branchID,
	})
}

func (r *LocationRepository) FindByID(ctx context.Context, id uint64) (*entities.Location, error) {
	return r.findOne(ctx, r.storage, sq.Eq{"l.id": id})
}

// Create вставляет локацию. При гонке на уникальном индексе
// (data_source, external_id) возвращает apperrors.ErrAlreadyExists.
func (r *LocationRepository) Create(ctx context.Context, location entities.Location) (*entities.Location, error) {
	query := `
		INSERT INTO locations (client_id, name, address, timezone, data_source, external_id, external_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING id, client_id, name, address, timezone, data_source, external_id, external_data, last_sync_at, created_at, updated_at
	`
	var externalData []byte
	if len(location.ExternalData) > 0 {
		externalData = []byte(location.ExternalData)
	}

	created, err := scanLocation(r.storage.QueryRow(ctx, query,
		location.ClientID, location.Name, location.Address, location.Timezone,
		string(location.DataSource), location.ExternalID, externalData,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.ErrAlreadyExists
		}
		return nil, mapWriteError(err)
	}
	return created, nil
}

func (r *LocationRepository) TouchSynced(ctx context.Context, ids []uint64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	psql := sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	query, args, err := psql.Update(locationTable).
		Set("last_sync_at", at).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": ids}).
		Where(sq.Or{sq.Eq{"last_sync_at": nil}, sq.Lt{"last_sync_at": at}}).
		ToSql()
	if err != nil {
		return err
	}
	_, err = r.storage.Exec(ctx, query, args...)
	return err
}
