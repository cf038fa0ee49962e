package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"moving-crm/internal/entities"
	apperrors "moving-crm/pkg/errors"
)

const journeyTable = "truck_journeys"

var journeyColumns = []string{
	"j.id", "j.external_id", "j.client_id", "j.location_id",
	"j.scheduled_date", "j.start_time", "j.estimated_duration",
	"j.status", "j.priority", "j.billing_status",
	"j.truck_number", "j.notes", "j.tags", "j.estimated_cost::text",
	"j.start_location", "j.end_location",
	"j.data_source", "j.last_sync_at", "j.sync_status", "j.external_data",
	"j.created_by", "j.updated_by", "j.created_at", "j.updated_at",
}

type JourneyRepositoryInterface interface {
	FindByExternalID(ctx context.Context, externalID string) (*entities.TruckJourney, error)
	FindByID(ctx context.Context, id uint64) (*entities.TruckJourney, error)
	Insert(ctx context.Context, journey entities.TruckJourney) (*entities.TruckJourney, error)
	Update(ctx context.Context, id uint64, patch entities.JourneyPatch) (*entities.TruckJourney, error)
	Count(ctx context.Context, filter entities.JourneyFilter) (uint64, error)
}

type JourneyRepository struct {
	storage   *pgxpool.Pool
	txManager TxManagerInterface
	logger    *zap.Logger
}

func NewJourneyRepository(storage *pgxpool.Pool, txManager TxManagerInterface, logger *zap.Logger) JourneyRepositoryInterface {
	return &JourneyRepository{storage: storage, txManager: txManager, logger: logger.Named("journey_repository")}
}

func scanJourney(row pgx.Row) (*entities.TruckJourney, error) {
	var j entities.TruckJourney
	var externalID, notes, cost sql.NullString
	var startTime, lastSyncAt sql.NullTime
	var startLocation, endLocation, externalData []byte
	var status, dataSource, syncStatus string
	var updatedBy sql.NullInt64

	err := row.Scan(
		&j.ID, &externalID, &j.ClientID, &j.LocationID,
		&j.ScheduledDate, &startTime, &j.EstimatedDuration,
		&status, &j.Priority, &j.BillingStatus,
		&j.TruckNumber, &notes, &j.Tags, &cost,
		&startLocation, &endLocation,
		&dataSource, &lastSyncAt, &syncStatus, &externalData,
		&j.CreatedBy, &updatedBy, &j.CreatedAt, &j.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования truck_journey: %w", err)
	}

	j.Status = entities.JourneyStatus(status)
	j.DataSource = entities.DataSource(dataSource)
	j.SyncStatus = entities.SyncStatus(syncStatus)
	j.ExternalData = externalData
	if externalID.Valid {
		j.ExternalID = &externalID.String
	}
	if notes.Valid {
		j.Notes = &notes.String
	}
	if cost.Valid {
		d, err := decimal.NewFromString(cost.String)
		if err != nil {
			return nil, fmt.Errorf("estimated_cost %q: %w", cost.String, err)
		}
		j.EstimatedCost = decimal.NewNullDecimal(d)
	}
	if startTime.Valid {
		j.StartTime = &startTime.Time
	}
	if lastSyncAt.Valid {
		j.LastSyncAt = &lastSyncAt.Time
	}
	if updatedBy.Valid {
		id := uint64(updatedBy.Int64)
		j.UpdatedBy = &id
	}
	if j.StartLocation, err = decodeAddress(startLocation); err != nil {
		return nil, err
	}
	if j.EndLocation, err = decodeAddress(endLocation); err != nil {
		return nil, err
	}
	return &j, nil
}

func decodeAddress(raw []byte) (*entities.JourneyAddress, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var a entities.JourneyAddress
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("адрес рейса: %w", err)
	}
	return &a, nil
}

func encodeAddress(a *entities.JourneyAddress) ([]byte, error) {
	if a == nil {
		return nil, nil
	}
	return json.Marshal(a)
}

func (r *JourneyRepository) findOne(ctx context.Context, querier Querier, where sq.Sqlizer, forUpdate bool) (*entities.TruckJourney, error) {
	psql := sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	builder := psql.Select(journeyColumns...).From(journeyTable + " j").Where(where).Limit(1)
	if forUpdate {
		builder = builder.Suffix("FOR UPDATE")
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}
	return scanJourney(querier.QueryRow(ctx, query, args...))
}

func (r *JourneyRepository) FindByExternalID(ctx context.Context, externalID string) (*entities.TruckJourney, error) {
	return r.findOne(ctx, r.storage, sq.Eq{
		"j.external_id": externalID,
		"j.data_source": string(entities.DataSourceSmartMoving),
	}, false)
}

func (r *JourneyRepository) FindByID(ctx context.Context, id uint64) (*entities.TruckJourney, error) {
	return r.findOne(ctx, r.storage, sq.Eq{"j.id": id}, false)
}

func (r *JourneyRepository) Insert(ctx context.Context, j entities.TruckJourney) (*entities.TruckJourney, error) {
	startLocation, err := encodeAddress(j.StartLocation)
	if err != nil {
		return nil, err
	}
	endLocation, err := encodeAddress(j.EndLocation)
	if err != nil {
		return nil, err
	}
	tags := j.Tags
	if tags == nil {
		tags = []string{}
	}
	var externalData []byte
	if len(j.ExternalData) > 0 {
		externalData = []byte(j.ExternalData)
	}

	psql := sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	query, args, err := psql.Insert(journeyTable).
		Columns(
			"external_id", "client_id", "location_id", "scheduled_date", "start_time", "estimated_duration",
			"status", "priority", "billing_status", "truck_number", "notes", "tags", "estimated_cost",
			"start_location", "end_location", "data_source", "last_sync_at", "sync_status", "external_data",
			"created_by", "created_at", "updated_at",
		).
		Values(
			j.ExternalID, j.ClientID, j.LocationID, j.ScheduledDate, j.StartTime, j.EstimatedDuration,
			string(j.Status), j.Priority, j.BillingStatus, j.TruckNumber, j.Notes, tags, j.EstimatedCost,
			startLocation, endLocation, string(j.DataSource), j.LastSyncAt, string(j.SyncStatus), externalData,
			j.CreatedBy, sq.Expr("NOW()"), sq.Expr("NOW()"),
		).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return nil, err
	}

	var id uint64
	if err := r.storage.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return nil, mapWriteError(err)
	}
	return r.FindByID(ctx, id)
}

// Update применяет патч под блокировкой строки. Запись со lastSyncAt старше
// сохранённого отклоняется с apperrors.ErrStaleSync, статус не меняется никогда.
func (r *JourneyRepository) Update(ctx context.Context, id uint64, p entities.JourneyPatch) (*entities.TruckJourney, error) {
	var updated *entities.TruckJourney
	err := r.txManager.RunInTransaction(ctx, func(tx pgx.Tx) error {
		current, err := r.findOne(ctx, tx, sq.Eq{"j.id": id}, true)
		if err != nil {
			return err
		}
		if current.LastSyncAt != nil && current.LastSyncAt.After(p.LastSyncAt) {
			return apperrors.ErrStaleSync
		}

		psql := sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
		builder := psql.Update(journeyTable).
			Set("external_data", []byte(p.ExternalData)).
			Set("last_sync_at", p.LastSyncAt).
			Set("sync_status", string(p.SyncStatus)).
			Set("updated_by", p.UpdatedBy).
			Set("updated_at", sq.Expr("NOW()"))

		if p.ScheduledDate != nil {
			builder = builder.Set("scheduled_date", *p.ScheduledDate)
		}
		if p.StartTime != nil {
			builder = builder.Set("start_time", *p.StartTime)
		}
		if p.EstimatedDuration != nil {
			builder = builder.Set("estimated_duration", *p.EstimatedDuration)
		}
		if p.Notes != nil {
			builder = builder.Set("notes", *p.Notes)
		}
		if p.EstimatedCost != nil {
			builder = builder.Set("estimated_cost", *p.EstimatedCost)
		}
		if p.StartLocation != nil {
			raw, err := encodeAddress(p.StartLocation)
			if err != nil {
				return err
			}
			builder = builder.Set("start_location", raw)
		}
		if p.EndLocation != nil {
			raw, err := encodeAddress(p.EndLocation)
			if err != nil {
				return err
			}
			builder = builder.Set("end_location", raw)
		}

		query, args, err := builder.Where(sq.Eq{"id": id}).ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return mapWriteError(err)
		}

		updated, err = r.findOne(ctx, tx, sq.Eq{"j.id": id}, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *JourneyRepository) Count(ctx context.Context, f entities.JourneyFilter) (uint64, error) {
	psql := sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	builder := psql.Select("COUNT(j.id)").From(journeyTable + " j")

	if f.ClientID != 0 {
		builder = builder.Where(sq.Eq{"j.client_id": f.ClientID})
	}
	if f.LocationID != 0 {
		builder = builder.Where(sq.Eq{"j.location_id": f.LocationID})
	}
	if f.DataSource != "" {
		builder = builder.Where(sq.Eq{"j.data_source": string(f.DataSource)})
	}
	if f.Status != "" {
		builder = builder.Where(sq.Eq{"j.status": string(f.Status)})
	}
	if f.From != nil {
		builder = builder.Where(sq.GtOrEq{"j.scheduled_date": *f.From})
	}
	if f.To != nil {
		builder = builder.Where(sq.Lt{"j.scheduled_date": *f.To})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return 0, err
	}
	var total uint64
	if err := r.storage.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}
