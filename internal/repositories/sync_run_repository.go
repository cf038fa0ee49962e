package repositories

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"moving-crm/internal/entities"
)

const (
	syncRunTable        = "sync_runs"
	defaultSyncRunLimit = 50
	maxSyncRunLimit     = 500
)

var syncRunColumns = []string{
	"id", "cycle_id", "sync_date", "branch_filter", "processed", "created", "updated", "failed",
	"error_kind", "error_message", "triggered_by", "started_at", "finished_at",
}

type SyncRunRepositoryInterface interface {
	CreateSyncRun(ctx context.Context, run entities.SyncRun) (uint64, error)
	ListSyncRuns(ctx context.Context, limit uint64) ([]entities.SyncRun, error)
}

type SyncRunRepository struct {
	storage *pgxpool.Pool
	logger  *zap.Logger
}

func NewSyncRunRepository(storage *pgxpool.Pool, logger *zap.Logger) SyncRunRepositoryInterface {
	return &SyncRunRepository{storage: storage, logger: logger.Named("sync_run_repository")}
}

func scanSyncRun(row pgx.Row) (*entities.SyncRun, error) {
	var run entities.SyncRun
	var branchFilter, errorKind, errorMessage sql.NullString
	err := row.Scan(
		&run.ID, &run.CycleID, &run.SyncDate, &branchFilter,
		&run.Processed, &run.Created, &run.Updated, &run.Failed,
		&errorKind, &errorMessage, &run.TriggeredBy, &run.StartedAt, &run.FinishedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования sync_run: %w", err)
	}
	if branchFilter.Valid {
		run.BranchFilter = &branchFilter.String
	}
	if errorKind.Valid {
		run.ErrorKind = &errorKind.String
	}
	if errorMessage.Valid {
		run.ErrorMessage = &errorMessage.String
	}
	return &run, nil
}

func (r *SyncRunRepository) CreateSyncRun(ctx context.Context, run entities.SyncRun) (uint64, error) {
	psql := sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	query, args, err := psql.Insert(syncRunTable).
		Columns(syncRunColumns[1:]...).
		Values(
			run.CycleID, run.SyncDate, run.BranchFilter, run.Processed, run.Created, run.Updated, run.Failed,
			run.ErrorKind, run.ErrorMessage, run.TriggeredBy, run.StartedAt, run.FinishedAt,
		).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return 0, err
	}

	var id uint64
	if err := r.storage.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return 0, mapWriteError(err)
	}
	return id, nil
}

// ListSyncRuns - последние циклы, новые первыми.
func (r *SyncRunRepository) ListSyncRuns(ctx context.Context, limit uint64) ([]entities.SyncRun, error) {
	if limit == 0 {
		limit = defaultSyncRunLimit
	}
	if limit > maxSyncRunLimit {
		limit = maxSyncRunLimit
	}

	psql := sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	query, args, err := psql.Select(syncRunColumns...).
		From(syncRunTable).
		OrderBy("started_at DESC", "id DESC").
		Limit(limit).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.storage.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]entities.SyncRun, 0, limit)
	for rows.Next() {
		run, err := scanSyncRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}
