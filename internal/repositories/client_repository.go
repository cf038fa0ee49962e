package repositories

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"moving-crm/internal/entities"
	apperrors "moving-crm/pkg/errors"
)

type ClientRepositoryInterface interface {
	FindByName(ctx context.Context, name string) (*entities.Client, error)
	CreateClient(ctx context.Context, tx pgx.Tx, client entities.Client) (*entities.Client, error)
}

type ClientRepository struct {
	storage *pgxpool.Pool
	logger  *zap.Logger
}

func NewClientRepository(storage *pgxpool.Pool, logger *zap.Logger) ClientRepositoryInterface {
	return &ClientRepository{storage: storage, logger: logger.Named("client_repository")}
}

func scanClient(row pgx.Row) (*entities.Client, error) {
	var c entities.Client
	if err := row.Scan(&c.ID, &c.Name, &c.Timezone, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *ClientRepository) FindByName(ctx context.Context, name string) (*entities.Client, error) {
	query := `SELECT id, name, timezone, created_at, updated_at FROM clients WHERE name = $1`
	return scanClient(r.storage.QueryRow(ctx, query, name))
}

func (r *ClientRepository) CreateClient(ctx context.Context, tx pgx.Tx, client entities.Client) (*entities.Client, error) {
	query := `
		INSERT INTO clients (name, timezone, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		RETURNING id, name, timezone, created_at, updated_at
	`
	created, err := scanClient(pick(r.storage, tx).QueryRow(ctx, query, client.Name, client.Timezone))
	if err != nil {
		return nil, mapWriteError(err)
	}
	return created, nil
}
