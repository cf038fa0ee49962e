package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"moving-crm/internal/entities"
	apperrors "moving-crm/pkg/errors"
)

const userSelectFields = "u.id, u.client_id, u.fio, u.email, u.role, u.password, u.created_at, u.updated_at"

type UserRepositoryInterface interface {
	FindSystemUser(ctx context.Context, role string) (*entities.User, error)
	FindByEmail(ctx context.Context, email string) (*entities.User, error)
	CreateUser(ctx context.Context, tx pgx.Tx, user entities.User) (*entities.User, error)
}

type UserRepository struct {
	storage *pgxpool.Pool
	logger  *zap.Logger
}

func NewUserRepository(storage *pgxpool.Pool, logger *zap.Logger) UserRepositoryInterface {
	return &UserRepository{storage: storage, logger: logger.Named("user_repository")}
}

func scanUser(row pgx.Row) (*entities.User, error) {
	var user entities.User
	var clientID sql.NullInt64
	err := row.Scan(
		&user.ID, &clientID, &user.Fio, &user.Email, &user.Role, &user.Password,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	if clientID.Valid {
		id := uint64(clientID.Int64)
		user.ClientID = &id
	}
	return &user, nil
}

// FindSystemUser - самый ранний пользователь с ролью, от его имени пишет синхронизация.
func (r *UserRepository) FindSystemUser(ctx context.Context, role string) (*entities.User, error) {
	query := "SELECT " + userSelectFields + " FROM users u WHERE u.role = $1 ORDER BY u.id LIMIT 1"
	return scanUser(r.storage.QueryRow(ctx, query, role))
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*entities.User, error) {
	query := "SELECT " + userSelectFields + " FROM users u WHERE LOWER(u.email) = LOWER($1)"
	return scanUser(r.storage.QueryRow(ctx, query, email))
}

func (r *UserRepository) CreateUser(ctx context.Context, tx pgx.Tx, user entities.User) (*entities.User, error) {
	query := `
		INSERT INTO users (client_id, fio, email, role, password, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING id, client_id, fio, email, role, password, created_at, updated_at
	`
	created, err := scanUser(pick(r.storage, tx).QueryRow(ctx, query,
		user.ClientID, user.Fio, user.Email, user.Role, user.Password,
	))
	if err != nil {
		return nil, mapWriteError(err)
	}
	return created, nil
}
