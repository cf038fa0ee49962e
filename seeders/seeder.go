package seeders

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"

	"moving-crm/internal/entities"
	"moving-crm/internal/repositories"
	apperrors "moving-crm/pkg/errors"
	"moving-crm/pkg/utils"
)

type ClientWriter interface {
	FindByName(ctx context.Context, name string) (*entities.Client, error)
	CreateClient(ctx context.Context, tx pgx.Tx, client entities.Client) (*entities.Client, error)
}

type UserWriter interface {
	FindByEmail(ctx context.Context, email string) (*entities.User, error)
	CreateUser(ctx context.Context, tx pgx.Tx, user entities.User) (*entities.User, error)
}

// TenantSeed - арендатор и системный администратор, от имени которого пишет синхронизация.
type TenantSeed struct {
	Name          string
	Timezone      string
	AdminFio      string
	AdminEmail    string
	AdminPassword string
}

type SeedResult struct {
	ClientID      uint64
	AdminID       uint64
	ClientCreated bool
	AdminCreated  bool
}

type Seeder struct {
	txManager repositories.TxManagerInterface
	clients   ClientWriter
	users     UserWriter
}

func NewSeeder(txManager repositories.TxManagerInterface, clients ClientWriter, users UserWriter) *Seeder {
	return &Seeder{txManager: txManager, clients: clients, users: users}
}

// SeedTenant создаёт арендатора и администратора, если их ещё нет. Повторный запуск ничего не меняет.
func (s *Seeder) SeedTenant(ctx context.Context, seed TenantSeed) (SeedResult, error) {
	if seed.Name == "" || seed.AdminEmail == "" {
		return SeedResult{}, apperrors.NewInvalidInputError("нужны имя арендатора и email администратора")
	}
	var res SeedResult

	err := s.txManager.RunInTransaction(ctx, func(tx pgx.Tx) error {
		client, err := s.clients.FindByName(ctx, seed.Name)
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
			log.Printf("  - Создание арендатора '%s'...", seed.Name)
			client, err = s.clients.CreateClient(ctx, tx, entities.Client{Name: seed.Name, Timezone: seed.Timezone})
			if err != nil {
				return fmt.Errorf("создание арендатора: %w", err)
			}
			res.ClientCreated = true
		case err != nil:
			return fmt.Errorf("поиск арендатора: %w", err)
		default:
			log.Printf("  - Арендатор '%s' уже существует. Пропускаем.", seed.Name)
		}
		res.ClientID = client.ID

		admin, err := s.users.FindByEmail(ctx, seed.AdminEmail)
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
		case err != nil:
			return fmt.Errorf("поиск администратора: %w", err)
		default:
			log.Printf("  - Пользователь %s уже существует. Пропускаем.", seed.AdminEmail)
			res.AdminID = admin.ID
			return nil
		}

		hashed, err := utils.HashPassword(seed.AdminPassword)
		if err != nil {
			return err
		}
		fio := seed.AdminFio
		if fio == "" {
			fio = "SmartMoving Sync"
		}
		clientID := client.ID
		admin, err = s.users.CreateUser(ctx, tx, entities.User{
			ClientID: &clientID,
			Fio:      fio,
			Email:    seed.AdminEmail,
			Role:     entities.RoleAdmin,
			Password: hashed,
		})
		if err != nil {
			return fmt.Errorf("создание администратора: %w", err)
		}
		log.Printf("  - Создан администратор %s (id=%d)", seed.AdminEmail, admin.ID)
		res.AdminID = admin.ID
		res.AdminCreated = true
		return nil
	})
	if err != nil {
		return SeedResult{}, err
	}
	return res, nil
}
