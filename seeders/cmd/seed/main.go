package main

import (
	"context"
	"flag"
	"log"

	"go.uber.org/zap"

	"moving-crm/internal/repositories"
	"moving-crm/pkg/config"
	"moving-crm/pkg/database/migrations"
	"moving-crm/pkg/database/postgresql"
	"moving-crm/seeders"
)

func main() {
	log.Println("======================================================")
	log.Println("       🌱 СИСТЕМА СИДЕРОВ (Наполнение БД)           ")
	log.Println("======================================================")

	cfg := config.New()

	migrate := flag.Bool("migrate", true, "Применить миграции перед наполнением")
	tenant := flag.String("tenant", cfg.Tenant.Name, "Имя арендатора")
	timezone := flag.String("timezone", cfg.Tenant.Timezone, "Часовой пояс арендатора")
	email := flag.String("admin-email", "", "Email системного администратора (обязательно)")
	password := flag.String("admin-password", "", "Пароль системного администратора (обязательно)")
	fio := flag.String("admin-fio", "", "ФИО администратора")
	flag.Parse()

	if *email == "" || *password == "" {
		log.Println("❌ Не указаны -admin-email и -admin-password.")
		log.Println("")
		flag.PrintDefaults()
		log.Println("")
		log.Println("Пример:")
		log.Println("  go run ./seeders/cmd/seed -admin-email sync@letsgetmoving.ca -admin-password secret")
		return
	}

	ctx := context.Background()
	log.Println("📦 Используется DSN:", cfg.Postgres.DSN)
	dbPool, err := postgresql.ConnectDB(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	defer dbPool.Close()

	logger := zap.NewNop()
	if *migrate {
		if err := migrations.Up(ctx, dbPool, logger); err != nil {
			log.Fatalf("❌ %v", err)
		}
	}

	seeder := seeders.NewSeeder(
		repositories.NewTxManager(dbPool),
		repositories.NewClientRepository(dbPool, logger),
		repositories.NewUserRepository(dbPool, logger),
	)
	res, err := seeder.SeedTenant(ctx, seeders.TenantSeed{
		Name:          *tenant,
		Timezone:      *timezone,
		AdminFio:      *fio,
		AdminEmail:    *email,
		AdminPassword: *password,
	})
	if err != nil {
		log.Fatalf("❌ Ошибка наполнения арендатора: %v", err)
	}

	log.Printf("✅ Арендатор id=%d (создан: %t), администратор id=%d (создан: %t)",
		res.ClientID, res.ClientCreated, res.AdminID, res.AdminCreated)
	log.Println("======================================================")
}
