package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"moving-crm/internal/events"
	"moving-crm/internal/integrations"
	"moving-crm/internal/integrations/mock"
	"moving-crm/internal/integrations/smartmoving"
	"moving-crm/internal/listeners"
	"moving-crm/internal/repositories"
	"moving-crm/internal/repositories/memory"
	"moving-crm/internal/routes"
	"moving-crm/internal/services"
	isync "moving-crm/internal/sync"
	"moving-crm/pkg/config"
	"moving-crm/pkg/database/migrations"
	"moving-crm/pkg/database/postgresql"
	apperrors "moving-crm/pkg/errors"
	"moving-crm/pkg/eventbus"
	applogger "moving-crm/pkg/logger"
	appmiddleware "moving-crm/pkg/middleware"
	"moving-crm/pkg/utils"
	"moving-crm/pkg/validation"
)

const shutdownTimeout = 3 * time.Minute

func main() {
	cfg := config.New()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("конфигурация: %v", err)
	}

	logger := applogger.NewLogger(cfg.Log)
	defer logger.Sync()

	tz, _ := time.LoadLocation(cfg.Tenant.Timezone)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. База данных и миграции
	dbConn, err := postgresql.ConnectDB(ctx, cfg.Postgres.DSN)
	if err != nil {
		logger.Fatal("не удалось подключиться к БД", zap.Error(err))
	}
	defer dbConn.Close()
	if err := migrations.Up(ctx, dbConn, logger); err != nil {
		logger.Fatal("не удалось применить миграции", zap.Error(err))
	}

	// 2. Redis необязателен: без него кеш в памяти и без распределённого замка
	var cacheRepo repositories.CacheRepositoryInterface
	var cycleLock isync.CycleLock
	if cfg.Redis.Address != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       0,
		})
		if _, err := redisClient.Ping(ctx).Result(); err != nil {
			logger.Fatal("не удалось подключиться к Redis", zap.Error(err), zap.String("address", cfg.Redis.Address))
		}
		defer redisClient.Close()
		cacheRepo = repositories.NewRedisCacheRepository(redisClient)
		cycleLock = repositories.NewCycleLock(cacheRepo, logger)
	} else {
		logger.Warn("REDIS_ADDRESS не задан: кеш в памяти, распределённый замок цикла отключён")
		cacheRepo = memory.NewCache()
	}

	// 3. Провайдер работ
	registry := integrations.NewRegistry()
	if err := registry.Register(smartmoving.New(smartmoving.OptionsFromConfig(cfg.Remote), logger)); err != nil {
		logger.Fatal("регистрация провайдера", zap.Error(err))
	}
	if err := registry.Register(mock.NewMockProvider()); err != nil {
		logger.Fatal("регистрация провайдера", zap.Error(err))
	}
	if err := registry.SetActive(cfg.Sync.Provider); err != nil {
		logger.Fatal("выбор провайдера", zap.Error(err))
	}
	provider, err := registry.GetActive()
	if err != nil {
		logger.Fatal("активный провайдер", zap.Error(err))
	}
	if cfg.Sync.Provider == "smartmoving" && cfg.Remote.APIKey == "" {
		logger.Warn("SMARTMOVING_API_KEY не задан, запросы к SmartMoving будут отклонены")
	}

	// 4. Репозитории
	txManager := repositories.NewTxManager(dbConn)
	locationRepo := repositories.NewLocationRepository(dbConn, logger)
	journeyRepo := repositories.NewJourneyRepository(dbConn, txManager, logger)
	clientRepo := repositories.NewClientRepository(dbConn, logger)
	userRepo := repositories.NewUserRepository(dbConn, logger)
	syncRunRepo := repositories.NewSyncRunRepository(dbConn, logger)

	// 5. Шина событий: журнал циклов и итог в кеше
	bus := eventbus.New(logger)
	listeners.NewSyncRunListener(syncRunRepo, cacheRepo, logger).Register(bus)

	// 6. Синхронизация. Без арендатора ни один цикл не пройдёт, поэтому сервис не стартует
	resolver := isync.NewLocationResolver(locationRepo, clientRepo, cfg.Tenant.Name, cfg.Tenant.Timezone, logger)
	if err := ensureTenant(ctx, resolver, logger); err != nil {
		logger.Fatal("клиент-арендатор не найден, запустите сидер", zap.Error(err), zap.String("tenant", cfg.Tenant.Name))
	}
	engine := isync.NewEngine(
		provider,
		isync.NewNormalizer(tz, time.Now),
		resolver,
		isync.NewReconciler(journeyRepo, logger),
		locationRepo,
		userRepo,
		isync.EngineConfig{
			PageSize:     cfg.Remote.PageSize,
			WorkerCount:  cfg.Sync.WorkerCount,
			SoftDeadline: cfg.Sync.Interval / 2,
			Timezone:     tz,
		},
		time.Now,
		logger,
	)
	engine.OnCycleComplete(func(ctx context.Context, report isync.CycleReport) {
		bus.Publish(ctx, events.CycleCompletedEvent{Report: report})
	})

	scheduler := isync.NewScheduler(engine, cycleLock, isync.SchedulerConfig{
		Interval:      cfg.Sync.Interval,
		ErrorBackoff:  cfg.Sync.ErrorBackoff,
		ShutdownGrace: cfg.Sync.ShutdownGrace,
	}, time.Now, logger)

	syncService := services.NewSyncService(engine, scheduler, provider, journeyRepo, syncRunRepo, cacheRepo, logger)

	// 7. HTTP
	e := echo.New()
	e.HideBanner = true
	e.Validator = validation.New()
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		DisableStackAll: true,
		StackSize:       1 << 10,
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			logger.Error("!!! ОБНАРУЖЕНА ПАНИКА (PANIC) !!!",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Error(err),
				zap.String("stack", string(stack)),
			)
			if !c.Response().Committed {
				httpErr := apperrors.NewHttpError(http.StatusInternalServerError, "Внутренняя ошибка сервера", err, nil)
				utils.ErrorResponse(c, httpErr, logger)
			}
			return err
		},
	}))
	e.Use(middleware.RequestID())
	e.Use(appmiddleware.RequestLogger(logger))
	routes.InitRouter(e, syncService, cfg, logger)

	if cfg.Sync.AutoStart {
		scheduler.Start()
	}

	go func() {
		logger.Info("🚀 Сервер запущен", zap.String("port", cfg.Server.Port))
		if err := e.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Ошибка запуска сервера", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Получен сигнал остановки, завершаем работу")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	scheduler.Stop(shutdownCtx)
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Ошибка остановки HTTP-сервера", zap.Error(err))
	}
	if err := bus.Wait(shutdownCtx); err != nil {
		logger.Warn("Не все обработчики событий завершились", zap.Error(err))
	}
	logger.Info("Сервис остановлен")
}
