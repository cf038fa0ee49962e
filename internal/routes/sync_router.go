package routes

import (
	"crypto/subtle"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"moving-crm/internal/controllers"
	"moving-crm/internal/services"
	"moving-crm/pkg/config"
)

func runSyncRouter(apiGroup *echo.Group, syncService services.SyncServiceInterface, cfg *config.Config, logger *zap.Logger) {
	logger.Info("Инициализация роутера для синхронизации со SmartMoving...")

	syncController := controllers.NewSyncController(syncService, logger)
	syncGroup := apiGroup.Group("/sync")

	apiKey := cfg.Sync.ControlAPIKey
	if apiKey == "" {
		logger.Warn("API-ключ управления синхронизацией (SYNC_CONTROL_API_KEY) не установлен! Эндпоинты не защищены.")
	} else {
		syncGroup.Use(middleware.KeyAuth(func(key string, c echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1, nil
		}))
	}

	syncGroup.POST("/trigger", syncController.TriggerCycle)
	syncGroup.POST("/trigger-both", syncController.TriggerBoth)
	syncGroup.GET("/status", syncController.Status)
	syncGroup.POST("/start", syncController.Start)
	syncGroup.POST("/stop", syncController.Stop)
	syncGroup.GET("/health", syncController.Health)
	syncGroup.GET("/runs", syncController.ListRuns)
	syncGroup.GET("/runs/export", syncController.ExportRuns)
}
