package routes

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"moving-crm/internal/services"
	"moving-crm/pkg/config"
)

// InitRouter регистрирует все маршруты API. Сам сервис синхронизации
// собирается в main, роутер получает его готовым.
func InitRouter(e *echo.Echo, syncService services.SyncServiceInterface, cfg *config.Config, logger *zap.Logger) {
	logger.Info("InitRouter: Начало создания маршрутов")

	api := e.Group("/api")
	runSyncRouter(api, syncService, cfg, logger)

	logger.Info("InitRouter: Создание маршрутов завершено")
}
