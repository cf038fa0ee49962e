package controllers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"moving-crm/internal/dto"
	"moving-crm/internal/services"
	"moving-crm/pkg/api"
	apperrors "moving-crm/pkg/errors"
	"moving-crm/pkg/utils"
)

const (
	defaultRunsLimit = 50
	maxRunsLimit     = 500
	exportRunsLimit  = 500
)

type SyncController struct {
	syncService services.SyncServiceInterface
	logger      *zap.Logger
}

func NewSyncController(service services.SyncServiceInterface, logger *zap.Logger) *SyncController {
	return &SyncController{
		syncService: service,
		logger:      logger.Named("sync_controller"),
	}
}

func (c *SyncController) TriggerCycle(ctx echo.Context) error {
	var req dto.TriggerCycleDTO
	if err := ctx.Bind(&req); err != nil {
		return utils.ErrorResponse(ctx, apperrors.NewHttpError(http.StatusBadRequest, "Неверный формат JSON", err, nil), c.logger)
	}
	if err := ctx.Validate(&req); err != nil {
		return utils.ErrorResponse(ctx, err, c.logger)
	}
	filter, ok := req.Filter()
	if !ok {
		return utils.ErrorResponse(ctx, apperrors.NewInvalidInputError("Укажите либо branchId, либо locationId"), c.logger)
	}
	date, err := req.ServiceDate()
	if err != nil {
		return utils.ErrorResponse(ctx, apperrors.NewInvalidInputError("Неверная дата: %s", req.Date.String), c.logger)
	}

	report, err := c.syncService.TriggerCycle(ctx.Request().Context(), date, filter)
	body := dto.NewCycleReportDTO(report)
	if err != nil {
		return utils.ErrorResponse(ctx, apperrors.NewHttpError(utils.StatusCode(err), "Цикл синхронизации завершился ошибкой", err, body), c.logger)
	}
	return utils.SuccessResponse(ctx, body, "Синхронизация выполнена", http.StatusOK)
}

func (c *SyncController) TriggerBoth(ctx echo.Context) error {
	var req dto.TriggerBothDTO
	if err := ctx.Bind(&req); err != nil {
		return utils.ErrorResponse(ctx, apperrors.NewHttpError(http.StatusBadRequest, "Неверный формат JSON", err, nil), c.logger)
	}
	if err := ctx.Validate(&req); err != nil {
		return utils.ErrorResponse(ctx, err, c.logger)
	}
	filter, ok := req.Filter()
	if !ok {
		return utils.ErrorResponse(ctx, apperrors.NewInvalidInputError("Укажите либо branchId, либо locationId"), c.logger)
	}

	report, err := c.syncService.TriggerBoth(ctx.Request().Context(), filter)
	body := dto.NewBothReportDTO(report)
	if err != nil {
		return utils.ErrorResponse(ctx, apperrors.NewHttpError(utils.StatusCode(err), "Синхронизация завершилась ошибкой", err, body), c.logger)
	}
	return utils.SuccessResponse(ctx, body, "Синхронизация на сегодня и завтра выполнена", http.StatusOK)
}

func (c *SyncController) Status(ctx echo.Context) error {
	return utils.SuccessResponse(ctx, c.syncService.Status(ctx.Request().Context()), "Состояние синхронизации", http.StatusOK)
}

func (c *SyncController) Start(ctx echo.Context) error {
	if c.syncService.Start(ctx.Request().Context()) {
		return utils.SuccessResponse(ctx, map[string]bool{"started": true}, "Планировщик запущен", http.StatusOK)
	}
	return utils.SuccessResponse(ctx, map[string]bool{"started": false}, "Планировщик уже запущен", http.StatusOK)
}

func (c *SyncController) Stop(ctx echo.Context) error {
	if c.syncService.Stop(ctx.Request().Context()) {
		return utils.SuccessResponse(ctx, map[string]bool{"stopped": true}, "Планировщик остановлен", http.StatusOK)
	}
	return utils.SuccessResponse(ctx, map[string]bool{"stopped": false}, "Планировщик уже остановлен", http.StatusOK)
}

func (c *SyncController) Health(ctx echo.Context) error {
	if err := c.syncService.Health(ctx.Request().Context()); err != nil {
		c.logger.Warn("SmartMoving недоступен", zap.Error(err))
		return ctx.JSON(http.StatusServiceUnavailable, &utils.HTTPResponse{
			Status:  false,
			Message: "SmartMoving недоступен",
			Body:    dto.HealthDTO{Provider: "smartmoving", OK: false, Error: err.Error()},
		})
	}
	return utils.SuccessResponse(ctx, dto.HealthDTO{Provider: "smartmoving", OK: true}, "SmartMoving доступен", http.StatusOK)
}

func (c *SyncController) ListRuns(ctx echo.Context) error {
	limit, err := parseLimit(ctx.QueryParam("limit"))
	if err != nil {
		return utils.ErrorResponse(ctx, err, c.logger)
	}
	runs, err := c.syncService.History(ctx.Request().Context(), uint64(limit))
	if err != nil {
		return utils.ErrorResponse(ctx, err, c.logger)
	}
	list := make([]dto.SyncRunDTO, 0, len(runs))
	for _, r := range runs {
		list = append(list, dto.NewSyncRunDTO(r))
	}
	return api.SuccessList(ctx, "Журнал синхронизации", list, limit)
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultRunsLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxRunsLimit {
		return 0, apperrors.NewInvalidInputError("limit должен быть числом от 1 до %d", maxRunsLimit)
	}
	return n, nil
}

var runHeaders = []string{
	"Цикл", "Дата", "Фильтр", "Запуск", "Обработано", "Создано", "Обновлено", "Ошибок",
	"Вид ошибки", "Ошибка", "Начало", "Окончание",
}

func runToSlice(r dto.SyncRunDTO) []interface{} {
	return []interface{}{
		r.CycleID, r.SyncDate, utils.SafeDeref(r.BranchFilter), r.TriggeredBy,
		r.Processed, r.Created, r.Updated, r.Failed,
		utils.SafeDeref(r.ErrorKind), utils.SafeDeref(r.ErrorMessage), r.StartedAt, r.FinishedAt,
	}
}

// ExportRuns отдаёт журнал синхронизации в xlsx.
func (c *SyncController) ExportRuns(ctx echo.Context) error {
	runs, err := c.syncService.History(ctx.Request().Context(), exportRunsLimit)
	if err != nil {
		return utils.ErrorResponse(ctx, err, c.logger)
	}

	f := excelize.NewFile()
	defer f.Close()
	sheet := "Синхронизация"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return utils.ErrorResponse(ctx, err, c.logger)
	}
	if err := f.SetSheetRow(sheet, "A1", &runHeaders); err != nil {
		return utils.ErrorResponse(ctx, err, c.logger)
	}
	style, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	f.SetCellStyle(sheet, "A1", "L1", style)

	for i, r := range runs {
		row := runToSlice(dto.NewSyncRunDTO(r))
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return utils.ErrorResponse(ctx, err, c.logger)
		}
	}
	f.SetColWidth(sheet, "A", "A", 38)
	f.SetColWidth(sheet, "J", "J", 60)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return utils.ErrorResponse(ctx, fmt.Errorf("xlsx: %w", err), c.logger)
	}
	fileName := fmt.Sprintf("sync_runs_%s.xlsx", time.Now().Format("20060102_150405"))
	ctx.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", fileName))
	return ctx.Blob(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}
