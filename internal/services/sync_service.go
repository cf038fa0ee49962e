package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"moving-crm/internal/entities"
	"moving-crm/internal/integrations"
	"moving-crm/internal/listeners"
	"moving-crm/internal/repositories"
	isync "moving-crm/internal/sync"
	"moving-crm/pkg/contextkeys"
	apperrors "moving-crm/pkg/errors"
)

const healthTimeout = 10 * time.Second

// CycleEngine - часть движка, которую вызывает сервис.
type CycleEngine interface {
	SyncDate(ctx context.Context, date time.Time, filter isync.Filter) isync.CycleReport
	SyncTodayAndTomorrow(ctx context.Context, filter isync.Filter) isync.BothReport
	Today() time.Time
}

type SchedulerControl interface {
	Start() bool
	Stop(ctx context.Context) bool
	Snapshot() isync.StatusSnapshot
}

type JourneyCounter interface {
	Count(ctx context.Context, filter entities.JourneyFilter) (uint64, error)
}

type SyncRunReader interface {
	ListSyncRuns(ctx context.Context, limit uint64) ([]entities.SyncRun, error)
}

// SyncStatus - снимок планировщика плюс сведения из хранилища.
type SyncStatus struct {
	Scheduler   isync.StatusSnapshot   `json:"scheduler"`
	Journeys    *uint64                `json:"smartMovingJourneys"`
	LastSummary *listeners.LastSummary `json:"lastCycle,omitempty"`
}

type SyncServiceInterface interface {
	TriggerCycle(ctx context.Context, date *time.Time, filter isync.Filter) (isync.CycleReport, error)
	TriggerBoth(ctx context.Context, filter isync.Filter) (isync.BothReport, error)
	Status(ctx context.Context) SyncStatus
	Start(ctx context.Context) bool
	Stop(ctx context.Context) bool
	Health(ctx context.Context) error
	History(ctx context.Context, limit uint64) ([]entities.SyncRun, error)
}

type SyncService struct {
	engine    CycleEngine
	scheduler SchedulerControl
	provider  integrations.JobProvider
	journeys  JourneyCounter
	runs      SyncRunReader
	cache     repositories.CacheRepositoryInterface
	logger    *zap.Logger
}

func NewSyncService(
	engine CycleEngine,
	scheduler SchedulerControl,
	provider integrations.JobProvider,
	journeys JourneyCounter,
	runs SyncRunReader,
	cache repositories.CacheRepositoryInterface,
	logger *zap.Logger,
) SyncServiceInterface {
	return &SyncService{
		engine:    engine,
		scheduler: scheduler,
		provider:  provider,
		journeys:  journeys,
		runs:      runs,
		cache:     cache,
		logger:    logger.Named("sync_service"),
	}
}

// TriggerCycle синхронно выполняет цикл за дату (по умолчанию сегодня).
// Календарный день date берётся как есть и переносится в часовой пояс арендатора.
// Отчёт возвращается всегда, ошибка - фатальная ошибка цикла.
func (s *SyncService) TriggerCycle(ctx context.Context, date *time.Time, filter isync.Filter) (isync.CycleReport, error) {
	ctx = manualContext(ctx)
	day := s.engine.Today()
	if date != nil {
		day = time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, day.Location())
	}

	s.logger.Info("Ручной запуск цикла синхронизации",
		zap.String("date", day.Format("2006-01-02")),
		zap.String("filter", filter.String()),
	)
	report := s.engine.SyncDate(ctx, day, filter)
	return report, report.Error
}

func (s *SyncService) TriggerBoth(ctx context.Context, filter isync.Filter) (isync.BothReport, error) {
	ctx = manualContext(ctx)
	s.logger.Info("Ручной запуск синхронизации на сегодня и завтра", zap.String("filter", filter.String()))
	report := s.engine.SyncTodayAndTomorrow(ctx, filter)
	return report, report.FirstError()
}

// Status не возвращает ошибок: недоступное хранилище или кеш просто оставляют поля пустыми.
func (s *SyncService) Status(ctx context.Context) SyncStatus {
	status := SyncStatus{Scheduler: s.scheduler.Snapshot()}

	if s.journeys != nil {
		n, err := s.journeys.Count(ctx, entities.JourneyFilter{DataSource: entities.DataSourceSmartMoving})
		if err != nil {
			s.logger.Warn("Не удалось посчитать рейсы SmartMoving", zap.Error(err))
		} else {
			status.Journeys = &n
		}
	}

	if s.cache != nil {
		raw, err := s.cache.Get(ctx, listeners.LastSummaryKey)
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
		case err != nil:
			s.logger.Warn("Не удалось прочитать итог последнего цикла", zap.Error(err))
		default:
			var last listeners.LastSummary
			if err := json.Unmarshal([]byte(raw), &last); err == nil {
				status.LastSummary = &last
			}
		}
	}
	return status
}

func (s *SyncService) Start(ctx context.Context) bool {
	started := s.scheduler.Start()
	if !started {
		s.logger.Info("Планировщик уже запущен")
	}
	return started
}

func (s *SyncService) Stop(ctx context.Context) bool {
	stopped := s.scheduler.Stop(ctx)
	if !stopped {
		s.logger.Info("Планировщик уже остановлен")
	}
	return stopped
}

// Health проверяет доступность SmartMoving одним коротким запросом.
func (s *SyncService) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	if err := s.provider.Ping(ctx); err != nil {
		return fmt.Errorf("провайдер %s недоступен: %w", s.provider.Name(), err)
	}
	return nil
}

func (s *SyncService) History(ctx context.Context, limit uint64) ([]entities.SyncRun, error) {
	runs, err := s.runs.ListSyncRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("чтение журнала синхронизации: %w", err)
	}
	return runs, nil
}

func manualContext(ctx context.Context) context.Context {
	if _, ok := ctx.Value(contextkeys.TriggeredByKey).(string); ok {
		return ctx
	}
	return contextkeys.WithTrigger(ctx, contextkeys.TriggerManual)
}
