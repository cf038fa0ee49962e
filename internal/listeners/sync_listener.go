package listeners

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"moving-crm/internal/entities"
	"moving-crm/internal/events"
	"moving-crm/internal/repositories"
	"moving-crm/pkg/eventbus"
)

const (
	LastSummaryKey = "sync:last_summary"
	lastSummaryTTL = 24 * time.Hour
)

// SyncRunWriter - то, что нужно слушателю от журнала циклов.
type SyncRunWriter interface {
	CreateSyncRun(ctx context.Context, run entities.SyncRun) (uint64, error)
}

// LastSummary - краткий итог последнего цикла в кеше.
type LastSummary struct {
	CycleID    string    `json:"cycleId"`
	Date       string    `json:"date"`
	Processed  int       `json:"processed"`
	Created    int       `json:"created"`
	Updated    int       `json:"updated"`
	Failed     int       `json:"failed"`
	ErrorKind  string    `json:"errorKind,omitempty"`
	FinishedAt time.Time `json:"finishedAt"`
}

type SyncRunListener struct {
	runs   SyncRunWriter
	cache  repositories.CacheRepositoryInterface
	logger *zap.Logger
}

func NewSyncRunListener(runs SyncRunWriter, cache repositories.CacheRepositoryInterface, logger *zap.Logger) *SyncRunListener {
	return &SyncRunListener{runs: runs, cache: cache, logger: logger.Named("sync_run_listener")}
}

func (l *SyncRunListener) Register(bus *eventbus.Bus) {
	bus.Subscribe(events.CycleCompletedEventName, l.handleCycleCompleted)
}

func (l *SyncRunListener) handleCycleCompleted(ctx context.Context, event eventbus.Event) error {
	e, ok := event.(events.CycleCompletedEvent)
	if !ok {
		return fmt.Errorf("неожиданный тип события %T", event)
	}
	r := e.Report

	run := entities.SyncRun{
		CycleID:     r.CycleID,
		Processed:   r.Processed,
		Created:     r.Created,
		Updated:     r.Updated,
		Failed:      r.Failed,
		TriggeredBy: r.TriggeredBy,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
	}
	if d, err := time.Parse("2006-01-02", r.Date); err == nil {
		run.SyncDate = d
	}
	if f := r.Filter.String(); f != "" {
		run.BranchFilter = &f
	}
	if r.Error != nil {
		kind, msg := r.ErrorKind(), r.Error.Error()
		run.ErrorKind = &kind
		run.ErrorMessage = &msg
	}

	if _, err := l.runs.CreateSyncRun(ctx, run); err != nil {
		return fmt.Errorf("запись sync_run %s: %w", r.CycleID, err)
	}

	if l.cache == nil {
		return nil
	}
	summary, err := json.Marshal(LastSummary{
		CycleID:    r.CycleID.String(),
		Date:       r.Date,
		Processed:  r.Processed,
		Created:    r.Created,
		Updated:    r.Updated,
		Failed:     r.Failed,
		ErrorKind:  r.ErrorKind(),
		FinishedAt: r.FinishedAt,
	})
	if err != nil {
		return err
	}
	if err := l.cache.Set(ctx, LastSummaryKey, summary, lastSummaryTTL); err != nil {
		// Кеш не обязателен, журнал уже записан.
		l.logger.Warn("Не удалось закешировать итог цикла", zap.Error(err))
	}
	return nil
}
