package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"moving-crm/internal/entities"
	"moving-crm/internal/integrations"
	"moving-crm/pkg/contextkeys"
	apperrors "moving-crm/pkg/errors"
)

// Filter ограничивает цикл одним филиалом. Пустой фильтр - все филиалы.
type Filter struct {
	BranchID   string `json:"branchId,omitempty"`
	LocationID uint64 `json:"locationId,omitempty"`
}

func (f Filter) IsZero() bool {
	return f.BranchID == "" && f.LocationID == 0
}

func (f Filter) String() string {
	switch {
	case f.BranchID != "":
		return "branch:" + f.BranchID
	case f.LocationID != 0:
		return fmt.Sprintf("location:%d", f.LocationID)
	}
	return ""
}

type Totals struct {
	Processed int `json:"processed"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Failed    int `json:"failed"`
}

func (t Totals) Add(o Totals) Totals {
	return Totals{
		Processed: t.Processed + o.Processed,
		Created:   t.Created + o.Created,
		Updated:   t.Updated + o.Updated,
		Failed:    t.Failed + o.Failed,
	}
}

// CycleReport - итог синхронизации одной даты.
type CycleReport struct {
	CycleID     uuid.UUID `json:"cycleId"`
	Date        string    `json:"date"`
	Filter      Filter    `json:"filter"`
	TriggeredBy string    `json:"triggeredBy"`
	Totals
	Error      error     `json:"-"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

func (r CycleReport) ErrorKind() string { return apperrors.Kind(r.Error) }

func (r CycleReport) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

type BothReport struct {
	Today    CycleReport `json:"today"`
	Tomorrow CycleReport `json:"tomorrow"`
	Summary  Totals      `json:"summary"`
}

// FirstError - первая фатальная ошибка из двух циклов.
func (b BothReport) FirstError() error {
	if b.Today.Error != nil {
		return b.Today.Error
	}
	return b.Tomorrow.Error
}

type EngineConfig struct {
	PageSize    int
	WorkerCount int
	// SoftDeadline - после него цикл пишет предупреждение, но не прерывается.
	SoftDeadline time.Duration
	Timezone     *time.Location
}

// CycleHook вызывается по завершении каждого цикла по дате.
type CycleHook func(ctx context.Context, report CycleReport)

type Engine struct {
	provider   integrations.JobProvider
	normalizer *Normalizer
	resolver   *LocationResolver
	reconciler *Reconciler
	locations  LocationStore
	users      UserStore
	cfg        EngineConfig
	now        func() time.Time
	hooks      []CycleHook
	logger     *zap.Logger
}

func NewEngine(
	provider integrations.JobProvider,
	normalizer *Normalizer,
	resolver *LocationResolver,
	reconciler *Reconciler,
	locations LocationStore,
	users UserStore,
	cfg EngineConfig,
	now func() time.Time,
	logger *zap.Logger,
) *Engine {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.Timezone == nil {
		cfg.Timezone = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Engine{
		provider:   provider,
		normalizer: normalizer,
		resolver:   resolver,
		reconciler: reconciler,
		locations:  locations,
		users:      users,
		cfg:        cfg,
		now:        now,
		logger:     logger.Named("sync_engine"),
	}
}

// OnCycleComplete регистрирует обработчик, вызываемый после каждого цикла.
func (e *Engine) OnCycleComplete(hook CycleHook) {
	e.hooks = append(e.hooks, hook)
}

// Today - начало текущих суток в часовом поясе арендатора.
func (e *Engine) Today() time.Time {
	return startOfDay(e.now(), e.cfg.Timezone)
}

type cycleCounters struct {
	processed, created, updated, failed atomic.Int64
}

func (c *cycleCounters) totals() Totals {
	return Totals{
		Processed: int(c.processed.Load()),
		Created:   int(c.created.Load()),
		Updated:   int(c.updated.Load()),
		Failed:    int(c.failed.Load()),
	}
}

type touchedSet struct {
	mu  stdsync.Mutex
	ids map[uint64]struct{}
}

func (s *touchedSet) add(id uint64) {
	s.mu.Lock()
	s.ids[id] = struct{}{}
	s.mu.Unlock()
}

func (s *touchedSet) list() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// cycle - общее состояние одного прогона, разделяемое воркерами.
type cycle struct {
	tenant   *entities.Client
	sysUser  *entities.User
	memo     *BranchMemo
	counters cycleCounters
	touched  touchedSet
	logger   *zap.Logger
}

// SyncDate синхронизирует все работы на дату. Ошибки по отдельным записям
// учитываются в Failed, фатальные ошибки прерывают цикл и попадают в Error.
func (e *Engine) SyncDate(ctx context.Context, date time.Time, filter Filter) CycleReport {
	date = startOfDay(date, e.cfg.Timezone)
	report := CycleReport{
		CycleID:     uuid.New(),
		Date:        date.Format("2006-01-02"),
		Filter:      filter,
		TriggeredBy: contextkeys.Trigger(ctx),
		StartedAt:   e.now(),
	}
	logger := e.logger.With(
		zap.String("cycle_id", report.CycleID.String()),
		zap.String("date", report.Date),
		zap.String("filter", filter.String()),
	)
	logger.Info("Начало цикла синхронизации")

	if e.cfg.SoftDeadline > 0 {
		timer := time.AfterFunc(e.cfg.SoftDeadline, func() {
			logger.Warn("Цикл синхронизации превысил мягкий лимит времени", zap.Duration("limit", e.cfg.SoftDeadline))
		})
		defer timer.Stop()
	}

	c, branchFilter, err := e.prepare(ctx, filter)
	if err != nil {
		return e.finish(ctx, report, Totals{Failed: 1}, err, logger)
	}
	c.logger = logger

	listErr := e.run(ctx, date, branchFilter, c)

	if ids := c.touched.list(); len(ids) > 0 {
		if err := e.locations.TouchSynced(ctx, ids, e.now()); err != nil {
			logger.Warn("Не удалось обновить last_sync_at локаций", zap.Error(err))
		}
	}

	totals := c.counters.totals()
	if listErr != nil && !errors.Is(listErr, apperrors.ErrCancelled) {
		totals.Failed++
	}
	return e.finish(ctx, report, totals, listErr, logger)
}

func (e *Engine) prepare(ctx context.Context, filter Filter) (*cycle, string, error) {
	tenant, err := e.resolver.Tenant(ctx)
	if err != nil {
		return nil, "", err
	}
	sysUser, err := e.users.FindSystemUser(ctx, entities.RoleAdmin)
	if err != nil {
		return nil, "", fmt.Errorf("системный пользователь %s: %w", entities.RoleAdmin, err)
	}

	branchFilter := filter.BranchID
	if branchFilter == "" && filter.LocationID != 0 {
		loc, err := e.locations.FindByID(ctx, filter.LocationID)
		if err != nil {
			return nil, "", fmt.Errorf("локация фильтра %d: %w", filter.LocationID, err)
		}
		if loc.DataSource != entities.DataSourceSmartMoving || loc.ExternalID == nil {
			return nil, "", fmt.Errorf("%w: локация %d не связана с филиалом SmartMoving", apperrors.ErrBadRequest, filter.LocationID)
		}
		branchFilter = *loc.ExternalID
	}

	return &cycle{
		tenant:  tenant,
		sysUser: sysUser,
		memo:    NewBranchMemo(),
		touched: touchedSet{ids: make(map[uint64]struct{})},
	}, branchFilter, nil
}

// run - постраничная выборка в ограниченный канал и пул воркеров.
func (e *Engine) run(ctx context.Context, date time.Time, branchFilter string, c *cycle) error {
	triples := make(chan Triple, e.cfg.WorkerCount*2)

	var listErr error
	producerDone := make(chan struct{})
	go func() {
		defer close(producerDone)
		defer close(triples)
		listErr = e.produce(ctx, date, branchFilter, triples)
	}()

	var g errgroup.Group
	for i := 0; i < e.cfg.WorkerCount; i++ {
		g.Go(func() error {
			for t := range triples {
				if ctx.Err() != nil {
					continue
				}
				e.process(ctx, t, c)
			}
			return nil
		})
	}
	_ = g.Wait()
	<-producerDone

	if listErr == nil && ctx.Err() != nil {
		listErr = apperrors.ErrCancelled
	}
	return listErr
}

func (e *Engine) produce(ctx context.Context, date time.Time, branchFilter string, out chan<- Triple) error {
	for page := 1; ; page++ {
		res, err := e.provider.ListCustomersByServiceDate(ctx, date, page, e.cfg.PageSize)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %v", apperrors.ErrCancelled, err)
			}
			return fmt.Errorf("страница %d: %w", page, err)
		}

		for _, t := range Flatten(res.Customers) {
			if branchFilter != "" && t.BranchKey() != branchFilter {
				continue
			}
			select {
			case out <- t:
			case <-ctx.Done():
				return apperrors.ErrCancelled
			}
		}

		if res.LastPage || page >= res.TotalPages {
			return nil
		}
	}
}

func (e *Engine) process(ctx context.Context, t Triple, c *cycle) {
	c.counters.processed.Add(1)
	n := e.normalizer.Normalize(t)

	var outcome Outcome
	locationID, err := e.resolver.Resolve(ctx, c.memo, c.tenant, n.Branch, n.OriginAddress())
	if err != nil {
		externalID := ""
		if n.Journey.ExternalID != nil {
			externalID = *n.Journey.ExternalID
		}
		outcome = failed(externalID, err)
	} else {
		c.touched.add(locationID)
		outcome = e.reconciler.Reconcile(ctx, n, c.tenant.ID, locationID, c.sysUser.ID)
	}

	switch outcome.Action {
	case ActionCreated:
		c.counters.created.Add(1)
	case ActionUpdated:
		c.counters.updated.Add(1)
	case ActionFailed:
		c.counters.failed.Add(1)
		c.logger.Warn("Не удалось синхронизировать работу",
			zap.String("external_id", outcome.ExternalID),
			zap.String("kind", apperrors.Kind(outcome.Err)),
			zap.Error(outcome.Err),
		)
	}
}

func (e *Engine) finish(ctx context.Context, report CycleReport, totals Totals, err error, logger *zap.Logger) CycleReport {
	report.Totals = totals
	report.Error = err
	report.FinishedAt = e.now()

	fields := []zap.Field{
		zap.Int("processed", totals.Processed),
		zap.Int("created", totals.Created),
		zap.Int("updated", totals.Updated),
		zap.Int("failed", totals.Failed),
		zap.Duration("duration", report.Duration()),
	}
	if err != nil {
		logger.Error("📊 Цикл синхронизации прерван", append(fields, zap.String("kind", report.ErrorKind()), zap.Error(err))...)
	} else {
		logger.Info("📊 Цикл синхронизации завершён", fields...)
	}

	for _, hook := range e.hooks {
		hook(ctx, report)
	}
	return report
}

// SyncTodayAndTomorrow синхронизирует сегодня и завтра по часовому поясу арендатора.
// Второй цикл выполняется даже если первый упал, если только не отменён контекст.
func (e *Engine) SyncTodayAndTomorrow(ctx context.Context, filter Filter) BothReport {
	today := e.Today()
	var out BothReport
	out.Today = e.SyncDate(ctx, today, filter)
	if ctx.Err() != nil {
		out.Tomorrow = CycleReport{
			CycleID:     uuid.New(),
			Date:        today.AddDate(0, 0, 1).Format("2006-01-02"),
			Filter:      filter,
			TriggeredBy: contextkeys.Trigger(ctx),
			Error:       apperrors.ErrCancelled,
			StartedAt:   e.now(),
			FinishedAt:  e.now(),
		}
	} else {
		out.Tomorrow = e.SyncDate(ctx, today.AddDate(0, 0, 1), filter)
	}
	out.Summary = out.Today.Totals.Add(out.Tomorrow.Totals)
	return out
}
