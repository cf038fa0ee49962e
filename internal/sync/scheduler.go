package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"time"

	"go.uber.org/zap"

	"moving-crm/pkg/contextkeys"
)

type SchedulerState string

const (
	StateIdle    SchedulerState = "idle"
	StateRunning SchedulerState = "running"
	StateStopped SchedulerState = "stopped"
)

// CycleRunner - то, что планировщик запускает на каждом тике.
type CycleRunner interface {
	SyncTodayAndTomorrow(ctx context.Context, filter Filter) BothReport
}

// CycleLock не даёт нескольким репликам выполнять один тик одновременно.
type CycleLock interface {
	// TryLock возвращает ok=false, если замок держит кто-то другой.
	TryLock(ctx context.Context, ttl time.Duration) (release func(), ok bool, err error)
}

type SchedulerConfig struct {
	Interval      time.Duration
	ErrorBackoff  time.Duration
	ShutdownGrace time.Duration
	// LockTTL - время жизни распределённого замка, по умолчанию Interval.
	LockTTL time.Duration
}

type StatusSnapshot struct {
	State       SchedulerState `json:"state"`
	Running     bool           `json:"running"`
	CycleActive bool           `json:"cycleActive"`
	LastSyncAt  *time.Time     `json:"lastSyncAt"`
	Interval    time.Duration  `json:"interval"`
	NextSyncAt  *time.Time     `json:"nextSyncAt"`
	CyclesRun   int            `json:"cyclesRun"`
	LastError   string         `json:"lastError,omitempty"`
	LastSummary *Totals        `json:"lastSummary,omitempty"`
}

// Scheduler запускает синхронизацию сегодня+завтра при старте и далее по интервалу.
type Scheduler struct {
	runner CycleRunner
	lock   CycleLock
	cfg    SchedulerConfig
	now    func() time.Time
	logger *zap.Logger

	mu          stdsync.Mutex
	state       SchedulerState
	cycleActive bool
	lastSyncAt  *time.Time
	lastSummary *Totals
	lastErr     error
	cyclesRun   int
	stopCh      chan struct{}
	doneCh      chan struct{}
	cancelRun   context.CancelFunc
}

func NewScheduler(runner CycleRunner, lock CycleLock, cfg SchedulerConfig, now func() time.Time, logger *zap.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Hour
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 5 * time.Minute
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 2 * time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.Interval
	}
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		runner: runner,
		lock:   lock,
		cfg:    cfg,
		now:    now,
		state:  StateIdle,
		logger: logger.Named("sync_scheduler"),
	}
}

// Start переводит планировщик в running и сразу запускает первый цикл.
// Повторный Start работающего планировщика ничего не делает.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRunning {
		return false
	}

	runCtx, cancel := context.WithCancel(context.Background())
	// Предыдущий цикл может ещё дорабатывать в Stop: новый цикл ждёт его завершения.
	prevDone := s.doneCh
	s.state = StateRunning
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.cancelRun = cancel

	go func(stopCh <-chan struct{}, doneCh chan<- struct{}) {
		if prevDone != nil {
			<-prevDone
		}
		s.loop(runCtx, stopCh, doneCh)
	}(s.stopCh, s.doneCh)
	s.logger.Info("Планировщик синхронизации запущен", zap.Duration("interval", s.cfg.Interval))
	return true
}

// Stop останавливает планировщик: текущему циклу даётся ShutdownGrace,
// затем его контекст отменяется. Stop неработающего планировщика ничего не делает.
func (s *Scheduler) Stop(ctx context.Context) bool {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return false
	}
	s.state = StateStopped
	stopCh, doneCh, cancel := s.stopCh, s.doneCh, s.cancelRun
	s.mu.Unlock()

	close(stopCh)

	grace := time.NewTimer(s.cfg.ShutdownGrace)
	defer grace.Stop()

	select {
	case <-doneCh:
	case <-grace.C:
		s.logger.Warn("Цикл не завершился за отведённое время, отменяем", zap.Duration("grace", s.cfg.ShutdownGrace))
		cancel()
		<-doneCh
	case <-ctx.Done():
		cancel()
		<-doneCh
	}
	cancel()
	s.logger.Info("Планировщик синхронизации остановлен")
	return true
}

func (s *Scheduler) Snapshot() StatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatusSnapshot{
		State:       s.state,
		Running:     s.state == StateRunning,
		CycleActive: s.cycleActive,
		Interval:    s.cfg.Interval,
		CyclesRun:   s.cyclesRun,
		LastSummary: s.lastSummary,
	}
	if s.lastSyncAt != nil {
		last := *s.lastSyncAt
		next := last.Add(s.cfg.Interval)
		snap.LastSyncAt = &last
		snap.NextSyncAt = &next
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	return snap
}

func (s *Scheduler) loop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		wait := s.tick(ctx)

		timer := time.NewTimer(wait)
		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// tick выполняет один цикл и возвращает паузу до следующего.
func (s *Scheduler) tick(ctx context.Context) (wait time.Duration) {
	s.setCycleActive(true)
	defer s.setCycleActive(false)

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("паника в цикле синхронизации: %v", r)
			s.logger.Error("Паника в цикле синхронизации", zap.Any("panic", r), zap.Stack("stack"))
			s.mu.Lock()
			s.lastErr = err
			s.mu.Unlock()
			wait = s.cfg.ErrorBackoff
		}
	}()

	if s.lock != nil {
		release, ok, err := s.lock.TryLock(ctx, s.cfg.LockTTL)
		switch {
		case err != nil:
			s.logger.Warn("Распределённый замок недоступен, продолжаем без него", zap.Error(err))
		case !ok:
			s.logger.Info("Тик пропущен: цикл уже выполняет другая реплика")
			return s.cfg.Interval
		default:
			defer release()
		}
	}

	report := s.runner.SyncTodayAndTomorrow(contextkeys.WithTrigger(ctx, contextkeys.TriggerScheduler), Filter{})
	now := s.now()
	summary := report.Summary
	err := report.FirstError()

	s.mu.Lock()
	s.lastSyncAt = &now
	s.lastSummary = &summary
	s.lastErr = err
	s.cyclesRun++
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Цикл синхронизации завершился ошибкой, повтор через паузу",
			zap.Duration("backoff", s.cfg.ErrorBackoff), zap.Error(err))
		return s.cfg.ErrorBackoff
	}
	return s.cfg.Interval
}

func (s *Scheduler) setCycleActive(v bool) {
	s.mu.Lock()
	s.cycleActive = v
	s.mu.Unlock()
}
