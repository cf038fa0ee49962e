package sync_test

import (
	"context"
	"errors"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	isync "moving-crm/internal/sync"
	"moving-crm/pkg/contextkeys"
	apperrors "moving-crm/pkg/errors"
)

type fakeRunner struct {
	mu       stdsync.Mutex
	calls    int
	triggers []string
	err      error
	block    bool
	panicMsg string
	called   chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{called: make(chan struct{}, 100)}
}

func (r *fakeRunner) SyncTodayAndTomorrow(ctx context.Context, filter isync.Filter) isync.BothReport {
	r.mu.Lock()
	r.calls++
	r.triggers = append(r.triggers, contextkeys.Trigger(ctx))
	err, block, panicMsg := r.err, r.block, r.panicMsg
	r.mu.Unlock()
	r.called <- struct{}{}

	if panicMsg != "" {
		panic(panicMsg)
	}
	if block {
		<-ctx.Done()
		err = apperrors.ErrCancelled
	}
	return isync.BothReport{
		Today:   isync.CycleReport{Totals: isync.Totals{Processed: 2, Created: 1}, Error: err},
		Summary: isync.Totals{Processed: 2, Created: 1},
	}
}

func (r *fakeRunner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func waitCall(t *testing.T, r *fakeRunner) {
	t.Helper()
	select {
	case <-r.called:
	case <-time.After(2 * time.Second):
		t.Fatal("цикл не был запущен")
	}
}

func newTestScheduler(runner isync.CycleRunner, lock isync.CycleLock, cfg isync.SchedulerConfig) *isync.Scheduler {
	return isync.NewScheduler(runner, lock, cfg, nil, zap.NewNop())
}

func TestScheduler_StartupSyncAndSnapshot(t *testing.T) {
	runner := newFakeRunner()
	s := newTestScheduler(runner, nil, isync.SchedulerConfig{Interval: time.Hour})

	snap := s.Snapshot()
	assert.Equal(t, isync.StateIdle, snap.State)
	assert.False(t, snap.Running)
	assert.Nil(t, snap.LastSyncAt)
	assert.Nil(t, snap.NextSyncAt)

	require.True(t, s.Start())
	waitCall(t, runner)

	require.Eventually(t, func() bool { return s.Snapshot().CyclesRun == 1 }, time.Second, 5*time.Millisecond)
	snap = s.Snapshot()
	assert.True(t, snap.Running)
	assert.Equal(t, time.Hour, snap.Interval)
	require.NotNil(t, snap.LastSyncAt)
	require.NotNil(t, snap.NextSyncAt)
	assert.Equal(t, snap.LastSyncAt.Add(time.Hour), *snap.NextSyncAt)
	assert.Equal(t, isync.Totals{Processed: 2, Created: 1}, *snap.LastSummary)
	assert.Empty(t, snap.LastError)

	require.True(t, s.Stop(context.Background()))
	assert.Equal(t, 1, runner.Calls(), "до истечения интервала второй цикл не запускается")
	assert.Equal(t, []string{contextkeys.TriggerScheduler}, runner.triggers)
}

func TestScheduler_StartStopAreIdempotent(t *testing.T) {
	runner := newFakeRunner()
	s := newTestScheduler(runner, nil, isync.SchedulerConfig{Interval: time.Hour})

	assert.False(t, s.Stop(context.Background()), "остановка неработающего планировщика")
	require.True(t, s.Start())
	assert.False(t, s.Start(), "повторный старт")
	waitCall(t, runner)

	require.True(t, s.Stop(context.Background()))
	assert.False(t, s.Stop(context.Background()))
	assert.Equal(t, isync.StateStopped, s.Snapshot().State)

	require.True(t, s.Start(), "перезапуск после остановки")
	waitCall(t, runner)
	require.True(t, s.Stop(context.Background()))
	assert.Equal(t, 2, runner.Calls())
}

func TestScheduler_ErrorBackoff(t *testing.T) {
	runner := newFakeRunner()
	runner.err = &apperrors.RemoteError{Kind: apperrors.ErrRemoteRejected, StatusCode: 401}
	s := newTestScheduler(runner, nil, isync.SchedulerConfig{
		Interval:     time.Hour,
		ErrorBackoff: 10 * time.Millisecond,
	})

	require.True(t, s.Start())
	waitCall(t, runner)
	waitCall(t, runner)
	require.True(t, s.Stop(context.Background()))

	assert.GreaterOrEqual(t, runner.Calls(), 2)
	assert.Contains(t, s.Snapshot().LastError, "HTTP 401")
}

func TestScheduler_IntervalBetweenCycles(t *testing.T) {
	runner := newFakeRunner()
	s := newTestScheduler(runner, nil, isync.SchedulerConfig{
		Interval:     10 * time.Millisecond,
		ErrorBackoff: time.Hour,
	})

	require.True(t, s.Start())
	for i := 0; i < 3; i++ {
		waitCall(t, runner)
	}
	require.True(t, s.Stop(context.Background()))
	assert.GreaterOrEqual(t, runner.Calls(), 3)
}

func TestScheduler_PanicIsRecovered(t *testing.T) {
	runner := newFakeRunner()
	runner.panicMsg = "nil map"
	s := newTestScheduler(runner, nil, isync.SchedulerConfig{
		Interval:     time.Hour,
		ErrorBackoff: 10 * time.Millisecond,
	})

	require.True(t, s.Start())
	waitCall(t, runner)
	waitCall(t, runner)
	require.True(t, s.Stop(context.Background()))
	assert.Contains(t, s.Snapshot().LastError, "nil map")
}

func TestScheduler_StopCancelsAfterGrace(t *testing.T) {
	runner := newFakeRunner()
	runner.block = true
	s := newTestScheduler(runner, nil, isync.SchedulerConfig{
		Interval:      time.Hour,
		ShutdownGrace: 20 * time.Millisecond,
	})

	require.True(t, s.Start())
	waitCall(t, runner)

	done := make(chan struct{})
	go func() {
		s.Stop(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop не дождался отмены цикла")
	}
	assert.False(t, s.Snapshot().CycleActive)
	assert.Equal(t, 1, runner.Calls())
}

type fakeLock struct {
	mu       stdsync.Mutex
	held     bool
	err      error
	tries    int
	released int
}

func (l *fakeLock) Tries() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tries
}

func (l *fakeLock) TryLock(ctx context.Context, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tries++
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held {
		return nil, false, nil
	}
	return func() {
		l.mu.Lock()
		l.released++
		l.mu.Unlock()
	}, true, nil
}

func TestScheduler_SkipsTickWhenLockHeld(t *testing.T) {
	runner := newFakeRunner()
	lock := &fakeLock{held: true}
	s := newTestScheduler(runner, lock, isync.SchedulerConfig{Interval: time.Hour})

	require.True(t, s.Start())
	require.Eventually(t, func() bool { return lock.Tries() == 1 && !s.Snapshot().CycleActive }, time.Second, 5*time.Millisecond)
	require.True(t, s.Stop(context.Background()))
	assert.Equal(t, 0, runner.Calls())
}

func TestScheduler_LockReleasedAndErrorsTolerated(t *testing.T) {
	runner := newFakeRunner()
	lock := &fakeLock{}
	s := newTestScheduler(runner, lock, isync.SchedulerConfig{Interval: time.Hour})

	require.True(t, s.Start())
	waitCall(t, runner)
	require.True(t, s.Stop(context.Background()))

	lock.mu.Lock()
	assert.Equal(t, 1, lock.released)
	lock.mu.Unlock()

	broken := &fakeLock{err: errors.New("redis: connection refused")}
	s = newTestScheduler(runner, broken, isync.SchedulerConfig{Interval: time.Hour})
	require.True(t, s.Start())
	waitCall(t, runner)
	require.True(t, s.Stop(context.Background()))
}

// gatedRunner держит цикл до закрытия release и считает одновременные циклы.
type gatedRunner struct {
	mu        stdsync.Mutex
	active    int
	maxActive int
	entered   chan struct{}
	release   chan struct{}
}

func (r *gatedRunner) SyncTodayAndTomorrow(ctx context.Context, filter isync.Filter) isync.BothReport {
	r.mu.Lock()
	r.active++
	if r.active > r.maxActive {
		r.maxActive = r.active
	}
	r.mu.Unlock()
	r.entered <- struct{}{}

	select {
	case <-r.release:
	case <-ctx.Done():
	}

	r.mu.Lock()
	r.active--
	r.mu.Unlock()
	return isync.BothReport{}
}

func TestScheduler_RestartDuringStopWaitsForCycle(t *testing.T) {
	runner := &gatedRunner{entered: make(chan struct{}, 10), release: make(chan struct{})}
	s := newTestScheduler(runner, nil, isync.SchedulerConfig{
		Interval:      time.Hour,
		ShutdownGrace: time.Second,
	})

	require.True(t, s.Start())
	<-runner.entered

	stopped := make(chan bool)
	go func() { stopped <- s.Stop(context.Background()) }()
	require.Eventually(t, func() bool { return s.Snapshot().State == isync.StateStopped }, time.Second, time.Millisecond)

	require.True(t, s.Start(), "перезапуск во время остановки")
	select {
	case <-runner.entered:
		t.Fatal("новый цикл стартовал до завершения предыдущего")
	case <-time.After(100 * time.Millisecond):
	}

	close(runner.release)
	assert.True(t, <-stopped)
	select {
	case <-runner.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("цикл после перезапуска не был запущен")
	}
	require.True(t, s.Stop(context.Background()))

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, 1, runner.maxActive)
}
