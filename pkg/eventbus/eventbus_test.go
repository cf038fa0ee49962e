package eventbus

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type pingEvent struct{}

func (pingEvent) Name() string { return "ping" }

func TestBus_PublishCallsAllListeners(t *testing.T) {
	bus := New(zap.NewNop())
	var calls int32
	for i := 0; i < 3; i++ {
		bus.Subscribe("ping", func(ctx context.Context, e Event) error {
			atomic.AddInt32(&calls, 1)
			return nil
		})
	}
	bus.Subscribe("other", func(ctx context.Context, e Event) error {
		t.Error("чужой подписчик не должен вызываться")
		return nil
	})

	bus.Publish(context.Background(), pingEvent{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, bus.Wait(ctx))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestBus_ListenerErrorsAndPanicsDoNotLeak(t *testing.T) {
	bus := New(zap.NewNop())
	var ok int32
	bus.Subscribe("ping", func(ctx context.Context, e Event) error { return errors.New("boom") })
	bus.Subscribe("ping", func(ctx context.Context, e Event) error { panic("oops") })
	bus.Subscribe("ping", func(ctx context.Context, e Event) error {
		atomic.AddInt32(&ok, 1)
		return nil
	})

	bus.Publish(context.Background(), pingEvent{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, bus.Wait(ctx))
	assert.Equal(t, int32(1), atomic.LoadInt32(&ok))
}

func TestBus_ListenerGetsIndependentContext(t *testing.T) {
	bus := New(zap.NewNop())
	errCh := make(chan error, 1)
	bus.Subscribe("ping", func(ctx context.Context, e Event) error {
		errCh <- ctx.Err()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus.Publish(ctx, pingEvent{})

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("обработчик не вызван")
	}
}
