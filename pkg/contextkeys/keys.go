package contextkeys

import "context"

type contextKey string

const (
	// TriggeredByKey - кто запустил цикл синхронизации: scheduler, manual, startup.
	TriggeredByKey contextKey = "TriggeredBy"
	RequestIDKey   contextKey = "RequestID"
)

const (
	TriggerScheduler = "scheduler"
	TriggerManual    = "manual"
)

func WithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, TriggeredByKey, trigger)
}

// Trigger возвращает источник запуска или TriggerManual, если он не задан.
func Trigger(ctx context.Context) string {
	if v, ok := ctx.Value(TriggeredByKey).(string); ok && v != "" {
		return v
	}
	return TriggerManual
}
