package events

import (
	isync "moving-crm/internal/sync"
)

const CycleCompletedEventName = "sync.cycle.completed"

// CycleCompletedEvent возникает после каждого цикла синхронизации за дату.
type CycleCompletedEvent struct {
	Report isync.CycleReport
}

func (e CycleCompletedEvent) Name() string {
	return CycleCompletedEventName
}
