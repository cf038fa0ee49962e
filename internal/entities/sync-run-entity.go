package entities

import (
	"time"

	"github.com/google/uuid"
)

// SyncRun - запись журнала одного цикла синхронизации за дату.
type SyncRun struct {
	ID           uint64
	CycleID      uuid.UUID
	SyncDate     time.Time
	BranchFilter *string
	Processed    int
	Created      int
	Updated      int
	Failed       int
	ErrorKind    *string
	ErrorMessage *string
	TriggeredBy  string
	StartedAt    time.Time
	FinishedAt   time.Time
}
