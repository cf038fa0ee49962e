package entities

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"moving-crm/pkg/types"
)

// JourneyAddress - точка погрузки или выгрузки.
type JourneyAddress struct {
	Address string `json:"address"`
}

func (a *JourneyAddress) Equal(b *JourneyAddress) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Address == b.Address
}

// TruckJourney - запланированный переезд.
type TruckJourney struct {
	ID         uint64
	ExternalID *string
	ClientID   uint64
	LocationID uint64

	ScheduledDate     time.Time
	StartTime         *time.Time
	EstimatedDuration int

	Status        JourneyStatus
	Priority      string
	BillingStatus string

	TruckNumber   string
	Notes         *string
	Tags          []string
	EstimatedCost decimal.NullDecimal

	StartLocation *JourneyAddress
	EndLocation   *JourneyAddress

	DataSource   DataSource
	LastSyncAt   *time.Time
	SyncStatus   SyncStatus
	ExternalData json.RawMessage

	CreatedBy uint64
	UpdatedBy *uint64

	types.BaseEntity
}

// JourneyPatch - частичное обновление. nil означает "не менять".
type JourneyPatch struct {
	ExternalData json.RawMessage
	LastSyncAt   time.Time
	SyncStatus   SyncStatus
	UpdatedBy    uint64

	ScheduledDate     *time.Time
	StartTime         *time.Time
	EstimatedDuration *int
	Notes             *string
	EstimatedCost     *decimal.Decimal
	StartLocation     *JourneyAddress
	EndLocation       *JourneyAddress
}

// HasContentChanges - меняет ли патч что-то кроме метаданных синхронизации.
func (p JourneyPatch) HasContentChanges() bool {
	return p.ScheduledDate != nil || p.StartTime != nil || p.EstimatedDuration != nil ||
		p.Notes != nil || p.EstimatedCost != nil || p.StartLocation != nil || p.EndLocation != nil
}

type JourneyFilter struct {
	ClientID   uint64
	LocationID uint64
	DataSource DataSource
	Status     JourneyStatus
	From       *time.Time
	To         *time.Time
}
