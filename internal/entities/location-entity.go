package entities

import (
	"encoding/json"
	"time"

	"moving-crm/pkg/types"
)

type Location struct {
	ID         uint64
	ClientID   uint64
	Name       string
	Address    *string
	Timezone   string
	DataSource DataSource
	// ExternalID - идентификатор филиала SmartMoving (externalData.branch.id).
	ExternalID   *string
	ExternalData json.RawMessage
	LastSyncAt   *time.Time

	types.BaseEntity
}
