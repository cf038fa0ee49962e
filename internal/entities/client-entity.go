package entities

import "moving-crm/pkg/types"

// Client - арендатор (компания-перевозчик).
type Client struct {
	ID       uint64
	Name     string
	Timezone string

	types.BaseEntity
}
