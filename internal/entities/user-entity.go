package entities

import "moving-crm/pkg/types"

type User struct {
	ID       uint64
	ClientID *uint64
	Fio      string
	Email    string
	Role     string
	Password string

	types.BaseEntity
}
