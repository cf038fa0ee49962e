package integrations

import (
	"context"
	"time"

	"moving-crm/internal/integrations/dto"
)

// JobProvider - внешний источник ежедневного списка работ.
type JobProvider interface {
	Name() string
	// ListCustomersByServiceDate возвращает страницу клиентов с работами на дату (page с 1).
	ListCustomersByServiceDate(ctx context.Context, date time.Time, page, pageSize int) (dto.CustomerPage, error)
	Ping(ctx context.Context) error
}
