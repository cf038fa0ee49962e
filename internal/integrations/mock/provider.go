package mock

import (
	"context"
	"sync"
	"time"

	"moving-crm/internal/integrations/dto"
)

// MockProvider - провайдер в памяти для тестов и локального запуска.
type MockProvider struct {
	mu        sync.Mutex
	customers map[string][]dto.Customer

	// Err возвращается вместо данных первые FailTimes вызовов (0 - всегда).
	Err       error
	FailTimes int

	calls int
}

func NewMockProvider() *MockProvider {
	return &MockProvider{customers: make(map[string][]dto.Customer)}
}

func (m *MockProvider) Name() string {
	return "mock"
}

// SetCustomers заменяет снимок клиентов на дату.
func (m *MockProvider) SetCustomers(date time.Time, customers ...dto.Customer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customers[date.Format("20060102")] = customers
}

// Calls - сколько раз запрашивались страницы.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockProvider) ListCustomersByServiceDate(ctx context.Context, date time.Time, page, pageSize int) (dto.CustomerPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if err := ctx.Err(); err != nil {
		return dto.CustomerPage{}, err
	}
	if m.Err != nil && (m.FailTimes == 0 || m.calls <= m.FailTimes) {
		return dto.CustomerPage{}, m.Err
	}

	all := m.customers[date.Format("20060102")]
	if pageSize <= 0 {
		pageSize = 100
	}
	totalPages := (len(all) + pageSize - 1) / pageSize
	start := (page - 1) * pageSize
	end := start + pageSize
	if start > len(all) {
		start = len(all)
	}
	if end > len(all) {
		end = len(all)
	}

	return dto.CustomerPage{
		Customers:  append([]dto.Customer(nil), all[start:end]...),
		Page:       page,
		TotalPages: totalPages,
		LastPage:   page >= totalPages,
	}, nil
}

func (m *MockProvider) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil && m.FailTimes == 0 {
		return m.Err
	}
	return ctx.Err()
}
