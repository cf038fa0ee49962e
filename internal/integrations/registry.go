// Файл: internal/integrations/registry.go
package integrations

import (
	"fmt"
	"sync"
)

// RegistryInterface определяет, что должен уметь наш реестр.
type RegistryInterface interface {
	// Register добавляет нового провайдера в список доступных.
	Register(provider JobProvider) error

	// Get находит и возвращает провайдера по его имени.
	Get(name string) (JobProvider, error)

	// SetActive устанавливает, какой провайдер является "главным" на данный момент.
	SetActive(name string) error

	// GetActive возвращает активного провайдера.
	GetActive() (JobProvider, error)
}

type Registry struct {
	providers map[string]JobProvider
	active    string
	mu        sync.RWMutex
}

func NewRegistry() RegistryInterface {
	return &Registry{
		providers: make(map[string]JobProvider),
	}
}

func (r *Registry) Register(provider JobProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := provider.Name()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("провайдер с именем '%s' уже зарегистрирован", name)
	}

	r.providers[name] = provider
	if r.active == "" {
		r.active = name
	}
	return nil
}

func (r *Registry) Get(name string) (JobProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, exists := r.providers[name]
	if !exists {
		return nil, fmt.Errorf("провайдер с именем '%s' не найден", name)
	}
	return provider, nil
}

func (r *Registry) SetActive(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; !exists {
		return fmt.Errorf("невозможно установить активным провайдера '%s': он не зарегистрирован", name)
	}

	r.active = name
	return nil
}

func (r *Registry) GetActive() (JobProvider, error) {
	r.mu.RLock()
	activeName := r.active
	r.mu.RUnlock()

	if activeName == "" {
		return nil, fmt.Errorf("активный провайдер не установлен")
	}

	return r.Get(activeName)
}
