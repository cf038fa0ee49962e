package integrations_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moving-crm/internal/integrations"
	"moving-crm/internal/integrations/mock"
)

func TestRegistry(t *testing.T) {
	reg := integrations.NewRegistry()

	_, err := reg.GetActive()
	require.Error(t, err, "без провайдеров активного нет")

	first := mock.NewMockProvider()
	require.NoError(t, reg.Register(first))
	assert.Error(t, reg.Register(first), "повторная регистрация запрещена")

	active, err := reg.GetActive()
	require.NoError(t, err)
	assert.Equal(t, "mock", active.Name())

	assert.Error(t, reg.SetActive("smartmoving"))
	_, err = reg.Get("smartmoving")
	assert.Error(t, err)
}
