package utils

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "moving-crm/pkg/errors"
)

func respond(t *testing.T, err error) (int, HTTPResponse) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	require.NoError(t, ErrorResponse(c, err, zap.NewNop()))
	var body HTTPResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestErrorResponse_Codes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"http error", apperrors.NewHttpError(http.StatusTeapot, "чайник", nil, nil), http.StatusTeapot},
		{"not found", fmt.Errorf("локация: %w", apperrors.ErrNotFound), http.StatusNotFound},
		{"bad request", apperrors.ErrBadRequest, http.StatusBadRequest},
		{"invalid input", apperrors.NewInvalidInputError("нет даты"), http.StatusBadRequest},
		{"remote", &apperrors.RemoteError{Kind: apperrors.ErrRemoteRejected, StatusCode: 401}, http.StatusBadGateway},
		{"tenant", apperrors.ErrTenantMissing, http.StatusFailedDependency},
		{"unknown", fmt.Errorf("что-то сломалось"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := respond(t, tc.err)
			assert.Equal(t, tc.code, code)
			assert.False(t, body.Status)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestErrorResponse_HidesInternalDetails(t *testing.T) {
	_, body := respond(t, fmt.Errorf("pq: password authentication failed"))
	assert.Equal(t, "Внутренняя ошибка сервера", body.Message)
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "s3cret"))
	assert.False(t, CheckPassword(hash, "other"))

	_, err = HashPassword("")
	assert.Error(t, err)
}
