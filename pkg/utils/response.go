package utils

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	apperrors "moving-crm/pkg/errors"
)

type HTTPResponse struct {
	Status  bool        `json:"status"`
	Body    interface{} `json:"body,omitempty"`
	Message string      `json:"message"`
}

// errorCodes - HTTP-коды для доменных ошибок, которые дошли до контроллера.
var errorCodes = []struct {
	err  error
	code int
}{
	{apperrors.ErrNotFound, http.StatusNotFound},
	{apperrors.ErrBadRequest, http.StatusBadRequest},
	{apperrors.ErrUnauthorized, http.StatusUnauthorized},
	{apperrors.ErrAlreadyExists, http.StatusConflict},
	{apperrors.ErrTenantMissing, http.StatusFailedDependency},
	{apperrors.ErrRemoteUnavailable, http.StatusBadGateway},
	{apperrors.ErrRemoteRejected, http.StatusBadGateway},
	{apperrors.ErrRemoteDecode, http.StatusBadGateway},
	{apperrors.ErrCancelled, http.StatusServiceUnavailable},
}

// StatusCode - HTTP-код для доменной ошибки, 500 для неизвестных.
func StatusCode(err error) int {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return http.StatusInternalServerError
}

func SuccessResponse(ctx echo.Context, body interface{}, message string, code int) error {
	return ctx.JSON(code, &HTTPResponse{Status: true, Body: body, Message: message})
}

// ErrorResponse пишет ошибку в формате {status:false, message, body?}.
// HttpError отдаётся как есть, ошибки валидации - 400, доменные - по errorCodes.
func ErrorResponse(c echo.Context, err error, logger *zap.Logger) error {
	var httpErr *apperrors.HttpError
	if errors.As(err, &httpErr) {
		if httpErr.Err != nil {
			logger.Error("HTTP Error",
				zap.Int("code", httpErr.Code),
				zap.String("message", httpErr.Message),
				zap.Error(httpErr.Err),
			)
		}
		response := &HTTPResponse{Status: false, Message: httpErr.Message}
		if httpErr.Details != nil {
			response.Body = httpErr.Details
		}
		return c.JSON(httpErr.Code, response)
	}

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var msgs []string
		for _, e := range validationErrors {
			msgs = append(msgs, fmt.Sprintf("Поле '%s' не прошло проверку '%s'", e.Field(), e.Tag()))
		}
		return c.JSON(http.StatusBadRequest, &HTTPResponse{Status: false, Message: "Ошибка валидации: " + strings.Join(msgs, "; ")})
	}

	var invalid *apperrors.InvalidInputError
	if errors.As(err, &invalid) {
		return c.JSON(http.StatusBadRequest, &HTTPResponse{Status: false, Message: invalid.Message})
	}

	if code := StatusCode(err); code != http.StatusInternalServerError {
		logger.Warn("Доменная ошибка", zap.Int("code", code), zap.Error(err))
		return c.JSON(code, &HTTPResponse{Status: false, Message: err.Error()})
	}

	logger.Error("Unexpected Error", zap.Error(err))
	return c.JSON(http.StatusInternalServerError, &HTTPResponse{Status: false, Message: "Внутренняя ошибка сервера"})
}
