package middleware

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"moving-crm/pkg/contextkeys"
)

// RequestLogger пишет одну строку на запрос и кладёт X-Request-ID в контекст запроса.
// Ставится после middleware.RequestID.
func RequestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	httpLogger := logger.Named("http")
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		BeforeNextFunc: func(c echo.Context) {
			id := c.Response().Header().Get(echo.HeaderXRequestID)
			if id != "" {
				ctx := context.WithValue(c.Request().Context(), contextkeys.RequestIDKey, id)
				c.SetRequest(c.Request().WithContext(ctx))
			}
		},
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("request_id", v.RequestID),
			}
			if v.Error != nil {
				httpLogger.Warn("HTTP запрос", append(fields, zap.Error(v.Error))...)
				return nil
			}
			httpLogger.Info("HTTP запрос", fields...)
			return nil
		},
	})
}
