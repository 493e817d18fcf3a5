// Package middleware wires request tracking and panic recovery around routes
package middleware

import (
	"fmt"
	"time"

	"claude-proxy/internal/ctx"
	"claude-proxy/internal/metrics"
	"claude-proxy/internal/shared"

	"github.com/aidarkhanov/nanoid"
	"github.com/labstack/echo/v4"
	emw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// NewTrackMiddleware assigns every request an id, a request scoped logger
// and a LogValues sink, then emits one structured line per finished request.
func NewTrackMiddleware(log *zap.SugaredLogger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, _ := nanoid.Generate("0123456789abcdefghijklmnopqrstuvwxyz", 28)
			// one id form everywhere: logs, cancel endpoint, registry key
			reqID := "req_" + id
			logger := log.With(
				"request_id", reqID,
			)

			lv := &ctx.ContextLogValues{
				RequestID:  reqID,
				ExternalID: c.Request().Header.Get("X-Request-Id"),
				StartTime:  time.Now(),
				Path:       c.Path(),
			}
			cc := &ctx.Context{Context: c, Log: logger, Reqid: reqID, LogValues: lv}
			// clients need the id to hit the cancel endpoint
			cc.Response().Header().Set("X-Request-Id", reqID)

			err := next(cc)

			lv.StatusCode = cc.Response().Status
			lv.RequestDuration = time.Since(lv.StartTime)
			switch lv.LogLevel {
			case "ERROR":
				logger.Desugar().Error("end_of_request", zap.Object("request", lv))
			default:
				logger.Desugar().Info("end_of_request", zap.Object("request", lv))
			}
			metrics.ResponseCodes.WithLabelValues(cc.Path(), fmt.Sprintf("%d", cc.Response().Status)).Inc()
			return err
		}
	}
}

func NewRecoverMiddleware(log *zap.SugaredLogger) echo.MiddlewareFunc {
	return emw.RecoverWithConfig(emw.RecoverConfig{
		StackSize: 1 << 10, // 1 KB
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			defer func() {
				_ = log.Sync()
			}()
			log.Errorw("Api Panic", "error", err.Error())
			return c.String(500, shared.ErrInternalServerError.Err.Error())
		},
	})
}
