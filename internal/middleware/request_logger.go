package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const (
	CtxRequestIDKey = "request_id"
	HeaderRequestID = "X-Request-ID"
)

// リクエストごとに1行ログを出す。panicは500にして記録する
func RequestLogger(log zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			start := time.Now()
			req := c.Request()

			requestID := req.Header.Get(HeaderRequestID)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			c.Set(CtxRequestIDKey, requestID)
			c.Response().Header().Set(HeaderRequestID, requestID)

			// ハンドラ側は zerolog.Ctx(ctx) で同じrequest_id付きのロガーを使う
			reqLog := log.With().Str("request_id", requestID).Logger()
			c.SetRequest(req.WithContext(reqLog.WithContext(req.Context())))

			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Str("request_id", requestID).
						Str("method", req.Method).
						Str("path", req.URL.Path).
						Interface("panic", r).
						Msg("request panicked")
					err = c.JSON(http.StatusInternalServerError, errorJSON("internal error"))
				}
			}()

			err = next(c)
			if err != nil {
				// echoのHTTPErrorなどはここでレスポンスにする
				c.Error(err)
			}

			ev := log.Info()
			status := c.Response().Status
			if status >= 500 {
				ev = log.Error()
			} else if status >= 400 {
				ev = log.Warn()
			}

			userID, _ := c.Get(CtxUserIDKey).(int64)
			ev.Str("request_id", requestID).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Int64("user_id", userID).
				Msg("request completed")
			return nil
		}
	}
}
