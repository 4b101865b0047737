package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"hagerbet/internal/config"
	"hagerbet/internal/handler"
	"hagerbet/internal/middleware"
	"hagerbet/internal/repository"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// New はミドルウェアとルートを登録したechoを返す
func New(cfg config.Config, log zerolog.Logger, userRepo repository.UserRepository, h Handlers) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewRequestValidator()

	// /payments/webhooks/cbe/ と /payments/webhooks/cbe を同じに扱う
	e.Pre(echomw.RemoveTrailingSlash())
	e.Use(middleware.RequestLogger(log))

	RegisterRoutes(e, cfg, userRepo, h)
	return e
}

func listenAddr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] != ':' {
		return ":" + port
	}
	return port
}

// Run はctxがキャンセルされるまでサーバーを動かし、その後graceful shutdownする
func Run(ctx context.Context, e *echo.Echo, cfg config.Config, log zerolog.Logger) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr := listenAddr(cfg.Port)
		log.Info().Str("addr", addr).Msg("http server started")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		log.Info().Msg("http server shutting down")
		return e.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
