package server

import (
	"net/http"

	"hagerbet/internal/config"
	"hagerbet/internal/handler"
	"hagerbet/internal/repository"

	"github.com/labstack/echo/v4"
)

// Handlers はルート登録に使うハンドラ一式
type Handlers struct {
	Orders      *handler.OrderHandler
	AdminOrders *handler.AdminOrderHandler
	Cart        *handler.CartHandler
	Addresses   *handler.AddressHandler
	Inventory   *handler.InventoryHandler
	Payments    *handler.PaymentHandler
	Webhooks    *handler.WebhookHandler
}

func RegisterRoutes(e *echo.Echo, cfg config.Config, userRepo repository.UserRepository, h Handlers) {
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, handler.SuccessResponse{Message: "ok"})
	})

	// webhookは認証グループより先に登録
	h.Webhooks.RegisterRoutes(e)

	h.Orders.RegisterRoutes(e, cfg, userRepo)
	h.AdminOrders.RegisterRoutes(e, cfg, userRepo)
	h.Cart.RegisterRoutes(e, cfg, userRepo)
	h.Addresses.RegisterRoutes(e, cfg, userRepo)
	h.Inventory.RegisterRoutes(e, cfg, userRepo)
	h.Payments.RegisterRoutes(e, cfg, userRepo)
}
