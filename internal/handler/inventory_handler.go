package handler

import (
	"net/http"

	"hagerbet/internal/config"
	"hagerbet/internal/middleware"
	"hagerbet/internal/repository"
	"hagerbet/internal/usecase"

	"github.com/labstack/echo/v4"
)

// InventoryUpdateRequest は在庫更新の入力です。
type InventoryUpdateRequest struct {
	// 省略時は商品本体
	VariantID *int64 `json:"variant_id" validate:"omitempty,gt=0"`
	Stock     int64  `json:"stock" validate:"gte=0"`
	Reason    string `json:"reason" validate:"required,max=255"`
}

// /admin/products/{id}/inventory
type InventoryHandler struct {
	uc *usecase.InventoryUsecase
}

// DI
func NewInventoryHandler(uc *usecase.InventoryUsecase) *InventoryHandler {
	return &InventoryHandler{uc: uc}
}

func (h *InventoryHandler) RegisterRoutes(e *echo.Echo, cfg config.Config, userRepo repository.UserRepository) {
	admin := e.Group("/admin")

	admin.Use(middleware.AuthJWT(cfg))
	admin.Use(middleware.TokenVersionGuard(userRepo))
	admin.Use(middleware.AdminRoleGuard())

	admin.PUT("/products/:id/inventory", h.updateInventory)
	admin.GET("/products/:id/inventory/history", h.history)
}

func (h *InventoryHandler) updateInventory(c echo.Context) error {
	productID, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}

	var req InventoryUpdateRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}

	adminID, ok := getUserIDFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	out, err := h.uc.AdminUpdateInventory(
		c.Request().Context(),
		adminID,
		productID,
		usecase.AdminUpdateInventoryInput{
			VariantID: req.VariantID,
			NewStock:  req.Stock,
			Reason:    req.Reason,
		},
	)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, out)
}

func (h *InventoryHandler) history(c echo.Context) error {
	productID, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}

	out, err := h.uc.History(c.Request().Context(), productID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
