package handler

import (
	"net/http"
	"strconv"

	"hagerbet/internal/config"
	"hagerbet/internal/domain/model"
	"hagerbet/internal/middleware"
	"hagerbet/internal/repository"
	"hagerbet/internal/usecase"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

type PaymentHandler struct {
	pm *usecase.PaymentManager
}

func NewPaymentHandler(pm *usecase.PaymentManager) *PaymentHandler {
	return &PaymentHandler{pm: pm}
}

// 支払い方法ごとの必須項目はusecase側でチェック
type PaymentCreateRequest struct {
	PaymentMethod string `json:"payment_method" validate:"required"`
	StripeToken   string `json:"stripe_token"`
	PayPalOrderID string `json:"paypal_order_id"`
	CBEPhone      string `json:"cbe_phone"`
	TeleBirrPhone string `json:"telebirr_phone"`
}

type MobileInitiateRequest struct {
	PhoneNumber string `json:"phone_number"`
}

type RefundCreateRequest struct {
	PaymentID int64           `json:"payment_id" validate:"required,gt=0"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason" validate:"required"`
}

type mobilePaymentResponse struct {
	Message string                `json:"message"`
	Payment usecase.PaymentOutput `json:"payment"`
}

type verifyResponse struct {
	Message string               `json:"message"`
	Result  usecase.VerifyOutput `json:"result"`
}

func (h *PaymentHandler) RegisterRoutes(e *echo.Echo, cfg config.Config, userRepo repository.UserRepository) {
	g := e.Group("/payments")
	g.Use(middleware.AuthJWT(cfg))
	g.Use(middleware.TokenVersionGuard(userRepo))

	g.GET("", h.list)
	g.GET("/:id", h.detail)

	g.POST("/order/:order_id/create", h.create)
	g.POST("/order/:order_id/cbe", h.initiateCBE)
	g.POST("/order/:order_id/telebirr", h.initiateTeleBirr)
	g.POST("/order/:order_id/stripe/intent", h.stripeIntent)

	g.POST("/cbe/:transaction_id/verify", h.verifyCBE)
	g.POST("/telebirr/:transaction_id/verify", h.verifyTeleBirr)

	admin := g.Group("/refunds", middleware.AdminRoleGuard())
	admin.GET("", h.listRefunds)
	admin.POST("/create", h.createRefund)
}

func (h *PaymentHandler) list(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	page, limit, ok := pageParams(c)
	if !ok {
		return badRequest(c, "invalid page or limit")
	}

	out, err := h.pm.ListMyPayments(c.Request().Context(), userID, page, limit)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *PaymentHandler) detail(c echo.Context) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}

	out, err := h.pm.GetPayment(c.Request().Context(), actor, id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *PaymentHandler) create(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	orderID, ok := paramID(c, "order_id")
	if !ok {
		return badRequest(c, "invalid order_id")
	}

	var req PaymentCreateRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}

	out, err := h.pm.StartPayment(c.Request().Context(), userID, orderID, usecase.CreatePaymentInput{
		PaymentMethod: req.PaymentMethod,
		StripeToken:   req.StripeToken,
		PayPalOrderID: req.PayPalOrderID,
		CBEPhone:      req.CBEPhone,
		TeleBirrPhone: req.TeleBirrPhone,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *PaymentHandler) initiateCBE(c echo.Context) error {
	return h.initiateMobile(c, model.PaymentMethodCBE)
}

func (h *PaymentHandler) initiateTeleBirr(c echo.Context) error {
	return h.initiateMobile(c, model.PaymentMethodTeleBirr)
}

func (h *PaymentHandler) initiateMobile(c echo.Context, method model.PaymentMethod) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	orderID, ok := paramID(c, "order_id")
	if !ok {
		return badRequest(c, "invalid order_id")
	}

	// bodyは省略可
	var req MobileInitiateRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return badRequest(c, "invalid body")
		}
	}

	out, err := h.pm.InitiateMobilePayment(c.Request().Context(), userID, orderID, method, req.PhoneNumber)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusCreated, mobilePaymentResponse{Message: "payment initiated", Payment: out})
}

func (h *PaymentHandler) stripeIntent(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	orderID, ok := paramID(c, "order_id")
	if !ok {
		return badRequest(c, "invalid order_id")
	}

	out, err := h.pm.CreateStripePaymentIntent(c.Request().Context(), userID, orderID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *PaymentHandler) verifyCBE(c echo.Context) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	out, err := h.pm.VerifyCBEPayment(c.Request().Context(), actor, c.Param("transaction_id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, verifyResponse{Message: "payment verified", Result: out})
}

func (h *PaymentHandler) verifyTeleBirr(c echo.Context) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	out, err := h.pm.VerifyTeleBirrPayment(c.Request().Context(), actor, c.Param("transaction_id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, verifyResponse{Message: "payment verified", Result: out})
}

func (h *PaymentHandler) createRefund(c echo.Context) error {
	adminID, ok := getUserIDFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	var req RefundCreateRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}

	out, err := h.pm.ProcessRefund(c.Request().Context(), adminID, usecase.RefundInput{
		PaymentID: req.PaymentID,
		Amount:    req.Amount,
		Reason:    req.Reason,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *PaymentHandler) listRefunds(c echo.Context) error {
	v := c.QueryParam("payment_id")
	paymentID, err := strconv.ParseInt(v, 10, 64)
	if err != nil || paymentID <= 0 {
		return badRequest(c, "invalid payment_id")
	}

	out, err := h.pm.ListRefunds(c.Request().Context(), paymentID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
