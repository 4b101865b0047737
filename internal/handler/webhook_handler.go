package handler

import (
	"errors"
	"io"
	"net/http"

	"hagerbet/internal/domain/model"
	"hagerbet/internal/gateway"
	"hagerbet/internal/usecase"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// webhookの本文上限
const maxWebhookBody = 1 << 20

type WebhookResponse struct {
	Status string `json:"status"`
}

// 決済プロバイダからのコールバック。認証なし、署名で検証する
type WebhookHandler struct {
	pm  *usecase.PaymentManager
	log zerolog.Logger
}

func NewWebhookHandler(pm *usecase.PaymentManager, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{pm: pm, log: log}
}

func (h *WebhookHandler) RegisterRoutes(e *echo.Echo) {
	e.POST("/payments/webhooks/:provider", h.receive)
}

func (h *WebhookHandler) receive(c echo.Context) error {
	method := model.PaymentMethod(c.Param("provider"))
	switch method {
	case model.PaymentMethodStripe, model.PaymentMethodPayPal, model.PaymentMethodCBE, model.PaymentMethodTeleBirr:
	default:
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "unknown provider"})
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return badRequest(c, "invalid body")
	}

	outcome, err := h.pm.HandleWebhook(c.Request().Context(), method, payload, c.Request().Header)
	if err != nil {
		if errors.Is(err, gateway.ErrInvalidSignature) || errors.Is(err, gateway.ErrMalformedPayload) {
			return badRequest(c, err.Error())
		}
		// 署名・形式以外のエラーは200
		h.log.Error().Err(err).Str("provider", string(method)).Msg("webhook processing failed")
		return c.JSON(http.StatusOK, WebhookResponse{Status: "error"})
	}

	return c.JSON(http.StatusOK, WebhookResponse{Status: string(outcome)})
}
