package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"hagerbet/internal/config"
	"hagerbet/internal/domain/model"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

type paypalToken struct {
	AccessToken string `json:"access_token"`
}

type paypalCapture struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type paypalOrder struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []paypalCapture `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

type paypalEvent struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID                string `json:"id"`
		Status            string `json:"status"`
		CustomID          string `json:"custom_id"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	} `json:"resource"`
}

// PayPal。APIURLが空のときはフロントでcapture済みとして扱う
type PayPalGateway struct {
	cfg           config.PayPalConfig
	client        *resty.Client
	allowUnsigned bool
}

func NewPayPalGateway(cfg config.PayPalConfig, allowUnsigned bool) *PayPalGateway {
	g := &PayPalGateway{cfg: cfg, allowUnsigned: allowUnsigned}
	if cfg.APIURL != "" {
		g.client = resty.New().SetBaseURL(strings.TrimRight(cfg.APIURL, "/"))
	}
	return g
}

func (g *PayPalGateway) Name() model.PaymentMethod { return model.PaymentMethodPayPal }

func (g *PayPalGateway) accessToken(ctx context.Context) (string, error) {
	var tok paypalToken
	resp, err := g.client.R().
		SetContext(ctx).
		SetBasicAuth(g.cfg.ClientID, g.cfg.ClientSecret).
		SetFormData(map[string]string{"grant_type": "client_credentials"}).
		SetResult(&tok).
		Post("/v1/oauth2/token")
	if err != nil {
		return "", fmt.Errorf("paypal oauth: %w", err)
	}
	if resp.IsError() || tok.AccessToken == "" {
		return "", fmt.Errorf("paypal oauth: status %d", resp.StatusCode())
	}
	return tok.AccessToken, nil
}

func (g *PayPalGateway) InitiatePayment(ctx context.Context, req PaymentRequest) (InitiateResult, error) {
	if err := validateAmount(req.Amount); err != nil {
		return InitiateResult{}, err
	}

	if g.client == nil {
		return InitiateResult{
			Success:          true,
			GatewayPaymentID: req.PayPalOrderID,
			ResponseData:     mustJSON(map[string]string{"status": "COMPLETED", "id": req.PayPalOrderID}),
			Message:          "PayPal payment completed successfully",
		}, nil
	}

	token, err := g.accessToken(ctx)
	if err != nil {
		return InitiateResult{}, err
	}

	var order paypalOrder
	resp, err := g.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json").
		SetHeader("PayPal-Request-Id", req.PaymentID).
		SetResult(&order).
		Post("/v2/checkout/orders/" + req.PayPalOrderID + "/capture")
	if err != nil {
		return InitiateResult{}, fmt.Errorf("paypal capture: %w", err)
	}
	if resp.StatusCode() >= http.StatusInternalServerError {
		return InitiateResult{}, fmt.Errorf("paypal capture: status %d", resp.StatusCode())
	}

	// 4xx は決済失敗（拒否・期限切れなど）
	raw := json.RawMessage(resp.Body())
	if !json.Valid(raw) {
		raw = mustJSON(map[string]string{"status": resp.Status()})
	}
	if resp.IsError() || order.Status != "COMPLETED" {
		return InitiateResult{
			Success:          false,
			GatewayPaymentID: req.PayPalOrderID,
			ResponseData:     raw,
			Message:          "PayPal payment not completed",
		}, nil
	}

	return InitiateResult{
		Success:          true,
		GatewayPaymentID: req.PayPalOrderID,
		ResponseData:     raw,
		Message:          "PayPal payment completed successfully",
	}, nil
}

func (g *PayPalGateway) VerifyPayment(ctx context.Context, transactionID string) (VerifyResult, error) {
	if g.client == nil {
		return VerifyResult{
			Success:      true,
			Status:       OutcomeCompleted,
			ResponseData: mustJSON(map[string]string{"status": "COMPLETED", "id": transactionID}),
			Message:      "COMPLETED",
		}, nil
	}

	token, err := g.accessToken(ctx)
	if err != nil {
		return VerifyResult{}, err
	}

	var order paypalOrder
	resp, err := g.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(&order).
		Get("/v2/checkout/orders/" + transactionID)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("paypal order: %w", err)
	}
	if resp.IsError() {
		return VerifyResult{}, fmt.Errorf("paypal order: status %d", resp.StatusCode())
	}

	status := OutcomePending
	switch order.Status {
	case "COMPLETED":
		status = OutcomeCompleted
	case "VOIDED":
		status = OutcomeFailed
	}
	return VerifyResult{
		Success:      status == OutcomeCompleted,
		Status:       status,
		ResponseData: json.RawMessage(resp.Body()),
		Message:      order.Status,
	}, nil
}

// 返金は capture 単位。capture id は保存済みのcapture応答から取り出す
func (g *PayPalGateway) ProcessRefund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if err := validateAmount(req.Amount); err != nil {
		return RefundResult{}, err
	}

	if g.client == nil {
		return RefundResult{
			Success:         true,
			GatewayRefundID: "PPR-" + strings.ToUpper(uuid.NewString()[:12]),
			Message:         "PayPal refund processed",
		}, nil
	}

	captureID := paypalCaptureID(req.GatewayResponse)
	if captureID == "" {
		return RefundResult{Success: false, Message: "PayPal capture not found"}, nil
	}

	token, err := g.accessToken(ctx)
	if err != nil {
		return RefundResult{}, err
	}

	body := map[string]interface{}{
		"amount": map[string]string{
			"value":         req.Amount.StringFixed(2),
			"currency_code": strings.ToUpper(req.Currency),
		},
		"note_to_payer": req.Reason,
	}

	var out paypalCapture
	resp, err := g.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&out).
		Post("/v2/payments/captures/" + captureID + "/refund")
	if err != nil {
		return RefundResult{}, fmt.Errorf("paypal refund: %w", err)
	}
	if resp.IsError() {
		return RefundResult{}, fmt.Errorf("paypal refund: status %d", resp.StatusCode())
	}

	ok := out.Status == "COMPLETED" || out.Status == "PENDING"
	return RefundResult{
		Success:         ok,
		GatewayRefundID: out.ID,
		ResponseData:    json.RawMessage(resp.Body()),
		Message:         "PayPal refund " + strings.ToLower(out.Status),
	}, nil
}

func paypalCaptureID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var order paypalOrder
	if err := json.Unmarshal(raw, &order); err != nil {
		return ""
	}
	for _, pu := range order.PurchaseUnits {
		for _, c := range pu.Payments.Captures {
			if c.ID != "" {
				return c.ID
			}
		}
	}
	return ""
}

func (g *PayPalGateway) HandleWebhook(ctx context.Context, payload []byte, header http.Header) (WebhookResult, error) {
	var ev paypalEvent
	if err := json.Unmarshal(payload, &ev); err != nil || ev.ID == "" || ev.EventType == "" {
		return WebhookResult{}, ErrMalformedPayload
	}

	if g.client != nil && g.cfg.WebhookID != "" {
		ok, err := g.verifySignature(ctx, payload, header)
		if err != nil {
			return WebhookResult{}, err
		}
		if !ok {
			return WebhookResult{}, ErrInvalidSignature
		}
	} else if !g.allowUnsigned {
		return WebhookResult{}, ErrInvalidSignature
	}

	status := OutcomeIgnored
	switch ev.EventType {
	case "PAYMENT.CAPTURE.COMPLETED", "CHECKOUT.ORDER.COMPLETED":
		status = OutcomeCompleted
	case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED":
		status = OutcomeFailed
	}

	// 決済はPayPalのorder idで保存している
	txID := ev.Resource.SupplementaryData.RelatedIDs.OrderID
	if txID == "" {
		txID = ev.Resource.ID
	}

	return WebhookResult{
		EventID:       ev.ID,
		EventType:     ev.EventType,
		TransactionID: txID,
		PaymentRef:    ev.Resource.CustomID,
		Status:        status,
		Raw:           json.RawMessage(payload),
	}, nil
}

func (g *PayPalGateway) verifySignature(ctx context.Context, payload []byte, header http.Header) (bool, error) {
	token, err := g.accessToken(ctx)
	if err != nil {
		return false, err
	}

	body := map[string]interface{}{
		"auth_algo":         header.Get("PAYPAL-AUTH-ALGO"),
		"cert_url":          header.Get("PAYPAL-CERT-URL"),
		"transmission_id":   header.Get("PAYPAL-TRANSMISSION-ID"),
		"transmission_sig":  header.Get("PAYPAL-TRANSMISSION-SIG"),
		"transmission_time": header.Get("PAYPAL-TRANSMISSION-TIME"),
		"webhook_id":        g.cfg.WebhookID,
		"webhook_event":     json.RawMessage(payload),
	}

	var out struct {
		VerificationStatus string `json:"verification_status"`
	}
	resp, err := g.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&out).
		Post("/v1/notifications/verify-webhook-signature")
	if err != nil {
		return false, fmt.Errorf("paypal verify webhook: %w", err)
	}
	if resp.IsError() {
		return false, fmt.Errorf("paypal verify webhook: status %d", resp.StatusCode())
	}
	return out.VerificationStatus == "SUCCESS", nil
}
