package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"hagerbet/internal/config"
	"hagerbet/internal/domain/model"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// stripe SDK のうち使う部分（テストで差し替える）
type stripeBackend interface {
	NewCharge(params *stripe.ChargeParams) (*stripe.Charge, error)
	GetCharge(id string, params *stripe.ChargeParams) (*stripe.Charge, error)
	NewRefund(params *stripe.RefundParams) (*stripe.Refund, error)
	NewPaymentIntent(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type sdkBackend struct {
	sc *client.API
}

func (b *sdkBackend) NewCharge(p *stripe.ChargeParams) (*stripe.Charge, error) {
	return b.sc.Charges.New(p)
}

func (b *sdkBackend) GetCharge(id string, p *stripe.ChargeParams) (*stripe.Charge, error) {
	return b.sc.Charges.Get(id, p)
}

func (b *sdkBackend) NewRefund(p *stripe.RefundParams) (*stripe.Refund, error) {
	return b.sc.Refunds.New(p)
}

func (b *sdkBackend) NewPaymentIntent(p *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return b.sc.PaymentIntents.New(p)
}

type StripeGateway struct {
	backend       stripeBackend
	webhookSecret string
	allowUnsigned bool
}

func NewStripeGateway(cfg config.StripeConfig, allowUnsigned bool, httpClient *http.Client) *StripeGateway {
	backends := stripe.NewBackends(httpClient)
	if cfg.APIURL != "" {
		backends.API = stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL:        stripe.String(cfg.APIURL),
			HTTPClient: httpClient,
		})
	}
	return newStripeGateway(&sdkBackend{sc: client.New(cfg.SecretKey, backends)}, cfg.WebhookSecret, allowUnsigned)
}

func newStripeGateway(b stripeBackend, webhookSecret string, allowUnsigned bool) *StripeGateway {
	return &StripeGateway{backend: b, webhookSecret: webhookSecret, allowUnsigned: allowUnsigned}
}

func (g *StripeGateway) Name() model.PaymentMethod { return model.PaymentMethodStripe }

// 最小通貨単位（セント）
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func (g *StripeGateway) InitiatePayment(ctx context.Context, req PaymentRequest) (InitiateResult, error) {
	if err := validateAmount(req.Amount); err != nil {
		return InitiateResult{}, err
	}

	params := &stripe.ChargeParams{
		Amount:      stripe.Int64(minorUnits(req.Amount)),
		Currency:    stripe.String(strings.ToLower(req.Currency)),
		Description: stripe.String("Order #" + req.OrderNumber),
	}
	params.Context = ctx
	if err := params.SetSource(req.Token); err != nil {
		return InitiateResult{}, fmt.Errorf("stripe source: %w", err)
	}
	params.AddMetadata("order_number", req.OrderNumber)
	params.AddMetadata("payment_id", req.PaymentID)
	params.AddMetadata("user_id", strconv.FormatInt(req.UserID, 10))

	ch, err := g.backend.NewCharge(params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.Type == stripe.ErrorTypeCard {
			// カード拒否は決済失敗として返す（エラーではない）
			return InitiateResult{
				Success:      false,
				ResponseData: mustJSON(map[string]string{"error": se.Msg, "code": string(se.Code)}),
				Message:      "Card error: " + se.Msg,
			}, nil
		}
		return InitiateResult{}, fmt.Errorf("stripe charge: %w", err)
	}

	if ch.Status != stripe.ChargeStatusSucceeded {
		return InitiateResult{
			Success:          false,
			GatewayPaymentID: ch.ID,
			ResponseData:     mustJSON(ch),
			Message:          "Payment failed: " + ch.FailureMessage,
		}, nil
	}

	return InitiateResult{
		Success:          true,
		GatewayPaymentID: ch.ID,
		ResponseData:     mustJSON(ch),
		Message:          "Payment successful",
	}, nil
}

func (g *StripeGateway) VerifyPayment(ctx context.Context, transactionID string) (VerifyResult, error) {
	params := &stripe.ChargeParams{}
	params.Context = ctx

	ch, err := g.backend.GetCharge(transactionID, params)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("stripe retrieve: %w", err)
	}

	status := OutcomePending
	switch ch.Status {
	case stripe.ChargeStatusSucceeded:
		status = OutcomeCompleted
	case stripe.ChargeStatusFailed:
		status = OutcomeFailed
	}
	return VerifyResult{
		Success:      status == OutcomeCompleted,
		Status:       status,
		ResponseData: mustJSON(ch),
		Message:      string(ch.Status),
	}, nil
}

func (g *StripeGateway) ProcessRefund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if err := validateAmount(req.Amount); err != nil {
		return RefundResult{}, err
	}

	params := &stripe.RefundParams{
		Charge: stripe.String(req.GatewayPaymentID),
		Amount: stripe.Int64(minorUnits(req.Amount)),
		Reason: stripe.String("requested_by_customer"),
	}
	params.Context = ctx

	rf, err := g.backend.NewRefund(params)
	if err != nil {
		return RefundResult{}, fmt.Errorf("stripe refund: %w", err)
	}

	ok := rf.Status == stripe.RefundStatusSucceeded
	msg := "Refund processed successfully"
	if !ok {
		msg = "Refund " + string(rf.Status)
	}
	return RefundResult{
		Success:         ok,
		GatewayRefundID: rf.ID,
		ResponseData:    mustJSON(rf),
		Message:         msg,
	}, nil
}

type StripeIntent struct {
	ID           string
	ClientSecret string
}

// フロントでカード入力させる場合のPaymentIntent
func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, req PaymentRequest) (StripeIntent, error) {
	if err := validateAmount(req.Amount); err != nil {
		return StripeIntent{}, err
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(minorUnits(req.Amount)),
		Currency: stripe.String(strings.ToLower(req.Currency)),
	}
	params.Context = ctx
	params.AddMetadata("order_number", req.OrderNumber)
	params.AddMetadata("payment_id", req.PaymentID)

	pi, err := g.backend.NewPaymentIntent(params)
	if err != nil {
		return StripeIntent{}, fmt.Errorf("stripe payment intent: %w", err)
	}
	return StripeIntent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

type stripeObject struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata"`
}

func (g *StripeGateway) HandleWebhook(_ context.Context, payload []byte, header http.Header) (WebhookResult, error) {
	var ev stripe.Event
	if g.webhookSecret != "" {
		var err error
		ev, err = webhook.ConstructEventWithOptions(payload, header.Get("Stripe-Signature"), g.webhookSecret,
			webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
		if err != nil {
			if isStripeSignatureErr(err) {
				return WebhookResult{}, ErrInvalidSignature
			}
			return WebhookResult{}, ErrMalformedPayload
		}
	} else {
		if !g.allowUnsigned {
			return WebhookResult{}, ErrInvalidSignature
		}
		if err := json.Unmarshal(payload, &ev); err != nil {
			return WebhookResult{}, ErrMalformedPayload
		}
	}

	if ev.ID == "" || ev.Data == nil {
		return WebhookResult{}, ErrMalformedPayload
	}

	var obj stripeObject
	if err := json.Unmarshal(ev.Data.Raw, &obj); err != nil {
		return WebhookResult{}, ErrMalformedPayload
	}

	status := OutcomeIgnored
	switch string(ev.Type) {
	case "payment_intent.succeeded", "charge.succeeded":
		status = OutcomeCompleted
	case "payment_intent.payment_failed", "charge.failed":
		status = OutcomeFailed
	}

	return WebhookResult{
		EventID:       ev.ID,
		EventType:     string(ev.Type),
		TransactionID: obj.ID,
		PaymentRef:    obj.Metadata["payment_id"],
		Status:        status,
		Raw:           json.RawMessage(payload),
	}, nil
}

func isStripeSignatureErr(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}
