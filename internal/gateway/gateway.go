package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"hagerbet/internal/domain/model"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount     = errors.New("amount must be greater than 0")
	ErrInvalidSignature  = errors.New("invalid webhook signature")
	ErrMalformedPayload  = errors.New("malformed webhook payload")
	ErrUnsupportedMethod = errors.New("unsupported payment method")
)

// 外部決済の結果を正規化したもの
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomePending   Outcome = "pending"
	// 支払いに関係ないwebhook
	OutcomeIgnored Outcome = "ignored"
)

type PaymentRequest struct {
	PaymentID   string // UUID
	PaymentPK   int64
	OrderID     int64
	OrderNumber string
	UserID      int64
	Amount      decimal.Decimal
	Currency    string

	// 支払い方法ごとの入力
	Token         string
	PayPalOrderID string
	Phone         string
}

// CBE / TeleBirr が返す取引情報
type TransactionRecord struct {
	TransactionID string
	MerchantID    string
	TerminalID    string
	InvoiceNumber string
	ShortCode     string
	AppKey        string
	USSDCode      string
	PaymentURL    string
	QRCodeURL     string
	DeepLink      string
}

type InitiateResult struct {
	Success bool
	// 受付済みで、完了はcallbackかverify待ち
	Pending          bool
	GatewayPaymentID string
	ResponseData     json.RawMessage
	Message          string
	Transaction      *TransactionRecord
}

type VerifyResult struct {
	Success      bool
	Status       Outcome
	ResponseData json.RawMessage
	Message      string
}

type RefundRequest struct {
	PaymentID        string
	GatewayPaymentID string
	GatewayResponse  json.RawMessage
	Amount           decimal.Decimal
	Currency         string
	Reason           string
}

type RefundResult struct {
	Success         bool
	GatewayRefundID string
	ResponseData    json.RawMessage
	Message         string
}

type WebhookResult struct {
	EventID   string
	EventType string
	// ゲートウェイ側のID（CBE/TeleBirrは取引ID、Stripe/PayPalは決済ID）
	TransactionID string
	// こちらのpayment_id（metadataに入っていれば）
	PaymentRef string
	Status     Outcome
	Raw        json.RawMessage
}

// 決済ゲートウェイの共通インターフェース
//
// InitiatePayment は Payment.Status を変えない。呼び出し側が結果を見て更新する。
// ProcessRefund は返金可否をチェックしない。呼び出し側で確認済みであること。
type Gateway interface {
	Name() model.PaymentMethod
	InitiatePayment(ctx context.Context, req PaymentRequest) (InitiateResult, error)
	VerifyPayment(ctx context.Context, transactionID string) (VerifyResult, error)
	ProcessRefund(ctx context.Context, req RefundRequest) (RefundResult, error)
	HandleWebhook(ctx context.Context, payload []byte, header http.Header) (WebhookResult, error)
}

// 支払い方法 → ゲートウェイ
type Registry struct {
	gateways map[model.PaymentMethod]Gateway
}

func NewRegistry(gws ...Gateway) *Registry {
	r := &Registry{gateways: make(map[model.PaymentMethod]Gateway, len(gws))}
	for _, g := range gws {
		r.gateways[g.Name()] = g
	}
	return r
}

func (r *Registry) Get(method model.PaymentMethod) (Gateway, error) {
	g, ok := r.gateways[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}
	return g, nil
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

func mustJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
