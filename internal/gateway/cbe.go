package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"hagerbet/internal/config"
	"hagerbet/internal/domain/model"

	"github.com/go-resty/resty/v2"
)

const CBESignatureHeader = "X-CBE-Signature"

type cbeResponse struct {
	Status        string `json:"status"`
	TransactionID string `json:"transactionId"`
	Message       string `json:"message"`
	USSDCode      string `json:"ussdCode,omitempty"`
	PaymentURL    string `json:"paymentUrl,omitempty"`
}

type cbeCallback struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
}

// CBE Birr。APIURLが空のときはシミュレーション応答を返す
type CBEGateway struct {
	cfg           config.CBEConfig
	client        *resty.Client
	allowUnsigned bool
	now           func() time.Time
}

func NewCBEGateway(cfg config.CBEConfig, allowUnsigned bool) *CBEGateway {
	g := &CBEGateway{cfg: cfg, allowUnsigned: allowUnsigned, now: time.Now}
	if cfg.APIURL != "" {
		g.client = resty.New().
			SetBaseURL(strings.TrimRight(cfg.APIURL, "/")).
			SetHeader("Content-Type", "application/json")
	}
	return g
}

func (g *CBEGateway) Name() model.PaymentMethod { return model.PaymentMethodCBE }

func (g *CBEGateway) InitiatePayment(ctx context.Context, req PaymentRequest) (InitiateResult, error) {
	if err := validateAmount(req.Amount); err != nil {
		return InitiateResult{}, err
	}

	now := g.now()
	txID := fmt.Sprintf("CBE%d%06d", now.Unix(), req.PaymentPK)
	ts := strconv.FormatInt(now.Unix(), 10)
	amount := req.Amount.StringFixed(2)

	body := map[string]string{
		"merchantId":    g.cfg.MerchantID,
		"terminalId":    g.cfg.TerminalID,
		"invoiceNo":     req.OrderNumber,
		"amount":        amount,
		"currency":      "ETB",
		"transactionId": txID,
		"customerPhone": req.Phone,
		"callbackUrl":   g.cfg.CallbackURL,
		"timestamp":     ts,
	}
	body["signature"] = g.requestSignature(body)

	var res cbeResponse
	if g.client == nil {
		res = cbeResponse{
			Status:        "SUCCESS",
			TransactionID: txID,
			Message:       "Payment initiated successfully",
			USSDCode:      fmt.Sprintf("*127*1*%s#", txID),
			PaymentURL:    fmt.Sprintf("https://cbe-payment.example.com/pay/%s", txID),
		}
	} else {
		resp, err := g.client.R().
			SetContext(ctx).
			SetBody(body).
			SetResult(&res).
			Post("/payment/initiate")
		if err != nil {
			return InitiateResult{}, fmt.Errorf("cbe initiate: %w", err)
		}
		if resp.IsError() {
			return InitiateResult{}, fmt.Errorf("cbe initiate: status %d", resp.StatusCode())
		}
	}

	ok := res.Status == "SUCCESS"
	out := InitiateResult{
		Success:          ok,
		Pending:          ok,
		GatewayPaymentID: txID,
		ResponseData:     mustJSON(res),
		Message:          res.Message,
	}
	if out.Message == "" {
		out.Message = "CBE payment initiated"
	}
	if ok {
		out.Transaction = &TransactionRecord{
			TransactionID: txID,
			MerchantID:    g.cfg.MerchantID,
			TerminalID:    g.cfg.TerminalID,
			InvoiceNumber: req.OrderNumber,
			USSDCode:      res.USSDCode,
			PaymentURL:    res.PaymentURL,
		}
	}
	return out, nil
}

func (g *CBEGateway) VerifyPayment(ctx context.Context, transactionID string) (VerifyResult, error) {
	var res cbeResponse
	if g.client == nil {
		res = cbeResponse{
			Status:        "SUCCESS",
			TransactionID: transactionID,
			Message:       "Payment verified successfully",
		}
	} else {
		resp, err := g.client.R().
			SetContext(ctx).
			SetResult(&res).
			Get("/payment/verify/" + transactionID)
		if err != nil {
			return VerifyResult{}, fmt.Errorf("cbe verify: %w", err)
		}
		if resp.IsError() {
			return VerifyResult{}, fmt.Errorf("cbe verify: status %d", resp.StatusCode())
		}
	}

	status := cbeOutcome(res.Status)
	return VerifyResult{
		Success:      status == OutcomeCompleted,
		Status:       status,
		ResponseData: mustJSON(res),
		Message:      res.Message,
	}, nil
}

// CBEは返金APIを持たない
func (g *CBEGateway) ProcessRefund(_ context.Context, _ RefundRequest) (RefundResult, error) {
	return RefundResult{Success: false, Message: "Refund not yet implemented for CBE"}, nil
}

func (g *CBEGateway) HandleWebhook(_ context.Context, payload []byte, header http.Header) (WebhookResult, error) {
	if g.cfg.WebhookSecret != "" {
		sig := header.Get(CBESignatureHeader)
		if sig == "" || !hmac.Equal([]byte(sig), []byte(SignCBECallback(payload, g.cfg.WebhookSecret))) {
			return WebhookResult{}, ErrInvalidSignature
		}
	} else if !g.allowUnsigned {
		return WebhookResult{}, ErrInvalidSignature
	}

	var cb cbeCallback
	if err := json.Unmarshal(payload, &cb); err != nil || cb.TransactionID == "" {
		return WebhookResult{}, ErrMalformedPayload
	}

	status := cbeOutcome(cb.Status)
	return WebhookResult{
		EventID:       cb.TransactionID + ":" + strings.ToUpper(cb.Status),
		EventType:     "cbe.callback",
		TransactionID: cb.TransactionID,
		Status:        status,
		Raw:           json.RawMessage(payload),
	}, nil
}

// merchantId + terminalId + invoiceNo + amount + transactionId + timestamp
func (g *CBEGateway) requestSignature(d map[string]string) string {
	s := d["merchantId"] + d["terminalId"] + d["invoiceNo"] + d["amount"] + d["transactionId"] + d["timestamp"]
	return hmacHex(g.cfg.SecretKey, []byte(s))
}

// callback本文のHMAC-SHA256（hex）
func SignCBECallback(body []byte, secret string) string {
	return hmacHex(secret, body)
}

func hmacHex(secret string, data []byte) string {
	m := hmac.New(sha256.New, []byte(secret))
	m.Write(data)
	return hex.EncodeToString(m.Sum(nil))
}

func cbeOutcome(s string) Outcome {
	switch strings.ToUpper(s) {
	case "SUCCESS", "COMPLETED":
		return OutcomeCompleted
	case "FAILED", "CANCELLED", "EXPIRED":
		return OutcomeFailed
	case "PENDING", "INITIATED":
		return OutcomePending
	}
	return OutcomeIgnored
}
