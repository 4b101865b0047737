package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"hagerbet/internal/config"
	"hagerbet/internal/domain/model"

	"github.com/go-resty/resty/v2"
)

type telebirrResponse struct {
	Code        string `json:"code"`
	Msg         string `json:"msg"`
	OutTradeNo  string `json:"outTradeNo,omitempty"`
	QRCode      string `json:"qrCode,omitempty"`
	USSD        string `json:"ussd,omitempty"`
	DeepLink    string `json:"deepLink,omitempty"`
	TradeStatus string `json:"tradeStatus,omitempty"`
}

// TeleBirr。APIURLが空のときはシミュレーション応答を返す
type TeleBirrGateway struct {
	cfg           config.TeleBirrConfig
	client        *resty.Client
	allowUnsigned bool
	now           func() time.Time
}

func NewTeleBirrGateway(cfg config.TeleBirrConfig, allowUnsigned bool) *TeleBirrGateway {
	g := &TeleBirrGateway{cfg: cfg, allowUnsigned: allowUnsigned, now: time.Now}
	if cfg.APIURL != "" {
		g.client = resty.New().
			SetBaseURL(strings.TrimRight(cfg.APIURL, "/")).
			SetHeader("Content-Type", "application/json")
	}
	return g
}

func (g *TeleBirrGateway) Name() model.PaymentMethod { return model.PaymentMethodTeleBirr }

func (g *TeleBirrGateway) InitiatePayment(ctx context.Context, req PaymentRequest) (InitiateResult, error) {
	if err := validateAmount(req.Amount); err != nil {
		return InitiateResult{}, err
	}

	now := g.now()
	txID := fmt.Sprintf("TBR%d%06d", now.Unix(), req.PaymentPK)

	body := map[string]string{
		"outTradeNo":     txID,
		"subject":        "Order #" + req.OrderNumber,
		"totalAmount":    req.Amount.StringFixed(2),
		"shortCode":      g.cfg.ShortCode,
		"notifyUrl":      g.cfg.NotifyURL,
		"returnUrl":      g.cfg.ReturnURL,
		"receiveName":    "Hagerbet E-Commerce",
		"appId":          g.cfg.AppID,
		"timeoutExpress": "30m",
		"nonce":          strconv.FormatInt(now.Unix(), 10),
		"timestamp":      strconv.FormatInt(now.UnixMilli(), 10),
	}
	body["sign"] = SignTeleBirr(body, g.cfg.AppSecret)

	var res telebirrResponse
	if g.client == nil {
		res = telebirrResponse{
			Code:       "200",
			Msg:        "success",
			OutTradeNo: txID,
			QRCode:     "https://telebirr.qr.example.com/" + txID,
			USSD:       fmt.Sprintf("*806*%s#", txID),
			DeepLink:   "telebirr://payment/" + txID,
		}
	} else {
		resp, err := g.client.R().
			SetContext(ctx).
			SetBody(body).
			SetResult(&res).
			Post("/unifiedorder")
		if err != nil {
			return InitiateResult{}, fmt.Errorf("telebirr initiate: %w", err)
		}
		if resp.IsError() {
			return InitiateResult{}, fmt.Errorf("telebirr initiate: status %d", resp.StatusCode())
		}
	}

	ok := res.Code == "200"
	out := InitiateResult{
		Success:          ok,
		Pending:          ok,
		GatewayPaymentID: txID,
		ResponseData:     mustJSON(res),
		Message:          res.Msg,
	}
	if out.Message == "" {
		out.Message = "TeleBirr payment initiated"
	}
	if ok {
		out.Transaction = &TransactionRecord{
			TransactionID: txID,
			ShortCode:     g.cfg.ShortCode,
			AppKey:        g.cfg.AppKey,
			USSDCode:      res.USSD,
			QRCodeURL:     res.QRCode,
			DeepLink:      res.DeepLink,
		}
	}
	return out, nil
}

func (g *TeleBirrGateway) VerifyPayment(ctx context.Context, transactionID string) (VerifyResult, error) {
	var res telebirrResponse
	if g.client == nil {
		res = telebirrResponse{Code: "200", Msg: "success", TradeStatus: "SUCCESS"}
	} else {
		resp, err := g.client.R().
			SetContext(ctx).
			SetResult(&res).
			Get("/orderquery/" + transactionID)
		if err != nil {
			return VerifyResult{}, fmt.Errorf("telebirr verify: %w", err)
		}
		if resp.IsError() {
			return VerifyResult{}, fmt.Errorf("telebirr verify: status %d", resp.StatusCode())
		}
	}

	status := OutcomeFailed
	if res.Code == "200" {
		status = telebirrOutcome(res.TradeStatus)
	}
	return VerifyResult{
		Success:      status == OutcomeCompleted,
		Status:       status,
		ResponseData: mustJSON(res),
		Message:      res.Msg,
	}, nil
}

// TeleBirrは返金APIを持たない
func (g *TeleBirrGateway) ProcessRefund(_ context.Context, _ RefundRequest) (RefundResult, error) {
	return RefundResult{Success: false, Message: "Refund not yet implemented for TeleBirr"}, nil
}

// 通知本文の sign を検証する（sign以外の全項目で再計算）
func (g *TeleBirrGateway) HandleWebhook(_ context.Context, payload []byte, _ http.Header) (WebhookResult, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return WebhookResult{}, ErrMalformedPayload
	}

	params := make(map[string]string, len(raw))
	for k, v := range raw {
		params[k] = scalarString(v)
	}

	if g.cfg.AppSecret != "" {
		sig := params["sign"]
		delete(params, "sign")
		if sig == "" || sig != SignTeleBirr(params, g.cfg.AppSecret) {
			return WebhookResult{}, ErrInvalidSignature
		}
	} else if !g.allowUnsigned {
		return WebhookResult{}, ErrInvalidSignature
	}

	txID := params["outTradeNo"]
	if txID == "" {
		return WebhookResult{}, ErrMalformedPayload
	}

	tradeStatus := params["tradeStatus"]
	return WebhookResult{
		EventID:       txID + ":" + strings.ToUpper(tradeStatus),
		EventType:     "telebirr.notify",
		TransactionID: txID,
		Status:        telebirrOutcome(tradeStatus),
		Raw:           json.RawMessage(payload),
	}, nil
}

// key順に k=v を & で連結し、末尾に app secret を付けて sha256
func SignTeleBirr(params map[string]string, appSecret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "sign" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}

	sum := sha256.Sum256([]byte(strings.Join(pairs, "&") + appSecret))
	return hex.EncodeToString(sum[:])
}

func scalarString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func telebirrOutcome(s string) Outcome {
	switch strings.ToUpper(s) {
	case "SUCCESS", "COMPLETED", "TRADE_SUCCESS":
		return OutcomeCompleted
	case "FAILED", "FAIL", "CLOSED", "EXPIRED", "TRADE_CLOSED":
		return OutcomeFailed
	case "PENDING", "WAIT_PAY":
		return OutcomePending
	}
	return OutcomeIgnored
}
