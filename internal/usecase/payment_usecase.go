package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"hagerbet/internal/domain/model"
	"hagerbet/internal/gateway"
	repo "hagerbet/internal/repository"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	defaultGatewayTimeout = 30 * time.Second
	webhookReplayTTL      = 24 * time.Hour
)

// webhookの再送を手前で弾く（最終的な重複判定はprovider_events）
type ReplayGuard interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string, ttl time.Duration) error
}

type StripeIntentCreator interface {
	CreatePaymentIntent(ctx context.Context, req gateway.PaymentRequest) (gateway.StripeIntent, error)
}

type PaymentManagerDeps struct {
	Tx       repo.TransactionManager
	Gateways *gateway.Registry
	// nilならPaymentIntentは使えない
	Intents  StripeIntentCreator
	Replay   ReplayGuard
	Notifier EventNotifier
	Clock    Clock
	IDs      IDGenerator
	Log      zerolog.Logger
	Timeout  time.Duration
	Currency string
}

// 支払い方法ごとのゲートウェイを呼び分け、結果をPayment/Orderへ反映する
type PaymentManager struct {
	tx       repo.TransactionManager
	gateways *gateway.Registry
	intents  StripeIntentCreator
	replay   ReplayGuard
	notifier EventNotifier
	clock    Clock
	ids      IDGenerator
	log      zerolog.Logger
	timeout  time.Duration
	currency string
}

func NewPaymentManager(d PaymentManagerDeps) *PaymentManager {
	m := &PaymentManager{
		tx:       d.Tx,
		gateways: d.Gateways,
		intents:  d.Intents,
		replay:   d.Replay,
		notifier: d.Notifier,
		clock:    d.Clock,
		ids:      d.IDs,
		log:      d.Log,
		timeout:  d.Timeout,
		currency: d.Currency,
	}
	if m.gateways == nil {
		m.gateways = gateway.NewRegistry()
	}
	if m.notifier == nil {
		m.notifier = nopNotifier{}
	}
	if m.timeout <= 0 {
		m.timeout = defaultGatewayTimeout
	}
	if m.currency == "" {
		m.currency = "ETB"
	}
	return m
}

// 操作する人。管理者は他人の支払いも扱える
type Actor struct {
	UserID int64
	Admin  bool
}

func (a Actor) owns(userID int64) bool {
	return a.Admin || (a.UserID > 0 && a.UserID == userID)
}

type CreatePaymentInput struct {
	PaymentMethod string
	StripeToken   string
	PayPalOrderID string
	CBEPhone      string
	TeleBirrPhone string
}

// ゲートウェイに渡す支払い方法ごとの値
type PaymentArgs struct {
	StripeToken   string
	PayPalOrderID string
	Phone         string
}

type GatewayTransactionOutput struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	USSDCode      string `json:"ussd_code,omitempty"`
	PaymentURL    string `json:"payment_url,omitempty"`
	QRCodeURL     string `json:"qr_code_url,omitempty"`
	DeepLink      string `json:"deep_link,omitempty"`
}

type PaymentOutput struct {
	ID               int64                     `json:"id"`
	PaymentID        string                    `json:"payment_id"`
	OrderID          int64                     `json:"order_id"`
	PaymentMethod    string                    `json:"payment_method"`
	Status           string                    `json:"status"`
	Amount           decimal.Decimal           `json:"amount"`
	Currency         string                    `json:"currency"`
	GatewayPaymentID string                    `json:"gateway_payment_id,omitempty"`
	CompletedAt      *time.Time                `json:"completed_at"`
	FailedAt         *time.Time                `json:"failed_at"`
	CreatedAt        time.Time                 `json:"created_at"`
	Transaction      *GatewayTransactionOutput `json:"transaction,omitempty"`
}

type PaymentListOutput struct {
	Items []PaymentOutput `json:"items"`
	Total int64           `json:"total"`
	Page  int             `json:"page"`
	Limit int             `json:"limit"`
}

type VerifyOutput struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	PaymentID     string `json:"payment_id"`
	PaymentStatus string `json:"payment_status"`
}

type RefundInput struct {
	PaymentID int64
	Amount    decimal.Decimal
	Reason    string
}

type RefundOutput struct {
	ID              int64           `json:"id"`
	RefundID        string          `json:"refund_id"`
	PaymentID       int64           `json:"payment_id"`
	Amount          decimal.Decimal `json:"amount"`
	Reason          string          `json:"reason"`
	Status          string          `json:"status"`
	GatewayRefundID string          `json:"gateway_refund_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	ProcessedAt     *time.Time      `json:"processed_at"`
}

type StripeIntentOutput struct {
	PaymentID       string          `json:"payment_id"`
	PaymentIntentID string          `json:"payment_intent_id"`
	ClientSecret    string          `json:"client_secret"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
}

type WebhookOutcome string

const (
	WebhookApplied   WebhookOutcome = "applied"
	WebhookDuplicate WebhookOutcome = "duplicate"
	WebhookIgnored   WebhookOutcome = "ignored"
	// 受け取ったが該当する支払いが無い
	WebhookUnmatched WebhookOutcome = "unmatched"
)

// 注文に対して pending の Payment を1件作る。金額は注文の grand_total
func (m *PaymentManager) CreatePayment(ctx context.Context, userID int64, orderID int64, method model.PaymentMethod) (model.Payment, error) {
	if userID <= 0 {
		return model.Payment{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if !method.Valid() {
		return model.Payment{}, ValidationError("invalid request", map[string]string{"payment_method": "invalid choice"})
	}

	var created model.Payment
	err := m.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByIDForUpdate(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return NotFoundError("order not found")
		}
		if err != nil {
			return dbError(err)
		}
		if o.UserID != userID {
			return NotFoundError("order not found")
		}
		if o.IsTerminal() {
			return StateConflictError(fmt.Sprintf("order cannot be paid in status %s", o.Status))
		}
		if o.IsPaid() {
			return StateConflictError("order is already paid")
		}
		if !o.GrandTotal.IsPositive() {
			return StateConflictError("order total must be greater than 0")
		}

		// 失敗・キャンセル済みの試行は再試行を妨げない
		payments, err := r.Payments().ListByOrderID(ctx, o.ID)
		if err != nil {
			return dbError(err)
		}
		for _, p := range payments {
			if p.IsLive() {
				return StateConflictError("order already has a payment")
			}
		}

		created, err = r.Payments().Create(ctx, model.Payment{
			PaymentID:     m.ids.NewID(),
			OrderID:       o.ID,
			UserID:        o.UserID,
			PaymentMethod: method,
			Status:        model.PaymentStatusPending,
			Amount:        o.GrandTotal,
			Currency:      m.currency,
		})
		if errors.Is(err, repo.ErrDuplicate) {
			return StateConflictError("order already has a payment")
		}
		if err != nil {
			return dbError(err)
		}
		return nil
	})
	if err != nil {
		return model.Payment{}, err
	}
	return created, nil
}

// 支払いを作成し、ゲートウェイ決済ならそのまま処理する。
// bank_transfer / cash_on_delivery は pending のまま返す
func (m *PaymentManager) StartPayment(ctx context.Context, userID int64, orderID int64, in CreatePaymentInput) (PaymentOutput, error) {
	method, args, err := validatePaymentInput(in)
	if err != nil {
		return PaymentOutput{}, err
	}

	p, err := m.CreatePayment(ctx, userID, orderID, method)
	if err != nil {
		return PaymentOutput{}, err
	}
	if method.IsOffline() {
		m.log.Info().
			Str("payment_id", p.PaymentID).
			Str("method", string(method)).
			Msg("offline payment created")
		return toPaymentOutput(p), nil
	}
	return m.ProcessPayment(ctx, Actor{UserID: userID}, p.ID, args)
}

// CBE / TeleBirr の支払いを開始して USSD コードなどを返す
func (m *PaymentManager) InitiateMobilePayment(ctx context.Context, userID int64, orderID int64, method model.PaymentMethod, phone string) (PaymentOutput, error) {
	if method != model.PaymentMethodCBE && method != model.PaymentMethodTeleBirr {
		return PaymentOutput{}, ValidationError("invalid request", map[string]string{"payment_method": "invalid choice"})
	}
	in := CreatePaymentInput{PaymentMethod: string(method)}
	if method == model.PaymentMethodCBE {
		in.CBEPhone = phone
	} else {
		in.TeleBirrPhone = phone
	}
	return m.StartPayment(ctx, userID, orderID, in)
}

// pending → processing を先にコミットしてからゲートウェイを呼ぶ。
// 同じ支払いを2か所から同時に処理しても、ゲートウェイに届くのは片方だけ
func (m *PaymentManager) ProcessPayment(ctx context.Context, actor Actor, paymentPK int64, args PaymentArgs) (PaymentOutput, error) {
	p, o, g, err := m.beginProcessing(ctx, actor, paymentPK)
	if err != nil {
		return PaymentOutput{}, err
	}

	req := gateway.PaymentRequest{
		PaymentID:     p.PaymentID,
		PaymentPK:     p.ID,
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		UserID:        p.UserID,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Token:         args.StripeToken,
		PayPalOrderID: args.PayPalOrderID,
		Phone:         args.Phone,
	}

	gctx, cancel := context.WithTimeout(ctx, m.timeout)
	res, gerr := g.InitiatePayment(gctx, req)
	timedOut := gerr != nil && (errors.Is(gerr, context.DeadlineExceeded) || errors.Is(gctx.Err(), context.DeadlineExceeded))
	cancel()

	// 呼び出し元が切断しても結果は必ず書き込む
	actx := context.WithoutCancel(ctx)
	now := m.clock.Now()

	var (
		out   PaymentOutput
		event model.EventType
	)
	err = m.tx.WithinTx(actx, func(r repo.TxRepos) error {
		event = ""
		cur, err := r.Payments().FindByIDForUpdate(actx, p.ID)
		if err != nil {
			return dbError(err)
		}
		// webhookが先に確定させた
		if cur.Status != model.PaymentStatusProcessing {
			out = toPaymentOutput(cur)
			return nil
		}

		switch {
		case gerr != nil:
			reason := "gateway error"
			if timedOut {
				reason = "gateway timeout"
			}
			cur.MarkFailed(errorResponse(reason), now)
			if err := r.Payments().Save(actx, cur); err != nil {
				return dbError(err)
			}
			event = model.EventPaymentFailed

		case !res.Success:
			cur.MarkFailed(res.ResponseData, now)
			if err := r.Payments().Save(actx, cur); err != nil {
				return dbError(err)
			}
			event = model.EventPaymentFailed

		case res.Pending:
			// 完了はcallbackかverify
			if res.GatewayPaymentID != "" {
				cur.GatewayPaymentID = res.GatewayPaymentID
			}
			if len(res.ResponseData) > 0 {
				cur.GatewayResponse = datatypes.JSON(res.ResponseData)
			}
			if err := r.Payments().Save(actx, cur); err != nil {
				return dbError(err)
			}
			if res.Transaction != nil {
				t, err := createGatewayTx(actx, r, cur, *res.Transaction, res.ResponseData)
				if err != nil {
					return err
				}
				out = toPaymentOutput(cur)
				out.Transaction = &t
				return nil
			}

		default:
			if _, err := m.settle(actx, r, &cur, res.GatewayPaymentID, res.ResponseData, now); err != nil {
				return err
			}
			event = model.EventPaymentCompleted
		}
		out = toPaymentOutput(cur)
		return nil
	})
	if err != nil {
		m.log.Error().Err(err).Str("payment_id", p.PaymentID).Msg("failed to record gateway result")
		return PaymentOutput{}, err
	}

	if event != "" {
		m.notifyPayment(ctx, event, out, o, now)
	}

	switch {
	case timedOut:
		m.log.Warn().Err(gerr).
			Str("payment_id", p.PaymentID).
			Str("method", string(p.PaymentMethod)).
			Dur("timeout", m.timeout).
			Msg("gateway timeout")
		return out, GatewayTimeoutError(gerr)
	case gerr != nil:
		m.log.Warn().Err(gerr).
			Str("payment_id", p.PaymentID).
			Str("method", string(p.PaymentMethod)).
			Msg("gateway call failed")
		return out, GatewayError("payment could not be processed", gerr)
	case !res.Success && event == model.EventPaymentFailed:
		m.log.Warn().
			Str("payment_id", p.PaymentID).
			Str("method", string(p.PaymentMethod)).
			Str("detail", res.Message).
			RawJSON("response", safeRaw(res.ResponseData)).
			Msg("payment declined")
		return out, GatewayError("payment was declined", errors.New(res.Message))
	}
	return out, nil
}

// Stripe Elements 用の PaymentIntent。完了は webhook で反映する
func (m *PaymentManager) CreateStripePaymentIntent(ctx context.Context, userID int64, orderID int64) (StripeIntentOutput, error) {
	if m.intents == nil {
		return StripeIntentOutput{}, GatewayError("stripe is not configured", nil)
	}
	created, err := m.CreatePayment(ctx, userID, orderID, model.PaymentMethodStripe)
	if err != nil {
		return StripeIntentOutput{}, err
	}
	p, o, _, err := m.beginProcessing(ctx, Actor{UserID: userID}, created.ID)
	if err != nil {
		return StripeIntentOutput{}, err
	}

	gctx, cancel := context.WithTimeout(ctx, m.timeout)
	intent, ierr := m.intents.CreatePaymentIntent(gctx, gateway.PaymentRequest{
		PaymentID:   p.PaymentID,
		PaymentPK:   p.ID,
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		UserID:      p.UserID,
		Amount:      p.Amount,
		Currency:    p.Currency,
	})
	timedOut := ierr != nil && (errors.Is(ierr, context.DeadlineExceeded) || errors.Is(gctx.Err(), context.DeadlineExceeded))
	cancel()

	actx := context.WithoutCancel(ctx)
	now := m.clock.Now()
	err = m.tx.WithinTx(actx, func(r repo.TxRepos) error {
		cur, err := r.Payments().FindByIDForUpdate(actx, p.ID)
		if err != nil {
			return dbError(err)
		}
		if ierr != nil {
			cur.MarkFailed(errorResponse("payment intent failed"), now)
		} else {
			cur.GatewayPaymentID = intent.ID
			cur.GatewayResponse = datatypes.JSON(errorlessJSON(map[string]string{"payment_intent_id": intent.ID}))
		}
		if err := r.Payments().Save(actx, cur); err != nil {
			return dbError(err)
		}
		return nil
	})
	if err != nil {
		return StripeIntentOutput{}, err
	}
	if timedOut {
		m.log.Warn().Err(ierr).Str("payment_id", p.PaymentID).Msg("stripe payment intent timeout")
		return StripeIntentOutput{}, GatewayTimeoutError(ierr)
	}
	if ierr != nil {
		m.log.Warn().Err(ierr).Str("payment_id", p.PaymentID).Msg("stripe payment intent failed")
		return StripeIntentOutput{}, GatewayError("payment could not be processed", ierr)
	}

	return StripeIntentOutput{
		PaymentID:       p.PaymentID,
		PaymentIntentID: intent.ID,
		ClientSecret:    intent.ClientSecret,
		Amount:          p.Amount,
		Currency:        p.Currency,
	}, nil
}

func (m *PaymentManager) VerifyCBEPayment(ctx context.Context, actor Actor, transactionID string) (VerifyOutput, error) {
	return m.verifyTransaction(ctx, actor, model.PaymentMethodCBE, transactionID)
}

func (m *PaymentManager) VerifyTeleBirrPayment(ctx context.Context, actor Actor, transactionID string) (VerifyOutput, error) {
	return m.verifyTransaction(ctx, actor, model.PaymentMethodTeleBirr, transactionID)
}

// 完了済みの取引は何も書かずに同じ結果を返す
func (m *PaymentManager) verifyTransaction(ctx context.Context, actor Actor, method model.PaymentMethod, transactionID string) (VerifyOutput, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return VerifyOutput{}, ValidationError("invalid request", map[string]string{"transaction_id": "required"})
	}
	g, err := m.gateways.Get(method)
	if err != nil {
		return VerifyOutput{}, GatewayError("payment gateway unavailable", err)
	}

	var (
		t gatewayTx
		p model.Payment
	)
	err = m.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		t, err = findGatewayTx(ctx, r, method, transactionID, false)
		if err != nil {
			return err
		}
		p, err = r.Payments().FindByID(ctx, t.paymentPK())
		if err != nil {
			return notFoundOrDB(err, "transaction not found")
		}
		if !actor.owns(p.UserID) {
			return NotFoundError("transaction not found")
		}
		return nil
	})
	if err != nil {
		return VerifyOutput{}, err
	}
	if t.status() == model.GatewayTxCompleted {
		return verifyOutput(t, p), nil
	}

	gctx, cancel := context.WithTimeout(ctx, m.timeout)
	res, gerr := g.VerifyPayment(gctx, transactionID)
	timedOut := gerr != nil && (errors.Is(gerr, context.DeadlineExceeded) || errors.Is(gctx.Err(), context.DeadlineExceeded))
	cancel()
	if gerr != nil {
		m.log.Warn().Err(gerr).
			Str("transaction_id", transactionID).
			Str("method", string(method)).
			Msg("gateway verify failed")
		if timedOut {
			return VerifyOutput{}, GatewayTimeoutError(gerr)
		}
		return VerifyOutput{}, GatewayError("payment verification failed", gerr)
	}
	if res.Status != gateway.OutcomeCompleted && res.Status != gateway.OutcomeFailed {
		return verifyOutput(t, p), nil
	}

	actx := context.WithoutCancel(ctx)
	now := m.clock.Now()
	var (
		event model.EventType
		order model.Order
	)
	err = m.tx.WithinTx(actx, func(r repo.TxRepos) error {
		event = ""
		var err error
		t, err = findGatewayTx(actx, r, method, transactionID, true)
		if err != nil {
			return err
		}
		p, err = r.Payments().FindByIDForUpdate(actx, t.paymentPK())
		if err != nil {
			return dbError(err)
		}
		// 同時に確定済み
		if t.status() == model.GatewayTxCompleted {
			return nil
		}

		if res.Status == gateway.OutcomeCompleted {
			t.update(model.GatewayTxCompleted, res.ResponseData, false)
			if err := saveGatewayTx(actx, r, t); err != nil {
				return err
			}
			if !p.IsSuccessful() {
				order, err = m.settle(actx, r, &p, transactionID, res.ResponseData, now)
				if err != nil {
					return err
				}
				event = model.EventPaymentCompleted
			}
			return nil
		}

		t.update(model.GatewayTxFailed, res.ResponseData, false)
		if err := saveGatewayTx(actx, r, t); err != nil {
			return err
		}
		if p.Status == model.PaymentStatusPending || p.Status == model.PaymentStatusProcessing {
			p.MarkFailed(res.ResponseData, now)
			if err := r.Payments().Save(actx, p); err != nil {
				return dbError(err)
			}
			event = model.EventPaymentFailed
		}
		return nil
	})
	if err != nil {
		return VerifyOutput{}, err
	}

	if event != "" {
		if order.ID == 0 {
			order.ID = p.OrderID
		}
		m.notifyPayment(ctx, event, toPaymentOutput(p), order, now)
	}
	return verifyOutput(t, p), nil
}

// 返金。残額チェックとRefund行の作成を先にコミットし、その後ゲートウェイを呼ぶ
func (m *PaymentManager) ProcessRefund(ctx context.Context, actorAdminUserID int64, in RefundInput) (RefundOutput, error) {
	if actorAdminUserID <= 0 {
		return RefundOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	fields := map[string]string{}
	if in.PaymentID <= 0 {
		fields["payment"] = "required"
	}
	if !in.Amount.IsPositive() {
		fields["amount"] = "must be greater than 0"
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		fields["reason"] = "required"
	}
	if len(fields) > 0 {
		return RefundOutput{}, ValidationError("invalid request", fields)
	}
	amount := in.Amount.Round(2)

	var (
		p      model.Payment
		refund model.Refund
	)
	now := m.clock.Now()
	err := m.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		p, err = r.Payments().FindByIDForUpdate(ctx, in.PaymentID)
		if err != nil {
			return notFoundOrDB(err, "payment not found")
		}
		if !p.CanBeRefunded() {
			return StateConflictError(fmt.Sprintf("payment cannot be refunded in status %s", p.Status))
		}

		// 処理中の返金も残額から引く
		refunded, err := r.Refunds().SumByPaymentID(ctx, p.ID, model.RefundStatusProcessed, model.RefundStatusPending)
		if err != nil {
			return dbError(err)
		}
		remaining := p.Amount.Sub(refunded)
		if amount.GreaterThan(remaining) {
			return ValidationError("refund amount exceeds refundable balance",
				map[string]string{"amount": "must not exceed " + remaining.StringFixed(2)})
		}

		actor := actorAdminUserID
		refund, err = r.Refunds().Create(ctx, model.Refund{
			RefundID:  m.ids.NewID(),
			PaymentID: p.ID,
			Amount:    amount,
			Reason:    reason,
			Status:    model.RefundStatusPending,
			CreatedBy: &actor,
		})
		if err != nil {
			return dbError(err)
		}

		if err := r.AuditLogs().Create(ctx, model.AuditLog{
			ActorUserID:  actorAdminUserID,
			Action:       model.AuditActionCreateRefund,
			ResourceType: model.AuditResourcePayment,
			ResourceID:   p.ID,
			BeforeJSON:   auditJSON(map[string]string{"status": string(p.Status), "refunded": refunded.StringFixed(2)}),
			AfterJSON:    auditJSON(map[string]string{"refund_id": refund.RefundID, "amount": amount.StringFixed(2)}),
			CreatedAt:    now,
		}); err != nil {
			return dbError(err)
		}
		return nil
	})
	if err != nil {
		return RefundOutput{}, err
	}

	var (
		res  gateway.RefundResult
		gerr error
	)
	g, err := m.gateways.Get(p.PaymentMethod)
	if err != nil {
		gerr = err
	} else {
		gctx, cancel := context.WithTimeout(ctx, m.timeout)
		res, gerr = g.ProcessRefund(gctx, gateway.RefundRequest{
			PaymentID:        p.PaymentID,
			GatewayPaymentID: p.GatewayPaymentID,
			GatewayResponse:  json.RawMessage(p.GatewayResponse),
			Amount:           amount,
			Currency:         p.Currency,
			Reason:           reason,
		})
		cancel()
	}
	succeeded := gerr == nil && res.Success

	actx := context.WithoutCancel(ctx)
	now = m.clock.Now()
	var order model.Order
	err = m.tx.WithinTx(actx, func(r repo.TxRepos) error {
		cur, err := r.Refunds().FindByID(actx, refund.ID)
		if err != nil {
			return dbError(err)
		}
		if !succeeded {
			cur.Status = model.RefundStatusFailed
			if gerr != nil {
				cur.GatewayResponse = datatypes.JSON(errorResponse("gateway error"))
			} else if len(res.ResponseData) > 0 {
				cur.GatewayResponse = datatypes.JSON(res.ResponseData)
			}
			refund = cur
			if err := r.Refunds().Save(actx, cur); err != nil {
				return dbError(err)
			}
			return nil
		}

		t := now
		cur.Status = model.RefundStatusProcessed
		cur.GatewayRefundID = res.GatewayRefundID
		cur.ProcessedAt = &t
		if len(res.ResponseData) > 0 {
			cur.GatewayResponse = datatypes.JSON(res.ResponseData)
		}
		if err := r.Refunds().Save(actx, cur); err != nil {
			return dbError(err)
		}
		refund = cur

		pay, err := r.Payments().FindByIDForUpdate(actx, p.ID)
		if err != nil {
			return dbError(err)
		}
		total, err := r.Refunds().SumByPaymentID(actx, pay.ID, model.RefundStatusProcessed)
		if err != nil {
			return dbError(err)
		}
		pay.ApplyRefunded(total)
		if err := r.Payments().Save(actx, pay); err != nil {
			return dbError(err)
		}
		p = pay

		// 全額返金なら注文も refunded
		if pay.Status == model.PaymentStatusRefunded {
			o, err := r.Orders().FindByIDForUpdate(actx, pay.OrderID)
			if err != nil {
				return dbError(err)
			}
			o.PaymentStatus = model.OrderPaymentRefunded
			if err := r.Orders().Save(actx, o); err != nil {
				return dbError(err)
			}
			order = o
		}
		return nil
	})
	if err != nil {
		m.log.Error().Err(err).Str("refund_id", refund.RefundID).Msg("failed to record refund result")
		return RefundOutput{}, err
	}

	if !succeeded {
		detail := res.Message
		if gerr != nil {
			detail = gerr.Error()
		}
		m.log.Warn().
			Str("refund_id", refund.RefundID).
			Str("payment_id", p.PaymentID).
			Str("method", string(p.PaymentMethod)).
			Str("detail", detail).
			Msg("refund failed")
		cause := gerr
		if cause == nil {
			cause = errors.New(res.Message)
		}
		return toRefundOutput(refund), GatewayError("refund could not be processed", cause)
	}

	m.log.Info().
		Str("refund_id", refund.RefundID).
		Str("payment_id", p.PaymentID).
		Str("amount", amount.StringFixed(2)).
		Msg("refund processed")
	m.notifier.Notify(ctx, model.DomainEvent{
		Type:        model.EventRefundProcessed,
		OrderID:     p.OrderID,
		OrderNumber: order.OrderNumber,
		UserID:      p.UserID,
		PaymentID:   p.PaymentID,
		Attrs:       map[string]string{"refund_id": refund.RefundID, "amount": amount.StringFixed(2), "payment_status": string(p.Status)},
		OccurredAt:  now,
	})
	return toRefundOutput(refund), nil
}

// webhookを検証して反映する。
// エラーを返すのは署名不正・形式不正（ゲートウェイのエラーそのまま）と保存失敗だけ
func (m *PaymentManager) HandleWebhook(ctx context.Context, method model.PaymentMethod, payload []byte, header http.Header) (WebhookOutcome, error) {
	g, err := m.gateways.Get(method)
	if err != nil {
		return "", err
	}
	res, err := g.HandleWebhook(ctx, payload, header)
	if err != nil {
		m.log.Warn().Err(err).Str("provider", string(method)).Msg("webhook rejected")
		return "", err
	}
	if res.Status == gateway.OutcomeIgnored {
		m.log.Debug().Str("provider", string(method)).Str("type", res.EventType).Msg("webhook ignored")
		return WebhookIgnored, nil
	}
	if res.EventID == "" {
		return "", gateway.ErrMalformedPayload
	}

	key := string(method) + ":" + res.EventID
	if m.replay != nil {
		seen, err := m.replay.Seen(ctx, key)
		if err != nil {
			m.log.Warn().Err(err).Str("key", key).Msg("replay guard unavailable")
		} else if seen {
			return WebhookDuplicate, nil
		}
	}

	now := m.clock.Now()
	raw := res.Raw
	if !json.Valid(raw) {
		raw = json.RawMessage(`{}`)
	}

	var (
		outcome WebhookOutcome
		event   model.EventType
		p       model.Payment
		order   model.Order
	)
	err = m.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		outcome, event = WebhookApplied, ""

		if err := r.ProviderEvents().Create(ctx, model.ProviderEvent{
			Provider:   method,
			EventID:    res.EventID,
			EventType:  res.EventType,
			Payload:    datatypes.JSON(raw),
			ReceivedAt: now,
		}); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				outcome = WebhookDuplicate
				return nil
			}
			return dbError(err)
		}

		var (
			t     *gatewayTx
			found bool
			err   error
		)
		p, t, found, err = matchWebhookPayment(ctx, r, method, res)
		if err != nil {
			return err
		}
		if !found {
			outcome = WebhookUnmatched
			return nil
		}

		switch res.Status {
		case gateway.OutcomeCompleted:
			if t != nil {
				t.update(model.GatewayTxCompleted, raw, true)
				if err := saveGatewayTx(ctx, r, *t); err != nil {
					return err
				}
			}
			if !p.IsSuccessful() {
				order, err = m.settle(ctx, r, &p, res.TransactionID, raw, now)
				if err != nil {
					return err
				}
				event = model.EventPaymentCompleted
			}

		case gateway.OutcomeFailed:
			if t != nil && t.status() != model.GatewayTxCompleted {
				t.update(model.GatewayTxFailed, raw, true)
				if err := saveGatewayTx(ctx, r, *t); err != nil {
					return err
				}
			}
			if p.Status == model.PaymentStatusPending || p.Status == model.PaymentStatusProcessing {
				p.MarkFailed(raw, now)
				if err := r.Payments().Save(ctx, p); err != nil {
					return dbError(err)
				}
				event = model.EventPaymentFailed
			}

		default:
			if t != nil {
				t.update(t.status(), nil, true)
				if err := saveGatewayTx(ctx, r, *t); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		m.log.Error().Err(err).
			Str("provider", string(method)).
			Str("event_id", res.EventID).
			Msg("webhook apply failed")
		return "", err
	}

	if m.replay != nil {
		if err := m.replay.Mark(ctx, key, webhookReplayTTL); err != nil {
			m.log.Warn().Err(err).Str("key", key).Msg("replay guard mark failed")
		}
	}

	m.log.Info().
		Str("provider", string(method)).
		Str("event_id", res.EventID).
		Str("type", res.EventType).
		Str("outcome", string(outcome)).
		Msg("webhook processed")

	if event != "" {
		if order.ID == 0 {
			order.ID = p.OrderID
		}
		m.notifyPayment(ctx, event, toPaymentOutput(p), order, now)
	}
	return outcome, nil
}

func (m *PaymentManager) ListMyPayments(ctx context.Context, userID int64, page int, limit int) (PaymentListOutput, error) {
	if userID <= 0 {
		return PaymentListOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	page, limit, err := normalizePage(page, limit)
	if err != nil {
		return PaymentListOutput{}, err
	}

	out := PaymentListOutput{Items: []PaymentOutput{}, Page: page, Limit: limit}
	err = m.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		ps, total, err := r.Payments().ListByUserID(ctx, userID, page, limit)
		if err != nil {
			return dbError(err)
		}
		out.Total = total
		for _, p := range ps {
			out.Items = append(out.Items, toPaymentOutput(p))
		}
		return nil
	})
	if err != nil {
		return PaymentListOutput{}, err
	}
	return out, nil
}

func (m *PaymentManager) GetPayment(ctx context.Context, actor Actor, paymentPK int64) (PaymentOutput, error) {
	var out PaymentOutput
	err := m.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		p, err := r.Payments().FindByID(ctx, paymentPK)
		if err != nil {
			return notFoundOrDB(err, "payment not found")
		}
		if !actor.owns(p.UserID) {
			return NotFoundError("payment not found")
		}
		out = toPaymentOutput(p)
		return nil
	})
	if err != nil {
		return PaymentOutput{}, err
	}
	return out, nil
}

func (m *PaymentManager) ListRefunds(ctx context.Context, paymentPK int64) ([]RefundOutput, error) {
	if paymentPK <= 0 {
		return nil, ValidationError("invalid request", map[string]string{"payment_id": "required"})
	}
	out := []RefundOutput{}
	err := m.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if _, err := r.Payments().FindByID(ctx, paymentPK); err != nil {
			return notFoundOrDB(err, "payment not found")
		}
		rs, err := r.Refunds().ListByPaymentID(ctx, paymentPK)
		if err != nil {
			return dbError(err)
		}
		for _, rf := range rs {
			out = append(out, toRefundOutput(rf))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// pending → processing。ここを通った呼び出しだけがゲートウェイに進める
func (m *PaymentManager) beginProcessing(ctx context.Context, actor Actor, paymentPK int64) (model.Payment, model.Order, gateway.Gateway, error) {
	var (
		p model.Payment
		o model.Order
		g gateway.Gateway
	)
	err := m.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		p, err = r.Payments().FindByIDForUpdate(ctx, paymentPK)
		if err != nil {
			return notFoundOrDB(err, "payment not found")
		}
		if !actor.owns(p.UserID) {
			return NotFoundError("payment not found")
		}
		if p.Status != model.PaymentStatusPending {
			return StateConflictError(fmt.Sprintf("payment is already %s", p.Status))
		}
		if p.PaymentMethod.IsOffline() {
			return StateConflictError("payment method is settled offline")
		}
		g, err = m.gateways.Get(p.PaymentMethod)
		if err != nil {
			return GatewayError("payment gateway unavailable", err)
		}
		o, err = r.Orders().FindByID(ctx, p.OrderID)
		if err != nil {
			return dbError(err)
		}

		p.Status = model.PaymentStatusProcessing
		if err := r.Payments().Save(ctx, p); err != nil {
			return dbError(err)
		}
		return nil
	})
	if err != nil {
		return model.Payment{}, model.Order{}, nil, err
	}
	return p, o, g, nil
}

// 支払いを completed にして、注文を paid にする
func (m *PaymentManager) settle(ctx context.Context, r repo.TxRepos, p *model.Payment, gatewayPaymentID string, response []byte, now time.Time) (model.Order, error) {
	p.MarkCompleted(gatewayPaymentID, response, now)
	if err := r.Payments().Save(ctx, *p); err != nil {
		return model.Order{}, dbError(err)
	}

	o, err := r.Orders().FindByIDForUpdate(ctx, p.OrderID)
	if err != nil {
		return model.Order{}, dbError(err)
	}
	if o.IsTerminal() {
		m.log.Warn().
			Str("payment_id", p.PaymentID).
			Str("order_number", o.OrderNumber).
			Str("order_status", string(o.Status)).
			Msg("payment completed for closed order")
		return o, nil
	}
	if !o.IsPaid() {
		o.MarkPaid(p.PaymentID, now)
		if err := r.Orders().Save(ctx, o); err != nil {
			return model.Order{}, dbError(err)
		}
	}
	return o, nil
}

func (m *PaymentManager) notifyPayment(ctx context.Context, t model.EventType, p PaymentOutput, o model.Order, now time.Time) {
	orderID := o.ID
	if orderID == 0 {
		orderID = p.OrderID
	}
	m.notifier.Notify(ctx, model.DomainEvent{
		Type:        t,
		OrderID:     orderID,
		OrderNumber: o.OrderNumber,
		UserID:      o.UserID,
		PaymentID:   p.PaymentID,
		Attrs:       map[string]string{"method": p.PaymentMethod, "status": p.Status, "amount": p.Amount.StringFixed(2)},
		OccurredAt:  now,
	})
}

func validatePaymentInput(in CreatePaymentInput) (model.PaymentMethod, PaymentArgs, error) {
	method := model.PaymentMethod(strings.ToLower(strings.TrimSpace(in.PaymentMethod)))
	args := PaymentArgs{
		StripeToken:   strings.TrimSpace(in.StripeToken),
		PayPalOrderID: strings.TrimSpace(in.PayPalOrderID),
	}

	fields := map[string]string{}
	switch method {
	case model.PaymentMethodStripe:
		if args.StripeToken == "" {
			fields["stripe_token"] = "required for stripe"
		}
	case model.PaymentMethodPayPal:
		if args.PayPalOrderID == "" {
			fields["paypal_order_id"] = "required for paypal"
		}
	case model.PaymentMethodCBE:
		args.Phone = strings.TrimSpace(in.CBEPhone)
		if args.Phone != "" && !strings.HasPrefix(args.Phone, "+251") {
			fields["cbe_phone"] = "must start with +251"
		}
	case model.PaymentMethodTeleBirr:
		args.Phone = strings.TrimSpace(in.TeleBirrPhone)
		if args.Phone != "" && !strings.HasPrefix(args.Phone, "+251") {
			fields["telebirr_phone"] = "must start with +251"
		}
	case model.PaymentMethodBankTransfer, model.PaymentMethodCashOnDelivery:
	default:
		fields["payment_method"] = "invalid choice"
	}
	if len(fields) > 0 {
		return "", PaymentArgs{}, ValidationError("invalid request", fields)
	}
	return method, args, nil
}

func errorResponse(msg string) []byte {
	return errorlessJSON(map[string]string{"error": msg})
}

func errorlessJSON(v map[string]string) []byte {
	b, _ := json.Marshal(v)
	return b
}

func safeRaw(b []byte) []byte {
	if len(b) == 0 || !json.Valid(b) {
		return []byte("null")
	}
	return b
}

func verifyOutput(t gatewayTx, p model.Payment) VerifyOutput {
	return VerifyOutput{
		TransactionID: t.transactionID(),
		Status:        string(t.status()),
		PaymentID:     p.PaymentID,
		PaymentStatus: string(p.Status),
	}
}

func toPaymentOutput(p model.Payment) PaymentOutput {
	return PaymentOutput{
		ID:               p.ID,
		PaymentID:        p.PaymentID,
		OrderID:          p.OrderID,
		PaymentMethod:    string(p.PaymentMethod),
		Status:           string(p.Status),
		Amount:           p.Amount,
		Currency:         p.Currency,
		GatewayPaymentID: p.GatewayPaymentID,
		CompletedAt:      p.CompletedAt,
		FailedAt:         p.FailedAt,
		CreatedAt:        p.CreatedAt,
	}
}

func toRefundOutput(r model.Refund) RefundOutput {
	return RefundOutput{
		ID:              r.ID,
		RefundID:        r.RefundID,
		PaymentID:       r.PaymentID,
		Amount:          r.Amount,
		Reason:          r.Reason,
		Status:          string(r.Status),
		GatewayRefundID: r.GatewayRefundID,
		CreatedAt:       r.CreatedAt,
		ProcessedAt:     r.ProcessedAt,
	}
}
