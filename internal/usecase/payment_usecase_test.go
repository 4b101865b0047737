package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"hagerbet/internal/config"
	"hagerbet/internal/domain/model"
	"hagerbet/internal/gateway"
	"hagerbet/internal/infra/cache"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockGateway struct {
	mock.Mock
	method model.PaymentMethod
}

func (g *mockGateway) Name() model.PaymentMethod { return g.method }

func (g *mockGateway) InitiatePayment(ctx context.Context, req gateway.PaymentRequest) (gateway.InitiateResult, error) {
	args := g.Called(ctx, req)
	res, _ := args.Get(0).(gateway.InitiateResult)
	return res, args.Error(1)
}

func (g *mockGateway) VerifyPayment(ctx context.Context, transactionID string) (gateway.VerifyResult, error) {
	args := g.Called(ctx, transactionID)
	res, _ := args.Get(0).(gateway.VerifyResult)
	return res, args.Error(1)
}

func (g *mockGateway) ProcessRefund(ctx context.Context, req gateway.RefundRequest) (gateway.RefundResult, error) {
	args := g.Called(ctx, req)
	res, _ := args.Get(0).(gateway.RefundResult)
	return res, args.Error(1)
}

func (g *mockGateway) HandleWebhook(ctx context.Context, payload []byte, header http.Header) (gateway.WebhookResult, error) {
	args := g.Called(ctx, payload, header)
	res, _ := args.Get(0).(gateway.WebhookResult)
	return res, args.Error(1)
}

type paymentFixture struct {
	st     *memStore
	m      *PaymentManager
	stripe *mockGateway
	cbe    *gateway.CBEGateway
	n      *recordingNotifier
}

const cbeWebhookSecret = "cbe-webhook-secret"

func newPaymentFixture(t *testing.T, timeout time.Duration) *paymentFixture {
	t.Helper()
	st := newMemStore()
	stripe := &mockGateway{method: model.PaymentMethodStripe}
	cbe := gateway.NewCBEGateway(config.CBEConfig{
		MerchantID:    "M001",
		TerminalID:    "T001",
		SecretKey:     "cbe-secret",
		WebhookSecret: cbeWebhookSecret,
	}, false)
	n := &recordingNotifier{}

	m := NewPaymentManager(PaymentManagerDeps{
		Tx:       st,
		Gateways: gateway.NewRegistry(stripe, cbe),
		Replay:   cache.NewMemoryReplayGuard(),
		Notifier: n,
		Clock:    fixedClock{t: testNow},
		IDs:      &seqIDs{},
		Log:      zerolog.Nop(),
		Timeout:  timeout,
	})
	return &paymentFixture{st: st, m: m, stripe: stripe, cbe: cbe, n: n}
}

func stripeOK(id string) gateway.InitiateResult {
	return gateway.InitiateResult{
		Success:          true,
		GatewayPaymentID: id,
		ResponseData:     json.RawMessage(`{"id":"` + id + `","status":"succeeded"}`),
	}
}

// Test: 支払い金額は注文のgrand_totalで、最初はpending
func TestCreatePayment_AmountIsGrandTotal(t *testing.T) {
	f := newPaymentFixture(t, time.Second)
	o := f.st.addOrder(1, "250.50", model.OrderStatusPending, model.OrderPaymentPending)

	p, err := f.m.CreatePayment(context.Background(), 1, o.ID, model.PaymentMethodBankTransfer)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPending, p.Status)
	assert.True(t, dec("250.50").Equal(p.Amount))
	assert.Equal(t, "ETB", p.Currency)
	assert.NotEmpty(t, p.PaymentID)
}

// Test: 進行中の支払いがあれば2件目は作れない。失敗後は再試行できる
func TestCreatePayment_DoublePayAndRetry(t *testing.T) {
	f := newPaymentFixture(t, time.Second)
	o := f.st.addOrder(1, "100.00", model.OrderStatusPending, model.OrderPaymentPending)

	first, err := f.m.CreatePayment(context.Background(), 1, o.ID, model.PaymentMethodStripe)
	require.NoError(t, err)

	_, err = f.m.CreatePayment(context.Background(), 1, o.ID, model.PaymentMethodStripe)
	assert.True(t, IsKind(err, KindStateConflict))

	failed := f.st.payment(first.ID)
	failed.Status = model.PaymentStatusFailed
	f.st.st.payments[first.ID] = failed

	_, err = f.m.CreatePayment(context.Background(), 1, o.ID, model.PaymentMethodStripe)
	assert.NoError(t, err)
}

// Test: 支払い済み・キャンセル済み・他人の注文
func TestCreatePayment_Rejected(t *testing.T) {
	f := newPaymentFixture(t, time.Second)
	paid := f.st.addOrder(1, "100.00", model.OrderStatusConfirmed, model.OrderPaymentPaid)
	cancelled := f.st.addOrder(1, "100.00", model.OrderStatusCancelled, model.OrderPaymentCancelled)
	others := f.st.addOrder(2, "100.00", model.OrderStatusPending, model.OrderPaymentPending)

	_, err := f.m.CreatePayment(context.Background(), 1, paid.ID, model.PaymentMethodStripe)
	assert.True(t, IsKind(err, KindStateConflict))
	_, err = f.m.CreatePayment(context.Background(), 1, cancelled.ID, model.PaymentMethodStripe)
	assert.True(t, IsKind(err, KindStateConflict))
	_, err = f.m.CreatePayment(context.Background(), 1, others.ID, model.PaymentMethodStripe)
	assert.True(t, IsKind(err, KindNotFound))
}

// Test: Stripeで成功すると支払いcompleted、注文paid
func TestStartPayment_StripeSuccess(t *testing.T) {
	f := newPaymentFixture(t, time.Second)
	o := f.st.addOrder(1, "100.00", model.OrderStatusPending, model.OrderPaymentPending)
	f.stripe.On("InitiatePayment", mock.Anything, mock.MatchedBy(func(req gateway.PaymentRequest) bool {
		return req.Token == "tok_visa" && req.Amount.Equal(dec("100.00")) && req.OrderNumber == o.OrderNumber
	})).Return(stripeOK("ch_123"), nil).Once()

	out, err := f.m.StartPayment(context.Background(), 1, o.ID, CreatePaymentInput{PaymentMethod: "stripe", StripeToken: "tok_visa"})
	require.NoError(t, err)
	assert.Equal(t, "completed", out.Status)
	assert.Equal(t, "ch_123", out.GatewayPaymentID)
	require.NotNil(t, out.CompletedAt)

	got := f.st.order(o.ID)
	assert.Equal(t, model.OrderPaymentPaid, got.PaymentStatus)
	assert.Equal(t, out.PaymentID, got.PaymentRef)
	require.NotNil(t, got.PaidAt)
	assert.Equal(t, 1, f.n.count(model.EventPaymentCompleted))
	f.stripe.AssertExpectations(t)
}

// Test: 拒否されたら支払いfailed、注文はそのまま
func TestStartPayment_StripeDeclined(t *testing.T) {
	f := newPaymentFixture(t, time.Second)
	o := f.st.addOrder(1, "100.00", model.OrderStatusPending, model.OrderPaymentPending)
	f.stripe.On("InitiatePayment", mock.Anything, mock.Anything).Return(gateway.InitiateResult{
		Success:      false,
		Message:      "card_declined",
		ResponseData: json.RawMessage(`{"code":"card_declined"}`),
	}, nil).Once()

	out, err := f.m.StartPayment(context.Background(), 1, o.ID, CreatePaymentInput{PaymentMethod: "stripe", StripeToken: "tok_chargeDeclined"})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindGateway))
	assert.Equal(t, "failed", out.Status)

	got := f.st.order(o.ID)
	assert.Equal(t, model.OrderPaymentPending, got.PaymentStatus)
	assert.Equal(t, model.OrderStatusPending, got.Status)
	assert.Equal(t, 1, f.n.count(model.EventPaymentFailed))
}

// Test: ゲートウェイが時間切れなら504で支払いはfailed
func TestStartPayment_Timeout(t *testing.T) {
	f := newPaymentFixture(t, 20*time.Millisecond)
	o := f.st.addOrder(1, "100.00", model.OrderStatusPending, model.OrderPaymentPending)
	f.stripe.On("InitiatePayment", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(gateway.InitiateResult{}, context.DeadlineExceeded).Once()

	out, err := f.m.StartPayment(context.Background(), 1, o.ID, CreatePaymentInput{PaymentMethod: "stripe", StripeToken: "tok_visa"})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindGatewayTimeout))
	assert.Equal(t, "failed", out.Status)
	assert.Equal(t, model.PaymentStatusFailed, f.st.payment(out.ID).Status)
	assert.Equal(t, model.OrderPaymentPending, f.st.order(o.ID).PaymentStatus)
}

// Test: ゲートウェイのエラー
func TestStartPayment_GatewayError(t *testing.T) {
	f := newPaymentFixture(t, time.Second)
	o := f.st.addOrder(1, "100.00", model.OrderStatusPending, model.OrderPaymentPending)
	f.stripe.On("InitiatePayment", mock.Anything, mock.Anything).
		Return(gateway.InitiateResult{}, errors.New("connection reset")).Once()

	out, err := f.m.StartPayment(context.Background(), 1, o.ID, CreatePaymentInput{PaymentMethod: "stripe", StripeToken: "tok_visa"})
	he, ok := AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, KindGateway, he.Kind)
	assert.Equal(t, "payment could not be processed", he.Message)
	assert.Equal(t, "failed", out.Status)
}

// Test: 入力不足はゲートウェイを呼ばない
func TestStartPayment_Validation(t *testing.T) {
	f := newPaymentFixture(t, time.Second)
	o := f.st.addOrder(1, "100.00", model.OrderStatusPending, model.OrderPaymentPending)

	_, err := f.m.StartPayment(context.Background(), 1, o.ID, CreatePaymentInput{PaymentMethod: "stripe"})
	he, ok := AsHTTPError(err)
	require.True(t, ok)
	assert.Contains(t, he.Fields, "stripe_token")

	_, err = f.m.StartPayment(context.Background(), 1, o.ID, CreatePaymentInput{PaymentMethod: "cbe", CBEPhone: "0911000000"})
	he, ok = AsHTTPError(err)
	require.True(t, ok)
	assert.Contains(t, he.Fields, "cbe_phone")

	assert.Empty(t, f.st.st.payments)
	f.stripe.AssertNotCalled(t, "InitiatePayment", mock.Anything, mock.Anything)
}

// Test: 銀行振込はpendingのまま
func TestStartPayment_OfflineStaysPending(t *testing.T) {
	f := newPaymentFixture(t, time.Second)
	o := f.st.addOrder(1, "100.00", model.OrderStatusPending, model.OrderPaymentPending)

	out, err := f.m.StartPayment(context.Background(), 1, o.ID, CreatePaymentInput{PaymentMethod: "bank_transfer"})
	require.NoError(t, err)
	assert.Equal(t, "pending", out.Status)
	assert.Equal(t, model.OrderPaymentPending, f.st.order(o.ID).PaymentStatus)

	_, err = f.m.ProcessPayment(context.Background(), Actor{UserID: 1}, out.ID, PaymentArgs{})
	assert.True(t, IsKind(err, KindStateConflict))
}

// Test: CBEは取引を作ってprocessingのまま。verifyで完了し、2回目は何もしない
func TestCBE_InitiateAndVerify(t *testing.T) {
	f := newPaymentFixture(t, time.Second)
	o := f.st.addOrder(1, "100.00", model.OrderStatusPending, model.OrderPaymentPending)

	out, err := f.m.InitiateMobilePayment(context.Background(), 1, o.ID, model.PaymentMethodCBE, "+251911000000")
	require.NoError(t, err)
	assert.Equal(t, "processing", out.Status)
	require.NotNil(t, out.Transaction)
	txID := out.Transaction.TransactionID
	assert.Regexp(t, `^CBE\d+\d{6}$`, txID)
	assert.Equal(t, "*127*1*"+txID+"#", out.Transaction.USSDCode)
	assert.Equal(t, model.GatewayTxPending, f.st.st.cbe[txID].Status)

	v, err := f.m.VerifyCBEPayment(context.Background(), Actor{UserID: 1}, txID)
	require.NoError(t, err)
	assert.Equal(t, "completed", v.Status)
	assert.Equal(t, "completed", v.PaymentStatus)
	assert.Equal(t, model.OrderPaymentPaid, f.st.order(o.ID).PaymentStatus)

	again, err := f.m.VerifyCBEPayment(context.Background(), Actor{UserID: 1}, txID)
	require.NoError(t, err)
	assert.Equal(t, v, again)
	assert.Equal(t, 1, f.n.count(model.EventPaymentCompleted))

	_, err = f.m.VerifyCBEPayment(context.Background(), Actor{UserID: 2}, txID)
	assert.True(t, IsKind(err, KindNotFound))
}

func signedCBECallback(t *testing.T, txID, status string) ([]byte, http.Header) {
	t.Helper()
	body, err := json.Marshal(map[string]string{"transactionId": txID, "status": status})
	require.NoError(t, err)
	h := http.Header{}
	h.Set(gateway.CBESignatureHeader, gateway.SignCBECallback(body, cbeWebhookSecret))
	return body, h
}

// Test: 署名付きのCBE callbackで支払い完了。再送は重複として無視
func TestHandleWebhook_CBECompleted(t *testing.T) {
	f := newPaymentFixture(t, time.Second)
	o := f.st.addOrder(1, "100.00", model.OrderStatusPending, model.OrderPaymentPending)
	out, err := f.m.InitiateMobilePayment(context.Background(), 1, o.ID, model.PaymentMethodCBE, "")
	require.NoError(t, err)
	txID := out.Transaction.TransactionID

	body, h := signedCBECallback(t, txID, "SUCCESS")
	outcome, err := f.m.HandleWebhook(context.Background(), model.PaymentMethodCBE, body, h)
	require.NoError(t, err)
	assert.Equal(t, WebhookApplied, outcome)

	tx := f.st.st.cbe[txID]
	assert.Equal(t, model.GatewayTxCompleted, tx.Status)
	assert.True(t, tx.CallbackReceived)
	assert.Equal(t, model.PaymentStatusCompleted, f.st.payment(out.ID).Status)
	assert.Equal(t, model.OrderPaymentPaid, f.st.order(o.ID).PaymentStatus)

	outcome, err = f.m.HandleWebhook(context.Background(), model.PaymentMethodCBE, body, h)
	require.NoError(t, err)
	assert.Equal(t, WebhookDuplicate, outcome)
	assert.Equal(t, 1, f.n.count(model.EventPaymentCompleted))
	assert.Len(t, f.st.st.events, 1)
}

// Test: replay guardが無くてもprovider_eventsで重複を弾く
func TestHandleWebhook_DuplicateWithoutReplayGuard(t *testing.T) {
	f := newPaymentFixture(t, time.Second)
	f.m.replay = nil
	o := f.st.addOrder(1, "100.00", model.OrderStatusPending, model.OrderPaymentPending)
	out, err := f.m.InitiateMobilePayment(context.Background(), 1, o.ID, model.PaymentMethodCBE, "")
	require.NoError(t, err)

	body, h := signedCBECallback(t, out.Transaction.TransactionID, "FAILED")
	outcome, err := f.m.HandleWebhook(context.Background(), model.PaymentMethodCBE, body, h)
	require.NoError(t, err)
	assert.Equal(t, WebhookApplied, outcome)
	assert.Equal(t, model.PaymentStatusFailed, f.st.payment(out.ID).Status)

	outcome, err = f.m.HandleWebhook(context.Background(), model.PaymentMethodCBE, body, h)
	require.NoError(t, err)
	assert.Equal(t, WebhookDuplicate, outcome)
	assert.Equal(t, 1, f.n.count(model.EventPaymentFailed))
}

// Test: 該当する取引が無い
func TestHandleWebhook_Unmatched(t *testing.T) {
	f := newPaymentFixture(t, time.Second)
	body, h := signedCBECallback(t, "CBE-UNKNOWN", "SUCCESS")

	outcome, err := f.m.HandleWebhook(context.Background(), model.PaymentMethodCBE, body, h)
	require.NoError(t, err)
	assert.Equal(t, WebhookUnmatched, outcome)
}

// Test: 署名不正はエラーで、何も書かない
func TestHandleWebhook_BadSignature(t *testing.T) {
	f := newPaymentFixture(t, time.Second)
	body, h := signedCBECallback(t, "CBE1", "SUCCESS")
	h.Set(gateway.CBESignatureHeader, "deadbeef")

	_, err := f.m.HandleWebhook(context.Background(), model.PaymentMethodCBE, body, h)
	assert.ErrorIs(t, err, gateway.ErrInvalidSignature)
	assert.Empty(t, f.st.st.events)
}

// Test: Stripeのwebhookはpayment_idで支払いを探す
func TestHandleWebhook_StripeByPaymentRef(t *testing.T) {
	f := newPaymentFixture(t, time.Second)
	o := f.st.addOrder(1, "100.00", model.OrderStatusPending, model.OrderPaymentPending)
	p, err := f.m.CreatePayment(context.Background(), 1, o.ID, model.PaymentMethodStripe)
	require.NoError(t, err)

	f.stripe.On("HandleWebhook", mock.Anything, mock.Anything, mock.Anything).Return(gateway.WebhookResult{
		EventID:       "evt_1",
		EventType:     "payment_intent.succeeded",
		TransactionID: "pi_1",
		PaymentRef:    p.PaymentID,
		Status:        gateway.OutcomeCompleted,
		Raw:           json.RawMessage(`{"id":"evt_1"}`),
	}, nil).Once()

	outcome, err := f.m.HandleWebhook(context.Background(), model.PaymentMethodStripe, []byte(`{}`), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, WebhookApplied, outcome)

	got := f.st.payment(p.ID)
	assert.Equal(t, model.PaymentStatusCompleted, got.Status)
	assert.Equal(t, "pi_1", got.GatewayPaymentID)
	assert.Equal(t, model.OrderPaymentPaid, f.st.order(o.ID).PaymentStatus)
}

// Test: キャンセル済み注文への入金は注文をpaidにしない
func TestHandleWebhook_CompletedForCancelledOrder(t *testing.T) {
	f := newPaymentFixture(t, time.Second)
	o := f.st.addOrder(1, "100.00", model.OrderStatusPending, model.OrderPaymentPending)
	p, err := f.m.CreatePayment(context.Background(), 1, o.ID, model.PaymentMethodStripe)
	require.NoError(t, err)

	cancelled := f.st.order(o.ID)
	require.NoError(t, cancelled.Cancel())
	f.st.st.orders[o.ID] = cancelled

	f.stripe.On("HandleWebhook", mock.Anything, mock.Anything, mock.Anything).Return(gateway.WebhookResult{
		EventID:    "evt_2",
		EventType:  "payment_intent.succeeded",
		PaymentRef: p.PaymentID,
		Status:     gateway.OutcomeCompleted,
		Raw:        json.RawMessage(`{}`),
	}, nil).Once()

	_, err = f.m.HandleWebhook(context.Background(), model.PaymentMethodStripe, []byte(`{}`), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCompleted, f.st.payment(p.ID).Status)
	assert.Equal(t, model.OrderPaymentCancelled, f.st.order(o.ID).PaymentStatus)
}

// 完了済みのStripe支払いを用意する
func (f *paymentFixture) completedStripePayment(t *testing.T, total string) (model.Order, PaymentOutput) {
	t.Helper()
	o := f.st.addOrder(1, total, model.OrderStatusPending, model.OrderPaymentPending)
	f.stripe.On("InitiatePayment", mock.Anything, mock.Anything).Return(stripeOK("ch_"+o.OrderNumber), nil).Once()
	out, err := f.m.StartPayment(context.Background(), 1, o.ID, CreatePaymentInput{PaymentMethod: "stripe", StripeToken: "tok_visa"})
	require.NoError(t, err)
	require.Equal(t, "completed", out.Status)
	return o, out
}

// Test: 残額を超える返金は弾く
func TestProcessRefund_ExceedsBalance(t *testing.T) {
	f := newPaymentFixture(t, time.Second)
	_, p := f.completedStripePayment(t, "100.00")

	_, err := f.m.ProcessRefund(context.Background(), adminID, RefundInput{PaymentID: p.ID, Amount: dec("150.00"), Reason: "damaged"})
	he, ok := AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, KindValidation, he.Kind)
	assert.Contains(t, he.Fields, "amount")
	assert.Empty(t, f.st.st.refunds)
	f.stripe.AssertNotCalled(t, "ProcessRefund", mock.Anything, mock.Anything)
}

// Test: 一部返金→残り全額返金で支払いrefunded、注文のpayment_statusもrefunded
func TestProcessRefund_PartialThenFull(t *testing.T) {
	f := newPaymentFixture(t, time.Second)
	o, p := f.completedStripePayment(t, "100.00")
	f.stripe.On("ProcessRefund", mock.Anything, mock.MatchedBy(func(req gateway.RefundRequest) bool {
		return req.Amount.Equal(dec("40.00"))
	})).Return(gateway.RefundResult{Success: true, GatewayRefundID: "re_1"}, nil).Once()
	f.stripe.On("ProcessRefund", mock.Anything, mock.MatchedBy(func(req gateway.RefundRequest) bool {
		return req.Amount.Equal(dec("60.00"))
	})).Return(gateway.RefundResult{Success: true, GatewayRefundID: "re_2"}, nil).Once()

	first, err := f.m.ProcessRefund(context.Background(), adminID, RefundInput{PaymentID: p.ID, Amount: dec("40.00"), Reason: "partial"})
	require.NoError(t, err)
	assert.Equal(t, "processed", first.Status)
	assert.Equal(t, "re_1", first.GatewayRefundID)
	assert.Equal(t, model.PaymentStatusPartiallyRefunded, f.st.payment(p.ID).Status)
	assert.Equal(t, model.OrderPaymentPaid, f.st.order(o.ID).PaymentStatus)

	_, err = f.m.ProcessRefund(context.Background(), adminID, RefundInput{PaymentID: p.ID, Amount: dec("60.01"), Reason: "rest"})
	assert.True(t, IsKind(err, KindValidation))

	_, err = f.m.ProcessRefund(context.Background(), adminID, RefundInput{PaymentID: p.ID, Amount: dec("60.00"), Reason: "rest"})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusRefunded, f.st.payment(p.ID).Status)
	assert.Equal(t, model.OrderPaymentRefunded, f.st.order(o.ID).PaymentStatus)
	assert.Equal(t, 2, f.n.count(model.EventRefundProcessed))

	refunds, err := f.m.ListRefunds(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Len(t, refunds, 2)

	audits := 0
	for _, a := range f.st.st.audits {
		if a.Action == model.AuditActionCreateRefund {
			audits++
		}
	}
	assert.Equal(t, 2, audits)
}

// Test: ゲートウェイが返金を拒否したらfailedで残し、残額は戻る
func TestProcessRefund_GatewayFailure(t *testing.T) {
	f := newPaymentFixture(t, time.Second)
	_, p := f.completedStripePayment(t, "100.00")
	f.stripe.On("ProcessRefund", mock.Anything, mock.Anything).
		Return(gateway.RefundResult{Success: false, Message: "charge_already_refunded"}, nil).Once()

	out, err := f.m.ProcessRefund(context.Background(), adminID, RefundInput{PaymentID: p.ID, Amount: dec("100.00"), Reason: "damaged"})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindGateway))
	assert.Equal(t, "failed", out.Status)
	assert.Equal(t, model.PaymentStatusCompleted, f.st.payment(p.ID).Status)

	f.stripe.On("ProcessRefund", mock.Anything, mock.Anything).
		Return(gateway.RefundResult{Success: true, GatewayRefundID: "re_9"}, nil).Once()
	_, err = f.m.ProcessRefund(context.Background(), adminID, RefundInput{PaymentID: p.ID, Amount: dec("100.00"), Reason: "damaged"})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusRefunded, f.st.payment(p.ID).Status)
}

// Test: 未完了の支払いは返金できない
func TestProcessRefund_NotRefundable(t *testing.T) {
	f := newPaymentFixture(t, time.Second)
	o := f.st.addOrder(1, "100.00", model.OrderStatusPending, model.OrderPaymentPending)
	p, err := f.m.CreatePayment(context.Background(), 1, o.ID, model.PaymentMethodBankTransfer)
	require.NoError(t, err)

	_, err = f.m.ProcessRefund(context.Background(), adminID, RefundInput{PaymentID: p.ID, Amount: dec("10.00"), Reason: "x"})
	assert.True(t, IsKind(err, KindStateConflict))

	_, err = f.m.ProcessRefund(context.Background(), adminID, RefundInput{PaymentID: p.ID, Amount: dec("0"), Reason: ""})
	he, ok := AsHTTPError(err)
	require.True(t, ok)
	assert.Contains(t, he.Fields, "amount")
	assert.Contains(t, he.Fields, "reason")
}

// Test: 他人の支払いは見えない（管理者は見える）
func TestGetPayment_Ownership(t *testing.T) {
	f := newPaymentFixture(t, time.Second)
	o := f.st.addOrder(1, "100.00", model.OrderStatusPending, model.OrderPaymentPending)
	p, err := f.m.CreatePayment(context.Background(), 1, o.ID, model.PaymentMethodCashOnDelivery)
	require.NoError(t, err)

	_, err = f.m.GetPayment(context.Background(), Actor{UserID: 2}, p.ID)
	assert.True(t, IsKind(err, KindNotFound))

	got, err := f.m.GetPayment(context.Background(), Actor{UserID: adminID, Admin: true}, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.PaymentID, got.PaymentID)

	list, err := f.m.ListMyPayments(context.Background(), 1, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(1), list.Total)
}
