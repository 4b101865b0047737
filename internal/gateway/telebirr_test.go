package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"testing"

	"hagerbet/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test: key順に並べて app secret を末尾に付ける
func TestSignTeleBirr(t *testing.T) {
	params := map[string]string{"b": "2", "a": "1", "sign": "ignored"}

	sum := sha256.Sum256([]byte("a=1&b=2" + "secret"))
	assert.Equal(t, hex.EncodeToString(sum[:]), SignTeleBirr(params, "secret"))
}

// Test: シミュレーションではQR・USSD・deep linkが返る
func TestTeleBirr_InitiateSimulated(t *testing.T) {
	g := NewTeleBirrGateway(config.TeleBirrConfig{ShortCode: "500100", AppKey: "ak"}, true)
	g.now = fixedNow

	res, err := g.InitiatePayment(context.Background(), cbeRequest())
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.True(t, res.Pending)
	assert.Equal(t, "TBR1700000000000042", res.GatewayPaymentID)
	require.NotNil(t, res.Transaction)
	assert.Equal(t, "https://telebirr.qr.example.com/TBR1700000000000042", res.Transaction.QRCodeURL)
	assert.Equal(t, "*806*TBR1700000000000042#", res.Transaction.USSDCode)
	assert.Equal(t, "telebirr://payment/TBR1700000000000042", res.Transaction.DeepLink)
	assert.Equal(t, "500100", res.Transaction.ShortCode)
}

func TestTeleBirr_VerifySimulated(t *testing.T) {
	g := NewTeleBirrGateway(config.TeleBirrConfig{}, true)

	res, err := g.VerifyPayment(context.Background(), "TBR1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, OutcomeCompleted, res.Status)
}

func TestTeleBirr_RefundNotImplemented(t *testing.T) {
	g := NewTeleBirrGateway(config.TeleBirrConfig{}, true)

	res, err := g.ProcessRefund(context.Background(), RefundRequest{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "Refund not yet implemented for TeleBirr", res.Message)
}

func signedTeleBirrBody(t *testing.T, params map[string]string, secret string) []byte {
	t.Helper()
	withSign := map[string]string{}
	for k, v := range params {
		withSign[k] = v
	}
	withSign["sign"] = SignTeleBirr(params, secret)
	b, err := json.Marshal(withSign)
	require.NoError(t, err)
	return b
}

// Test: sign の検証
func TestTeleBirr_Webhook(t *testing.T) {
	g := NewTeleBirrGateway(config.TeleBirrConfig{AppSecret: "app-secret"}, false)
	params := map[string]string{"outTradeNo": "TBR1", "tradeStatus": "SUCCESS", "totalAmount": "100.00"}

	t.Run("正しい署名", func(t *testing.T) {
		body := signedTeleBirrBody(t, params, "app-secret")

		res, err := g.HandleWebhook(context.Background(), body, http.Header{})
		require.NoError(t, err)
		assert.Equal(t, "TBR1", res.TransactionID)
		assert.Equal(t, OutcomeCompleted, res.Status)
		assert.Equal(t, "TBR1:SUCCESS", res.EventID)
	})

	t.Run("改ざん", func(t *testing.T) {
		body := signedTeleBirrBody(t, params, "app-secret")
		var m map[string]string
		require.NoError(t, json.Unmarshal(body, &m))
		m["totalAmount"] = "1.00"
		tampered, _ := json.Marshal(m)

		_, err := g.HandleWebhook(context.Background(), tampered, http.Header{})
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("outTradeNoなし", func(t *testing.T) {
		body := signedTeleBirrBody(t, map[string]string{"tradeStatus": "SUCCESS"}, "app-secret")

		_, err := g.HandleWebhook(context.Background(), body, http.Header{})
		assert.ErrorIs(t, err, ErrMalformedPayload)
	})

	t.Run("JSONでない", func(t *testing.T) {
		_, err := g.HandleWebhook(context.Background(), []byte("nope"), http.Header{})
		assert.ErrorIs(t, err, ErrMalformedPayload)
	})
}
