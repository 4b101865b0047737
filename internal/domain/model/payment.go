package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type PaymentMethod string

const (
	PaymentMethodStripe         PaymentMethod = "stripe"
	PaymentMethodPayPal         PaymentMethod = "paypal"
	PaymentMethodCBE            PaymentMethod = "cbe"
	PaymentMethodTeleBirr       PaymentMethod = "telebirr"
	PaymentMethodBankTransfer   PaymentMethod = "bank_transfer"
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodStripe, PaymentMethodPayPal, PaymentMethodCBE, PaymentMethodTeleBirr,
		PaymentMethodBankTransfer, PaymentMethodCashOnDelivery:
		return true
	}
	return false
}

// 外部ゲートウェイを通さず、後で精算する支払い方法
func (m PaymentMethod) IsOffline() bool {
	return m == PaymentMethodBankTransfer || m == PaymentMethodCashOnDelivery
}

type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusProcessing        PaymentStatus = "processing"
	PaymentStatusCompleted         PaymentStatus = "completed"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusCancelled         PaymentStatus = "cancelled"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
)

// 注文ごとの支払い試行。注文は複数のPaymentを持てる
type Payment struct {
	ID            int64         `gorm:"primaryKey;autoIncrement" json:"id"`
	PaymentID     string        `gorm:"type:varchar(36);not null;uniqueIndex" json:"payment_id"`
	OrderID       int64         `gorm:"not null;index" json:"order_id"`
	UserID        int64         `gorm:"not null;index" json:"user_id"`
	PaymentMethod PaymentMethod `gorm:"type:varchar(20);not null" json:"payment_method"`
	Status        PaymentStatus `gorm:"type:varchar(20);not null;index" json:"status"`

	Amount   decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"amount"`
	Currency string          `gorm:"type:varchar(3);not null;default:'ETB'" json:"currency"`

	//ゲートウェイ側の参照ID
	GatewayPaymentID string `gorm:"type:varchar(100);index" json:"gateway_payment_id"`
	//ゲートウェイの生レスポンス
	GatewayResponse datatypes.JSON `gorm:"type:json" json:"-"`

	CompletedAt *time.Time `json:"completed_at"`
	FailedAt    *time.Time `json:"failed_at"`
	CreatedAt   time.Time  `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (p Payment) IsSuccessful() bool {
	switch p.Status {
	case PaymentStatusCompleted, PaymentStatusRefunded, PaymentStatusPartiallyRefunded:
		return true
	}
	return false
}

func (p Payment) CanBeRefunded() bool {
	return p.Status == PaymentStatusCompleted || p.Status == PaymentStatusPartiallyRefunded
}

// 進行中（同じ注文で新しい支払いを始められない）
func (p Payment) IsLive() bool {
	return p.Status == PaymentStatusPending || p.Status == PaymentStatusProcessing || p.IsSuccessful()
}

func (p *Payment) MarkCompleted(gatewayPaymentID string, response []byte, now time.Time) {
	p.Status = PaymentStatusCompleted
	t := now
	p.CompletedAt = &t
	if gatewayPaymentID != "" {
		p.GatewayPaymentID = gatewayPaymentID
	}
	if len(response) > 0 {
		p.GatewayResponse = datatypes.JSON(response)
	}
}

func (p *Payment) MarkFailed(response []byte, now time.Time) {
	p.Status = PaymentStatusFailed
	t := now
	p.FailedAt = &t
	if len(response) > 0 {
		p.GatewayResponse = datatypes.JSON(response)
	}
}

// 返金済み合計からステータスを決める
func (p *Payment) ApplyRefunded(totalRefunded decimal.Decimal) {
	if totalRefunded.GreaterThanOrEqual(p.Amount) {
		p.Status = PaymentStatusRefunded
		return
	}
	if totalRefunded.IsPositive() {
		p.Status = PaymentStatusPartiallyRefunded
	}
}
