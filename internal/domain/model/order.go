package model

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

type OrderPaymentStatus string

const (
	OrderPaymentPending   OrderPaymentStatus = "pending"
	OrderPaymentPaid      OrderPaymentStatus = "paid"
	OrderPaymentFailed    OrderPaymentStatus = "failed"
	OrderPaymentRefunded  OrderPaymentStatus = "refunded"
	OrderPaymentCancelled OrderPaymentStatus = "cancelled"
)

// 状態遷移のエラー（usecaseがStateConflictに変換する）
var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrOrderNotPaid      = errors.New("order is not paid")
	ErrNotCancellable    = errors.New("order cannot be cancelled")
	ErrUnknownStatus     = errors.New("unknown order status")
)

// 通常フローの順番
var forwardRank = map[OrderStatus]int{
	OrderStatusPending:    0,
	OrderStatusConfirmed:  1,
	OrderStatusProcessing: 2,
	OrderStatusShipped:    3,
	OrderStatusDelivered:  4,
}

func ParseOrderStatus(s string) (OrderStatus, error) {
	st := OrderStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return st, nil
	}
	return "", ErrUnknownStatus
}

// 1回のチェックアウトにつき1件
type Order struct {
	ID            int64              `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNumber   string             `gorm:"type:varchar(20);not null;uniqueIndex" json:"order_number"`
	UserID        int64              `gorm:"not null;index:ix_orders_user_created,priority:1;uniqueIndex:ux_orders_user_idempotency,priority:1" json:"user_id"`
	Status        OrderStatus        `gorm:"type:varchar(20);not null;index:ix_orders_status_payment,priority:1" json:"status"`
	PaymentStatus OrderPaymentStatus `gorm:"type:varchar(20);not null;index:ix_orders_status_payment,priority:2" json:"payment_status"`
	PaymentMethod PaymentMethod      `gorm:"type:varchar(20);not null" json:"payment_method"`

	//作成時点の住所（json型で保存してバイト単位で戻す）
	ShippingAddress datatypes.JSONType[AddressSnapshot] `gorm:"type:json;not null" json:"shipping_address"`
	BillingAddress  datatypes.JSONType[AddressSnapshot] `gorm:"type:json;not null" json:"billing_address"`

	Subtotal       decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"subtotal"`
	TaxAmount      decimal.Decimal `gorm:"type:numeric(10,2);not null;default:0" json:"tax_amount"`
	ShippingCost   decimal.Decimal `gorm:"type:numeric(10,2);not null;default:0" json:"shipping_cost"`
	DiscountAmount decimal.Decimal `gorm:"type:numeric(10,2);not null;default:0" json:"discount_amount"`
	GrandTotal     decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"grand_total"`

	//支払いを確定させたPaymentのUUID
	PaymentRef     string  `gorm:"type:varchar(100)" json:"payment_ref"`
	TrackingNumber string  `gorm:"type:varchar(100)" json:"tracking_number"`
	IdempotencyKey *string `gorm:"type:varchar(255);uniqueIndex:ux_orders_user_idempotency,priority:2" json:"-"`

	PaidAt      *time.Time `json:"paid_at"`
	ShippedAt   *time.Time `json:"shipped_at"`
	DeliveredAt *time.Time `json:"delivered_at"`
	CreatedAt   time.Time  `gorm:"not null;autoCreateTime;index:ix_orders_user_created,priority:2" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// ORD-YYYYMMDD-XXXXXXXX
func GenerateOrderNumber(now time.Time) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "ORD-" + now.Format("20060102") + "-" + strings.ToUpper(hex[:8])
}

func (o Order) CanBeCancelled() bool {
	return o.Status == OrderStatusPending || o.Status == OrderStatusConfirmed
}

func (o Order) IsPaid() bool {
	return o.PaymentStatus == OrderPaymentPaid
}

func (o Order) IsCompleted() bool {
	return o.Status == OrderStatusDelivered
}

func (o Order) IsTerminal() bool {
	return o.Status == OrderStatusCancelled || o.Status == OrderStatusRefunded
}

// 明細から小計を出し直し、grand_total = subtotal + tax + shipping - discount
func (o *Order) CalculateTotals(items []OrderItem) {
	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.LineTotal())
	}
	o.Subtotal = subtotal
	o.GrandTotal = o.Subtotal.Add(o.TaxAmount).Add(o.ShippingCost).Sub(o.DiscountAmount)
}

// 顧客キャンセル（pending / confirmedのみ）
func (o *Order) Cancel() error {
	if !o.CanBeCancelled() {
		return ErrNotCancellable
	}
	o.Status = OrderStatusCancelled
	o.PaymentStatus = OrderPaymentCancelled
	return nil
}

// 管理者のステータス変更。変更があればtrueを返す
func (o *Order) TransitionTo(to OrderStatus, now time.Time) (bool, error) {
	if _, err := ParseOrderStatus(string(to)); err != nil {
		return false, err
	}
	if o.Status == to {
		return false, nil
	}
	//終端
	if o.IsTerminal() {
		return false, ErrInvalidTransition
	}

	switch to {
	case OrderStatusCancelled:
		if err := o.Cancel(); err != nil {
			return false, err
		}
		return true, nil

	case OrderStatusRefunded:
		if o.PaymentStatus != OrderPaymentPaid && o.PaymentStatus != OrderPaymentRefunded {
			return false, ErrOrderNotPaid
		}
		o.Status = OrderStatusRefunded
		o.PaymentStatus = OrderPaymentRefunded
		return true, nil
	}

	//前にしか進めない
	if forwardRank[to] <= forwardRank[o.Status] {
		return false, ErrInvalidTransition
	}

	//未払いの注文は確定できない
	if to == OrderStatusConfirmed && !o.IsPaid() {
		return false, ErrOrderNotPaid
	}

	o.Status = to

	//発送・配達時刻は最初の1回だけ
	if forwardRank[to] >= forwardRank[OrderStatusShipped] && o.ShippedAt == nil {
		t := now
		o.ShippedAt = &t
	}
	if to == OrderStatusDelivered {
		if o.DeliveredAt == nil {
			t := now
			o.DeliveredAt = &t
		}
		//代引きは配達で支払い済みになる
		if !o.IsPaid() {
			o.PaymentStatus = OrderPaymentPaid
			if o.PaidAt == nil {
				t := now
				o.PaidAt = &t
			}
		}
	}
	return true, nil
}

// 完了した支払いを注文に反映
func (o *Order) MarkPaid(paymentRef string, now time.Time) {
	o.PaymentStatus = OrderPaymentPaid
	o.PaymentRef = paymentRef
	if o.PaidAt == nil {
		t := now
		o.PaidAt = &t
	}
}
