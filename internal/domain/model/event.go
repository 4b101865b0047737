package model

import "time"

type EventType string

const (
	EventOrderCreated       EventType = "order.created"
	EventOrderCancelled     EventType = "order.cancelled"
	EventOrderStatusChanged EventType = "order.status_changed"
	EventPaymentCompleted   EventType = "payment.completed"
	EventPaymentFailed      EventType = "payment.failed"
	EventRefundProcessed    EventType = "refund.processed"
)

// コミット後に外へ流す通知
type DomainEvent struct {
	Type        EventType         `json:"type"`
	OrderID     int64             `json:"order_id,omitempty"`
	OrderNumber string            `json:"order_number,omitempty"`
	UserID      int64             `json:"user_id,omitempty"`
	PaymentID   string            `json:"payment_id,omitempty"`
	Attrs       map[string]string `json:"attrs,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}
