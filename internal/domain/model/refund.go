package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusProcessed RefundStatus = "processed"
	RefundStatusFailed    RefundStatus = "failed"
)

type Refund struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	RefundID        string          `gorm:"type:varchar(36);not null;uniqueIndex" json:"refund_id"`
	PaymentID       int64           `gorm:"not null;index;constraint:OnDelete:CASCADE" json:"payment_id"`
	Amount          decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"amount"`
	Reason          string          `gorm:"type:text;not null" json:"reason"`
	Status          RefundStatus    `gorm:"type:varchar(20);not null" json:"status"`
	GatewayRefundID string          `gorm:"type:varchar(100)" json:"gateway_refund_id"`
	GatewayResponse datatypes.JSON  `gorm:"type:json" json:"-"`
	CreatedBy       *int64          `json:"created_by,omitempty"`
	CreatedAt       time.Time       `gorm:"not null;autoCreateTime" json:"created_at"`
	ProcessedAt     *time.Time      `json:"processed_at"`
}
