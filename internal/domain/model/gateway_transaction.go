package model

import (
	"time"

	"gorm.io/datatypes"
)

// CBE / TeleBirr側の取引ステータス。Payment.Statusとは別に持つ
type GatewayTxStatus string

const (
	GatewayTxInitiated GatewayTxStatus = "initiated"
	GatewayTxPending   GatewayTxStatus = "pending"
	GatewayTxCompleted GatewayTxStatus = "completed"
	GatewayTxFailed    GatewayTxStatus = "failed"
	GatewayTxExpired   GatewayTxStatus = "expired"
)

type CBETransaction struct {
	ID               int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	PaymentID        int64           `gorm:"not null;uniqueIndex;constraint:OnDelete:CASCADE" json:"payment_id"`
	TransactionID    string          `gorm:"type:varchar(100);not null;uniqueIndex" json:"transaction_id"`
	MerchantID       string          `gorm:"type:varchar(50);not null" json:"merchant_id"`
	TerminalID       string          `gorm:"type:varchar(50);not null" json:"terminal_id"`
	InvoiceNumber    string          `gorm:"type:varchar(50);not null" json:"invoice_number"`
	USSDCode         string          `gorm:"type:varchar(50)" json:"ussd_code"`
	PaymentURL       string          `gorm:"type:varchar(255)" json:"payment_url"`
	Status           GatewayTxStatus `gorm:"type:varchar(20);not null" json:"status"`
	CBEResponse      datatypes.JSON  `gorm:"type:json" json:"-"`
	CallbackReceived bool            `gorm:"not null;default:false" json:"callback_received"`
	CreatedAt        time.Time       `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

type TeleBirrTransaction struct {
	ID               int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	PaymentID        int64           `gorm:"not null;uniqueIndex;constraint:OnDelete:CASCADE" json:"payment_id"`
	TransactionID    string          `gorm:"type:varchar(100);not null;uniqueIndex" json:"transaction_id"`
	ShortCode        string          `gorm:"type:varchar(20);not null" json:"short_code"`
	AppKey           string          `gorm:"type:varchar(100)" json:"-"`
	USSDCode         string          `gorm:"type:varchar(50)" json:"ussd_code"`
	QRCodeURL        string          `gorm:"type:varchar(255)" json:"qr_code_url"`
	DeepLink         string          `gorm:"type:varchar(255)" json:"deep_link"`
	Status           GatewayTxStatus `gorm:"type:varchar(20);not null" json:"status"`
	TeleBirrResponse datatypes.JSON  `gorm:"type:json" json:"-"`
	CallbackReceived bool            `gorm:"not null;default:false" json:"callback_received"`
	CreatedAt        time.Time       `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
