package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 購入時点の商品・数量・価格。作成後に商品の価格を読み直さない
type OrderItem struct {
	ID          int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID     int64           `gorm:"not null;index;constraint:OnDelete:CASCADE" json:"order_id"`
	ProductID   int64           `gorm:"not null;index" json:"product_id"`
	VariantID   *int64          `gorm:"index" json:"variant_id,omitempty"`
	ProductName string          `gorm:"type:varchar(255);not null" json:"product_name"`
	VariantName string          `gorm:"type:varchar(255)" json:"variant_name,omitempty"`
	Quantity    int64           `gorm:"not null" json:"quantity"`
	Price       decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"price"`
	CreatedAt   time.Time       `gorm:"not null;autoCreateTime" json:"created_at"`
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(i.Quantity))
}
