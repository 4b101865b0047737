package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// カートの明細
// 追加時点の価格を必ず保存。
type CartItem struct {
	ID        int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	CartID    int64           `gorm:"not null;index" json:"cart_id"`
	ProductID int64           `gorm:"not null;index" json:"product_id"`
	VariantID *int64          `gorm:"index" json:"variant_id,omitempty"`
	Quantity  int64           `gorm:"not null" json:"quantity"`
	Price     decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"price"`
	CreatedAt time.Time       `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (i CartItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(i.Quantity))
}
