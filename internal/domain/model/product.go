package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Product struct {
	ID          int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string          `gorm:"type:varchar(255);not null" json:"name"`
	Description string          `gorm:"type:text" json:"description"`
	Price       decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"price"`

	//falseなら在庫を数えない（デジタル商品など）
	TrackQuantity bool  `gorm:"not null;default:true" json:"track_quantity"`
	Quantity      int64 `gorm:"not null;default:0" json:"quantity"`

	IsActive  bool           `gorm:"not null;default:false" json:"is_active"`
	CreatedAt time.Time      `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// 指定数量を今売れるか
func (p Product) IsAvailable(qty int64) bool {
	if !p.IsActive || qty <= 0 {
		return false
	}
	if !p.TrackQuantity {
		return true
	}
	return p.Quantity >= qty
}

// サイズ・色などのバリエーション。在庫はバリエーション単位で持つ
type ProductVariant struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID     int64           `gorm:"not null;index" json:"product_id"`
	Name          string          `gorm:"type:varchar(255);not null" json:"name"`
	SKU           string          `gorm:"type:varchar(100);uniqueIndex" json:"sku"`
	Price         decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"price"`
	TrackQuantity bool            `gorm:"not null;default:true" json:"track_quantity"`
	Quantity      int64           `gorm:"not null;default:0" json:"quantity"`
	IsActive      bool            `gorm:"not null;default:true" json:"is_active"`
	CreatedAt     time.Time       `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (v ProductVariant) IsAvailable(qty int64) bool {
	if !v.IsActive || qty <= 0 {
		return false
	}
	if !v.TrackQuantity {
		return true
	}
	return v.Quantity >= qty
}
