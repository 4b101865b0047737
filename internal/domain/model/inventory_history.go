package model

import "time"

type InventoryAction string

const (
	InventoryActionStockIn    InventoryAction = "stock_in"
	InventoryActionStockOut   InventoryAction = "stock_out"
	InventoryActionAdjustment InventoryAction = "adjustment"
	InventoryActionSold       InventoryAction = "sold"
	InventoryActionReturned   InventoryAction = "returned"
)

// 在庫変動の履歴
type InventoryHistory struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID      int64           `gorm:"not null;index" json:"product_id"`
	VariantID      *int64          `gorm:"index" json:"variant_id,omitempty"`
	Action         InventoryAction `gorm:"type:varchar(20);not null" json:"action"`
	QuantityChange int64           `gorm:"not null" json:"quantity_change"`
	NewQuantity    int64           `gorm:"not null" json:"new_quantity"`
	Note           string          `gorm:"type:text" json:"note"`
	CreatedBy      *int64          `gorm:"index" json:"created_by,omitempty"`
	CreatedAt      time.Time       `gorm:"not null;autoCreateTime" json:"created_at"`
}

func (InventoryHistory) TableName() string { return "inventory_history" }
