package model

import "time"

// ステータス変更の追記専用ログ。1遷移1行
type OrderStatusHistory struct {
	ID        int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID   int64       `gorm:"not null;index" json:"order_id"`
	OldStatus OrderStatus `gorm:"type:varchar(20);not null" json:"old_status"`
	NewStatus OrderStatus `gorm:"type:varchar(20);not null" json:"new_status"`
	Note      string      `gorm:"type:text" json:"note"`
	CreatedBy *int64      `json:"created_by,omitempty"`
	CreatedAt time.Time   `gorm:"not null;autoCreateTime" json:"created_at"`
}

func (OrderStatusHistory) TableName() string { return "order_status_history" }
