package repository

import (
	"context"

	"hagerbet/internal/domain/model"
)

// 追記のみ。更新・削除は持たない
type OrderStatusHistoryRepository interface {
	Create(ctx context.Context, h model.OrderStatusHistory) error
	ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderStatusHistory, error)
}
