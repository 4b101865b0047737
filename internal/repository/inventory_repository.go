package repository

import (
	"context"

	"hagerbet/internal/domain/model"
)

type InventoryRepository interface {
	// 在庫が足りるときだけ減算
	DecreaseProductStockIfEnough(ctx context.Context, productID int64, qty int64) (bool, error)
	DecreaseVariantStockIfEnough(ctx context.Context, variantID int64, qty int64) (bool, error)

	// 在庫の現在値を設定
	SetProductStock(ctx context.Context, productID int64, newQty int64) error
	SetVariantStock(ctx context.Context, variantID int64, newQty int64) error

	// 履歴作成
	CreateHistory(ctx context.Context, h model.InventoryHistory) error
	ListHistoryByProductID(ctx context.Context, productID int64) ([]model.InventoryHistory, error)
}
