package repository

import (
	"context"

	"hagerbet/internal/domain/model"
)

// 商品とバリエーションの取得。在庫を触る前はForUpdateで行ロックを取る
type ProductRepository interface {
	FindByID(ctx context.Context, id int64) (model.Product, error)
	FindByIDForUpdate(ctx context.Context, id int64) (model.Product, error)
	FindVariantByID(ctx context.Context, id int64) (model.ProductVariant, error)
	FindVariantByIDForUpdate(ctx context.Context, id int64) (model.ProductVariant, error)
}
