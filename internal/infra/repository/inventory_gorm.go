package repository

import (
	"context"

	"hagerbet/internal/domain/model"
	repo "hagerbet/internal/repository"

	"gorm.io/gorm"
)

type InventoryGormRepository struct {
	db *gorm.DB
}

func NewInventoryGormRepository(db *gorm.DB) *InventoryGormRepository {
	return &InventoryGormRepository{db: db}
}

// 在庫が足りるときだけ減らす
func (r *InventoryGormRepository) DecreaseProductStockIfEnough(ctx context.Context, productID int64, qty int64) (bool, error) {
	return r.decreaseIfEnough(ctx, &model.Product{}, productID, qty)
}

func (r *InventoryGormRepository) DecreaseVariantStockIfEnough(ctx context.Context, variantID int64, qty int64) (bool, error) {
	return r.decreaseIfEnough(ctx, &model.ProductVariant{}, variantID, qty)
}

func (r *InventoryGormRepository) decreaseIfEnough(ctx context.Context, m interface{}, id int64, qty int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(m).
		Where("id = ? AND quantity >= ?", id, qty).
		Update("quantity", gorm.Expr("quantity - ?", qty))

	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	return true, nil
}

// 在庫の現在値を設定
func (r *InventoryGormRepository) SetProductStock(ctx context.Context, productID int64, newQty int64) error {
	return r.setStock(ctx, &model.Product{}, productID, newQty)
}

func (r *InventoryGormRepository) SetVariantStock(ctx context.Context, variantID int64, newQty int64) error {
	return r.setStock(ctx, &model.ProductVariant{}, variantID, newQty)
}

func (r *InventoryGormRepository) setStock(ctx context.Context, m interface{}, id int64, newQty int64) error {
	res := r.db.WithContext(ctx).
		Model(m).
		Where("id = ?", id).
		Update("quantity", newQty)

	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// 履歴作成
func (r *InventoryGormRepository) CreateHistory(ctx context.Context, h model.InventoryHistory) error {
	return r.db.WithContext(ctx).Create(&h).Error
}

func (r *InventoryGormRepository) ListHistoryByProductID(ctx context.Context, productID int64) ([]model.InventoryHistory, error) {
	var list []model.InventoryHistory
	if err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("id desc").
		Find(&list).Error; err != nil {
		return []model.InventoryHistory{}, err
	}
	return list, nil
}
