package repository

import (
	"context"
	"time"

	"hagerbet/internal/domain/model"
	repo "hagerbet/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OrderGormRepository struct {
	db *gorm.DB
}

func NewOrderGormRepository(db *gorm.DB) *OrderGormRepository {
	return &OrderGormRepository{db: db}
}

func (r *OrderGormRepository) FindByID(ctx context.Context, orderID int64) (model.Order, error) {
	var o model.Order
	err := r.db.WithContext(ctx).Where("id = ?", orderID).First(&o).Error
	if isNotFound(err) {
		return model.Order{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Order{}, err
	}
	return o, nil
}

// 行ロック付きで取得（ステータス更新・支払い反映の前に使う）
func (r *OrderGormRepository) FindByIDForUpdate(ctx context.Context, orderID int64) (model.Order, error) {
	var o model.Order
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", orderID).
		First(&o).Error
	if isNotFound(err) {
		return model.Order{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Order{}, err
	}
	return o, nil
}

func (r *OrderGormRepository) FindByOrderNumber(ctx context.Context, orderNumber string) (model.Order, error) {
	var o model.Order
	err := r.db.WithContext(ctx).Where("order_number = ?", orderNumber).First(&o).Error
	if isNotFound(err) {
		return model.Order{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Order{}, err
	}
	return o, nil
}

func (r *OrderGormRepository) ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Order, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("user_id = ?", userID).
		Count(&total).Error; err != nil {
		return []model.Order{}, 0, err
	}

	var items []model.Order
	offset := (page - 1) * limit
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id desc").
		Limit(limit).
		Offset(offset).
		Find(&items).Error
	if err != nil {
		return []model.Order{}, 0, err
	}

	return items, total, nil
}

func (r *OrderGormRepository) Create(ctx context.Context, order model.Order) (model.Order, error) {
	if err := r.db.WithContext(ctx).Create(&order).Error; err != nil {
		if isDuplicateKey(err) {
			return model.Order{}, repo.ErrDuplicate
		}
		return model.Order{}, err
	}
	return order, nil
}

// 可変な列だけ更新する（明細・住所スナップショットは作成後に変えない）
func (r *OrderGormRepository) Save(ctx context.Context, o model.Order) error {
	res := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ?", o.ID).
		Updates(map[string]interface{}{
			"status":          o.Status,
			"payment_status":  o.PaymentStatus,
			"payment_ref":     o.PaymentRef,
			"tracking_number": o.TrackingNumber,
			"subtotal":        o.Subtotal,
			"tax_amount":      o.TaxAmount,
			"shipping_cost":   o.ShippingCost,
			"discount_amount": o.DiscountAmount,
			"grand_total":     o.GrandTotal,
			"paid_at":         o.PaidAt,
			"shipped_at":      o.ShippedAt,
			"delivered_at":    o.DeliveredAt,
		})

	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r *OrderGormRepository) FindByIdempotencyKey(ctx context.Context, userID int64, key string) (model.Order, bool, error) {
	var o model.Order
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		First(&o).Error

	if isNotFound(err) {
		return model.Order{}, false, nil
	}
	if err != nil {
		return model.Order{}, false, err
	}
	return o, true, nil
}

func (r *OrderGormRepository) ListAdmin(ctx context.Context, f repo.AdminOrderListFilter) ([]model.Order, int64, error) {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}

	q := r.db.WithContext(ctx).Model(&model.Order{})

	//status 絞り込み
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.PaymentStatus != "" {
		q = q.Where("payment_status = ?", f.PaymentStatus)
	}

	//user_id 絞り込み
	if f.UserID != nil {
		q = q.Where("user_id = ?", *f.UserID)
	}

	//期間絞り込み
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at <= ?", *f.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return []model.Order{}, 0, err
	}

	var items []model.Order
	offset := (f.Page - 1) * f.Limit
	if err := q.Order("id desc").Limit(f.Limit).Offset(offset).Find(&items).Error; err != nil {
		return []model.Order{}, 0, err
	}

	return items, total, nil
}

func (r *OrderGormRepository) Stats(ctx context.Context, since time.Time) (repo.OrderStats, error) {
	out := repo.OrderStats{TotalRevenue: decimal.Zero, StatusCounts: map[model.OrderStatus]int64{}}
	q := r.db.WithContext(ctx).Model(&model.Order{})

	if err := q.Session(&gorm.Session{}).Count(&out.TotalOrders).Error; err != nil {
		return repo.OrderStats{}, err
	}

	var agg struct {
		Revenue decimal.Decimal
	}
	if err := q.Session(&gorm.Session{}).
		Where("payment_status = ?", model.OrderPaymentPaid).
		Select("COALESCE(SUM(grand_total), 0) AS revenue").
		Scan(&agg).Error; err != nil {
		return repo.OrderStats{}, err
	}
	out.TotalRevenue = agg.Revenue

	if err := q.Session(&gorm.Session{}).
		Where("created_at >= ?", since).
		Count(&out.RecentOrders).Error; err != nil {
		return repo.OrderStats{}, err
	}

	//ステータス別の件数
	var rows []struct {
		Status model.OrderStatus
		Count  int64
	}
	if err := q.Session(&gorm.Session{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return repo.OrderStats{}, err
	}
	for _, row := range rows {
		out.StatusCounts[row.Status] = row.Count
	}
	return out, nil
}
