package repository

import (
	"context"

	"hagerbet/internal/domain/model"
	repo "hagerbet/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PaymentGormRepository struct {
	db *gorm.DB
}

func NewPaymentGormRepository(db *gorm.DB) *PaymentGormRepository {
	return &PaymentGormRepository{db: db}
}

func (r *PaymentGormRepository) Create(ctx context.Context, p model.Payment) (model.Payment, error) {
	if err := r.db.WithContext(ctx).Create(&p).Error; err != nil {
		if isDuplicateKey(err) {
			return model.Payment{}, repo.ErrDuplicate
		}
		return model.Payment{}, err
	}
	return p, nil
}

func (r *PaymentGormRepository) FindByID(ctx context.Context, id int64) (model.Payment, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *PaymentGormRepository) FindByIDForUpdate(ctx context.Context, id int64) (model.Payment, error) {
	return r.first(r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id))
}

// 公開用のUUIDで取得
func (r *PaymentGormRepository) FindByPaymentID(ctx context.Context, paymentID string) (model.Payment, error) {
	return r.first(r.db.WithContext(ctx).Where("payment_id = ?", paymentID))
}

func (r *PaymentGormRepository) FindByGatewayPaymentID(ctx context.Context, method model.PaymentMethod, gatewayPaymentID string) (model.Payment, error) {
	return r.first(r.db.WithContext(ctx).
		Where("payment_method = ? AND gateway_payment_id = ?", method, gatewayPaymentID).
		Order("id desc"))
}

func (r *PaymentGormRepository) first(q *gorm.DB) (model.Payment, error) {
	var p model.Payment
	err := q.First(&p).Error
	if isNotFound(err) {
		return model.Payment{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Payment{}, err
	}
	return p, nil
}

func (r *PaymentGormRepository) ListByOrderID(ctx context.Context, orderID int64) ([]model.Payment, error) {
	var list []model.Payment
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id desc").
		Find(&list).Error; err != nil {
		return []model.Payment{}, err
	}
	return list, nil
}

func (r *PaymentGormRepository) ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Payment, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&model.Payment{}).
		Where("user_id = ?", userID).
		Count(&total).Error; err != nil {
		return []model.Payment{}, 0, err
	}

	var list []model.Payment
	offset := (page - 1) * limit
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id desc").
		Limit(limit).
		Offset(offset).
		Find(&list).Error; err != nil {
		return []model.Payment{}, 0, err
	}
	return list, total, nil
}

func (r *PaymentGormRepository) Save(ctx context.Context, p model.Payment) error {
	res := r.db.WithContext(ctx).Model(&model.Payment{}).
		Where("id = ?", p.ID).
		Updates(map[string]interface{}{
			"status":             p.Status,
			"gateway_payment_id": p.GatewayPaymentID,
			"gateway_response":   p.GatewayResponse,
			"completed_at":       p.CompletedAt,
			"failed_at":          p.FailedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

type RefundGormRepository struct {
	db *gorm.DB
}

func NewRefundGormRepository(db *gorm.DB) *RefundGormRepository {
	return &RefundGormRepository{db: db}
}

func (r *RefundGormRepository) Create(ctx context.Context, rf model.Refund) (model.Refund, error) {
	if err := r.db.WithContext(ctx).Create(&rf).Error; err != nil {
		return model.Refund{}, err
	}
	return rf, nil
}

func (r *RefundGormRepository) FindByID(ctx context.Context, id int64) (model.Refund, error) {
	var rf model.Refund
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&rf).Error
	if isNotFound(err) {
		return model.Refund{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Refund{}, err
	}
	return rf, nil
}

func (r *RefundGormRepository) Save(ctx context.Context, rf model.Refund) error {
	res := r.db.WithContext(ctx).Model(&model.Refund{}).
		Where("id = ?", rf.ID).
		Updates(map[string]interface{}{
			"status":            rf.Status,
			"gateway_refund_id": rf.GatewayRefundID,
			"gateway_response":  rf.GatewayResponse,
			"processed_at":      rf.ProcessedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r *RefundGormRepository) ListByPaymentID(ctx context.Context, paymentID int64) ([]model.Refund, error) {
	var list []model.Refund
	if err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("id asc").
		Find(&list).Error; err != nil {
		return []model.Refund{}, err
	}
	return list, nil
}

// statuses未指定なら全件
func (r *RefundGormRepository) SumByPaymentID(ctx context.Context, paymentID int64, statuses ...model.RefundStatus) (decimal.Decimal, error) {
	q := r.db.WithContext(ctx).Model(&model.Refund{}).Where("payment_id = ?", paymentID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}

	var sum decimal.Decimal
	if err := q.Select("COALESCE(SUM(amount), 0)").Scan(&sum).Error; err != nil {
		return decimal.Zero, err
	}
	return sum, nil
}
