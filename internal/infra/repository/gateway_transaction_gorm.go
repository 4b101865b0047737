package repository

import (
	"context"

	"hagerbet/internal/domain/model"
	repo "hagerbet/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GatewayTransactionGormRepository struct {
	db *gorm.DB
}

func NewGatewayTransactionGormRepository(db *gorm.DB) *GatewayTransactionGormRepository {
	return &GatewayTransactionGormRepository{db: db}
}

func (r *GatewayTransactionGormRepository) CreateCBE(ctx context.Context, tx model.CBETransaction) (model.CBETransaction, error) {
	if err := r.db.WithContext(ctx).Create(&tx).Error; err != nil {
		if isDuplicateKey(err) {
			return model.CBETransaction{}, repo.ErrDuplicate
		}
		return model.CBETransaction{}, err
	}
	return tx, nil
}

func (r *GatewayTransactionGormRepository) FindCBEByTransactionID(ctx context.Context, transactionID string) (model.CBETransaction, error) {
	var t model.CBETransaction
	err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&t).Error
	if isNotFound(err) {
		return model.CBETransaction{}, repo.ErrNotFound
	}
	if err != nil {
		return model.CBETransaction{}, err
	}
	return t, nil
}

// verifyとcallbackが同時に来ても片方だけが反映する
func (r *GatewayTransactionGormRepository) FindCBEByTransactionIDForUpdate(ctx context.Context, transactionID string) (model.CBETransaction, error) {
	var t model.CBETransaction
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("transaction_id = ?", transactionID).
		First(&t).Error
	if isNotFound(err) {
		return model.CBETransaction{}, repo.ErrNotFound
	}
	if err != nil {
		return model.CBETransaction{}, err
	}
	return t, nil
}

func (r *GatewayTransactionGormRepository) SaveCBE(ctx context.Context, tx model.CBETransaction) error {
	res := r.db.WithContext(ctx).Model(&model.CBETransaction{}).
		Where("id = ?", tx.ID).
		Updates(map[string]interface{}{
			"status":            tx.Status,
			"cbe_response":      tx.CBEResponse,
			"callback_received": tx.CallbackReceived,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r *GatewayTransactionGormRepository) CreateTeleBirr(ctx context.Context, tx model.TeleBirrTransaction) (model.TeleBirrTransaction, error) {
	if err := r.db.WithContext(ctx).Create(&tx).Error; err != nil {
		if isDuplicateKey(err) {
			return model.TeleBirrTransaction{}, repo.ErrDuplicate
		}
		return model.TeleBirrTransaction{}, err
	}
	return tx, nil
}

func (r *GatewayTransactionGormRepository) FindTeleBirrByTransactionID(ctx context.Context, transactionID string) (model.TeleBirrTransaction, error) {
	var t model.TeleBirrTransaction
	err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&t).Error
	if isNotFound(err) {
		return model.TeleBirrTransaction{}, repo.ErrNotFound
	}
	if err != nil {
		return model.TeleBirrTransaction{}, err
	}
	return t, nil
}

func (r *GatewayTransactionGormRepository) FindTeleBirrByTransactionIDForUpdate(ctx context.Context, transactionID string) (model.TeleBirrTransaction, error) {
	var t model.TeleBirrTransaction
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("transaction_id = ?", transactionID).
		First(&t).Error
	if isNotFound(err) {
		return model.TeleBirrTransaction{}, repo.ErrNotFound
	}
	if err != nil {
		return model.TeleBirrTransaction{}, err
	}
	return t, nil
}

func (r *GatewayTransactionGormRepository) SaveTeleBirr(ctx context.Context, tx model.TeleBirrTransaction) error {
	res := r.db.WithContext(ctx).Model(&model.TeleBirrTransaction{}).
		Where("id = ?", tx.ID).
		Updates(map[string]interface{}{
			"status":             tx.Status,
			"tele_birr_response": tx.TeleBirrResponse,
			"callback_received":  tx.CallbackReceived,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}
