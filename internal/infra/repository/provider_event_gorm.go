package repository

import (
	"context"

	"hagerbet/internal/domain/model"
	repo "hagerbet/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProviderEventGormRepository struct {
	db *gorm.DB
}

func NewProviderEventGormRepository(db *gorm.DB) *ProviderEventGormRepository {
	return &ProviderEventGormRepository{db: db}
}

// 同じ(provider, event_id)は2回入らない。
// tx内で呼ばれるので一意制約違反は起こさず ON CONFLICT DO NOTHING で弾く
func (r *ProviderEventGormRepository) Create(ctx context.Context, ev model.ProviderEvent) error {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&ev)
	if res.Error != nil {
		if isDuplicateKey(res.Error) {
			return repo.ErrDuplicate
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrDuplicate
	}
	return nil
}
