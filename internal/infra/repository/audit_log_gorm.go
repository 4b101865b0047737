package repository

import (
	"context"

	"hagerbet/internal/domain/model"
	repo "hagerbet/internal/repository"

	"gorm.io/gorm"
)

const maxAuditTrail = 500

type AuditLogGormRepository struct {
	db *gorm.DB
}

func NewAuditLogGormRepository(db *gorm.DB) *AuditLogGormRepository {
	return &AuditLogGormRepository{db: db}
}

func (r *AuditLogGormRepository) Create(ctx context.Context, entry model.AuditLog) error {
	return r.db.WithContext(ctx).Create(&entry).Error
}

func (r *AuditLogGormRepository) ListTrail(ctx context.Context, q repo.AuditTrailQuery) ([]model.AuditLog, error) {
	if len(q.ResourceIDs) == 0 {
		return []model.AuditLog{}, nil
	}

	tx := r.db.WithContext(ctx).
		Where("resource_type = ?", q.ResourceType).
		Where("resource_id IN ?", q.ResourceIDs)
	if len(q.Actions) > 0 {
		tx = tx.Where("action IN ?", q.Actions)
	}
	if q.Since != nil {
		tx = tx.Where("created_at >= ?", *q.Since)
	}

	limit := q.Limit
	if limit <= 0 || limit > maxAuditTrail {
		limit = maxAuditTrail
	}

	var logs []model.AuditLog
	if err := tx.Order("created_at ASC, id ASC").Limit(limit).Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
