package repository

import (
	"context"
	"time"

	"hagerbet/internal/domain/model"
)

// 対象リソースごとの監査ログの取り出し方
type AuditTrailQuery struct {
	ResourceType model.AuditResourceType
	ResourceIDs  []int64
	//空なら全アクション
	Actions []model.AuditAction
	Since   *time.Time
	Limit   int
}

type AuditLogRepository interface {
	Create(ctx context.Context, entry model.AuditLog) error
	// 古い順（created_at, id）
	ListTrail(ctx context.Context, q AuditTrailQuery) ([]model.AuditLog, error)
}
