package usecase

import (
	"context"
	"time"

	"hagerbet/internal/domain/model"
)

type Clock interface {
	Now() time.Time
}

// Payment / Refund のUUID
type IDGenerator interface {
	NewID() string
}

// コミット後に呼ぶ。失敗しても業務処理には影響させない
type EventNotifier interface {
	Notify(ctx context.Context, ev model.DomainEvent)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, model.DomainEvent) {}
