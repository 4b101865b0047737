package repository

import (
	"context"
	"time"

	"hagerbet/internal/domain/model"

	"github.com/shopspring/decimal"
)

type AdminOrderListFilter struct {
	Page          int
	Limit         int
	Status        string
	PaymentStatus string
	UserID        *int64
	From          *time.Time
	To            *time.Time
}

// 管理画面の集計。売上は支払い済みの注文の合計
type OrderStats struct {
	TotalOrders  int64
	TotalRevenue decimal.Decimal
	RecentOrders int64
	StatusCounts map[model.OrderStatus]int64
}

type OrderRepository interface {
	FindByID(ctx context.Context, orderID int64) (model.Order, error)
	FindByIDForUpdate(ctx context.Context, orderID int64) (model.Order, error)
	FindByOrderNumber(ctx context.Context, orderNumber string) (model.Order, error)
	ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Order, int64, error)
	Create(ctx context.Context, order model.Order) (model.Order, error)

	// ステータス・支払い状態・タイムスタンプ・金額をまとめて保存
	Save(ctx context.Context, order model.Order) error

	//検索（同じキーなら同じ結果を返す）
	FindByIdempotencyKey(ctx context.Context, userID int64, key string) (model.Order, bool, error)
	//管理者用の注文一覧
	ListAdmin(ctx context.Context, f AdminOrderListFilter) ([]model.Order, int64, error)
	//since以降をRecentOrdersに数える
	Stats(ctx context.Context, since time.Time) (OrderStats, error)
}
