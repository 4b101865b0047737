package repository

import (
	"context"

	repo "hagerbet/internal/repository"

	"gorm.io/gorm"
)

type txReposGorm struct {
	db *gorm.DB
}

func (r *txReposGorm) Orders() repo.OrderRepository { return NewOrderGormRepository(r.db) }
func (r *txReposGorm) OrderItems() repo.OrderItemRepository {
	return NewOrderItemGormRepository(r.db)
}
func (r *txReposGorm) StatusHistory() repo.OrderStatusHistoryRepository {
	return NewOrderStatusHistoryGormRepository(r.db)
}
func (r *txReposGorm) Carts() repo.CartRepository          { return NewCartGormRepository(r.db) }
func (r *txReposGorm) CartItems() repo.CartItemRepository  { return NewCartGormRepository(r.db) }
func (r *txReposGorm) Inventory() repo.InventoryRepository { return NewInventoryGormRepository(r.db) }
func (r *txReposGorm) Products() repo.ProductRepository    { return NewProductGormRepository(r.db) }
func (r *txReposGorm) Addresses() repo.AddressRepository   { return NewAddressGormRepository(r.db) }
func (r *txReposGorm) Payments() repo.PaymentRepository    { return NewPaymentGormRepository(r.db) }
func (r *txReposGorm) Refunds() repo.RefundRepository      { return NewRefundGormRepository(r.db) }
func (r *txReposGorm) AuditLogs() repo.AuditLogRepository  { return NewAuditLogGormRepository(r.db) }
func (r *txReposGorm) ProviderEvents() repo.ProviderEventRepository {
	return NewProviderEventGormRepository(r.db)
}
func (r *txReposGorm) GatewayTransactions() repo.GatewayTransactionRepository {
	return NewGatewayTransactionGormRepository(r.db)
}

type TxManagerGorm struct {
	db *gorm.DB
}

func NewTxManagerGorm(db *gorm.DB) *TxManagerGorm {
	return &TxManagerGorm{db: db}
}

func (tm *TxManagerGorm) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	return tm.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		//repoはtxを持ったDBで作り直す
		return fn(&txReposGorm{db: tx})
	})
}

var (
	_ repo.OrderRepository              = (*OrderGormRepository)(nil)
	_ repo.OrderItemRepository          = (*OrderItemGormRepository)(nil)
	_ repo.OrderStatusHistoryRepository = (*OrderStatusHistoryGormRepository)(nil)
	_ repo.CartRepository               = (*CartGormRepository)(nil)
	_ repo.CartItemRepository           = (*CartGormRepository)(nil)
	_ repo.InventoryRepository          = (*InventoryGormRepository)(nil)
	_ repo.ProductRepository            = (*ProductGormRepository)(nil)
	_ repo.PaymentRepository            = (*PaymentGormRepository)(nil)
	_ repo.RefundRepository             = (*RefundGormRepository)(nil)
	_ repo.GatewayTransactionRepository = (*GatewayTransactionGormRepository)(nil)
	_ repo.ProviderEventRepository      = (*ProviderEventGormRepository)(nil)
)
