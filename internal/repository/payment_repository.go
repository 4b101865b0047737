package repository

import (
	"context"

	"hagerbet/internal/domain/model"

	"github.com/shopspring/decimal"
)

type PaymentRepository interface {
	Create(ctx context.Context, p model.Payment) (model.Payment, error)
	FindByID(ctx context.Context, id int64) (model.Payment, error)
	FindByIDForUpdate(ctx context.Context, id int64) (model.Payment, error)
	FindByPaymentID(ctx context.Context, paymentID string) (model.Payment, error)
	FindByGatewayPaymentID(ctx context.Context, method model.PaymentMethod, gatewayPaymentID string) (model.Payment, error)
	ListByOrderID(ctx context.Context, orderID int64) ([]model.Payment, error)
	ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Payment, int64, error)
	Save(ctx context.Context, p model.Payment) error
}

type RefundRepository interface {
	Create(ctx context.Context, r model.Refund) (model.Refund, error)
	FindByID(ctx context.Context, id int64) (model.Refund, error)
	Save(ctx context.Context, r model.Refund) error
	ListByPaymentID(ctx context.Context, paymentID int64) ([]model.Refund, error)
	// 指定ステータスの返金額合計
	SumByPaymentID(ctx context.Context, paymentID int64, statuses ...model.RefundStatus) (decimal.Decimal, error)
}

// CBE / TeleBirr の取引記録
type GatewayTransactionRepository interface {
	CreateCBE(ctx context.Context, tx model.CBETransaction) (model.CBETransaction, error)
	FindCBEByTransactionID(ctx context.Context, transactionID string) (model.CBETransaction, error)
	FindCBEByTransactionIDForUpdate(ctx context.Context, transactionID string) (model.CBETransaction, error)
	SaveCBE(ctx context.Context, tx model.CBETransaction) error

	CreateTeleBirr(ctx context.Context, tx model.TeleBirrTransaction) (model.TeleBirrTransaction, error)
	FindTeleBirrByTransactionID(ctx context.Context, transactionID string) (model.TeleBirrTransaction, error)
	FindTeleBirrByTransactionIDForUpdate(ctx context.Context, transactionID string) (model.TeleBirrTransaction, error)
	SaveTeleBirr(ctx context.Context, tx model.TeleBirrTransaction) error
}

// webhook受信記録。重複はErrDuplicate
type ProviderEventRepository interface {
	Create(ctx context.Context, ev model.ProviderEvent) error
}
