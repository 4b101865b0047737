package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"hagerbet/internal/domain/model"
	repo "hagerbet/internal/repository"

	"github.com/rs/zerolog"
)

// 管理者の在庫調整。注文作成と同じ行ロックを取って直列にする
type InventoryUsecase struct {
	tx    repo.TransactionManager
	clock Clock
	log   zerolog.Logger
}

func NewInventoryUsecase(tx repo.TransactionManager, clock Clock, log zerolog.Logger) *InventoryUsecase {
	return &InventoryUsecase{tx: tx, clock: clock, log: log}
}

type AdminUpdateInventoryInput struct {
	// nilなら商品本体の在庫
	VariantID *int64
	NewStock  int64
	Reason    string
}

type InventoryOutput struct {
	ProductID   int64  `json:"product_id"`
	VariantID   *int64 `json:"variant_id,omitempty"`
	OldQuantity int64  `json:"old_quantity"`
	NewQuantity int64  `json:"new_quantity"`
}

func (u *InventoryUsecase) AdminUpdateInventory(ctx context.Context, adminUserID int64, productID int64, in AdminUpdateInventoryInput) (InventoryOutput, error) {
	if adminUserID <= 0 {
		return InventoryOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if productID <= 0 {
		return InventoryOutput{}, NewHTTPError(http.StatusBadRequest, "invalid product id")
	}
	fields := map[string]string{}
	if in.NewStock < 0 {
		fields["stock"] = "must be >= 0"
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		fields["reason"] = "required"
	}
	if len(fields) > 0 {
		return InventoryOutput{}, ValidationError("invalid request", fields)
	}

	now := u.clock.Now()
	out := InventoryOutput{ProductID: productID, VariantID: in.VariantID, NewQuantity: in.NewStock}

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		//変更前の在庫（before）
		p, err := r.Products().FindByIDForUpdate(ctx, productID)
		if errors.Is(err, repo.ErrNotFound) {
			return NotFoundError("product not found")
		}
		if err != nil {
			return dbError(err)
		}

		resourceType := model.AuditResourceProduct
		resourceID := productID
		if in.VariantID != nil {
			v, err := r.Products().FindVariantByIDForUpdate(ctx, *in.VariantID)
			if errors.Is(err, repo.ErrNotFound) || (err == nil && v.ProductID != p.ID) {
				return NotFoundError("variant not found")
			}
			if err != nil {
				return dbError(err)
			}
			out.OldQuantity = v.Quantity
			if err := r.Inventory().SetVariantStock(ctx, v.ID, in.NewStock); err != nil {
				return notFoundOrDB(err, "variant not found")
			}
			resourceType = model.AuditResourceVariant
			resourceID = v.ID
		} else {
			out.OldQuantity = p.Quantity
			if err := r.Inventory().SetProductStock(ctx, productID, in.NewStock); err != nil {
				return notFoundOrDB(err, "product not found")
			}
		}

		//履歴を作成（差分）
		actor := adminUserID
		if err := r.Inventory().CreateHistory(ctx, model.InventoryHistory{
			ProductID:      productID,
			VariantID:      in.VariantID,
			Action:         model.InventoryActionAdjustment,
			QuantityChange: in.NewStock - out.OldQuantity,
			NewQuantity:    in.NewStock,
			Note:           reason,
			CreatedBy:      &actor,
		}); err != nil {
			return dbError(err)
		}

		//「誰が」「何を」「どの対象に」「どう変えたか」を残す
		if err := r.AuditLogs().Create(ctx, model.AuditLog{
			ActorUserID:  adminUserID,
			Action:       model.AuditActionUpdateStock,
			ResourceType: resourceType,
			ResourceID:   resourceID,
			BeforeJSON:   fmt.Sprintf(`{"quantity":%d}`, out.OldQuantity),
			AfterJSON:    fmt.Sprintf(`{"quantity":%d}`, in.NewStock),
			CreatedAt:    now,
		}); err != nil {
			return dbError(err)
		}
		return nil
	})
	if err != nil {
		return InventoryOutput{}, err
	}

	u.log.Info().
		Int64("product_id", productID).
		Int64("old", out.OldQuantity).
		Int64("new", out.NewQuantity).
		Int64("actor", adminUserID).
		Msg("stock adjusted")
	return out, nil
}

// 在庫履歴（新しい順）
func (u *InventoryUsecase) History(ctx context.Context, productID int64) ([]model.InventoryHistory, error) {
	if productID <= 0 {
		return nil, NewHTTPError(http.StatusBadRequest, "invalid product id")
	}
	var out []model.InventoryHistory
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if _, err := r.Products().FindByID(ctx, productID); err != nil {
			return notFoundOrDB(err, "product not found")
		}
		hs, err := r.Inventory().ListHistoryByProductID(ctx, productID)
		if err != nil {
			return dbError(err)
		}
		out = hs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func notFoundOrDB(err error, msg string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return NotFoundError(msg)
	}
	return dbError(err)
}
