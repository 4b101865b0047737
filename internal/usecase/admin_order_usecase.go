package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"hagerbet/internal/domain/model"
	repo "hagerbet/internal/repository"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type AdminOrderUsecase struct {
	tx       repo.TransactionManager
	notifier EventNotifier
	clock    Clock
	log      zerolog.Logger
}

func NewAdminOrderUsecase(tx repo.TransactionManager, notifier EventNotifier, clock Clock, log zerolog.Logger) *AdminOrderUsecase {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &AdminOrderUsecase{tx: tx, notifier: notifier, clock: clock, log: log}
}

type AdminOrderListInput struct {
	Page          int
	Limit         int
	Status        string
	PaymentStatus string
	UserID        *int64
	From          string
	To            string
}

type AdminUpdateOrderStatusInput struct {
	Status         string
	Note           string
	TrackingNumber string
}

type AdminUpdatePricingInput struct {
	TaxAmount      decimal.Decimal
	ShippingCost   decimal.Decimal
	DiscountAmount decimal.Decimal
}

// 監査ログに残す注文の状態
type orderAuditState struct {
	Status         string `json:"status"`
	PaymentStatus  string `json:"payment_status"`
	TrackingNumber string `json:"tracking_number,omitempty"`
	TaxAmount      string `json:"tax_amount,omitempty"`
	ShippingCost   string `json:"shipping_cost,omitempty"`
	DiscountAmount string `json:"discount_amount,omitempty"`
	GrandTotal     string `json:"grand_total,omitempty"`
}

// 注文一覧
func (u *AdminOrderUsecase) List(ctx context.Context, in AdminOrderListInput) (OrderListOutput, error) {
	page, limit, err := normalizePage(in.Page, in.Limit)
	if err != nil {
		return OrderListOutput{}, err
	}

	f := repo.AdminOrderListFilter{Page: page, Limit: limit, UserID: in.UserID}
	if s := strings.TrimSpace(in.Status); s != "" {
		st, err := model.ParseOrderStatus(s)
		if err != nil {
			return OrderListOutput{}, ValidationError("invalid status", map[string]string{"status": "invalid choice"})
		}
		f.Status = string(st)
	}
	f.PaymentStatus = strings.ToLower(strings.TrimSpace(in.PaymentStatus))
	if t, ok := parseDateTimeRFC3339(in.From); ok {
		f.From = t
	} else if strings.TrimSpace(in.From) != "" {
		return OrderListOutput{}, ValidationError("invalid from", map[string]string{"from": "must be RFC3339"})
	}
	if t, ok := parseDateTimeRFC3339(in.To); ok {
		f.To = t
	} else if strings.TrimSpace(in.To) != "" {
		return OrderListOutput{}, ValidationError("invalid to", map[string]string{"to": "must be RFC3339"})
	}

	out := OrderListOutput{Items: []OrderOutput{}, Page: page, Limit: limit}
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		orders, total, err := r.Orders().ListAdmin(ctx, f)
		if err != nil {
			return dbError(err)
		}
		out.Total = total
		for _, o := range orders {
			items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
			if err != nil {
				return dbError(err)
			}
			out.Items = append(out.Items, toOrderOutput(o, items))
		}
		return nil
	})
	if err != nil {
		return OrderListOutput{}, err
	}
	return out, nil
}

func (u *AdminOrderUsecase) Get(ctx context.Context, orderID int64) (OrderOutput, error) {
	var out OrderOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return NotFoundError("order not found")
		}
		if err != nil {
			return dbError(err)
		}
		items, err := r.OrderItems().ListByOrderID(ctx, orderID)
		if err != nil {
			return dbError(err)
		}
		out = toOrderOutput(o, items)
		return nil
	})
	if err != nil {
		return OrderOutput{}, err
	}
	return out, nil
}

// ステータス変更。注文の更新・履歴・監査ログは同じトランザクション、通知はコミット後
func (u *AdminOrderUsecase) UpdateStatus(ctx context.Context, actorAdminUserID int64, orderID int64, in AdminUpdateOrderStatusInput) (OrderOutput, error) {
	if actorAdminUserID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	to, err := model.ParseOrderStatus(in.Status)
	if err != nil {
		return OrderOutput{}, ValidationError("invalid status", map[string]string{"status": "invalid choice"})
	}
	tracking := strings.TrimSpace(in.TrackingNumber)
	if len(tracking) > 100 {
		return OrderOutput{}, ValidationError("invalid tracking number", map[string]string{"tracking_number": "too long"})
	}

	now := u.clock.Now()
	var (
		out     OrderOutput
		old     model.OrderStatus
		changed bool
	)

	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByIDForUpdate(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return NotFoundError("order not found")
		}
		if err != nil {
			return dbError(err)
		}

		before := auditStateOf(o)
		old = o.Status

		changed, err = o.TransitionTo(to, now)
		if err != nil {
			return transitionError(err, old, to)
		}
		trackingChanged := tracking != "" && tracking != o.TrackingNumber
		if trackingChanged {
			o.TrackingNumber = tracking
		}

		items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
		if err != nil {
			return dbError(err)
		}
		out = toOrderOutput(o, items)

		// すでに同じなら何もしない（200）
		if !changed && !trackingChanged {
			return nil
		}

		if err := r.Orders().Save(ctx, o); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return NotFoundError("order not found")
			}
			return dbError(err)
		}

		if changed {
			actor := actorAdminUserID
			if err := r.StatusHistory().Create(ctx, model.OrderStatusHistory{
				OrderID:   o.ID,
				OldStatus: old,
				NewStatus: o.Status,
				Note:      strings.TrimSpace(in.Note),
				CreatedBy: &actor,
			}); err != nil {
				return dbError(err)
			}
		}

		if err := r.AuditLogs().Create(ctx, model.AuditLog{
			ActorUserID:  actorAdminUserID,
			Action:       model.AuditActionUpdateOrderStatus,
			ResourceType: model.AuditResourceOrder,
			ResourceID:   o.ID,
			BeforeJSON:   auditJSON(before),
			AfterJSON:    auditJSON(auditStateOf(o)),
			CreatedAt:    now,
		}); err != nil {
			return dbError(err)
		}
		return nil
	})
	if err != nil {
		return OrderOutput{}, err
	}

	if changed {
		u.log.Info().
			Str("order_number", out.OrderNumber).
			Str("from", string(old)).
			Str("to", out.Status).
			Int64("actor", actorAdminUserID).
			Msg("order status changed")
		u.notifier.Notify(ctx, model.DomainEvent{
			Type:        model.EventOrderStatusChanged,
			OrderID:     out.ID,
			OrderNumber: out.OrderNumber,
			UserID:      out.UserID,
			Attrs:       map[string]string{"old_status": string(old), "new_status": out.Status},
			OccurredAt:  now,
		})
	}
	return out, nil
}

// 税・送料・割引を入れて合計を出し直す。支払い後は変更できない
func (u *AdminOrderUsecase) UpdatePricing(ctx context.Context, actorAdminUserID int64, orderID int64, in AdminUpdatePricingInput) (OrderOutput, error) {
	if actorAdminUserID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	fields := map[string]string{}
	if in.TaxAmount.IsNegative() {
		fields["tax_amount"] = "must not be negative"
	}
	if in.ShippingCost.IsNegative() {
		fields["shipping_cost"] = "must not be negative"
	}
	if in.DiscountAmount.IsNegative() {
		fields["discount_amount"] = "must not be negative"
	}
	if len(fields) > 0 {
		return OrderOutput{}, ValidationError("invalid pricing", fields)
	}

	now := u.clock.Now()
	var out OrderOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByIDForUpdate(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return NotFoundError("order not found")
		}
		if err != nil {
			return dbError(err)
		}
		if o.IsPaid() || o.IsTerminal() {
			return StateConflictError("pricing cannot change after payment")
		}
		payments, err := r.Payments().ListByOrderID(ctx, o.ID)
		if err != nil {
			return dbError(err)
		}
		for _, p := range payments {
			if p.IsLive() {
				return StateConflictError("order has a payment in progress")
			}
		}

		items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
		if err != nil {
			return dbError(err)
		}

		before := auditStateOf(o)
		o.TaxAmount = in.TaxAmount
		o.ShippingCost = in.ShippingCost
		o.DiscountAmount = in.DiscountAmount
		o.CalculateTotals(items)
		if o.GrandTotal.IsNegative() {
			return ValidationError("invalid pricing", map[string]string{"discount_amount": "exceeds order total"})
		}

		if err := r.Orders().Save(ctx, o); err != nil {
			return dbError(err)
		}
		if err := r.AuditLogs().Create(ctx, model.AuditLog{
			ActorUserID:  actorAdminUserID,
			Action:       model.AuditActionUpdateOrderPricing,
			ResourceType: model.AuditResourceOrder,
			ResourceID:   o.ID,
			BeforeJSON:   auditJSON(before),
			AfterJSON:    auditJSON(auditStateOf(o)),
			CreatedAt:    now,
		}); err != nil {
			return dbError(err)
		}
		out = toOrderOutput(o, items)
		return nil
	})
	if err != nil {
		return OrderOutput{}, err
	}
	return out, nil
}

// 任意の注文のステータス履歴
func (u *AdminOrderUsecase) History(ctx context.Context, orderID int64) ([]model.OrderStatusHistory, error) {
	var out []model.OrderStatusHistory
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if _, err := r.Orders().FindByID(ctx, orderID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return NotFoundError("order not found")
			}
			return dbError(err)
		}
		hs, err := r.StatusHistory().ListByOrderID(ctx, orderID)
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

const recentOrdersWindow = 30 * 24 * time.Hour

type OrderStatsOutput struct {
	TotalOrders        int64            `json:"total_orders"`
	TotalRevenue       decimal.Decimal  `json:"total_revenue"`
	RecentOrders30Days int64            `json:"recent_orders_30_days"`
	StatusDistribution []StatusCountRow `json:"status_distribution"`
}

type StatusCountRow struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

// 件数・売上（支払い済み）・直近30日の件数・ステータス別件数
func (u *AdminOrderUsecase) Stats(ctx context.Context) (OrderStatsOutput, error) {
	since := u.clock.Now().Add(-recentOrdersWindow)

	var out OrderStatsOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		st, err := r.Orders().Stats(ctx, since)
		if err != nil {
			return dbError(err)
		}
		out = OrderStatsOutput{
			TotalOrders:        st.TotalOrders,
			TotalRevenue:       st.TotalRevenue,
			RecentOrders30Days: st.RecentOrders,
			StatusDistribution: []StatusCountRow{},
		}
		for status, n := range st.StatusCounts {
			out.StatusDistribution = append(out.StatusDistribution, StatusCountRow{Status: string(status), Count: n})
		}
		sort.Slice(out.StatusDistribution, func(i, j int) bool {
			return out.StatusDistribution[i].Status < out.StatusDistribution[j].Status
		})
		return nil
	})
	if err != nil {
		return OrderStatsOutput{}, err
	}
	return out, nil
}

type AuditEntryOutput struct {
	ID           int64           `json:"id"`
	ActorUserID  int64           `json:"actor_user_id"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resource_type"`
	ResourceID   int64           `json:"resource_id"`
	Before       json.RawMessage `json:"before,omitempty"`
	After        json.RawMessage `json:"after,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// 注文に対する管理操作の記録。注文の支払いへの返金も含めて古い順
func (u *AdminOrderUsecase) AuditTrail(ctx context.Context, orderID int64) ([]AuditEntryOutput, error) {
	out := []AuditEntryOutput{}
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if _, err := r.Orders().FindByID(ctx, orderID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return NotFoundError("order not found")
			}
			return dbError(err)
		}

		logs, err := r.AuditLogs().ListTrail(ctx, repo.AuditTrailQuery{
			ResourceType: model.AuditResourceOrder,
			ResourceIDs:  []int64{orderID},
		})
		if err != nil {
			return dbError(err)
		}

		payments, err := r.Payments().ListByOrderID(ctx, orderID)
		if err != nil {
			return dbError(err)
		}
		if len(payments) > 0 {
			ids := make([]int64, 0, len(payments))
			for _, p := range payments {
				ids = append(ids, p.ID)
			}
			refunds, err := r.AuditLogs().ListTrail(ctx, repo.AuditTrailQuery{
				ResourceType: model.AuditResourcePayment,
				ResourceIDs:  ids,
				Actions:      []model.AuditAction{model.AuditActionCreateRefund},
			})
			if err != nil {
				return dbError(err)
			}
			logs = append(logs, refunds...)
		}

		sort.SliceStable(logs, func(i, j int) bool {
			if !logs[i].CreatedAt.Equal(logs[j].CreatedAt) {
				return logs[i].CreatedAt.Before(logs[j].CreatedAt)
			}
			return logs[i].ID < logs[j].ID
		})
		for _, l := range logs {
			out = append(out, AuditEntryOutput{
				ID:           l.ID,
				ActorUserID:  l.ActorUserID,
				Action:       string(l.Action),
				ResourceType: string(l.ResourceType),
				ResourceID:   l.ResourceID,
				Before:       rawAuditJSON(l.BeforeJSON),
				After:        rawAuditJSON(l.AfterJSON),
				CreatedAt:    l.CreatedAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// 壊れたJSONはレスポンスに載せない
func rawAuditJSON(s string) json.RawMessage {
	if s == "" || !json.Valid([]byte(s)) {
		return nil
	}
	return json.RawMessage(s)
}

func transitionError(err error, from, to model.OrderStatus) error {
	switch {
	case errors.Is(err, model.ErrOrderNotPaid):
		if to == model.OrderStatusConfirmed {
			return StateConflictError("cannot confirm unpaid order")
		}
		return StateConflictError("order is not paid")
	case errors.Is(err, model.ErrNotCancellable):
		return StateConflictError(fmt.Sprintf("order cannot be cancelled in status %s", from))
	case errors.Is(err, model.ErrInvalidTransition):
		return StateConflictError(fmt.Sprintf("cannot change order from %s to %s", from, to))
	case errors.Is(err, model.ErrUnknownStatus):
		return ValidationError("invalid status", map[string]string{"status": "invalid choice"})
	}
	return dbError(err)
}

func auditStateOf(o model.Order) orderAuditState {
	return orderAuditState{
		Status:         string(o.Status),
		PaymentStatus:  string(o.PaymentStatus),
		TrackingNumber: o.TrackingNumber,
		TaxAmount:      o.TaxAmount.StringFixed(2),
		ShippingCost:   o.ShippingCost.StringFixed(2),
		DiscountAmount: o.DiscountAmount.StringFixed(2),
		GrandTotal:     o.GrandTotal.StringFixed(2),
	}
}

func auditJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// 期間パラメータ。空なら指定なし
func parseDateTimeRFC3339(s string) (*time.Time, bool) {
	if strings.TrimSpace(s) == "" {
		return nil, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, false
	}
	return &t, true
}
