package usecase

import (
	"context"
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
	"gorm.io/datatypes"
)

// 同じidempotency keyで同時に作成されたとき
var errIdempotentRace = errors.New("idempotency key raced")

type OrderUsecase struct {
	tx       repo.TransactionManager
	notifier EventNotifier
	clock    Clock
	log      zerolog.Logger
}

func NewOrderUsecase(tx repo.TransactionManager, notifier EventNotifier, clock Clock, log zerolog.Logger) *OrderUsecase {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &OrderUsecase{tx: tx, notifier: notifier, clock: clock, log: log}
}

type CreateOrderInput struct {
	ShippingAddressID int64
	// 0ならShippingAddressIDと同じ
	BillingAddressID int64
	PaymentMethod    string
	IdempotencyKey   string
}

type OrderItemOutput struct {
	ID          int64           `json:"id"`
	ProductID   int64           `json:"product_id"`
	VariantID   *int64          `json:"variant_id,omitempty"`
	ProductName string          `json:"product_name"`
	VariantName string          `json:"variant_name,omitempty"`
	Quantity    int64           `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

type OrderOutput struct {
	ID              int64                 `json:"id"`
	OrderNumber     string                `json:"order_number"`
	UserID          int64                 `json:"user_id"`
	Status          string                `json:"status"`
	PaymentStatus   string                `json:"payment_status"`
	PaymentMethod   string                `json:"payment_method"`
	ShippingAddress model.AddressSnapshot `json:"shipping_address"`
	BillingAddress  model.AddressSnapshot `json:"billing_address"`
	Subtotal        decimal.Decimal       `json:"subtotal"`
	TaxAmount       decimal.Decimal       `json:"tax_amount"`
	ShippingCost    decimal.Decimal       `json:"shipping_cost"`
	DiscountAmount  decimal.Decimal       `json:"discount_amount"`
	GrandTotal      decimal.Decimal       `json:"grand_total"`
	TrackingNumber  string                `json:"tracking_number,omitempty"`
	PaidAt          *time.Time            `json:"paid_at"`
	ShippedAt       *time.Time            `json:"shipped_at"`
	DeliveredAt     *time.Time            `json:"delivered_at"`
	CreatedAt       time.Time             `json:"created_at"`
	Items           []OrderItemOutput     `json:"items"`
}

type OrderListOutput struct {
	Items []OrderOutput `json:"items"`
	Total int64         `json:"total"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
}

// カートから注文を作る。検証・在庫減算・明細作成・カートのクリアまで1トランザクション
func (u *OrderUsecase) CreateOrderFromCart(ctx context.Context, userID int64, in CreateOrderInput) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if in.BillingAddressID == 0 {
		in.BillingAddressID = in.ShippingAddressID
	}

	fields := map[string]string{}
	if in.ShippingAddressID <= 0 {
		fields["shipping_address_id"] = "required"
	}
	if in.BillingAddressID <= 0 {
		fields["billing_address_id"] = "required"
	}
	method := model.PaymentMethod(strings.ToLower(strings.TrimSpace(in.PaymentMethod)))
	if !method.Valid() {
		fields["payment_method"] = "invalid choice"
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	if len(key) > 255 {
		fields["idempotency_key"] = "too long"
	}
	if len(fields) > 0 {
		return OrderOutput{}, ValidationError("invalid request", fields)
	}

	now := u.clock.Now()
	var (
		out     OrderOutput
		created bool
	)

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		// 同じキーなら同じ結果
		if found, err := replayByIdempotencyKey(ctx, r, userID, key, &out); err != nil || found {
			return err
		}

		shipping, err := ownedAddress(ctx, r, userID, in.ShippingAddressID)
		if err != nil {
			return err
		}
		billing, err := ownedAddress(ctx, r, userID, in.BillingAddressID)
		if err != nil {
			return err
		}

		cart, err := r.Carts().FindActiveByUserID(ctx, userID)
		if errors.Is(err, repo.ErrNotFound) {
			return EmptyCartError()
		}
		if err != nil {
			return dbError(err)
		}
		// 同じカートの二重チェックアウトはここで直列になる
		cart, err = r.Carts().FindByIDForUpdate(ctx, cart.ID)
		if err != nil {
			return dbError(err)
		}
		// ロック待ちの間に同じキーの注文がコミットされていることがある
		if found, err := replayByIdempotencyKey(ctx, r, userID, key, &out); err != nil || found {
			return err
		}
		if cart.Status != model.CartStatusActive {
			return EmptyCartError()
		}

		cartItems, err := r.CartItems().ListByCartID(ctx, cart.ID)
		if err != nil {
			return dbError(err)
		}
		if len(cartItems) == 0 {
			return EmptyCartError()
		}

		//ロック順を揃える（デッドロック回避）
		sort.SliceStable(cartItems, func(i, j int) bool {
			if cartItems[i].ProductID != cartItems[j].ProductID {
				return cartItems[i].ProductID < cartItems[j].ProductID
			}
			return variantKey(cartItems[i].VariantID) < variantKey(cartItems[j].VariantID)
		})

		orderNumber := model.GenerateOrderNumber(now)

		orderItems := make([]model.OrderItem, 0, len(cartItems))
		for _, ci := range cartItems {
			item, err := reserveStock(ctx, r, ci, orderNumber, userID)
			if err != nil {
				return err
			}
			orderItems = append(orderItems, item)
		}

		order := model.Order{
			OrderNumber:     orderNumber,
			UserID:          userID,
			Status:          model.OrderStatusPending,
			PaymentStatus:   model.OrderPaymentPending,
			PaymentMethod:   method,
			ShippingAddress: datatypes.NewJSONType(shipping.Snapshot()),
			BillingAddress:  datatypes.NewJSONType(billing.Snapshot()),
			TaxAmount:       decimal.Zero,
			ShippingCost:    decimal.Zero,
			DiscountAmount:  decimal.Zero,
		}
		if key != "" {
			k := key
			order.IdempotencyKey = &k
		}
		//税・送料は後から（管理者の料金設定）
		order.CalculateTotals(orderItems)

		order, err = r.Orders().Create(ctx, order)
		if errors.Is(err, repo.ErrDuplicate) {
			if key != "" {
				return errIdempotentRace
			}
			return StateConflictError("duplicate order")
		}
		if err != nil {
			return dbError(err)
		}

		if err := r.OrderItems().CreateBulk(ctx, order.ID, orderItems); err != nil {
			return dbError(err)
		}
		for i := range orderItems {
			orderItems[i].OrderID = order.ID
		}

		uid := userID
		if err := r.StatusHistory().Create(ctx, model.OrderStatusHistory{
			OrderID:   order.ID,
			NewStatus: model.OrderStatusPending,
			Note:      "order created",
			CreatedBy: &uid,
		}); err != nil {
			return dbError(err)
		}

		//カートをCHECKED_OUTにして、明細をクリア（再注文防止）
		if err := r.Carts().UpdateStatus(ctx, cart.ID, model.CartStatusCheckedOut); err != nil {
			return dbError(err)
		}
		if err := r.Carts().Clear(ctx, cart.ID); err != nil {
			return dbError(err)
		}

		out = toOrderOutput(order, orderItems)
		created = true
		return nil
	})

	if errors.Is(err, errIdempotentRace) {
		return u.findByIdempotencyKey(ctx, userID, key)
	}
	if err != nil {
		return OrderOutput{}, err
	}

	if created {
		u.log.Info().
			Str("order_number", out.OrderNumber).
			Int64("user_id", userID).
			Str("grand_total", out.GrandTotal.StringFixed(2)).
			Msg("order created")
		u.notifier.Notify(ctx, model.DomainEvent{
			Type:        model.EventOrderCreated,
			OrderID:     out.ID,
			OrderNumber: out.OrderNumber,
			UserID:      userID,
			Attrs:       map[string]string{"payment_method": out.PaymentMethod},
			OccurredAt:  now,
		})
	}
	return out, nil
}

func replayByIdempotencyKey(ctx context.Context, r repo.TxRepos, userID int64, key string, out *OrderOutput) (bool, error) {
	if key == "" {
		return false, nil
	}
	existing, found, err := r.Orders().FindByIdempotencyKey(ctx, userID, key)
	if err != nil {
		return false, dbError(err)
	}
	if !found {
		return false, nil
	}
	items, err := r.OrderItems().ListByOrderID(ctx, existing.ID)
	if err != nil {
		return false, dbError(err)
	}
	*out = toOrderOutput(existing, items)
	return true, nil
}

func (u *OrderUsecase) findByIdempotencyKey(ctx context.Context, userID int64, key string) (OrderOutput, error) {
	var out OrderOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		found, err := replayByIdempotencyKey(ctx, r, userID, key, &out)
		if err != nil {
			return err
		}
		if !found {
			return StateConflictError("idempotency conflict")
		}
		return nil
	})
	return out, err
}

// 顧客によるキャンセル。在庫は戻さない
func (u *OrderUsecase) Cancel(ctx context.Context, userID int64, orderID int64) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var out OrderOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByIDForUpdate(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return NotFoundError("order not found")
		}
		if err != nil {
			return dbError(err)
		}
		if o.UserID != userID {
			return NotFoundError("order not found")
		}

		old := o.Status
		if err := o.Cancel(); err != nil {
			return StateConflictError(fmt.Sprintf("order cannot be cancelled in status %s", old))
		}
		if err := r.Orders().Save(ctx, o); err != nil {
			return dbError(err)
		}

		uid := userID
		if err := r.StatusHistory().Create(ctx, model.OrderStatusHistory{
			OrderID:   o.ID,
			OldStatus: old,
			NewStatus: o.Status,
			Note:      "cancelled by customer",
			CreatedBy: &uid,
		}); err != nil {
			return dbError(err)
		}

		items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
		if err != nil {
			return dbError(err)
		}
		out = toOrderOutput(o, items)
		return nil
	})
	if err != nil {
		return OrderOutput{}, err
	}

	u.notifier.Notify(ctx, model.DomainEvent{
		Type:        model.EventOrderCancelled,
		OrderID:     out.ID,
		OrderNumber: out.OrderNumber,
		UserID:      userID,
		OccurredAt:  u.clock.Now(),
	})
	return out, nil
}

func (u *OrderUsecase) ListMyOrders(ctx context.Context, userID int64, page int, limit int) (OrderListOutput, error) {
	if userID <= 0 {
		return OrderListOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	page, limit, err := normalizePage(page, limit)
	if err != nil {
		return OrderListOutput{}, err
	}

	out := OrderListOutput{Items: []OrderOutput{}, Page: page, Limit: limit}
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		orders, total, err := r.Orders().ListByUserID(ctx, userID, page, limit)
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

func (u *OrderUsecase) GetMyOrderDetail(ctx context.Context, userID int64, orderID int64) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var out OrderOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := ownedOrder(ctx, r, userID, orderID)
		if err != nil {
			return err
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

// 自分の注文のステータス履歴（新しい順）
func (u *OrderUsecase) History(ctx context.Context, userID int64, orderID int64) ([]model.OrderStatusHistory, error) {
	if userID <= 0 {
		return nil, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	var out []model.OrderStatusHistory
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if _, err := ownedOrder(ctx, r, userID, orderID); err != nil {
			return err
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

// 他人の注文は「存在しない扱い」にする
func ownedOrder(ctx context.Context, r repo.TxRepos, userID, orderID int64) (model.Order, error) {
	o, err := r.Orders().FindByID(ctx, orderID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Order{}, NotFoundError("order not found")
	}
	if err != nil {
		return model.Order{}, dbError(err)
	}
	if o.UserID != userID {
		return model.Order{}, NotFoundError("order not found")
	}
	return o, nil
}

func ownedAddress(ctx context.Context, r repo.TxRepos, userID, addressID int64) (model.Address, error) {
	a, err := r.Addresses().FindByID(ctx, addressID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Address{}, NotFoundError("address not found")
	}
	if err != nil {
		return model.Address{}, dbError(err)
	}
	if a.UserID != userID {
		return model.Address{}, NotFoundError("address not found")
	}
	return a, nil
}

// 商品（またはバリエーション）をロックして在庫を確認し、追跡対象なら減らして履歴を残す
func reserveStock(ctx context.Context, r repo.TxRepos, ci model.CartItem, orderNumber string, userID int64) (model.OrderItem, error) {
	p, err := r.Products().FindByIDForUpdate(ctx, ci.ProductID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.OrderItem{}, InventoryError("product is no longer available")
	}
	if err != nil {
		return model.OrderItem{}, dbError(err)
	}

	item := model.OrderItem{
		ProductID:   p.ID,
		ProductName: p.Name,
		Quantity:    ci.Quantity,
		Price:       ci.Price,
	}
	uid := userID
	note := "order " + orderNumber

	if ci.VariantID != nil {
		v, err := r.Products().FindVariantByIDForUpdate(ctx, *ci.VariantID)
		if errors.Is(err, repo.ErrNotFound) || (err == nil && v.ProductID != p.ID) {
			return model.OrderItem{}, InventoryError("product is no longer available")
		}
		if err != nil {
			return model.OrderItem{}, dbError(err)
		}
		if !p.IsActive || !v.IsAvailable(ci.Quantity) {
			return model.OrderItem{}, InventoryError(fmt.Sprintf("insufficient stock for %s (%s)", p.Name, v.Name))
		}
		vid := v.ID
		item.VariantID = &vid
		item.VariantName = v.Name

		if !v.TrackQuantity {
			return item, nil
		}
		ok, err := r.Inventory().DecreaseVariantStockIfEnough(ctx, v.ID, ci.Quantity)
		if err != nil {
			return model.OrderItem{}, dbError(err)
		}
		if !ok {
			return model.OrderItem{}, InventoryError(fmt.Sprintf("insufficient stock for %s (%s)", p.Name, v.Name))
		}
		if err := r.Inventory().CreateHistory(ctx, model.InventoryHistory{
			ProductID:      p.ID,
			VariantID:      &vid,
			Action:         model.InventoryActionSold,
			QuantityChange: -ci.Quantity,
			NewQuantity:    v.Quantity - ci.Quantity,
			Note:           note,
			CreatedBy:      &uid,
		}); err != nil {
			return model.OrderItem{}, dbError(err)
		}
		return item, nil
	}

	if !p.IsAvailable(ci.Quantity) {
		return model.OrderItem{}, InventoryError("insufficient stock for " + p.Name)
	}
	if !p.TrackQuantity {
		return item, nil
	}
	ok, err := r.Inventory().DecreaseProductStockIfEnough(ctx, p.ID, ci.Quantity)
	if err != nil {
		return model.OrderItem{}, dbError(err)
	}
	if !ok {
		return model.OrderItem{}, InventoryError("insufficient stock for " + p.Name)
	}
	if err := r.Inventory().CreateHistory(ctx, model.InventoryHistory{
		ProductID:      p.ID,
		Action:         model.InventoryActionSold,
		QuantityChange: -ci.Quantity,
		NewQuantity:    p.Quantity - ci.Quantity,
		Note:           note,
		CreatedBy:      &uid,
	}); err != nil {
		return model.OrderItem{}, dbError(err)
	}
	return item, nil
}

func variantKey(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}

func normalizePage(page, limit int) (int, int, error) {
	if page == 0 {
		page = 1
	}
	if limit == 0 {
		limit = 20
	}
	if page < 1 {
		return 0, 0, NewHTTPError(http.StatusBadRequest, "invalid page")
	}
	if limit < 1 || limit > 100 {
		return 0, 0, NewHTTPError(http.StatusBadRequest, "invalid limit")
	}
	return page, limit, nil
}

func toOrderOutput(o model.Order, items []model.OrderItem) OrderOutput {
	outItems := make([]OrderItemOutput, 0, len(items))
	for _, it := range items {
		outItems = append(outItems, OrderItemOutput{
			ID:          it.ID,
			ProductID:   it.ProductID,
			VariantID:   it.VariantID,
			ProductName: it.ProductName,
			VariantName: it.VariantName,
			Quantity:    it.Quantity,
			Price:       it.Price,
			LineTotal:   it.LineTotal(),
		})
	}

	return OrderOutput{
		ID:              o.ID,
		OrderNumber:     o.OrderNumber,
		UserID:          o.UserID,
		Status:          string(o.Status),
		PaymentStatus:   string(o.PaymentStatus),
		PaymentMethod:   string(o.PaymentMethod),
		ShippingAddress: o.ShippingAddress.Data(),
		BillingAddress:  o.BillingAddress.Data(),
		Subtotal:        o.Subtotal,
		TaxAmount:       o.TaxAmount,
		ShippingCost:    o.ShippingCost,
		DiscountAmount:  o.DiscountAmount,
		GrandTotal:      o.GrandTotal,
		TrackingNumber:  o.TrackingNumber,
		PaidAt:          o.PaidAt,
		ShippedAt:       o.ShippedAt,
		DeliveredAt:     o.DeliveredAt,
		CreatedAt:       o.CreatedAt,
		Items:           outItems,
	}
}
