package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"hagerbet/internal/domain/model"
	repo "hagerbet/internal/repository"

	"github.com/shopspring/decimal"
)

// テスト用のメモリDB。WithinTxは全体をロックして直列に実行し、エラーならスナップショットへ戻す
type memState struct {
	seq        int64
	orders     map[int64]model.Order
	orderItems map[int64]model.OrderItem
	history    []model.OrderStatusHistory
	carts      map[int64]model.Cart
	cartItems  map[int64]model.CartItem
	products   map[int64]model.Product
	variants   map[int64]model.ProductVariant
	invHistory []model.InventoryHistory
	addresses  map[int64]model.Address
	payments   map[int64]model.Payment
	refunds    map[int64]model.Refund
	cbe        map[string]model.CBETransaction
	telebirr   map[string]model.TeleBirrTransaction
	events     map[string]model.ProviderEvent
	audits     []model.AuditLog

	// カートの行ロックを取った直後に1度だけ呼ぶ（ロック待ち中に他のtxがコミットした状態を作る）
	onCartLock func(s *memState)
}

func newMemState() *memState {
	return &memState{
		orders:     map[int64]model.Order{},
		orderItems: map[int64]model.OrderItem{},
		carts:      map[int64]model.Cart{},
		cartItems:  map[int64]model.CartItem{},
		products:   map[int64]model.Product{},
		variants:   map[int64]model.ProductVariant{},
		addresses:  map[int64]model.Address{},
		payments:   map[int64]model.Payment{},
		refunds:    map[int64]model.Refund{},
		cbe:        map[string]model.CBETransaction{},
		telebirr:   map[string]model.TeleBirrTransaction{},
		events:     map[string]model.ProviderEvent{},
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *memState) clone() memState {
	return memState{
		seq:        s.seq,
		orders:     cloneMap(s.orders),
		orderItems: cloneMap(s.orderItems),
		history:    append([]model.OrderStatusHistory(nil), s.history...),
		carts:      cloneMap(s.carts),
		cartItems:  cloneMap(s.cartItems),
		products:   cloneMap(s.products),
		variants:   cloneMap(s.variants),
		invHistory: append([]model.InventoryHistory(nil), s.invHistory...),
		addresses:  cloneMap(s.addresses),
		payments:   cloneMap(s.payments),
		refunds:    cloneMap(s.refunds),
		cbe:        cloneMap(s.cbe),
		telebirr:   cloneMap(s.telebirr),
		events:     cloneMap(s.events),
		audits:     append([]model.AuditLog(nil), s.audits...),
	}
}

func (s *memState) next() int64 {
	s.seq++
	return s.seq
}

type memStore struct {
	mu sync.Mutex
	st *memState
}

func newMemStore() *memStore {
	return &memStore{st: newMemState()}
}

func (m *memStore) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	backup := m.st.clone()
	if err := fn(memRepos{s: m.st}); err != nil {
		*m.st = backup
		return err
	}
	return nil
}

// トランザクション外で使うrepo（cart / address）
func (m *memStore) repos() memRepos { return memRepos{s: m.st} }

type memRepos struct{ s *memState }

func (r memRepos) Orders() repo.OrderRepository                     { return memOrders(r) }
func (r memRepos) OrderItems() repo.OrderItemRepository             { return memOrderItems(r) }
func (r memRepos) StatusHistory() repo.OrderStatusHistoryRepository { return memHistory(r) }
func (r memRepos) Carts() repo.CartRepository                       { return memCarts(r) }
func (r memRepos) CartItems() repo.CartItemRepository               { return memCarts(r) }
func (r memRepos) Inventory() repo.InventoryRepository              { return memInventory(r) }
func (r memRepos) Products() repo.ProductRepository                 { return memProducts(r) }
func (r memRepos) Addresses() repo.AddressRepository                { return memAddresses(r) }
func (r memRepos) Payments() repo.PaymentRepository                 { return memPayments(r) }
func (r memRepos) Refunds() repo.RefundRepository                   { return memRefunds(r) }
func (r memRepos) GatewayTransactions() repo.GatewayTransactionRepository {
	return memGatewayTx(r)
}
func (r memRepos) ProviderEvents() repo.ProviderEventRepository { return memProviderEvents(r) }
func (r memRepos) AuditLogs() repo.AuditLogRepository           { return memAudits(r) }

// ---- orders ----

type memOrders memRepos

func (r memOrders) FindByID(_ context.Context, id int64) (model.Order, error) {
	o, ok := r.s.orders[id]
	if !ok {
		return model.Order{}, repo.ErrNotFound
	}
	return o, nil
}

func (r memOrders) FindByIDForUpdate(ctx context.Context, id int64) (model.Order, error) {
	return r.FindByID(ctx, id)
}

func (r memOrders) FindByOrderNumber(_ context.Context, n string) (model.Order, error) {
	for _, o := range r.s.orders {
		if o.OrderNumber == n {
			return o, nil
		}
	}
	return model.Order{}, repo.ErrNotFound
}

func (r memOrders) ListByUserID(_ context.Context, userID int64, page, limit int) ([]model.Order, int64, error) {
	var all []model.Order
	for _, o := range r.s.orders {
		if o.UserID == userID {
			all = append(all, o)
		}
	}
	return paginate(all, page, limit), int64(len(all)), nil
}

func (r memOrders) Create(_ context.Context, o model.Order) (model.Order, error) {
	for _, ex := range r.s.orders {
		if ex.OrderNumber == o.OrderNumber {
			return model.Order{}, repo.ErrDuplicate
		}
		if o.IdempotencyKey != nil && ex.IdempotencyKey != nil && ex.UserID == o.UserID && *ex.IdempotencyKey == *o.IdempotencyKey {
			return model.Order{}, repo.ErrDuplicate
		}
	}
	o.ID = r.s.next()
	o.CreatedAt = time.Now()
	o.UpdatedAt = o.CreatedAt
	r.s.orders[o.ID] = o
	return o, nil
}

func (r memOrders) Save(_ context.Context, o model.Order) error {
	ex, ok := r.s.orders[o.ID]
	if !ok {
		return repo.ErrNotFound
	}
	o.CreatedAt = ex.CreatedAt
	r.s.orders[o.ID] = o
	return nil
}

func (r memOrders) FindByIdempotencyKey(_ context.Context, userID int64, key string) (model.Order, bool, error) {
	for _, o := range r.s.orders {
		if o.UserID == userID && o.IdempotencyKey != nil && *o.IdempotencyKey == key {
			return o, true, nil
		}
	}
	return model.Order{}, false, nil
}

func (r memOrders) ListAdmin(_ context.Context, f repo.AdminOrderListFilter) ([]model.Order, int64, error) {
	var all []model.Order
	for _, o := range r.s.orders {
		if f.Status != "" && string(o.Status) != f.Status {
			continue
		}
		if f.PaymentStatus != "" && string(o.PaymentStatus) != f.PaymentStatus {
			continue
		}
		if f.UserID != nil && o.UserID != *f.UserID {
			continue
		}
		all = append(all, o)
	}
	return paginate(all, f.Page, f.Limit), int64(len(all)), nil
}

func paginate(all []model.Order, page, limit int) []model.Order {
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	start := (page - 1) * limit
	if start >= len(all) {
		return []model.Order{}
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end]
}

// ---- order items / history ----

type memOrderItems memRepos

func (r memOrderItems) CreateBulk(_ context.Context, orderID int64, items []model.OrderItem) error {
	for i := range items {
		items[i].OrderID = orderID
		items[i].ID = r.s.next()
		r.s.orderItems[items[i].ID] = items[i]
	}
	return nil
}

func (r memOrderItems) ListByOrderID(_ context.Context, orderID int64) ([]model.OrderItem, error) {
	out := []model.OrderItem{}
	for _, it := range r.s.orderItems {
		if it.OrderID == orderID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memHistory memRepos

func (r memHistory) Create(_ context.Context, h model.OrderStatusHistory) error {
	h.ID = r.s.next()
	r.s.history = append(r.s.history, h)
	return nil
}

func (r memHistory) ListByOrderID(_ context.Context, orderID int64) ([]model.OrderStatusHistory, error) {
	out := []model.OrderStatusHistory{}
	for i := len(r.s.history) - 1; i >= 0; i-- {
		if r.s.history[i].OrderID == orderID {
			out = append(out, r.s.history[i])
		}
	}
	return out, nil
}

// ---- carts ----

type memCarts memRepos

func (r memCarts) GetOrCreateActiveByUserID(ctx context.Context, userID int64) (model.Cart, error) {
	if c, err := r.FindActiveByUserID(ctx, userID); err == nil {
		return c, nil
	}
	c := model.Cart{ID: r.s.next(), UserID: userID, Status: model.CartStatusActive}
	r.s.carts[c.ID] = c
	return c, nil
}

func (r memCarts) FindActiveByUserID(_ context.Context, userID int64) (model.Cart, error) {
	for _, c := range r.s.carts {
		if c.UserID == userID && c.Status == model.CartStatusActive {
			return c, nil
		}
	}
	return model.Cart{}, repo.ErrNotFound
}

func (r memCarts) FindByIDForUpdate(_ context.Context, id int64) (model.Cart, error) {
	if hook := r.s.onCartLock; hook != nil {
		r.s.onCartLock = nil
		hook(r.s)
	}
	c, ok := r.s.carts[id]
	if !ok {
		return model.Cart{}, repo.ErrNotFound
	}
	return c, nil
}

func (r memCarts) UpdateStatus(_ context.Context, id int64, st model.CartStatus) error {
	c, ok := r.s.carts[id]
	if !ok {
		return repo.ErrNotFound
	}
	c.Status = st
	r.s.carts[id] = c
	return nil
}

func (r memCarts) Clear(_ context.Context, cartID int64) error {
	for id, it := range r.s.cartItems {
		if it.CartID == cartID {
			delete(r.s.cartItems, id)
		}
	}
	return nil
}

func (r memCarts) ListByCartID(_ context.Context, cartID int64) ([]model.CartItem, error) {
	out := []model.CartItem{}
	for _, it := range r.s.cartItems {
		if it.CartID == cartID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memCarts) Upsert(_ context.Context, item model.CartItem) error {
	for id, it := range r.s.cartItems {
		if it.CartID == item.CartID && it.ProductID == item.ProductID && variantKey(it.VariantID) == variantKey(item.VariantID) {
			it.Quantity += item.Quantity
			it.Price = item.Price
			r.s.cartItems[id] = it
			return nil
		}
	}
	item.ID = r.s.next()
	r.s.cartItems[item.ID] = item
	return nil
}

func (r memCarts) UpdateQuantity(_ context.Context, id int64, qty int64) error {
	it, ok := r.s.cartItems[id]
	if !ok {
		return repo.ErrNotFound
	}
	it.Quantity = qty
	r.s.cartItems[id] = it
	return nil
}

func (r memCarts) DeleteByID(_ context.Context, id int64) error {
	if _, ok := r.s.cartItems[id]; !ok {
		return repo.ErrNotFound
	}
	delete(r.s.cartItems, id)
	return nil
}

func (r memCarts) FindByID(_ context.Context, id int64) (model.CartItem, error) {
	it, ok := r.s.cartItems[id]
	if !ok {
		return model.CartItem{}, repo.ErrNotFound
	}
	return it, nil
}

func (r memCarts) IsOwnedByUser(_ context.Context, id int64, userID int64) (bool, error) {
	it, ok := r.s.cartItems[id]
	if !ok {
		return false, nil
	}
	return r.s.carts[it.CartID].UserID == userID, nil
}

// ---- products / inventory ----

type memProducts memRepos

func (r memProducts) FindByID(_ context.Context, id int64) (model.Product, error) {
	p, ok := r.s.products[id]
	if !ok {
		return model.Product{}, repo.ErrNotFound
	}
	return p, nil
}

func (r memProducts) FindByIDForUpdate(ctx context.Context, id int64) (model.Product, error) {
	return r.FindByID(ctx, id)
}

func (r memProducts) FindVariantByID(_ context.Context, id int64) (model.ProductVariant, error) {
	v, ok := r.s.variants[id]
	if !ok {
		return model.ProductVariant{}, repo.ErrNotFound
	}
	return v, nil
}

func (r memProducts) FindVariantByIDForUpdate(ctx context.Context, id int64) (model.ProductVariant, error) {
	return r.FindVariantByID(ctx, id)
}

type memInventory memRepos

func (r memInventory) DecreaseProductStockIfEnough(_ context.Context, id int64, qty int64) (bool, error) {
	p, ok := r.s.products[id]
	if !ok || p.Quantity < qty {
		return false, nil
	}
	p.Quantity -= qty
	r.s.products[id] = p
	return true, nil
}

func (r memInventory) DecreaseVariantStockIfEnough(_ context.Context, id int64, qty int64) (bool, error) {
	v, ok := r.s.variants[id]
	if !ok || v.Quantity < qty {
		return false, nil
	}
	v.Quantity -= qty
	r.s.variants[id] = v
	return true, nil
}

func (r memInventory) SetProductStock(_ context.Context, id int64, qty int64) error {
	p, ok := r.s.products[id]
	if !ok {
		return repo.ErrNotFound
	}
	p.Quantity = qty
	r.s.products[id] = p
	return nil
}

func (r memInventory) SetVariantStock(_ context.Context, id int64, qty int64) error {
	v, ok := r.s.variants[id]
	if !ok {
		return repo.ErrNotFound
	}
	v.Quantity = qty
	r.s.variants[id] = v
	return nil
}

func (r memInventory) CreateHistory(_ context.Context, h model.InventoryHistory) error {
	h.ID = r.s.next()
	r.s.invHistory = append(r.s.invHistory, h)
	return nil
}

func (r memInventory) ListHistoryByProductID(_ context.Context, productID int64) ([]model.InventoryHistory, error) {
	out := []model.InventoryHistory{}
	for i := len(r.s.invHistory) - 1; i >= 0; i-- {
		if r.s.invHistory[i].ProductID == productID {
			out = append(out, r.s.invHistory[i])
		}
	}
	return out, nil
}

// ---- addresses ----

type memAddresses memRepos

func (r memAddresses) Create(_ context.Context, a model.Address) (model.Address, error) {
	a.ID = r.s.next()
	r.s.addresses[a.ID] = a
	return a, nil
}

func (r memAddresses) ListByUserID(_ context.Context, userID int64) ([]model.Address, error) {
	out := []model.Address{}
	for _, a := range r.s.addresses {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memAddresses) FindByID(_ context.Context, id int64) (model.Address, error) {
	a, ok := r.s.addresses[id]
	if !ok {
		return model.Address{}, repo.ErrNotFound
	}
	return a, nil
}

func (r memAddresses) Update(_ context.Context, a model.Address) error {
	ex, ok := r.s.addresses[a.ID]
	if !ok {
		return repo.ErrNotFound
	}
	ex.AddressType = a.AddressType
	ex.Street = a.Street
	ex.City = a.City
	ex.State = a.State
	ex.Country = a.Country
	ex.ZipCode = a.ZipCode
	ex.UpdatedAt = a.UpdatedAt
	r.s.addresses[a.ID] = ex
	return nil
}

func (r memAddresses) Delete(_ context.Context, id int64) error {
	if _, ok := r.s.addresses[id]; !ok {
		return repo.ErrNotFound
	}
	delete(r.s.addresses, id)
	return nil
}

func (r memAddresses) IsOwnedByUser(_ context.Context, id, userID int64) (bool, error) {
	a, ok := r.s.addresses[id]
	return ok && a.UserID == userID, nil
}

func (r memAddresses) SetDefault(_ context.Context, userID, id int64) error {
	if a, ok := r.s.addresses[id]; !ok || a.UserID != userID {
		return repo.ErrNotFound
	}
	for k, a := range r.s.addresses {
		if a.UserID == userID {
			a.IsDefault = k == id
			r.s.addresses[k] = a
		}
	}
	return nil
}

// ---- payments / refunds ----

type memPayments memRepos

func (r memPayments) Create(_ context.Context, p model.Payment) (model.Payment, error) {
	for _, ex := range r.s.payments {
		if ex.PaymentID == p.PaymentID {
			return model.Payment{}, repo.ErrDuplicate
		}
	}
	p.ID = r.s.next()
	p.CreatedAt = time.Now()
	r.s.payments[p.ID] = p
	return p, nil
}

func (r memPayments) FindByID(_ context.Context, id int64) (model.Payment, error) {
	p, ok := r.s.payments[id]
	if !ok {
		return model.Payment{}, repo.ErrNotFound
	}
	return p, nil
}

func (r memPayments) FindByIDForUpdate(ctx context.Context, id int64) (model.Payment, error) {
	return r.FindByID(ctx, id)
}

func (r memPayments) FindByPaymentID(_ context.Context, paymentID string) (model.Payment, error) {
	for _, p := range r.s.payments {
		if p.PaymentID == paymentID {
			return p, nil
		}
	}
	return model.Payment{}, repo.ErrNotFound
}

func (r memPayments) FindByGatewayPaymentID(_ context.Context, method model.PaymentMethod, gid string) (model.Payment, error) {
	for _, p := range r.s.payments {
		if p.PaymentMethod == method && p.GatewayPaymentID == gid {
			return p, nil
		}
	}
	return model.Payment{}, repo.ErrNotFound
}

func (r memPayments) ListByOrderID(_ context.Context, orderID int64) ([]model.Payment, error) {
	out := []model.Payment{}
	for _, p := range r.s.payments {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r memPayments) ListByUserID(_ context.Context, userID int64, page, limit int) ([]model.Payment, int64, error) {
	all := []model.Payment{}
	for _, p := range r.s.payments {
		if p.UserID == userID {
			all = append(all, p)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	total := int64(len(all))
	start := (page - 1) * limit
	if start >= len(all) {
		return []model.Payment{}, total, nil
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (r memPayments) Save(_ context.Context, p model.Payment) error {
	if _, ok := r.s.payments[p.ID]; !ok {
		return repo.ErrNotFound
	}
	r.s.payments[p.ID] = p
	return nil
}

type memRefunds memRepos

func (r memRefunds) Create(_ context.Context, rf model.Refund) (model.Refund, error) {
	rf.ID = r.s.next()
	rf.CreatedAt = time.Now()
	r.s.refunds[rf.ID] = rf
	return rf, nil
}

func (r memRefunds) FindByID(_ context.Context, id int64) (model.Refund, error) {
	rf, ok := r.s.refunds[id]
	if !ok {
		return model.Refund{}, repo.ErrNotFound
	}
	return rf, nil
}

func (r memRefunds) Save(_ context.Context, rf model.Refund) error {
	if _, ok := r.s.refunds[rf.ID]; !ok {
		return repo.ErrNotFound
	}
	r.s.refunds[rf.ID] = rf
	return nil
}

func (r memRefunds) ListByPaymentID(_ context.Context, paymentID int64) ([]model.Refund, error) {
	out := []model.Refund{}
	for _, rf := range r.s.refunds {
		if rf.PaymentID == paymentID {
			out = append(out, rf)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memRefunds) SumByPaymentID(_ context.Context, paymentID int64, statuses ...model.RefundStatus) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, rf := range r.s.refunds {
		if rf.PaymentID != paymentID {
			continue
		}
		if len(statuses) > 0 && !containsStatus(statuses, rf.Status) {
			continue
		}
		sum = sum.Add(rf.Amount)
	}
	return sum, nil
}

func containsStatus(list []model.RefundStatus, s model.RefundStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ---- gateway transactions / events / audit ----

type memGatewayTx memRepos

func (r memGatewayTx) CreateCBE(_ context.Context, t model.CBETransaction) (model.CBETransaction, error) {
	if _, ok := r.s.cbe[t.TransactionID]; ok {
		return model.CBETransaction{}, repo.ErrDuplicate
	}
	t.ID = r.s.next()
	r.s.cbe[t.TransactionID] = t
	return t, nil
}

func (r memGatewayTx) FindCBEByTransactionID(_ context.Context, id string) (model.CBETransaction, error) {
	t, ok := r.s.cbe[id]
	if !ok {
		return model.CBETransaction{}, repo.ErrNotFound
	}
	return t, nil
}

func (r memGatewayTx) FindCBEByTransactionIDForUpdate(ctx context.Context, id string) (model.CBETransaction, error) {
	return r.FindCBEByTransactionID(ctx, id)
}

func (r memGatewayTx) SaveCBE(_ context.Context, t model.CBETransaction) error {
	if _, ok := r.s.cbe[t.TransactionID]; !ok {
		return repo.ErrNotFound
	}
	r.s.cbe[t.TransactionID] = t
	return nil
}

func (r memGatewayTx) CreateTeleBirr(_ context.Context, t model.TeleBirrTransaction) (model.TeleBirrTransaction, error) {
	if _, ok := r.s.telebirr[t.TransactionID]; ok {
		return model.TeleBirrTransaction{}, repo.ErrDuplicate
	}
	t.ID = r.s.next()
	r.s.telebirr[t.TransactionID] = t
	return t, nil
}

func (r memGatewayTx) FindTeleBirrByTransactionID(_ context.Context, id string) (model.TeleBirrTransaction, error) {
	t, ok := r.s.telebirr[id]
	if !ok {
		return model.TeleBirrTransaction{}, repo.ErrNotFound
	}
	return t, nil
}

func (r memGatewayTx) FindTeleBirrByTransactionIDForUpdate(ctx context.Context, id string) (model.TeleBirrTransaction, error) {
	return r.FindTeleBirrByTransactionID(ctx, id)
}

func (r memGatewayTx) SaveTeleBirr(_ context.Context, t model.TeleBirrTransaction) error {
	if _, ok := r.s.telebirr[t.TransactionID]; !ok {
		return repo.ErrNotFound
	}
	r.s.telebirr[t.TransactionID] = t
	return nil
}

func (r memOrders) Stats(_ context.Context, since time.Time) (repo.OrderStats, error) {
	out := repo.OrderStats{TotalRevenue: decimal.Zero, StatusCounts: map[model.OrderStatus]int64{}}
	for _, o := range r.s.orders {
		out.TotalOrders++
		if o.PaymentStatus == model.OrderPaymentPaid {
			out.TotalRevenue = out.TotalRevenue.Add(o.GrandTotal)
		}
		if !o.CreatedAt.Before(since) {
			out.RecentOrders++
		}
		out.StatusCounts[o.Status]++
	}
	return out, nil
}

type memProviderEvents memRepos

func (r memProviderEvents) Create(_ context.Context, ev model.ProviderEvent) error {
	key := string(ev.Provider) + ":" + ev.EventID
	if _, ok := r.s.events[key]; ok {
		return repo.ErrDuplicate
	}
	ev.ID = r.s.next()
	r.s.events[key] = ev
	return nil
}

type memAudits memRepos

func (r memAudits) Create(_ context.Context, l model.AuditLog) error {
	l.ID = r.s.next()
	r.s.audits = append(r.s.audits, l)
	return nil
}

func (r memAudits) ListTrail(_ context.Context, q repo.AuditTrailQuery) ([]model.AuditLog, error) {
	ids := map[int64]bool{}
	for _, id := range q.ResourceIDs {
		ids[id] = true
	}
	out := []model.AuditLog{}
	for _, l := range r.s.audits {
		if l.ResourceType != q.ResourceType || !ids[l.ResourceID] {
			continue
		}
		if len(q.Actions) > 0 && !containsAction(q.Actions, l.Action) {
			continue
		}
		if q.Since != nil && l.CreatedAt.Before(*q.Since) {
			continue
		}
		out = append(out, l)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func containsAction(as []model.AuditAction, a model.AuditAction) bool {
	for _, x := range as {
		if x == a {
			return true
		}
	}
	return false
}

// ---- test helpers ----

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testNow = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

type seqIDs struct{ n int64 }

func (g *seqIDs) NewID() string {
	return fmt.Sprintf("00000000-0000-0000-0000-%012d", atomic.AddInt64(&g.n, 1))
}

// 通知を記録する
type recordingNotifier struct {
	mu     sync.Mutex
	events []model.DomainEvent
}

func (n *recordingNotifier) Notify(_ context.Context, ev model.DomainEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) count(t model.EventType) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, ev := range n.events {
		if ev.Type == t {
			c++
		}
	}
	return c
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func (m *memStore) addProduct(name, price string, qty int64, tracked bool) model.Product {
	p := model.Product{
		ID:            m.st.next(),
		Name:          name,
		Price:         dec(price),
		TrackQuantity: tracked,
		Quantity:      qty,
		IsActive:      true,
	}
	m.st.products[p.ID] = p
	return p
}

func (m *memStore) addVariant(productID int64, name, price string, qty int64) model.ProductVariant {
	v := model.ProductVariant{
		ID:            m.st.next(),
		ProductID:     productID,
		Name:          name,
		Price:         dec(price),
		TrackQuantity: true,
		Quantity:      qty,
		IsActive:      true,
	}
	m.st.variants[v.ID] = v
	return v
}

func (m *memStore) addAddress(userID int64, street string) model.Address {
	a := model.Address{
		ID:          m.st.next(),
		UserID:      userID,
		AddressType: model.AddressTypeShipping,
		Street:      street,
		City:        "Addis Ababa",
		State:       "Addis Ababa",
		Country:     "Ethiopia",
		ZipCode:     "1000",
	}
	m.st.addresses[a.ID] = a
	return a
}

// ACTIVEカートに明細を入れる（価格は商品価格）
func (m *memStore) addToCart(userID int64, p model.Product, variant *model.ProductVariant, qty int64) model.Cart {
	cart, _ := memCarts(m.repos()).GetOrCreateActiveByUserID(context.Background(), userID)
	item := model.CartItem{CartID: cart.ID, ProductID: p.ID, Quantity: qty, Price: p.Price}
	if variant != nil {
		vid := variant.ID
		item.VariantID = &vid
		item.Price = variant.Price
	}
	_ = memCarts(m.repos()).Upsert(context.Background(), item)
	return cart
}

func (m *memStore) product(id int64) model.Product { return m.st.products[id] }

func (m *memStore) order(id int64) model.Order { return m.st.orders[id] }

func (m *memStore) payment(id int64) model.Payment { return m.st.payments[id] }

func (m *memStore) cartItemCount(cartID int64) int {
	n := 0
	for _, it := range m.st.cartItems {
		if it.CartID == cartID {
			n++
		}
	}
	return n
}

func (m *memStore) historyFor(orderID int64) []model.OrderStatusHistory {
	hs, _ := memHistory(m.repos()).ListByOrderID(context.Background(), orderID)
	return hs
}

// 支払い前の注文を直接作る
func (m *memStore) addOrder(userID int64, total string, status model.OrderStatus, paid model.OrderPaymentStatus) model.Order {
	o := model.Order{
		ID:            m.st.next(),
		OrderNumber:   fmt.Sprintf("ORD-20240315-%08d", m.st.seq),
		UserID:        userID,
		Status:        status,
		PaymentStatus: paid,
		PaymentMethod: model.PaymentMethodStripe,
		Subtotal:      dec(total),
		GrandTotal:    dec(total),
		CreatedAt:     testNow,
	}
	m.st.orders[o.ID] = o
	return o
}
