package usecase

import (
	"context"
	"errors"
	"net/http"

	"hagerbet/internal/domain/model"
	repo "hagerbet/internal/repository"

	"github.com/shopspring/decimal"
)

// CartUsecase は /cart の業務ロジックです。
// Repositoryは Cart と CartItem を分離して受け取ります。
type CartUsecase struct {
	cartRepo     repo.CartRepository
	cartItemRepo repo.CartItemRepository
	productRepo  repo.ProductRepository
}

func NewCartUsecase(
	cartRepo repo.CartRepository,
	cartItemRepo repo.CartItemRepository,
	productRepo repo.ProductRepository,
) *CartUsecase {
	return &CartUsecase{
		cartRepo:     cartRepo,
		cartItemRepo: cartItemRepo,
		productRepo:  productRepo,
	}
}

// price は追加時点の価格を返します。
type CartItemResponse struct {
	ID          int64           `json:"id"`
	ProductID   int64           `json:"product_id"`
	VariantID   *int64          `json:"variant_id,omitempty"`
	Name        string          `json:"name"`
	VariantName string          `json:"variant_name,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int64           `json:"quantity"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

type CartResponse struct {
	Items []CartItemResponse `json:"items"`
	Total decimal.Decimal    `json:"total"`
}

type AddCartInput struct {
	ProductID int64
	VariantID *int64
	Quantity  int64
}

type UpdateCartItemInput struct {
	Quantity int64
}

// GetCart はカート取得（無ければACTIVEを作って空を返す）。
func (u *CartUsecase) GetCart(ctx context.Context, userID int64) (CartResponse, error) {
	if userID <= 0 {
		return CartResponse{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	cart, err := u.cartRepo.GetOrCreateActiveByUserID(ctx, userID)
	if err != nil {
		return CartResponse{}, dbError(err)
	}

	return u.buildCartResponse(ctx, cart.ID)
}

// AddToCart はカートに追加（同一商品・同一バリエーションは数量加算）。
func (u *CartUsecase) AddToCart(ctx context.Context, userID int64, in AddCartInput) (CartResponse, error) {
	if userID <= 0 {
		return CartResponse{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	fields := map[string]string{}
	if in.ProductID <= 0 {
		fields["product_id"] = "required"
	}
	if in.VariantID != nil && *in.VariantID <= 0 {
		fields["variant_id"] = "invalid"
	}
	if in.Quantity < 1 {
		fields["quantity"] = "must be at least 1"
	}
	if len(fields) > 0 {
		return CartResponse{}, ValidationError("invalid request", fields)
	}

	cart, err := u.cartRepo.GetOrCreateActiveByUserID(ctx, userID)
	if err != nil {
		return CartResponse{}, dbError(err)
	}

	p, err := u.productRepo.FindByID(ctx, in.ProductID)
	if errors.Is(err, repo.ErrNotFound) {
		return CartResponse{}, NotFoundError("product not found")
	}
	if err != nil {
		return CartResponse{}, dbError(err)
	}
	if !p.IsActive {
		return CartResponse{}, NotFoundError("product not found")
	}

	items, err := u.cartItemRepo.ListByCartID(ctx, cart.ID)
	if err != nil {
		return CartResponse{}, dbError(err)
	}
	var existingQty int64
	for _, it := range items {
		if it.ProductID == in.ProductID && variantKey(it.VariantID) == variantKey(in.VariantID) {
			existingQty = it.Quantity
			break
		}
	}
	newQty := existingQty + in.Quantity

	price := p.Price
	if in.VariantID != nil {
		v, err := u.productRepo.FindVariantByID(ctx, *in.VariantID)
		if errors.Is(err, repo.ErrNotFound) || (err == nil && v.ProductID != p.ID) {
			return CartResponse{}, NotFoundError("variant not found")
		}
		if err != nil {
			return CartResponse{}, dbError(err)
		}
		if !v.IsAvailable(newQty) {
			return CartResponse{}, InventoryError("insufficient stock for " + p.Name + " (" + v.Name + ")")
		}
		price = v.Price
	} else if !p.IsAvailable(newQty) {
		return CartResponse{}, InventoryError("insufficient stock for " + p.Name)
	}

	// 追加時点の価格を保存
	if err := u.cartItemRepo.Upsert(ctx, model.CartItem{
		CartID:    cart.ID,
		ProductID: p.ID,
		VariantID: in.VariantID,
		Quantity:  in.Quantity,
		Price:     price,
	}); err != nil {
		return CartResponse{}, dbError(err)
	}

	return u.buildCartResponse(ctx, cart.ID)
}

// 数量変更（所有チェック＋在庫チェック）。
func (u *CartUsecase) UpdateCartItem(ctx context.Context, userID int64, cartItemID int64, in UpdateCartItemInput) (CartResponse, error) {
	if userID <= 0 {
		return CartResponse{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if cartItemID <= 0 {
		return CartResponse{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if in.Quantity < 1 {
		return CartResponse{}, ValidationError("invalid request", map[string]string{"quantity": "must be at least 1"})
	}

	item, err := u.ownedItem(ctx, userID, cartItemID)
	if err != nil {
		return CartResponse{}, err
	}

	p, err := u.productRepo.FindByID(ctx, item.ProductID)
	if errors.Is(err, repo.ErrNotFound) {
		return CartResponse{}, NotFoundError("product not found")
	}
	if err != nil {
		return CartResponse{}, dbError(err)
	}
	if item.VariantID != nil {
		v, err := u.productRepo.FindVariantByID(ctx, *item.VariantID)
		if errors.Is(err, repo.ErrNotFound) {
			return CartResponse{}, NotFoundError("variant not found")
		}
		if err != nil {
			return CartResponse{}, dbError(err)
		}
		if !p.IsActive || !v.IsAvailable(in.Quantity) {
			return CartResponse{}, InventoryError("insufficient stock for " + p.Name + " (" + v.Name + ")")
		}
	} else if !p.IsAvailable(in.Quantity) {
		return CartResponse{}, InventoryError("insufficient stock for " + p.Name)
	}

	if err := u.cartItemRepo.UpdateQuantity(ctx, cartItemID, in.Quantity); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return CartResponse{}, NotFoundError("cart item not found")
		}
		return CartResponse{}, dbError(err)
	}

	return u.buildCartResponse(ctx, item.CartID)
}

// 明細削除
func (u *CartUsecase) DeleteCartItem(ctx context.Context, userID int64, cartItemID int64) (CartResponse, error) {
	if userID <= 0 {
		return CartResponse{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if cartItemID <= 0 {
		return CartResponse{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	item, err := u.ownedItem(ctx, userID, cartItemID)
	if err != nil {
		return CartResponse{}, err
	}

	if err := u.cartItemRepo.DeleteByID(ctx, cartItemID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return CartResponse{}, NotFoundError("cart item not found")
		}
		return CartResponse{}, dbError(err)
	}

	return u.buildCartResponse(ctx, item.CartID)
}

func (u *CartUsecase) ownedItem(ctx context.Context, userID, cartItemID int64) (model.CartItem, error) {
	owned, err := u.cartItemRepo.IsOwnedByUser(ctx, cartItemID, userID)
	if err != nil {
		return model.CartItem{}, dbError(err)
	}
	if !owned {
		return model.CartItem{}, NotFoundError("cart item not found")
	}
	item, err := u.cartItemRepo.FindByID(ctx, cartItemID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.CartItem{}, NotFoundError("cart item not found")
	}
	if err != nil {
		return model.CartItem{}, dbError(err)
	}
	return item, nil
}

// cartIDの明細をまとめてCartResponseを作る。
func (u *CartUsecase) buildCartResponse(ctx context.Context, cartID int64) (CartResponse, error) {
	items, err := u.cartItemRepo.ListByCartID(ctx, cartID)
	if err != nil {
		return CartResponse{}, dbError(err)
	}

	resp := CartResponse{Items: make([]CartItemResponse, 0, len(items))}
	for _, it := range items {
		p, err := u.productRepo.FindByID(ctx, it.ProductID)
		if err != nil {
			continue
		}

		row := CartItemResponse{
			ID:        it.ID,
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Name:      p.Name,
			Price:     it.Price,
			Quantity:  it.Quantity,
			LineTotal: it.LineTotal(),
		}
		if it.VariantID != nil {
			if v, err := u.productRepo.FindVariantByID(ctx, *it.VariantID); err == nil {
				row.VariantName = v.Name
			}
		}
		resp.Items = append(resp.Items, row)
	}
	resp.Total = model.CartSubtotal(items)
	return resp, nil
}
