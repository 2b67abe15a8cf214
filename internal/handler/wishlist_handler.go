package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/zyrae/internal/model"
	"github.com/hitoshi/zyrae/internal/wishlist"
)

// WishlistService はウィッシュリストハンドラーが必要とするインターフェース。
// wishlist.Managerが実装する。
type WishlistService interface {
	Items() []model.WishlistItem
	Refresh(ctx context.Context) error
	AddToWishlist(ctx context.Context, product model.Product) error
	RemoveFromWishlist(ctx context.Context, id model.ID) error
	RemoveByProductID(ctx context.Context, productID model.ID) error
	MoveToCart(ctx context.Context, item model.WishlistItem, cart wishlist.CartAdder) error
	ClearWishlist(ctx context.Context) error
}

// WishlistHandler はウィッシュリスト操作のHTTPハンドラー。
type WishlistHandler struct {
	wishlist WishlistService
	cart     *CartHandler
	catalog  *CatalogHandler
}

// NewWishlistHandler はWishlistHandlerを生成する。
func NewWishlistHandler(wl WishlistService, cart *CartHandler, catalog *CatalogHandler) *WishlistHandler {
	return &WishlistHandler{wishlist: wl, cart: cart, catalog: catalog}
}

// wishlistResponse はウィッシュリストの内容のレスポンス。
type wishlistResponse struct {
	Items []model.WishlistItem `json:"items"`
	Count int                  `json:"count"`
}

// moveToCartResponse はカート移動後の両コレクションのレスポンス。
type moveToCartResponse struct {
	Wishlist wishlistResponse `json:"wishlist"`
	Cart     cartResponse     `json:"cart"`
}

func (h *WishlistHandler) snapshot() wishlistResponse {
	items := h.wishlist.Items()
	if items == nil {
		items = []model.WishlistItem{}
	}
	return wishlistResponse{Items: items, Count: len(items)}
}

// Get はウィッシュリストの内容を返す。refresh=trueの場合はリモートから再読み込みする。
// GET /api/wishlist
func (h *WishlistHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") == "true" {
		if err := h.wishlist.Refresh(r.Context()); err != nil {
			handleServiceError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, h.snapshot())
}

// AddItem は商品をウィッシュリストに追加する。追加済みの商品は409を返す。
// POST /api/wishlist/items
func (h *WishlistHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	if req.ProductID == "" {
		handleServiceError(w, model.NewValidationError(model.FieldError{Field: "productId", Message: "productId is required."}))
		return
	}

	product, err := h.catalog.findProduct(r.Context(), req.ProductID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if err := h.wishlist.AddToWishlist(r.Context(), *product); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.snapshot())
}

// RemoveItem はウィッシュリスト項目を削除する。
// DELETE /api/wishlist/items/{id}
func (h *WishlistHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	id := model.ID(chi.URLParam(r, "id"))
	if err := h.wishlist.RemoveFromWishlist(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.snapshot())
}

// RemoveProduct は商品IDでウィッシュリスト項目を削除する（商品カードのハートの解除）。
// DELETE /api/wishlist/products/{productId}
func (h *WishlistHandler) RemoveProduct(w http.ResponseWriter, r *http.Request) {
	productID := model.ID(chi.URLParam(r, "productId"))
	if err := h.wishlist.RemoveByProductID(r.Context(), productID); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.snapshot())
}

// MoveToCart はウィッシュリスト項目をカートへ移動する。
// POST /api/wishlist/items/{id}/move-to-cart
func (h *WishlistHandler) MoveToCart(w http.ResponseWriter, r *http.Request) {
	id := model.ID(chi.URLParam(r, "id"))

	var target *model.WishlistItem
	for _, it := range h.wishlist.Items() {
		if it.ID == id {
			target = &it
			break
		}
	}
	if target == nil {
		handleServiceError(w, model.NewNotFoundError("ウィッシュリスト項目", id))
		return
	}

	if err := h.wishlist.MoveToCart(r.Context(), *target, h.cart.cart); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, moveToCartResponse{
		Wishlist: h.snapshot(),
		Cart:     h.cart.snapshot(),
	})
}

// Clear はウィッシュリストを空にする。
// DELETE /api/wishlist
func (h *WishlistHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.wishlist.ClearWishlist(r.Context()); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.snapshot())
}
