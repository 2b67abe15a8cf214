package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/zyrae/internal/model"
)

// CartService はカートハンドラーが必要とするインターフェース。
// cart.Managerが実装する。
type CartService interface {
	Items() []model.CartItem
	TotalPrice() string
	TotalItems() int
	Refresh(ctx context.Context) error
	AddToCart(ctx context.Context, product model.Product) error
	RemoveFromCart(ctx context.Context, id model.ID) error
	UpdateQuantity(ctx context.Context, id model.ID, quantity int) error
	ClearCart(ctx context.Context) error
	Settle(ctx context.Context, place func(ctx context.Context, items []model.CartItem) error) error
}

// CartHandler はカート操作のHTTPハンドラー。
type CartHandler struct {
	cart    CartService
	catalog *CatalogHandler
}

// NewCartHandler はCartHandlerを生成する。
// 追加する商品の価格・画像はクライアント入力ではなくカタログから取得する。
func NewCartHandler(cart CartService, catalog *CatalogHandler) *CartHandler {
	return &CartHandler{cart: cart, catalog: catalog}
}

// cartResponse はカートの内容と集計値のレスポンス。
type cartResponse struct {
	Items      []model.CartItem `json:"items"`
	TotalPrice string           `json:"totalPrice"`
	TotalItems int              `json:"totalItems"`
}

type addItemRequest struct {
	ProductID model.ID `json:"productId"`
}

type updateQuantityRequest struct {
	Quantity *int `json:"quantity"`
}

func (h *CartHandler) snapshot() cartResponse {
	items := h.cart.Items()
	if items == nil {
		items = []model.CartItem{}
	}
	return cartResponse{
		Items:      items,
		TotalPrice: h.cart.TotalPrice(),
		TotalItems: h.cart.TotalItems(),
	}
}

// Get はカートの内容を返す。refresh=trueの場合はリモートから再読み込みする。
// GET /api/cart
func (h *CartHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") == "true" {
		if err := h.cart.Refresh(r.Context()); err != nil {
			handleServiceError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, h.snapshot())
}

// AddItem は商品をカートに追加する。同一商品は数量を1増やす。
// POST /api/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
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

	if err := h.cart.AddToCart(r.Context(), *product); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.snapshot())
}

// UpdateQuantity はカート明細の数量を変更する。1未満の場合は明細を削除する。
// PUT /api/cart/items/{id}
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	var req updateQuantityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	if req.Quantity == nil {
		handleServiceError(w, model.NewValidationError(model.FieldError{Field: "quantity", Message: "quantity is required."}))
		return
	}

	id := model.ID(chi.URLParam(r, "id"))
	if err := h.cart.UpdateQuantity(r.Context(), id, *req.Quantity); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.snapshot())
}

// RemoveItem はカート明細を削除する。
// DELETE /api/cart/items/{id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	id := model.ID(chi.URLParam(r, "id"))
	if err := h.cart.RemoveFromCart(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.snapshot())
}

// Clear はカートを空にする。削除に失敗した明細はカートに残る。
// DELETE /api/cart
func (h *CartHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.cart.ClearCart(r.Context()); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.snapshot())
}
