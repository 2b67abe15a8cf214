package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/zyrae/internal/checkout"
	"github.com/hitoshi/zyrae/internal/model"
)

// CheckoutService は注文ハンドラーが必要とするインターフェース。
type CheckoutService interface {
	PlaceOrder(ctx context.Context, user *model.User, form checkout.ShippingForm, cart checkout.Cart) (*checkout.Receipt, error)
	ListForUser(ctx context.Context, userID model.ID) ([]model.Order, error)
}

// CheckoutHandler は注文確定と注文履歴のHTTPハンドラー。
type CheckoutHandler struct {
	checkout CheckoutService
	cart     CartService
}

// NewCheckoutHandler はCheckoutHandlerを生成する。
func NewCheckoutHandler(svc CheckoutService, cart CartService) *CheckoutHandler {
	return &CheckoutHandler{checkout: svc, cart: cart}
}

// PlaceOrder はカートの内容で注文を確定する。
// POST /api/checkout
func (h *CheckoutHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var form checkout.ShippingForm
	if err := decodeJSON(w, r, &form); err != nil {
		handleServiceError(w, err)
		return
	}

	receipt, err := h.checkout.PlaceOrder(r.Context(), user, form, h.cart)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

// ListOrders はログイン中ユーザーの注文履歴を新しい順に返す。
// GET /api/orders
func (h *CheckoutHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	orders, err := h.checkout.ListForUser(r.Context(), user.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}
