package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/zyrae/internal/admin"
	"github.com/hitoshi/zyrae/internal/model"
)

// AdminService は管理コンソールハンドラーが必要とするインターフェース。
// admin.Serviceが実装する。
type AdminService interface {
	Dashboard(ctx context.Context) (*admin.Dashboard, error)
	ListUsers(ctx context.Context, search string) ([]model.User, error)
	ToggleBlock(ctx context.Context, userID model.ID) (*model.User, error)
	ListProducts(ctx context.Context, search string) ([]model.Product, error)
	AddProduct(ctx context.Context, in admin.ProductInput) (*model.Product, error)
	UpdateProduct(ctx context.Context, id model.ID, edit admin.ProductEdit) (*model.Product, error)
	DeleteProduct(ctx context.Context, id model.ID) error
	ListOrders(ctx context.Context, f admin.OrderFilter) ([]model.Order, error)
	UpdateOrderStatus(ctx context.Context, id model.ID, status model.OrderStatus) (*model.Order, error)
}

// AdminHandler は管理コンソールのHTTPハンドラー。
// 管理者権限の確認はNewAdminMiddlewareで行う。
type AdminHandler struct {
	admin AdminService
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(svc AdminService) *AdminHandler {
	return &AdminHandler{admin: svc}
}

type orderStatusRequest struct {
	Status model.OrderStatus `json:"status"`
}

// Dashboard は集計結果を返す。
// GET /api/admin/dashboard
func (h *AdminHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.admin.Dashboard(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// ListUsers はユーザー一覧を返す。
// GET /api/admin/users?search=
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.admin.ListUsers(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	result := make([]*userResponse, 0, len(users))
	for i := range users {
		result = append(result, toUserResponse(&users[i]))
	}
	writeJSON(w, http.StatusOK, result)
}

// ToggleBlock はユーザーの停止状態を反転する。
// POST /api/admin/users/{id}/toggle-block
func (h *AdminHandler) ToggleBlock(w http.ResponseWriter, r *http.Request) {
	user, err := h.admin.ToggleBlock(r.Context(), model.ID(chi.URLParam(r, "id")))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// ListProducts は商品一覧を返す。
// GET /api/admin/products?search=
func (h *AdminHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.admin.ListProducts(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if products == nil {
		products = []model.Product{}
	}
	writeJSON(w, http.StatusOK, products)
}

// AddProduct は商品を追加する。
// POST /api/admin/products
func (h *AdminHandler) AddProduct(w http.ResponseWriter, r *http.Request) {
	var in admin.ProductInput
	if err := decodeJSON(w, r, &in); err != nil {
		handleServiceError(w, err)
		return
	}
	p, err := h.admin.AddProduct(r.Context(), in)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// UpdateProduct は商品を編集する。
// PUT /api/admin/products/{id}
func (h *AdminHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	var edit admin.ProductEdit
	if err := decodeJSON(w, r, &edit); err != nil {
		handleServiceError(w, err)
		return
	}
	p, err := h.admin.UpdateProduct(r.Context(), model.ID(chi.URLParam(r, "id")), edit)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// DeleteProduct は商品を削除する。
// DELETE /api/admin/products/{id}
func (h *AdminHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.DeleteProduct(r.Context(), model.ID(chi.URLParam(r, "id"))); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListOrders は注文一覧を返す。
// GET /api/admin/orders?search=&status=
func (h *AdminHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	orders, err := h.admin.ListOrders(r.Context(), admin.OrderFilter{
		Search: q.Get("search"),
		Status: q.Get("status"),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// UpdateOrderStatus は注文状態を変更する。
// PUT /api/admin/orders/{id}/status
func (h *AdminHandler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req orderStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	o, err := h.admin.UpdateOrderStatus(r.Context(), model.ID(chi.URLParam(r, "id")), req.Status)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
