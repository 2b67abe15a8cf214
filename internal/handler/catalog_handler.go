package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/zyrae/internal/model"
)

// ProductReader は商品カタログの読み取りインターフェース。
// repository.ProductRepositoryの部分集合として定義する。
type ProductReader interface {
	List(ctx context.Context) ([]model.Product, error)
	FindByID(ctx context.Context, id model.ID) (*model.Product, error)
}

// CatalogHandler は商品カタログ（読み取り専用）のHTTPハンドラー。
type CatalogHandler struct {
	products ProductReader
}

// NewCatalogHandler はCatalogHandlerを生成する。
func NewCatalogHandler(products ProductReader) *CatalogHandler {
	return &CatalogHandler{products: products}
}

// List は商品一覧を返す。
// GET /api/products?collection=&q=&featured=true
func (h *CatalogHandler) List(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		handleServiceError(w, model.NewRemoteUnavailableError("Failed to fetch products", err))
		return
	}

	q := r.URL.Query()
	collection := strings.TrimSpace(q.Get("collection"))
	search := strings.ToLower(strings.TrimSpace(q.Get("q")))
	featuredOnly := q.Get("featured") == "true"

	result := make([]model.Product, 0, len(products))
	for _, p := range products {
		if collection != "" && !strings.EqualFold(p.Collection, collection) {
			continue
		}
		if featuredOnly && !p.Featured {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(p.Name), search) {
			continue
		}
		result = append(result, p)
	}

	writeJSON(w, http.StatusOK, result)
}

// Get は商品1件を返す。
// GET /api/products/{id}
func (h *CatalogHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := model.ID(chi.URLParam(r, "id"))
	product, err := h.findProduct(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

// findProduct は商品を取得する。存在しなければNOT_FOUNDを返す。
func (h *CatalogHandler) findProduct(ctx context.Context, id model.ID) (*model.Product, error) {
	product, err := h.products.FindByID(ctx, id)
	if err != nil {
		return nil, model.NewRemoteUnavailableError("Failed to fetch product", err)
	}
	if product == nil {
		return nil, model.NewNotFoundError("商品", id)
	}
	return product, nil
}
