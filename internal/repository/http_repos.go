package repository

import (
	"context"
	"fmt"
	"net/url"

	"github.com/hitoshi/zyrae/internal/model"
	"github.com/hitoshi/zyrae/internal/remote"
)

// コレクションのパス
const (
	pathUsers    = "/users"
	pathProducts = "/products"
	pathCart     = "/cart"
	pathWishlist = "/wishlist"
	pathOrders   = "/orders"
)

func itemPath(collection string, id model.ID) string {
	return collection + "/" + url.PathEscape(id.String())
}

// list はコレクション全体を取得する。
func list[T any](ctx context.Context, r Remote, collection string) ([]T, error) {
	var out []T
	if err := r.Get(ctx, collection, &out); err != nil {
		return nil, fmt.Errorf("%s の取得に失敗しました: %w", collection, err)
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}

// create はレコードを作成する。応答に含まれない項目は送信値のまま返す。
func create[T any](ctx context.Context, r Remote, collection string, in *T) (*T, error) {
	out := *in
	if err := r.Post(ctx, collection, in, &out); err != nil {
		return nil, fmt.Errorf("%s への作成に失敗しました: %w", collection, err)
	}
	return &out, nil
}

func replace[T any](ctx context.Context, r Remote, collection string, id model.ID, in *T) (*T, error) {
	out := *in
	if err := r.Put(ctx, itemPath(collection, id), in, &out); err != nil {
		return nil, fmt.Errorf("%s/%s の更新に失敗しました: %w", collection, id, err)
	}
	return &out, nil
}

func remove(ctx context.Context, r Remote, collection string, id model.ID) error {
	if err := r.Delete(ctx, itemPath(collection, id)); err != nil {
		return fmt.Errorf("%s/%s の削除に失敗しました: %w", collection, id, err)
	}
	return nil
}

// HTTPUserRepo はUserRepositoryのデータAPI実装。
type HTTPUserRepo struct {
	remote Remote
}

// NewHTTPUserRepo は新しいHTTPUserRepoを生成する。
func NewHTTPUserRepo(r Remote) *HTTPUserRepo {
	return &HTTPUserRepo{remote: r}
}

func (r *HTTPUserRepo) List(ctx context.Context) ([]model.User, error) {
	return list[model.User](ctx, r.remote, pathUsers)
}

func (r *HTTPUserRepo) Create(ctx context.Context, user *model.User) (*model.User, error) {
	return create(ctx, r.remote, pathUsers, user)
}

func (r *HTTPUserRepo) Replace(ctx context.Context, user *model.User) (*model.User, error) {
	return replace(ctx, r.remote, pathUsers, user.ID, user)
}

// HTTPProductRepo はProductRepositoryのデータAPI実装。
type HTTPProductRepo struct {
	remote Remote
}

// NewHTTPProductRepo は新しいHTTPProductRepoを生成する。
func NewHTTPProductRepo(r Remote) *HTTPProductRepo {
	return &HTTPProductRepo{remote: r}
}

func (r *HTTPProductRepo) List(ctx context.Context) ([]model.Product, error) {
	return list[model.Product](ctx, r.remote, pathProducts)
}

// FindByID は指定IDの商品を取得する。404の場合はnil, nilを返す。
func (r *HTTPProductRepo) FindByID(ctx context.Context, id model.ID) (*model.Product, error) {
	var p model.Product
	if err := r.remote.Get(ctx, itemPath(pathProducts, id), &p); err != nil {
		if remote.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("商品 %s の取得に失敗しました: %w", id, err)
	}
	return &p, nil
}

func (r *HTTPProductRepo) Create(ctx context.Context, product *model.Product) (*model.Product, error) {
	return create(ctx, r.remote, pathProducts, product)
}

func (r *HTTPProductRepo) Replace(ctx context.Context, product *model.Product) (*model.Product, error) {
	return replace(ctx, r.remote, pathProducts, product.ID, product)
}

func (r *HTTPProductRepo) Delete(ctx context.Context, id model.ID) error {
	return remove(ctx, r.remote, pathProducts, id)
}

// HTTPCartRepo はCartRepositoryのデータAPI実装。
type HTTPCartRepo struct {
	remote Remote
}

// NewHTTPCartRepo は新しいHTTPCartRepoを生成する。
func NewHTTPCartRepo(r Remote) *HTTPCartRepo {
	return &HTTPCartRepo{remote: r}
}

func (r *HTTPCartRepo) List(ctx context.Context) ([]model.CartItem, error) {
	return list[model.CartItem](ctx, r.remote, pathCart)
}

func (r *HTTPCartRepo) Create(ctx context.Context, item *model.CartItem) (*model.CartItem, error) {
	return create(ctx, r.remote, pathCart, item)
}

func (r *HTTPCartRepo) Replace(ctx context.Context, item *model.CartItem) (*model.CartItem, error) {
	return replace(ctx, r.remote, pathCart, item.ID, item)
}

func (r *HTTPCartRepo) Delete(ctx context.Context, id model.ID) error {
	return remove(ctx, r.remote, pathCart, id)
}

// HTTPWishlistRepo はWishlistRepositoryのデータAPI実装。
type HTTPWishlistRepo struct {
	remote Remote
}

// NewHTTPWishlistRepo は新しいHTTPWishlistRepoを生成する。
func NewHTTPWishlistRepo(r Remote) *HTTPWishlistRepo {
	return &HTTPWishlistRepo{remote: r}
}

func (r *HTTPWishlistRepo) List(ctx context.Context) ([]model.WishlistItem, error) {
	return list[model.WishlistItem](ctx, r.remote, pathWishlist)
}

func (r *HTTPWishlistRepo) Create(ctx context.Context, item *model.WishlistItem) (*model.WishlistItem, error) {
	return create(ctx, r.remote, pathWishlist, item)
}

func (r *HTTPWishlistRepo) Delete(ctx context.Context, id model.ID) error {
	return remove(ctx, r.remote, pathWishlist, id)
}

// HTTPOrderRepo はOrderRepositoryのデータAPI実装。
type HTTPOrderRepo struct {
	remote Remote
}

// NewHTTPOrderRepo は新しいHTTPOrderRepoを生成する。
func NewHTTPOrderRepo(r Remote) *HTTPOrderRepo {
	return &HTTPOrderRepo{remote: r}
}

func (r *HTTPOrderRepo) List(ctx context.Context) ([]model.Order, error) {
	return list[model.Order](ctx, r.remote, pathOrders)
}

func (r *HTTPOrderRepo) Create(ctx context.Context, order *model.Order) (*model.Order, error) {
	return create(ctx, r.remote, pathOrders, order)
}

func (r *HTTPOrderRepo) Replace(ctx context.Context, order *model.Order) (*model.Order, error) {
	return replace(ctx, r.remote, pathOrders, order.ID, order)
}

// インターフェース準拠のコンパイル時チェック
var (
	_ UserRepository     = (*HTTPUserRepo)(nil)
	_ ProductRepository  = (*HTTPProductRepo)(nil)
	_ CartRepository     = (*HTTPCartRepo)(nil)
	_ WishlistRepository = (*HTTPWishlistRepo)(nil)
	_ OrderRepository    = (*HTTPOrderRepo)(nil)
	_ Remote             = (*remote.Client)(nil)
)
