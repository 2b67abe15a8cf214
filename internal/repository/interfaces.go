// Package repository はデータ永続化のインターフェースを定義する。
// 永続化は外部データAPIが担い、実装はremote.Client越しにコレクションを操作する。
package repository

import (
	"context"

	"github.com/hitoshi/zyrae/internal/model"
)

// Remote はリポジトリが利用するデータAPIクライアントのインターフェース。
type Remote interface {
	Get(ctx context.Context, path string, out any) error
	Post(ctx context.Context, path string, in, out any) error
	Put(ctx context.Context, path string, in, out any) error
	Delete(ctx context.Context, path string) error
}

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// List は全ユーザーを取得する。
	List(ctx context.Context) ([]model.User, error)
	// Create はユーザーを作成し、データAPIが返したレコードを返す。
	Create(ctx context.Context, user *model.User) (*model.User, error)
	// Replace はユーザーレコード全体を置き換える。
	Replace(ctx context.Context, user *model.User) (*model.User, error)
}

// ProductRepository は商品データの永続化インターフェース。
type ProductRepository interface {
	List(ctx context.Context) ([]model.Product, error)
	// FindByID は指定IDの商品を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id model.ID) (*model.Product, error)
	Create(ctx context.Context, product *model.Product) (*model.Product, error)
	Replace(ctx context.Context, product *model.Product) (*model.Product, error)
	Delete(ctx context.Context, id model.ID) error
}

// CartRepository はカート明細の永続化インターフェース。
type CartRepository interface {
	List(ctx context.Context) ([]model.CartItem, error)
	Create(ctx context.Context, item *model.CartItem) (*model.CartItem, error)
	// Replace は明細行全体を置き換える（数量変更に使用）。
	Replace(ctx context.Context, item *model.CartItem) (*model.CartItem, error)
	Delete(ctx context.Context, id model.ID) error
}

// WishlistRepository はウィッシュリスト項目の永続化インターフェース。
type WishlistRepository interface {
	List(ctx context.Context) ([]model.WishlistItem, error)
	Create(ctx context.Context, item *model.WishlistItem) (*model.WishlistItem, error)
	Delete(ctx context.Context, id model.ID) error
}

// OrderRepository は注文データの永続化インターフェース。
type OrderRepository interface {
	List(ctx context.Context) ([]model.Order, error)
	Create(ctx context.Context, order *model.Order) (*model.Order, error)
	Replace(ctx context.Context, order *model.Order) (*model.Order, error)
}
