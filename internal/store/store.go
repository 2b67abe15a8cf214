// Package store は永続キーバリューストアのアダプタを提供する。
// ブラウザのlocalStorageに相当し、JSON文字列を固定キーで保存する。
// 上位のコンポーネントはBackendに直接触れず、必ずAdapterを経由する。
package store

import (
	"context"
	"errors"

	"github.com/hitoshi/zyrae/internal/broadcast"
)

// 永続化キー
const (
	KeyUser       = "user"
	KeyCart       = "cart"
	KeyWishlist   = "wishlist"
	KeyAuthLogout = "auth-logout"
)

// LogoutFlag は KeyAuthLogout に書き込む値。「直前にログアウトが発生した」ことを示す。
const LogoutFlag = "true"

var (
	// ErrStorageFail はバックエンドへの読み書きに失敗したことを示す。
	ErrStorageFail = errors.New("storage operation failed")
	// ErrCorrupt は保存値がJSONとして解釈できないことを示す。
	ErrCorrupt = errors.New("stored value is corrupt")
)

// Backend は文字列値を保存するキーバリューストアのインターフェース。
type Backend interface {
	// Get は値を取得する。キーが存在しない場合は ok=false を返す。
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Put は値を上書き保存する。
	Put(ctx context.Context, key, value string) error
	// Delete はキーを削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, key string) error
	// Close はバックエンドのリソースを解放する。
	Close() error
}

// Relay はプロセスをまたいで変更イベントを中継するインターフェース。
// 複数プロセスが同じBackendを共有する場合に使用する。
type Relay interface {
	// Publish はイベントを他プロセスへ送信する。
	Publish(ctx context.Context, ev broadcast.Event) error
	// Listen は他プロセスからのイベントを受信するたびにfnを呼ぶ。
	// ctxがキャンセルされるまでブロックする。
	Listen(ctx context.Context, fn func(broadcast.Event)) error
}
