// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hitoshi/zyrae/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userContextKey はリクエストコンテキストにログイン中ユーザーを格納するためのキー。
var userContextKey = contextKey("user")

// SessionSource はログイン中ユーザーの取得に必要なインターフェース。
// session.Managerの部分集合として定義する。
type SessionSource interface {
	User() *model.User
}

// NewSessionMiddleware はセッションマネージャーのログイン状態を確認するミドルウェアを返す。
// 未ログインの場合は401を返す（UIはログイン画面へ遷移する）。
// 停止中のアカウントはセッションを保持していても403を返す。
// ログイン中ユーザーをリクエストコンテキストに注入する。
func NewSessionMiddleware(src SessionSource) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := src.User()
			if user == nil {
				WriteError(w, model.NewUnauthenticatedError())
				return
			}
			if user.IsBlocked {
				WriteError(w, model.NewAccountBlockedError())
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}
}

// NewAdminMiddleware は管理者権限を要求するミドルウェアを返す。
// NewSessionMiddlewareの後に配置する。
func NewAdminMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := UserFromContext(r.Context())
			if !ok {
				WriteError(w, model.NewUnauthenticatedError())
				return
			}
			if !user.IsAdmin() {
				WriteError(w, model.NewForbiddenError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserFromContext はリクエストコンテキストからログイン中ユーザーを取得する。
func UserFromContext(ctx context.Context) (*model.User, bool) {
	user, ok := ctx.Value(userContextKey).(*model.User)
	return user, ok && user != nil
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	user, ok := UserFromContext(ctx)
	if !ok || user.ID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return user.ID.String(), nil
}

// ContextWithUser はコンテキストにログイン中ユーザーを注入する。
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}
