package middleware

import (
	"log/slog"
	"mime"
	"net/http"

	"github.com/hitoshi/zyrae/internal/model"
)

// NewJSONOnlyMiddleware は状態変更リクエストにContent-Type: application/jsonを要求するミドルウェアを返す。
// フォーム送信など単純リクエストはプリフライトを伴わないため、ここで拒否してクロスサイトからの操作を防ぐ。
// 安全なメソッド（GET, HEAD, OPTIONS）は検証をスキップする。
func NewJSONOnlyMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if err != nil || mediaType != "application/json" {
				slog.Warn("rejected non-JSON request",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(w, http.StatusUnsupportedMediaType, &model.APIError{
					Code:     "UNSUPPORTED_MEDIA_TYPE",
					Message:  "Content-Type must be application/json.",
					Category: "validation",
					Action:   "JSON形式で送信してください。",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// isSafeMethod はHTTPメソッドが安全（読み取り専用）かどうかを判定する。
func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}
