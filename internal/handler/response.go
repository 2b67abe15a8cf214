// Package handler はUI向けのJSON APIハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/zyrae/internal/middleware"
	"github.com/hitoshi/zyrae/internal/model"
)

// maxBodyBytes はリクエストボディの上限サイズ。
const maxBodyBytes = 1 << 20

// writeJSON はステータスコードとJSONボディを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをvにデコードする。
// 不正なJSONはバリデーションエラーとして返す。空ボディはエラーにしない。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return model.NewValidationError(model.FieldError{Field: "body", Message: "Request body must be valid JSON."})
	}
	return nil
}

// handleServiceError はサービス層・マネージャーから返されたエラーを統一フォーマットで書き込む。
// APIError以外のエラーはログに記録し、詳細を隠して500を返す。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		slog.Error("internal server error", slog.String("error", err.Error()))
	} else if apiErr.Err != nil {
		slog.Warn("operation failed",
			slog.String("code", apiErr.Code),
			slog.String("error", apiErr.Err.Error()),
		)
	}
	middleware.WriteError(w, err)
}

// currentUser はセッションミドルウェアが注入したログイン中ユーザーを返す。
func currentUser(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, model.NewUnauthenticatedError())
		return nil, false
	}
	return user, true
}

// userResponse はパスワードを除いたユーザー情報のレスポンス。
type userResponse struct {
	ID        model.ID   `json:"id"`
	FirstName string     `json:"fname"`
	LastName  string     `json:"lname"`
	Email     string     `json:"email"`
	Role      model.Role `json:"role"`
	IsBlocked bool       `json:"isBlocked"`
}

func toUserResponse(u *model.User) *userResponse {
	if u == nil {
		return nil
	}
	return &userResponse{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
		Role:      u.Role,
		IsBlocked: u.IsBlocked,
	}
}
