package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitoshi/zyrae/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// statusByCode はエラーコードとHTTPステータスの対応表。
var statusByCode = map[string]int{
	model.ErrCodeValidation:         http.StatusBadRequest,
	model.ErrCodeEmptyCart:          http.StatusBadRequest,
	model.ErrCodeInvalidCredentials: http.StatusUnauthorized,
	model.ErrCodeUnauthenticated:    http.StatusUnauthorized,
	model.ErrCodeAccountBlocked:     http.StatusForbidden,
	model.ErrCodeForbidden:          http.StatusForbidden,
	model.ErrCodeNotFound:           http.StatusNotFound,
	model.ErrCodeDuplicateEmail:     http.StatusConflict,
	model.ErrCodeAlreadyInWishlist:  http.StatusConflict,
	model.ErrCodeRemoteUnavailable:  http.StatusBadGateway,
	model.ErrCodeStorageFailed:      http.StatusInternalServerError,
}

// StatusFor はエラーに対応するHTTPステータスコードを返す。
// APIError以外は500として扱う。
func StatusFor(err error) int {
	if status, ok := statusByCode[model.CodeOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteError はエラーを統一エラーフォーマットで書き込む。
// APIErrorを含まないエラーは詳細を隠して内部エラーとして返す。
func WriteError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		WriteInternalServerError(w)
		return
	}
	WriteErrorResponse(w, StatusFor(apiErr), apiErr)
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}
