package model

import (
	"errors"
	"fmt"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// マネージャーはリモート呼び出しの失敗をこの形式に変換して保持し、UIはMessageを表示する。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, cart, wishlist, order, system
	Action   string // ユーザー向け対処方法
	Err      error  // 原因（ログ用。UIには出さない）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeAccountBlocked     = "ACCOUNT_BLOCKED"
	ErrCodeDuplicateEmail     = "DUPLICATE_EMAIL"
	ErrCodeRemoteUnavailable  = "REMOTE_UNAVAILABLE"
	ErrCodeAlreadyInWishlist  = "ALREADY_IN_WISHLIST"
	ErrCodeStorageFailed      = "STORAGE_FAILED"
	ErrCodeUnauthenticated    = "UNAUTHENTICATED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeEmptyCart          = "EMPTY_CART"
)

// CodeOf はエラーチェーンからAPIErrorのコードを取り出す。APIErrorでなければ空文字を返す。
func CodeOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// HasCode はエラーチェーンに指定コードのAPIErrorが含まれるかを返す。
func HasCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

// FieldError は入力項目単位のバリデーションエラー。
type FieldError struct {
	Field   string
	Message string
}

// NewValidationError はバリデーションエラーを生成する。
// リモート呼び出しの前に送信をブロックするためのもの。
func NewValidationError(fields ...FieldError) *APIError {
	msgs := make([]string, 0, len(fields))
	for _, f := range fields {
		msgs = append(msgs, f.Message)
	}
	msg := "入力内容に誤りがあります。"
	if len(msgs) > 0 {
		msg = strings.Join(msgs, " ")
	}
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  msg,
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidCredentialsError はメールアドレスまたはパスワードの不一致エラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "Invalid email or password",
		Category: "auth",
		Action:   "メールアドレスとパスワードを確認してください。",
	}
}

// NewAccountBlockedError はアカウント停止エラーを生成する。
func NewAccountBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountBlocked,
		Message:  "Your account has been blocked. Please contact administrator.",
		Category: "auth",
		Action:   "管理者に問い合わせてください。",
	}
}

// NewDuplicateEmailError はメールアドレス重複エラーを生成する。
func NewDuplicateEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateEmail,
		Message:  "User with this email already exists",
		Category: "auth",
		Action:   "別のメールアドレスで登録するか、ログインしてください。",
	}
}

// NewRemoteUnavailableError はデータAPIの呼び出し失敗エラーを生成する。
// whatには失敗した操作の説明（"Failed to add item to cart" 等）を渡す。
func NewRemoteUnavailableError(what string, cause error) *APIError {
	return &APIError{
		Code:     ErrCodeRemoteUnavailable,
		Message:  what,
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Err:      cause,
	}
}

// NewAlreadyInWishlistError はウィッシュリスト重複エラーを生成する。
func NewAlreadyInWishlistError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyInWishlist,
		Message:  "Item already in wishlist",
		Category: "wishlist",
		Action:   "ウィッシュリストを確認してください。",
	}
}

// NewStorageFailedError はローカルストレージへの書き込み失敗エラーを生成する。
func NewStorageFailedError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeStorageFailed,
		Message:  "ローカルストレージへの保存に失敗しました。",
		Category: "system",
		Action:   "ページを再読み込みしてください。",
		Err:      cause,
	}
}

// NewUnauthenticatedError は未ログインエラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "ログインが必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "管理者アカウントでログインしてください。",
	}
}

// NewNotFoundError は指定リソースが見つからない場合のエラーを生成する。
func NewNotFoundError(resource string, id ID) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("指定された%sが見つかりません: %s", resource, id),
		Category: "system",
		Action:   "IDを確認してください。",
	}
}

// NewEmptyCartError はカートが空の状態で注文しようとした場合のエラーを生成する。
func NewEmptyCartError() *APIError {
	return &APIError{
		Code:     ErrCodeEmptyCart,
		Message:  "Your Cart is Empty",
		Category: "order",
		Action:   "商品をカートに追加してから注文してください。",
	}
}
