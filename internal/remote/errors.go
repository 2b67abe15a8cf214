package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrCircuitOpen はサーキットブレーカーが開いておりリクエストを送信しなかったことを示す。
var ErrCircuitOpen = errors.New("remote: circuit breaker is open")

// StatusError はデータAPIが2xx以外のステータスを返したことを表す。
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("データAPIが %s %s に対してステータス %d を返しました", e.Method, e.Path, e.StatusCode)
}

// outcome はHTTPステータスコードの分類。
type outcome int

const (
	outcomeOK outcome = iota
	outcomeNotFound
	outcomeRejected
	outcomeUnavailable
)

// classifyStatus はHTTPステータスコードを分類する。
// 429と5xxは一時的な障害として扱い、サーキットブレーカーの失敗に数える。
func classifyStatus(statusCode int) outcome {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return outcomeOK
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
		return outcomeNotFound
	case statusCode == http.StatusTooManyRequests:
		return outcomeUnavailable
	case statusCode >= 500:
		return outcomeUnavailable
	default:
		return outcomeRejected
	}
}

// IsUnavailable はエラーがデータAPIの利用不可（通信失敗、5xx、429、ブレーカー開放）
// によるものかを判定する。4xxの応答はfalseを返す。
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return classifyStatus(se.StatusCode) == outcomeUnavailable
	}
	return true
}

// IsNotFound はエラーが404/410応答によるものかを判定する。
func IsNotFound(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return classifyStatus(se.StatusCode) == outcomeNotFound
	}
	return false
}

// countsAsFailure はブレーカーの失敗として数えるかを判定する。
// 呼び出し元のキャンセルはデータAPIの障害ではないため数えない。
func countsAsFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return IsUnavailable(err)
}
