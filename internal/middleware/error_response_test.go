package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/zyrae/internal/model"
)

// TestWriteErrorResponse_WritesUnifiedFormat は統一エラーフォーマットでレスポンスが書き込まれることを検証する。
func TestWriteErrorResponse_WritesUnifiedFormat(t *testing.T) {
	w := httptest.NewRecorder()

	apiErr := &model.APIError{
		Code:     "TEST_ERROR",
		Message:  "テストエラーです。",
		Category: "validation",
		Action:   "正しい値を入力してください。",
	}

	WriteErrorResponse(w, http.StatusBadRequest, apiErr)

	resp := w.Result()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}

	if body.Code != "TEST_ERROR" {
		t.Errorf("code = %q, want %q", body.Code, "TEST_ERROR")
	}
	if body.Message != "テストエラーです。" {
		t.Errorf("message = %q, want %q", body.Message, "テストエラーです。")
	}
	if body.Category != "validation" {
		t.Errorf("category = %q, want %q", body.Category, "validation")
	}
	if body.Action != "正しい値を入力してください。" {
		t.Errorf("action = %q, want %q", body.Action, "正しい値を入力してください。")
	}
}

// TestStatusFor_MapsErrorCodes はエラーコードごとのHTTPステータス対応を検証する。
func TestStatusFor_MapsErrorCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"Validation", model.NewValidationError(model.FieldError{Field: "email", Message: "bad"}), http.StatusBadRequest},
		{"EmptyCart", model.NewEmptyCartError(), http.StatusBadRequest},
		{"InvalidCredentials", model.NewInvalidCredentialsError(), http.StatusUnauthorized},
		{"Unauthenticated", model.NewUnauthenticatedError(), http.StatusUnauthorized},
		{"Blocked", model.NewAccountBlockedError(), http.StatusForbidden},
		{"Forbidden", model.NewForbiddenError(), http.StatusForbidden},
		{"NotFound", model.NewNotFoundError("商品", "p1"), http.StatusNotFound},
		{"DuplicateEmail", model.NewDuplicateEmailError(), http.StatusConflict},
		{"AlreadyInWishlist", model.NewAlreadyInWishlistError(), http.StatusConflict},
		{"RemoteUnavailable", model.NewRemoteUnavailableError("Failed to fetch cart", errors.New("boom")), http.StatusBadGateway},
		{"StorageFailed", model.NewStorageFailedError(errors.New("disk full")), http.StatusInternalServerError},
		{"Wrapped", fmt.Errorf("wrapped: %w", model.NewForbiddenError()), http.StatusForbidden},
		{"Plain", errors.New("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusFor(tt.err); got != tt.want {
				t.Errorf("StatusFor() = %d, want %d", got, tt.want)
			}
		})
	}
}

// TestWriteError_UsesAPIErrorBody はAPIErrorがステータス対応付きで書き込まれることを検証する。
func TestWriteError_UsesAPIErrorBody(t *testing.T) {
	w := httptest.NewRecorder()

	WriteError(w, fmt.Errorf("login: %w", model.NewAccountBlockedError()))

	resp := w.Result()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != model.ErrCodeAccountBlocked {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeAccountBlocked)
	}
	if body.Message != "Your account has been blocked. Please contact administrator." {
		t.Errorf("message = %q", body.Message)
	}
}

// TestWriteError_HidesPlainErrors はAPIError以外のエラー詳細がレスポンスに出ないことを検証する。
func TestWriteError_HidesPlainErrors(t *testing.T) {
	w := httptest.NewRecorder()

	WriteError(w, errors.New("pq: connection refused"))

	resp := w.Result()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusInternalServerError)
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want %q", body.Code, "INTERNAL_ERROR")
	}
}

// TestInternalServerError_ReturnsSystemError は内部エラーが統一フォーマットで返ることを検証する。
func TestInternalServerError_ReturnsSystemError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteInternalServerError(w)

	resp := w.Result()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusInternalServerError)
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}

	if body.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want %q", body.Code, "INTERNAL_ERROR")
	}
	if body.Category != "system" {
		t.Errorf("category = %q, want %q", body.Category, "system")
	}
	if body.Action == "" {
		t.Error("action should not be empty")
	}
}

// TestErrorResponseBody_AllFieldsPresent は全フィールドがJSONレスポンスに含まれることを検証する。
func TestErrorResponseBody_AllFieldsPresent(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     "CODE",
		Message:  "MSG",
		Category: "CAT",
		Action:   "ACT",
	})

	var raw map[string]interface{}
	if err := json.NewDecoder(w.Result().Body).Decode(&raw); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}

	requiredFields := []string{"code", "message", "category", "action"}
	for _, field := range requiredFields {
		if _, ok := raw[field]; !ok {
			t.Errorf("missing required field: %s", field)
		}
	}
}
