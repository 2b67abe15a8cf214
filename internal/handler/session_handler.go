package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/zyrae/internal/model"
	"github.com/hitoshi/zyrae/internal/session"
)

// SessionService はセッションハンドラーが必要とするインターフェース。
// session.Managerが実装する。
type SessionService interface {
	User() *model.User
	State() session.State
	Loading() bool
	Err() string
	Login(ctx context.Context, email, password string) (*model.User, error)
	Register(ctx context.Context, in session.RegisterInput) (*model.User, error)
	Logout(ctx context.Context) error
}

// SessionHandler はログイン・新規登録・ログアウトのHTTPハンドラー。
type SessionHandler struct {
	session SessionService
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(s SessionService) *SessionHandler {
	return &SessionHandler{session: s}
}

// sessionResponse はセッション状態のレスポンス。
type sessionResponse struct {
	State   string        `json:"state"`
	User    *userResponse `json:"user"`
	Loading bool          `json:"loading"`
	Error   string        `json:"error,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *SessionHandler) snapshot() sessionResponse {
	return sessionResponse{
		State:   h.session.State().String(),
		User:    toUserResponse(h.session.User()),
		Loading: h.session.Loading(),
		Error:   h.session.Err(),
	}
}

// Get は現在のセッション状態を返す。
// GET /api/session
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.snapshot())
}

// Login はメールアドレスとパスワードでログインする。
// POST /api/session/login
//
// 停止中アカウントの場合はセッションが確立された上で403を返す。
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	if _, err := h.session.Login(r.Context(), req.Email, req.Password); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.snapshot())
}

// Register はユーザーを新規登録する。ログインは行わない。
// POST /api/session/register
func (h *SessionHandler) Register(w http.ResponseWriter, r *http.Request) {
	var in session.RegisterInput
	if err := decodeJSON(w, r, &in); err != nil {
		handleServiceError(w, err)
		return
	}

	user, err := h.session.Register(r.Context(), in)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

// Logout はセッションを破棄する。
// POST /api/session/logout
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Logout(r.Context()); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.snapshot())
}
