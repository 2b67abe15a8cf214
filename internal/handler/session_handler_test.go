package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/hitoshi/zyrae/internal/model"
	"github.com/hitoshi/zyrae/internal/session"
)

func TestSessionHandler_Get_Anonymous(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/api/session", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body sessionResponse
	decodeBody(t, w, &body)
	if body.State != "anonymous" {
		t.Errorf("state = %q, want %q", body.State, "anonymous")
	}
	if body.User != nil {
		t.Errorf("user = %+v, want nil", body.User)
	}
}

func TestSessionHandler_Get_OmitsPassword(t *testing.T) {
	env := newTestEnv(t, testUser)

	w := env.do(t, http.MethodGet, "/api/session", nil)

	var raw map[string]map[string]any
	decodeBody(t, w, &raw)
	if _, ok := raw["user"]["password"]; ok {
		t.Error("session response must not contain the password")
	}
	if raw["user"]["email"] != "aiko@example.com" {
		t.Errorf("email = %v, want aiko@example.com", raw["user"]["email"])
	}
}

func TestSessionHandler_Login_Success(t *testing.T) {
	env := newTestEnv(t, nil)
	env.session.loginFn = func(_ context.Context, email, password string) (*model.User, error) {
		if email != "aiko@example.com" || password != "secret" {
			t.Errorf("Login(%q, %q)", email, password)
		}
		env.session.user = testUser
		env.session.state = session.StateAuthenticated
		return testUser, nil
	}

	w := env.do(t, http.MethodPost, "/api/session/login", loginRequest{Email: "aiko@example.com", Password: "secret"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body sessionResponse
	decodeBody(t, w, &body)
	if body.State != "authenticated" || body.User == nil || body.User.ID != "u1" {
		t.Errorf("body = %+v, want authenticated u1", body)
	}
}

func TestSessionHandler_Login_Errors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
		want     int
	}{
		{"invalid credentials", model.NewInvalidCredentialsError(), model.ErrCodeInvalidCredentials, http.StatusUnauthorized},
		{"blocked", model.NewAccountBlockedError(), model.ErrCodeAccountBlocked, http.StatusForbidden},
		{"remote", model.NewRemoteUnavailableError("Login failed. Please try again.", errors.New("dial tcp")), model.ErrCodeRemoteUnavailable, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.session.loginFn = func(_ context.Context, _, _ string) (*model.User, error) {
				return nil, tt.err
			}

			w := env.do(t, http.MethodPost, "/api/session/login", loginRequest{Email: "a@example.com", Password: "x"})
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if code := errorCode(t, w); code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
		})
	}
}

func TestSessionHandler_Login_InvalidJSON(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/api/session/login", "not-an-object")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestSessionHandler_Register(t *testing.T) {
	env := newTestEnv(t, nil)
	var got session.RegisterInput
	env.session.registerFn = func(_ context.Context, in session.RegisterInput) (*model.User, error) {
		got = in
		return &model.User{ID: "new", FirstName: in.FirstName, LastName: in.LastName, Email: in.Email, Password: in.Password, Role: model.RoleUser}, nil
	}

	w := env.do(t, http.MethodPost, "/api/session/register", map[string]string{
		"fname": "Mei", "lname": "Ito", "email": "mei@example.com", "password": "secret1", "cpassword": "secret1",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if got.ConfirmPassword != "secret1" || got.FirstName != "Mei" {
		t.Errorf("RegisterInput = %+v", got)
	}

	var raw map[string]any
	decodeBody(t, w, &raw)
	if _, ok := raw["password"]; ok {
		t.Error("register response must not contain the password")
	}
	if raw["role"] != "user" {
		t.Errorf("role = %v, want user", raw["role"])
	}
}

func TestSessionHandler_Register_Duplicate_Returns409(t *testing.T) {
	env := newTestEnv(t, nil)
	env.session.registerFn = func(_ context.Context, _ session.RegisterInput) (*model.User, error) {
		return nil, model.NewDuplicateEmailError()
	}

	w := env.do(t, http.MethodPost, "/api/session/register", map[string]string{"email": "aiko@example.com"})
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestSessionHandler_Logout(t *testing.T) {
	env := newTestEnv(t, testUser)

	w := env.do(t, http.MethodPost, "/api/session/logout", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body sessionResponse
	decodeBody(t, w, &body)
	if body.State != "anonymous" || body.User != nil {
		t.Errorf("body = %+v, want anonymous", body)
	}
}

func TestSessionHandler_Logout_StorageFailure_Returns500(t *testing.T) {
	env := newTestEnv(t, testUser)
	env.session.logoutFn = func(context.Context) error {
		return model.NewStorageFailedError(errors.New("disk full"))
	}

	w := env.do(t, http.MethodPost, "/api/session/logout", nil)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if code := errorCode(t, w); code != model.ErrCodeStorageFailed {
		t.Errorf("code = %q, want %q", code, model.ErrCodeStorageFailed)
	}
}
