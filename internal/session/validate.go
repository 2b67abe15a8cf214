package session

import (
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/zyrae/internal/model"
)

const (
	minNameLength     = 2
	minPasswordLength = 6
)

// validateRegistration は新規登録フォームの入力を検証する。
func validateRegistration(in RegisterInput) *model.APIError {
	var fields []model.FieldError

	if utf8.RuneCountInString(strings.TrimSpace(in.FirstName)) < minNameLength {
		fields = append(fields, model.FieldError{Field: "fname", Message: "First name must be at least 2 characters."})
	}
	if strings.TrimSpace(in.LastName) == "" {
		fields = append(fields, model.FieldError{Field: "lname", Message: "Last name is required."})
	}
	if addr, err := mail.ParseAddress(in.Email); err != nil || addr.Address != in.Email {
		fields = append(fields, model.FieldError{Field: "email", Message: "Please enter a valid email."})
	}
	if utf8.RuneCountInString(in.Password) < minPasswordLength {
		fields = append(fields, model.FieldError{Field: "password", Message: "Password must be at least 6 characters."})
	}
	if in.ConfirmPassword != in.Password {
		fields = append(fields, model.FieldError{Field: "cpassword", Message: "Passwords must match."})
	}

	if len(fields) > 0 {
		return model.NewValidationError(fields...)
	}
	return nil
}
