// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// Role はユーザーの権限種別を表す。
type Role string

const (
	// RoleUser は一般ユーザー。新規登録時のデフォルト。
	RoleUser Role = "user"
	// RoleAdmin は管理コンソールを利用できるユーザー。
	RoleAdmin Role = "admin"
)

// User は外部データAPIの users コレクションのレコードを表す。
// ログイン中はこの値がそのままセッションとして永続化される。
type User struct {
	ID        ID        `json:"id"`
	FirstName string    `json:"fname"`
	LastName  string    `json:"lname"`
	Email     string    `json:"email"`
	Password  string    `json:"password"`
	Role      Role      `json:"role"`
	IsBlocked bool      `json:"isBlocked"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
}

// FullName は表示用の氏名（fname lname）を返す。
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// IsAdmin は管理者権限を持つかを返す。
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}
