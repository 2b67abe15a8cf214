package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Price は金額を表す。
// 管理画面の旧データでは文字列で保存されている場合があるため、数値文字列も受け付ける。
type Price float64

// UnmarshalJSON は数値・数値文字列のどちらも受け付ける。空文字は0として扱う。
func (p *Price) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*p = 0
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*p = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid price %q: %w", s, err)
		}
		*p = Price(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("invalid price %s: %w", b, err)
	}
	*p = Price(f)
	return nil
}

// Product は外部データAPIの products コレクションのレコードを表す。
// このモジュールでは管理コンソール以外からは読み取り専用。
type Product struct {
	ID             ID        `json:"id"`
	Name           string    `json:"name"`
	Collection     string    `json:"collection,omitempty"`
	Description    string    `json:"description,omitempty"`
	Price          Price     `json:"price"`
	Size           string    `json:"size,omitempty"`
	FragranceNotes string    `json:"fragranceNotes,omitempty"`
	Image          string    `json:"image"`
	Stock          int       `json:"stock"`
	Featured       bool      `json:"featured"`
	Category       string    `json:"category,omitempty"`
	CreatedAt      time.Time `json:"createdAt,omitzero"`
	UpdatedAt      time.Time `json:"updatedAt,omitzero"`
}
