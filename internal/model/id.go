package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ID は外部データAPIのレコード識別子。
// APIは文字列IDを返すが、シードデータには数値IDが混在するため両方を受け付ける。
type ID string

// UnmarshalJSON は文字列・数値どちらのJSON表現も受け付ける。
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", b, err)
	}
	*id = ID(n.String())
	return nil
}

// String は識別子を文字列として返す。
func (id ID) String() string {
	return string(id)
}
