// Package security は管理コンソールから入力される商品情報のサニタイズを提供する。
//
// 商品の説明文はストアフロントでHTMLとして表示されるため、
// bluemondayの許可リストで安全なタグのみを通過させる。
package security

import (
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer は商品情報のサニタイズのインターフェース。
type Sanitizer interface {
	// Text はすべてのタグを除去したプレーンテキストを返す。
	Text(raw string) string
	// Description は説明文として許可した書式タグのみを残す。
	Description(raw string) string
	// ImageURL は画像URLとして安全な値を返す。
	// サイト内の相対パスとhttpsのURLのみ許可し、それ以外は空文字列を返す。
	ImageURL(raw string) string
}

// productSanitizer はSanitizerの実装。ポリシーはスレッドセーフ。
type productSanitizer struct {
	strict      *bluemonday.Policy
	description *bluemonday.Policy
}

// NewProductSanitizer はSanitizerの新しいインスタンスを生成する。
// 説明文ポリシー:
//   - 許可タグ: p, br, ul, ol, li, strong, em
//   - リンク・画像・script・style・on*属性は除去
func NewProductSanitizer() Sanitizer {
	d := bluemonday.NewPolicy()
	d.AllowElements("p", "br", "ul", "ol", "li", "strong", "em")

	return &productSanitizer{
		strict:      bluemonday.StrictPolicy(),
		description: d,
	}
}

func (s *productSanitizer) Text(raw string) string {
	return strings.TrimSpace(s.strict.Sanitize(raw))
}

func (s *productSanitizer) Description(raw string) string {
	return strings.TrimSpace(s.description.Sanitize(raw))
}

func (s *productSanitizer) ImageURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	switch {
	case u.Scheme == "https" && u.Host != "":
		return u.String()
	case u.Scheme == "" && u.Host == "" && strings.HasPrefix(u.Path, "/"):
		return u.String()
	default:
		return ""
	}
}
