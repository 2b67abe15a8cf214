package model

import "time"

// CartItem はカートの明細行を表す。
// productId ごとに1行のみ存在し、同一商品の再追加は数量を加算する。
type CartItem struct {
	ID        ID        `json:"id"`
	ProductID ID        `json:"productId"`
	Name      string    `json:"name"`
	Price     Price     `json:"price"`
	Image     string    `json:"image"`
	Quantity  int       `json:"quantity"`
	Size      string    `json:"size,omitempty"`
	AddedAt   time.Time `json:"addedAt,omitzero"`
}

// Subtotal は明細行の小計（単価×数量）を返す。
func (c CartItem) Subtotal() float64 {
	return float64(c.Price) * float64(c.Quantity)
}

// WishlistItem はウィッシュリストの項目を表す。
// productId ごとに高々1件で、重複追加は拒否される。
type WishlistItem struct {
	ID        ID        `json:"id"`
	ProductID ID        `json:"productId"`
	Name      string    `json:"name"`
	Price     Price     `json:"price"`
	Image     string    `json:"image"`
	AddedAt   time.Time `json:"addedAt,omitzero"`
}

// Product はウィッシュリスト項目をカート追加用の商品情報に変換する。
func (w WishlistItem) Product() Product {
	return Product{
		ID:    w.ProductID,
		Name:  w.Name,
		Price: w.Price,
		Image: w.Image,
	}
}
