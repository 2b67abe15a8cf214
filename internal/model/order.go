package model

import "time"

// OrderStatus は注文の処理状態を表す。
type OrderStatus string

const (
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// Valid は定義済みの注文状態かを返す。
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// OrderItem は注文明細を表す。注文時点の商品情報のスナップショット。
type OrderItem struct {
	ProductID ID     `json:"productId"`
	Name      string `json:"name"`
	Price     Price  `json:"price"`
	Image     string `json:"image"`
	Quantity  int    `json:"quantity"`
	Size      string `json:"size"`
}

// Order は外部データAPIの orders コレクションのレコードを表す。
type Order struct {
	ID              ID          `json:"id"`
	OrderNumber     string      `json:"orderNumber"`
	UserID          ID          `json:"userId"`
	UserName        string      `json:"userName"`
	UserEmail       string      `json:"userEmail"`
	UserPhone       string      `json:"userPhone"`
	Items           []OrderItem `json:"items"`
	ShippingAddress string      `json:"shippingAddress"`
	ShippingCity    string      `json:"shippingCity"`
	ShippingState   string      `json:"shippingState"`
	ShippingZip     string      `json:"shippingZip"`
	TotalAmount     Price       `json:"totalAmount"`
	PaymentMethod   string      `json:"paymentMethod"`
	Status          OrderStatus `json:"status"`
	OrderDate       time.Time   `json:"orderDate,omitzero"`
	CreatedAt       time.Time   `json:"createdAt,omitzero"`
}

// PlacedAt は注文日時を返す。orderDate が無い旧データは createdAt を使う。
func (o Order) PlacedAt() time.Time {
	if !o.OrderDate.IsZero() {
		return o.OrderDate
	}
	return o.CreatedAt
}
