// Package checkout は注文確定と注文履歴のドメインロジックを提供する。
package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/zyrae/internal/metrics"
	"github.com/hitoshi/zyrae/internal/model"
	"github.com/hitoshi/zyrae/internal/repository"
)

const (
	// defaultSize はサイズ未指定の明細に設定する容量。
	defaultSize = "50ml"
	// defaultPaymentMethod は支払い方法の既定値。
	defaultPaymentMethod = "card"
	// shippingFee は送料。現在は無料。
	shippingFee = 0.0
)

// Cart は注文対象のカート。
// Settleは他のカート操作を止めたまま明細をplaceへ渡し、placeが成功した場合に
// 渡した明細だけをカートから削除する。placeの失敗時はカートを変更しない。
type Cart interface {
	Settle(ctx context.Context, place func(ctx context.Context, items []model.CartItem) error) error
}

// ShippingForm は注文フォームの入力値。
type ShippingForm struct {
	FullName      string `json:"fullName"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	Address       string `json:"address"`
	City          string `json:"city"`
	State         string `json:"state"`
	ZipCode       string `json:"zipCode"`
	PaymentMethod string `json:"paymentMethod"`
}

// Receipt は注文確定の結果。
type Receipt struct {
	Order *model.Order `json:"order"`
	// CartCleared は注文後のカート削除が成功したかを示す。
	CartCleared bool `json:"cartCleared"`
}

// Service は注文のサービス層。
type Service struct {
	orders  repository.OrderRepository
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	now     func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(orders repository.OrderRepository, mc metrics.MetricsCollector, logger *slog.Logger) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{orders: orders, metrics: mc, logger: logger, now: time.Now}
}

// PlaceOrder はカートの内容で注文を作成し、成功後に注文した明細をカートから削除する。
// 注文作成後のカート削除に失敗しても注文は確定済みとして返す。
func (s *Service) PlaceOrder(ctx context.Context, user *model.User, form ShippingForm, cart Cart) (*Receipt, error) {
	if user == nil {
		return nil, model.NewUnauthenticatedError()
	}
	if verr := validateForm(form); verr != nil {
		s.metrics.RecordOperation("checkout", "place_order", false)
		return nil, verr
	}

	var (
		order    *model.Order
		placeErr error
	)
	clearErr := cart.Settle(ctx, func(ctx context.Context, items []model.CartItem) error {
		order, placeErr = s.place(ctx, user, form, items)
		return placeErr
	})
	if placeErr != nil {
		return nil, placeErr
	}

	receipt := &Receipt{Order: order, CartCleared: true}
	if clearErr != nil {
		s.logger.Warn("order placed but cart could not be cleared",
			slog.String("order_number", order.OrderNumber),
			slog.String("error", clearErr.Error()),
		)
		receipt.CartCleared = false
	}
	return receipt, nil
}

// place は明細から注文を組み立ててデータAPIに登録する。
func (s *Service) place(ctx context.Context, user *model.User, form ShippingForm, items []model.CartItem) (*model.Order, error) {
	if len(items) == 0 {
		s.metrics.RecordOperation("checkout", "place_order", false)
		return nil, model.NewEmptyCartError()
	}

	order, err := s.buildOrder(user, form, items)
	if err != nil {
		return nil, model.NewRemoteUnavailableError("Failed to place order. Please try again.", err)
	}

	if _, err := s.orders.Create(ctx, order); err != nil {
		s.logger.Error("failed to place order",
			slog.String("user_id", user.ID.String()),
			slog.String("error", err.Error()),
		)
		s.metrics.RecordOperation("checkout", "place_order", false)
		return nil, model.NewRemoteUnavailableError("Failed to place order. Please try again.", err)
	}
	s.logger.Info("order placed",
		slog.String("order_number", order.OrderNumber),
		slog.String("user_id", user.ID.String()),
	)
	s.metrics.RecordOperation("checkout", "place_order", true)
	return order, nil
}

func (s *Service) buildOrder(user *model.User, form ShippingForm, items []model.CartItem) (*model.Order, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("注文IDの生成に失敗しました: %w", err)
	}
	now := s.now().UTC()

	orderItems := make([]model.OrderItem, 0, len(items))
	total := shippingFee
	for _, it := range items {
		size := it.Size
		if size == "" {
			size = defaultSize
		}
		orderItems = append(orderItems, model.OrderItem{
			ProductID: it.ProductID,
			Name:      it.Name,
			Price:     it.Price,
			Image:     it.Image,
			Quantity:  it.Quantity,
			Size:      size,
		})
		total += it.Subtotal()
	}

	payment := form.PaymentMethod
	if payment == "" {
		payment = defaultPaymentMethod
	}

	return &model.Order{
		ID:              model.ID(id.String()),
		OrderNumber:     orderNumber(now),
		UserID:          user.ID,
		UserName:        strings.TrimSpace(form.FullName),
		UserEmail:       strings.TrimSpace(form.Email),
		UserPhone:       strings.TrimSpace(form.Phone),
		Items:           orderItems,
		ShippingAddress: form.Address,
		ShippingCity:    form.City,
		ShippingState:   form.State,
		ShippingZip:     form.ZipCode,
		TotalAmount:     model.Price(roundCents(total)),
		PaymentMethod:   payment,
		Status:          model.OrderStatusProcessing,
		OrderDate:       now,
	}, nil
}

// ListForUser は指定ユーザーの注文を新しい順に返す。
func (s *Service) ListForUser(ctx context.Context, userID model.ID) ([]model.Order, error) {
	all, err := s.orders.List(ctx)
	if err != nil {
		s.logger.Error("failed to fetch orders", slog.String("error", err.Error()))
		return nil, model.NewRemoteUnavailableError("Failed to load orders", err)
	}
	mine := make([]model.Order, 0)
	for _, o := range all {
		if o.UserID == userID {
			mine = append(mine, o)
		}
	}
	SortNewestFirst(mine)
	return mine, nil
}

// SortNewestFirst は注文を注文日時の新しい順に並べ替える。
func SortNewestFirst(orders []model.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].PlacedAt().After(orders[j].PlacedAt())
	})
}

// orderNumber は "ORD" + UNIXミリ秒の下6桁 の注文番号を返す。
func orderNumber(t time.Time) string {
	return fmt.Sprintf("ORD%06d", t.UnixMilli()%1_000_000)
}

func roundCents(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

// validateForm は必須項目を検証する。
func validateForm(f ShippingForm) *model.APIError {
	var fields []model.FieldError
	required := []struct{ field, value, label string }{
		{"fullName", f.FullName, "Full name"},
		{"email", f.Email, "Email"},
		{"phone", f.Phone, "Phone"},
		{"address", f.Address, "Address"},
		{"city", f.City, "City"},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			fields = append(fields, model.FieldError{Field: r.field, Message: r.label + " is required."})
		}
	}
	if email := strings.TrimSpace(f.Email); email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			fields = append(fields, model.FieldError{Field: "email", Message: "Please enter a valid email."})
		}
	}
	if len(fields) > 0 {
		return model.NewValidationError(fields...)
	}
	return nil
}
