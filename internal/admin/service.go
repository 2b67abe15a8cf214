// Package admin は管理コンソールのドメインロジックを提供する。
// ダッシュボード集計、ユーザーの停止/解除、商品と注文の管理を含む。
package admin

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/zyrae/internal/checkout"
	"github.com/hitoshi/zyrae/internal/metrics"
	"github.com/hitoshi/zyrae/internal/model"
	"github.com/hitoshi/zyrae/internal/repository"
	"github.com/hitoshi/zyrae/internal/security"
)

const (
	// recentLimit はダッシュボードに表示する直近の件数。
	recentLimit = 5
	// revenueMonths は売上推移を集計する月数。
	revenueMonths = 6
	// defaultStock は在庫数未指定時の既定値。
	defaultStock = 10
	// defaultCategory はカテゴリ未指定時の既定値。
	defaultCategory = "perfume"
)

// RequireAdmin は管理者であることを確認する。
func RequireAdmin(user *model.User) error {
	if user == nil {
		return model.NewUnauthenticatedError()
	}
	if !user.IsAdmin() {
		return model.NewForbiddenError()
	}
	return nil
}

// Service は管理コンソールのサービス層。
type Service struct {
	users     repository.UserRepository
	products  repository.ProductRepository
	orders    repository.OrderRepository
	sanitizer security.Sanitizer
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	users repository.UserRepository,
	products repository.ProductRepository,
	orders repository.OrderRepository,
	sanitizer security.Sanitizer,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:     users,
		products:  products,
		orders:    orders,
		sanitizer: sanitizer,
		metrics:   mc,
		logger:    logger,
		now:       time.Now,
	}
}

// MonthlyRevenue は月ごとの売上。
type MonthlyRevenue struct {
	Month   string  `json:"month"`
	Year    int     `json:"year"`
	Revenue float64 `json:"revenue"`
}

// Dashboard はダッシュボードの集計結果。
type Dashboard struct {
	TotalUsers     int              `json:"totalUsers"`
	TotalProducts  int              `json:"totalProducts"`
	TotalOrders    int              `json:"totalOrders"`
	TotalRevenue   float64          `json:"totalRevenue"`
	RecentOrders   []model.Order    `json:"recentOrders"`
	RecentUsers    []model.User     `json:"recentUsers"`
	MonthlyRevenue []MonthlyRevenue `json:"monthlyRevenue"`
}

// Dashboard はユーザー・商品・注文を並行に取得して集計する。
func (s *Service) Dashboard(ctx context.Context) (*Dashboard, error) {
	var (
		users    []model.User
		products []model.Product
		orders   []model.Order
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		users, err = s.users.List(gctx)
		return err
	})
	g.Go(func() (err error) {
		products, err = s.products.List(gctx)
		return err
	})
	g.Go(func() (err error) {
		orders, err = s.orders.List(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, s.remoteFailure("dashboard", "Failed to load dashboard data", err)
	}

	d := &Dashboard{
		TotalUsers:     len(users),
		TotalProducts:  len(products),
		TotalOrders:    len(orders),
		MonthlyRevenue: monthlyRevenue(orders, s.now()),
	}
	for _, o := range orders {
		d.TotalRevenue += float64(o.TotalAmount)
	}

	recentOrders := append([]model.Order(nil), orders...)
	checkout.SortNewestFirst(recentOrders)
	d.RecentOrders = head(recentOrders, recentLimit)

	recentUsers := append([]model.User(nil), users...)
	sort.SliceStable(recentUsers, func(i, j int) bool {
		return recentUsers[i].CreatedAt.After(recentUsers[j].CreatedAt)
	})
	for i := range recentUsers {
		recentUsers[i].Password = ""
	}
	d.RecentUsers = head(recentUsers, recentLimit)

	s.metrics.RecordOperation("admin", "dashboard", true)
	return d, nil
}

// monthlyRevenue は当月を含む直近6か月の売上を古い順に返す。
func monthlyRevenue(orders []model.Order, now time.Time) []MonthlyRevenue {
	out := make([]MonthlyRevenue, revenueMonths)
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	for i := 0; i < revenueMonths; i++ {
		m := first.AddDate(0, i-(revenueMonths-1), 0)
		out[i] = MonthlyRevenue{Month: m.Month().String()[:3], Year: m.Year()}
	}
	for _, o := range orders {
		placed := o.PlacedAt()
		if placed.IsZero() {
			continue
		}
		placed = placed.In(now.Location())
		for i := range out {
			if out[i].Year == placed.Year() && out[i].Month == placed.Month().String()[:3] {
				out[i].Revenue += float64(o.TotalAmount)
				break
			}
		}
	}
	return out
}

// ListUsers はユーザー一覧を返す。searchは氏名・メールアドレスの部分一致（大文字小文字を区別しない）。
func (s *Service) ListUsers(ctx context.Context, search string) ([]model.User, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, s.remoteFailure("list_users", "Failed to load users", err)
	}
	q := strings.ToLower(strings.TrimSpace(search))
	out := make([]model.User, 0, len(users))
	for _, u := range users {
		if q == "" || containsFold(q, u.FirstName, u.LastName, u.Email) {
			u.Password = ""
			out = append(out, u)
		}
	}
	return out, nil
}

// ToggleBlock はユーザーの停止状態を反転する。レコード全体をPUTで置き換える。
func (s *Service) ToggleBlock(ctx context.Context, userID model.ID) (*model.User, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, s.remoteFailure("toggle_block", "Failed to update user status", err)
	}
	var target *model.User
	for i := range users {
		if users[i].ID == userID {
			target = &users[i]
			break
		}
	}
	if target == nil {
		return nil, model.NewNotFoundError("ユーザー", userID)
	}

	target.IsBlocked = !target.IsBlocked
	updated, err := s.users.Replace(ctx, target)
	if err != nil {
		return nil, s.remoteFailure("toggle_block", "Failed to update user status", err)
	}
	s.logger.Info("user block status changed",
		slog.String("user_id", userID.String()),
		slog.Bool("is_blocked", updated.IsBlocked),
	)
	s.metrics.RecordOperation("admin", "toggle_block", true)
	u := *updated
	u.Password = ""
	return &u, nil
}

// ListProducts は商品一覧を返す。searchは商品名・コレクション名の部分一致。
func (s *Service) ListProducts(ctx context.Context, search string) ([]model.Product, error) {
	products, err := s.products.List(ctx)
	if err != nil {
		return nil, s.remoteFailure("list_products", "Failed to load products", err)
	}
	q := strings.ToLower(strings.TrimSpace(search))
	if q == "" {
		return products, nil
	}
	out := make([]model.Product, 0, len(products))
	for _, p := range products {
		if containsFold(q, p.Name, p.Collection) {
			out = append(out, p)
		}
	}
	return out, nil
}

// ProductInput は商品追加フォームの入力値。
type ProductInput struct {
	Name           string      `json:"name"`
	Collection     string      `json:"collection"`
	Description    string      `json:"description"`
	Price          model.Price `json:"price"`
	Size           string      `json:"size"`
	FragranceNotes string      `json:"fragranceNotes"`
	Image          string      `json:"image"`
	Stock          *int        `json:"stock"`
	Featured       bool        `json:"featured"`
	Category       string      `json:"category"`
}

// AddProduct は商品を追加する。名前・価格・コレクションは必須。
func (s *Service) AddProduct(ctx context.Context, in ProductInput) (*model.Product, error) {
	p := model.Product{
		Name:           s.sanitizer.Text(in.Name),
		Collection:     s.sanitizer.Text(in.Collection),
		Description:    s.sanitizer.Description(in.Description),
		Price:          in.Price,
		Size:           s.sanitizer.Text(in.Size),
		FragranceNotes: s.sanitizer.Text(in.FragranceNotes),
		Image:          s.sanitizer.ImageURL(in.Image),
		Stock:          defaultStock,
		Featured:       in.Featured,
		Category:       s.sanitizer.Text(in.Category),
	}
	if in.Stock != nil {
		p.Stock = *in.Stock
	}
	if p.Category == "" {
		p.Category = defaultCategory
	}

	var fields []model.FieldError
	if p.Name == "" {
		fields = append(fields, model.FieldError{Field: "name", Message: "Name is required."})
	}
	if p.Price <= 0 {
		fields = append(fields, model.FieldError{Field: "price", Message: "Price must be greater than 0."})
	}
	if p.Collection == "" {
		fields = append(fields, model.FieldError{Field: "collection", Message: "Collection is required."})
	}
	if p.Stock < 0 {
		fields = append(fields, model.FieldError{Field: "stock", Message: "Stock cannot be negative."})
	}
	if strings.TrimSpace(in.Image) != "" && p.Image == "" {
		fields = append(fields, model.FieldError{Field: "image", Message: "Image must be an https URL or a site path."})
	}
	if len(fields) > 0 {
		return nil, model.NewValidationError(fields...)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, s.remoteFailure("add_product", "Failed to add product. Please try again.", err)
	}
	now := s.now().UTC()
	p.ID = model.ID(id.String())
	p.CreatedAt = now
	p.UpdatedAt = now

	created, err := s.products.Create(ctx, &p)
	if err != nil {
		return nil, s.remoteFailure("add_product", "Failed to add product. Please try again.", err)
	}
	s.logger.Info("product added", slog.String("product_id", created.ID.String()))
	s.metrics.RecordOperation("admin", "add_product", true)
	return created, nil
}

// ProductEdit は商品編集フォームの入力値。nilの項目は変更しない。
type ProductEdit struct {
	Name       *string      `json:"name"`
	Collection *string      `json:"collection"`
	Price      *model.Price `json:"price"`
	Image      *string      `json:"image"`
}

// UpdateProduct は既存商品を取得して編集内容をマージし、レコード全体をPUTで置き換える。
func (s *Service) UpdateProduct(ctx context.Context, id model.ID, edit ProductEdit) (*model.Product, error) {
	p, err := s.products.FindByID(ctx, id)
	if err != nil {
		return nil, s.remoteFailure("update_product", "Failed to update product", err)
	}
	if p == nil {
		return nil, model.NewNotFoundError("商品", id)
	}

	var fields []model.FieldError
	if edit.Name != nil {
		if p.Name = s.sanitizer.Text(*edit.Name); p.Name == "" {
			fields = append(fields, model.FieldError{Field: "name", Message: "Name is required."})
		}
	}
	if edit.Collection != nil {
		if p.Collection = s.sanitizer.Text(*edit.Collection); p.Collection == "" {
			fields = append(fields, model.FieldError{Field: "collection", Message: "Collection is required."})
		}
	}
	if edit.Price != nil {
		if p.Price = *edit.Price; p.Price <= 0 {
			fields = append(fields, model.FieldError{Field: "price", Message: "Price must be greater than 0."})
		}
	}
	if edit.Image != nil {
		p.Image = s.sanitizer.ImageURL(*edit.Image)
		if strings.TrimSpace(*edit.Image) != "" && p.Image == "" {
			fields = append(fields, model.FieldError{Field: "image", Message: "Image must be an https URL or a site path."})
		}
	}
	if len(fields) > 0 {
		return nil, model.NewValidationError(fields...)
	}
	p.UpdatedAt = s.now().UTC()

	updated, err := s.products.Replace(ctx, p)
	if err != nil {
		return nil, s.remoteFailure("update_product", "Failed to update product", err)
	}
	s.metrics.RecordOperation("admin", "update_product", true)
	return updated, nil
}

// DeleteProduct は商品を削除する。
func (s *Service) DeleteProduct(ctx context.Context, id model.ID) error {
	if err := s.products.Delete(ctx, id); err != nil {
		return s.remoteFailure("delete_product", "Failed to delete product", err)
	}
	s.logger.Info("product deleted", slog.String("product_id", id.String()))
	s.metrics.RecordOperation("admin", "delete_product", true)
	return nil
}

// OrderFilter は注文一覧の絞り込み条件。
type OrderFilter struct {
	// Search は注文番号・氏名・メールアドレスの部分一致（大文字小文字を区別しない）。
	Search string
	// Status は "all" または注文状態。空文字列は "all" と同じ。
	Status string
}

// ListOrders は条件に一致する注文を新しい順に返す。
func (s *Service) ListOrders(ctx context.Context, f OrderFilter) ([]model.Order, error) {
	status := strings.ToLower(strings.TrimSpace(f.Status))
	if status != "" && status != "all" && !model.OrderStatus(status).Valid() {
		return nil, model.NewValidationError(model.FieldError{Field: "status", Message: "Unknown order status."})
	}

	orders, err := s.orders.List(ctx)
	if err != nil {
		return nil, s.remoteFailure("list_orders", "Failed to load orders", err)
	}
	q := strings.ToLower(strings.TrimSpace(f.Search))
	out := make([]model.Order, 0, len(orders))
	for _, o := range orders {
		if q != "" && !containsFold(q, o.OrderNumber, o.UserName, o.UserEmail) {
			continue
		}
		if status != "" && status != "all" && string(o.Status) != status {
			continue
		}
		out = append(out, o)
	}
	checkout.SortNewestFirst(out)
	return out, nil
}

// UpdateOrderStatus は注文の状態を変更する。
func (s *Service) UpdateOrderStatus(ctx context.Context, id model.ID, status model.OrderStatus) (*model.Order, error) {
	if !status.Valid() {
		return nil, model.NewValidationError(model.FieldError{Field: "status", Message: "Unknown order status."})
	}
	orders, err := s.orders.List(ctx)
	if err != nil {
		return nil, s.remoteFailure("update_order_status", "Failed to update order status", err)
	}
	var target *model.Order
	for i := range orders {
		if orders[i].ID == id {
			target = &orders[i]
			break
		}
	}
	if target == nil {
		return nil, model.NewNotFoundError("注文", id)
	}

	target.Status = status
	updated, err := s.orders.Replace(ctx, target)
	if err != nil {
		return nil, s.remoteFailure("update_order_status", "Failed to update order status", err)
	}
	s.logger.Info("order status changed",
		slog.String("order_id", id.String()),
		slog.String("status", string(status)),
	)
	s.metrics.RecordOperation("admin", "update_order_status", true)
	return updated, nil
}

func (s *Service) remoteFailure(op, msg string, err error) error {
	s.logger.Error("admin operation failed",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
	s.metrics.RecordOperation("admin", op, false)
	return model.NewRemoteUnavailableError(msg, err)
}

func containsFold(q string, fields ...string) bool {
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

func head[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}
