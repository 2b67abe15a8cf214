package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/zyrae/internal/admin"
	"github.com/hitoshi/zyrae/internal/checkout"
	"github.com/hitoshi/zyrae/internal/middleware"
	"github.com/hitoshi/zyrae/internal/model"
	"github.com/hitoshi/zyrae/internal/session"
	"github.com/hitoshi/zyrae/internal/wishlist"
)

// --- モック定義 ---

// mockSession はSessionServiceのモック実装。
type mockSession struct {
	user       *model.User
	state      session.State
	errMsg     string
	loginFn    func(ctx context.Context, email, password string) (*model.User, error)
	registerFn func(ctx context.Context, in session.RegisterInput) (*model.User, error)
	logoutFn   func(ctx context.Context) error
}

func (m *mockSession) User() *model.User    { return m.user }
func (m *mockSession) State() session.State { return m.state }
func (m *mockSession) Loading() bool        { return false }
func (m *mockSession) Err() string          { return m.errMsg }

func (m *mockSession) Login(ctx context.Context, email, password string) (*model.User, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return nil, nil
}

func (m *mockSession) Register(ctx context.Context, in session.RegisterInput) (*model.User, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, in)
	}
	return nil, nil
}

func (m *mockSession) Logout(ctx context.Context) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx)
	}
	m.user = nil
	m.state = session.StateAnonymous
	return nil
}

// mockProducts はProductReaderのモック実装。
type mockProducts struct {
	products []model.Product
	listErr  error
}

func (m *mockProducts) List(ctx context.Context) ([]model.Product, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.products, nil
}

func (m *mockProducts) FindByID(ctx context.Context, id model.ID) (*model.Product, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	for _, p := range m.products {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, nil
}

// mockCart はCartServiceのモック実装。
type mockCart struct {
	items            []model.CartItem
	addFn            func(ctx context.Context, p model.Product) error
	removeFn         func(ctx context.Context, id model.ID) error
	updateQuantityFn func(ctx context.Context, id model.ID, q int) error
	clearFn          func(ctx context.Context) error
	refreshFn        func(ctx context.Context) error
}

func (m *mockCart) Items() []model.CartItem { return append([]model.CartItem(nil), m.items...) }
func (m *mockCart) TotalPrice() string      { return "0.00" }

func (m *mockCart) TotalItems() int {
	n := 0
	for _, it := range m.items {
		n += it.Quantity
	}
	return n
}

func (m *mockCart) Refresh(ctx context.Context) error {
	if m.refreshFn != nil {
		return m.refreshFn(ctx)
	}
	return nil
}

func (m *mockCart) AddToCart(ctx context.Context, p model.Product) error {
	if m.addFn != nil {
		return m.addFn(ctx, p)
	}
	m.items = append(m.items, model.CartItem{ID: "c-" + p.ID, ProductID: p.ID, Name: p.Name, Price: p.Price, Quantity: 1})
	return nil
}

func (m *mockCart) RemoveFromCart(ctx context.Context, id model.ID) error {
	if m.removeFn != nil {
		return m.removeFn(ctx, id)
	}
	return nil
}

func (m *mockCart) UpdateQuantity(ctx context.Context, id model.ID, q int) error {
	if m.updateQuantityFn != nil {
		return m.updateQuantityFn(ctx, id, q)
	}
	return nil
}

func (m *mockCart) ClearCart(ctx context.Context) error {
	if m.clearFn != nil {
		return m.clearFn(ctx)
	}
	m.items = nil
	return nil
}

func (m *mockCart) Settle(ctx context.Context, place func(ctx context.Context, items []model.CartItem) error) error {
	if err := place(ctx, m.Items()); err != nil {
		return err
	}
	return m.ClearCart(ctx)
}

// mockWishlist はWishlistServiceのモック実装。
type mockWishlist struct {
	items      []model.WishlistItem
	addFn      func(ctx context.Context, p model.Product) error
	moveFn     func(ctx context.Context, item model.WishlistItem, cart wishlist.CartAdder) error
	removeFn   func(ctx context.Context, id model.ID) error
	byProductFn func(ctx context.Context, productID model.ID) error
}

func (m *mockWishlist) Items() []model.WishlistItem {
	return append([]model.WishlistItem(nil), m.items...)
}

func (m *mockWishlist) Refresh(ctx context.Context) error { return nil }

func (m *mockWishlist) AddToWishlist(ctx context.Context, p model.Product) error {
	if m.addFn != nil {
		return m.addFn(ctx, p)
	}
	m.items = append(m.items, model.WishlistItem{ID: "w-" + p.ID, ProductID: p.ID, Name: p.Name, Price: p.Price})
	return nil
}

func (m *mockWishlist) RemoveFromWishlist(ctx context.Context, id model.ID) error {
	if m.removeFn != nil {
		return m.removeFn(ctx, id)
	}
	return nil
}

func (m *mockWishlist) RemoveByProductID(ctx context.Context, productID model.ID) error {
	if m.byProductFn != nil {
		return m.byProductFn(ctx, productID)
	}
	return nil
}

func (m *mockWishlist) MoveToCart(ctx context.Context, item model.WishlistItem, cart wishlist.CartAdder) error {
	if m.moveFn != nil {
		return m.moveFn(ctx, item, cart)
	}
	return nil
}

func (m *mockWishlist) ClearWishlist(ctx context.Context) error {
	m.items = nil
	return nil
}

// mockCheckout はCheckoutServiceのモック実装。
type mockCheckout struct {
	placeOrderFn  func(ctx context.Context, user *model.User, form checkout.ShippingForm, cart checkout.Cart) (*checkout.Receipt, error)
	listForUserFn func(ctx context.Context, userID model.ID) ([]model.Order, error)
}

func (m *mockCheckout) PlaceOrder(ctx context.Context, user *model.User, form checkout.ShippingForm, cart checkout.Cart) (*checkout.Receipt, error) {
	if m.placeOrderFn != nil {
		return m.placeOrderFn(ctx, user, form, cart)
	}
	return nil, nil
}

func (m *mockCheckout) ListForUser(ctx context.Context, userID model.ID) ([]model.Order, error) {
	if m.listForUserFn != nil {
		return m.listForUserFn(ctx, userID)
	}
	return nil, nil
}

// mockAdmin はAdminServiceのモック実装。
type mockAdmin struct {
	dashboardFn         func(ctx context.Context) (*admin.Dashboard, error)
	listUsersFn         func(ctx context.Context, search string) ([]model.User, error)
	toggleBlockFn       func(ctx context.Context, id model.ID) (*model.User, error)
	listProductsFn      func(ctx context.Context, search string) ([]model.Product, error)
	addProductFn        func(ctx context.Context, in admin.ProductInput) (*model.Product, error)
	updateProductFn     func(ctx context.Context, id model.ID, edit admin.ProductEdit) (*model.Product, error)
	deleteProductFn     func(ctx context.Context, id model.ID) error
	listOrdersFn        func(ctx context.Context, f admin.OrderFilter) ([]model.Order, error)
	updateOrderStatusFn func(ctx context.Context, id model.ID, status model.OrderStatus) (*model.Order, error)
}

func (m *mockAdmin) Dashboard(ctx context.Context) (*admin.Dashboard, error) {
	if m.dashboardFn != nil {
		return m.dashboardFn(ctx)
	}
	return &admin.Dashboard{}, nil
}

func (m *mockAdmin) ListUsers(ctx context.Context, search string) ([]model.User, error) {
	if m.listUsersFn != nil {
		return m.listUsersFn(ctx, search)
	}
	return nil, nil
}

func (m *mockAdmin) ToggleBlock(ctx context.Context, id model.ID) (*model.User, error) {
	if m.toggleBlockFn != nil {
		return m.toggleBlockFn(ctx, id)
	}
	return &model.User{ID: id}, nil
}

func (m *mockAdmin) ListProducts(ctx context.Context, search string) ([]model.Product, error) {
	if m.listProductsFn != nil {
		return m.listProductsFn(ctx, search)
	}
	return nil, nil
}

func (m *mockAdmin) AddProduct(ctx context.Context, in admin.ProductInput) (*model.Product, error) {
	if m.addProductFn != nil {
		return m.addProductFn(ctx, in)
	}
	return &model.Product{ID: "p-new", Name: in.Name}, nil
}

func (m *mockAdmin) UpdateProduct(ctx context.Context, id model.ID, edit admin.ProductEdit) (*model.Product, error) {
	if m.updateProductFn != nil {
		return m.updateProductFn(ctx, id, edit)
	}
	return &model.Product{ID: id}, nil
}

func (m *mockAdmin) DeleteProduct(ctx context.Context, id model.ID) error {
	if m.deleteProductFn != nil {
		return m.deleteProductFn(ctx, id)
	}
	return nil
}

func (m *mockAdmin) ListOrders(ctx context.Context, f admin.OrderFilter) ([]model.Order, error) {
	if m.listOrdersFn != nil {
		return m.listOrdersFn(ctx, f)
	}
	return nil, nil
}

func (m *mockAdmin) UpdateOrderStatus(ctx context.Context, id model.ID, status model.OrderStatus) (*model.Order, error) {
	if m.updateOrderStatusFn != nil {
		return m.updateOrderStatusFn(ctx, id, status)
	}
	return &model.Order{ID: id, Status: status}, nil
}

// --- テストヘルパー ---

// testEnv はテスト用ルーターと各モックをまとめたもの。
type testEnv struct {
	router   http.Handler
	session  *mockSession
	products *mockProducts
	cart     *mockCart
	wishlist *mockWishlist
	checkout *mockCheckout
	admin    *mockAdmin
}

var (
	testUser  = &model.User{ID: "u1", FirstName: "Aiko", LastName: "Sato", Email: "aiko@example.com", Password: "secret", Role: model.RoleUser}
	testAdmin = &model.User{ID: "a1", FirstName: "Admin", Email: "admin@example.com", Password: "adminpw", Role: model.RoleAdmin}
)

// newTestEnv はログイン中ユーザーを指定してテスト用ルーターを構築する。nilは未ログイン。
func newTestEnv(t *testing.T, user *model.User) *testEnv {
	t.Helper()

	state := session.StateAnonymous
	if user != nil {
		state = session.StateAuthenticated
	}
	env := &testEnv{
		session: &mockSession{user: user, state: state},
		products: &mockProducts{products: []model.Product{
			{ID: "p1", Name: "Amber Nuit", Collection: "Signature", Price: 120, Featured: true},
			{ID: "p2", Name: "Citrus Bloom", Collection: "Fresh", Price: 85.5},
		}},
		cart:     &mockCart{},
		wishlist: &mockWishlist{},
		checkout: &mockCheckout{},
		admin:    &mockAdmin{},
	}

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	env.router = NewRouter(&RouterDeps{
		CORSAllowedOrigin: "http://localhost:5173",
		RateLimiter:       rl,
		Session:           env.session,
		Products:          env.products,
		Cart:              env.cart,
		Wishlist:          env.wishlist,
		Checkout:          env.checkout,
		Admin:             env.admin,
	})
	return env
}

// do はJSONボディ付きのリクエストをルーターに送る。bodyがnilでも状態変更メソッドにはContent-Typeを付与する。
func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// decodeBody はレスポンスボディをvにデコードする。
func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v\nraw: %s", err, w.Body.String())
	}
}

// errorCode はエラーレスポンスのcodeを返す。
func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body middleware.ErrorResponseBody
	decodeBody(t, w, &body)
	return body.Code
}
