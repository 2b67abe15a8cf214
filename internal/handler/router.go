package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/zyrae/internal/middleware"
	"github.com/hitoshi/zyrae/internal/session"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// /metrics（nilの場合は公開しない）
	MetricsHandler http.Handler

	// マネージャーとサービス
	Session  SessionService
	Products ProductReader
	Cart     CartService
	Wishlist WishlistService
	Checkout CheckoutService
	Admin    AdminService
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Recovery → SecurityHeaders → CORS
//	  /api/*: JSONOnly → RateLimit(General)
//	    ログイン必須: Session
//	    管理者: Session → Admin
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Session))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	catalogHandler := NewCatalogHandler(deps.Products)
	sessionHandler := NewSessionHandler(deps.Session)
	cartHandler := NewCartHandler(deps.Cart, catalogHandler)
	wishlistHandler := NewWishlistHandler(deps.Wishlist, cartHandler, catalogHandler)
	checkoutHandler := NewCheckoutHandler(deps.Checkout, deps.Cart)
	adminHandler := NewAdminHandler(deps.Admin)

	// --- 運用エンドポイント ---
	r.Get("/health", healthHandler(deps.Session))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewJSONOnlyMiddleware())
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// --- ログイン不要のルート ---
		r.Route("/session", func(r chi.Router) {
			r.Get("/", sessionHandler.Get)
			r.With(deps.RateLimiter.AuthMiddleware()).Post("/login", sessionHandler.Login)
			r.With(deps.RateLimiter.AuthMiddleware()).Post("/register", sessionHandler.Register)
			r.Post("/logout", sessionHandler.Logout)
		})

		r.Route("/products", func(r chi.Router) {
			r.Get("/", catalogHandler.List)
			r.Get("/{id}", catalogHandler.Get)
		})

		// --- ログインが必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewSessionMiddleware(deps.Session))

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", cartHandler.Get)
				r.Delete("/", cartHandler.Clear)
				r.Post("/items", cartHandler.AddItem)
				r.Put("/items/{id}", cartHandler.UpdateQuantity)
				r.Delete("/items/{id}", cartHandler.RemoveItem)
			})

			r.Route("/wishlist", func(r chi.Router) {
				r.Get("/", wishlistHandler.Get)
				r.Delete("/", wishlistHandler.Clear)
				r.Post("/items", wishlistHandler.AddItem)
				r.Delete("/items/{id}", wishlistHandler.RemoveItem)
				r.Post("/items/{id}/move-to-cart", wishlistHandler.MoveToCart)
				r.Delete("/products/{productId}", wishlistHandler.RemoveProduct)
			})

			r.Post("/checkout", checkoutHandler.PlaceOrder)
			r.Get("/orders", checkoutHandler.ListOrders)

			// --- 管理者のみ ---
			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.NewAdminMiddleware())

				r.Get("/dashboard", adminHandler.Dashboard)
				r.Get("/users", adminHandler.ListUsers)
				r.Post("/users/{id}/toggle-block", adminHandler.ToggleBlock)
				r.Get("/products", adminHandler.ListProducts)
				r.Post("/products", adminHandler.AddProduct)
				r.Put("/products/{id}", adminHandler.UpdateProduct)
				r.Delete("/products/{id}", adminHandler.DeleteProduct)
				r.Get("/orders", adminHandler.ListOrders)
				r.Put("/orders/{id}/status", adminHandler.UpdateOrderStatus)
			})
		})
	})

	return r
}

// healthHandler はヘルスチェックのハンドラーを返す。
// セッションの初期化（永続ストアの読み込み）が終わるまでは503を返す。
func healthHandler(s SessionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := s.State()
		if state == session.StateInitializing {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":  "starting",
				"session": state.String(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"session": state.String(),
		})
	}
}
