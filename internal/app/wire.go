package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/zyrae/internal/admin"
	"github.com/hitoshi/zyrae/internal/broadcast"
	"github.com/hitoshi/zyrae/internal/cart"
	"github.com/hitoshi/zyrae/internal/checkout"
	"github.com/hitoshi/zyrae/internal/config"
	"github.com/hitoshi/zyrae/internal/database"
	"github.com/hitoshi/zyrae/internal/handler"
	"github.com/hitoshi/zyrae/internal/metrics"
	"github.com/hitoshi/zyrae/internal/middleware"
	"github.com/hitoshi/zyrae/internal/remote"
	"github.com/hitoshi/zyrae/internal/repository"
	"github.com/hitoshi/zyrae/internal/security"
	"github.com/hitoshi/zyrae/internal/session"
	"github.com/hitoshi/zyrae/internal/store"
	"github.com/hitoshi/zyrae/internal/wishlist"
)

var (
	_ handler.SessionService  = (*session.Manager)(nil)
	_ handler.CartService     = (*cart.Manager)(nil)
	_ handler.WishlistService = (*wishlist.Manager)(nil)
	_ handler.CheckoutService = (*checkout.Service)(nil)
	_ handler.AdminService    = (*admin.Service)(nil)
	_ handler.ProductReader   = (*repository.HTTPProductRepo)(nil)
	_ checkout.Cart           = (*cart.Manager)(nil)
	_ session.Forgetter       = (*cart.Manager)(nil)
	_ session.Forgetter       = (*wishlist.Manager)(nil)
)

// App はゲートウェイ1プロセス分（ブラウザの1タブに相当）の依存関係一式。
type App struct {
	Handler  http.Handler
	Session  *session.Manager
	Cart     *cart.Manager
	Wishlist *wishlist.Manager
	Bus      *broadcast.Bus
	Store    *store.Adapter

	logger      *slog.Logger
	rateLimiter *middleware.RateLimiter
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	closers     []func() error
	closeOnce   sync.Once
}

// backend はSTORE_BACKENDに応じて開いた永続ストアと、その後始末。
type backend struct {
	store  store.Backend
	relay  store.Relay
	closer func() error
}

// openBackend はSTORE_BACKENDに応じて永続ストアを開く。
// postgresとredisはプロセス間のイベント中継（Relay）も返す。
func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, error) {
	switch cfg.StoreBackend {
	case config.StoreBackendMemory:
		b := store.NewMemoryBackend()
		return &backend{store: b, closer: b.Close}, nil

	case config.StoreBackendBolt:
		b, err := store.OpenBolt(cfg.StorePath)
		if err != nil {
			return nil, err
		}
		return &backend{store: b, closer: b.Close}, nil

	case config.StoreBackendPostgres:
		db, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		logger.Info("database connection established",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		)
		return &backend{
			store:  store.NewPostgresBackend(db),
			relay:  store.NewPostgresRelay(db, cfg.DatabaseURL, logger),
			closer: db.Close,
		}, nil

	case config.StoreBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddress,
			Password: cfg.RedisPassword,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Info("redis connection established", slog.String("addr", cfg.RedisAddress))
		return &backend{
			store:  store.NewRedisBackend(client),
			relay:  store.NewRedisRelay(client, logger),
			closer: client.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported store backend: %q", cfg.StoreBackend)
	}
}

// Build は設定から全依存関係をワイヤリングし、セッションを初期化したAppを返す。
// regにはメトリクスの登録先を渡す。nilの場合は新しいレジストリを使う。
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg *prometheus.Registry) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	// 1. 永続ストア
	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store backend: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a := &App{
		logger:  logger,
		cancel:  cancel,
		closers: []func() error{be.closer},
	}

	// 2. タブ間チャネルとストアアダプタ
	bus := broadcast.New(logger)
	a.Bus = bus
	a.closers = append([]func() error{func() error { bus.Close(); return nil }}, a.closers...)

	adapterOpts := []store.AdapterOption{store.WithLogger(logger)}
	if be.relay != nil {
		adapterOpts = append(adapterOpts, store.WithRelay(be.relay))
		a.goRun(func() {
			if err := store.Forward(runCtx, be.relay, bus); err != nil {
				logger.Error("storage relay stopped", slog.String("error", err.Error()))
			}
		})
	}
	a.Store = store.NewAdapter(be.store, bus, adapterOpts...)

	// 3. メトリクス
	collector := metrics.NewCollector(reg)
	a.watchStorageEvents(collector)

	// 4. データAPIクライアントとリポジトリ
	httpClient, err := remote.NewHTTPClient(cfg.RemoteTimeout)
	if err != nil {
		a.Close()
		return nil, err
	}
	client, err := remote.NewClient(cfg.DataAPIURL, httpClient, remote.Config{
		Timeout:            cfg.RemoteTimeout,
		BreakerMaxFailures: uint32(cfg.BreakerMaxFailures),
		BreakerOpenTimeout: cfg.BreakerOpenTimeout,
	}, collector, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	userRepo := repository.NewHTTPUserRepo(client)
	productRepo := repository.NewHTTPProductRepo(client)
	cartRepo := repository.NewHTTPCartRepo(client)
	wishlistRepo := repository.NewHTTPWishlistRepo(client)
	orderRepo := repository.NewHTTPOrderRepo(client)

	// 5. マネージャー
	cartOpts := []cart.Option{
		cart.WithClearConcurrency(cfg.ClearConcurrency),
		cart.WithMetrics(collector),
		cart.WithLogger(logger),
	}
	wishlistOpts := []wishlist.Option{
		wishlist.WithClearConcurrency(cfg.ClearConcurrency),
		wishlist.WithMetrics(collector),
		wishlist.WithLogger(logger),
	}
	if cfg.MirrorLocal {
		cartOpts = append(cartOpts, cart.WithMirror(a.Store))
		wishlistOpts = append(wishlistOpts, wishlist.WithMirror(a.Store))
	}
	a.Cart = cart.NewManager(cartRepo, cartOpts...)
	a.Wishlist = wishlist.NewManager(wishlistRepo, wishlistOpts...)

	a.Session = session.NewManager(userRepo, a.Store,
		session.WithHashPasswords(cfg.HashPasswords),
		session.WithMetrics(collector),
		session.WithLogger(logger),
	)
	a.Session.AddForgetter(a.Cart, a.Wishlist)
	a.closers = append([]func() error{func() error { a.Session.Close(); return nil }}, a.closers...)

	// 6. サービス
	checkoutSvc := checkout.NewService(orderRepo, collector, logger)
	adminSvc := admin.NewService(userRepo, productRepo, orderRepo,
		security.NewProductSanitizer(), collector, logger)

	// 7. ルーター
	a.rateLimiter = middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral))
	a.Handler = handler.NewRouter(&handler.RouterDeps{
		Logger:            logger,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       a.rateLimiter,
		MetricsHandler:    metrics.Handler(reg),
		Session:           a.Session,
		Products:          productRepo,
		Cart:              a.Cart,
		Wishlist:          a.Wishlist,
		Checkout:          checkoutSvc,
		Admin:             adminSvc,
	})

	// 8. セッション初期化。以降のログインではカートとウィッシュリストを非同期に読み込み直す
	if err := a.Session.Init(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize session: %w", err)
	}
	if a.Session.State() == session.StateAuthenticated {
		a.loadCollections(ctx)
	}

	changes, unsubscribe := a.Session.Subscribe()
	a.goRun(func() { a.syncCollections(runCtx, changes) })
	a.closers = append([]func() error{func() error { unsubscribe(); return nil }}, a.closers...)

	return a, nil
}

// goRun はAppの生存期間に紐づくgoroutineを起動する。
func (a *App) goRun(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

// watchStorageEvents はタブ間チャネルのイベントをキーごとに計上する。
func (a *App) watchStorageEvents(mc metrics.MetricsCollector) {
	sub := a.Bus.Subscribe()
	a.goRun(func() {
		for ev := range sub.C {
			mc.RecordStorageEvent(ev.Key)
		}
	})
}

// syncCollections はログインを検知するたびにカートとウィッシュリストを読み込み直す。
// ログアウト時のリセットはセッションマネージャーが行う。
func (a *App) syncCollections(ctx context.Context, changes <-chan session.Change) {
	for ch := range changes {
		// 通知の処理中にログアウト済みなら読み込まない
		if ch.State != session.StateAuthenticated || a.Session.State() != session.StateAuthenticated {
			continue
		}
		a.loadCollections(ctx)
	}
}

// loadCollections はミラーを読み込んだ上でデータAPIから最新の内容を取得する。
// 失敗はマネージャーのエラーとして保持されるため、ここではログのみ出力する。
func (a *App) loadCollections(ctx context.Context) {
	if err := a.Cart.Hydrate(ctx); err != nil {
		a.logger.Warn("failed to hydrate cart", slog.String("error", err.Error()))
	}
	if err := a.Wishlist.Hydrate(ctx); err != nil {
		a.logger.Warn("failed to hydrate wishlist", slog.String("error", err.Error()))
	}
	if err := a.Cart.Refresh(ctx); err != nil {
		a.logger.Warn("failed to refresh cart", slog.String("error", err.Error()))
	}
	if err := a.Wishlist.Refresh(ctx); err != nil {
		a.logger.Warn("failed to refresh wishlist", slog.String("error", err.Error()))
	}
}

// Close はバックグラウンド処理を停止し、永続ストアを閉じる。複数回呼んでもよい。
func (a *App) Close() error {
	var errs []error
	a.closeOnce.Do(func() {
		a.cancel()
		if a.rateLimiter != nil {
			a.rateLimiter.Stop()
		}
		for _, c := range a.closers {
			if err := c(); err != nil {
				errs = append(errs, err)
			}
		}
		a.wg.Wait()
	})
	return errors.Join(errs...)
}
