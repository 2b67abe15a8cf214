// Package wishlist はウィッシュリストの状態をデータAPIと同期して管理するマネージャーを提供する。
package wishlist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/zyrae/internal/metrics"
	"github.com/hitoshi/zyrae/internal/model"
	"github.com/hitoshi/zyrae/internal/repository"
	"github.com/hitoshi/zyrae/internal/store"
)

const defaultClearConcurrency = 4

// CartAdder はMoveToCartの移動先となるカート。
type CartAdder interface {
	AddToCart(ctx context.Context, product model.Product) error
}

// Manager はウィッシュリストマネージャー。商品ごとに高々1件を保持する。
type Manager struct {
	repo             repository.WishlistRepository
	mirror           *store.Adapter
	metrics          metrics.MetricsCollector
	logger           *slog.Logger
	clearConcurrency int
	now              func() time.Time

	sf   singleflight.Group
	opMu sync.Mutex

	mu      sync.RWMutex
	items   []model.WishlistItem
	loading bool
	errMsg  string
	gen     uint64
}

// Option はManagerの設定を変更する。
type Option func(*Manager)

// WithMirror は確定した内容をストアのwishlistキーへ書き出す。
func WithMirror(a *store.Adapter) Option {
	return func(m *Manager) { m.mirror = a }
}

// WithClearConcurrency はClearWishlistの同時削除数を設定する。
func WithClearConcurrency(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.clearConcurrency = n
		}
	}
}

// WithMetrics はメトリクスコレクターを設定する。
func WithMetrics(mc metrics.MetricsCollector) Option {
	return func(m *Manager) { m.metrics = mc }
}

// WithLogger はロガーを設定する。
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager はManagerの新しいインスタンスを生成する。
func NewManager(repo repository.WishlistRepository, opts ...Option) *Manager {
	m := &Manager{
		repo:             repo,
		metrics:          metrics.Nop{},
		logger:           slog.Default(),
		clearConcurrency: defaultClearConcurrency,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Hydrate はミラーから前回の内容を読み込む。
func (m *Manager) Hydrate(ctx context.Context) error {
	if m.mirror == nil {
		return nil
	}
	var items []model.WishlistItem
	ok, err := m.mirror.GetJSON(ctx, store.KeyWishlist, &items)
	if errors.Is(err, store.ErrCorrupt) {
		m.logger.Warn("wishlist mirror is corrupt, purging", slog.String("error", err.Error()))
		return m.mirror.Remove(ctx, store.KeyWishlist)
	}
	if err != nil {
		return model.NewStorageFailedError(err)
	}
	if ok {
		m.mu.Lock()
		m.items = items
		m.mu.Unlock()
	}
	return nil
}

// Refresh はデータAPIからウィッシュリストを読み込み直す。
func (m *Manager) Refresh(ctx context.Context) error {
	_, err, _ := m.sf.Do("wishlist", func() (any, error) {
		m.opMu.Lock()
		defer m.opMu.Unlock()
		gen := m.begin()
		defer m.end()

		items, err := m.repo.List(ctx)
		if err != nil {
			return nil, m.fail("refresh", "Failed to load wishlist items", err)
		}
		m.commit(ctx, gen, items)
		m.metrics.RecordOperation("wishlist", "refresh", true)
		return nil, nil
	})
	return err
}

// AddToWishlist は商品をウィッシュリストに追加する。
// 既に同じ商品がある場合はデータAPIを呼ばずにALREADY_IN_WISHLISTを返す。
func (m *Manager) AddToWishlist(ctx context.Context, product model.Product) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	gen := m.begin()
	defer m.end()

	items := m.Items()
	if indexByProduct(items, product.ID) >= 0 {
		err := model.NewAlreadyInWishlistError()
		m.setError(err.Message)
		m.metrics.RecordOperation("wishlist", "add", false)
		return err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return m.fail("add", "Failed to add item to wishlist", err)
	}
	item := model.WishlistItem{
		ID:        model.ID(id.String()),
		ProductID: product.ID,
		Name:      product.Name,
		Price:     product.Price,
		Image:     product.Image,
		AddedAt:   m.now().UTC(),
	}
	if _, err := m.repo.Create(ctx, &item); err != nil {
		return m.fail("add", "Failed to add item to wishlist", err)
	}

	m.commit(ctx, gen, append(items, item))
	m.metrics.RecordOperation("wishlist", "add", true)
	return nil
}

// RemoveFromWishlist は項目を削除する。
func (m *Manager) RemoveFromWishlist(ctx context.Context, id model.ID) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	gen := m.begin()
	defer m.end()

	return m.removeLocked(ctx, gen, id)
}

// RemoveByProductID は指定商品の項目を削除する。該当がなければNOT_FOUNDを返す。
func (m *Manager) RemoveByProductID(ctx context.Context, productID model.ID) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	gen := m.begin()
	defer m.end()

	items := m.Items()
	i := indexByProduct(items, productID)
	if i < 0 {
		err := model.NewNotFoundError("ウィッシュリスト項目", productID)
		m.setError(err.Message)
		return err
	}
	return m.removeLocked(ctx, gen, items[i].ID)
}

func (m *Manager) removeLocked(ctx context.Context, gen uint64, id model.ID) error {
	if err := m.repo.Delete(ctx, id); err != nil {
		return m.fail("remove", "Failed to remove item from wishlist", err)
	}

	items := m.Items()
	kept := items[:0]
	for _, it := range items {
		if it.ID != id {
			kept = append(kept, it)
		}
	}
	m.commit(ctx, gen, kept)
	m.metrics.RecordOperation("wishlist", "remove", true)
	return nil
}

// MoveToCart は項目をカートへ移動する。カートへの追加が成功した場合のみ項目を削除する。
// 追加後の削除に失敗した場合はエラーを返し、項目は両方に残る。
func (m *Manager) MoveToCart(ctx context.Context, item model.WishlistItem, cart CartAdder) error {
	if err := cart.AddToCart(ctx, item.Product()); err != nil {
		m.logger.Error("move to cart failed", slog.String("product_id", item.ProductID.String()), slog.String("error", err.Error()))
		m.metrics.RecordOperation("wishlist", "move_to_cart", false)
		return err
	}
	if err := m.RemoveFromWishlist(ctx, item.ID); err != nil {
		m.logger.Warn("item added to cart but still in wishlist",
			slog.String("wishlist_item_id", item.ID.String()),
			slog.String("error", err.Error()),
		)
		m.metrics.RecordOperation("wishlist", "move_to_cart", false)
		return err
	}
	m.metrics.RecordOperation("wishlist", "move_to_cart", true)
	return nil
}

// ClearWishlist は全項目を並行に削除する。失敗した項目はメモリに残す。
func (m *Manager) ClearWishlist(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	gen := m.begin()
	defer m.end()

	items := m.Items()
	var (
		mu      sync.Mutex
		removed = make(map[model.ID]bool, len(items))
		errs    []error
	)
	var g errgroup.Group
	g.SetLimit(m.clearConcurrency)
	for _, it := range items {
		g.Go(func() error {
			err := m.repo.Delete(ctx, it.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("wishlist item %s: %w", it.ID, err))
				return nil
			}
			removed[it.ID] = true
			return nil
		})
	}
	_ = g.Wait()

	kept := make([]model.WishlistItem, 0, len(items)-len(removed))
	for _, it := range items {
		if !removed[it.ID] {
			kept = append(kept, it)
		}
	}
	m.commit(ctx, gen, kept)

	if len(errs) > 0 {
		return m.fail("clear", "Failed to clear wishlist", errors.Join(errs...))
	}
	m.metrics.RecordOperation("wishlist", "clear", true)
	return nil
}

// Reset はメモリ上のウィッシュリストとエラーを破棄する。
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = nil
	m.errMsg = ""
	m.gen++
}

// Items は項目のコピーを返す。
func (m *Manager) Items() []model.WishlistItem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.WishlistItem, len(m.items))
	copy(out, m.items)
	return out
}

// IsInWishlist は指定商品がウィッシュリストにあるかを返す。
func (m *Manager) IsInWishlist(productID model.ID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return indexByProduct(m.items, productID) >= 0
}

// Loading はリモート呼び出し中かを返す。
func (m *Manager) Loading() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loading
}

// Err は直近のエラーメッセージを返す。
func (m *Manager) Err() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errMsg
}

// ClearError はエラーメッセージを消去する。
func (m *Manager) ClearError() {
	m.setError("")
}

func (m *Manager) commit(ctx context.Context, gen uint64, items []model.WishlistItem) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		m.logger.Info("wishlist was reset during operation, result discarded")
		return
	}
	m.items = items
	m.mu.Unlock()

	if m.mirror == nil {
		return
	}
	if err := m.mirror.SetJSON(ctx, store.KeyWishlist, items); err != nil {
		m.logger.Warn("failed to mirror wishlist", slog.String("error", err.Error()))
	}
}

func (m *Manager) begin() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loading = true
	m.errMsg = ""
	return m.gen
}

func (m *Manager) end() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loading = false
}

func (m *Manager) setError(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errMsg = msg
}

func (m *Manager) fail(op, msg string, cause error) error {
	m.logger.Error("wishlist operation failed",
		slog.String("operation", op),
		slog.String("error", cause.Error()),
	)
	m.setError(msg)
	m.metrics.RecordOperation("wishlist", op, false)
	return model.NewRemoteUnavailableError(msg, cause)
}

func indexByProduct(items []model.WishlistItem, productID model.ID) int {
	for i, it := range items {
		if it.ProductID == productID {
			return i
		}
	}
	return -1
}
