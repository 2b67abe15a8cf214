// Package cart はカートの状態をデータAPIと同期して管理するマネージャーを提供する。
// メモリ上の状態はリモートでの確定後にのみ更新する（楽観的更新は行わない）。
package cart

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

// defaultClearConcurrency はClearCartの同時削除数の既定値。
const defaultClearConcurrency = 4

// Manager はカートマネージャー。変更操作はマネージャー単位で直列化される。
type Manager struct {
	repo             repository.CartRepository
	mirror           *store.Adapter
	metrics          metrics.MetricsCollector
	logger           *slog.Logger
	clearConcurrency int
	now              func() time.Time

	sf   singleflight.Group
	opMu sync.Mutex

	mu      sync.RWMutex
	items   []model.CartItem
	loading bool
	errMsg  string
	// gen はResetごとに進む。Reset前に開始した操作の結果は反映しない。
	gen uint64
}

// Option はManagerの設定を変更する。
type Option func(*Manager)

// WithMirror は確定した内容をストアのcartキーへ書き出す。
func WithMirror(a *store.Adapter) Option {
	return func(m *Manager) { m.mirror = a }
}

// WithClearConcurrency はClearCartの同時削除数を設定する。
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
func NewManager(repo repository.CartRepository, opts ...Option) *Manager {
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

// Hydrate はミラーから前回の内容を読み込む。最初のRefreshより前に呼ぶ。
// ミラー未設定なら何もしない。破損したミラーは削除する。
func (m *Manager) Hydrate(ctx context.Context) error {
	if m.mirror == nil {
		return nil
	}
	var items []model.CartItem
	ok, err := m.mirror.GetJSON(ctx, store.KeyCart, &items)
	if errors.Is(err, store.ErrCorrupt) {
		m.logger.Warn("cart mirror is corrupt, purging", slog.String("error", err.Error()))
		return m.mirror.Remove(ctx, store.KeyCart)
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

// Refresh はデータAPIからカートを読み込み直す。
// 同時に呼ばれた場合は1回のリクエストにまとめる。
func (m *Manager) Refresh(ctx context.Context) error {
	_, err, _ := m.sf.Do("cart", func() (any, error) {
		m.opMu.Lock()
		defer m.opMu.Unlock()
		gen := m.begin()
		defer m.end()

		items, err := m.repo.List(ctx)
		if err != nil {
			return nil, m.fail("refresh", "Failed to load cart items", err)
		}
		m.commit(ctx, gen, items)
		m.metrics.RecordOperation("cart", "refresh", true)
		return nil, nil
	})
	return err
}

// AddToCart は商品をカートに追加する。
// 同じ商品が既にあれば数量を1増やし、なければ数量1の明細を作成する。
func (m *Manager) AddToCart(ctx context.Context, product model.Product) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	gen := m.begin()
	defer m.end()

	items := m.Items()
	if i := indexByProduct(items, product.ID); i >= 0 {
		updated := items[i]
		updated.Quantity++
		if _, err := m.repo.Replace(ctx, &updated); err != nil {
			return m.fail("add", "Failed to add item to cart", err)
		}
		items[i] = updated
	} else {
		id, err := uuid.NewV7()
		if err != nil {
			return m.fail("add", "Failed to add item to cart", err)
		}
		item := model.CartItem{
			ID:        model.ID(id.String()),
			ProductID: product.ID,
			Name:      product.Name,
			Price:     product.Price,
			Image:     product.Image,
			Quantity:  1,
			AddedAt:   m.now().UTC(),
		}
		if _, err := m.repo.Create(ctx, &item); err != nil {
			return m.fail("add", "Failed to add item to cart", err)
		}
		items = append(items, item)
	}

	m.commit(ctx, gen, items)
	m.metrics.RecordOperation("cart", "add", true)
	return nil
}

// RemoveFromCart は明細を削除する。
func (m *Manager) RemoveFromCart(ctx context.Context, id model.ID) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	gen := m.begin()
	defer m.end()

	return m.removeLocked(ctx, gen, id)
}

func (m *Manager) removeLocked(ctx context.Context, gen uint64, id model.ID) error {
	if err := m.repo.Delete(ctx, id); err != nil {
		return m.fail("remove", "Failed to remove item from cart", err)
	}

	items := m.Items()
	kept := items[:0]
	for _, it := range items {
		if it.ID != id {
			kept = append(kept, it)
		}
	}
	m.commit(ctx, gen, kept)
	m.metrics.RecordOperation("cart", "remove", true)
	return nil
}

// UpdateQuantity は明細の数量を変更する。1未満の場合は明細を削除する。
func (m *Manager) UpdateQuantity(ctx context.Context, id model.ID, quantity int) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	gen := m.begin()
	defer m.end()

	if quantity < 1 {
		return m.removeLocked(ctx, gen, id)
	}

	items := m.Items()
	i := indexByID(items, id)
	if i < 0 {
		err := model.NewNotFoundError("カート明細", id)
		m.setError(err.Message)
		m.metrics.RecordOperation("cart", "update_quantity", false)
		return err
	}
	updated := items[i]
	updated.Quantity = quantity
	if _, err := m.repo.Replace(ctx, &updated); err != nil {
		return m.fail("update_quantity", "Failed to update quantity", err)
	}
	items[i] = updated

	m.commit(ctx, gen, items)
	m.metrics.RecordOperation("cart", "update_quantity", true)
	return nil
}

// ClearCart は全明細を削除する。削除は並行に行い、成功した明細だけをメモリから除く。
// 1件でも失敗した場合は失敗した明細を残したままエラーを返す。
func (m *Manager) ClearCart(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	gen := m.begin()
	defer m.end()

	return m.clearLocked(ctx, gen, m.Items())
}

// Settle は他のカート操作を待たせたまま現在の明細をplaceへ渡す。
// placeが成功した場合は渡した明細を削除し、削除の結果を返す。
// placeが失敗した場合はカートを変更せずplaceのエラーを返す。
func (m *Manager) Settle(ctx context.Context, place func(ctx context.Context, items []model.CartItem) error) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	gen := m.begin()
	defer m.end()

	items := m.Items()
	if err := place(ctx, items); err != nil {
		return err
	}
	return m.clearLocked(ctx, gen, items)
}

// clearLocked はitemsの明細を並行に削除する。opMuを保持して呼ぶ。
func (m *Manager) clearLocked(ctx context.Context, gen uint64, items []model.CartItem) error {
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
				errs = append(errs, fmt.Errorf("cart item %s: %w", it.ID, err))
				return nil
			}
			removed[it.ID] = true
			return nil
		})
	}
	_ = g.Wait()

	current := m.Items()
	kept := make([]model.CartItem, 0, len(current))
	for _, it := range current {
		if !removed[it.ID] {
			kept = append(kept, it)
		}
	}
	m.commit(ctx, gen, kept)

	if len(errs) > 0 {
		return m.fail("clear", "Failed to clear cart", errors.Join(errs...))
	}
	m.metrics.RecordOperation("cart", "clear", true)
	return nil
}

// Reset はメモリ上のカートとエラーを破棄する。ログアウト時に呼ばれる。
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = nil
	m.errMsg = ""
	m.gen++
}

// Items は明細のコピーを返す。
func (m *Manager) Items() []model.CartItem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.CartItem, len(m.items))
	copy(out, m.items)
	return out
}

// TotalPrice は合計金額を小数点以下2桁の文字列で返す。
func (m *Manager) TotalPrice() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total float64
	for _, it := range m.items {
		total += it.Subtotal()
	}
	return fmt.Sprintf("%.2f", total)
}

// TotalItems は数量の合計を返す。
func (m *Manager) TotalItems() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, it := range m.items {
		n += it.Quantity
	}
	return n
}

// Contains は指定商品がカートにあるかを返す。
func (m *Manager) Contains(productID model.ID) bool {
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

func (m *Manager) commit(ctx context.Context, gen uint64, items []model.CartItem) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		m.logger.Info("cart was reset during operation, result discarded")
		return
	}
	m.items = items
	m.mu.Unlock()

	if m.mirror == nil {
		return
	}
	if err := m.mirror.SetJSON(ctx, store.KeyCart, items); err != nil {
		m.logger.Warn("failed to mirror cart", slog.String("error", err.Error()))
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

// fail はリモート呼び出しの失敗をログに残し、エラーメッセージを保持してAPIErrorを返す。
func (m *Manager) fail(op, msg string, cause error) error {
	m.logger.Error("cart operation failed",
		slog.String("operation", op),
		slog.String("error", cause.Error()),
	)
	m.setError(msg)
	m.metrics.RecordOperation("cart", op, false)
	return model.NewRemoteUnavailableError(msg, cause)
}

func indexByProduct(items []model.CartItem, productID model.ID) int {
	for i, it := range items {
		if it.ProductID == productID {
			return i
		}
	}
	return -1
}

func indexByID(items []model.CartItem, id model.ID) int {
	for i, it := range items {
		if it.ID == id {
			return i
		}
	}
	return -1
}
