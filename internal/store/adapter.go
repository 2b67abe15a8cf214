package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/zyrae/internal/broadcast"
)

// Adapter は1つのタブに対応するストアの窓口。
// 書き込みのたびに変更前後の値をbroadcast.Eventとして発行する。
type Adapter struct {
	backend Backend
	bus     *broadcast.Bus
	relay   Relay
	origin  string
	logger  *slog.Logger

	// 同一タブ内の read-modify-write を直列化する
	mu sync.Mutex
}

// AdapterOption はAdapterの任意設定。
type AdapterOption func(*Adapter)

// WithRelay はプロセス間中継を設定する。
func WithRelay(r Relay) AdapterOption {
	return func(a *Adapter) { a.relay = r }
}

// WithOrigin はタブ識別子を明示する。未指定の場合はランダムに採番する。
func WithOrigin(origin string) AdapterOption {
	return func(a *Adapter) { a.origin = origin }
}

// WithLogger はロガーを設定する。
func WithLogger(l *slog.Logger) AdapterOption {
	return func(a *Adapter) { a.logger = l }
}

// NewAdapter はAdapterを生成する。
func NewAdapter(backend Backend, bus *broadcast.Bus, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		backend: backend,
		bus:     bus,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.origin == "" {
		a.origin = newOrigin()
	}
	return a
}

// Origin はこのタブの識別子を返す。
func (a *Adapter) Origin() string {
	return a.origin
}

// Watch は変更通知の購読を開始する。
// 自タブの書き込みも配信されるため、受信側でOriginを比較して除外すること。
func (a *Adapter) Watch() *broadcast.Subscription {
	return a.bus.Subscribe()
}

// Get は値を取得する。
func (a *Adapter) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok, err := a.backend.Get(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w: %v", key, ErrStorageFail, err)
	}
	return v, ok, nil
}

// GetJSON はJSON値を取得してvにデコードする。
// キーが存在しない場合は false, nil を返す。デコードに失敗した場合はErrCorruptを返す。
func (a *Adapter) GetJSON(ctx context.Context, key string, v any) (bool, error) {
	raw, ok, err := a.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return true, fmt.Errorf("decode %q: %w: %v", key, ErrCorrupt, err)
	}
	return true, nil
}

// Set は値を保存し、値が変化した場合のみ変更イベントを発行する。
func (a *Adapter) Set(ctx context.Context, key, value string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	old, existed, err := a.backend.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("get %q: %w: %v", key, ErrStorageFail, err)
	}
	if err := a.backend.Put(ctx, key, value); err != nil {
		return fmt.Errorf("put %q: %w: %v", key, ErrStorageFail, err)
	}
	if existed && old == value {
		return nil
	}

	a.emit(ctx, broadcast.Event{
		Key:      key,
		OldValue: old,
		NewValue: value,
		Origin:   a.origin,
	})
	return nil
}

// SetJSON はvをJSONにエンコードして保存する。
func (a *Adapter) SetJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return a.Set(ctx, key, string(b))
}

// Remove はキーを削除する。キーが存在しなかった場合はイベントを発行しない。
func (a *Adapter) Remove(ctx context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	old, existed, err := a.backend.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("get %q: %w: %v", key, ErrStorageFail, err)
	}
	if !existed {
		return nil
	}
	if err := a.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete %q: %w: %v", key, ErrStorageFail, err)
	}

	a.emit(ctx, broadcast.Event{
		Key:      key,
		OldValue: old,
		Deleted:  true,
		Origin:   a.origin,
	})
	return nil
}

func (a *Adapter) emit(ctx context.Context, ev broadcast.Event) {
	ev.Node = a.bus.Node()
	a.bus.Publish(ev)

	if a.relay == nil {
		return
	}
	// 中継失敗は書き込み自体の失敗とはしない（他プロセスは次回読み取りで追従する）
	if err := a.relay.Publish(ctx, ev); err != nil {
		a.logger.Warn("failed to relay storage event",
			slog.String("key", ev.Key),
			slog.String("error", err.Error()),
		)
	}
}

// Forward はRelayが受信した他プロセスのイベントをローカルのBusへ転送する。
// 自プロセス発のイベント（Nodeが一致するもの）は二重配信になるため破棄する。
// ctxがキャンセルされるまでブロックする。
func Forward(ctx context.Context, relay Relay, bus *broadcast.Bus) error {
	return relay.Listen(ctx, func(ev broadcast.Event) {
		if ev.Node == bus.Node() {
			return
		}
		bus.Publish(ev)
	})
}

func newOrigin() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "tab"
	}
	return "tab-" + hex.EncodeToString(buf)
}
