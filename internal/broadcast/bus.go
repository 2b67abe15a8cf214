// Package broadcast はタブ間でストレージ変更を通知するための発行/購読チャネルを提供する。
// ブラウザの storage イベントに相当し、同一プロセス内の全購読者へ配信する。
package broadcast

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sync"
)

// defaultBuffer は購読者ごとのチャネルバッファサイズ。
const defaultBuffer = 32

// Event はストレージキーの変更通知を表す。
type Event struct {
	Key      string `json:"key"`
	OldValue string `json:"oldValue,omitempty"`
	NewValue string `json:"newValue,omitempty"`
	Deleted  bool   `json:"deleted"` // trueの場合、キーが削除された（NewValueは無効）
	Origin   string `json:"origin"`  // 書き込んだタブの識別子
	Node     string `json:"node"`    // 書き込んだプロセスのBus識別子
}

// Subscription はBusへの購読を表す。
type Subscription struct {
	C <-chan Event
	// Lost はバッファ溢れでイベントを取りこぼしたときに通知される。
	// 受け取った購読者はストレージから状態を読み直す。
	Lost <-chan struct{}

	bus  *Bus
	id   int
	ch   chan Event
	lost chan struct{}
	once sync.Once
}

// Close は購読を解除し、チャネルを閉じる。複数回呼んでも安全。
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.remove(s.id)
	})
}

// Bus はプロセス内の発行/購読チャネル。
// 購読者ごとの配信順序は発行順と一致する。
type Bus struct {
	node   string
	logger *slog.Logger

	mu     sync.RWMutex
	nextID int
	subs   map[int]*Subscription
	closed bool
}

// New はBusを生成する。ノードIDはプロセスごとにランダムに採番する。
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		node:   newNodeID(),
		logger: logger,
		subs:   make(map[int]*Subscription),
	}
}

// Node はこのBusのノードIDを返す。
func (b *Bus) Node() string {
	return b.node
}

// Subscribe は新しい購読を登録する。
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, defaultBuffer)
	lost := make(chan struct{}, 1)
	sub := &Subscription{C: ch, Lost: lost, bus: b, id: b.nextID, ch: ch, lost: lost}
	if b.closed {
		close(ch)
		return sub
	}
	b.subs[sub.id] = sub
	b.nextID++
	return sub
}

// Publish はイベントを全購読者へ配信する。
// Nodeが未設定の場合はこのBusのノードIDを設定する。
// 購読者のバッファが満杯の場合、そのイベントは破棄してLostへ通知する。
// 未処理の通知があれば重ねて送らない。
func (b *Bus) Publish(ev Event) {
	if ev.Node == "" {
		ev.Node = b.node
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			b.logger.Warn("broadcast subscriber buffer full, event dropped",
				slog.String("key", ev.Key),
				slog.String("origin", ev.Origin),
			)
			select {
			case sub.lost <- struct{}{}:
			default:
			}
		}
	}
}

// Close は全購読を閉じる。以降のPublishは何もしない。
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}

func (b *Bus) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subs[id]; ok {
		close(sub.ch)
		delete(b.subs, id)
	}
}

func newNodeID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "node"
	}
	return hex.EncodeToString(buf)
}
