package broadcast

import (
	"testing"
	"time"
)

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C:
		if !ok {
			t.Fatal("購読チャネルが閉じられている")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("イベントを受信できなかった")
	}
	return Event{}
}

func TestBus_PublishDeliversToAllSubscribers(t *testing.T) {
	bus := New(nil)
	a := bus.Subscribe()
	b := bus.Subscribe()
	defer a.Close()
	defer b.Close()

	bus.Publish(Event{Key: "user", NewValue: `{"id":"1"}`, Origin: "tab-1"})

	for _, sub := range []*Subscription{a, b} {
		ev := receive(t, sub)
		if ev.Key != "user" {
			t.Errorf("Key = %q, want %q", ev.Key, "user")
		}
		if ev.Node != bus.Node() {
			t.Errorf("Node = %q, want %q", ev.Node, bus.Node())
		}
	}
}

func TestBus_PublishKeepsForeignNode(t *testing.T) {
	bus := New(nil)
	sub := bus.Subscribe()
	defer sub.Close()

	bus.Publish(Event{Key: "user", Node: "other-node"})

	ev := receive(t, sub)
	if ev.Node != "other-node" {
		t.Errorf("Node = %q, want %q", ev.Node, "other-node")
	}
}

func TestBus_OrderIsPreserved(t *testing.T) {
	bus := New(nil)
	sub := bus.Subscribe()
	defer sub.Close()

	keys := []string{"user", "auth-logout", "cart", "wishlist"}
	for _, k := range keys {
		bus.Publish(Event{Key: k})
	}
	for _, want := range keys {
		if got := receive(t, sub).Key; got != want {
			t.Fatalf("Key = %q, want %q", got, want)
		}
	}
}

func TestBus_CloseSubscription(t *testing.T) {
	bus := New(nil)
	sub := bus.Subscribe()
	sub.Close()
	sub.Close() // 2回目も安全

	bus.Publish(Event{Key: "user"})

	if _, ok := <-sub.C; ok {
		t.Error("解除済みの購読にイベントが配信された")
	}
}

func TestBus_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	bus := New(nil)
	sub := bus.Subscribe()
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultBuffer*2; i++ {
			bus.Publish(Event{Key: "cart"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish がブロックした")
	}
	if len(sub.C) != defaultBuffer {
		t.Errorf("buffered = %d, want %d", len(sub.C), defaultBuffer)
	}
}

func TestBus_FullBufferSignalsLost(t *testing.T) {
	bus := New(nil)
	sub := bus.Subscribe()
	defer sub.Close()
	other := bus.Subscribe()
	defer other.Close()

	for i := 0; i < defaultBuffer; i++ {
		bus.Publish(Event{Key: "cart"})
	}
	select {
	case <-sub.Lost:
		t.Fatal("バッファに収まる間はLostが通知されてはならない")
	default:
	}

	// otherだけ読み進めておき、subのみ溢れさせる
	for i := 0; i < defaultBuffer; i++ {
		receive(t, other)
	}
	bus.Publish(Event{Key: "user"})
	bus.Publish(Event{Key: "user"})

	select {
	case <-sub.Lost:
	case <-time.After(time.Second):
		t.Fatal("取りこぼし時にLostが通知されなかった")
	}
	// 通知は1件にまとめられる
	select {
	case <-sub.Lost:
		t.Error("Lostが重複して通知された")
	default:
	}
	select {
	case <-other.Lost:
		t.Error("取りこぼしていない購読者にLostが通知された")
	default:
	}
}

func TestBus_CloseClosesSubscribers(t *testing.T) {
	bus := New(nil)
	sub := bus.Subscribe()
	bus.Close()

	if _, ok := <-sub.C; ok {
		t.Error("Bus.Close 後もチャネルが開いている")
	}
	late := bus.Subscribe()
	if _, ok := <-late.C; ok {
		t.Error("Close 済みBusの新規購読チャネルが開いている")
	}
	sub.Close()
}
