package repository

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"testing"

	"github.com/hitoshi/zyrae/internal/model"
	"github.com/hitoshi/zyrae/internal/remote"
	"github.com/hitoshi/zyrae/internal/remote/remotetest"
)

func newTestRemote(t *testing.T) (*remotetest.Server, *remote.Client) {
	t.Helper()
	srv := remotetest.NewServer(t)
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	c, err := remote.NewClient(srv.URL, nil, remote.Config{}, nil, logger)
	if err != nil {
		t.Fatalf("NewClient がエラーを返した: %v", err)
	}
	return srv, c
}

func TestHTTPUserRepo_ListAcceptsNumericIDs(t *testing.T) {
	srv, c := newTestRemote(t)
	srv.Seed("users", map[string]any{"id": 1, "email": "admin@zyrae.com", "role": "admin"})
	repo := NewHTTPUserRepo(c)

	users, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("List がエラーを返した: %v", err)
	}
	if len(users) != 1 || users[0].ID != "1" || !users[0].IsAdmin() {
		t.Errorf("users = %+v", users)
	}
}

func TestHTTPUserRepo_ListEmptyCollection(t *testing.T) {
	_, c := newTestRemote(t)
	users, err := NewHTTPUserRepo(c).List(context.Background())
	if err != nil {
		t.Fatalf("List がエラーを返した: %v", err)
	}
	if users == nil || len(users) != 0 {
		t.Errorf("空のコレクションは空スライスを返すべき: %#v", users)
	}
}

func TestHTTPProductRepo_FindByID(t *testing.T) {
	srv, c := newTestRemote(t)
	srv.Seed("products", model.Product{ID: "p1", Name: "Ambre", Price: 120})
	repo := NewHTTPProductRepo(c)
	ctx := context.Background()

	p, err := repo.FindByID(ctx, "p1")
	if err != nil {
		t.Fatalf("FindByID がエラーを返した: %v", err)
	}
	if p == nil || p.Name != "Ambre" {
		t.Fatalf("product = %+v", p)
	}

	missing, err := repo.FindByID(ctx, "nope")
	if err != nil {
		t.Fatalf("存在しないIDでエラーを返した: %v", err)
	}
	if missing != nil {
		t.Errorf("存在しないIDは nil を返すべき: %+v", missing)
	}
}

func TestHTTPProductRepo_FindByID_RemoteFailure(t *testing.T) {
	srv, c := newTestRemote(t)
	srv.Fail(http.MethodGet, "/products", http.StatusBadGateway)

	if _, err := NewHTTPProductRepo(c).FindByID(context.Background(), "p1"); !remote.IsUnavailable(err) {
		t.Errorf("err = %v, want unavailable", err)
	}
}

func TestHTTPCartRepo_CreateReplaceDelete(t *testing.T) {
	srv, c := newTestRemote(t)
	repo := NewHTTPCartRepo(c)
	ctx := context.Background()

	created, err := repo.Create(ctx, &model.CartItem{ID: "c1", ProductID: "p1", Price: 10, Quantity: 1})
	if err != nil {
		t.Fatalf("Create がエラーを返した: %v", err)
	}
	created.Quantity = 3
	if _, err := repo.Replace(ctx, created); err != nil {
		t.Fatalf("Replace がエラーを返した: %v", err)
	}

	items, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List がエラーを返した: %v", err)
	}
	if len(items) != 1 || items[0].Quantity != 3 {
		t.Fatalf("items = %+v", items)
	}

	if err := repo.Delete(ctx, "c1"); err != nil {
		t.Fatalf("Delete がエラーを返した: %v", err)
	}
	if srv.Len("cart") != 0 {
		t.Errorf("削除後の件数 = %d, want 0", srv.Len("cart"))
	}
}

func TestHTTPWishlistRepo_DeleteMissingReturnsError(t *testing.T) {
	_, c := newTestRemote(t)
	if err := NewHTTPWishlistRepo(c).Delete(context.Background(), "missing"); !remote.IsNotFound(err) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestHTTPOrderRepo_ReplaceStatus(t *testing.T) {
	srv, c := newTestRemote(t)
	srv.Seed("orders", model.Order{ID: "o1", OrderNumber: "ORD123456", Status: model.OrderStatusProcessing})
	repo := NewHTTPOrderRepo(c)
	ctx := context.Background()

	orders, err := repo.List(ctx)
	if err != nil || len(orders) != 1 {
		t.Fatalf("List: orders=%v err=%v", orders, err)
	}
	o := orders[0]
	o.Status = model.OrderStatusShipped
	if _, err := repo.Replace(ctx, &o); err != nil {
		t.Fatalf("Replace がエラーを返した: %v", err)
	}

	var stored []model.Order
	if err := srv.Decode("orders", &stored); err != nil {
		t.Fatal(err)
	}
	if stored[0].Status != model.OrderStatusShipped {
		t.Errorf("status = %q, want shipped", stored[0].Status)
	}
}
