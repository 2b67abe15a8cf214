// Package remotetest はテスト用のインメモリなデータAPIサーバーを提供する。
// コレクション単位のCRUDと、任意のリクエストへの障害注入をサポートする。
package remotetest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

// Record はサーバーが受け付けたリクエストの記録。
type Record struct {
	Method string
	Path   string
	Body   string
}

// failure は注入された障害。
type failure struct {
	method string
	prefix string
	status int
	// remaining は残り発生回数。負数は無制限。
	remaining int
}

// Server はインメモリのデータAPIサーバー。
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	data     map[string][]map[string]any
	nextID   int
	failures []*failure
	requests []Record
}

// NewServer はサーバーを起動し、テスト終了時に停止する。
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{data: make(map[string][]map[string]any)}

	r := chi.NewRouter()
	r.Use(s.intercept)
	r.Get("/{resource}", s.handleList)
	r.Post("/{resource}", s.handleCreate)
	r.Get("/{resource}/{id}", s.handleGet)
	r.Put("/{resource}/{id}", s.handleReplace)
	r.Delete("/{resource}/{id}", s.handleDelete)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// Seed はresourceに項目を追加する。itemsはJSONオブジェクトにエンコードできる値。
func (s *Server) Seed(resource string, items ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		b, err := json.Marshal(it)
		if err != nil {
			panic(fmt.Sprintf("remotetest: seed %s: %v", resource, err))
		}
		obj, err := decodeObject(bytes.NewReader(b))
		if err != nil {
			panic(fmt.Sprintf("remotetest: seed %s: %v", resource, err))
		}
		s.data[resource] = append(s.data[resource], obj)
	}
}

// Decode はresourceの全項目をoutにデコードする。
func (s *Server) Decode(resource string, out any) error {
	s.mu.Lock()
	b, err := json.Marshal(s.list(resource))
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// Len はresourceの項目数を返す。
func (s *Server) Len(resource string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data[resource])
}

// Fail はmethodとパス接頭辞に一致するリクエストに常にstatusを返すよう設定する。
// methodが空文字列なら全メソッドに一致する。
func (s *Server) Fail(method, pathPrefix string, status int) {
	s.addFailure(method, pathPrefix, status, -1)
}

// FailNext は一致するリクエストの次のn回だけstatusを返すよう設定する。
func (s *Server) FailNext(method, pathPrefix string, status, n int) {
	s.addFailure(method, pathPrefix, status, n)
}

// Recover は注入した障害をすべて解除する。
func (s *Server) Recover() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = nil
}

// Requests は受け付けたリクエストの記録を返す。
func (s *Server) Requests() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.requests))
	copy(out, s.requests)
	return out
}

// Count はmethodとパス接頭辞に一致したリクエスト数を返す。
func (s *Server) Count(method, pathPrefix string) int {
	n := 0
	for _, r := range s.Requests() {
		if (method == "" || r.Method == method) && strings.HasPrefix(r.Path, pathPrefix) {
			n++
		}
	}
	return n
}

func (s *Server) addFailure(method, prefix string, status, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, &failure{method: method, prefix: prefix, status: status, remaining: n})
}

// intercept はリクエストを記録し、注入された障害があればそのステータスで応答する。
func (s *Server) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(strings.NewReader(string(body)))

		s.mu.Lock()
		s.requests = append(s.requests, Record{Method: r.Method, Path: r.URL.Path, Body: string(body)})
		status := 0
		for _, f := range s.failures {
			if f.remaining == 0 {
				continue
			}
			if (f.method == "" || f.method == r.Method) && strings.HasPrefix(r.URL.Path, f.prefix) {
				status = f.status
				if f.remaining > 0 {
					f.remaining--
				}
				break
			}
		}
		s.mu.Unlock()

		if status != 0 {
			writeJSON(w, status, map[string]string{"error": http.StatusText(status)})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	items := s.list(chi.URLParam(r, "resource"))
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resource, id := chi.URLParam(r, "resource"), chi.URLParam(r, "id")
	i := s.indexOf(resource, id)
	if i < 0 {
		writeJSON(w, http.StatusNotFound, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, s.data[resource][i])
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	obj, err := decodeObject(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	resource := chi.URLParam(r, "resource")
	if id, ok := obj["id"]; !ok || id == nil || id == "" {
		s.nextID++
		obj["id"] = fmt.Sprintf("gen-%d", s.nextID)
	}
	s.data[resource] = append(s.data[resource], obj)
	writeJSON(w, http.StatusCreated, obj)
}

func (s *Server) handleReplace(w http.ResponseWriter, r *http.Request) {
	obj, err := decodeObject(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	resource, id := chi.URLParam(r, "resource"), chi.URLParam(r, "id")
	i := s.indexOf(resource, id)
	if i < 0 {
		writeJSON(w, http.StatusNotFound, map[string]any{})
		return
	}
	obj["id"] = s.data[resource][i]["id"]
	s.data[resource][i] = obj
	writeJSON(w, http.StatusOK, obj)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resource, id := chi.URLParam(r, "resource"), chi.URLParam(r, "id")
	i := s.indexOf(resource, id)
	if i < 0 {
		writeJSON(w, http.StatusNotFound, map[string]any{})
		return
	}
	s.data[resource] = append(s.data[resource][:i], s.data[resource][i+1:]...)
	writeJSON(w, http.StatusOK, map[string]any{})
}

// list は呼び出し元がロックを保持している前提でresourceのコピーを返す。
func (s *Server) list(resource string) []map[string]any {
	out := make([]map[string]any, len(s.data[resource]))
	copy(out, s.data[resource])
	return out
}

func (s *Server) indexOf(resource, id string) int {
	for i, obj := range s.data[resource] {
		if fmt.Sprint(obj["id"]) == id {
			return i
		}
	}
	return -1
}

// decodeObject はJSONオブジェクトをデコードする。数値IDを元の表記のまま比較できるようjson.Numberを使う。
func decodeObject(r io.Reader) (map[string]any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("JSONオブジェクトではありません")
	}
	return obj, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
