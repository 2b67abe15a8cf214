// Package remote はストアフロントのデータAPI（/users, /products, /cart,
// /wishlist, /orders）を呼び出すHTTPクライアントを提供する。
// 自動リトライは行わない。連続した障害はサーキットブレーカーで遮断する。
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/hitoshi/zyrae/internal/metrics"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/publicsuffix"
)

const (
	// maxResponseBytes はレスポンスボディの最大読み取りサイズ。
	maxResponseBytes = 8 << 20
	// maxErrorBodyBytes はStatusErrorに保持するボディの最大長。
	maxErrorBodyBytes = 512
)

// Config はクライアントの設定。
type Config struct {
	// Timeout はリクエスト全体のタイムアウト。0はタイムアウトなし。
	Timeout time.Duration
	// BreakerMaxFailures はブレーカーが開くまでの連続失敗回数。
	BreakerMaxFailures uint32
	// BreakerOpenTimeout はブレーカーが開いてから半開状態に移るまでの時間。
	BreakerOpenTimeout time.Duration
}

// response はブレーカー越しに受け渡す応答の要約。
type response struct {
	statusCode int
	body       []byte
}

// Client はデータAPIのクライアント。固定のベースURLに対してJSONで通信する。
type Client struct {
	httpClient *http.Client
	baseURL    string
	breaker    *gobreaker.CircuitBreaker[response]
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
}

// NewHTTPClient はOpenTelemetry計装済みトランスポートとクッキージャーを備えた
// *http.Client を生成する。
func NewHTTPClient(timeout time.Duration) (*http.Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("クッキージャーの生成に失敗しました: %w", err)
	}
	return &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Jar:       jar,
		Timeout:   timeout,
	}, nil
}

// NewClient はClientの新しいインスタンスを生成する。
// httpClientがnilの場合はNewHTTPClientで生成する。
func NewClient(baseURL string, httpClient *http.Client, cfg Config, mc metrics.MetricsCollector, logger *slog.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("データAPIのベースURLが指定されていません")
	}
	if httpClient == nil {
		hc, err := NewHTTPClient(cfg.Timeout)
		if err != nil {
			return nil, err
		}
		httpClient = hc
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}

	c := &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		metrics:    mc,
		logger:     logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker[response](gobreaker.Settings{
		Name:    "data-api",
		Timeout: cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return !countsAsFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	return c, nil
}

// Get はpathのリソースを取得してoutにデコードする。
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// Post はinをJSONで送信し、応答をoutにデコードする。outがnilなら応答は読み捨てる。
func (c *Client) Post(ctx context.Context, path string, in, out any) error {
	return c.do(ctx, http.MethodPost, path, in, out)
}

// Put はinでpathのリソースを置き換え、応答をoutにデコードする。
func (c *Client) Put(ctx context.Context, path string, in, out any) error {
	return c.do(ctx, http.MethodPut, path, in, out)
}

// Delete はpathのリソースを削除する。
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("リクエストボディのエンコードに失敗しました: %w", err)
		}
		payload = b
	}

	resource := resourceOf(path)
	resp, err := c.breaker.Execute(func() (response, error) {
		return c.send(ctx, method, path, resource, payload)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.metrics.RecordRemoteFailure(method, resource, "circuit_open")
			return fmt.Errorf("%w: %s %s", ErrCircuitOpen, method, path)
		}
		return err
	}

	if out == nil || len(bytes.TrimSpace(resp.body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		c.logger.Error("データAPIのレスポンスのパースに失敗しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	return nil
}

// send は1回のHTTPリクエストを実行する。2xx以外はStatusErrorを返す。
func (c *Client) send(ctx context.Context, method, path, resource string, payload []byte) (response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return response{}, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordRemoteFailure(method, resource, "transport")
		c.logger.Error("データAPIの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return response{}, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.metrics.RecordRemoteRequest(method, resource, resp.StatusCode, time.Since(start))
	if err != nil {
		return response{}, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	if classifyStatus(resp.StatusCode) != outcomeOK {
		c.logger.Warn("データAPIがエラーステータスを返しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
		)
		return response{}, &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(data), maxErrorBodyBytes),
		}
	}
	return response{statusCode: resp.StatusCode, body: data}, nil
}

// resourceOf はメトリクスのラベル用にパスの先頭セグメントを返す。
func resourceOf(path string) string {
	p := strings.TrimPrefix(path, "/")
	if i := strings.IndexAny(p, "/?"); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "root"
	}
	return p
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
