// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// リモートクライアントや各マネージャーから利用する。
type MetricsCollector interface {
	RecordRemoteRequest(method, resource string, statusCode int, duration time.Duration)
	RecordRemoteFailure(method, resource, reason string)
	RecordOperation(manager, operation string, ok bool)
	RecordStorageEvent(key string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	remoteRequests *prometheus.CounterVec
	remoteFailures *prometheus.CounterVec
	remoteLatency  *prometheus.HistogramVec
	operations     *prometheus.CounterVec
	storageEvents  *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		remoteRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zyrae_remote_requests_total",
			Help: "データAPIへのリクエスト数（ステータスコード別）",
		}, []string{"method", "resource", "status"}),
		remoteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zyrae_remote_failures_total",
			Help: "データAPIへのリクエストが応答を得られずに失敗した数",
		}, []string{"method", "resource", "reason"}),
		remoteLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zyrae_remote_latency_seconds",
			Help:    "データAPIリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "resource"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zyrae_operations_total",
			Help: "マネージャー操作の実行数（結果別）",
		}, []string{"manager", "operation", "result"}),
		storageEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zyrae_storage_events_total",
			Help: "他タブから受信したストレージ変更イベント数",
		}, []string{"key"}),
	}

	reg.MustRegister(
		c.remoteRequests,
		c.remoteFailures,
		c.remoteLatency,
		c.operations,
		c.storageEvents,
	)

	return c
}

// RecordRemoteRequest は応答を得たリクエストを記録する。
func (c *Collector) RecordRemoteRequest(method, resource string, statusCode int, duration time.Duration) {
	c.remoteRequests.WithLabelValues(method, resource, strconv.Itoa(statusCode)).Inc()
	c.remoteLatency.WithLabelValues(method, resource).Observe(duration.Seconds())
}

// RecordRemoteFailure は応答を得られなかったリクエストを記録する。
func (c *Collector) RecordRemoteFailure(method, resource, reason string) {
	c.remoteFailures.WithLabelValues(method, resource, reason).Inc()
}

// RecordOperation はマネージャー操作の結果を記録する。
func (c *Collector) RecordOperation(manager, operation string, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	c.operations.WithLabelValues(manager, operation, result).Inc()
}

// RecordStorageEvent は他タブからの変更イベント受信を記録する。
func (c *Collector) RecordStorageEvent(key string) {
	c.storageEvents.WithLabelValues(key).Inc()
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordRemoteRequest(string, string, int, time.Duration) {}
func (Nop) RecordRemoteFailure(string, string, string)             {}
func (Nop) RecordOperation(string, string, bool)                   {}
func (Nop) RecordStorageEvent(string)                              {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
