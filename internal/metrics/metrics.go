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
// サービス層とミドルウェアから利用する。
type MetricsCollector interface {
	// RecordExchange はクレデンシャル交換の結果を記録する。outcomeは"success"またはエラーコード。
	RecordExchange(outcome string)
	// RecordSessionRejected はセッション検証で拒否されたリクエストを理由別に記録する。
	RecordSessionRejected(reason string)
	// RecordGeneration は生成APIの呼び出し結果とレイテンシを記録する。
	RecordGeneration(outcome string, duration time.Duration)
	// RecordNoteOperation はノート操作（create, list, update, delete）を記録する。
	RecordNoteOperation(op string)
	// RecordHTTPStatus はHTTPステータスコードを記録する。
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	exchanges         *prometheus.CounterVec
	sessionRejected   *prometheus.CounterVec
	generations       *prometheus.CounterVec
	generationLatency prometheus.Histogram
	noteOps           *prometheus.CounterVec
	httpStatus        *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notely_auth_exchange_total",
			Help: "クレデンシャル交換の結果別の合計数",
		}, []string{"outcome"}),
		sessionRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notely_session_rejected_total",
			Help: "セッション検証で拒否されたリクエストの理由別の合計数",
		}, []string{"reason"}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notely_generation_total",
			Help: "生成API呼び出しの結果別の合計数",
		}, []string{"outcome"}),
		generationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "notely_generation_latency_seconds",
			Help:    "生成API呼び出しのレイテンシ（秒）",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		noteOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notely_note_operations_total",
			Help: "ノート操作の種類別の合計数",
		}, []string{"op"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notely_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.exchanges,
		c.sessionRejected,
		c.generations,
		c.generationLatency,
		c.noteOps,
		c.httpStatus,
	)

	return c
}

// RecordExchange はクレデンシャル交換の結果を記録する。
func (c *Collector) RecordExchange(outcome string) {
	c.exchanges.WithLabelValues(outcome).Inc()
}

// RecordSessionRejected はセッション拒否を記録する。
func (c *Collector) RecordSessionRejected(reason string) {
	c.sessionRejected.WithLabelValues(reason).Inc()
}

// RecordGeneration は生成API呼び出しを記録する。
func (c *Collector) RecordGeneration(outcome string, duration time.Duration) {
	c.generations.WithLabelValues(outcome).Inc()
	c.generationLatency.Observe(duration.Seconds())
}

// RecordNoteOperation はノート操作を記録する。
func (c *Collector) RecordNoteOperation(op string) {
	c.noteOps.WithLabelValues(op).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordExchange(string)                  {}
func (Nop) RecordSessionRejected(string)           {}
func (Nop) RecordGeneration(string, time.Duration) {}
func (Nop) RecordNoteOperation(string)             {}
func (Nop) RecordHTTPStatus(int)                   {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
