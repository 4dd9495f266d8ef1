// Package metrics はPrometheusメトリクスの定義と公開用ハンドラを提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// namespace はメトリクス名の接頭辞。
const namespace = "authgate"

// Metrics はアプリケーションのPrometheusメトリクスを保持する。
type Metrics struct {
	registry *prometheus.Registry

	// RequestsTotal はメソッド・ルート・ステータス別のリクエスト数。
	RequestsTotal *prometheus.CounterVec
	// RequestDuration はメソッド・ルート別の処理時間。
	RequestDuration *prometheus.HistogramVec
	// GateDecisions は認証ゲートの判定結果別の件数。
	GateDecisions *prometheus.CounterVec
	// ProviderCalls はIDプロバイダー呼び出しの操作・結果別の件数。
	ProviderCalls *prometheus.CounterVec
}

// New は専用のレジストリにメトリクスを登録して返す。
// グローバルレジストリを使わないため、テストごとに生成しても衝突しない。
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		GateDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_gate_decisions_total",
			Help:      "Total number of bearer gate decisions by outcome",
		}, []string{"outcome"}),
		ProviderCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identity_provider_calls_total",
			Help:      "Total number of identity provider calls by operation and result",
		}, []string{"operation", "result"}),
	}
}

// ObserveRequest はHTTPリクエストの結果を記録する。
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveGate は認証ゲートの判定結果を記録する。
func (m *Metrics) ObserveGate(outcome string) {
	m.GateDecisions.WithLabelValues(outcome).Inc()
}

// ObserveProviderCall はIDプロバイダー呼び出しの結果を記録する。
func (m *Metrics) ObserveProviderCall(operation, result string) {
	m.ProviderCalls.WithLabelValues(operation, result).Inc()
}

// Handler は/metrics用のHTTPハンドラを返す。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
