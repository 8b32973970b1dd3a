// Package observability はメトリクスの収集と公開を提供します。
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 認証イベントの結果ラベルです。
const (
	ResultSuccess  = "success"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// Metrics は認証まわりのカウンターを保持します。
type Metrics struct {
	registry   *prometheus.Registry
	authEvents *prometheus.CounterVec
}

// NewMetrics は専用レジストリにメトリクスを登録して返します。
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	authEvents := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_events_total",
			Help: "Total number of authentication events by action and result",
		},
		[]string{"action", "result"},
	)
	registry.MustRegister(authEvents)

	return &Metrics{
		registry:   registry,
		authEvents: authEvents,
	}
}

// RecordAuth は action（register, login, logout）の結果を数えます。
func (m *Metrics) RecordAuth(action, result string) {
	if m == nil {
		return
	}
	m.authEvents.WithLabelValues(action, result).Inc()
}

// Handler は /metrics 用のハンドラーを返します。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
