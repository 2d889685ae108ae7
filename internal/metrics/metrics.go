// Package metrics 刷新任务的 Prometheus 指标
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 独立 registry，避免重复注册冲突（测试里会多次创建）
type Metrics struct {
	registry *prometheus.Registry

	Runs          *prometheus.CounterVec
	RunDuration   *prometheus.HistogramVec
	Events        *prometheus.CounterVec
	ActiveStreaks *prometheus.GaugeVec
	StepErrors    *prometheus.CounterVec
	GamesFetched  prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streaksync_refresh_runs_total",
			Help: "Refresh runs by job and outcome.",
		}, []string{"job", "outcome"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "streaksync_refresh_duration_seconds",
			Help:    "Refresh run duration.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"job"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streaksync_streak_events_total",
			Help: "Streak events emitted by type.",
		}, []string{"entity_type", "event_type"}),
		ActiveStreaks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "streaksync_active_streaks",
			Help: "Active streaks after the last successful run.",
		}, []string{"entity_type"}),
		StepErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streaksync_refresh_step_errors_total",
			Help: "Non-fatal persistence step failures.",
		}, []string{"step"}),
		GamesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streaksync_boxscores_fetched_total",
			Help: "Box scores fetched from upstream.",
		}),
	}
	m.registry.MustRegister(
		m.Runs, m.RunDuration, m.Events, m.ActiveStreaks, m.StepErrors, m.GamesFetched,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler /metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 测试读取指标
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
