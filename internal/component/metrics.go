package component

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"pilot-runtime/internal/shared/model"
)

// Metrics 组件运行时指标，同一进程内所有实例共用，按组件类型打标签
type Metrics struct {
	Callbacks        *prometheus.CounterVec
	CallbackFailures *prometheus.CounterVec
	CallbackDuration *prometheus.HistogramVec

	Received  *prometheus.CounterVec
	Advanced  *prometheus.CounterVec
	Pushed    *prometheus.CounterVec
	Published *prometheus.CounterVec
	Dropped   *prometheus.CounterVec

	Outstanding *prometheus.GaugeVec
}

// NewMetrics 在 reg 上注册指标；reg 为 nil 时使用默认注册表
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		Callbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "callbacks_total",
				Help:      "Total callbacks run on the execution lane",
			},
			[]string{"component", "kind"},
		),
		CallbackFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "callback_failures_total",
				Help:      "Total callbacks that returned an error or panicked",
			},
			[]string{"component", "kind"},
		),
		CallbackDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "callback_duration_seconds",
				Help:      "Callback duration in seconds",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"component", "kind"},
		),
		Received: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entities_received_total",
				Help:      "Entities pulled from input channels",
			},
			[]string{"component", "channel"},
		),
		Advanced: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entities_advanced_total",
				Help:      "State transitions by target state",
			},
			[]string{"component", "state"},
		),
		Pushed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entities_pushed_total",
				Help:      "Entities pushed to output channels",
			},
			[]string{"component", "channel"},
		),
		Published: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_published_total",
				Help:      "Notifications published by topic",
			},
			[]string{"component", "topic"},
		),
		Dropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entities_dropped_total",
				Help:      "Entities whose ownership ended without a push",
			},
			[]string{"component", "reason"},
		),
		Outstanding: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "entities_outstanding",
				Help:      "Entities held by a worker and not yet handed off",
			},
			[]string{"component", "instance"},
		),
	}
}

func (m *Metrics) observeCallback(ctype, kind string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.Callbacks.WithLabelValues(ctype, kind).Inc()
	m.CallbackDuration.WithLabelValues(ctype, kind).Observe(d.Seconds())
	if err != nil {
		m.CallbackFailures.WithLabelValues(ctype, kind).Inc()
	}
}

func (m *Metrics) received(ctype, channel string) {
	if m != nil {
		m.Received.WithLabelValues(ctype, channel).Inc()
	}
}

func (m *Metrics) advanced(ctype string, state model.State) {
	if m != nil {
		m.Advanced.WithLabelValues(ctype, string(state)).Inc()
	}
}

func (m *Metrics) pushed(ctype, channel string) {
	if m != nil {
		m.Pushed.WithLabelValues(ctype, channel).Inc()
	}
}

func (m *Metrics) published(ctype, topic string) {
	if m != nil {
		m.Published.WithLabelValues(ctype, topic).Inc()
	}
}

func (m *Metrics) dropped(ctype, reason string) {
	if m != nil {
		m.Dropped.WithLabelValues(ctype, reason).Inc()
	}
}

func (m *Metrics) setOutstanding(ctype, instance string, n int) {
	if m != nil {
		m.Outstanding.WithLabelValues(ctype, instance).Set(float64(n))
	}
}
