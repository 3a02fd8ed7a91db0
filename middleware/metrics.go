package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shrek82/oql/core"
	"github.com/shrek82/oql/query"
)

// MetricsMiddleware exports statement counts, latencies and pool gauges
// to Prometheus.
type MetricsMiddleware struct {
	reg       prometheus.Registerer
	namespace string

	statements *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	openConns  prometheus.GaugeFunc
	inUse      prometheus.GaugeFunc

	collectors []prometheus.Collector
}

// NewMetrics creates the collectors under namespace; they are registered
// with reg by Init. A nil reg means prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer, namespace string) *MetricsMiddleware {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &MetricsMiddleware{
		reg:       reg,
		namespace: namespace,
		statements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "statements_total",
				Help:      "Total number of statements by operation, table and status",
			},
			[]string{"operation", "table", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "statement_duration_seconds",
				Help:      "Duration of statements in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"operation"},
		),
	}
}

func (m *MetricsMiddleware) Name() string {
	return "Metrics"
}

func (m *MetricsMiddleware) Init(db *core.DB) error {
	m.openConns = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "pool_open_connections",
		Help:      "Number of established connections, in use and idle",
	}, func() float64 { return float64(db.Stats().OpenConnections) })
	m.inUse = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "pool_in_use_connections",
		Help:      "Number of connections currently in use",
	}, func() float64 { return float64(db.Stats().InUse) })

	for _, c := range []prometheus.Collector{m.statements, m.duration, m.openConns, m.inUse} {
		if err := m.reg.Register(c); err != nil {
			_ = m.Shutdown()
			return errors.WithMessage(err, "register metrics")
		}
		m.collectors = append(m.collectors, c)
	}
	return nil
}

func (m *MetricsMiddleware) Shutdown() error {
	for _, c := range m.collectors {
		m.reg.Unregister(c)
	}
	m.collectors = nil
	return nil
}

func (m *MetricsMiddleware) Process(ctx context.Context, q *core.Query, next core.QueryFunc) (*core.Result, error) {
	op := "raw"
	if q.Op != query.OpNone {
		op = strings.ToLower(q.Op.String())
	}

	start := time.Now()
	res, err := next(ctx, q)

	status := "success"
	switch {
	case err != nil:
		status = "error"
	case res != nil && res.Cached:
		status = "cached"
	case res != nil && res.Conflict:
		status = "conflict"
	}
	m.statements.WithLabelValues(op, q.Table, status).Inc()
	if status != "cached" {
		m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
	return res, err
}
