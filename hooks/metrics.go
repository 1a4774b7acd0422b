package hooks

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/bun"

	"github.com/fernandezvara/dbcontext/internal/pgerr"
)

// MetricsHook implements Prometheus metrics collection
type MetricsHook struct {
	queryDuration *prometheus.HistogramVec
	queryTotal    *prometheus.CounterVec
	queryErrors   *prometheus.CounterVec
}

// NewMetricsHook creates a new metrics hook and registers collectors.
// Collectors already registered by another hook on the same registry are
// reused.
func NewMetricsHook(registry prometheus.Registerer) (*MetricsHook, error) {
	h := &MetricsHook{
		queryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dbcontext_query_duration_seconds",
				Help:    "Duration of database statements in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),
		queryTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbcontext_queries_total",
				Help: "Total number of database statements",
			},
			[]string{"operation"},
		),
		queryErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbcontext_query_errors_total",
				Help: "Total number of failed database statements by SQLSTATE",
			},
			[]string{"operation", "sqlstate"},
		),
	}

	var err error
	if h.queryDuration, err = register(registry, h.queryDuration); err != nil {
		return nil, err
	}
	if h.queryTotal, err = register(registry, h.queryTotal); err != nil {
		return nil, err
	}
	if h.queryErrors, err = register(registry, h.queryErrors); err != nil {
		return nil, err
	}

	return h, nil
}

func register[C prometheus.Collector](registry prometheus.Registerer, c C) (C, error) {
	if err := registry.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// BeforeQuery is called before a query is executed
func (h *MetricsHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

// AfterQuery is called after a query is executed
func (h *MetricsHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	duration := time.Since(event.StartTime).Seconds()
	op := OperationType(event.Query)

	h.queryDuration.WithLabelValues(op).Observe(duration)
	h.queryTotal.WithLabelValues(op).Inc()

	if event.Err != nil {
		code := pgerr.Code(event.Err)
		if code == "" {
			code = "none"
		}
		h.queryErrors.WithLabelValues(op, code).Inc()
	}
}
