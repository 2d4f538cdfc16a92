package http

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/contextfs/internal/service"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/contextfs/internal/http"

// HTTPMetrics holds the OTel request instruments.
type HTTPMetrics struct {
	meter          metric.Meter
	logger         *zap.Logger
	requestsTotal  metric.Int64Counter
	requestDur     metric.Float64Histogram
	activeRequests metric.Int64UpDownCounter
}

// NewHTTPMetrics creates HTTPMetrics on meter, or the global meter when nil.
func NewHTTPMetrics(meter metric.Meter, logger *zap.Logger) *HTTPMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	if meter == nil {
		meter = otel.Meter(httpInstrumentationName)
	}
	m := &HTTPMetrics{meter: meter, logger: logger}
	m.init()
	return m
}

func (m *HTTPMetrics) init() {
	var err error

	m.requestsTotal, err = m.meter.Int64Counter(
		"contextfs.http.requests_total",
		metric.WithDescription("HTTP requests by method, route and status code."),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn("failed to create requests counter", zap.Error(err))
	}

	m.requestDur, err = m.meter.Float64Histogram(
		"contextfs.http.request_duration_seconds",
		metric.WithDescription("HTTP request duration by method, route and status code."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.activeRequests, err = m.meter.Int64UpDownCounter(
		"contextfs.http.active_requests",
		metric.WithDescription("Number of in-progress HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn("failed to create active requests gauge", zap.Error(err))
	}
}

// MetricsMiddleware returns an Echo middleware that records request metrics.
// The endpoint attribute is the route pattern, so /api/v1/maps/7 and
// /api/v1/maps/8 share one series.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ctx := c.Request().Context()

			if m.activeRequests != nil {
				m.activeRequests.Add(ctx, 1)
			}

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("endpoint", normalizePath(c.Path())),
				attribute.Int("status", c.Response().Status),
			)
			if m.requestsTotal != nil {
				m.requestsTotal.Add(ctx, 1, attrs)
			}
			if m.requestDur != nil {
				m.requestDur.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if m.activeRequests != nil {
				m.activeRequests.Add(ctx, -1)
			}
			return nil
		}
	}
}

func normalizePath(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}

// statusCollector exposes service.Status as Prometheus metrics at scrape time.
type statusCollector struct {
	svc     service.API
	timeout time.Duration

	inFlight     *prometheus.Desc
	files        *prometheus.Desc
	records      *prometheus.Desc
	duplicates   *prometheus.Desc
	indexEntries *prometheus.Desc
	uptime       *prometheus.Desc
}

func newStatusCollector(svc service.API) *statusCollector {
	return &statusCollector{
		svc:     svc,
		timeout: 2 * time.Second,
		inFlight: prometheus.NewDesc("contextfs_ingest_in_flight",
			"Files currently claimed by the coordinator.", nil, nil),
		files: prometheus.NewDesc("contextfs_ingest_files",
			"Files that reached a terminal outcome.", []string{"outcome"}, nil),
		records: prometheus.NewDesc("contextfs_ingest_records_indexed",
			"Records written to the index.", nil, nil),
		duplicates: prometheus.NewDesc("contextfs_ingest_duplicates_skipped",
			"Records skipped because their identity was already indexed.", nil, nil),
		indexEntries: prometheus.NewDesc("contextfs_index_entries",
			"Entries in the vector index, -1 when the backend cannot be counted.", nil, nil),
		uptime: prometheus.NewDesc("contextfs_uptime_seconds",
			"Seconds since the daemon started.", nil, nil),
	}
}

func (c *statusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.inFlight
	ch <- c.files
	ch <- c.records
	ch <- c.duplicates
	ch <- c.indexEntries
	ch <- c.uptime
}

func (c *statusCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	st := c.svc.Status(ctx)

	ch <- prometheus.MustNewConstMetric(c.inFlight, prometheus.GaugeValue, float64(st.Ingest.InFlight))
	for outcome, n := range map[string]int64{
		"settled":   st.Ingest.Settled,
		"abandoned": st.Ingest.Abandoned,
		"failed":    st.Ingest.Failed,
		"removed":   st.Ingest.Removed,
	} {
		ch <- prometheus.MustNewConstMetric(c.files, prometheus.CounterValue, float64(n), outcome)
	}
	ch <- prometheus.MustNewConstMetric(c.records, prometheus.CounterValue, float64(st.Ingest.RecordsIndexed))
	ch <- prometheus.MustNewConstMetric(c.duplicates, prometheus.CounterValue, float64(st.Ingest.DuplicatesSkipped))
	ch <- prometheus.MustNewConstMetric(c.indexEntries, prometheus.GaugeValue, float64(st.IndexEntries))
	ch <- prometheus.MustNewConstMetric(c.uptime, prometheus.GaugeValue, float64(st.UptimeSeconds))
}
