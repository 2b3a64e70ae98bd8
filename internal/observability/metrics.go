package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fallback_engine"

// Metrics stores Prometheus collectors used by the admin API and the batch engines.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	batchRunsTotal        *prometheus.CounterVec
	batchDuration         *prometheus.HistogramVec
	batchItemsTotal       *prometheus.CounterVec
	sendDuration          *prometheus.HistogramVec
	sendFailuresTotal     *prometheus.CounterVec
	dlqEntriesTotal       *prometheus.CounterVec
	migratedRowsTotal     *prometheus.CounterVec
	fallbackWritesTotal   *prometheus.CounterVec
	janitorRowsTotal      *prometheus.CounterVec
	primaryCacheReachable prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		batchRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_runs_total",
				Help:      "Total number of batch runs by job and result.",
			},
			[]string{"job", "result"},
		),
		batchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_duration_seconds",
				Help:      "Batch run duration in seconds by job.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"job"},
		),
		batchItemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_items_total",
				Help:      "Total number of batch items by job and outcome.",
			},
			[]string{"job", "outcome"},
		),
		sendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "send_duration_seconds",
				Help:      "Outbound send duration in seconds by job.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"job"},
		),
		sendFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "send_failures_total",
				Help:      "Total number of failed outbound sends by job and reason.",
			},
			[]string{"job", "reason"},
		),
		dlqEntriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dlq_entries_total",
				Help:      "Total number of rows moved to the dead-letter queue by job.",
			},
			[]string{"job"},
		),
		migratedRowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "migrated_rows_total",
				Help:      "Total number of fallback rows handled by the recovery migrator by stream and outcome.",
			},
			[]string{"stream", "outcome"},
		),
		fallbackWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fallback_writes_total",
				Help:      "Total number of writes routed through the fallback writer by kind and target.",
			},
			[]string{"kind", "target"},
		),
		janitorRowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "janitor_rows_total",
				Help:      "Total number of rows cleaned up by janitor task.",
			},
			[]string{"task"},
		),
		primaryCacheReachable: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "primary_cache_reachable",
				Help:      "1 when the last check reached the primary cache, 0 otherwise.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.batchRunsTotal,
		m.batchDuration,
		m.batchItemsTotal,
		m.sendDuration,
		m.sendFailuresTotal,
		m.dlqEntriesTotal,
		m.migratedRowsTotal,
		m.fallbackWritesTotal,
		m.janitorRowsTotal,
		m.primaryCacheReachable,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) ObserveBatchRun(job string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	jobLabel := normalizeLabel(job)
	m.batchRunsTotal.WithLabelValues(jobLabel, result).Inc()
	m.batchDuration.WithLabelValues(jobLabel).Observe(nonNegativeSeconds(duration))
}

func (m *Metrics) AddBatchItems(job string, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.batchItemsTotal.WithLabelValues(normalizeLabel(job), normalizeLabel(outcome)).Add(float64(n))
}

func (m *Metrics) ObserveSendDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.sendDuration.WithLabelValues(normalizeLabel(job)).Observe(nonNegativeSeconds(duration))
}

func (m *Metrics) IncSendFailure(job string, reason string) {
	if m == nil {
		return
	}
	m.sendFailuresTotal.WithLabelValues(normalizeLabel(job), normalizeLabel(reason)).Inc()
}

func (m *Metrics) IncDLQEntry(job string) {
	if m == nil {
		return
	}
	m.dlqEntriesTotal.WithLabelValues(normalizeLabel(job)).Inc()
}

func (m *Metrics) AddMigratedRows(stream string, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.migratedRowsTotal.WithLabelValues(normalizeLabel(stream), normalizeLabel(outcome)).Add(float64(n))
}

func (m *Metrics) IncFallbackWrite(kind string, target string) {
	if m == nil {
		return
	}
	m.fallbackWritesTotal.WithLabelValues(normalizeLabel(kind), normalizeLabel(target)).Inc()
}

func (m *Metrics) AddJanitorRows(task string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.janitorRowsTotal.WithLabelValues(normalizeLabel(task)).Add(float64(n))
}

func (m *Metrics) SetPrimaryCacheReachable(reachable bool) {
	if m == nil {
		return
	}
	if reachable {
		m.primaryCacheReachable.Set(1)
		return
	}
	m.primaryCacheReachable.Set(0)
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

func nonNegativeSeconds(d time.Duration) float64 {
	if d < 0 {
		return 0
	}
	return d.Seconds()
}
