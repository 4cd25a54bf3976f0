package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics объединяет счетчики конвейера диспетчеризации.
// Регистрируется на собственном registry и отдается на /metrics
type Metrics struct {
	registry *prometheus.Registry

	AssignmentsTotal     *prometheus.CounterVec
	AssignmentRetries    prometheus.Counter
	DeliveriesFailed     prometheus.Counter
	GeofenceEvents       *prometheus.CounterVec
	LocationUpdates      prometheus.Counter
	RouteCacheTotal      *prometheus.CounterVec
	ProviderRequests     *prometheus.CounterVec
	ProviderDuration     prometheus.Histogram
	StaleSweepRequeued   prometheus.Counter
	NotificationFailures prometheus.Counter
}

// New создает и регистрирует метрики конвейера
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		AssignmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_assignments_total",
			Help: "Assignment attempts by outcome",
		}, []string{"outcome"}),
		AssignmentRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_assignment_retries_total",
			Help: "Assignment retries scheduled with backoff",
		}),
		DeliveriesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_deliveries_failed_total",
			Help: "Deliveries failed after exhausting assignment retries",
		}),
		GeofenceEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracking_geofence_events_total",
			Help: "Geofence crossings by zone",
		}, []string{"zone"}),
		LocationUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracking_location_updates_total",
			Help: "Driver location samples processed",
		}),
		RouteCacheTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "routing_cache_total",
			Help: "Route cache lookups by result",
		}, []string{"result"}),
		ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "routing_provider_requests_total",
			Help: "External routing provider calls by result",
		}, []string{"result"}),
		ProviderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "routing_provider_request_duration_seconds",
			Help:    "External routing provider call duration",
			Buckets: prometheus.DefBuckets,
		}),
		StaleSweepRequeued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_stale_sweep_requeued_total",
			Help: "Stale pending deliveries re-enqueued by the sweep",
		}),
		NotificationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notifications_publish_failures_total",
			Help: "Best-effort notification publish failures",
		}),
	}

	registry.MustRegister(
		m.AssignmentsTotal,
		m.AssignmentRetries,
		m.DeliveriesFailed,
		m.GeofenceEvents,
		m.LocationUpdates,
		m.RouteCacheTotal,
		m.ProviderRequests,
		m.ProviderDuration,
		m.StaleSweepRequeued,
		m.NotificationFailures,
	)

	return m
}

// Handler возвращает HTTP-обработчик экспорта метрик
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
