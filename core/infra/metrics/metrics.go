package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Lifecycle captures session, offload and cache events.
type Lifecycle interface {
	IncSessionsCreated()
	IncSessionsReclaimed(reason string)
	IncDeleteFailures(tier string)
	IncUploads(result string)
	ObserveUploadDuration(durationSeconds float64)
	SetActiveSessions(n int)
	IncCacheLookup(cache, result string)
}

// GatewayMetrics captures request metrics for the file-serving surface.
type GatewayMetrics interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// Noop implements Lifecycle and GatewayMetrics without emitting anything.
type Noop struct{}

func (Noop) IncSessionsCreated()                            {}
func (Noop) IncSessionsReclaimed(string)                    {}
func (Noop) IncDeleteFailures(string)                       {}
func (Noop) IncUploads(string)                              {}
func (Noop) ObserveUploadDuration(float64)                  {}
func (Noop) SetActiveSessions(int)                          {}
func (Noop) IncCacheLookup(string, string)                  {}
func (Noop) ObserveRequest(string, string, string, float64) {}

// Prom implements Lifecycle backed by Prometheus collectors.
type Prom struct {
	created        prometheus.Counter
	reclaimed      *prometheus.CounterVec
	deleteFailures *prometheus.CounterVec
	uploads        *prometheus.CounterVec
	uploadDuration prometheus.Histogram
	active         prometheus.Gauge
	cacheLookups   *prometheus.CounterVec
	once           sync.Once
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Sessions registered after a successful download",
		}),
		reclaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_reclaimed_total",
			Help:      "Sessions reclaimed by reason",
		}, []string{"reason"}),
		deleteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_delete_failures_total",
			Help:      "Artifact deletions that failed, by storage tier",
		}, []string{"tier"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Remote offload attempts by result",
		}, []string{"result"}),
		uploadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_duration_seconds",
			Help:      "Remote offload latency",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions currently tracked by the registry",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by cache and result",
		}, []string{"cache", "result"}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(p.created, p.reclaimed, p.deleteFailures, p.uploads, p.uploadDuration, p.active, p.cacheLookups)
	})
}

func (p *Prom) IncSessionsCreated() {
	p.created.Inc()
}

func (p *Prom) IncSessionsReclaimed(reason string) {
	p.reclaimed.WithLabelValues(reason).Inc()
}

func (p *Prom) IncDeleteFailures(tier string) {
	p.deleteFailures.WithLabelValues(tier).Inc()
}

func (p *Prom) IncUploads(result string) {
	p.uploads.WithLabelValues(result).Inc()
}

func (p *Prom) ObserveUploadDuration(durationSeconds float64) {
	p.uploadDuration.Observe(durationSeconds)
}

func (p *Prom) SetActiveSessions(n int) {
	p.active.Set(float64(n))
}

func (p *Prom) IncCacheLookup(cache, result string) {
	p.cacheLookups.WithLabelValues(cache, result).Inc()
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// --- Gateway metrics ---

type gatewayProm struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	once     sync.Once
}

// NewGatewayProm constructs a GatewayMetrics with counters/histograms.
func NewGatewayProm(namespace string) GatewayMetrics {
	g := &gatewayProm{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	g.once.Do(func() {
		prometheus.MustRegister(g.requests, g.latency)
	})
	return g
}

func (g *gatewayProm) ObserveRequest(method, route, status string, durationSeconds float64) {
	g.requests.WithLabelValues(method, route, status).Inc()
	g.latency.WithLabelValues(method, route).Observe(durationSeconds)
}
