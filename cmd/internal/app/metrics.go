package app

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns relay's Prometheus registry. It satisfies the observer
// interfaces of realtime, session and ingest.
type Metrics struct {
	reg *prometheus.Registry

	wsConnections prometheus.Gauge
	wsRooms       prometheus.Gauge
	wsEvictions   prometheus.Counter

	refreshTotal  *prometheus.CounterVec
	reuseDetected prometheus.Counter

	submissions *prometheus.CounterVec
	generation  prometheus.Histogram
}

// NewMetrics registers relay's collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_ws_connections",
			Help: "Current number of admitted websocket connections",
		}),
		wsRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_ws_rooms",
			Help: "Current number of rooms with at least one member",
		}),
		wsEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_ws_evictions_total",
			Help: "Connections evicted because their send queue was full",
		}),
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_auth_refresh_total",
			Help: "Refresh token rotations by result",
		}, []string{"result"}),
		reuseDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_auth_reuse_detected_total",
			Help: "Refresh tokens presented after they were rotated",
		}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_ingest_submissions_total",
			Help: "Message submissions by result",
		}, []string{"result"}),
		generation: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_generation_duration_seconds",
			Help:    "Wall time of a response generation",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.wsConnections, m.wsRooms, m.wsEvictions,
		m.refreshTotal, m.reuseDetected,
		m.submissions, m.generation,
	)
	return m
}

// Registry exposes the owned registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) RoomOpened()         { m.wsRooms.Inc() }
func (m *Metrics) RoomClosed()         { m.wsRooms.Dec() }
func (m *Metrics) ConnectionAdmitted() { m.wsConnections.Inc() }
func (m *Metrics) ConnectionRemoved()  { m.wsConnections.Dec() }
func (m *Metrics) Evicted()            { m.wsEvictions.Inc() }

func (m *Metrics) RefreshResult(result string) { m.refreshTotal.WithLabelValues(result).Inc() }
func (m *Metrics) ReuseDetected()              { m.reuseDetected.Inc() }

func (m *Metrics) SubmissionResult(result string) { m.submissions.WithLabelValues(result).Inc() }

// ObserveGeneration records one generation's duration.
func (m *Metrics) ObserveGeneration(d time.Duration) { m.generation.Observe(d.Seconds()) }
