package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type (
	// M holds every collector exported by a server. Each server gets its
	// own registry so tests can create as many as they want.
	M struct {
		registry *prometheus.Registry

		Logins         *prometheus.CounterVec
		Registrations  *prometheus.CounterVec
		Logouts        prometheus.Counter
		Visits         prometheus.Counter
		SessionsSaved  prometheus.Counter
		SessionsPurged prometheus.Counter
		StoreErrors    *prometheus.CounterVec
		Requests       *prometheus.HistogramVec
	}
)

const namespace = "turnstile"

func New(server string) *M {
	labels := prometheus.Labels{"server": server}
	m := &M{
		registry: prometheus.NewRegistry(),
		Logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "logins_total", ConstLabels: labels,
			Help: "Login attempts by result (success, invalid, error).",
		}, []string{"result"}),
		Registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "registrations_total", ConstLabels: labels,
			Help: "Sign up attempts by result (success, duplicate, invalid, error).",
		}, []string{"result"}),
		Logouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "logouts_total", ConstLabels: labels,
			Help: "Log out requests.",
		}),
		Visits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "visits_total", ConstLabels: labels,
			Help: "Visits counted by the visits page.",
		}),
		SessionsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_saved_total", ConstLabels: labels,
			Help: "Session writes.",
		}),
		SessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_purged_total", ConstLabels: labels,
			Help: "Expired sessions removed by the janitor.",
		}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "store_unavailable_total", ConstLabels: labels,
			Help: "Requests that failed because the store was unavailable, by operation.",
		}, []string{"op"}),
		Requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds", ConstLabels: labels,
			Help:    "HTTP request latency by method and status code.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "code"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Logins, m.Registrations, m.Logouts, m.Visits,
		m.SessionsSaved, m.SessionsPurged, m.StoreErrors, m.Requests,
	)
	return m
}

// Handler exposes the registry in the prometheus text format.
func (m *M) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Instrument records the latency of every request served by h.
func (m *M) Instrument(h http.Handler) http.Handler {
	return promhttp.InstrumentHandlerDuration(m.Requests, h)
}

func (m *M) Registry() *prometheus.Registry {
	return m.registry
}
