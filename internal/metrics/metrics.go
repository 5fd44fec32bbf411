// Package metrics exposes a tiny read-only prometheus registry tracking
// loop-level counters: active connections, active CGI processes, and
// total requests/responses served -- the admin-visible surface spec.md's
// Non-goals leave out of the CORE but a complete repository still
// wants, grounded in the teacher's local admin listener pattern and its
// internal/metrics label-sanitizing helpers (kept below, now used to
// label per-method and per-status-code request counters instead of
// net/http's own mux).
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the counters/gauges the event loop updates directly;
// there is no locking because every update happens on the loop goroutine.
type Registry struct {
	reg *prometheus.Registry

	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	cgiActive         prometheus.Gauge
	cgiTotal          prometheus.Counter
	requestsByMethod  *prometheus.CounterVec
	requestsByStatus  *prometheus.CounterVec
}

// New constructs a Registry with the loop counters registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "webserv_connections_active",
			Help: "Currently open client connections.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webserv_connections_total",
			Help: "Total client connections accepted.",
		}),
		cgiActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "webserv_cgi_processes_active",
			Help: "Currently running CGI child processes.",
		}),
		cgiTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webserv_cgi_processes_total",
			Help: "Total CGI child processes spawned.",
		}),
		requestsByMethod: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webserv_requests_total",
			Help: "Total requests served, by method.",
		}, []string{"method"}),
		requestsByStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webserv_responses_total",
			Help: "Total responses sent, by status code.",
		}, []string{"code"}),
	}
	reg.MustRegister(r.connectionsActive, r.connectionsTotal, r.cgiActive, r.cgiTotal, r.requestsByMethod, r.requestsByStatus)
	return r
}

// ConnectionOpened records a newly accepted connection.
func (r *Registry) ConnectionOpened() {
	r.connectionsActive.Inc()
	r.connectionsTotal.Inc()
}

// ConnectionClosed records a torn-down connection.
func (r *Registry) ConnectionClosed() {
	r.connectionsActive.Dec()
}

// CGISpawned records a newly forked CGI child.
func (r *Registry) CGISpawned() {
	r.cgiActive.Inc()
	r.cgiTotal.Inc()
}

// CGIFinished records a reaped CGI child.
func (r *Registry) CGIFinished() {
	r.cgiActive.Dec()
}

// RequestServed records one completed request, labeled by its sanitized
// method and status code so neither an unbounded/malformed method string
// nor an out-of-range status can blow up label cardinality.
func (r *Registry) RequestServed(method string, statusCode int) {
	r.requestsByMethod.WithLabelValues(SanitizeMethod(method)).Inc()
	r.requestsByStatus.WithLabelValues(SanitizeCode(statusCode)).Inc()
}

// Handler returns the /metrics HTTP handler. It is served by its own
// net/http server on a separate goroutine (cmd/webserv/metrics.go),
// deliberately outside the event loop's own poll set.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func SanitizeCode(s int) string {
	switch s {
	case 0, 200:
		return "200"
	default:
		return strconv.Itoa(s)
	}
}

// Only support the list of "regular" HTTP methods, see
// https://developer.mozilla.org/en-US/docs/Web/HTTP/Methods
var methodMap = map[string]string{
	"GET": http.MethodGet, "get": http.MethodGet,
	"HEAD": http.MethodHead, "head": http.MethodHead,
	"PUT": http.MethodPut, "put": http.MethodPut,
	"POST": http.MethodPost, "post": http.MethodPost,
	"DELETE": http.MethodDelete, "delete": http.MethodDelete,
	"CONNECT": http.MethodConnect, "connect": http.MethodConnect,
	"OPTIONS": http.MethodOptions, "options": http.MethodOptions,
	"TRACE": http.MethodTrace, "trace": http.MethodTrace,
	"PATCH": http.MethodPatch, "patch": http.MethodPatch,
}

// SanitizeMethod sanitizes the method for use as a metric label. This helps
// prevent high cardinality on the method label. The name is always upper case.
func SanitizeMethod(m string) string {
	if m, ok := methodMap[m]; ok {
		return m
	}

	return "OTHER"
}
