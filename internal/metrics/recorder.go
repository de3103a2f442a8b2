package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/bpradana/edgeboard/internal/directory"
	"github.com/bpradana/edgeboard/internal/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Recorder owns the edgeboard collectors and their registry
type Recorder struct {
	registry *prometheus.Registry

	pollsTotal    *prometheus.CounterVec
	pollDuration  *prometheus.HistogramVec
	targetUp      *prometheus.GaugeVec
	endpointUp    *prometheus.GaugeVec
	cyclesTotal   *prometheus.CounterVec
	requestsTotal *prometheus.CounterVec
	requestTime   *prometheus.HistogramVec
}

// NewRecorder creates and registers every collector under namespace
func NewRecorder(namespace string) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		pollsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "poller",
				Name:      "polls_total",
				Help:      "Total number of committed health polls",
			},
			[]string{"target", "result"},
		),
		pollDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "poller",
				Name:      "poll_duration_seconds",
				Help:      "Health poll round trip in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"target"},
		),
		targetUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "poller",
				Name:      "target_up",
				Help:      "Whether the last poll of a target reported status ok",
			},
			[]string{"target"},
		),
		endpointUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "directory",
				Name:      "endpoint_up",
				Help:      "Whether the last probe of an endpoint succeeded",
			},
			[]string{"scope", "endpoint"},
		),
		cyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "directory",
				Name:      "cycles_total",
				Help:      "Total number of directory cycles",
			},
			[]string{"scope", "result"},
		),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of dashboard API requests",
			},
			[]string{"method", "status_code"},
		),
		requestTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Dashboard API request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.pollsTotal,
		r.pollDuration,
		r.targetUp,
		r.endpointUp,
		r.cyclesTotal,
		r.requestsTotal,
		r.requestTime,
	)

	return r
}

// Registry returns the registry holding the collectors
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObservePoll records one committed poll result
func (r *Recorder) ObservePoll(result health.Result) {
	target := result.Target.APIURL

	outcome := "ok"
	switch {
	case result.Err != nil:
		outcome = "error"
	case !result.Health.Healthy():
		outcome = "unhealthy"
	}

	r.pollsTotal.WithLabelValues(target, outcome).Inc()
	r.pollDuration.WithLabelValues(target).Observe(result.Latency.Seconds())
	r.targetUp.WithLabelValues(target).Set(boolValue(outcome == "ok"))
}

// ObserveDirectory records the outcome of one directory cycle
func (r *Recorder) ObserveDirectory(snapshot directory.Snapshot) {
	scope := scopeLabel(snapshot.SeedID)

	if snapshot.Error != "" {
		r.cyclesTotal.WithLabelValues(scope, "error").Inc()
		return
	}

	r.cyclesTotal.WithLabelValues(scope, "ok").Inc()
	r.endpointUp.DeletePartialMatch(prometheus.Labels{"scope": scope})
	for _, endpoint := range snapshot.Endpoints {
		r.endpointUp.WithLabelValues(scope, endpoint.Label).Set(boolValue(endpoint.OK))
	}
}

// ForgetTarget drops the series of a target that is no longer polled
func (r *Recorder) ForgetTarget(target health.Target) {
	r.pollsTotal.DeletePartialMatch(prometheus.Labels{"target": target.APIURL})
	r.pollDuration.DeleteLabelValues(target.APIURL)
	r.targetUp.DeleteLabelValues(target.APIURL)
}

// ForgetScope drops the series of a directory scope that was discarded.
// An empty seedID is the unscoped directory.
func (r *Recorder) ForgetScope(seedID string) {
	labels := prometheus.Labels{"scope": scopeLabel(seedID)}
	r.endpointUp.DeletePartialMatch(labels)
	r.cyclesTotal.DeletePartialMatch(labels)
}

// Middleware counts and times dashboard API requests
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, req)

		r.requestsTotal.WithLabelValues(req.Method, strconv.Itoa(wrapped.statusCode)).Inc()
		r.requestTime.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *statusRecorder) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func scopeLabel(seedID string) string {
	if seedID == "" {
		return "all"
	}
	return seedID
}
