package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seantiz/servicedg/internal/model"
)

const unmatched = "unmatched"

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "servicedg_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "servicedg_http_request_duration_seconds",
			Help:    "Duration of non-streaming HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	blocksByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "servicedg_blocks",
			Help: "Number of blocks in each run state.",
		},
		[]string{"state"},
	)

	totalViewersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "servicedg_live_total_viewers",
		Help: "Viewers accumulated across all blocks since their last reset.",
	})
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(blocksByState)
	prometheus.MustRegister(totalViewersGauge)
}

// streamingPatterns are long-lived routes whose duration says nothing about
// latency.
var streamingPatterns = map[string]bool{
	"/v1/blocks/{id}/events": true,
	"/v1/ws":                 true,
}

// metricsMiddleware counts every request by chi route pattern and records
// the duration of non-streaming ones.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		path := routePattern(r)
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		if !streamingPatterns[path] {
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		}
	})
}

// routePattern extracts the matched chi route pattern, falling back to "unmatched".
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return unmatched
}

// metricsHandler refreshes the block gauges from the orchestrator before
// each scrape.
func (s *Server) metricsHandler() http.Handler {
	h := promhttp.Handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.observeBlocks()
		h.ServeHTTP(w, r)
	})
}

func (s *Server) observeBlocks() {
	counts := map[string]int{
		model.StateIdle:      0,
		model.StateRunning:   0,
		model.StatePaused:    0,
		model.StateCompleted: 0,
	}
	for _, b := range s.orch.Snapshots() {
		counts[b.RunState]++
	}
	for state, n := range counts {
		blocksByState.WithLabelValues(state).Set(float64(n))
	}
	totalViewersGauge.Set(float64(s.orch.TotalViewers()))
}
