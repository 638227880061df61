package provider

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/bissquit/courier/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker/v2"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Total number of provider API requests",
		},
		[]string{"provider", "code"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "provider",
			Name:      "request_duration_seconds",
			Help:      "Provider API request duration",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"provider"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: "provider",
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"provider"},
	)
)

func recordRequest(provider string, resp *http.Response, err error, d time.Duration) {
	code := "error"
	var se *StatusError
	switch {
	case errors.As(err, &se):
		code = strconv.Itoa(se.StatusCode)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		code = "breaker_open"
	case resp != nil:
		code = strconv.Itoa(resp.StatusCode)
	}
	requestsTotal.WithLabelValues(provider, code).Inc()
	requestDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func recordBreakerState(provider string, _, to gobreaker.State) {
	breakerState.WithLabelValues(provider).Set(float64(to))
}
