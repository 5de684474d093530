package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the HTTP surface.
type Metrics struct {
	// HTTPRequestCounter counts requests.
	// Labels: method, route, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// HTTPRequestDuration measures request latency in seconds.
	// Labels: method, route
	HTTPRequestDuration *prometheus.HistogramVec

	// ViewLoadCounter counts transaction fetches.
	// Labels: view, status (success|unauthorized|error)
	ViewLoadCounter *prometheus.CounterVec

	// ViewLoadDuration measures transaction fetch latency in seconds.
	// Labels: view
	ViewLoadDuration *prometheus.HistogramVec

	// RecordsLoaded is the record count of the last successful fetch.
	// Labels: view
	RecordsLoaded *prometheus.GaugeVec

	// ExportCounter counts spreadsheet downloads.
	// Labels: view, format
	ExportCounter *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "panier_http_requests_total",
				Help: "Total number of HTTP requests by method, route and status code",
			},
			[]string{"method", "route", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "panier_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "route"},
		),
		ViewLoadCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "panier_view_loads_total",
				Help: "Total number of transaction fetches by view and status",
			},
			[]string{"view", "status"},
		),
		ViewLoadDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "panier_view_load_duration_seconds",
				Help:    "Duration of transaction fetches in seconds",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"view"},
		),
		RecordsLoaded: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "panier_records_loaded",
				Help: "Number of purchase records held by each view",
			},
			[]string{"view"},
		),
		ExportCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "panier_exports_total",
				Help: "Total number of spreadsheet exports by view and format",
			},
			[]string{"view", "format"},
		),
	}
}
