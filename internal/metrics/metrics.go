package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RunsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "runtrack_runs_active",
		Help: "Runs currently being tracked",
	})

	RunsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "runtrack_runs_started_total",
		Help: "Runs started",
	})

	RunsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "runtrack_runs_finished_total",
		Help: "Runs finished by outcome status",
	}, []string{"status"})

	PointsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "runtrack_points_accepted_total",
		Help: "Position samples appended to a run",
	})

	SamplesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "runtrack_samples_rejected_total",
		Help: "Position samples discarded by the validator",
	}, []string{"reason"})

	SourceErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "runtrack_source_errors_total",
		Help: "Errors reported by the position source",
	})

	RunDistance = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "runtrack_run_distance_meters",
		Help:    "Locally accumulated distance of finished runs",
		Buckets: []float64{100, 500, 1000, 2000, 5000, 10000, 21097, 42195},
	})

	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "runtrack_run_duration_seconds",
		Help:    "Duration of finished runs",
		Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400},
	})
)

// Handler serves the default registry in the exposition format.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
