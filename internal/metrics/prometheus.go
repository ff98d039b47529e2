package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PredictionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "skinocare_prediction_duration_seconds",
			Help:    "Inference call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	PredictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skinocare_predictions_total",
			Help: "Total inference calls by outcome",
		},
		[]string{"status"},
	)

	PredictionConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "skinocare_prediction_confidence",
			Help:    "Confidence scores of successful predictions",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	LookupMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "skinocare_lookup_misses_total",
			Help: "Class lookups with no curated record",
		},
	)

	CacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "skinocare_prediction_cache_hits_total",
			Help: "Prediction cache hits",
		},
	)

	CacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "skinocare_prediction_cache_misses_total",
			Help: "Prediction cache misses",
		},
	)

	ReportsGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skinocare_reports_generated_total",
			Help: "Report generation attempts by outcome",
		},
		[]string{"status"},
	)

	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "skinocare_sessions_active",
			Help: "Sessions currently held in memory",
		},
	)

	TypesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "skinocare_type_records_total",
			Help: "Curated type records in the store",
		},
	)
)

func Init() {
	prometheus.MustRegister(PredictionDuration)
	prometheus.MustRegister(PredictionsTotal)
	prometheus.MustRegister(PredictionConfidence)
	prometheus.MustRegister(LookupMissesTotal)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(ReportsGenerated)
	prometheus.MustRegister(SessionsActive)
	prometheus.MustRegister(TypesTotal)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
