package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AnswerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "learncoach_answer_duration_seconds",
			Help:    "Answer pipeline duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30},
		},
		[]string{"stage"},
	)

	AnswersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "learncoach_answers_total",
			Help: "Total answers produced",
		},
		[]string{"status"},
	)

	ConfidenceScore = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "learncoach_confidence_score",
			Help:    "Confidence scores attached to answers",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
		[]string{"stage"},
	)

	RetrievalTriggered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "learncoach_retrieval_triggered_total",
			Help: "Answers that escalated to document retrieval",
		},
	)

	RetrievalUnavailable = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "learncoach_retrieval_unavailable_total",
			Help: "Retrieval calls that failed or timed out",
		},
	)

	RetrievalPassages = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "learncoach_retrieval_passages",
			Help:    "Passages accepted per retrieval call",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		},
	)

	EstimatorFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "learncoach_estimator_fallbacks_total",
			Help: "Confidence estimations that fell back to the heuristic",
		},
		[]string{"reason"},
	)

	GapRecordsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "learncoach_gap_records_total",
			Help: "Knowledge-gap records appended",
		},
	)

	GapWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "learncoach_gap_write_failures_total",
			Help: "Gap record writes that failed",
		},
	)

	CacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "learncoach_answer_cache_hits_total",
			Help: "Answer cache hits",
		},
	)

	CacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "learncoach_answer_cache_misses_total",
			Help: "Answer cache misses",
		},
	)
)

func Init() {
	prometheus.MustRegister(AnswerDuration)
	prometheus.MustRegister(AnswersTotal)
	prometheus.MustRegister(ConfidenceScore)
	prometheus.MustRegister(RetrievalTriggered)
	prometheus.MustRegister(RetrievalUnavailable)
	prometheus.MustRegister(RetrievalPassages)
	prometheus.MustRegister(EstimatorFallbacks)
	prometheus.MustRegister(GapRecordsTotal)
	prometheus.MustRegister(GapWriteFailures)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
