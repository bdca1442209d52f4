package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plan_agent_query_duration_seconds",
			Help:    "Query routing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"query_type"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plan_agent_query_total",
			Help: "Total number of queries routed",
		},
		[]string{"method", "status"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plan_agent_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	LLMCost = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plan_agent_llm_cost_usd",
			Help: "Estimated LLM API cost in USD",
		},
		[]string{"model"},
	)

	ConfidenceScore = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plan_agent_confidence_score",
			Help:    "Response confidence scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
		[]string{},
	)

	VectorResultsCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "plan_agent_vector_results_count",
			Help:    "Number of vector results per query",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plan_agent_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plan_agent_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	SheetsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plan_agent_sheets_processed_total",
			Help: "Total sheets run through vision extraction",
		},
		[]string{"status"},
	)

	VisionCost = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "plan_agent_vision_cost_usd_total",
			Help: "Accumulated vision extraction cost in USD",
		},
	)

	ExtractionsStored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plan_agent_extractions_stored_total",
			Help: "Structured rows written by the vision pipeline",
		},
		[]string{"kind"},
	)

	InspectionTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plan_agent_inspection_tasks_total",
			Help: "Visual inspection tasks executed",
		},
		[]string{"task", "status"},
	)
)

func Init() {
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(QueryTotal)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(LLMCost)
	prometheus.MustRegister(ConfidenceScore)
	prometheus.MustRegister(VectorResultsCount)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(SheetsProcessed)
	prometheus.MustRegister(VisionCost)
	prometheus.MustRegister(ExtractionsStored)
	prometheus.MustRegister(InspectionTasks)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
