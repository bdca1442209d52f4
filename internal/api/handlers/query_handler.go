package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/plan-agent/backend/internal/metrics"
	"github.com/plan-agent/backend/internal/router"
	"github.com/plan-agent/backend/internal/storage/sqlite"
	"github.com/plan-agent/backend/pkg/logger"
)

type QueryHandler struct {
	router *router.Router
	db     *sqlite.Client
}

func NewQueryHandler(r *router.Router, db *sqlite.Client) *QueryHandler {
	return &QueryHandler{
		router: r,
		db:     db,
	}
}

func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	var req router.Request

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Query == "" || req.ProjectID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "query and project_id are required",
		})
	}

	start := time.Now()
	response, err := h.router.Route(c.Context(), req)
	if err != nil {
		metrics.QueryTotal.WithLabelValues("none", "error").Inc()
		logger.Error("Failed to route query", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process query",
		})
	}

	metrics.QueryDuration.WithLabelValues(string(response.Classification.Type)).Observe(time.Since(start).Seconds())
	metrics.QueryTotal.WithLabelValues(response.Method, "ok").Inc()
	metrics.ConfidenceScore.WithLabelValues().Observe(response.Confidence)
	metrics.VectorResultsCount.Observe(float64(len(response.Results)))
	if response.FromCache {
		metrics.CacheHits.WithLabelValues("route").Inc()
	} else {
		metrics.CacheMisses.WithLabelValues("route").Inc()
	}

	return c.JSON(response)
}

// GetQueryAnalytics exposes recent routing decisions for tuning.
func (h *QueryHandler) GetQueryAnalytics(c *fiber.Ctx) error {
	projectID := c.Query("project_id")
	if projectID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "project_id is required",
		})
	}

	limit := c.QueryInt("limit", 100)
	records, err := h.db.GetQueryAnalytics(c.Context(), projectID, limit)
	if err != nil {
		logger.Error("Failed to load query analytics", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load analytics",
		})
	}

	return c.JSON(fiber.Map{
		"project_id": projectID,
		"records":    records,
	})
}
