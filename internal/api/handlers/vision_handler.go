package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/plan-agent/backend/internal/cache/redis"
	"github.com/plan-agent/backend/internal/metrics"
	"github.com/plan-agent/backend/internal/storage/sqlite"
	"github.com/plan-agent/backend/internal/vision"
	"github.com/plan-agent/backend/pkg/logger"
)

type VisionHandler struct {
	pipeline *vision.Pipeline
	hub      *ProgressHub
	cache    *redis.Client
}

func NewVisionHandler(pipeline *vision.Pipeline, hub *ProgressHub, cache *redis.Client) *VisionHandler {
	return &VisionHandler{
		pipeline: pipeline,
		hub:      hub,
		cache:    cache,
	}
}

// processOptionsRequest is the options block accepted by the vision
// endpoints. Zero values defer to the configured defaults.
type processOptionsRequest struct {
	MaxSheets        int     `json:"max_sheets"`
	ProcessAllSheets bool    `json:"process_all_sheets"`
	ImageScale       float64 `json:"image_scale"`
	SkipQuantities   bool    `json:"skip_quantities"`
}

func (r processOptionsRequest) toOptions() vision.ProcessOptions {
	return vision.ProcessOptions{
		MaxSheets:        r.MaxSheets,
		ProcessAllSheets: r.ProcessAllSheets,
		ImageScale:       r.ImageScale,
		SkipQuantities:   r.SkipQuantities,
	}
}

// ProcessDocument kicks off sequential extraction in the background and
// returns immediately. Progress is polled via the status endpoint.
func (h *VisionHandler) ProcessDocument(c *fiber.Ctx) error {
	var req struct {
		DocumentID string `json:"document_id"`
		processOptionsRequest
	}

	if err := c.BodyParser(&req); err != nil || req.DocumentID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "document_id is required",
		})
	}

	// Preflight so unknown and oversized documents are rejected
	// synchronously rather than inside the background run.
	status, err := h.pipeline.GetProcessingStatus(c.Context(), req.DocumentID)
	if err != nil {
		if errors.Is(err, sqlite.ErrDocumentNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Document not found",
			})
		}
		logger.Error("Failed to check processing status", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to check document status",
		})
	}

	if status.PageCount > h.pipeline.SequentialPageLimit() {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":      "Document exceeds the sequential page limit",
			"page_count": status.PageCount,
			"hint":       "use POST /api/v1/vision/process-batch",
		})
	}

	opts := req.toOptions()
	go func() {
		result, err := h.pipeline.ProcessDocument(context.Background(), req.DocumentID, opts)
		if err != nil {
			if errors.Is(err, vision.ErrTooManyPages) {
				logger.Warn("Document too large for sequential extraction",
					zap.String("document_id", req.DocumentID))
				return
			}
			logger.Error("Vision extraction failed",
				zap.String("document_id", req.DocumentID),
				zap.Error(err))
			return
		}
		h.finishRun(result)
	}()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"document_id": req.DocumentID,
		"status":      "processing",
		"method":      vision.MethodVision,
	})
}

// ProcessBatch runs extraction over several documents in waves of
// concurrent document workers. A progress event is published to the
// websocket hub as each document settles.
func (h *VisionHandler) ProcessBatch(c *fiber.Ctx) error {
	var req struct {
		DocumentIDs []string `json:"document_ids"`
		processOptionsRequest
	}

	if err := c.BodyParser(&req); err != nil || len(req.DocumentIDs) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "document_ids is required",
		})
	}

	// Preflight every document so an unknown ID fails the whole request
	// up front instead of surfacing halfway through a background run.
	for _, id := range req.DocumentIDs {
		if _, err := h.pipeline.GetProcessingStatus(c.Context(), id); err != nil {
			if errors.Is(err, sqlite.ErrDocumentNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
					"error":       "Document not found",
					"document_id": id,
				})
			}
			logger.Error("Failed to check processing status", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to check document status",
			})
		}
	}

	ids := req.DocumentIDs
	opts := req.toOptions()
	go func() {
		progress := make(chan vision.BatchProgress, 16)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for ev := range progress {
				h.hub.Publish(ev)
			}
		}()

		batch, err := h.pipeline.ProcessBatch(context.Background(), ids, opts, progress)
		close(progress)
		<-done

		if err != nil {
			logger.Error("Batch extraction failed",
				zap.Int("documents", len(ids)),
				zap.Error(err))
			return
		}
		h.finishBatch(batch)
	}()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"document_ids": req.DocumentIDs,
		"status":       "processing",
		"method":       vision.MethodVisionBatch,
	})
}

// ProcessSheet analyzes a single page interactively without persisting
// anything. Used to preview extraction quality before a full run.
func (h *VisionHandler) ProcessSheet(c *fiber.Ctx) error {
	var req struct {
		DocumentID string `json:"document_id"`
		Page       int    `json:"page"`
	}

	if err := c.BodyParser(&req); err != nil || req.DocumentID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "document_id and page are required",
		})
	}

	result, err := h.pipeline.ProcessSingleSheet(c.Context(), req.DocumentID, req.Page)
	if err != nil {
		if errors.Is(err, sqlite.ErrDocumentNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Document not found",
			})
		}
		logger.Error("Single sheet analysis failed",
			zap.String("document_id", req.DocumentID),
			zap.Int("page", req.Page),
			zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	metrics.VisionCost.Add(result.CostUSD)
	return c.JSON(result)
}

func (h *VisionHandler) GetStatus(c *fiber.Ctx) error {
	documentID := c.Params("documentID")

	status, err := h.pipeline.GetProcessingStatus(c.Context(), documentID)
	if err != nil {
		if errors.Is(err, sqlite.ErrDocumentNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Document not found",
			})
		}
		logger.Error("Failed to load processing status", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load processing status",
		})
	}

	return c.JSON(status)
}

// finishRun records run metrics and busts the route cache once new
// extractions have landed.
func (h *VisionHandler) finishRun(result *vision.ProcessResult) {
	if result == nil || result.Skipped {
		return
	}
	h.recordRun(result)
	if result.Success {
		h.invalidateRoutes()
	}
}

// finishBatch does the same for a batch run, invalidating the route
// cache once no matter how many documents landed.
func (h *VisionHandler) finishBatch(batch *vision.BatchResult) {
	if batch == nil {
		return
	}
	anySuccess := false
	for i := range batch.Results {
		res := &batch.Results[i]
		if res.Skipped {
			continue
		}
		h.recordRun(res)
		anySuccess = anySuccess || res.Success
	}
	if anySuccess {
		h.invalidateRoutes()
	}
}

func (h *VisionHandler) recordRun(result *vision.ProcessResult) {
	metrics.SheetsProcessed.WithLabelValues("ok").Add(float64(result.PagesProcessed))
	metrics.SheetsProcessed.WithLabelValues("failed").Add(float64(result.PagesFailed))
	metrics.VisionCost.Add(result.CostUSD)
	metrics.ExtractionsStored.WithLabelValues("quantity").Add(float64(result.Quantities))
	metrics.ExtractionsStored.WithLabelValues("termination_point").Add(float64(result.TerminationPoints))
	metrics.ExtractionsStored.WithLabelValues("utility_crossing").Add(float64(result.UtilityCrossings))
}

func (h *VisionHandler) invalidateRoutes() {
	if h.cache == nil {
		return
	}
	if err := h.cache.InvalidateProjectRoutes(context.Background()); err != nil {
		logger.Warn("Failed to invalidate route cache", zap.Error(err))
	}
}
