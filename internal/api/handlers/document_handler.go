package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/plan-agent/backend/internal/cache/redis"
	"github.com/plan-agent/backend/internal/ingestion"
	"github.com/plan-agent/backend/internal/storage/models"
	"github.com/plan-agent/backend/pkg/logger"
)

type DocumentHandler struct {
	processor *ingestion.Processor
	cache     *redis.Client
}

func NewDocumentHandler(processor *ingestion.Processor, cache *redis.Client) *DocumentHandler {
	return &DocumentHandler{
		processor: processor,
		cache:     cache,
	}
}

// UploadDocument registers a plan set whose per-sheet text has already
// been extracted upstream, chunks it, and indexes the embeddings.
func (h *DocumentHandler) UploadDocument(c *fiber.Ctx) error {
	var req struct {
		ProjectID   string `json:"project_id"`
		Name        string `json:"name"`
		ContentType string `json:"content_type"`
		Sheets      []struct {
			PageNumber  int    `json:"page_number"`
			SheetNumber string `json:"sheet_number"`
			Text        string `json:"text"`
		} `json:"sheets"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.ProjectID == "" || len(req.Sheets) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "project_id and sheets are required",
		})
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/pdf"
	}

	doc := &models.Document{
		ID:          uuid.New().String(),
		ProjectID:   req.ProjectID,
		Name:        req.Name,
		ContentType: contentType,
		PageCount:   len(req.Sheets),
	}

	sheets := make([]ingestion.SheetInput, 0, len(req.Sheets))
	for _, s := range req.Sheets {
		sheets = append(sheets, ingestion.SheetInput{
			PageNumber:  s.PageNumber,
			SheetNumber: s.SheetNumber,
			Text:        s.Text,
		})
	}

	result, err := h.processor.IngestDocument(c.Context(), doc, sheets)
	if err != nil {
		logger.Error("Failed to ingest document", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to ingest document",
		})
	}

	if h.cache != nil {
		if err := h.cache.InvalidateProjectRoutes(c.Context()); err != nil {
			logger.Warn("Failed to invalidate route cache", zap.Error(err))
		}
	}

	return c.Status(fiber.StatusCreated).JSON(result)
}
