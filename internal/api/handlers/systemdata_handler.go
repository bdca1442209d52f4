package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/plan-agent/backend/internal/retrieval"
	"github.com/plan-agent/backend/internal/station"
	"github.com/plan-agent/backend/internal/storage/sqlite"
	"github.com/plan-agent/backend/pkg/logger"
)

// SystemDataHandler serves the structured extraction store directly,
// without going through query routing. Used by takeoff tooling that
// wants the raw rows.
type SystemDataHandler struct {
	db       *sqlite.Client
	complete *retrieval.CompleteSystemData
}

func NewSystemDataHandler(db *sqlite.Client, complete *retrieval.CompleteSystemData) *SystemDataHandler {
	return &SystemDataHandler{
		db:       db,
		complete: complete,
	}
}

// GetSystemData returns every chunk belonging to a named utility
// system, ordered for sequential reading.
func (h *SystemDataHandler) GetSystemData(c *fiber.Ctx) error {
	projectID := c.Query("project_id")
	if projectID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "project_id is required",
		})
	}

	systemName := c.Query("system")

	data, err := h.complete.Fetch(c.Context(), projectID, systemName)
	if err != nil {
		logger.Error("Failed to fetch system data",
			zap.String("system", systemName),
			zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch system data",
		})
	}

	return c.JSON(data)
}

func (h *SystemDataHandler) GetTerminationPoints(c *fiber.Ctx) error {
	projectID := c.Query("project_id")
	if projectID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "project_id is required",
		})
	}

	points, err := h.db.GetTerminationPoints(c.Context(), projectID, c.Query("utility_type"))
	if err != nil {
		logger.Error("Failed to load termination points", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load termination points",
		})
	}

	return c.JSON(fiber.Map{
		"project_id":         projectID,
		"termination_points": points,
	})
}

func (h *SystemDataHandler) GetUtilityCrossings(c *fiber.Ctx) error {
	projectID := c.Query("project_id")
	if projectID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "project_id is required",
		})
	}

	crossings, err := h.db.GetUtilityCrossings(c.Context(), projectID, c.Query("crossing_utility"))
	if err != nil {
		logger.Error("Failed to load utility crossings", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load utility crossings",
		})
	}

	return c.JSON(fiber.Map{
		"project_id": projectID,
		"crossings":  crossings,
	})
}

func (h *SystemDataHandler) GetSheetQuantities(c *fiber.Ctx) error {
	projectID := c.Query("project_id")
	sheetNumber := c.Params("sheetNumber")
	if projectID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "project_id is required",
		})
	}

	quantities, err := h.db.GetQuantitiesBySheet(c.Context(), projectID, sheetNumber)
	if err != nil {
		logger.Error("Failed to load sheet quantities",
			zap.String("sheet", sheetNumber),
			zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load sheet quantities",
		})
	}

	return c.JSON(fiber.Map{
		"project_id":   projectID,
		"sheet_number": sheetNumber,
		"quantities":   quantities,
	})
}

// GetProjectExtent reports the highest station seen in a project, which
// bounds proximity scoring on the client side.
func (h *SystemDataHandler) GetProjectExtent(c *fiber.Ctx) error {
	projectID := c.Query("project_id")
	if projectID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "project_id is required",
		})
	}

	maxFeet, err := h.db.GetMaxStation(c.Context(), projectID)
	if err != nil {
		logger.Error("Failed to load project extent", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load project extent",
		})
	}

	return c.JSON(fiber.Map{
		"project_id":       projectID,
		"max_station_feet": maxFeet,
		"max_station":      station.FromFeet(maxFeet).String(),
	})
}
