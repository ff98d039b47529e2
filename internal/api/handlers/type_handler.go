package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/skinocare/backend/internal/lookup"
	"github.com/skinocare/backend/internal/metrics"
	"github.com/skinocare/backend/internal/storage/models"
	"github.com/skinocare/backend/pkg/logger"
)

// TypeHandler owns the CRUD surface over curated lesion type records,
// including the legacy path layout the frontend expects.
type TypeHandler struct {
	service *lookup.Service
}

func NewTypeHandler(service *lookup.Service) *TypeHandler {
	return &TypeHandler{
		service: service,
	}
}

func (h *TypeHandler) CreateType(c *fiber.Ctx) error {
	var req struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Treatment   []string `json:"treatment"`
		NextSteps   []string `json:"next_steps"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	record := models.TypeRecord{
		Name:        req.Name,
		Description: req.Description,
		Treatment:   req.Treatment,
		NextSteps:   req.NextSteps,
	}

	if err := h.service.Add(&record); err != nil {
		if errors.Is(err, lookup.ErrDuplicateName) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "Type name already exists",
			})
		}
		if errors.Is(err, lookup.ErrInvalidRecord) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		logger.Error("Failed to create type", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create type",
		})
	}

	h.updateTypeCount()
	return c.Status(fiber.StatusCreated).JSON(record)
}

func (h *TypeHandler) GetTypes(c *fiber.Ctx) error {
	records, err := h.service.GetAll()
	if err != nil {
		logger.Error("Failed to fetch types", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Error fetching types",
		})
	}

	if records == nil {
		records = []models.TypeRecord{}
	}
	return c.JSON(records)
}

func (h *TypeHandler) GetTypeByID(c *fiber.Ctx) error {
	record, err := h.service.GetByID(c.Params("id"))
	if err != nil {
		if errors.Is(err, lookup.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Type not found",
			})
		}
		logger.Error("Failed to fetch type", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Error fetching type",
		})
	}

	return c.JSON(record)
}

// GetTypeByName resolves a class label. A 404 here is an expected outcome
// for labels without curated content, not a server fault.
func (h *TypeHandler) GetTypeByName(c *fiber.Ctx) error {
	record, err := h.service.GetByName(c.Params("name"))
	if err != nil {
		if errors.Is(err, lookup.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Type not found",
			})
		}
		logger.Error("Failed to fetch type by name", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Error fetching type by name",
		})
	}

	return c.JSON(record)
}

func (h *TypeHandler) UpdateTypeByID(c *fiber.Ctx) error {
	var update models.TypeRecordUpdate
	if err := c.BodyParser(&update); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	record, err := h.service.UpdateByID(c.Params("id"), &update)
	if err != nil {
		if errors.Is(err, lookup.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Type not found",
			})
		}
		if errors.Is(err, lookup.ErrDuplicateName) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "Type name already exists",
			})
		}
		if errors.Is(err, lookup.ErrInvalidRecord) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		logger.Error("Failed to update type", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Error updating type",
		})
	}

	return c.JSON(record)
}

func (h *TypeHandler) DeleteTypeByID(c *fiber.Ctx) error {
	if err := h.service.DeleteByID(c.Params("id")); err != nil {
		if errors.Is(err, lookup.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Type not found",
			})
		}
		logger.Error("Failed to delete type", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Error deleting type",
		})
	}

	h.updateTypeCount()
	return c.JSON(fiber.Map{
		"message": "Type deleted successfully",
	})
}

// LoadDataset seeds the store from the bundled dataset file. Duplicate
// names from repeated loads are skipped and reported, not fatal.
func (h *TypeHandler) LoadDataset(c *fiber.Ctx) error {
	report, err := h.service.LoadDataset()
	if err != nil {
		logger.Error("Failed to load dataset", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Error loading database",
		})
	}

	h.updateTypeCount()
	return c.JSON(fiber.Map{
		"message":  "Data loaded successfully",
		"inserted": report.Inserted,
		"skipped":  report.Skipped,
	})
}

// GetDataset serves the raw dataset file straight from disk, bypassing the
// store. Used by the informational listing view, not by lookups.
func (h *TypeHandler) GetDataset(c *fiber.Ctx) error {
	if err := c.SendFile(h.service.DatasetPath()); err != nil {
		logger.Error("Failed to serve dataset file", zap.Error(err))
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"message": "Cancer data file not found",
		})
	}
	return nil
}

func (h *TypeHandler) updateTypeCount() {
	if count, err := h.service.Count(); err == nil {
		metrics.TypesTotal.Set(float64(count))
	}
}
