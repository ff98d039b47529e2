package handlers

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/skinocare/backend/internal/metrics"
	"github.com/skinocare/backend/internal/ml"
	"github.com/skinocare/backend/internal/report"
	"github.com/skinocare/backend/internal/session"
	"github.com/skinocare/backend/pkg/logger"
)

// AnalysisHandler exposes the analysis session lifecycle: image upload,
// single and batch inference, selection, and report export.
type AnalysisHandler struct {
	manager        *session.Manager
	predictor      session.Predictor
	enricher       session.Enricher
	assembler      *report.Assembler
	reportFilename string
}

func NewAnalysisHandler(manager *session.Manager, predictor session.Predictor, enricher session.Enricher, assembler *report.Assembler, reportFilename string) *AnalysisHandler {
	return &AnalysisHandler{
		manager:        manager,
		predictor:      predictor,
		enricher:       enricher,
		assembler:      assembler,
		reportFilename: reportFilename,
	}
}

func (h *AnalysisHandler) CreateSession(c *fiber.Ctx) error {
	s := h.manager.Create()
	metrics.SessionsActive.Set(float64(h.manager.Count()))

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id": s.ID,
	})
}

func (h *AnalysisHandler) GetSession(c *fiber.Ctx) error {
	s, err := h.manager.Get(c.Params("id"))
	if err != nil {
		return sessionNotFound(c)
	}

	return c.JSON(s.Snapshot())
}

func (h *AnalysisHandler) DeleteSession(c *fiber.Ctx) error {
	if err := h.manager.Delete(c.Params("id")); err != nil {
		return sessionNotFound(c)
	}

	metrics.SessionsActive.Set(float64(h.manager.Count()))
	return c.SendStatus(fiber.StatusNoContent)
}

// UploadImages appends one or more multipart files (field "images") to the
// session. No analysis is triggered.
func (h *AnalysisHandler) UploadImages(c *fiber.Ctx) error {
	s, err := h.manager.Get(c.Params("id"))
	if err != nil {
		return sessionNotFound(c)
	}

	form, err := c.MultipartForm()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid multipart form",
		})
	}

	fileHeaders := form.File["images"]
	if len(fileHeaders) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No image files provided. Use 'images' as the form field name",
		})
	}

	files := make([]session.ImageFile, 0, len(fileHeaders))
	for _, fh := range fileHeaders {
		f, err := fh.Open()
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": fmt.Sprintf("Failed to open uploaded file %q", fh.Filename),
			})
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": fmt.Sprintf("Failed to read uploaded file %q", fh.Filename),
			})
		}

		files = append(files, session.ImageFile{
			Data:        data,
			ContentType: fh.Header.Get("Content-Type"),
			Filename:    fh.Filename,
		})
	}

	if err := s.AddImages(files); err != nil {
		status := fiber.StatusBadRequest
		if errors.Is(err, session.ErrImageTooLarge) {
			status = fiber.StatusRequestEntityTooLarge
		}
		return c.Status(status).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusCreated).JSON(s.Snapshot())
}

func (h *AnalysisHandler) RemoveImage(c *fiber.Ctx) error {
	s, err := h.manager.Get(c.Params("id"))
	if err != nil {
		return sessionNotFound(c)
	}

	index, err := strconv.Atoi(c.Params("index"))
	if err != nil {
		return indexOutOfRange(c)
	}

	if err := s.RemoveImage(index); err != nil {
		return indexOutOfRange(c)
	}

	return c.JSON(s.Snapshot())
}

func (h *AnalysisHandler) SetSelection(c *fiber.Ctx) error {
	s, err := h.manager.Get(c.Params("id"))
	if err != nil {
		return sessionNotFound(c)
	}

	var req struct {
		Index int `json:"index"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := s.Select(req.Index); err != nil {
		return indexOutOfRange(c)
	}

	return c.JSON(s.Snapshot())
}

// AnalyzeImage runs inference for one entry. The advisory health probe runs
// first so a known-down model service fails fast with a clear message
// instead of a long timeout.
func (h *AnalysisHandler) AnalyzeImage(c *fiber.Ctx) error {
	s, err := h.manager.Get(c.Params("id"))
	if err != nil {
		return sessionNotFound(c)
	}

	index, err := strconv.Atoi(c.Params("index"))
	if err != nil {
		return indexOutOfRange(c)
	}

	if !h.predictor.HealthCheck(c.Context()) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Analysis service is unavailable. Please try again later.",
		})
	}

	if err := s.AnalyzeOne(c.Context(), index, h.predictor, h.enricher); err != nil {
		return analysisError(c, err)
	}

	return c.JSON(s.Snapshot())
}

// AnalyzeAll analyzes every pending entry sequentially. Partial failure is
// not fatal: the response reports which indices stayed unresolved.
func (h *AnalysisHandler) AnalyzeAll(c *fiber.Ctx) error {
	s, err := h.manager.Get(c.Params("id"))
	if err != nil {
		return sessionNotFound(c)
	}

	if !h.predictor.HealthCheck(c.Context()) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Analysis service is unavailable. Please try again later.",
		})
	}

	err = s.AnalyzeAll(c.Context(), h.predictor, h.enricher)
	if err != nil {
		var batchErr *session.BatchError
		if errors.As(err, &batchErr) {
			return c.JSON(fiber.Map{
				"session": s.Snapshot(),
				"failed":  batchErr.Failed,
				"error":   batchErr.Error(),
			})
		}
		if errors.Is(err, session.ErrNoImages) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "No images to analyze",
			})
		}
		return analysisError(c, err)
	}

	return c.JSON(fiber.Map{
		"session": s.Snapshot(),
	})
}

// GenerateReport renders the session's analyzed entries into a PDF.
// All-or-nothing: a render failure delivers no file at all.
func (h *AnalysisHandler) GenerateReport(c *fiber.Ctx) error {
	s, err := h.manager.Get(c.Params("id"))
	if err != nil {
		return sessionNotFound(c)
	}

	pdfBytes, err := h.assembler.BuildReport(s.ReportEntries())
	if err != nil {
		if errors.Is(err, report.ErrNoAnalyzedEntries) {
			metrics.ReportsGenerated.WithLabelValues("empty").Inc()
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "No analysis results to generate report. Please analyze at least one image.",
			})
		}
		metrics.ReportsGenerated.WithLabelValues("error").Inc()
		logger.Error("Failed to generate report", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to generate PDF report. Please try again.",
		})
	}

	metrics.ReportsGenerated.WithLabelValues("success").Inc()
	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", h.reportFilename))
	return c.Send(pdfBytes)
}

// MLHealth proxies the advisory liveness probe of the inference service.
func (h *AnalysisHandler) MLHealth(c *fiber.Ctx) error {
	if h.predictor.HealthCheck(c.Context()) {
		return c.JSON(fiber.Map{
			"status": "ok",
		})
	}

	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"status": "unavailable",
	})
}

func sessionNotFound(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "Session not found",
	})
}

func indexOutOfRange(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": "Image index out of range",
	})
}

func analysisError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, session.ErrIndexOutOfRange):
		return indexOutOfRange(c)
	case errors.Is(err, ml.ErrUnavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Unable to analyze the image. Please try again or check if ML service is running.",
		})
	case errors.Is(err, ml.ErrMalformed):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Analysis service returned an unexpected response.",
		})
	default:
		logger.Error("Analysis failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to analyze the image. Please try again.",
		})
	}
}
