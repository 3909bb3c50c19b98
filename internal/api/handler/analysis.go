package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/deepscan/internal/domain"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/service"
)

const (
	defaultSimilarLimit = 5
	maxSimilarLimit     = 50
)

var validVideoExtensions = map[string]bool{
	".mp4":  true,
	".avi":  true,
	".mov":  true,
	".mkv":  true,
	".webm": true,
}

// AnalysisService interface for the service
type AnalysisService interface {
	Submit(ctx context.Context, in service.SubmitInput) (*domain.Analysis, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Analysis, error)
	Cancel(ctx context.Context, id uuid.UUID) error
	Report(ctx context.Context, id uuid.UUID) (string, error)
	Similar(ctx context.Context, id uuid.UUID, limit int) ([]domain.SimilarAnalysis, error)
}

// AnalysisHandler handles analysis requests
type AnalysisHandler struct {
	service AnalysisService
	maxSize int64
	logger  *slog.Logger
}

func NewAnalysisHandler(service AnalysisService, maxSize int64, logger *slog.Logger) *AnalysisHandler {
	return &AnalysisHandler{
		service: service,
		maxSize: maxSize,
		logger:  logger,
	}
}

// AnalysisResponse is an analysis plus derived fields. Scores are only
// included when asked for with ?include=scores.
type AnalysisResponse struct {
	*domain.Analysis
	DurationSeconds float64              `json:"duration_seconds"`
	Scores          []domain.ScoreRecord `json:"scores,omitempty"`
}

type SimilarResponse struct {
	AnalysisID uuid.UUID                `json:"analysis_id"`
	Matches    []domain.SimilarAnalysis `json:"matches"`
}

func newAnalysisResponse(a *domain.Analysis, withScores bool) AnalysisResponse {
	resp := AnalysisResponse{
		Analysis:        a,
		DurationSeconds: a.Duration().Seconds(),
	}
	if withScores {
		resp.Scores = a.Scores
	}
	return resp
}

// Submit POST /v1/analyses - upload a video and start the analysis
func (h *AnalysisHandler) Submit(c *fiber.Ctx) error {
	file, err := c.FormFile("video")
	if err != nil {
		return domain.ErrValidationFailed.WithError(errors.New("video file is required"))
	}

	if file.Size == 0 {
		return domain.ErrInvalidVideo.WithError(errors.New("empty file"))
	}
	if h.maxSize > 0 && file.Size > h.maxSize {
		return domain.ErrValidationFailed.WithError(fmt.Errorf("video exceeds %d bytes", h.maxSize))
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !validVideoExtensions[ext] {
		return domain.ErrInvalidVideo.WithError(fmt.Errorf("unsupported extension %q", ext))
	}

	f, err := file.Open()
	if err != nil {
		return domain.ErrInvalidVideo.WithError(err)
	}
	defer func() {
		_ = f.Close()
	}()

	a, err := h.service.Submit(c.UserContext(), service.SubmitInput{
		FileName:    file.Filename,
		Video:       f,
		Mode:        domain.VerdictMode(strings.TrimSpace(c.FormValue("mode"))),
		CallbackURL: strings.TrimSpace(c.FormValue("callback_url")),
	})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(newAnalysisResponse(a, false))
}

// Get GET /v1/analyses/:id
func (h *AnalysisHandler) Get(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	a, err := h.service.Get(c.UserContext(), id)
	if err != nil {
		return err
	}

	return c.JSON(newAnalysisResponse(a, c.Query("include") == "scores"))
}

// Cancel DELETE /v1/analyses/:id - stop a running analysis
func (h *AnalysisHandler) Cancel(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	if err := h.service.Cancel(c.UserContext(), id); err != nil {
		return err
	}

	return c.SendStatus(fiber.StatusAccepted)
}

// Report GET /v1/analyses/:id/report - plain text report
func (h *AnalysisHandler) Report(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	text, err := h.service.Report(c.UserContext(), id)
	if err != nil {
		return err
	}

	if c.QueryBool("download") {
		c.Attachment(fmt.Sprintf("deepfake_analysis_%s.txt", id))
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.SendString(text)
}

// Similar GET /v1/analyses/:id/similar?limit=N
func (h *AnalysisHandler) Similar(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	limit := c.QueryInt("limit", defaultSimilarLimit)
	if limit <= 0 || limit > maxSimilarLimit {
		return domain.ErrValidationFailed.WithError(fmt.Errorf("limit must be between 1 and %d", maxSimilarLimit))
	}

	matches, err := h.service.Similar(c.UserContext(), id, limit)
	if err != nil {
		return err
	}
	if matches == nil {
		matches = []domain.SimilarAnalysis{}
	}

	return c.JSON(SimilarResponse{AnalysisID: id, Matches: matches})
}

func parseID(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, domain.ErrValidationFailed.WithError(fmt.Errorf("invalid analysis id: %w", err))
	}
	return id, nil
}
