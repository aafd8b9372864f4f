package handler

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-praktikum-api/internal/middleware"
	"github.com/noah-isme/gema-praktikum-api/internal/models"
	"github.com/noah-isme/gema-praktikum-api/internal/service"
	"github.com/noah-isme/gema-praktikum-api/internal/utils"
)

// SettingsReader resolves system settings such as the active term.
type SettingsReader interface {
	GetSetting(ctx context.Context, key string) (models.Setting, error)
}

// RecapHandler serves grade recaps for sections, assignments, students and terms.
type RecapHandler struct {
	service  service.RecapService
	settings SettingsReader
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewRecapHandler constructs the handler. timeout bounds each recap computation; zero disables it.
func NewRecapHandler(service service.RecapService, settings SettingsReader, timeout time.Duration, logger zerolog.Logger) *RecapHandler {
	return &RecapHandler{
		service:  service,
		settings: settings,
		timeout:  timeout,
		logger:   logger.With().Str("component", "recap_handler").Logger(),
	}
}

// Register binds the recap routes. Students may only read their own profile.
func (h *RecapHandler) Register(router fiber.Router) {
	grader := middleware.AuthOptions{Role: middleware.AuthRoleGrader}

	router.Get("/sections/:id/recap", middleware.WithAuth(h.classRecap, grader))
	router.Get("/sections/:id/assignments/:assignmentId/recap", middleware.WithAuth(h.assignmentRecap, grader))
	router.Get("/sections/:id/students/:studentId/recap", middleware.WithAuth(h.studentRecap, middleware.AuthOptions{Role: middleware.AuthRoleStudent}))
	router.Get("/terms/active/overview", middleware.WithAuth(h.termOverview, grader))
}

func (h *RecapHandler) recapContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	ctx := requestContext(c)
	if h.timeout > 0 {
		return context.WithTimeout(ctx, h.timeout)
	}
	return context.WithCancel(ctx)
}

func (h *RecapHandler) classRecap(c *fiber.Ctx) error {
	praktikumID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	ctx, cancel := h.recapContext(c)
	defer cancel()

	recap, err := h.service.ClassRecap(ctx, praktikumID)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "class recap", recap)
}

func (h *RecapHandler) assignmentRecap(c *fiber.Ctx) error {
	praktikumID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	assignmentID, err := parseUintParam(c, "assignmentId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	ctx, cancel := h.recapContext(c)
	defer cancel()

	recap, err := h.service.AssignmentRecap(ctx, praktikumID, assignmentID)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "assignment recap", recap)
}

func (h *RecapHandler) studentRecap(c *fiber.Ctx) error {
	praktikumID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	studentID, err := parseUintParam(c, "studentId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	actor := actorFromContext(c)
	if !actor.IsGrader() && actor.ID != studentID {
		return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
	}

	ctx, cancel := h.recapContext(c)
	defer cancel()

	recap, err := h.service.StudentRecap(ctx, praktikumID, studentID)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "student recap", recap)
}

func (h *RecapHandler) termOverview(c *fiber.Ctx) error {
	ctx, cancel := h.recapContext(c)
	defer cancel()

	setting, err := h.settings.GetSetting(ctx, models.SettingActiveTerm)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "no active term configured")
		}
		return sendServiceError(c, h.logger, err)
	}

	term, err := models.ParseTerm(setting.Value)
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Str("value", setting.Value).Msg("active term setting is malformed")
		return utils.SendError(c, fiber.StatusInternalServerError, "active term setting is malformed")
	}

	overview, err := h.service.TermOverview(ctx, term)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "term overview", overview)
}
