package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-praktikum-api/internal/dto"
	"github.com/noah-isme/gema-praktikum-api/internal/middleware"
	"github.com/noah-isme/gema-praktikum-api/internal/service"
	"github.com/noah-isme/gema-praktikum-api/internal/utils"
)

const statusPingInterval = 30 * time.Second

// SubmissionHandler exposes submission intake, status and grading endpoints.
type SubmissionHandler struct {
	service service.SubmissionService
	logger  zerolog.Logger
}

// NewSubmissionHandler builds a submission handler instance.
func NewSubmissionHandler(service service.SubmissionService, logger zerolog.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		service: service,
		logger:  logger.With().Str("component", "submission_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group. submitLimiter may be nil.
func (h *SubmissionHandler) Register(router fiber.Router, submitLimiter fiber.Handler) {
	submit := []fiber.Handler{}
	if submitLimiter != nil {
		submit = append(submit, submitLimiter)
	}
	submit = append(submit, middleware.WithAuth(h.submit, middleware.AuthOptions{Role: middleware.AuthRoleStudent}))

	router.Post("", submit...)
	router.Get("/:id", h.get)
	router.Get("/:id/status", h.status)
	router.Post("/:id/watch", h.watch)
	router.Delete("/:id/watch", h.cancelWatch)
	router.Patch("/:id/score", middleware.WithAuth(h.overrideScore, middleware.AuthOptions{Role: middleware.AuthRoleGrader}))

	router.Use("/:id/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		id, err := parseUintParam(c, "id")
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		}

		// access is checked before the upgrade; the subscription itself belongs to the connection
		actor := actorFromContext(c)
		if _, err := h.service.GetStatus(requestContext(c), id, actor); err != nil {
			return sendServiceError(c, h.logger, err)
		}
		c.Locals("status_submission_id", id)
		c.Locals("status_actor", actor)
		c.Locals("status_correlation_id", middleware.GetCorrelationID(c))
		return c.Next()
	})
	router.Get("/:id/ws", websocket.New(h.stream))
}

func (h *SubmissionHandler) submit(c *fiber.Ctx) error {
	var payload dto.SubmitRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	status, err := h.service.Submit(requestContext(c), actorFromContext(c), payload)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "submission queued", status)
}

func (h *SubmissionHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	detail, err := h.service.Get(requestContext(c), id, actorFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "submission retrieved", detail)
}

func (h *SubmissionHandler) status(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	status, err := h.service.GetStatus(requestContext(c), id, actorFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "submission status", status)
}

func (h *SubmissionHandler) watch(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	status, err := h.service.Watch(requestContext(c), id, actorFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "watching submission", status)
}

func (h *SubmissionHandler) cancelWatch(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	cancelled, err := h.service.CancelWatch(requestContext(c), id, actorFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "watch cancelled", fiber.Map{"cancelled": cancelled})
}

func (h *SubmissionHandler) overrideScore(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.ScoreOverrideRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	detail, err := h.service.OverrideScore(requestContext(c), id, payload, actorFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "score overridden", detail)
}

// stream pushes status snapshots until the submission is terminal or the client leaves.
func (h *SubmissionHandler) stream(conn *websocket.Conn) {
	defer conn.Close()

	id, _ := conn.Locals("status_submission_id").(uint)
	actor, _ := conn.Locals("status_actor").(service.Actor)
	correlationID, _ := conn.Locals("status_correlation_id").(string)
	logger := h.logger.With().Uint("submission_id", id).Logger()

	ctx := middleware.ContextWithCorrelation(context.Background(), correlationID)
	initial, updates, cleanup, err := h.service.Subscribe(ctx, id, actor)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to subscribe to submission status")
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "status unavailable"))
		return
	}
	defer cleanup()

	if err := conn.WriteJSON(initial); err != nil {
		logger.Debug().Err(err).Msg("failed to write initial status")
		return
	}
	if initial.Terminal || updates == nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "terminal"))
		return
	}

	// the reader notices client disconnects; its messages are ignored
	gone, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(statusPingInterval)
	defer ticker.Stop()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(update); err != nil {
				logger.Debug().Err(err).Msg("failed to write status update")
				return
			}
			if update.Terminal {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "terminal"))
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone.Done():
			logger.Debug().Msg("status stream client disconnected")
			return
		}
	}
}
