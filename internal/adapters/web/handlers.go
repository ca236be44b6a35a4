package web

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/htheomoller/calmer-sub000/internal/domain"
	"github.com/htheomoller/calmer-sub000/internal/usecases"
	"github.com/htheomoller/calmer-sub000/pkg/log"
)

// ActivityReader is the read surface of the activity log.
type ActivityReader interface {
	ListActivity(ctx context.Context, postID string, limit int) ([]domain.ActivityEvent, error)
}

// HealthChecker verifies the backing store is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Handlers contains the HTTP handlers for the engine.
type Handlers struct {
	process         *usecases.ProcessCommentUseCase
	activity        ActivityReader
	health          HealthChecker
	defaultProvider domain.Provider
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(process *usecases.ProcessCommentUseCase, activity ActivityReader, health HealthChecker, defaultProvider domain.Provider) *Handlers {
	return &Handlers{
		process:         process,
		activity:        activity,
		health:          health,
		defaultProvider: defaultProvider,
	}
}

// webhookRequest is the inbound "comment observed" payload.
type webhookRequest struct {
	Provider    string `json:"provider"`
	IGPostID    string `json:"ig_post_id"`
	IGUser      string `json:"ig_user"`
	CommentText string `json:"comment_text"`
	CommentID   string `json:"comment_id"`
	AccountID   string `json:"account_id"`
	Window      string `json:"window"`
	Debug       bool   `json:"debug"`
}

// webhookResponse is the uniform response envelope.
type webhookResponse struct {
	OK      bool   `json:"ok"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// statusForCode maps each terminal outcome code to its HTTP status.
func statusForCode(code domain.OutcomeCode) int {
	switch code {
	case domain.CodeEcho, domain.CodeDuplicateIgnored, domain.CodeSandboxDMLogged,
		domain.CodeDMSent, domain.CodeNoMatch:
		return fiber.StatusOK
	case domain.CodeMissingFields:
		return fiber.StatusBadRequest
	case domain.CodePostNotFound, domain.CodeAccountNotFound:
		return fiber.StatusNotFound
	case domain.CodeAutomationDisabled:
		return fiber.StatusConflict
	case domain.CodeNoLinkAvailable:
		return fiber.StatusUnprocessableEntity
	case domain.CodeRateLimited:
		return fiber.StatusTooManyRequests
	default:
		return fiber.StatusInternalServerError
	}
}

// Webhook handles one inbound comment event.
func (h *Handlers) Webhook(c *fiber.Ctx) error {
	var req webhookRequest
	if err := c.BodyParser(&req); err != nil {
		return respondCode(c, domain.CodeMissingFields, "request body is not valid JSON", nil)
	}

	// Debug short-circuits all processing and echoes the body back.
	if req.Debug {
		var raw map[string]any
		_ = c.BodyParser(&raw)
		return respondCode(c, domain.CodeEcho, "debug echo, no processing", raw)
	}

	if req.IGPostID == "" {
		return respondCode(c, domain.CodeMissingFields, "ig_post_id is required", nil)
	}

	prov := domain.Provider(req.Provider)
	if req.Provider == "" {
		prov = h.defaultProvider
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), 30*time.Second)
	defer cancel()

	outcome := h.process.Execute(ctx, domain.CommentEvent{
		Provider:    prov,
		PostID:      req.IGPostID,
		Username:    req.IGUser,
		CommentText: req.CommentText,
		CommentID:   req.CommentID,
		AccountID:   req.AccountID,
		Window:      req.Window,
	})

	log.GlobalInfoCtx(ctx, "comment processed",
		"post_id", req.IGPostID,
		"code", string(outcome.Code),
		"matched", outcome.Matched,
		"sent_dm", outcome.SentDM,
	)

	var details any
	if outcome.Details != (domain.OutcomeDetails{}) {
		details = outcome.Details
	}
	return c.Status(statusForCode(outcome.Code)).JSON(webhookResponse{
		OK:      outcome.OK(),
		Code:    string(outcome.Code),
		Message: outcome.Message,
		Details: details,
	})
}

// Activity returns recent activity events, newest first.
func (h *Handlers) Activity(c *fiber.Ctx) error {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			return respondCode(c, domain.CodeMissingFields, "limit must be between 1 and 200", nil)
		}
		limit = n
	}

	events, err := h.activity.ListActivity(c.UserContext(), c.Query("post_id"), limit)
	if err != nil {
		log.GlobalErrorCtx(c.UserContext(), "activity listing failed", "error", err)
		return respondCode(c, domain.CodeDBError, "backing store failure", nil)
	}
	if events == nil {
		events = []domain.ActivityEvent{}
	}

	return c.JSON(fiber.Map{"ok": true, "events": events})
}

// Health reports liveness and backing-store reachability.
func (h *Handlers) Health(c *fiber.Ctx) error {
	if err := h.health.Ping(c.UserContext()); err != nil {
		log.GlobalErrorCtx(c.UserContext(), "health check failed", "error", err)
		return respondCode(c, domain.CodeDBError, "backing store unreachable", nil)
	}
	return c.JSON(fiber.Map{"ok": true})
}

func respondCode(c *fiber.Ctx, code domain.OutcomeCode, message string, details any) error {
	ok := code == domain.CodeEcho
	return c.Status(statusForCode(code)).JSON(webhookResponse{
		OK:      ok,
		Code:    string(code),
		Message: message,
		Details: details,
	})
}

// ErrorHandler maps uncaught handler errors (including recovered panics)
// to the UNEXPECTED envelope without leaking internals.
func ErrorHandler(c *fiber.Ctx, err error) error {
	log.GlobalErrorCtx(c.UserContext(), "unhandled error", "path", c.Path(), "error", err)
	return c.Status(fiber.StatusInternalServerError).JSON(webhookResponse{
		OK:      false,
		Code:    string(domain.CodeUnexpected),
		Message: "internal error",
	})
}
