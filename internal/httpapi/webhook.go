package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"carebot/internal/reply"
	logx "carebot/pkg/logx"
)

type ReplyHandler interface {
	Handle(ctx context.Context, sender, text string) (reply.Outcome, error)
}

// WebhookHandler receives inbound messages from the delivery provider.
type WebhookHandler struct {
	replies ReplyHandler
	log     logx.Logger
}

func NewWebhookHandler(replies ReplyHandler, log logx.Logger) *WebhookHandler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &WebhookHandler{replies: replies, log: log}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/webhook/fonnte", h.Fonnte)
}

type fonntePayload struct {
	Sender  string `json:"sender" form:"sender"`
	Message string `json:"message" form:"message"`
	Device  string `json:"device" form:"device"`
	Name    string `json:"name" form:"name"`
}

type webhookResponse struct {
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
	Action  string `json:"action,omitempty"`
	Until   any    `json:"until,omitempty"`
	Note    string `json:"note,omitempty"`
}

// Fonnte answers 200 for every well-formed payload; stray text is an outcome.
func (h *WebhookHandler) Fonnte(c echo.Context) error {
	var p fonntePayload
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(p.Sender) == "" {
		return c.JSON(http.StatusOK, webhookResponse{Status: "ignored", Reason: "missing sender"})
	}
	h.log.Info("webhook received", logx.String("sender", p.Sender), logx.String("device", p.Device), logx.Int("len", len(p.Message)))

	out, err := h.replies.Handle(c.Request().Context(), p.Sender, p.Message)
	if err != nil {
		h.log.Error("webhook handling failed", logx.String("sender", p.Sender), logx.Err(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "reply handling failed")
	}
	return c.JSON(http.StatusOK, renderOutcome(out))
}

func renderOutcome(out reply.Outcome) webhookResponse {
	switch out.Result {
	case reply.ResultUnknownSender:
		return webhookResponse{Status: "ignored", Reason: out.Message}
	case reply.ResultCompleted:
		return webhookResponse{Status: "ok", Action: "completed"}
	case reply.ResultSnoozed:
		r := webhookResponse{Status: "ok", Action: "snoozed"}
		if out.Entry != nil && out.Entry.SnoozeUntil != nil {
			r.Until = *out.Entry.SnoozeUntil
		}
		return r
	case reply.ResultNoted:
		r := webhookResponse{Status: "ok", Action: "noted"}
		if out.Entry != nil {
			r.Note = out.Entry.Note
		}
		return r
	default:
		return webhookResponse{Status: "ok", Message: out.Message}
	}
}
