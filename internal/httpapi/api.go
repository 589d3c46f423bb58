package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"carebot/internal/delivery"
	"carebot/internal/dispatch"
	"carebot/internal/schedule"
	"carebot/internal/storage"
	logx "carebot/pkg/logx"
)

// Store is the persistence used by the management API.
type Store interface {
	ListRecipients(ctx context.Context) ([]storage.Recipient, error)
	GetRecipient(ctx context.Context, id string) (storage.Recipient, error)
	ListSubjects(ctx context.Context, recipientID string) ([]storage.Subject, error)
	GetSubject(ctx context.Context, id string) (storage.Subject, error)
	ListTemplates(ctx context.Context) ([]storage.Template, error)
	ListSchedules(ctx context.Context) ([]storage.ResolvedSchedule, error)
	GetResolvedSchedule(ctx context.Context, id string) (storage.ResolvedSchedule, error)
	CreateSchedule(ctx context.Context, s storage.Schedule) (storage.Schedule, error)
	SetScheduleEnabled(ctx context.Context, id string, enabled bool) (storage.Schedule, error)
	DeleteSchedule(ctx context.Context, id string) error
	ListLogs(ctx context.Context, f storage.LogFilter) ([]storage.LogEntry, error)
}

// Scheduler keeps live triggers in step with schedule writes.
type Scheduler interface {
	Refresh(ctx context.Context, id string) error
	Snapshot() schedule.Snapshot
}

type Emergency interface {
	SendEmergency(ctx context.Context, subjectID string) (delivery.Result, error)
}

type APIHandler struct {
	store     Store
	scheduler Scheduler
	emergency Emergency
	sender    delivery.Sender
	log       logx.Logger
}

func NewAPIHandler(store Store, scheduler Scheduler, emergency Emergency, sender delivery.Sender, log logx.Logger) *APIHandler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &APIHandler{store: store, scheduler: scheduler, emergency: emergency, sender: sender, log: log}
}

func (h *APIHandler) Register(e *echo.Echo) {
	e.GET("/health", h.Health)

	g := e.Group("/api")
	g.GET("/recipients", h.ListRecipients)
	g.GET("/recipients/:id", h.GetRecipient)
	g.GET("/subjects", h.ListSubjects)
	g.GET("/subjects/:id", h.GetSubject)
	g.GET("/templates", h.ListTemplates)
	g.GET("/schedules", h.ListSchedules)
	g.POST("/schedules", h.CreateSchedule)
	g.POST("/schedules/:id/toggle", h.ToggleSchedule)
	g.DELETE("/schedules/:id", h.DeleteSchedule)
	g.GET("/scheduler", h.SchedulerSnapshot)
	g.GET("/logs", h.ListLogs)
	g.POST("/emergency/:subjectId", h.Emergency)
	g.POST("/test/send", h.TestSend)
}

// toHTTPError maps domain errors onto status codes.
func toHTTPError(err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, dispatch.ErrSubjectNotFound),
		errors.Is(err, dispatch.ErrRecipientNotFound),
		errors.Is(err, dispatch.ErrTemplateNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, schedule.ErrInvalidCron):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func requireParam(c echo.Context, name string) (string, error) {
	v := strings.TrimSpace(c.Param(name))
	if v == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, name+" is required")
	}
	return v, nil
}

func (h *APIHandler) Health(c echo.Context) error {
	snap := h.scheduler.Snapshot()
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "ok",
		"scheduler": map[string]any{"running": snap.Running, "triggers": len(snap.Entries)},
	})
}

func (h *APIHandler) ListRecipients(c echo.Context) error {
	items, err := h.store.ListRecipients(c.Request().Context())
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *APIHandler) GetRecipient(c echo.Context) error {
	id, err := requireParam(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	r, err := h.store.GetRecipient(ctx, id)
	if err != nil {
		return toHTTPError(err)
	}
	subjects, err := h.store.ListSubjects(ctx, r.ID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"recipient": r, "subjects": subjects})
}

func (h *APIHandler) ListSubjects(c echo.Context) error {
	items, err := h.store.ListSubjects(c.Request().Context(), strings.TrimSpace(c.QueryParam("recipientId")))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *APIHandler) GetSubject(c echo.Context) error {
	id, err := requireParam(c, "id")
	if err != nil {
		return err
	}
	s, err := h.store.GetSubject(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, s)
}

func (h *APIHandler) ListTemplates(c echo.Context) error {
	items, err := h.store.ListTemplates(c.Request().Context())
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *APIHandler) ListSchedules(c echo.Context) error {
	items, err := h.store.ListSchedules(c.Request().Context())
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, items)
}

type createScheduleRequest struct {
	RecipientID string `json:"recipientId"`
	SubjectID   string `json:"subjectId"`
	TemplateID  string `json:"templateId"`
	Cron        string `json:"cron"`
	Enabled     *bool  `json:"enabled"`
}

func (h *APIHandler) CreateSchedule(c echo.Context) error {
	var req createScheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.SubjectID) == "" || strings.TrimSpace(req.TemplateID) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "subjectId and templateId are required")
	}
	if err := schedule.Validate(req.Cron); err != nil {
		return toHTTPError(err)
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	ctx := c.Request().Context()
	sc, err := h.store.CreateSchedule(ctx, storage.Schedule{
		RecipientID: strings.TrimSpace(req.RecipientID),
		SubjectID:   strings.TrimSpace(req.SubjectID),
		TemplateID:  strings.TrimSpace(req.TemplateID),
		Cron:        req.Cron,
		Enabled:     enabled,
	})
	if err != nil {
		return toHTTPError(err)
	}
	h.refresh(ctx, sc.ID)

	rs, err := h.store.GetResolvedSchedule(ctx, sc.ID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, rs)
}

func (h *APIHandler) ToggleSchedule(c echo.Context) error {
	id, err := requireParam(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	cur, err := h.store.GetResolvedSchedule(ctx, id)
	if err != nil {
		return toHTTPError(err)
	}
	updated, err := h.store.SetScheduleEnabled(ctx, id, !cur.Enabled)
	if err != nil {
		return toHTTPError(err)
	}
	h.refresh(ctx, id)
	return c.JSON(http.StatusOK, updated)
}

func (h *APIHandler) DeleteSchedule(c echo.Context) error {
	id, err := requireParam(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.store.DeleteSchedule(ctx, id); err != nil {
		return toHTTPError(err)
	}
	h.refresh(ctx, id)
	return c.NoContent(http.StatusNoContent)
}

// refresh runs after a successful write. The write stands even if the
// registry cannot reload it; the next refresh or restart reconciles.
func (h *APIHandler) refresh(ctx context.Context, id string) {
	if err := h.scheduler.Refresh(ctx, id); err != nil {
		h.log.Error("schedule refresh failed", logx.String("schedule_id", id), logx.Err(err))
	}
}

func (h *APIHandler) SchedulerSnapshot(c echo.Context) error {
	return c.JSON(http.StatusOK, h.scheduler.Snapshot())
}

func (h *APIHandler) ListLogs(c echo.Context) error {
	f := storage.LogFilter{SubjectID: strings.TrimSpace(c.QueryParam("subjectId"))}
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		f.Limit = n
	}
	items, err := h.store.ListLogs(c.Request().Context(), f)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *APIHandler) Emergency(c echo.Context) error {
	id, err := requireParam(c, "subjectId")
	if err != nil {
		return err
	}
	h.log.Warn("emergency triggered", logx.String("subject_id", id), logx.String("remote_ip", c.RealIP()))
	res, err := h.emergency.SendEmergency(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, res)
}

type testSendRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

func (h *APIHandler) TestSend(c echo.Context) error {
	var req testSendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Phone) == "" || req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "phone and message are required")
	}
	return c.JSON(http.StatusOK, h.sender.Send(c.Request().Context(), req.Phone, req.Message))
}
