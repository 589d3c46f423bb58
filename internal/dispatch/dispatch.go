// Package dispatch generates, delivers and logs reminder messages.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"carebot/internal/content"
	"carebot/internal/delivery"
	"carebot/internal/eventbus"
	"carebot/internal/storage"
	logx "carebot/pkg/logx"
)

var (
	ErrSubjectNotFound   = errors.New("subject not found")
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrTemplateNotFound  = errors.New("emergency template not found")
)

const (
	DefaultGenerateTimeout = 20 * time.Second
	DefaultDeliverTimeout  = 30 * time.Second

	logWriteTimeout = 5 * time.Second
)

// Store is the persistence the executor needs.
type Store interface {
	GetSubject(ctx context.Context, id string) (storage.Subject, error)
	GetRecipient(ctx context.Context, id string) (storage.Recipient, error)
	GetTemplateByKey(ctx context.Context, key string) (storage.Template, error)
	AppendLog(ctx context.Context, e storage.LogEntry) (storage.LogEntry, error)
}

type Config struct {
	GenerateTimeout time.Duration
	DeliverTimeout  time.Duration
}

type Deps struct {
	Store     Store
	Generator content.Generator // nil means always use the fallback text
	Sender    delivery.Sender
	Logger    logx.Logger
	Bus       eventbus.Publisher
}

// Executor performs one dispatch per call. It never retries: a failed
// delivery is recorded and the next scheduled fire is the retry.
type Executor struct {
	store  Store
	gen    content.Generator
	sender delivery.Sender
	log    logx.Logger
	bus    eventbus.Publisher
	cfg    Config
}

func New(d Deps, cfg Config) *Executor {
	log := d.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = DefaultGenerateTimeout
	}
	if cfg.DeliverTimeout <= 0 {
		cfg.DeliverTimeout = DefaultDeliverTimeout
	}
	return &Executor{store: d.Store, gen: d.Generator, sender: d.Sender, log: log, bus: d.Bus, cfg: cfg}
}

// FormatMessage renders the title in WhatsApp bold above the body.
func FormatMessage(title, body string) string {
	return "*" + title + "*\n\n" + body
}

// Execute dispatches a fired schedule. Outcomes are only observable through
// the delivery log.
func (e *Executor) Execute(ctx context.Context, s storage.ResolvedSchedule) {
	if _, err := e.Dispatch(ctx, s); err != nil {
		e.log.Error("dispatch not recorded", logx.String("schedule_id", s.ID), logx.Err(err))
	}
}

// Dispatch generates text for s, delivers it, and appends exactly one log entry.
// The returned error only reports a failure to write that entry.
func (e *Executor) Dispatch(ctx context.Context, s storage.ResolvedSchedule) (storage.LogEntry, error) {
	log := e.log.With(logx.String("schedule_id", s.ID), logx.String("template", s.Template.Key))
	log.Info("dispatch started", logx.String("subject", s.Subject.Name))

	body := e.generate(ctx, log, content.Request{
		Title:         s.Template.Title,
		SubjectName:   s.Subject.Name,
		SubjectKind:   s.Subject.Kind,
		RecipientName: s.Recipient.Name,
	})
	res := e.deliver(ctx, s.Recipient.Phone, FormatMessage(s.Template.Title, body))

	return e.record(ctx, log, storage.LogEntry{
		ScheduleID:  s.ID,
		RecipientID: s.Recipient.ID,
		SubjectID:   s.Subject.ID,
		TemplateID:  s.Template.ID,
	}, res)
}

// SendEmergency sends the emergency template to the subject's owner right
// away. Unresolvable subject, recipient or template is a hard error; delivery
// failures are returned in the Result and logged like any other attempt.
func (e *Executor) SendEmergency(ctx context.Context, subjectID string) (delivery.Result, error) {
	subj, err := e.store.GetSubject(ctx, subjectID)
	if err != nil {
		return delivery.Result{}, resolveErr(err, ErrSubjectNotFound)
	}
	rcpt, err := e.store.GetRecipient(ctx, subj.RecipientID)
	if err != nil {
		return delivery.Result{}, resolveErr(err, ErrRecipientNotFound)
	}
	tpl, err := e.store.GetTemplateByKey(ctx, storage.TemplateKeyEmergency)
	if err != nil {
		return delivery.Result{}, resolveErr(err, ErrTemplateNotFound)
	}

	log := e.log.With(logx.String("subject_id", subj.ID), logx.Bool("emergency", true))
	log.Warn("emergency dispatch", logx.String("subject", subj.Name), logx.String("recipient", rcpt.Name))

	res := e.deliver(ctx, rcpt.Phone, FormatMessage(tpl.Title, tpl.Body))
	if _, err := e.record(ctx, log, storage.LogEntry{
		RecipientID: rcpt.ID,
		SubjectID:   subj.ID,
		TemplateID:  tpl.ID,
	}, res); err != nil {
		return res, fmt.Errorf("record emergency: %w", err)
	}
	return res, nil
}

func resolveErr(err, sentinel error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %v", sentinel, err)
	}
	return err
}

func (e *Executor) generate(ctx context.Context, log logx.Logger, req content.Request) string {
	if e.gen == nil {
		return content.Fallback(req)
	}
	gctx, cancel := context.WithTimeout(ctx, e.cfg.GenerateTimeout)
	defer cancel()
	text, err := e.gen.Generate(gctx, req)
	if err != nil {
		if errors.Is(err, content.ErrDisabled) {
			log.Debug("content generator disabled; using fallback")
		} else {
			log.Warn("content generation failed; using fallback", logx.Err(err))
		}
		return content.Fallback(req)
	}
	return text
}

func (e *Executor) deliver(ctx context.Context, to, text string) delivery.Result {
	if e.sender == nil {
		return delivery.Result{Error: delivery.ErrNotConfigured}
	}
	dctx, cancel := context.WithTimeout(ctx, e.cfg.DeliverTimeout)
	defer cancel()
	res := e.sender.Send(dctx, to, text)
	if !res.Delivered && res.Error == "" {
		res.Error = "delivery failed"
		if dctx.Err() != nil {
			res.Error = dctx.Err().Error()
		}
	}
	return res
}

// record writes the log row even when ctx was cancelled mid-dispatch.
func (e *Executor) record(ctx context.Context, log logx.Logger, entry storage.LogEntry, res delivery.Result) (storage.LogEntry, error) {
	if res.Delivered {
		entry.Status = storage.StatusSent
		entry.ProviderID = res.ProviderID
	} else {
		entry.Status = storage.StatusFailed
		entry.Error = res.Error
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logWriteTimeout)
	defer cancel()
	saved, err := e.store.AppendLog(wctx, entry)
	if err != nil {
		return storage.LogEntry{}, err
	}

	data := eventbus.DispatchData{
		LogID:      saved.ID,
		ScheduleID: saved.ScheduleID,
		SubjectID:  saved.SubjectID,
		Emergency:  saved.ScheduleID == "",
		Error:      saved.Error,
	}
	if res.Delivered {
		log.Info("dispatch sent", logx.String("log_id", saved.ID), logx.String("provider_id", res.ProviderID))
		eventbus.Publish(e.bus, eventbus.DispatchSent, data)
	} else {
		log.Warn("dispatch failed", logx.String("log_id", saved.ID), logx.String("error", res.Error))
		eventbus.Publish(e.bus, eventbus.DispatchFailed, data)
	}
	return saved, nil
}
