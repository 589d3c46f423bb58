// Package reply advances delivery log entries from free-text WhatsApp replies.
package reply

import (
	"context"
	"errors"
	"fmt"
	"time"

	"carebot/internal/eventbus"
	"carebot/internal/phone"
	"carebot/internal/storage"
	logx "carebot/pkg/logx"
)

// DefaultSnooze is how far TUNDA pushes snoozeUntil.
const DefaultSnooze = time.Hour

// Result classifies what a reply did. Only the last three mutate state.
type Result string

const (
	ResultUnknownSender Result = "ignored"
	ResultNoPending     Result = "no_pending"
	ResultUnrecognized  Result = "unrecognized"
	ResultCompleted     Result = "completed"
	ResultSnoozed       Result = "snoozed"
	ResultNoted         Result = "noted"
)

// Outcome is returned for every reply; unknown senders and stray text are
// outcomes, not errors.
type Outcome struct {
	Result      Result            `json:"result"`
	Message     string            `json:"message"`
	RecipientID string            `json:"recipientId,omitempty"`
	Entry       *storage.LogEntry `json:"entry,omitempty"`
}

func (o Outcome) Mutated() bool {
	switch o.Result {
	case ResultCompleted, ResultSnoozed, ResultNoted:
		return true
	}
	return false
}

type Store interface {
	FindRecipientByPhone(ctx context.Context, phone string) (storage.Recipient, error)
	LatestOutstanding(ctx context.Context, recipientID string) (storage.LogEntry, error)
	TransitionOutstanding(ctx context.Context, id string, t storage.Transition) (storage.LogEntry, error)
}

type Options struct {
	LocalRule phone.LocalRule
	Snooze    time.Duration
	Now       func() time.Time
	Logger    logx.Logger
	Bus       eventbus.Publisher
}

type Machine struct {
	store  Store
	rule   phone.LocalRule
	snooze time.Duration
	now    func() time.Time
	log    logx.Logger
	bus    eventbus.Publisher
}

func New(store Store, opts Options) *Machine {
	m := &Machine{
		store:  store,
		rule:   opts.LocalRule,
		snooze: opts.Snooze,
		now:    opts.Now,
		log:    opts.Logger,
		bus:    opts.Bus,
	}
	if m.snooze <= 0 {
		m.snooze = DefaultSnooze
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.log.IsZero() {
		m.log = logx.Nop()
	}
	return m
}

// Handle resolves sender to a recipient, finds its most recent outstanding
// log entry, and applies the command in text to it. The returned error is
// reserved for storage failures.
func (m *Machine) Handle(ctx context.Context, sender, text string) (Outcome, error) {
	cmd := ParseCommand(text)

	rcpt, ok, err := m.resolveSender(ctx, sender)
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		m.log.Info("reply from unknown sender ignored", logx.String("sender", sender))
		return Outcome{Result: ResultUnknownSender, Message: "unknown sender"}, nil
	}

	entry, err := m.store.LatestOutstanding(ctx, rcpt.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return Outcome{Result: ResultNoPending, Message: "no pending message", RecipientID: rcpt.ID}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("find outstanding: %w", err)
	}

	now := m.now()
	var (
		tr    storage.Transition
		res   Result
		topic string
	)
	switch cmd.Kind {
	case CommandDone:
		tr = storage.Transition{Status: storage.StatusCompleted, CompletedAt: &now}
		res, topic = ResultCompleted, eventbus.ReplyCompleted
	case CommandSnooze:
		until := now.Add(m.snooze)
		tr = storage.Transition{Status: storage.StatusSnoozed, SnoozeUntil: &until}
		res, topic = ResultSnoozed, eventbus.ReplySnoozed
	case CommandNote:
		note := cmd.Note
		tr = storage.Transition{Status: storage.StatusCompleted, CompletedAt: &now, Note: &note}
		res, topic = ResultNoted, eventbus.ReplyNoted
	default:
		return Outcome{Result: ResultUnrecognized, Message: "unrecognized command", RecipientID: rcpt.ID}, nil
	}

	updated, err := m.store.TransitionOutstanding(ctx, entry.ID, tr)
	if errors.Is(err, storage.ErrConflict) {
		// Another reply won the race for this entry.
		m.log.Debug("reply lost race", logx.String("log_id", entry.ID))
		return Outcome{Result: ResultNoPending, Message: "no pending message", RecipientID: rcpt.ID}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("transition %s: %w", entry.ID, err)
	}

	m.log.Info("reply applied",
		logx.String("log_id", updated.ID),
		logx.String("recipient_id", rcpt.ID),
		logx.String("result", string(res)),
	)
	eventbus.Publish(m.bus, topic, eventbus.ReplyData{LogID: updated.ID, RecipientID: rcpt.ID})
	return Outcome{Result: res, Message: "ok", RecipientID: rcpt.ID, Entry: &updated}, nil
}

// resolveSender tries the canonical, raw and local-prefix forms in order.
func (m *Machine) resolveSender(ctx context.Context, sender string) (storage.Recipient, bool, error) {
	for _, cand := range phone.Candidates(sender, m.rule) {
		r, err := m.store.FindRecipientByPhone(ctx, cand)
		if err == nil {
			return r, true, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return storage.Recipient{}, false, fmt.Errorf("find recipient: %w", err)
		}
	}
	return storage.Recipient{}, false, nil
}
