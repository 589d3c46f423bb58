package storage

import (
	"context"
	"errors"
	"strings"

	logx "carebot/pkg/logx"
)

// Store is the persistence API used by the registry, dispatcher, reply
// machine and HTTP surface.
type Store interface {
	CreateRecipient(ctx context.Context, r Recipient) (Recipient, error)
	GetRecipient(ctx context.Context, id string) (Recipient, error)
	FindRecipientByPhone(ctx context.Context, phone string) (Recipient, error)
	ListRecipients(ctx context.Context) ([]Recipient, error)

	CreateSubject(ctx context.Context, s Subject) (Subject, error)
	GetSubject(ctx context.Context, id string) (Subject, error)
	ListSubjects(ctx context.Context, recipientID string) ([]Subject, error)

	UpsertTemplate(ctx context.Context, t Template) (Template, error)
	GetTemplateByKey(ctx context.Context, key string) (Template, error)
	ListTemplates(ctx context.Context) ([]Template, error)

	CreateSchedule(ctx context.Context, s Schedule) (Schedule, error)
	GetResolvedSchedule(ctx context.Context, id string) (ResolvedSchedule, error)
	ListSchedules(ctx context.Context) ([]ResolvedSchedule, error)
	ListEnabledSchedules(ctx context.Context) ([]ResolvedSchedule, error)
	SetScheduleEnabled(ctx context.Context, id string, enabled bool) (Schedule, error)
	DeleteSchedule(ctx context.Context, id string) error

	AppendLog(ctx context.Context, e LogEntry) (LogEntry, error)
	ListLogs(ctx context.Context, f LogFilter) ([]LogEntry, error)
	LatestOutstanding(ctx context.Context, recipientID string) (LogEntry, error)
	// TransitionOutstanding applies t to entry id only if it is still
	// outstanding, returning the updated row. Otherwise ErrConflict.
	TransitionOutstanding(ctx context.Context, id string, t Transition) (LogEntry, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
