package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict is returned when a conditional update matched no row.
	ErrConflict = errors.New("storage: conflict")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite" (default): SQLite database file via modernc.org/sqlite
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means 5s
}

// Status is a delivery log status.
type Status string

const (
	StatusSent      Status = "sent"
	StatusCompleted Status = "completed"
	StatusSnoozed   Status = "snoozed"
	StatusFailed    Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusSent, StatusCompleted, StatusSnoozed, StatusFailed:
		return true
	}
	return false
}

// Recipient receives reminders on a phone-number-shaped address.
type Recipient struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Timezone  string    `json:"timezone,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Subject is what a reminder is about. Owned by one recipient.
type Subject struct {
	ID          string    `json:"id"`
	RecipientID string    `json:"recipientId"`
	Name        string    `json:"name"`
	Kind        string    `json:"kind,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Template is looked up by ID from schedules, and by Key for fixed variants.
type Template struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// TemplateKeyEmergency names the template used by on-demand emergency sends.
const TemplateKeyEmergency = "emergency"

type Schedule struct {
	ID          string    `json:"id"`
	RecipientID string    `json:"recipientId"`
	SubjectID   string    `json:"subjectId"`
	TemplateID  string    `json:"templateId"`
	Cron        string    `json:"cron"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ResolvedSchedule is a schedule joined with the rows it references.
type ResolvedSchedule struct {
	Schedule
	Recipient Recipient `json:"recipient"`
	Subject   Subject   `json:"subject"`
	Template  Template  `json:"template"`
}

// LogEntry is one dispatch attempt and its reply-driven lifecycle.
// ScheduleID is empty for emergency sends.
type LogEntry struct {
	ID          string     `json:"id"`
	ScheduleID  string     `json:"scheduleId,omitempty"`
	RecipientID string     `json:"recipientId"`
	SubjectID   string     `json:"subjectId"`
	TemplateID  string     `json:"templateId"`
	Status      Status     `json:"status"`
	SentAt      time.Time  `json:"sentAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	SnoozeUntil *time.Time `json:"snoozeUntil,omitempty"`
	Note        string     `json:"note,omitempty"`
	ProviderID  string     `json:"providerId,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Outstanding reports whether the entry can still be advanced by a reply.
func (e LogEntry) Outstanding() bool {
	return e.Status == StatusSent && e.CompletedAt == nil
}

// Transition describes the new state written to an outstanding log entry.
// Nil fields leave the column untouched.
type Transition struct {
	Status      Status
	CompletedAt *time.Time
	SnoozeUntil *time.Time
	Note        *string
}

const (
	DefaultLogLimit = 50
	MaxLogLimit     = 500
)

// LogFilter selects delivery log rows. Results are newest first.
type LogFilter struct {
	SubjectID string
	Limit     int // <=0 means DefaultLogLimit; capped at MaxLogLimit
}

func (f LogFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return DefaultLogLimit
	case f.Limit > MaxLogLimit:
		return MaxLogLimit
	default:
		return f.Limit
	}
}
