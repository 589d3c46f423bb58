package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	logx "carebot/pkg/logx"
)

//go:embed schema.sql
var schemaSQL string

const defaultBusyTimeout = 5 * time.Second

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	now func() time.Time
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		path, busy.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; one connection also keeps :memory: shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, now: time.Now}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func notFound(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %q: %w", what, id, ErrNotFound)
	}
	return err
}

// recipients

const recipientCols = `id, name, phone, timezone, created_at`

func scanRecipient(row scanner) (Recipient, error) {
	var (
		r  Recipient
		ms int64
	)
	if err := row.Scan(&r.ID, &r.Name, &r.Phone, &r.Timezone, &ms); err != nil {
		return Recipient{}, err
	}
	r.CreatedAt = time.UnixMilli(ms)
	return r, nil
}

func (s *sqliteStore) CreateRecipient(ctx context.Context, r Recipient) (Recipient, error) {
	if strings.TrimSpace(r.Phone) == "" {
		return Recipient{}, errors.New("recipient phone is required")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.CreatedAt = s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recipients(`+recipientCols+`) VALUES(?,?,?,?,?)`,
		r.ID, r.Name, r.Phone, r.Timezone, r.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return Recipient{}, err
	}
	r.CreatedAt = time.UnixMilli(r.CreatedAt.UnixMilli())
	return r, nil
}

func (s *sqliteStore) GetRecipient(ctx context.Context, id string) (Recipient, error) {
	r, err := scanRecipient(s.db.QueryRowContext(ctx, `SELECT `+recipientCols+` FROM recipients WHERE id = ?`, id))
	return r, notFound(err, "recipient", id)
}

func (s *sqliteStore) FindRecipientByPhone(ctx context.Context, phone string) (Recipient, error) {
	r, err := scanRecipient(s.db.QueryRowContext(ctx, `SELECT `+recipientCols+` FROM recipients WHERE phone = ?`, phone))
	return r, notFound(err, "recipient phone", phone)
}

func (s *sqliteStore) ListRecipients(ctx context.Context) ([]Recipient, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recipientCols+` FROM recipients ORDER BY created_at, rowid`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanRecipient)
}

// subjects

const subjectCols = `id, recipient_id, name, kind, created_at`

func scanSubject(row scanner) (Subject, error) {
	var (
		p  Subject
		ms int64
	)
	if err := row.Scan(&p.ID, &p.RecipientID, &p.Name, &p.Kind, &ms); err != nil {
		return Subject{}, err
	}
	p.CreatedAt = time.UnixMilli(ms)
	return p, nil
}

func (s *sqliteStore) CreateSubject(ctx context.Context, p Subject) (Subject, error) {
	if _, err := s.GetRecipient(ctx, p.RecipientID); err != nil {
		return Subject{}, err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = time.UnixMilli(s.now().UnixMilli())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subjects(`+subjectCols+`) VALUES(?,?,?,?,?)`,
		p.ID, p.RecipientID, p.Name, p.Kind, p.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return Subject{}, err
	}
	return p, nil
}

func (s *sqliteStore) GetSubject(ctx context.Context, id string) (Subject, error) {
	p, err := scanSubject(s.db.QueryRowContext(ctx, `SELECT `+subjectCols+` FROM subjects WHERE id = ?`, id))
	return p, notFound(err, "subject", id)
}

func (s *sqliteStore) ListSubjects(ctx context.Context, recipientID string) ([]Subject, error) {
	q := `SELECT ` + subjectCols + ` FROM subjects`
	var args []any
	if recipientID != "" {
		q += ` WHERE recipient_id = ?`
		args = append(args, recipientID)
	}
	rows, err := s.db.QueryContext(ctx, q+` ORDER BY created_at, rowid`, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanSubject)
}

// templates

const templateCols = `id, key, title, body, created_at`

func scanTemplate(row scanner) (Template, error) {
	var (
		t  Template
		ms int64
	)
	if err := row.Scan(&t.ID, &t.Key, &t.Title, &t.Body, &ms); err != nil {
		return Template{}, err
	}
	t.CreatedAt = time.UnixMilli(ms)
	return t, nil
}

// UpsertTemplate inserts t, or updates title and body of the template with the same key.
func (s *sqliteStore) UpsertTemplate(ctx context.Context, t Template) (Template, error) {
	if strings.TrimSpace(t.Key) == "" {
		return Template{}, errors.New("template key is required")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return scanTemplate(s.db.QueryRowContext(ctx,
		`INSERT INTO templates(`+templateCols+`) VALUES(?,?,?,?,?)
		 ON CONFLICT(key) DO UPDATE SET title = excluded.title, body = excluded.body
		 RETURNING `+templateCols,
		t.ID, t.Key, t.Title, t.Body, s.now().UnixMilli(),
	))
}

func (s *sqliteStore) GetTemplateByKey(ctx context.Context, key string) (Template, error) {
	t, err := scanTemplate(s.db.QueryRowContext(ctx, `SELECT `+templateCols+` FROM templates WHERE key = ?`, key))
	return t, notFound(err, "template key", key)
}

func (s *sqliteStore) getTemplate(ctx context.Context, id string) (Template, error) {
	t, err := scanTemplate(s.db.QueryRowContext(ctx, `SELECT `+templateCols+` FROM templates WHERE id = ?`, id))
	return t, notFound(err, "template", id)
}

func (s *sqliteStore) ListTemplates(ctx context.Context) ([]Template, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+templateCols+` FROM templates ORDER BY key`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanTemplate)
}

// schedules

const scheduleCols = `id, recipient_id, subject_id, template_id, cron, enabled, created_at, updated_at`

const resolvedScheduleQuery = `SELECT
	s.id, s.recipient_id, s.subject_id, s.template_id, s.cron, s.enabled, s.created_at, s.updated_at,
	r.id, r.name, r.phone, r.timezone, r.created_at,
	p.id, p.recipient_id, p.name, p.kind, p.created_at,
	t.id, t.key, t.title, t.body, t.created_at
FROM schedules s
JOIN recipients r ON r.id = s.recipient_id
JOIN subjects p ON p.id = s.subject_id
JOIN templates t ON t.id = s.template_id`

func scanSchedule(row scanner) (Schedule, error) {
	var (
		sc                 Schedule
		createdMS, updated int64
	)
	if err := row.Scan(&sc.ID, &sc.RecipientID, &sc.SubjectID, &sc.TemplateID, &sc.Cron, &sc.Enabled, &createdMS, &updated); err != nil {
		return Schedule{}, err
	}
	sc.CreatedAt = time.UnixMilli(createdMS)
	sc.UpdatedAt = time.UnixMilli(updated)
	return sc, nil
}

func scanResolved(row scanner) (ResolvedSchedule, error) {
	var (
		rs                                   ResolvedSchedule
		sCreated, sUpdated, rCreated, pCreat int64
		tCreated                             int64
	)
	err := row.Scan(
		&rs.ID, &rs.RecipientID, &rs.SubjectID, &rs.TemplateID, &rs.Cron, &rs.Enabled, &sCreated, &sUpdated,
		&rs.Recipient.ID, &rs.Recipient.Name, &rs.Recipient.Phone, &rs.Recipient.Timezone, &rCreated,
		&rs.Subject.ID, &rs.Subject.RecipientID, &rs.Subject.Name, &rs.Subject.Kind, &pCreat,
		&rs.Template.ID, &rs.Template.Key, &rs.Template.Title, &rs.Template.Body, &tCreated,
	)
	if err != nil {
		return ResolvedSchedule{}, err
	}
	rs.CreatedAt = time.UnixMilli(sCreated)
	rs.UpdatedAt = time.UnixMilli(sUpdated)
	rs.Recipient.CreatedAt = time.UnixMilli(rCreated)
	rs.Subject.CreatedAt = time.UnixMilli(pCreat)
	rs.Template.CreatedAt = time.UnixMilli(tCreated)
	return rs, nil
}

// CreateSchedule persists sc. The recipient defaults to the subject's owner.
// The cron expression is stored as given; validating it is the caller's job.
func (s *sqliteStore) CreateSchedule(ctx context.Context, sc Schedule) (Schedule, error) {
	subj, err := s.GetSubject(ctx, sc.SubjectID)
	if err != nil {
		return Schedule{}, err
	}
	if sc.RecipientID == "" {
		sc.RecipientID = subj.RecipientID
	}
	if _, err := s.GetRecipient(ctx, sc.RecipientID); err != nil {
		return Schedule{}, err
	}
	if _, err := s.getTemplate(ctx, sc.TemplateID); err != nil {
		return Schedule{}, err
	}
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	now := time.UnixMilli(s.now().UnixMilli())
	sc.CreatedAt, sc.UpdatedAt = now, now
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO schedules(`+scheduleCols+`) VALUES(?,?,?,?,?,?,?,?)`,
		sc.ID, sc.RecipientID, sc.SubjectID, sc.TemplateID, strings.TrimSpace(sc.Cron), sc.Enabled,
		now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return Schedule{}, err
	}
	sc.Cron = strings.TrimSpace(sc.Cron)
	return sc, nil
}

func (s *sqliteStore) GetResolvedSchedule(ctx context.Context, id string) (ResolvedSchedule, error) {
	rs, err := scanResolved(s.db.QueryRowContext(ctx, resolvedScheduleQuery+` WHERE s.id = ?`, id))
	return rs, notFound(err, "schedule", id)
}

func (s *sqliteStore) ListSchedules(ctx context.Context) ([]ResolvedSchedule, error) {
	rows, err := s.db.QueryContext(ctx, resolvedScheduleQuery+` ORDER BY s.created_at, s.rowid`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanResolved)
}

func (s *sqliteStore) ListEnabledSchedules(ctx context.Context) ([]ResolvedSchedule, error) {
	rows, err := s.db.QueryContext(ctx, resolvedScheduleQuery+` WHERE s.enabled = 1 ORDER BY s.created_at, s.rowid`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanResolved)
}

func (s *sqliteStore) SetScheduleEnabled(ctx context.Context, id string, enabled bool) (Schedule, error) {
	sc, err := scanSchedule(s.db.QueryRowContext(ctx,
		`UPDATE schedules SET enabled = ?, updated_at = ? WHERE id = ? RETURNING `+scheduleCols,
		enabled, s.now().UnixMilli(), id,
	))
	return sc, notFound(err, "schedule", id)
}

// DeleteSchedule removes the schedule and detaches its log entries. The log
// column carries no foreign key so a dispatch racing the delete still records.
func (s *sqliteStore) DeleteSchedule(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("schedule %q: %w", id, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE delivery_logs SET schedule_id = NULL WHERE schedule_id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// delivery log

const logCols = `id, schedule_id, recipient_id, subject_id, template_id, status, sent_at, completed_at, snooze_until, note, provider_id, error`

func scanLog(row scanner) (LogEntry, error) {
	var (
		e                     LogEntry
		scheduleID            sql.NullString
		status                string
		sentAt                int64
		completedAt, snoozeAt sql.NullInt64
		note, provider, errS  sql.NullString
	)
	err := row.Scan(&e.ID, &scheduleID, &e.RecipientID, &e.SubjectID, &e.TemplateID, &status, &sentAt,
		&completedAt, &snoozeAt, &note, &provider, &errS)
	if err != nil {
		return LogEntry{}, err
	}
	e.ScheduleID = scheduleID.String
	e.Status = Status(status)
	e.SentAt = time.UnixMilli(sentAt)
	e.CompletedAt = timePtr(completedAt)
	e.SnoozeUntil = timePtr(snoozeAt)
	e.Note = note.String
	e.ProviderID = provider.String
	e.Error = errS.String
	return e, nil
}

func (s *sqliteStore) AppendLog(ctx context.Context, e LogEntry) (LogEntry, error) {
	if !e.Status.Valid() {
		return LogEntry{}, fmt.Errorf("invalid log status %q", e.Status)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.SentAt.IsZero() {
		e.SentAt = s.now()
	}
	return scanLog(s.db.QueryRowContext(ctx,
		`INSERT INTO delivery_logs(`+logCols+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?) RETURNING `+logCols,
		e.ID, nullStr(e.ScheduleID), e.RecipientID, e.SubjectID, e.TemplateID, string(e.Status),
		e.SentAt.UnixMilli(), nullTime(e.CompletedAt), nullTime(e.SnoozeUntil),
		nullStr(e.Note), nullStr(e.ProviderID), nullStr(e.Error),
	))
}

func (s *sqliteStore) ListLogs(ctx context.Context, f LogFilter) ([]LogEntry, error) {
	q := `SELECT ` + logCols + ` FROM delivery_logs`
	var args []any
	if f.SubjectID != "" {
		q += ` WHERE subject_id = ?`
		args = append(args, f.SubjectID)
	}
	q += ` ORDER BY sent_at DESC, rowid DESC LIMIT ?`
	args = append(args, f.limit())
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanLog)
}

func (s *sqliteStore) LatestOutstanding(ctx context.Context, recipientID string) (LogEntry, error) {
	e, err := scanLog(s.db.QueryRowContext(ctx,
		`SELECT `+logCols+` FROM delivery_logs
		 WHERE recipient_id = ? AND status = 'sent' AND completed_at IS NULL
		 ORDER BY sent_at DESC, rowid DESC LIMIT 1`,
		recipientID,
	))
	return e, notFound(err, "outstanding log for recipient", recipientID)
}

func (s *sqliteStore) TransitionOutstanding(ctx context.Context, id string, t Transition) (LogEntry, error) {
	if !t.Status.Valid() || t.Status == StatusSent {
		return LogEntry{}, fmt.Errorf("invalid transition status %q", t.Status)
	}
	var note any
	if t.Note != nil {
		note = *t.Note
	}
	e, err := scanLog(s.db.QueryRowContext(ctx,
		`UPDATE delivery_logs
		 SET status = ?,
		     completed_at = COALESCE(?, completed_at),
		     snooze_until = COALESCE(?, snooze_until),
		     note = COALESCE(?, note)
		 WHERE id = ? AND status = 'sent' AND completed_at IS NULL
		 RETURNING `+logCols,
		string(t.Status), nullTime(t.CompletedAt), nullTime(t.SnoozeUntil), note, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return LogEntry{}, fmt.Errorf("log %q not outstanding: %w", id, ErrConflict)
	}
	return e, err
}

func collect[T any](rows *sql.Rows, scan func(scanner) (T, error)) ([]T, error) {
	defer rows.Close()
	out := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}
