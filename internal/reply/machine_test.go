package reply

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carebot/internal/eventbus"
	"carebot/internal/phone"
	"carebot/internal/storage"
	logx "carebot/pkg/logx"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		kind CommandKind
		note string
	}{
		{"SELESAI", CommandDone, ""},
		{"  selesai \n", CommandDone, ""},
		{"SELESAI ya", CommandNone, ""},
		{"TUNDA", CommandSnooze, ""},
		{"tunda jam depan", CommandSnooze, ""},
		{"TUNDAAN", CommandNone, ""},
		{"CATAT: sudah kasih makan", CommandNote, "sudah kasih makan"},
		{"catat:Air Keruh ", CommandNote, "Air Keruh"},
		{"Catat sudah ganti air", CommandNote, "sudah ganti air"},
		{"CATAT sudah: makan", CommandNote, "makan"},
		{"CATAT:", CommandNote, ""},
		{"CATATAN", CommandNone, ""},
		{"halo", CommandNone, ""},
		{"", CommandNone, ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParseCommand(tt.in)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.note, got.Note)
		})
	}
}

type fixture struct {
	st    storage.Store
	seed  storage.SeedResult
	m     *Machine
	now   time.Time
	event <-chan eventbus.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "r.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	seed, err := storage.Seed(context.Background(), st, storage.SeedOptions{})
	require.NoError(t, err)

	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8)
	t.Cleanup(unsub)

	f := &fixture{st: st, seed: seed, now: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC), event: ch}
	f.m = New(st, Options{
		LocalRule: phone.DefaultLocalRule,
		Now:       func() time.Time { return f.now },
		Bus:       bus,
	})
	return f
}

func (f *fixture) sent(t *testing.T, recipientID string) storage.LogEntry {
	t.Helper()
	e, err := f.st.AppendLog(context.Background(), storage.LogEntry{
		RecipientID: recipientID,
		SubjectID:   f.seed.Subject.ID,
		TemplateID:  f.seed.Templates[0].ID,
		Status:      storage.StatusSent,
	})
	require.NoError(t, err)
	return e
}

func (f *fixture) latest(t *testing.T) storage.LogEntry {
	t.Helper()
	logs, err := f.st.ListLogs(context.Background(), storage.LogFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	return logs[0]
}

func TestSelesaiCompletesOnce(t *testing.T) {
	f := newFixture(t)
	entry := f.sent(t, f.seed.Recipient.ID)
	ctx := context.Background()

	out, err := f.m.Handle(ctx, "6281234567890", "selesai")
	require.NoError(t, err)
	assert.Equal(t, ResultCompleted, out.Result)
	require.NotNil(t, out.Entry)
	assert.Equal(t, entry.ID, out.Entry.ID)
	assert.Equal(t, storage.StatusCompleted, out.Entry.Status)
	require.NotNil(t, out.Entry.CompletedAt)
	assert.Equal(t, eventbus.ReplyCompleted, (<-f.event).Type)

	again, err := f.m.Handle(ctx, "6281234567890", "SELESAI")
	require.NoError(t, err)
	assert.Equal(t, ResultNoPending, again.Result)
	assert.False(t, again.Mutated())
	assert.Equal(t, storage.StatusCompleted, f.latest(t).Status)
}

func TestTundaSnoozesForAnHour(t *testing.T) {
	f := newFixture(t)
	f.sent(t, f.seed.Recipient.ID)

	out, err := f.m.Handle(context.Background(), "+6281234567890", "TUNDA jam depan")
	require.NoError(t, err)
	assert.Equal(t, ResultSnoozed, out.Result)

	got := f.latest(t)
	assert.Equal(t, storage.StatusSnoozed, got.Status)
	assert.Nil(t, got.CompletedAt)
	require.NotNil(t, got.SnoozeUntil)
	assert.WithinDuration(t, f.now.Add(time.Hour), *got.SnoozeUntil, 2*time.Second)

	// Snoozed entries are terminal for replies.
	out, err = f.m.Handle(context.Background(), "+6281234567890", "SELESAI")
	require.NoError(t, err)
	assert.Equal(t, ResultNoPending, out.Result)
}

func TestCatatStoresNoteAndCompletes(t *testing.T) {
	f := newFixture(t)
	f.sent(t, f.seed.Recipient.ID)

	out, err := f.m.Handle(context.Background(), "6281234567890", "CATAT:   sudah kasih makan  ")
	require.NoError(t, err)
	assert.Equal(t, ResultNoted, out.Result)

	got := f.latest(t)
	assert.Equal(t, storage.StatusCompleted, got.Status)
	assert.Equal(t, "sudah kasih makan", got.Note)
	require.NotNil(t, got.CompletedAt)
}

func TestUnknownSenderMutatesNothing(t *testing.T) {
	f := newFixture(t)
	f.sent(t, f.seed.Recipient.ID)

	out, err := f.m.Handle(context.Background(), "14155550100", "SELESAI")
	require.NoError(t, err)
	assert.Equal(t, ResultUnknownSender, out.Result)
	assert.Equal(t, "unknown sender", out.Message)
	assert.Equal(t, storage.StatusSent, f.latest(t).Status)
}

func TestUnrecognizedCommandMutatesNothing(t *testing.T) {
	f := newFixture(t)
	f.sent(t, f.seed.Recipient.ID)

	out, err := f.m.Handle(context.Background(), "6281234567890", "terima kasih")
	require.NoError(t, err)
	assert.Equal(t, ResultUnrecognized, out.Result)
	assert.Equal(t, storage.StatusSent, f.latest(t).Status)
}

func TestNoPendingMessage(t *testing.T) {
	f := newFixture(t)
	out, err := f.m.Handle(context.Background(), "6281234567890", "SELESAI")
	require.NoError(t, err)
	assert.Equal(t, ResultNoPending, out.Result)
	assert.Equal(t, f.seed.Recipient.ID, out.RecipientID)
}

func TestLocalPrefixSenderMatch(t *testing.T) {
	f := newFixture(t)
	local, err := f.st.CreateRecipient(context.Background(), storage.Recipient{Name: "Local", Phone: "0812000111"})
	require.NoError(t, err)
	e := f.sent(t, local.ID)

	out, err := f.m.Handle(context.Background(), "62812000111", "SELESAI")
	require.NoError(t, err)
	assert.Equal(t, ResultCompleted, out.Result)
	assert.Equal(t, local.ID, out.RecipientID)
	assert.Equal(t, e.ID, out.Entry.ID)
}

func TestReplyTargetsMostRecentOutstanding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	older, err := f.st.AppendLog(ctx, storage.LogEntry{RecipientID: f.seed.Recipient.ID, SubjectID: f.seed.Subject.ID, TemplateID: f.seed.Templates[0].ID, Status: storage.StatusSent, SentAt: f.now.Add(-2 * time.Hour)})
	require.NoError(t, err)
	newer, err := f.st.AppendLog(ctx, storage.LogEntry{RecipientID: f.seed.Recipient.ID, SubjectID: f.seed.Subject.ID, TemplateID: f.seed.Templates[0].ID, Status: storage.StatusSent, SentAt: f.now.Add(-time.Hour)})
	require.NoError(t, err)

	out, err := f.m.Handle(ctx, "6281234567890", "SELESAI")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, out.Entry.ID)

	out, err = f.m.Handle(ctx, "6281234567890", "SELESAI")
	require.NoError(t, err)
	assert.Equal(t, older.ID, out.Entry.ID)
}
