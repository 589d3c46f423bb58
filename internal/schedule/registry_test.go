package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carebot/internal/eventbus"
	"carebot/internal/storage"
	logx "carebot/pkg/logx"
)

const everySecond = "* * * * * *"

type fakeSource struct {
	mu   sync.Mutex
	rows map[string]storage.ResolvedSchedule
	err  error
}

func newFakeSource(rows ...storage.ResolvedSchedule) *fakeSource {
	f := &fakeSource{rows: map[string]storage.ResolvedSchedule{}}
	for _, r := range rows {
		f.rows[r.ID] = r
	}
	return f
}

func (f *fakeSource) put(r storage.ResolvedSchedule) {
	f.mu.Lock()
	f.rows[r.ID] = r
	f.mu.Unlock()
}

func (f *fakeSource) del(id string) {
	f.mu.Lock()
	delete(f.rows, id)
	f.mu.Unlock()
}

func (f *fakeSource) ListEnabledSchedules(context.Context) ([]storage.ResolvedSchedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []storage.ResolvedSchedule
	for _, r := range f.rows {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeSource) GetResolvedSchedule(_ context.Context, id string) (storage.ResolvedSchedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return storage.ResolvedSchedule{}, storage.ErrNotFound
	}
	return r, nil
}

type recordingExec struct {
	mu    sync.Mutex
	calls []storage.ResolvedSchedule
}

func (e *recordingExec) Execute(_ context.Context, s storage.ResolvedSchedule) {
	e.mu.Lock()
	e.calls = append(e.calls, s)
	e.mu.Unlock()
}

func (e *recordingExec) snapshot() []storage.ResolvedSchedule {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]storage.ResolvedSchedule(nil), e.calls...)
}

func row(id, cronExpr, title string, enabled bool) storage.ResolvedSchedule {
	return storage.ResolvedSchedule{
		Schedule: storage.Schedule{ID: id, Cron: cronExpr, Enabled: enabled},
		Template: storage.Template{Key: title, Title: title},
	}
}

func newTestRegistry(t *testing.T, src Source, exec Executor, bus eventbus.Publisher) *Registry {
	t.Helper()
	r := New(src, exec, Options{Location: time.UTC, Logger: logx.Nop(), Bus: bus})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = r.StopAll(ctx)
	})
	return r
}

func TestValidate(t *testing.T) {
	tests := []struct {
		expr string
		ok   bool
	}{
		{"0 9 * * *", true},
		{"0 9 */2 * *", true},
		{"0 10 1,15 * *", true},
		{"*/30 * * * * *", true},
		{"@daily", true},
		{"", false},
		{"61 * * * *", false},
		{"* * *", false},
		{"not a cron", false},
		{"CRON_TZ=UTC 0 9 * * *", false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			err := Validate(tt.expr)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidCron)
			}
		})
	}
}

func TestNextRunsUsesLocation(t *testing.T) {
	loc, err := LoadLocation("Asia/Jakarta")
	require.NoError(t, err)
	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC) // 07:00 in Jakarta
	runs, err := NextRuns("0 9 * * *", from, loc, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, time.Date(2025, 3, 1, 9, 0, 0, 0, loc), runs[0])
	assert.Equal(t, time.Date(2025, 3, 2, 9, 0, 0, 0, loc), runs[1])
}

func TestLoadAllSkipsInvalidCron(t *testing.T) {
	src := newFakeSource(
		row("good", everySecond, "daily", true),
		row("bad", "nope", "weekly", true),
		row("off", everySecond, "bi_daily", false),
	)
	exec := &recordingExec{}
	r := newTestRegistry(t, src, exec, nil)

	require.NoError(t, r.LoadAll(context.Background()))
	assert.True(t, r.Active("good"))
	assert.False(t, r.Active("bad"))
	assert.False(t, r.Active("off"))
	require.Eventually(t, func() bool { return len(exec.snapshot()) > 0 }, 3*time.Second, 20*time.Millisecond)
}

func TestLoadAllReturnsStorageError(t *testing.T) {
	src := newFakeSource()
	src.err = errors.New("db down")
	r := newTestRegistry(t, src, &recordingExec{}, nil)
	assert.Error(t, r.LoadAll(context.Background()))
}

func TestInstallTwiceKeepsOneTrigger(t *testing.T) {
	src := newFakeSource()
	exec := &recordingExec{}
	r := newTestRegistry(t, src, exec, nil)
	require.NoError(t, r.LoadAll(context.Background()))

	require.NoError(t, r.Install(row("s1", everySecond, "first", true)))
	require.NoError(t, r.Install(row("s1", everySecond, "second", true)))
	assert.Equal(t, 1, r.Len())

	require.Eventually(t, func() bool { return len(exec.snapshot()) >= 2 }, 4*time.Second, 20*time.Millisecond)
	for _, c := range exec.snapshot() {
		assert.Equal(t, "second", c.Template.Title)
	}
}

func TestInstallInvalidLeavesOthersUntouched(t *testing.T) {
	r := newTestRegistry(t, newFakeSource(), &recordingExec{}, nil)
	require.NoError(t, r.Install(row("a", "0 9 * * *", "daily", true)))
	require.NoError(t, r.Install(row("b", "0 10 * * *", "weekly", true)))

	err := r.Install(row("b", "bogus", "weekly", true))
	assert.ErrorIs(t, err, ErrInvalidCron)
	assert.True(t, r.Active("a"))
	assert.False(t, r.Active("b"))
}

func TestRefresh(t *testing.T) {
	src := newFakeSource(row("s1", "0 9 * * *", "daily", true))
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()
	r := newTestRegistry(t, src, &recordingExec{}, bus)
	ctx := context.Background()

	require.NoError(t, r.Refresh(ctx, "s1"))
	assert.True(t, r.Active("s1"))
	assert.Equal(t, eventbus.ScheduleInstalled, (<-events).Type)

	src.put(row("s1", "0 9 * * *", "daily", false))
	require.NoError(t, r.Refresh(ctx, "s1"))
	assert.False(t, r.Active("s1"))
	assert.Equal(t, eventbus.ScheduleRemoved, (<-events).Type)

	src.put(row("s1", "0 9 * * *", "daily", true))
	require.NoError(t, r.Refresh(ctx, "s1"))
	require.True(t, r.Active("s1"))
	<-events

	src.del("s1")
	require.NoError(t, r.Refresh(ctx, "s1"))
	assert.False(t, r.Active("s1"))
	<-events
	require.NoError(t, r.Refresh(ctx, "s1"))
	assert.False(t, r.Active("s1"))
	select {
	case ev := <-events:
		t.Fatalf("second refresh of deleted schedule published %s", ev.Type)
	default:
	}
}

func TestStaleGenerationIsDropped(t *testing.T) {
	exec := &recordingExec{}
	r := newTestRegistry(t, newFakeSource(), exec, nil)
	require.NoError(t, r.Install(row("s1", "0 9 * * *", "daily", true)))
	r.mu.Lock()
	old := r.handles["s1"].gen
	r.mu.Unlock()
	require.NoError(t, r.Install(row("s1", "0 9 * * *", "daily", true)))

	r.fire("s1", old)
	assert.Empty(t, exec.snapshot())

	r.mu.Lock()
	cur := r.handles["s1"].gen
	r.mu.Unlock()
	r.fire("s1", cur)
	assert.Len(t, exec.snapshot(), 1)
}

func TestStopAllPreventsFurtherFires(t *testing.T) {
	src := newFakeSource(row("s1", everySecond, "daily", true))
	exec := &recordingExec{}
	r := newTestRegistry(t, src, exec, nil)
	require.NoError(t, r.LoadAll(context.Background()))
	require.Eventually(t, func() bool { return len(exec.snapshot()) > 0 }, 3*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.StopAll(ctx))
	n := len(exec.snapshot())
	assert.Equal(t, 0, r.Len())

	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, n, len(exec.snapshot()))
	assert.ErrorIs(t, r.Install(row("s2", everySecond, "daily", true)), ErrStopped)
	assert.False(t, r.Snapshot().Running)
}

func TestSnapshot(t *testing.T) {
	r := newTestRegistry(t, newFakeSource(), &recordingExec{}, nil)
	require.NoError(t, r.Install(row("b", "0 9 * * *", "daily", true)))
	require.NoError(t, r.Install(row("a", "0 10 * * 0", "weekly", true)))

	snap := r.Snapshot()
	assert.False(t, snap.Running)
	assert.Equal(t, "UTC", snap.Timezone)
	require.Len(t, snap.Entries, 2)
	assert.Equal(t, "a", snap.Entries[0].ScheduleID)
	assert.Equal(t, "weekly", snap.Entries[0].Template)
	assert.False(t, snap.Entries[0].Next.IsZero())
}
