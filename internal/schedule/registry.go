package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"carebot/internal/eventbus"
	"carebot/internal/storage"
	logx "carebot/pkg/logx"
)

// ErrStopped is returned by Install after StopAll.
var ErrStopped = errors.New("schedule registry stopped")

// Source is the persisted side the registry reconciles against.
type Source interface {
	ListEnabledSchedules(ctx context.Context) ([]storage.ResolvedSchedule, error)
	GetResolvedSchedule(ctx context.Context, id string) (storage.ResolvedSchedule, error)
}

// Executor runs one dispatch for a fired schedule.
type Executor interface {
	Execute(ctx context.Context, s storage.ResolvedSchedule)
}

type Options struct {
	Location *time.Location
	Logger   logx.Logger
	Bus      eventbus.Publisher
}

// Registry maps schedule IDs to live cron triggers.
//
// The map is guarded by mu. Each trigger carries the generation it was
// installed under; a fire whose generation no longer matches the map (or that
// arrives after StopAll) is dropped, so a replaced or removed trigger never
// dispatches.
type Registry struct {
	src  Source
	exec Executor
	log  logx.Logger
	bus  eventbus.Publisher
	loc  *time.Location

	// refreshMu orders read-then-install sequences so the last storage read wins.
	refreshMu sync.Mutex

	mu      sync.Mutex
	c       *cron.Cron
	handles map[string]*handle
	gen     uint64
	started bool
	stopped bool

	// runCtx is handed to dispatches; cancelled once StopAll gives up waiting.
	runCtx    context.Context
	runCancel context.CancelFunc
}

type handle struct {
	entryID     cron.EntryID
	gen         uint64
	sched       storage.ResolvedSchedule
	installedAt time.Time
}

func New(src Source, exec Executor, opts Options) *Registry {
	log := opts.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	cl := cronLogger{log: log}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		src:  src,
		exec: exec,
		log:  log,
		bus:  opts.Bus,
		loc:  loc,
		c: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		handles:   map[string]*handle{},
		runCtx:    ctx,
		runCancel: cancel,
	}
}

func (r *Registry) Location() *time.Location { return r.loc }

// LoadAll installs every enabled schedule and starts the trigger source.
// A storage error is returned; an invalid cron only skips that schedule.
func (r *Registry) LoadAll(ctx context.Context) error {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	list, err := r.src.ListEnabledSchedules(ctx)
	if err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}
	installed := 0
	for _, s := range list {
		if err := r.Install(s); err != nil {
			continue
		}
		installed++
	}

	r.mu.Lock()
	if !r.started && !r.stopped {
		r.c.Start()
		r.started = true
	}
	r.mu.Unlock()

	r.log.Info("schedules loaded", logx.Int("found", len(list)), logx.Int("installed", installed), logx.String("tz", r.loc.String()))
	return nil
}

// Install replaces any trigger for s.ID with one bound to s.
//
// The old trigger is removed before s is validated, so a bad cron leaves the
// schedule absent rather than running on stale data.
func (r *Registry) Install(s storage.ResolvedSchedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return ErrStopped
	}
	r.removeLocked(s.ID)

	if !s.Enabled {
		return nil
	}
	sched, err := Parse(s.Cron)
	if err != nil {
		r.log.Warn("schedule skipped", logx.String("schedule_id", s.ID), logx.String("cron", s.Cron), logx.Err(err))
		return err
	}

	r.gen++
	gen := r.gen
	id := s.ID
	entryID := r.c.Schedule(sched, cron.FuncJob(func() { r.fire(id, gen) }))
	r.handles[id] = &handle{entryID: entryID, gen: gen, sched: s, installedAt: time.Now()}

	r.log.Info("schedule installed",
		logx.String("schedule_id", id),
		logx.String("cron", s.Cron),
		logx.String("template", s.Template.Title),
		logx.String("subject", s.Subject.Name),
	)
	eventbus.Publish(r.bus, eventbus.ScheduleInstalled, eventbus.ScheduleData{ScheduleID: id, Cron: s.Cron})
	return nil
}

// Refresh reconciles one schedule with storage: missing or disabled rows lose
// their trigger, enabled rows are (re)installed.
func (r *Registry) Refresh(ctx context.Context, id string) error {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	s, err := r.src.GetResolvedSchedule(ctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		r.Remove(id)
		return nil
	case err != nil:
		return fmt.Errorf("refresh schedule %s: %w", id, err)
	case !s.Enabled:
		r.Remove(id)
		return nil
	}
	return r.Install(s)
}

// Remove stops and forgets the trigger for id. It reports whether one existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(id)
}

func (r *Registry) removeLocked(id string) bool {
	h, ok := r.handles[id]
	if !ok {
		return false
	}
	r.c.Remove(h.entryID)
	delete(r.handles, id)
	r.log.Info("schedule removed", logx.String("schedule_id", id))
	eventbus.Publish(r.bus, eventbus.ScheduleRemoved, eventbus.ScheduleData{ScheduleID: id})
	return true
}

func (r *Registry) fire(id string, gen uint64) {
	r.mu.Lock()
	h, ok := r.handles[id]
	if r.stopped || !ok || h.gen != gen {
		r.mu.Unlock()
		r.log.Debug("stale trigger dropped", logx.String("schedule_id", id))
		return
	}
	s := h.sched
	ctx := r.runCtx
	r.mu.Unlock()

	r.exec.Execute(ctx, s)
}

// StopAll stops the trigger source and drops every handle. Once it returns no
// trigger fires. It waits for running dispatches until ctx is done, then
// cancels them.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	n := len(r.handles)
	r.handles = map[string]*handle{}
	drained := r.c.Stop()
	r.mu.Unlock()

	r.log.Info("schedules stopping", logx.Int("triggers", n))
	defer r.runCancel()
	select {
	case <-drained.Done():
		return nil
	case <-ctx.Done():
		r.log.Warn("in-flight dispatches did not finish before shutdown deadline")
		return ctx.Err()
	}
}

// Active reports whether id has a live trigger.
func (r *Registry) Active(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handles[id]
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
