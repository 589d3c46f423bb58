package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"carebot/internal/alert/telegram"
	"carebot/internal/config"
	"carebot/internal/content"
	"carebot/internal/delivery"
	"carebot/internal/dispatch"
	"carebot/internal/eventbus"
	"carebot/internal/httpapi"
	"carebot/internal/observability/pprof"
	"carebot/internal/reply"
	"carebot/internal/runtime/supervisor"
	"carebot/internal/schedule"
	"carebot/internal/storage"
	logx "carebot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	registry *schedule.Registry
	server   *httpapi.Server
	pprof    *pprof.Service

	schedEnabled    bool
	shutdownTimeout time.Duration
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	return newApp(cfgm, cfg)
}

func newApp(cfgm *config.ConfigManager, cfg *config.Config) (_ *App, err error) {
	// Every mapping is checked before anything with a lifetime is opened.
	storeCfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	srvCfg, shutdown, err := mapServerConfig(cfg)
	if err != nil {
		return nil, err
	}
	dispCfg, snooze, err := mapDispatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	fonnteCfg, err := mapFonnteConfig(cfg)
	if err != nil {
		return nil, err
	}
	loc, err := schedule.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg), newAlerter(cfg))
	log = log.With(logx.String("comp", "app"))
	defer func() {
		if err != nil {
			_ = logSvc.Close()
		}
	}()

	store, err := storage.Open(storeCfg, logSvc.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", storeCfg.Driver), logx.String("path", storeCfg.Path))

	bus := eventbus.New()

	var gen content.Generator
	if g := content.NewOpenAI(mapContentConfig(cfg), logSvc.Logger().With(logx.String("comp", "content"))); g.Enabled() {
		gen = g
	} else {
		log.Warn("content generator has no API key; fallback text only")
	}
	sender := delivery.NewFonnte(fonnteCfg, nil, logSvc.Logger().With(logx.String("comp", "delivery")))
	if fonnteCfg.Token == "" {
		log.Warn("delivery token not configured; sends will be recorded as failed")
	}

	exec := dispatch.New(dispatch.Deps{
		Store:     store,
		Generator: gen,
		Sender:    sender,
		Logger:    logSvc.Logger().With(logx.String("comp", "dispatch")),
		Bus:       bus,
	}, dispCfg)

	registry := schedule.New(store, exec, schedule.Options{
		Location: loc,
		Logger:   logSvc.Logger().With(logx.String("comp", "schedule")),
		Bus:      bus,
	})

	replies := reply.New(store, reply.Options{
		LocalRule: mapLocalRule(cfg),
		Snooze:    snooze,
		Logger:    logSvc.Logger().With(logx.String("comp", "reply")),
		Bus:       bus,
	})

	httpLog := logSvc.Logger().With(logx.String("comp", "http"))
	server := httpapi.NewServer(srvCfg, httpLog,
		httpapi.NewAPIHandler(store, registry, exec, sender, httpLog),
		httpapi.NewWebhookHandler(replies, httpLog),
	)

	return &App{
		cfgm:            cfgm,
		log:             log,
		logs:            logSvc,
		bus:             bus,
		store:           store,
		registry:        registry,
		server:          server,
		pprof:           pprof.New(logSvc.Logger().With(logx.String("comp", "pprof"))),
		schedEnabled:    cfg.Scheduler.Enabled,
		shutdownTimeout: shutdown,
	}, nil
}

// newAlerter returns nil unless alerts are enabled and the bot can be built.
func newAlerter(cfg *config.Config) logx.AlertSender {
	a := cfg.Alerts
	if a == nil || !a.Enabled {
		return nil
	}
	al, err := telegram.New(telegram.Config{Token: a.Token, ChatID: a.ChatID})
	if err != nil {
		logx.NewConsole("WARN").Warn("operator alerts disabled", logx.Err(err))
		return nil
	}
	return al
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Addr() string { return a.server.Addr() }

func (a *App) ShutdownTimeout() time.Duration { return a.shutdownTimeout }

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapServerConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapDispatchConfig(cfg); err != nil {
			return err
		}
		_, err := mapFonnteConfig(cfg)
		return err
	})

	if a.schedEnabled {
		if err := a.registry.LoadAll(a.sup.Context()); err != nil {
			return err
		}
	} else {
		a.log.Warn("scheduler disabled; schedules will not fire")
	}

	// pprof is optional; a bad bind is logged and never stops the app.
	if err := a.pprof.Reconfigure(a.sup.Context(), mapPprofConfig(a.cfgm.Get())); err != nil {
		a.log.Warn("pprof not started", logx.Err(err))
	}

	a.sup.Go("http", func(context.Context) error {
		return a.server.Start()
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.String("addr", a.server.Addr()), logx.Bool("scheduler", a.schedEnabled))
	return nil
}

// applyConfig re-applies the live sections and reports every other changed
// section as requiring a restart.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.logs.Apply(mapLogConfig(newCfg))
	if a.pprof != nil {
		if err := a.pprof.Reconfigure(ctx, mapPprofConfig(newCfg)); err != nil {
			a.log.Warn("pprof reconfigure failed", logx.Err(err))
		}
	}

	var pending []string
	for _, s := range sections {
		if !config.LiveSections[s] {
			pending = append(pending, s)
		}
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	if len(pending) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(pending, ",")))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.closeResources()
	}
	if reason == "" {
		reason = StopUnknown
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		if err := a.runStep(ctx, name, max, fn); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	step("http", a.shutdownTimeout, a.server.Stop)
	// StopAll blocks until in-flight dispatches return or the step deadline passes.
	step("scheduler", dispatch.DefaultGenerateTimeout+dispatch.DefaultDeliverTimeout, a.registry.StopAll)
	step("pprof", time.Second, a.pprof.Stop)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}

// runStep runs fn with an upper bound so one component can't stall the whole stop.
// The caller's deadline is respected and never extended.
func (a *App) runStep(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		max = time.Millisecond
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		took := time.Since(start)
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			return err
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		return nil
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
			}
		}()
		return stepCtx.Err()
	}
}

// closeResources releases what newApp opened when Start was never called.
func (a *App) closeResources() error {
	err := a.store.Close()
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}
