package app

import (
	"context"
	"fmt"
	"time"

	"crewcall/internal/config"
	"crewcall/internal/eventbus"
	"crewcall/internal/notify"
	"crewcall/internal/reminder"
	"crewcall/internal/runtime/supervisor"
	"crewcall/internal/schedule"
	"crewcall/internal/storage"
	"crewcall/internal/trigger"
	logx "crewcall/pkg/logx"
)

// Default cadence specs used when the config names no cadences at all.
var defaultCadences = map[string]string{
	"every1m":  "@every 1m",
	"every5m":  "@every 5m",
	"every30m": "@every 30m",
}

const retentionSpec = "30 4 * * *"

// App wires configuration, storage, the two engines and the trigger
// registry together and owns their lifecycle.
type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	bus       eventbus.Bus
	store     storage.Store
	notif     *notify.Service
	dispatch  *reminder.Engine
	schedules *schedule.Engine
	retention *reminder.Retention
	trig      *trigger.Service
	sup       *supervisor.Supervisor
}

func New(ctx context.Context, configPath string) (*App, error) {
	cfgMgr := config.NewManager(configPath)
	cfg, err := cfgMgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	cfgMgr.SetLogger(log.With(logx.String("component", "config")))

	a := &App{
		cfgMgr: cfgMgr,
		logSvc: logSvc,
		log:    log,
		bus:    eventbus.New(),
	}

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	a.store, err = storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, storage.Defaults{
		MaxPerDay: cfg.Reminder.MaxPerDay,
		Channels:  cfg.Reminder.DefaultChannels,
	}, log.With(logx.String("component", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	a.notif = notify.New(notify.Config{RatePerSec: cfg.Notify.RatePerSec},
		log.With(logx.String("component", "notify")))
	// Log-only delivery until real channel collaborators are registered.
	for _, c := range []notify.Channel{notify.ChannelPush, notify.ChannelEmail, notify.ChannelSMS} {
		a.notif.Register(c, notify.NewLogSender(c, log))
	}

	dispatchCfg, err := dispatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	roster := reminder.NewRosterResolver(a.store, log.With(logx.String("component", "roster")))
	a.dispatch = reminder.NewEngine(dispatchCfg, a.store, roster, a.notif, a.bus,
		log.With(logx.String("component", "dispatch")))

	a.schedules = schedule.NewEngine(a.store, a.notif, a.bus,
		log.With(logx.String("component", "schedule")))

	a.retention = reminder.NewRetention(a.store, cfg.Reminder.RetentionDays,
		log.With(logx.String("component", "retention")))

	a.trig = trigger.New(log.With(logx.String("component", "trigger")), a.bus)
	a.registerCadences(cfg)

	trigCfg, err := triggerConfig(cfg)
	if err != nil {
		return nil, err
	}
	if err := a.trig.Apply(trigCfg); err != nil {
		return nil, err
	}

	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(log.With(logx.String("component", "supervisor"))))
	return a, nil
}

// registerCadences binds one dispatch job per configured cadence plus the
// daily retention run, and drops cadences the new config no longer names so
// a removed cadence stops firing after a hot reload. Cadence names are the
// config's trigger.cadences keys.
func (a *App) registerCadences(cfg *config.Config) {
	cadences := cfg.Trigger.Cadences
	if len(cadences) == 0 {
		cadences = defaultCadences
	}
	want := map[string]bool{"retention": true}
	for name := range cadences {
		want[name] = true
		cadence := name
		a.trig.Register(cadence, defaultCadences[cadence], func(ctx context.Context) error {
			return a.dispatch.RunCadence(ctx, cadence)
		})
	}
	a.trig.Register("retention", retentionSpec, a.retention.Run)

	for _, name := range a.trig.Registered() {
		if !want[name] {
			a.trig.Deregister(name)
		}
	}
}

func (a *App) Start(ctx context.Context) error {
	if err := a.trig.Start(); err != nil {
		return err
	}

	a.sup.GoRestart("config-watch", a.cfgMgr.Watch)

	updates := a.cfgMgr.Subscribe(1)
	a.sup.Go("config-apply", func(ctx context.Context) error {
		defer a.cfgMgr.Unsubscribe(updates)
		for {
			select {
			case <-ctx.Done():
				return nil
			case cfg, ok := <-updates:
				if !ok {
					return nil
				}
				a.applyConfig(cfg)
			}
		}
	})

	a.log.Info("crewcall started")
	return nil
}

// applyConfig fans a reloaded config out to every hot-swappable component.
// A bad section is logged and skipped; the rest still applies.
func (a *App) applyConfig(cfg *config.Config) {
	a.logSvc.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	a.notif.Apply(notify.Config{RatePerSec: cfg.Notify.RatePerSec})

	if dc, err := dispatchConfig(cfg); err != nil {
		a.log.Error("reminder config rejected", logx.Err(err))
	} else {
		a.dispatch.Apply(dc)
	}

	a.registerCadences(cfg)
	if tc, err := triggerConfig(cfg); err != nil {
		a.log.Error("trigger config rejected", logx.Err(err))
	} else if err := a.trig.Apply(tc); err != nil {
		a.log.Error("trigger reload failed", logx.Err(err))
	}

	a.log.Info("configuration reloaded")
}

func (a *App) Stop(ctx context.Context) {
	a.trig.Stop(ctx)
	a.sup.Cancel()
	if err := a.sup.Wait(ctx); err != nil {
		a.log.Warn("shutdown incomplete", logx.Err(err))
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close failed", logx.Err(err))
	}
	a.log.Info("crewcall stopped")
	_ = a.logSvc.Close()
}

// Schedules exposes the propagation engine to operator surfaces (CLI,
// future admin API).
func (a *App) Schedules() *schedule.Engine { return a.schedules }

// Store exposes the writer surface for roster/order ingestion.
func (a *App) Store() storage.Store { return a.store }

// Bus exposes the event stream.
func (a *App) Bus() eventbus.Bus { return a.bus }

// Status is the administrative health view.
type Status struct {
	Running        bool
	ActiveCadences []string
	// FailedLastDay counts FAILED reminder attempts in the last 24h; a
	// rising number means a delivery collaborator is degrading.
	FailedLastDay int
}

func (a *App) Status(ctx context.Context) (Status, error) {
	ts := a.trig.Status()
	failed, err := a.store.CountFailedSince(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		return Status{}, err
	}
	return Status{
		Running:        ts.Running,
		ActiveCadences: ts.Cadences,
		FailedLastDay:  failed,
	}, nil
}

func dispatchConfig(cfg *config.Config) (reminder.Config, error) {
	loc := time.Local
	if cfg.Trigger.Timezone != "" {
		l, err := time.LoadLocation(cfg.Trigger.Timezone)
		if err != nil {
			return reminder.Config{}, fmt.Errorf("trigger.timezone: %w", err)
		}
		loc = l
	}
	return reminder.Config{
		UrgentBelowMin:  cfg.Reminder.UrgentBelowMin,
		WarningBelowMin: cfg.Reminder.WarningBelowMin,
		Location:        loc,
	}, nil
}

func triggerConfig(cfg *config.Config) (trigger.Config, error) {
	tickTimeout, err := config.ParseDurationOrDefault("trigger.tick_timeout", cfg.Trigger.TickTimeout, time.Minute)
	if err != nil {
		return trigger.Config{}, err
	}
	return trigger.Config{
		Enabled:     cfg.Trigger.Enabled,
		Timezone:    cfg.Trigger.Timezone,
		Cadences:    cfg.Trigger.Cadences,
		TickTimeout: tickTimeout,
	}, nil
}
