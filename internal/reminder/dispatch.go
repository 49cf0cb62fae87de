package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"crewcall/internal/eventbus"
	"crewcall/internal/notify"
	"crewcall/internal/storage"
	logx "crewcall/pkg/logx"
)

// Config holds the dispatch tier thresholds (minutes remaining).
type Config struct {
	UrgentBelowMin  int
	WarningBelowMin int
	Location        *time.Location
}

// Event is the bus payload for reminder outcomes.
type Event struct {
	UserID    string    `json:"user_id"`
	ProjectID string    `json:"project_id"`
	Cadence   string    `json:"cadence"`
	Channels  []string  `json:"channels,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// Engine runs one reminder pass per (cadence, project): window check, roster
// minus submitters, per-participant plan/send/log.
//
// The engine only reads schedule state; all schedule mutation lives in the
// propagation engine. Per-participant failures become FAILED log rows and
// never abort the pass; store failures abort the pass so the next tick can
// retry from a clean slate.
type Engine struct {
	mu     sync.Mutex
	cfg    Config
	store  storage.Store
	roster *RosterResolver
	notif  *notify.Service
	bus    eventbus.Bus
	log    logx.Logger

	now func() time.Time // test seam
}

func NewEngine(cfg Config, store storage.Store, roster *RosterResolver, notif *notify.Service, bus eventbus.Bus, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{
		store:  store,
		roster: roster,
		notif:  notif,
		bus:    bus,
		log:    log,
		now:    time.Now,
	}
	e.Apply(cfg)
	return e
}

// Apply swaps the tier thresholds and timezone at runtime.
func (e *Engine) Apply(cfg Config) {
	if cfg.UrgentBelowMin <= 0 {
		cfg.UrgentBelowMin = 15
	}
	if cfg.WarningBelowMin <= 0 {
		cfg.WarningBelowMin = 30
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

func (e *Engine) config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// RunCadence is the job body registered on a trigger cadence. It walks every
// active project; a failing project is logged and skipped, a store failure
// listing projects aborts the whole tick.
func (e *Engine) RunCadence(ctx context.Context, cadence string) error {
	now := e.now().In(e.config().Location)

	projects, err := e.store.ActiveProjects(ctx)
	if err != nil {
		return fmt.Errorf("list projects: %w", err)
	}

	for _, p := range projects {
		if !projectWantsCadence(p, cadence) {
			continue
		}
		if err := e.runProject(ctx, cadence, now, p); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.log.Error("reminder pass failed",
				logx.String("project", p.ID),
				logx.String("cadence", cadence),
				logx.Err(err))
		}
	}
	return nil
}

func projectWantsCadence(p storage.Project, cadence string) bool {
	if len(p.Settings.Cadences) == 0 {
		return true
	}
	for _, c := range p.Settings.Cadences {
		if c == cadence {
			return true
		}
	}
	return false
}

// openWindow is one order window currently accepting reminders.
type openWindow struct {
	startMin int
	endMin   int
}

func (e *Engine) runProject(ctx context.Context, cadence string, now time.Time, p storage.Project) error {
	nowMin := MinuteOfDay(now)
	day := DayString(now)

	windows := e.openWindows(ctx, now, nowMin, p)
	if len(windows) == 0 {
		return nil
	}

	// A participant is reminded at most once per tick even when several
	// order windows are open at the same time.
	seen := map[string]bool{}

	for _, w := range windows {
		periodStart := MinuteOnDay(now, w.startMin)
		periodEnd := MinuteOnDay(now, w.endMin)

		pending, err := e.roster.NonSubmitters(ctx, p.ID, periodStart, periodEnd)
		if err != nil {
			return err
		}

		for _, part := range pending {
			if seen[part.UserID] {
				continue
			}
			seen[part.UserID] = true

			if err := e.remindOne(ctx, cadence, now, day, nowMin, p, part, w); err != nil {
				// Store-level failures are fatal for the tick; everything
				// else was already converted into a FAILED log row.
				return err
			}
		}
	}
	return nil
}

// openWindows collects the project-level order window plus any open
// sub-window order windows on today's schedule. Ill-formed windows are
// logged once per pass and treated as never-open.
func (e *Engine) openWindows(ctx context.Context, now time.Time, nowMin int, p storage.Project) []openWindow {
	var out []openWindow

	s := p.Settings
	if s.OrderWindowEnd != 0 || s.OrderWindowStart != 0 {
		if !WellFormed(s.OrderWindowStart, s.OrderWindowEnd) {
			e.log.Warn("ill-formed order window; treating as closed",
				logx.String("project", p.ID),
				logx.String("start", FormatHHMM(s.OrderWindowStart)),
				logx.String("end", FormatHHMM(s.OrderWindowEnd)))
		} else if InWindow(nowMin, s.OrderWindowStart, s.OrderWindowEnd) {
			out = append(out, openWindow{startMin: s.OrderWindowStart, endMin: s.OrderWindowEnd})
		}
	}

	_, subs, err := e.store.ScheduleForDay(ctx, p.ID, DayString(now))
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			e.log.Error("schedule lookup failed", logx.String("project", p.ID), logx.Err(err))
		}
		return out
	}
	for _, w := range subs {
		if !w.OrderOpen || w.OrderStartMin < 0 || w.OrderEndMin < 0 {
			continue
		}
		if !WellFormed(w.OrderStartMin, w.OrderEndMin) {
			e.log.Warn("ill-formed sub-window order window; treating as closed",
				logx.String("schedule", w.ScheduleID),
				logx.String("window", w.ID))
			continue
		}
		if InWindow(nowMin, w.OrderStartMin, w.OrderEndMin) {
			out = append(out, openWindow{startMin: w.OrderStartMin, endMin: w.OrderEndMin})
		}
	}
	return out
}

type reminderMeta struct {
	Tier    string `json:"tier"`
	Attempt int    `json:"attempt"`
	Error   string `json:"error,omitempty"`
}

// remindOne runs the Plan -> Send -> Log sequence for a single participant.
// The quota check and the slot insert happen inside one store transaction
// (ReserveReminder), so the ceiling holds even under concurrent ticks.
func (e *Engine) remindOne(ctx context.Context, cadence string, now time.Time, day string, nowMin int, p storage.Project, part storage.Participant, w openWindow) error {
	prefs, err := e.store.Prefs(ctx, part.UserID)
	if err != nil {
		return fmt.Errorf("prefs for %s: %w", part.UserID, err)
	}

	sent, err := e.store.CountRemindersToday(ctx, part.UserID, day)
	if err != nil {
		return fmt.Errorf("quota count for %s: %w", part.UserID, err)
	}

	plan := Plan(PlanInput{
		Prefs:           prefs,
		ProjectChannels: notify.ParseChannels(p.Settings.Channels),
		Cadence:         cadence,
		NowMin:          nowMin,
		SentToday:       sent,
	})
	if !plan.OK {
		e.publish("reminder.skipped", Event{
			UserID: part.UserID, ProjectID: p.ID, Cadence: cadence, Reason: plan.Reason, At: now,
		})
		e.log.Debug("reminder skipped",
			logx.String("user", part.UserID),
			logx.String("project", p.ID),
			logx.String("reason", plan.Reason))
		return nil
	}

	cfg := e.config()
	remaining := w.endMin - nowMin
	tier := TierFor(remaining, cfg.UrgentBelowMin, cfg.WarningBelowMin)
	title, body := RenderMessage(p.Settings.Template, p.Name, remaining, FormatHHMM(w.endMin), tier)

	entry := storage.ReminderLogEntry{
		UserID:           part.UserID,
		ProjectID:        p.ID,
		Day:              day,
		Cadence:          cadence,
		ScheduledFor:     now,
		Channels:         notify.Strings(plan.Channels),
		TimeRemainingMin: remaining,
	}
	id, err := e.store.ReserveReminder(ctx, entry, prefs.MaxPerDay)
	if errors.Is(err, storage.ErrQuotaExceeded) {
		// Lost the race against a concurrent tick; the ceiling held.
		e.publish("reminder.skipped", Event{
			UserID: part.UserID, ProjectID: p.ID, Cadence: cadence, Reason: SkipQuota, At: now,
		})
		return nil
	}
	if err != nil {
		return fmt.Errorf("reserve reminder slot for %s: %w", part.UserID, err)
	}

	results := e.notif.Fanout(ctx, plan.Channels, notify.Message{
		UserID: part.UserID,
		Title:  title,
		Body:   body,
		Meta: map[string]string{
			"project": p.ID,
			"cadence": cadence,
			"tier":    string(tier),
		},
	})

	meta := reminderMeta{Tier: string(tier), Attempt: 1}
	outcome := storage.ReminderSent
	if !notify.Delivered(results) {
		outcome = storage.ReminderFailed
		if err := notify.FirstErr(results); err != nil {
			meta.Error = err.Error()
		} else {
			meta.Error = "no channel delivered"
		}
	}
	mb, _ := json.Marshal(meta)

	if err := e.store.FinalizeReminder(ctx, id, outcome, notify.Strings(plan.Channels), string(mb)); err != nil {
		return fmt.Errorf("finalize reminder %s: %w", id, err)
	}

	evType := "reminder.sent"
	if outcome == storage.ReminderFailed {
		evType = "reminder.failed"
		e.log.Warn("reminder send failed",
			logx.String("user", part.UserID),
			logx.String("project", p.ID),
			logx.String("err", meta.Error))
	}
	e.publish(evType, Event{
		UserID: part.UserID, ProjectID: p.ID, Cadence: cadence,
		Channels: notify.Strings(plan.Channels), At: now,
	})
	return nil
}

func (e *Engine) publish(typ string, ev Event) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}
