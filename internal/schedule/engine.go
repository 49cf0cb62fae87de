package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crewcall/internal/eventbus"
	"crewcall/internal/notify"
	"crewcall/internal/storage"
	logx "crewcall/pkg/logx"
)

var (
	ErrTerminal  = errors.New("schedule is in a terminal state")
	ErrZeroShift = errors.New("shift of zero minutes")
)

// ChangeEvent is the bus payload for schedule mutations.
type ChangeEvent struct {
	ScheduleID string    `json:"schedule_id"`
	ProjectID  string    `json:"project_id"`
	Day        string    `json:"day"`
	DeltaMin   int       `json:"delta_min,omitempty"`
	At         time.Time `json:"at"`
}

// Engine applies delays, cancellations and explicit retimes to a schedule
// and cascades them to sub-windows and pending order deadlines.
//
// Every mutation is computed in memory from a snapshot, then handed to the
// store as one all-or-nothing shift guarded by the snapshot's version. The
// audit row and the roster fan-out happen after the commit and are best
// effort: a lost notification never rolls back an applied shift.
type Engine struct {
	store storage.Store
	notif *notify.Service
	bus   eventbus.Bus
	log   logx.Logger

	now func() time.Time
}

func NewEngine(store storage.Store, notif *notify.Service, bus eventbus.Bus, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{store: store, notif: notif, bus: bus, log: log, now: time.Now}
}

// ApplyDelay shifts the whole schedule by deltaMin minutes. Negative deltas
// move the day earlier. Returns the schedule as persisted.
func (e *Engine) ApplyDelay(ctx context.Context, scheduleID string, deltaMin int, actor, reason string) (storage.Schedule, error) {
	if deltaMin == 0 {
		return storage.Schedule{}, ErrZeroShift
	}

	sch, subs, orders, err := e.snapshot(ctx, scheduleID)
	if err != nil {
		return storage.Schedule{}, err
	}

	status := sch.Status
	if CanTransition(status, StatusDelayed) {
		status = StatusDelayed
	}

	shift := computeShift(sch, subs, orders, deltaMin, status)
	shift.Schedule.DelayMin = sch.DelayMin + deltaMin

	if err := e.store.ApplyScheduleShift(ctx, shift); err != nil {
		return storage.Schedule{}, fmt.Errorf("apply delay: %w", err)
	}

	e.audit(ctx, storage.ScheduleChange{
		ScheduleID:  sch.ID,
		ChangeType:  "DELAY",
		Description: fmt.Sprintf("delayed %+d min", deltaMin),
		OldValue:    fmtHHMM(sch.CallMin),
		NewValue:    fmtHHMM(shift.Schedule.CallMin),
		Actor:       actor,
		Reason:      reason,
	})
	e.announce(ctx, "schedule.delayed", sch, deltaMin,
		fmt.Sprintf("%s shifted by %+d min; call time is now %s.", sch.Day, deltaMin, fmtHHMM(shift.Schedule.CallMin)))
	return shift.Schedule, nil
}

// ApplyRetime moves the call time to an explicit new minute of day. The
// whole day shifts by the implied delta; internally this is the same cascade
// as ApplyDelay, only the audit wording differs.
func (e *Engine) ApplyRetime(ctx context.Context, scheduleID string, newCallMin int, actor, reason string) (storage.Schedule, error) {
	sch, subs, orders, err := e.snapshot(ctx, scheduleID)
	if err != nil {
		return storage.Schedule{}, err
	}

	deltaMin := newCallMin - sch.CallMin
	if deltaMin == 0 {
		return storage.Schedule{}, ErrZeroShift
	}

	status := sch.Status
	if CanTransition(status, StatusDelayed) {
		status = StatusDelayed
	}

	shift := computeShift(sch, subs, orders, deltaMin, status)
	shift.Schedule.DelayMin = sch.DelayMin + deltaMin

	if err := e.store.ApplyScheduleShift(ctx, shift); err != nil {
		return storage.Schedule{}, fmt.Errorf("apply retime: %w", err)
	}

	e.audit(ctx, storage.ScheduleChange{
		ScheduleID:  sch.ID,
		ChangeType:  "RETIME",
		Description: fmt.Sprintf("call time moved to %s", fmtHHMM(newCallMin)),
		OldValue:    fmtHHMM(sch.CallMin),
		NewValue:    fmtHHMM(newCallMin),
		Actor:       actor,
		Reason:      reason,
	})
	e.announce(ctx, "schedule.retimed", sch, deltaMin,
		fmt.Sprintf("%s call time moved to %s.", sch.Day, fmtHHMM(newCallMin)))
	return shift.Schedule, nil
}

// ApplyCancellation cancels the schedule, closes every sub-window's order
// window and cancels the pending order deadlines tied to it.
func (e *Engine) ApplyCancellation(ctx context.Context, scheduleID string, actor, reason string) (storage.Schedule, error) {
	sch, subs, orders, err := e.snapshot(ctx, scheduleID)
	if err != nil {
		return storage.Schedule{}, err
	}

	next := sch
	next.Status = StatusCancelled
	next.Version = sch.Version + 1

	shift := storage.ScheduleShift{Schedule: next, ExpectVersion: sch.Version}
	for _, w := range subs {
		w.Status = StatusCancelled
		w.OrderOpen = false
		shift.SubWindows = append(shift.SubWindows, w)
	}
	for _, o := range orders {
		o.Status = storage.OrderCancelled
		shift.Orders = append(shift.Orders, o)
	}

	if err := e.store.ApplyScheduleShift(ctx, shift); err != nil {
		return storage.Schedule{}, fmt.Errorf("apply cancellation: %w", err)
	}

	e.audit(ctx, storage.ScheduleChange{
		ScheduleID:  sch.ID,
		ChangeType:  "CANCELLATION",
		Description: "schedule cancelled",
		OldValue:    sch.Status,
		NewValue:    StatusCancelled,
		Actor:       actor,
		Reason:      reason,
	})
	e.announceAlways(ctx, "schedule.cancelled", sch, 0,
		fmt.Sprintf("%s has been cancelled.", sch.Day))
	return next, nil
}

func (e *Engine) snapshot(ctx context.Context, scheduleID string) (storage.Schedule, []storage.SubWindow, []storage.Order, error) {
	sch, subs, err := e.store.ScheduleByID(ctx, scheduleID)
	if err != nil {
		return storage.Schedule{}, nil, nil, fmt.Errorf("load schedule: %w", err)
	}
	if Terminal(sch.Status) {
		return storage.Schedule{}, nil, nil, fmt.Errorf("%w: %s", ErrTerminal, sch.Status)
	}
	orders, err := e.store.PendingOrders(ctx, scheduleID)
	if err != nil {
		return storage.Schedule{}, nil, nil, fmt.Errorf("load pending orders: %w", err)
	}
	return sch, subs, orders, nil
}

// computeShift builds the full post-shift state in memory. Pure: no I/O, no
// mutation of the inputs.
func computeShift(sch storage.Schedule, subs []storage.SubWindow, orders []storage.Order, deltaMin int, status string) storage.ScheduleShift {
	next := sch
	next.CallMin = shiftMin(sch.CallMin, deltaMin)
	next.WrapMin = shiftMin(sch.WrapMin, deltaMin)
	next.Status = status
	next.Version = sch.Version + 1

	shift := storage.ScheduleShift{Schedule: next, ExpectVersion: sch.Version}

	for _, w := range subs {
		w.StartMin = shiftMin(w.StartMin, deltaMin)
		w.EndMin = shiftMin(w.EndMin, deltaMin)
		if w.OrderStartMin >= 0 {
			w.OrderStartMin = shiftMin(w.OrderStartMin, deltaMin)
		}
		if w.OrderEndMin >= 0 {
			w.OrderEndMin = shiftMin(w.OrderEndMin, deltaMin)
		}
		if CanTransition(w.Status, StatusDelayed) {
			w.Status = StatusDelayed
		}
		shift.SubWindows = append(shift.SubWindows, w)
	}

	for _, o := range orders {
		if o.ExpectedReadyMin >= 0 {
			o.ExpectedReadyMin = shiftMin(o.ExpectedReadyMin, deltaMin)
		}
		shift.Orders = append(shift.Orders, o)
	}
	return shift
}

func (e *Engine) audit(ctx context.Context, c storage.ScheduleChange) {
	c.At = e.now()
	if err := e.store.AppendScheduleChange(ctx, c); err != nil {
		e.log.Error("audit append failed",
			logx.String("schedule", c.ScheduleID),
			logx.String("type", c.ChangeType),
			logx.Err(err))
	}
}

// announce fans the change out to the project roster unless the shift is
// below the project's fan-out threshold.
func (e *Engine) announce(ctx context.Context, evType string, sch storage.Schedule, deltaMin int, body string) {
	p, err := e.store.ProjectByID(ctx, sch.ProjectID)
	if err != nil {
		e.log.Error("fan-out project lookup failed", logx.String("project", sch.ProjectID), logx.Err(err))
		e.publish(evType, sch, deltaMin)
		return
	}
	if below(deltaMin, p.Settings.DelayThresholdMin) {
		e.log.Debug("shift below fan-out threshold",
			logx.String("schedule", sch.ID),
			logx.Int("delta_min", deltaMin))
		e.publish(evType, sch, deltaMin)
		return
	}
	e.fanOut(ctx, p, body)
	e.publish(evType, sch, deltaMin)
}

func (e *Engine) announceAlways(ctx context.Context, evType string, sch storage.Schedule, deltaMin int, body string) {
	p, err := e.store.ProjectByID(ctx, sch.ProjectID)
	if err != nil {
		e.log.Error("fan-out project lookup failed", logx.String("project", sch.ProjectID), logx.Err(err))
	} else {
		e.fanOut(ctx, p, body)
	}
	e.publish(evType, sch, deltaMin)
}

func (e *Engine) fanOut(ctx context.Context, p storage.Project, body string) {
	if e.notif == nil {
		return
	}
	roster, _, err := e.store.Roster(ctx, p.ID)
	if err != nil {
		e.log.Error("fan-out roster lookup failed", logx.String("project", p.ID), logx.Err(err))
		return
	}

	channels := notify.ParseChannels(p.Settings.Channels)
	if len(channels) == 0 {
		channels = []notify.Channel{notify.ChannelDefault}
	}
	title := fmt.Sprintf("%s: schedule update", p.Name)

	for _, part := range roster {
		rs := e.notif.Fanout(ctx, channels, notify.Message{
			UserID: part.UserID,
			Title:  title,
			Body:   body,
			Meta:   map[string]string{"project": p.ID},
		})
		if !notify.Delivered(rs) {
			e.log.Warn("schedule update not delivered",
				logx.String("user", part.UserID),
				logx.String("project", p.ID),
				logx.Err(notify.FirstErr(rs)))
		}
	}
}

func (e *Engine) publish(evType string, sch storage.Schedule, deltaMin int) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: evType, Time: e.now(), Data: ChangeEvent{
		ScheduleID: sch.ID,
		ProjectID:  sch.ProjectID,
		Day:        sch.Day,
		DeltaMin:   deltaMin,
		At:         e.now(),
	}})
}

const minutesPerDay = 24 * 60

func shiftMin(m, delta int) int {
	s := (m + delta) % minutesPerDay
	if s < 0 {
		s += minutesPerDay
	}
	return s
}

func fmtHHMM(m int) string {
	m = shiftMin(m, 0)
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// below reports whether an absolute shift is under the fan-out threshold.
// A threshold of zero means every shift fans out.
func below(deltaMin, threshold int) bool {
	if threshold <= 0 {
		return false
	}
	abs := deltaMin
	if abs < 0 {
		abs = -abs
	}
	return abs < threshold
}
