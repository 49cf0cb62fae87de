package schedule

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"crewcall/internal/notify"
	"crewcall/internal/storage"
	logx "crewcall/pkg/logx"
)

type fanRecorder struct {
	mu    sync.Mutex
	users []string
}

func (r *fanRecorder) Send(_ context.Context, userID, _, _ string, _ map[string]string) (bool, error) {
	r.mu.Lock()
	r.users = append(r.users, userID)
	r.mu.Unlock()
	return true, nil
}

func (r *fanRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

func newScheduleStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{
		Path: filepath.Join(t.TempDir(), "crewcall.db"),
	}, storage.Defaults{}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// seedDay creates a project, a schedule with call 12:00 / wrap 20:00, a
// lunch sub-window 12:00-13:00 whose order window is 10:00-11:30, and one
// pending order expected ready at 12:15.
func seedDay(t *testing.T, st storage.Store, thresholdMin int) {
	t.Helper()
	ctx := context.Background()

	err := st.PutProject(ctx, storage.Project{
		ID:     "day-1",
		Name:   "Night Shoot",
		Active: true,
		Settings: storage.ScheduleSettings{
			Channels:          []string{"push"},
			DelayThresholdMin: thresholdMin,
		},
	})
	if err != nil {
		t.Fatalf("put project: %v", err)
	}
	err = st.PutSchedule(ctx, storage.Schedule{
		ID:        "sch-1",
		ProjectID: "day-1",
		Day:       "2026-03-14",
		CallMin:   12 * 60,
		WrapMin:   20 * 60,
		Status:    StatusScheduled,
		Version:   1,
	})
	if err != nil {
		t.Fatalf("put schedule: %v", err)
	}
	err = st.PutSubWindow(ctx, storage.SubWindow{
		ID:            "sw-1",
		ScheduleID:    "sch-1",
		Name:          "lunch",
		StartMin:      12 * 60,
		EndMin:        13 * 60,
		OrderStartMin: 10 * 60,
		OrderEndMin:   11*60 + 30,
		OrderOpen:     true,
		Status:        StatusScheduled,
	})
	if err != nil {
		t.Fatalf("put sub-window: %v", err)
	}
	err = st.PutOrder(ctx, storage.Order{
		ID:               "ord-1",
		ProjectID:        "day-1",
		UserID:           "alice",
		Day:              "2026-03-14",
		PlacedAt:         time.Date(2026, 3, 14, 10, 15, 0, 0, time.UTC),
		Status:           storage.OrderPending,
		ExpectedReadyMin: 12*60 + 15,
		ScheduleID:       "sch-1",
	})
	if err != nil {
		t.Fatalf("put order: %v", err)
	}
	err = st.PutParticipant(ctx, storage.Participant{
		ProjectID: "day-1", UserID: "alice", DisplayName: "alice", Active: true,
	})
	if err != nil {
		t.Fatalf("put participant: %v", err)
	}
}

func newScheduleEngine(st storage.Store, rec *fanRecorder) *Engine {
	var ns *notify.Service
	if rec != nil {
		ns = notify.New(notify.Config{RatePerSec: 1000}, logx.Nop())
		ns.Register(notify.ChannelPush, rec)
	}
	return NewEngine(st, ns, nil, logx.Nop())
}

func TestApplyDelayCascades(t *testing.T) {
	ctx := context.Background()
	st := newScheduleStore(t)
	seedDay(t, st, 0)
	e := newScheduleEngine(st, nil)

	got, err := e.ApplyDelay(ctx, "sch-1", 30, "coordinator", "company move overran")
	if err != nil {
		t.Fatalf("ApplyDelay: %v", err)
	}
	if got.CallMin != 12*60+30 || got.WrapMin != 20*60+30 {
		t.Fatalf("call/wrap = %d/%d, want 750/1230", got.CallMin, got.WrapMin)
	}
	if got.Status != StatusDelayed {
		t.Fatalf("status = %s, want DELAYED", got.Status)
	}
	if got.DelayMin != 30 {
		t.Fatalf("delay_min = %d, want 30", got.DelayMin)
	}
	if got.Version != 2 {
		t.Fatalf("version = %d, want 2", got.Version)
	}

	sch, subs, err := st.ScheduleByID(ctx, "sch-1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if sch.CallMin != got.CallMin || sch.Version != got.Version {
		t.Fatalf("persisted schedule %+v differs from returned %+v", sch, got)
	}
	if len(subs) != 1 {
		t.Fatalf("sub-windows = %d, want 1", len(subs))
	}
	w := subs[0]
	if w.StartMin != 12*60+30 || w.EndMin != 13*60+30 {
		t.Fatalf("sub-window = %d-%d, want 750-810", w.StartMin, w.EndMin)
	}
	if w.OrderStartMin != 10*60+30 || w.OrderEndMin != 12*60 {
		t.Fatalf("order window = %d-%d, want 630-720", w.OrderStartMin, w.OrderEndMin)
	}
	if w.Status != StatusDelayed {
		t.Fatalf("sub-window status = %s, want DELAYED", w.Status)
	}

	orders, err := st.PendingOrders(ctx, "sch-1")
	if err != nil {
		t.Fatalf("pending orders: %v", err)
	}
	if len(orders) != 1 || orders[0].ExpectedReadyMin != 12*60+45 {
		t.Fatalf("pending orders = %+v, want one at 765", orders)
	}

	changes, err := st.ScheduleChanges(ctx, "sch-1")
	if err != nil {
		t.Fatalf("changes: %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("audit rows = %d, want 1", len(changes))
	}
	c := changes[0]
	if c.ChangeType != "DELAY" || c.OldValue != "12:00" || c.NewValue != "12:30" {
		t.Fatalf("audit row = %+v", c)
	}
	if c.Actor != "coordinator" || c.Reason != "company move overran" {
		t.Fatalf("audit actor/reason = %q/%q", c.Actor, c.Reason)
	}
}

func TestApplyDelayRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newScheduleStore(t)
	seedDay(t, st, 0)
	e := newScheduleEngine(st, nil)

	if _, err := e.ApplyDelay(ctx, "sch-1", 30, "coordinator", ""); err != nil {
		t.Fatalf("delay +30: %v", err)
	}
	got, err := e.ApplyDelay(ctx, "sch-1", -30, "coordinator", "recovered")
	if err != nil {
		t.Fatalf("delay -30: %v", err)
	}

	if got.CallMin != 12*60 || got.WrapMin != 20*60 {
		t.Fatalf("call/wrap = %d/%d, want original 720/1200", got.CallMin, got.WrapMin)
	}
	if got.DelayMin != 0 {
		t.Fatalf("delay_min = %d, want 0 after round trip", got.DelayMin)
	}
	if got.Version != 3 {
		t.Fatalf("version = %d, want 3", got.Version)
	}

	_, subs, err := st.ScheduleByID(ctx, "sch-1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if subs[0].StartMin != 12*60 || subs[0].OrderEndMin != 11*60+30 {
		t.Fatalf("sub-window not restored: %+v", subs[0])
	}
}

func TestApplyDelayMarksInProgressDelayed(t *testing.T) {
	ctx := context.Background()
	st := newScheduleStore(t)
	seedDay(t, st, 0)
	e := newScheduleEngine(st, nil)

	sch, subs, err := st.ScheduleByID(ctx, "sch-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	sch.Status = StatusInProgress
	if err := st.PutSchedule(ctx, sch); err != nil {
		t.Fatalf("put schedule: %v", err)
	}
	sw := subs[0]
	sw.Status = StatusInProgress
	if err := st.PutSubWindow(ctx, sw); err != nil {
		t.Fatalf("put sub-window: %v", err)
	}

	got, err := e.ApplyDelay(ctx, "sch-1", 30, "coordinator", "scene overran")
	if err != nil {
		t.Fatalf("ApplyDelay: %v", err)
	}
	if got.Status != StatusDelayed {
		t.Fatalf("status = %s, want DELAYED", got.Status)
	}

	_, subs, err = st.ScheduleByID(ctx, "sch-1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if subs[0].Status != StatusDelayed {
		t.Fatalf("sub-window status = %s, want DELAYED", subs[0].Status)
	}
}

func TestApplyDelayZeroRejected(t *testing.T) {
	st := newScheduleStore(t)
	seedDay(t, st, 0)
	e := newScheduleEngine(st, nil)

	if _, err := e.ApplyDelay(context.Background(), "sch-1", 0, "x", ""); !errors.Is(err, ErrZeroShift) {
		t.Fatalf("err = %v, want ErrZeroShift", err)
	}
}

func TestApplyDelayTerminalRejected(t *testing.T) {
	ctx := context.Background()
	st := newScheduleStore(t)
	seedDay(t, st, 0)
	e := newScheduleEngine(st, nil)

	if _, err := e.ApplyCancellation(ctx, "sch-1", "coordinator", "weather"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := e.ApplyDelay(ctx, "sch-1", 30, "coordinator", ""); !errors.Is(err, ErrTerminal) {
		t.Fatalf("err = %v, want ErrTerminal", err)
	}
}

func TestApplyCancellation(t *testing.T) {
	ctx := context.Background()
	st := newScheduleStore(t)
	seedDay(t, st, 0)
	rec := &fanRecorder{}
	e := newScheduleEngine(st, rec)

	got, err := e.ApplyCancellation(ctx, "sch-1", "coordinator", "weather")
	if err != nil {
		t.Fatalf("ApplyCancellation: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", got.Status)
	}

	_, subs, err := st.ScheduleByID(ctx, "sch-1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if subs[0].Status != StatusCancelled || subs[0].OrderOpen {
		t.Fatalf("sub-window not closed: %+v", subs[0])
	}

	orders, err := st.PendingOrders(ctx, "sch-1")
	if err != nil {
		t.Fatalf("pending orders: %v", err)
	}
	if len(orders) != 0 {
		t.Fatalf("pending orders after cancellation = %d, want 0", len(orders))
	}

	// Cancellation always notifies the roster regardless of threshold.
	if rec.count() != 1 {
		t.Fatalf("fan-out sends = %d, want 1", rec.count())
	}
}

func TestApplyRetime(t *testing.T) {
	ctx := context.Background()
	st := newScheduleStore(t)
	seedDay(t, st, 0)
	e := newScheduleEngine(st, nil)

	got, err := e.ApplyRetime(ctx, "sch-1", 11*60+30, "coordinator", "earlier sunrise")
	if err != nil {
		t.Fatalf("ApplyRetime: %v", err)
	}
	if got.CallMin != 11*60+30 || got.WrapMin != 19*60+30 {
		t.Fatalf("call/wrap = %d/%d, want 690/1170", got.CallMin, got.WrapMin)
	}
	if got.Status != StatusDelayed {
		t.Fatalf("status = %s, want DELAYED", got.Status)
	}
	if got.DelayMin != -30 {
		t.Fatalf("delay_min = %d, want -30", got.DelayMin)
	}

	changes, err := st.ScheduleChanges(ctx, "sch-1")
	if err != nil {
		t.Fatalf("changes: %v", err)
	}
	if len(changes) != 1 || changes[0].ChangeType != "RETIME" {
		t.Fatalf("audit rows = %+v, want one RETIME", changes)
	}
}

func TestFanOutThreshold(t *testing.T) {
	ctx := context.Background()
	st := newScheduleStore(t)
	seedDay(t, st, 15)

	rec := &fanRecorder{}
	e := newScheduleEngine(st, rec)

	// 10 min is below the 15 min threshold: applied silently.
	if _, err := e.ApplyDelay(ctx, "sch-1", 10, "coordinator", ""); err != nil {
		t.Fatalf("small delay: %v", err)
	}
	if rec.count() != 0 {
		t.Fatalf("fan-out sends = %d, want 0 below threshold", rec.count())
	}

	if _, err := e.ApplyDelay(ctx, "sch-1", 30, "coordinator", ""); err != nil {
		t.Fatalf("large delay: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("fan-out sends = %d, want 1 at/above threshold", rec.count())
	}
}

func TestTransitions(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{StatusScheduled, StatusDelayed, true},
		{StatusScheduled, StatusInProgress, true},
		{StatusDelayed, StatusDelayed, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusDelayed, true},
		{StatusCompleted, StatusDelayed, false},
		{StatusCancelled, StatusScheduled, false},
		{StatusScheduled, StatusCompleted, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
	if Terminal(StatusScheduled) || !Terminal(StatusCompleted) || !Terminal(StatusCancelled) {
		t.Fatal("Terminal misclassifies states")
	}
}
