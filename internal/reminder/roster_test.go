package reminder

import (
	"context"
	"sort"
	"testing"
	"time"

	"crewcall/internal/storage"
	logx "crewcall/pkg/logx"
)

func userIDs(ps []storage.Participant) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.UserID)
	}
	sort.Strings(out)
	return out
}

func TestNonSubmitters(t *testing.T) {
	ctx := context.Background()
	st := newDispatchStore(t)
	r := NewRosterResolver(st, logx.Nop())

	for _, u := range []string{"alice", "bob", "carol"} {
		seedParticipant(t, st, "day-1", u)
	}
	windowStart := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
	windowEnd := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	err := st.PutOrder(ctx, storage.Order{
		ProjectID: "day-1", UserID: "bob", Day: "2026-03-14",
		PlacedAt: windowStart.Add(10 * time.Minute), Status: storage.OrderPending,
		ExpectedReadyMin: -1,
	})
	if err != nil {
		t.Fatalf("put order: %v", err)
	}

	got, err := r.NonSubmitters(ctx, "day-1", windowStart, windowEnd)
	if err != nil {
		t.Fatalf("non-submitters: %v", err)
	}
	ids := userIDs(got)
	if len(ids) != 2 || ids[0] != "alice" || ids[1] != "carol" {
		t.Fatalf("non-submitters = %v, want [alice carol]", ids)
	}

	// Idempotent with no intervening writes.
	again, err := r.NonSubmitters(ctx, "day-1", windowStart, windowEnd)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if len(again) != len(got) {
		t.Fatalf("second call returned %d, first %d", len(again), len(got))
	}

	// Everyone submitted: empty set.
	for _, u := range []string{"alice", "carol"} {
		err := st.PutOrder(ctx, storage.Order{
			ProjectID: "day-1", UserID: u, Day: "2026-03-14",
			PlacedAt: windowStart.Add(20 * time.Minute), Status: storage.OrderDelivered,
			ExpectedReadyMin: -1,
		})
		if err != nil {
			t.Fatalf("put order for %s: %v", u, err)
		}
	}
	none, err := r.NonSubmitters(ctx, "day-1", windowStart, windowEnd)
	if err != nil {
		t.Fatalf("third call: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("non-submitters = %v, want empty", userIDs(none))
	}
}

func TestNonSubmittersFallsBackWithoutRoster(t *testing.T) {
	ctx := context.Background()
	st := newDispatchStore(t)
	r := NewRosterResolver(st, logx.Nop())

	// Participants exist only on another project; day-2 has no roster rows.
	seedParticipant(t, st, "day-1", "alice")
	seedParticipant(t, st, "day-1", "bob")

	windowStart := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
	windowEnd := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	got, err := r.NonSubmitters(ctx, "day-2", windowStart, windowEnd)
	if err != nil {
		t.Fatalf("non-submitters: %v", err)
	}
	ids := userIDs(got)
	if len(ids) != 2 {
		t.Fatalf("fallback audience = %v, want all active participants", ids)
	}
}
