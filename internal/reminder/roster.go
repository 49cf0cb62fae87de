package reminder

import (
	"context"
	"fmt"
	"time"

	"crewcall/internal/storage"
	logx "crewcall/pkg/logx"
)

// RosterResolver computes the set of participants who still owe the
// qualifying action for the current period.
type RosterResolver struct {
	store storage.Store
	log   logx.Logger
}

func NewRosterResolver(store storage.Store, log logx.Logger) *RosterResolver {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &RosterResolver{store: store, log: log}
}

// NonSubmitters returns roster minus the users with at least one qualifying
// order in [periodStart, periodEnd). Order of the result is not significant.
//
// When the project has no roster configured at all, the resolver falls back
// to every active participant globally. That is a much broader audience than
// a roster, so the degraded path is flagged loudly; it exists so a missing
// roster import degrades to over-notification instead of silence.
func (r *RosterResolver) NonSubmitters(ctx context.Context, projectID string, periodStart, periodEnd time.Time) ([]storage.Participant, error) {
	roster, configured, err := r.store.Roster(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("roster: %w", err)
	}
	if !configured {
		roster, err = r.store.AllActiveParticipants(ctx)
		if err != nil {
			return nil, fmt.Errorf("roster fallback: %w", err)
		}
		r.log.Warn("no roster configured; falling back to ALL active participants",
			logx.String("project", projectID),
			logx.Int("audience", len(roster)))
	}
	if len(roster) == 0 {
		return nil, nil
	}

	submitted, err := r.store.SubmittedUserIDs(ctx, projectID, periodStart, periodEnd)
	if err != nil {
		return nil, fmt.Errorf("submitted users: %w", err)
	}

	// Plain set difference rather than a SQL join so the fallback path above
	// runs through the exact same code.
	out := make([]storage.Participant, 0, len(roster))
	for _, p := range roster {
		if !submitted[p.UserID] {
			out = append(out, p)
		}
	}
	return out, nil
}
