package storage

import (
	"context"
	"strings"
	"time"

	logx "crewcall/pkg/logx"
)

// Store is the persistence API used by the reminder and propagation engines.
//
// Reads of projects/roster/orders serve the dispatch side; the Put* methods
// are the writer surface used by external collaborators (roster import,
// ordering subsystem) and by tests.
type Store interface {
	// Projects & roster.
	ActiveProjects(ctx context.Context) ([]Project, error)
	ProjectByID(ctx context.Context, id string) (Project, error)
	// Roster returns the project roster. configured=false means no roster
	// rows exist for the project at all (callers fall back to the global
	// participant set and must warn loudly).
	Roster(ctx context.Context, projectID string) (roster []Participant, configured bool, err error)
	AllActiveParticipants(ctx context.Context) ([]Participant, error)
	// SubmittedUserIDs returns users with at least one qualifying order
	// placed within [from, to).
	SubmittedUserIDs(ctx context.Context, projectID string, from, to time.Time) (map[string]bool, error)

	// Prefs returns the user's reminder preferences, creating a default row
	// on first access.
	Prefs(ctx context.Context, userID string) (ReminderPrefs, error)

	// ReserveReminder atomically re-checks the day's quota and inserts a
	// SCHEDULED log row. Returns ErrQuotaExceeded without inserting when the
	// user already holds maxPerDay SENT/SCHEDULED slots for the day.
	ReserveReminder(ctx context.Context, e ReminderLogEntry, maxPerDay int) (id string, err error)
	FinalizeReminder(ctx context.Context, id, outcome string, channels []string, metaJSON string) error
	CountRemindersToday(ctx context.Context, userID, day string) (int, error)
	CountFailedSince(ctx context.Context, since time.Time) (int, error)
	PurgeReminderLog(ctx context.Context, olderThan time.Time) (int64, error)

	// Schedules.
	ScheduleByID(ctx context.Context, id string) (Schedule, []SubWindow, error)
	ScheduleForDay(ctx context.Context, projectID, day string) (Schedule, []SubWindow, error)
	PendingOrders(ctx context.Context, scheduleID string) ([]Order, error)
	ApplyScheduleShift(ctx context.Context, shift ScheduleShift) error
	AppendScheduleChange(ctx context.Context, c ScheduleChange) error
	// ScheduleChanges returns the audit trail, newest first.
	ScheduleChanges(ctx context.Context, scheduleID string) ([]ScheduleChange, error)

	// Writer surface for collaborators and tests.
	PutProject(ctx context.Context, p Project) error
	PutParticipant(ctx context.Context, p Participant) error
	PutOrder(ctx context.Context, o Order) error
	PutPrefs(ctx context.Context, p ReminderPrefs) error
	PutSchedule(ctx context.Context, s Schedule) error
	PutSubWindow(ctx context.Context, w SubWindow) error

	Close() error
}

// Open initializes the sqlite store.
func Open(cfg Config, defs Defaults, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, ErrDisabled
	}
	return openSQLite(cfg, defs, log)
}
