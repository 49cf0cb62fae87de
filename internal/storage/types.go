package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when an optimistic update matched zero rows,
	// i.e. the record changed under us. Callers may retry or surface it.
	ErrConflict = errors.New("conflicting concurrent update")

	// ErrQuotaExceeded is returned by ReserveReminder when the user already
	// holds maxPerDay reserved or sent slots for the day.
	ErrQuotaExceeded = errors.New("reminder quota exceeded")
)

// Config configures the sqlite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Defaults are applied when a record is first created lazily (prefs) or
// carries no explicit value. They are set once at open time, not scattered
// through business logic.
type Defaults struct {
	MaxPerDay int
	Channels  []string
}

// Project is a production day series: a roster, an order window and the
// notification settings that apply to its reminders. Read-only to the engine.
type Project struct {
	ID       string
	Name     string
	Active   bool
	StartsAt time.Time
	EndsAt   time.Time
	Settings ScheduleSettings
}

// ScheduleSettings is the per-project reminder configuration.
//
// Window bounds are minutes of day (0..1439) in the deployment timezone.
// Cadences lists the trigger cadence names that may remind for this project
// (empty = all). Channels lists the project-enabled channels.
type ScheduleSettings struct {
	OrderWindowStart  int
	OrderWindowEnd    int
	Cadences          []string
	Channels          []string
	Template          string // custom message template, "" = built-in tiers
	DelayThresholdMin int    // delays below this are applied without fan-out
}

// Participant is a roster membership row. Read-only to the engine.
type Participant struct {
	ID          string
	ProjectID   string
	UserID      string
	DisplayName string
	Active      bool
}

// Order is the qualifying action: one per (user, project, day) marks the
// user as satisfied for the period. A pending order also carries the
// expected-ready deadline that delay propagation shifts.
type Order struct {
	ID               string
	ProjectID        string
	UserID           string
	Day              string // YYYY-MM-DD, deployment timezone
	PlacedAt         time.Time
	Status           string // PENDING / DELIVERED / CANCELLED
	ExpectedReadyMin int    // minute of day, -1 when not set
	ScheduleID       string // "" when not tied to a schedule
}

const (
	OrderPending   = "PENDING"
	OrderDelivered = "DELIVERED"
	OrderCancelled = "CANCELLED"
)

// ReminderPrefs are per-user reminder preferences. Created lazily with
// defaults on first read; mutated only by explicit user action.
//
// DND bounds are minutes of day; -1 means unset (no suppression).
type ReminderPrefs struct {
	UserID           string
	Enabled          bool
	MaxPerDay        int
	Channels         []string // ordered by user priority
	DNDStartMin      int
	DNDEndMin        int
	DisabledCadences []string
}

// Reminder outcomes. SCHEDULED is a reserved slot that counts against the
// quota until it is finalized to SENT or FAILED.
const (
	ReminderScheduled = "SCHEDULED"
	ReminderSent      = "SENT"
	ReminderFailed    = "FAILED"
)

// ReminderLogEntry records one dispatch attempt. Append-only.
type ReminderLogEntry struct {
	ID               string
	UserID           string
	ProjectID        string
	Day              string
	Cadence          string
	ScheduledFor     time.Time
	Channels         []string
	TimeRemainingMin int // negative when already past the deadline
	Outcome          string
	MetaJSON         string
	CreatedAt        time.Time
}

// Schedule is the root time plan for a project day. Mutated only by delay
// propagation, always under an optimistic version check.
type Schedule struct {
	ID        string
	ProjectID string
	Day       string
	CallMin   int
	WrapMin   int
	Location  string
	DelayMin  int // accumulated delay
	Status    string
	Version   int64
}

// SubWindow is a break inside a Schedule, optionally carrying a nested
// order window. Shifted in lock-step with its parent.
type SubWindow struct {
	ID            string
	ScheduleID    string
	Name          string
	StartMin      int
	EndMin        int
	OrderStartMin int // -1 when absent
	OrderEndMin   int // -1 when absent
	OrderOpen     bool
	Status        string
}

// ScheduleChange is an append-only audit row describing one mutation.
type ScheduleChange struct {
	ID          string
	ScheduleID  string
	ChangeType  string // DELAY / CANCELLATION / RETIME
	Description string
	OldValue    string
	NewValue    string
	Actor       string
	Reason      string
	At          time.Time
}

// ScheduleShift is one all-or-nothing propagation write: the updated schedule
// row plus the full new values of every dependent sub-window and pending
// order. The store applies it in a single transaction; ExpectVersion guards
// against concurrent mutation (zero rows affected -> ErrConflict, nothing
// persists).
type ScheduleShift struct {
	Schedule      Schedule
	ExpectVersion int64
	SubWindows    []SubWindow
	Orders        []Order
}
