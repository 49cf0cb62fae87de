package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	logx "crewcall/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db   *sql.DB
	log  logx.Logger
	defs Defaults
}

func openSQLite(cfg Config, defs Defaults, log logx.Logger) (Store, error) {
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if defs.MaxPerDay <= 0 {
		defs.MaxPerDay = 3
	}
	if len(defs.Channels) == 0 {
		defs.Channels = []string{"push"}
	}

	st := &sqliteStore{db: db, log: log, defs: defs}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- projects & roster ----

func (s *sqliteStore) ActiveProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, active, starts_at_ms, ends_at_ms,
		        order_start_min, order_end_min, cadences, channels, template, delay_threshold_min
		 FROM projects WHERE active = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var (
			p                  Project
			active             int
			startsMS, endsMS   int64
			cadences, channels string
		)
		if err := rows.Scan(&p.ID, &p.Name, &active, &startsMS, &endsMS,
			&p.Settings.OrderWindowStart, &p.Settings.OrderWindowEnd,
			&cadences, &channels, &p.Settings.Template, &p.Settings.DelayThresholdMin); err != nil {
			return nil, err
		}
		p.Active = active != 0
		p.StartsAt = time.UnixMilli(startsMS)
		p.EndsAt = time.UnixMilli(endsMS)
		p.Settings.Cadences = splitCSV(cadences)
		p.Settings.Channels = splitCSV(channels)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ProjectByID(ctx context.Context, id string) (Project, error) {
	var (
		p                  Project
		active             int
		startsMS, endsMS   int64
		cadences, channels string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, active, starts_at_ms, ends_at_ms,
		        order_start_min, order_end_min, cadences, channels, template, delay_threshold_min
		 FROM projects WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &active, &startsMS, &endsMS,
			&p.Settings.OrderWindowStart, &p.Settings.OrderWindowEnd,
			&cadences, &channels, &p.Settings.Template, &p.Settings.DelayThresholdMin)
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, err
	}
	p.Active = active != 0
	p.StartsAt = time.UnixMilli(startsMS)
	p.EndsAt = time.UnixMilli(endsMS)
	p.Settings.Cadences = splitCSV(cadences)
	p.Settings.Channels = splitCSV(channels)
	return p, nil
}

func (s *sqliteStore) Roster(ctx context.Context, projectID string) ([]Participant, bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, user_id, display_name, active
		 FROM participants WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var (
		out        []Participant
		configured bool
	)
	for rows.Next() {
		var (
			p      Participant
			active int
		)
		if err := rows.Scan(&p.ID, &p.ProjectID, &p.UserID, &p.DisplayName, &active); err != nil {
			return nil, false, err
		}
		// Any roster row at all means the roster is configured, even if the
		// member is currently inactive.
		configured = true
		if active != 0 {
			p.Active = true
			out = append(out, p)
		}
	}
	return out, configured, rows.Err()
}

func (s *sqliteStore) AllActiveParticipants(ctx context.Context) ([]Participant, error) {
	// Distinct by user: the degraded no-roster path must not double-notify a
	// user who is on several rosters.
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, user_id, display_name FROM participants
		 WHERE active = 1
		 GROUP BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.ID, &p.ProjectID, &p.UserID, &p.DisplayName); err != nil {
			return nil, err
		}
		p.Active = true
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SubmittedUserIDs(ctx context.Context, projectID string, from, to time.Time) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM orders
		 WHERE project_id = ? AND placed_at_ms >= ? AND placed_at_ms < ? AND status != ?`,
		projectID, from.UnixMilli(), to.UnixMilli(), OrderCancelled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// ---- prefs ----

func (s *sqliteStore) Prefs(ctx context.Context, userID string) (ReminderPrefs, error) {
	// Lazy default row: created on first evaluation, mutated only by the user.
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO prefs(user_id, enabled, max_per_day, channels, dnd_start_min, dnd_end_min, disabled_cadences)
		 VALUES(?, 1, ?, ?, -1, -1, '')`,
		userID, s.defs.MaxPerDay, joinCSV(s.defs.Channels))
	if err != nil {
		return ReminderPrefs{}, err
	}

	var (
		p                  ReminderPrefs
		enabled            int
		channels, cadences string
	)
	err = s.db.QueryRowContext(ctx,
		`SELECT user_id, enabled, max_per_day, channels, dnd_start_min, dnd_end_min, disabled_cadences
		 FROM prefs WHERE user_id = ?`, userID).
		Scan(&p.UserID, &enabled, &p.MaxPerDay, &channels, &p.DNDStartMin, &p.DNDEndMin, &cadences)
	if err != nil {
		return ReminderPrefs{}, err
	}
	p.Enabled = enabled != 0
	p.Channels = splitCSV(channels)
	p.DisabledCadences = splitCSV(cadences)
	return p, nil
}

func (s *sqliteStore) PutPrefs(ctx context.Context, p ReminderPrefs) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO prefs(user_id, enabled, max_per_day, channels, dnd_start_min, dnd_end_min, disabled_cadences)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   enabled=excluded.enabled, max_per_day=excluded.max_per_day, channels=excluded.channels,
		   dnd_start_min=excluded.dnd_start_min, dnd_end_min=excluded.dnd_end_min,
		   disabled_cadences=excluded.disabled_cadences`,
		p.UserID, boolInt(p.Enabled), p.MaxPerDay, joinCSV(p.Channels), p.DNDStartMin, p.DNDEndMin, joinCSV(p.DisabledCadences))
	return err
}

// ---- reminder log ----

func (s *sqliteStore) ReserveReminder(ctx context.Context, e ReminderLogEntry, maxPerDay int) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	// Quota re-check and slot insert happen in one transaction: concurrent
	// ticks for the same user cannot overshoot the ceiling.
	var n int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reminder_log
		 WHERE user_id = ? AND day = ? AND outcome IN (?, ?)`,
		e.UserID, e.Day, ReminderSent, ReminderScheduled).Scan(&n)
	if err != nil {
		return "", err
	}
	if maxPerDay > 0 && n >= maxPerDay {
		return "", ErrQuotaExceeded
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO reminder_log(id, user_id, project_id, day, cadence, scheduled_for_ms, channels, time_remaining_min, outcome, meta, created_at_ms)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.UserID, e.ProjectID, e.Day, e.Cadence, e.ScheduledFor.UnixMilli(),
		joinCSV(e.Channels), e.TimeRemainingMin, ReminderScheduled, e.MetaJSON, e.CreatedAt.UnixMilli())
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return e.ID, nil
}

func (s *sqliteStore) FinalizeReminder(ctx context.Context, id, outcome string, channels []string, metaJSON string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminder_log SET outcome = ?, channels = ?, meta = ? WHERE id = ? AND outcome = ?`,
		outcome, joinCSV(channels), metaJSON, id, ReminderScheduled)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func (s *sqliteStore) CountRemindersToday(ctx context.Context, userID, day string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reminder_log
		 WHERE user_id = ? AND day = ? AND outcome IN (?, ?)`,
		userID, day, ReminderSent, ReminderScheduled).Scan(&n)
	return n, err
}

func (s *sqliteStore) CountFailedSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reminder_log WHERE outcome = ? AND created_at_ms >= ?`,
		ReminderFailed, since.UnixMilli()).Scan(&n)
	return n, err
}

func (s *sqliteStore) PurgeReminderLog(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM reminder_log WHERE created_at_ms < ?`, olderThan.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ---- schedules ----

const scheduleCols = `id, project_id, day, call_min, wrap_min, location, delay_min, status, version`

func (s *sqliteStore) ScheduleByID(ctx context.Context, id string) (Schedule, []SubWindow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+scheduleCols+` FROM schedules WHERE id = ?`, id)
	return s.scanScheduleWithWindows(ctx, row)
}

func (s *sqliteStore) ScheduleForDay(ctx context.Context, projectID, day string) (Schedule, []SubWindow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+scheduleCols+` FROM schedules WHERE project_id = ? AND day = ?`, projectID, day)
	return s.scanScheduleWithWindows(ctx, row)
}

func (s *sqliteStore) scanScheduleWithWindows(ctx context.Context, row *sql.Row) (Schedule, []SubWindow, error) {
	var sc Schedule
	err := row.Scan(&sc.ID, &sc.ProjectID, &sc.Day, &sc.CallMin, &sc.WrapMin,
		&sc.Location, &sc.DelayMin, &sc.Status, &sc.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return Schedule{}, nil, ErrNotFound
	}
	if err != nil {
		return Schedule{}, nil, err
	}

	ws, err := s.subWindows(ctx, sc.ID)
	if err != nil {
		return Schedule{}, nil, err
	}
	return sc, ws, nil
}

func (s *sqliteStore) subWindows(ctx context.Context, scheduleID string) ([]SubWindow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, schedule_id, name, start_min, end_min, order_start_min, order_end_min, order_open, status
		 FROM sub_windows WHERE schedule_id = ? ORDER BY start_min`, scheduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SubWindow
	for rows.Next() {
		var (
			w    SubWindow
			open int
		)
		if err := rows.Scan(&w.ID, &w.ScheduleID, &w.Name, &w.StartMin, &w.EndMin,
			&w.OrderStartMin, &w.OrderEndMin, &open, &w.Status); err != nil {
			return nil, err
		}
		w.OrderOpen = open != 0
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PendingOrders(ctx context.Context, scheduleID string) ([]Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, user_id, day, placed_at_ms, status, expected_ready_min, schedule_id
		 FROM orders WHERE schedule_id = ? AND status = ?`, scheduleID, OrderPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var (
			o        Order
			placedMS int64
		)
		if err := rows.Scan(&o.ID, &o.ProjectID, &o.UserID, &o.Day, &placedMS,
			&o.Status, &o.ExpectedReadyMin, &o.ScheduleID); err != nil {
			return nil, err
		}
		o.PlacedAt = time.UnixMilli(placedMS)
		out = append(out, o)
	}
	return out, rows.Err()
}

// ApplyScheduleShift persists one delay/cancellation/retime as a single
// transaction. Every row update is checked for exactly one affected row;
// anything else aborts the transaction with ErrConflict so no partial shift
// can persist.
func (s *sqliteStore) ApplyScheduleShift(ctx context.Context, shift ScheduleShift) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, w := range shift.SubWindows {
		res, err := tx.ExecContext(ctx,
			`UPDATE sub_windows
			 SET start_min = ?, end_min = ?, order_start_min = ?, order_end_min = ?, order_open = ?, status = ?
			 WHERE id = ? AND schedule_id = ?`,
			w.StartMin, w.EndMin, w.OrderStartMin, w.OrderEndMin, boolInt(w.OrderOpen), w.Status,
			w.ID, shift.Schedule.ID)
		if err != nil {
			return err
		}
		if err := exactlyOne(res); err != nil {
			return err
		}
	}

	for _, o := range shift.Orders {
		res, err := tx.ExecContext(ctx,
			`UPDATE orders SET expected_ready_min = ?, status = ? WHERE id = ? AND schedule_id = ?`,
			o.ExpectedReadyMin, o.Status, o.ID, shift.Schedule.ID)
		if err != nil {
			return err
		}
		if err := exactlyOne(res); err != nil {
			return err
		}
	}

	// Optimistic check: the schedule row must still be at the version we read.
	res, err := tx.ExecContext(ctx,
		`UPDATE schedules
		 SET call_min = ?, wrap_min = ?, delay_min = ?, status = ?, version = ?
		 WHERE id = ? AND version = ?`,
		shift.Schedule.CallMin, shift.Schedule.WrapMin, shift.Schedule.DelayMin,
		shift.Schedule.Status, shift.Schedule.Version,
		shift.Schedule.ID, shift.ExpectVersion)
	if err != nil {
		return err
	}
	if err := exactlyOne(res); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *sqliteStore) AppendScheduleChange(ctx context.Context, c ScheduleChange) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.At.IsZero() {
		c.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedule_changes(id, schedule_id, change_type, description, old_value, new_value, actor, reason, at_ms)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		c.ID, c.ScheduleID, c.ChangeType, c.Description, c.OldValue, c.NewValue, c.Actor, c.Reason, c.At.UnixMilli())
	return err
}

func (s *sqliteStore) ScheduleChanges(ctx context.Context, scheduleID string) ([]ScheduleChange, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, schedule_id, change_type, description, old_value, new_value, actor, reason, at_ms
		 FROM schedule_changes WHERE schedule_id = ? ORDER BY at_ms DESC, id`, scheduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScheduleChange
	for rows.Next() {
		var (
			c    ScheduleChange
			atMS int64
		)
		if err := rows.Scan(&c.ID, &c.ScheduleID, &c.ChangeType, &c.Description,
			&c.OldValue, &c.NewValue, &c.Actor, &c.Reason, &atMS); err != nil {
			return nil, err
		}
		c.At = time.UnixMilli(atMS)
		out = append(out, c)
	}
	return out, rows.Err()
}

// ---- writer surface ----

func (s *sqliteStore) PutProject(ctx context.Context, p Project) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects(id, name, active, starts_at_ms, ends_at_ms, order_start_min, order_end_min, cadences, channels, template, delay_threshold_min)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, active=excluded.active, starts_at_ms=excluded.starts_at_ms, ends_at_ms=excluded.ends_at_ms,
		   order_start_min=excluded.order_start_min, order_end_min=excluded.order_end_min,
		   cadences=excluded.cadences, channels=excluded.channels, template=excluded.template,
		   delay_threshold_min=excluded.delay_threshold_min`,
		p.ID, p.Name, boolInt(p.Active), p.StartsAt.UnixMilli(), p.EndsAt.UnixMilli(),
		p.Settings.OrderWindowStart, p.Settings.OrderWindowEnd,
		joinCSV(p.Settings.Cadences), joinCSV(p.Settings.Channels), p.Settings.Template, p.Settings.DelayThresholdMin)
	return err
}

func (s *sqliteStore) PutParticipant(ctx context.Context, p Participant) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO participants(id, project_id, user_id, display_name, active)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(project_id, user_id) DO UPDATE SET
		   display_name=excluded.display_name, active=excluded.active`,
		p.ID, p.ProjectID, p.UserID, p.DisplayName, boolInt(p.Active))
	return err
}

func (s *sqliteStore) PutOrder(ctx context.Context, o Order) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Status == "" {
		o.Status = OrderPending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO orders(id, project_id, user_id, day, placed_at_ms, status, expected_ready_min, schedule_id)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   status=excluded.status, expected_ready_min=excluded.expected_ready_min`,
		o.ID, o.ProjectID, o.UserID, o.Day, o.PlacedAt.UnixMilli(), o.Status, o.ExpectedReadyMin, o.ScheduleID)
	return err
}

func (s *sqliteStore) PutSchedule(ctx context.Context, sc Schedule) error {
	if sc.Version <= 0 {
		sc.Version = 1
	}
	if sc.Status == "" {
		sc.Status = "SCHEDULED"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules(id, project_id, day, call_min, wrap_min, location, delay_min, status, version)
		 VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   call_min=excluded.call_min, wrap_min=excluded.wrap_min, location=excluded.location,
		   delay_min=excluded.delay_min, status=excluded.status, version=excluded.version`,
		sc.ID, sc.ProjectID, sc.Day, sc.CallMin, sc.WrapMin, sc.Location, sc.DelayMin, sc.Status, sc.Version)
	return err
}

func (s *sqliteStore) PutSubWindow(ctx context.Context, w SubWindow) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.Status == "" {
		w.Status = "SCHEDULED"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sub_windows(id, schedule_id, name, start_min, end_min, order_start_min, order_end_min, order_open, status)
		 VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   start_min=excluded.start_min, end_min=excluded.end_min,
		   order_start_min=excluded.order_start_min, order_end_min=excluded.order_end_min,
		   order_open=excluded.order_open, status=excluded.status`,
		w.ID, w.ScheduleID, w.Name, w.StartMin, w.EndMin, w.OrderStartMin, w.OrderEndMin, boolInt(w.OrderOpen), w.Status)
	return err
}

// ---- helpers ----

func exactlyOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrConflict
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func joinCSV(vs []string) string {
	return strings.Join(vs, ",")
}

func splitCSV(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
