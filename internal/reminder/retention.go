package reminder

import (
	"context"
	"time"

	"crewcall/internal/storage"
	logx "crewcall/pkg/logx"
)

// Retention purges reminder log rows older than the configured horizon.
// Registered as a daily job on the trigger registry.
type Retention struct {
	store storage.Store
	days  int
	log   logx.Logger

	now func() time.Time
}

func NewRetention(store storage.Store, days int, log logx.Logger) *Retention {
	if days <= 0 {
		days = 30
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Retention{store: store, days: days, log: log, now: time.Now}
}

func (r *Retention) Run(ctx context.Context) error {
	cutoff := r.now().AddDate(0, 0, -r.days)
	n, err := r.store.PurgeReminderLog(ctx, cutoff)
	if err != nil {
		r.log.Error("reminder log purge failed", logx.Err(err))
		return err
	}
	if n > 0 {
		r.log.Info("reminder log purged",
			logx.Int("rows", int(n)),
			logx.String("older_than", cutoff.Format("2006-01-02")))
	}
	return nil
}
