// Package backup runs the periodic reminder that warns when the agenda
// has not been backed up for too long.
package backup

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	appLog "psiagenda/internal/log"
)

// Checker reports backup staleness. *schedule.Manager implements it.
type Checker interface {
	IsBackupStale(ctx context.Context) (bool, error)
	LastBackup(ctx context.Context) (time.Time, bool, error)
}

// Status is the result of one check.
type Status struct {
	Stale      bool
	LastBackup time.Time // zero when no backup was ever recorded
	CheckedAt  time.Time
	Err        error
}

// Watcher evaluates staleness on a cron schedule and logs a warning when
// the backup is stale.
type Watcher struct {
	checker Checker
	cron    *cron.Cron
	now     func() time.Time
}

// NewWatcher schedules the check with a standard 5-field cron spec,
// evaluated in loc.
func NewWatcher(checker Checker, spec string, loc *time.Location) (*Watcher, error) {
	if loc == nil {
		loc = time.Local
	}
	w := &Watcher{
		checker: checker,
		cron:    cron.New(cron.WithLocation(loc)),
		now:     time.Now,
	}
	if _, err := w.cron.AddFunc(spec, func() { w.Check(context.Background()) }); err != nil {
		return nil, err
	}
	return w, nil
}

// Start runs one check immediately and then starts the schedule.
func (w *Watcher) Start(ctx context.Context) {
	w.Check(ctx)
	w.cron.Start()
	appLog.Info("backup watcher started")
}

// Stop halts the schedule and waits for a running check to finish.
func (w *Watcher) Stop() {
	<-w.cron.Stop().Done()
	appLog.Info("backup watcher stopped")
}

// Check evaluates staleness once and logs the result.
func (w *Watcher) Check(ctx context.Context) Status {
	st := Status{CheckedAt: w.now()}

	stale, err := w.checker.IsBackupStale(ctx)
	if err != nil {
		st.Err = err
		appLog.Error("backup staleness check failed", err)
		return st
	}
	st.Stale = stale
	if last, ok, err := w.checker.LastBackup(ctx); err == nil && ok {
		st.LastBackup = last
	}

	if stale {
		if st.LastBackup.IsZero() {
			appLog.Warn("no backup has been made yet; export the agenda")
		} else {
			appLog.Warn("backup is stale; export the agenda",
				"last_backup", st.LastBackup.Format(time.RFC3339),
				"age", st.CheckedAt.Sub(st.LastBackup).Round(time.Hour).String(),
			)
		}
	} else {
		appLog.Debug("backup is recent", "last_backup", st.LastBackup.Format(time.RFC3339))
	}

	return st
}
