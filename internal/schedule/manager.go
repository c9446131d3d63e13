// Package schedule owns the rules for creating, editing and deleting
// appointment series. Every mutating call loads the complete record set,
// transforms it in memory and writes the complete set back.
package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	appLog "psiagenda/internal/log"
	"psiagenda/internal/model"
	"psiagenda/internal/store"
)

const defaultStaleAfter = 7 * 24 * time.Hour

// Options configures a Manager. Zero values get defaults.
type Options struct {
	Keys store.Keys
	IDs  IDGenerator
	Now  func() time.Time

	// WindowMonths is how far ahead a recurring request is expanded (6).
	WindowMonths int
	// StaleAfter is the backup age after which IsBackupStale is true (7 days).
	StaleAfter time.Duration
}

// Manager is the series manager. It serializes its own read-modify-write
// cycles; it does not coordinate with other processes sharing the store.
type Manager struct {
	mu sync.Mutex

	store        store.Store
	keys         store.Keys
	ids          IDGenerator
	now          func() time.Time
	windowMonths int
	staleAfter   time.Duration
}

func NewManager(s store.Store, opts Options) *Manager {
	if opts.Keys == (store.Keys{}) {
		opts.Keys = store.KeysWithPrefix("")
	}
	if opts.IDs == nil {
		opts.IDs = UUIDGenerator{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.WindowMonths <= 0 {
		opts.WindowMonths = defaultWindowMonths
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = defaultStaleAfter
	}
	return &Manager{
		store:        s,
		keys:         opts.Keys,
		ids:          opts.IDs,
		now:          opts.Now,
		windowMonths: opts.WindowMonths,
		staleAfter:   opts.StaleAfter,
	}
}

// List returns the full record set in stored order.
func (m *Manager) List(ctx context.Context) ([]model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(ctx)
}

// Create stores a new appointment. A non-recurring draft becomes a single
// record with fresh id and series id; a recurring draft is expanded over
// the configured window into records sharing one series id. Any id or
// series id on the draft is ignored.
func (m *Manager) Create(ctx context.Context, draft model.Appointment) ([]model.Appointment, error) {
	if err := model.ValidateSchedule(draft.StartDate, draft.StartTime, draft.Frequency); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	all, err := m.load(ctx)
	if err != nil {
		return nil, err
	}

	if !draft.IsRecurring {
		draft.ID = m.ids.NewID()
		draft.SeriesID = m.ids.NewID()
		all = append(all, draft)
		appLog.Info("appointment created", "id", draft.ID, "date", draft.StartDate)
		return m.commit(ctx, all)
	}

	seriesID := m.ids.NewID()
	occ, err := expandSeries(draft, seriesID, m.windowMonths, m.ids)
	if err != nil {
		return nil, err
	}
	all = append(all, occ...)
	appLog.Info("recurring series created",
		"series_id", seriesID,
		"frequency", draft.Frequency,
		"occurrences", len(occ),
		"start", draft.StartDate,
	)
	return m.commit(ctx, all)
}

// UpdateSingle replaces the record with rec.ID by rec. The record is not
// detached from its series: an empty rec.SeriesID keeps the stored one. An
// unknown id leaves the set unchanged.
func (m *Manager) UpdateSingle(ctx context.Context, rec model.Appointment) ([]model.Appointment, error) {
	if err := model.ValidateSchedule(rec.StartDate, rec.StartTime, rec.Frequency); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	all, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	found := false
	for i := range all {
		if all[i].ID == rec.ID {
			if rec.SeriesID == "" {
				rec.SeriesID = all[i].SeriesID
			}
			all[i] = rec
			found = true
			break
		}
	}
	if !found {
		appLog.Debug("update of unknown appointment ignored", "id", rec.ID)
	}
	return m.commit(ctx, all)
}

// UpdateSeriesFrom applies patch to every recurring record of seriesID
// whose "<startDate>T<startTime>" is at or after the cutoff
// "<cutoffDate>T<cutoffTime>". The patch never changes id, series id or
// start date.
func (m *Manager) UpdateSeriesFrom(ctx context.Context, seriesID, cutoffDate, cutoffTime string, patch model.Patch) ([]model.Appointment, error) {
	safe := patch.Sanitized()
	if safe.StartTime != nil && !model.IsTime(*safe.StartTime) {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidTime, *safe.StartTime)
	}
	if safe.Frequency != nil && !safe.Frequency.Valid() {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidFrequency, *safe.Frequency)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	all, err := m.load(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := model.CutoffKey(cutoffDate, cutoffTime)
	changed := 0
	for i, a := range all {
		if !a.IsRecurring || a.SeriesID != seriesID {
			continue
		}
		if a.SortKey() < cutoff {
			continue
		}
		all[i] = safe.Apply(a)
		changed++
	}

	appLog.Info("series updated", "series_id", seriesID, "cutoff", cutoff, "changed", changed)
	return m.commit(ctx, all)
}

// DeleteSingle removes the record with id. Other records of its series
// stay. Deleting an absent id is a no-op.
func (m *Manager) DeleteSingle(ctx context.Context, id string) ([]model.Appointment, error) {
	return m.remove(ctx, func(a model.Appointment) bool { return a.ID == id })
}

// DeleteSeries removes every record with seriesID.
func (m *Manager) DeleteSeries(ctx context.Context, seriesID string) ([]model.Appointment, error) {
	return m.remove(ctx, func(a model.Appointment) bool { return a.SeriesID == seriesID })
}

func (m *Manager) remove(ctx context.Context, match func(model.Appointment) bool) ([]model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	kept := make([]model.Appointment, 0, len(all))
	for _, a := range all {
		if !match(a) {
			kept = append(kept, a)
		}
	}
	if removed := len(all) - len(kept); removed > 0 {
		appLog.Info("appointments deleted", "count", removed)
	}
	return m.commit(ctx, kept)
}

// IsInitialized reports whether the first-run marker has been set.
func (m *Manager) IsInitialized(ctx context.Context) (bool, error) {
	v, ok, err := m.store.Get(ctx, m.keys.Initialized)
	if err != nil {
		return false, err
	}
	return ok && string(v) == "true", nil
}

// MarkInitialized sets the first-run marker.
func (m *Manager) MarkInitialized(ctx context.Context) error {
	return m.store.Set(ctx, m.keys.Initialized, []byte("true"))
}

// load reads the record set. A missing key is an empty set. Callers hold mu.
func (m *Manager) load(ctx context.Context) ([]model.Appointment, error) {
	raw, ok, err := m.store.Get(ctx, m.keys.Appointments)
	if err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}
	all := []model.Appointment{}
	if !ok || len(raw) == 0 {
		return all, nil
	}
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, fmt.Errorf("decode stored appointments: %w", err)
	}
	if all == nil {
		all = []model.Appointment{}
	}
	return all, nil
}

// commit saves all and hands it back, or returns the save error.
func (m *Manager) commit(ctx context.Context, all []model.Appointment) ([]model.Appointment, error) {
	if err := m.save(ctx, all); err != nil {
		return nil, err
	}
	return all, nil
}

// save replaces the stored record set. Callers hold mu.
func (m *Manager) save(ctx context.Context, all []model.Appointment) error {
	if all == nil {
		all = []model.Appointment{}
	}
	data, err := json.Marshal(all)
	if err != nil {
		return err
	}
	if err := m.store.Set(ctx, m.keys.Appointments, data); err != nil {
		return fmt.Errorf("save appointments: %w", err)
	}
	return nil
}
