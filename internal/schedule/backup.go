package schedule

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	appLog "psiagenda/internal/log"
	"psiagenda/internal/model"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Export serializes the full record set as an indented JSON array and
// records the current time as the last backup.
func (m *Manager) Export(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := m.markBackup(ctx); err != nil {
		return nil, err
	}
	appLog.Info("backup exported", "records", len(all), "bytes", len(data))
	return data, nil
}

// Import replaces the full record set with the contents of an exported
// backup and records the current time as the last backup. A payload that
// isn't a valid record set yields a *FormatError and changes nothing.
func (m *Manager) Import(ctx context.Context, data []byte) ([]model.Appointment, error) {
	records, err := ParseSnapshot(data)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.save(ctx, records); err != nil {
		return nil, err
	}
	if err := m.markBackup(ctx); err != nil {
		return nil, err
	}
	appLog.Info("backup imported", "records", len(records))
	return records, nil
}

// ParseSnapshot decodes and validates an exported record set. Every record
// needs a unique id, a series id and a YYYY-MM-DD start date; start time and
// frequency must be well formed when present.
func ParseSnapshot(data []byte) ([]model.Appointment, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, formatErrorf("empty payload")
	}
	if trimmed[0] != '[' {
		return nil, formatErrorf("expected a JSON array of appointments")
	}

	var records []model.Appointment
	if err := json.Unmarshal(trimmed, &records); err != nil {
		return nil, &FormatError{Err: err}
	}

	seen := make(map[string]struct{}, len(records))
	for i, r := range records {
		if r.ID == "" {
			return nil, formatErrorf("record %d: %w", i, model.ErrMissingID)
		}
		if _, dup := seen[r.ID]; dup {
			return nil, formatErrorf("record %d: duplicate id %q", i, r.ID)
		}
		seen[r.ID] = struct{}{}
		if r.SeriesID == "" {
			return nil, formatErrorf("record %d: missing seriesId", i)
		}
		if err := model.ValidateSchedule(r.StartDate, r.StartTime, r.Frequency); err != nil {
			return nil, formatErrorf("record %d: %w", i, err)
		}
	}
	if records == nil {
		records = []model.Appointment{}
	}
	return records, nil
}

// MarkBackupDone records the current time as the last backup without
// exporting anything.
func (m *Manager) MarkBackupDone(ctx context.Context) error {
	return m.markBackup(ctx)
}

// LastBackup returns the recorded last-backup time. ok is false when no
// backup has been recorded or the stored value is unreadable.
func (m *Manager) LastBackup(ctx context.Context) (time.Time, bool, error) {
	raw, ok, err := m.store.Get(ctx, m.keys.LastBackup)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("load last backup: %w", err)
	}
	if !ok {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		appLog.Warn("unreadable last backup timestamp", "value", string(raw))
		return time.Time{}, false, nil
	}
	return t, true, nil
}

// IsBackupStale is true when no backup was ever recorded or the last one
// is older than the stale threshold (7 days by default).
func (m *Manager) IsBackupStale(ctx context.Context) (bool, error) {
	last, ok, err := m.LastBackup(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return m.now().Sub(last) > m.staleAfter, nil
}

// SetLastBackup overwrites the recorded backup time. It exists for restores
// of the marker itself and for tests.
func (m *Manager) SetLastBackup(ctx context.Context, t time.Time) error {
	if t.IsZero() {
		return errors.New("last backup time is zero")
	}
	return m.store.Set(ctx, m.keys.LastBackup, []byte(t.UTC().Format(time.RFC3339Nano)))
}

func (m *Manager) markBackup(ctx context.Context) error {
	if err := m.SetLastBackup(ctx, m.now()); err != nil {
		return fmt.Errorf("record backup time: %w", err)
	}
	return nil
}
