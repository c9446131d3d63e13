package schedule

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"psiagenda/internal/model"
	"psiagenda/internal/store"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func newTestManager(t *testing.T) (*Manager, *store.Memory, *testClock) {
	t.Helper()
	mem := store.NewMemory()
	clock := &testClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager(mem, Options{
		IDs: &SequenceGenerator{Prefix: "id"},
		Now: clock.Now,
	})
	return m, mem, clock
}

func weeklyDraft() model.Appointment {
	return model.Appointment{
		PatientName: "Lucía Fernández",
		Phone:       "+54 11 5555-0101",
		Email:       "lucia@example.com",
		StartDate:   "2024-01-01",
		StartTime:   "10:00",
		Notes:       "primera sesión",
		IsRecurring: true,
		Frequency:   model.Weekly,
	}
}

func singleDraft() model.Appointment {
	return model.Appointment{
		PatientName: "Juan Pérez",
		Phone:       "+54 11 5555-0202",
		StartDate:   "2024-01-03",
		StartTime:   "16:30",
	}
}

func bySeries(all []model.Appointment, seriesID string) []model.Appointment {
	var out []model.Appointment
	for _, a := range all {
		if a.SeriesID == seriesID {
			out = append(out, a)
		}
	}
	return out
}

func TestCreateSingle(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	all, err := m.Create(ctx, singleDraft())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 record, got %d", len(all))
	}
	got := all[0]
	if got.ID == "" || got.SeriesID == "" || got.ID == got.SeriesID {
		t.Fatalf("expected distinct fresh id and series id, got %q / %q", got.ID, got.SeriesID)
	}

	again, err := m.Create(ctx, singleDraft())
	if err != nil {
		t.Fatal(err)
	}
	if again[1].SeriesID == got.SeriesID {
		t.Fatalf("two single appointments must not share a series id")
	}

	stored, err := m.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(stored, again) {
		t.Fatalf("returned set differs from stored set")
	}
}

func TestCreateIgnoresDraftIdentity(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	d := singleDraft()
	d.ID = "forged"
	d.SeriesID = "forged-series"
	all, err := m.Create(ctx, d)
	if err != nil {
		t.Fatal(err)
	}
	if all[0].ID == "forged" || all[0].SeriesID == "forged-series" {
		t.Fatalf("draft identity leaked into record: %+v", all[0])
	}
}

func TestCreateWeeklySeries(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	all, err := m.Create(ctx, weeklyDraft())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(all) != 27 {
		t.Fatalf("expected 27 weekly occurrences, got %d", len(all))
	}

	seriesID := all[0].SeriesID
	ids := map[string]bool{}
	for i, a := range all {
		if a.SeriesID != seriesID {
			t.Fatalf("occurrence %d has series %q, want %q", i, a.SeriesID, seriesID)
		}
		if ids[a.ID] {
			t.Fatalf("duplicate id %q", a.ID)
		}
		ids[a.ID] = true
		if a.StartDate > "2024-07-01" {
			t.Fatalf("occurrence beyond window: %s", a.StartDate)
		}

		// Everything but id and date is copied from the draft.
		want := weeklyDraft()
		want.ID, want.SeriesID, want.StartDate = a.ID, a.SeriesID, a.StartDate
		if !reflect.DeepEqual(a, want) {
			t.Fatalf("occurrence %d differs from draft: %+v", i, a)
		}
	}
	if all[0].StartDate != "2024-01-01" || all[1].StartDate != "2024-01-08" || all[2].StartDate != "2024-01-15" {
		t.Fatalf("unexpected first dates: %s %s %s", all[0].StartDate, all[1].StartDate, all[2].StartDate)
	}
	if ids[seriesID] {
		t.Fatalf("series id collides with a record id")
	}
}

func TestCreateBiweeklySeries(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	d := weeklyDraft()
	d.Frequency = model.Biweekly
	all, err := m.Create(ctx, d)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 14 {
		t.Fatalf("expected 14 biweekly occurrences, got %d", len(all))
	}
	if all[1].StartDate != "2024-01-15" {
		t.Fatalf("second occurrence = %s, want 2024-01-15", all[1].StartDate)
	}
}

func TestCreateRejectsMalformedSchedule(t *testing.T) {
	ctx := context.Background()
	m, mem, _ := newTestManager(t)

	d := weeklyDraft()
	d.StartDate = "2024-1-1"
	if _, err := m.Create(ctx, d); !errors.Is(err, model.ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate, got %v", err)
	}
	if _, ok, _ := mem.Get(ctx, m.keys.Appointments); ok {
		t.Fatalf("nothing should be stored after a rejected create")
	}
}

func TestUpdateSingle(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	all, _ := m.Create(ctx, weeklyDraft())
	target := all[3]
	target.StartDate = "2024-01-23"
	target.StartTime = "18:00"
	target.Notes = "reprogramado"

	updated, err := m.UpdateSingle(ctx, target)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !reflect.DeepEqual(updated[3], target) {
		t.Fatalf("record not replaced: %+v", updated[3])
	}
	if updated[3].SeriesID != all[3].SeriesID {
		t.Fatalf("edited occurrence must keep its series id")
	}
	for i := range updated {
		if i != 3 && !reflect.DeepEqual(updated[i], all[i]) {
			t.Fatalf("record %d changed unexpectedly", i)
		}
	}
}

func TestUpdateSingleKeepsSeriesWhenOmitted(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	all, err := m.Create(ctx, singleDraft())
	if err != nil {
		t.Fatal(err)
	}
	edit := all[0]
	edit.SeriesID = ""
	edit.Notes = "cambio de horario"

	updated, err := m.UpdateSingle(ctx, edit)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated[0].SeriesID != all[0].SeriesID {
		t.Fatalf("series id = %q, want %q", updated[0].SeriesID, all[0].SeriesID)
	}

	// The set must still survive its own backup.
	data, err := m.Export(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	restored, err := m.Import(ctx, data)
	if err != nil {
		t.Fatalf("import of own export: %v", err)
	}
	if !reflect.DeepEqual(restored, updated) {
		t.Fatalf("restored set differs:\n got %+v\nwant %+v", restored, updated)
	}
}

func TestUpdateSingleUnknownIDIsNoop(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	before, _ := m.Create(ctx, singleDraft())
	ghost := singleDraft()
	ghost.ID = "missing"

	after, err := m.UpdateSingle(ctx, ghost)
	if err != nil {
		t.Fatalf("unknown id should not be an error: %v", err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("set changed on unknown id")
	}
}

func TestUpdateSeriesFromCutoff(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	all, _ := m.Create(ctx, weeklyDraft())
	seriesID := all[0].SeriesID
	notes := "cambio de consultorio"

	updated, err := m.UpdateSeriesFrom(ctx, seriesID, "2024-01-08", "10:00", model.Patch{Notes: &notes})
	if err != nil {
		t.Fatalf("update series: %v", err)
	}
	if updated[0].Notes != "primera sesión" {
		t.Fatalf("occurrence before cutoff changed: %q", updated[0].Notes)
	}
	for _, a := range updated[1:] {
		if a.Notes != notes {
			t.Fatalf("occurrence %s at/after cutoff not updated", a.StartDate)
		}
	}
}

func TestUpdateSeriesFromComparesTimeOnCutoffDay(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	all, _ := m.Create(ctx, weeklyDraft())
	notes := "x"

	// 2024-01-08T10:00 < 2024-01-08T10:30, so the 01-08 occurrence is before the cutoff.
	updated, err := m.UpdateSeriesFrom(ctx, all[0].SeriesID, "2024-01-08", "10:30", model.Patch{Notes: &notes})
	if err != nil {
		t.Fatal(err)
	}
	if updated[1].Notes == notes {
		t.Fatalf("occurrence earlier on the cutoff day should be untouched")
	}
	if updated[2].Notes != notes {
		t.Fatalf("next occurrence should be updated")
	}
}

func TestUpdateSeriesFromSanitizesPatch(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	before, _ := m.Create(ctx, weeklyDraft())
	forgedID := "forged"
	forgedSeries := "other"
	forgedDate := "2030-01-01"
	newTime := "11:15"

	after, err := m.UpdateSeriesFrom(ctx, before[0].SeriesID, "2024-01-01", "00:00", model.Patch{
		ID:        &forgedID,
		SeriesID:  &forgedSeries,
		StartDate: &forgedDate,
		StartTime: &newTime,
	})
	if err != nil {
		t.Fatal(err)
	}
	for i := range after {
		if after[i].ID != before[i].ID || after[i].SeriesID != before[i].SeriesID || after[i].StartDate != before[i].StartDate {
			t.Fatalf("identity or date changed on record %d: %+v", i, after[i])
		}
		if after[i].StartTime != newTime {
			t.Fatalf("content field not applied on record %d", i)
		}
	}
}

func TestUpdateSeriesFromSkipsOtherAndNonRecurring(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	first, _ := m.Create(ctx, weeklyDraft())
	seriesID := first[0].SeriesID
	all, _ := m.Create(ctx, singleDraft())
	single := all[len(all)-1]

	// Detach one occurrence's recurrence flag.
	flagged := all[5]
	flagged.IsRecurring = false
	if _, err := m.UpdateSingle(ctx, flagged); err != nil {
		t.Fatal(err)
	}

	notes := "nuevo"
	updated, err := m.UpdateSeriesFrom(ctx, seriesID, "2024-01-01", "00:00", model.Patch{Notes: &notes})
	if err != nil {
		t.Fatal(err)
	}
	if updated[5].Notes == notes {
		t.Fatalf("non-recurring record of the series should be untouched")
	}
	if !reflect.DeepEqual(updated[len(updated)-1], single) {
		t.Fatalf("record of another series changed")
	}
}

func TestUpdateSeriesFromRejectsBadTime(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)
	all, _ := m.Create(ctx, weeklyDraft())

	bad := "9:00"
	_, err := m.UpdateSeriesFrom(ctx, all[0].SeriesID, "2024-01-01", "00:00", model.Patch{StartTime: &bad})
	if !errors.Is(err, model.ErrInvalidTime) {
		t.Fatalf("expected ErrInvalidTime, got %v", err)
	}
}

func TestDeleteSingleIsolation(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	all, _ := m.Create(ctx, weeklyDraft())
	seriesID := all[0].SeriesID
	victim := all[4].ID

	after, err := m.DeleteSingle(ctx, victim)
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != len(all)-1 {
		t.Fatalf("expected %d records, got %d", len(all)-1, len(after))
	}
	for _, a := range after {
		if a.ID == victim {
			t.Fatalf("deleted record still present")
		}
		if a.SeriesID != seriesID {
			t.Fatalf("series id changed on remaining record")
		}
	}
}

func TestDeleteSingleIdempotent(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	all, _ := m.Create(ctx, weeklyDraft())
	_, _ = m.DeleteSingle(ctx, all[0].ID)

	first, err := m.DeleteSingle(ctx, "absent")
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.DeleteSingle(ctx, "absent")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("repeated delete changed the set")
	}
	if len(first) != len(all)-1 {
		t.Fatalf("absent delete removed records")
	}
}

func TestDeleteSeriesCompleteness(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	a, _ := m.Create(ctx, weeklyDraft())
	seriesA := a[0].SeriesID
	d := weeklyDraft()
	d.PatientName = "Otro"
	d.Frequency = model.Biweekly
	_, _ = m.Create(ctx, d)
	all, _ := m.Create(ctx, singleDraft())
	others := len(all) - len(bySeries(all, seriesA))

	after, err := m.DeleteSeries(ctx, seriesA)
	if err != nil {
		t.Fatal(err)
	}
	if len(bySeries(after, seriesA)) != 0 {
		t.Fatalf("series records remain")
	}
	if len(after) != others {
		t.Fatalf("expected %d other records, got %d", others, len(after))
	}
}

func TestInitializedMarker(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	ok, err := m.IsInitialized(ctx)
	if err != nil || ok {
		t.Fatalf("fresh store: ok=%v err=%v", ok, err)
	}
	if err := m.MarkInitialized(ctx); err != nil {
		t.Fatal(err)
	}
	ok, err = m.IsInitialized(ctx)
	if err != nil || !ok {
		t.Fatalf("after mark: ok=%v err=%v", ok, err)
	}
}

func TestListEmptyStoreIsEmptySlice(t *testing.T) {
	m, _, _ := newTestManager(t)
	all, err := m.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if all == nil || len(all) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", all)
	}
}

type failingStore struct {
	store.Store
	failSet bool
}

func (f *failingStore) Set(ctx context.Context, key string, value []byte) error {
	if f.failSet {
		return errors.New("disk full")
	}
	return f.Store.Set(ctx, key, value)
}

func TestStoreErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	fs := &failingStore{Store: store.NewMemory(), failSet: true}
	m := NewManager(fs, Options{IDs: &SequenceGenerator{Prefix: "id"}})

	if _, err := m.Create(ctx, singleDraft()); err == nil {
		t.Fatalf("expected save error")
	}
}
