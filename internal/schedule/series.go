package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	appLog "psiagenda/internal/log"
	"psiagenda/internal/model"
)

const (
	defaultWindowMonths = 6

	// maxOccurrencesPerSeries caps expansion when a large window is
	// configured.
	maxOccurrencesPerSeries = 1000
)

// SeriesDates returns the start dates of a recurring series beginning on
// startDate: one every freq.StepDays() days, up to and including
// startDate + windowMonths calendar months. Month arithmetic follows
// time.AddDate, so Aug 31 + 6 months normalizes to Mar 3 (or Mar 2 in a
// leap year).
func SeriesDates(startDate string, freq model.Frequency, windowMonths int) ([]string, error) {
	if windowMonths <= 0 {
		windowMonths = defaultWindowMonths
	}
	start, err := time.Parse(model.DateLayout, startDate)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidDate, startDate)
	}
	end := start.AddDate(0, windowMonths, 0)

	r, err := rrule.NewRRule(rrule.ROption{
		Freq:     rrule.WEEKLY,
		Interval: freq.StepDays() / 7,
		Dtstart:  start,
	})
	if err != nil {
		return nil, fmt.Errorf("series rule: %w", err)
	}

	occ := r.Between(start, end, true)
	if len(occ) > maxOccurrencesPerSeries {
		appLog.Error("series expansion truncated",
			errors.New("max occurrences reached"),
			"start", startDate,
			"window_months", windowMonths,
			"cap", maxOccurrencesPerSeries,
		)
		occ = occ[:maxOccurrencesPerSeries]
	}

	dates := make([]string, 0, len(occ))
	for _, t := range occ {
		dates = append(dates, t.Format(model.DateLayout))
	}
	return dates, nil
}

// expandSeries builds one record per series date. Every record copies the
// draft and gets its own id; all of them share seriesID.
func expandSeries(draft model.Appointment, seriesID string, windowMonths int, ids IDGenerator) ([]model.Appointment, error) {
	dates, err := SeriesDates(draft.StartDate, draft.Frequency, windowMonths)
	if err != nil {
		return nil, err
	}

	out := make([]model.Appointment, 0, len(dates))
	for _, d := range dates {
		occ := draft.Clone()
		occ.ID = ids.NewID()
		occ.SeriesID = seriesID
		occ.StartDate = d
		out = append(out, occ)
	}
	return out, nil
}
