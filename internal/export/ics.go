package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "psiagenda/internal/log"
	"psiagenda/internal/model"
)

// DefaultSessionLength is the event duration used for every appointment;
// records only carry a start time.
const DefaultSessionLength = 50 * time.Minute

const productID = "-//PsiAgenda//Agenda//ES"

// ICSOptions controls iCalendar rendering.
type ICSOptions struct {
	// Location is the zone StartDate/StartTime are interpreted in. Nil means UTC.
	Location *time.Location
	// SessionLength defaults to DefaultSessionLength.
	SessionLength time.Duration
	// Stamp is written as DTSTAMP on every event. Zero means time.Now().
	Stamp time.Time
}

// WriteICS renders one VEVENT per appointment. The event UID is the
// appointment id. Records whose date or time cannot be parsed are skipped
// and logged.
func WriteICS(w io.Writer, appts []model.Appointment, opts ICSOptions) error {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.SessionLength <= 0 {
		opts.SessionLength = DefaultSessionLength
	}
	if opts.Stamp.IsZero() {
		opts.Stamp = time.Now()
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)

	skipped := 0
	for _, a := range appts {
		start, err := a.Start(opts.Location)
		if err != nil {
			skipped++
			appLog.Warn("ics export: skipping unparseable appointment", "id", a.ID, "date", a.StartDate, "time", a.StartTime)
			continue
		}

		ev := cal.AddEvent(a.ID)
		ev.SetDtStampTime(opts.Stamp)
		ev.SetStartAt(start)
		ev.SetEndAt(start.Add(opts.SessionLength))
		ev.SetSummary(a.PatientName)
		if desc := eventDescription(a); desc != "" {
			ev.SetDescription(desc)
		}
		if a.IsRecurring {
			ev.SetProperty(ical.ComponentPropertyCategories, "series-"+a.SeriesID)
		}
	}

	if skipped > 0 {
		appLog.Info("ics export completed with skipped records", "exported", len(appts)-skipped, "skipped", skipped)
	}
	return cal.SerializeTo(w)
}

func eventDescription(a model.Appointment) string {
	var parts []string
	if a.Phone != "" {
		parts = append(parts, "Tel: "+a.Phone)
	}
	if a.Email != "" {
		parts = append(parts, "Email: "+a.Email)
	}
	if a.IsRecurring {
		parts = append(parts, fmt.Sprintf("Frecuencia: %s", frequencyLabel(a.Frequency)))
	}
	if a.Notes != "" {
		parts = append(parts, a.Notes)
	}
	return strings.Join(parts, "\n")
}

func frequencyLabel(f model.Frequency) string {
	if f == model.Biweekly {
		return "quincenal"
	}
	return "semanal"
}
