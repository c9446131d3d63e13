// Package export renders the appointment set in formats other tools can
// open: a spreadsheet-friendly CSV and an iCalendar feed.
package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"psiagenda/internal/model"
)

// CSVHeader is the column order of WriteCSV.
var CSVHeader = []string{
	"id", "seriesId", "patientName", "phone", "email",
	"startDate", "startTime", "notes", "isRecurring", "frequency",
}

// WriteCSV writes one row per appointment after a header row. The output
// starts with a UTF-8 byte order mark so spreadsheet programs pick the
// right encoding for accented names.
func WriteCSV(w io.Writer, appts []model.Appointment) error {
	if _, err := w.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, a := range appts {
		row := []string{
			a.ID,
			a.SeriesID,
			a.PatientName,
			a.Phone,
			a.Email,
			a.StartDate,
			a.StartTime,
			a.Notes,
			strconv.FormatBool(a.IsRecurring),
			string(a.Frequency),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
