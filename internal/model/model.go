package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Layouts for the serialized date and time fields. Both are fixed width and
// zero padded, so string order equals chronological order.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Frequency is the repeat step of a recurring series.
type Frequency string

const (
	Weekly   Frequency = "weekly"
	Biweekly Frequency = "biweekly"
)

// StepDays returns the number of days between two occurrences.
// Anything other than Biweekly repeats weekly.
func (f Frequency) StepDays() int {
	if f == Biweekly {
		return 14
	}
	return 7
}

// Valid reports whether f is empty or one of the known frequencies.
func (f Frequency) Valid() bool {
	switch f {
	case "", Weekly, Biweekly:
		return true
	default:
		return false
	}
}

// Appointment is a single scheduled session. Records created from one
// recurring request share SeriesID; a one-off appointment gets a SeriesID
// of its own.
//
// JSON keys the agenda does not know are kept in Extra and written back
// unchanged, so clients can store their own fields on a record.
type Appointment struct {
	ID          string    `json:"id"`
	SeriesID    string    `json:"seriesId"`
	PatientName string    `json:"patientName"`
	Phone       string    `json:"phone"`
	Email       string    `json:"email,omitempty"`
	StartDate   string    `json:"startDate"`
	StartTime   string    `json:"startTime"`
	Notes       string    `json:"notes,omitempty"`
	IsRecurring bool      `json:"isRecurring"`
	Frequency   Frequency `json:"frequency,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// appointmentFields has the fields of Appointment without its JSON methods.
type appointmentFields Appointment

var knownKeys = []string{
	"id", "seriesId", "patientName", "phone", "email",
	"startDate", "startTime", "notes", "isRecurring", "frequency",
}

// isKnownKey matches the way encoding/json assigns keys to fields, which
// ignores case.
func isKnownKey(k string) bool {
	return slices.ContainsFunc(knownKeys, func(known string) bool {
		return strings.EqualFold(known, k)
	})
}

func (a *Appointment) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	var fields appointmentFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	maps.DeleteFunc(raw, func(k string, _ json.RawMessage) bool { return isKnownKey(k) })
	fields.Extra = nil
	if len(raw) > 0 {
		fields.Extra = raw
	}
	*a = Appointment(fields)
	return nil
}

func (a Appointment) MarshalJSON() ([]byte, error) {
	out, err := json.Marshal(appointmentFields(a))
	if err != nil || len(a.Extra) == 0 {
		return out, err
	}
	var buf bytes.Buffer
	buf.Write(out[:len(out)-1])
	for _, k := range slices.Sorted(maps.Keys(a.Extra)) {
		if isKnownKey(k) {
			continue
		}
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		v := a.Extra[k]
		if len(v) == 0 {
			v = json.RawMessage("null")
		}
		buf.WriteByte(',')
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Clone returns a copy of a that does not share its Extra map.
func (a Appointment) Clone() Appointment {
	a.Extra = maps.Clone(a.Extra)
	return a
}

// SortKey is "<startDate>T<startTime>". Lexicographic order on it is
// chronological order as long as both parts use the padded layouts.
func (a Appointment) SortKey() string {
	return CutoffKey(a.StartDate, a.StartTime)
}

// CutoffKey builds the comparison key used for series cutoffs.
func CutoffKey(date, clock string) string {
	return date + "T" + clock
}

// Date parses StartDate as a calendar date in UTC.
func (a Appointment) Date() (time.Time, error) {
	return time.Parse(DateLayout, a.StartDate)
}

// Start combines StartDate and StartTime in loc. An empty StartTime means
// midnight.
func (a Appointment) Start(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	if a.StartTime == "" {
		return time.ParseInLocation(DateLayout, a.StartDate, loc)
	}
	return time.ParseInLocation(DateLayout+" "+TimeLayout, a.StartDate+" "+a.StartTime, loc)
}

var (
	ErrMissingID        = errors.New("missing id")
	ErrInvalidDate      = errors.New("startDate must be YYYY-MM-DD")
	ErrInvalidTime      = errors.New("startTime must be HH:MM")
	ErrInvalidFrequency = errors.New("frequency must be weekly or biweekly")
)

// ValidateSchedule checks the fields whose formatting the series logic
// relies on: a padded date, an optional padded time and a known frequency.
func ValidateSchedule(date, clock string, freq Frequency) error {
	if !IsDate(date) {
		return fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	if clock != "" && !IsTime(clock) {
		return fmt.Errorf("%w: %q", ErrInvalidTime, clock)
	}
	if !freq.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidFrequency, freq)
	}
	return nil
}

// IsDate reports whether s is a real calendar date in DateLayout.
func IsDate(s string) bool {
	if len(s) != len(DateLayout) {
		return false
	}
	_, err := time.Parse(DateLayout, s)
	return err == nil
}

// IsTime reports whether s is a time of day in TimeLayout.
func IsTime(s string) bool {
	if len(s) != len(TimeLayout) {
		return false
	}
	_, err := time.Parse(TimeLayout, s)
	return err == nil
}
