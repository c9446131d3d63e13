package model

// Patch is a partial update for a set of appointments. Nil fields are left
// alone.
//
// ID, SeriesID and StartDate exist so that a decoded request body can carry
// them, but Sanitized drops them before a bulk edit is applied.
type Patch struct {
	ID          *string    `json:"id,omitempty"`
	SeriesID    *string    `json:"seriesId,omitempty"`
	PatientName *string    `json:"patientName,omitempty"`
	Phone       *string    `json:"phone,omitempty"`
	Email       *string    `json:"email,omitempty"`
	StartDate   *string    `json:"startDate,omitempty"`
	StartTime   *string    `json:"startTime,omitempty"`
	Notes       *string    `json:"notes,omitempty"`
	IsRecurring *bool      `json:"isRecurring,omitempty"`
	Frequency   *Frequency `json:"frequency,omitempty"`
}

// Sanitized returns a copy of p without the identity and date fields.
func (p Patch) Sanitized() Patch {
	p.ID = nil
	p.SeriesID = nil
	p.StartDate = nil
	return p
}

// Apply returns a with every non-nil field of p written over it. Extra
// fields of a are carried over.
func (p Patch) Apply(a Appointment) Appointment {
	a = a.Clone()
	if p.ID != nil {
		a.ID = *p.ID
	}
	if p.SeriesID != nil {
		a.SeriesID = *p.SeriesID
	}
	if p.PatientName != nil {
		a.PatientName = *p.PatientName
	}
	if p.Phone != nil {
		a.Phone = *p.Phone
	}
	if p.Email != nil {
		a.Email = *p.Email
	}
	if p.StartDate != nil {
		a.StartDate = *p.StartDate
	}
	if p.StartTime != nil {
		a.StartTime = *p.StartTime
	}
	if p.Notes != nil {
		a.Notes = *p.Notes
	}
	if p.IsRecurring != nil {
		a.IsRecurring = *p.IsRecurring
	}
	if p.Frequency != nil {
		a.Frequency = *p.Frequency
	}
	return a
}

// Empty reports whether p changes nothing.
func (p Patch) Empty() bool {
	return p == Patch{}
}
