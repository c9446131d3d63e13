package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	appLog "psiagenda/internal/log"
	"psiagenda/internal/model"
)

const maxJSONBody = 1 << 20

var errMissingField = errors.New("missing required field")

// sorted returns appts ordered by date and time. Stored order is insertion
// order; the API always presents the agenda chronologically.
func sorted(appts []model.Appointment) []model.Appointment {
	sort.SliceStable(appts, func(i, j int) bool {
		return appts[i].SortKey() < appts[j].SortKey()
	})
	return appts
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// requireFields checks the fields the agenda form always asks for.
func requireFields(a model.Appointment) error {
	var missing []string
	if strings.TrimSpace(a.PatientName) == "" {
		missing = append(missing, "patientName")
	}
	if strings.TrimSpace(a.Phone) == "" {
		missing = append(missing, "phone")
	}
	if strings.TrimSpace(a.StartDate) == "" {
		missing = append(missing, "startDate")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", errMissingField, strings.Join(missing, ", "))
	}
	return nil
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	all, err := s.agenda.List(r.Context())
	if err != nil {
		writeAgendaError(w, "list appointments", err)
		return
	}
	writeJSON(w, http.StatusOK, sorted(all))
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var draft model.Appointment
	if err := decodeJSON(w, r, &draft); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := requireFields(draft); err != nil {
		writeAgendaError(w, "create appointment", err)
		return
	}
	all, err := s.agenda.Create(r.Context(), draft)
	if err != nil {
		writeAgendaError(w, "create appointment", err)
		return
	}
	writeJSON(w, http.StatusCreated, sorted(all))
}

func (s *Server) handleUpdateSingle(w http.ResponseWriter, r *http.Request) {
	var rec model.Appointment
	if err := decodeJSON(w, r, &rec); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec.ID = r.PathValue("id")
	if err := requireFields(rec); err != nil {
		writeAgendaError(w, "update appointment", err)
		return
	}
	all, err := s.agenda.UpdateSingle(r.Context(), rec)
	if err != nil {
		writeAgendaError(w, "update appointment", err)
		return
	}
	writeJSON(w, http.StatusOK, sorted(all))
}

func (s *Server) handleDeleteSingle(w http.ResponseWriter, r *http.Request) {
	all, err := s.agenda.DeleteSingle(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAgendaError(w, "delete appointment", err)
		return
	}
	writeJSON(w, http.StatusOK, sorted(all))
}

// seriesUpdateRequest is the body of PATCH /api/series/{seriesId}.
type seriesUpdateRequest struct {
	FromDate string      `json:"fromDate"`
	FromTime string      `json:"fromTime"`
	Patch    model.Patch `json:"patch"`
}

func (s *Server) handleUpdateSeries(w http.ResponseWriter, r *http.Request) {
	var req seriesUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !model.IsDate(req.FromDate) {
		writeAgendaError(w, "update series", fmt.Errorf("fromDate: %w", model.ErrInvalidDate))
		return
	}
	if req.FromTime != "" && !model.IsTime(req.FromTime) {
		writeAgendaError(w, "update series", fmt.Errorf("fromTime: %w", model.ErrInvalidTime))
		return
	}
	if req.Patch.Empty() {
		appLog.Debug("empty series patch", "series_id", r.PathValue("seriesId"))
	}
	all, err := s.agenda.UpdateSeriesFrom(r.Context(), r.PathValue("seriesId"), req.FromDate, req.FromTime, req.Patch)
	if err != nil {
		writeAgendaError(w, "update series", err)
		return
	}
	writeJSON(w, http.StatusOK, sorted(all))
}

func (s *Server) handleDeleteSeries(w http.ResponseWriter, r *http.Request) {
	all, err := s.agenda.DeleteSeries(r.Context(), r.PathValue("seriesId"))
	if err != nil {
		writeAgendaError(w, "delete series", err)
		return
	}
	writeJSON(w, http.StatusOK, sorted(all))
}
