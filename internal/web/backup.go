package web

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"psiagenda/internal/export"
	appLog "psiagenda/internal/log"
)

const maxImportBody = 16 << 20

func (s *Server) attachmentName(ext string) string {
	return fmt.Sprintf("agenda_backup_%s.%s", s.now().In(s.loc).Format("2006-01-02"), ext)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	data, err := s.agenda.Export(r.Context())
	if err != nil {
		writeAgendaError(w, "export", err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+s.attachmentName("json")+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleImport accepts either a raw JSON body or a multipart form with the
// backup in a "file" field.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBody)

	var payload []byte
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		f, _, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing file field")
			return
		}
		defer f.Close()
		payload, err = io.ReadAll(f)
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read upload")
			return
		}
	} else {
		var err error
		payload, err = io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read body")
			return
		}
	}

	all, err := s.agenda.Import(r.Context(), payload)
	if err != nil {
		writeAgendaError(w, "import", err)
		return
	}
	writeJSON(w, http.StatusOK, sorted(all))
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	all, err := s.agenda.List(r.Context())
	if err != nil {
		writeAgendaError(w, "csv export", err)
		return
	}
	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, sorted(all)); err != nil {
		writeAgendaError(w, "csv export", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+s.attachmentName("csv")+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleExportICS(w http.ResponseWriter, r *http.Request) {
	all, err := s.agenda.List(r.Context())
	if err != nil {
		writeAgendaError(w, "ics export", err)
		return
	}
	var buf bytes.Buffer
	err = export.WriteICS(&buf, sorted(all), export.ICSOptions{Location: s.loc, Stamp: s.now()})
	if err != nil {
		writeAgendaError(w, "ics export", err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="agenda.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

type backupStatusResponse struct {
	Stale      bool       `json:"stale"`
	LastBackup *time.Time `json:"lastBackup"`
}

func (s *Server) handleBackupStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stale, err := s.agenda.IsBackupStale(ctx)
	if err != nil {
		writeAgendaError(w, "backup status", err)
		return
	}
	resp := backupStatusResponse{Stale: stale}
	if last, ok, err := s.agenda.LastBackup(ctx); err == nil && ok {
		resp.LastBackup = &last
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleBackupDone records a backup made outside the app (e.g. a copy of
// the data directory).
func (s *Server) handleBackupDone(w http.ResponseWriter, r *http.Request) {
	if err := s.agenda.MarkBackupDone(r.Context()); err != nil {
		writeAgendaError(w, "mark backup", err)
		return
	}
	appLog.Info("backup marked as done")
	s.handleBackupStatus(w, r)
}

type onboardingResponse struct {
	Initialized bool `json:"initialized"`
}

func (s *Server) handleOnboardingStatus(w http.ResponseWriter, r *http.Request) {
	ok, err := s.agenda.IsInitialized(r.Context())
	if err != nil {
		writeAgendaError(w, "onboarding status", err)
		return
	}
	writeJSON(w, http.StatusOK, onboardingResponse{Initialized: ok})
}

func (s *Server) handleOnboardingDone(w http.ResponseWriter, r *http.Request) {
	if err := s.agenda.MarkInitialized(r.Context()); err != nil {
		writeAgendaError(w, "onboarding", err)
		return
	}
	writeJSON(w, http.StatusOK, onboardingResponse{Initialized: true})
}

type queryRequest struct {
	Question string `json:"question"`
}

type queryResponse struct {
	Answer string `json:"answer"`
}

// handleQuery always answers 200; the assistant turns failures into text.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	all, err := s.agenda.List(r.Context())
	if err != nil {
		writeAgendaError(w, "query", err)
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{Answer: s.answerer.Answer(r.Context(), question, sorted(all))})
}
