package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"psiagenda/internal/config"
	appLog "psiagenda/internal/log"
	"psiagenda/internal/model"
	"psiagenda/internal/query"
	"psiagenda/internal/schedule"
)

// Server provides the HTTP API over the series manager.
type Server struct {
	cfg      *config.Config
	agenda   *schedule.Manager
	answerer query.Answerer
	loc      *time.Location
	mux      *http.ServeMux
	now      func() time.Time
}

// NewServer constructs a new Server. answerer may be nil, in which case
// /api/query is not registered.
func NewServer(cfg *config.Config, agenda *schedule.Manager, answerer query.Answerer) *Server {
	s := &Server{
		cfg:      cfg,
		agenda:   agenda,
		answerer: answerer,
		loc:      resolveLocationOrLocal(cfg.Timezone),
		mux:      http.NewServeMux(),
		now:      time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server, with basic
// auth (when configured) and tracing applied.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "user", s.cfg.BasicAuth.Username)
		h = s.basicAuthMiddleware(h)
	}
	return otelhttp.NewHandler(h, "psiagenda")
}

// StartServer serves the API on cfg.Listen until ctx is cancelled, then
// shuts down gracefully.
func StartServer(ctx context.Context, cfg *config.Config, agenda *schedule.Manager, answerer query.Answerer) error {
	s := NewServer(cfg, agenda, answerer)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	appLog.Info("shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/appointments", s.handleList)
	s.mux.HandleFunc("POST /api/appointments", s.handleCreate)
	s.mux.HandleFunc("PUT /api/appointments/{id}", s.handleUpdateSingle)
	s.mux.HandleFunc("DELETE /api/appointments/{id}", s.handleDeleteSingle)
	s.mux.HandleFunc("PATCH /api/series/{seriesId}", s.handleUpdateSeries)
	s.mux.HandleFunc("DELETE /api/series/{seriesId}", s.handleDeleteSeries)

	s.mux.HandleFunc("GET /api/export", s.handleExport)
	s.mux.HandleFunc("POST /api/import", s.handleImport)
	s.mux.HandleFunc("GET /api/export.csv", s.handleExportCSV)
	s.mux.HandleFunc("GET /api/export.ics", s.handleExportICS)
	s.mux.HandleFunc("GET /api/backup", s.handleBackupStatus)
	s.mux.HandleFunc("POST /api/backup/done", s.handleBackupDone)

	s.mux.HandleFunc("GET /api/onboarding", s.handleOnboardingStatus)
	s.mux.HandleFunc("POST /api/onboarding", s.handleOnboardingDone)

	if s.answerer != nil {
		s.mux.HandleFunc("POST /api/query", s.handleQuery)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// resolveLocationOrLocal loads name, falling back to time.Local.
func resolveLocationOrLocal(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("invalid timezone, falling back to local", err, "timezone", name)
		return time.Local
	}
	return loc
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

// writeAgendaError maps errors from the series manager to a status code.
// Validation and backup format problems are the client's fault; anything
// else is a storage failure.
func writeAgendaError(w http.ResponseWriter, op string, err error) {
	switch {
	case schedule.IsFormatError(err),
		errors.Is(err, model.ErrInvalidDate),
		errors.Is(err, model.ErrInvalidTime),
		errors.Is(err, model.ErrInvalidFrequency),
		errors.Is(err, model.ErrMissingID),
		errors.Is(err, errMissingField):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		appLog.Error(op+" failed", err)
		writeError(w, http.StatusInternalServerError, op+" failed")
	}
}
