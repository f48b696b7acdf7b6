// Package web exposes a read-only HTTP view of the bot: health, status,
// the last snapshot of events, the iCalendar feed and Prometheus metrics.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"uesbot/internal/ics"
	appLog "uesbot/internal/log"
	"uesbot/internal/metrics"
	"uesbot/internal/model"
	"uesbot/internal/quiet"
	"uesbot/internal/state"
	"uesbot/internal/urgency"
)

// Backend is the read side of the cycle coordinator.
type Backend interface {
	State(ctx context.Context) (*state.State, error)
	Snapshot(ctx context.Context) ([]model.Event, error)
}

// BasicAuth credentials. Auth is disabled when either field is empty.
type BasicAuth struct {
	Username string
	Password string
}

// Options configures a Server.
type Options struct {
	Listen      string
	BasicAuth   *BasicAuth
	Location    *time.Location
	UrgentHours int
	// Quiet is the configured default window; a state override wins.
	Quiet quiet.Window
	// DefaultInterval is reported when the state carries no override.
	DefaultInterval time.Duration
	Metrics         *metrics.Metrics
	// NextRun reports the next scheduled cycle, if known.
	NextRun func() time.Time
	Now     func() time.Time
}

// Server provides the HTTP endpoints.
type Server struct {
	backend Backend
	opts    Options
	mux     *http.ServeMux
}

// NewServer constructs a new Server.
func NewServer(b Backend, opts Options) *Server {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Server{
		backend: b,
		opts:    opts,
		mux:     http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.opts.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) basicAuthEnabled() bool {
	a := s.opts.BasicAuth
	return a != nil && a.Username != "" && a.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.opts.BasicAuth.Username
	password := s.opts.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="uesbot", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Serve listens on opts.Listen until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.opts.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /calendar.ics", s.handleCalendar)
	s.mux.Handle("GET /metrics", s.opts.Metrics.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// statusResponse is the JSON response shape for /api/status.
type statusResponse struct {
	Sleeping          bool       `json:"sleeping"`
	SleepUntil        *time.Time `json:"sleep_until,omitempty"`
	Quiet             string     `json:"quiet"`
	IntervalMinutes   int        `json:"interval_minutes"`
	Tracked           int        `json:"tracked"`
	LastRun           *time.Time `json:"last_run,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
	ConsecutiveErrors int        `json:"consecutive_errors"`
	NextRun           *time.Time `json:"next_run,omitempty"`
	Timezone          string     `json:"timezone"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.backend.State(r.Context())
	if err != nil {
		appLog.Error("api status: state load failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load state")
		return
	}

	interval := int(s.opts.DefaultInterval / time.Minute)
	if st.IntervalMinutes > 0 {
		interval = st.IntervalMinutes
	}
	resp := statusResponse{
		Sleeping:          st.Sleeping(s.opts.Now()),
		SleepUntil:        st.SleepUntil,
		Quiet:             st.QuietWindow(s.opts.Quiet).String(),
		IntervalMinutes:   interval,
		Tracked:           len(st.Events),
		LastRun:           st.LastRun,
		LastError:         st.LastError,
		ConsecutiveErrors: st.ConsecutiveErrors,
		Timezone:          s.opts.Location.String(),
	}
	if s.opts.NextRun != nil {
		if next := s.opts.NextRun(); !next.IsZero() {
			resp.NextRun = &next
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Events      []eventDTO `json:"events"`
	GeneratedAt time.Time  `json:"generated_at"`
}

// eventDTO is a JSON-friendly view of an event with its bucket.
type eventDTO struct {
	model.Event
	Bucket           urgency.Bucket `json:"bucket"`
	RemainingSeconds *int64         `json:"remaining_seconds,omitempty"`
}

// handleEvents returns the last snapshot, optionally filtered.
//
// GET /api/events?bucket=urgent
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.backend.Snapshot(r.Context())
	if err != nil {
		appLog.Error("api events: snapshot load failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}

	filter := urgency.Bucket(r.URL.Query().Get("bucket"))
	now := s.opts.Now()
	dtos := make([]eventDTO, 0, len(events))
	for _, e := range events {
		b := urgency.Classify(e, s.opts.UrgentHours, now)
		if filter != "" && b != filter {
			continue
		}
		dto := eventDTO{Event: e, Bucket: b}
		if e.HasDue() {
			secs := int64(e.Remaining(now) / time.Second)
			dto.RemainingSeconds = &secs
		}
		dtos = append(dtos, dto)
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: dtos, GeneratedAt: now})
}

// handleCalendar serves pending deliverables as an iCalendar feed.
//
// GET /calendar.ics?days=30
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	events, err := s.backend.Snapshot(r.Context())
	if err != nil {
		appLog.Error("calendar: snapshot load failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}

	days := parseIntDefault(r.URL.Query().Get("days"), ics.DefaultDaysAhead)
	data, count := ics.Export(events, s.opts.Now(), days)
	appLog.Debug("calendar served", "events", count, "days", days)

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="`+ics.Filename(s.opts.Now(), s.opts.Location)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
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
