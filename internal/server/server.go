// Package server exposes the dashboard views as a JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/verte-zerg/panier/internal/export"
	"github.com/verte-zerg/panier/internal/filter"
	"github.com/verte-zerg/panier/internal/logging"
	"github.com/verte-zerg/panier/internal/model"
	"github.com/verte-zerg/panier/internal/session"
	"github.com/verte-zerg/panier/internal/view"
)

const (
	// DefaultAddr is the listen address when none is configured.
	DefaultAddr = "127.0.0.1:8080"

	requestIDHeader = "X-Request-ID"
	shutdownTimeout = 10 * time.Second
)

// Controller is the view state behind one route. *view.Controller
// implements it.
type Controller interface {
	Load(ctx context.Context) (view.Snapshot, error)
	Loaded() bool
	Submit(ctx context.Context, spec model.FilterSpec) (view.Snapshot, error)
	SetYear(year int) (view.Snapshot, error)
	Year() int
	Filtered() []model.Purchase
	Location() *time.Location
}

// ExportRecorder keeps the export history.
type ExportRecorder interface {
	InsertExport(ctx context.Context, rec model.ExportRecord) (int64, error)
}

// Config configures a Server.
type Config struct {
	Addr          string
	EnableMetrics bool
	NewController func(kind view.Kind) Controller
	Exports       ExportRecorder
	Logger        *slog.Logger
	Registry      *prometheus.Registry
}

type entry struct {
	mu   sync.Mutex
	ctrl Controller
	// year applies to requests without a year parameter.
	year int
}

// Server serves the view API. Each view kind gets one controller, created on
// first use; requests for the same kind are serialized.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics
	reg     *prometheus.Registry

	mu      sync.Mutex
	entries map[view.Kind]*entry
}

// New returns a Server. NewController is required.
func New(cfg Config) (*Server, error) {
	if cfg.NewController == nil {
		return nil, errors.New("server needs a controller factory")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Server{
		cfg:     cfg,
		logger:  logger,
		metrics: NewMetrics(reg),
		reg:     reg,
		entries: make(map[view.Kind]*entry),
	}, nil
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestID)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	if s.cfg.EnableMetrics {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
	}
	r.Route("/api/views", func(r chi.Router) {
		r.Get("/", s.handleKinds)
		r.Get("/{kind}", s.handleView)
		r.Get("/{kind}/export", s.handleExport)
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to serve: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}

func (s *Server) entry(kind view.Kind) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[kind]
	if !ok {
		ctrl := s.cfg.NewController(kind)
		e = &entry{ctrl: ctrl, year: ctrl.Year()}
		s.entries[kind] = e
	}
	return e
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		s.metrics.HTTPRequestCounter.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		s.metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
		logging.FromContext(r.Context(), s.logger).Info("request",
			"method", r.Method,
			"route", route,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", elapsed,
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleKinds(w http.ResponseWriter, _ *http.Request) {
	kinds := make([]map[string]string, len(view.Kinds))
	for i, k := range view.Kinds {
		kinds[i] = map[string]string{"view": string(k), "title": k.Title()}
	}
	writeJSON(w, http.StatusOK, map[string]any{"views": kinds})
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.kindParam(w, r)
	if !ok {
		return
	}
	e := s.entry(kind)
	e.mu.Lock()
	defer e.mu.Unlock()

	snap, ok := s.refresh(w, r, kind, e)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newViewResponse(snap))
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.kindParam(w, r)
	if !ok {
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	e := s.entry(kind)
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := s.refresh(w, r, kind, e); !ok {
		return
	}
	records := e.ctrl.Filtered()
	filename := export.DefaultFilename(string(kind), format)
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	n, err := export.Write(w, format, records)
	logger := logging.FromContext(r.Context(), s.logger)
	if err != nil {
		// Headers are gone; the client sees a truncated body.
		logger.Error("export failed", "view", string(kind), "err", err)
		return
	}
	s.metrics.ExportCounter.WithLabelValues(string(kind), string(format)).Inc()
	if s.cfg.Exports != nil {
		rec := model.ExportRecord{View: string(kind), Format: string(format), Path: filename, Rows: n, ExportedAt: time.Now()}
		if _, err := s.cfg.Exports.InsertExport(r.Context(), rec); err != nil {
			logger.Warn("failed to record export", "err", err)
		}
	}
}

func (s *Server) kindParam(w http.ResponseWriter, r *http.Request) (view.Kind, bool) {
	kind, err := view.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return "", false
	}
	return kind, true
}

// refresh applies the request's filter and year to the entry's controller,
// fetching first when the view has no records yet, when refresh=1 is set, or
// when the view filters server-side. A request without a year gets the
// entry's initial year. It writes the error response itself and reports
// success.
func (s *Server) refresh(w http.ResponseWriter, r *http.Request, kind view.Kind, e *entry) (view.Snapshot, bool) {
	ctrl := e.ctrl
	q := r.URL.Query()
	spec, err := filter.ParseSpec(queryInput(q), ctrl.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return view.Snapshot{}, false
	}
	year := e.year
	if raw := strings.TrimSpace(q.Get("year")); raw != "" {
		year, err = strconv.Atoi(raw)
		if err != nil || year < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid year %q", raw))
			return view.Snapshot{}, false
		}
	}
	if year != ctrl.Year() {
		if _, err := ctrl.SetYear(year); err != nil && !errors.Is(err, view.ErrNotLoaded) {
			s.writeLoadError(w, r, kind, err)
			return view.Snapshot{}, false
		}
	}

	ctx := r.Context()
	if !kind.ServerFiltered() && (!ctrl.Loaded() || q.Get("refresh") == "1") {
		if err := s.load(ctx, kind, ctrl); err != nil {
			s.writeLoadError(w, r, kind, err)
			return view.Snapshot{}, false
		}
	}
	start := time.Now()
	snap, err := ctrl.Submit(ctx, spec)
	if kind.ServerFiltered() {
		s.recordLoad(kind, start, snap, err)
	}
	if err != nil {
		s.writeLoadError(w, r, kind, err)
		return view.Snapshot{}, false
	}
	return snap, true
}

func (s *Server) load(ctx context.Context, kind view.Kind, ctrl Controller) error {
	start := time.Now()
	snap, err := ctrl.Load(ctx)
	s.recordLoad(kind, start, snap, err)
	return err
}

func (s *Server) recordLoad(kind view.Kind, start time.Time, snap view.Snapshot, err error) {
	status := "success"
	switch {
	case errors.Is(err, session.ErrNotAuthenticated):
		status = "unauthorized"
	case err != nil:
		status = "error"
	}
	s.metrics.ViewLoadCounter.WithLabelValues(string(kind), status).Inc()
	s.metrics.ViewLoadDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	if err == nil {
		s.metrics.RecordsLoaded.WithLabelValues(string(kind)).Set(float64(snap.Records))
	}
}

func (s *Server) writeLoadError(w http.ResponseWriter, r *http.Request, kind view.Kind, err error) {
	logger := logging.FromContext(r.Context(), s.logger)
	switch {
	case errors.Is(err, session.ErrNotAuthenticated):
		logger.Info("session required", "view", string(kind), "err", err)
		writeError(w, http.StatusUnauthorized, "not authenticated: run `panier login`")
	case errors.Is(err, context.Canceled):
		logger.Info("request cancelled", "view", string(kind))
	default:
		logger.Error("view load failed", "view", string(kind), "err", err)
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

// queryInput reads filter params; repeated params are joined like a comma list.
func queryInput(q map[string][]string) filter.Input {
	get := func(key string) string {
		return strings.Join(q[key], ",")
	}
	return filter.Input{
		CSPs:         get("csp"),
		Categories:   get("category"),
		Start:        get("start"),
		End:          get("end"),
		CompareStart: get("start_compare"),
		CompareEnd:   get("end_compare"),
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// Best-effort: the client may have disconnected.
		return
	}
}
