// Package server exposes the daemon's local HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"ccbell/internal/engine"
	"ccbell/internal/event"
	"ccbell/internal/metrics"
	"ccbell/internal/notifier"
	"ccbell/internal/storage"
	logx "ccbell/pkg/logx"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

const maxBodyBytes = 1 << 20

// Backend is what the API needs from the running daemon.
type Backend interface {
	HandleEvent(ctx context.Context, override event.Type, p event.HookPayload) (engine.Verdict, error)
	Status(now time.Time) engine.Status
	History() []notifier.HistoryItem
	Audit(ctx context.Context, limit int) ([]storage.AuditEntry, error)
	Health() Health
}

// Health is the /healthz body.
type Health struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
	Config string `json:"config"`
	Tasks  any    `json:"tasks,omitempty"`
	Error  string `json:"error,omitempty"`
}

type Options struct {
	Addr        string
	MetricsPath string
	ReadTimeout time.Duration
	Pprof       bool
	Log         logx.Logger
}

// NewRouter builds the API routes.
func NewRouter(b Backend, opts Options) http.Handler {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	metricsPath := opts.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	h := &handlers{b: b, log: log}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger(log))

	r.Get("/healthz", h.healthz)
	r.Handle(metricsPath, metrics.Handler())
	if opts.Pprof {
		r.Mount("/debug", chimiddleware.Profiler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/events", h.postEvent)
		r.Post("/events/{type}", h.postEvent)
		r.Get("/status", h.status)
		r.Get("/cooldowns", h.cooldowns)
		r.Get("/history", h.history)
		r.Get("/audit", h.audit)
	})
	return r
}

// Server wraps http.Server with the router.
type Server struct {
	srv *http.Server
	log logx.Logger
}

func New(b Backend, opts Options) *Server {
	rt := opts.ReadTimeout
	if rt <= 0 {
		rt = 5 * time.Second
	}
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{
		srv: &http.Server{
			Addr:              opts.Addr,
			Handler:           NewRouter(b, opts),
			ReadTimeout:       rt,
			ReadHeaderTimeout: rt,
		},
		log: log,
	}
}

// ListenAndServe blocks until ctx is done, then shuts the server down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.log.Info("http api listening", logx.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(sctx); err != nil {
			return err
		}
		return nil
	}
}

type handlers struct {
	b   Backend
	log logx.Logger
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	hl := h.b.Health()
	code := http.StatusOK
	if hl.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, hl)
}

func (h *handlers) postEvent(w http.ResponseWriter, r *http.Request) {
	p, err := event.DecodeHook(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	override := event.ParseType(chi.URLParam(r, "type"))
	v, err := h.b.HandleEvent(r.Context(), override, p)
	if err != nil {
		if errors.Is(err, event.ErrInvalidPayload) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error("event handling failed", logx.Err(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, v)
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.b.Status(time.Now()))
}

func (h *handlers) cooldowns(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.b.Status(time.Now()).Cooldowns)
}

func (h *handlers) history(w http.ResponseWriter, r *http.Request) {
	items := h.b.History()
	if n, ok := limitParam(r); ok && len(items) > n {
		items = items[len(items)-n:]
	}
	respondJSON(w, http.StatusOK, items)
}

func (h *handlers) audit(w http.ResponseWriter, r *http.Request) {
	n, ok := limitParam(r)
	if !ok {
		n = 50
	}
	entries, err := h.b.Audit(r.Context(), n)
	if errors.Is(err, storage.ErrDisabled) {
		respondError(w, http.StatusNotFound, "audit log disabled")
		return
	}
	if err != nil {
		h.log.Error("audit query failed", logx.Err(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if entries == nil {
		entries = []storage.AuditEntry{}
	}
	respondJSON(w, http.StatusOK, entries)
}

func limitParam(r *http.Request) (int, bool) {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func requestLogger(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", ww.Status()),
				logx.Duration("took", time.Since(start)),
				logx.String("request_id", chimiddleware.GetReqID(r.Context())),
			)
		})
	}
}
