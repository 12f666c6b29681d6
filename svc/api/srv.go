package api

import (
	"context"
	"net/http"
	"strings"
	"time"
	"upaste/cfg"
	"upaste/pkg/domain"
	"upaste/svc/db"
	"upaste/svc/lim"
	"upaste/svc/util"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"
)

// PasteService is the part of the paste repository the handlers need.
type PasteService interface {
	Insert(ctx context.Context, in domain.NewPaste) (*domain.Paste, error)
	TouchAndGet(ctx context.Context, key, passphrase string) (*domain.Paste, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	router     *chi.Mux
	cfg        *cfg.Cfg
	db         pinger
	rdb        pinger
	httpServer *http.Server
}

// NewServer wires the routes. rdb may be nil when Redis is not configured.
func NewServer(c *cfg.Cfg, p PasteService, l *lim.Limiter, sqlDB *db.SQLite, rdb *db.Redis) *Server {
	s := &Server{cfg: c, db: sqlDB}
	if rdb != nil {
		s.rdb = rdb
	}
	r := chi.NewRouter()
	mw := NewMw(l, c)
	r.Use(mw.CORS)
	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Get("/health", s.Health)
		r.Get("/ready", s.Ready)
	})
	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Handle("/metrics", mw.BasicAuthMetrics(promhttp.Handler()))
	})
	if !c.IsProduction() {
		r.Mount("/debug", middleware.Profiler())
	}

	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Use(mw.RequestID)
		r.Use(hlog.NewHandler(util.GetLogger()))
		r.Use(hlog.AccessHandler(func(req *http.Request, status, size int, dur time.Duration) {
			hlog.FromRequest(req).Info().
				Str("method", req.Method).
				Str("path", redactPath(req)).
				Int("status", status).
				Int("size", size).
				Dur("duration", dur).
				Str("request_id", util.GetRequestID(req.Context())).
				Msg("http request")
		}))
		r.Use(mw.Metrics)
		r.Use(mw.ContextTimeout)
		r.Use(mw.SecurityHeaders)
		hdl := &Hdl{pastes: p, cfg: c}
		r.With(mw.RateLimit("create")).Post("/new", hdl.NewPaste)
		r.With(mw.RateLimit("view")).Get("/raw/{key}", hdl.ViewRaw)
		r.With(mw.RateLimit("view")).Get("/api/{key}", hdl.ViewJSON)
		r.Get("/appinfo", hdl.AppInfo)
	})
	s.router = r
	s.httpServer = &http.Server{
		Addr:           c.Addr(),
		Handler:        r,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 256 * 1024,
	}
	return s
}
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
func (s *Server) Start() error {
	util.Info().Str("addr", s.httpServer.Addr).Msg("starting server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		util.Error().Err(err).Str("addr", s.httpServer.Addr).Msg("server failed to start")
		return err
	}
	return nil
}
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// redactPath masks paste keys so access logs never hold a full key.
func redactPath(r *http.Request) string {
	if key := chi.URLParam(r, "key"); key != "" {
		if rc := chi.RouteContext(r.Context()); rc != nil && strings.HasSuffix(rc.RoutePattern(), "{key}") {
			return strings.TrimSuffix(rc.RoutePattern(), "{key}") + util.RedactKey(key)
		}
	}
	return r.URL.Path
}
