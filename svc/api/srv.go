package api

import (
	"context"
	"net/http"
	"time"

	"mdbin/cfg"
	"mdbin/svc/db"
	"mdbin/svc/lim"
	"mdbin/svc/svc"
	"mdbin/svc/util"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"
)

type Server struct {
	router     *chi.Mux
	cfg        *cfg.Cfg
	db         *db.SQLite
	rdb        *db.Redis
	httpServer *http.Server
}

func NewServer(c *cfg.Cfg, paste *svc.Paste, mod *svc.Moderation, l *lim.Limiter, sqlDB *db.SQLite, rdb *db.Redis) *Server {
	r := chi.NewRouter()
	mw := NewMw(l, c)
	s := &Server{
		router: r,
		cfg:    c,
		db:     sqlDB,
		rdb:    rdb,
		httpServer: &http.Server{
			Addr:           ":" + c.Port,
			Handler:        r,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxHeaderBytes: 256 * 1024,
		},
	}

	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Get("/health", s.Health)
		r.Get("/ready", s.Ready)
	})
	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Handle("/metrics", mw.BasicAuthMetrics(promhttp.Handler()))
	})
	if c.Environment != "production" {
		r.Mount("/debug", middleware.Profiler())
	}

	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Use(mw.RequestID)
		r.Use(hlog.NewHandler(util.GetLogger()))
		r.Use(hlog.AccessHandler(func(req *http.Request, status, size int, dur time.Duration) {
			hlog.FromRequest(req).Info().
				Str("method", req.Method).
				Str("url", req.URL.String()).
				Int("status", status).
				Int("size", size).
				Dur("duration", dur).
				Str("request_id", util.GetRequestID(req.Context())).
				Msg("http request")
		}))
		if len(c.TrustedProxies) > 0 {
			r.Use(middleware.RealIP)
		}
		r.Use(mw.ContextTimeout)
		r.Use(mw.SecurityHeaders)
		r.Use(mw.CORS)
		r.Use(mw.JSONContentType)

		hdl := &Hdl{paste: paste, mod: mod, cfg: c}
		r.With(mw.RateLimit("create"), mw.Durations("create")).Post("/pastes", hdl.CreatePaste)
		r.With(mw.RateLimit("view"), mw.Durations("view")).Get("/pastes/{id}", hdl.GetPaste)
		r.With(mw.RateLimit("unlock"), mw.Durations("unlock")).Post("/pastes/{id}/unlock", hdl.UnlockPaste)
		r.With(mw.RateLimit("report"), mw.Durations("report")).Post("/pastes/{id}/report", hdl.ReportPaste)

		admin := &AdminHdl{mod: mod, cfg: c}
		r.Route("/admin", func(r chi.Router) {
			r.With(mw.RateLimit("login")).Post("/login", admin.Login)
			r.Post("/logout", admin.Logout)
			r.Get("/session", admin.Session)
			r.Get("/pastes", admin.ListPastes)
			r.Get("/pastes/{id}", admin.ViewPaste)
			r.Delete("/pastes/{id}", admin.DeletePaste)
			r.Get("/reports", admin.ListReports)
			r.Delete("/reports/{id}", admin.DismissReport)
		})
	})
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) Start() error {
	util.Info().Str("port", s.cfg.Port).Msg("starting server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		util.Error().Err(err).Str("port", s.cfg.Port).Msg("server failed to start")
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
