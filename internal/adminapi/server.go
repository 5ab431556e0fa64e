// Package adminapi exposes the lease table and target administration over HTTP.
package adminapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"guildwatch/internal/notifier"
	"guildwatch/internal/storage"
	"guildwatch/internal/watch"
	logx "guildwatch/pkg/logx"
)

type Config struct {
	Addr         string
	Token        string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Pprof        bool
}

// Engine is the part of *watch.Engine the API drives.
type Engine interface {
	Leases() []watch.LeaseInfo
	LastReconcile() (watch.ReconcileReport, bool)
	Reconcile(ctx context.Context) (watch.ReconcileReport, error)
	RunOnce(ctx context.Context, key watch.Key) (watch.CycleReport, error)
	Validate(t watch.Target) error
	Trigger()
}

// Deps wires the API. Targets, Scores and History may be nil; the
// matching routes then answer 501.
type Deps struct {
	Engine  Engine
	Cursors storage.Store
	Targets storage.TargetStore
	Scores  storage.ScoreStore
	History func() []notifier.HistoryItem
	Log     logx.Logger
	Now     func() time.Time
}

type Server struct {
	cfg    Config
	deps   Deps
	log    logx.Logger
	router chi.Router
}

func New(cfg Config, deps Deps) *Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 60 * time.Second
	}
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &Server{cfg: cfg, deps: deps, log: deps.Log}
	s.setupRoutes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.auth)
		r.Get("/leases", s.handleLeases)
		r.Post("/reconcile", s.handleReconcile)
		r.Post("/leases/{tenant}/{kind}/{entity}/run", s.handleRun)
		r.Get("/notifications", s.handleNotifications)

		r.Route("/tenants/{tenant}", func(r chi.Router) {
			r.Get("/cursors", s.handleCursors)
			r.Get("/targets", s.handleListTargets)
			r.Put("/targets/{kind}/{entity}", s.handlePutTarget)
			r.Delete("/targets/{kind}/{entity}", s.handleDeleteTarget)
			r.Get("/scoreboards/{board}", s.handleTopScores)
			r.Post("/scoreboards/{board}/scores", s.handleAddScore)
		})
	})

	if s.cfg.Pprof {
		r.With(s.auth).Mount("/debug", middleware.Profiler())
	}

	s.router = r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.log.Info("admin api listening", logx.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token == "" {
			next.ServeHTTP(w, r)
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Token)) != 1 {
			writeError(w, http.StatusUnauthorized, errors.New("unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("took", time.Since(start)),
			logx.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
