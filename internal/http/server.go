// Package http exposes the budget workspace as a JSON API.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"budget/internal/auth"
	"budget/internal/cache"
	"budget/internal/docstore"
	"budget/internal/log"
	"budget/internal/metrics"
	"budget/internal/middleware/ratelimit"
	"budget/internal/middleware/security"
	"budget/internal/middleware/trace"
	"budget/internal/services"
)

// Deps are the collaborators the server is built from.
type Deps struct {
	Provider *auth.Provider
	Store    docstore.DocumentStore
	// Ready reports backend readiness for /readyz. Nil means always ready.
	Ready   func(ctx context.Context) error
	Metrics *metrics.Metrics
	Logger  *log.Logger

	Sync        services.SyncConfig
	Currency    string
	MaxSessions int
	// SessionIdle is how long an unused workspace is kept.
	SessionIdle time.Duration
	RateLimit   ratelimit.Config
}

type Server struct {
	http.Server

	provider *auth.Provider
	store    docstore.DocumentStore
	ready    func(ctx context.Context) error
	metrics  *metrics.Metrics
	logger   *log.Logger
	syncCfg  services.SyncConfig
	currency string

	workspaces   *cache.LRUCache[*services.Workspace]
	cacheManager *cache.Manager
	wsMu         sync.Mutex // serialises workspace creation per token

	limiter     *ratelimit.Limiter
	ipResolver  *security.IPResolver
	unsubscribe func()

	shutdownOnce sync.Once
}

// NewServer configures routes and returns a ready-to-run server.
func NewServer(addr string, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = log.Nop()
	}
	if deps.Ready == nil {
		deps.Ready = func(context.Context) error { return nil }
	}
	if deps.MaxSessions <= 0 {
		deps.MaxSessions = 1000
	}
	if deps.SessionIdle <= 0 {
		deps.SessionIdle = 30 * time.Minute
	}

	s := &Server{
		provider:     deps.Provider,
		store:        deps.Store,
		ready:        deps.Ready,
		metrics:      deps.Metrics,
		logger:       deps.Logger.WithComponent(log.ComponentHTTP),
		syncCfg:      deps.Sync,
		currency:     deps.Currency,
		workspaces:   cache.NewLRUCache[*services.Workspace](deps.MaxSessions, deps.SessionIdle),
		cacheManager: cache.NewManager(deps.Logger),
		limiter:      ratelimit.NewLimiter(deps.RateLimit),
		ipResolver:   security.NewIPResolver(),
	}

	s.workspaces.OnEvict(s.onWorkspaceEvicted)
	s.cacheManager.Register(s.workspaces)
	s.cacheManager.StartCleanup(time.Minute)

	// Revoked sessions drop their workspace wherever the revocation came
	// from. Unlike eviction, pending edits are discarded: the workspace is
	// released, not drained. Release runs on its own goroutine because the
	// revocation may come from that workspace's own gate.
	s.unsubscribe = s.provider.OnSessionChange(func(ev auth.SessionEvent) {
		if ev.SignedIn {
			return
		}
		if ws, ok := s.workspaces.Take(ev.Session.Token); ok {
			s.metrics.SetActiveSessions(s.workspaces.Size())
			go ws.Gate().Release(context.Background())
		}
	})

	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(trace.NewMiddleware(s.logger, s.ipResolver.ClientIP, s.metrics).Middleware)
	r.Use(log.Middleware(s.logger))
	r.Use(log.RequestIDMiddleware(trace.RequestID))
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)

	r.Get("/healthz", handleHealth)
	r.Get("/readyz", s.handleReady)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	limited := s.limiter.Middleware(s.ipResolver.ClientIP, s.onRateLimited)

	r.Route("/auth", func(r chi.Router) {
		r.With(limited).Post("/signin", s.handleSignIn)
		r.With(limited).Post("/signup", s.handleSignUp)
		r.With(s.requireSession).Post("/signout", s.handleSignOut)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)
		r.Use(postOnly(limited))

		r.Get("/ledger", s.handleLedger)
		r.Get("/ledger/{month}", s.handleBucket)
		r.Post("/ledger/{month}/copy-previous", s.handleCopyPrevious)
		r.Put("/ledger/{month}/{field}", s.handleSetField)
		r.Post("/ledger/{month}/{field}", s.handleAddEntry)
		r.Patch("/ledger/{month}/{field}/{id}", s.handleUpdateEntry)
		r.Delete("/ledger/{month}/{field}/{id}", s.handleRemoveEntry)

		r.Get("/stats", s.handleStats)
		r.Get("/trend", s.handleTrend)
		r.Get("/trend/compare", s.handleCompareTrend)
		r.Get("/averages", s.handleAverages)
		r.Get("/months/{month}/summary", s.handleSummary)
		r.Get("/months/{month}/breakdown", s.handleBreakdown)
		r.Get("/months/{month}/top", s.handleTop)
		r.Get("/months/{month}/comparison", s.handleComparison)
		r.Get("/months/{month}/status", s.handleMonthStatus)

		r.Get("/sync/status", s.handleSyncStatus)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// postOnly applies mw to POST requests only.
func postOnly(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		limited := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost {
				limited.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) onRateLimited(w http.ResponseWriter, r *http.Request) {
	route := r.URL.Path
	if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
		route = rc.RoutePattern()
	}
	s.metrics.ObserveRateLimited(route)
	log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.ipResolver.ClientIP(r),
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path)
	writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
}

// Shutdown stops the HTTP server, then closes every open workspace,
// waiting within ctx for their unsaved edits to be written.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		shutdownErr = s.Server.Shutdown(ctx)
		s.unsubscribe()
		s.cacheManager.Stop()
		s.limiter.Stop()

		var g errgroup.Group
		for _, ws := range s.workspaces.Drain() {
			g.Go(func() error { return s.closeWorkspace(ctx, ws) })
		}
		if err := g.Wait(); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
		s.metrics.SetActiveSessions(0)
	})
	return shutdownErr
}

// ActiveWorkspaces returns the number of cached workspaces.
func (s *Server) ActiveWorkspaces() int {
	return s.workspaces.Size()
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.ready(ctx); err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", log.FieldError, err)
		writeError(w, http.StatusServiceUnavailable, "backend not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
