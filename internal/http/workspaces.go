package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"budget/internal/core"
	"budget/internal/log"
	"budget/internal/services"
)

type ctxKey int

const workspaceKey ctxKey = iota

// readyTimeout bounds how long a request waits for the first snapshot of a
// freshly opened workspace.
const readyTimeout = 5 * time.Second

// newWorkspace builds an unattached workspace with its own client id, so
// the coordinator recognises its own writes.
func (s *Server) newWorkspace() *services.Workspace {
	cfg := s.syncCfg
	cfg.ClientID = uuid.NewString()
	ws := services.NewWorkspace(s.provider, s.store, cfg, s.logger)
	ws.Gate().WithMetrics(s.metrics)
	ws.Coordinator().WithMetrics(s.metrics)
	return ws
}

// workspaceFor returns the cached workspace of session, opening one on a
// miss.
func (s *Server) workspaceFor(ctx context.Context, session core.Session) (*services.Workspace, error) {
	if ws, ok := s.workspaces.Get(session.Token); ok {
		return ws, nil
	}

	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	if ws, ok := s.workspaces.Get(session.Token); ok {
		return ws, nil
	}

	ws := s.newWorkspace()
	if err := ws.Open(ctx, session); err != nil {
		return nil, err
	}
	s.storeWorkspace(session.Token, ws)
	return ws, nil
}

func (s *Server) storeWorkspace(token string, ws *services.Workspace) {
	s.workspaces.Set(token, ws)
	s.metrics.SetActiveSessions(s.workspaces.Size())
}

// closeTimeout bounds the final flush of a workspace leaving the cache.
const closeTimeout = 10 * time.Second

// onWorkspaceEvicted closes the evicted workspace. The close runs on its
// own goroutine: eviction can fire from inside a provider sign-out, while
// the workspace gate still holds its lock.
func (s *Server) onWorkspaceEvicted(token string, ws *services.Workspace) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		s.closeWorkspace(ctx, ws)
		s.metrics.SetActiveSessions(s.workspaces.Size())
	}()
}

func (s *Server) closeWorkspace(ctx context.Context, ws *services.Workspace) error {
	userID := ""
	if session := ws.Session(); session != nil {
		userID = session.UserID
	}
	if err := ws.Close(ctx); err != nil {
		s.logger.ErrorContext(ctx, "Unsaved edits lost while closing workspace",
			log.FieldUserID, userID,
			log.FieldOperation, log.OpShutdown,
			log.FieldError, err)
		return err
	}
	return nil
}

// requireSession resolves the bearer token to a loaded workspace.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		session, err := s.provider.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}

		ctx := r.Context()
		ws, err := s.workspaceFor(ctx, session)
		if err != nil {
			log.FromContext(ctx).ErrorContext(ctx, "Failed to open workspace", log.FieldUserID, session.UserID, log.FieldError, err)
			writeError(w, http.StatusInternalServerError, "failed to open workspace")
			return
		}

		readyCtx, cancel := context.WithTimeout(ctx, readyTimeout)
		err = ws.WaitReady(readyCtx)
		cancel()
		switch {
		case err == nil:
		case errors.Is(err, context.DeadlineExceeded):
			writeError(w, http.StatusServiceUnavailable, "ledger is still loading")
			return
		case errors.Is(err, services.ErrNoSession), errors.Is(err, services.ErrNotRunning):
			// Lost a race with sign-out or eviction.
			writeError(w, http.StatusUnauthorized, "session ended")
			return
		default:
			writeError(w, http.StatusServiceUnavailable, "ledger unavailable")
			return
		}

		log.FromContext(ctx).DebugContext(ctx, "Session resolved", log.FieldUserID, session.UserID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, workspaceKey, ws)))
	})
}

func workspaceFrom(ctx context.Context) *services.Workspace {
	ws, _ := ctx.Value(workspaceKey).(*services.Workspace)
	return ws
}
