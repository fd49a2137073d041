package http

import (
	"errors"
	"net/http"

	"budget/internal/core"
	"budget/internal/log"
	"budget/internal/services"
)

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	s.submitCredentials(w, r, services.ModeSignIn)
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	s.submitCredentials(w, r, services.ModeSignUp)
}

// submitCredentials runs the credentials through a fresh workspace gate.
// On success the workspace is already syncing and is cached under the new
// token.
func (s *Server) submitCredentials(w http.ResponseWriter, r *http.Request, mode services.Mode) {
	var req credentialsRequest
	if err := DecodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	ws := s.newWorkspace()
	session, err := ws.Gate().Submit(ctx, services.Credentials{
		Email:    sanitizeInput(req.Email),
		Password: req.Password,
		Mode:     mode,
	})
	if err != nil {
		var ae *services.AuthError
		if errors.As(err, &ae) {
			if ae.Reason == services.ReasonOther {
				log.FromContext(ctx).ErrorContext(ctx, "Authentication error", log.FieldOperation, mode.String(), log.FieldError, err)
			}
			writeAuthError(w, ae)
			return
		}
		writeError(w, http.StatusInternalServerError, "authentication failed")
		return
	}

	s.storeWorkspace(session.Token, ws)
	status := http.StatusOK
	if mode == services.ModeSignUp {
		status = http.StatusCreated
	}
	writeJSON(w, status, newSessionResponse(session))
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ws := workspaceFrom(ctx)
	if err := ws.Gate().SignOut(ctx); err != nil && !errors.Is(err, services.ErrNoSession) {
		// The local session is gone either way.
		log.FromContext(ctx).WarnContext(ctx, "Sign out reported an error", log.FieldError, err)
	}
	NewResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	st, err := workspaceFrom(r.Context()).Status()
	if err != nil {
		s.writeWorkspaceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSyncStatusResponse(st))
}

// writeWorkspaceError maps errors from workspace operations.
func (s *Server) writeWorkspaceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, services.ErrNoSession), errors.Is(err, services.ErrNotRunning):
		writeError(w, http.StatusUnauthorized, "session ended")
	case errors.Is(err, core.ErrInvalidMonth), errors.Is(err, core.ErrInvalidView),
		errors.Is(err, core.ErrInvalidField), errors.Is(err, core.ErrInvalidAttr):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		ctx := r.Context()
		log.FromContext(ctx).ErrorContext(ctx, "Workspace operation failed", log.FieldPath, r.URL.Path, log.FieldError, err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
