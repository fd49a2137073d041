package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"budget/internal/core"
	"budget/internal/log"
)

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	l, err := workspaceFrom(r.Context()).Snapshot()
	if err != nil {
		s.writeWorkspaceError(w, r, err)
		return
	}
	if l == nil {
		l = core.Ledger{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"monthlyData": l})
}

func (s *Server) handleBucket(w http.ResponseWriter, r *http.Request) {
	t, err := ParseLedgerTarget(r, false)
	if err != nil {
		s.writeWorkspaceError(w, r, err)
		return
	}
	l, err := workspaceFrom(r.Context()).Snapshot()
	if err != nil {
		s.writeWorkspaceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newBucketResponse(t, l.Bucket(t.Month, t.View)))
}

func (s *Server) handleAddEntry(w http.ResponseWriter, r *http.Request) {
	t, err := ParseLedgerTarget(r, true)
	if err != nil {
		s.writeWorkspaceError(w, r, err)
		return
	}
	ctx := r.Context()
	e, err := workspaceFrom(ctx).AddEntry(ctx, t.Month, t.View, t.Field)
	if err != nil {
		s.writeWorkspaceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entryResponse{
		Month: t.Month.String(),
		View:  t.View.String(),
		Field: t.Field,
		Entry: e,
	})
}

func (s *Server) handleUpdateEntry(w http.ResponseWriter, r *http.Request) {
	t, err := ParseLedgerTarget(r, true)
	if err != nil {
		s.writeWorkspaceError(w, r, err)
		return
	}
	var patch entryPatch
	if err := DecodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	attr, raw, err := patch.attr()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	id := chi.URLParam(r, "id")
	b, err := workspaceFrom(ctx).UpdateEntry(ctx, t.Month, t.View, t.Field, id, attr, raw)
	if err != nil {
		s.writeWorkspaceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newBucketResponse(t, b))
}

func (s *Server) handleRemoveEntry(w http.ResponseWriter, r *http.Request) {
	t, err := ParseLedgerTarget(r, true)
	if err != nil {
		s.writeWorkspaceError(w, r, err)
		return
	}
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	b, err := workspaceFrom(ctx).RemoveEntry(ctx, t.Month, t.View, t.Field, id)
	if err != nil {
		s.writeWorkspaceError(w, r, err)
		return
	}
	log.FromContext(ctx).DebugContext(ctx, "Entry removed", log.FieldEntryID, id)
	writeJSON(w, http.StatusOK, newBucketResponse(t, b))
}

func (s *Server) handleSetField(w http.ResponseWriter, r *http.Request) {
	t, err := ParseLedgerTarget(r, true)
	if err != nil {
		s.writeWorkspaceError(w, r, err)
		return
	}
	var req setFieldRequest
	if err := DecodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for i := range req.Entries {
		req.Entries[i].Name = sanitizeInput(req.Entries[i].Name)
		req.Entries[i].Amount = core.ClampAmount(req.Entries[i].Amount)
	}

	ctx := r.Context()
	b, err := workspaceFrom(ctx).SetField(ctx, t.Month, t.View, t.Field, req.Entries)
	if err != nil {
		s.writeWorkspaceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newBucketResponse(t, b))
}

func (s *Server) handleCopyPrevious(w http.ResponseWriter, r *http.Request) {
	t, err := ParseLedgerTarget(r, false)
	if err != nil {
		s.writeWorkspaceError(w, r, err)
		return
	}
	ctx := r.Context()
	b, err := workspaceFrom(ctx).CopyPreviousMonth(ctx, t.Month, t.View)
	if err != nil {
		s.writeWorkspaceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newBucketResponse(t, b))
}
