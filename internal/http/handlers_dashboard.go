package http

import (
	"net/http"

	"budget/internal/aggregate"
	"budget/internal/core"
)

// Dashboard handlers read a snapshot once and derive everything from it, so
// a concurrent edit never yields a half-updated figure.

// snapshot returns the session ledger, or writes an error and returns false.
func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) (core.Ledger, bool) {
	l, err := workspaceFrom(r.Context()).Snapshot()
	if err != nil {
		s.writeWorkspaceError(w, r, err)
		return nil, false
	}
	return l, true
}

func (s *Server) viewAndSnapshot(w http.ResponseWriter, r *http.Request) (core.View, core.Ledger, bool) {
	v, err := ParseViewParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return v, nil, false
	}
	l, ok := s.snapshot(w, r)
	return v, l, ok
}

func (s *Server) targetAndSnapshot(w http.ResponseWriter, r *http.Request) (LedgerTarget, core.Ledger, bool) {
	t, err := ParseLedgerTarget(r, false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return t, nil, false
	}
	l, ok := s.snapshot(w, r)
	return t, l, ok
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	v, l, ok := s.viewAndSnapshot(w, r)
	if !ok {
		return
	}
	stats := aggregate.AllMonthsStats(l, v)
	if stats == nil {
		stats = []aggregate.MonthStats{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"view": v.String(), "months": stats})
}

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	v, l, ok := s.viewAndSnapshot(w, r)
	if !ok {
		return
	}
	points := aggregate.Trend(l, v)
	if points == nil {
		points = []aggregate.TrendPoint{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"view": v.String(), "points": points})
}

func (s *Server) handleCompareTrend(w http.ResponseWriter, r *http.Request) {
	l, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	points := aggregate.CompareTrend(l)
	if points == nil {
		points = []aggregate.ComparePoint{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"points": points})
}

func (s *Server) handleAverages(w http.ResponseWriter, r *http.Request) {
	v, l, ok := s.viewAndSnapshot(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, aggregate.ComputeAverages(l, v))
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	t, l, ok := s.targetAndSnapshot(w, r)
	if !ok {
		return
	}
	sum := aggregate.Summarize(l, t.Month, t.View)
	writeJSON(w, http.StatusOK, newSummaryResponse(sum, s.currency))
}

func (s *Server) handleBreakdown(w http.ResponseWriter, r *http.Request) {
	t, l, ok := s.targetAndSnapshot(w, r)
	if !ok {
		return
	}
	slices := aggregate.ExpenseBreakdown(l.Bucket(t.Month, t.View))
	if slices == nil {
		slices = []aggregate.Slice{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"month": t.Month.String(), "view": t.View.String(), "slices": slices})
}

func (s *Server) handleTop(w http.ResponseWriter, r *http.Request) {
	k, err := ParseTopK(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, l, ok := s.targetAndSnapshot(w, r)
	if !ok {
		return
	}
	top := aggregate.TopExpenses(l.Bucket(t.Month, t.View), k)
	if top == nil {
		top = []aggregate.Ranked{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"month": t.Month.String(), "view": t.View.String(), "top": top})
}

func (s *Server) handleComparison(w http.ResponseWriter, r *http.Request) {
	t, l, ok := s.targetAndSnapshot(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, aggregate.Compare(l, t.Month))
}

func (s *Server) handleMonthStatus(w http.ResponseWriter, r *http.Request) {
	t, l, ok := s.targetAndSnapshot(w, r)
	if !ok {
		return
	}
	resp := monthStatusResponse{Month: t.Month.String(), Status: aggregate.MonthStatus(l, t.Month)}
	if resp.Status != nil {
		resp.Display = core.FormatAmount(*resp.Status, s.currency)
	}
	writeJSON(w, http.StatusOK, resp)
}
