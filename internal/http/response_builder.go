package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"budget/internal/aggregate"
	"budget/internal/core"
	"budget/internal/services"
)

// ResponseBuilder assembles a JSON response with optional extra headers.
type ResponseBuilder struct {
	statusCode int
	headers    map[string]string
	body       any
}

func NewResponse() *ResponseBuilder {
	return &ResponseBuilder{statusCode: http.StatusOK, headers: make(map[string]string)}
}

func (b *ResponseBuilder) Status(code int) *ResponseBuilder {
	b.statusCode = code
	return b
}

func (b *ResponseBuilder) Header(name, value string) *ResponseBuilder {
	b.headers[name] = value
	return b
}

func (b *ResponseBuilder) Body(v any) *ResponseBuilder {
	b.body = v
	return b
}

// Write sends the response. A nil body writes headers only.
func (b *ResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.body == nil {
		w.WriteHeader(b.statusCode)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	_ = json.NewEncoder(w).Encode(b.body)
}

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	NewResponse().Status(status).Body(v).Write(w)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeAuthError maps a classified auth failure to its status code.
func writeAuthError(w http.ResponseWriter, ae *services.AuthError) {
	status := http.StatusInternalServerError
	switch ae.Reason {
	case services.ReasonAccountNotFound, services.ReasonWrongCredential:
		status = http.StatusUnauthorized
	case services.ReasonAccountExists:
		status = http.StatusConflict
	case services.ReasonWeakCredential, services.ReasonMalformedIdentifier:
		status = http.StatusBadRequest
	}
	msg := ae.Message
	if status == http.StatusInternalServerError {
		msg = "authentication failed"
	}
	writeJSON(w, status, errorBody{Error: msg, Reason: string(ae.Reason)})
}

type (
	sessionResponse struct {
		Token     string    `json:"token"`
		UserID    string    `json:"userId"`
		Email     string    `json:"email"`
		ExpiresAt time.Time `json:"expiresAt"`
	}

	bucketResponse struct {
		Month string      `json:"month"`
		View  string      `json:"view"`
		Data  core.Bucket `json:"data"`
	}

	entryResponse struct {
		Month string     `json:"month"`
		View  string     `json:"view"`
		Field core.Field `json:"field"`
		Entry core.Entry `json:"entry"`
	}

	syncStatusResponse struct {
		Loaded    bool       `json:"loaded"`
		Dirty     bool       `json:"dirty"`
		Writing   bool       `json:"writing"`
		Status    string     `json:"status,omitempty"`
		Message   string     `json:"message,omitempty"`
		LastSaved *time.Time `json:"lastSaved,omitempty"`
	}

	// summaryResponse adds display strings to the raw figures.
	summaryResponse struct {
		aggregate.Summary
		Display map[string]string `json:"display"`
	}

	monthStatusResponse struct {
		Month   string           `json:"month"`
		Status  *decimal.Decimal `json:"status"`
		Display string           `json:"display,omitempty"`
	}
)

func newSessionResponse(s core.Session) sessionResponse {
	return sessionResponse{Token: s.Token, UserID: s.UserID, Email: s.Email, ExpiresAt: s.ExpiresAt}
}

func newBucketResponse(t LedgerTarget, b core.Bucket) bucketResponse {
	return bucketResponse{Month: t.Month.String(), View: t.View.String(), Data: b}
}

func newSyncStatusResponse(st services.SyncState) syncStatusResponse {
	resp := syncStatusResponse{
		Loaded:  st.Loaded,
		Dirty:   st.Dirty,
		Writing: st.Writing,
		Status:  string(st.Status),
		Message: st.Message(),
	}
	if !st.LastSaved.IsZero() {
		ts := st.LastSaved
		resp.LastSaved = &ts
	}
	return resp
}

func newSummaryResponse(sum aggregate.Summary, currency string) summaryResponse {
	display := map[string]string{
		"income":      core.FormatAmount(sum.Totals.Income, currency),
		"expenses":    core.FormatAmount(sum.Totals.Expenses, currency),
		"balance":     core.FormatAmount(sum.Totals.Balance, currency),
		"avgIncome":   core.FormatAmount(sum.Averages.Income, currency),
		"avgExpenses": core.FormatAmount(sum.Averages.Expenses, currency),
		"savingsRate": aggregate.ClampRate(sum.SavingsRate).StringFixed(1) + "%",
	}
	if sum.Status != nil {
		display["status"] = core.FormatAmount(*sum.Status, currency)
	}
	return summaryResponse{Summary: sum, Display: display}
}
