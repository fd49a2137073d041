package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"budget/internal/aggregate"
	"budget/internal/core"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// LedgerTarget is the month, view and field addressed by a request.
type LedgerTarget struct {
	Month time.Month
	View  core.View
	Field core.Field
}

// ParseLedgerTarget reads {month} and optionally {field} from the route
// and ?view= from the query. withField controls whether {field} is required.
func ParseLedgerTarget(r *http.Request, withField bool) (LedgerTarget, error) {
	var t LedgerTarget
	m, err := core.ParseMonth(chi.URLParam(r, "month"))
	if err != nil {
		return t, err
	}
	t.Month = m

	t.View, err = ParseViewParam(r)
	if err != nil {
		return t, err
	}

	if withField {
		t.Field, err = core.ParseField(chi.URLParam(r, "field"))
		if err != nil {
			return t, err
		}
	}
	return t, nil
}

// ParseViewParam reads ?view=, defaulting to the flat view.
func ParseViewParam(r *http.Request) (core.View, error) {
	return core.ParseView(r.URL.Query().Get("view"))
}

// ParseTopK reads ?k=, defaulting to aggregate.DefaultTopK.
func ParseTopK(r *http.Request) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get("k"))
	if v == "" {
		return aggregate.DefaultTopK, nil
	}
	k, err := strconv.Atoi(v)
	if err != nil || k < 1 || k > 100 {
		return 0, fmt.Errorf("k must be between 1 and 100, got %q", v)
	}
	return k, nil
}

// DecodeJSON reads a bounded JSON body into dst, rejecting unknown fields
// and trailing data.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if dec.More() {
		return errors.New("request body must hold a single JSON value")
	}
	return nil
}

type (
	credentialsRequest struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	// entryPatch edits exactly one attribute. Amount is kept raw so both
	// numbers and free-form strings go through the same coercion.
	entryPatch struct {
		Name   *string          `json:"name"`
		Amount *json.RawMessage `json:"amount"`
	}

	setFieldRequest struct {
		Entries []core.Entry `json:"entries"`
	}
)

// attr returns the attribute the patch edits and its raw input.
func (p entryPatch) attr() (core.Attr, string, error) {
	switch {
	case p.Name != nil && p.Amount != nil:
		return "", "", errors.New("patch exactly one of name or amount")
	case p.Name != nil:
		return core.AttrName, sanitizeInput(*p.Name), nil
	case p.Amount != nil:
		return core.AttrAmount, rawAmount(*p.Amount), nil
	}
	return "", "", errors.New("patch exactly one of name or amount")
}

// rawAmount unwraps a JSON string, or passes a bare number through.
func rawAmount(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return sanitizeInput(s)
	}
	return strings.TrimSpace(string(raw))
}

func (c credentialsRequest) validate() error {
	if strings.TrimSpace(c.Email) == "" {
		return errors.New("email is required")
	}
	if c.Password == "" {
		return errors.New("password is required")
	}
	return nil
}
