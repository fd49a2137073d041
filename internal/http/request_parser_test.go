package http

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"budget/internal/aggregate"
	"budget/internal/core"
)

func TestEntryPatchAttr(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantAttr core.Attr
		wantRaw  string
		wantErr  bool
	}{
		{"name", `{"name":"  Rent\u0007 "}`, core.AttrName, "Rent", false},
		{"string amount", `{"amount":"12.5kg"}`, core.AttrAmount, "12.5kg", false},
		{"number amount", `{"amount":42}`, core.AttrAmount, "42", false},
		{"both", `{"name":"a","amount":1}`, "", "", true},
		{"neither", `{}`, "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p entryPatch
			if err := json.Unmarshal([]byte(tt.body), &p); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			attr, raw, err := p.attr()
			if (err != nil) != tt.wantErr {
				t.Fatalf("attr() error = %v, wantErr %v", err, tt.wantErr)
			}
			if attr != tt.wantAttr || raw != tt.wantRaw {
				t.Errorf("attr() = (%q, %q), want (%q, %q)", attr, raw, tt.wantAttr, tt.wantRaw)
			}
		})
	}
}

func TestParseTopK(t *testing.T) {
	tests := []struct {
		query   string
		want    int
		wantErr bool
	}{
		{"", aggregate.DefaultTopK, false},
		{"?k=3", 3, false},
		{"?k=0", 0, true},
		{"?k=abc", 0, true},
		{"?k=101", 0, true},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/months/March/top"+tt.query, nil)
		got, err := ParseTopK(r)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseTopK(%q) = %d, %v; want %d, wantErr %v", tt.query, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"Bearer":       "",
		"":             "",
		"Bearer a b":   "a b",
	}
	for header, want := range tests {
		if got := bearerToken(header); got != want {
			t.Errorf("bearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}

func TestSanitizeInput(t *testing.T) {
	if got := sanitizeInput("  a\x00b\tc\n "); got != "ab\tc" {
		t.Errorf("sanitizeInput() = %q", got)
	}
}
