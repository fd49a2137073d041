package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

type entryJSON struct {
	ID     json.RawMessage `json:"id"`
	Name   string          `json:"name"`
	Amount json.RawMessage `json:"amount"`
}

// MarshalJSON writes the amount as a bare JSON number.
func (e Entry) MarshalJSON() ([]byte, error) {
	amount := e.Amount.String()
	return json.Marshal(struct {
		ID     string      `json:"id"`
		Name   string      `json:"name"`
		Amount json.Number `json:"amount"`
	}{e.ID, e.Name, json.Number(amount)})
}

// UnmarshalJSON accepts numeric or string ids and numeric, string or null
// amounts. Amounts are coerced, never rejected.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw entryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	id, err := decodeID(raw.ID)
	if err != nil {
		return err
	}
	*e = Entry{ID: id, Name: raw.Name, Amount: decodeAmount(raw.Amount)}
	return nil
}

func decodeID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("entry id: %w", err)
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("entry id: %w", err)
	}
	return n.String(), nil
}

func decodeAmount(raw json.RawMessage) decimal.Decimal {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decimal.Zero
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Zero
		}
		return ParseAmount(s)
	}
	return ParseAmount(string(raw))
}

// MarshalJSON writes each record in its own shape.
func (r MonthRecord) MarshalJSON() ([]byte, error) {
	if r.Kind == KindSplit {
		return json.Marshal(struct {
			Expected Bucket `json:"expected"`
			Actual   Bucket `json:"actual"`
		}{r.Expected.normalized(), r.Actual.normalized()})
	}
	return json.Marshal(r.Flat.normalized())
}

// UnmarshalJSON detects the shape from the keys present: an object with
// "expected" or "actual" is a split record, anything else is flat.
func (r *MonthRecord) UnmarshalJSON(data []byte) error {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return fmt.Errorf("month record: %w", err)
	}
	_, hasExpected := keys["expected"]
	_, hasActual := keys["actual"]
	if hasExpected || hasActual {
		var s struct {
			Expected Bucket `json:"expected"`
			Actual   Bucket `json:"actual"`
		}
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("month record: %w", err)
		}
		*r = SplitRecord(s.Expected, s.Actual)
		return nil
	}
	var b Bucket
	if err := json.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("month record: %w", err)
	}
	*r = FlatRecord(b)
	return nil
}

// MarshalJSON keys months by their English name.
func (l Ledger) MarshalJSON() ([]byte, error) {
	out := make(map[string]MonthRecord, len(l))
	for m, r := range l {
		out[m.String()] = r
	}
	return json.Marshal(out)
}

func (l *Ledger) UnmarshalJSON(data []byte) error {
	var raw map[string]MonthRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Ledger, len(raw))
	for name, r := range raw {
		m, err := ParseMonth(name)
		if err != nil {
			return fmt.Errorf("ledger key %s: %w", strconv.Quote(name), err)
		}
		out[m] = r
	}
	*l = out
	return nil
}

// normalized replaces nil lists with empty ones so they encode as [].
func (b Bucket) normalized() Bucket {
	if b.Income == nil {
		b.Income = []Entry{}
	}
	if b.Expenses == nil {
		b.Expenses = []Entry{}
	}
	return b
}

// MonthKeys lists the English month names present in l, in calendar order.
func (l Ledger) MonthKeys() []string {
	months := l.Months()
	out := make([]string, len(months))
	for i, m := range months {
		out[i] = m.String()
	}
	return out
}

