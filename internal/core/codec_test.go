package core

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestLedgerDecodesBothShapes(t *testing.T) {
	payload := `{
		"August": {"income": [{"id": 1723456789012, "name": "Salary", "amount": 1000}], "expenses": []},
		"September": {
			"expected": {"income": [{"id": "a", "name": "Salary", "amount": "1000"}], "expenses": []},
			"actual": {"income": [], "expenses": [{"id": "b", "name": "Rent", "amount": 400.5}]}
		}
	}`
	var l Ledger
	if err := json.Unmarshal([]byte(payload), &l); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	aug := l[time.August]
	if aug.Kind != KindFlat || aug.Flat.Income[0].ID != "1723456789012" {
		t.Fatalf("august = %+v", aug)
	}
	sep := l[time.September]
	if sep.Kind != KindSplit {
		t.Fatalf("september kind = %v", sep.Kind)
	}
	if !sep.Expected.Income[0].Amount.Equal(amt("1000")) {
		t.Fatalf("string amount not coerced: %s", sep.Expected.Income[0].Amount)
	}
	if !sep.Actual.Expenses[0].Amount.Equal(amt("400.5")) {
		t.Fatalf("actual rent = %s", sep.Actual.Expenses[0].Amount)
	}
}

func TestLedgerRoundTrip(t *testing.T) {
	l := Ledger{
		time.January: FlatRecord(Bucket{Income: []Entry{{ID: "1", Name: "Salary", Amount: amt("1000")}}, Expenses: []Entry{}}),
		time.March: SplitRecord(
			Bucket{Income: []Entry{}, Expenses: []Entry{{ID: "2", Name: "Rent", Amount: amt("400")}}},
			Bucket{Income: []Entry{}, Expenses: []Entry{}},
		),
	}
	data, err := json.Marshal(l)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Ledger
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !LedgersEqual(l, back) {
		t.Fatalf("round trip mismatch:\n%s", data)
	}
}

func TestEntryAmountEncodesAsNumber(t *testing.T) {
	data, err := json.Marshal(Entry{ID: "x", Name: "Food", Amount: amt("12.5")})
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if _, ok := raw["amount"].(float64); !ok {
		t.Fatalf("amount encoded as %T: %s", raw["amount"], data)
	}
}

func TestEmptyListsEncodeAsArrays(t *testing.T) {
	data, err := json.Marshal(Ledger{time.August: FlatRecord(Bucket{})})
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(raw["August"]["income"], []any{}) {
		t.Fatalf("income encoded as %v", raw["August"]["income"])
	}
}

func TestUnknownMonthKeyRejected(t *testing.T) {
	var l Ledger
	if err := json.Unmarshal([]byte(`{"Smarch": {"income": [], "expenses": []}}`), &l); err == nil {
		t.Fatal("expected error for unknown month key")
	}
}
