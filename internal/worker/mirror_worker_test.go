package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"budget/internal/amqp"
	"budget/internal/core"
	"budget/internal/docstore"
	"budget/internal/storage"
)

type fakeSource struct {
	mu       sync.Mutex
	docs     map[string]storage.StoredDocument
	pending  []storage.PendingMirror
	mirrored map[string]int64
	failures map[string]error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		docs:     make(map[string]storage.StoredDocument),
		mirrored: make(map[string]int64),
		failures: make(map[string]error),
	}
}

func (s *fakeSource) put(userID string, version int64, l core.Ledger) {
	s.docs[userID] = storage.StoredDocument{
		Snapshot: docstore.Snapshot{Exists: true, Document: docstore.Document{MonthlyData: l}},
		Version:  version,
	}
	s.pending = append(s.pending, storage.PendingMirror{UserID: userID, Version: version})
}

func (s *fakeSource) ReadStored(_ context.Context, userID string) (storage.StoredDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[userID], nil
}

func (s *fakeSource) GetPendingMirrors(_ context.Context, limit int) ([]storage.PendingMirror, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.PendingMirror
	for _, p := range s.pending {
		if v, ok := s.mirrored[p.UserID]; ok && v >= p.Version {
			continue
		}
		out = append(out, p)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeSource) MarkMirrored(_ context.Context, userID string, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mirrored[userID] = version
	return nil
}

func (s *fakeSource) MarkMirrorError(_ context.Context, userID string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[userID] = cause
	return nil
}

type fakeSink struct {
	mu   sync.Mutex
	rows map[string][]docstore.SummaryRow
	err  error
}

func (s *fakeSink) WriteSummary(_ context.Context, userID string, rows []docstore.SummaryRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.rows == nil {
		s.rows = make(map[string][]docstore.SummaryRow)
	}
	s.rows[userID] = rows
	return nil
}

type countingRecorder struct{ ok, failed int }

func (c *countingRecorder) ObserveMirror(result string) {
	if result == "ok" {
		c.ok++
	} else {
		c.failed++
	}
}

func amount(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func sampleLedger() core.Ledger {
	return core.Ledger{
		time.January: core.FlatRecord(core.Bucket{
			Income:   []core.Entry{{ID: "1", Name: "Salary", Amount: amount("2000")}},
			Expenses: []core.Entry{{ID: "2", Name: "Rent", Amount: amount("500")}},
		}),
		time.March: core.SplitRecord(
			core.Bucket{Income: []core.Entry{{ID: "3", Name: "Salary", Amount: amount("3000")}}},
			core.Bucket{Expenses: []core.Entry{{ID: "4", Name: "Food", Amount: amount("100")}}},
		),
	}
}

var fixedNow = time.Date(2024, time.August, 14, 12, 0, 0, 0, time.UTC)

func TestSummaryRows(t *testing.T) {
	rows := SummaryRows("u1", sampleLedger(), fixedNow)

	want := []struct {
		month, view               string
		income, expenses, balance string
		rate                      string
	}{
		{"January", "flat", "2000", "500", "1500", "75"},
		{"March", "expected", "3000", "0", "3000", "100"},
		{"March", "actual", "0", "100", "-100", "0"},
	}
	if len(rows) != len(want) {
		t.Fatalf("got %d rows, want %d: %+v", len(rows), len(want), rows)
	}
	for i, w := range want {
		r := rows[i]
		if r.UserID != "u1" || r.Month != w.month || r.View != w.view {
			t.Errorf("row %d = %s/%s/%s, want u1/%s/%s", i, r.UserID, r.Month, r.View, w.month, w.view)
		}
		if !r.Income.Equal(amount(w.income)) || !r.Expenses.Equal(amount(w.expenses)) || !r.Balance.Equal(amount(w.balance)) {
			t.Errorf("row %d totals = %s/%s/%s, want %s/%s/%s", i, r.Income, r.Expenses, r.Balance, w.income, w.expenses, w.balance)
		}
		if !r.SavingsRate.Equal(amount(w.rate)) {
			t.Errorf("row %d savings rate = %s, want %s", i, r.SavingsRate, w.rate)
		}
		if !r.UpdatedAt.Equal(fixedNow) {
			t.Errorf("row %d UpdatedAt = %v", i, r.UpdatedAt)
		}
	}
}

func TestSummaryRows_EmptyLedger(t *testing.T) {
	if rows := SummaryRows("u1", core.Ledger{}, fixedNow); len(rows) != 0 {
		t.Errorf("got %d rows for an empty ledger", len(rows))
	}
}

func TestHandleLedgerUpdated(t *testing.T) {
	source := newFakeSource()
	source.put("u1", 3, sampleLedger())
	sink := &fakeSink{}
	rec := &countingRecorder{}
	w := NewMirrorWorker(source, sink, 10, nil).WithMetrics(rec).WithClock(func() time.Time { return fixedNow })

	msg := amqp.NewLedgerUpdatedMessage("u1", 2, "client-a", "app-1")
	if err := w.HandleLedgerUpdated(context.Background(), msg); err != nil {
		t.Fatalf("HandleLedgerUpdated() error = %v", err)
	}
	if got := len(sink.rows["u1"]); got != 3 {
		t.Errorf("mirrored %d rows, want 3", got)
	}
	if v := source.mirrored["u1"]; v != 3 {
		t.Errorf("mirrored version = %d, want the stored version 3", v)
	}
	if rec.ok != 1 {
		t.Errorf("ok mirrors = %d, want 1", rec.ok)
	}
}

func TestHandleLedgerUpdated_MissingDocument(t *testing.T) {
	source := newFakeSource()
	sink := &fakeSink{}
	w := NewMirrorWorker(source, sink, 10, nil)

	if err := w.HandleLedgerUpdated(context.Background(), amqp.NewLedgerUpdatedMessage("ghost", 1, "", "")); err != nil {
		t.Fatalf("HandleLedgerUpdated() error = %v", err)
	}
	if len(sink.rows) != 0 {
		t.Errorf("unexpected summary write: %+v", sink.rows)
	}
}

func TestWriteFailureRecordsError(t *testing.T) {
	source := newFakeSource()
	source.put("u1", 1, sampleLedger())
	sink := &fakeSink{err: errors.New("quota exceeded")}
	rec := &countingRecorder{}
	w := NewMirrorWorker(source, sink, 10, nil).WithMetrics(rec)

	err := w.HandleLedgerUpdated(context.Background(), amqp.NewLedgerUpdatedMessage("u1", 1, "", ""))
	if err == nil {
		t.Fatal("expected an error")
	}
	if source.failures["u1"] == nil {
		t.Error("mirror error not recorded")
	}
	if _, ok := source.mirrored["u1"]; ok {
		t.Error("failed mirror marked as mirrored")
	}
	if rec.failed != 1 {
		t.Errorf("failed mirrors = %d, want 1", rec.failed)
	}
}

func TestProcessPending(t *testing.T) {
	source := newFakeSource()
	source.put("u1", 1, sampleLedger())
	source.put("u2", 4, core.Ledger{time.May: core.FlatRecord(core.Bucket{})})
	sink := &fakeSink{}
	w := NewMirrorWorker(source, sink, 10, nil)
	ctx := context.Background()

	if err := w.ProcessPending(ctx); err != nil {
		t.Fatalf("ProcessPending() error = %v", err)
	}
	if len(sink.rows) != 2 {
		t.Fatalf("mirrored %d users, want 2", len(sink.rows))
	}
	if source.mirrored["u2"] != 4 {
		t.Errorf("u2 mirrored version = %d, want 4", source.mirrored["u2"])
	}

	sink.rows = nil
	if err := w.StartupCheck(ctx); err != nil {
		t.Fatalf("StartupCheck() error = %v", err)
	}
	if len(sink.rows) != 0 {
		t.Errorf("already mirrored users written again: %+v", sink.rows)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	w := NewMirrorWorker(newFakeSource(), &fakeSink{}, 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, 5*time.Millisecond) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
