package google

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"budget/internal/core"
	"budget/internal/docstore"
)

// fakeValues emulates a sheet as a grid of rows keyed by tab name.
type fakeValues struct {
	mu      sync.Mutex
	tabs    map[string][][]interface{}
	getErr  error
	updates int
	appends int
}

func newFakeValues() *fakeValues {
	return &fakeValues{tabs: make(map[string][][]interface{})}
}

var rangeRe = regexp.MustCompile(`^([^!]+)!A(\d*)(?::[A-Z](\d*))?$`)

func parseRange(rng string) (tab string, start int) {
	m := rangeRe.FindStringSubmatch(rng)
	if m == nil {
		panic("bad range " + rng)
	}
	start = 1
	if m[2] != "" {
		start, _ = strconv.Atoi(m[2])
	}
	return m[1], start
}

func (f *fakeValues) Get(_ context.Context, rng string) ([][]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	tab, start := parseRange(rng)
	rows := f.tabs[tab]
	if start-1 >= len(rows) {
		return nil, nil
	}
	out := make([][]interface{}, 0, len(rows))
	for _, r := range rows[start-1:] {
		out = append(out, append([]interface{}(nil), r...))
	}
	return out, nil
}

func (f *fakeValues) Update(_ context.Context, rng, _ string, rows [][]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	tab, start := parseRange(rng)
	grid := f.tabs[tab]
	for len(grid) < start-1+len(rows) {
		grid = append(grid, nil)
	}
	for i, r := range rows {
		grid[start-1+i] = r
	}
	f.tabs[tab] = grid
	return nil
}

func (f *fakeValues) Append(_ context.Context, rng, _ string, rows [][]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appends++
	tab, _ := parseRange(rng)
	if len(f.tabs[tab]) == 0 {
		f.tabs[tab] = [][]interface{}{{"user_id", "payload", "last_updated"}}
	}
	f.tabs[tab] = append(f.tabs[tab], rows...)
	return nil
}

func (f *fakeValues) Clear(_ context.Context, rng string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tab, start := parseRange(rng)
	if start-1 < len(f.tabs[tab]) {
		f.tabs[tab] = f.tabs[tab][:start-1]
	}
	return nil
}

func testDoc(stamp time.Time, by string) docstore.Document {
	return docstore.Document{
		MonthlyData: core.Ledger{time.August: core.FlatRecord(core.Bucket{
			Income:   []core.Entry{{ID: "1", Name: "Salary", Amount: decimal.NewFromInt(1000)}},
			Expenses: []core.Entry{},
		})},
		LastUpdated: stamp,
		UpdatedBy:   by,
	}
}

func TestWriteAppendsThenUpdates(t *testing.T) {
	fake := newFakeValues()
	c := newClient(fake, Config{})
	ctx := context.Background()
	stamp := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)

	if err := c.Write(ctx, "u1", testDoc(stamp, "a")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := c.Write(ctx, "u1", testDoc(stamp.Add(time.Minute), "b")); err != nil {
		t.Fatalf("second write: %v", err)
	}
	if fake.appends != 1 || fake.updates != 1 {
		t.Fatalf("appends=%d updates=%d", fake.appends, fake.updates)
	}

	snap, err := c.Read(ctx, "u1")
	if err != nil || !snap.Exists {
		t.Fatalf("read = %+v, %v", snap, err)
	}
	if snap.Document.UpdatedBy != "b" || !snap.Document.Equal(testDoc(stamp.Add(time.Minute), "b")) {
		t.Fatalf("document = %+v", snap.Document)
	}
}

func TestReadMissingUser(t *testing.T) {
	c := newClient(newFakeValues(), Config{})
	snap, err := c.Read(context.Background(), "ghost")
	if err != nil || snap.Exists {
		t.Fatalf("read = %+v, %v", snap, err)
	}
}

func TestReadErrorPropagates(t *testing.T) {
	fake := newFakeValues()
	fake.getErr = errors.New("quota exceeded")
	c := newClient(fake, Config{})
	if _, err := c.Subscribe(context.Background(), "u1"); err == nil {
		t.Fatal("expected subscribe to fail when the initial read fails")
	}
}

func TestSubscribePollsForChanges(t *testing.T) {
	fake := newFakeValues()
	c := newClient(fake, Config{PollInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := c.Subscribe(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if first := <-ch; first.Exists {
		t.Fatalf("initial = %+v", first)
	}

	other := newClient(fake, Config{})
	if err := other.Write(context.Background(), "u1", testDoc(time.Now().UTC(), "peer")); err != nil {
		t.Fatal(err)
	}
	select {
	case snap := <-ch:
		if !snap.Exists || snap.Document.UpdatedBy != "peer" {
			t.Fatalf("snapshot = %+v", snap)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not pick up the change")
	}
}

func TestWriteSummaryReplacesUserRows(t *testing.T) {
	fake := newFakeValues()
	fake.tabs["Summary"] = [][]interface{}{
		{"user_id", "month", "view", "income", "expenses", "balance", "savings_rate", "updated_at"},
		{"u1", "January", "flat", "1", "1", "0", "0", "x"},
		{"u2", "January", "flat", "5", "1", "4", "80", "x"},
	}
	c := newClient(fake, Config{})
	rows := []docstore.SummaryRow{
		{UserID: "u1", Month: "August", View: "actual", Income: decimal.NewFromInt(1000), Expenses: decimal.NewFromInt(500), Balance: decimal.NewFromInt(500), SavingsRate: decimal.NewFromInt(50)},
		{UserID: "u1", Month: "September", View: "actual", Income: decimal.NewFromInt(10), Expenses: decimal.Zero, Balance: decimal.NewFromInt(10), SavingsRate: decimal.NewFromInt(100)},
	}
	if err := c.WriteSummary(context.Background(), "u1", rows); err != nil {
		t.Fatalf("WriteSummary: %v", err)
	}
	got := fake.tabs["Summary"]
	if len(got) != 4 {
		t.Fatalf("rows = %d: %v", len(got), got)
	}
	if fmt.Sprint(got[1][0]) != "u2" || fmt.Sprint(got[2][1]) != "August" || fmt.Sprint(got[2][3]) != "1000.00" {
		t.Fatalf("summary grid = %v", got)
	}
}
