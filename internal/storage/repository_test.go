package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"budget/internal/auth"
	"budget/internal/core"
	"budget/internal/docstore"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "budget.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testDoc(stamp time.Time) docstore.Document {
	return docstore.Document{
		MonthlyData: core.Ledger{
			time.August: core.FlatRecord(core.Bucket{
				Income:   []core.Entry{{ID: "1", Name: "Salary", Amount: decimal.NewFromInt(1000)}},
				Expenses: []core.Entry{{ID: "2", Name: "Rent", Amount: decimal.RequireFromString("400.5")}},
			}),
			time.September: core.SplitRecord(
				core.Bucket{Income: []core.Entry{{ID: "3", Name: "Salary", Amount: decimal.NewFromInt(900)}}, Expenses: []core.Entry{}},
				core.Bucket{Income: []core.Entry{}, Expenses: []core.Entry{}},
			),
		},
		LastUpdated: stamp,
		UpdatedBy:   "client-a",
	}
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []int64
	err   error
}

func (n *recordingNotifier) PublishLedgerUpdated(_ context.Context, _ string, version int64, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, version)
	return n.err
}

func TestDocumentRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	stamp := time.Date(2025, 8, 12, 9, 30, 0, 0, time.UTC)

	missing, err := repo.Read(ctx, "u1")
	if err != nil || missing.Exists {
		t.Fatalf("read before write = %+v, %v", missing, err)
	}

	doc := testDoc(stamp)
	if err := repo.Write(ctx, "u1", doc); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := repo.ReadStored(ctx, "u1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !got.Exists || got.Version != 1 {
		t.Fatalf("stored = %+v", got)
	}
	if !got.Document.Equal(doc) {
		t.Fatalf("round trip mismatch: %+v", got.Document)
	}

	if err := repo.Write(ctx, "u1", doc); err != nil {
		t.Fatal(err)
	}
	again, _ := repo.ReadStored(ctx, "u1")
	if again.Version != 2 {
		t.Fatalf("version = %d, want 2", again.Version)
	}
}

func TestWriteNotifiesAndPublishes(t *testing.T) {
	repo := newTestRepo(t)
	n := &recordingNotifier{err: errors.New("broker down")}
	repo.SetNotifier(n, "proc-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := repo.Subscribe(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	<-ch

	if err := repo.Write(context.Background(), "u1", testDoc(time.Now().UTC())); err != nil {
		t.Fatalf("write must succeed even if notify fails: %v", err)
	}
	select {
	case snap := <-ch:
		if !snap.Exists || snap.Document.UpdatedBy != "client-a" {
			t.Fatalf("snapshot = %+v", snap)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot after write")
	}
	if len(n.calls) != 1 || n.calls[0] != 1 {
		t.Fatalf("notifier calls = %v", n.calls)
	}
}

func TestConcurrentWritesPublishStoredDocumentLast(t *testing.T) {
	repo := newTestRepo(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := repo.Subscribe(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	<-ch

	base := time.Date(2025, 8, 12, 9, 30, 0, 0, time.UTC)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc := testDoc(base.Add(time.Duration(i) * time.Second))
			doc.UpdatedBy = fmt.Sprintf("device-%d", i)
			if err := repo.Write(context.Background(), "u1", doc); err != nil {
				t.Errorf("write %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	stored, err := repo.ReadStored(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Version != 20 {
		t.Fatalf("version = %d, want 20", stored.Version)
	}
	select {
	case snap := <-ch:
		if snap.Document.UpdatedBy != stored.Document.UpdatedBy {
			t.Fatalf("last published by %q, stored by %q", snap.Document.UpdatedBy, stored.Document.UpdatedBy)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot after writes")
	}
}

func TestUserLocksReleaseEntries(t *testing.T) {
	var u userLocks
	unlockA := u.lock("a")
	unlockB := u.lock("b")
	unlockA()
	unlockB()
	if len(u.locks) != 0 {
		t.Fatalf("locks left = %d", len(u.locks))
	}
}

func TestHandleLedgerUpdatedSkipsOwnOrigin(t *testing.T) {
	repo := newTestRepo(t)
	repo.SetNotifier(&recordingNotifier{}, "proc-1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, _ := repo.Subscribe(ctx, "u1")
	<-ch

	if err := repo.HandleLedgerUpdated(ctx, "u1", "proc-1"); err != nil {
		t.Fatal(err)
	}
	select {
	case snap := <-ch:
		t.Fatalf("unexpected snapshot for own notification: %+v", snap)
	case <-time.After(50 * time.Millisecond):
	}

	if err := repo.HandleLedgerUpdated(ctx, "u1", "proc-2"); err != nil {
		t.Fatal(err)
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("foreign notification did not refresh subscribers")
	}
}

func TestPendingMirrors(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	if err := repo.Write(ctx, "u1", testDoc(time.Now().UTC())); err != nil {
		t.Fatal(err)
	}
	pending, err := repo.GetPendingMirrors(ctx, 10)
	if err != nil || len(pending) != 1 || pending[0].Version != 1 {
		t.Fatalf("pending = %+v, %v", pending, err)
	}
	if err := repo.MarkMirrored(ctx, "u1", 1); err != nil {
		t.Fatal(err)
	}
	pending, _ = repo.GetPendingMirrors(ctx, 10)
	if len(pending) != 0 {
		t.Fatalf("still pending: %+v", pending)
	}
}

func TestUserStore(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	u := auth.User{ID: "id-1", Email: "ada@example.com", PasswordHash: "hash", CreatedAt: time.Now().UTC()}
	if err := repo.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := repo.CreateUser(ctx, auth.User{ID: "id-2", Email: "ADA@example.com", PasswordHash: "h"}); !errors.Is(err, auth.ErrEmailInUse) {
		t.Fatalf("duplicate email err = %v", err)
	}
	got, err := repo.UserByEmail(ctx, "Ada@Example.com")
	if err != nil || got.ID != "id-1" {
		t.Fatalf("UserByEmail = %+v, %v", got, err)
	}
	if _, err := repo.UserByEmail(ctx, "nobody@example.com"); !errors.Is(err, auth.ErrUserNotFound) {
		t.Fatalf("missing user err = %v", err)
	}
	if n, _ := repo.CountUsers(ctx); n != 1 {
		t.Fatalf("CountUsers = %d", n)
	}
}
