package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"budget/internal/auth"
	"budget/internal/core"
	"budget/internal/docstore"
)

// fakeStore is a DocumentStore whose snapshots are pushed by the test.
type fakeStore struct {
	mu       sync.Mutex
	writes   []docstore.Document
	failNext int
	subErr   error
	feed     chan docstore.Snapshot
	written  chan docstore.Document

	// block, when set, holds every write until it is closed.
	block chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		feed:    make(chan docstore.Snapshot, 8),
		written: make(chan docstore.Document, 16),
	}
}

func (f *fakeStore) Read(context.Context, string) (docstore.Snapshot, error) {
	return docstore.Snapshot{}, nil
}

func (f *fakeStore) Write(ctx context.Context, _ string, doc docstore.Document) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	if f.failNext > 0 {
		f.failNext--
		f.mu.Unlock()
		return errors.New("backend unavailable")
	}
	f.writes = append(f.writes, doc)
	f.mu.Unlock()
	f.written <- doc
	return nil
}

func (f *fakeStore) Subscribe(ctx context.Context, _ string) (<-chan docstore.Snapshot, error) {
	if f.subErr != nil {
		return nil, f.subErr
	}
	out := make(chan docstore.Snapshot)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-f.feed:
				if ctx.Err() != nil {
					// Leave it for the next subscription.
					f.feed <- snap
					return
				}
				select {
				case out <- snap:
				case <-ctx.Done():
					f.feed <- snap
					return
				}
			}
		}
	}()
	return out, nil
}

func (f *fakeStore) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeStore) lastWrite() docstore.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes[len(f.writes)-1]
}

// fakeProvider answers sign in/up from a fixed table.
type fakeProvider struct {
	mu         sync.Mutex
	signInErr  error
	signUpErr  error
	signOutErr error
	signOuts   int
}

func (p *fakeProvider) SignIn(_ context.Context, email, _ string) (core.Session, error) {
	if p.signInErr != nil {
		return core.Session{}, p.signInErr
	}
	return core.Session{UserID: "u-" + email, Email: email, Token: "tok"}, nil
}

func (p *fakeProvider) SignUp(_ context.Context, email, _ string) (core.Session, error) {
	if p.signUpErr != nil {
		return core.Session{}, p.signUpErr
	}
	return core.Session{UserID: "u-" + email, Email: email, Token: "tok"}, nil
}

func (p *fakeProvider) SignOut(context.Context, core.Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signOuts++
	return p.signOutErr
}

var _ IdentityProvider = (*fakeProvider)(nil)
var _ IdentityProvider = (*auth.Provider)(nil)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// tickingClock returns a later instant on every call.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := fixedNow()
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func fixedNow() time.Time {
	return time.Date(2024, time.August, 14, 10, 0, 0, 0, time.UTC)
}
