package docstore

import (
	"context"
	"testing"
	"time"
)

func TestHubLatestWins(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := h.Subscribe(ctx, "u", func() (Snapshot, error) { return Snapshot{}, nil })
	if err != nil {
		t.Fatal(err)
	}
	h.Publish("u", Snapshot{Exists: true, Document: Document{UpdatedBy: "a"}})
	h.Publish("u", Snapshot{Exists: true, Document: Document{UpdatedBy: "b"}})

	got := <-ch
	if got.Document.UpdatedBy != "b" {
		t.Fatalf("got %q, want latest snapshot", got.Document.UpdatedBy)
	}
	if h.Subscribers("u") != 1 {
		t.Fatalf("subscribers = %d", h.Subscribers("u"))
	}
}

func TestHubUnregistersOnCancel(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := h.Subscribe(ctx, "u", func() (Snapshot, error) { return Snapshot{}, nil })
	<-ch
	cancel()
	deadline := time.Now().Add(time.Second)
	for h.Subscribers("u") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription not removed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.Publish("u", Snapshot{Exists: true})
}
