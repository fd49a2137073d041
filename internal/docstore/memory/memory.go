package memory

import (
	"context"
	"sync"

	"budget/internal/docstore"
)

// Store keeps documents in process memory. It is the default backend for
// development and the fake used by tests.
type Store struct {
	mu   sync.Mutex
	docs map[string]docstore.Document
	hub  *docstore.Hub
}

var _ docstore.DocumentStore = (*Store)(nil)

func New() *Store {
	return &Store{docs: make(map[string]docstore.Document), hub: docstore.NewHub()}
}

func (s *Store) Read(_ context.Context, userID string) (docstore.Snapshot, error) {
	if userID == "" {
		return docstore.Snapshot{}, docstore.ErrEmptyUserID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[userID]
	return docstore.Snapshot{Exists: ok, Document: doc}, nil
}

func (s *Store) Write(_ context.Context, userID string, doc docstore.Document) error {
	if userID == "" {
		return docstore.ErrEmptyUserID
	}
	doc.MonthlyData = doc.MonthlyData.Clone()
	s.mu.Lock()
	s.docs[userID] = doc
	s.mu.Unlock()
	s.hub.Publish(userID, docstore.Snapshot{Exists: true, Document: doc})
	return nil
}

func (s *Store) Subscribe(ctx context.Context, userID string) (<-chan docstore.Snapshot, error) {
	return s.hub.Subscribe(ctx, userID, func() (docstore.Snapshot, error) {
		return s.Read(ctx, userID)
	})
}

// Users lists the ids with a stored document.
func (s *Store) Users() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.docs))
	for id := range s.docs {
		out = append(out, id)
	}
	return out
}
