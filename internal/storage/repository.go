package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"budget/internal/auth"
	"budget/internal/docstore"

	_ "modernc.org/sqlite"
)

// ChangeNotifier announces saved documents to other processes.
type ChangeNotifier interface {
	PublishLedgerUpdated(ctx context.Context, userID string, version int64, updatedBy, origin string) error
}

// StoredDocument is a document together with its storage version.
type StoredDocument struct {
	docstore.Snapshot
	Version int64
}

// PendingMirror is a document whose latest version is not yet mirrored.
type PendingMirror struct {
	UserID  string
	Version int64
}

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	hub     *docstore.Hub
	reads   singleflight.Group

	// users orders commit and publish per user, so subscribers never end on
	// an older document than the one stored.
	users userLocks

	mu       sync.RWMutex
	notifier ChangeNotifier
	origin   string
}

var (
	_ docstore.DocumentStore = (*SQLiteRepository)(nil)
	_ auth.UserStore         = (*SQLiteRepository)(nil)
)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
		hub:     docstore.NewHub(),
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// SetNotifier attaches a change notifier. origin tags messages from this
// process so it can skip its own notifications.
func (r *SQLiteRepository) SetNotifier(n ChangeNotifier, origin string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifier = n
	r.origin = origin
}

// Ping checks database connectivity.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Read implements docstore.DocumentReader. Concurrent reads of the same
// user share one query.
func (r *SQLiteRepository) Read(ctx context.Context, userID string) (docstore.Snapshot, error) {
	stored, err := r.ReadStored(ctx, userID)
	if err != nil {
		return docstore.Snapshot{}, err
	}
	return stored.Snapshot, nil
}

// ReadStored returns the document and its version.
func (r *SQLiteRepository) ReadStored(ctx context.Context, userID string) (StoredDocument, error) {
	if userID == "" {
		return StoredDocument{}, docstore.ErrEmptyUserID
	}
	v, err, _ := r.reads.Do(userID, func() (interface{}, error) {
		return r.readStored(ctx, userID)
	})
	if err != nil {
		return StoredDocument{}, err
	}
	return v.(StoredDocument), nil
}

func (r *SQLiteRepository) readStored(ctx context.Context, userID string) (StoredDocument, error) {
	row, err := r.queries.GetDocument(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return StoredDocument{}, nil
	}
	if err != nil {
		return StoredDocument{}, fmt.Errorf("get document: %w", err)
	}
	doc, err := decodeRow(row)
	if err != nil {
		return StoredDocument{}, err
	}
	return StoredDocument{Snapshot: docstore.Snapshot{Exists: true, Document: doc}, Version: row.Version}, nil
}

func decodeRow(row DocumentRow) (docstore.Document, error) {
	var doc docstore.Document
	if err := json.Unmarshal([]byte(row.Payload), &doc); err != nil {
		return docstore.Document{}, fmt.Errorf("decode document %s: %w", row.UserID, err)
	}
	if doc.LastUpdated.IsZero() {
		if ts, err := time.Parse(time.RFC3339Nano, row.LastUpdated); err == nil {
			doc.LastUpdated = ts
		}
	}
	if doc.UpdatedBy == "" {
		doc.UpdatedBy = row.UpdatedBy
	}
	return doc, nil
}

// Write implements docstore.DocumentWriter.
func (r *SQLiteRepository) Write(ctx context.Context, userID string, doc docstore.Document) error {
	if userID == "" {
		return docstore.ErrEmptyUserID
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	unlock := r.users.lock(userID)
	version, err := r.queries.UpsertDocument(ctx, UpsertDocumentParams{
		UserID:      userID,
		Payload:     string(payload),
		LastUpdated: doc.LastUpdated.UTC().Format(time.RFC3339Nano),
		UpdatedBy:   doc.UpdatedBy,
	})
	if err != nil {
		unlock()
		return fmt.Errorf("upsert document: %w", err)
	}
	r.hub.Publish(userID, docstore.Snapshot{Exists: true, Document: doc})
	unlock()

	slog.DebugContext(ctx, "Document saved to SQLite",
		"user_id", userID,
		"version", version,
		"months", len(doc.MonthlyData))

	r.mu.RLock()
	notifier, origin := r.notifier, r.origin
	r.mu.RUnlock()
	if notifier != nil {
		if err := notifier.PublishLedgerUpdated(ctx, userID, version, doc.UpdatedBy, origin); err != nil {
			// The write itself succeeded; the worker's pending scan picks it up.
			slog.WarnContext(ctx, "Failed to publish ledger update",
				"user_id", userID,
				"version", version,
				"error", err)
		}
	}
	return nil
}

// Subscribe implements docstore.DocumentSubscriber.
func (r *SQLiteRepository) Subscribe(ctx context.Context, userID string) (<-chan docstore.Snapshot, error) {
	return r.hub.Subscribe(ctx, userID, func() (docstore.Snapshot, error) {
		stored, err := r.readStored(ctx, userID)
		return stored.Snapshot, err
	})
}

// HandleLedgerUpdated refreshes local subscribers after another process
// saved the document. Notifications from this process are ignored.
func (r *SQLiteRepository) HandleLedgerUpdated(ctx context.Context, userID, origin string) error {
	r.mu.RLock()
	self := r.origin
	r.mu.RUnlock()
	if origin != "" && origin == self {
		return nil
	}
	if r.hub.Subscribers(userID) == 0 {
		return nil
	}
	unlock := r.users.lock(userID)
	defer unlock()
	stored, err := r.readStored(ctx, userID)
	if err != nil {
		return fmt.Errorf("refresh document: %w", err)
	}
	r.hub.Publish(userID, stored.Snapshot)
	return nil
}

// GetPendingMirrors returns documents saved since their last mirror.
func (r *SQLiteRepository) GetPendingMirrors(ctx context.Context, limit int) ([]PendingMirror, error) {
	rows, err := r.queries.GetPendingMirrors(ctx, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("get pending mirrors: %w", err)
	}
	out := make([]PendingMirror, len(rows))
	for i, row := range rows {
		out[i] = PendingMirror{UserID: row.UserID, Version: row.Version}
	}
	return out, nil
}

// MarkMirrored records that version of the user's document reached the mirror.
func (r *SQLiteRepository) MarkMirrored(ctx context.Context, userID string, version int64) error {
	if err := r.queries.MarkMirrored(ctx, userID, version); err != nil {
		return fmt.Errorf("mark mirrored: %w", err)
	}
	slog.InfoContext(ctx, "Document marked as mirrored", "user_id", userID, "version", version)
	return nil
}

// MarkMirrorError stores the last mirror failure for the user.
func (r *SQLiteRepository) MarkMirrorError(ctx context.Context, userID string, cause error) error {
	if err := r.queries.MarkMirrorError(ctx, userID, cause.Error()); err != nil {
		return fmt.Errorf("mark mirror error: %w", err)
	}
	return nil
}

// CreateUser implements auth.UserStore.
func (r *SQLiteRepository) CreateUser(ctx context.Context, u auth.User) error {
	err := r.queries.CreateUser(ctx, CreateUserParams{
		ID:           u.ID,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
	})
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return auth.ErrEmailInUse
		}
		return fmt.Errorf("create user: %w", err)
	}
	slog.InfoContext(ctx, "User created", "user_id", u.ID)
	return nil
}

// UserByEmail implements auth.UserStore.
func (r *SQLiteRepository) UserByEmail(ctx context.Context, email string) (auth.User, error) {
	u, err := r.queries.GetUserByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrUserNotFound
	}
	if err != nil {
		return auth.User{}, fmt.Errorf("get user: %w", err)
	}
	return auth.User{ID: u.ID, Email: u.Email, PasswordHash: u.PasswordHash, CreatedAt: u.CreatedAt}, nil
}

// CountUsers returns the number of registered accounts.
func (r *SQLiteRepository) CountUsers(ctx context.Context) (int64, error) {
	n, err := r.queries.CountUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

// userLocks is a set of per-user mutexes, dropped once nobody holds them.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	sync.Mutex
	refs int
}

func (u *userLocks) lock(userID string) (unlock func()) {
	u.mu.Lock()
	if u.locks == nil {
		u.locks = make(map[string]*userLock)
	}
	l, ok := u.locks[userID]
	if !ok {
		l = &userLock{}
		u.locks[userID] = l
	}
	l.refs++
	u.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		u.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(u.locks, userID)
		}
		u.mu.Unlock()
	}
}
