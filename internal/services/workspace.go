package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"budget/internal/core"
	"budget/internal/docstore"
	"budget/internal/log"
)

// Workspace is the application state of one signed-in user: the session
// gate and the sync coordinator bound together. Every ledger operation
// requires an active session.
type Workspace struct {
	gate   *SessionGate
	sync   *SyncCoordinator
	newID  core.IDGenerator
	logger *log.Logger
}

// NewWorkspace wires a gate to a coordinator over store. Session changes
// on the gate start and stop the coordinator.
func NewWorkspace(provider IdentityProvider, store docstore.DocumentStore, config SyncConfig, logger *log.Logger) *Workspace {
	if logger == nil {
		logger = log.Nop()
	}
	w := &Workspace{
		gate:   NewSessionGate(provider, logger),
		sync:   NewSyncCoordinator(store, config, logger),
		newID:  uuid.NewString,
		logger: logger.WithComponent(log.ComponentLedger),
	}
	w.gate.OnChange(w.onSessionChange)
	return w
}

func (w *Workspace) Gate() *SessionGate { return w.gate }

func (w *Workspace) Coordinator() *SyncCoordinator { return w.sync }

// WithIDGenerator replaces the entry id source.
func (w *Workspace) WithIDGenerator(gen core.IDGenerator) *Workspace {
	w.newID = gen
	return w
}

func (w *Workspace) onSessionChange(ctx context.Context, prev, next *core.Session) {
	if prev != nil {
		if err := w.sync.Stop(ctx); err != nil {
			w.logger.WarnContext(ctx, "Failed to stop sync", log.FieldUserID, prev.UserID, log.FieldError, err)
		}
	}
	if next != nil {
		if err := w.sync.Start(ctx, *next); err != nil {
			w.logger.ErrorContext(ctx, "Failed to start sync", log.FieldUserID, next.UserID, log.FieldError, err)
		}
	}
}

// Open attaches an already verified session.
func (w *Workspace) Open(ctx context.Context, s core.Session) error {
	return w.gate.Restore(ctx, s)
}

// Close stops syncing without revoking the session. Unsaved edits are
// written first; the returned error reports a flush that failed or ran out
// of time, in which case those edits are lost.
func (w *Workspace) Close(ctx context.Context) error {
	err := w.sync.Drain(ctx)
	w.gate.Release(ctx)
	if err != nil && !errors.Is(err, ErrNotRunning) {
		return fmt.Errorf("flush ledger: %w", err)
	}
	return nil
}

// WaitReady blocks until the first snapshot of the session has been handled
// or ctx ends.
func (w *Workspace) WaitReady(ctx context.Context) error {
	if !w.gate.Active() {
		return ErrNoSession
	}
	ready := w.sync.Ready()
	if ready == nil {
		return ErrNotRunning
	}
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Workspace) Session() *core.Session {
	return w.gate.Current()
}

func (w *Workspace) apply(ctx context.Context, mutate func(core.Ledger) core.Ledger) (core.Ledger, error) {
	if !w.gate.Active() {
		return nil, ErrNoSession
	}
	l, err := w.sync.Apply(ctx, mutate)
	if err != nil {
		return nil, fmt.Errorf("apply edit: %w", err)
	}
	return l, nil
}

// Snapshot returns the current ledger.
func (w *Workspace) Snapshot() (core.Ledger, error) {
	if !w.gate.Active() {
		return nil, ErrNoSession
	}
	return w.sync.State().Ledger, nil
}

// Status returns the coordinator state without the ledger payload.
func (w *Workspace) Status() (SyncState, error) {
	if !w.gate.Active() {
		return SyncState{}, ErrNoSession
	}
	st := w.sync.State()
	st.Ledger = nil
	return st, nil
}

func (w *Workspace) AddEntry(ctx context.Context, month time.Month, v core.View, f core.Field) (core.Entry, error) {
	var added core.Entry
	_, err := w.apply(ctx, func(l core.Ledger) core.Ledger {
		next, e := l.AddEntry(month, v, f, w.newID)
		added = e
		return next
	})
	if err != nil {
		return core.Entry{}, err
	}
	w.logger.DebugContext(ctx, "Entry added", log.NewFields().WithLedgerTarget(month.String(), v.String(), string(f)).ToSlice()...)
	return added, nil
}

func (w *Workspace) UpdateEntry(ctx context.Context, month time.Month, v core.View, f core.Field, id string, attr core.Attr, raw string) (core.Bucket, error) {
	l, err := w.apply(ctx, func(l core.Ledger) core.Ledger {
		return l.UpdateEntry(month, v, f, id, attr, raw)
	})
	if err != nil {
		return core.Bucket{}, err
	}
	return l.Bucket(month, v), nil
}

func (w *Workspace) RemoveEntry(ctx context.Context, month time.Month, v core.View, f core.Field, id string) (core.Bucket, error) {
	l, err := w.apply(ctx, func(l core.Ledger) core.Ledger {
		return l.RemoveEntry(month, v, f, id)
	})
	if err != nil {
		return core.Bucket{}, err
	}
	return l.Bucket(month, v), nil
}

func (w *Workspace) SetField(ctx context.Context, month time.Month, v core.View, f core.Field, entries []core.Entry) (core.Bucket, error) {
	l, err := w.apply(ctx, func(l core.Ledger) core.Ledger {
		return l.SetField(month, v, f, entries)
	})
	if err != nil {
		return core.Bucket{}, err
	}
	return l.Bucket(month, v), nil
}

func (w *Workspace) CopyPreviousMonth(ctx context.Context, month time.Month, v core.View) (core.Bucket, error) {
	l, err := w.apply(ctx, func(l core.Ledger) core.Ledger {
		return l.CopyPreviousMonth(month, v, w.newID)
	})
	if err != nil {
		return core.Bucket{}, err
	}
	return l.Bucket(month, v), nil
}
