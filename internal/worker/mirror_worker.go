// Package worker mirrors saved ledgers into the summary sheet.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"budget/internal/aggregate"
	"budget/internal/amqp"
	"budget/internal/core"
	"budget/internal/docstore"
	"budget/internal/log"
	"budget/internal/storage"
)

// DocumentSource is the slice of the SQLite repository the worker reads
// from and records progress in.
type DocumentSource interface {
	ReadStored(ctx context.Context, userID string) (storage.StoredDocument, error)
	GetPendingMirrors(ctx context.Context, limit int) ([]storage.PendingMirror, error)
	MarkMirrored(ctx context.Context, userID string, version int64) error
	MarkMirrorError(ctx context.Context, userID string, cause error) error
}

type mirrorRecorder interface {
	ObserveMirror(result string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveMirror(string) {}

// MirrorWorker writes per-month totals of every saved ledger to a summary
// sink.
type MirrorWorker struct {
	source    DocumentSource
	sink      docstore.SummaryWriter
	batchSize int
	logger    *log.Logger
	metrics   mirrorRecorder
	now       func() time.Time
}

func NewMirrorWorker(source DocumentSource, sink docstore.SummaryWriter, batchSize int, logger *log.Logger) *MirrorWorker {
	if logger == nil {
		logger = log.Nop()
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	return &MirrorWorker{
		source:    source,
		sink:      sink,
		batchSize: batchSize,
		logger:    logger.WithComponent(log.ComponentWorker),
		metrics:   nopRecorder{},
		now:       time.Now,
	}
}

func (w *MirrorWorker) WithMetrics(m mirrorRecorder) *MirrorWorker {
	if m != nil {
		w.metrics = m
	}
	return w
}

// WithClock replaces the UpdatedAt source of summary rows.
func (w *MirrorWorker) WithClock(now func() time.Time) *MirrorWorker {
	w.now = now
	return w
}

// HandleLedgerUpdated mirrors the user named by msg. The latest stored
// version is mirrored even when msg announces an older one.
func (w *MirrorWorker) HandleLedgerUpdated(ctx context.Context, msg *amqp.LedgerUpdatedMessage) error {
	w.logger.InfoContext(ctx, "Processing ledger update",
		log.FieldUserID, msg.UserID,
		"version", msg.Version,
		log.FieldOrigin, msg.Origin)
	return w.mirror(ctx, msg.UserID)
}

// ProcessPending mirrors documents whose latest version was never
// mirrored. It is the backup path for lost messages.
func (w *MirrorWorker) ProcessPending(ctx context.Context) error {
	_, _, err := w.processBatch(ctx, w.batchSize)
	return err
}

// StartupCheck scans a larger batch once at start-up to catch up on
// downtime.
func (w *MirrorWorker) StartupCheck(ctx context.Context) error {
	synced, failed, err := w.processBatch(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("startup mirror check: %w", err)
	}
	if synced+failed == 0 {
		w.logger.InfoContext(ctx, "No pending mirrors found on startup")
		return nil
	}
	w.logger.InfoContext(ctx, "Startup mirror check completed",
		"total", synced+failed,
		"synced", synced,
		"errors", failed)
	return nil
}

func (w *MirrorWorker) processBatch(ctx context.Context, limit int) (synced, failed int, err error) {
	pending, err := w.source.GetPendingMirrors(ctx, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("get pending mirrors: %w", err)
	}
	if len(pending) > 0 {
		w.logger.InfoContext(ctx, "Processing pending mirrors", "count", len(pending))
	}
	for _, p := range pending {
		if ctx.Err() != nil {
			return synced, failed, ctx.Err()
		}
		if err := w.mirror(ctx, p.UserID); err != nil {
			w.logger.ErrorContext(ctx, "Failed to mirror ledger", log.FieldUserID, p.UserID, log.FieldError, err)
			failed++
			continue
		}
		synced++
	}
	return synced, failed, nil
}

// Run calls ProcessPending every interval until ctx ends.
func (w *MirrorWorker) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.ProcessPending(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.ErrorContext(ctx, "Periodic mirror failed", log.FieldError, err)
			}
		}
	}
}

func (w *MirrorWorker) mirror(ctx context.Context, userID string) error {
	stored, err := w.source.ReadStored(ctx, userID)
	if err != nil {
		w.metrics.ObserveMirror("error")
		return fmt.Errorf("read document: %w", err)
	}
	if !stored.Exists {
		w.logger.WarnContext(ctx, "Nothing to mirror, document missing", log.FieldUserID, userID)
		return nil
	}

	rows := SummaryRows(userID, stored.Document.MonthlyData, w.now().UTC())
	if err := w.sink.WriteSummary(ctx, userID, rows); err != nil {
		w.metrics.ObserveMirror("error")
		if markErr := w.source.MarkMirrorError(ctx, userID, err); markErr != nil {
			w.logger.ErrorContext(ctx, "Failed to record mirror error", log.FieldUserID, userID, log.FieldError, markErr)
		}
		return fmt.Errorf("write summary: %w", err)
	}

	if err := w.source.MarkMirrored(ctx, userID, stored.Version); err != nil {
		// The summary is written; the next pending scan repeats it harmlessly.
		w.logger.ErrorContext(ctx, "Failed to mark as mirrored", log.FieldUserID, userID, log.FieldError, err)
	}
	w.metrics.ObserveMirror("ok")
	w.logger.InfoContext(ctx, "Ledger mirrored",
		log.FieldUserID, userID,
		"version", stored.Version,
		"rows", len(rows))
	return nil
}

// SummaryRows flattens l into one row per month and view, in calendar
// order. Flat months yield a "flat" row, split months one row per view.
func SummaryRows(userID string, l core.Ledger, now time.Time) []docstore.SummaryRow {
	var rows []docstore.SummaryRow
	add := func(m time.Month, v core.View, b core.Bucket) {
		t := aggregate.ComputeTotals(b)
		rows = append(rows, docstore.SummaryRow{
			UserID:      userID,
			Month:       m.String(),
			View:        v.String(),
			Income:      t.Income,
			Expenses:    t.Expenses,
			Balance:     t.Balance,
			SavingsRate: aggregate.SavingsRate(t).Round(2),
			UpdatedAt:   now,
		})
	}
	for _, m := range l.Months() {
		rec, _ := l.Record(m)
		if rec.Kind == core.KindSplit {
			add(m, core.ViewExpected, rec.Expected)
			add(m, core.ViewActual, rec.Actual)
			continue
		}
		add(m, core.ViewFlat, rec.Flat)
	}
	return rows
}
