// Package docstore defines the remote per-user ledger document and the
// ports through which it is read, written and watched.
package docstore

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"budget/internal/core"
)

// Document is the persisted payload for one user.
type Document struct {
	MonthlyData core.Ledger `json:"monthlyData"`
	LastUpdated time.Time   `json:"lastUpdated"`
	// UpdatedBy identifies the writer so a client can recognise the echo of
	// its own write.
	UpdatedBy string `json:"updatedBy,omitempty"`
}

// Snapshot is one observation of a user's document. Err is set when the
// store could not produce the observation.
type Snapshot struct {
	Exists   bool
	Document Document
	Err      error
}

var (
	ErrEmptyUserID = errors.New("empty user id")
	ErrClosed      = errors.New("document store closed")
)

// Ports for outbound adapters.
type (
	DocumentReader interface {
		Read(ctx context.Context, userID string) (Snapshot, error)
	}

	DocumentWriter interface {
		// Write replaces the whole document (upsert).
		Write(ctx context.Context, userID string, doc Document) error
	}

	// DocumentSubscriber delivers live snapshots. The first snapshot is the
	// current state; the channel is closed once ctx is done.
	DocumentSubscriber interface {
		Subscribe(ctx context.Context, userID string) (<-chan Snapshot, error)
	}

	DocumentStore interface {
		DocumentReader
		DocumentWriter
		DocumentSubscriber
	}

	// SummaryWriter replaces the mirrored per-month totals of one user.
	SummaryWriter interface {
		WriteSummary(ctx context.Context, userID string, rows []SummaryRow) error
	}
)

// SummaryRow is one mirrored line of monthly totals.
type SummaryRow struct {
	UserID      string
	Month       string
	View        string
	Income      decimal.Decimal
	Expenses    decimal.Decimal
	Balance     decimal.Decimal
	SavingsRate decimal.Decimal
	UpdatedAt   time.Time
}

// Equal reports whether two documents carry the same ledger and stamp.
func (d Document) Equal(o Document) bool {
	return d.LastUpdated.Equal(o.LastUpdated) && d.UpdatedBy == o.UpdatedBy && core.LedgersEqual(d.MonthlyData, o.MonthlyData)
}
