// Package google stores ledger documents in a Google Sheets tab, one row per
// user, and mirrors monthly totals into a summary tab.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"budget/internal/docstore"
	"budget/internal/resilience"
)

const (
	valueInputRaw     = "RAW"
	valueInputEntered = "USER_ENTERED"
)

// Config selects the spreadsheet and tabs.
type Config struct {
	SpreadsheetID      string
	DocumentsSheet     string
	SummarySheet       string
	PollInterval       time.Duration
	ServiceAccountJSON string
	ServiceAccountFile string
}

// valuesAPI is the subset of the Sheets values endpoint the client uses.
type valuesAPI interface {
	Get(ctx context.Context, rng string) ([][]interface{}, error)
	Update(ctx context.Context, rng, inputOption string, rows [][]interface{}) error
	Append(ctx context.Context, rng, inputOption string, rows [][]interface{}) error
	Clear(ctx context.Context, rng string) error
}

type Client struct {
	values         valuesAPI
	documentsSheet string
	summarySheet   string
	pollInterval   time.Duration
	breaker        *gobreaker.CircuitBreaker
	now            func() time.Time

	mu   sync.Mutex
	rows map[string]int // user id -> 1-based sheet row
}

var (
	_ docstore.DocumentStore = (*Client)(nil)
	_ docstore.SummaryWriter = (*Client)(nil)
)

// New creates a Sheets client authenticated with a service account.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	svc, err := newSheetsService(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return newClient(&sheetsValues{svc: svc, spreadsheetID: cfg.SpreadsheetID}, cfg), nil
}

func newClient(values valuesAPI, cfg Config) *Client {
	if cfg.DocumentsSheet == "" {
		cfg.DocumentsSheet = "Documents"
	}
	if cfg.SummarySheet == "" {
		cfg.SummarySheet = "Summary"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &Client{
		values:         values,
		documentsSheet: cfg.DocumentsSheet,
		summarySheet:   cfg.SummarySheet,
		pollInterval:   cfg.PollInterval,
		breaker:        resilience.NewBreaker("google-sheets", resilience.DefaultBreakerConfig()),
		now:            time.Now,
		rows:           make(map[string]int),
	}
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
// Falls back to GOOGLE_APPLICATION_CREDENTIALS when neither inline JSON nor a
// file is configured.
func newSheetsService(ctx context.Context, cfg Config) (*gsheet.Service, error) {
	credentialsJSON := []byte(strings.TrimSpace(cfg.ServiceAccountJSON))
	file := strings.TrimSpace(cfg.ServiceAccountFile)
	if len(credentialsJSON) == 0 && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	if len(credentialsJSON) == 0 {
		if file == "" {
			return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
		}
		var err error
		credentialsJSON, err = os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	}

	slog.InfoContext(ctx, "Creating Google Sheets service with Service Account",
		"credentials_size", len(credentialsJSON),
		"scope", gsheet.SpreadsheetsScope)

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// Read implements docstore.DocumentReader.
func (c *Client) Read(ctx context.Context, userID string) (docstore.Snapshot, error) {
	if userID == "" {
		return docstore.Snapshot{}, docstore.ErrEmptyUserID
	}
	rows, err := c.documentRows(ctx)
	if err != nil {
		return docstore.Snapshot{}, err
	}
	for i, row := range rows {
		if cell(row, 0) != userID {
			continue
		}
		c.rememberRow(userID, i+2)
		var doc docstore.Document
		if err := json.Unmarshal([]byte(cell(row, 1)), &doc); err != nil {
			return docstore.Snapshot{}, fmt.Errorf("decode document %s: %w", userID, err)
		}
		return docstore.Snapshot{Exists: true, Document: doc}, nil
	}
	c.forgetRow(userID)
	return docstore.Snapshot{}, nil
}

// Write implements docstore.DocumentWriter. The payload is stored RAW so
// Sheets never reinterprets the JSON.
func (c *Client) Write(ctx context.Context, userID string, doc docstore.Document) error {
	if userID == "" {
		return docstore.ErrEmptyUserID
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	values := [][]interface{}{{userID, string(payload), doc.LastUpdated.UTC().Format(time.RFC3339Nano)}}

	row, ok := c.knownRow(userID)
	if !ok {
		if _, err := c.Read(ctx, userID); err != nil {
			return err
		}
		row, ok = c.knownRow(userID)
	}

	_, err = c.breaker.Execute(func() (interface{}, error) {
		if ok {
			rng := fmt.Sprintf("%s!A%d:C%d", c.documentsSheet, row, row)
			return nil, c.values.Update(ctx, rng, valueInputRaw, values)
		}
		return nil, c.values.Append(ctx, fmt.Sprintf("%s!A:C", c.documentsSheet), valueInputRaw, values)
	})
	if err != nil {
		c.forgetRow(userID)
		return fmt.Errorf("write document row: %w", err)
	}
	slog.DebugContext(ctx, "Document written to Google Sheets", "user_id", userID, "row", row)
	return nil
}

// Subscribe implements docstore.DocumentSubscriber by polling. A snapshot is
// delivered whenever the stored stamp changes.
func (c *Client) Subscribe(ctx context.Context, userID string) (<-chan docstore.Snapshot, error) {
	initial, err := c.Read(ctx, userID)
	if err != nil {
		return nil, err
	}
	ch := make(chan docstore.Snapshot, 1)
	ch <- initial

	go func() {
		defer close(ch)
		last := initial
		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			snap, err := c.Read(ctx, userID)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.WarnContext(ctx, "Polling document failed", "user_id", userID, "error", err)
				continue
			}
			if sameStamp(last, snap) {
				continue
			}
			last = snap
			deliver(ctx, ch, snap)
		}
	}()
	return ch, nil
}

// WriteSummary implements docstore.SummaryWriter. Rows of other users are
// preserved; the user's previous rows are replaced.
func (c *Client) WriteSummary(ctx context.Context, userID string, rows []docstore.SummaryRow) error {
	rng := fmt.Sprintf("%s!A2:H", c.summarySheet)
	existing, err := c.get(ctx, rng)
	if err != nil {
		return fmt.Errorf("read summary: %w", err)
	}

	kept := make([][]interface{}, 0, len(existing)+len(rows))
	for _, row := range existing {
		if cell(row, 0) != userID {
			kept = append(kept, row)
		}
	}
	for _, r := range rows {
		kept = append(kept, []interface{}{
			r.UserID,
			r.Month,
			r.View,
			r.Income.StringFixed(2),
			r.Expenses.StringFixed(2),
			r.Balance.StringFixed(2),
			r.SavingsRate.StringFixed(2),
			r.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}

	_, err = c.breaker.Execute(func() (interface{}, error) {
		if err := c.values.Clear(ctx, rng); err != nil {
			return nil, err
		}
		if len(kept) == 0 {
			return nil, nil
		}
		end := fmt.Sprintf("%s!A2:H%d", c.summarySheet, len(kept)+1)
		return nil, c.values.Update(ctx, end, valueInputEntered, kept)
	})
	if err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	slog.InfoContext(ctx, "Summary mirrored to Google Sheets", "user_id", userID, "rows", len(rows))
	return nil
}

func (c *Client) documentRows(ctx context.Context) ([][]interface{}, error) {
	rows, err := c.get(ctx, fmt.Sprintf("%s!A2:C", c.documentsSheet))
	if err != nil {
		return nil, fmt.Errorf("read documents: %w", err)
	}
	return rows, nil
}

func (c *Client) get(ctx context.Context, rng string) ([][]interface{}, error) {
	v, err := c.breaker.Execute(func() (interface{}, error) {
		return c.values.Get(ctx, rng)
	})
	if err != nil {
		return nil, err
	}
	rows, _ := v.([][]interface{})
	return rows, nil
}

func (c *Client) knownRow(userID string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	row, ok := c.rows[userID]
	return row, ok
}

func (c *Client) rememberRow(userID string, row int) {
	c.mu.Lock()
	c.rows[userID] = row
	c.mu.Unlock()
}

func (c *Client) forgetRow(userID string) {
	c.mu.Lock()
	delete(c.rows, userID)
	c.mu.Unlock()
}

func sameStamp(a, b docstore.Snapshot) bool {
	if a.Exists != b.Exists {
		return false
	}
	return a.Document.LastUpdated.Equal(b.Document.LastUpdated) && a.Document.UpdatedBy == b.Document.UpdatedBy
}

// deliver replaces any undelivered snapshot with snap.
func deliver(ctx context.Context, ch chan docstore.Snapshot, snap docstore.Snapshot) {
	for {
		select {
		case ch <- snap:
			return
		case <-ctx.Done():
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func cell(row []interface{}, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(row[i]))
}

// sheetsValues adapts the generated Sheets client to valuesAPI.
type sheetsValues struct {
	svc           *gsheet.Service
	spreadsheetID string
}

func (s *sheetsValues) Get(ctx context.Context, rng string) ([][]interface{}, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

func (s *sheetsValues) Update(ctx context.Context, rng, inputOption string, rows [][]interface{}) error {
	_, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, rng, &gsheet.ValueRange{Values: rows}).
		ValueInputOption(inputOption).Context(ctx).Do()
	return err
}

func (s *sheetsValues) Append(ctx context.Context, rng, inputOption string, rows [][]interface{}) error {
	_, err := s.svc.Spreadsheets.Values.Append(s.spreadsheetID, rng, &gsheet.ValueRange{Values: rows}).
		ValueInputOption(inputOption).InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	return err
}

func (s *sheetsValues) Clear(ctx context.Context, rng string) error {
	_, err := s.svc.Spreadsheets.Values.Clear(s.spreadsheetID, rng, &gsheet.ClearValuesRequest{}).Context(ctx).Do()
	return err
}
