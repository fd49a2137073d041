package backend

import (
	"context"
	"errors"
	"fmt"

	"budget/internal/amqp"
	"budget/internal/auth"
	gdoc "budget/internal/docstore/google"
	"budget/internal/docstore/memory"
	"budget/internal/log"
	"budget/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.Nop()
	}
	return &DefaultFactory{logger: logger.WithComponent(log.ComponentBackend)}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLiteBackend:
		return f.createSQLiteBackend(config)
	case SheetsBackend:
		return f.createSheetsBackend(ctx, config)
	case MemoryBackend:
		return f.createMemoryBackend()
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (*BackendResult, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	result := &BackendResult{
		Store:   repo,
		Users:   repo,
		Ready:   repo.Ping,
		Cleanup: repo.Close,
	}

	// Change notifications are optional. Each process binds its own
	// exclusive queue so every instance sees every save.
	if config.AMQPURL != "" {
		client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, "")
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP client, continuing without fan-out", log.FieldError, err)
		} else {
			repo.SetNotifier(client, config.Origin)
			result.Listen = func(ctx context.Context) error {
				return client.ConsumeLedgerUpdated(ctx, func(ctx context.Context, msg *amqp.LedgerUpdatedMessage) error {
					return repo.HandleLedgerUpdated(ctx, msg.UserID, msg.Origin)
				})
			}
			result.Cleanup = func() error {
				return errors.Join(client.Close(), repo.Close())
			}
			f.logger.Info("Initialized AMQP client", "exchange", config.AMQPExchange, "queue", client.Queue())
		}
	}

	f.logger.Info("Initialized SQLite backend",
		"db_path", config.SQLiteDBPath,
		"amqp_enabled", result.Listen != nil)

	return result, nil
}

func (f *DefaultFactory) createSheetsBackend(ctx context.Context, config Config) (*BackendResult, error) {
	docs, err := gdoc.New(ctx, gdoc.Config{
		SpreadsheetID:      config.GoogleSpreadsheetID,
		DocumentsSheet:     config.GoogleDocumentsSheet,
		SummarySheet:       config.GoogleSummarySheet,
		PollInterval:       config.SheetsPollInterval,
		ServiceAccountJSON: config.GoogleServiceAccountJSON,
		ServiceAccountFile: config.GoogleServiceAccountFile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}

	// Accounts still live in SQLite; the sheet only holds documents.
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize account store: %w", err)
	}

	f.logger.Info("Initialized Google Sheets backend",
		"documents_sheet", config.GoogleDocumentsSheet,
		"poll_interval", config.SheetsPollInterval)

	return &BackendResult{
		Store:   docs,
		Users:   repo,
		Ready:   repo.Ping,
		Cleanup: repo.Close,
	}, nil
}

func (f *DefaultFactory) createMemoryBackend() (*BackendResult, error) {
	f.logger.Info("Initialized memory backend")
	return &BackendResult{
		Store: memory.New(),
		Users: auth.NewMemoryUserStore(),
		Ready: func(context.Context) error { return nil },
	}, nil
}
