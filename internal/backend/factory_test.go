package backend

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"budget/internal/auth"
	"budget/internal/config"
	"budget/internal/core"
	"budget/internal/docstore"
)

func TestBackendType_IsValid(t *testing.T) {
	for _, bt := range GetBackendTypes() {
		if !bt.IsValid() {
			t.Errorf("%s should be valid", bt)
		}
	}
	if BackendType("postgres").IsValid() {
		t.Error("postgres should not be valid")
	}
	if got := GetBackendTypeStrings(); len(got) != 3 || got[0] != "sqlite" {
		t.Errorf("GetBackendTypeStrings() = %v", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"memory", Config{Type: MemoryBackend}, false},
		{"sqlite", Config{Type: SQLiteBackend, SQLiteDBPath: "./x.db"}, false},
		{"sqlite without path", Config{Type: SQLiteBackend}, true},
		{"sheets without credentials", Config{Type: SheetsBackend, GoogleSpreadsheetID: "id", SQLiteDBPath: "./x.db"}, true},
		{"sheets", Config{Type: SheetsBackend, GoogleSpreadsheetID: "id", SQLiteDBPath: "./x.db", GoogleServiceAccountJSON: "{}"}, false},
		{"unknown", Config{Type: "redis"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.config.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFromAppConfig(t *testing.T) {
	if _, err := FromAppConfig(nil, "o"); err == nil {
		t.Error("FromAppConfig(nil) should fail")
	}
	cfg := &config.Config{DataBackend: "sqlite", SQLiteDBPath: "./budget.db", AMQPExchange: "budget", SheetsPollInterval: 3 * time.Second}
	got, err := FromAppConfig(cfg, "proc-1")
	if err != nil {
		t.Fatalf("FromAppConfig() error = %v", err)
	}
	if got.Type != SQLiteBackend || got.Origin != "proc-1" || got.SQLiteDBPath != "./budget.db" || got.SheetsPollInterval != 3*time.Second {
		t.Errorf("FromAppConfig() = %+v", got)
	}
}

func TestCreateBackend_Memory(t *testing.T) {
	res, err := NewFactory(nil).CreateBackend(context.Background(), Config{Type: MemoryBackend})
	if err != nil {
		t.Fatalf("CreateBackend() error = %v", err)
	}
	if res.Listen != nil {
		t.Error("memory backend has no cross-process listener")
	}
	if err := res.Ready(context.Background()); err != nil {
		t.Errorf("Ready() error = %v", err)
	}
	exerciseBackend(t, res)
}

func TestCreateBackend_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "budget.db")
	res, err := NewFactory(nil).CreateBackend(context.Background(), Config{Type: SQLiteBackend, SQLiteDBPath: path})
	if err != nil {
		t.Fatalf("CreateBackend() error = %v", err)
	}
	defer res.Cleanup()
	if err := res.Ready(context.Background()); err != nil {
		t.Errorf("Ready() error = %v", err)
	}
	exerciseBackend(t, res)
}

func exerciseBackend(t *testing.T, res *BackendResult) {
	t.Helper()
	ctx := context.Background()

	if err := res.Users.CreateUser(ctx, auth.User{ID: "u1", Email: "a@example.com", PasswordHash: "x", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if _, err := res.Users.UserByEmail(ctx, "a@example.com"); err != nil {
		t.Fatalf("UserByEmail() error = %v", err)
	}

	ledger := core.Ledger{time.May: core.FlatRecord(core.Bucket{Income: []core.Entry{core.NewEntry("1")}})}
	doc := docstore.Document{MonthlyData: ledger, LastUpdated: time.Now().UTC().Truncate(time.Second), UpdatedBy: "c1"}
	if err := res.Store.Write(ctx, "u1", doc); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	snap, err := res.Store.Read(ctx, "u1")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !snap.Exists || !core.LedgersEqual(snap.Document.MonthlyData, ledger) {
		t.Errorf("Read() = %+v, want written ledger", snap)
	}
}
