package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"budget/internal/config"
	"budget/internal/storage"
)

type migrateCmd struct {
	dbPath string
	status bool
}

func (*migrateCmd) Name() string     { return "migrate" }
func (*migrateCmd) Synopsis() string { return "apply pending database migrations" }
func (*migrateCmd) Usage() string {
	return `budgetctl migrate [-db <path>] [-status]

  Applies every pending schema migration to the SQLite database, or with
  -status only prints the applied version.
`
}

func (c *migrateCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.dbPath, "db", config.Load().SQLiteDBPath, "SQLite database path.")
	f.BoolVar(&c.status, "status", false, "Print the schema version without migrating.")
}

func (c *migrateCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if !c.status {
		if err := storage.RunMigrations(c.dbPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return subcommands.ExitFailure
		}
	}
	version, dirty, err := storage.MigrationVersion(c.dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	fmt.Printf("schema version %d", version)
	if dirty {
		fmt.Print(" (dirty)")
	}
	fmt.Println()
	return subcommands.ExitSuccess
}
