package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"

	"budget/internal/aggregate"
	"budget/internal/config"
	"budget/internal/core"
	"budget/internal/storage"
)

type reportCmd struct {
	dbPath   string
	email    string
	view     string
	currency string
}

func (*reportCmd) Name() string     { return "report" }
func (*reportCmd) Synopsis() string { return "print monthly totals of an account" }
func (*reportCmd) Usage() string {
	return `budgetctl report -email <email> [-view flat|expected|actual] [-currency GBP]

  Prints income, expenses, balance and savings rate for every month with
  data in the chosen view, followed by the monthly averages.
`
}

func (c *reportCmd) SetFlags(f *flag.FlagSet) {
	cfg := config.Load()
	f.StringVar(&c.dbPath, "db", cfg.SQLiteDBPath, "SQLite database path.")
	f.StringVar(&c.email, "email", "", "Account email.")
	f.StringVar(&c.view, "view", "flat", "Ledger view to report.")
	f.StringVar(&c.currency, "currency", cfg.Currency, "ISO currency used for display.")
}

func (c *reportCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.email == "" {
		fmt.Fprintln(os.Stderr, "report: -email is required")
		return subcommands.ExitUsageError
	}
	view, err := core.ParseView(c.view)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}

	repo, err := storage.NewSQLiteRepository(c.dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer repo.Close()

	user, err := repo.UserByEmail(ctx, c.email)
	if err != nil {
		fmt.Fprintf(os.Stderr, "report: %v\n", err)
		return subcommands.ExitFailure
	}
	stored, err := repo.ReadStored(ctx, user.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "report: %v\n", err)
		return subcommands.ExitFailure
	}
	if !stored.Exists {
		fmt.Printf("%s has no saved ledger\n", user.Email)
		return subcommands.ExitSuccess
	}

	if err := writeReport(os.Stdout, stored.Document.MonthlyData, view, c.currency); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// writeReport prints one line per month with data in v, then the averages.
func writeReport(out io.Writer, l core.Ledger, v core.View, currency string) error {
	stats := aggregate.AllMonthsStats(l, v)
	if len(stats) == 0 {
		_, err := fmt.Fprintf(out, "no %s data\n", v)
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Month\tIncome\tExpenses\tBalance\tSavings\t")
	for _, s := range stats {
		rate := aggregate.ClampRate(aggregate.SavingsRate(s.Totals))
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s%%\t\n",
			s.Name,
			core.FormatAmount(s.Income, currency),
			core.FormatAmount(s.Expenses, currency),
			core.FormatAmount(s.Balance, currency),
			rate.StringFixed(1))
	}
	avg := aggregate.ComputeAverages(l, v)
	fmt.Fprintf(tw, "Average\t%s\t%s\t\t\t\n",
		core.FormatAmount(avg.Income, currency),
		core.FormatAmount(avg.Expenses, currency))
	return tw.Flush()
}
