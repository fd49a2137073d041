// Package aggregate derives read-only figures from a ledger snapshot.
//
// Every function here is pure: it reads the ledger it is given and returns
// fresh values, so callers may run them concurrently with edits that
// produce new ledgers.
package aggregate

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"budget/internal/core"
)

// DefaultTopK is the length of the top expenses list.
const DefaultTopK = 5

var hundred = decimal.NewFromInt(100)

type (
	Totals struct {
		Income   decimal.Decimal `json:"income"`
		Expenses decimal.Decimal `json:"expenses"`
		Balance  decimal.Decimal `json:"balance"`
	}

	MonthStats struct {
		Month time.Month `json:"-"`
		Name  string     `json:"month"`
		Totals
	}

	Slice struct {
		Name  string          `json:"name"`
		Value decimal.Decimal `json:"value"`
		// Share of total expenses, 0..1.
		Share decimal.Decimal `json:"share"`
	}

	Ranked struct {
		Name   string          `json:"name"`
		Amount decimal.Decimal `json:"amount"`
	}

	TrendPoint struct {
		Month    string          `json:"month"`
		Income   decimal.Decimal `json:"income"`
		Expenses decimal.Decimal `json:"expenses"`
		Balance  decimal.Decimal `json:"balance"`
	}

	ComparePoint struct {
		Month            string          `json:"month"`
		ExpectedIncome   decimal.Decimal `json:"expectedIncome"`
		ActualIncome     decimal.Decimal `json:"actualIncome"`
		ExpectedExpenses decimal.Decimal `json:"expectedExpenses"`
		ActualExpenses   decimal.Decimal `json:"actualExpenses"`
		ExpectedBalance  decimal.Decimal `json:"expectedBalance"`
		ActualBalance    decimal.Decimal `json:"actualBalance"`
	}

	Comparison struct {
		ExpectedIncome   decimal.Decimal `json:"expectedIncome"`
		ExpectedExpenses decimal.Decimal `json:"expectedExpenses"`
		ExpectedBalance  decimal.Decimal `json:"expectedBalance"`
		ActualIncome     decimal.Decimal `json:"actualIncome"`
		ActualExpenses   decimal.Decimal `json:"actualExpenses"`
		ActualBalance    decimal.Decimal `json:"actualBalance"`
		IncomeDiff       decimal.Decimal `json:"incomeDiff"`
		ExpensesDiff     decimal.Decimal `json:"expensesDiff"`
		BalanceDiff      decimal.Decimal `json:"balanceDiff"`
	}

	Averages struct {
		Income   decimal.Decimal `json:"avgIncome"`
		Expenses decimal.Decimal `json:"avgExpenses"`
	}

	// Summary bundles the figures shown on a month's dashboard card.
	Summary struct {
		Month       string           `json:"month"`
		View        string           `json:"view"`
		Totals      Totals           `json:"totals"`
		Averages    Averages         `json:"averages"`
		SavingsRate decimal.Decimal  `json:"savingsRate"`
		Status      *decimal.Decimal `json:"status"`
		MonthsCount int              `json:"monthsWithData"`
	}
)

// ComputeTotals sums both lists of b.
func ComputeTotals(b core.Bucket) Totals {
	income := core.Sum(b.Income)
	expenses := core.Sum(b.Expenses)
	return Totals{Income: income, Expenses: expenses, Balance: income.Sub(expenses)}
}

// AllMonthsStats returns totals for every month holding data in v, in
// calendar order.
func AllMonthsStats(l core.Ledger, v core.View) []MonthStats {
	out := make([]MonthStats, 0, len(l))
	for m := time.January; m <= time.December; m++ {
		b := l.Bucket(m, v)
		if b.IsEmpty() {
			continue
		}
		out = append(out, MonthStats{Month: m, Name: m.String(), Totals: ComputeTotals(b)})
	}
	return out
}

// MonthStatus returns the actual balance of month, or nil when neither
// view holds any entry.
func MonthStatus(l core.Ledger, month time.Month) *decimal.Decimal {
	if !l.HasData(month, core.ViewExpected) && !l.HasData(month, core.ViewActual) {
		return nil
	}
	balance := ComputeTotals(l.Bucket(month, core.ViewActual)).Balance
	return &balance
}

// ExpenseBreakdown lists positive expenses by amount, largest first. Equal
// amounts keep their entry order.
func ExpenseBreakdown(b core.Bucket) []Slice {
	total := decimal.Zero
	out := make([]Slice, 0, len(b.Expenses))
	for _, e := range b.Expenses {
		if !e.Amount.IsPositive() {
			continue
		}
		total = total.Add(e.Amount)
		out = append(out, Slice{Name: e.Name, Value: e.Amount})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Value.GreaterThan(out[j].Value)
	})
	if total.IsPositive() {
		for i := range out {
			out[i].Share = out[i].Value.Div(total)
		}
	}
	return out
}

// TopExpenses returns the first k entries of the breakdown. k <= 0 uses
// DefaultTopK.
func TopExpenses(b core.Bucket, k int) []Ranked {
	if k <= 0 {
		k = DefaultTopK
	}
	breakdown := ExpenseBreakdown(b)
	if len(breakdown) > k {
		breakdown = breakdown[:k]
	}
	out := make([]Ranked, len(breakdown))
	for i, s := range breakdown {
		out[i] = Ranked{Name: s.Name, Amount: s.Value}
	}
	return out
}

// Trend zips totals per month for view v.
func Trend(l core.Ledger, v core.View) []TrendPoint {
	stats := AllMonthsStats(l, v)
	out := make([]TrendPoint, len(stats))
	for i, s := range stats {
		out[i] = TrendPoint{
			Month:    core.MonthAbbr(s.Month),
			Income:   s.Income,
			Expenses: s.Expenses,
			Balance:  s.Balance,
		}
	}
	return out
}

// CompareTrend pairs expected and actual totals over every month with data
// in either view. A view without data contributes zeros.
func CompareTrend(l core.Ledger) []ComparePoint {
	out := []ComparePoint{}
	for m := time.January; m <= time.December; m++ {
		exp := l.Bucket(m, core.ViewExpected)
		act := l.Bucket(m, core.ViewActual)
		if exp.IsEmpty() && act.IsEmpty() {
			continue
		}
		e := ComputeTotals(exp)
		a := ComputeTotals(act)
		out = append(out, ComparePoint{
			Month:            core.MonthAbbr(m),
			ExpectedIncome:   e.Income,
			ActualIncome:     a.Income,
			ExpectedExpenses: e.Expenses,
			ActualExpenses:   a.Expenses,
			ExpectedBalance:  e.Balance,
			ActualBalance:    a.Balance,
		})
	}
	return out
}

// Compare computes actual minus expected for one month.
func Compare(l core.Ledger, month time.Month) Comparison {
	e := ComputeTotals(l.Bucket(month, core.ViewExpected))
	a := ComputeTotals(l.Bucket(month, core.ViewActual))
	return Comparison{
		ExpectedIncome:   e.Income,
		ExpectedExpenses: e.Expenses,
		ExpectedBalance:  e.Balance,
		ActualIncome:     a.Income,
		ActualExpenses:   a.Expenses,
		ActualBalance:    a.Balance,
		IncomeDiff:       a.Income.Sub(e.Income),
		ExpensesDiff:     a.Expenses.Sub(e.Expenses),
		BalanceDiff:      a.Balance.Sub(e.Balance),
	}
}

// ComputeAverages is the mean of AllMonthsStats, zero without data.
func ComputeAverages(l core.Ledger, v core.View) Averages {
	stats := AllMonthsStats(l, v)
	if len(stats) == 0 {
		return Averages{Income: decimal.Zero, Expenses: decimal.Zero}
	}
	income, expenses := decimal.Zero, decimal.Zero
	for _, s := range stats {
		income = income.Add(s.Income)
		expenses = expenses.Add(s.Expenses)
	}
	n := decimal.NewFromInt(int64(len(stats)))
	return Averages{Income: income.Div(n), Expenses: expenses.Div(n)}
}

// SavingsRate is balance/income*100, or 0 when income is not positive.
// The value is not clamped; a month spending more than it earns yields a
// negative rate.
func SavingsRate(t Totals) decimal.Decimal {
	if !t.Income.IsPositive() {
		return decimal.Zero
	}
	return t.Balance.Div(t.Income).Mul(hundred)
}

// ClampRate bounds a rate to [-100, 100] for display.
func ClampRate(r decimal.Decimal) decimal.Decimal {
	if r.GreaterThan(hundred) {
		return hundred
	}
	if r.LessThan(hundred.Neg()) {
		return hundred.Neg()
	}
	return r
}

// Summarize builds the dashboard card for month in view v.
func Summarize(l core.Ledger, month time.Month, v core.View) Summary {
	totals := ComputeTotals(l.Bucket(month, v))
	return Summary{
		Month:       month.String(),
		View:        v.String(),
		Totals:      totals,
		Averages:    ComputeAverages(l, v),
		SavingsRate: SavingsRate(totals).Round(2),
		Status:      MonthStatus(l, month),
		MonthsCount: len(AllMonthsStats(l, v)),
	}
}
