// Package report derives dashboard figures from a transaction
// snapshot. Everything here is a pure function: the same snapshot and
// clock always produce the same output, and nothing accumulates
// between calls.
//
// Inputs are bounded by the subscription's 100-record query limit, so
// full recomputation is cheap. Totals are therefore only exact for
// profiles with at most 100 lifetime transactions; that truncation is
// accepted behavior, not something to correct here.
package report

import (
	"time"

	"khata/internal/core"
)

// TrailingMonthCount is the length of the dashboard series.
const TrailingMonthCount = 6

// Summary holds the current calendar month's totals.
type Summary struct {
	Income  core.Money `json:"incomePaise"`
	Expense core.Money `json:"expensePaise"`
	Balance core.Money `json:"balancePaise"`
}

// MonthPoint is one entry of the trailing series.
type MonthPoint struct {
	Label   string     `json:"month"` // 3-letter abbreviation
	Year    int        `json:"year"`
	Month   time.Month `json:"-"`
	Income  core.Money `json:"incomePaise"`
	Expense core.Money `json:"expensePaise"`
}

// Summarize partitions the snapshot's current-month records by kind
// and sums each side. Month boundaries follow the viewer's location,
// not UTC.
func Summarize(txs []core.Transaction, now time.Time, loc *time.Location) Summary {
	local := now.In(loc)
	year, month := local.Year(), local.Month()

	var s Summary
	for _, tx := range txs {
		d := tx.Date.In(loc)
		if d.Year() != year || d.Month() != month {
			continue
		}
		switch tx.Kind {
		case core.Income:
			s.Income = s.Income.Add(tx.Amount)
		case core.Expense:
			s.Expense = s.Expense.Add(tx.Amount)
		}
	}
	s.Balance = s.Income.Sub(s.Expense)
	return s
}

// TrailingMonths returns per-kind sums for the six calendar months
// ending at and including the current one, oldest first. Months with
// no transactions appear with zero sums rather than being omitted.
func TrailingMonths(txs []core.Transaction, now time.Time, loc *time.Location) []MonthPoint {
	local := now.In(loc)
	points := make([]MonthPoint, 0, TrailingMonthCount)

	for i := TrailingMonthCount - 1; i >= 0; i-- {
		// time.Date normalizes out-of-range months, so January
		// minus one lands on December of the prior year.
		first := time.Date(local.Year(), local.Month()-time.Month(i), 1, 0, 0, 0, 0, loc)
		p := MonthPoint{
			Label: first.Format("Jan"),
			Year:  first.Year(),
			Month: first.Month(),
		}
		for _, tx := range txs {
			d := tx.Date.In(loc)
			if d.Year() != p.Year || d.Month() != p.Month {
				continue
			}
			switch tx.Kind {
			case core.Income:
				p.Income = p.Income.Add(tx.Amount)
			case core.Expense:
				p.Expense = p.Expense.Add(tx.Amount)
			}
		}
		points = append(points, p)
	}
	return points
}

// CategoryExpense sums the current month's expenses charged to one
// category.
func CategoryExpense(txs []core.Transaction, categoryID string, now time.Time, loc *time.Location) core.Money {
	local := now.In(loc)
	year, month := local.Year(), local.Month()

	var sum core.Money
	for _, tx := range txs {
		if tx.Kind != core.Expense || tx.CategoryID != categoryID {
			continue
		}
		d := tx.Date.In(loc)
		if d.Year() == year && d.Month() == month {
			sum = sum.Add(tx.Amount)
		}
	}
	return sum
}

// BudgetUsage reports the share of a category's monthly budget
// consumed this month, in percent. A category without a positive
// budget always reports 0; there is no division by zero.
func BudgetUsage(txs []core.Transaction, cat core.Category, now time.Time, loc *time.Location) float64 {
	if cat.BudgetMonthly.Paise <= 0 {
		return 0
	}
	spent := CategoryExpense(txs, cat.ID, now, loc)
	return float64(spent.Paise) / float64(cat.BudgetMonthly.Paise) * 100
}
