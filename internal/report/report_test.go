package report

import (
	"testing"
	"time"

	"khata/internal/core"
)

func tx(kind core.TransactionKind, paise int64, categoryID string, date time.Time) core.Transaction {
	return core.Transaction{
		ID:          "tx-" + date.Format("20060102150405"),
		Amount:      core.Money{Paise: paise},
		Kind:        kind,
		CategoryID:  categoryID,
		Description: "test",
		Date:        date,
	}
}

func TestSummarize(t *testing.T) {
	loc := time.UTC
	now := time.Date(2026, time.August, 15, 12, 0, 0, 0, loc)

	txs := []core.Transaction{
		tx(core.Income, 500000, "salary", now.AddDate(0, 0, -1)),
		tx(core.Expense, 120050, "food", now.AddDate(0, 0, -2)),
		tx(core.Expense, 80000, "food", now.AddDate(0, -1, 0)), // previous month, excluded
		tx(core.Income, 99900, "salary", now.AddDate(0, -2, 0)),
	}

	s := Summarize(txs, now, loc)
	if s.Income.Paise != 500000 {
		t.Fatalf("income: expected 500000, got %d", s.Income.Paise)
	}
	if s.Expense.Paise != 120050 {
		t.Fatalf("expense: expected 120050, got %d", s.Expense.Paise)
	}
	if s.Balance.Paise != 379950 {
		t.Fatalf("balance: expected income-expense=379950, got %d", s.Balance.Paise)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil, time.Now(), time.UTC)
	if s.Income.Paise != 0 || s.Expense.Paise != 0 || s.Balance.Paise != 0 {
		t.Fatalf("expected all-zero summary, got %+v", s)
	}
}

func TestSummarizeUsesViewerLocation(t *testing.T) {
	// 2026-08-31 22:00 UTC is already September in Kolkata (+05:30).
	loc := time.FixedZone("IST", 5*3600+1800)
	now := time.Date(2026, time.August, 31, 22, 0, 0, 0, time.UTC)

	txs := []core.Transaction{
		tx(core.Expense, 1000, "c", now), // September 1st local
		tx(core.Expense, 2000, "c", time.Date(2026, time.August, 10, 0, 0, 0, 0, time.UTC)),
	}

	s := Summarize(txs, now, loc)
	if s.Expense.Paise != 1000 {
		t.Fatalf("expected only the local-September record counted, got %d", s.Expense.Paise)
	}
}

func TestTrailingMonthsAlwaysSix(t *testing.T) {
	loc := time.UTC
	now := time.Date(2026, time.February, 10, 0, 0, 0, 0, loc)

	points := TrailingMonths(nil, now, loc)
	if len(points) != TrailingMonthCount {
		t.Fatalf("expected %d points, got %d", TrailingMonthCount, len(points))
	}

	wantLabels := []string{"Sep", "Oct", "Nov", "Dec", "Jan", "Feb"}
	for i, p := range points {
		if p.Label != wantLabels[i] {
			t.Fatalf("point %d: expected label %q, got %q", i, wantLabels[i], p.Label)
		}
		if p.Income.Paise != 0 || p.Expense.Paise != 0 {
			t.Fatalf("point %d: expected zero-filled month, got %+v", i, p)
		}
	}
	// Year boundary: September through December belong to 2025.
	if points[0].Year != 2025 || points[5].Year != 2026 {
		t.Fatalf("year boundary wrong: first=%d last=%d", points[0].Year, points[5].Year)
	}
}

func TestTrailingMonthsBuckets(t *testing.T) {
	loc := time.UTC
	now := time.Date(2026, time.August, 20, 0, 0, 0, 0, loc)

	txs := []core.Transaction{
		tx(core.Expense, 100, "c", time.Date(2026, time.August, 1, 0, 0, 0, 0, loc)),
		tx(core.Income, 300, "c", time.Date(2026, time.June, 5, 0, 0, 0, 0, loc)),
		tx(core.Expense, 700, "c", time.Date(2025, time.December, 31, 0, 0, 0, 0, loc)), // outside window
	}

	points := TrailingMonths(txs, now, loc)
	if points[5].Expense.Paise != 100 {
		t.Fatalf("August expense: expected 100, got %d", points[5].Expense.Paise)
	}
	if points[3].Income.Paise != 300 {
		t.Fatalf("June income: expected 300, got %d", points[3].Income.Paise)
	}
	var total int64
	for _, p := range points {
		total += p.Income.Paise + p.Expense.Paise
	}
	if total != 400 {
		t.Fatalf("window should exclude December 2025, got total %d", total)
	}
}

func TestTrailingMonthsDeterministic(t *testing.T) {
	loc := time.UTC
	now := time.Date(2026, time.August, 20, 0, 0, 0, 0, loc)
	txs := []core.Transaction{
		tx(core.Expense, 100, "a", now),
		tx(core.Income, 250, "b", now.AddDate(0, -3, 0)),
	}

	first := TrailingMonths(txs, now, loc)
	second := TrailingMonths(txs, now, loc)
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("point %d differs between recomputations: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestBudgetUsage(t *testing.T) {
	loc := time.UTC
	now := time.Date(2026, time.August, 20, 0, 0, 0, 0, loc)
	cat := core.Category{ID: "cat-a", Title: "Marketing", BudgetMonthly: core.Money{Paise: 10000000}}

	txs := []core.Transaction{
		tx(core.Expense, 9500000, "cat-a", now.AddDate(0, 0, -1)),
		tx(core.Expense, 500000, "cat-b", now),                   // other category
		tx(core.Income, 100000, "cat-a", now),                    // income never counts
		tx(core.Expense, 9999900, "cat-a", now.AddDate(0, -1, 0)), // previous month
	}

	if got := BudgetUsage(txs, cat, now, loc); got != 95 {
		t.Fatalf("expected 95%%, got %v", got)
	}

	unbounded := core.Category{ID: "cat-a", Title: "Misc"}
	if got := BudgetUsage(txs, unbounded, now, loc); got != 0 {
		t.Fatalf("zero budget must report 0, got %v", got)
	}
}
