package search

import (
	"fmt"
	"testing"

	"khata/internal/core"
)

func TestFilterEmptyQuery(t *testing.T) {
	txs := []core.Transaction{{Description: "anything"}}
	cats := []core.Category{{ID: "c", Title: "Food"}}

	for _, q := range []string{"", "   ", "\t"} {
		got := Filter(q, txs, cats)
		if len(got.Transactions) != 0 || len(got.Categories) != 0 {
			t.Fatalf("query %q: expected no results, got %+v", q, got)
		}
	}
}

func TestFilterMatchesCategoryTitle(t *testing.T) {
	cats := []core.Category{{ID: "cat-mkt", Title: "Marketing"}}
	txs := []core.Transaction{
		{ID: "t1", Description: "Facebook Ads Campaign", CategoryID: "cat-mkt"},
		{ID: "t2", Description: "Groceries", CategoryID: "cat-other"},
	}

	got := Filter("mkt", txs, cats)
	if len(got.Transactions) != 1 || got.Transactions[0].ID != "t1" {
		t.Fatalf("expected t1 via category-title match, got %+v", got.Transactions)
	}
	if len(got.Categories) != 1 || got.Categories[0].Title != "Marketing" {
		t.Fatalf("expected Marketing category, got %+v", got.Categories)
	}
}

func TestFilterAbbreviation(t *testing.T) {
	cats := []core.Category{{ID: "c1", Title: "Marketing"}}

	tests := []struct {
		query string
		want  int
	}{
		{"mkt", 1},  // characters in order
		{"mktg", 1}, // longer abbreviation, still in order
		{"tkm", 0},  // out of order
		{"mz", 0},   // absent character
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got := Filter(tt.query, nil, cats)
			if len(got.Categories) != tt.want {
				t.Fatalf("query %q: expected %d categories, got %+v", tt.query, tt.want, got.Categories)
			}
		})
	}
}

func TestFilterCaseInsensitiveDescription(t *testing.T) {
	txs := []core.Transaction{{ID: "t1", Description: "Monthly RENT payment"}}
	got := Filter("rent", txs, nil)
	if len(got.Transactions) != 1 {
		t.Fatalf("expected description match, got %+v", got.Transactions)
	}
}

func TestFilterDanglingCategoryReference(t *testing.T) {
	// Category deleted; its transactions still match by description
	// and never cause a failure.
	txs := []core.Transaction{{ID: "t1", Description: "Team lunch", CategoryID: "gone"}}
	got := Filter("lunch", txs, nil)
	if len(got.Transactions) != 1 {
		t.Fatalf("expected match despite dangling reference, got %+v", got.Transactions)
	}
}

func TestFilterCaps(t *testing.T) {
	var txs []core.Transaction
	var cats []core.Category
	for i := 0; i < 10; i++ {
		txs = append(txs, core.Transaction{ID: fmt.Sprintf("t%d", i), Description: "coffee run"})
		cats = append(cats, core.Category{ID: fmt.Sprintf("c%d", i), Title: "Coffee supplies"})
	}

	got := Filter("coffee", txs, cats)
	if len(got.Transactions) != 5 {
		t.Fatalf("expected 5 transactions, got %d", len(got.Transactions))
	}
	if len(got.Categories) != 3 {
		t.Fatalf("expected 3 categories, got %d", len(got.Categories))
	}
	// Snapshot order is preserved, so the first records win the cap.
	if got.Transactions[0].ID != "t0" || got.Categories[0].ID != "c0" {
		t.Fatalf("expected snapshot order preserved, got %s / %s", got.Transactions[0].ID, got.Categories[0].ID)
	}
}
