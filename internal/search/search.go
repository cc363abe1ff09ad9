// Package search filters the in-memory snapshots on every keystroke.
// The computation is synchronous and restartable: with at most 100
// transactions in a snapshot there is nothing to debounce or paginate.
package search

import (
	"strings"

	"khata/internal/core"
)

const (
	maxTransactionResults = 5
	maxCategoryResults    = 3
)

type Results struct {
	Transactions []core.Transaction `json:"transactions"`
	Categories   []core.Category    `json:"categories"`
}

// Filter matches case-insensitively: a substring hit, or an in-order
// abbreviation where every query character appears in sequence, so
// "mkt" finds "Marketing". A transaction matches on its description or
// on its resolved category title, so "mkt" also finds transactions
// filed under "Marketing" even when the description itself contains
// neither form. An empty query returns nothing, not everything. Result
// sets are capped independently at 5 transactions and 3 categories.
func Filter(query string, txs []core.Transaction, cats []core.Category) Results {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return Results{Transactions: []core.Transaction{}, Categories: []core.Category{}}
	}

	titles := make(map[string]string, len(cats))
	for _, c := range cats {
		titles[c.ID] = strings.ToLower(c.Title)
	}

	matchedTxs := make([]core.Transaction, 0, maxTransactionResults)
	for _, tx := range txs {
		if len(matchedTxs) == maxTransactionResults {
			break
		}
		// A dangling category reference simply has no title to
		// match against; the description check still applies.
		if matches(strings.ToLower(tx.Description), q) ||
			matches(titles[tx.CategoryID], q) {
			matchedTxs = append(matchedTxs, tx)
		}
	}

	matchedCats := make([]core.Category, 0, maxCategoryResults)
	for _, c := range cats {
		if len(matchedCats) == maxCategoryResults {
			break
		}
		if matches(strings.ToLower(c.Title), q) {
			matchedCats = append(matchedCats, c)
		}
	}

	return Results{Transactions: matchedTxs, Categories: matchedCats}
}

// matches expects both arguments already lowercased. An empty text
// never matches.
func matches(text, q string) bool {
	if text == "" {
		return false
	}
	return strings.Contains(text, q) || isAbbreviation(text, q)
}

// isAbbreviation reports whether the query's characters all appear in
// the text in order, not necessarily adjacent.
func isAbbreviation(text, q string) bool {
	runes := []rune(q)
	i := 0
	for _, r := range text {
		if i < len(runes) && r == runes[i] {
			i++
		}
	}
	return i == len(runes)
}
