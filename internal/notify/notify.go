// Package notify derives ephemeral alerts from the live transaction
// and category snapshots. Nothing is persisted: the full set is
// regenerated on every data change, and identifiers are stable
// functions of rule and subject so transient read/dismiss state
// survives a recompute.
package notify

import (
	"fmt"
	"math"
	"time"

	"khata/internal/core"
	"khata/internal/report"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

type Kind string

const (
	KindBudgetAlert Kind = "budget_alert"
	KindMilestone   Kind = "milestone"
	KindSystem      Kind = "system"
)

// Spending milestone thresholds, in paise.
const (
	milestoneHigh = 100000 * 100 // ₹1,00,000
	milestoneLow  = 50000 * 100  // ₹50,000
)

type Notification struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Priority  Priority  `json:"priority"`
	Read      bool      `json:"read"`
}

// Generate evaluates every rule against the snapshots. All produced
// notifications share the same timestamp; display ties fall back to
// generation order. Recomputing with unchanged inputs yields the same
// identifiers in the same order.
func Generate(txs []core.Transaction, cats []core.Category, now time.Time, loc *time.Location) []Notification {
	var out []Notification

	// Budget rules, one severity per category: only the highest
	// threshold crossed fires.
	for _, cat := range cats {
		if cat.BudgetMonthly.Paise <= 0 {
			continue
		}
		usage := report.BudgetUsage(txs, cat, now, loc)
		rounded := int(math.Round(usage))
		switch {
		case usage >= 90:
			prio := PriorityMedium
			if usage >= 100 {
				prio = PriorityHigh
			}
			out = append(out, Notification{
				ID:        "budget-alert-" + cat.ID,
				Kind:      KindBudgetAlert,
				Title:     "Budget Alert",
				Message:   fmt.Sprintf("You've spent %d%% of your %s budget this month", rounded, cat.Title),
				Timestamp: now,
				Priority:  prio,
			})
		case usage >= 75:
			out = append(out, Notification{
				ID:        "budget-warning-" + cat.ID,
				Kind:      KindBudgetAlert,
				Title:     "Budget Warning",
				Message:   fmt.Sprintf("You've used %d%% of your %s budget", rounded, cat.Title),
				Timestamp: now,
				Priority:  PriorityLow,
			})
		}
	}

	// Spending milestones, mutually exclusive: the higher threshold
	// suppresses the lower one.
	total := report.Summarize(txs, now, loc).Expense
	if total.Paise >= milestoneHigh {
		out = append(out, Notification{
			ID:        "milestone-100k",
			Kind:      KindMilestone,
			Title:     "Spending Milestone",
			Message:   "You've spent over ₹1,00,000 this month. Consider reviewing your expenses.",
			Timestamp: now,
			Priority:  PriorityMedium,
		})
	} else if total.Paise >= milestoneLow {
		out = append(out, Notification{
			ID:        "milestone-50k",
			Kind:      KindMilestone,
			Title:     "Monthly Update",
			Message:   fmt.Sprintf("You've spent %s this month so far.", total.FormatINR()),
			Timestamp: now,
			Priority:  PriorityLow,
		})
	}

	// Onboarding nudge for an empty profile. Mutually exclusive with
	// the milestones in practice: no transactions means zero spend.
	if len(txs) == 0 {
		out = append(out, Notification{
			ID:        "welcome",
			Kind:      KindSystem,
			Title:     "Welcome to Expense Manager!",
			Message:   "Start by adding your first transaction to begin tracking your finances.",
			Timestamp: now,
			Priority:  PriorityLow,
		})
	}

	return out
}
