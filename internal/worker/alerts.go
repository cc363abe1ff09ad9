// Package worker turns change events into email alerts. It regenerates
// the notification set for the affected scope and mails budget alerts
// the user has not been told about this month.
package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"khata/internal/core"
	"khata/internal/events"
	"khata/internal/log"
	"khata/internal/notify"
)

// DataStore is the slice of the repository the worker reads.
type DataStore interface {
	GetUser(ctx context.Context, uid string) (core.User, error)
	ListTransactions(ctx context.Context, uid string, profile core.ProfileType) ([]core.Transaction, error)
	ListCategories(ctx context.Context, uid string, profile core.ProfileType) ([]core.Category, error)
}

// Preferences reports whether a user opted into email alerts.
type Preferences interface {
	EmailAlertsEnabled(ctx context.Context, uid string) (bool, error)
}

// AlertSender delivers one notification by mail.
type AlertSender interface {
	Enabled() bool
	SendAlert(ctx context.Context, to string, n notify.Notification) error
}

// Alerts processes change events. Sent alerts are remembered per
// calendar month so a user hears about each breached budget once.
type Alerts struct {
	store  DataStore
	prefs  Preferences
	sender AlertSender
	logger *log.Logger
	loc    *time.Location
	now    func() time.Time

	mu    sync.Mutex
	month string          // month the sent marks belong to
	sent  map[string]bool // uid|notificationID|YYYY-MM
}

func NewAlerts(store DataStore, prefs Preferences, sender AlertSender, loc *time.Location, logger *log.Logger) *Alerts {
	return &Alerts{
		store:  store,
		prefs:  prefs,
		sender: sender,
		logger: logger.WithComponent("alerts"),
		loc:    loc,
		now:    time.Now,
		sent:   make(map[string]bool),
	}
}

// Handle processes one change event. Category changes matter too: a
// lowered budget can push usage over a threshold without any new
// transaction.
func (a *Alerts) Handle(ctx context.Context, event *events.ChangeEvent) error {
	if !a.sender.Enabled() {
		return nil
	}

	enabled, err := a.prefs.EmailAlertsEnabled(ctx, event.UID)
	if err != nil {
		return fmt.Errorf("check alert preference: %w", err)
	}
	if !enabled {
		return nil
	}

	txs, err := a.store.ListTransactions(ctx, event.UID, event.Profile)
	if err != nil {
		return fmt.Errorf("list transactions: %w", err)
	}
	cats, err := a.store.ListCategories(ctx, event.UID, event.Profile)
	if err != nil {
		return fmt.Errorf("list categories: %w", err)
	}

	now := a.now()
	var alerts []notify.Notification
	for _, n := range notify.Generate(txs, cats, now, a.loc) {
		if n.Kind == notify.KindBudgetAlert && n.Priority != notify.PriorityLow {
			alerts = append(alerts, n)
		}
	}
	if len(alerts) == 0 {
		return nil
	}

	user, err := a.store.GetUser(ctx, event.UID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}

	month := now.In(a.loc).Format("2006-01")
	a.sweep(month)
	for _, n := range alerts {
		key := event.UID + "|" + n.ID + "|" + month
		a.mu.Lock()
		seen := a.sent[key]
		if !seen {
			a.sent[key] = true
		}
		a.mu.Unlock()
		if seen {
			continue
		}

		if err := a.sender.SendAlert(ctx, user.Email, n); err != nil {
			a.mu.Lock()
			delete(a.sent, key)
			a.mu.Unlock()
			return fmt.Errorf("send alert: %w", err)
		}
		a.logger.InfoContext(ctx, "Sent budget alert",
			"uid", event.UID,
			"notification", n.ID,
			"priority", n.Priority)
	}
	return nil
}

// sweep evicts marks from past months on rollover so the dedupe map
// stays bounded by one month's worth of alerts.
func (a *Alerts) sweep(month string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.month == month {
		return
	}
	for k := range a.sent {
		if !strings.HasSuffix(k, "|"+month) {
			delete(a.sent, k)
		}
	}
	a.month = month
}
