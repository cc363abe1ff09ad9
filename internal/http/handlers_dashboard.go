package http

import (
	"net/http"
	"time"

	"khata/internal/notify"
	"khata/internal/report"
	"khata/internal/search"
	"khata/internal/session"
)

// handleDashboard returns the month summary, the trailing six-month
// series, and per-category budget usage in one response.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	sess, err := session.FromContext(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	txs, err := s.txs.List(r.Context(), sess)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cats, err := s.cats.List(r.Context(), sess)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	loc := requestLocation(r)
	now := time.Now()

	type budgetRow struct {
		CategoryID string  `json:"categoryId"`
		Title      string  `json:"title"`
		Spent      int64   `json:"spentPaise"`
		Budget     int64   `json:"budgetPaise"`
		Usage      float64 `json:"usagePercent"`
	}
	budgets := make([]budgetRow, 0, len(cats))
	for _, cat := range cats {
		budgets = append(budgets, budgetRow{
			CategoryID: cat.ID,
			Title:      cat.Title,
			Spent:      report.CategoryExpense(txs, cat.ID, now, loc).Paise,
			Budget:     cat.BudgetMonthly.Paise,
			Usage:      report.BudgetUsage(txs, cat, now, loc),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"summary":  report.Summarize(txs, now, loc),
		"trailing": report.TrailingMonths(txs, now, loc),
		"budgets":  budgets,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	sess, err := session.FromContext(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	query := r.URL.Query().Get("q")

	txs, err := s.txs.List(r.Context(), sess)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cats, err := s.cats.List(r.Context(), sess)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, search.Filter(query, txs, cats))
}

// refreshNotifications regenerates the notification set for the
// session's scope and folds it into the per-scope center.
func (s *Server) refreshNotifications(r *http.Request, sess session.Session) (*notify.Center, error) {
	txs, err := s.txs.List(r.Context(), sess)
	if err != nil {
		return nil, err
	}
	cats, err := s.cats.List(r.Context(), sess)
	if err != nil {
		return nil, err
	}

	c := s.center(sess)
	c.Update(notify.Generate(txs, cats, time.Now(), requestLocation(r)))
	return c, nil
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	sess, err := session.FromContext(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.refreshNotifications(r, sess)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": c.List(),
		"unreadCount":   c.UnreadCount(),
	})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	sess, err := session.FromContext(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.center(sess).MarkRead(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	sess, err := session.FromContext(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.center(sess).MarkAllRead()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	sess, err := session.FromContext(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.center(sess).Dismiss(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}
