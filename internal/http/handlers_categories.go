package http

import (
	"net/http"

	"khata/internal/core"
	"khata/internal/services"
	"khata/internal/session"
)

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	sess, err := session.FromContext(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cats, err := s.cats.List(r.Context(), sess)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": cats})
}

type categoryRequest struct {
	Title         string `json:"title"`
	Color         string `json:"color"`
	Icon          string `json:"icon"`
	Type          string `json:"type"`
	BudgetMonthly string `json:"budgetMonthly"`
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	sess, err := session.FromContext(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req categoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	in := services.CategoryInput{
		Title: sanitizeInput(req.Title),
		Color: req.Color,
		Icon:  req.Icon,
		Kind:  core.TransactionKind(req.Type),
	}
	if req.BudgetMonthly != "" {
		paise, err := core.ParseDecimalToPaise(req.BudgetMonthly)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		in.BudgetMonthly = core.Money{Paise: paise}
	}

	cat, err := s.cats.Add(r.Context(), sess, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"category": cat})
}

type updateCategoryRequest struct {
	Title         *string `json:"title,omitempty"`
	Color         *string `json:"color,omitempty"`
	Icon          *string `json:"icon,omitempty"`
	BudgetMonthly *string `json:"budgetMonthly,omitempty"`
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	sess, err := session.FromContext(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req updateCategoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	upd := services.CategoryUpdate{
		Color: req.Color,
		Icon:  req.Icon,
	}
	if req.Title != nil {
		title := sanitizeInput(*req.Title)
		upd.Title = &title
	}
	if req.BudgetMonthly != nil {
		paise, err := core.ParseDecimalToPaise(*req.BudgetMonthly)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		upd.BudgetMonthly = &core.Money{Paise: paise}
	}

	if err := s.cats.Update(r.Context(), sess, r.PathValue("id"), upd); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	sess, err := session.FromContext(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.cats.Delete(r.Context(), sess, r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
