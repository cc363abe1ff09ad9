package http

import (
	"encoding/json"
	"net/http"

	"khata/internal/core"
	"khata/internal/services"
	"khata/internal/session"
)

const maxUploadBytes = 20 << 20

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
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
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

// createTransactionPayload is the "payload" form field on the
// multipart create request. Files ride alongside as "attachments"
// parts.
type createTransactionPayload struct {
	Amount      string         `json:"amount"`
	Type        string         `json:"type"`
	CategoryID  string         `json:"categoryId"`
	Description string         `json:"description"`
	Metadata    *core.Metadata `json:"metadata,omitempty"`
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	sess, err := session.FromContext(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid multipart request"})
		return
	}

	var payload createTransactionPayload
	if err := json.Unmarshal([]byte(r.FormValue("payload")), &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid payload"})
		return
	}

	paise, err := core.ParseDecimalToPaise(payload.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	in := services.TransactionInput{
		Amount:      core.Money{Paise: paise},
		Kind:        core.TransactionKind(payload.Type),
		CategoryID:  payload.CategoryID,
		Description: sanitizeInput(payload.Description),
		Metadata:    payload.Metadata,
	}

	var files []services.StagedFile
	if r.MultipartForm != nil {
		for _, fh := range r.MultipartForm.File["attachments"] {
			f, err := fh.Open()
			if err != nil {
				writeJSON(w, http.StatusBadRequest, errorBody{Error: "unreadable attachment"})
				return
			}
			defer f.Close()
			files = append(files, services.StagedFile{Filename: fh.Filename, Content: f})
		}
	}

	res, err := s.txs.Add(r.Context(), sess, in, files, nil)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	body := map[string]any{"transaction": res.Transaction}
	if len(res.UploadErrors) > 0 {
		failed := make([]string, 0, len(res.UploadErrors))
		for _, e := range res.UploadErrors {
			failed = append(failed, e.Error())
		}
		body["uploadErrors"] = failed
	}
	writeJSON(w, http.StatusCreated, body)
}

type updateTransactionRequest struct {
	Amount      *string        `json:"amount,omitempty"`
	Type        *string        `json:"type,omitempty"`
	CategoryID  *string        `json:"categoryId,omitempty"`
	Description *string        `json:"description,omitempty"`
	Metadata    *core.Metadata `json:"metadata,omitempty"`
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	sess, err := session.FromContext(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req updateTransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	upd := services.TransactionUpdate{
		CategoryID: req.CategoryID,
		Metadata:   req.Metadata,
	}
	if req.Amount != nil {
		paise, err := core.ParseDecimalToPaise(*req.Amount)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		upd.Amount = &core.Money{Paise: paise}
	}
	if req.Type != nil {
		kind := core.TransactionKind(*req.Type)
		upd.Kind = &kind
	}
	if req.Description != nil {
		desc := sanitizeInput(*req.Description)
		upd.Description = &desc
	}

	if err := s.txs.Update(r.Context(), sess, r.PathValue("id"), upd); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	sess, err := session.FromContext(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.txs.Delete(r.Context(), sess, r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
