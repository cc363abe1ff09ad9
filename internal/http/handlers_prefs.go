package http

import (
	"net/http"

	"khata/internal/session"
)

func (s *Server) handleListPrefs(w http.ResponseWriter, r *http.Request) {
	sess, err := session.FromContext(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	all, err := s.prefs.All(r.Context(), sess.UID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

type setPrefRequest struct {
	Value string `json:"value"`
}

// handleSetPref stores one preference. Setting profileType here is how
// a client switches profiles; the next authenticated request picks up
// the new scope.
func (s *Server) handleSetPref(w http.ResponseWriter, r *http.Request) {
	sess, err := session.FromContext(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req setPrefRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	if err := s.prefs.Set(r.Context(), sess.UID, r.PathValue("key"), req.Value); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
