package http

import (
	"net/http"

	"khata/internal/core"
	"khata/internal/session"
)

// Collaborator endpoints default to the caller's own profile as owner;
// an explicit owner query parameter targets a profile shared with the
// caller.
func ownerUID(r *http.Request, sess session.Session) string {
	if owner := r.URL.Query().Get("owner"); owner != "" {
		return owner
	}
	return sess.UID
}

func (s *Server) handleListCollaborators(w http.ResponseWriter, r *http.Request) {
	sess, err := session.FromContext(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cols, err := s.cols.List(r.Context(), sess, ownerUID(r, sess))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collaborators": cols})
}

type inviteRequest struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	Owner    string `json:"owner,omitempty"`
}

func (s *Server) handleInviteCollaborator(w http.ResponseWriter, r *http.Request) {
	sess, err := session.FromContext(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req inviteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	owner := req.Owner
	if owner == "" {
		owner = sess.UID
	}
	col, err := s.cols.Invite(r.Context(), sess, owner, req.Username, core.Role(req.Role))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"collaborator": col})
}

func (s *Server) handleDeactivateCollaborator(w http.ResponseWriter, r *http.Request) {
	sess, err := session.FromContext(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.cols.Deactivate(r.Context(), sess, ownerUID(r, sess), r.PathValue("uid")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
