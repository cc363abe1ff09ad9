package http

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"khata/internal/auth"
	"khata/internal/core"
	"khata/internal/prefs"
	"khata/internal/services"
	"khata/internal/session"
	"khata/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps domain errors to status codes. Unrecognized errors
// become an opaque 500; the detail goes to the log, not the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"

	switch {
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, session.ErrNoSession):
		status, msg = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, services.ErrForbidden):
		status, msg = http.StatusForbidden, "forbidden"
	case errors.Is(err, store.ErrNotFound), errors.Is(err, services.ErrUnknownUser):
		status, msg = http.StatusNotFound, "not found"
	case errors.Is(err, auth.ErrEmailRegistered), errors.Is(err, core.ErrUsernameTaken):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrEmptyDescription),
		errors.Is(err, core.ErrMissingCategory),
		errors.Is(err, core.ErrEmptyTitle),
		errors.Is(err, core.ErrNegativeBudget),
		errors.Is(err, core.ErrInvalidKind),
		errors.Is(err, core.ErrInvalidProfile),
		errors.Is(err, core.ErrInvalidRole),
		errors.Is(err, core.ErrInvalidUsername),
		errors.Is(err, services.ErrSelfInvite),
		errors.Is(err, services.ErrOwnerProfile):
		status, msg = http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, prefs.ErrUnknownKey):
		status, msg = http.StatusBadRequest, err.Error()
	}

	if status == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "Request failed", "error", err, "url", r.URL.Path)
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// requestLocation resolves the viewer's time zone from the tz query
// parameter. Aggregation buckets follow this clock.
func requestLocation(r *http.Request) *time.Location {
	name := strings.TrimSpace(r.URL.Query().Get("tz"))
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// generateRequestID creates a unique request ID for tracing.
func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return token
	}
	// Websocket clients cannot set headers, so the token may arrive as
	// a query parameter.
	return r.URL.Query().Get("token")
}
