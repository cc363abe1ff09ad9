// Package session carries the authenticated user and their active
// profile through a request. Every data operation is scoped by this
// pair; switching profiles swaps the session, never mutates it.
package session

import (
	"context"
	"errors"

	"khata/internal/core"
)

var ErrNoSession = errors.New("no session in context")

// Session identifies whose data a request touches.
type Session struct {
	UID     string
	Email   string
	Profile core.ProfileType
}

// WithProfile returns a copy scoped to another profile.
func (s Session) WithProfile(p core.ProfileType) Session {
	s.Profile = p
	return s
}

type contextKey struct{}

// NewContext attaches a session to a context.
func NewContext(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext extracts the session placed by the auth middleware.
func FromContext(ctx context.Context) (Session, error) {
	s, ok := ctx.Value(contextKey{}).(Session)
	if !ok {
		return Session{}, ErrNoSession
	}
	return s, nil
}
