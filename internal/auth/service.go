// Package auth owns identity: email/password and federated sign-in,
// access tokens, and the first-sign-in bootstrap that creates the user
// document with its default username reservation.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/api/idtoken"

	"khata/internal/core"
	"khata/internal/log"
	"khata/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailRegistered    = errors.New("email already registered")
)

const refreshTokenTTL = 7 * 24 * time.Hour

// IdentityStore is the slice of the repository auth needs.
type IdentityStore interface {
	GetUser(ctx context.Context, uid string) (core.User, error)
	GetUserByEmail(ctx context.Context, email string) (core.User, error)
	CreateUser(ctx context.Context, u core.User) error
	UpdateUser(ctx context.Context, uid string, fields map[string]any) error
	ClaimUsername(ctx context.Context, uid, username string) error
	UsernameAvailable(ctx context.Context, username string) (bool, error)
	AddSession(ctx context.Context, uid, refreshToken string, expiresAt time.Time) error
	DeleteSession(ctx context.Context, refreshToken string) error
	SessionUID(ctx context.Context, refreshToken string) (string, error)
}

// googleVerifier validates a federated ID token. Swappable in tests;
// the default talks to Google's certificate endpoint.
type googleVerifier func(ctx context.Context, token, audience string) (*idtoken.Payload, error)

// Result is a completed sign-in.
type Result struct {
	User         core.User `json:"user"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
}

// Service implements sign up, sign in, sign out and identity-change
// notification.
type Service struct {
	store    IdentityStore
	tokens   *Tokens
	audience string
	verify   googleVerifier
	logger   *log.Logger

	mu        sync.Mutex
	listeners []func(uid string, signedIn bool)
}

func NewService(st IdentityStore, tokens *Tokens, googleClientID string, logger *log.Logger) *Service {
	return &Service{
		store:    st,
		tokens:   tokens,
		audience: googleClientID,
		verify:   idtoken.Validate,
		logger:   logger.WithComponent("auth"),
	}
}

// OnIdentityChange registers a callback fired after every sign-in and
// sign-out, mirroring the auth-state subscription the client consumed.
func (s *Service) OnIdentityChange(fn func(uid string, signedIn bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Service) notify(uid string, signedIn bool) {
	s.mu.Lock()
	listeners := append([]func(string, bool){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(uid, signedIn)
	}
}

// SignUp registers an email/password identity. The lowercase email
// becomes the default username, reserved atomically with the user
// record; it can be changed once during onboarding via ClaimUsername.
func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (Result, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return Result{}, ErrInvalidCredentials
	}
	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return Result{}, ErrEmailRegistered
	} else if !errors.Is(err, store.ErrNotFound) {
		return Result{}, fmt.Errorf("check email: %w", err)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return Result{}, err
	}
	user := core.User{
		UID:          uuid.NewString(),
		Email:        email,
		DisplayName:  displayName,
		Username:     email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return Result{}, fmt.Errorf("create user: %w", err)
	}
	s.logger.InfoContext(ctx, "User signed up", "uid", user.UID)
	return s.establish(ctx, user)
}

// SignIn verifies an email/password pair.
func (s *Service) SignIn(ctx context.Context, email, password string) (Result, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return Result{}, ErrInvalidCredentials
	}
	if err != nil {
		return Result{}, fmt.Errorf("look up user: %w", err)
	}
	if user.PasswordHash == "" || !CheckPassword(password, user.PasswordHash) {
		return Result{}, ErrInvalidCredentials
	}
	return s.establish(ctx, user)
}

// SignInWithGoogle verifies a federated ID token and creates the user
// document on first sign-in, with the lowercase email as default
// username.
func (s *Service) SignInWithGoogle(ctx context.Context, rawIDToken string) (Result, error) {
	payload, err := s.verify(ctx, rawIDToken, s.audience)
	if err != nil {
		s.logger.WarnContext(ctx, "Google token rejected", "error", err)
		return Result{}, ErrInvalidCredentials
	}
	email, _ := payload.Claims["email"].(string)
	email = strings.ToLower(email)
	if email == "" {
		return Result{}, ErrInvalidCredentials
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	switch {
	case errors.Is(err, store.ErrNotFound):
		name, _ := payload.Claims["name"].(string)
		photo, _ := payload.Claims["picture"].(string)
		user = core.User{
			UID:         uuid.NewString(),
			Email:       email,
			DisplayName: name,
			Username:    email,
			PhotoURL:    photo,
			CreatedAt:   time.Now().UTC(),
		}
		if err := s.store.CreateUser(ctx, user); err != nil {
			return Result{}, fmt.Errorf("create user: %w", err)
		}
		s.logger.InfoContext(ctx, "User created from federated sign-in", "uid", user.UID)
	case err != nil:
		return Result{}, fmt.Errorf("look up user: %w", err)
	}
	return s.establish(ctx, user)
}

// SignOut deletes the stored refresh session. Access tokens simply
// expire.
func (s *Service) SignOut(ctx context.Context, refreshToken string) error {
	uid, err := s.store.SessionUID(ctx, refreshToken)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("look up session: %w", err)
	}
	if err := s.store.DeleteSession(ctx, refreshToken); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if uid != "" {
		s.notify(uid, false)
	}
	return nil
}

// Refresh trades a stored refresh token for a new access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, error) {
	uid, err := s.store.SessionUID(ctx, refreshToken)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", fmt.Errorf("look up session: %w", err)
	}
	user, err := s.store.GetUser(ctx, uid)
	if err != nil {
		return "", fmt.Errorf("load user: %w", err)
	}
	return s.tokens.Issue(user.UID, user.Email)
}

// Verify checks an access token.
func (s *Service) Verify(raw string) (Claims, error) {
	return s.tokens.Verify(raw)
}

// CheckUsername reports availability of a normalized username.
func (s *Service) CheckUsername(ctx context.Context, username string) (bool, error) {
	if err := core.ValidateUsername(username); err != nil {
		return false, err
	}
	return s.store.UsernameAvailable(ctx, username)
}

// ClaimUsername performs the one-time onboarding username change.
func (s *Service) ClaimUsername(ctx context.Context, uid, username string) error {
	return s.store.ClaimUsername(ctx, uid, username)
}

func (s *Service) establish(ctx context.Context, user core.User) (Result, error) {
	access, err := s.tokens.Issue(user.UID, user.Email)
	if err != nil {
		return Result{}, err
	}
	refresh, err := NewRefreshToken()
	if err != nil {
		return Result{}, err
	}
	if err := s.store.AddSession(ctx, user.UID, refresh, time.Now().Add(refreshTokenTTL)); err != nil {
		return Result{}, fmt.Errorf("create session: %w", err)
	}
	s.notify(user.UID, true)
	return Result{User: user, AccessToken: access, RefreshToken: refresh}, nil
}
