package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/api/idtoken"

	"khata/internal/core"
	"khata/internal/log"
	"khata/internal/store"
)

// memStore is an in-memory IdentityStore mirroring the repository's
// username-reservation semantics.
type memStore struct {
	mu       sync.Mutex
	users    map[string]core.User
	names    map[string]string // username -> uid
	sessions map[string]string // refresh token -> uid
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[string]core.User),
		names:    make(map[string]string),
		sessions: make(map[string]string),
	}
}

func (m *memStore) GetUser(_ context.Context, uid string) (core.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[uid]
	if !ok {
		return core.User{}, store.ErrNotFound
	}
	return u, nil
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (core.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return core.User{}, store.ErrNotFound
}

func (m *memStore) CreateUser(_ context.Context, u core.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.Username != "" {
		if _, taken := m.names[u.Username]; taken {
			return core.ErrUsernameTaken
		}
		m.names[u.Username] = u.UID
	}
	m.users[u.UID] = u
	return nil
}

func (m *memStore) UpdateUser(_ context.Context, uid string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[uid]
	if !ok {
		return store.ErrNotFound
	}
	if v, ok := fields["username"].(string); ok {
		u.Username = v
	}
	m.users[uid] = u
	return nil
}

func (m *memStore) ClaimUsername(_ context.Context, uid, username string) error {
	name := core.NormalizeUsername(username)
	if err := core.ValidateUsername(name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.names[name]; taken {
		return core.ErrUsernameTaken
	}
	u, ok := m.users[uid]
	if !ok {
		return store.ErrNotFound
	}
	m.names[name] = uid
	u.Username = name
	m.users[uid] = u
	return nil
}

func (m *memStore) UsernameAvailable(_ context.Context, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, taken := m.names[core.NormalizeUsername(username)]
	return !taken, nil
}

func (m *memStore) AddSession(_ context.Context, uid, token string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[token] = uid
	return nil
}

func (m *memStore) DeleteSession(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
	return nil
}

func (m *memStore) SessionUID(_ context.Context, token string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	uid, ok := m.sessions[token]
	if !ok {
		return "", store.ErrNotFound
	}
	return uid, nil
}

func newTestService(st IdentityStore) *Service {
	tokens := NewTokens(strings.Repeat("k", 32), time.Hour)
	return NewService(st, tokens, "client-id", log.New(log.DefaultConfig()))
}

func TestSignUpAndSignIn(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st)
	ctx := context.Background()

	res, err := svc.SignUp(ctx, "Asha@Example.com", "hunter22", "Asha")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if res.User.Email != "asha@example.com" {
		t.Fatalf("email not normalized: %s", res.User.Email)
	}
	if res.User.Username != "asha@example.com" {
		t.Fatalf("default username should be the lowercase email, got %s", res.User.Username)
	}
	if res.AccessToken == "" || res.RefreshToken == "" {
		t.Fatal("expected both tokens")
	}

	claims, err := svc.Verify(res.AccessToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UID != res.User.UID {
		t.Fatalf("claims uid mismatch: %s vs %s", claims.UID, res.User.UID)
	}

	if _, err := svc.SignIn(ctx, "asha@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := svc.SignIn(ctx, "asha@example.com", "hunter22"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
}

func TestSignUpDuplicateEmail(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st)
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, "a@b.com", "pw1234", ""); err != nil {
		t.Fatalf("first sign up: %v", err)
	}
	if _, err := svc.SignUp(ctx, "a@b.com", "pw5678", ""); !errors.Is(err, ErrEmailRegistered) {
		t.Fatalf("expected ErrEmailRegistered, got %v", err)
	}
}

func TestSignInWithGoogleCreatesUserOnce(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st)
	svc.verify = func(_ context.Context, token, _ string) (*idtoken.Payload, error) {
		if token != "good" {
			return nil, errors.New("bad token")
		}
		return &idtoken.Payload{
			Subject: "google-sub",
			Claims: map[string]any{
				"email":   "Dev@Example.com",
				"name":    "Dev",
				"picture": "https://example.com/p.png",
			},
		}, nil
	}
	ctx := context.Background()

	first, err := svc.SignInWithGoogle(ctx, "good")
	if err != nil {
		t.Fatalf("first federated sign in: %v", err)
	}
	if first.User.Username != "dev@example.com" {
		t.Fatalf("default username should be lowercase email, got %s", first.User.Username)
	}

	second, err := svc.SignInWithGoogle(ctx, "good")
	if err != nil {
		t.Fatalf("second federated sign in: %v", err)
	}
	if second.User.UID != first.User.UID {
		t.Fatal("repeated federated sign-in must reuse the identity")
	}

	if _, err := svc.SignInWithGoogle(ctx, "forged"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected rejection of bad token, got %v", err)
	}
}

func TestSignOutNotifiesListeners(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st)
	ctx := context.Background()

	var mu sync.Mutex
	var events []bool
	svc.OnIdentityChange(func(_ string, signedIn bool) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, signedIn)
	})

	res, err := svc.SignUp(ctx, "x@y.com", "pw1234", "")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if err := svc.SignOut(ctx, res.RefreshToken); err != nil {
		t.Fatalf("sign out: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 || !events[0] || events[1] {
		t.Fatalf("expected sign-in then sign-out events, got %v", events)
	}
}

func TestRefresh(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st)
	ctx := context.Background()

	res, err := svc.SignUp(ctx, "x@y.com", "pw1234", "")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	access, err := svc.Refresh(ctx, res.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := svc.Verify(access); err != nil {
		t.Fatalf("verify refreshed token: %v", err)
	}

	if _, err := svc.Refresh(ctx, "unknown"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown session, got %v", err)
	}
}

func TestTokensRejectTampering(t *testing.T) {
	tokens := NewTokens(strings.Repeat("k", 32), time.Hour)
	raw, err := tokens.Issue("u1", "a@b.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	other := NewTokens(strings.Repeat("x", 32), time.Hour)
	if _, err := other.Verify(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected rejection under different secret, got %v", err)
	}
	if _, err := tokens.Verify(raw + "junk"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected rejection of tampered token, got %v", err)
	}

	expired := NewTokens(strings.Repeat("k", 32), -time.Minute)
	old, err := expired.Issue("u1", "a@b.com")
	if err != nil {
		t.Fatalf("issue expired: %v", err)
	}
	if _, err := tokens.Verify(old); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected rejection of expired token, got %v", err)
	}
}

func TestCheckUsername(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st)
	ctx := context.Background()

	if _, err := svc.CheckUsername(ctx, "ab"); !errors.Is(err, core.ErrInvalidUsername) {
		t.Fatalf("expected invalid username, got %v", err)
	}

	ok, err := svc.CheckUsername(ctx, "fresh_name")
	if err != nil || !ok {
		t.Fatalf("expected available, got %v/%v", ok, err)
	}

	res, err := svc.SignUp(ctx, "x@y.com", "pw1234", "")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if err := svc.ClaimUsername(ctx, res.User.UID, "Fresh_Name"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	ok, err = svc.CheckUsername(ctx, "fresh_name")
	if err != nil || ok {
		t.Fatalf("expected taken after claim, got %v/%v", ok, err)
	}
}
