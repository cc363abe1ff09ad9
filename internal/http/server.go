// Package http exposes the JSON API and the websocket snapshot stream.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/olahol/melody"

	"khata/internal/auth"
	"khata/internal/core"
	"khata/internal/live"
	"khata/internal/log"
	"khata/internal/notify"
	"khata/internal/prefs"
	"khata/internal/services"
	"khata/internal/session"
)

// Simple in-memory rate limiter
type rateLimiter struct {
	mu           sync.Mutex
	clients      map[string]*clientInfo
	stopCleanup  chan struct{}
	shutdownOnce sync.Once
}

type clientInfo struct {
	lastRequest time.Time
	requests    int
}

func newRateLimiter() *rateLimiter {
	rl := &rateLimiter{
		clients:     make(map[string]*clientInfo),
		stopCleanup: make(chan struct{}),
	}
	go rl.startCleanup()
	return rl
}

func (rl *rateLimiter) startCleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStaleEntries()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanupStaleEntries removes client entries older than 10 minutes
func (rl *rateLimiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, client := range rl.clients {
		if client.lastRequest.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

func (rl *rateLimiter) stop() {
	rl.shutdownOnce.Do(func() {
		if rl.stopCleanup != nil {
			close(rl.stopCleanup)
		}
	})
}

func (rl *rateLimiter) allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	client, exists := rl.clients[clientIP]

	if !exists {
		rl.clients[clientIP] = &clientInfo{
			lastRequest: now,
			requests:    1,
		}
		return true
	}

	// Reset counter if more than 1 minute has passed
	if now.Sub(client.lastRequest) > time.Minute {
		client.requests = 1
		client.lastRequest = now
		return true
	}

	// Allow up to 60 requests per minute
	client.requests++
	client.lastRequest = now

	return client.requests <= 60
}

type centerKey struct {
	uid     string
	profile core.ProfileType
}

type Server struct {
	http.Server

	logger *log.Logger
	auth   *auth.Service
	txs    *services.TransactionService
	cats   *services.CategoryService
	cols   *services.CollaboratorService
	prefs  *prefs.Store
	hub    *live.Hub
	ws     *melody.Melody

	rateLimiter *rateLimiter

	centersMu sync.Mutex
	centers   map[centerKey]*notify.Center

	shutdownOnce sync.Once
}

// NewServer configures routes and the websocket endpoint, returning a
// ready-to-run http.Server.
func NewServer(addr string, authSvc *auth.Service, txs *services.TransactionService, cats *services.CategoryService, cols *services.CollaboratorService, pf *prefs.Store, hub *live.Hub, logger *log.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger:      logger.WithComponent("http"),
		auth:        authSvc,
		txs:         txs,
		cats:        cats,
		cols:        cols,
		prefs:       pf,
		hub:         hub,
		rateLimiter: newRateLimiter(),
		centers:     make(map[centerKey]*notify.Center),
	}
	s.ws = s.newMelody()
	authSvc.OnIdentityChange(func(uid string, signedIn bool) {
		if !signedIn {
			s.disconnectUser(uid)
		}
	})

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)

	mux.HandleFunc("POST /api/auth/signup", s.withMiddleware(s.handleSignUp))
	mux.HandleFunc("POST /api/auth/login", s.withMiddleware(s.handleSignIn))
	mux.HandleFunc("POST /api/auth/google", s.withMiddleware(s.handleGoogleSignIn))
	mux.HandleFunc("POST /api/auth/logout", s.withMiddleware(s.handleSignOut))
	mux.HandleFunc("POST /api/auth/refresh", s.withMiddleware(s.handleRefresh))
	mux.HandleFunc("GET /api/auth/me", s.withMiddleware(s.requireAuth(s.handleMe)))

	mux.HandleFunc("GET /api/username/check", s.withMiddleware(s.requireAuth(s.handleUsernameCheck)))
	mux.HandleFunc("POST /api/username/claim", s.withMiddleware(s.requireAuth(s.handleUsernameClaim)))

	mux.HandleFunc("GET /api/transactions", s.withMiddleware(s.requireAuth(s.handleListTransactions)))
	mux.HandleFunc("POST /api/transactions", s.withMiddleware(s.requireAuth(s.handleCreateTransaction)))
	mux.HandleFunc("PATCH /api/transactions/{id}", s.withMiddleware(s.requireAuth(s.handleUpdateTransaction)))
	mux.HandleFunc("DELETE /api/transactions/{id}", s.withMiddleware(s.requireAuth(s.handleDeleteTransaction)))

	mux.HandleFunc("GET /api/categories", s.withMiddleware(s.requireAuth(s.handleListCategories)))
	mux.HandleFunc("POST /api/categories", s.withMiddleware(s.requireAuth(s.handleCreateCategory)))
	mux.HandleFunc("PATCH /api/categories/{id}", s.withMiddleware(s.requireAuth(s.handleUpdateCategory)))
	mux.HandleFunc("DELETE /api/categories/{id}", s.withMiddleware(s.requireAuth(s.handleDeleteCategory)))

	mux.HandleFunc("GET /api/dashboard", s.withMiddleware(s.requireAuth(s.handleDashboard)))
	mux.HandleFunc("GET /api/search", s.withMiddleware(s.requireAuth(s.handleSearch)))

	mux.HandleFunc("GET /api/notifications", s.withMiddleware(s.requireAuth(s.handleListNotifications)))
	mux.HandleFunc("POST /api/notifications/read-all", s.withMiddleware(s.requireAuth(s.handleMarkAllRead)))
	mux.HandleFunc("POST /api/notifications/{id}/read", s.withMiddleware(s.requireAuth(s.handleMarkRead)))
	mux.HandleFunc("POST /api/notifications/{id}/dismiss", s.withMiddleware(s.requireAuth(s.handleDismiss)))

	mux.HandleFunc("GET /api/collaborators", s.withMiddleware(s.requireAuth(s.handleListCollaborators)))
	mux.HandleFunc("POST /api/collaborators", s.withMiddleware(s.requireAuth(s.handleInviteCollaborator)))
	mux.HandleFunc("DELETE /api/collaborators/{uid}", s.withMiddleware(s.requireAuth(s.handleDeactivateCollaborator)))

	mux.HandleFunc("GET /api/prefs", s.withMiddleware(s.requireAuth(s.handleListPrefs)))
	mux.HandleFunc("PUT /api/prefs/{key}", s.withMiddleware(s.requireAuth(s.handleSetPref)))

	mux.HandleFunc("GET /ws", s.handleWebsocket)

	return s
}

// Shutdown stops the server and its background cleanup.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		if s.ws != nil {
			_ = s.ws.Close()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// withMiddleware adds security headers, rate limiting, request ids and
// request logging.
func (s *Server) withMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ip := clientIP(r)

		requestID := generateRequestID()
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		s.logger.InfoContext(ctx, "Request started",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"client_ip", ip)

		if r.Method != http.MethodGet && !s.rateLimiter.allow(ip) {
			s.logger.WarnContext(ctx, "Rate limit exceeded", "client_ip", ip, "method", r.Method, "url", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded"})
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		s.logger.InfoContext(ctx, "Request completed",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds())
	}
}

type requestIDKey struct{}

// requireAuth verifies the access token and attaches the session,
// scoped to the caller's stored profile selection.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.authenticate(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		next(w, r.WithContext(session.NewContext(r.Context(), sess)))
	}
}

func (s *Server) authenticate(r *http.Request) (session.Session, error) {
	token := bearerToken(r)
	if token == "" {
		return session.Session{}, auth.ErrInvalidToken
	}
	claims, err := s.auth.Verify(token)
	if err != nil {
		return session.Session{}, err
	}
	profile, err := s.prefs.ActiveProfile(r.Context(), claims.UID)
	if err != nil {
		profile = core.ProfilePersonal
	}
	return session.Session{UID: claims.UID, Email: claims.Email, Profile: profile}, nil
}

// center returns the notification state for one user/profile scope,
// creating it on first use. State lives for the process lifetime.
func (s *Server) center(sess session.Session) *notify.Center {
	s.centersMu.Lock()
	defer s.centersMu.Unlock()
	k := centerKey{uid: sess.UID, profile: sess.Profile}
	c, ok := s.centers[k]
	if !ok {
		c = notify.NewCenter()
		s.centers[k] = c
	}
	return c
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
