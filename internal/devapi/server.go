// Package devapi is an in-memory marketplace API for local runs and integration tests. It serves the
// admin endpoints the console consumes plus a few public endpoints that produce push events.
package devapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/phillip-england/marketadmin/internal/config"
	"github.com/phillip-england/marketadmin/internal/middleware"
	"github.com/phillip-england/marketadmin/internal/security"
)

const maxUploadBytes = 20 << 20

type Config struct {
	Addr          string
	Namespace     string
	AdminEmail    string
	AdminPassword string
	SessionTTL    time.Duration
}

func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Addr:          cfg.DevAPIAddr,
		Namespace:     cfg.APINamespace,
		AdminEmail:    cfg.DevAPIAdminEmail,
		AdminPassword: cfg.DevAPIAdminPassword,
		SessionTTL:    12 * time.Hour,
	}
}

type Option func(*Server)

func WithClock(clock clockwork.Clock) Option { return func(s *Server) { s.clock = clock } }
func WithLogger(logger *slog.Logger) Option  { return func(s *Server) { s.logger = logger } }

type Server struct {
	cfg     Config
	clock   clockwork.Clock
	logger  *slog.Logger
	store   *store
	hub     *hub
	handler http.Handler
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func NewServer(cfg Config, opts ...Option) (*Server, error) {
	if strings.TrimSpace(cfg.AdminEmail) == "" || cfg.AdminPassword == "" {
		return nil, errors.New("DEVAPI_ADMIN_EMAIL and DEVAPI_ADMIN_PASSWORD are required")
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 12 * time.Hour
	}
	cfg.Namespace = strings.Trim(cfg.Namespace, "/")
	if cfg.Namespace == "" {
		cfg.Namespace = "admin"
	}

	s := &Server{cfg: cfg, clock: clockwork.NewRealClock(), logger: slog.Default(), store: newStore()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "devapi")
	s.hub = newHub(s.logger)

	hash, err := security.HashPassword(cfg.AdminPassword)
	if err != nil {
		return nil, fmt.Errorf("hash admin password: %w", err)
	}
	s.store.seed(s.clock.Now().UTC(), strings.TrimSpace(cfg.AdminEmail), hash)
	s.handler = s.routes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	r.HandleFunc("/auth/login", s.login).Methods(http.MethodPost)
	r.Handle("/auth/logout", s.requireAdmin(http.HandlerFunc(s.logout))).Methods(http.MethodPost)

	pub := r.PathPrefix("/public").Subrouter()
	pub.HandleFunc("/messages", s.publicMessage).Methods(http.MethodPost)
	pub.HandleFunc("/jobs", s.publicJob).Methods(http.MethodPost)
	pub.HandleFunc("/users", s.publicUser).Methods(http.MethodPost)
	pub.HandleFunc("/estimations", s.publicEstimation).Methods(http.MethodPost)

	admin := r.PathPrefix("/" + s.cfg.Namespace).Subrouter()
	admin.Use(s.requireAdmin)
	admin.HandleFunc("/ws", s.pushSocket).Methods(http.MethodGet)
	admin.HandleFunc("/stats", s.getStats).Methods(http.MethodGet)

	admin.HandleFunc("/users", s.listUsers).Methods(http.MethodGet)
	admin.HandleFunc("/users/{id}/status", s.setUserActive).Methods(http.MethodPatch)
	admin.HandleFunc("/users/{id}/{verb:block|unblock}", s.setUserBlocked).Methods(http.MethodPost)
	admin.HandleFunc("/users/{id}", s.deleteUser).Methods(http.MethodDelete)

	admin.HandleFunc("/jobs", s.listJobs).Methods(http.MethodGet)
	admin.HandleFunc("/jobs/{id}/status", s.setJobStatus).Methods(http.MethodPatch)
	admin.HandleFunc("/jobs/{id}", s.deleteJob).Methods(http.MethodDelete)

	admin.HandleFunc("/quotes", s.listQuotes).Methods(http.MethodGet)
	admin.HandleFunc("/quotes/{id}/status", s.setQuoteStatus).Methods(http.MethodPatch)
	admin.HandleFunc("/quotes/{id}", s.deleteQuote).Methods(http.MethodDelete)

	admin.HandleFunc("/subscriptions", s.listSubscriptions).Methods(http.MethodGet)
	admin.HandleFunc("/subscriptions/{id}/status", s.setSubscriptionStatus).Methods(http.MethodPatch)

	admin.HandleFunc("/estimations", s.listEstimations).Methods(http.MethodGet)
	admin.HandleFunc("/estimations/{id}/approve", s.approveEstimation).Methods(http.MethodPost)
	admin.HandleFunc("/estimations/{id}/reject", s.rejectEstimation).Methods(http.MethodPost)
	admin.HandleFunc("/estimations/{id}/files", s.uploadEstimationFile).Methods(http.MethodPost)
	admin.HandleFunc("/estimations/{id}/files/{fileId}", s.downloadEstimationFile).Methods(http.MethodGet)
	admin.HandleFunc("/estimations/{id}", s.deleteEstimation).Methods(http.MethodDelete)

	admin.HandleFunc("/messages", s.listMessages).Methods(http.MethodGet)
	admin.HandleFunc("/messages/{id}/read", s.markMessageRead).Methods(http.MethodPatch)
	admin.HandleFunc("/messages/{id}/reply", s.replyMessage).Methods(http.MethodPost)
	admin.HandleFunc("/messages/{id}", s.deleteMessage).Methods(http.MethodDelete)

	admin.HandleFunc("/conversations", s.listConversations).Methods(http.MethodGet)
	admin.HandleFunc("/conversations/search", s.searchConversations).Methods(http.MethodGet)
	admin.HandleFunc("/conversations/{id}", s.getConversation).Methods(http.MethodGet)

	return middleware.Chain(
		r,
		middleware.RequestID,
		middleware.Logger(s.logger),
		middleware.Recovery(s.logger),
		middleware.SecurityHeaders(middleware.SecurityHeadersConfig{ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'"}),
	)
}

func Run(ctx context.Context, cfg Config, opts ...Option) error {
	s, err := NewServer(cfg, opts...)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("devapi listening", "addr", cfg.Addr, "namespace", s.cfg.Namespace, "admin", cfg.AdminEmail)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.hub.closeAll()
		_ = httpServer.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		s.hub.closeAll()
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type contextKey string

const userContextKey contextKey = "user"

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	// browsers cannot set headers on websocket upgrades
	return r.URL.Query().Get("token")
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		s.store.mu.Lock()
		sess, ok := s.store.sessions[token]
		if ok && !s.clock.Now().Before(sess.expiresAt) {
			delete(s.store.sessions, token)
			ok = false
		}
		var u user
		if ok {
			u, ok = s.store.users.get(sess.userID)
		}
		s.store.mu.Unlock()

		if !ok {
			writeError(w, http.StatusUnauthorized, "session expired")
			return
		}
		if u.Role != "admin" || u.IsBlocked {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, u)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "pushClients": s.hub.count()})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	s.store.mu.Lock()
	u, ok := s.store.userByEmail(req.Email)
	s.store.mu.Unlock()
	if !ok || u.passwordHash == "" || !security.VerifyPassword(req.Password, u.passwordHash) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := security.NewToken()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "authentication failed")
		return
	}
	s.store.mu.Lock()
	s.store.sessions[token] = session{userID: u.ID, expiresAt: s.clock.Now().Add(s.cfg.SessionTTL)}
	s.store.mu.Unlock()

	s.logger.InfoContext(r.Context(), "admin authenticated", "email", u.Email)
	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  map[string]string{"id": u.ID, "name": u.Name, "email": u.Email, "role": u.Role},
	})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	s.store.mu.Lock()
	delete(s.store.sessions, bearerToken(r))
	s.store.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "signed out"})
}

func (s *Server) pushSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	s.hub.register(conn)

	// read pump; blocks until the client goes away
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.hub.unregister(conn)
}

// respond maps store errors onto HTTP statuses.
func respond(w http.ResponseWriter, err error, status int, payload any) {
	switch {
	case err == nil:
		writeJSON(w, status, payload)
	case errors.Is(err, errNotFound):
		writeError(w, http.StatusNotFound, "record not found")
	case errors.Is(err, errInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "request failed")
	}
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body", errInvalid)
	}
	return nil
}

func writeDownload(w http.ResponseWriter, f estimationFile) {
	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": f.Name}))
	w.Header().Set("Content-Length", strconv.Itoa(len(f.data)))
	_, _ = w.Write(f.data)
}

func readAll(r io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, maxUploadBytes))
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
