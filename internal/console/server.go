// Package console serves the marketplace admin console: one server-rendered page per section, backed by a
// per-browser workspace that owns the session, caches, notifications and modal.
package console

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"

	"github.com/phillip-england/marketadmin/internal/config"
	"github.com/phillip-england/marketadmin/internal/entity"
	"github.com/phillip-england/marketadmin/internal/realtime"
	"github.com/phillip-england/marketadmin/internal/session"
)

const (
	workspaceCookie = "marketadmin_ws"
	formTokenHeader = "X-CSRF-Token"
	maxUploadBytes  = 16 << 20

	defaultIdleTTL = 12 * time.Hour
)

//go:embed templates/admin.html templates/login.html assets/app.css assets/app.js
var templatesFS embed.FS

type Config struct {
	Addr         string
	APIBaseURL   string
	APINamespace string
	// RealtimeURL is the push endpoint; empty disables the realtime bridge.
	RealtimeURL string
	// DataDir holds one session file per workspace; empty keeps sessions in memory.
	DataDir string

	NotificationLimit int
	SearchDebounce    time.Duration
	BulkStagger       time.Duration
	RealtimeReconnect time.Duration
	APITimeout        time.Duration
	// IdleTTL evicts workspaces nobody used for this long; zero means 12h.
	IdleTTL time.Duration

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Addr:              cfg.ConsoleAddr,
		APIBaseURL:        cfg.APIBaseURL,
		APINamespace:      cfg.APINamespace,
		RealtimeURL:       cfg.RealtimeEndpoint(),
		DataDir:           cfg.DataDir,
		NotificationLimit: cfg.NotificationLimit,
		SearchDebounce:    cfg.SearchDebounce,
		BulkStagger:       cfg.BulkStagger,
		RealtimeReconnect: cfg.RealtimeReconnect,
		APITimeout:        cfg.APITimeout,
		IdleTTL:           cfg.WorkspaceIdleTTL,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
}

type Option func(*Server)

func WithHTTPClient(client *http.Client) Option { return func(s *Server) { s.client = client } }
func WithClock(clock clockwork.Clock) Option    { return func(s *Server) { s.clock = clock } }
func WithLogger(logger *slog.Logger) Option     { return func(s *Server) { s.logger = logger } }
func WithDialer(d realtime.Dialer) Option       { return func(s *Server) { s.dialer = d } }

type Server struct {
	cfg     Config
	baseCtx context.Context
	client  *http.Client
	clock   clockwork.Clock
	logger  *slog.Logger
	dialer  realtime.Dialer

	adminTmpl *template.Template
	loginTmpl *template.Template
	handler   http.Handler

	mu         sync.Mutex
	workspaces map[string]*workspace
	lastSweep  time.Time
}

// NewServer builds the console. ctx bounds background work such as realtime connections.
func NewServer(ctx context.Context, cfg Config, opts ...Option) *Server {
	s := &Server{
		cfg:        cfg,
		baseCtx:    ctx,
		client:     &http.Client{Timeout: 30 * time.Second},
		clock:      clockwork.NewRealClock(),
		logger:     slog.Default(),
		workspaces: make(map[string]*workspace),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cfg.APIBaseURL = strings.TrimRight(s.cfg.APIBaseURL, "/")
	if s.cfg.IdleTTL <= 0 {
		s.cfg.IdleTTL = defaultIdleTTL
	}
	s.lastSweep = s.clock.Now()
	s.logger = s.logger.With("component", "console")

	s.adminTmpl = template.Must(template.New("admin.html").Funcs(pageFuncs).ParseFS(templatesFS, "templates/admin.html"))
	s.loginTmpl = template.Must(template.ParseFS(templatesFS, "templates/login.html"))
	s.handler = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, cfg Config, opts ...Option) error {
	s := NewServer(ctx, cfg, opts...)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("console listening", "addr", cfg.Addr, "api", cfg.APIBaseURL)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		s.closeAll()
		return ctx.Err()
	case err := <-errCh:
		s.closeAll()
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ws := range s.workspaces {
		ws.close()
	}
}

type ctxKey struct{}

func workspaceFrom(r *http.Request) *workspace {
	ws, _ := r.Context().Value(ctxKey{}).(*workspace)
	return ws
}

// lookup returns the caller's workspace, or nil. A workspace missing from memory is rebuilt only from a
// session file that still holds a signed-in admin; anonymous requests never allocate one.
func (s *Server) lookup(r *http.Request) (*workspace, error) {
	id := ""
	if c, err := r.Cookie(workspaceCookie); err == nil {
		if _, perr := uuid.Parse(c.Value); perr == nil {
			id = c.Value
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	if id == "" {
		return nil, nil
	}
	if ws, ok := s.workspaces[id]; ok {
		ws.touch()
		return ws, nil
	}
	if s.cfg.DataDir == "" {
		return nil, nil
	}
	path := s.sessionPath(id)
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	ws, err := newWorkspace(id, session.NewFileKV(path), s)
	if err != nil {
		return nil, fmt.Errorf("workspace %s: %w", id, err)
	}
	if !ws.store.Status().Authenticated {
		ws.close()
		return nil, nil
	}
	s.workspaces[id] = ws
	return ws, nil
}

// create starts a fresh workspace under a new id and hands the browser its cookie.
func (s *Server) create(w http.ResponseWriter) (*workspace, error) {
	id := uuid.NewString()
	var kv session.KV = session.NewMemoryKV()
	if s.cfg.DataDir != "" {
		kv = session.NewFileKV(s.sessionPath(id))
	}
	ws, err := newWorkspace(id, kv, s)
	if err != nil {
		return nil, fmt.Errorf("workspace %s: %w", id, err)
	}

	s.mu.Lock()
	s.sweepLocked()
	s.workspaces[id] = ws
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     workspaceCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return ws, nil
}

// evict forgets ws; its session file stays unless the session itself was torn down.
func (s *Server) evict(ws *workspace) {
	s.mu.Lock()
	if cur, ok := s.workspaces[ws.id]; ok && cur == ws {
		delete(s.workspaces, ws.id)
	}
	s.mu.Unlock()
	ws.close()
}

// sweepLocked evicts idle workspaces, at most once per tenth of the idle TTL. s.mu must be held.
func (s *Server) sweepLocked() {
	now := s.clock.Now()
	if now.Sub(s.lastSweep) < s.cfg.IdleTTL/10 {
		return
	}
	s.lastSweep = now
	for id, ws := range s.workspaces {
		if now.Sub(ws.lastSeen()) >= s.cfg.IdleTTL {
			delete(s.workspaces, id)
			ws.close()
			s.logger.Debug("workspace evicted", "workspace", id, "reason", "idle")
		}
	}
}

func (s *Server) sessionPath(id string) string {
	return filepath.Join(s.cfg.DataDir, "sessions", id+".json")
}

func clearWorkspaceCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     workspaceCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := s.lookup(r)
		if err != nil {
			s.logger.ErrorContext(r.Context(), "workspace unavailable", "error", err)
			http.Error(w, "session storage unavailable", http.StatusInternalServerError)
			return
		}
		if ws == nil || !ws.store.Status().Authenticated {
			s.toLogin(w, r, ws)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, ws)))
	})
}

// requireFormToken rejects mutating requests that do not carry the workspace's form token, either as the
// X-CSRF-Token header (page script) or the csrf_token form field (plain forms and uploads).
func (s *Server) requireFormToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}
		ws := workspaceFrom(r)
		token := r.Header.Get(formTokenHeader)
		if token == "" {
			if isMultipart(r) {
				r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
				if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
					ws.notes.Warning("Upload is too large or malformed")
					s.finish(w, r, ws)
					return
				}
			}
			token = r.FormValue(entity.FormTokenField)
		}
		if !ws.validFormToken(token) {
			s.logger.WarnContext(r.Context(), "form token rejected", "path", r.URL.Path, "workspace", ws.id)
			if isFetch(r) {
				http.Error(w, "invalid form token", http.StatusForbidden)
				return
			}
			ws.notes.Warning("This page has expired. Reload it and try again.")
			http.Redirect(w, r, ws.back(), http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// toLogin sends the browser to the login page, explaining why when the session just ended.
// An unauthenticated workspace is evicted here; a fresh one is made at the next sign-in.
func (s *Server) toLogin(w http.ResponseWriter, r *http.Request, ws *workspace) {
	expired := false
	if ws != nil && !ws.store.Status().Authenticated {
		expired = ws.consumeEnded()
		s.evict(ws)
		clearWorkspaceCookie(w)
	}
	if isFetch(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	target := "/login"
	if expired {
		target = "/login?error=Session+expired"
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) asset(w http.ResponseWriter, r *http.Request) {
	file := mux.Vars(r)["file"]
	data, err := templatesFS.ReadFile("assets/" + file)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if strings.HasSuffix(file, ".css") {
		w.Header().Set("Content-Type", "text/css; charset=utf-8")
	} else {
		w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	_, _ = w.Write(data)
}

func isMultipart(r *http.Request) bool {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mediaType == "multipart/form-data"
}

func isFetch(r *http.Request) bool {
	return r.Header.Get("X-Requested-With") == "fetch"
}
