package console

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phillip-england/marketadmin/internal/bulk"
	"github.com/phillip-england/marketadmin/internal/entity"
	"github.com/phillip-england/marketadmin/internal/gateway"
	"github.com/phillip-england/marketadmin/internal/modal"
	"github.com/phillip-england/marketadmin/internal/notify"
	"github.com/phillip-england/marketadmin/internal/realtime"
	"github.com/phillip-england/marketadmin/internal/section"
	"github.com/phillip-england/marketadmin/internal/security"
	"github.com/phillip-england/marketadmin/internal/session"
	"github.com/phillip-england/marketadmin/internal/ui"
)

const defaultSection = "analytics"

// workspace is the console state of one browser. Everything a page needs hangs off it; nothing is global.
type workspace struct {
	id     string
	srv    *Server
	logger *slog.Logger

	store  *session.Store
	notes  *notify.Service
	keys   *ui.KeyBus
	focus  *ui.Focus
	modals *modal.Manager
	gw     *gateway.Gateway

	// formToken must accompany every mutating request.
	formToken string
	templates *entity.Renderer

	current atomic.Pointer[parts]
	ended   atomic.Bool
	seen    atomic.Int64

	mu         sync.Mutex
	stopBridge context.CancelFunc
	lastView   string
}

// parts is everything rebuilt when a session ends.
type parts struct {
	registry *section.Registry
	bindings *ui.Bindings
	sections map[string]entity.Section

	users         *entity.Users
	estimations   *entity.Estimations
	messages      *entity.Messages
	conversations *entity.Conversations
}

func newWorkspace(id string, kv session.KV, srv *Server) (*workspace, error) {
	store := session.NewStore(kv)
	status, err := store.Initialize()
	if err != nil {
		return nil, fmt.Errorf("initialize session: %w", err)
	}
	formToken, err := security.NewToken()
	if err != nil {
		return nil, fmt.Errorf("form token: %w", err)
	}

	ws := &workspace{
		id:        id,
		srv:       srv,
		logger:    srv.logger.With("workspace", id),
		store:     store,
		keys:      ui.NewKeyBus(),
		focus:     &ui.Focus{},
		formToken: formToken,
		templates: entity.NewRenderer(formToken),
	}
	ws.touch()
	ws.notes = notify.NewService(
		notify.WithClock(srv.clock),
		notify.WithLogger(ws.logger),
		notify.WithLimit(srv.cfg.NotificationLimit),
	)
	ws.modals = modal.NewManager(ws.keys, ws.focus)
	ws.gw = gateway.New(gateway.Config{
		BaseURL:      srv.cfg.APIBaseURL,
		Namespace:    srv.cfg.APINamespace,
		Client:       srv.client,
		Session:      store,
		Notifier:     ws.notes,
		Logger:       ws.logger,
		OnSessionEnd: ws.sessionEnded,
		Timeout:      srv.cfg.APITimeout,
	})
	ws.current.Store(ws.build())

	if status.Authenticated {
		ws.startRealtime()
	}
	return ws, nil
}

func (ws *workspace) build() *parts {
	deps := &entity.Deps{
		API:            ws.gw,
		Notifier:       ws.notes,
		Modals:         ws.modals,
		Stagger:        bulk.NewStagger(ws.srv.clock, ws.srv.cfg.BulkStagger),
		Clock:          ws.srv.clock,
		Logger:         ws.logger,
		SearchDebounce: ws.srv.cfg.SearchDebounce,
		Templates:      ws.templates,
		OnChange: func(name string) {
			ws.logger.Debug("section changed in background", "section", name)
		},
	}
	deps.Confirm = entity.NewConfirmations(ws.modals, ws.notes, ws.templates)

	p := &parts{
		registry:      section.NewRegistry(ws.logger),
		bindings:      ui.NewBindings(),
		sections:      make(map[string]entity.Section),
		users:         entity.NewUsers(deps),
		estimations:   entity.NewEstimations(deps),
		messages:      entity.NewMessages(deps),
		conversations: entity.NewConversations(deps),
	}

	all := []entity.Section{
		entity.NewAnalytics(deps),
		p.users,
		entity.NewJobs(deps),
		entity.NewQuotes(deps),
		p.estimations,
		p.messages,
		p.conversations,
		entity.NewSubscriptions(deps),
	}
	for _, s := range all {
		if err := p.registry.Register(s.Name(), s.Title(), s.Load); err != nil {
			// names are fixed above
			panic(err)
		}
		s.Bind(p.bindings)
		p.sections[s.Name()] = s
	}
	deps.Confirm.Bind(p.bindings)
	return p
}

func (ws *workspace) parts() *parts { return ws.current.Load() }

// sessionEnded runs inside the gateway after it tore the session down.
func (ws *workspace) sessionEnded(kind gateway.Kind) {
	ws.logger.Info("session ended", "reason", kind.String())
	ws.ended.Store(true)
	ws.reset()
}

// consumeEnded reports (once) that the session ended during this request.
func (ws *workspace) consumeEnded() bool {
	return ws.ended.Swap(false)
}

// reset drops every cache and in-flight load, closes the modal and stops the realtime bridge.
func (ws *workspace) reset() {
	ws.stopRealtime()
	ws.modals.Close()

	old := ws.current.Swap(ws.build())
	if old != nil {
		old.registry.Reset()
		old.conversations.Close()
	}
}

// close stops background work for good: the realtime bridge and any pending search.
func (ws *workspace) close() {
	ws.stopRealtime()
	ws.parts().conversations.Close()
}

func (ws *workspace) touch() { ws.seen.Store(ws.srv.clock.Now().UnixNano()) }

func (ws *workspace) lastSeen() time.Time { return time.Unix(0, ws.seen.Load()) }

func (ws *workspace) validFormToken(token string) bool {
	return token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(ws.formToken)) == 1
}

// remember records the last rendered page so mutations can return to it.
func (ws *workspace) remember(uri string) {
	ws.mu.Lock()
	ws.lastView = uri
	ws.mu.Unlock()
}

func (ws *workspace) back() string {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.lastView == "" {
		return "/admin"
	}
	return ws.lastView
}

func (ws *workspace) login(token string, user session.User) error {
	if err := ws.store.Establish(token, user); err != nil {
		return err
	}
	ws.ended.Store(false)
	ws.reset()
	ws.startRealtime()
	return nil
}

func (ws *workspace) logout() error {
	err := ws.store.Teardown()
	ws.reset()
	ws.notes.Clear()
	return err
}

func (ws *workspace) startRealtime() {
	url := ws.srv.cfg.RealtimeURL
	if url == "" {
		return
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.stopBridge != nil {
		return
	}

	ctx, cancel := context.WithCancel(ws.srv.baseCtx)
	ws.stopBridge = cancel

	bridge := realtime.New(realtime.Config{
		URL:            url,
		Token:          ws.store.Token,
		Dialer:         ws.srv.dialer,
		Clock:          ws.srv.clock,
		ReconnectDelay: ws.srv.cfg.RealtimeReconnect,
		Logger:         ws.logger,
	})
	ws.subscribe(bridge)
	go bridge.Run(ctx)
}

func (ws *workspace) stopRealtime() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.stopBridge != nil {
		ws.stopBridge()
		ws.stopBridge = nil
	}
}

type pushEvent struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Title   string `json:"title"`
	Subject string `json:"subject"`
	Status  string `json:"status"`
}

// subscribe turns push events into notifications with a Refresh action for the affected section.
func (ws *workspace) subscribe(b *realtime.Bridge) {
	events := []struct {
		kind    string
		section string
		message func(pushEvent) string
	}{
		{"new_message", "messages", func(e pushEvent) string { return "New message from " + firstOf(e.Name, e.Email, "a visitor") }},
		{"new_job", "jobs", func(e pushEvent) string { return "New job posted: " + firstOf(e.Title, "untitled") }},
		{"new_estimation", "estimations", func(e pushEvent) string { return "New estimation request: " + firstOf(e.Title, "untitled") }},
		{"subscription_update", "subscriptions", func(e pushEvent) string {
			return "Subscription " + firstOf(e.Status, "updated") + " for " + firstOf(e.Email, "a user")
		}},
		{"user_registered", "users", func(e pushEvent) string { return "New user registered: " + firstOf(e.Email, e.Name, "unknown") }},
	}

	for _, ev := range events {
		ev := ev
		b.On(ev.kind, func(env realtime.Envelope) { ws.push(env, ev.section, ev.message) })
	}
}

// push notifies about one event. A payload that does not decode still yields the generic message.
func (ws *workspace) push(env realtime.Envelope, section string, message func(pushEvent) string) {
	var payload pushEvent
	if err := env.Decode(&payload); err != nil {
		ws.logger.Debug("push event payload ignored", "type", env.Type, "error", err)
		payload = pushEvent{}
	}
	ws.notes.Info(message(payload), notify.WithActions(notify.Action{
		Label: "Refresh",
		Callback: func() {
			_ = ws.parts().registry.Refresh(context.Background(), section)
		},
	}))
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
