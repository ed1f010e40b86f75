// Package realtime is the best-effort push channel from the marketplace API.
//
// The bridge is an explicit state machine: Connecting -> Connected -> Disconnected -> Reconnecting(delay) ->
// Connecting ... until its context ends, which moves it to Stopped. Connection errors are logged at debug level
// and never surface to the admin.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const DefaultReconnectDelay = 5 * time.Second

type State int

const (
	Idle State = iota
	Connecting
	Connected
	Disconnected
	Reconnecting
	Stopped
)

func (s State) String() string {
	return [...]string{"idle", "connecting", "connected", "disconnected", "reconnecting", "stopped"}[s]
}

// Envelope is one server event. Raw keeps the full message for handlers that need more than the type.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// Decode unmarshals the full event into v.
func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Raw, v)
}

type Handler func(Envelope)

// Conn is the read side of a websocket connection.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

func (d WebsocketDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type Config struct {
	URL            string
	Token          func() string
	Dialer         Dialer
	Clock          clockwork.Clock
	ReconnectDelay time.Duration
	Logger         *slog.Logger
	OnState        func(State)
}

type Bridge struct {
	cfg Config

	mu       sync.Mutex
	state    State
	handlers map[string][]Handler
}

func New(cfg Config) *Bridge {
	if cfg.Dialer == nil {
		cfg.Dialer = WebsocketDialer{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Bridge{cfg: cfg, handlers: make(map[string][]Handler)}
}

// On registers h for events of the given type. Types nobody registered for are ignored.
func (b *Bridge) On(eventType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Bridge) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
	if b.cfg.OnState != nil {
		b.cfg.OnState(s)
	}
}

// Run keeps the subscription alive until ctx is done.
func (b *Bridge) Run(ctx context.Context) {
	defer b.setState(Stopped)

	for {
		if ctx.Err() != nil {
			return
		}
		b.setState(Connecting)
		b.session(ctx)
		if ctx.Err() != nil {
			return
		}

		b.setState(Disconnected)
		b.setState(Reconnecting)
		select {
		case <-ctx.Done():
			return
		case <-b.cfg.Clock.After(b.cfg.ReconnectDelay):
		}
	}
}

func (b *Bridge) session(ctx context.Context) {
	header := http.Header{}
	if b.cfg.Token != nil {
		if token := b.cfg.Token(); token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}

	conn, err := b.cfg.Dialer.Dial(ctx, b.cfg.URL, header)
	if err != nil {
		b.cfg.Logger.Debug("realtime dial failed", "url", b.cfg.URL, "error", err)
		return
	}
	b.setState(Connected)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				b.cfg.Logger.Debug("realtime connection lost", "error", err)
			}
			return
		}
		b.dispatch(data)
	}
}

func (b *Bridge) dispatch(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		b.cfg.Logger.Debug("realtime message ignored", "reason", "malformed")
		return
	}
	env.Raw = append(json.RawMessage(nil), data...)

	b.mu.Lock()
	hs := append([]Handler(nil), b.handlers[env.Type]...)
	b.mu.Unlock()

	for _, h := range hs {
		h(env)
	}
}
