package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBridge_DispatchesKnownEventsOverWebsocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var gotAuth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"mystery"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"new_message","from":"bob"}`))
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	bridge := New(Config{
		URL:   "ws" + strings.TrimPrefix(srv.URL, "http"),
		Token: func() string { return "tok" },
		Clock: clockwork.NewFakeClock(),
	})

	got := make(chan string, 1)
	bridge.On("new_message", func(e Envelope) {
		var body struct {
			From string `json:"from"`
		}
		_ = e.Decode(&body)
		got <- body.From
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bridge.Run(ctx)

	select {
	case from := <-got:
		assert.Equal(t, "bob", from)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
	assert.Equal(t, "Bearer tok", gotAuth.Load())
}

type scriptedConn struct {
	closed chan struct{}
	once   sync.Once
}

func (c *scriptedConn) ReadMessage() (int, []byte, error) {
	<-c.closed
	return 0, nil, errors.New("closed")
}

func (c *scriptedConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type scriptedDialer struct {
	mu    sync.Mutex
	dials int
	conns []*scriptedConn
	fail  bool
}

func (d *scriptedDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.fail {
		return nil, errors.New("refused")
	}
	c := &scriptedConn{closed: make(chan struct{})}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *scriptedDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func TestBridge_ReconnectsAfterFixedDelay(t *testing.T) {
	clock := clockwork.NewFakeClock()
	dialer := &scriptedDialer{}
	bridge := New(Config{URL: "ws://x", Dialer: dialer, Clock: clock})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { bridge.Run(ctx); close(done) }()

	assert.Eventually(t, func() bool { return bridge.State() == Connected }, time.Second, time.Millisecond)

	dialer.mu.Lock()
	dialer.conns[0].Close()
	dialer.mu.Unlock()

	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	assert.Equal(t, Reconnecting, bridge.State())
	assert.Equal(t, 1, dialer.count())

	clock.Advance(DefaultReconnectDelay)
	assert.Eventually(t, func() bool { return dialer.count() == 2 && bridge.State() == Connected }, time.Second, time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, Stopped, bridge.State())
}

func TestBridge_DialErrorsAreSwallowed(t *testing.T) {
	clock := clockwork.NewFakeClock()
	dialer := &scriptedDialer{fail: true}
	var states []State
	var mu sync.Mutex
	bridge := New(Config{URL: "ws://x", Dialer: dialer, Clock: clock, OnState: func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { bridge.Run(ctx); close(done) }()

	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	clock.Advance(DefaultReconnectDelay)
	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	assert.Equal(t, 2, dialer.count())

	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, Stopped, states[len(states)-1])
	assert.NotContains(t, states, Connected)
}
