package entity

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/phillip-england/marketadmin/internal/bulk"
	"github.com/phillip-england/marketadmin/internal/gateway"
	"github.com/phillip-england/marketadmin/internal/modal"
	"github.com/phillip-england/marketadmin/internal/notify"
	"github.com/phillip-england/marketadmin/internal/session"
	"github.com/phillip-england/marketadmin/internal/ui"
)

const formToken = "form-token-1"

type recorder struct {
	mu       sync.Mutex
	messages []string
	kinds    []notify.Kind
}

func (r *recorder) Notify(message string, kind notify.Kind, _ ...notify.Option) notify.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	r.kinds = append(r.kinds, kind)
	return notify.Handle("h")
}

func (r *recorder) snapshot() ([]string, []notify.Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...), append([]notify.Kind(nil), r.kinds...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages, r.kinds = nil, nil
}

type call struct {
	Method string
	Path   string
	Query  string
	Body   string
}

// fakeAPI answers "METHOD /admin/path" routes and records every request it sees.
type fakeAPI struct {
	mu     sync.Mutex
	calls  []call
	routes map[string]http.HandlerFunc
}

func (f *fakeAPI) handle(method, path string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[method+" "+path] = h
}

func (f *fakeAPI) json(method, path string, status int, body string) {
	f.handle(method, path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	})
}

func (f *fakeAPI) recorded() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeAPI) forget() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	r.Body = io.NopCloser(bytes.NewReader(body))

	f.mu.Lock()
	f.calls = append(f.calls, call{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: string(body)})
	h, ok := f.routes[r.Method+" "+r.URL.Path]
	f.mu.Unlock()

	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"message":"not found"}`)
		return
	}
	h(w, r)
}

type harness struct {
	api    *fakeAPI
	notes  *recorder
	modals *modal.Manager
	deps   *Deps
	binds  *ui.Bindings

	// advance and block drive the fake clock behind timers, debounce and stagger.
	advance func(time.Duration)
	block   func(waiters int)
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	api := &fakeAPI{routes: make(map[string]http.HandlerFunc)}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	store := session.NewStore(session.NewMemoryKV())
	require.NoError(t, store.Establish("tok", session.User{ID: "admin", Email: "admin@example.com", Role: "admin"}))

	notes := &recorder{}
	clock := clockwork.NewFakeClock()
	modals := modal.NewManager(ui.NewKeyBus(), &ui.Focus{})

	gw := gateway.New(gateway.Config{
		BaseURL:   srv.URL,
		Namespace: "admin",
		Session:   store,
		Notifier:  notes,
	})

	deps := &Deps{
		API:       gw,
		Notifier:  notes,
		Modals:    modals,
		Stagger:   bulk.NewStagger(clock, 0),
		Clock:     clock,
		Templates: NewRenderer(formToken),
	}
	deps.Confirm = NewConfirmations(modals, notes, deps.Templates)

	b := ui.NewBindings()
	deps.Confirm.Bind(b)

	return &harness{
		api:     api,
		notes:   notes,
		advance: clock.Advance,
		block: func(n int) {
			require.NoError(t, clock.BlockUntilContext(context.Background(), n))
		},
		modals: modals,
		deps:   deps,
		binds:  b,
	}
}

// load runs a section's loader and applies its commit, the way the registry does.
func load(t *testing.T, s Section) {
	t.Helper()
	commit, err := s.Load(context.Background())
	require.NoError(t, err)
	commit()
}
