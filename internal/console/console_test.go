package console

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phillip-england/marketadmin/internal/devapi"
	"github.com/phillip-england/marketadmin/internal/realtime"
	"github.com/phillip-england/marketadmin/internal/sheets"
)

const (
	adminEmail    = "admin@example.com"
	adminPassword = "correct-horse-battery"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	cfg        Config
	formToken  string
	api        *httptest.Server
	server     *Server
	console    *httptest.Server
	client     *http.Client
	advance    func(time.Duration)
	advanceAPI func(time.Duration)
}

func newHarness(t *testing.T, tweak ...func(*Config)) *harness {
	t.Helper()
	return newHarnessWithAPI(t, nil, tweak...)
}

// newHarnessWithAPI lets a test put its own handler in front of the development API.
func newHarnessWithAPI(t *testing.T, wrap func(http.Handler) http.Handler, tweak ...func(*Config)) *harness {
	t.Helper()

	apiClock := clockwork.NewFakeClockAt(epoch)
	api, err := devapi.NewServer(devapi.Config{
		AdminEmail:    adminEmail,
		AdminPassword: adminPassword,
		SessionTTL:    time.Hour,
	}, devapi.WithClock(apiClock), devapi.WithLogger(quietLogger()))
	require.NoError(t, err)
	var apiHandler http.Handler = api
	if wrap != nil {
		apiHandler = wrap(api)
	}
	apiTS := httptest.NewServer(apiHandler)
	t.Cleanup(apiTS.Close)

	cfg := Config{
		APIBaseURL:        apiTS.URL,
		APINamespace:      "admin",
		DataDir:           t.TempDir(),
		NotificationLimit: 5,
		SearchDebounce:    500 * time.Millisecond,
		RealtimeReconnect: time.Second,
	}
	for _, fn := range tweak {
		fn(&cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	clock := clockwork.NewFakeClockAt(epoch)
	srv := NewServer(ctx, cfg, WithClock(clock), WithLogger(quietLogger()))
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	t.Cleanup(cancel)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &harness{
		cfg:        cfg,
		api:        apiTS,
		server:     srv,
		console:    ts,
		client:     client,
		advance:    clock.Advance,
		advanceAPI: apiClock.Advance,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type reply struct {
	status   int
	location string
	header   http.Header
	body     string
}

func (h *harness) send(t *testing.T, req *http.Request) reply {
	t.Helper()
	resp, err := h.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return reply{status: resp.StatusCode, location: resp.Header.Get("Location"), header: resp.Header, body: string(raw)}
}

func (h *harness) get(t *testing.T, path string) reply {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, h.console.URL+path, nil)
	require.NoError(t, err)
	return h.send(t, req)
}

// post submits a form the way the rendered page does, form token included.
func (h *harness) post(t *testing.T, path string, form url.Values) reply {
	t.Helper()
	withToken := url.Values{}
	for k, v := range form {
		withToken[k] = v
	}
	if h.formToken != "" && withToken.Get("csrf_token") == "" {
		withToken.Set("csrf_token", h.formToken)
	}
	return h.postRaw(t, path, withToken)
}

func (h *harness) postRaw(t *testing.T, path string, form url.Values) reply {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, h.console.URL+path, strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return h.send(t, req)
}

// fetch posts like the page script: fetch marker plus the form token header.
func (h *harness) fetch(t *testing.T, path string, form url.Values) reply {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, h.console.URL+path, strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Requested-With", "fetch")
	if h.formToken != "" {
		req.Header.Set("X-CSRF-Token", h.formToken)
	}
	return h.send(t, req)
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	r := h.post(t, "/login", url.Values{"email": {adminEmail}, "password": {adminPassword}})
	require.Equal(t, http.StatusSeeOther, r.status)
	require.Equal(t, "/admin", r.location)
	h.formToken = h.onlyWorkspace(t).formToken
}

var userRow = regexp.MustCompile(`data-id="([0-9a-f]{24})">\s*<td>Dana Whitfield</td>`)

func (h *harness) danaID(t *testing.T) string {
	t.Helper()
	page := h.get(t, "/admin?section=users")
	require.Equal(t, http.StatusOK, page.status)
	m := userRow.FindStringSubmatch(page.body)
	require.Len(t, m, 2, "user row not rendered")
	return m[1]
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	r := h.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, r.status)
	assert.JSONEq(t, `{"status":"ok"}`, r.body)
}

func TestAdmin_RedirectsToLoginWithoutSession(t *testing.T) {
	h := newHarness(t)

	r := h.get(t, "/admin")
	assert.Equal(t, http.StatusSeeOther, r.status)
	assert.Equal(t, "/login", r.location)

	r = h.fetch(t, "/actions/users.block", url.Values{"id": {"x"}})
	assert.Equal(t, http.StatusUnauthorized, r.status)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	h := newHarness(t)

	r := h.post(t, "/login", url.Values{"email": {adminEmail}, "password": {"not-the-password"}})
	require.Equal(t, http.StatusSeeOther, r.status)
	assert.Contains(t, r.location, "error=Invalid+credentials")

	r = h.post(t, "/login", url.Values{"email": {""}, "password": {""}})
	assert.Contains(t, r.location, "error=Email+and+password+are+required")

	page := h.get(t, "/login?error=Invalid+credentials")
	assert.Contains(t, page.body, "Invalid credentials")
}

func TestLogin_ThenDashboard(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	r := h.get(t, "/admin")
	require.Equal(t, http.StatusOK, r.status)
	assert.Contains(t, r.body, "Dashboard")
	assert.Contains(t, r.body, "Site Admin")
	assert.NotEmpty(t, r.header.Get("Content-Security-Policy"))
	assert.NotEmpty(t, r.header.Get("X-Request-ID"))

	r = h.get(t, "/login")
	assert.Equal(t, http.StatusFound, r.status)
}

func TestAdmin_UnknownSectionIs404(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	assert.Equal(t, http.StatusNotFound, h.get(t, "/admin?section=payroll").status)
	assert.Equal(t, http.StatusNotFound, h.post(t, "/actions/payroll.run", nil).status)
}

func TestAction_BlockUserNotifiesAndReturnsToView(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	id := h.danaID(t)

	r := h.get(t, "/admin?section=users&q=dana")
	require.Equal(t, http.StatusOK, r.status)

	r = h.post(t, "/actions/users.block", url.Values{"id": {id}})
	require.Equal(t, http.StatusSeeOther, r.status)
	assert.Equal(t, "/admin?section=users&q=dana", r.location)

	page := h.get(t, r.location)
	assert.Contains(t, page.body, "User blocked")
	assert.Contains(t, page.body, `users.unblock`)
}

func TestAction_FetchGets204(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	id := h.danaID(t)

	r := h.fetch(t, "/actions/users.deactivate", url.Values{"id": {id}})
	assert.Equal(t, http.StatusNoContent, r.status)
}

var tokenField = regexp.MustCompile(`name="token" value="([^"]+)"`)

func TestDelete_RequiresConfirmation(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	id := h.danaID(t)

	r := h.post(t, "/actions/confirm.accept", url.Values{"token": {"made-up"}})
	require.Equal(t, http.StatusSeeOther, r.status)

	r = h.post(t, "/actions/users.delete", url.Values{"id": {id}})
	require.Equal(t, http.StatusSeeOther, r.status)

	page := h.get(t, "/admin?section=users")
	assert.Contains(t, page.body, "Delete user dana@example.com?")
	assert.Contains(t, page.body, `data-focus="confirm-cancel"`)
	m := tokenField.FindStringSubmatch(page.body)
	require.Len(t, m, 2)

	h.post(t, "/actions/confirm.accept", url.Values{"token": {m[1]}})
	page = h.get(t, "/admin?section=users")
	assert.Contains(t, page.body, "User deleted")
	assert.NotContains(t, page.body, "<td>Dana Whitfield</td>")
	assert.NotContains(t, page.body, "data-modal-open")
}

func TestModal_EscapeClosesAndOverlayClick(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	id := h.danaID(t)

	h.post(t, "/actions/users.delete", url.Values{"id": {id}})

	r := h.fetch(t, "/modal/key", url.Values{"key": {"Tab"}})
	var state keyResponse
	require.NoError(t, json.Unmarshal([]byte(r.body), &state))
	assert.True(t, state.Open)
	assert.Equal(t, "confirm-accept", state.Focus)

	r = h.fetch(t, "/modal/key", url.Values{"key": {"Escape"}})
	require.NoError(t, json.Unmarshal([]byte(r.body), &state))
	assert.True(t, state.Handled)
	assert.False(t, state.Open)

	h.post(t, "/actions/users.delete", url.Values{"id": {id}})
	h.post(t, "/modal/overlay", url.Values{"target": {"content"}})
	assert.Contains(t, h.get(t, "/admin?section=users").body, "data-modal-open")
	h.post(t, "/modal/overlay", url.Values{"target": {"overlay"}})
	assert.NotContains(t, h.get(t, "/admin?section=users").body, "data-modal-open")
}

func TestNotification_Dismiss(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	id := h.danaID(t)
	h.post(t, "/actions/users.block", url.Values{"id": {id}})

	ws := h.onlyWorkspace(t)
	active := ws.notes.Active()
	require.Len(t, active, 1)

	h.post(t, "/notifications/"+active[0].ID+"/dismiss", nil)
	assert.Empty(t, ws.notes.Active())
}

func TestSessionExpiry_RedirectsWithReason(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	require.Equal(t, http.StatusOK, h.get(t, "/admin").status)

	h.advanceAPI(2 * time.Hour)

	r := h.get(t, "/admin?section=jobs")
	require.Equal(t, http.StatusSeeOther, r.status)
	assert.Equal(t, "/login?error=Session+expired", r.location)

	r = h.get(t, "/admin")
	assert.Equal(t, "/login", r.location)
}

func TestLogout(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	r := h.postRaw(t, "/logout", nil)
	assert.Equal(t, http.StatusForbidden, r.status)

	r = h.post(t, "/logout", nil)
	assert.Equal(t, "/login", r.location)
	assert.Equal(t, "/login", h.get(t, "/admin").location)
	assert.Equal(t, 0, h.workspaceCount())
}

func TestSession_SurvivesServerRestart(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	restarted := httptest.NewServer(NewServer(context.Background(), h.cfg, WithLogger(quietLogger())))
	defer restarted.Close()

	req, err := http.NewRequest(http.MethodGet, restarted.URL+"/admin", nil)
	require.NoError(t, err)
	r := h.send(t, req)
	assert.Equal(t, http.StatusOK, r.status)
	assert.Contains(t, r.body, "Dashboard")
}

func TestWorkspaces_AreIsolated(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	other := &http.Client{CheckRedirect: h.client.CheckRedirect}
	resp, err := other.Get(h.console.URL + "/admin")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "/login", resp.Header.Get("Location"))
	assert.Equal(t, 1, h.workspaceCount())
}

func TestWorkspaces_OnlyCreatedAtSignIn(t *testing.T) {
	h := newHarness(t)

	anon := &http.Client{CheckRedirect: h.client.CheckRedirect}
	for i := 0; i < 50; i++ {
		resp, err := anon.Get(h.console.URL + "/login")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Empty(t, resp.Header.Values("Set-Cookie"))
	}

	req, err := http.NewRequest(http.MethodGet, h.console.URL+"/admin", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: workspaceCookie, Value: "7d0e6f1c-0c57-4a3e-9d55-0a4b5c6d7e8f"})
	resp, err := anon.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	assert.Equal(t, 0, h.workspaceCount())

	h.login(t)
	assert.Equal(t, 1, h.workspaceCount())
}

func TestWorkspaces_IdleOnesAreEvicted(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.IdleTTL = time.Hour })
	h.login(t)
	require.Equal(t, http.StatusOK, h.get(t, "/admin").status)

	h.advance(2 * time.Hour)
	resp, err := http.Get(h.console.URL + "/login")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 0, h.workspaceCount())

	// the signed-in session is still on disk and comes back on the next visit
	assert.Equal(t, http.StatusOK, h.get(t, "/admin").status)
	assert.Equal(t, 1, h.workspaceCount())
}

func TestFormToken_RequiredOnMutations(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	id := h.danaID(t)

	page := h.get(t, "/admin?section=users")
	assert.Contains(t, page.body, `<meta name="csrf-token" content="`+h.formToken+`">`)
	assert.Equal(t, strings.Count(page.body, `method="post"`), strings.Count(page.body, `name="csrf_token" value="`+h.formToken+`"`))

	r := h.postRaw(t, "/actions/users.block", url.Values{"id": {id}})
	require.Equal(t, http.StatusSeeOther, r.status)
	r = h.postRaw(t, "/actions/users.block", url.Values{"id": {id}, "csrf_token": {"forged"}})
	require.Equal(t, http.StatusSeeOther, r.status)

	req, err := http.NewRequest(http.MethodPost, h.console.URL+"/actions/users.block", strings.NewReader(url.Values{"id": {id}}.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Requested-With", "fetch")
	req.Header.Set("X-CSRF-Token", "forged")
	assert.Equal(t, http.StatusForbidden, h.send(t, req).status)

	page = h.get(t, "/admin?section=users")
	assert.Contains(t, page.body, "This page has expired")
	assert.NotContains(t, page.body, "User blocked")
	row := page.body[strings.Index(page.body, `data-id="`+id+`"`):]
	row = row[:strings.Index(row, "</tr>")]
	assert.Contains(t, row, `action="/actions/users.block"`)
}

func TestSectionFailure_DismissStaysDismissed(t *testing.T) {
	var usersHits atomic.Int32
	var failing atomic.Bool
	failing.Store(true)
	h := newHarnessWithAPI(t, func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet && r.URL.Path == "/admin/users" {
				usersHits.Add(1)
				if failing.Load() {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = io.WriteString(w, `{"message":"users unavailable"}`)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	})
	h.login(t)

	page := h.get(t, "/admin?section=users")
	require.Equal(t, http.StatusOK, page.status)
	assert.Contains(t, page.body, "Could not load users")
	ws := h.onlyWorkspace(t)

	for i := 0; i < 3; i++ {
		active := ws.notes.Active()
		if len(active) == 0 {
			break
		}
		r := h.post(t, "/notifications/"+active[0].ID+"/dismiss", nil)
		require.Equal(t, http.StatusSeeOther, r.status)
		page = h.get(t, r.location)
		assert.Contains(t, page.body, "Could not load users")
	}
	assert.Empty(t, ws.notes.Active())
	assert.Equal(t, int32(1), usersHits.Load())

	failing.Store(false)
	h.post(t, "/admin/refresh", url.Values{"section": {"users"}})
	assert.Equal(t, int32(2), usersHits.Load())
	assert.Contains(t, h.get(t, "/admin?section=users").body, "Dana Whitfield")
}

func TestExport_WritesWorkbook(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	r := h.get(t, "/admin/export/users?q=example.com")
	require.Equal(t, http.StatusOK, r.status)
	assert.Equal(t, sheets.ContentType, r.header.Get("Content-Type"))
	assert.Contains(t, r.header.Get("Content-Disposition"), "users-20260301.xlsx")

	rows, err := sheets.ReadRows(strings.NewReader(r.body), "users.xlsx")
	require.NoError(t, err)
	require.Len(t, rows, 7)
	assert.Equal(t, []string{"ID", "Name", "Email", "Role", "Status", "Created"}, rows[0])

	assert.Equal(t, http.StatusNotFound, h.get(t, "/admin/export/analytics").status)
}

func TestEstimationFiles_DownloadSingleAndBundle(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	page := h.get(t, "/admin?section=estimations")
	require.Equal(t, http.StatusOK, page.status)
	link := regexp.MustCompile(`/admin/estimations/([0-9a-f]{24})/files/([0-9a-f]{24})`).FindStringSubmatch(page.body)
	require.Len(t, link, 3)

	r := h.get(t, link[0])
	require.Equal(t, http.StatusOK, r.status)
	assert.Equal(t, "North wall seepage, 2 ft.\n\n", r.body)
	assert.Contains(t, r.header.Get("Content-Disposition"), "site-notes.txt")

	r = h.get(t, "/admin/estimations/"+link[1]+"/files.tar.xz")
	require.Equal(t, http.StatusOK, r.status)
	assert.Equal(t, "application/x-xz", r.header.Get("Content-Type"))
}

func TestConversations_DebouncedSearch(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	require.Equal(t, http.StatusOK, h.get(t, "/admin?section=conversations").status)

	r := h.fetch(t, "/actions/conversations.search", url.Values{"q": {"fence"}})
	require.Equal(t, http.StatusNoContent, r.status)

	frag := h.get(t, "/admin/fragment?section=conversations")
	assert.Contains(t, frag.body, "Searching")

	h.advance(h.cfg.SearchDebounce)
	assert.Eventually(t, func() bool {
		body := h.get(t, "/admin/fragment?section=conversations").body
		return strings.Contains(body, `Results for "fence"`) && !strings.Contains(body, "Kitchen remodel")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRealtime_PushBecomesNotificationWithRefresh(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.RealtimeURL = "ws" + strings.TrimPrefix(c.APIBaseURL, "http") + "/admin/ws"
	})
	h.login(t)

	require.Eventually(t, func() bool {
		resp, err := http.Get(h.api.URL + "/healthz")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var health struct {
			PushClients int `json:"pushClients"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&health)
		return health.PushClients == 1
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Post(h.api.URL+"/public/messages", "application/json",
		strings.NewReader(`{"name":"Ivy","email":"ivy@example.com","subject":"Hi","content":"Hello"}`))
	require.NoError(t, err)
	resp.Body.Close()

	ws := h.onlyWorkspace(t)
	require.Eventually(t, func() bool {
		active := ws.notes.Active()
		return len(active) == 1 && active[0].Message == "New message from Ivy"
	}, 2*time.Second, 10*time.Millisecond)

	note := ws.notes.Active()[0]
	require.Len(t, note.Actions, 1)
	assert.Equal(t, "Refresh", note.Actions[0].Label)

	h.post(t, "/notifications/"+note.ID+"/actions/0", nil)
	page := h.get(t, "/admin?section=messages")
	assert.Contains(t, page.body, "ivy@example.com")
}

func (h *harness) workspaceCount() int {
	h.server.mu.Lock()
	defer h.server.mu.Unlock()
	return len(h.server.workspaces)
}

func (h *harness) onlyWorkspace(t *testing.T) *workspace {
	t.Helper()
	h.server.mu.Lock()
	defer h.server.mu.Unlock()
	require.Len(t, h.server.workspaces, 1)
	for _, ws := range h.server.workspaces {
		return ws
	}
	return nil
}

func TestPush_UndecodablePayloadIsLoggedAndStillNotified(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	ws := h.onlyWorkspace(t)

	var logs bytes.Buffer
	ws.logger = slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	env := realtime.Envelope{Type: "new_message", Raw: json.RawMessage(`{"type":"new_message","name":42}`)}
	ws.push(env, "messages", func(e pushEvent) string { return "New message from " + firstOf(e.Name, "a visitor") })

	active := ws.notes.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "New message from a visitor", active[0].Message)
	assert.Contains(t, logs.String(), "push event payload ignored")
	assert.Contains(t, logs.String(), "type=new_message")
}
