package console

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/phillip-england/marketadmin/internal/entity"
	"github.com/phillip-england/marketadmin/internal/gateway"
	"github.com/phillip-england/marketadmin/internal/modal"
	"github.com/phillip-england/marketadmin/internal/notify"
	"github.com/phillip-england/marketadmin/internal/section"
	"github.com/phillip-england/marketadmin/internal/session"
	"github.com/phillip-england/marketadmin/internal/sheets"
	"github.com/phillip-england/marketadmin/internal/ui"
)

type pageData struct {
	Error string
	Email string

	User          session.User
	Tabs          []section.Tab
	Active        string
	Title         string
	State         string
	LoadError     string
	Body          template.HTML
	View          entity.View
	Notifications []notify.Record
	Modal         *modal.Modal
	Focus         string
	FormToken     string
}

var pageFuncs = template.FuncMap{
	"lower": strings.ToLower,
	"inc":   func(i int) int { return i + 1 },
}

type loginResponse struct {
	Token string       `json:"token"`
	User  session.User `json:"user"`
}

func (s *Server) loginPage(w http.ResponseWriter, r *http.Request) {
	if ws, err := s.lookup(r); err == nil && ws != nil && ws.store.Status().Authenticated {
		http.Redirect(w, r, "/admin", http.StatusFound)
		return
	}
	data := pageData{Error: r.URL.Query().Get("error"), Email: r.URL.Query().Get("email")}
	if err := renderHTMLTemplate(w, s.loginTmpl, data); err != nil {
		s.logger.ErrorContext(r.Context(), "login template render failed", "error", err)
		http.Error(w, "template render failed", http.StatusInternalServerError)
	}
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	fail := func(email, msg string) {
		q := url.Values{"error": {msg}}
		if email != "" {
			q.Set("email", email)
		}
		http.Redirect(w, r, "/login?"+q.Encode(), http.StatusSeeOther)
	}

	if err := r.ParseForm(); err != nil {
		fail("", "Invalid form submission")
		return
	}
	email := strings.TrimSpace(r.FormValue("email"))
	password := r.FormValue("password")
	if email == "" || password == "" {
		fail(email, "Email and password are required")
		return
	}

	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, s.cfg.APIBaseURL+"/auth/login", bytes.NewReader(body))
	if err != nil {
		fail(email, "Unable to authenticate")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.WarnContext(r.Context(), "login request failed", "error", err)
		fail(email, "Authentication service unavailable")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fail(email, "Invalid credentials")
		return
	}
	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.Token == "" {
		fail(email, "Unexpected response from authentication service")
		return
	}
	if out.User.Role != "" && out.User.Role != "admin" {
		fail(email, "Administrator access required")
		return
	}
	// Every sign-in gets a new workspace id; whatever the browser held before is dropped.
	if prev, err := s.lookup(r); err == nil && prev != nil {
		if err := prev.store.Teardown(); err != nil {
			s.logger.WarnContext(r.Context(), "previous session teardown failed", "error", err)
		}
		s.evict(prev)
	}
	ws, err := s.create(w)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "workspace unavailable", "error", err)
		fail(email, "Unable to save session")
		return
	}
	if err := ws.login(out.Token, out.User); err != nil {
		s.logger.ErrorContext(r.Context(), "persist session failed", "error", err)
		s.evict(ws)
		clearWorkspaceCookie(w)
		fail(email, "Unable to save session")
		return
	}
	s.logger.InfoContext(r.Context(), "admin signed in", "email", out.User.Email, "workspace", ws.id)
	http.Redirect(w, r, "/admin", http.StatusSeeOther)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	ws, err := s.lookup(r)
	if err != nil || ws == nil {
		clearWorkspaceCookie(w)
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	if !ws.validFormToken(r.FormValue(entity.FormTokenField)) {
		http.Error(w, "invalid form token", http.StatusForbidden)
		return
	}
	if err := ws.logout(); err != nil {
		s.logger.WarnContext(r.Context(), "logout teardown failed", "error", err)
	}
	s.evict(ws)
	clearWorkspaceCookie(w)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// sectionName resolves the requested section, falling back to the active one and then the dashboard.
func sectionName(p *parts, requested string) string {
	if requested != "" {
		return requested
	}
	if active := p.registry.Active(); active != "" {
		return active
	}
	return defaultSection
}

func (s *Server) adminPage(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r)
	p := ws.parts()

	name := sectionName(p, r.URL.Query().Get("section"))
	if !p.registry.Has(name) {
		http.NotFound(w, r)
		return
	}
	view := entity.ViewFromQuery(r.URL.Query())

	if err := p.registry.Activate(r.Context(), name); err != nil {
		s.logger.DebugContext(r.Context(), "section load failed", "section", name, "error", err)
	}
	if !ws.store.Status().Authenticated {
		s.toLogin(w, r, ws)
		return
	}
	// A failed section keeps its error until Refresh.
	loadErr := p.registry.Err(name)
	ws.remember(r.URL.RequestURI())

	data := pageData{
		User:          ws.store.Status().User,
		Tabs:          p.registry.Tabs(),
		Active:        name,
		State:         p.registry.State(name).String(),
		View:          view,
		Notifications: ws.notes.Active(),
		Focus:         ws.focus.Current(),
		FormToken:     ws.formToken,
	}
	if loadErr != nil {
		data.LoadError = loadErr.Error()
	}
	for _, t := range data.Tabs {
		if t.Name == name {
			data.Title = t.Title
		}
	}
	if p.registry.State(name) == section.Loaded {
		body, err := renderSection(p, name, view)
		if err != nil {
			s.logger.ErrorContext(r.Context(), "section render failed", "section", name, "error", err)
			http.Error(w, "template render failed", http.StatusInternalServerError)
			return
		}
		data.Body = body
	}
	if md, ok := ws.modals.Active(); ok {
		data.Modal = md
	}

	if err := renderHTMLTemplate(w, s.adminTmpl, data); err != nil {
		s.logger.ErrorContext(r.Context(), "admin template render failed", "error", err)
		http.Error(w, "template render failed", http.StatusInternalServerError)
	}
}

// fragment renders only the section body; the page script swaps it in after a debounced search.
func (s *Server) fragment(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r)
	p := ws.parts()
	name := sectionName(p, r.URL.Query().Get("section"))
	if !p.registry.Has(name) || p.registry.State(name) != section.Loaded {
		http.NotFound(w, r)
		return
	}
	body, err := renderSection(p, name, entity.ViewFromQuery(r.URL.Query()))
	if err != nil {
		s.logger.ErrorContext(r.Context(), "fragment render failed", "section", name, "error", err)
		http.Error(w, "template render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, string(body))
}

func renderSection(p *parts, name string, view entity.View) (template.HTML, error) {
	var buf bytes.Buffer
	if err := p.sections[name].Render(&buf, view); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r)
	p := ws.parts()
	name := sectionName(p, r.FormValue("section"))
	if err := p.registry.Refresh(r.Context(), name); err != nil {
		if errors.Is(err, section.ErrUnknownSection) {
			http.NotFound(w, r)
			return
		}
		s.logger.DebugContext(r.Context(), "section refresh failed", "section", name, "error", err)
	}
	s.finish(w, r, ws)
}

func (s *Server) action(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r)
	name := mux.Vars(r)["action"]
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	err := ws.parts().bindings.Dispatch(r.Context(), name, ui.ArgsFromForm(r.PostForm))
	switch {
	case errors.Is(err, ui.ErrUnknownAction):
		http.NotFound(w, r)
		return
	case err != nil:
		// already surfaced as a notification
		s.logger.DebugContext(r.Context(), "action failed", "action", name, "error", err)
	}
	s.finish(w, r, ws)
}

// finish ends a mutating request: back to the login page if the session ended, otherwise back to the last
// rendered view (or 204 for script requests).
func (s *Server) finish(w http.ResponseWriter, r *http.Request, ws *workspace) {
	if !ws.store.Status().Authenticated {
		s.toLogin(w, r, ws)
		return
	}
	if isFetch(r) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, ws.back(), http.StatusSeeOther)
}

func (s *Server) dismissNotification(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r)
	ws.notes.Dismiss(notify.Handle(mux.Vars(r)["id"]))
	s.finish(w, r, ws)
}

func (s *Server) invokeNotification(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r)
	vars := mux.Vars(r)
	index, _ := strconv.Atoi(vars["index"])
	if err := ws.notes.Invoke(notify.Handle(vars["id"]), index); err != nil {
		s.logger.DebugContext(r.Context(), "notification action unavailable", "id", vars["id"], "error", err)
	}
	s.finish(w, r, ws)
}

func (s *Server) closeModal(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r)
	ws.modals.Close()
	s.finish(w, r, ws)
}

type keyResponse struct {
	Handled bool   `json:"handled"`
	Open    bool   `json:"open"`
	Focus   string `json:"focus"`
}

func (s *Server) modalKey(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r)
	key := ui.ParseKey(r.FormValue("key"), r.FormValue("shift") == "true")
	handled := ws.keys.Dispatch(key)
	_, open := ws.modals.Active()
	writeJSON(w, http.StatusOK, keyResponse{Handled: handled, Open: open, Focus: ws.focus.Current()})
}

func (s *Server) modalOverlay(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r)
	target := modal.TargetContent
	if r.FormValue("target") == "overlay" {
		target = modal.TargetOverlay
	}
	ws.modals.ClickOverlay(target)
	s.finish(w, r, ws)
}

func (s *Server) export(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r)
	p := ws.parts()
	name := mux.Vars(r)["section"]
	sec, ok := p.sections[name]
	exporter, canExport := sec.(entity.Exporter)
	if !ok || !canExport {
		http.NotFound(w, r)
		return
	}
	if p.registry.State(name) != section.Loaded {
		if err := p.registry.Refresh(r.Context(), name); err != nil {
			s.finish(w, r, ws)
			return
		}
	}

	var buf bytes.Buffer
	if err := sheets.WriteXLSX(&buf, exporter.Export(entity.ViewFromQuery(r.URL.Query()))); err != nil {
		s.logger.ErrorContext(r.Context(), "export failed", "section", name, "error", err)
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	filename := fmt.Sprintf("%s-%s.xlsx", name, s.clock.Now().Format("20060102"))
	writeDownload(w, sheets.ContentType, filename, buf.Bytes())
}

// readUpload pulls the "file" part of a multipart form. A missing file is reported to the admin.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request, ws *workspace) (string, []byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		ws.notes.Warning("Upload is too large or malformed")
		return "", nil, false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		ws.notes.Warning("Choose a file to upload")
		return "", nil, false
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		ws.notes.Error("Could not read the uploaded file")
		return "", nil, false
	}
	return header.Filename, data, true
}

func (s *Server) bulkBlock(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r)
	if name, data, ok := s.readUpload(w, r, ws); ok {
		if err := ws.parts().users.BulkBlock(r.Context(), name, data); err != nil {
			s.logger.DebugContext(r.Context(), "bulk block failed", "file", name, "error", err)
		}
	}
	s.finish(w, r, ws)
}

func (s *Server) uploadEstimationFile(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r)
	if name, data, ok := s.readUpload(w, r, ws); ok {
		if err := ws.parts().estimations.UploadFile(r.Context(), mux.Vars(r)["id"], name, data); err != nil {
			s.logger.DebugContext(r.Context(), "estimation upload failed", "file", name, "error", err)
		}
	}
	s.finish(w, r, ws)
}

func (s *Server) downloadEstimationFile(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r)
	vars := mux.Vars(r)
	blob, err := ws.parts().estimations.DownloadFile(r.Context(), vars["id"], vars["fileId"])
	s.sendBlob(w, r, ws, blob, err)
}

func (s *Server) downloadEstimationFiles(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r)
	blob, err := ws.parts().estimations.DownloadAll(r.Context(), mux.Vars(r)["id"])
	s.sendBlob(w, r, ws, blob, err)
}

// sendBlob streams a download; failures were already notified, so the browser just goes back.
func (s *Server) sendBlob(w http.ResponseWriter, r *http.Request, ws *workspace, blob *gateway.Blob, err error) {
	if err != nil || blob == nil {
		s.logger.DebugContext(r.Context(), "download failed", "path", r.URL.Path, "error", err)
		s.finish(w, r, ws)
		return
	}
	contentType := blob.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	writeDownload(w, contentType, blob.Filename, blob.Data)
}

func writeDownload(w http.ResponseWriter, contentType, filename string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	if filename != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func renderHTMLTemplate(w http.ResponseWriter, tmpl *template.Template, data pageData) error {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, err := w.Write(buf.Bytes())
	return err
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
