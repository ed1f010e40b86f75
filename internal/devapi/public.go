package devapi

import (
	"net/http"
	"strings"
)

// Public endpoints stand in for the marketplace's customer-facing site. Each one pushes an event to
// connected admins.

func (s *Server) publicMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		Email   string `json:"email"`
		Subject string `json:"subject"`
		Content string `json:"content"`
	}
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "email and content are required")
		return
	}
	m := message{
		ID:        newID(),
		Name:      strings.TrimSpace(req.Name),
		Email:     strings.TrimSpace(req.Email),
		Subject:   strings.TrimSpace(req.Subject),
		Content:   strings.TrimSpace(req.Content),
		Replies:   []reply{},
		CreatedAt: s.clock.Now().UTC(),
	}
	s.store.mu.Lock()
	s.store.messages.put(m)
	s.store.mu.Unlock()

	s.hub.broadcast("new_message", map[string]any{"_id": m.ID, "name": m.Name, "email": m.Email, "subject": m.Subject})
	writeJSON(w, http.StatusCreated, map[string]any{"message": m})
}

func (s *Server) publicJob(w http.ResponseWriter, r *http.Request) {
	var req job
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	req.ID = newID()
	req.Title = strings.TrimSpace(req.Title)
	req.Status = "open"
	req.CreatedAt = s.clock.Now().UTC()

	s.store.mu.Lock()
	s.store.jobs.put(req)
	s.store.mu.Unlock()

	s.hub.broadcast("new_job", map[string]any{"_id": req.ID, "title": req.Title, "name": req.Customer})
	writeJSON(w, http.StatusCreated, map[string]any{"job": req})
}

func (s *Server) publicUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	role := req.Role
	if role != "contractor" {
		role = "customer"
	}

	s.store.mu.Lock()
	if _, exists := s.store.userByEmail(req.Email); exists {
		s.store.mu.Unlock()
		writeError(w, http.StatusConflict, "email already registered")
		return
	}
	u := user{
		ID:        newID(),
		Name:      strings.TrimSpace(req.Name),
		Email:     strings.TrimSpace(req.Email),
		Role:      role,
		IsActive:  true,
		CreatedAt: s.clock.Now().UTC(),
	}
	s.store.users.put(u)
	s.store.mu.Unlock()

	s.hub.broadcast("user_registered", map[string]any{"_id": u.ID, "name": u.Name, "email": u.Email})
	writeJSON(w, http.StatusCreated, map[string]any{"user": u})
}

func (s *Server) publicEstimation(w http.ResponseWriter, r *http.Request) {
	var req estimation
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	e := estimation{
		ID:        newID(),
		Title:     strings.TrimSpace(req.Title),
		Customer:  strings.TrimSpace(req.Customer),
		Amount:    req.Amount,
		Notes:     req.Notes,
		Status:    "pending",
		Files:     []estimationFile{},
		CreatedAt: s.clock.Now().UTC(),
	}
	s.store.mu.Lock()
	s.store.estimations.put(e)
	s.store.mu.Unlock()

	s.hub.broadcast("new_estimation", map[string]any{"_id": e.ID, "title": e.Title, "name": e.Customer})
	writeJSON(w, http.StatusCreated, map[string]any{"estimation": e})
}
