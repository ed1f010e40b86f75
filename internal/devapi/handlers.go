package devapi

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

func id(r *http.Request) string { return mux.Vars(r)["id"] }

type statusRequest struct {
	Status string `json:"status"`
}

func (s *Server) getStats(w http.ResponseWriter, _ *http.Request) {
	s.store.mu.Lock()
	st := s.store.stats()
	s.store.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"stats": st})
}

// users

func (s *Server) listUsers(w http.ResponseWriter, _ *http.Request) {
	s.store.mu.Lock()
	users := s.store.users.list()
	s.store.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (s *Server) setUserActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IsActive *bool `json:"isActive"`
	}
	if err := decodeJSON(r, &req); err != nil || req.IsActive == nil {
		writeError(w, http.StatusBadRequest, "isActive is required")
		return
	}
	s.store.mu.Lock()
	u, err := s.store.users.update(id(r), func(u *user) error {
		u.IsActive = *req.IsActive
		return nil
	})
	s.store.mu.Unlock()
	respond(w, err, http.StatusOK, map[string]any{"user": u})
}

func (s *Server) setUserBlocked(w http.ResponseWriter, r *http.Request) {
	blocked := mux.Vars(r)["verb"] == "block"
	s.store.mu.Lock()
	u, err := s.store.users.update(id(r), func(u *user) error {
		u.IsBlocked = blocked
		return nil
	})
	s.store.mu.Unlock()
	respond(w, err, http.StatusOK, map[string]any{"user": u})
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	s.store.mu.Lock()
	err := s.store.users.remove(id(r))
	s.store.mu.Unlock()
	respond(w, err, http.StatusOK, map[string]string{"message": "user deleted"})
}

// jobs

func (s *Server) listJobs(w http.ResponseWriter, _ *http.Request) {
	s.store.mu.Lock()
	jobs := s.store.jobs.list()
	s.store.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) setJobStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		respond(w, err, 0, nil)
		return
	}
	s.store.mu.Lock()
	j, err := s.store.jobs.update(id(r), func(j *job) error {
		if err := oneOf(req.Status, "open", "in_progress", "completed", "cancelled"); err != nil {
			return err
		}
		j.Status = req.Status
		return nil
	})
	s.store.mu.Unlock()
	respond(w, err, http.StatusOK, map[string]any{"job": j})
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	s.store.mu.Lock()
	err := s.store.jobs.remove(id(r))
	s.store.mu.Unlock()
	respond(w, err, http.StatusOK, map[string]string{"message": "job deleted"})
}

// quotes

func (s *Server) listQuotes(w http.ResponseWriter, _ *http.Request) {
	s.store.mu.Lock()
	quotes := s.store.quotes.list()
	s.store.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"quotes": quotes})
}

func (s *Server) setQuoteStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		respond(w, err, 0, nil)
		return
	}
	s.store.mu.Lock()
	q, err := s.store.quotes.update(id(r), func(q *quote) error {
		if err := oneOf(req.Status, "pending", "accepted", "rejected"); err != nil {
			return err
		}
		q.Status = req.Status
		return nil
	})
	s.store.mu.Unlock()
	respond(w, err, http.StatusOK, map[string]any{"quote": q})
}

func (s *Server) deleteQuote(w http.ResponseWriter, r *http.Request) {
	s.store.mu.Lock()
	err := s.store.quotes.remove(id(r))
	s.store.mu.Unlock()
	respond(w, err, http.StatusOK, map[string]string{"message": "quote deleted"})
}

// subscriptions

func (s *Server) listSubscriptions(w http.ResponseWriter, _ *http.Request) {
	s.store.mu.Lock()
	subs := s.store.subscriptions.list()
	s.store.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": subs})
}

func (s *Server) setSubscriptionStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		respond(w, err, 0, nil)
		return
	}
	s.store.mu.Lock()
	sub, err := s.store.subscriptions.update(id(r), func(sub *subscription) error {
		if err := oneOf(req.Status, "active", "cancelled", "suspended"); err != nil {
			return err
		}
		sub.Status = req.Status
		return nil
	})
	s.store.mu.Unlock()
	if err == nil {
		s.hub.broadcast("subscription_update", map[string]any{"_id": sub.ID, "email": sub.UserEmail, "status": sub.Status})
	}
	respond(w, err, http.StatusOK, map[string]any{"subscription": sub})
}

// estimations

func (s *Server) listEstimations(w http.ResponseWriter, _ *http.Request) {
	s.store.mu.Lock()
	items := s.store.estimations.list()
	s.store.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"estimations": items})
}

func (s *Server) approveEstimation(w http.ResponseWriter, r *http.Request) {
	s.store.mu.Lock()
	e, err := s.store.estimations.update(id(r), func(e *estimation) error {
		e.Status = "approved"
		e.RejectionReason = ""
		return nil
	})
	s.store.mu.Unlock()
	respond(w, err, http.StatusOK, map[string]any{"estimation": e})
}

func (s *Server) rejectEstimation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Reason) == "" {
		writeError(w, http.StatusBadRequest, "a rejection reason is required")
		return
	}
	s.store.mu.Lock()
	e, err := s.store.estimations.update(id(r), func(e *estimation) error {
		e.Status = "rejected"
		e.RejectionReason = strings.TrimSpace(req.Reason)
		return nil
	})
	s.store.mu.Unlock()
	respond(w, err, http.StatusOK, map[string]any{"estimation": e})
}

func (s *Server) uploadEstimationFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()
	data, err := readAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unable to read file")
		return
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	s.store.mu.Lock()
	e, err := s.store.estimations.update(id(r), func(e *estimation) error {
		e.Files = append(e.Files, estimationFile{
			ID:          newID(),
			Name:        header.Filename,
			ContentType: contentType,
			Size:        int64(len(data)),
			data:        data,
		})
		return nil
	})
	s.store.mu.Unlock()
	respond(w, err, http.StatusCreated, map[string]any{"estimation": e})
}

func (s *Server) downloadEstimationFile(w http.ResponseWriter, r *http.Request) {
	fileID := mux.Vars(r)["fileId"]
	s.store.mu.Lock()
	e, ok := s.store.estimations.get(id(r))
	s.store.mu.Unlock()
	if ok {
		for _, f := range e.Files {
			if f.ID == fileID {
				writeDownload(w, f)
				return
			}
		}
	}
	writeError(w, http.StatusNotFound, "file not found")
}

func (s *Server) deleteEstimation(w http.ResponseWriter, r *http.Request) {
	s.store.mu.Lock()
	err := s.store.estimations.remove(id(r))
	s.store.mu.Unlock()
	respond(w, err, http.StatusOK, map[string]string{"message": "estimation deleted"})
}

// messages

func (s *Server) listMessages(w http.ResponseWriter, _ *http.Request) {
	s.store.mu.Lock()
	items := s.store.messages.list()
	s.store.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"messages": items})
}

func (s *Server) markMessageRead(w http.ResponseWriter, r *http.Request) {
	s.store.mu.Lock()
	m, err := s.store.messages.update(id(r), func(m *message) error {
		m.Read = true
		return nil
	})
	s.store.mu.Unlock()
	respond(w, err, http.StatusOK, map[string]any{"message": m})
}

func (s *Server) replyMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "reply content is required")
		return
	}
	rep := reply{Content: strings.TrimSpace(req.Content), SentAt: s.clock.Now().UTC()}
	s.store.mu.Lock()
	_, err := s.store.messages.update(id(r), func(m *message) error {
		m.Replies = append(m.Replies, rep)
		m.Read = true
		return nil
	})
	s.store.mu.Unlock()
	respond(w, err, http.StatusCreated, map[string]any{"reply": rep})
}

func (s *Server) deleteMessage(w http.ResponseWriter, r *http.Request) {
	s.store.mu.Lock()
	err := s.store.messages.remove(id(r))
	s.store.mu.Unlock()
	respond(w, err, http.StatusOK, map[string]string{"message": "message deleted"})
}

// conversations

func (s *Server) listConversations(w http.ResponseWriter, _ *http.Request) {
	s.store.mu.Lock()
	items := s.store.conversations.list()
	s.store.mu.Unlock()
	for i := range items {
		items[i].Messages = nil
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": items})
}

func (s *Server) searchConversations(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	s.store.mu.Lock()
	found := s.store.searchConversations(q)
	s.store.mu.Unlock()
	if found == nil {
		found = []conversation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": found})
}

func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) {
	s.store.mu.Lock()
	c, ok := s.store.conversations.get(id(r))
	s.store.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation": c})
}
