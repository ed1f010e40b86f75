package devapi

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	errNotFound = errors.New("not found")
	errInvalid  = errors.New("invalid request")
)

type user struct {
	ID           string    `json:"_id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Role         string    `json:"role"`
	IsActive     bool      `json:"isActive"`
	IsBlocked    bool      `json:"isBlocked"`
	CreatedAt    time.Time `json:"createdAt"`
	passwordHash string
}

type job struct {
	ID        string    `json:"_id"`
	Title     string    `json:"title"`
	Customer  string    `json:"customer"`
	Category  string    `json:"category"`
	Location  string    `json:"location"`
	Budget    float64   `json:"budget"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

type quote struct {
	ID         string    `json:"_id"`
	JobID      string    `json:"jobId"`
	JobTitle   string    `json:"jobTitle"`
	Contractor string    `json:"contractor"`
	Amount     float64   `json:"amount"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
}

type subscription struct {
	ID        string    `json:"_id"`
	UserEmail string    `json:"userEmail"`
	Plan      string    `json:"plan"`
	Amount    float64   `json:"amount"`
	Status    string    `json:"status"`
	RenewsAt  time.Time `json:"renewsAt"`
}

type estimationFile struct {
	ID          string `json:"_id"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	data        []byte
}

type estimation struct {
	ID              string           `json:"_id"`
	Title           string           `json:"title"`
	Customer        string           `json:"customer"`
	Amount          float64          `json:"amount"`
	Status          string           `json:"status"`
	Notes           string           `json:"notes"`
	RejectionReason string           `json:"rejectionReason,omitempty"`
	Files           []estimationFile `json:"files"`
	CreatedAt       time.Time        `json:"createdAt"`
}

type reply struct {
	Content string    `json:"content"`
	SentAt  time.Time `json:"sentAt"`
}

type message struct {
	ID        string    `json:"_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Subject   string    `json:"subject"`
	Content   string    `json:"content"`
	Read      bool      `json:"read"`
	Replies   []reply   `json:"replies"`
	CreatedAt time.Time `json:"createdAt"`
}

type conversationMessage struct {
	Sender  string    `json:"sender"`
	Content string    `json:"content"`
	SentAt  time.Time `json:"sentAt"`
}

type conversation struct {
	ID           string                `json:"_id"`
	Participants []string              `json:"participants"`
	JobTitle     string                `json:"jobTitle"`
	LastMessage  string                `json:"lastMessage"`
	Status       string                `json:"status"`
	UpdatedAt    time.Time             `json:"updatedAt"`
	Messages     []conversationMessage `json:"messages,omitempty"`
}

type stats struct {
	TotalUsers          int     `json:"totalUsers"`
	ActiveUsers         int     `json:"activeUsers"`
	BlockedUsers        int     `json:"blockedUsers"`
	TotalJobs           int     `json:"totalJobs"`
	OpenJobs            int     `json:"openJobs"`
	PendingQuotes       int     `json:"pendingQuotes"`
	PendingEstimations  int     `json:"pendingEstimations"`
	UnreadMessages      int     `json:"unreadMessages"`
	ActiveSubscriptions int     `json:"activeSubscriptions"`
	Revenue             float64 `json:"revenue"`
}

type session struct {
	userID    string
	expiresAt time.Time
}

// table is an insertion-ordered record set.
type table[T any] struct {
	key   func(T) string
	order []string
	rows  map[string]T
}

func newTable[T any](key func(T) string) *table[T] {
	return &table[T]{key: key, rows: make(map[string]T)}
}

func (t *table[T]) put(v T) {
	k := t.key(v)
	if _, ok := t.rows[k]; !ok {
		t.order = append(t.order, k)
	}
	t.rows[k] = v
}

func (t *table[T]) get(id string) (T, bool) {
	v, ok := t.rows[id]
	return v, ok
}

// update applies fn to the stored row and returns the result.
func (t *table[T]) update(id string, fn func(*T) error) (T, error) {
	v, ok := t.rows[id]
	if !ok {
		var zero T
		return zero, errNotFound
	}
	if err := fn(&v); err != nil {
		var zero T
		return zero, err
	}
	t.rows[id] = v
	return v, nil
}

func (t *table[T]) remove(id string) error {
	if _, ok := t.rows[id]; !ok {
		return errNotFound
	}
	delete(t.rows, id)
	for i, k := range t.order {
		if k == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return nil
}

func (t *table[T]) list() []T {
	out := make([]T, 0, len(t.order))
	for _, k := range t.order {
		out = append(out, t.rows[k])
	}
	return out
}

// store is the in-memory marketplace backing the development API.
type store struct {
	mu sync.Mutex

	users         *table[user]
	jobs          *table[job]
	quotes        *table[quote]
	subscriptions *table[subscription]
	estimations   *table[estimation]
	messages      *table[message]
	conversations *table[conversation]
	sessions      map[string]session
}

func newStore() *store {
	return &store{
		users:         newTable(func(u user) string { return u.ID }),
		jobs:          newTable(func(j job) string { return j.ID }),
		quotes:        newTable(func(q quote) string { return q.ID }),
		subscriptions: newTable(func(s subscription) string { return s.ID }),
		estimations:   newTable(func(e estimation) string { return e.ID }),
		messages:      newTable(func(m message) string { return m.ID }),
		conversations: newTable(func(c conversation) string { return c.ID }),
		sessions:      make(map[string]session),
	}
}

// newID mimics a 24-character document id.
func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

func (s *store) userByEmail(email string) (user, bool) {
	for _, u := range s.users.list() {
		if strings.EqualFold(u.Email, email) {
			return u, true
		}
	}
	return user{}, false
}

func (s *store) stats() stats {
	var st stats
	for _, u := range s.users.list() {
		st.TotalUsers++
		if u.IsActive {
			st.ActiveUsers++
		}
		if u.IsBlocked {
			st.BlockedUsers++
		}
	}
	for _, j := range s.jobs.list() {
		st.TotalJobs++
		if j.Status == "open" {
			st.OpenJobs++
		}
	}
	for _, q := range s.quotes.list() {
		if q.Status == "pending" {
			st.PendingQuotes++
		}
	}
	for _, e := range s.estimations.list() {
		if e.Status == "pending" {
			st.PendingEstimations++
		}
	}
	for _, m := range s.messages.list() {
		if !m.Read {
			st.UnreadMessages++
		}
	}
	for _, sub := range s.subscriptions.list() {
		if sub.Status == "active" {
			st.ActiveSubscriptions++
			st.Revenue += sub.Amount
		}
	}
	return st
}

func (s *store) searchConversations(q string) []conversation {
	q = strings.ToLower(strings.TrimSpace(q))
	var out []conversation
	for _, c := range s.conversations.list() {
		haystack := strings.ToLower(c.JobTitle + " " + c.LastMessage + " " + strings.Join(c.Participants, " "))
		if strings.Contains(haystack, q) {
			c.Messages = nil
			out = append(out, c)
		}
	}
	return out
}

func oneOf(v string, allowed ...string) error {
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return fmt.Errorf("%w: status must be one of %s", errInvalid, strings.Join(allowed, ", "))
}

// seed fills the store with a small, believable marketplace.
func (s *store) seed(now time.Time, adminEmail, adminHash string) {
	day := 24 * time.Hour

	s.users.put(user{ID: newID(), Name: "Site Admin", Email: adminEmail, Role: "admin", IsActive: true, CreatedAt: now.Add(-90 * day), passwordHash: adminHash})
	customers := []struct{ name, email, role string }{
		{"Dana Whitfield", "dana@example.com", "customer"},
		{"Marco Ruiz", "marco@example.com", "contractor"},
		{"Priya Natarajan", "priya@example.com", "contractor"},
		{"Sam Okafor", "sam@example.com", "customer"},
		{"Lena Hoffmann", "lena@example.com", "customer"},
	}
	for i, c := range customers {
		s.users.put(user{
			ID: newID(), Name: c.name, Email: c.email, Role: c.role,
			IsActive: i != 4, IsBlocked: i == 3, CreatedAt: now.Add(-time.Duration(30-i*5) * day),
		})
	}

	jobs := []job{
		{Title: "Kitchen remodel", Customer: "Dana Whitfield", Category: "renovation", Location: "Austin, TX", Budget: 18000, Status: "open"},
		{Title: "Fence repair", Customer: "Sam Okafor", Category: "outdoor", Location: "Denver, CO", Budget: 1200, Status: "in_progress"},
		{Title: "Bathroom tiling", Customer: "Lena Hoffmann", Category: "renovation", Location: "Portland, OR", Budget: 4200, Status: "completed"},
		{Title: "Roof inspection", Customer: "Dana Whitfield", Category: "inspection", Location: "Austin, TX", Budget: 350, Status: "open"},
	}
	for i := range jobs {
		jobs[i].ID = newID()
		jobs[i].CreatedAt = now.Add(-time.Duration(10-i) * day)
		s.jobs.put(jobs[i])
	}

	s.quotes.put(quote{ID: newID(), JobID: jobs[0].ID, JobTitle: jobs[0].Title, Contractor: "Marco Ruiz", Amount: 17250, Status: "pending", CreatedAt: now.Add(-3 * day)})
	s.quotes.put(quote{ID: newID(), JobID: jobs[0].ID, JobTitle: jobs[0].Title, Contractor: "Priya Natarajan", Amount: 18900, Status: "pending", CreatedAt: now.Add(-2 * day)})
	s.quotes.put(quote{ID: newID(), JobID: jobs[1].ID, JobTitle: jobs[1].Title, Contractor: "Marco Ruiz", Amount: 1100, Status: "accepted", CreatedAt: now.Add(-6 * day)})

	s.subscriptions.put(subscription{ID: newID(), UserEmail: "marco@example.com", Plan: "pro", Amount: 49, Status: "active", RenewsAt: now.Add(20 * day)})
	s.subscriptions.put(subscription{ID: newID(), UserEmail: "priya@example.com", Plan: "basic", Amount: 19, Status: "suspended", RenewsAt: now.Add(3 * day)})

	s.estimations.put(estimation{ID: newID(), Title: "Deck extension", Customer: "Sam Okafor", Amount: 6400, Status: "pending", Notes: "Pressure-treated pine, 12x16", Files: []estimationFile{}, CreatedAt: now.Add(-1 * day)})
	s.estimations.put(estimation{
		ID: newID(), Title: "Basement waterproofing", Customer: "Lena Hoffmann", Amount: 9100, Status: "pending",
		Files: []estimationFile{{ID: newID(), Name: "site-notes.txt", ContentType: "text/plain", Size: 27, data: []byte("North wall seepage, 2 ft.\n\n")}},
		CreatedAt: now.Add(-4 * day),
	})

	s.messages.put(message{ID: newID(), Name: "Olivia Park", Email: "olivia@example.com", Subject: "Billing question", Content: "Why was I charged twice this month?", Replies: []reply{}, CreatedAt: now.Add(-5 * time.Hour)})
	s.messages.put(message{ID: newID(), Name: "Ben Carter", Email: "ben@example.com", Subject: "Partnership", Content: "We would like to list our services.", Read: true, Replies: []reply{}, CreatedAt: now.Add(-2 * day)})

	s.conversations.put(conversation{
		ID: newID(), Participants: []string{"Dana Whitfield", "Marco Ruiz"}, JobTitle: jobs[0].Title, Status: "active",
		LastMessage: "Can you start next Monday?", UpdatedAt: now.Add(-3 * time.Hour),
		Messages: []conversationMessage{
			{Sender: "Marco Ruiz", Content: "I sent over my quote.", SentAt: now.Add(-5 * time.Hour)},
			{Sender: "Dana Whitfield", Content: "Can you start next Monday?", SentAt: now.Add(-3 * time.Hour)},
		},
	})
	s.conversations.put(conversation{
		ID: newID(), Participants: []string{"Sam Okafor", "Marco Ruiz"}, JobTitle: jobs[1].Title, Status: "closed",
		LastMessage: "Thanks, looks great.", UpdatedAt: now.Add(-1 * day),
		Messages: []conversationMessage{{Sender: "Sam Okafor", Content: "Thanks, looks great.", SentAt: now.Add(-1 * day)}},
	})
}
