package entity

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/phillip-england/marketadmin/internal/debounce"
	"github.com/phillip-england/marketadmin/internal/gateway"
	"github.com/phillip-england/marketadmin/internal/sheets"
	"github.com/phillip-england/marketadmin/internal/ui"
)

type ConversationMessage struct {
	Sender  string    `json:"sender"`
	Content string    `json:"content"`
	SentAt  time.Time `json:"sentAt"`
}

type Conversation struct {
	ID           string                `json:"_id"`
	Participants []string              `json:"participants"`
	JobTitle     string                `json:"jobTitle"`
	LastMessage  string                `json:"lastMessage"`
	Status       string                `json:"status"`
	UpdatedAt    time.Time             `json:"updatedAt"`
	Messages     []ConversationMessage `json:"messages,omitempty"`
}

// Conversations lists conversations, filters them locally, and runs the debounced server-side full search.
type Conversations struct {
	deps     *Deps
	cache    *Collection[Conversation]
	debounce *debounce.Debouncer[string]

	mu        sync.Mutex
	query     string
	results   []Conversation
	searching bool
	searchSeq uint64
}

func NewConversations(deps *Deps) *Conversations {
	s := &Conversations{deps: deps.withDefaults(), cache: NewCollection(func(c Conversation) string { return c.ID })}
	s.debounce = debounce.New(s.deps.Clock, s.deps.SearchDebounce, s.runSearch)
	return s
}

func (s *Conversations) Name() string { return "conversations" }
func (s *Conversations) Title() string { return "Conversations" }
func (s *Conversations) Cache() *Collection[Conversation] { return s.cache }

func (s *Conversations) Load(ctx context.Context) (func(), error) {
	items, err := gateway.Decode[[]Conversation](s.deps.API.Call(ctx, http.MethodGet, "/conversations", nil), "conversations")
	if err != nil {
		return nil, err
	}
	return func() { s.cache.Replace(items) }, nil
}

// Search schedules a server search for query after the quiet period. An empty query clears the results
// immediately and cancels anything pending.
func (s *Conversations) Search(query string) {
	query = strings.TrimSpace(query)

	s.mu.Lock()
	s.query = query
	s.searchSeq++
	if query == "" {
		s.results = nil
		s.searching = false
		s.mu.Unlock()
		s.debounce.Cancel()
		return
	}
	s.searching = true
	s.mu.Unlock()

	s.debounce.Trigger(query)
}

func (s *Conversations) runSearch(query string) {
	s.mu.Lock()
	seq := s.searchSeq
	s.mu.Unlock()

	res := s.deps.API.Call(context.Background(), http.MethodGet, "/conversations/search?q="+url.QueryEscape(query), nil)
	found, err := gateway.Decode[[]Conversation](res, "conversations")

	s.mu.Lock()
	if seq != s.searchSeq {
		s.mu.Unlock()
		return
	}
	s.searching = false
	if err == nil {
		s.results = found
	}
	s.mu.Unlock()

	if err != nil {
		s.deps.Logger.Debug("conversation search failed", "query", query, "error", err)
	}
	if s.deps.OnChange != nil {
		s.deps.OnChange(s.Name())
	}
}

// SearchState reports the active server query, its results and whether a search is still pending.
func (s *Conversations) SearchState() (query string, results []Conversation, pending bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query, append([]Conversation(nil), s.results...), s.searching
}

// Visible is the server search result while a query is active, otherwise the cache, then the local filters.
func (s *Conversations) Visible(view View) []Conversation {
	query, results, _ := s.SearchState()
	keep := func(c Conversation) bool {
		return statusMatches(view.Status, c.Status) && matches(view.Query, append([]string{c.JobTitle, c.LastMessage}, c.Participants...)...)
	}
	if query == "" {
		return s.cache.Filter(keep)
	}
	var out []Conversation
	for _, c := range results {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

func (s *Conversations) Render(w io.Writer, view View) error {
	query, _, pending := s.SearchState()
	return s.deps.Templates.execute(w, "conversations", struct {
		tableView[Conversation]
		Search    string
		Searching bool
	}{
		tableView: tableView[Conversation]{
			Section:  s.Name(),
			View:     view,
			Statuses: []string{"open", "closed"},
			Items:    s.Visible(view),
			Total:    s.cache.Len(),
		},
		Search:    query,
		Searching: pending,
	})
}

func (s *Conversations) Export(view View) sheets.Table {
	t := sheets.Table{Sheet: "Conversations", Headers: []string{"ID", "Job", "Participants", "Last message", "Status", "Updated"}}
	for _, c := range s.Visible(view) {
		t.Rows = append(t.Rows, []string{c.ID, c.JobTitle, strings.Join(c.Participants, ", "), c.LastMessage, c.Status, formatTime(c.UpdatedAt)})
	}
	return t
}

// Open fetches the full thread and shows it in the modal.
func (s *Conversations) Open(ctx context.Context, id string) error {
	res := s.deps.API.Call(ctx, http.MethodGet, path("conversations", id), nil)
	conv, err := gateway.Decode[Conversation](res, "conversation")
	if err != nil {
		return err
	}
	body, err := s.deps.Templates.fragment("conversation_detail", conv)
	if err != nil {
		return err
	}
	title := conv.JobTitle
	if title == "" {
		title = "Conversation"
	}
	s.deps.Modals.Open(modalContent(title, body, "conversation-close"), modalOptions())
	return nil
}

// Close stops any pending search.
func (s *Conversations) Close() {
	s.debounce.Cancel()
}

func (s *Conversations) Bind(b *ui.Bindings) {
	b.Bind("conversations.open", idAction(s.deps, s.Open))
	b.Bind("conversations.search", func(_ context.Context, args ui.Args) error {
		s.Search(args.Get("q"))
		return nil
	})
}
