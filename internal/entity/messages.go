package entity

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/phillip-england/marketadmin/internal/bulk"
	"github.com/phillip-england/marketadmin/internal/gateway"
	"github.com/phillip-england/marketadmin/internal/notify"
	"github.com/phillip-england/marketadmin/internal/sheets"
	"github.com/phillip-england/marketadmin/internal/ui"
)

type Reply struct {
	Content string    `json:"content"`
	SentAt  time.Time `json:"sentAt"`
}

// Message is a contact/support message addressed to the marketplace admins.
type Message struct {
	ID        string    `json:"_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Subject   string    `json:"subject"`
	Content   string    `json:"content"`
	Read      bool      `json:"read"`
	Replies   []Reply   `json:"replies"`
	CreatedAt time.Time `json:"createdAt"`
}

func (m Message) Status() string {
	if m.Read {
		return "read"
	}
	return "unread"
}

type Messages struct {
	deps  *Deps
	cache *Collection[Message]
}

func NewMessages(deps *Deps) *Messages {
	return &Messages{deps: deps.withDefaults(), cache: NewCollection(func(m Message) string { return m.ID })}
}

func (s *Messages) Name() string { return "messages" }
func (s *Messages) Title() string { return "Messages" }
func (s *Messages) Cache() *Collection[Message] { return s.cache }

func (s *Messages) Load(ctx context.Context) (func(), error) {
	items, err := gateway.Decode[[]Message](s.deps.API.Call(ctx, http.MethodGet, "/messages", nil), "messages")
	if err != nil {
		return nil, err
	}
	return func() { s.cache.Replace(items) }, nil
}

func (s *Messages) Visible(view View) []Message {
	return s.cache.Filter(func(m Message) bool {
		return statusMatches(view.Status, m.Status()) && matches(view.Query, m.Name, m.Email, m.Subject, m.Content)
	})
}

func (s *Messages) Unread() int {
	return len(s.cache.Filter(func(m Message) bool { return !m.Read }))
}

func (s *Messages) Render(w io.Writer, view View) error {
	return s.deps.Templates.execute(w, "messages", struct {
		tableView[Message]
		Unread int
	}{
		tableView: tableView[Message]{
			Section:  s.Name(),
			View:     view,
			Statuses: []string{"unread", "read"},
			Items:    s.Visible(view),
			Total:    s.cache.Len(),
		},
		Unread: s.Unread(),
	})
}

func (s *Messages) Export(view View) sheets.Table {
	t := sheets.Table{Sheet: "Messages", Headers: []string{"ID", "Name", "Email", "Subject", "Message", "Status", "Received"}}
	for _, m := range s.Visible(view) {
		t.Rows = append(t.Rows, []string{m.ID, m.Name, m.Email, m.Subject, m.Content, m.Status(), formatTime(m.CreatedAt)})
	}
	return t
}

func (s *Messages) MarkRead(ctx context.Context, id string) error {
	return s.deps.call(ctx, http.MethodPatch, path("messages", id, "read"), nil, "Message marked as read",
		func(gateway.Result) { s.cache.Update(id, func(m *Message) { m.Read = true }) })
}

// MarkAllRead marks every unread cached message, one call at a time.
func (s *Messages) MarkAllRead(ctx context.Context) error {
	var ids []string
	for _, m := range s.cache.Filter(func(m Message) bool { return !m.Read }) {
		ids = append(ids, m.ID)
	}
	if len(ids) == 0 {
		s.deps.Notifier.Notify("No unread messages", notify.KindInfo)
		return nil
	}

	outcomes, err := bulk.Run(ctx, s.deps.Stagger, ids, func(ctx context.Context, id string) error {
		res := s.deps.API.Call(ctx, http.MethodPatch, path("messages", id, "read"), nil)
		if !res.OK() {
			return res.Failure()
		}
		s.cache.Update(id, func(m *Message) { m.Read = true })
		return nil
	})
	if done := len(outcomes) - bulk.Failed(outcomes); done > 0 {
		s.deps.succeed(fmt.Sprintf("Marked %d of %d messages as read", done, len(ids)))
	}
	return err
}

// Reply requires non-empty content; the reply is appended to the cached thread on success.
func (s *Messages) Reply(ctx context.Context, id, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return s.deps.invalid("Reply cannot be empty")
	}
	return s.deps.call(ctx, http.MethodPost, path("messages", id, "reply"), map[string]string{"content": content}, "Reply sent",
		func(res gateway.Result) {
			reply, err := gateway.Decode[Reply](res, "reply")
			if err != nil || reply.Content == "" {
				reply = Reply{Content: content, SentAt: s.deps.Clock.Now()}
			}
			s.cache.Update(id, func(m *Message) {
				m.Read = true
				m.Replies = append(m.Replies, reply)
			})
		})
}

// OpenReply shows the message with a reply form.
func (s *Messages) OpenReply(id string) error {
	m, ok := s.cache.Get(id)
	if !ok {
		return s.deps.invalid("Message not found")
	}
	body, err := s.deps.Templates.fragment("reply_form", m)
	if err != nil {
		return err
	}
	s.deps.Modals.Open(modalContent(m.Subject, body, "reply-content", "reply-cancel", "reply-submit"), modalOptions())
	return nil
}

func (s *Messages) RequestDelete(id string) (string, error) {
	m, ok := s.cache.Get(id)
	if !ok {
		return "", s.deps.invalid("Message not found")
	}
	return s.deps.Confirm.Request(fmt.Sprintf("Delete the message from %s?", m.Email), func(ctx context.Context) error {
		return s.deps.call(ctx, http.MethodDelete, path("messages", id), nil, "Message deleted",
			func(gateway.Result) { s.cache.Remove(id) })
	})
}

func (s *Messages) Bind(b *ui.Bindings) {
	b.Bind("messages.read", idAction(s.deps, s.MarkRead))
	b.Bind("messages.read-all", func(ctx context.Context, _ ui.Args) error { return s.MarkAllRead(ctx) })
	b.Bind("messages.reply-form", idAction(s.deps, func(_ context.Context, id string) error { return s.OpenReply(id) }))
	b.Bind("messages.reply", func(ctx context.Context, args ui.Args) error {
		return idAction(s.deps, func(ctx context.Context, id string) error {
			if err := s.Reply(ctx, id, args.Get("content")); err != nil {
				return err
			}
			s.deps.Modals.Close()
			return nil
		})(ctx, args)
	})
	b.Bind("messages.delete", idAction(s.deps, func(_ context.Context, id string) error {
		_, err := s.RequestDelete(id)
		return err
	}))
}
