package entity

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/phillip-england/marketadmin/internal/gateway"
	"github.com/phillip-england/marketadmin/internal/sheets"
	"github.com/phillip-england/marketadmin/internal/ui"
)

var QuoteStatuses = []string{"pending", "accepted", "rejected"}

type Quote struct {
	ID         string    `json:"_id"`
	JobID      string    `json:"jobId"`
	JobTitle   string    `json:"jobTitle"`
	Contractor string    `json:"contractor"`
	Amount     float64   `json:"amount"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Quotes struct {
	deps  *Deps
	cache *Collection[Quote]
}

func NewQuotes(deps *Deps) *Quotes {
	return &Quotes{deps: deps.withDefaults(), cache: NewCollection(func(q Quote) string { return q.ID })}
}

func (s *Quotes) Name() string { return "quotes" }
func (s *Quotes) Title() string { return "Quotes" }
func (s *Quotes) Cache() *Collection[Quote] { return s.cache }

func (s *Quotes) Load(ctx context.Context) (func(), error) {
	quotes, err := gateway.Decode[[]Quote](s.deps.API.Call(ctx, http.MethodGet, "/quotes", nil), "quotes")
	if err != nil {
		return nil, err
	}
	return func() { s.cache.Replace(quotes) }, nil
}

func (s *Quotes) Visible(view View) []Quote {
	return s.cache.Filter(func(q Quote) bool {
		return statusMatches(view.Status, q.Status) && matches(view.Query, q.JobTitle, q.Contractor)
	})
}

func (s *Quotes) Render(w io.Writer, view View) error {
	return s.deps.Templates.execute(w, "quotes", tableView[Quote]{
		Section:  s.Name(),
		View:     view,
		Statuses: QuoteStatuses,
		Items:    s.Visible(view),
		Total:    s.cache.Len(),
	})
}

func (s *Quotes) Export(view View) sheets.Table {
	t := sheets.Table{Sheet: "Quotes", Headers: []string{"ID", "Job", "Contractor", "Amount", "Status", "Created"}}
	for _, q := range s.Visible(view) {
		t.Rows = append(t.Rows, []string{q.ID, q.JobTitle, q.Contractor,
			strconv.FormatFloat(q.Amount, 'f', 2, 64), q.Status, formatTime(q.CreatedAt)})
	}
	return t
}

func (s *Quotes) SetStatus(ctx context.Context, id, status string) error {
	if !oneOf(status, QuoteStatuses) {
		return s.deps.invalid(fmt.Sprintf("Unknown quote status %q", status))
	}
	return s.deps.call(ctx, http.MethodPatch, path("quotes", id, "status"), map[string]string{"status": status}, "Quote "+status,
		func(gateway.Result) { s.cache.Update(id, func(q *Quote) { q.Status = status }) })
}

func (s *Quotes) RequestDelete(id string) (string, error) {
	q, ok := s.cache.Get(id)
	if !ok {
		return "", s.deps.invalid("Quote not found")
	}
	return s.deps.Confirm.Request(fmt.Sprintf("Delete the quote from %s?", q.Contractor), func(ctx context.Context) error {
		return s.deps.call(ctx, http.MethodDelete, path("quotes", id), nil, "Quote deleted",
			func(gateway.Result) { s.cache.Remove(id) })
	})
}

func (s *Quotes) Bind(b *ui.Bindings) {
	b.Bind("quotes.accept", idAction(s.deps, func(ctx context.Context, id string) error { return s.SetStatus(ctx, id, "accepted") }))
	b.Bind("quotes.reject", idAction(s.deps, func(ctx context.Context, id string) error { return s.SetStatus(ctx, id, "rejected") }))
	b.Bind("quotes.delete", idAction(s.deps, func(_ context.Context, id string) error {
		_, err := s.RequestDelete(id)
		return err
	}))
}
